// Package server exposes the solver over HTTP, websockets and gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cluesolver/clue-server-go/internal/config"
	"github.com/cluesolver/clue-server-go/internal/engine"
	"github.com/cluesolver/clue-server-go/internal/solver"
)

// ErrorResponse is the body of every failed JSON API call. Response is set
// when the action succeeded but left the game contradictory.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Code     string           `json:"code"`
	Response *solver.Response `json:"response,omitempty"`
}

// cgiResponse is the legacy form endpoint's body.
type cgiResponse struct {
	ErrorStatus int    `json:"errorStatus"`
	ErrorText   string `json:"errorText,omitempty"`
	*solver.Response
}

type handlers struct {
	svc    *solver.Service
	logger *zap.Logger
}

// NewRouter builds the HTTP routes. hub may be nil to disable websockets.
func NewRouter(cfg *config.Config, svc *solver.Service, hub *Hub, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	h := &handlers{svc: svc, logger: logger}

	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	v1.POST("/action", h.action)
	v1.GET("/games/:id", h.gameAction(solver.ActionState))
	v1.GET("/games/:id/history", h.gameAction(solver.ActionHistory))
	v1.POST("/games/:id/undo", h.gameAction(solver.ActionUndo))
	v1.POST("/games/:id/redo", h.gameAction(solver.ActionRedo))
	v1.DELETE("/games/:id", h.gameAction(solver.ActionDelete))

	if cfg.Server.HTTP.EnableCGI {
		router.GET("/clue.cgi", h.cgi)
		router.POST("/clue.cgi", h.cgi)
	}
	if cfg.Server.WebSocket.Enabled && hub != nil {
		router.GET("/ws", gin.WrapF(hub.ServeWS))
	}
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	return router
}

// requestLogger logs each request once it has been served.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("http request failed", fields...)
		} else {
			logger.Debug("http request", fields...)
		}
	}
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) action(c *gin.Context) {
	var req solver.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	h.respond(c, &req)
}

func (h *handlers) gameAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.respond(c, &solver.Request{Action: action, GameID: c.Param("id")})
	}
}

func (h *handlers) respond(c *gin.Context, req *solver.Request) {
	resp, err := h.svc.Do(c.Request.Context(), req)
	if err == nil {
		c.JSON(http.StatusOK, resp)
		return
	}

	status, code := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("action failed", zap.String("action", req.Action), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, Response: resp})
}

func httpStatus(err error) (int, string) {
	switch solver.Classify(err) {
	case solver.ResultInvalid:
		if errors.Is(err, engine.ErrMalformedSession) {
			return http.StatusBadRequest, "MALFORMED_SESSION"
		}
		return http.StatusBadRequest, "INVALID_REQUEST"
	case solver.ResultNotFound:
		return http.StatusNotFound, "GAME_NOT_FOUND"
	case solver.ResultInconsistent:
		return http.StatusConflict, "INCONSISTENT_STATE"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// cgi serves the legacy form protocol: every reply is 200 and carries
// errorStatus 0 or 1.
func (h *handlers) cgi(c *gin.Context) {
	req, err := cgiRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, cgiResponse{ErrorStatus: 1, ErrorText: err.Error()})
		return
	}

	resp, err := h.svc.Do(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, cgiResponse{Response: resp})
	case resp != nil:
		// The facts were recorded; the client decides what to do with a
		// contradiction.
		c.JSON(http.StatusOK, cgiResponse{ErrorText: err.Error(), Response: resp})
	default:
		c.JSON(http.StatusOK, cgiResponse{ErrorStatus: 1, ErrorText: err.Error()})
	}
}

// cgiRequest reads the form fields of the legacy front end, from the
// query string or a urlencoded body.
func cgiRequest(c *gin.Context) (*solver.Request, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	form := c.Request.Form

	req := &solver.Request{
		Action:       form.Get("action"),
		GameID:       form.Get("gameId"),
		Session:      form.Get("sess"),
		Card:         form.Get("card"),
		Card1:        form.Get("card1"),
		Card2:        form.Get("card2"),
		Card3:        form.Get("card3"),
		RefutingCard: form.Get("refutingCard"),
	}
	if req.Action == "" {
		return nil, errors.New("no action specified")
	}

	var err error
	intField := func(name string) *int {
		v := form.Get(name)
		if v == "" || err != nil {
			return nil
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			err = fmt.Errorf("invalid %s %q", name, v)
			return nil
		}
		return &n
	}

	if p := intField("players"); p != nil {
		req.Players = *p
		for i := 0; i < req.Players; i++ {
			n := intField(fmt.Sprintf("numCards%d", i))
			if n == nil {
				break
			}
			req.Capacities = append(req.Capacities, *n)
		}
		if len(req.Capacities) != req.Players {
			req.Capacities = nil
		}
	}
	req.Owner = intField("owner")
	req.Suggester = intField("suggestingPlayer")
	req.Refuter = intField("refutingPlayer")
	if t := intField("trials"); t != nil {
		req.Trials = *t
	}
	if v := form.Get("seed"); v != "" {
		seed, convErr := strconv.ParseUint(v, 10, 64)
		if convErr != nil {
			return nil, fmt.Errorf("invalid seed %q", v)
		}
		req.Seed = seed
	}
	if v := form.Get("hasCard"); v != "" {
		has, convErr := strconv.ParseBool(v)
		if convErr != nil {
			return nil, fmt.Errorf("invalid hasCard %q", v)
		}
		req.HasCard = &has
	}
	if v := form.Get("cards"); v != "" {
		req.Cards = strings.Split(v, ",")
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// HTTPServer runs the router with the configured timeouts.
type HTTPServer struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		srv: &http.Server{
			Addr:         cfg.Address,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the server stops. A clean shutdown returns
// nil.
func (s *HTTPServer) ListenAndServe() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
