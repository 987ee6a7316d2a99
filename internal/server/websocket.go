package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cluesolver/clue-server-go/internal/config"
	"github.com/cluesolver/clue-server-go/internal/metrics"
	"github.com/cluesolver/clue-server-go/internal/solver"
)

// Message types on the websocket.
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessageSubscribed  = "subscribed"
	MessageGameUpdate  = "game_update"
)

const maxMessageSize = 4096

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type   string `json:"type"`
	GameID string `json:"gameId,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type subscription struct {
	client *client
	gameID string
}

type broadcast struct {
	gameID  string
	payload []byte
}

// Hub fans stored-game events out to the websocket clients watching that
// game. All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*client]string
	register   chan *client
	unregister chan *client
	subscribe  chan subscription
	broadcast  chan broadcast
	done       chan struct{}

	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	logger       *zap.Logger
}

func NewHub(cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer < 1 {
		sendBuffer = 256
	}
	return &Hub{
		clients:    make(map[*client]string),
		register:   make(chan *client),
		unregister: make(chan *client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan broadcast, 64),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sendBuffer:   sendBuffer,
		pingInterval: cfg.PingInterval,
		logger:       logger,
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = ""
			metrics.WebSocketClients.Inc()
			h.logger.Debug("websocket client registered", zap.String("remote", c.conn.RemoteAddr().String()))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("websocket client unregistered", zap.String("remote", c.conn.RemoteAddr().String()))
			}

		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			h.clients[sub.client] = sub.gameID
			msgType := MessageSubscribed
			if sub.gameID == "" {
				msgType = MessageUnsubscribe
			}
			h.deliver(sub.client, encode(WSMessage{Type: msgType, GameID: sub.gameID}))

		case b := <-h.broadcast:
			for c, gameID := range h.clients {
				if gameID == b.gameID {
					h.deliver(c, b.payload)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Dec()
}

// deliver queues a frame, dropping a client that cannot keep up.
func (h *Hub) deliver(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("websocket client too slow, disconnecting", zap.String("remote", c.conn.RemoteAddr().String()))
		h.drop(c)
	}
}

func encode(msg WSMessage) []byte {
	data, _ := json.Marshal(msg)
	return data
}

// Publish implements solver.Publisher.
func (h *Hub) Publish(ev solver.Event) {
	payload, err := json.Marshal(WSMessage{Type: MessageGameUpdate, GameID: ev.GameID, Data: ev})
	if err != nil {
		h.logger.Error("failed to encode game update", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- broadcast{gameID: ev.GameID, payload: payload}:
	case <-h.done:
	}
}

// ServeWS upgrades the request. A gameId query parameter subscribes the
// client straight away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	if gameID := r.URL.Query().Get("gameId"); gameID != "" {
		h.requestSubscription(c, gameID)
	}
	go h.readPump(c)
}

func (h *Hub) requestSubscription(c *client, gameID string) {
	select {
	case h.subscribe <- subscription{client: c, gameID: gameID}:
	case <-h.done:
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if h.pingInterval > 0 {
		c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid websocket message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case MessageSubscribe:
			h.requestSubscription(c, msg.GameID)
		case MessageUnsubscribe:
			h.requestSubscription(c, "")
		default:
			h.logger.Debug("unknown websocket message type", zap.String("type", msg.Type))
		}
	}
}

func (h *Hub) writePump(c *client) {
	var tick <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
