package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/cluesolver/clue-server-go/internal/config"
	"github.com/cluesolver/clue-server-go/internal/server"
	"github.com/cluesolver/clue-server-go/internal/solver"
	"github.com/cluesolver/clue-server-go/internal/store"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting clue solver",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	gameStore, err := store.Open(ctx, cfg.Storage, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open game store", zap.Error(err))
	}
	defer func() {
		if closeErr := gameStore.Close(); closeErr != nil {
			logger.Error("failed to close game store", zap.Error(closeErr))
		}
	}()
	logger.Info("game store opened", zap.String("driver", cfg.Storage.Driver))

	svc := solver.NewService(gameStore, cfg.Simulation, logger.Named("solver"))

	var hub *server.Hub
	if cfg.Server.WebSocket.Enabled {
		hub = server.NewHub(cfg.Server.WebSocket, logger.Named("websocket"))
		svc.SetPublisher(hub)
		go hub.Run(ctx)
	}

	var grpcServer *grpc.Server
	if cfg.Server.GRPC.Enabled {
		grpcServer = grpc.NewServer(
			grpc.UnaryInterceptor(server.ChainUnaryInterceptors(
				server.RecoveryInterceptor(logger),
				server.LoggingInterceptor(logger),
				server.MetricsInterceptor(),
			)),
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    30 * time.Second,
				Timeout: 10 * time.Second,
			}),
			grpc.MaxConcurrentStreams(uint32(cfg.Server.GRPC.MaxConcurrentStreams)),
		)
		server.RegisterClueSolverServer(grpcServer, server.NewGRPCServer(svc, logger.Named("grpc")))

		lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
		if err != nil {
			logger.Fatal("failed to listen", zap.Error(err))
		}

		go func() {
			logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
			if serveErr := grpcServer.Serve(lis); serveErr != nil {
				logger.Error("gRPC server error", zap.Error(serveErr))
			}
		}()
	}

	gin.SetMode(cfg.Server.HTTP.Mode)
	router := server.NewRouter(cfg, svc, hub, logger.Named("http"))
	httpServer := server.NewHTTPServer(cfg.Server.HTTP, router, logger)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.ListenAndServe()
	}()

	logger.Info("clue solver initialized",
		zap.String("version", version),
		zap.String("http_address", cfg.Server.HTTP.Address),
		zap.Bool("grpc_enabled", cfg.Server.GRPC.Enabled),
		zap.Bool("websocket_enabled", cfg.Server.WebSocket.Enabled),
		zap.Bool("cgi_enabled", cfg.Server.HTTP.EnableCGI),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-httpErr:
		if err != nil {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}

	logger.Info("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	cancel()

	logger.Info("clue solver stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
