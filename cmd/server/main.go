package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/config"
	"github.com/queuefight/queuefight-server/internal/game"
	"github.com/queuefight/queuefight-server/internal/game/units"
	"github.com/queuefight/queuefight-server/internal/logging"
	"github.com/queuefight/queuefight-server/internal/repository"
	"github.com/queuefight/queuefight-server/internal/server"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting queuefight server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	catalog, err := units.LoadCatalog(cfg.Battle.CatalogFile)
	if err != nil {
		logger.Fatal("failed to load unit catalog", zap.Error(err))
	}
	logger.Info("unit catalog loaded", zap.Int("archetypes", len(catalog.Archetypes())))

	store, err := repository.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open save store", zap.Error(err))
	}
	defer store.Close()

	var replays *game.ReplayRecorder
	if cfg.Replay.Enabled {
		replays = game.NewReplayRecorder(logger, cfg.Replay.Dir)
		logger.Info("replay archiving enabled", zap.String("dir", cfg.Replay.Dir))
	}

	manager := game.NewManager(logger, units.NewFactory(catalog, nil), store, replays, game.ManagerConfig{
		Budget:       cfg.Battle.Budget,
		MaxUndoDepth: cfg.Battle.MaxUndoDepth,
		Seed:         cfg.Battle.Seed,
	})
	manager.SetNotificationHandler(func(n game.Notification) {
		logger.Debug("battle notification",
			zap.String("battle_id", n.BattleID),
			zap.String("type", n.Type))
	})

	hub := server.NewHub(manager, logger)
	go hub.Run(ctx)

	grpcServer := server.NewGRPCServer(cfg.Server.GRPC, manager, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	// Start gRPC server
	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	// Start WebSocket server
	httpServer := server.NewHTTPServer(cfg.Server.WebSocket, manager, hub, logger)
	go func() {
		if wsErr := server.StartWebSocketServer(httpServer); wsErr != nil {
			logger.Error("WebSocket server error", zap.Error(wsErr))
		}
	}()

	logger.Info("queuefight server initialized",
		zap.String("version", version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
		zap.String("storage", cfg.Storage.Backend),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WebSocket.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket server shutdown", zap.Error(err))
	}
	cancel()

	grpcServer.GracefulStop()

	logger.Info("queuefight server stopped")
}
