package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/catalog"
	"github.com/tcgarena/battle-server/internal/config"
	"github.com/tcgarena/battle-server/internal/deck"
	"github.com/tcgarena/battle-server/internal/events"
	"github.com/tcgarena/battle-server/internal/repository"
	"github.com/tcgarena/battle-server/internal/room"
	"github.com/tcgarena/battle-server/internal/server"
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

	logger.Info("starting battle server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	db, err := repository.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	stats := db.Stats()
	logger.Info("database connection pool initialized",
		zap.Int32("total_conns", stats.TotalConns()),
		zap.Int32("idle_conns", stats.IdleConns()),
	)

	// Card definitions come from the database unless a JSON index file
	// is configured for local development.
	var source catalog.Source = repository.NewCardRepository(db)
	if cfg.Battle.UseCardIndex {
		source = catalog.NewFileSource(cfg.Battle.CardIndexPath)
		logger.Info("using card index file", zap.String("path", cfg.Battle.CardIndexPath))
	}
	cat := catalog.New(source, logger)

	deckRepo := repository.NewDeckRepository(db)
	battleRepo := repository.NewBattleRepository(db)

	assembler := deck.NewAssembler(cat, deckRepo, cfg.Battle.DeckSize, logger)
	engine := battle.NewEngine(logger)
	rehydrator := battle.NewRehydrator(cat, logger)
	policy := battle.NewStandardPolicy(logger)

	publisher, err := events.NewPublisher(cfg.Events, logger)
	if err != nil {
		logger.Fatal("failed to initialize event publisher", zap.Error(err))
	}
	defer publisher.Close()

	rules := battle.Rules{
		DeckSize:         cfg.Battle.DeckSize,
		HandSize:         cfg.Battle.HandSize,
		BenchSize:        cfg.Battle.BenchSize,
		KnockoutTarget:   cfg.Battle.KnockoutTarget,
		DrawInterval:     cfg.Battle.DrawInterval,
		MaxEnergyPerCard: cfg.Battle.MaxEnergyOnCard,
	}
	roomCfg := room.Config{
		SelectionSeconds: int(cfg.Battle.SelectionTimer.Seconds()),
		TickInterval:     time.Second,
		CleanupGrace:     cfg.Battle.CleanupGrace,
		Rules:            rules,
	}
	registry := room.NewRegistry(roomCfg, engine, assembler, deckRepo, publisher, logger)
	logger.Info("room registry initialized",
		zap.Int("selection_seconds", roomCfg.SelectionSeconds),
		zap.Duration("cleanup_grace", roomCfg.CleanupGrace),
	)

	// PvP websocket server.
	socketServer := server.NewSocketServer(registry, logger)
	wsMux := http.NewServeMux()
	wsMux.HandleFunc(cfg.Server.WebSocket.Path, socketServer.HandleWS)
	wsSrv := &http.Server{
		Addr:    cfg.Server.WebSocket.Address,
		Handler: wsMux,
	}
	go func() {
		logger.Info("starting websocket server", zap.String("address", cfg.Server.WebSocket.Address))
		if serveErr := wsSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("websocket server error", zap.Error(serveErr))
		}
	}()

	// Stateless PvE HTTP API.
	pveHandler := server.NewPvEHandler(battleRepo, assembler, rehydrator,
		engine, policy, rules, publisher, logger)
	apiMux := http.NewServeMux()
	pveHandler.Register(apiMux)
	apiSrv := &http.Server{
		Addr:         cfg.Server.HTTP.Address,
		Handler:      apiMux,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
	}
	go func() {
		logger.Info("starting pve api server", zap.String("address", cfg.Server.HTTP.Address))
		if serveErr := apiSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("pve api server error", zap.Error(serveErr))
		}
	}()

	logger.Info("battle server initialized",
		zap.String("version", version),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
		zap.String("http_address", cfg.Server.HTTP.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket server shutdown error", zap.Error(err))
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pve api server shutdown error", zap.Error(err))
	}

	registry.Shutdown()

	logger.Info("battle server stopped")
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
