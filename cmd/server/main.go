package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brojonat/stackhome/service/config"
	"github.com/brojonat/stackhome/service/db"
	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/metrics"
	natspkg "github.com/brojonat/stackhome/service/nats"
	"github.com/brojonat/stackhome/service/server"
	"github.com/brojonat/stackhome/service/temporal"
)

func main() {
	// Fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.StacksNetwork,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	store := db.NewStore(dbPool)
	if err := store.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(prometheus.DefaultRegisterer)

	registry := home.NewRegistry(home.Config{
		EvictAfter:            cfg.PendingEvictionRefreshes,
		MinimumRequired:       cfg.MinStackingUSTX,
		MaxSessionsPerAddress: cfg.MaxSessionsPerAddress,
	}, logger, metricsCollector)

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	if err := natspkg.EnsureStreams(ctx, natsPublisher.JetStream(), logger); err != nil {
		logger.Error("failed to ensure JetStream streams", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}

	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("connected to temporal",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Feed events from the workers drive every open home view.
	subscriber := natspkg.NewFeedSubscriber(
		natsPublisher.JetStream(),
		natspkg.DefaultFeedConsumer,
		server.NewFeedHandler(registry, natsPublisher, logger),
		metricsCollector,
		logger,
	)
	subscriberErrors := make(chan error, 1)
	go func() {
		subscriberErrors <- subscriber.Run(ctx)
	}()

	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		store,
		temporalClient,
		registry,
		natsPublisher,
		ssePublisher,
		metricsCollector,
		logger,
	)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"pending_eviction_refreshes", cfg.PendingEvictionRefreshes,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case err := <-subscriberErrors:
		logger.Error("feed subscriber stopped", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
