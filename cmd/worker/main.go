package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/stackhome/service/config"
	"github.com/brojonat/stackhome/service/db"
	"github.com/brojonat/stackhome/service/metrics"
	natspkg "github.com/brojonat/stackhome/service/nats"
	"github.com/brojonat/stackhome/service/stacks"
	"github.com/brojonat/stackhome/service/temporal"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
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
	logger.Info("connected to database")

	metricsCollector := metrics.NewMetrics(nil)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	stacksClient := stacks.NewClient(stacks.ClientConfig{
		BaseURL:  cfg.StacksAPIURL,
		PageSize: cfg.TransactionPageSize,
	}, metricsCollector, logger)
	logger.Info("initialized stacks API client",
		"base_url", cfg.StacksAPIURL,
		"page_size", cfg.TransactionPageSize,
	)

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

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:           cfg.TemporalHost,
		TemporalNamespace:      cfg.TemporalNamespace,
		TaskQueue:              cfg.TemporalTaskQueue,
		Network:                cfg.StacksNetwork,
		MinimumRequired:        cfg.MinStackingUSTX,
		MaxConcurrentRefreshes: cfg.WorkerConcurrency,
		Store:                  store,
		StacksClient:           stacksClient,
		Publisher:              natsPublisher,
		Metrics:                metricsCollector,
		Logger:                 logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"stacks_api_url", cfg.StacksAPIURL,
		"temporal_host", cfg.TemporalHost,
		"task_queue", cfg.TemporalTaskQueue,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil {
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
