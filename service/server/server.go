package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/stackhome/service/config"
	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/metrics"
	"github.com/brojonat/stackhome/service/temporal"
)

// Server is the HTTP server for wallet registration and home view sessions.
type Server struct {
	addr         string
	cfg          *config.Config
	store        WalletStore
	scheduler    temporal.Scheduler
	registry     *home.Registry
	views        ViewPublisher
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with explicit dependencies.
// views, ssePublisher and metrics may be nil; without an SSE publisher the
// stream endpoint is not mounted.
func New(
	addr string,
	cfg *config.Config,
	store WalletStore,
	scheduler temporal.Scheduler,
	registry *home.Registry,
	views ViewPublisher,
	ssePublisher *SSEPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		scheduler:    scheduler,
		registry:     registry,
		views:        views,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	instrument := func(name string, h http.Handler) http.Handler {
		return metrics.Instrument(s.metrics, name, h)
	}

	// Wallet registration
	mux.Handle("POST /api/v1/wallets", instrument("/api/v1/wallets", handleRegisterWallet(s.store, s.scheduler, s.cfg, s.logger)))
	mux.Handle("GET /api/v1/wallets", instrument("/api/v1/wallets", handleListWallets(s.store, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}", instrument("/api/v1/wallets/{address}", handleGetWallet(s.store, s.cfg, s.logger)))
	mux.Handle("DELETE /api/v1/wallets/{address}", instrument("/api/v1/wallets/{address}", handleUnregisterWallet(s.store, s.scheduler, s.registry, s.cfg, s.logger)))
	mux.Handle("POST /api/v1/wallets/{address}/refresh", instrument("/api/v1/wallets/{address}/refresh", handleTriggerRefresh(s.store, s.scheduler, s.cfg, s.logger)))
	mux.Handle("GET /api/v1/wallets/{address}/refreshes", instrument("/api/v1/wallets/{address}/refreshes", handleListRefreshes(s.store, s.cfg, s.logger)))

	// Feed state
	mux.Handle("GET /api/v1/feeds/{address}", instrument("/api/v1/feeds/{address}", handleGetFeeds(s.registry, s.logger)))
	mux.Handle("POST /api/v1/feeds/{address}", instrument("/api/v1/feeds/{address}", handlePushFeed(s.registry, s.views, s.logger)))

	// Home view sessions
	mux.Handle("POST /api/v1/sessions", instrument("/api/v1/sessions", handleOpenSession(s.registry, s.logger)))
	mux.Handle("GET /api/v1/sessions/{id}", instrument("/api/v1/sessions/{id}", handleGetSession(s.registry, s.logger)))
	mux.Handle("DELETE /api/v1/sessions/{id}", instrument("/api/v1/sessions/{id}", handleCloseSession(s.registry, s.logger)))
	mux.Handle("PUT /api/v1/sessions/{id}/focus", instrument("/api/v1/sessions/{id}/focus", handleBindFocus(s.registry, s.views, s.logger)))
	mux.Handle("DELETE /api/v1/sessions/{id}/focus", instrument("/api/v1/sessions/{id}/focus", handleClearFocus(s.registry, s.views, s.logger)))

	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/sessions/{id}", instrument("/api/v1/stream/sessions/{id}", handleStreamSession(s.ssePublisher, s.registry, s.metrics, s.logger)))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.ssePublisher != nil {
		if err := s.ssePublisher.Close(); err != nil {
			s.logger.Error("failed to close SSE publisher", "error", err)
		}
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to allow browser-based clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
