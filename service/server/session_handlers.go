package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/stackhome/service/home"
	natspkg "github.com/brojonat/stackhome/service/nats"
)

// ViewPublisher publishes re-rendered home views so streaming clients see
// them. natspkg.Publisher satisfies it.
type ViewPublisher interface {
	PublishHomeView(ctx context.Context, event *natspkg.HomeViewEvent) error
}

// NewFeedHandler returns the handler that folds consumed feed events into
// the registry and publishes every view that changed.
func NewFeedHandler(registry *home.Registry, views ViewPublisher, logger *slog.Logger) natspkg.FeedHandler {
	return func(ctx context.Context, address string, u home.Update) error {
		changed := registry.ApplyFeed(address, u)
		return publishViews(ctx, views, changed, logger)
	}
}

func publishViews(ctx context.Context, views ViewPublisher, changed []home.View, logger *slog.Logger) error {
	if views == nil {
		return nil
	}
	var errs []error
	for _, v := range changed {
		if err := views.PublishHomeView(ctx, natspkg.FromView(v)); err != nil {
			logger.ErrorContext(ctx, "failed to publish home view",
				"session_id", v.SessionID,
				"address", v.Address,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleOpenSession returns a handler that opens a home view session.
// POST /api/v1/sessions
func handleOpenSession(registry *home.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Address, ""); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		view, err := registry.Open(req.Address)
		switch {
		case errors.Is(err, home.ErrTooManySessions):
			writeError(w, err.Error(), http.StatusTooManyRequests)
			return
		case errors.Is(err, home.ErrInvalidAddress):
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			logger.Error("failed to open session", "address", req.Address, "error", err)
			writeError(w, "failed to open session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, view, http.StatusCreated)
	})
}

// handleGetSession returns a handler that renders a session's current view.
// GET /api/v1/sessions/{id}
func handleGetSession(registry *home.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view, err := registry.View(trimmed(r, "id"))
		if err != nil {
			writeSessionError(w, err, logger)
			return
		}
		writeJSON(w, view, http.StatusOK)
	})
}

// handleCloseSession returns a handler that closes a session.
// DELETE /api/v1/sessions/{id}
func handleCloseSession(registry *home.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := registry.Close(trimmed(r, "id")); err != nil {
			writeSessionError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleBindFocus returns a handler that pins a session's focus to a
// transaction in its timeline.
// PUT /api/v1/sessions/{id}/focus
func handleBindFocus(registry *home.Registry, views ViewPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			TxID string `json:"tx_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if req.TxID == "" {
			writeError(w, "tx_id is required", http.StatusBadRequest)
			return
		}

		view, err := registry.BindFocus(trimmed(r, "id"), req.TxID)
		if err != nil {
			writeSessionError(w, err, logger)
			return
		}
		publishViews(r.Context(), views, []home.View{view}, logger)
		writeJSON(w, view, http.StatusOK)
	})
}

// handleClearFocus returns a handler that lets a session follow the head of
// its timeline again.
// DELETE /api/v1/sessions/{id}/focus
func handleClearFocus(registry *home.Registry, views ViewPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view, err := registry.ClearFocus(trimmed(r, "id"))
		if err != nil {
			writeSessionError(w, err, logger)
			return
		}
		publishViews(r.Context(), views, []home.View{view}, logger)
		writeJSON(w, view, http.StatusOK)
	})
}

// handleGetFeeds returns a handler that summarizes the feed state held for
// an address.
// GET /api/v1/feeds/{address}
func handleGetFeeds(registry *home.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address, ""); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		state := registry.Feeds(address)
		resp := feedsResponse{
			Address:    address,
			Version:    state.Version,
			TxRefresh:  state.TxRefresh,
			Errors:     state.Errors(),
			Sessions:   registry.SessionIDs(address),
			Balances:   state.Balances,
			Delegated:  state.Delegated,
			PoxMinimum: state.PoxMinimum,
		}
		if !state.UpdatedAt.IsZero() {
			resp.UpdatedAt = &state.UpdatedAt
		}
		if state.StackerInfo != nil {
			resp.StackerStatus = string(state.StackerInfo.Status)
		}
		if state.Transactions != nil {
			resp.PendingCount = len(state.Transactions.Pending)
			resp.ConfirmedCount = len(state.Transactions.Confirmed)
		}
		logger.Debug("feed state retrieved", "address", address, "version", state.Version)
		writeJSON(w, resp, http.StatusOK)
	})
}

// handlePushFeed returns a handler that applies one feed event directly,
// bypassing NATS. Used for manual refreshes and local testing.
// POST /api/v1/feeds/{address}
func handlePushFeed(registry *home.Registry, views ViewPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		address := r.PathValue("address")
		if err := validateAddress(address, ""); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var event natspkg.FeedEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if event.WalletAddress == "" {
			event.WalletAddress = address
		}
		if event.WalletAddress != address {
			writeError(w, "wallet_address does not match path", http.StatusBadRequest)
			return
		}
		if event.ObservedAt.IsZero() {
			event.ObservedAt = time.Now().UTC()
		}
		u, err := event.ToUpdate()
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		changed := registry.ApplyFeed(address, u)
		if err := publishViews(r.Context(), views, changed, logger); err != nil {
			writeError(w, "failed to publish home views", http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{
			"address": address,
			"kind":    u.Kind,
			"views":   changed,
		}, http.StatusOK)
	})
}

type feedsResponse struct {
	Address        string            `json:"address"`
	Version        uint64            `json:"version"`
	UpdatedAt      *time.Time        `json:"updated_at,omitempty"`
	TxRefresh      uint64            `json:"tx_refresh"`
	PendingCount   int               `json:"pending_count"`
	ConfirmedCount int               `json:"confirmed_count"`
	Balances       *home.Balances    `json:"balances,omitempty"`
	StackerStatus  string            `json:"stacker_status,omitempty"`
	Delegated      *bool             `json:"delegated,omitempty"`
	PoxMinimum     *uint64           `json:"pox_minimum,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"`
	Sessions       []string          `json:"sessions"`
}

func writeSessionError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, home.ErrSessionNotFound):
		writeError(w, "session not found", http.StatusNotFound)
	case errors.Is(err, home.ErrUnknownTransaction):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		logger.Error("session operation failed", "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}
