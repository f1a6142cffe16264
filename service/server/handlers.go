package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/stackhome/service/config"
	"github.com/brojonat/stackhome/service/db"
	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 41      // 'S' + version + c32check payload
	minAddressLength   = 28
	maxRefreshInterval = 24 * time.Hour
	defaultHistory     = 20
	maxHistory         = 500
)

var (
	// Standard principals: 'S', a version character, then c32 (no I, L, O, U).
	validAddressRegex = regexp.MustCompile(`^S[PMTN][0-9A-HJKMNP-TV-Z]+$`)
)

// WalletStore is the subset of db.Store the HTTP handlers need.
type WalletStore interface {
	CreateWallet(ctx context.Context, params db.CreateWalletParams) (*db.Wallet, error)
	UpsertWallet(ctx context.Context, params db.CreateWalletParams) (*db.Wallet, error)
	GetWallet(ctx context.Context, address, network string) (*db.Wallet, error)
	ListWallets(ctx context.Context) ([]*db.Wallet, error)
	DeleteWallet(ctx context.Context, address, network string) error
	WalletExists(ctx context.Context, address, network string) (bool, error)
	ListRefreshes(ctx context.Context, address, network string, limit int32) ([]*db.Refresh, error)
}

// handleRegisterWallet returns a handler that registers a wallet and creates
// its Temporal refresh schedule. Re-registering updates the interval.
// POST /api/v1/wallets
func handleRegisterWallet(store WalletStore, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address         string `json:"address"`
			Network         string `json:"network"`
			RefreshInterval string `json:"refresh_interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode register request", "error", err)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if req.Network == "" {
			req.Network = cfg.StacksNetwork
		}
		if err := validateNetwork(req.Network); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.Address, req.Network); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		interval := cfg.DefaultRefreshInterval
		if req.RefreshInterval != "" {
			d, err := time.ParseDuration(req.RefreshInterval)
			if err != nil {
				writeError(w, "invalid refresh_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			interval = d
		}
		if err := validateRefreshInterval(interval, cfg.MinRefreshInterval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := db.CreateWalletParams{
			Address:         req.Address,
			Network:         req.Network,
			RefreshInterval: interval,
			Status:          "active",
		}

		statusCode := http.StatusCreated
		wallet, err := store.CreateWallet(r.Context(), params)
		if errors.Is(err, db.ErrWalletExists) {
			logger.Debug("wallet already registered, updating refresh interval", "address", req.Address, "network", req.Network)
			wallet, err = store.UpsertWallet(r.Context(), params)
			statusCode = http.StatusOK
		}
		if err != nil {
			logger.Error("failed to register wallet", "address", req.Address, "error", err)
			writeError(w, "failed to register wallet", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertWalletSchedule(r.Context(), req.Address, req.Network, interval); err != nil {
			logger.Error("failed to create schedule", "address", req.Address, "network", req.Network, "error", err)
			// Roll back a fresh registration; an updated one keeps its old schedule.
			if statusCode == http.StatusCreated {
				if delErr := store.DeleteWallet(r.Context(), req.Address, req.Network); delErr != nil {
					logger.Error("failed to roll back wallet", "address", req.Address, "error", delErr)
				}
			}
			writeError(w, "failed to create schedule for wallet", http.StatusInternalServerError)
			return
		}

		logger.Info("wallet registered",
			"address", req.Address,
			"network", req.Network,
			"refresh_interval", interval,
			"updated", statusCode == http.StatusOK,
		)
		writeJSON(w, walletToResponse(wallet), statusCode)
	})
}

// handleListWallets returns a handler that lists all registered wallets.
// GET /api/v1/wallets
func handleListWallets(store WalletStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallets, err := store.ListWallets(r.Context())
		if err != nil {
			logger.Error("failed to list wallets", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]walletResponse, len(wallets))
		for i, wallet := range wallets {
			resp[i] = walletToResponse(wallet)
		}
		writeJSON(w, map[string]any{"wallets": resp}, http.StatusOK)
	})
}

// handleGetWallet returns a handler that retrieves one registered wallet.
// GET /api/v1/wallets/{address}?network={network}
func handleGetWallet(store WalletStore, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, network, ok := walletFromRequest(w, r, cfg)
		if !ok {
			return
		}

		wallet, err := store.GetWallet(r.Context(), address, network)
		if errors.Is(err, db.ErrWalletNotFound) {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get wallet", "address", address, "network", network, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, walletToResponse(wallet), http.StatusOK)
	})
}

// handleUnregisterWallet returns a handler that deletes a wallet's schedule
// and registration. Feed state held for the address is dropped when no
// session is watching it.
// DELETE /api/v1/wallets/{address}?network={network}
func handleUnregisterWallet(store WalletStore, scheduler temporal.Scheduler, registry *home.Registry, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, network, ok := walletFromRequest(w, r, cfg)
		if !ok {
			return
		}

		exists, err := store.WalletExists(r.Context(), address, network)
		if err != nil {
			logger.Error("failed to check wallet existence", "address", address, "network", network, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !exists {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		// Delete the schedule before the row.
		if err := scheduler.DeleteWalletSchedule(r.Context(), address, network); err != nil {
			logger.Error("failed to delete schedule", "address", address, "network", network, "error", err)
			writeError(w, "failed to delete schedule for wallet", http.StatusInternalServerError)
			return
		}
		if err := store.DeleteWallet(r.Context(), address, network); err != nil {
			logger.Error("failed to delete wallet", "address", address, "network", network, "error", err)
			writeError(w, "failed to unregister wallet", http.StatusInternalServerError)
			return
		}

		if registry != nil && registry.Forget(address) {
			logger.Debug("dropped feed state", "address", address)
		}
		logger.Info("wallet unregistered", "address", address, "network", network)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleTriggerRefresh returns a handler that starts an immediate refresh of
// a registered wallet.
// POST /api/v1/wallets/{address}/refresh?network={network}
func handleTriggerRefresh(store WalletStore, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, network, ok := walletFromRequest(w, r, cfg)
		if !ok {
			return
		}

		exists, err := store.WalletExists(r.Context(), address, network)
		if err != nil {
			logger.Error("failed to check wallet existence", "address", address, "network", network, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !exists {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}

		if err := scheduler.TriggerWalletRefresh(r.Context(), address, network); err != nil {
			logger.Error("failed to trigger refresh", "address", address, "network", network, "error", err)
			writeError(w, "failed to trigger refresh", http.StatusInternalServerError)
			return
		}

		logger.Info("refresh triggered", "address", address, "network", network)
		writeJSON(w, map[string]string{
			"address":  address,
			"network":  network,
			"schedule": temporal.ScheduleID(address, network),
		}, http.StatusAccepted)
	})
}

// handleListRefreshes returns a handler that lists the refresh history of a
// wallet, newest first.
// GET /api/v1/wallets/{address}/refreshes?network={network}&limit={n}
func handleListRefreshes(store WalletStore, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, network, ok := walletFromRequest(w, r, cfg)
		if !ok {
			return
		}

		limit := defaultHistory
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, "invalid limit: must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxHistory)
		}

		refreshes, err := store.ListRefreshes(r.Context(), address, network, int32(limit))
		if err != nil {
			logger.Error("failed to list refreshes", "address", address, "network", network, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]refreshResponse, len(refreshes))
		for i, rf := range refreshes {
			resp[i] = refreshResponse{
				ObservedAt:     rf.ObservedAt,
				PendingCount:   rf.PendingCount,
				ConfirmedCount: rf.ConfirmedCount,
				FailedFeeds:    rf.FailedFeeds,
			}
		}
		writeJSON(w, map[string]any{
			"address":   address,
			"network":   network,
			"refreshes": resp,
		}, http.StatusOK)
	})
}

// walletFromRequest validates the {address} path value and the optional
// network query parameter. It writes the error response itself.
func walletFromRequest(w http.ResponseWriter, r *http.Request, cfg *config.Config) (string, string, bool) {
	address := r.PathValue("address")
	network := r.URL.Query().Get("network")
	if network == "" {
		network = cfg.StacksNetwork
	}
	if err := validateNetwork(network); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	if err := validateAddress(address, network); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	return address, network, true
}

// walletResponse is the JSON response format for a wallet.
type walletResponse struct {
	Address         string     `json:"address"`
	Network         string     `json:"network"`
	RefreshInterval string     `json:"refresh_interval"`
	LastRefreshTime *time.Time `json:"last_refresh_time,omitempty"`
	LastCardState   *string    `json:"last_card_state,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func walletToResponse(w *db.Wallet) walletResponse {
	return walletResponse{
		Address:         w.Address,
		Network:         w.Network,
		RefreshInterval: w.RefreshInterval.String(),
		LastRefreshTime: w.LastRefreshTime,
		LastCardState:   w.LastCardState,
		Status:          w.Status,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}
}

type refreshResponse struct {
	ObservedAt     time.Time `json:"observed_at"`
	PendingCount   int       `json:"pending_count"`
	ConfirmedCount int       `json:"confirmed_count"`
	FailedFeeds    []string  `json:"failed_feeds,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a Stacks standard principal and checks that its
// version character belongs to network.
func validateAddress(address, network string) error {
	if address == "" {
		return errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}
	if len(address) < minAddressLength {
		return errorf("address too short: minimum length is %d characters", minAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must be a Stacks principal (SP..., SM..., ST..., SN...)")
	}

	version := address[1]
	switch network {
	case "mainnet":
		if version != 'P' && version != 'M' {
			return errorf("address %s is not a mainnet address", address)
		}
	case "testnet":
		if version != 'T' && version != 'N' {
			return errorf("address %s is not a testnet address", address)
		}
	}
	return nil
}

func validateNetwork(network string) error {
	if network == "" {
		return errorf("network is required")
	}
	if network != "mainnet" && network != "testnet" {
		return errorf("invalid network: must be 'mainnet' or 'testnet'")
	}
	return nil
}

// validateRefreshInterval bounds the refresh interval of a schedule.
func validateRefreshInterval(interval, minimum time.Duration) error {
	if interval <= 0 {
		return errorf("refresh_interval must be positive")
	}
	if minimum > 0 && interval < minimum {
		return errorf("refresh_interval must be at least %v", minimum)
	}
	if interval > maxRefreshInterval {
		return errorf("refresh_interval cannot exceed %v", maxRefreshInterval)
	}
	return nil
}

func errorf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

// trimmed is the normalized form of an id path value.
func trimmed(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
