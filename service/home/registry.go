// Package home wires the transaction reconciler and the stacking classifier
// into per-view sessions fed by upstream feed updates.
package home

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

// Recorder receives metrics about reconciliation and classification.
type Recorder interface {
	RecordReconcile(address string, res reconcile.Result, duration time.Duration)
	RecordClassification(state stacking.HomeCardState)
	RecordFeedUpdate(kind string, failed bool)
	SetActiveSessions(n int)
}

// Config configures a Registry.
type Config struct {
	// EvictAfter is the pending eviction bound in refreshes.
	EvictAfter int
	// EvictedRetention is how many refreshes evicted ids are remembered.
	// Zero uses the reconciler default.
	EvictedRetention int
	// MinimumRequired overrides the PoX minimum stacking amount when set.
	MinimumRequired *uint64
	// MaxSessionsPerAddress limits open views per address. Zero means no
	// limit.
	MaxSessionsPerAddress int
}

// Registry tracks open sessions and the latest feed state per address.
type Registry struct {
	cfg        Config
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	recorder   Recorder
	now        func() time.Time

	mu        sync.RWMutex
	sessions  map[string]*Session
	byAddress map[string]map[string]*Session
	feeds     map[string]FeedState
}

// NewRegistry creates an empty registry. recorder may be nil.
func NewRegistry(cfg Config, logger *slog.Logger, recorder Recorder) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rc := reconcile.NewReconciler(reconcile.Config{
		EvictAfter:       cfg.EvictAfter,
		EvictedRetention: cfg.EvictedRetention,
	}, logger)
	return &Registry{
		cfg:        cfg,
		reconciler: rc,
		logger:     logger,
		recorder:   recorder,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		byAddress:  make(map[string]map[string]*Session),
		feeds:      make(map[string]FeedState),
	}
}

// Open starts a session for address. It renders immediately from whatever
// feeds the registry already holds for that address.
func (r *Registry) Open(address string) (View, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return View{}, ErrInvalidAddress
	}

	r.mu.Lock()
	if limit := r.cfg.MaxSessionsPerAddress; limit > 0 && len(r.byAddress[address]) >= limit {
		r.mu.Unlock()
		return View{}, fmt.Errorf("%w: %s", ErrTooManySessions, address)
	}
	id := uuid.NewString()
	s := newSession(id, address, r.feeds[address], r.reconciler, r.cfg.MinimumRequired, r.recorder, r.now)
	r.sessions[id] = s
	if r.byAddress[address] == nil {
		r.byAddress[address] = make(map[string]*Session)
	}
	r.byAddress[address][id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("home session opened", "session_id", id, "address", address)
	if r.recorder != nil {
		r.recorder.SetActiveSessions(n)
	}
	return s.View(), nil
}

// Close ends a session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	if peers := r.byAddress[s.address]; peers != nil {
		delete(peers, id)
		if len(peers) == 0 {
			delete(r.byAddress, s.address)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("home session closed", "session_id", id, "address", s.address)
	if r.recorder != nil {
		r.recorder.SetActiveSessions(n)
	}
	return nil
}

// Session looks up an open session.
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// View returns the current view of a session.
func (r *Registry) View(id string) (View, error) {
	s, err := r.Session(id)
	if err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// BindFocus pins a session's focus to txID.
func (r *Registry) BindFocus(id, txID string) (View, error) {
	s, err := r.Session(id)
	if err != nil {
		return View{}, err
	}
	return s.BindFocus(txID)
}

// ClearFocus unbinds a session's focus.
func (r *Registry) ClearFocus(id string) (View, error) {
	s, err := r.Session(id)
	if err != nil {
		return View{}, err
	}
	return s.ClearFocus(), nil
}

// ApplyFeed folds an update into the address state and re-renders every
// session watching that address. It returns the views that changed. A
// redelivered transaction snapshot changes nothing.
func (r *Registry) ApplyFeed(address string, u Update) []View {
	r.mu.Lock()
	state, applied := r.feeds[address].apply(u)
	if !applied {
		r.mu.Unlock()
		r.logger.Debug("stale transaction snapshot ignored",
			"address", address,
			"observed_at", u.ObservedAt,
			"tx_refresh", state.TxRefresh,
		)
		return nil
	}
	r.feeds[address] = state
	peers := make([]*Session, 0, len(r.byAddress[address]))
	for _, s := range r.byAddress[address] {
		peers = append(peers, s)
	}
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordFeedUpdate(string(u.Kind), u.Err != "")
	}
	if u.Err != "" {
		r.logger.Warn("feed update failed", "address", address, "feed", u.Kind, "error", u.Err)
	} else {
		r.logger.Debug("feed updated", "address", address, "feed", u.Kind, "version", state.Version)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].id < peers[j].id })
	views := make([]View, 0, len(peers))
	for _, s := range peers {
		if v, changed := s.Refresh(state); changed {
			views = append(views, v)
		}
	}
	return views
}

// Feeds returns the latest feed state held for address.
func (r *Registry) Feeds(address string) FeedState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeds[address]
}

// Forget drops the feed state of an address with no open sessions. It
// reports whether anything was dropped.
func (r *Registry) Forget(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byAddress[address]) > 0 {
		return false
	}
	_, ok := r.feeds[address]
	delete(r.feeds, address)
	return ok
}

// SessionIDs lists the open sessions for address.
func (r *Registry) SessionIDs(address string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byAddress[address]))
	for id := range r.byAddress[address] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count is the number of open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
