package home

import (
	"errors"
	"sync"
	"time"

	"github.com/brojonat/stackhome/service/reconcile"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrUnknownTransaction = errors.New("transaction not in timeline")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrTooManySessions    = errors.New("too many sessions for address")
)

// Session is one open home screen. It owns the focus token and pending
// tracker, which must never be shared between views.
type Session struct {
	id        string
	address   string
	createdAt time.Time

	reconciler *reconcile.Reconciler
	minimum    *uint64
	recorder   Recorder
	now        func() time.Time

	mu      sync.Mutex
	feeds   FeedState
	tracker reconcile.PendingTracker
	focus   reconcile.FocusToken
	view    View
}

func newSession(id, address string, feeds FeedState, r *reconcile.Reconciler, minimum *uint64, rec Recorder, now func() time.Time) *Session {
	s := &Session{
		id:         id,
		address:    address,
		createdAt:  now(),
		reconciler: r,
		minimum:    minimum,
		recorder:   rec,
		now:        now,
		feeds:      feeds,
	}
	s.mu.Lock()
	s.renderLocked()
	s.mu.Unlock()
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Address() string { return s.address }

// View returns the last rendered view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Refresh re-renders with a newer feed state. Older states are ignored, so
// concurrent deliveries cannot roll the view back.
func (s *Session) Refresh(feeds FeedState) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if feeds.Version <= s.feeds.Version {
		return s.view, false
	}
	s.feeds = feeds
	s.renderLocked()
	return s.view, true
}

// BindFocus pins the view to txID. The id must be in the current timeline.
func (s *Session) BindFocus(txID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, tx := range s.view.Transactions {
		if tx.TxID == txID {
			found = true
			break
		}
	}
	if !found {
		return s.view, ErrUnknownTransaction
	}
	s.focus = reconcile.Bind(txID)
	s.renderLocked()
	return s.view, nil
}

// ClearFocus lets the view follow the head of the timeline again.
func (s *Session) ClearFocus() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus = s.focus.Unbound()
	s.renderLocked()
	return s.view
}

func (s *Session) renderLocked() {
	start := s.now()
	in := reconcile.Input{
		Focus:   s.focus,
		Tracker: s.tracker,
		Refresh: s.feeds.TxRefresh,
	}
	if s.feeds.Transactions != nil {
		in.Pending = s.feeds.Transactions.Pending
		in.Confirmed = s.feeds.Transactions.Confirmed
	}
	res := s.reconciler.Reconcile(in)
	s.tracker = res.Tracker
	s.focus = res.Focus

	vector := s.feeds.statusVector(s.minimum)
	s.view = buildView(s.id, s.address, s.feeds, vector, res, s.now())

	if s.recorder != nil {
		s.recorder.RecordReconcile(s.address, res, s.now().Sub(start))
		s.recorder.RecordClassification(s.view.CardState)
	}
}
