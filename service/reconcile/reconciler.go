package reconcile

import (
	"context"
	"io"
	"log/slog"
)

// WarningKind classifies a data-quality problem found while reconciling.
type WarningKind string

const (
	WarningMissingIdentifier   WarningKind = "missing-identifier"
	WarningDuplicateIdentifier WarningKind = "duplicate-identifier"
	WarningIdentityMismatch    WarningKind = "identity-mismatch"
	WarningStalePending        WarningKind = "stale-pending"
	WarningStaleReplay         WarningKind = "stale-replay"
)

// Feed names used in warnings.
const (
	FeedPending   = "pending"
	FeedConfirmed = "confirmed"
)

// Warning is a non-fatal problem with upstream data. Reconciliation always
// continues past it.
type Warning struct {
	Kind   WarningKind `json:"kind"`
	Feed   string      `json:"feed"`
	TxID   string      `json:"tx_id,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// Config holds the tunables of the reconciler.
type Config struct {
	// EvictAfter is how many consecutive pending-feed refreshes an entry may
	// be missing before it is dropped. Zero evicts on the first miss.
	EvictAfter int
	// EvictedRetention is how many refreshes an evicted id is remembered
	// for replay detection. Zero selects DefaultEvictedRetention.
	EvictedRetention int
}

// DefaultEvictedRetention bounds the evicted-id memory when Config leaves it
// unset.
const DefaultEvictedRetention = 64

// Input is everything one reconciliation pass needs.
type Input struct {
	Pending   []Transaction
	Confirmed []Transaction
	Focus     FocusToken
	Tracker   PendingTracker
	// Refresh is the sequence number of the pending feed snapshot. Misses
	// are only counted when it advances past Tracker.Refresh(), so running
	// the same refresh twice has no extra effect.
	Refresh uint64
}

// Result is the output of one reconciliation pass.
type Result struct {
	Transactions []Transaction `json:"transactions"`
	Focus        FocusToken    `json:"focus"`
	// FocusIndex is the position of Focus.TxID in Transactions, or -1.
	FocusIndex int `json:"focus_index"`
	// FocusMoved tells the view whether it has to scroll.
	FocusMoved bool           `json:"focus_moved"`
	Tracker    PendingTracker `json:"-"`
	Promoted   []string       `json:"promoted,omitempty"`
	Evicted    []string       `json:"evicted,omitempty"`
	// Warnings holds every problem found in this pass.
	Warnings []Warning `json:"warnings,omitempty"`
	// NewWarnings is Warnings on the first pass over a pending-feed refresh
	// and empty on later passes over the same refresh.
	NewWarnings []Warning `json:"-"`
}

// PendingCount is the number of pending rows at the head of Transactions.
func (r Result) PendingCount() int {
	n := 0
	for _, tx := range r.Transactions {
		if !tx.IsPending() {
			break
		}
		n++
	}
	return n
}

// Reconciler merges pending and confirmed feeds.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger
}

// NewReconciler creates a reconciler. A nil logger discards warnings.
func NewReconciler(cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.EvictAfter < 0 {
		cfg.EvictAfter = 0
	}
	if cfg.EvictedRetention <= 0 {
		cfg.EvictedRetention = DefaultEvictedRetention
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{cfg: cfg, logger: logger}
}

// Config returns the reconciler configuration.
func (r *Reconciler) Config() Config {
	return r.cfg
}

// Reconcile produces the ordered timeline: retained pending entries, newest
// submission first, followed by the confirmed feed in upstream order.
func (r *Reconciler) Reconcile(in Input) Result {
	var res Result
	warn := func(w Warning) {
		res.Warnings = append(res.Warnings, w)
	}

	confirmed, confirmedByID := sanitizeConfirmed(in.Confirmed, warn)
	pending := sanitizePending(in.Pending, warn)

	tracker := in.Tracker.clone()
	advancing := in.Refresh > tracker.refresh
	report := advancing || !tracker.reported

	observed := make(map[string]bool, len(pending))
	for i, p := range pending {
		observed[p.TxID] = true
		if ev, ok := tracker.evicted[p.TxID]; ok {
			if !p.LastSeen.After(ev.lastSeen) {
				warn(Warning{Kind: WarningStaleReplay, Feed: FeedPending, TxID: p.TxID,
					Detail: "evicted entry reported without a newer observation"})
				// Remembered for as long as it keeps being replayed.
				if in.Refresh > ev.refresh {
					ev.refresh = in.Refresh
					tracker.evicted[p.TxID] = ev
				}
				continue
			}
			delete(tracker.evicted, p.TxID)
		}
		tracker.entries[p.TxID] = trackedEntry{tx: p, order: i}
	}

	for _, id := range tracker.sortedIDs() {
		m := Resolve(tracker.entries[id].tx, confirmedByID)
		if m.Resolution == Superseded {
			delete(tracker.entries, id)
			res.Promoted = append(res.Promoted, id)
		}
	}
	for id := range tracker.evicted {
		if _, ok := confirmedByID[id]; ok {
			delete(tracker.evicted, id)
		}
	}

	if advancing {
		for _, id := range tracker.sortedIDs() {
			if observed[id] {
				continue
			}
			e := tracker.entries[id]
			e.misses++
			if e.misses > r.cfg.EvictAfter {
				delete(tracker.entries, id)
				tracker.evicted[id] = evictedEntry{lastSeen: e.tx.LastSeen, refresh: in.Refresh}
				res.Evicted = append(res.Evicted, id)
				warn(Warning{Kind: WarningStalePending, Feed: FeedPending, TxID: id,
					Detail: "pending entry never confirmed and no longer reported"})
				continue
			}
			tracker.entries[id] = e
		}
		for id, ev := range tracker.evicted {
			if in.Refresh-ev.refresh > uint64(r.cfg.EvictedRetention) {
				delete(tracker.evicted, id)
			}
		}
		tracker.refresh = in.Refresh
	}

	nonces := indexByNonce(confirmed)
	retained := tracker.pending()
	for _, p := range retained {
		if other, ok := nonces.lookup(p); ok {
			warn(Warning{Kind: WarningIdentityMismatch, Feed: FeedPending, TxID: p.TxID,
				Detail: "confirmed transaction " + other + " uses the same origin nonce"})
		}
	}

	res.Transactions = make([]Transaction, 0, len(retained)+len(confirmed))
	res.Transactions = append(res.Transactions, retained...)
	res.Transactions = append(res.Transactions, confirmed...)
	res.Focus, res.FocusIndex, res.FocusMoved = resolveFocus(in.Focus, res.Transactions)
	tracker.reported = true
	res.Tracker = tracker
	if !report {
		return res
	}

	res.NewWarnings = res.Warnings
	for _, w := range res.NewWarnings {
		r.logger.LogAttrs(context.Background(), slog.LevelWarn, "transaction data quality",
			slog.String("kind", string(w.Kind)),
			slog.String("feed", w.Feed),
			slog.String("tx_id", w.TxID),
			slog.String("detail", w.Detail),
		)
	}
	return res
}

func sanitizeConfirmed(in []Transaction, warn func(Warning)) ([]Transaction, map[string]Transaction) {
	out := make([]Transaction, 0, len(in))
	byID := make(map[string]Transaction, len(in))
	for _, tx := range in {
		if tx.TxID == "" {
			warn(Warning{Kind: WarningMissingIdentifier, Feed: FeedConfirmed, Detail: "record dropped"})
			continue
		}
		if _, dup := byID[tx.TxID]; dup {
			warn(Warning{Kind: WarningDuplicateIdentifier, Feed: FeedConfirmed, TxID: tx.TxID})
			continue
		}
		if tx.Status != StatusFailed {
			tx.Status = StatusConfirmed
		}
		byID[tx.TxID] = tx
		out = append(out, tx)
	}
	return out, byID
}

func sanitizePending(in []Transaction, warn func(Warning)) []Transaction {
	out := make([]Transaction, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, tx := range in {
		if tx.TxID == "" {
			warn(Warning{Kind: WarningMissingIdentifier, Feed: FeedPending, Detail: "record dropped"})
			continue
		}
		tx.Status = StatusPending
		if i, dup := pos[tx.TxID]; dup {
			warn(Warning{Kind: WarningDuplicateIdentifier, Feed: FeedPending, TxID: tx.TxID})
			if tx.LastSeen.After(out[i].LastSeen) {
				out[i] = tx
			}
			continue
		}
		pos[tx.TxID] = len(out)
		out = append(out, tx)
	}
	return out
}
