package reconcile

import (
	"sort"
	"time"
)

// PendingTracker is the retained pending-side state carried between
// reconciliation passes. The zero value is an empty tracker. A tracker is
// never mutated after it is returned; each pass produces a new one.
type PendingTracker struct {
	refresh uint64
	// reported is set once the warnings of refresh have been logged.
	reported bool
	entries  map[string]trackedEntry
	evicted  map[string]evictedEntry
}

type trackedEntry struct {
	tx     Transaction
	misses int
	// order is the position in the last pending feed that reported tx.
	order int
}

type evictedEntry struct {
	lastSeen time.Time
	// refresh is the pending-feed refresh that evicted the entry.
	refresh uint64
}

// Refresh is the last pending-feed refresh this tracker has counted.
func (p PendingTracker) Refresh() uint64 {
	return p.refresh
}

// Len is the number of pending entries currently retained.
func (p PendingTracker) Len() int {
	return len(p.entries)
}

// Misses returns how many consecutive refreshes txID has been absent from the
// pending feed, and whether it is retained at all.
func (p PendingTracker) Misses(txID string) (int, bool) {
	e, ok := p.entries[txID]
	return e.misses, ok
}

// IsEvicted reports whether txID was dropped for staleness and has not been
// re-observed or forgotten since.
func (p PendingTracker) IsEvicted(txID string) bool {
	_, ok := p.evicted[txID]
	return ok
}

// EvictedLen is the number of evicted ids still remembered.
func (p PendingTracker) EvictedLen() int {
	return len(p.evicted)
}

func (p PendingTracker) clone() PendingTracker {
	next := PendingTracker{
		refresh:  p.refresh,
		reported: p.reported,
		entries:  make(map[string]trackedEntry, len(p.entries)),
		evicted:  make(map[string]evictedEntry, len(p.evicted)),
	}
	for id, e := range p.entries {
		next.entries[id] = e
	}
	for id, e := range p.evicted {
		next.evicted[id] = e
	}
	return next
}

// pending returns the retained entries, newest submission first. Entries
// submitted at the same instant keep the order the pending feed gave them.
func (p PendingTracker) pending() []Transaction {
	entries := make([]trackedEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.tx.SubmittedAt.Equal(b.tx.SubmittedAt) {
			return a.tx.SubmittedAt.After(b.tx.SubmittedAt)
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.tx.TxID < b.tx.TxID
	})
	out := make([]Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

// sortedIDs keeps iteration deterministic so warnings come out in a stable
// order.
func (p PendingTracker) sortedIDs() []string {
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
