package home

import (
	"fmt"
	"time"

	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

// FeedKind names one upstream data feed.
type FeedKind string

const (
	FeedBalance      FeedKind = "balance"
	FeedTransactions FeedKind = "transactions"
	FeedStackerInfo  FeedKind = "stacker_info"
	FeedDelegation   FeedKind = "delegation"
	FeedPox          FeedKind = "pox"
)

// ParseFeedKind validates a feed kind string.
func ParseFeedKind(s string) (FeedKind, error) {
	switch k := FeedKind(s); k {
	case FeedBalance, FeedTransactions, FeedStackerInfo, FeedDelegation, FeedPox:
		return k, nil
	}
	return "", fmt.Errorf("unknown feed kind %q", s)
}

// Balances is the balance feed value in micro-STX.
type Balances struct {
	Total     uint64 `json:"total"`
	Locked    uint64 `json:"locked"`
	Spendable uint64 `json:"spendable"`
}

// TransactionFeed is one snapshot of both transaction feeds.
type TransactionFeed struct {
	Pending   []reconcile.Transaction `json:"pending"`
	Confirmed []reconcile.Transaction `json:"confirmed"`
	// Total is the upstream count of confirmed transactions. Confirmed
	// holds only the most recent page of them.
	Total int `json:"total,omitempty"`
}

// ConfirmedCount is the number of confirmed transactions the address has,
// never less than the page in hand.
func (f TransactionFeed) ConfirmedCount() int {
	if n := len(f.Confirmed); n > f.Total {
		return n
	}
	return f.Total
}

// Update is a change notification for one feed. Exactly one of the value
// fields matching Kind is set unless Err is non-empty or Loading is true.
type Update struct {
	Kind       FeedKind
	ObservedAt time.Time
	// Loading marks a fetch that has started but not finished.
	Loading bool
	// Err is the upstream failure, if the fetch failed.
	Err string

	Balances        *Balances
	Transactions    *TransactionFeed
	StackerInfo     *stacking.StackerInfo
	Delegated       *bool
	MinimumRequired *uint64
}

// LoadingUpdates marks every feed as being fetched.
func LoadingUpdates(startedAt time.Time) []Update {
	kinds := []FeedKind{FeedBalance, FeedPox, FeedStackerInfo, FeedDelegation, FeedTransactions}
	out := make([]Update, len(kinds))
	for i, k := range kinds {
		out[i] = Update{Kind: k, ObservedAt: startedAt, Loading: true}
	}
	return out
}

type feedStatus struct {
	loading bool
	err     string
}

// FeedState is the latest value of every feed for one address.
type FeedState struct {
	// Version increases with every applied update.
	Version   uint64
	UpdatedAt time.Time

	Balances    *Balances
	StackerInfo *stacking.StackerInfo
	Delegated   *bool
	PoxMinimum  *uint64

	Transactions *TransactionFeed
	// TxRefresh counts successful transaction feed snapshots.
	TxRefresh    uint64
	txObservedAt time.Time

	status map[FeedKind]feedStatus
}

// Err returns the last error reported for a feed, if any.
func (s FeedState) Err(kind FeedKind) string {
	return s.status[kind].err
}

// Loading reports whether a fetch for the feed is in flight.
func (s FeedState) Loading(kind FeedKind) bool {
	return s.status[kind].loading
}

// Errors returns the failing feeds and their messages.
func (s FeedState) Errors() map[string]string {
	var out map[string]string
	for k, st := range s.status {
		if st.err == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[string(k)] = st.err
	}
	return out
}

// apply returns a new state with u folded in. Values from earlier updates are
// kept when a fetch fails so that the error flag and the last good value are
// both visible. A transaction snapshot observed no later than the one already
// applied is a redelivery and leaves the state unchanged; apply then reports
// false.
func (s FeedState) apply(u Update) (FeedState, bool) {
	if s.staleSnapshot(u) {
		return s, false
	}
	next := s
	next.status = make(map[FeedKind]feedStatus, len(s.status)+1)
	for k, v := range s.status {
		next.status[k] = v
	}
	next.Version++
	if !u.ObservedAt.IsZero() {
		next.UpdatedAt = u.ObservedAt
	}

	if u.Loading {
		st := next.status[u.Kind]
		st.loading = true
		next.status[u.Kind] = st
		return next, true
	}
	next.status[u.Kind] = feedStatus{err: u.Err}
	if u.Err != "" {
		return next, true
	}

	switch u.Kind {
	case FeedBalance:
		if u.Balances != nil {
			b := *u.Balances
			next.Balances = &b
		}
	case FeedTransactions:
		feed := TransactionFeed{}
		if u.Transactions != nil {
			feed = *u.Transactions
		}
		next.Transactions = &feed
		next.TxRefresh++
		if !u.ObservedAt.IsZero() {
			next.txObservedAt = u.ObservedAt
		}
	case FeedStackerInfo:
		if u.StackerInfo != nil {
			si := *u.StackerInfo
			next.StackerInfo = &si
		}
	case FeedDelegation:
		if u.Delegated != nil {
			d := *u.Delegated
			next.Delegated = &d
		}
	case FeedPox:
		if u.MinimumRequired != nil {
			m := *u.MinimumRequired
			next.PoxMinimum = &m
		}
	}
	return next, true
}

func (s FeedState) staleSnapshot(u Update) bool {
	if u.Kind != FeedTransactions || u.Loading || u.Err != "" || u.ObservedAt.IsZero() {
		return false
	}
	return s.TxRefresh > 0 && !u.ObservedAt.After(s.txObservedAt)
}

// statusVector builds the classifier input. A configured minimum overrides
// the one reported by the PoX feed.
func (s FeedState) statusVector(minimum *uint64) stacking.StatusVector {
	v := stacking.StatusVector{
		Delegated:       s.Delegated,
		StackerInfo:     s.StackerInfo,
		MinimumRequired: s.PoxMinimum,
		Loading: stacking.FeedFlags{
			Balance:     s.Loading(FeedBalance),
			StackerInfo: s.Loading(FeedStackerInfo),
			Delegation:  s.Loading(FeedDelegation),
		},
		Errors: stacking.FeedFlags{
			Balance:     s.Err(FeedBalance) != "",
			StackerInfo: s.Err(FeedStackerInfo) != "",
			Delegation:  s.Err(FeedDelegation) != "",
		},
	}
	if minimum != nil {
		v.MinimumRequired = minimum
	}
	if s.Balances != nil {
		total, locked, spendable := s.Balances.Total, s.Balances.Locked, s.Balances.Spendable
		v.Balance, v.Locked, v.Spendable = &total, &locked, &spendable
	}
	return v
}
