package home

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

const testAddress = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu          sync.Mutex
	reconciles  int
	warnings    int
	states      []stacking.HomeCardState
	feedUpdates map[string]int
	failures    int
	active      int
}

func (f *fakeRecorder) RecordReconcile(_ string, res reconcile.Result, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles++
	f.warnings += len(res.NewWarnings)
}

func (f *fakeRecorder) RecordClassification(s stacking.HomeCardState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}

func (f *fakeRecorder) RecordFeedUpdate(kind string, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.feedUpdates == nil {
		f.feedUpdates = map[string]int{}
	}
	f.feedUpdates[kind]++
	if failed {
		f.failures++
	}
}

func (f *fakeRecorder) SetActiveSessions(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = n
}

func newTestRegistry(cfg Config, rec Recorder) *Registry {
	r := NewRegistry(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), rec)
	r.now = func() time.Time { return testNow }
	return r
}

func u64(v uint64) *uint64 { return &v }
func boolp(v bool) *bool   { return &v }

func tx(id string, status reconcile.Status, at time.Duration) reconcile.Transaction {
	return reconcile.Transaction{
		TxID:        id,
		Origin:      testAddress,
		Amount:      2_500_000,
		Status:      status,
		SubmittedAt: testNow.Add(at),
		LastSeen:    testNow.Add(at),
	}
}

func loadAll(r *Registry, stacker stacking.StackerStatus, total uint64, delegated bool) []View {
	r.ApplyFeed(testAddress, Update{Kind: FeedBalance, Balances: &Balances{Total: total, Spendable: total}})
	r.ApplyFeed(testAddress, Update{Kind: FeedStackerInfo, StackerInfo: &stacking.StackerInfo{Status: stacker}})
	return r.ApplyFeed(testAddress, Update{Kind: FeedDelegation, Delegated: boolp(delegated)})
}

func TestRegistry_OpenStartsLoading(t *testing.T) {
	rec := &fakeRecorder{}
	r := newTestRegistry(Config{EvictAfter: 2, MinimumRequired: u64(100)}, rec)

	v, err := r.Open(testAddress)
	require.NoError(t, err)

	assert.NotEmpty(t, v.SessionID)
	assert.Equal(t, testAddress, v.Address)
	assert.Equal(t, stacking.LoadingResources, v.CardState)
	assert.Equal(t, Card("LoadingResources"), v.Card)
	assert.True(t, v.TransactionsLoading)
	assert.NotNil(t, v.Transactions)
	assert.Empty(t, v.Transactions)
	assert.Equal(t, 1, rec.active)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_OpenRejectsEmptyAddress(t *testing.T) {
	r := newTestRegistry(Config{}, nil)
	_, err := r.Open("  ")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestRegistry_SessionLimit(t *testing.T) {
	r := newTestRegistry(Config{MaxSessionsPerAddress: 1}, nil)
	_, err := r.Open(testAddress)
	require.NoError(t, err)

	_, err = r.Open(testAddress)
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestRegistry_ClassifiesAsFeedsArrive(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2, MinimumRequired: u64(100)}, nil)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)

	views := loadAll(r, stacking.StackerNotStarted, 50, false)
	require.Len(t, views, 1)
	assert.Equal(t, opened.SessionID, views[0].SessionID)
	assert.Equal(t, stacking.NotEnoughStx, views[0].CardState)

	views = r.ApplyFeed(testAddress, Update{Kind: FeedBalance, Balances: &Balances{Total: 150, Spendable: 150}})
	require.Len(t, views, 1)
	assert.Equal(t, stacking.EligibleToParticipate, views[0].CardState)
	require.NotNil(t, views[0].Status.Balance)
	assert.Equal(t, uint64(150), *views[0].Status.Balance)

	views = r.ApplyFeed(testAddress, Update{Kind: FeedStackerInfo, Err: "pox contract unavailable"})
	require.Len(t, views, 1)
	assert.Equal(t, stacking.StackingError, views[0].CardState)
	assert.Equal(t, map[string]string{"stacker_info": "pox contract unavailable"}, views[0].FeedErrors)
}

func TestRegistry_PoxMinimumUsedWithoutOverride(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2}, nil)
	_, err := r.Open(testAddress)
	require.NoError(t, err)

	views := loadAll(r, stacking.StackerNotStarted, 50, false)
	assert.Equal(t, stacking.LoadingResources, views[0].CardState, "threshold unknown")

	views = r.ApplyFeed(testAddress, Update{Kind: FeedPox, MinimumRequired: u64(40)})
	assert.Equal(t, stacking.EligibleToParticipate, views[0].CardState)
}

func TestRegistry_DelegationOverride(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2, MinimumRequired: u64(100)}, nil)
	_, err := r.Open(testAddress)
	require.NoError(t, err)

	views := loadAll(r, stacking.StackerActive, 500, true)
	require.Len(t, views, 1)
	assert.Equal(t, stacking.StackingActive, views[0].CardState)
	assert.Equal(t, CardDelegation, views[0].Card)
	assert.True(t, views[0].ShowDelegationCard)
}

func TestRegistry_PreCycleCountdown(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2, MinimumRequired: u64(100)}, nil)
	_, err := r.Open(testAddress)
	require.NoError(t, err)
	loadAll(r, stacking.StackerNotStarted, 500, false)

	blocks := int64(17)
	views := r.ApplyFeed(testAddress, Update{Kind: FeedStackerInfo, StackerInfo: &stacking.StackerInfo{
		Status:                         stacking.StackerPreCycle,
		BlocksUntilStackingCycleBegins: &blocks,
	}})
	require.Len(t, views, 1)
	assert.Equal(t, stacking.StackingPreCycle, views[0].CardState)
	require.NotNil(t, views[0].BlocksUntilStackingCycleBegins)
	assert.Equal(t, int64(17), *views[0].BlocksUntilStackingCycleBegins)
}

// The user is looking at a pending transfer when it gets mined.
func TestRegistry_FocusSurvivesPromotion(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2, MinimumRequired: u64(100)}, nil)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)

	views := r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Transactions: &TransactionFeed{
		Pending:   []reconcile.Transaction{tx("0xp1", reconcile.StatusPending, time.Minute)},
		Confirmed: []reconcile.Transaction{tx("0xc1", reconcile.StatusConfirmed, 0)},
	}})
	require.Len(t, views, 1)
	assert.False(t, views[0].TransactionsLoading)
	assert.Equal(t, 1, views[0].PendingCount)

	bound, err := r.BindFocus(opened.SessionID, "0xp1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.Bind("0xp1"), bound.Focus)

	views = r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Transactions: &TransactionFeed{
		Confirmed: []reconcile.Transaction{
			tx("0xp1", reconcile.StatusConfirmed, time.Minute),
			tx("0xc1", reconcile.StatusConfirmed, 0),
		},
	}})
	require.Len(t, views, 1)
	v := views[0]
	require.Len(t, v.Transactions, 2)
	assert.Equal(t, "0xp1", v.Transactions[0].TxID)
	assert.Equal(t, reconcile.StatusConfirmed, v.Transactions[0].Status)
	assert.Equal(t, 0, v.PendingCount)
	assert.Equal(t, reconcile.Bind("0xp1"), v.Focus)
	assert.False(t, v.ScrollToFocus)
}

func TestRegistry_BindFocusUnknownTransaction(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2}, nil)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)

	_, err = r.BindFocus(opened.SessionID, "0xnope")
	assert.ErrorIs(t, err, ErrUnknownTransaction)

	_, err = r.BindFocus("missing", "0xnope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_ClearFocusFollowsHead(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2}, nil)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)
	r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Transactions: &TransactionFeed{
		Confirmed: []reconcile.Transaction{
			tx("0xc2", reconcile.StatusConfirmed, 0),
			tx("0xc1", reconcile.StatusConfirmed, 0),
		},
	}})

	_, err = r.BindFocus(opened.SessionID, "0xc1")
	require.NoError(t, err)

	v, err := r.ClearFocus(opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, reconcile.FocusToken{TxID: "0xc2"}, v.Focus)
	assert.True(t, v.ScrollToFocus)
}

func TestRegistry_FocusIsPerSession(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2}, nil)
	a, err := r.Open(testAddress)
	require.NoError(t, err)
	b, err := r.Open(testAddress)
	require.NoError(t, err)

	r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Transactions: &TransactionFeed{
		Confirmed: []reconcile.Transaction{
			tx("0xc2", reconcile.StatusConfirmed, 0),
			tx("0xc1", reconcile.StatusConfirmed, 0),
		},
	}})
	_, err = r.BindFocus(a.SessionID, "0xc1")
	require.NoError(t, err)

	va, err := r.View(a.SessionID)
	require.NoError(t, err)
	vb, err := r.View(b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "0xc1", va.Focus.TxID)
	assert.Equal(t, "0xc2", vb.Focus.TxID)
}

func TestRegistry_NewSessionStartsWarm(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2, MinimumRequired: u64(100)}, nil)
	loadAll(r, stacking.StackerActive, 500, false)

	v, err := r.Open(testAddress)
	require.NoError(t, err)
	assert.Equal(t, stacking.StackingActive, v.CardState)
}

func TestRegistry_FailedTransactionFetchKeepsTimeline(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 0}, nil)
	_, err := r.Open(testAddress)
	require.NoError(t, err)

	r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Transactions: &TransactionFeed{
		Pending: []reconcile.Transaction{tx("0xp1", reconcile.StatusPending, 0)},
	}})
	views := r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Err: "timeout"})
	require.Len(t, views, 1)

	// A failed fetch is not a refresh, so the pending entry is not evicted.
	assert.Equal(t, "0xp1", views[0].Transactions[0].TxID)
	assert.Equal(t, "timeout", views[0].FeedErrors["transactions"])
}

func TestRegistry_CloseAndForget(t *testing.T) {
	rec := &fakeRecorder{}
	r := newTestRegistry(Config{}, rec)
	v, err := r.Open(testAddress)
	require.NoError(t, err)
	r.ApplyFeed(testAddress, Update{Kind: FeedDelegation, Delegated: boolp(false)})

	assert.False(t, r.Forget(testAddress), "sessions still open")
	require.NoError(t, r.Close(v.SessionID))
	assert.ErrorIs(t, r.Close(v.SessionID), ErrSessionNotFound)
	assert.Empty(t, r.SessionIDs(testAddress))
	assert.Equal(t, 0, rec.active)
	assert.True(t, r.Forget(testAddress))
	assert.Equal(t, uint64(0), r.Feeds(testAddress).Version)
}

func TestRegistry_RecordsMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	r := newTestRegistry(Config{MinimumRequired: u64(1)}, rec)
	_, err := r.Open(testAddress)
	require.NoError(t, err)

	loadAll(r, stacking.StackerNotStarted, 5, false)
	r.ApplyFeed(testAddress, Update{Kind: FeedBalance, Err: "boom"})

	assert.Equal(t, 1, rec.failures)
	assert.Equal(t, 2, rec.feedUpdates["balance"])
	assert.Equal(t, 5, rec.reconciles)
	assert.Equal(t, stacking.EligibleToParticipate, rec.states[len(rec.states)-1])
}

func TestSession_IgnoresOlderState(t *testing.T) {
	r := newTestRegistry(Config{}, nil)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)
	s, err := r.Session(opened.SessionID)
	require.NoError(t, err)

	r.ApplyFeed(testAddress, Update{Kind: FeedDelegation, Delegated: boolp(true)})
	newer := r.Feeds(testAddress)

	_, changed := s.Refresh(FeedState{})
	assert.False(t, changed)
	_, changed = s.Refresh(newer)
	assert.False(t, changed, "same version already applied")
	assert.True(t, s.View().ShowDelegationCard)
}

// JetStream redelivers a transactions event after a nak, or a workflow retry
// publishes it again.
func TestRegistry_RedeliveredSnapshotIgnored(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 1}, nil)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)

	first := Update{Kind: FeedTransactions, ObservedAt: testNow, Transactions: &TransactionFeed{
		Pending: []reconcile.Transaction{tx("0xp", reconcile.StatusPending, 0)},
	}}
	miss := Update{Kind: FeedTransactions, ObservedAt: testNow.Add(time.Minute), Transactions: &TransactionFeed{}}

	r.ApplyFeed(testAddress, first)
	views := r.ApplyFeed(testAddress, miss)
	require.Len(t, views, 1)
	require.Len(t, views[0].Transactions, 1, "one miss is within the bound")

	version := r.Feeds(testAddress).Version
	assert.Empty(t, r.ApplyFeed(testAddress, miss))
	assert.Empty(t, r.ApplyFeed(testAddress, miss))
	assert.Empty(t, r.ApplyFeed(testAddress, first), "older snapshot")

	feeds := r.Feeds(testAddress)
	assert.Equal(t, uint64(2), feeds.TxRefresh)
	assert.Equal(t, version, feeds.Version)
	v, err := r.View(opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "0xp", v.Transactions[0].TxID)

	// The next real refresh is the second miss.
	views = r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, ObservedAt: testNow.Add(2 * time.Minute), Transactions: &TransactionFeed{}})
	require.Len(t, views, 1)
	assert.Empty(t, views[0].Transactions)
}

func TestRegistry_WarningsRecordedOncePerSnapshot(t *testing.T) {
	rec := &fakeRecorder{}
	r := newTestRegistry(Config{EvictAfter: 2, MinimumRequired: u64(100)}, rec)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)

	r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, ObservedAt: testNow, Transactions: &TransactionFeed{
		Confirmed: []reconcile.Transaction{{Amount: 7}, tx("0xc1", reconcile.StatusConfirmed, 0)},
	}})
	loadAll(r, stacking.StackerNotStarted, 500, false)
	r.ApplyFeed(testAddress, Update{Kind: FeedPox, MinimumRequired: u64(50)})
	_, err = r.BindFocus(opened.SessionID, "0xc1")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.warnings)
	v, err := r.View(opened.SessionID)
	require.NoError(t, err)
	require.Len(t, v.Warnings, 1, "the view still shows the problem")
	assert.Equal(t, reconcile.WarningMissingIdentifier, v.Warnings[0].Kind)

	r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, ObservedAt: testNow.Add(time.Minute), Transactions: &TransactionFeed{
		Confirmed: []reconcile.Transaction{{Amount: 7}, tx("0xc1", reconcile.StatusConfirmed, 0)},
	}})
	assert.Equal(t, 2, rec.warnings, "a new snapshot reports again")
}

func TestRegistry_LoadingAfterFailure(t *testing.T) {
	r := newTestRegistry(Config{MinimumRequired: u64(100)}, nil)
	_, err := r.Open(testAddress)
	require.NoError(t, err)
	r.ApplyFeed(testAddress, Update{Kind: FeedBalance, Balances: &Balances{Total: 500, Spendable: 500}})
	r.ApplyFeed(testAddress, Update{Kind: FeedDelegation, Delegated: boolp(false)})
	r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Err: "timeout"})
	views := r.ApplyFeed(testAddress, Update{Kind: FeedStackerInfo, Err: "pox contract unavailable"})
	require.Len(t, views, 1)
	assert.Equal(t, stacking.StackingError, views[0].CardState)
	assert.False(t, views[0].TransactionsLoading)

	var last []View
	for _, u := range LoadingUpdates(testNow) {
		last = r.ApplyFeed(testAddress, u)
	}
	require.Len(t, last, 1)
	v := last[0]
	assert.Equal(t, stacking.LoadingResources, v.CardState, "failed stacker feed is being fetched again")
	assert.True(t, v.Status.Loading.StackerInfo)
	assert.True(t, v.Status.Loading.Balance)
	assert.True(t, v.TransactionsLoading)
	require.NotNil(t, v.Status.Balance, "values survive a refetch")

	views = r.ApplyFeed(testAddress, Update{Kind: FeedStackerInfo, StackerInfo: &stacking.StackerInfo{Status: stacking.StackerNotStarted}})
	require.Len(t, views, 1)
	assert.Equal(t, stacking.EligibleToParticipate, views[0].CardState)
	assert.False(t, views[0].Status.Loading.StackerInfo)
}

func TestRegistry_TransactionCount(t *testing.T) {
	r := newTestRegistry(Config{EvictAfter: 2}, nil)
	opened, err := r.Open(testAddress)
	require.NoError(t, err)
	assert.Equal(t, 0, opened.TransactionCount)

	views := r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Transactions: &TransactionFeed{
		Pending:   []reconcile.Transaction{tx("0xp1", reconcile.StatusPending, time.Minute)},
		Confirmed: []reconcile.Transaction{tx("0xc2", reconcile.StatusConfirmed, 0), tx("0xc1", reconcile.StatusConfirmed, 0)},
		Total:     120,
	}})
	require.Len(t, views, 1)
	assert.Len(t, views[0].Transactions, 3)
	assert.Equal(t, 121, views[0].TransactionCount)

	// Pushed feeds without a total count what they carry.
	views = r.ApplyFeed(testAddress, Update{Kind: FeedTransactions, Transactions: &TransactionFeed{
		Confirmed: []reconcile.Transaction{tx("0xc2", reconcile.StatusConfirmed, 0), tx("0xc1", reconcile.StatusConfirmed, 0)},
	}})
	require.Len(t, views, 1)
	assert.Equal(t, 3, views[0].TransactionCount, "0xp1 is still retained")
}
