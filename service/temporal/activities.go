package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/stackhome/service/db"
	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/metrics"
	natspkg "github.com/brojonat/stackhome/service/nats"
	"github.com/brojonat/stackhome/service/stacking"
	"github.com/brojonat/stackhome/service/stacks"
)

// RefreshWalletInput contains the input parameters for refreshing a wallet.
type RefreshWalletInput struct {
	Address string `json:"address"`
	Network string `json:"network"` // "mainnet" or "testnet"
}

// RefreshWalletResult summarizes one refresh.
type RefreshWalletResult struct {
	Address        string    `json:"address"`
	Network        string    `json:"network"`
	StartedAt      time.Time `json:"started_at"`
	ObservedAt     time.Time `json:"observed_at"`
	PendingCount   int       `json:"pending_count"`
	ConfirmedCount int       `json:"confirmed_count"`
	FailedFeeds    []string  `json:"failed_feeds,omitempty"`
	CardState      string    `json:"card_state,omitempty"`
	Published      int       `json:"published"`
	Error          *string   `json:"error,omitempty"`
}

// FetchFeedsInput contains parameters for the FetchFeeds activity.
type FetchFeedsInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// FetchFeedsResult contains the fetched snapshot and the card it classifies to.
type FetchFeedsResult struct {
	Snapshot  *stacks.Snapshot `json:"snapshot"`
	CardState string           `json:"card_state"`
}

// PublishFeedsInput contains parameters for the PublishFeeds activity.
type PublishFeedsInput struct {
	Snapshot *stacks.Snapshot `json:"snapshot"`
}

// PublishFeedsResult contains the number of feed events published.
type PublishFeedsResult struct {
	Published int `json:"published"`
}

// RecordRefreshInput contains parameters for the RecordRefresh activity.
type RecordRefreshInput struct {
	Address        string    `json:"address"`
	Network        string    `json:"network"`
	StartedAt      time.Time `json:"started_at"`
	ObservedAt     time.Time `json:"observed_at"`
	PendingCount   int       `json:"pending_count"`
	ConfirmedCount int       `json:"confirmed_count"`
	FailedFeeds    []string  `json:"failed_feeds,omitempty"`
	CardState      string    `json:"card_state"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	RecordRefresh(context.Context, db.RecordRefreshParams) (*db.Refresh, error)
	UpdateWalletRefresh(context.Context, string, string, time.Time, *string) (*db.Wallet, error)
}

// StacksClientInterface defines the Stacks API operations needed by activities.
// This allows for easy mocking in tests.
type StacksClientInterface interface {
	FetchSnapshot(ctx context.Context, address string) (*stacks.Snapshot, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishFeedBatch(ctx context.Context, events []*natspkg.FeedEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store           StoreInterface
	stacksClient    StacksClientInterface
	publisher       PublisherInterface
	network         string
	minimumRequired *uint64
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. The stacks client serves
// network only; refreshes for any other network are rejected. A non-nil
// minimumRequired overrides the PoX threshold when classifying.
func NewActivities(
	store StoreInterface,
	stacksClient StacksClientInterface,
	publisher PublisherInterface,
	network string,
	minimumRequired *uint64,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:           store,
		stacksClient:    stacksClient,
		publisher:       publisher,
		network:         network,
		minimumRequired: minimumRequired,
		metrics:         m,
		logger:          logger,
	}
}

func (a *Activities) recordDuration(activity, address string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, address, time.Since(start).Seconds())
	}
}

// FetchFeeds fetches every feed of a wallet from the Stacks API.
// Per-feed failures are part of the snapshot; only a failure to fetch
// anything at all fails the activity. Open views are told every feed is
// loading before the fetch starts.
func (a *Activities) FetchFeeds(ctx context.Context, input FetchFeedsInput) (*FetchFeedsResult, error) {
	defer a.recordDuration("FetchFeeds", input.Address, time.Now())

	if input.Address == "" {
		return nil, errors.New("address is required")
	}
	if a.network != "" && input.Network != a.network {
		return nil, fmt.Errorf("invalid network: %s (worker serves %s)", input.Network, a.network)
	}

	a.logger.DebugContext(ctx, "fetching feeds", "address", input.Address, "network", input.Network)
	a.publishLoading(ctx, input.Address)

	snap, err := a.stacksClient.FetchSnapshot(ctx, input.Address)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch feeds",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch feeds: %w", err)
	}

	state := snapshotCardState(snap, a.minimumRequired)

	a.logger.InfoContext(ctx, "fetched feeds",
		"address", input.Address,
		"failed_feeds", snap.FailedFeeds(),
		"card_state", state,
	)
	return &FetchFeedsResult{Snapshot: snap, CardState: state}, nil
}

// publishLoading is best effort; views keep their last values either way.
func (a *Activities) publishLoading(ctx context.Context, address string) {
	if a.publisher == nil {
		return
	}
	updates := home.LoadingUpdates(time.Now().UTC())
	events := make([]*natspkg.FeedEvent, 0, len(updates))
	for _, u := range updates {
		events = append(events, natspkg.FromUpdate(address, u))
	}
	if err := a.publisher.PublishFeedBatch(ctx, events); err != nil {
		a.logger.WarnContext(ctx, "failed to publish loading feeds",
			"address", address,
			"error", err,
		)
	}
}

// PublishFeeds publishes one feed event per feed of the snapshot.
func (a *Activities) PublishFeeds(ctx context.Context, input PublishFeedsInput) (*PublishFeedsResult, error) {
	if input.Snapshot == nil {
		return nil, errors.New("snapshot is required")
	}
	defer a.recordDuration("PublishFeeds", input.Snapshot.Address, time.Now())

	if a.publisher == nil {
		a.logger.WarnContext(ctx, "publisher is nil, skipping feed publish", "address", input.Snapshot.Address)
		return &PublishFeedsResult{}, nil
	}

	updates := input.Snapshot.Updates()
	events := make([]*natspkg.FeedEvent, 0, len(updates))
	for _, u := range updates {
		events = append(events, natspkg.FromUpdate(input.Snapshot.Address, u))
	}

	if err := a.publisher.PublishFeedBatch(ctx, events); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish feeds",
			"address", input.Snapshot.Address,
			"count", len(events),
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish feeds: %w", err)
	}

	a.logger.DebugContext(ctx, "published feeds",
		"address", input.Snapshot.Address,
		"count", len(events),
	)
	return &PublishFeedsResult{Published: len(events)}, nil
}

// RecordRefresh writes the refresh to the wallet's history and stamps the
// wallet's last refresh time. Ad-hoc refreshes of unregistered wallets are
// recorded in the history only.
func (a *Activities) RecordRefresh(ctx context.Context, input RecordRefreshInput) error {
	defer a.recordDuration("RecordRefresh", input.Address, time.Now())

	if a.metrics != nil && !input.StartedAt.IsZero() {
		status := "success"
		if len(input.FailedFeeds) > 0 {
			status = "partial"
		}
		a.metrics.RecordWorkflowDuration(input.Address, status, time.Since(input.StartedAt).Seconds())
	}

	if a.store == nil {
		return nil
	}

	_, err := a.store.RecordRefresh(ctx, db.RecordRefreshParams{
		Address:        input.Address,
		Network:        input.Network,
		ObservedAt:     input.ObservedAt,
		PendingCount:   input.PendingCount,
		ConfirmedCount: input.ConfirmedCount,
		FailedFeeds:    input.FailedFeeds,
	})
	if err != nil {
		return fmt.Errorf("failed to record refresh: %w", err)
	}

	var card *string
	if input.CardState != "" {
		card = &input.CardState
	}
	_, err = a.store.UpdateWalletRefresh(ctx, input.Address, input.Network, input.ObservedAt, card)
	if errors.Is(err, db.ErrWalletNotFound) {
		a.logger.DebugContext(ctx, "refreshed wallet is not registered", "address", input.Address)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update wallet refresh time: %w", err)
	}
	return nil
}

func snapshotCardState(snap *stacks.Snapshot, minimum *uint64) string {
	return stacking.Classify(snap.StatusVector(minimum)).String()
}
