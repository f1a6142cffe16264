package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshWalletWorkflow is the Temporal workflow that refreshes every feed of
// a Stacks wallet. It is triggered by a Temporal schedule at the wallet's
// refresh interval.
//
// The workflow performs these steps:
// 1. Fetch balance, transactions, stacker info, delegation and PoX (FetchFeeds)
// 2. Publish one feed event per feed to NATS (PublishFeeds)
// 3. Record the refresh in the database (RecordRefresh, best-effort)
//
// Individual feed failures do not fail the workflow; they travel with the
// feed events so home views can show them.
func RefreshWalletWorkflow(ctx workflow.Context, input RefreshWalletInput) (*RefreshWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshWalletWorkflow started", "address", input.Address, "network", input.Network)

	result := &RefreshWalletResult{
		Address:   input.Address,
		Network:   input.Network,
		StartedAt: workflow.Now(ctx),
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 1: fetch every feed.
	var fetched *FetchFeedsResult
	err := workflow.ExecuteActivity(ctx, a.FetchFeeds, FetchFeedsInput{
		Address: input.Address,
		Network: input.Network,
	}).Get(ctx, &fetched)
	if err != nil {
		errMsg := fmt.Sprintf("failed to fetch feeds: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to fetch feeds: %w", err)
	}

	snap := fetched.Snapshot
	result.ObservedAt = snap.ObservedAt
	result.FailedFeeds = snap.FailedFeeds()
	result.CardState = fetched.CardState
	if snap.Transactions != nil {
		result.PendingCount = len(snap.Transactions.Pending)
		result.ConfirmedCount = len(snap.Transactions.Confirmed)
	}
	if len(result.FailedFeeds) > 0 {
		logger.Warn("some feeds failed", "address", input.Address, "failed_feeds", result.FailedFeeds)
	}

	// Step 2: publish the feeds.
	var published *PublishFeedsResult
	err = workflow.ExecuteActivity(ctx, a.PublishFeeds, PublishFeedsInput{Snapshot: snap}).Get(ctx, &published)
	if err != nil {
		errMsg := fmt.Sprintf("failed to publish feeds: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to publish feeds: %w", err)
	}
	result.Published = published.Published

	// Step 3: record the refresh. Best-effort.
	err = workflow.ExecuteActivity(ctx, a.RecordRefresh, RecordRefreshInput{
		Address:        input.Address,
		Network:        input.Network,
		StartedAt:      result.StartedAt,
		ObservedAt:     result.ObservedAt,
		PendingCount:   result.PendingCount,
		ConfirmedCount: result.ConfirmedCount,
		FailedFeeds:    result.FailedFeeds,
		CardState:      result.CardState,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to record refresh", "address", input.Address, "error", err)
	}

	logger.Info("RefreshWalletWorkflow completed",
		"address", input.Address,
		"card_state", result.CardState,
		"pending", result.PendingCount,
		"confirmed", result.ConfirmedCount,
		"published", result.Published,
	)
	return result, nil
}
