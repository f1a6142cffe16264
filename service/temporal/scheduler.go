package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for wallet refreshes.
// Each watched wallet gets its own schedule that triggers RefreshWalletWorkflow.
type Scheduler interface {
	// UpsertWalletSchedule creates the schedule for a wallet or updates its
	// interval if it already exists.
	UpsertWalletSchedule(ctx context.Context, address, network string, interval time.Duration) error

	// DeleteWalletSchedule deletes the schedule for a wallet.
	// This stops the wallet from being refreshed.
	DeleteWalletSchedule(ctx context.Context, address, network string) error

	// TriggerWalletRefresh runs the schedule's action immediately.
	TriggerWalletRefresh(ctx context.Context, address, network string) error
}

// RefreshWalletWorkflowName is the registered name of RefreshWalletWorkflow.
const RefreshWalletWorkflowName = "RefreshWalletWorkflow"

// ScheduleID returns the Temporal schedule ID for a wallet.
func ScheduleID(address, network string) string {
	return "refresh-wallet-" + network + "-" + address
}
