package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/stackhome/service/db"
	"github.com/brojonat/stackhome/service/temporal"
)

func TestPlanScheduleReconcile(t *testing.T) {
	active := &db.Wallet{Address: testWallet, Network: "mainnet", Status: "active"}
	paused := &db.Wallet{Address: "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE", Network: "mainnet", Status: "paused"}
	testnet := &db.Wallet{Address: "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG", Network: "testnet", Status: "active"}

	tests := []struct {
		name         string
		wallets      []*db.Wallet
		schedules    []string
		wantMissing  []*db.Wallet
		wantOrphaned []string
	}{
		{
			name: "nothing registered",
		},
		{
			name:      "in sync",
			wallets:   []*db.Wallet{active, testnet},
			schedules: []string{temporal.ScheduleID(active.Address, "mainnet"), temporal.ScheduleID(testnet.Address, "testnet")},
		},
		{
			name:        "active wallet without schedule",
			wallets:     []*db.Wallet{active, testnet},
			schedules:   []string{temporal.ScheduleID(testnet.Address, "testnet")},
			wantMissing: []*db.Wallet{active},
		},
		{
			name:    "paused wallet needs no schedule",
			wallets: []*db.Wallet{paused},
		},
		{
			name:      "paused wallet keeps its schedule",
			wallets:   []*db.Wallet{paused},
			schedules: []string{temporal.ScheduleID(paused.Address, "mainnet")},
		},
		{
			name:    "schedule for unknown wallet is orphaned",
			wallets: []*db.Wallet{active},
			schedules: []string{
				temporal.ScheduleID(active.Address, "mainnet"),
				"refresh-wallet-mainnet-SPZZZ",
				"refresh-wallet-mainnet-SPAAA",
			},
			wantOrphaned: []string{"refresh-wallet-mainnet-SPAAA", "refresh-wallet-mainnet-SPZZZ"},
		},
		{
			name:         "same address on the other network is orphaned",
			wallets:      []*db.Wallet{active},
			schedules:    []string{temporal.ScheduleID(active.Address, "mainnet"), temporal.ScheduleID(active.Address, "testnet")},
			wantOrphaned: []string{temporal.ScheduleID(active.Address, "testnet")},
		},
		{
			name:      "foreign schedules are ignored",
			schedules: []string{"nightly-report", "poll-wallet-abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := planScheduleReconcile(tt.wallets, tt.schedules)
			assert.Equal(t, tt.wantMissing, plan.Missing)
			assert.Equal(t, tt.wantOrphaned, plan.Orphaned)
			assert.Equal(t, len(tt.wantMissing) == 0 && len(tt.wantOrphaned) == 0, plan.Empty())
		})
	}
}

func TestResolveScheduleID(t *testing.T) {
	assert.Equal(t, "refresh-wallet-mainnet-"+testWallet, resolveScheduleID(testWallet, "mainnet"))
	assert.Equal(t, "refresh-wallet-testnet-"+testWallet, resolveScheduleID(testWallet, "testnet"))
	assert.Equal(t, "refresh-wallet-mainnet-X", resolveScheduleID("refresh-wallet-mainnet-X", "testnet"))
}

func TestScheduleCommands_RequireArgument(t *testing.T) {
	for _, name := range []string{"describe-schedule", "pause-schedule", "resume-schedule", "trigger-schedule", "delete-schedule"} {
		t.Run(name, func(t *testing.T) {
			_, err := runApp(t, "temporal", name)
			require.Error(t, err)
		})
	}
}

func setupTestTemporal(t *testing.T) client.Client {
	t.Helper()

	if os.Getenv("RUN_TEMPORAL_TESTS") == "" {
		t.Skip("Skipping Temporal integration test (set RUN_TEMPORAL_TESTS=1 to enable)")
	}

	host := os.Getenv("TEST_TEMPORAL_HOST")
	if host == "" {
		host = "localhost:7233"
	}
	namespace := os.Getenv("TEST_TEMPORAL_NAMESPACE")
	if namespace == "" {
		namespace = "default"
	}

	temporalClient, err := client.Dial(client.Options{HostPort: host, Namespace: namespace})
	require.NoError(t, err)
	t.Cleanup(temporalClient.Close)
	return temporalClient
}

func TestListScheduleIDs_Integration(t *testing.T) {
	temporalClient := setupTestTemporal(t)
	ctx := context.Background()

	address := "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"
	id := temporal.ScheduleID(address, "testnet")
	handle, err := temporalClient.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     id,
		Spec:   client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: time.Hour}}},
		Paused: true,
		Action: &client.ScheduleWorkflowAction{
			ID:        id + "-test",
			Workflow:  "RefreshWalletWorkflow",
			TaskQueue: "stackhome-wallet-refresh-test",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { handle.Delete(context.Background()) })

	// Schedule listing is eventually consistent.
	require.Eventually(t, func() bool {
		ids, err := listScheduleIDs(ctx, temporalClient, false)
		if err != nil {
			return false
		}
		for _, got := range ids {
			if got == id {
				return true
			}
		}
		return false
	}, 10*time.Second, 500*time.Millisecond)
}
