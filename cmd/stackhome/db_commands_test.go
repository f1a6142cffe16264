package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/stackhome/service/db"
)

func TestFilterWallets(t *testing.T) {
	wallets := []*db.Wallet{
		{Address: "SP1", Status: "active"},
		{Address: "SP2", Status: "paused"},
		{Address: "SP3", Status: "active"},
		{Address: "SP4", Status: "error"},
	}

	tests := []struct {
		status string
		want   []string
	}{
		{status: "", want: []string{"SP1", "SP2", "SP3", "SP4"}},
		{status: "active", want: []string{"SP1", "SP3"}},
		{status: "paused", want: []string{"SP2"}},
		{status: "deleted", want: []string{}},
	}

	for _, tt := range tests {
		t.Run("status="+tt.status, func(t *testing.T) {
			got := []string{}
			for _, w := range filterWallets(wallets, tt.status) {
				got = append(got, w.Address)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDBCommands_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := runApp(t, "--database-url", "", "db", "list-wallets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")
}

func TestDBCommands_Integration(t *testing.T) {
	db.SkipIfNoTestDB(t)
	ts := db.NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	_, err := ts.CreateWallet(ctx, db.CreateWalletParams{
		Address:         testWallet,
		Network:         "mainnet",
		RefreshInterval: time.Minute,
	})
	require.NoError(t, err)
	_, err = ts.RecordRefresh(ctx, db.RecordRefreshParams{
		Address:        testWallet,
		Network:        "mainnet",
		ObservedAt:     time.Now().Add(-30 * 24 * time.Hour),
		PendingCount:   1,
		ConfirmedCount: 3,
	})
	require.NoError(t, err)

	dbURL := db.TestDatabaseURL()

	out, err := runApp(t, "--database-url", dbURL, "--json", "db", "list-wallets", "--status", "active")
	require.NoError(t, err)
	var wallets []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &wallets))
	require.Len(t, wallets, 1)
	assert.Equal(t, testWallet, wallets[0]["Address"])

	_, err = runApp(t, "--database-url", dbURL, "db", "prune-refreshes", "--older-than", "168h")
	require.NoError(t, err)

	refreshes, err := ts.ListRefreshes(ctx, testWallet, "mainnet", 10)
	require.NoError(t, err)
	assert.Empty(t, refreshes)
}
