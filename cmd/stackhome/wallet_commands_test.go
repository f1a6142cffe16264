package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walletBody(address, network, interval string) map[string]any {
	return map[string]any{
		"address":          address,
		"network":          network,
		"refresh_interval": interval,
		"status":           "active",
		"created_at":       time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		"updated_at":       time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWalletRegisterCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testWallet, body["address"])
		assert.Equal(t, "testnet", body["network"])
		assert.Equal(t, "30s", body["refresh_interval"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(walletBody(testWallet, "testnet", "30s"))
	}))
	defer server.Close()

	t.Run("human", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "--network", "testnet",
			"wallet", "register", "--refresh-interval", "30s", testWallet)
		require.NoError(t, err)
		assert.Contains(t, out, "Wallet registered")
		assert.Contains(t, out, testWallet)
		assert.Contains(t, out, "30s")
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "--network", "testnet", "--yaml",
			"wallet", "add", "-i", "30s", testWallet)
		require.NoError(t, err)
		assert.Contains(t, out, "address: "+testWallet)
		assert.Contains(t, out, "network: testnet")
	})
}

func TestWalletRegisterCommand_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid Stacks address"})
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "wallet", "register", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register wallet")
	assert.Contains(t, err.Error(), "invalid Stacks address")
}

func TestWalletListCommand(t *testing.T) {
	other := "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"wallets": []map[string]any{
				walletBody(testWallet, "mainnet", "1m0s"),
				walletBody(other, "mainnet", "5m0s"),
			},
		})
	}))
	defer server.Close()

	t.Run("table", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "wallet", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "ADDRESS")
		assert.Contains(t, out, testWallet)
		assert.Contains(t, out, other)
		assert.Contains(t, out, "never")
	})

	t.Run("json", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "--json", "wallet", "ls")
		require.NoError(t, err)

		var wallets []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &wallets))
		require.Len(t, wallets, 2)
		assert.Equal(t, other, wallets[1]["address"])
	})
}

func TestWalletListCommand_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"wallets": []any{}})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "wallet", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No wallets registered")
}

func TestWalletUnregisterCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/wallets/"+testWallet, r.URL.Path)
		assert.Equal(t, "mainnet", r.URL.Query().Get("network"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	for _, name := range []string{"unregister", "rm", "remove"} {
		t.Run(name, func(t *testing.T) {
			out, err := runApp(t, "--server-url", server.URL, "--json", "wallet", name, testWallet)
			require.NoError(t, err)
			assert.Contains(t, out, `"status": "unregistered"`)
		})
	}
}

func TestWalletGetCommand_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "wallet not found"})
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "wallet", "get", testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet not found")
}

func TestWalletHistoryCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets/"+testWallet+"/refreshes", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"refreshes": []map[string]any{
				{"observed_at": time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC), "pending_count": 2, "confirmed_count": 7, "failed_feeds": []string{"pox"}},
			},
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "wallet", "history", "-n", "3", testWallet)
	require.NoError(t, err)
	assert.Contains(t, out, "2026-10-02T00:00:00Z")
	assert.Contains(t, out, "[pox]")
}
