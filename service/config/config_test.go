package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv() {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("STACKS_API_URL", "https://api.hiro.so")
	os.Setenv("PENDING_EVICTION_REFRESHES", "5")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://api.hiro.so", cfg.StacksAPIURL)
	assert.Equal(t, "mainnet", cfg.StacksNetwork)  // Default
	assert.Equal(t, ":8080", cfg.ServerAddr)       // Default
	assert.Equal(t, ":9091", cfg.MetricsAddr)      // Default
	assert.Equal(t, "info", cfg.LogLevel)          // Default
	assert.Equal(t, 50, cfg.TransactionPageSize)   // Default
	assert.Equal(t, 16, cfg.MaxSessionsPerAddress) // Default
	assert.Equal(t, 10, cfg.WorkerConcurrency)     // Default
	assert.Equal(t, "stackhome-wallet-refresh", cfg.TemporalTaskQueue)
	assert.Equal(t, 30*time.Second, cfg.DefaultRefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.MinRefreshInterval)
	assert.Equal(t, 5, cfg.PendingEvictionRefreshes)
	assert.Nil(t, cfg.MinStackingUSTX)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{name: "database url", unset: "DATABASE_URL", wantErr: "DATABASE_URL is required"},
		{name: "stacks api url", unset: "STACKS_API_URL", wantErr: "STACKS_API_URL is required"},
		{name: "eviction bound", unset: "PENDING_EVICTION_REFRESHES", wantErr: "PENDING_EVICTION_REFRESHES is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv()
			os.Unsetenv(tt.unset)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "STACKS_API_URL is required")
	assert.Contains(t, err.Error(), "PENDING_EVICTION_REFRESHES is required")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "refresh interval", key: "DEFAULT_REFRESH_INTERVAL", value: "invalid", wantErr: "invalid duration"},
		{name: "network", key: "STACKS_NETWORK", value: "devnet", wantErr: "STACKS_NETWORK must be"},
		{name: "api url", key: "STACKS_API_URL", value: "not a url", wantErr: "invalid URL"},
		{name: "page size", key: "TRANSACTION_PAGE_SIZE", value: "500", wantErr: "between 1 and 200"},
		{name: "negative eviction", key: "PENDING_EVICTION_REFRESHES", value: "-1", wantErr: "must be >= 0"},
		{name: "eviction not int", key: "PENDING_EVICTION_REFRESHES", value: "three", wantErr: "invalid integer"},
		{name: "min stacking", key: "MIN_STACKING_USTX", value: "-5", wantErr: "invalid unsigned integer"},
		{name: "zero concurrency", key: "WORKER_CONCURRENCY", value: "0", wantErr: "at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv()
			os.Setenv(tt.key, tt.value)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MinIntervalGreaterThanDefault(t *testing.T) {
	setRequiredEnv()
	os.Setenv("DEFAULT_REFRESH_INTERVAL", "10s")
	os.Setenv("MIN_REFRESH_INTERVAL", "30s")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "cannot be greater than")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv()
	os.Setenv("PENDING_EVICTION_REFRESHES", "0")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("STACKS_NETWORK", "testnet")
	os.Setenv("DEFAULT_REFRESH_INTERVAL", "1m")
	os.Setenv("MIN_REFRESH_INTERVAL", "15s")
	os.Setenv("MIN_STACKING_USTX", "90000000000")
	os.Setenv("TRANSACTION_PAGE_SIZE", "20")
	os.Setenv("WORKER_CONCURRENCY", "4")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, "testnet", cfg.StacksNetwork)
	assert.Equal(t, time.Minute, cfg.DefaultRefreshInterval)
	assert.Equal(t, 15*time.Second, cfg.MinRefreshInterval)
	assert.Equal(t, 0, cfg.PendingEvictionRefreshes)
	assert.Equal(t, 20, cfg.TransactionPageSize)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	require.NotNil(t, cfg.MinStackingUSTX)
	assert.Equal(t, uint64(90_000_000_000), *cfg.MinStackingUSTX)
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:            "postgres://localhost/test",
		StacksAPIURL:           "https://api.hiro.so",
		StacksNetwork:          "mainnet",
		TemporalHost:           "localhost:7233",
		TemporalNamespace:      "default",
		TemporalTaskQueue:      "stackhome-wallet-refresh",
		DefaultRefreshInterval: 30 * time.Second,
		MinRefreshInterval:     10 * time.Second,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingStacksAPIURL(t *testing.T) {
	cfg := validConfig()
	cfg.StacksAPIURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "StacksAPIURL is required")
}

func TestValidate_InvalidIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultRefreshInterval = 10 * time.Second
	cfg.MinRefreshInterval = 30 * time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MinRefreshInterval cannot be greater than DefaultRefreshInterval")
}

func TestValidate_TooShortInterval(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultRefreshInterval = 500 * time.Millisecond
	cfg.MinRefreshInterval = 100 * time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 1 second")
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"DATABASE_URL", "STACKS_API_URL", "STACKS_NETWORK", "PENDING_EVICTION_REFRESHES",
		"MIN_STACKING_USTX", "TRANSACTION_PAGE_SIZE", "SERVER_ADDR", "LOG_LEVEL",
		"NATS_URL", "TEMPORAL_HOST", "DEFAULT_REFRESH_INTERVAL", "MIN_REFRESH_INTERVAL",
		"WORKER_CONCURRENCY", "MAX_SESSIONS_PER_ADDRESS",
	} {
		os.Unsetenv(key)
	}
}
