package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Stacks API configuration
	StacksAPIURL        string
	StacksNetwork       string
	TransactionPageSize int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	// WorkerConcurrency bounds concurrent refresh activities per worker.
	WorkerConcurrency int

	// Refresh configuration
	DefaultRefreshInterval time.Duration
	MinRefreshInterval     time.Duration

	// Home view configuration
	PendingEvictionRefreshes int
	// MinStackingUSTX overrides the PoX minimum when set.
	MinStackingUSTX       *uint64
	MaxSessionsPerAddress int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Stacks API configuration
	cfg.StacksAPIURL = os.Getenv("STACKS_API_URL")
	if cfg.StacksAPIURL == "" {
		errs = append(errs, fmt.Errorf("STACKS_API_URL is required"))
	} else if u, err := url.Parse(cfg.StacksAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("STACKS_API_URL: invalid URL %q", cfg.StacksAPIURL))
	}

	cfg.StacksNetwork = getEnvOrDefault("STACKS_NETWORK", "mainnet")
	if cfg.StacksNetwork != "mainnet" && cfg.StacksNetwork != "testnet" {
		errs = append(errs, fmt.Errorf("STACKS_NETWORK must be 'mainnet' or 'testnet', got %q", cfg.StacksNetwork))
	}

	pageSize, err := parseInt("TRANSACTION_PAGE_SIZE", 50)
	if err != nil {
		errs = append(errs, err)
	} else if pageSize < 1 || pageSize > 200 {
		errs = append(errs, fmt.Errorf("TRANSACTION_PAGE_SIZE must be between 1 and 200, got %d", pageSize))
	} else {
		cfg.TransactionPageSize = pageSize
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "stackhome-wallet-refresh")

	// Refresh configuration
	defaultInterval, err := parseDuration("DEFAULT_REFRESH_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultRefreshInterval = defaultInterval
	}

	minInterval, err := parseDuration("MIN_REFRESH_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinRefreshInterval = minInterval
	}

	if cfg.MinRefreshInterval > cfg.DefaultRefreshInterval {
		errs = append(errs, fmt.Errorf("MIN_REFRESH_INTERVAL (%v) cannot be greater than DEFAULT_REFRESH_INTERVAL (%v)",
			cfg.MinRefreshInterval, cfg.DefaultRefreshInterval))
	}

	// Home view configuration. The eviction bound has no default: it decides
	// when an unconfirmed transfer disappears from the user's history.
	if os.Getenv("PENDING_EVICTION_REFRESHES") == "" {
		errs = append(errs, fmt.Errorf("PENDING_EVICTION_REFRESHES is required"))
	} else if n, err := parseInt("PENDING_EVICTION_REFRESHES", 0); err != nil {
		errs = append(errs, err)
	} else if n < 0 {
		errs = append(errs, fmt.Errorf("PENDING_EVICTION_REFRESHES must be >= 0, got %d", n))
	} else {
		cfg.PendingEvictionRefreshes = n
	}

	minStacking, err := parseOptionalUint("MIN_STACKING_USTX")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinStackingUSTX = minStacking
	}

	concurrency, err := parseInt("WORKER_CONCURRENCY", 10)
	switch {
	case err != nil:
		errs = append(errs, err)
	case concurrency < 1:
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", concurrency))
	default:
		cfg.WorkerConcurrency = concurrency
	}

	maxSessions, err := parseInt("MAX_SESSIONS_PER_ADDRESS", 16)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxSessionsPerAddress = maxSessions
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.StacksAPIURL == "" {
		errs = append(errs, fmt.Errorf("StacksAPIURL is required"))
	}

	if c.StacksNetwork != "mainnet" && c.StacksNetwork != "testnet" {
		errs = append(errs, fmt.Errorf("StacksNetwork must be 'mainnet' or 'testnet'"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinRefreshInterval > c.DefaultRefreshInterval {
		errs = append(errs, fmt.Errorf("MinRefreshInterval cannot be greater than DefaultRefreshInterval"))
	}

	if c.DefaultRefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultRefreshInterval must be at least 1 second"))
	}

	if c.PendingEvictionRefreshes < 0 {
		errs = append(errs, fmt.Errorf("PendingEvictionRefreshes must be >= 0"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseOptionalUint returns nil when the variable is unset.
func parseOptionalUint(key string) (*uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return &result, nil
}
