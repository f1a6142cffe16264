package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Wallet represents a wallet the server refreshes on a schedule.
type Wallet struct {
	Address         string        `json:"address"`
	Network         string        `json:"network"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	LastRefreshTime *time.Time    `json:"last_refresh_time,omitempty"`
	LastCardState   *string       `json:"last_card_state,omitempty"`
	Status          string        `json:"status"` // active, paused, error
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Refresh is one entry of a wallet's refresh history.
type Refresh struct {
	ObservedAt     time.Time `json:"observed_at"`
	PendingCount   int       `json:"pending_count"`
	ConfirmedCount int       `json:"confirmed_count"`
	FailedFeeds    []string  `json:"failed_feeds,omitempty"`
}

// Client is the HTTP client for the stackhome service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new stackhome service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register tells the server to start refreshing a wallet. A zero interval
// uses the server default. Registering again updates the interval.
func (c *Client) Register(ctx context.Context, address, network string, interval time.Duration) (*Wallet, error) {
	reqBody := map[string]string{
		"address": address,
		"network": network,
	}
	if interval > 0 {
		reqBody["refresh_interval"] = interval.String()
	}

	var apiWallet walletResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/wallets", reqBody, &apiWallet, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	c.logger.Debug("wallet registered", "address", address, "network", network, "refresh_interval", interval)
	return responseToWallet(&apiWallet)
}

// Unregister tells the server to stop refreshing a wallet.
func (c *Client) Unregister(ctx context.Context, address, network string) error {
	if err := c.doJSON(ctx, http.MethodDelete, walletPath(address, network, ""), nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	c.logger.Debug("wallet unregistered", "address", address, "network", network)
	return nil
}

// Get retrieves the registration details for a specific wallet.
func (c *Client) Get(ctx context.Context, address, network string) (*Wallet, error) {
	var apiWallet walletResponse
	if err := c.doJSON(ctx, http.MethodGet, walletPath(address, network, ""), nil, &apiWallet, http.StatusOK); err != nil {
		return nil, err
	}
	return responseToWallet(&apiWallet)
}

// List retrieves all registered wallets.
func (c *Client) List(ctx context.Context) ([]*Wallet, error) {
	var response struct {
		Wallets []walletResponse `json:"wallets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/wallets", nil, &response, http.StatusOK); err != nil {
		return nil, err
	}

	wallets := make([]*Wallet, len(response.Wallets))
	for i, apiWallet := range response.Wallets {
		wallet, err := responseToWallet(&apiWallet)
		if err != nil {
			return nil, fmt.Errorf("failed to parse wallet %s: %w", apiWallet.Address, err)
		}
		wallets[i] = wallet
	}
	return wallets, nil
}

// TriggerRefresh asks the server to refresh a registered wallet now.
func (c *Client) TriggerRefresh(ctx context.Context, address, network string) error {
	if err := c.doJSON(ctx, http.MethodPost, walletPath(address, network, "/refresh"), nil, nil, http.StatusAccepted); err != nil {
		return err
	}
	c.logger.Debug("refresh triggered", "address", address, "network", network)
	return nil
}

// Refreshes lists the most recent refreshes of a wallet, newest first.
// A non-positive limit uses the server default.
func (c *Client) Refreshes(ctx context.Context, address, network string, limit int) ([]Refresh, error) {
	path := walletPath(address, network, "/refreshes")
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	var response struct {
		Refreshes []Refresh `json:"refreshes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Refreshes, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func walletPath(address, network, suffix string) string {
	q := url.Values{}
	q.Set("network", network)
	return "/api/v1/wallets/" + url.PathEscape(address) + suffix + "?" + q.Encode()
}

// doJSON sends body (if any) as JSON, checks the status against want and
// decodes the response into out (if any).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, want ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range want {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// walletResponse is the API response format for a wallet.
// The server returns refresh_interval as a string (e.g. "30s").
type walletResponse struct {
	Address         string     `json:"address"`
	Network         string     `json:"network"`
	RefreshInterval string     `json:"refresh_interval"`
	LastRefreshTime *time.Time `json:"last_refresh_time,omitempty"`
	LastCardState   *string    `json:"last_card_state,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// responseToWallet converts an API response to a domain Wallet.
func responseToWallet(resp *walletResponse) (*Wallet, error) {
	interval, err := time.ParseDuration(resp.RefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh_interval %q: %w", resp.RefreshInterval, err)
	}

	return &Wallet{
		Address:         resp.Address,
		Network:         resp.Network,
		RefreshInterval: interval,
		LastRefreshTime: resp.LastRefreshTime,
		LastCardState:   resp.LastCardState,
		Status:          resp.Status,
		CreatedAt:       resp.CreatedAt,
		UpdatedAt:       resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &StatusError{Code: resp.StatusCode, Message: string(body)}
	}
	return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}
