// Package stacks fetches wallet feeds from a Hiro-compatible Stacks API.
package stacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/metrics"
)

// Endpoint labels used for logging and metrics.
const (
	EndpointAccount      = "address_stx"
	EndpointMempool      = "mempool"
	EndpointTransactions = "address_transactions"
	EndpointPox          = "pox"
)

// APIError is a non-2xx response from the Stacks API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stacks api %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	// PageSize is the number of confirmed transactions fetched per refresh.
	PageSize int
	// MaxAttempts bounds retries of a single request.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

// Client provides the feed fetches the refresh workflow needs.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	pageSize    int
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewClient creates a new Stacks API client.
// If metrics is nil, no metrics will be recorded.
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  cfg.HTTPClient,
		pageSize:    cfg.PageSize,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// GetAccountSTX fetches the STX balance and lock state of a principal.
func (c *Client) GetAccountSTX(ctx context.Context, principal string) (*AccountSTX, error) {
	var acct AccountSTX
	path := "/extended/v1/address/" + url.PathEscape(principal) + "/stx"
	if err := c.getJSON(ctx, EndpointAccount, path, nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetMempool fetches pending transactions sent by or to a principal.
func (c *Client) GetMempool(ctx context.Context, principal string) ([]APITransaction, error) {
	var list transactionList
	q := url.Values{}
	q.Set("address", principal)
	q.Set("limit", strconv.Itoa(c.pageSize))
	if err := c.getJSON(ctx, EndpointMempool, "/extended/v1/tx/mempool", q, &list); err != nil {
		return nil, err
	}
	c.recordCount(EndpointMempool, len(list.Results))
	return list.Results, nil
}

// GetTransactions fetches the most recent mined transactions of a principal,
// newest first, along with how many the principal has in total.
func (c *Client) GetTransactions(ctx context.Context, principal string) ([]APITransaction, int, error) {
	var list transactionList
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	path := "/extended/v1/address/" + url.PathEscape(principal) + "/transactions"
	if err := c.getJSON(ctx, EndpointTransactions, path, q, &list); err != nil {
		return nil, 0, err
	}
	c.recordCount(EndpointTransactions, len(list.Results))
	return list.Results, list.Total, nil
}

// GetPoxInfo fetches the current PoX cycle information.
func (c *Client) GetPoxInfo(ctx context.Context) (*PoxInfo, error) {
	var pox PoxInfo
	if err := c.getJSON(ctx, EndpointPox, "/v2/pox", nil, &pox); err != nil {
		return nil, err
	}
	return &pox, nil
}

// FetchSnapshot fetches every feed for an address. Individual fetch failures
// are recorded on the snapshot; FetchSnapshot itself only fails when ctx is
// done.
func (c *Client) FetchSnapshot(ctx context.Context, address string) (*Snapshot, error) {
	snap := &Snapshot{Address: address}

	acct, acctErr := c.GetAccountSTX(ctx, address)
	mempool, mempoolErr := c.GetMempool(ctx, address)
	confirmed, total, confirmedErr := c.GetTransactions(ctx, address)
	pox, poxErr := c.GetPoxInfo(ctx)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot for %s: %w", address, err)
	}
	snap.ObservedAt = c.now().UTC()

	// Balance feed.
	if acctErr != nil {
		snap.BalanceErr = acctErr.Error()
	} else if b, err := ParseBalances(acct); err != nil {
		snap.BalanceErr = err.Error()
	} else {
		snap.Balances = b
	}
	c.recordFeed(home.FeedBalance, snap.BalanceErr)

	// PoX minimum.
	if poxErr != nil {
		snap.PoxErr = poxErr.Error()
	} else {
		minimum := MinimumStackingAmount(pox)
		snap.MinimumRequired = &minimum
	}
	c.recordFeed(home.FeedPox, snap.PoxErr)

	// Stacker info needs both the account lock state and the cycle. The
	// mempool only adds the pending-call signal, so a mempool failure only
	// fails the transaction feed.
	switch {
	case acctErr != nil:
		snap.StackerInfoErr = "account: " + acctErr.Error()
	case poxErr != nil:
		snap.StackerInfoErr = "pox: " + poxErr.Error()
	default:
		info, err := DeriveStackerInfo(acct, pox, mempool)
		if err != nil {
			snap.StackerInfoErr = err.Error()
		} else {
			snap.StackerInfo = &info
		}
	}
	c.recordFeed(home.FeedStackerInfo, snap.StackerInfoErr)

	poxContract := ""
	if pox != nil {
		poxContract = pox.ContractID
	}

	// Delegation comes from the confirmed history.
	if confirmedErr != nil {
		snap.DelegationErr = confirmedErr.Error()
	} else {
		d := DeriveDelegation(confirmed, poxContract)
		snap.Delegated = &d
	}
	c.recordFeed(home.FeedDelegation, snap.DelegationErr)

	// Transactions need both lists; a partial pair would make confirmed
	// entries look evicted or pending entries look unconfirmed.
	switch {
	case mempoolErr != nil:
		snap.TransactionsErr = "mempool: " + mempoolErr.Error()
	case confirmedErr != nil:
		snap.TransactionsErr = "transactions: " + confirmedErr.Error()
	default:
		snap.Transactions = &home.TransactionFeed{
			Pending:   ToTransactions(mempool, snap.ObservedAt),
			Confirmed: ToTransactions(confirmed, snap.ObservedAt),
			Total:     total,
		}
	}
	c.recordFeed(home.FeedTransactions, snap.TransactionsErr)

	if failed := snap.FailedFeeds(); len(failed) > 0 {
		c.logger.WarnContext(ctx, "snapshot has failed feeds",
			"address", address,
			"failed_feeds", failed,
		)
	} else {
		c.logger.DebugContext(ctx, "fetched snapshot",
			"address", address,
			"pending", len(mempool),
			"confirmed", len(confirmed),
		)
	}
	return snap, nil
}

func (c *Client) recordFeed(kind home.FeedKind, errMsg string) {
	if c.metrics == nil {
		return
	}
	var err error
	if errMsg != "" {
		err = errors.New(errMsg)
	}
	c.metrics.RecordFeedFetch(string(kind), err)
}

func (c *Client) recordCount(endpoint string, n int) {
	if c.metrics != nil {
		c.metrics.RecordTransactionsPerCall(endpoint, n)
	}
}

// getJSON performs a GET with retry and exponential backoff on rate limits
// and server errors.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := range c.maxAttempts {
		if attempt > 0 {
			backoff := c.backoffBase << uint(attempt-1)
			c.logger.WarnContext(ctx, "retrying stacks api request",
				"endpoint", endpoint,
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.do(ctx, endpoint, u, out)
		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(lastErr, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests && c.metrics != nil {
				c.metrics.RecordRateLimitHit(endpoint)
			}
			if !apiErr.Retryable() {
				return lastErr
			}
			if c.metrics != nil {
				c.metrics.RecordAPIRetry(endpoint, strconv.Itoa(apiErr.StatusCode))
			}
			continue
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if c.metrics != nil {
			c.metrics.RecordAPIRetry(endpoint, "transport")
		}
	}
	return fmt.Errorf("stacks api %s failed after %d attempts: %w", endpoint, c.maxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, endpoint, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		c.record(endpoint, "error", duration)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record(endpoint, "error", duration)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.record(endpoint, "error", duration)
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	c.record(endpoint, "success", duration)
	return nil
}

func (c *Client) record(endpoint, status string, duration float64) {
	if c.metrics != nil {
		c.metrics.RecordAPICall(endpoint, status, duration)
	}
}
