package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrWalletNotFound is returned when no wallet matches address and network.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned when creating a wallet that is already registered.
	ErrWalletExists = errors.New("wallet already exists")
)

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Wallet is a watched Stacks address.
type Wallet struct {
	Address         string
	Network         string // "mainnet" or "testnet"
	RefreshInterval time.Duration
	LastRefreshTime *time.Time
	// LastCardState is the card state rendered after the last refresh.
	LastCardState *string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateWalletParams contains the parameters for registering a wallet.
type CreateWalletParams struct {
	Address         string
	Network         string
	RefreshInterval time.Duration
	Status          string
}

// Refresh is one completed wallet refresh.
type Refresh struct {
	ID             int64
	Address        string
	Network        string
	ObservedAt     time.Time
	PendingCount   int
	ConfirmedCount int
	FailedFeeds    []string
	CreatedAt      time.Time
}

// RecordRefreshParams contains the parameters for recording a refresh.
type RecordRefreshParams struct {
	Address        string
	Network        string
	ObservedAt     time.Time
	PendingCount   int
	ConfirmedCount int
	FailedFeeds    []string
}

const walletColumns = `address, network, refresh_interval, last_refresh_time, last_card_state, status, created_at, updated_at`

// CreateWallet registers a new wallet for refreshing.
func (s *Store) CreateWallet(ctx context.Context, params CreateWalletParams) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (address, network, refresh_interval, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+walletColumns,
		params.Address, params.Network, pgIntervalFromDuration(params.RefreshInterval), statusOrDefault(params.Status),
	)
	w, err := scanWallet(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s on %s", ErrWalletExists, params.Address, params.Network)
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return w, nil
}

// UpsertWallet registers a wallet or updates its refresh interval and
// reactivates it.
func (s *Store) UpsertWallet(ctx context.Context, params CreateWalletParams) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (address, network, refresh_interval, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, network) DO UPDATE
		SET refresh_interval = EXCLUDED.refresh_interval,
		    status = EXCLUDED.status,
		    updated_at = now()
		RETURNING `+walletColumns,
		params.Address, params.Network, pgIntervalFromDuration(params.RefreshInterval), statusOrDefault(params.Status),
	)
	w, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert wallet: %w", err)
	}
	return w, nil
}

// GetWallet retrieves a wallet by address and network.
func (s *Store) GetWallet(ctx context.Context, address, network string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE address = $1 AND network = $2`, address, network)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// ListWallets retrieves all registered wallets.
func (s *Store) ListWallets(ctx context.Context) ([]*Wallet, error) {
	return s.listWallets(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at`)
}

// ListActiveWallets retrieves active wallets, least recently refreshed first.
func (s *Store) ListActiveWallets(ctx context.Context) ([]*Wallet, error) {
	return s.listWallets(ctx, `SELECT `+walletColumns+` FROM wallets WHERE status = 'active' ORDER BY last_refresh_time NULLS FIRST`)
}

func (s *Store) listWallets(ctx context.Context, query string, args ...any) ([]*Wallet, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// UpdateWalletRefresh records when a wallet was last refreshed and what card
// it rendered.
func (s *Store) UpdateWalletRefresh(ctx context.Context, address, network string, refreshedAt time.Time, cardState *string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE wallets
		SET last_refresh_time = $3,
		    last_card_state = COALESCE($4, last_card_state),
		    updated_at = now()
		WHERE address = $1 AND network = $2
		RETURNING `+walletColumns,
		address, network, pgtype.Timestamptz{Time: refreshedAt, Valid: true}, pgtextFromStringPtr(cardState),
	)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// UpdateWalletStatus updates the status of a wallet.
func (s *Store) UpdateWalletStatus(ctx context.Context, address, network, status string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE wallets SET status = $3, updated_at = now()
		WHERE address = $1 AND network = $2
		RETURNING `+walletColumns,
		address, network, status,
	)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// DeleteWallet removes a wallet and its refresh history.
func (s *Store) DeleteWallet(ctx context.Context, address, network string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM wallets WHERE address = $1 AND network = $2`, address, network)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM wallet_refreshes WHERE address = $1 AND network = $2`, address, network); err != nil {
		return fmt.Errorf("failed to delete refresh history: %w", err)
	}
	return tx.Commit(ctx)
}

// WalletExists checks if a wallet is registered.
func (s *Store) WalletExists(ctx context.Context, address, network string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallets WHERE address = $1 AND network = $2)`,
		address, network,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check wallet: %w", err)
	}
	return exists, nil
}

// RecordRefresh appends a refresh to the wallet's history.
func (s *Store) RecordRefresh(ctx context.Context, params RecordRefreshParams) (*Refresh, error) {
	failed := params.FailedFeeds
	if failed == nil {
		failed = []string{}
	}
	var r Refresh
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wallet_refreshes (address, network, observed_at, pending_count, confirmed_count, failed_feeds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, address, network, observed_at, pending_count, confirmed_count, failed_feeds, created_at`,
		params.Address, params.Network, params.ObservedAt, params.PendingCount, params.ConfirmedCount, failed,
	).Scan(&r.ID, &r.Address, &r.Network, &r.ObservedAt, &r.PendingCount, &r.ConfirmedCount, &r.FailedFeeds, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record refresh: %w", err)
	}
	return &r, nil
}

// ListRefreshes returns the most recent refreshes of a wallet, newest first.
func (s *Store) ListRefreshes(ctx context.Context, address, network string, limit int32) ([]*Refresh, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, address, network, observed_at, pending_count, confirmed_count, failed_feeds, created_at
		FROM wallet_refreshes
		WHERE address = $1 AND network = $2
		ORDER BY observed_at DESC
		LIMIT $3`,
		address, network, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list refreshes: %w", err)
	}

	refreshes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Refresh, error) {
		var r Refresh
		err := row.Scan(&r.ID, &r.Address, &r.Network, &r.ObservedAt, &r.PendingCount, &r.ConfirmedCount, &r.FailedFeeds, &r.CreatedAt)
		return &r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan refreshes: %w", err)
	}
	return refreshes, nil
}

// DeleteRefreshesOlderThan prunes refresh history and returns the number of
// rows removed.
func (s *Store) DeleteRefreshesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wallet_refreshes WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune refreshes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var (
		w            Wallet
		interval     pgtype.Interval
		lastRefresh  pgtype.Timestamptz
		lastCard     pgtype.Text
		created, upd pgtype.Timestamptz
	)
	if err := row.Scan(&w.Address, &w.Network, &interval, &lastRefresh, &lastCard, &w.Status, &created, &upd); err != nil {
		return nil, err
	}
	w.RefreshInterval = durationFromPgInterval(interval)
	w.LastRefreshTime = timePtrFromPgTimestamptz(lastRefresh)
	w.LastCardState = stringPtrFromPgtext(lastCard)
	w.CreatedAt = created.Time
	w.UpdatedAt = upd.Time
	return &w, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrWalletNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func statusOrDefault(status string) string {
	if status == "" {
		return "active"
	}
	return status
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	return time.Duration(i.Microseconds)*time.Microsecond +
		time.Duration(i.Days)*24*time.Hour
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
