// Package reconcile merges the pending (mempool) and confirmed transaction
// feeds of a wallet into one ordered timeline with stable identity.
//
// Everything in this package is synchronous and free of shared state: callers
// pass the previous FocusToken and PendingTracker in and receive the next ones
// back.
package reconcile

import "time"

// Status is the lifecycle state of a transaction as seen by the wallet.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Transaction is one row of the wallet timeline.
type Transaction struct {
	TxID   string  `json:"tx_id"`
	Origin string  `json:"origin,omitempty"`
	Nonce  *uint64 `json:"nonce,omitempty"`
	Amount uint64  `json:"amount"`
	Type   string  `json:"type,omitempty"`
	Status Status  `json:"status"`

	// SubmittedAt orders pending entries (mempool receipt time).
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	// BlockHeight and TxIndex order confirmed entries.
	BlockHeight uint64 `json:"block_height,omitempty"`
	TxIndex     uint32 `json:"tx_index,omitempty"`

	// LastSeen is when the feed that reported this entry was observed.
	LastSeen time.Time `json:"last_seen"`
}

// Key is the stable row key for list rendering.
func (t Transaction) Key() string {
	return t.TxID
}

// IsPending reports whether the transaction has not been mined yet.
func (t Transaction) IsPending() bool {
	return t.Status == StatusPending
}
