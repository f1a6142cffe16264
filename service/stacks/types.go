package stacks

import (
	"time"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/stacking"
)

// AccountSTX is the response of /extended/v1/address/{principal}/stx.
type AccountSTX struct {
	Balance               string `json:"balance"`
	TotalSent             string `json:"total_sent"`
	TotalReceived         string `json:"total_received"`
	Locked                string `json:"locked"`
	LockTxID              string `json:"lock_tx_id"`
	LockHeight            uint64 `json:"lock_height"`
	BurnchainLockHeight   uint64 `json:"burnchain_lock_height"`
	BurnchainUnlockHeight uint64 `json:"burnchain_unlock_height"`
}

// TokenTransfer is the payload of a token_transfer transaction.
type TokenTransfer struct {
	RecipientAddress string `json:"recipient_address"`
	Amount           string `json:"amount"`
	Memo             string `json:"memo"`
}

// ContractCall is the payload of a contract_call transaction.
type ContractCall struct {
	ContractID   string `json:"contract_id"`
	FunctionName string `json:"function_name"`
}

// APITransaction is a transaction as returned by the mempool and address
// transaction endpoints. Mempool entries carry ReceiptTime; mined entries
// carry the block fields.
type APITransaction struct {
	TxID          string         `json:"tx_id"`
	TxType        string         `json:"tx_type"`
	TxStatus      string         `json:"tx_status"`
	SenderAddress string         `json:"sender_address"`
	Nonce         *uint64        `json:"nonce"`
	FeeRate       string         `json:"fee_rate"`
	BlockHeight   uint64         `json:"block_height"`
	TxIndex       uint32         `json:"tx_index"`
	BurnBlockTime int64          `json:"burn_block_time"`
	ReceiptTime   int64          `json:"receipt_time"`
	TokenTransfer *TokenTransfer `json:"token_transfer,omitempty"`
	ContractCall  *ContractCall  `json:"contract_call,omitempty"`
}

// transactionList is the paginated envelope of list endpoints.
type transactionList struct {
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	Total   int              `json:"total"`
	Results []APITransaction `json:"results"`
}

// PoxCycle is one of the current/next cycle blocks of /v2/pox.
type PoxCycle struct {
	ID                          uint64 `json:"id"`
	MinThresholdUSTX            uint64 `json:"min_threshold_ustx"`
	StackedUSTX                 uint64 `json:"stacked_ustx"`
	RewardPhaseStartBlockHeight uint64 `json:"reward_phase_start_block_height"`
	BlocksUntilRewardPhase      int64  `json:"blocks_until_reward_phase"`
}

// PoxInfo is the subset of /v2/pox used to place an account in the stacking
// cycle.
type PoxInfo struct {
	ContractID                  string   `json:"contract_id"`
	FirstBurnchainBlockHeight   uint64   `json:"first_burnchain_block_height"`
	CurrentBurnchainBlockHeight uint64   `json:"current_burnchain_block_height"`
	MinAmountUSTX               uint64   `json:"min_amount_ustx"`
	RewardCycleID               uint64   `json:"reward_cycle_id"`
	RewardCycleLength           uint64   `json:"reward_cycle_length"`
	CurrentCycle                PoxCycle `json:"current_cycle"`
	NextCycle                   PoxCycle `json:"next_cycle"`
}

// Snapshot is one refresh of every feed for an address. Each feed fails
// independently: a non-empty *Err field means that feed could not be
// fetched and its value is nil.
type Snapshot struct {
	Address    string    `json:"address"`
	ObservedAt time.Time `json:"observed_at"`

	Balances   *home.Balances `json:"balances,omitempty"`
	BalanceErr string         `json:"balance_err,omitempty"`

	Transactions    *home.TransactionFeed `json:"transactions,omitempty"`
	TransactionsErr string                `json:"transactions_err,omitempty"`

	StackerInfo    *stacking.StackerInfo `json:"stacker_info,omitempty"`
	StackerInfoErr string                `json:"stacker_info_err,omitempty"`

	Delegated     *bool  `json:"delegated,omitempty"`
	DelegationErr string `json:"delegation_err,omitempty"`

	MinimumRequired *uint64 `json:"minimum_required,omitempty"`
	PoxErr          string  `json:"pox_err,omitempty"`
}

// Updates splits the snapshot into one feed update per feed.
func (s Snapshot) Updates() []home.Update {
	return []home.Update{
		{Kind: home.FeedBalance, ObservedAt: s.ObservedAt, Err: s.BalanceErr, Balances: s.Balances},
		{Kind: home.FeedPox, ObservedAt: s.ObservedAt, Err: s.PoxErr, MinimumRequired: s.MinimumRequired},
		{Kind: home.FeedStackerInfo, ObservedAt: s.ObservedAt, Err: s.StackerInfoErr, StackerInfo: s.StackerInfo},
		{Kind: home.FeedDelegation, ObservedAt: s.ObservedAt, Err: s.DelegationErr, Delegated: s.Delegated},
		{Kind: home.FeedTransactions, ObservedAt: s.ObservedAt, Err: s.TransactionsErr, Transactions: s.Transactions},
	}
}

// FailedFeeds lists the feeds that could not be fetched.
func (s Snapshot) FailedFeeds() []string {
	var failed []string
	for _, u := range s.Updates() {
		if u.Err != "" {
			failed = append(failed, string(u.Kind))
		}
	}
	return failed
}

// StatusVector builds classifier input from the snapshot alone. A non-nil
// minimum overrides the PoX threshold.
func (s Snapshot) StatusVector(minimum *uint64) stacking.StatusVector {
	v := stacking.StatusVector{
		Delegated:       s.Delegated,
		StackerInfo:     s.StackerInfo,
		MinimumRequired: s.MinimumRequired,
		Errors: stacking.FeedFlags{
			Balance:     s.BalanceErr != "",
			StackerInfo: s.StackerInfoErr != "",
			Delegation:  s.DelegationErr != "",
		},
	}
	if minimum != nil {
		v.MinimumRequired = minimum
	}
	if s.Balances != nil {
		total, locked, spendable := s.Balances.Total, s.Balances.Locked, s.Balances.Spendable
		v.Balance, v.Locked, v.Spendable = &total, &locked, &spendable
	}
	return v
}
