package stacks

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

// PoX functions that lock or delegate funds.
const (
	fnStackSTX          = "stack-stx"
	fnDelegateSTX       = "delegate-stx"
	fnRevokeDelegateSTX = "revoke-delegate-stx"
)

// ParseMicroSTX parses a decimal micro-STX amount. Empty means zero.
func ParseMicroSTX(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid micro-STX amount %q: %w", s, err)
	}
	return v, nil
}

// ParseBalances converts the account response into the balance feed value.
func ParseBalances(acct *AccountSTX) (*home.Balances, error) {
	total, err := ParseMicroSTX(acct.Balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	locked, err := ParseMicroSTX(acct.Locked)
	if err != nil {
		return nil, fmt.Errorf("failed to parse locked balance: %w", err)
	}
	spendable := uint64(0)
	if total > locked {
		spendable = total - locked
	}
	return &home.Balances{Total: total, Locked: locked, Spendable: spendable}, nil
}

// ToTransaction converts an API transaction into a timeline row. Records
// without a tx_id are passed through; the reconciler drops and reports them.
func ToTransaction(tx APITransaction, observedAt time.Time) reconcile.Transaction {
	out := reconcile.Transaction{
		TxID:        tx.TxID,
		Origin:      tx.SenderAddress,
		Nonce:       tx.Nonce,
		Type:        tx.TxType,
		Status:      mapStatus(tx.TxStatus),
		BlockHeight: tx.BlockHeight,
		TxIndex:     tx.TxIndex,
		LastSeen:    observedAt,
	}
	if tx.TokenTransfer != nil {
		// A malformed amount is shown as zero rather than hiding the row.
		out.Amount, _ = ParseMicroSTX(tx.TokenTransfer.Amount)
	}
	switch {
	case tx.ReceiptTime > 0:
		out.SubmittedAt = time.Unix(tx.ReceiptTime, 0).UTC()
	case tx.BurnBlockTime > 0:
		out.SubmittedAt = time.Unix(tx.BurnBlockTime, 0).UTC()
	}
	return out
}

func mapStatus(s string) reconcile.Status {
	switch {
	case s == "pending":
		return reconcile.StatusPending
	case s == "success":
		return reconcile.StatusConfirmed
	case strings.HasPrefix(s, "abort") || strings.HasPrefix(s, "dropped"):
		return reconcile.StatusFailed
	default:
		return reconcile.StatusConfirmed
	}
}

// ToTransactions converts a list, keeping upstream order.
func ToTransactions(txs []APITransaction, observedAt time.Time) []reconcile.Transaction {
	out := make([]reconcile.Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, ToTransaction(tx, observedAt))
	}
	return out
}

func isPoxContract(contractID, poxContractID string) bool {
	if poxContractID != "" {
		return contractID == poxContractID
	}
	_, name, ok := strings.Cut(contractID, ".")
	return ok && strings.HasPrefix(name, "pox")
}

func poxFunction(tx APITransaction, poxContractID string) string {
	if tx.TxType != "contract_call" || tx.ContractCall == nil {
		return ""
	}
	if !isPoxContract(tx.ContractCall.ContractID, poxContractID) {
		return ""
	}
	return tx.ContractCall.FunctionName
}

// HasPendingStackingCall reports whether the mempool holds a call that will
// start stacking or delegation.
func HasPendingStackingCall(mempool []APITransaction, poxContractID string) bool {
	for _, tx := range mempool {
		switch poxFunction(tx, poxContractID) {
		case fnStackSTX, fnDelegateSTX:
			return true
		}
	}
	return false
}

// DeriveDelegation returns the delegation state implied by the newest
// successful delegate or revoke call. txs must be newest first.
func DeriveDelegation(txs []APITransaction, poxContractID string) bool {
	for _, tx := range txs {
		if tx.TxStatus != "success" {
			continue
		}
		switch poxFunction(tx, poxContractID) {
		case fnDelegateSTX:
			return true
		case fnRevokeDelegateSTX:
			return false
		}
	}
	return false
}

// rewardCycleOf returns the reward cycle containing burn height h.
func rewardCycleOf(pox *PoxInfo, h uint64) uint64 {
	if pox.RewardCycleLength == 0 || h < pox.FirstBurnchainBlockHeight {
		return 0
	}
	return (h - pox.FirstBurnchainBlockHeight) / pox.RewardCycleLength
}

func rewardCycleStart(pox *PoxInfo, cycle uint64) uint64 {
	return pox.FirstBurnchainBlockHeight + cycle*pox.RewardCycleLength
}

// DeriveStackerInfo places an account in the stacking lifecycle.
//
// Locked funds start earning in the reward cycle after the one in which they
// were locked. Until that cycle begins the account is pre-cycle.
func DeriveStackerInfo(acct *AccountSTX, pox *PoxInfo, mempool []APITransaction) (stacking.StackerInfo, error) {
	locked, err := ParseMicroSTX(acct.Locked)
	if err != nil {
		return stacking.StackerInfo{}, fmt.Errorf("failed to parse locked balance: %w", err)
	}
	current := pox.CurrentBurnchainBlockHeight

	if locked > 0 && acct.BurnchainUnlockHeight > current {
		if acct.BurnchainLockHeight > 0 && pox.RewardCycleLength > 0 {
			start := rewardCycleStart(pox, rewardCycleOf(pox, acct.BurnchainLockHeight)+1)
			if current < start {
				blocks := int64(start - current)
				return stacking.StackerInfo{
					Status:                         stacking.StackerPreCycle,
					BlocksUntilStackingCycleBegins: &blocks,
				}, nil
			}
		}
		return stacking.StackerInfo{Status: stacking.StackerActive}, nil
	}

	if HasPendingStackingCall(mempool, pox.ContractID) {
		return stacking.StackerInfo{Status: stacking.StackerPendingContactCall}, nil
	}

	if acct.LockTxID != "" || (acct.BurnchainUnlockHeight > 0 && acct.BurnchainUnlockHeight <= current) {
		return stacking.StackerInfo{Status: stacking.StackerPost}, nil
	}

	return stacking.StackerInfo{Status: stacking.StackerNotStarted}, nil
}

// MinimumStackingAmount picks the threshold for the next cycle, falling back
// to the global minimum.
func MinimumStackingAmount(pox *PoxInfo) uint64 {
	if pox.NextCycle.MinThresholdUSTX > 0 {
		return pox.NextCycle.MinThresholdUSTX
	}
	return pox.MinAmountUSTX
}
