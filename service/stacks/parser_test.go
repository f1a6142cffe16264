package stacks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

const poxContract = "SP000000000000000000002Q6VF78.pox-4"

func testPox() *PoxInfo {
	return &PoxInfo{
		ContractID:                  poxContract,
		FirstBurnchainBlockHeight:   1000,
		CurrentBurnchainBlockHeight: 5500,
		MinAmountUSTX:               80_000_000_000,
		RewardCycleLength:           2000,
		NextCycle:                   PoxCycle{MinThresholdUSTX: 90_000_000_000},
	}
}

func poxCall(fn, status string) APITransaction {
	return APITransaction{
		TxID:         "0x" + fn,
		TxType:       "contract_call",
		TxStatus:     status,
		ContractCall: &ContractCall{ContractID: poxContract, FunctionName: fn},
	}
}

func TestParseMicroSTX(t *testing.T) {
	v, err := ParseMicroSTX("123456")
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), v)

	v, err = ParseMicroSTX("")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = ParseMicroSTX("1.5")
	assert.Error(t, err)
}

func TestParseBalances(t *testing.T) {
	b, err := ParseBalances(&AccountSTX{Balance: "1000", Locked: "400"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), b.Total)
	assert.Equal(t, uint64(400), b.Locked)
	assert.Equal(t, uint64(600), b.Spendable)

	b, err = ParseBalances(&AccountSTX{Balance: "10", Locked: "40"})
	require.NoError(t, err)
	assert.Zero(t, b.Spendable)

	_, err = ParseBalances(&AccountSTX{Balance: "abc"})
	assert.Error(t, err)
}

func TestToTransaction(t *testing.T) {
	observed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := uint64(9)

	pending := ToTransaction(APITransaction{
		TxID:          "0xaa",
		TxType:        "token_transfer",
		TxStatus:      "pending",
		SenderAddress: "SP3FBR2AGK5H9QBDH3EEN6DF8EK8JY7RX8QJ5SVTE",
		Nonce:         &n,
		ReceiptTime:   1_700_000_000,
		TokenTransfer: &TokenTransfer{Amount: "2500000"},
	}, observed)
	assert.Equal(t, reconcile.StatusPending, pending.Status)
	assert.Equal(t, uint64(2_500_000), pending.Amount)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), pending.SubmittedAt)
	assert.Equal(t, observed, pending.LastSeen)
	require.NotNil(t, pending.Nonce)
	assert.Equal(t, uint64(9), *pending.Nonce)

	failed := ToTransaction(APITransaction{TxID: "0xbb", TxStatus: "abort_by_response", BlockHeight: 77, TxIndex: 3}, observed)
	assert.Equal(t, reconcile.StatusFailed, failed.Status)
	assert.Equal(t, uint64(77), failed.BlockHeight)
	assert.Equal(t, uint32(3), failed.TxIndex)

	ok := ToTransaction(APITransaction{TxID: "0xcc", TxStatus: "success"}, observed)
	assert.Equal(t, reconcile.StatusConfirmed, ok.Status)
}

func TestDeriveDelegation(t *testing.T) {
	tests := []struct {
		name string
		txs  []APITransaction
		want bool
	}{
		{name: "no calls", txs: nil, want: false},
		{name: "delegated", txs: []APITransaction{poxCall("delegate-stx", "success")}, want: true},
		{
			name: "revoked after delegating",
			txs:  []APITransaction{poxCall("revoke-delegate-stx", "success"), poxCall("delegate-stx", "success")},
			want: false,
		},
		{
			name: "failed revoke is ignored",
			txs:  []APITransaction{poxCall("revoke-delegate-stx", "abort_by_response"), poxCall("delegate-stx", "success")},
			want: true,
		},
		{
			name: "other contract",
			txs: []APITransaction{{
				TxType: "contract_call", TxStatus: "success",
				ContractCall: &ContractCall{ContractID: "SP2C2YFP12AJZB4MABJBAJ55XECVS7E4PMMZ89YZR.pool", FunctionName: "delegate-stx"},
			}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveDelegation(tt.txs, poxContract))
		})
	}
}

func TestIsPoxContract_WithoutKnownContract(t *testing.T) {
	assert.True(t, isPoxContract("SP000000000000000000002Q6VF78.pox-3", ""))
	assert.False(t, isPoxContract("SP000000000000000000002Q6VF78.bns", ""))
	assert.False(t, isPoxContract("nodot", ""))
}

func TestDeriveStackerInfo(t *testing.T) {
	pox := testPox() // cycles start at 1000, 3000, 5000, 7000; current 5500

	tests := []struct {
		name       string
		acct       AccountSTX
		mempool    []APITransaction
		want       stacking.StackerStatus
		wantBlocks *int64
	}{
		{
			name: "never stacked",
			acct: AccountSTX{Balance: "100", Locked: "0"},
			want: stacking.StackerNotStarted,
		},
		{
			name:    "stack call in mempool",
			acct:    AccountSTX{Balance: "100", Locked: "0"},
			mempool: []APITransaction{poxCall("stack-stx", "pending")},
			want:    stacking.StackerPendingContactCall,
		},
		{
			name: "locked in current cycle, earning next",
			acct: AccountSTX{Locked: "100", BurnchainLockHeight: 5200, BurnchainUnlockHeight: 11000},
			want: stacking.StackerPreCycle,
			wantBlocks: func() *int64 {
				v := int64(1500)
				return &v
			}(),
		},
		{
			name: "locked in earlier cycle",
			acct: AccountSTX{Locked: "100", BurnchainLockHeight: 4000, BurnchainUnlockHeight: 11000},
			want: stacking.StackerActive,
		},
		{
			name: "unlocked",
			acct: AccountSTX{Locked: "0", LockTxID: "0xlock", BurnchainLockHeight: 1200, BurnchainUnlockHeight: 5000},
			want: stacking.StackerPost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := DeriveStackerInfo(&tt.acct, pox, tt.mempool)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Status)
			assert.Equal(t, tt.wantBlocks, info.BlocksUntilStackingCycleBegins)
		})
	}
}

func TestDeriveStackerInfo_InvalidLocked(t *testing.T) {
	_, err := DeriveStackerInfo(&AccountSTX{Locked: "x"}, testPox(), nil)
	assert.Error(t, err)
}

func TestMinimumStackingAmount(t *testing.T) {
	pox := testPox()
	assert.Equal(t, uint64(90_000_000_000), MinimumStackingAmount(pox))

	pox.NextCycle.MinThresholdUSTX = 0
	assert.Equal(t, uint64(80_000_000_000), MinimumStackingAmount(pox))
}

func TestSnapshotStatusVector(t *testing.T) {
	threshold := uint64(500)
	delegated := false
	snap := Snapshot{
		Delegated:       &delegated,
		Balances:        &home.Balances{Total: 1000, Spendable: 1000},
		StackerInfo:     &stacking.StackerInfo{Status: stacking.StackerNotStarted},
		MinimumRequired: &threshold,
	}
	assert.Equal(t, stacking.EligibleToParticipate, stacking.Classify(snap.StatusVector(nil)))

	override := uint64(5000)
	assert.Equal(t, stacking.NotEnoughStx, stacking.Classify(snap.StatusVector(&override)))

	snap.StackerInfoErr = "pox: unavailable"
	snap.StackerInfo = nil
	assert.Equal(t, stacking.StackingError, stacking.Classify(snap.StatusVector(nil)))

	snap.Delegated = nil
	assert.Equal(t, stacking.LoadingResources, stacking.Classify(snap.StatusVector(nil)))
}
