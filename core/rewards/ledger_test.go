package rewards

import (
	"testing"

	"github.com/stretchr/testify/require"

	"feepools/core/credits"
	"feepools/core/epoch"
	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/state/bank"
	"feepools/storage"
	"feepools/storage/tree"
)

type fixture struct {
	store  *tree.Store
	window epoch.Window
	bank   *bank.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := tree.Open(db)
	f := &fixture{store: store, window: epoch.NewWindow(store), bank: bank.NewLedger(store)}

	batch := tree.NewBatch()
	batch.InsertEmptyTree(nil, epoch.PoolsRootKey)
	require.NoError(t, f.window.AddInitializeAllEpochPoolsOperations(batch))
	f.bank.AddInitOperations(batch)
	require.NoError(t, store.ApplyBatch(batch, nil))
	return f
}

func id(b byte) types.Identifier {
	var out types.Identifier
	out[0] = b
	return out
}

// seed records blocks per proposer and a processing pool on epoch index.
func (f *fixture) seed(t *testing.T, index types.EpochIndex, processing credits.Credits, blocks map[types.ProposerID]int) {
	t.Helper()
	pool := f.window.Pool(index)
	batch := tree.NewBatch()
	require.NoError(t, pool.AddProcessingFeeOperations(batch, processing, nil))
	for proposer, n := range blocks {
		for i := 0; i < n; i++ {
			require.NoError(t, pool.IncrementProposerBlockCountOperation(batch, proposer, nil))
		}
	}
	require.NoError(t, f.store.ApplyBatch(batch, nil))
}

func (f *fixture) distribute(t *testing.T, ledger *Ledger, upto types.EpochIndex) DistributionResult {
	t.Helper()
	batch := tree.NewBatch()
	result, err := ledger.AddDistributeFeesFromUnpaidPoolsToProposersOperations(batch, upto, nil)
	require.NoError(t, err)
	if !batch.IsEmpty() {
		require.NoError(t, f.store.ApplyBatch(batch, nil))
	}
	return result
}

func (f *fixture) balance(t *testing.T, who types.Identifier) credits.Credits {
	t.Helper()
	value, err := f.bank.Balance(who, nil)
	require.NoError(t, err)
	return value
}

func TestProportionalPayoutWithoutLeftover(t *testing.T) {
	f := newFixture(t)
	a, b := id(0xa), id(0xb)
	f.seed(t, 0, 100, map[types.ProposerID]int{a: 3, b: 1})

	result := f.distribute(t, NewLedger(f.window, f.bank), 1)
	require.Equal(t, credits.Credits(100), result.TotalDistributed)
	require.True(t, result.FeeLeftovers.IsZero())
	require.Equal(t, []types.EpochIndex{0}, result.EpochsPaid)
	require.Equal(t, 2, result.ProposersPaid)
	require.Equal(t, credits.Credits(75), f.balance(t, a))
	require.Equal(t, credits.Credits(25), f.balance(t, b))
}

func TestProportionalPayoutKeepsExactRemainders(t *testing.T) {
	f := newFixture(t)
	a, b := id(0xa), id(0xb)
	f.seed(t, 0, 10, map[types.ProposerID]int{a: 1, b: 2})

	result := f.distribute(t, NewLedger(f.window, f.bank), 1)
	require.Equal(t, credits.Credits(3), f.balance(t, a))
	require.Equal(t, credits.Credits(6), f.balance(t, b))
	require.Equal(t, credits.Credits(9), result.TotalDistributed)
	// 10/3 - 3 and 20/3 - 6 add up to exactly one credit.
	require.Equal(t, "1", result.FeeLeftovers.String())
}

func TestFractionalLeftoverAcrossEpochs(t *testing.T) {
	f := newFixture(t)
	a, b, c := id(1), id(2), id(3)
	f.seed(t, 0, 1, map[types.ProposerID]int{a: 1, b: 1, c: 1})

	result := f.distribute(t, NewLedger(f.window, f.bank), 1)
	require.Zero(t, result.TotalDistributed)
	require.Equal(t, "1", result.FeeLeftovers.String())

	f.seed(t, 1, 5, map[types.ProposerID]int{a: 2, b: 1})
	result = f.distribute(t, NewLedger(f.window, f.bank), 2)
	require.Equal(t, credits.Credits(3), f.balance(t, a))
	require.Equal(t, credits.Credits(1), f.balance(t, b))
	require.Equal(t, "1", result.FeeLeftovers.String())
}

func TestPayoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := id(0xa)
	f.seed(t, 0, 50, map[types.ProposerID]int{a: 2})
	ledger := NewLedger(f.window, f.bank)

	first := f.distribute(t, ledger, 1)
	require.Equal(t, credits.Credits(50), first.TotalDistributed)

	second := f.distribute(t, ledger, 1)
	require.True(t, second.IsEmpty())
	require.Equal(t, credits.Credits(50), f.balance(t, a))

	paid, err := f.window.Pool(0).IsPaid(nil)
	require.NoError(t, err)
	require.True(t, paid)
	processing, err := f.window.Pool(0).ProcessingFee(nil)
	require.NoError(t, err)
	require.Zero(t, processing)
}

func TestDistributeTwiceInOneBatchPaysOnce(t *testing.T) {
	f := newFixture(t)
	a := id(0xa)
	f.seed(t, 0, 40, map[types.ProposerID]int{a: 1})
	ledger := NewLedger(f.window, f.bank)

	batch := tree.NewBatch()
	first, err := ledger.AddDistributeFeesFromUnpaidPoolsToProposersOperations(batch, 1, nil)
	require.NoError(t, err)
	second, err := ledger.AddDistributeFeesFromUnpaidPoolsToProposersOperations(batch, 1, nil)
	require.NoError(t, err)
	require.NoError(t, f.store.ApplyBatch(batch, nil))

	require.Equal(t, credits.Credits(40), first.TotalDistributed)
	require.True(t, second.IsEmpty())
	require.Equal(t, credits.Credits(40), f.balance(t, a))
}

func TestBacklogIsPaidInAscendingOrder(t *testing.T) {
	f := newFixture(t)
	a, b := id(0xa), id(0xb)
	f.seed(t, 0, 10, map[types.ProposerID]int{a: 1})
	// Epoch 1 produced no blocks.
	f.seed(t, 2, 20, map[types.ProposerID]int{b: 1})
	f.seed(t, 3, 30, map[types.ProposerID]int{a: 1, b: 1})
	f.seed(t, 4, 1000, map[types.ProposerID]int{a: 1})

	result := f.distribute(t, NewLedger(f.window, f.bank), 4)
	require.Equal(t, []types.EpochIndex{0, 2, 3}, result.EpochsPaid)
	require.Equal(t, credits.Credits(60), result.TotalDistributed)
	require.Equal(t, 4, result.ProposersPaid)
	require.Equal(t, credits.Credits(25), f.balance(t, a))
	require.Equal(t, credits.Credits(35), f.balance(t, b))

	paid, err := f.window.Pool(4).IsPaid(nil)
	require.NoError(t, err)
	require.False(t, paid, "the current epoch is never settled")

	cursor, err := f.window.UnpaidCursor(nil, nil)
	require.NoError(t, err)
	require.Equal(t, types.EpochIndex(4), cursor)
}

func TestRewardSharesSplitPayable(t *testing.T) {
	f := newFixture(t)
	proposer, alice, bob := id(0xa), id(0x1), id(0x2)
	f.seed(t, 0, 101, map[types.ProposerID]int{proposer: 1})

	shares := StaticShares{proposer: {
		{PayTo: bob, BasisPoints: 2_500},
		{PayTo: alice, BasisPoints: 3_333},
	}}
	result := f.distribute(t, NewLedger(f.window, f.bank, WithShareResolver(shares)), 1)

	require.Equal(t, credits.Credits(101), result.TotalDistributed)
	require.Equal(t, credits.Credits(33), f.balance(t, alice))
	require.Equal(t, credits.Credits(25), f.balance(t, bob))
	require.Equal(t, credits.Credits(43), f.balance(t, proposer))
	require.True(t, result.FeeLeftovers.IsZero())
}

func TestInvalidRewardSharesAbortPayout(t *testing.T) {
	f := newFixture(t)
	proposer := id(0xa)
	f.seed(t, 0, 10, map[types.ProposerID]int{proposer: 1})

	shares := StaticShares{proposer: {
		{PayTo: id(1), BasisPoints: 6_000},
		{PayTo: id(2), BasisPoints: 5_000},
	}}
	ledger := NewLedger(f.window, f.bank, WithShareResolver(shares))
	_, err := ledger.AddDistributeFeesFromUnpaidPoolsToProposersOperations(tree.NewBatch(), 1, nil)
	require.ErrorIs(t, err, feeerrors.ErrInvalidRewardShares)
}

func TestNothingToPayAtGenesis(t *testing.T) {
	f := newFixture(t)
	batch := tree.NewBatch()
	result, err := NewLedger(f.window, f.bank).AddDistributeFeesFromUnpaidPoolsToProposersOperations(batch, 0, nil)
	require.NoError(t, err)
	require.True(t, result.IsEmpty())
	require.True(t, batch.IsEmpty())
}
