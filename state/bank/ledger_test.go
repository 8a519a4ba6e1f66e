package bank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"feepools/core/credits"
	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/storage"
	"feepools/storage/tree"
)

func newLedger(t *testing.T) (*tree.Store, *Ledger) {
	t.Helper()
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := tree.Open(db)
	ledger := NewLedger(store)

	batch := tree.NewBatch()
	ledger.AddInitOperations(batch)
	require.NoError(t, store.ApplyBatch(batch, nil))
	return store, ledger
}

func TestCreditAccumulatesAcrossBatch(t *testing.T) {
	store, ledger := newLedger(t)
	alice := types.Identifier{0xa1}
	bob := types.Identifier{0xb0}

	balance, err := ledger.Balance(alice, nil)
	require.NoError(t, err)
	require.Zero(t, balance)

	batch := tree.NewBatch()
	require.NoError(t, ledger.AddCreditBalanceOperations(batch, alice, 5, nil))
	require.NoError(t, ledger.AddCreditBalanceOperations(batch, alice, 7, nil))
	require.NoError(t, ledger.AddCreditBalanceOperations(batch, bob, 1, nil))
	require.NoError(t, ledger.AddCreditBalanceOperations(batch, bob, 0, nil))
	require.NoError(t, store.ApplyBatch(batch, nil))

	balance, err = ledger.Balance(alice, nil)
	require.NoError(t, err)
	require.Equal(t, credits.Credits(12), balance)

	total, err := ledger.TotalBalances(nil)
	require.NoError(t, err)
	require.Equal(t, credits.Credits(13), total)
}

func TestCreditOverflowIsRejected(t *testing.T) {
	store, ledger := newLedger(t)
	id := types.Identifier{1}

	batch := tree.NewBatch()
	require.NoError(t, ledger.AddCreditBalanceOperations(batch, id, math.MaxUint64, nil))
	require.NoError(t, store.ApplyBatch(batch, nil))

	err := ledger.AddCreditBalanceOperations(tree.NewBatch(), id, 1, nil)
	require.ErrorIs(t, err, feeerrors.ErrArithmeticConversion)
}
