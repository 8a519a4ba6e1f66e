// Package bank keeps the credit balances of identities that receive
// proposer rewards.
package bank

import (
	"errors"
	"fmt"

	"feepools/core/credits"
	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/storage/tree"
)

var (
	// BalancesRootKey is the root subtree holding identity balances.
	BalancesRootKey = []byte{'b'}
	// BalancesPath addresses the balances root.
	BalancesPath = tree.Path{BalancesRootKey}
)

// Store is the subset of the path store the ledger reads from.
type Store interface {
	GetPending(batch *tree.Batch, path tree.Path, key []byte, tx *tree.Transaction) (tree.Element, error)
	Children(path tree.Path, tx *tree.Transaction) ([]tree.Entry, error)
}

// Ledger credits identity balances. Writes are queued on caller batches so
// that payouts commit together with the pool updates that fund them.
type Ledger struct {
	store Store
}

// NewLedger returns a ledger over store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// AddInitOperations queues creation of the balances root.
func (l *Ledger) AddInitOperations(batch *tree.Batch) {
	batch.InsertEmptyTree(nil, BalancesRootKey)
}

// AddCreditBalanceOperations adds amount to the balance of id. An absent
// balance counts as zero.
func (l *Ledger) AddCreditBalanceOperations(batch *tree.Batch, id types.Identifier, amount credits.Credits, tx *tree.Transaction) error {
	if amount == 0 {
		return nil
	}
	current, err := l.balance(batch, id, tx)
	if err != nil {
		return err
	}
	updated, err := credits.AddCredits(current, amount)
	if err != nil {
		return fmt.Errorf("bank: credit %s: %w", id, err)
	}
	batch.InsertItem(BalancesPath, id[:], credits.EncodeCredits(updated))
	return nil
}

// Balance returns the committed balance of id.
func (l *Ledger) Balance(id types.Identifier, tx *tree.Transaction) (credits.Credits, error) {
	return l.balance(nil, id, tx)
}

// TotalBalances sums every balance. Overflow is reported rather than wrapped.
func (l *Ledger) TotalBalances(tx *tree.Transaction) (credits.Credits, error) {
	entries, err := l.store.Children(BalancesPath, tx)
	if err != nil {
		return 0, mapError(err)
	}
	var total credits.Credits
	for _, entry := range entries {
		value, err := credits.DecodeCredits(entry.Element.Value)
		if err != nil {
			return 0, fmt.Errorf("bank: balance %x: %w", entry.Key, err)
		}
		if total, err = credits.AddCredits(total, value); err != nil {
			return 0, fmt.Errorf("bank: total balances: %w", err)
		}
	}
	return total, nil
}

func (l *Ledger) balance(batch *tree.Batch, id types.Identifier, tx *tree.Transaction) (credits.Credits, error) {
	element, err := l.store.GetPending(batch, BalancesPath, id[:], tx)
	if errors.Is(err, tree.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(err)
	}
	return credits.DecodeCredits(element.Value)
}

func mapError(err error) error {
	if errors.Is(err, tree.ErrBackend) {
		return fmt.Errorf("%w: bank: %w", feeerrors.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("bank: %w", err)
}
