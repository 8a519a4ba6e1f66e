package core

import (
	"fmt"

	"feepools/core/credits"
	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/storage/tree"
)

// CreditsBalance is a snapshot of where every injected credit currently sits.
type CreditsBalance struct {
	// EpochPools sums the processing and storage pools of the window.
	EpochPools credits.Decimal
	// GlobalStorage is the epoch independent storage pool.
	GlobalStorage credits.Decimal
	// IdentityBalances sums all credited identity balances.
	IdentityBalances credits.Credits
	// TotalInjected is every raw fee credit ever handed to the engine.
	TotalInjected credits.Credits
}

// Held returns the credits accounted for in pools and balances.
func (b CreditsBalance) Held() credits.Decimal {
	return b.EpochPools.Add(b.GlobalStorage).Add(credits.FromCredits(b.IdentityBalances))
}

// IsBalanced reports whether held credits equal injected credits exactly.
func (b CreditsBalance) IsBalanced() bool {
	return b.Held().Equal(credits.FromCredits(b.TotalInjected))
}

// CalculateTotalCreditsBalance walks the materialized window and the balance
// ledger.
func (e *Engine) CalculateTotalCreditsBalance(tx *tree.Transaction) (CreditsBalance, error) {
	first, last, _, err := e.window.MaterializedRange(tx)
	if err != nil {
		return CreditsBalance{}, err
	}
	pools := credits.Zero()
	for i := int(first); i <= int(last); i++ {
		pool := e.window.Pool(types.EpochIndex(i))
		storage, err := pool.StorageFee(tx)
		if err != nil {
			return CreditsBalance{}, err
		}
		processing, err := pool.ProcessingFee(tx)
		if err != nil {
			return CreditsBalance{}, err
		}
		pools = pools.Add(storage).Add(credits.FromCredits(processing))
	}
	global, err := e.window.GlobalStoragePool(tx)
	if err != nil {
		return CreditsBalance{}, err
	}
	balances, err := e.bank.TotalBalances(tx)
	if err != nil {
		return CreditsBalance{}, err
	}
	injected, err := e.window.TotalCreditsInjected(tx)
	if err != nil {
		return CreditsBalance{}, err
	}
	return CreditsBalance{
		EpochPools:       pools,
		GlobalStorage:    global,
		IdentityBalances: balances,
		TotalInjected:    injected,
	}, nil
}

// VerifyConservation fails with ErrCreditsNotBalanced when credits were
// created or destroyed.
func (e *Engine) VerifyConservation(tx *tree.Transaction) error {
	balance, err := e.CalculateTotalCreditsBalance(tx)
	if err != nil {
		return err
	}
	if !balance.IsBalanced() {
		return fmt.Errorf("%w: held %s, injected %d", feeerrors.ErrCreditsNotBalanced, balance.Held(), balance.TotalInjected)
	}
	return nil
}
