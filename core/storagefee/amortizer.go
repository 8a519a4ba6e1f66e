// Package storagefee spreads the storage fees collected during an epoch over
// the pools of the epochs that follow it.
package storagefee

import (
	"fmt"
	"strings"

	"feepools/core/credits"
	"feepools/core/epoch"
	"feepools/core/types"
	"feepools/storage/tree"
)

// Amortizer drains the storage pool of a closed epoch into the window that
// starts at the current epoch. Implementations must move the closed pool to
// exactly zero, conserve the total and only touch pools in
// [current, current+epoch.PerpetualStorageEpochs).
type Amortizer interface {
	Name() string
	AddAmortizeOperations(batch *tree.Batch, closed, current types.EpochIndex, tx *tree.Transaction) error
}

const (
	// StrategyEra selects EraAmortizer.
	StrategyEra = "era"
	// StrategyUniform selects UniformAmortizer.
	StrategyUniform = "uniform"
)

// New builds the amortizer named by strategy. epochs is only used by the
// uniform strategy.
func New(strategy string, epochs int, window epoch.Window) (Amortizer, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyEra:
		return NewEraAmortizer(window), nil
	case StrategyUniform:
		return NewUniformAmortizer(window, epochs)
	default:
		return nil, fmt.Errorf("storagefee: unknown amortization strategy %q", strategy)
	}
}

// distribute writes the planned per-offset amounts plus the head remainder.
// amounts[i] is added to pool current+i; remainder lands on current.
func distribute(batch *tree.Batch, window epoch.Window, closed, current types.EpochIndex, amounts []credits.Credits, remainder credits.Decimal, tx *tree.Transaction) error {
	if len(amounts) > epoch.PerpetualStorageEpochs {
		return fmt.Errorf("storagefee: %d target pools exceed the window", len(amounts))
	}
	if err := window.Pool(closed).AddUpdateStorageFeeOperations(batch, credits.Zero()); err != nil {
		return err
	}
	for offset, amount := range amounts {
		add := credits.FromCredits(amount)
		if offset == 0 {
			add = add.Add(remainder)
		}
		if add.IsZero() {
			continue
		}
		pool := window.Pool(current + types.EpochIndex(offset))
		if err := pool.AddStorageFeeOperations(batch, add, tx); err != nil {
			return fmt.Errorf("amortize epoch %d into %d: %w", closed, pool.Index(), err)
		}
	}
	return nil
}

// drain reads the closed pool through batch and splits it into its integer
// and fractional parts.
func drain(batch *tree.Batch, window epoch.Window, closed types.EpochIndex, tx *tree.Transaction) (credits.Credits, credits.Decimal, error) {
	value, err := window.Pool(closed).PendingStorageFee(batch, tx)
	if err != nil {
		return 0, credits.Decimal{}, err
	}
	return value.Split()
}
