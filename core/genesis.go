package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"feepools/core/epoch"
	feeerrors "feepools/core/errors"
	"feepools/storage/tree"
)

// AddCreateFeePoolTreesOperations queues the genesis state: the pools root
// with the full window, the global counters and the balances root.
func (e *Engine) AddCreateFeePoolTreesOperations(batch *tree.Batch) error {
	batch.InsertEmptyTree(nil, epoch.PoolsRootKey)
	e.bank.AddInitOperations(batch)
	return e.window.AddInitializeAllEpochPoolsOperations(batch)
}

// CreateGenesisState applies the genesis state in one batch.
func (e *Engine) CreateGenesisState(ctx context.Context, tx *tree.Transaction) error {
	_, span := e.tracer.Start(ctx, "feepools.create_genesis_state")
	defer span.End()

	initialized, err := e.IsInitialized(tx)
	if err != nil {
		return err
	}
	if initialized {
		return fmt.Errorf("feepools: genesis state already exists")
	}
	batch := tree.NewBatch()
	if err := e.AddCreateFeePoolTreesOperations(batch); err != nil {
		return err
	}
	if err := e.apply(batch, tx, stepGenesis); err != nil {
		return err
	}
	e.logger.Info("feepools: genesis state created",
		slog.Int("pools", epoch.PerpetualStorageEpochs),
		slog.Int("ops", batch.Len()))
	return nil
}

// IsInitialized reports whether the genesis state has been applied.
func (e *Engine) IsInitialized(tx *tree.Transaction) (bool, error) {
	element, err := e.store.Get(nil, epoch.PoolsRootKey, tx)
	switch {
	case err == nil:
		if !element.IsTree() {
			return false, fmt.Errorf("%w: pools root is not a tree", feeerrors.ErrCorruptedPool)
		}
		return true, nil
	case errors.Is(err, tree.ErrKeyNotFound):
		return false, nil
	case errors.Is(err, tree.ErrBackend):
		return false, fmt.Errorf("%w: %w", feeerrors.ErrStoreUnavailable, err)
	default:
		return false, err
	}
}
