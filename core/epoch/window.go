package epoch

import (
	"errors"
	"fmt"

	"feepools/core/credits"
	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/storage/tree"
)

// Window manages the rolling range of materialized pools together with the
// counters kept beside them under the pools root.
type Window struct {
	store Reader
}

// NewWindow returns a window over store.
func NewWindow(store Reader) Window {
	return Window{store: store}
}

// Pool returns the handle for index.
func (w Window) Pool(index types.EpochIndex) Pool {
	return NewPool(w.store, index)
}

// AddInitializeAllEpochPoolsOperations queues the genesis pools
// 0..PerpetualStorageEpochs-1, the global storage pool, the injected credits
// counter and the unpaid cursor. The pools root must already exist or be
// created earlier in batch.
func (w Window) AddInitializeAllEpochPoolsOperations(batch *tree.Batch) error {
	zero, err := credits.EncodeDecimal(credits.Zero())
	if err != nil {
		return err
	}
	batch.InsertItem(PoolsPath, keyGlobalStorage, zero)
	batch.InsertItem(PoolsPath, keyTotalInjected, encodeU64(0))
	batch.InsertItem(PoolsPath, keyUnpaidCursor, encodeU16(GenesisEpochIndex))
	for i := 0; i < PerpetualStorageEpochs; i++ {
		if err := w.Pool(GenesisEpochIndex + types.EpochIndex(i)).AddInitEmptyOperations(batch); err != nil {
			return err
		}
	}
	return nil
}

// Shift describes an epoch change queued by AddShiftWindowOperations.
type Shift struct {
	// Current is the epoch that became current.
	Current types.EpochIndex
	// Closed lists, in ascending order, the epochs that can no longer become
	// current: the previously current epoch and every index the change
	// skipped over.
	Closed []types.EpochIndex
	// Created is the number of pools materialized at the far end.
	Created int
}

// AddShiftWindowOperations opens epoch current. Every pool up to
// current+PerpetualStorageEpochs that is not materialized yet is created
// empty, including the ones a skip over several indices would otherwise leave
// out, and current records its start block. Epoch changes must move forward:
// repeating the current epoch fails with ErrEpochAlreadyStarted and going
// back fails with ErrEpochOutOfOrder. Nothing is queued on failure.
func (w Window) AddShiftWindowOperations(batch *tree.Batch, current types.EpochIndex, startHeight uint64, startTimeMs int64, feeMultiplier uint64, tx *tree.Transaction) (Shift, error) {
	far := uint32(current) + PerpetualStorageEpochs
	if far > MaxEpochIndex {
		return Shift{}, fmt.Errorf("%w: epoch %d would materialize index %d beyond %d",
			feeerrors.ErrArithmeticConversion, current, far, MaxEpochIndex)
	}
	last, started, err := w.LastStartedEpoch(batch, tx)
	if err != nil {
		return Shift{}, err
	}

	shift := Shift{Current: current}
	top := uint32(GenesisEpochIndex) + PerpetualStorageEpochs - 1
	closedFrom := GenesisEpochIndex
	if started {
		switch {
		case current == last:
			return Shift{}, fmt.Errorf("%w: epoch %d", feeerrors.ErrEpochAlreadyStarted, current)
		case current < last:
			return Shift{}, fmt.Errorf("%w: epoch %d after %d", feeerrors.ErrEpochOutOfOrder, current, last)
		}
		top = uint32(last) + PerpetualStorageEpochs
		closedFrom = last
	}
	for index := closedFrom; index < current; index++ {
		shift.Closed = append(shift.Closed, index)
	}

	for index := top + 1; index <= far; index++ {
		if err := w.Pool(types.EpochIndex(index)).AddInitEmptyOperations(batch); err != nil {
			return Shift{}, err
		}
		shift.Created++
	}
	if err := w.Pool(current).AddBecomeCurrentOperations(batch, startHeight, startTimeMs, feeMultiplier); err != nil {
		return Shift{}, err
	}
	batch.InsertItem(PoolsPath, keyLastStarted, encodeU16(current))
	return shift, nil
}

// LastStartedEpoch returns the most recent epoch that became current. ok is
// false until the first epoch change.
func (w Window) LastStartedEpoch(batch *tree.Batch, tx *tree.Transaction) (index types.EpochIndex, ok bool, err error) {
	element, err := w.store.GetPending(batch, PoolsPath, keyLastStarted, tx)
	if errors.Is(err, tree.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, w.mapError(err, "last started epoch")
	}
	index, err = decodeU16(element.Value)
	if err != nil {
		return 0, false, err
	}
	return index, true, nil
}

// MaterializedRange returns the lowest and highest materialized index and the
// number of pools between them.
func (w Window) MaterializedRange(tx *tree.Transaction) (first, last types.EpochIndex, count int, err error) {
	entries, err := w.store.Children(PoolsPath, tx)
	if err != nil {
		return 0, 0, 0, w.mapError(err, "pools root")
	}
	for _, entry := range entries {
		if !entry.Element.IsTree() {
			continue
		}
		index, ok := DecodeEpochKey(entry.Key)
		if !ok {
			return 0, 0, 0, fmt.Errorf("%w: unexpected pool key %x", feeerrors.ErrCorruptedPool, entry.Key)
		}
		if count == 0 {
			first = index
		}
		last = index
		count++
	}
	if count == 0 {
		return 0, 0, 0, fmt.Errorf("%w: no pools materialized", feeerrors.ErrEpochNotFound)
	}
	return first, last, count, nil
}

// GlobalStoragePool returns the balance of the epoch independent storage pool.
func (w Window) GlobalStoragePool(tx *tree.Transaction) (credits.Decimal, error) {
	element, err := w.store.Get(PoolsPath, keyGlobalStorage, tx)
	if err != nil {
		return credits.Decimal{}, w.mapError(err, "global storage pool")
	}
	value, err := credits.DecodeDecimal(element.Value)
	if err != nil {
		return credits.Decimal{}, fmt.Errorf("%w: global storage pool: %w", feeerrors.ErrCorruptedPool, err)
	}
	return value, nil
}

// TotalCreditsInjected returns every fee credit ever handed to the engine.
func (w Window) TotalCreditsInjected(tx *tree.Transaction) (credits.Credits, error) {
	return w.pendingU64(nil, keyTotalInjected, "total credits injected", tx)
}

// AddTotalCreditsInjectedOperations raises the injected credits counter.
func (w Window) AddTotalCreditsInjectedOperations(batch *tree.Batch, amount credits.Credits, tx *tree.Transaction) error {
	if amount == 0 {
		return nil
	}
	current, err := w.pendingU64(batch, keyTotalInjected, "total credits injected", tx)
	if err != nil {
		return err
	}
	total, err := credits.AddCredits(current, amount)
	if err != nil {
		return fmt.Errorf("total credits injected: %w", err)
	}
	batch.InsertItem(PoolsPath, keyTotalInjected, encodeU64(total))
	return nil
}

// UnpaidCursor returns the lowest epoch that may still hold unpaid blocks.
func (w Window) UnpaidCursor(batch *tree.Batch, tx *tree.Transaction) (types.EpochIndex, error) {
	element, err := w.store.GetPending(batch, PoolsPath, keyUnpaidCursor, tx)
	if err != nil {
		return 0, w.mapError(err, "unpaid cursor")
	}
	return decodeU16(element.Value)
}

// AddSetUnpaidCursorOperations moves the unpaid cursor.
func (w Window) AddSetUnpaidCursorOperations(batch *tree.Batch, index types.EpochIndex) {
	batch.InsertItem(PoolsPath, keyUnpaidCursor, encodeU16(index))
}

func (w Window) pendingU64(batch *tree.Batch, key []byte, field string, tx *tree.Transaction) (uint64, error) {
	element, err := w.store.GetPending(batch, PoolsPath, key, tx)
	if err != nil {
		return 0, w.mapError(err, field)
	}
	return decodeU64(element.Value)
}

func (w Window) mapError(err error, field string) error {
	switch {
	case errors.Is(err, tree.ErrPathNotFound), errors.Is(err, tree.ErrKeyNotFound):
		return fmt.Errorf("%w: %s missing, genesis not applied: %w", feeerrors.ErrCorruptedPool, field, err)
	case errors.Is(err, tree.ErrBackend):
		return fmt.Errorf("%w: %s: %w", feeerrors.ErrStoreUnavailable, field, err)
	default:
		return fmt.Errorf("%s: %w", field, err)
	}
}
