package epoch

import (
	"errors"
	"fmt"
	"math"

	"feepools/core/credits"
	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/storage/tree"
)

// Reader is the read side of the path store the pools live in.
// *tree.Store satisfies it.
type Reader interface {
	Get(path tree.Path, key []byte, tx *tree.Transaction) (tree.Element, error)
	GetPending(batch *tree.Batch, path tree.Path, key []byte, tx *tree.Transaction) (tree.Element, error)
	Children(path tree.Path, tx *tree.Transaction) ([]tree.Entry, error)
	IsEmptyTree(path tree.Path, tx *tree.Transaction) (bool, error)
}

// ProposerBlocks is one entry of an epoch's proposer map.
type ProposerBlocks struct {
	ProposerID types.ProposerID
	Blocks     uint64
}

// Pool is a handle on the accounting record of a single epoch. It holds no
// state of its own; every read goes to the store and every write is queued
// on a caller supplied batch.
type Pool struct {
	store Reader
	index types.EpochIndex
}

// NewPool returns a handle for index.
func NewPool(store Reader, index types.EpochIndex) Pool {
	return Pool{store: store, index: index}
}

// Index returns the epoch index.
func (p Pool) Index() types.EpochIndex { return p.index }

// path fails with ErrEpochNotFound for indices that can never be
// materialized.
func (p Pool) path() (tree.Path, error) {
	if p.index > MaxEpochIndex {
		return nil, fmt.Errorf("%w: epoch %d exceeds %d", feeerrors.ErrEpochNotFound, p.index, MaxEpochIndex)
	}
	return Path(p.index)
}

// AddInitEmptyOperations queues creation of the epoch subtree with zeroed fee
// pools and an empty proposer map. The index must not exist yet.
func (p Pool) AddInitEmptyOperations(batch *tree.Batch) error {
	key, err := EpochKey(p.index)
	if err != nil {
		return err
	}
	path := PoolsPath.Child(key)
	storage, err := credits.EncodeDecimal(credits.Zero())
	if err != nil {
		return err
	}
	batch.InsertEmptyTree(PoolsPath, key)
	batch.InsertItem(path, keyStorage, storage)
	batch.InsertItem(path, keyProcessing, encodeU64(0))
	batch.InsertEmptyTree(path, keyProposers)
	return nil
}

// AddBecomeCurrentOperations records the first block of the epoch and resets
// the processing pool. It runs once per epoch.
func (p Pool) AddBecomeCurrentOperations(batch *tree.Batch, startHeight uint64, startTimeMs int64, feeMultiplier uint64) error {
	path, err := p.path()
	if err != nil {
		return err
	}
	batch.InsertItem(path, keyHeight, encodeU64(startHeight))
	batch.InsertItem(path, keyTime, encodeU64(uint64(startTimeMs)))
	batch.InsertItem(path, keyMultiplier, encodeU64(feeMultiplier))
	batch.InsertItem(path, keyProcessing, encodeU64(0))
	return nil
}

// IncrementProposerBlockCountOperation bumps the block count of proposer by
// one, reading through earlier writes queued on batch.
func (p Pool) IncrementProposerBlockCountOperation(batch *tree.Batch, proposer types.ProposerID, tx *tree.Transaction) error {
	path, err := p.path()
	if err != nil {
		return err
	}
	proposers := path.Child(keyProposers)
	count := uint64(0)
	element, err := p.store.GetPending(batch, proposers, proposer[:], tx)
	switch {
	case err == nil:
		if count, err = decodeU64(element.Value); err != nil {
			return err
		}
	case errors.Is(err, tree.ErrKeyNotFound):
	default:
		return p.mapError(err, "proposer block count")
	}
	if count == math.MaxUint64 {
		return fmt.Errorf("%w: proposer block count overflow", feeerrors.ErrArithmeticConversion)
	}
	batch.InsertItem(proposers, proposer[:], encodeU64(count+1))
	return nil
}

// AddProcessingFeeOperations adds amount to the processing pool.
func (p Pool) AddProcessingFeeOperations(batch *tree.Batch, amount credits.Credits, tx *tree.Transaction) error {
	if amount == 0 {
		return nil
	}
	path, err := p.path()
	if err != nil {
		return err
	}
	element, err := p.store.GetPending(batch, path, keyProcessing, tx)
	if err != nil {
		return p.mapError(err, "processing fee")
	}
	current, err := decodeU64(element.Value)
	if err != nil {
		return err
	}
	total, err := credits.AddCredits(current, amount)
	if err != nil {
		return fmt.Errorf("epoch %d processing fee: %w", p.index, err)
	}
	batch.InsertItem(path, keyProcessing, encodeU64(total))
	return nil
}

// AddStorageFeeOperations adds amount to the storage pool. Negative amounts
// are rejected.
func (p Pool) AddStorageFeeOperations(batch *tree.Batch, amount credits.Decimal, tx *tree.Transaction) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative storage fee %s", feeerrors.ErrArithmeticConversion, amount)
	}
	if amount.IsZero() {
		return nil
	}
	current, err := p.pendingStorageFee(batch, tx)
	if err != nil {
		return err
	}
	return p.AddUpdateStorageFeeOperations(batch, current.Add(amount))
}

// AddUpdateStorageFeeOperations overwrites the storage pool.
func (p Pool) AddUpdateStorageFeeOperations(batch *tree.Batch, value credits.Decimal) error {
	path, err := p.path()
	if err != nil {
		return err
	}
	raw, err := credits.EncodeDecimal(value)
	if err != nil {
		return err
	}
	batch.InsertItem(path, keyStorage, raw)
	return nil
}

// AddMarkAsPaidOperations settles the epoch: the proposer map is replaced by
// an empty one and the processing pool is zeroed. Running it on a paid epoch
// changes nothing.
func (p Pool) AddMarkAsPaidOperations(batch *tree.Batch) error {
	path, err := p.path()
	if err != nil {
		return err
	}
	batch.DeleteTree(path, keyProposers)
	batch.InsertEmptyTree(path, keyProposers)
	batch.InsertItem(path, keyProcessing, encodeU64(0))
	return nil
}

// PendingStorageFee reads the storage pool through writes queued on batch.
func (p Pool) PendingStorageFee(batch *tree.Batch, tx *tree.Transaction) (credits.Decimal, error) {
	return p.pendingStorageFee(batch, tx)
}

func (p Pool) pendingStorageFee(batch *tree.Batch, tx *tree.Transaction) (credits.Decimal, error) {
	path, err := p.path()
	if err != nil {
		return credits.Decimal{}, err
	}
	element, err := p.store.GetPending(batch, path, keyStorage, tx)
	if err != nil {
		return credits.Decimal{}, p.mapError(err, "storage fee")
	}
	value, err := credits.DecodeDecimal(element.Value)
	if err != nil {
		return credits.Decimal{}, fmt.Errorf("%w: epoch %d storage fee: %w", feeerrors.ErrCorruptedPool, p.index, err)
	}
	return value, nil
}

// StorageFee returns the storage pool balance.
func (p Pool) StorageFee(tx *tree.Transaction) (credits.Decimal, error) {
	return p.pendingStorageFee(nil, tx)
}

// ProcessingFee returns the processing pool balance.
func (p Pool) ProcessingFee(tx *tree.Transaction) (credits.Credits, error) {
	return p.readU64(keyProcessing, "processing fee", tx)
}

// StartBlockHeight returns the height of the epoch's first block.
func (p Pool) StartBlockHeight(tx *tree.Transaction) (uint64, error) {
	return p.readU64(keyHeight, "start block height", tx)
}

// StartTime returns the time of the epoch's first block in milliseconds.
func (p Pool) StartTime(tx *tree.Transaction) (int64, error) {
	v, err := p.readU64(keyTime, "start time", tx)
	return int64(v), err
}

// FeeMultiplier returns the multiplier recorded when the epoch began.
func (p Pool) FeeMultiplier(tx *tree.Transaction) (uint64, error) {
	return p.readU64(keyMultiplier, "fee multiplier", tx)
}

// ProposerBlockCounts lists the proposer map in ascending id order.
func (p Pool) ProposerBlockCounts(tx *tree.Transaction) ([]ProposerBlocks, error) {
	path, err := p.path()
	if err != nil {
		return nil, err
	}
	entries, err := p.store.Children(path.Child(keyProposers), tx)
	if err != nil {
		return nil, p.mapError(err, "proposers")
	}
	out := make([]ProposerBlocks, 0, len(entries))
	for _, entry := range entries {
		id, err := types.IdentifierFromBytes(entry.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: epoch %d proposer key: %w", feeerrors.ErrCorruptedPool, p.index, err)
		}
		if !entry.Element.IsItem() {
			return nil, fmt.Errorf("%w: epoch %d proposer %s is not an item", feeerrors.ErrCorruptedPool, p.index, id)
		}
		blocks, err := decodeU64(entry.Element.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, ProposerBlocks{ProposerID: id, Blocks: blocks})
	}
	return out, nil
}

// IsPaid reports whether the proposer map is empty, which is the case for a
// settled epoch and for one that never produced a block.
func (p Pool) IsPaid(tx *tree.Transaction) (bool, error) {
	path, err := p.path()
	if err != nil {
		return false, err
	}
	empty, err := p.store.IsEmptyTree(path.Child(keyProposers), tx)
	if err != nil {
		return false, p.mapError(err, "proposers")
	}
	return empty, nil
}

func (p Pool) readU64(key []byte, field string, tx *tree.Transaction) (uint64, error) {
	path, err := p.path()
	if err != nil {
		return 0, err
	}
	element, err := p.store.Get(path, key, tx)
	if err != nil {
		return 0, p.mapError(err, field)
	}
	if !element.IsItem() {
		return 0, fmt.Errorf("%w: epoch %d %s is not an item", feeerrors.ErrCorruptedPool, p.index, field)
	}
	return decodeU64(element.Value)
}

// mapError translates store errors into the fee pool taxonomy. A missing
// pool subtree means the index is outside the window; a missing timing field
// means the epoch never became current.
func (p Pool) mapError(err error, field string) error {
	switch {
	case errors.Is(err, tree.ErrPathNotFound):
		return fmt.Errorf("%w: epoch %d", feeerrors.ErrEpochNotFound, p.index)
	case errors.Is(err, tree.ErrKeyNotFound):
		switch field {
		case "start block height", "start time", "fee multiplier":
			return fmt.Errorf("%w: epoch %d %s", feeerrors.ErrEpochNotStarted, p.index, field)
		}
		return fmt.Errorf("%w: epoch %d missing %s", feeerrors.ErrCorruptedPool, p.index, field)
	case errors.Is(err, tree.ErrBackend):
		return fmt.Errorf("%w: epoch %d %s: %w", feeerrors.ErrStoreUnavailable, p.index, field, err)
	case errors.Is(err, tree.ErrNotTree), errors.Is(err, tree.ErrCorruptedElement):
		return fmt.Errorf("%w: epoch %d %s: %w", feeerrors.ErrCorruptedPool, p.index, field, err)
	default:
		return fmt.Errorf("epoch %d %s: %w", p.index, field, err)
	}
}
