// Package epoch stores per-epoch fee accounting records and the rolling
// window of pre-allocated pools they live in.
package epoch

import (
	"encoding/binary"
	"fmt"
	"math"

	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/storage/tree"
)

const (
	// PerpetualStorageEpochs is the width of the materialized window. Storage
	// fees collected in one epoch are spread over at most this many pools.
	PerpetualStorageEpochs = 1000
	// GenesisEpochIndex is the first epoch.
	GenesisEpochIndex types.EpochIndex = 0
	// EpochKeyOffset is added to an index before it is used as a key so that
	// epoch 0 never encodes as 0x0000.
	EpochKeyOffset = 256
	// MaxEpochIndex is the largest index whose key fits in two bytes.
	MaxEpochIndex = math.MaxUint16 - EpochKeyOffset
)

var (
	// PoolsRootKey is the root subtree holding every fee pool.
	PoolsRootKey = []byte{'f'}
	// PoolsPath addresses the fee pools root.
	PoolsPath = tree.Path{PoolsRootKey}

	keyGlobalStorage = []byte{'s'}
	keyTotalInjected = []byte{'c'}
	keyUnpaidCursor  = []byte{'u'}
	keyLastStarted   = []byte{'l'}

	keyProcessing = []byte{'p'}
	keyStorage    = []byte{'s'}
	keyHeight     = []byte{'h'}
	keyTime       = []byte{'t'}
	keyMultiplier = []byte{'x'}
	keyProposers  = []byte{'m'}
)

// EpochKey returns the key of the epoch subtree under PoolsPath.
func EpochKey(index types.EpochIndex) ([]byte, error) {
	if index > MaxEpochIndex {
		return nil, fmt.Errorf("%w: epoch index %d exceeds %d", feeerrors.ErrArithmeticConversion, index, MaxEpochIndex)
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], index+EpochKeyOffset)
	return buf[:], nil
}

// DecodeEpochKey reverses EpochKey.
func DecodeEpochKey(key []byte) (types.EpochIndex, bool) {
	if len(key) != 2 {
		return 0, false
	}
	raw := binary.BigEndian.Uint16(key)
	if raw < EpochKeyOffset {
		return 0, false
	}
	return raw - EpochKeyOffset, true
}

// Path returns the subtree path of an epoch pool.
func Path(index types.EpochIndex) (tree.Path, error) {
	key, err := EpochKey(index)
	if err != nil {
		return nil, err
	}
	return PoolsPath.Child(key), nil
}

func encodeU64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeU64(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: expected 8 bytes, got %d", feeerrors.ErrCorruptedPool, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeU16(v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return buf[:]
}

func decodeU16(raw []byte) (uint16, error) {
	if len(raw) != 2 {
		return 0, fmt.Errorf("%w: expected 2 bytes, got %d", feeerrors.ErrCorruptedPool, len(raw))
	}
	return binary.BigEndian.Uint16(raw), nil
}
