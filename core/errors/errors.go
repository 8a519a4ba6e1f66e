package errors

import stderrors "errors"

var (
	// ErrStoreUnavailable wraps any failure of the backing store. It is fatal
	// for the block being processed.
	ErrStoreUnavailable = stderrors.New("feepools: store unavailable")
	// ErrEpochNotFound is returned when an epoch index lies outside the
	// materialized window. Reads never default such an index to zero.
	ErrEpochNotFound = stderrors.New("feepools: epoch not found")
	// ErrEpochNotStarted is returned when timing metadata is read from a
	// materialized pool that has never been the current epoch.
	ErrEpochNotStarted = stderrors.New("feepools: epoch not started")
	// ErrArithmeticConversion is returned when a value cannot be represented
	// in the target integer width, e.g. a negative leftover or a u64 overflow.
	ErrArithmeticConversion = stderrors.New("feepools: arithmetic conversion")
	// ErrEpochAlreadyStarted is returned when an epoch change is signalled
	// for an epoch that already recorded its first block.
	ErrEpochAlreadyStarted = stderrors.New("feepools: epoch already started")
	// ErrEpochOutOfOrder is returned when an epoch change names an index
	// below the epoch that is already current.
	ErrEpochOutOfOrder = stderrors.New("feepools: epoch change out of order")
	// ErrCorruptedPool is returned when a stored pool element has the wrong
	// type or length.
	ErrCorruptedPool = stderrors.New("feepools: corrupted pool element")
	// ErrCreditsNotBalanced is returned by the conservation audit.
	ErrCreditsNotBalanced = stderrors.New("feepools: credits not balanced")
	// ErrInvalidRewardShares is returned when a proposer's reward shares
	// exceed 100%.
	ErrInvalidRewardShares = stderrors.New("feepools: invalid reward shares")
)
