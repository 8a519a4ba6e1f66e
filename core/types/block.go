package types

// BlockInfo describes the block being finalized.
type BlockInfo struct {
	Height     uint64     `json:"height"`
	TimeMs     int64      `json:"timeMs"`
	ProposerID ProposerID `json:"proposer"`
}

// EpochInfo is supplied by the block-execution driver. IsEpochChange is true
// only for the first block of CurrentIndex.
type EpochInfo struct {
	CurrentIndex  EpochIndex `json:"currentIndex"`
	IsEpochChange bool       `json:"isEpochChange"`
}

// BlockFees are the raw fees collected by the block. FeeMultiplier is
// recorded on the epoch pool when the block opens a new epoch.
type BlockFees struct {
	ProcessingFees uint64 `json:"processingFees"`
	StorageFees    uint64 `json:"storageFees"`
	FeeMultiplier  uint64 `json:"feeMultiplier"`
}
