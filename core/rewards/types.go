package rewards

import (
	"feepools/core/credits"
	"feepools/core/types"
)

// DistributionResult summarises one payout round.
type DistributionResult struct {
	// TotalDistributed is every credit moved into identity balances.
	TotalDistributed credits.Credits
	// FeeLeftovers are the exact sub-credit remainders of proportional
	// division, plus whole pools of epochs that had no countable blocks.
	FeeLeftovers credits.Decimal
	// EpochsPaid lists settled epochs in ascending order.
	EpochsPaid []types.EpochIndex
	// ProposersPaid counts proposer entries settled across all epochs.
	ProposersPaid int
}

// EmptyDistribution returns a result with nothing paid.
func EmptyDistribution() DistributionResult {
	return DistributionResult{FeeLeftovers: credits.Zero()}
}

// IsEmpty reports whether the round settled no epoch.
func (r DistributionResult) IsEmpty() bool {
	return len(r.EpochsPaid) == 0 && r.TotalDistributed == 0 && r.FeeLeftovers.IsZero()
}

// Clone returns a deep copy of the result.
func (r DistributionResult) Clone() DistributionResult {
	epochs := make([]types.EpochIndex, len(r.EpochsPaid))
	copy(epochs, r.EpochsPaid)
	return DistributionResult{
		TotalDistributed: r.TotalDistributed,
		FeeLeftovers:     r.FeeLeftovers,
		EpochsPaid:       epochs,
		ProposersPaid:    r.ProposersPaid,
	}
}
