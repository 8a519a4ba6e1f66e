package rewards

import (
	"fmt"
	"sort"

	feeerrors "feepools/core/errors"
	"feepools/core/types"
)

// SplitDenominator is the basis point denominator for reward shares.
const SplitDenominator uint32 = 10_000

// Share delegates a basis point fraction of a proposer's reward to another
// identity.
type Share struct {
	PayTo       types.Identifier `json:"payTo" yaml:"payTo"`
	BasisPoints uint32           `json:"basisPoints" yaml:"basisPoints"`
}

// ShareResolver returns the reward shares a proposer has registered. The
// returned order is the order recipients are credited in.
type ShareResolver interface {
	RewardShares(proposer types.ProposerID) ([]Share, error)
}

// StaticShares is an in-memory ShareResolver.
type StaticShares map[types.ProposerID][]Share

// RewardShares returns the shares of proposer ordered by recipient id.
func (s StaticShares) RewardShares(proposer types.ProposerID) ([]Share, error) {
	shares := append([]Share(nil), s[proposer]...)
	sort.Slice(shares, func(i, j int) bool {
		return shares[i].PayTo.Compare(shares[j].PayTo) < 0
	})
	if err := ValidateShares(shares); err != nil {
		return nil, fmt.Errorf("proposer %s: %w", proposer, err)
	}
	return shares, nil
}

// ValidateShares ensures the shares sum to at most 100%.
func ValidateShares(shares []Share) error {
	var total uint64
	for i, share := range shares {
		if share.BasisPoints == 0 {
			return fmt.Errorf("%w: share %d has zero basis points", feeerrors.ErrInvalidRewardShares, i)
		}
		total += uint64(share.BasisPoints)
	}
	if total > uint64(SplitDenominator) {
		return fmt.Errorf("%w: shares sum to %d basis points", feeerrors.ErrInvalidRewardShares, total)
	}
	return nil
}
