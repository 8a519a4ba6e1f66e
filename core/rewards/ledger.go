// Package rewards pays the processing fees of closed epochs to the proposers
// that produced their blocks.
package rewards

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/holiman/uint256"

	"feepools/core/credits"
	"feepools/core/epoch"
	feeerrors "feepools/core/errors"
	"feepools/core/types"
	"feepools/storage/tree"
)

// BalanceCreditor credits identity balances on a pending batch.
type BalanceCreditor interface {
	AddCreditBalanceOperations(batch *tree.Batch, id types.Identifier, amount credits.Credits, tx *tree.Transaction) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithShareResolver lets proposers delegate parts of their reward.
func WithShareResolver(resolver ShareResolver) Option {
	return func(l *Ledger) { l.shares = resolver }
}

// WithLogger sets the logger used for payout records.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Ledger settles unpaid epochs. It keeps no state between calls; the unpaid
// cursor and proposer maps live in the store.
type Ledger struct {
	window   epoch.Window
	balances BalanceCreditor
	shares   ShareResolver
	logger   *slog.Logger
}

// NewLedger constructs a payout ledger.
func NewLedger(window epoch.Window, balances BalanceCreditor, opts ...Option) *Ledger {
	l := &Ledger{window: window, balances: balances, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddDistributeFeesFromUnpaidPoolsToProposersOperations settles every closed
// epoch below upto that still has proposers, oldest first, and queues the
// balance credits and pool resets on batch. Settled epochs are left with an
// empty proposer map and a zero processing pool, so running it again pays
// nothing.
func (l *Ledger) AddDistributeFeesFromUnpaidPoolsToProposersOperations(batch *tree.Batch, upto types.EpochIndex, tx *tree.Transaction) (DistributionResult, error) {
	result := EmptyDistribution()
	cursor, err := l.window.UnpaidCursor(batch, tx)
	if err != nil {
		return result, err
	}
	if cursor >= upto {
		return result, nil
	}
	for index := cursor; index < upto; index++ {
		if err := l.settleEpoch(batch, l.window.Pool(index), tx, &result); err != nil {
			return EmptyDistribution(), err
		}
	}
	l.window.AddSetUnpaidCursorOperations(batch, upto)
	if len(result.EpochsPaid) > 0 {
		l.logger.Debug("rewards: settled epochs",
			slog.Any("epochs", result.EpochsPaid),
			slog.Uint64("distributed", result.TotalDistributed),
			slog.String("leftovers", result.FeeLeftovers.String()),
			slog.Int("proposers", result.ProposersPaid))
	}
	return result, nil
}

func (l *Ledger) settleEpoch(batch *tree.Batch, pool epoch.Pool, tx *tree.Transaction, result *DistributionResult) error {
	proposers, err := pool.ProposerBlockCounts(tx)
	if err != nil {
		return err
	}
	if len(proposers) == 0 {
		return nil
	}
	processing, err := pool.ProcessingFee(tx)
	if err != nil {
		return err
	}

	totalBlocks := new(uint256.Int)
	for _, p := range proposers {
		totalBlocks.Add(totalBlocks, uint256.NewInt(p.Blocks))
	}
	if totalBlocks.IsZero() {
		result.FeeLeftovers = result.FeeLeftovers.Add(credits.FromCredits(processing))
		result.EpochsPaid = append(result.EpochsPaid, pool.Index())
		return pool.AddMarkAsPaidOperations(batch)
	}

	fees := uint256.NewInt(processing)
	remainder := new(uint256.Int)
	for _, p := range proposers {
		reward := new(uint256.Int).Mul(fees, uint256.NewInt(p.Blocks))
		payable, rem := new(uint256.Int), new(uint256.Int)
		payable.DivMod(reward, totalBlocks, rem)
		remainder.Add(remainder, rem)

		paid, err := l.payProposer(batch, p.ProposerID, reward, totalBlocks, payable.Uint64(), tx)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", pool.Index(), err)
		}
		if result.TotalDistributed, err = credits.AddCredits(result.TotalDistributed, paid); err != nil {
			return err
		}
		result.ProposersPaid++
	}
	if !remainder.IsZero() {
		leftover := new(big.Rat).SetFrac(remainder.ToBig(), totalBlocks.ToBig())
		result.FeeLeftovers = result.FeeLeftovers.Add(credits.FromRat(leftover))
	}
	result.EpochsPaid = append(result.EpochsPaid, pool.Index())
	return pool.AddMarkAsPaidOperations(batch)
}

// payProposer credits payable, the floor of reward/totalBlocks, split between
// the proposer's share recipients and the proposer. Each recipient receives
// floor(reward*bps/(totalBlocks*10000)) of the exact reward; the proposer
// keeps the rest.
func (l *Ledger) payProposer(batch *tree.Batch, proposer types.ProposerID, reward, totalBlocks *uint256.Int, payable credits.Credits, tx *tree.Transaction) (credits.Credits, error) {
	remaining := payable
	if l.shares != nil {
		shares, err := l.shares.RewardShares(proposer)
		if err != nil {
			return 0, err
		}
		if err := ValidateShares(shares); err != nil {
			return 0, fmt.Errorf("proposer %s: %w", proposer, err)
		}
		denom := new(uint256.Int).Mul(totalBlocks, uint256.NewInt(uint64(SplitDenominator)))
		for _, share := range shares {
			amount := new(uint256.Int).Mul(reward, uint256.NewInt(uint64(share.BasisPoints)))
			amount.Div(amount, denom)
			if !amount.IsUint64() || amount.Uint64() > remaining {
				return 0, fmt.Errorf("%w: share for %s exceeds reward", feeerrors.ErrArithmeticConversion, share.PayTo)
			}
			if err := l.balances.AddCreditBalanceOperations(batch, share.PayTo, amount.Uint64(), tx); err != nil {
				return 0, err
			}
			remaining -= amount.Uint64()
		}
	}
	if err := l.balances.AddCreditBalanceOperations(batch, proposer, remaining, tx); err != nil {
		return 0, err
	}
	return payable, nil
}
