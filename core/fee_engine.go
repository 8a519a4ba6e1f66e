package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"feepools/core/credits"
	"feepools/core/epoch"
	feeerrors "feepools/core/errors"
	"feepools/core/rewards"
	"feepools/core/storagefee"
	"feepools/core/types"
	"feepools/observability/metrics"
	"feepools/state/bank"
	"feepools/storage/tree"
)

// Store is the path store the engine keeps its state in. *tree.Store
// satisfies it.
type Store interface {
	epoch.Reader
	ApplyBatch(batch *tree.Batch, tx *tree.Transaction) error
}

const (
	stepShift      = "shift"
	stepDistribute = "distribute"
	stepGenesis    = "genesis"
)

// Option configures an Engine.
type Option func(*Engine)

// WithAmortizer replaces the default era amortizer.
func WithAmortizer(a storagefee.Amortizer) Option {
	return func(e *Engine) { e.amortizer = a }
}

// WithShareResolver enables proposer reward shares.
func WithShareResolver(r rewards.ShareResolver) Option {
	return func(e *Engine) { e.shares = r }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records block outcomes on m.
func WithMetrics(m *metrics.FeePoolMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for block spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithConservationCheck audits the credit totals after every block.
func WithConservationCheck(enabled bool) Option {
	return func(e *Engine) { e.verify = enabled }
}

// WithClock overrides the clock used for latency metrics.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Engine turns per-block fees into proposer rewards and forward funded
// storage endowments. It is not safe for concurrent use; blocks must be
// processed one at a time in order.
type Engine struct {
	store     Store
	window    epoch.Window
	bank      *bank.Ledger
	rewards   *rewards.Ledger
	amortizer storagefee.Amortizer
	shares    rewards.ShareResolver
	logger    *slog.Logger
	metrics   *metrics.FeePoolMetrics
	tracer    trace.Tracer
	clock     func() time.Time
	verify    bool
}

// NewEngine wires the pools, ledgers and amortizer over store.
func NewEngine(store Store, opts ...Option) *Engine {
	window := epoch.NewWindow(store)
	e := &Engine{
		store:  store,
		window: window,
		bank:   bank.NewLedger(store),
		logger: slog.Default(),
		tracer: otel.Tracer("feepools/core"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.amortizer == nil {
		e.amortizer = storagefee.NewEraAmortizer(window)
	}
	e.rewards = rewards.NewLedger(window, e.bank,
		rewards.WithShareResolver(e.shares),
		rewards.WithLogger(e.logger))
	e.metrics.InitSteps(stepShift, stepDistribute, stepGenesis)
	return e
}

// Window exposes the epoch window.
func (e *Engine) Window() epoch.Window { return e.window }

// Balances exposes the identity balance ledger.
func (e *Engine) Balances() *bank.Ledger { return e.bank }

// Amortizer returns the configured storage fee amortizer.
func (e *Engine) Amortizer() storagefee.Amortizer { return e.amortizer }

// ProcessBlockFees accounts one finalized block. On an epoch change the
// window is shifted and the previous epoch's storage pool amortized in a
// first batch. A second batch counts the block for its proposer, settles all
// closed epochs and tops up the current pools with the block's fees and the
// payout leftovers: whole credits go to processing, the exact fractional rest
// to storage.
func (e *Engine) ProcessBlockFees(ctx context.Context, block types.BlockInfo, epochInfo types.EpochInfo, fees types.BlockFees, tx *tree.Transaction) (result rewards.DistributionResult, err error) {
	start := e.clock()
	ctx, span := e.tracer.Start(ctx, "feepools.process_block_fees",
		trace.WithAttributes(
			attribute.Int64("block.height", int64(block.Height)),
			attribute.Int("epoch.index", int(epochInfo.CurrentIndex)),
			attribute.Bool("epoch.change", epochInfo.IsEpochChange),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "processed")
		}
		span.End()
		e.metrics.ObserveBlock(epochInfo.CurrentIndex, err, e.clock().Sub(start).Seconds())
	}()

	if epochInfo.IsEpochChange {
		if err := e.changeEpoch(ctx, block, epochInfo.CurrentIndex, fees.FeeMultiplier, tx); err != nil {
			return rewards.EmptyDistribution(), err
		}
	}

	current := e.window.Pool(epochInfo.CurrentIndex)
	batch := tree.NewBatch()
	if err := current.IncrementProposerBlockCountOperation(batch, block.ProposerID, tx); err != nil {
		return rewards.EmptyDistribution(), err
	}

	result, err = e.rewards.AddDistributeFeesFromUnpaidPoolsToProposersOperations(batch, epochInfo.CurrentIndex, tx)
	if err != nil {
		return rewards.EmptyDistribution(), err
	}

	integer, fraction, err := result.FeeLeftovers.Split()
	if err != nil {
		return rewards.EmptyDistribution(), fmt.Errorf("split fee leftovers: %w", err)
	}
	processing, err := credits.AddCredits(fees.ProcessingFees, integer)
	if err != nil {
		return rewards.EmptyDistribution(), err
	}
	if err := current.AddProcessingFeeOperations(batch, processing, tx); err != nil {
		return rewards.EmptyDistribution(), err
	}
	if err := current.AddStorageFeeOperations(batch, credits.FromCredits(fees.StorageFees).Add(fraction), tx); err != nil {
		return rewards.EmptyDistribution(), err
	}
	injected, err := credits.AddCredits(fees.ProcessingFees, fees.StorageFees)
	if err != nil {
		return rewards.EmptyDistribution(), err
	}
	if err := e.window.AddTotalCreditsInjectedOperations(batch, injected, tx); err != nil {
		return rewards.EmptyDistribution(), err
	}

	if !batch.IsEmpty() {
		if err := e.apply(batch, tx, stepDistribute); err != nil {
			return rewards.EmptyDistribution(), err
		}
	}

	e.metrics.ObserveInjected(fees.ProcessingFees, fees.StorageFees)
	if len(result.EpochsPaid) > 0 {
		leftover, _ := fraction.Rat().Float64()
		e.metrics.ObserveDistribution(result.TotalDistributed, len(result.EpochsPaid), result.ProposersPaid, leftover)
		span.SetAttributes(
			attribute.Int("payout.epochs", len(result.EpochsPaid)),
			attribute.Int64("payout.distributed", int64(result.TotalDistributed)),
		)
		e.logger.Info("feepools: paid closed epochs",
			slog.Uint64("height", block.Height),
			slog.Any("epochs", result.EpochsPaid),
			slog.Uint64("distributed", result.TotalDistributed),
			slog.Int("proposers", result.ProposersPaid),
			slog.String("leftovers", result.FeeLeftovers.String()))
	}

	if e.verify {
		if err := e.VerifyConservation(tx); err != nil {
			return rewards.EmptyDistribution(), err
		}
	}
	return result, nil
}

func (e *Engine) changeEpoch(ctx context.Context, block types.BlockInfo, index types.EpochIndex, feeMultiplier uint64, tx *tree.Transaction) error {
	_, span := e.tracer.Start(ctx, "feepools.shift_window",
		trace.WithAttributes(attribute.Int("epoch.index", int(index))))
	defer span.End()

	batch := tree.NewBatch()
	shift, err := e.window.AddShiftWindowOperations(batch, index, block.Height, block.TimeMs, feeMultiplier, tx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	// Storage collected by an epoch that is no longer current, including
	// skipped ones, is spread over the window that starts at index.
	for _, closed := range shift.Closed {
		if err := e.amortizer.AddAmortizeOperations(batch, closed, index, tx); err != nil {
			span.RecordError(err)
			return fmt.Errorf("amortize epoch %d: %w", closed, err)
		}
	}
	if err := e.apply(batch, tx, stepShift); err != nil {
		span.RecordError(err)
		return err
	}
	e.metrics.IncWindowShift()
	e.logger.Info("feepools: epoch started",
		slog.Int("epoch", int(index)),
		slog.Uint64("height", block.Height),
		slog.Int64("time_ms", block.TimeMs),
		slog.Uint64("fee_multiplier", feeMultiplier),
		slog.Int("closed", len(shift.Closed)),
		slog.Int("created", shift.Created),
		slog.String("amortizer", e.amortizer.Name()))
	return nil
}

func (e *Engine) apply(batch *tree.Batch, tx *tree.Transaction, step string) error {
	err := e.store.ApplyBatch(batch, tx)
	if err == nil {
		return nil
	}
	e.metrics.IncCommitFailure(step)
	e.logger.Error("feepools: apply batch failed",
		slog.String("step", step),
		slog.Int("ops", batch.Len()),
		slog.Any("error", err))
	if errors.Is(err, tree.ErrBackend) {
		return fmt.Errorf("%w: %s: %w", feeerrors.ErrStoreUnavailable, step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}
