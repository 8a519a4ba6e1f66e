package core

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"feepools/core/credits"
	feeerrors "feepools/core/errors"
	"feepools/core/rewards"
	"feepools/core/storagefee"
	"feepools/core/types"
	"feepools/observability/metrics"
	"feepools/storage"
	"feepools/storage/tree"
)

func proposerID(name string) types.ProposerID {
	return types.ProposerID(crypto.Keccak256Hash([]byte(name)))
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *tree.Store) {
	t.Helper()
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := tree.Open(db)
	engine := NewEngine(store, opts...)
	require.NoError(t, engine.CreateGenesisState(context.Background(), nil))
	return engine, store
}

type block struct {
	height     uint64
	timeMs     int64
	proposer   types.ProposerID
	epoch      types.EpochIndex
	change     bool
	processing uint64
	storage    uint64
	multiplier uint64
}

func (b block) run(t *testing.T, e *Engine) rewards.DistributionResult {
	t.Helper()
	result, err := e.ProcessBlockFees(context.Background(),
		types.BlockInfo{Height: b.height, TimeMs: b.timeMs, ProposerID: b.proposer},
		types.EpochInfo{CurrentIndex: b.epoch, IsEpochChange: b.change},
		types.BlockFees{ProcessingFees: b.processing, StorageFees: b.storage, FeeMultiplier: b.multiplier},
		nil)
	require.NoError(t, err)
	return result
}

func TestGenesisThenFirstEpochChange(t *testing.T) {
	engine, _ := newEngine(t)
	const startTime = int64(1_700_000_000_000)

	block{height: 10, timeMs: startTime, proposer: proposerID("a"), epoch: 0, change: true, multiplier: 42}.run(t, engine)

	window := engine.Window()
	far, err := window.Pool(1000).StorageFee(nil)
	require.NoError(t, err)
	require.True(t, far.IsZero())

	pool := window.Pool(0)
	height, err := pool.StartBlockHeight(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(10), height)
	started, err := pool.StartTime(nil)
	require.NoError(t, err)
	require.Equal(t, startTime, started)
	multiplier, err := pool.FeeMultiplier(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), multiplier)

	_, err = window.Pool(1001).StorageFee(nil)
	require.ErrorIs(t, err, feeerrors.ErrEpochNotFound)
}

func TestGenesisRunsOnce(t *testing.T) {
	engine, _ := newEngine(t)
	initialized, err := engine.IsInitialized(nil)
	require.NoError(t, err)
	require.True(t, initialized)
	require.Error(t, engine.CreateGenesisState(context.Background(), nil))
}

func TestWindowGrowsByOnePerEpochChange(t *testing.T) {
	engine, _ := newEngine(t)
	height := uint64(1)
	for k := 0; k < 5; k++ {
		for i := 0; i < 3; i++ {
			block{height: height, proposer: proposerID("a"), epoch: types.EpochIndex(k), change: i == 0, processing: 10}.run(t, engine)
			height++
		}
		first, last, count, err := engine.Window().MaterializedRange(nil)
		require.NoError(t, err)
		require.Equal(t, types.EpochIndex(0), first)
		require.Equal(t, types.EpochIndex(1000+k), last)
		require.Equal(t, 1001+k, count)
	}
}

func TestLeftoversFlowIntoCurrentEpoch(t *testing.T) {
	engine, _ := newEngine(t)
	a, b := proposerID("a"), proposerID("b")

	block{height: 1, proposer: a, epoch: 0, change: true, processing: 4}.run(t, engine)
	block{height: 2, proposer: b, epoch: 0, processing: 3}.run(t, engine)
	block{height: 3, proposer: b, epoch: 0, processing: 3}.run(t, engine)

	result := block{height: 4, proposer: a, epoch: 1, change: true, processing: 5, storage: 2}.run(t, engine)
	require.Equal(t, []types.EpochIndex{0}, result.EpochsPaid)
	require.Equal(t, credits.Credits(9), result.TotalDistributed)
	require.Equal(t, "1", result.FeeLeftovers.String())

	balanceA, err := engine.Balances().Balance(a, nil)
	require.NoError(t, err)
	require.Equal(t, credits.Credits(3), balanceA)
	balanceB, err := engine.Balances().Balance(b, nil)
	require.NoError(t, err)
	require.Equal(t, credits.Credits(6), balanceB)

	processing, err := engine.Window().Pool(1).ProcessingFee(nil)
	require.NoError(t, err)
	require.Equal(t, credits.Credits(6), processing)

	closed, err := engine.Window().Pool(0).ProcessingFee(nil)
	require.NoError(t, err)
	require.Zero(t, closed)

	require.NoError(t, engine.VerifyConservation(nil))
}

func TestStorageFeesAreAmortizedOnEpochChange(t *testing.T) {
	engine, _ := newEngine(t)
	a := proposerID("a")

	block{height: 1, proposer: a, epoch: 0, change: true, storage: 1_000_000}.run(t, engine)
	block{height: 2, proposer: a, epoch: 1, change: true}.run(t, engine)

	window := engine.Window()
	closed, err := window.Pool(0).StorageFee(nil)
	require.NoError(t, err)
	require.True(t, closed.IsZero())

	sum := credits.Zero()
	for i := 1; i <= 1000; i++ {
		fee, err := window.Pool(types.EpochIndex(i)).StorageFee(nil)
		require.NoError(t, err)
		sum = sum.Add(fee)
	}
	require.Equal(t, "1000000", sum.String())

	head, err := window.Pool(1).StorageFee(nil)
	require.NoError(t, err)
	tail, err := window.Pool(1000).StorageFee(nil)
	require.NoError(t, err)
	require.Positive(t, head.Cmp(tail))
}

func TestEpochJumpKeepsWindowAndDrainsPreviousEpoch(t *testing.T) {
	engine, _ := newEngine(t, WithConservationCheck(true))
	a, b := proposerID("a"), proposerID("b")

	block{height: 1, proposer: a, epoch: 0, change: true, processing: 100, storage: 1_000_000}.run(t, engine)
	result := block{height: 2, proposer: b, epoch: 2, change: true}.run(t, engine)
	require.Equal(t, []types.EpochIndex{0}, result.EpochsPaid)

	window := engine.Window()
	first, last, count, err := window.MaterializedRange(nil)
	require.NoError(t, err)
	require.Equal(t, types.EpochIndex(0), first)
	require.Equal(t, types.EpochIndex(1002), last)
	require.Equal(t, 1003, count)

	for _, closed := range []types.EpochIndex{0, 1} {
		fee, err := window.Pool(closed).StorageFee(nil)
		require.NoError(t, err)
		require.True(t, fee.IsZero(), "epoch %d", closed)
	}
	sum := credits.Zero()
	for i := 2; i <= 1002; i++ {
		fee, err := window.Pool(types.EpochIndex(i)).StorageFee(nil)
		require.NoError(t, err, "epoch %d", i)
		sum = sum.Add(fee)
	}
	require.Equal(t, "1000000", sum.String())

	balance, err := engine.Balances().Balance(a, nil)
	require.NoError(t, err)
	require.Equal(t, credits.Credits(100), balance)

	// Later changes, contiguous or not, keep finding their window.
	block{height: 3, proposer: a, epoch: 3, change: true, storage: 10}.run(t, engine)
	block{height: 4, proposer: b, epoch: 7, change: true}.run(t, engine)
	_, last, count, err = window.MaterializedRange(nil)
	require.NoError(t, err)
	require.Equal(t, types.EpochIndex(1007), last)
	require.Equal(t, 1008, count)
	require.NoError(t, engine.VerifyConservation(nil))
}

func TestBackwardEpochChangeIsRejected(t *testing.T) {
	engine, store := newEngine(t)
	a := proposerID("a")
	block{height: 1, proposer: a, epoch: 0, change: true}.run(t, engine)
	block{height: 2, proposer: a, epoch: 5, change: true}.run(t, engine)
	root, err := store.RootHash(nil)
	require.NoError(t, err)

	_, err = engine.ProcessBlockFees(context.Background(),
		types.BlockInfo{Height: 3, ProposerID: a},
		types.EpochInfo{CurrentIndex: 3, IsEpochChange: true},
		types.BlockFees{ProcessingFees: 1},
		nil)
	require.ErrorIs(t, err, feeerrors.ErrEpochOutOfOrder)

	after, err := store.RootHash(nil)
	require.NoError(t, err)
	require.Equal(t, root, after)
}

func TestRepeatedEpochChangeIsRejected(t *testing.T) {
	engine, _ := newEngine(t)
	a := proposerID("a")
	block{height: 1, proposer: a, epoch: 0, change: true, processing: 7}.run(t, engine)

	_, err := engine.ProcessBlockFees(context.Background(),
		types.BlockInfo{Height: 2, ProposerID: a},
		types.EpochInfo{CurrentIndex: 0, IsEpochChange: true},
		types.BlockFees{},
		nil)
	require.ErrorIs(t, err, feeerrors.ErrEpochAlreadyStarted)

	processing, err := engine.Window().Pool(0).ProcessingFee(nil)
	require.NoError(t, err)
	require.Equal(t, credits.Credits(7), processing)
}

// randomRun drives a deterministic pseudo-random block sequence.
func randomRun(t *testing.T, engine *Engine, seed int64, blocks int) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	proposers := []types.ProposerID{proposerID("p0"), proposerID("p1"), proposerID("p2"), proposerID("p3")}
	epochIndex := types.EpochIndex(0)
	for h := 0; h < blocks; h++ {
		change := h == 0
		if h > 0 && rng.Intn(5) == 0 {
			// Occasionally skip epochs to exercise backlog catch-up.
			epochIndex += types.EpochIndex(1 + rng.Intn(2))
			change = true
		}
		block{
			height:     uint64(h + 1),
			timeMs:     int64(h) * 1_000,
			proposer:   proposers[rng.Intn(len(proposers))],
			epoch:      epochIndex,
			change:     change,
			processing: uint64(rng.Intn(1_000)),
			storage:    uint64(rng.Intn(100_000)),
			multiplier: 1,
		}.run(t, engine)
	}
}

func TestCreditsAreConserved(t *testing.T) {
	delegate := []rewards.Share{{PayTo: proposerID("delegate"), BasisPoints: 3_333}}
	shares := rewards.StaticShares{
		proposerID("p0"): delegate,
		proposerID("p1"): delegate,
		proposerID("p2"): delegate,
		proposerID("p3"): delegate,
	}
	engine, _ := newEngine(t, WithConservationCheck(true), WithShareResolver(shares))
	randomRun(t, engine, 7, 40)

	balance, err := engine.CalculateTotalCreditsBalance(nil)
	require.NoError(t, err)
	require.True(t, balance.IsBalanced(), "held %s injected %d", balance.Held(), balance.TotalInjected)
	require.NotZero(t, balance.IdentityBalances)

	delegated, err := engine.Balances().Balance(proposerID("delegate"), nil)
	require.NoError(t, err)
	require.NotZero(t, delegated)
}

func TestIndependentStoresReachIdenticalRoots(t *testing.T) {
	a, storeA := newEngine(t)
	b, storeB := newEngine(t)
	randomRun(t, a, 42, 30)
	randomRun(t, b, 42, 30)

	rootA, err := storeA.RootHash(nil)
	require.NoError(t, err)
	rootB, err := storeB.RootHash(nil)
	require.NoError(t, err)
	require.Equal(t, rootA, rootB)

	c, storeC := newEngine(t)
	randomRun(t, c, 43, 30)
	rootC, err := storeC.RootHash(nil)
	require.NoError(t, err)
	require.NotEqual(t, rootA, rootC)
}

func TestUniformAmortizerThroughEngine(t *testing.T) {
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	defer db.Close()
	store := tree.Open(db)
	uniform, err := storagefee.NewUniformAmortizer(NewEngine(store).Window(), 4)
	require.NoError(t, err)
	engine := NewEngine(store, WithAmortizer(uniform), WithConservationCheck(true))
	require.NoError(t, engine.CreateGenesisState(context.Background(), nil))
	require.Equal(t, storagefee.StrategyUniform, engine.Amortizer().Name())

	a := proposerID("a")
	block{height: 1, proposer: a, epoch: 0, change: true, storage: 9}.run(t, engine)
	block{height: 2, proposer: a, epoch: 1, change: true}.run(t, engine)

	for i, want := range []string{"3", "2", "2", "2", "0"} {
		fee, err := engine.Window().Pool(types.EpochIndex(1 + i)).StorageFee(nil)
		require.NoError(t, err)
		require.Equal(t, want, fee.String(), "pool %d", 1+i)
	}
}

func TestProcessingInsideRolledBackTransactionLeavesNoTrace(t *testing.T) {
	engine, store := newEngine(t)
	before, err := store.RootHash(nil)
	require.NoError(t, err)

	tx, err := store.StartTransaction()
	require.NoError(t, err)
	_, err = engine.ProcessBlockFees(context.Background(),
		types.BlockInfo{Height: 1, ProposerID: proposerID("a")},
		types.EpochInfo{CurrentIndex: 0, IsEpochChange: true},
		types.BlockFees{ProcessingFees: 5, StorageFees: 5, FeeMultiplier: 1},
		tx)
	require.NoError(t, err)
	require.NoError(t, engine.VerifyConservation(tx))
	tx.Rollback()

	after, err := store.RootHash(nil)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

type faultyDB struct {
	*storage.LevelDB
	fail bool
}

func (f *faultyDB) Write(batch *leveldb.Batch) error {
	if f.fail {
		return leveldb.ErrClosed
	}
	return f.LevelDB.Write(batch)
}

func TestWindowShiftFaultLeavesNoPartialState(t *testing.T) {
	mem, err := storage.NewMemDB()
	require.NoError(t, err)
	defer mem.Close()
	db := &faultyDB{LevelDB: mem}
	store := tree.Open(db)
	engine := NewEngine(store, WithMetrics(metrics.FeePools()))
	require.NoError(t, engine.CreateGenesisState(context.Background(), nil))

	a := proposerID("a")
	block{height: 1, proposer: a, epoch: 0, change: true, storage: 500}.run(t, engine)
	before, err := store.RootHash(nil)
	require.NoError(t, err)

	db.fail = true
	_, err = engine.ProcessBlockFees(context.Background(),
		types.BlockInfo{Height: 2, ProposerID: a},
		types.EpochInfo{CurrentIndex: 1, IsEpochChange: true},
		types.BlockFees{ProcessingFees: 1, FeeMultiplier: 3},
		nil)
	require.ErrorIs(t, err, feeerrors.ErrStoreUnavailable)
	db.fail = false

	after, err := store.RootHash(nil)
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, err = engine.Window().Pool(1001).ProcessingFee(nil)
	require.ErrorIs(t, err, feeerrors.ErrEpochNotFound)
	_, err = engine.Window().Pool(1).StartBlockHeight(nil)
	require.ErrorIs(t, err, feeerrors.ErrEpochNotStarted)

	// The same block succeeds once the store recovers.
	block{height: 2, proposer: a, epoch: 1, change: true, processing: 1, multiplier: 3}.run(t, engine)
	require.NoError(t, engine.VerifyConservation(nil))
}

func TestProcessBlockFeesEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	engine, _ := newEngine(t, WithTracer(provider.Tracer("test")))
	block{height: 1, proposer: proposerID("a"), epoch: 0, change: true}.run(t, engine)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	require.Contains(t, names, "feepools.create_genesis_state")
	require.Contains(t, names, "feepools.shift_window")
	require.Contains(t, names, "feepools.process_block_fees")
}
