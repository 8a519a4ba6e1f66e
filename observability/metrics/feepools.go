package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FeePoolMetrics records block processing outcomes of the fee engine.
type FeePoolMetrics struct {
	blocks           *prometheus.CounterVec
	windowShifts     prometheus.Counter
	distributed      prometheus.Counter
	epochsPaid       prometheus.Counter
	proposersPaid    prometheus.Counter
	injected         *prometheus.CounterVec
	commitFailures   *prometheus.CounterVec
	currentEpoch     prometheus.Gauge
	leftoverCarry    prometheus.Gauge
	processDurations prometheus.Histogram
}

var (
	feePoolsOnce     sync.Once
	feePoolsRegistry *FeePoolMetrics
)

// FeePools returns the lazily registered fee pool metrics.
func FeePools() *FeePoolMetrics {
	feePoolsOnce.Do(func() {
		feePoolsRegistry = &FeePoolMetrics{
			blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "feepools",
				Name:      "blocks_processed_total",
				Help:      "Blocks processed by the fee engine, by outcome.",
			}, []string{"outcome"}),
			windowShifts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "feepools",
				Name:      "window_shifts_total",
				Help:      "Epoch changes that materialized a new far pool.",
			}),
			distributed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "feepools",
				Name:      "credits_distributed_total",
				Help:      "Credits paid out to proposers and their share recipients.",
			}),
			epochsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "feepools",
				Name:      "epochs_paid_total",
				Help:      "Closed epochs settled by the reward ledger.",
			}),
			proposersPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "feepools",
				Name:      "proposers_paid_total",
				Help:      "Proposer entries settled across all epochs.",
			}),
			injected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "feepools",
				Name:      "credits_injected_total",
				Help:      "Raw block fees handed to the engine, by pool.",
			}, []string{"pool"}),
			commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "feepools",
				Name:      "commit_failures_total",
				Help:      "Batches that failed to apply, by step.",
			}, []string{"step"}),
			currentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "feepools",
				Name:      "current_epoch",
				Help:      "Index of the epoch of the last processed block.",
			}),
			leftoverCarry: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "feepools",
				Name:      "last_leftover_fraction",
				Help:      "Approximate fractional leftover moved to storage by the last payout.",
			}),
			processDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "feepools",
				Name:      "process_block_seconds",
				Help:      "Latency of ProcessBlockFees.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			feePoolsRegistry.blocks,
			feePoolsRegistry.windowShifts,
			feePoolsRegistry.distributed,
			feePoolsRegistry.epochsPaid,
			feePoolsRegistry.proposersPaid,
			feePoolsRegistry.injected,
			feePoolsRegistry.commitFailures,
			feePoolsRegistry.currentEpoch,
			feePoolsRegistry.leftoverCarry,
			feePoolsRegistry.processDurations,
		)
	})
	return feePoolsRegistry
}

// ObserveBlock records a processed block and its latency.
func (m *FeePoolMetrics) ObserveBlock(epoch uint16, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.blocks.WithLabelValues(outcome).Inc()
	m.processDurations.Observe(seconds)
	if err == nil {
		m.currentEpoch.Set(float64(epoch))
	}
}

// IncWindowShift counts an epoch change.
func (m *FeePoolMetrics) IncWindowShift() {
	if m == nil {
		return
	}
	m.windowShifts.Inc()
}

// ObserveDistribution records a payout round.
func (m *FeePoolMetrics) ObserveDistribution(distributed uint64, epochs, proposers int, leftoverFraction float64) {
	if m == nil {
		return
	}
	m.distributed.Add(float64(distributed))
	m.epochsPaid.Add(float64(epochs))
	m.proposersPaid.Add(float64(proposers))
	m.leftoverCarry.Set(leftoverFraction)
}

// ObserveInjected records raw fees per pool.
func (m *FeePoolMetrics) ObserveInjected(processing, storage uint64) {
	if m == nil {
		return
	}
	m.injected.WithLabelValues("processing").Add(float64(processing))
	m.injected.WithLabelValues("storage").Add(float64(storage))
}

// IncCommitFailure counts a failed batch application.
func (m *FeePoolMetrics) IncCommitFailure(step string) {
	if m == nil {
		return
	}
	if step == "" {
		step = "unknown"
	}
	m.commitFailures.WithLabelValues(step).Inc()
}

// InitSteps pre-creates the commit failure series for the given steps.
func (m *FeePoolMetrics) InitSteps(steps ...string) {
	if m == nil {
		return
	}
	for _, step := range steps {
		m.commitFailures.WithLabelValues(step).Add(0)
	}
	m.blocks.WithLabelValues("ok").Add(0)
	m.blocks.WithLabelValues("error").Add(0)
}
