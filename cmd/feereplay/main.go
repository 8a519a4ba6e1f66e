// Command feereplay replays a scenario of finalized blocks through the fee
// pool engine and reports the resulting pools, balances and state root.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"feepools/config"
	"feepools/core"
	"feepools/core/epoch"
	"feepools/core/storagefee"
	"feepools/observability/logging"
	"feepools/observability/metrics"
	telemetry "feepools/observability/otel"
	"feepools/storage"
	"feepools/storage/tree"
)

func main() {
	configFile := flag.String("config", "./feepools.toml", "Path to the configuration file")
	scenarioFile := flag.String("scenario", "", "Path to the YAML block scenario")
	dataDir := flag.String("datadir", "", "Override the data directory")
	metricsAddr := flag.String("metrics", "", "Override the metrics listen address")
	hold := flag.Bool("hold", false, "Keep serving metrics after the replay until interrupted")
	flag.Parse()

	if err := run(*configFile, *scenarioFile, *dataDir, *metricsAddr, *hold); err != nil {
		slog.Error("feereplay failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// summary is printed to stdout once the replay completes.
type summary struct {
	RunID         string            `json:"runId"`
	Blocks        int               `json:"blocks"`
	Distributed   uint64            `json:"distributed"`
	EpochsPaid    int               `json:"epochsPaid"`
	WindowFirst   uint16            `json:"windowFirst"`
	WindowLast    uint16            `json:"windowLast"`
	GlobalStorage string            `json:"globalStorage"`
	Balances      map[string]uint64 `json:"balances"`
	Root          string            `json:"root"`
}

func run(configFile, scenarioFile, dataDir, metricsAddr string, hold bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if metricsAddr != "" {
		cfg.MetricsAddress = metricsAddr
	}

	logger, closer, err := logging.New(logging.Options{
		Service:     "feereplay",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	}, os.Stdout)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer closer.Close()
	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		headers := telemetry.ParseHeaders(cfg.Telemetry.Headers)
		logger.Info("telemetry enabled",
			slog.String("endpoint", cfg.Telemetry.Endpoint),
			logging.MaskHeaders("headers", headers))
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     headers,
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	if strings.TrimSpace(scenarioFile) == "" {
		return fmt.Errorf("-scenario is required")
	}
	scenario, err := LoadScenario(scenarioFile)
	if err != nil {
		return err
	}
	blocks, err := scenario.Expand()
	if err != nil {
		return err
	}
	shares, err := scenario.ShareResolver()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	store := tree.Open(db)

	amortizer, err := storagefee.New(cfg.Amortization.Strategy, cfg.Amortization.UniformEpochs, epoch.NewWindow(store))
	if err != nil {
		return err
	}
	engine := core.NewEngine(store,
		core.WithAmortizer(amortizer),
		core.WithShareResolver(shares),
		core.WithLogger(logger),
		core.WithMetrics(metrics.FeePools()),
		core.WithConservationCheck(cfg.VerifyConservation))

	var status *statusServer
	if cfg.MetricsAddress != "" {
		status = newStatusServer(cfg.MetricsAddress, runID, len(blocks), logger)
		status.start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			status.shutdown(shutdownCtx)
		}()
	}

	initialized, err := engine.IsInitialized(nil)
	if err != nil {
		return err
	}
	if !initialized {
		if err := engine.CreateGenesisState(ctx, nil); err != nil {
			return fmt.Errorf("create genesis state: %w", err)
		}
		logger.Info("fee pool genesis state created", slog.String("datadir", cfg.DataDir))
	}

	out := summary{RunID: runID, Balances: map[string]uint64{}}
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx, err := store.StartTransaction()
		if err != nil {
			return err
		}
		result, err := engine.ProcessBlockFees(ctx, b.Block, b.Epoch, b.Fees, tx)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("block %d: %w", b.Block.Height, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("block %d: %w", b.Block.Height, err)
		}
		out.Blocks++
		out.Distributed += result.TotalDistributed
		out.EpochsPaid += len(result.EpochsPaid)
		logger.Debug("block processed",
			slog.Uint64("height", b.Block.Height),
			slog.Int("epoch", int(b.Epoch.CurrentIndex)),
			slog.Uint64("distributed", result.TotalDistributed))
		if status != nil {
			status.update(progress{
				RunID:     runID,
				Processed: uint64(i + 1),
				Total:     len(blocks),
				Height:    b.Block.Height,
				Epoch:     b.Epoch.CurrentIndex,
			})
		}
	}

	first, last, _, err := engine.Window().MaterializedRange(nil)
	if err != nil {
		return err
	}
	out.WindowFirst, out.WindowLast = first, last
	global, err := engine.Window().GlobalStoragePool(nil)
	if err != nil {
		return err
	}
	out.GlobalStorage = global.String()
	for _, name := range scenario.Names() {
		id, err := Identity(name)
		if err != nil {
			return err
		}
		balance, err := engine.Balances().Balance(id, nil)
		if err != nil {
			return err
		}
		out.Balances[name] = balance
	}
	root, err := store.RootHash(nil)
	if err != nil {
		return err
	}
	out.Root = root.Hex()
	logger.Info("replay complete",
		slog.Int("blocks", out.Blocks),
		slog.Uint64("distributed", out.Distributed),
		slog.String("root", out.Root))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if hold && status != nil {
		final := blocks[len(blocks)-1]
		status.update(progress{RunID: runID, Processed: uint64(len(blocks)), Total: len(blocks), Height: final.Block.Height, Epoch: final.Epoch.CurrentIndex, Done: true})
		logger.Info("holding for metrics scrapes; interrupt to exit")
		<-ctx.Done()
	}
	return nil
}
