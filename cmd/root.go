package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/backtest-sim/backtest-sim/sim"
	"github.com/backtest-sim/backtest-sim/sim/batch"
	"github.com/backtest-sim/backtest-sim/sim/harness"
	"github.com/backtest-sim/backtest-sim/sim/prices"
)

var (
	// CLI flags for the run command; each overrides the backtest file when set
	configPath string // Backtest YAML file
	logLevel   string // Log verbosity level
	seed       int64  // Seed for start times and worker RNG streams
	scenarios  int    // Number of scenarios to run
	workers    int    // Worker goroutines (0 = one per CPU)
	slots      int    // Queue slots
	pinCPUs    bool   // Pin each worker to a CPU
	reportPath string // Where to write the JSON report ("" = none)
	histBins   int    // Histogram bins printed to stdout (0 = none)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "backtest-sim",
	Short: "Parallel Monte Carlo backtester for trading strategies",
}

// runCmd runs a randomized-start batch of the configured strategy
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a randomized-start backtest",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		cfg := DefaultBacktestConfig()
		if configPath != "" {
			var err error
			if cfg, err = LoadBacktestConfig(configPath); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		applyFlagOverrides(cmd, &cfg)

		var catalog *prices.Catalog
		if cfg.Prices.Catalog != "" {
			c, err := prices.LoadCatalog(cfg.Prices.Catalog)
			if err != nil {
				logrus.Warnf("no symbol catalog: %v", err)
			} else {
				catalog = c
			}
		}
		if err := resolveWindow(&cfg, catalog); err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid backtest config: %v", err)
		}

		logrus.Infof("Starting backtest: strategy=%s symbol=%s n=%d window=[%d, %d] seed=%d",
			cfg.Strategy.Name, cfg.Strategy.Symbol, cfg.Batch.N, cfg.Batch.MinStart, cfg.Batch.MaxStart, cfg.Seed)
		startTime := time.Now()

		report, err := runBacktest(cmd.Context(), cfg, catalog)
		if err != nil {
			logrus.Fatalf("Backtest failed: %v", err)
		}
		report.ElapsedSeconds = time.Since(startTime).Seconds()

		fmt.Println("=== Final worth ===")
		fmt.Print(report.FinalWorth.String())
		if histBins > 0 && len(report.Histogram) > 0 {
			fmt.Println("=== Distribution ===")
			fmt.Print(harness.RenderHistogram(report.Histogram, 60))
		}
		if report.Delta != nil {
			fmt.Println("=== Delta vs. baseline ===")
			fmt.Print(report.Delta.String())
		}
		fmt.Printf("Scenarios: %d succeeded, %d failed, %d with rejected orders\n",
			report.Succeeded, report.Failed, report.Rejected)

		if reportPath != "" {
			if err := writeReport(reportPath, report); err != nil {
				logrus.Fatalf("%v", err)
			}
			logrus.Infof("Report written to %s", reportPath)
		}
		logrus.Info("Backtest complete.")
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// applyFlagOverrides copies explicitly set flags over the file values.
func applyFlagOverrides(cmd *cobra.Command, cfg *BacktestConfig) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("n") {
		cfg.Batch.N = scenarios
	}
	if flags.Changed("workers") {
		cfg.Queue.Workers = workers
	}
	if flags.Changed("slots") {
		cfg.Queue.Slots = slots
	}
	if flags.Changed("pin-cpus") {
		cfg.Queue.PinCPUs = pinCPUs
	}
}

// resolveWindow derives the start-time window from the catalog when the
// config leaves it empty: starts range over the symbol's data so that every
// scenario ends before the data does.
func resolveWindow(cfg *BacktestConfig, catalog *prices.Catalog) error {
	if cfg.Batch.MinStart != 0 || cfg.Batch.MaxStart != 0 {
		return nil
	}
	if catalog == nil {
		return fmt.Errorf("batch.min_start/max_start are unset and no symbol catalog is available")
	}
	start, end, ok := catalog.Window(sim.NewSymbol(cfg.Strategy.Symbol))
	if !ok {
		return fmt.Errorf("symbol %s is not in the catalog", cfg.Strategy.Symbol)
	}
	latest := end - cfg.Strategy.HorizonSeconds
	if latest < start {
		return fmt.Errorf("data for %s spans %ds, shorter than the %ds horizon", cfg.Strategy.Symbol, end-start, cfg.Strategy.HorizonSeconds)
	}
	cfg.Batch.MinStart, cfg.Batch.MaxStart = start, latest
	logrus.Infof("Start window for %s taken from catalog: [%d, %d]", cfg.Strategy.Symbol, start, latest)
	return nil
}

// runBacktest runs the configured batch, and the baseline comparison when one
// is configured, against historical prices.
func runBacktest(ctx context.Context, cfg BacktestConfig, catalog *prices.Catalog) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := &prices.Store{
		Templates:    cfg.Prices.Templates,
		SeriesLength: cfg.Prices.SeriesLength,
		Scale:        sim.Dollar,
	}
	qcfg := cfg.Queue
	qcfg.Seed = cfg.Seed
	qcfg.NewPriceSource = func(int) sim.PriceSource {
		return prices.NewCache(store, cfg.Prices.CacheEntries).WithCatalog(catalog)
	}
	q := batch.NewQueue(qcfg)
	q.Start(ctx)
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed)).ForSubsystem(sim.SubsystemHarness)

	return runWith(ctx, q, cfg, rng)
}

func runWith(ctx context.Context, q *batch.Queue, cfg BacktestConfig, rng *rand.Rand) (*Report, error) {
	base, err := cfg.Strategy.Scenario(cfg.Scenario)
	if err != nil {
		return nil, fmt.Errorf("building scenario: %w", err)
	}
	worth := harness.FinalWorth()
	outcomes := &harness.Outcomes{}
	if err := harness.RandomizedStart(ctx, q, base, cfg.Batch, rng, harness.Multi{worth, outcomes}); err != nil {
		return nil, err
	}
	if outcomes.Failed > 0 {
		logrus.Warnf("%d of %d scenarios failed; first error: %v", outcomes.Failed, outcomes.Total(), outcomes.FirstErr)
	}

	report := newReport(cfg, worth.Results(), outcomes, histBins)
	if cfg.Baseline != nil {
		baseline, err := cfg.Baseline.Scenario(cfg.Scenario)
		if err != nil {
			return nil, fmt.Errorf("building baseline: %w", err)
		}
		deltas, err := harness.Delta(ctx, q, baseline, base, cfg.Batch, rng)
		if err != nil {
			return nil, fmt.Errorf("baseline comparison: %w", err)
		}
		d := harness.Summarize(deltas)
		report.Delta = &d
	}
	return report, nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Backtest YAML file (defaults are used when empty)")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for start times and worker random streams")
	runCmd.Flags().IntVar(&scenarios, "n", 1000, "Number of scenarios")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Worker goroutines (0 = one per CPU)")
	runCmd.Flags().IntVar(&slots, "slots", batch.DefaultSlots, "Scenario slots in the job queue")
	runCmd.Flags().BoolVar(&pinCPUs, "pin-cpus", false, "Pin each worker to one CPU (Linux only)")
	runCmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON report to this path")
	runCmd.Flags().IntVar(&histBins, "bins", 20, "Histogram bins for the final worth distribution (0 = none)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(symbolsCmd)
}
