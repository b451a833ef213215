package cmd

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backtest-sim/backtest-sim/internal/testutil"
	"github.com/backtest-sim/backtest-sim/sim"
	"github.com/backtest-sim/backtest-sim/sim/batch"
	"github.com/backtest-sim/backtest-sim/sim/harness"
	"github.com/backtest-sim/backtest-sim/sim/prices"
)

func flatPriceQueue(ctx context.Context) *batch.Queue {
	q := batch.NewQueue(batch.Config{
		Slots:   4,
		Workers: 2,
		NewPriceSource: func(int) sim.PriceSource {
			return sim.PriceFunc(func(sim.Symbol, int64) (int64, error) { return 1000, nil })
		},
	})
	q.Start(ctx)
	return q
}

func TestRunWith_FlatMarketKeepsWorth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultBacktestConfig()
	cfg.Batch = harness.Params{N: 20, MinStart: 1_546_300_800, MaxStart: 1_546_387_200}
	cfg.Strategy.Name = StrategyBuyAndHold
	cfg.Strategy.Cash = "100"
	cfg.Strategy.HorizonSeconds = 3600
	cfg.Strategy.BuyAndHold.HoldTicks = 5
	cfg.Baseline = &StrategyConfig{Name: StrategyHold, Symbol: "BTC", Cash: "100", HorizonSeconds: 3600}
	require.NoError(t, cfg.Validate())

	report, err := runWith(ctx, flatPriceQueue(ctx), cfg, rand.New(rand.NewSource(1)))

	require.NoError(t, err)
	assert.Equal(t, 20, report.Scenarios)
	assert.Equal(t, 20, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Equal(t, harness.Summary{N: 20, Min: 10000, Max: 10000, Mean: 10000, Median: 10000}, report.FinalWorth)
	require.NotNil(t, report.Delta)
	assert.Equal(t, 20, report.Delta.N)
	assert.Zero(t, report.Delta.Mean)
}

func TestRunWith_RejectedOrdersReported(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultBacktestConfig()
	cfg.Batch = harness.Params{N: 5, MinStart: 0, MaxStart: 1000}
	cfg.Strategy.Name = StrategyBuyAndHold
	cfg.Strategy.Cash = "1" // cannot afford a $10 coin
	cfg.Strategy.HorizonSeconds = 600

	report, err := runWith(ctx, flatPriceQueue(ctx), cfg, rand.New(rand.NewSource(1)))

	require.NoError(t, err)
	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 5, report.Rejected)
	assert.Equal(t, int64(100), report.FinalWorth.Max)
	assert.Nil(t, report.Delta)
}

func TestResolveWindow(t *testing.T) {
	catalog := prices.NewCatalog([]prices.Window{{Symbol: sim.NewSymbol("BTC"), Start: 1000, End: 100_000}})

	cfg := DefaultBacktestConfig()
	cfg.Strategy.HorizonSeconds = 3600
	require.NoError(t, resolveWindow(&cfg, catalog))
	assert.Equal(t, harness.Params{N: cfg.Batch.N, MinStart: 1000, MaxStart: 96_400}, cfg.Batch)

	explicit := DefaultBacktestConfig()
	explicit.Batch.MinStart, explicit.Batch.MaxStart = 5, 6
	require.NoError(t, resolveWindow(&explicit, nil))
	assert.Equal(t, int64(5), explicit.Batch.MinStart)

	missing := DefaultBacktestConfig()
	missing.Strategy.Symbol = "ETH"
	assert.ErrorContains(t, resolveWindow(&missing, catalog), "not in the catalog")

	short := DefaultBacktestConfig()
	short.Strategy.HorizonSeconds = 200_000
	assert.ErrorContains(t, resolveWindow(&short, catalog), "horizon")

	none := DefaultBacktestConfig()
	assert.Error(t, resolveWindow(&none, nil))
}

func TestWriteReport_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	out := &harness.Outcomes{Succeeded: 3, Failed: 1, Rejected: 1, Rejections: 2, FirstErr: sim.ErrDataUnavailable}
	cfg := DefaultBacktestConfig()
	r := newReport(cfg, []int64{100, 200, 300}, out, 2)

	require.NoError(t, writeReport(path, r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Equal(t, "mean_reversion", got["strategy"])
	assert.Equal(t, float64(4), got["scenarios"])
	assert.Equal(t, sim.ErrDataUnavailable.Error(), got["first_error"])
	assert.NotContains(t, got, "delta_vs_baseline")
	worth := got["final_worth"].(map[string]any)
	assert.Equal(t, float64(200), worth["mean"])
	assert.Len(t, got["histogram"], 2)
}

func TestRunBacktest_HistoricalFiles(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dir := t.TempDir()
	testutil.WriteMinuteFile(t, dir, "BTC", 240, testutil.FlatPrices)
	catalog, failed, err := prices.BuildCatalog([]string{filepath.Join(dir, "gemini_*USD_2019_1min.csv")}, nil)
	require.NoError(t, err)
	require.Empty(t, failed)

	cfg := DefaultBacktestConfig()
	cfg.Seed = 3
	cfg.Queue = batch.Config{Slots: 4, Workers: 2}
	cfg.Prices.Templates = testutil.Templates(dir)
	cfg.Prices.CacheEntries = 2
	cfg.Batch.N = 16
	cfg.Strategy.Name = StrategyBuyAndHold
	cfg.Strategy.Cash = "100"
	cfg.Strategy.HorizonSeconds = 3600
	cfg.Strategy.BuyAndHold.HoldTicks = 5
	require.NoError(t, resolveWindow(&cfg, catalog))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, testutil.BaseTime, cfg.Batch.MinStart)

	report, err := runBacktest(ctx, cfg, catalog)

	require.NoError(t, err)
	assert.Equal(t, 16, report.Succeeded, "first error: %s", report.FirstError)
	assert.Zero(t, report.Rejected)
	assert.Equal(t, int64(10000), report.FinalWorth.Min)
	assert.Equal(t, int64(10000), report.FinalWorth.Max)
}
