package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/backtest-sim/backtest-sim/sim"
	"github.com/backtest-sim/backtest-sim/sim/batch"
	"github.com/backtest-sim/backtest-sim/sim/harness"
	"github.com/backtest-sim/backtest-sim/sim/prices"
	"github.com/backtest-sim/backtest-sim/sim/strategy"
)

// Strategy names accepted in backtest files.
const (
	StrategyMeanReversion = "mean_reversion"
	StrategyBuyAndHold    = "buy_and_hold"
	StrategyHold          = "hold" // keep cash; a baseline for deltas
)

var validStrategies = map[string]bool{
	StrategyMeanReversion: true,
	StrategyBuyAndHold:    true,
	StrategyHold:          true,
}

// BacktestConfig is the full backtest YAML file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type BacktestConfig struct {
	Seed     int64              `yaml:"seed"`
	Queue    batch.Config       `yaml:"queue"`
	Scenario sim.ScenarioConfig `yaml:"scenario"`
	Prices   PricesConfig       `yaml:"prices"`
	Batch    harness.Params     `yaml:"batch"`
	Strategy StrategyConfig     `yaml:"strategy"`
	Baseline *StrategyConfig    `yaml:"baseline"` // optional; reported as a per-start delta
}

// PricesConfig locates the historical data.
type PricesConfig struct {
	Templates    []string `yaml:"templates"` // each has one %s for the symbol
	Catalog      string   `yaml:"catalog"`
	CacheEntries int      `yaml:"cache_entries"`
	SeriesLength int      `yaml:"series_length"`
}

// StrategyConfig describes the scenario every job starts from.
type StrategyConfig struct {
	Name           string                 `yaml:"name"`
	Symbol         string                 `yaml:"symbol"`
	Cash           string                 `yaml:"cash"` // dollars, e.g. "10000.00"
	Quantity       int64                  `yaml:"quantity"`
	HorizonSeconds int64                  `yaml:"horizon_seconds"`
	MeanReversion  strategy.MeanReversion `yaml:"mean_reversion"`
	BuyAndHold     strategy.BuyAndHold    `yaml:"buy_and_hold"`
}

// DefaultBacktestConfig returns the configuration used when no file is given.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		Seed:  42,
		Queue: batch.Config{Slots: batch.DefaultSlots},
		Prices: PricesConfig{
			Templates:    prices.DefaultTemplates,
			Catalog:      prices.DefaultCatalogPath,
			CacheEntries: prices.DefaultCacheEntries,
			SeriesLength: prices.DefaultSeriesLength,
		},
		Batch: harness.Params{N: 1000},
		Strategy: StrategyConfig{
			Name:           StrategyMeanReversion,
			Symbol:         "BTC",
			Cash:           "10000",
			Quantity:       1,
			HorizonSeconds: 7 * 24 * 3600,
			MeanReversion: strategy.MeanReversion{
				EMADiscount:    0.99,
				BuyFactor:      0.98,
				SellFactor:     1.02,
				StopFactor:     0.9,
				InitialSamples: 60,
			},
		},
	}
}

// LoadBacktestConfig reads path over the defaults. Unknown fields are errors.
func LoadBacktestConfig(path string) (BacktestConfig, error) {
	cfg := DefaultBacktestConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading backtest config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing backtest config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration. The batch window may be left empty when
// a catalog is configured; it is then derived from the symbol's data window.
func (c *BacktestConfig) Validate() error {
	if c.Queue.Slots < 0 || c.Queue.Workers < 0 {
		return fmt.Errorf("queue slots and workers must not be negative")
	}
	if c.Scenario.FeeBps < 0 {
		return fmt.Errorf("fee_bps must not be negative, got %d", c.Scenario.FeeBps)
	}
	if len(c.Prices.Templates) == 0 {
		return fmt.Errorf("prices.templates must list at least one file template")
	}
	if c.Batch.N <= 0 {
		return fmt.Errorf("batch.n must be positive, got %d", c.Batch.N)
	}
	if c.Batch.MaxStart < c.Batch.MinStart {
		return fmt.Errorf("batch.max_start %d is before batch.min_start %d", c.Batch.MaxStart, c.Batch.MinStart)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Baseline != nil {
		if err := c.Baseline.Validate(); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
	}
	return nil
}

// Validate checks a single strategy section.
func (s *StrategyConfig) Validate() error {
	if !validStrategies[s.Name] {
		return fmt.Errorf("unknown strategy %q", s.Name)
	}
	if s.Symbol == "" || len(s.Symbol) > sim.SymbolLength {
		return fmt.Errorf("symbol %q must have 1 to %d characters", s.Symbol, sim.SymbolLength)
	}
	if _, err := s.cash(); err != nil {
		return err
	}
	if s.Name != StrategyHold && s.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", s.Quantity)
	}
	if s.HorizonSeconds <= 0 {
		return fmt.Errorf("horizon_seconds must be positive, got %d", s.HorizonSeconds)
	}
	if s.Name == StrategyMeanReversion {
		m := s.MeanReversion
		if m.EMADiscount < 0 || m.EMADiscount >= 1 {
			return fmt.Errorf("mean_reversion.ema_discount must be in [0, 1), got %g", m.EMADiscount)
		}
		if m.BuyFactor <= 0 || m.SellFactor <= 0 {
			return fmt.Errorf("mean_reversion buy_factor and sell_factor must be positive")
		}
	}
	return nil
}

func (s *StrategyConfig) cash() (int64, error) {
	d, err := decimal.NewFromString(s.Cash)
	if err != nil {
		return 0, fmt.Errorf("cash %q: %w", s.Cash, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("cash %q must not be negative", s.Cash)
	}
	return d.Mul(decimal.NewFromInt(sim.Dollar)).Round(0).IntPart(), nil
}

// Scenario builds the template scenario: the configured cash, the strategy's
// custom order and a TimeHorizon that liquidates after HorizonSeconds. The
// start time is set per job by the harness.
func (s *StrategyConfig) Scenario(cfg sim.ScenarioConfig) (*sim.SimState, error) {
	cash, err := s.cash()
	if err != nil {
		return nil, err
	}
	state := sim.NewSimState(cfg, 0)
	state.Cash = cash
	sym := sim.NewSymbol(s.Symbol)

	switch s.Name {
	case StrategyMeanReversion:
		m := s.MeanReversion
		err = sim.MakeCustomOrder(state, sym, s.Quantity, &m)
	case StrategyBuyAndHold:
		b := s.BuyAndHold
		err = sim.MakeCustomOrder(state, sym, s.Quantity, &b)
	case StrategyHold:
	default:
		err = fmt.Errorf("unknown strategy %q", s.Name)
	}
	if err != nil {
		return nil, err
	}
	if err := sim.MakeCustomOrder(state, sym, 0, strategy.NewTimeHorizon(s.HorizonSeconds)); err != nil {
		return nil, err
	}
	return state, nil
}
