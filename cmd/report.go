package cmd

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"github.com/backtest-sim/backtest-sim/sim/harness"
)

// Report is the JSON summary of one backtest run.
type Report struct {
	Strategy       string           `json:"strategy"`
	Symbol         string           `json:"symbol"`
	Seed           int64            `json:"seed"`
	MinStart       int64            `json:"min_start"`
	MaxStart       int64            `json:"max_start"`
	Scenarios      int              `json:"scenarios"`
	Succeeded      int              `json:"succeeded"`
	Failed         int              `json:"failed"`
	Rejected       int              `json:"rejected"`   // scenarios with at least one rejected order
	Rejections     int              `json:"rejections"` // rejected orders over all scenarios
	FirstError     string           `json:"first_error,omitempty"`
	FinalWorth     harness.Summary  `json:"final_worth"`
	Histogram      []harness.Bin    `json:"histogram,omitempty"`
	Delta          *harness.Summary `json:"delta_vs_baseline,omitempty"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
}

func newReport(cfg BacktestConfig, worth []int64, out *harness.Outcomes, bins int) *Report {
	r := &Report{
		Strategy:   cfg.Strategy.Name,
		Symbol:     cfg.Strategy.Symbol,
		Seed:       cfg.Seed,
		MinStart:   cfg.Batch.MinStart,
		MaxStart:   cfg.Batch.MaxStart,
		Scenarios:  out.Total(),
		Succeeded:  out.Succeeded,
		Failed:     out.Failed,
		Rejected:   out.Rejected,
		Rejections: out.Rejections,
		FinalWorth: harness.Summarize(worth),
		Histogram:  harness.Histogram(worth, bins),
	}
	if out.FirstErr != nil {
		r.FirstError = out.FirstErr.Error()
	}
	return r
}

// writeReport writes r to path as indented JSON.
func writeReport(path string, r *Report) error {
	data, err := sonic.ConfigStd.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
