package harness

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/backtest-sim/backtest-sim/sim"
	"github.com/backtest-sim/backtest-sim/sim/batch"
)

// Metric reduces the per-scenario results of one grid cell to a score.
type Metric func(results []int64) float64

// MeanMetric scores a cell by its mean result.
func MeanMetric(results []int64) float64 {
	return stat.Mean(toSortedFloats(results), nil)
}

// StdDevMetric scores a cell by the population standard deviation of its results.
func StdDevMetric(results []int64) float64 {
	_, std := stat.PopMeanStdDev(toSortedFloats(results), nil)
	return std
}

// Axis is one swept parameter: Steps evenly spaced values from Min to Max.
type Axis struct {
	Name  string
	Min   float64
	Max   float64
	Steps int
}

// Value returns the k-th value of the axis.
func (a Axis) Value(k int) float64 {
	if a.Steps <= 1 {
		return a.Min
	}
	return a.Min + (a.Max-a.Min)*float64(k)/float64(a.Steps-1)
}

// Grid holds one score per (row, col) cell.
type Grid struct {
	Rows, Cols Axis
	Scores     []float64 // row-major
}

// At returns the score of cell (i, j).
func (g *Grid) At(i, j int) float64 {
	return g.Scores[i*g.Cols.Steps+j]
}

// Sweep runs a randomized-start batch for every combination of the two axes.
// build returns the scenario for one parameter pair; each cell's final worth
// results are reduced by metric. Every cell draws its start times from rng in
// turn.
func Sweep(ctx context.Context, q *batch.Queue, rows, cols Axis, build func(p1, p2 float64) (*sim.SimState, error), p Params, rng *rand.Rand, metric Metric) (*Grid, error) {
	if rows.Steps <= 0 || cols.Steps <= 0 {
		return nil, fmt.Errorf("grid %dx%d has no cells", rows.Steps, cols.Steps)
	}
	g := &Grid{Rows: rows, Cols: cols, Scores: make([]float64, rows.Steps*cols.Steps)}
	for i := 0; i < rows.Steps; i++ {
		for j := 0; j < cols.Steps; j++ {
			p1, p2 := rows.Value(i), cols.Value(j)
			base, err := build(p1, p2)
			if err != nil {
				return nil, fmt.Errorf("building %s=%g %s=%g: %w", rows.Name, p1, cols.Name, p2, err)
			}
			worth := FinalWorth()
			if err := RandomizedStart(ctx, q, base, p, rng, worth); err != nil {
				return nil, err
			}
			g.Scores[i*cols.Steps+j] = metric(worth.Results())
			logrus.Debugf("grid cell %s=%g %s=%g -> %g", rows.Name, p1, cols.Name, p2, g.Scores[i*cols.Steps+j])
		}
	}
	return g, nil
}
