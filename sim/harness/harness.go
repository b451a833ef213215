// Package harness drives batches of scenarios through a batch.Queue and
// reduces the results: randomized start times, paired comparisons of two
// scenario variants and parameter grids.
package harness

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/backtest-sim/backtest-sim/sim"
	"github.com/backtest-sim/backtest-sim/sim/batch"
)

// Params selects how many scenarios to run and the range their start times are
// drawn from, in unix seconds. MaxStart is inclusive.
type Params struct {
	N        int   `yaml:"n"`
	MinStart int64 `yaml:"min_start"`
	MaxStart int64 `yaml:"max_start"`
}

// Validate reports whether p describes a runnable batch.
func (p Params) Validate() error {
	if p.N <= 0 {
		return fmt.Errorf("scenario count must be positive, got %d", p.N)
	}
	if p.MaxStart < p.MinStart {
		return fmt.Errorf("max start %d is before min start %d", p.MaxStart, p.MinStart)
	}
	return nil
}

// Starts draws p.N start times uniformly from [MinStart, MaxStart].
func (p Params) Starts(rng *rand.Rand) []int64 {
	starts := make([]int64, p.N)
	span := p.MaxStart - p.MinStart + 1
	for i := range starts {
		starts[i] = p.MinStart + rng.Int63n(span)
	}
	return starts
}

// RandomizedStart runs base p.N times, each starting at a time drawn from rng,
// and feeds every finished scenario to c. Scenario IDs are the submission
// indices 0..N-1. The caller starts q, with a context that outlives the batch.
func RandomizedStart(ctx context.Context, q *batch.Queue, base *sim.SimState, p Params, rng *rand.Rand, c Collector) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return runStarts(ctx, q, base, p.Starts(rng), c)
}

// Compare runs every scenario in variants over the same randomly drawn start
// times. collectors[i] receives the results of variants[i].
func Compare(ctx context.Context, q *batch.Queue, variants []*sim.SimState, p Params, rng *rand.Rand, collectors []Collector) error {
	if len(variants) != len(collectors) {
		return fmt.Errorf("%d variants but %d collectors", len(variants), len(collectors))
	}
	if err := p.Validate(); err != nil {
		return err
	}
	starts := p.Starts(rng)
	for i, v := range variants {
		if err := runStarts(ctx, q, v, starts, collectors[i]); err != nil {
			return fmt.Errorf("variant %d: %w", i, err)
		}
	}
	return nil
}

// Delta runs base and change over the same start times and returns, per start,
// the final worth of change minus the final worth of base. A failed scenario
// in either variant fails the comparison.
func Delta(ctx context.Context, q *batch.Queue, base, change *sim.SimState, p Params, rng *rand.Rand) ([]int64, error) {
	baseWorth, changeWorth := FinalWorth(), FinalWorth()
	baseOut, changeOut := &Outcomes{}, &Outcomes{}
	err := Compare(ctx, q, []*sim.SimState{base, change}, p, rng, []Collector{
		Multi{baseWorth, baseOut},
		Multi{changeWorth, changeOut},
	})
	if err != nil {
		return nil, err
	}
	for _, v := range []struct {
		name string
		out  *Outcomes
	}{{"base", baseOut}, {"change", changeOut}} {
		if v.out.Failed > 0 {
			return nil, fmt.Errorf("%s: %d of %d scenarios failed: %w", v.name, v.out.Failed, v.out.Total(), v.out.FirstErr)
		}
	}

	a, b := baseWorth.Results(), changeWorth.Results()
	deltas := make([]int64, len(a))
	for i := range deltas {
		deltas[i] = b[i] - a[i]
	}
	return deltas, nil
}

// runStarts submits one copy of base per start time while a paired goroutine
// harvests the same number of results. q must already be started and must not
// be shared with another batch running concurrently. Results stamped with an
// earlier batch number were left behind by an aborted batch and are dropped.
func runStarts(ctx context.Context, q *batch.Queue, base *sim.SimState, starts []int64, c Collector) error {
	if !q.Started() {
		return batch.ErrNotStarted
	}
	gen := q.NextBatch()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stale := 0
		for n := 0; n < len(starts); {
			ours := false
			err := q.Harvest(gctx, func(s *sim.SimState) {
				if s.Batch == gen {
					ours = true
					c.Collect(s)
				}
			})
			if err != nil {
				return fmt.Errorf("harvesting: %w", err)
			}
			if ours {
				n++
			} else {
				stale++
			}
		}
		if stale > 0 {
			logrus.Debugf("dropped %d results of an earlier aborted batch", stale)
		}
		return nil
	})
	g.Go(func() error {
		job := base.Clone()
		job.Batch = gen
		for i, start := range starts {
			job.ID = uint64(i)
			job.Start = start
			job.Time = start
			if err := q.Submit(gctx, job); err != nil {
				return fmt.Errorf("submitting scenario %d: %w", i, err)
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logrus.Warnf("batch of %d scenarios aborted: %v", len(starts), err)
	}
	return err
}
