package batch

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/backtest-sim/backtest-sim/sim"
)

// Worker is the private execution context of one pool goroutine: its CPU,
// its price source and its random stream. It is built once in Start and
// handed to every scenario the worker runs.
type Worker struct {
	ID     int
	CPU    int
	Prices sim.PriceSource
	RNG    *rand.Rand
}

func (q *Queue) work(ctx context.Context, w *Worker) {
	if q.cfg.PinCPUs {
		runtime.LockOSThread()
		if err := pinToCPU(w.CPU); err != nil {
			logrus.Warnf("worker %d: pinning to cpu %d: %v", w.ID, w.CPU, err)
		}
	}
	for {
		if err := q.nReady.wait(ctx); err != nil {
			logrus.Debugf("worker %d stopping: %v", w.ID, err)
			return
		}
		s := q.ready.pop()
		w.run(s)
		if s.Err != nil {
			q.failed.Add(1)
		}
		q.completed.Add(1)
		q.done.push(s)
		q.nDone.post()
	}
}

// run executes one scenario to completion. Errors and panics are attached to
// the scenario so the worker can keep serving the queue.
func (w *Worker) run(s *sim.SimState) {
	own := s.Prices
	if own == nil {
		s.Prices = w.Prices
	}
	s.RNG = w.RNG
	defer func() {
		if r := recover(); r != nil {
			s.Err = fmt.Errorf("%w: %v", ErrScenarioPanic, r)
			logrus.Errorf("worker %d: scenario %d: %v", w.ID, s.ID, s.Err)
		}
		s.Prices = own
		s.RNG = nil
	}()

	if err := sim.RunScenario(s); err != nil {
		s.Err = err
		logrus.Warnf("worker %d: scenario %d failed at t=%d: %v", w.ID, s.ID, s.Time, err)
		return
	}
	worth, err := s.Worth()
	if err != nil {
		s.Err = fmt.Errorf("valuing final state: %w", err)
		return
	}
	s.FinalWorth = worth
}
