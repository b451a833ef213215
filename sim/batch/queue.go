// Package batch runs many independent scenarios on a fixed pool of workers.
//
// A Queue owns a fixed set of preallocated scenario slots that circulate
// through three rings:
//
//	open (free) --Submit--> ready --worker--> done --Harvest--> open
//
// Each ring's occupancy is tracked by a counting semaphore; every step blocks
// until its source ring is non-empty. Outside the rings a slot has exactly
// one owner at a time.
package batch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/backtest-sim/backtest-sim/sim"
)

// DefaultSlots is the number of scenario slots when Config.Slots is unset.
const DefaultSlots = 32

var (
	// ErrScenarioPanic wraps a panic raised while running a scenario.
	ErrScenarioPanic = errors.New("scenario panicked")
	// ErrNotStarted is returned to batch drivers handed a queue whose workers
	// were never started.
	ErrNotStarted = errors.New("queue workers not started")
)

// Config sizes the queue and its worker pool.
type Config struct {
	Slots   int   `yaml:"slots"`
	Workers int   `yaml:"workers"`
	PinCPUs bool  `yaml:"pin_cpus"`
	Seed    int64 `yaml:"-"` // set from the top-level seed

	// NewPriceSource builds the private price source of one worker. It is
	// called once per worker during Start. Scenarios submitted without a
	// price source are bound to the source of the worker that runs them.
	NewPriceSource func(workerID int) sim.PriceSource `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.Slots <= 0 {
		c.Slots = DefaultSlots
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// Stats is a consistent snapshot of slot ownership.
// Open+Ready+Done+InFlight always equals Total.
type Stats struct {
	Open     int
	Ready    int
	Done     int
	InFlight int // popped from one ring and not yet pushed to the next
	Total    int
}

// Queue is a bounded job queue with a fixed worker pool.
type Queue struct {
	cfg   Config
	slots []*sim.SimState

	inFlight             atomic.Int64
	open, ready, done    *ring
	nOpen, nReady, nDone *counter

	startOnce sync.Once
	started   atomic.Bool
	workers   []*Worker
	batches   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewQueue allocates every slot up front. Workers are not started until Start.
func NewQueue(cfg Config) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{cfg: cfg}
	q.open = newRing(cfg.Slots, &q.inFlight)
	q.ready = newRing(cfg.Slots, &q.inFlight)
	q.done = newRing(cfg.Slots, &q.inFlight)
	q.nOpen = newCounter(cfg.Slots, cfg.Slots)
	q.nReady = newCounter(cfg.Slots, 0)
	q.nDone = newCounter(cfg.Slots, 0)

	q.slots = make([]*sim.SimState, cfg.Slots)
	q.inFlight.Store(int64(cfg.Slots))
	for i := range q.slots {
		q.slots[i] = &sim.SimState{}
		q.open.push(q.slots[i])
	}
	return q
}

// Start launches the worker pool. It is safe to call more than once; only the
// first call has an effect. Idle workers exit when ctx is cancelled, and a
// stopped pool is never restarted, so ctx should outlive every batch run on q.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		rng := sim.NewPartitionedRNG(sim.NewSimulationKey(q.cfg.Seed))
		ncpu := runtime.NumCPU()
		q.workers = make([]*Worker, q.cfg.Workers)
		for i := range q.workers {
			w := &Worker{
				ID:  i,
				CPU: i % ncpu,
				RNG: rng.ForSubsystem(sim.SubsystemWorker(i)),
			}
			if q.cfg.NewPriceSource != nil {
				w.Prices = q.cfg.NewPriceSource(i)
			}
			q.workers[i] = w
		}
		for _, w := range q.workers {
			go q.work(ctx, w)
		}
		q.started.Store(true)
		logrus.Infof("started %d workers over %d slots (pin=%v)", len(q.workers), q.cfg.Slots, q.cfg.PinCPUs)
	})
}

// Started reports whether Start has been called.
func (q *Queue) Started() bool { return q.started.Load() }

// NextBatch returns a new non-zero batch number. Drivers stamp it on every job
// of a batch so results left behind by an aborted batch can be told apart.
func (q *Queue) NextBatch() uint64 { return q.batches.Add(1) }

// Submit copies scenario into a free slot and queues it for execution. It
// blocks until a slot is free or ctx is done, and returns once the job is
// queued, not once it has run. The caller keeps ownership of scenario.
func (q *Queue) Submit(ctx context.Context, scenario *sim.SimState) error {
	if err := q.nOpen.wait(ctx); err != nil {
		return err
	}
	slot := q.open.pop()
	slot.CopyFrom(scenario)
	slot.Err = nil
	slot.FinalWorth = 0
	q.ready.push(slot)
	q.nReady.post()
	return nil
}

// Harvest waits for a completed scenario, passes it to handler and recycles
// its slot. The scenario must not be retained after handler returns.
func (q *Queue) Harvest(ctx context.Context, handler func(*sim.SimState)) error {
	if err := q.nDone.wait(ctx); err != nil {
		return err
	}
	slot := q.done.pop()
	defer func() {
		q.open.push(slot)
		q.nOpen.post()
	}()
	handler(slot)
	return nil
}

// TryHarvest is Harvest without blocking; it reports whether a result was handled.
func (q *Queue) TryHarvest(handler func(*sim.SimState)) bool {
	if !q.nDone.tryWait() {
		return false
	}
	slot := q.done.pop()
	defer func() {
		q.open.push(slot)
		q.nOpen.post()
	}()
	handler(slot)
	return true
}

// Stats returns a consistent snapshot of where every slot is.
func (q *Queue) Stats() Stats {
	q.open.mu.Lock()
	q.ready.mu.Lock()
	q.done.mu.Lock()
	s := Stats{
		Open:     q.open.n,
		Ready:    q.ready.n,
		Done:     q.done.n,
		InFlight: int(q.inFlight.Load()),
		Total:    len(q.slots),
	}
	q.done.mu.Unlock()
	q.ready.mu.Unlock()
	q.open.mu.Unlock()
	return s
}

// Completed and Failed count scenarios finished by workers since construction.
func (q *Queue) Completed() uint64 { return q.completed.Load() }
func (q *Queue) Failed() uint64    { return q.failed.Load() }

// Workers returns the started workers, or nil before Start.
func (q *Queue) Workers() []*Worker {
	return q.workers
}
