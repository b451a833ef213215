package batch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backtest-sim/backtest-sim/sim"
)

var btc = sim.NewSymbol("BTC")

// ticks keeps its order alive for a fixed number of steps.
type ticks struct {
	left  int
	calls *int // shared with the test to detect aliasing
}

func (k *ticks) Step(*sim.SimState, *sim.Order) (sim.OrderStatus, error) {
	if k.calls != nil {
		*k.calls++
	}
	k.left--
	if k.left <= 0 {
		return sim.StatusNone, nil
	}
	return sim.StatusActive, nil
}

func (k *ticks) Clone() sim.Strategy {
	return &ticks{left: k.left}
}

type panics struct{}

func (panics) Step(*sim.SimState, *sim.Order) (sim.OrderStatus, error) { panic("boom") }
func (p panics) Clone() sim.Strategy                                   { return p }

func constant(p int64) sim.PriceSource {
	return sim.PriceFunc(func(sim.Symbol, int64) (int64, error) { return p, nil })
}

func scenario(t *testing.T, id uint64, steps int) *sim.SimState {
	t.Helper()
	s := sim.NewSimState(sim.ScenarioConfig{}, 1_000_000)
	s.ID = id
	s.Cash = int64(id)
	s.Prices = constant(100)
	require.NoError(t, sim.MakeCustomOrder(s, btc, 0, &ticks{left: steps}))
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewQueue_AllSlotsOpen(t *testing.T) {
	q := NewQueue(Config{Slots: 4, Workers: 1})
	assert.Equal(t, Stats{Open: 4, Total: 4}, q.Stats())
	assert.Nil(t, q.Workers())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultSlots, cfg.Slots)
	assert.Positive(t, cfg.Workers)
}

func TestSubmit_BlocksWhenNoSlotIsFree(t *testing.T) {
	q := NewQueue(Config{Slots: 2, Workers: 1})
	ctx := testContext(t)

	// workers are not started, so nothing drains the ready ring
	require.NoError(t, q.Submit(ctx, scenario(t, 1, 1)))
	require.NoError(t, q.Submit(ctx, scenario(t, 2, 1)))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Submit(short, scenario(t, 3, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Stats{Ready: 2, Total: 2}, q.Stats())
}

func TestHarvest_BlocksUntilDone(t *testing.T) {
	q := NewQueue(Config{Slots: 2, Workers: 1})
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Harvest(short, func(*sim.SimState) { t.Fatal("nothing was submitted") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, q.TryHarvest(func(*sim.SimState) {}))
}

func TestQueue_RunsEveryScenarioOnce(t *testing.T) {
	const n = 50
	q := NewQueue(Config{Slots: 4, Workers: 3, Seed: 7})
	ctx := testContext(t)
	q.Start(ctx)

	var got []uint64
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			err := q.Harvest(ctx, func(s *sim.SimState) {
				assert.NoError(t, s.Err)
				assert.Equal(t, int(s.ID%5)+1, s.Steps)
				assert.Equal(t, int64(s.ID), s.FinalWorth)
				assert.Equal(t, int64(1_000_000)+60*int64(s.Steps), s.Time)
				got = append(got, s.ID)
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Submit(ctx, scenario(t, uint64(i), i%5+1)))
	}
	require.NoError(t, <-done)

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i := range got {
		assert.Equal(t, uint64(i), got[i])
	}
	assert.Len(t, got, n)
	assert.Equal(t, uint64(n), q.Completed())
	assert.Zero(t, q.Failed())
	assert.Equal(t, Stats{Open: 4, Total: 4}, q.Stats())
}

func TestQueue_SingleWorkerPreservesOrder(t *testing.T) {
	q := NewQueue(Config{Slots: 8, Workers: 1})
	ctx := testContext(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Submit(ctx, scenario(t, uint64(i), 6-i)))
	}
	q.Start(ctx)

	var got []uint64
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Harvest(ctx, func(s *sim.SimState) { got = append(got, s.ID) }))
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, got)
}

func TestSubmit_CopiesScenario(t *testing.T) {
	q := NewQueue(Config{Slots: 2, Workers: 1})
	ctx := testContext(t)
	q.Start(ctx)

	calls := 0
	base := sim.NewSimState(sim.ScenarioConfig{}, 0)
	base.Prices = constant(100)
	require.NoError(t, sim.MakeCustomOrder(base, btc, 0, &ticks{left: 3, calls: &calls}))

	for i := 0; i < 3; i++ {
		base.ID = uint64(i)
		require.NoError(t, q.Submit(ctx, base))
		require.NoError(t, q.Harvest(ctx, func(s *sim.SimState) {
			assert.Equal(t, 3, s.Steps)
			assert.Equal(t, 0, s.LiveOrders)
		}))
	}

	assert.Zero(t, calls, "workers must run clones, never the submitted strategy")
	assert.Equal(t, 1, base.LiveOrders)
	assert.Zero(t, base.Steps)
}

func TestWorker_FailureDoesNotStallPool(t *testing.T) {
	q := NewQueue(Config{Slots: 1, Workers: 1})
	ctx := testContext(t)
	q.Start(ctx)

	bad := sim.NewSimState(sim.ScenarioConfig{}, 0)
	bad.Prices = constant(100)
	require.NoError(t, sim.MakeCustomOrder(bad, btc, 0, panics{}))
	require.NoError(t, q.Submit(ctx, bad))
	require.NoError(t, q.Harvest(ctx, func(s *sim.SimState) {
		assert.ErrorIs(t, s.Err, ErrScenarioPanic)
	}))

	missing := sim.NewSimState(sim.ScenarioConfig{}, 0)
	missing.Prices = sim.PriceFunc(func(sim.Symbol, int64) (int64, error) { return 0, sim.ErrDataUnavailable })
	require.NoError(t, sim.Buy(missing, btc, 1))
	require.NoError(t, q.Submit(ctx, missing))
	require.NoError(t, q.Harvest(ctx, func(s *sim.SimState) {
		assert.ErrorIs(t, s.Err, sim.ErrDataUnavailable)
	}))

	require.NoError(t, q.Submit(ctx, scenario(t, 9, 2)))
	require.NoError(t, q.Harvest(ctx, func(s *sim.SimState) {
		assert.NoError(t, s.Err)
		assert.Equal(t, uint64(9), s.ID)
	}))
	assert.Equal(t, uint64(3), q.Completed())
	assert.Equal(t, uint64(2), q.Failed())
}

func TestStart_Idempotent(t *testing.T) {
	q := NewQueue(Config{Slots: 2, Workers: 2})
	ctx := testContext(t)
	assert.False(t, q.Started())
	q.Start(ctx)
	first := q.Workers()
	q.Start(ctx)
	assert.True(t, q.Started())
	assert.Len(t, q.Workers(), 2)
	assert.Same(t, first[0], q.Workers()[0])
}

func TestSubmit_CarriesBatchNumber(t *testing.T) {
	q := NewQueue(Config{Slots: 2, Workers: 1})
	ctx := testContext(t)
	q.Start(ctx)
	first, second := q.NextBatch(), q.NextBatch()
	assert.NotZero(t, first)
	assert.Greater(t, second, first)

	s := scenario(t, 1, 1)
	s.Batch = second
	require.NoError(t, q.Submit(ctx, s))
	require.NoError(t, q.Harvest(ctx, func(got *sim.SimState) {
		assert.Equal(t, second, got.Batch)
	}))
}

func TestWorker_BindsPrivatePriceSource(t *testing.T) {
	q := NewQueue(Config{
		Slots:   2,
		Workers: 1,
		NewPriceSource: func(id int) sim.PriceSource {
			return constant(1000 + int64(id))
		},
	})
	ctx := testContext(t)
	q.Start(ctx)
	require.NotNil(t, q.Workers()[0].RNG)

	s := sim.NewSimState(sim.ScenarioConfig{}, 0)
	s.Cash = 5000
	require.NoError(t, sim.Buy(s, btc, 2))
	require.NoError(t, q.Submit(ctx, s))
	require.NoError(t, q.Harvest(ctx, func(s *sim.SimState) {
		require.NoError(t, s.Err)
		assert.Equal(t, int64(3000), s.Cash)
		assert.Equal(t, int64(5000), s.FinalWorth)
		assert.Nil(t, s.Prices, "the worker's source is unbound after the run")
		assert.Nil(t, s.RNG)
	}))
}

func TestStats_ConservedUnderLoad(t *testing.T) {
	const n = 200
	q := NewQueue(Config{Slots: 6, Workers: 4})
	ctx := testContext(t)
	q.Start(ctx)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := q.Stats()
			if st.Open+st.Ready+st.Done+st.InFlight != st.Total {
				t.Errorf("slots not conserved: %+v", st)
				return
			}
		}
	}()

	harvested := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := q.Harvest(ctx, func(*sim.SimState) {}); err != nil {
				harvested <- err
				return
			}
		}
		harvested <- nil
	}()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Submit(ctx, scenario(t, uint64(i), 1+i%3)))
	}
	require.NoError(t, <-harvested)
	close(stop)
	wg.Wait()
	assert.Equal(t, Stats{Open: 6, Total: 6}, q.Stats())
}
