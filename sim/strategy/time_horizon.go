package strategy

import (
	"fmt"

	"github.com/backtest-sim/backtest-sim/sim"
)

// TimeHorizon liquidates a scenario at a cutoff: it retires every other
// active order, sells every held position and then retires itself.
//
// Liquidation happens on the last tick whose time does not exceed the cutoff,
// or on the first tick when the cutoff is less than one step after the start.
type TimeHorizon struct {
	// Offset is the horizon relative to the scenario's start time. It is
	// used when Cutoff is zero, so one template scenario can be submitted
	// with many start times.
	Offset int64
	// Cutoff is the absolute liquidation time in unix seconds.
	Cutoff int64
}

// NewTimeHorizon returns a horizon that closes the scenario offset seconds after it starts.
func NewTimeHorizon(offset int64) *TimeHorizon {
	return &TimeHorizon{Offset: offset}
}

func (h *TimeHorizon) Step(state *sim.SimState, order *sim.Order) (sim.OrderStatus, error) {
	if h.Cutoff == 0 {
		h.Cutoff = state.Start + h.Offset
	}
	if state.Time+state.TickSeconds() <= h.Cutoff {
		return sim.StatusActive, nil
	}

	for i := 0; i < state.LiveOrders; i++ {
		if o := &state.Orders[i]; o != order && o.Status == sim.StatusActive {
			o.Status = sim.StatusNone
		}
	}
	for i := 0; i < state.LivePositions; i++ {
		p := state.Positions[i]
		if p.Quantity <= 0 {
			continue
		}
		if err := sim.Sell(state, p.Symbol, p.Quantity); err != nil {
			return sim.StatusNone, fmt.Errorf("liquidating %s: %w", p.Symbol, err)
		}
	}
	return sim.StatusNone, nil
}

func (h *TimeHorizon) Clone() sim.Strategy {
	cp := *h
	return &cp
}
