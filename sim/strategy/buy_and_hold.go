package strategy

import "github.com/backtest-sim/backtest-sim/sim"

// BuyAndHold buys the order's quantity on its first tick, sells it after
// HoldTicks further ticks and retires.
type BuyAndHold struct {
	HoldTicks int `yaml:"hold_ticks"`

	held bool
	age  int
}

func (b *BuyAndHold) Step(state *sim.SimState, order *sim.Order) (sim.OrderStatus, error) {
	if !b.held {
		b.held = true
		return sim.StatusActive, sim.Buy(state, order.Symbol, order.Quantity)
	}
	b.age++
	if b.age < b.HoldTicks {
		return sim.StatusActive, nil
	}
	if qty := min(order.Quantity, state.Holding(order.Symbol)); qty > 0 {
		if err := sim.Sell(state, order.Symbol, qty); err != nil {
			return sim.StatusNone, err
		}
	}
	return sim.StatusNone, nil
}

func (b *BuyAndHold) Clone() sim.Strategy {
	cp := *b
	return &cp
}
