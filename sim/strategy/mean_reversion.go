package strategy

import (
	"github.com/backtest-sim/backtest-sim/sim"
)

// MeanReversion buys when the price drops below BuyFactor times its
// exponential moving average and sells when it rises above SellFactor times
// the average, or falls below StopFactor times the purchase price.
// The order's Quantity is the lot size. It never retires on its own.
type MeanReversion struct {
	EMADiscount    float64 `yaml:"ema_discount"` // new ema = ema*discount + price*(1-discount)
	BuyFactor      float64 `yaml:"buy_factor"`
	SellFactor     float64 `yaml:"sell_factor"`
	StopFactor     float64 `yaml:"stop_factor"`
	InitialSamples int     `yaml:"initial_samples"` // ticks observed before trading

	ema         float64
	samples     int
	boughtPrice int64
	boughtQty   int64
}

func (m *MeanReversion) Step(state *sim.SimState, order *sim.Order) (sim.OrderStatus, error) {
	price, err := state.Price(order.Symbol)
	if err != nil {
		return sim.StatusNone, err
	}
	p := float64(price)
	if m.samples == 0 && m.ema == 0 {
		m.ema = p
	}

	if m.samples >= m.InitialSamples {
		switch {
		case m.boughtQty == 0 && p < m.BuyFactor*m.ema:
			if err := sim.Buy(state, order.Symbol, order.Quantity); err != nil {
				return sim.StatusNone, err
			}
			m.boughtPrice, m.boughtQty = price, order.Quantity
		case m.boughtQty > 0 && (p > m.SellFactor*m.ema || p < m.StopFactor*float64(m.boughtPrice)):
			// The buy may have been rejected, so sell only what is held.
			if qty := min(m.boughtQty, state.Holding(order.Symbol)); qty > 0 {
				if err := sim.Sell(state, order.Symbol, qty); err != nil {
					return sim.StatusNone, err
				}
			}
			m.boughtPrice, m.boughtQty = 0, 0
		}
	}

	m.samples++
	m.ema = m.ema*m.EMADiscount + p*(1-m.EMADiscount)
	return sim.StatusActive, nil
}

func (m *MeanReversion) Clone() sim.Strategy {
	cp := *m
	return &cp
}
