// Implements the execution engine: the per-tick order state machine that
// settles buys and sells against the scenario's price source and drives
// custom strategies until no active order remains.

package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// RunScenario steps state until its live order bound reaches zero or a
// step fails. A strategy that never retires its orders never terminates;
// wrap such strategies in a time-bounding one.
func RunScenario(state *SimState) error {
	for state.LiveOrders > 0 {
		if err := Step(state); err != nil {
			return err
		}
	}
	logrus.Debugf("[t=%d] scenario %d finished after %d steps, cash=%s, rejections=%d",
		state.Time, state.ID, state.Steps, FormatMoney(state.Cash), len(state.Rejections))
	return nil
}

// Step advances state by one tick and executes every active order.
//
// The live bound is re-read on each iteration, so orders appended by a custom
// strategy are executed within the same tick. Settlement failures are recorded
// in state.Rejections and retire the order; any other error aborts the step.
func Step(state *SimState) error {
	state.Time += state.TickSeconds()
	state.Steps++

	for i := 0; i < state.LiveOrders; i++ {
		order := &state.Orders[i]
		if order.Status != StatusActive {
			continue
		}
		var err error
		switch order.Type {
		case OrderBuy:
			err = executeBuy(state, order)
		case OrderSell:
			err = executeSell(state, order)
		case OrderCustom:
			err = executeCustom(state, order)
		default:
			err = fmt.Errorf("order %d: unhandled order type %d", i, order.Type)
		}
		if err == nil {
			continue
		}
		if !IsSettlementError(err) {
			return err
		}
		logrus.Debugf("[t=%d] rejected %s %s x %d: %v", state.Time, order.Type, order.Symbol, order.Quantity, err)
		state.Rejections = append(state.Rejections, Rejection{
			Order:    i,
			Type:     order.Type,
			Symbol:   order.Symbol,
			Quantity: order.Quantity,
			Time:     state.Time,
			Err:      err,
		})
		order.Status = StatusNone
	}

	compact(state)
	return nil
}

// compact shrinks the live bounds past trailing inactive orders and trailing
// empty positions. Holes below the last live slot are left in place.
func compact(state *SimState) {
	for state.LiveOrders > 0 && state.Orders[state.LiveOrders-1].Status != StatusActive {
		state.LiveOrders--
		state.Orders[state.LiveOrders] = Order{}
	}
	for state.LivePositions > 0 && state.Positions[state.LivePositions-1].Quantity == 0 {
		state.LivePositions--
		state.Positions[state.LivePositions] = Position{}
	}
}

// Fee returns the basis-point fee on amount, rounded half up.
func Fee(amount, bps int64) int64 {
	if bps <= 0 || amount <= 0 {
		return 0
	}
	return (amount*bps + 5000) / 10000
}

func executeBuy(state *SimState, order *Order) error {
	p, err := state.Price(order.Symbol)
	if err != nil {
		return err
	}
	cost := order.Quantity * p
	total := cost + Fee(cost, state.FeeBps)
	if state.Cash < total {
		return fmt.Errorf("buy %s x %d costs %s, have %s: %w",
			order.Symbol, order.Quantity, FormatMoney(total), FormatMoney(state.Cash), ErrInsufficientFunds)
	}
	if err := AddPosition(state, order.Symbol, order.Quantity); err != nil {
		return err
	}
	state.Cash -= total
	order.Status = StatusNone
	return nil
}

func executeSell(state *SimState, order *Order) error {
	idx := state.findPosition(order.Symbol)
	if idx < 0 || state.Positions[idx].Quantity == 0 {
		return fmt.Errorf("sell %s x %d: %w", order.Symbol, order.Quantity, ErrNoPosition)
	}
	pos := &state.Positions[idx]
	if pos.Quantity < order.Quantity {
		return fmt.Errorf("sell %s x %d, holding %d: %w",
			order.Symbol, order.Quantity, pos.Quantity, ErrInsufficientShares)
	}
	p, err := state.Price(order.Symbol)
	if err != nil {
		return err
	}
	proceeds := order.Quantity * p
	pos.Quantity -= order.Quantity
	state.Cash += proceeds - Fee(proceeds, state.FeeBps)
	order.Status = StatusNone
	return nil
}

func executeCustom(state *SimState, order *Order) error {
	if order.Strategy == nil {
		return fmt.Errorf("custom order on %s has no strategy", order.Symbol)
	}
	status, err := order.Strategy.Step(state, order)
	if err != nil {
		return fmt.Errorf("strategy %T on %s: %w", order.Strategy, order.Symbol, err)
	}
	order.Status = status
	return nil
}

// AddPosition credits quantity of sym to the position table, appending a new
// slot at the live bound when the symbol is not yet held.
func AddPosition(state *SimState, sym Symbol, quantity int64) error {
	if i := state.findPosition(sym); i >= 0 {
		state.Positions[i].Quantity += quantity
		return nil
	}
	if state.LivePositions >= len(state.Positions) {
		return fmt.Errorf("position table full (%d slots): %w", len(state.Positions), ErrCapacityExceeded)
	}
	state.Positions[state.LivePositions] = Position{Symbol: sym, Quantity: quantity}
	state.LivePositions++
	return nil
}

func appendOrder(state *SimState, o Order) error {
	if state.LiveOrders >= len(state.Orders) {
		return fmt.Errorf("order table full (%d slots): %w", len(state.Orders), ErrCapacityExceeded)
	}
	state.Orders[state.LiveOrders] = o
	state.LiveOrders++
	return nil
}

// Buy appends an active buy order for quantity units of sym.
func Buy(state *SimState, sym Symbol, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("buy %s x %d: %w", sym, quantity, ErrInvalidQuantity)
	}
	return appendOrder(state, Order{Status: StatusActive, Type: OrderBuy, Symbol: sym, Quantity: quantity})
}

// Sell appends an active sell order for quantity units of sym.
func Sell(state *SimState, sym Symbol, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("sell %s x %d: %w", sym, quantity, ErrInvalidQuantity)
	}
	return appendOrder(state, Order{Status: StatusActive, Type: OrderSell, Symbol: sym, Quantity: quantity})
}

// MakeCustomOrder appends an active order driven by strategy.
func MakeCustomOrder(state *SimState, sym Symbol, quantity int64, strategy Strategy) error {
	if strategy == nil {
		return fmt.Errorf("custom order on %s: nil strategy", sym)
	}
	return appendOrder(state, Order{Status: StatusActive, Type: OrderCustom, Symbol: sym, Quantity: quantity, Strategy: strategy})
}
