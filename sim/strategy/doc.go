// Package strategy provides custom-order strategies for the execution engine.
//
// Each strategy is a sim.Strategy owning its private, typed state. The engine
// calls Step once per tick while the order is active; strategies place plain
// buy and sell orders on the scenario, which settle within the same tick.
//
// TimeHorizon is the exit strategy: install it alongside any strategy that
// never retires its own order so the scenario terminates.
package strategy
