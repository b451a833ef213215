// Package sim provides the core of the backtester: the scenario data model
// and the per-tick execution engine.
//
// # Reading Guide
//
// Start with these files to understand a single scenario:
//   - state.go: SimState, orders, positions and the PriceSource/Strategy interfaces
//   - execution.go: Step and RunScenario, the order state machine
//   - errors.go: settlement errors versus errors that abort a scenario
//
// # Architecture
//
// The sim package defines interfaces and the engine; implementations live in
// sub-packages:
//   - sim/prices/: CSV price store, per-worker LRU price cache, symbol catalog
//   - sim/strategy/: custom-order strategies (TimeHorizon, MeanReversion, BuyAndHold)
//   - sim/batch/: job queue and worker pool running many scenarios in parallel
//   - sim/harness/: randomized-start batches, comparisons and summary statistics
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - PriceSource: point-in-time price of a symbol in scaled integer units
//   - Strategy: per-tick behavior of a custom order, cloned per job
//   - ScenarioData: scenario-wide strategy state, cloned per job
//
// Money and prices are integers scaled by Dollar; no floating point is used
// on the settlement path.
package sim
