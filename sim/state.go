// Defines the per-scenario simulation state: orders, positions, cash and clock.
// A SimState is created by a harness, deep-copied into a queue slot on
// submission, and mutated by exactly one worker until it is harvested.

package sim

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

const (
	// DefaultMaxOrders is the order table capacity used when ScenarioConfig leaves it unset.
	DefaultMaxOrders = 128
	// DefaultMaxPositions is the position table capacity used when ScenarioConfig leaves it unset.
	DefaultMaxPositions = 128
	// DefaultStepSeconds is one simulated minute per tick.
	DefaultStepSeconds = 60
	// Dollar is the number of price units in one currency unit (prices are in cents).
	Dollar = 100
)

// OrderStatus is the liveness of an order slot.
type OrderStatus int

const (
	StatusNone OrderStatus = iota
	StatusActive
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// OrderType selects how the engine settles an active order.
type OrderType int

const (
	OrderBuy OrderType = iota
	OrderSell
	OrderCustom
)

func (t OrderType) String() string {
	switch t {
	case OrderBuy:
		return "Buy"
	case OrderSell:
		return "Sell"
	case OrderCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// PriceSource answers point-in-time price queries in scaled integer units.
type PriceSource interface {
	Price(sym Symbol, t int64) (int64, error)
}

// PriceFunc adapts a plain function to PriceSource.
type PriceFunc func(sym Symbol, t int64) (int64, error)

// Price implements PriceSource.
func (f PriceFunc) Price(sym Symbol, t int64) (int64, error) { return f(sym, t) }

// Strategy is the extension point for custom orders. Step is invoked once per
// tick while the order is active; it may place further orders on state and
// returns the order's next status (StatusNone retires the order).
//
// A strategy owns its private state. Clone must return an independent copy so
// that a scenario can be submitted many times without workers sharing state.
type Strategy interface {
	Step(state *SimState, order *Order) (OrderStatus, error)
	Clone() Strategy
}

// ScenarioData is strategy-private state attached to a whole scenario.
type ScenarioData interface {
	Clone() ScenarioData
}

// Order is one slot of the order table.
type Order struct {
	Status   OrderStatus
	Type     OrderType
	Symbol   Symbol
	Quantity int64
	Strategy Strategy // set for OrderCustom only
}

// Position is one slot of the position table.
type Position struct {
	Symbol   Symbol
	Quantity int64
}

// Rejection records an order that could not settle at the modeled price.
type Rejection struct {
	Order    int
	Type     OrderType
	Symbol   Symbol
	Quantity int64
	Time     int64
	Err      error
}

// ScenarioConfig sizes the fixed tables and sets the execution parameters of a scenario.
type ScenarioConfig struct {
	MaxOrders    int   `yaml:"max_orders"`
	MaxPositions int   `yaml:"max_positions"`
	StepSeconds  int64 `yaml:"step_seconds"`
	FeeBps       int64 `yaml:"fee_bps"`
}

// WithDefaults fills zero fields with the package defaults.
func (c ScenarioConfig) WithDefaults() ScenarioConfig {
	if c.MaxOrders <= 0 {
		c.MaxOrders = DefaultMaxOrders
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = DefaultMaxPositions
	}
	if c.StepSeconds <= 0 {
		c.StepSeconds = DefaultStepSeconds
	}
	return c
}

// SimState is one scenario's mutable state.
//
// LiveOrders and LivePositions are live bounds, not counts: every slot at or
// beyond the bound is empty, but slots below it may be holes that stay in
// place until everything after them is inactive as well.
type SimState struct {
	Orders        []Order
	Positions     []Position
	LiveOrders    int
	LivePositions int

	Cash        int64 // scaled by Dollar
	Start       int64 // unix seconds the scenario started at
	Time        int64 // current simulated unix seconds
	StepSeconds int64
	FeeBps      int64 // proportional fee in basis points

	Prices PriceSource
	RNG    *rand.Rand
	Aux    ScenarioData

	// ID is assigned by the submitter so results can be matched after
	// out-of-order completion. Batch tags the submitting batch.
	ID         uint64
	Batch      uint64
	Rejections []Rejection
	Err        error
	Steps      int
	// FinalWorth is the marked-to-market worth when the scenario finished,
	// set by the worker while its price source is still bound.
	FinalWorth int64
}

// NewSimState allocates a state with fixed tables sized by cfg.
func NewSimState(cfg ScenarioConfig, start int64) *SimState {
	cfg = cfg.WithDefaults()
	return &SimState{
		Orders:      make([]Order, cfg.MaxOrders),
		Positions:   make([]Position, cfg.MaxPositions),
		Start:       start,
		Time:        start,
		StepSeconds: cfg.StepSeconds,
		FeeBps:      cfg.FeeBps,
	}
}

// Clone returns a deep copy of s.
func (s *SimState) Clone() *SimState {
	out := &SimState{
		Orders:    make([]Order, len(s.Orders)),
		Positions: make([]Position, len(s.Positions)),
	}
	out.CopyFrom(s)
	return out
}

// CopyFrom overwrites s with a deep copy of src, reusing s's tables when they
// are large enough. Strategies and scenario data are cloned so that mutation
// of s never aliases src.
func (s *SimState) CopyFrom(src *SimState) {
	if cap(s.Orders) < len(src.Orders) {
		s.Orders = make([]Order, len(src.Orders))
	}
	s.Orders = s.Orders[:len(src.Orders)]
	if cap(s.Positions) < len(src.Positions) {
		s.Positions = make([]Position, len(src.Positions))
	}
	s.Positions = s.Positions[:len(src.Positions)]

	copy(s.Orders, src.Orders)
	for i := range s.Orders {
		if s.Orders[i].Strategy != nil {
			s.Orders[i].Strategy = s.Orders[i].Strategy.Clone()
		}
	}
	copy(s.Positions, src.Positions)

	s.LiveOrders = src.LiveOrders
	s.LivePositions = src.LivePositions
	s.Cash = src.Cash
	s.Start = src.Start
	s.Time = src.Time
	s.StepSeconds = src.StepSeconds
	s.FeeBps = src.FeeBps
	s.Prices = src.Prices
	s.RNG = src.RNG
	s.Aux = nil
	if src.Aux != nil {
		s.Aux = src.Aux.Clone()
	}
	s.ID = src.ID
	s.Batch = src.Batch
	s.Rejections = append(s.Rejections[:0], src.Rejections...)
	s.Err = src.Err
	s.Steps = src.Steps
	s.FinalWorth = src.FinalWorth
}

// TickSeconds returns the clock advance per step.
func (s *SimState) TickSeconds() int64 {
	if s.StepSeconds <= 0 {
		return DefaultStepSeconds
	}
	return s.StepSeconds
}

// Price looks up sym at the current simulated time.
func (s *SimState) Price(sym Symbol) (int64, error) {
	if s.Prices == nil {
		return 0, ErrNoPriceSource
	}
	p, err := s.Prices.Price(sym, s.Time)
	if err != nil {
		return 0, fmt.Errorf("price of %s at %d: %w", sym, s.Time, err)
	}
	return p, nil
}

// ActiveOrders counts active orders below the live bound.
func (s *SimState) ActiveOrders() int {
	n := 0
	for i := 0; i < s.LiveOrders; i++ {
		if s.Orders[i].Status == StatusActive {
			n++
		}
	}
	return n
}

// Holding returns the held quantity of sym, or 0 when no position exists.
func (s *SimState) Holding(sym Symbol) int64 {
	if i := s.findPosition(sym); i >= 0 {
		return s.Positions[i].Quantity
	}
	return 0
}

func (s *SimState) findPosition(sym Symbol) int {
	id := sym.ID()
	for i := 0; i < s.LivePositions; i++ {
		if s.Positions[i].Symbol.ID() == id {
			return i
		}
	}
	return -1
}

// Worth returns cash plus the marked-to-market value of every live position.
func (s *SimState) Worth() (int64, error) {
	worth := s.Cash
	for i := 0; i < s.LivePositions; i++ {
		p := s.Positions[i]
		if p.Quantity == 0 {
			continue
		}
		price, err := s.Price(p.Symbol)
		if err != nil {
			return 0, err
		}
		worth += p.Quantity * price
	}
	return worth, nil
}

// String renders a human-readable summary of the scenario.
func (s *SimState) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SimState\n  Time: %s\n  Cash: %s\n",
		time.Unix(s.Time, 0).UTC().Format("01/02/2006 15:04"), FormatMoney(s.Cash))
	if s.LivePositions == 0 {
		sb.WriteString("  No positions.\n")
	} else {
		sb.WriteString("  Positions:\n")
		for i := 0; i < s.LivePositions; i++ {
			if p := s.Positions[i]; p.Quantity != 0 {
				fmt.Fprintf(&sb, "    %s x %d\n", p.Symbol, p.Quantity)
			}
		}
	}
	if s.LiveOrders == 0 {
		sb.WriteString("  No orders.\n")
	} else {
		sb.WriteString("  Orders:\n")
		for i := 0; i < s.LiveOrders; i++ {
			if o := s.Orders[i]; o.Status != StatusNone {
				fmt.Fprintf(&sb, "    %s %-4s x %d\n", o.Type, o.Symbol, o.Quantity)
			}
		}
	}
	return sb.String()
}

// FormatMoney renders a scaled amount as dollars, e.g. -1234 -> "-$12.34".
func FormatMoney(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/Dollar, v%Dollar)
}
