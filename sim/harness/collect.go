package harness

import (
	"github.com/backtest-sim/backtest-sim/sim"
)

// Collector receives every harvested scenario. Collect is called from a
// single harvesting goroutine and must not retain s.
type Collector interface {
	Collect(s *sim.SimState)
}

// Multi fans each scenario out to several collectors in order.
type Multi []Collector

func (m Multi) Collect(s *sim.SimState) {
	for _, c := range m {
		c.Collect(s)
	}
}

// Values records one number per successful scenario, ordered by scenario ID.
// Failed scenarios are skipped.
type Values struct {
	pick func(*sim.SimState) int64
	vals []int64
	seen []bool
}

// NewValues returns a collector recording pick(s) for every successful scenario.
func NewValues(pick func(*sim.SimState) int64) *Values {
	return &Values{pick: pick}
}

// FinalCash collects each scenario's closing cash balance.
func FinalCash() *Values {
	return NewValues(func(s *sim.SimState) int64 { return s.Cash })
}

// FinalWorth collects each scenario's closing cash plus marked-to-market positions.
func FinalWorth() *Values {
	return NewValues(func(s *sim.SimState) int64 { return s.FinalWorth })
}

func (v *Values) Collect(s *sim.SimState) {
	if s.Err != nil {
		return
	}
	idx := int(s.ID)
	if grow := idx + 1 - len(v.vals); grow > 0 {
		v.vals = append(v.vals, make([]int64, grow)...)
		v.seen = append(v.seen, make([]bool, grow)...)
	}
	v.vals[idx] = v.pick(s)
	v.seen[idx] = true
}

// Results returns the recorded values ordered by scenario ID.
func (v *Values) Results() []int64 {
	out := make([]int64, 0, len(v.vals))
	for i, x := range v.vals {
		if v.seen[i] {
			out = append(out, x)
		}
	}
	return out
}

// Reset discards every recorded value.
func (v *Values) Reset() {
	v.vals = v.vals[:0]
	v.seen = v.seen[:0]
}

// Outcomes counts successful and failed scenarios and the settlement
// rejections they accumulated.
type Outcomes struct {
	Succeeded  int
	Failed     int
	Rejected   int // scenarios with at least one rejected order
	Rejections int
	FirstErr   error
}

func (o *Outcomes) Collect(s *sim.SimState) {
	if s.Err != nil {
		o.Failed++
		if o.FirstErr == nil {
			o.FirstErr = s.Err
		}
	} else {
		o.Succeeded++
	}
	if n := len(s.Rejections); n > 0 {
		o.Rejected++
		o.Rejections += n
	}
}

// Total is the number of scenarios seen.
func (o *Outcomes) Total() int { return o.Succeeded + o.Failed }
