package batch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/backtest-sim/backtest-sim/sim"
)

// ring is a fixed-capacity FIFO of scenario slots. Index updates are guarded
// by mu; capacity and occupancy are gated outside the ring by the queue's
// counting semaphores, so push on a full ring or pop on an empty one is a bug.
//
// Every pop moves a slot into the shared inFlight count and every push moves
// one out, both under mu, so a caller holding all ring locks sees a
// consistent total.
type ring struct {
	mu       sync.Mutex
	buf      []*sim.SimState
	head     int // next pop
	tail     int // next push
	n        int
	inFlight *atomic.Int64
}

func newRing(capacity int, inFlight *atomic.Int64) *ring {
	return &ring{buf: make([]*sim.SimState, capacity), inFlight: inFlight}
}

func (r *ring) push(s *sim.SimState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == len(r.buf) {
		panic(fmt.Sprintf("ring: push on full ring (cap %d)", len(r.buf)))
	}
	r.buf[r.tail] = s
	r.tail = (r.tail + 1) % len(r.buf)
	r.n++
	r.inFlight.Add(-1)
}

func (r *ring) pop() *sim.SimState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		panic("ring: pop on empty ring")
	}
	s := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	r.inFlight.Add(1)
	return s
}

// Len returns the number of slots currently in the ring.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the ring capacity.
func (r *ring) Cap() int {
	return len(r.buf)
}
