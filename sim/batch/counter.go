package batch

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// counter is a counting semaphore bounded by capacity: wait blocks while the
// count is zero and decrements it, post increments it.
type counter struct {
	sem *semaphore.Weighted
}

func newCounter(capacity, initial int) *counter {
	sem := semaphore.NewWeighted(int64(capacity))
	// Hold the tokens that are not yet available.
	if !sem.TryAcquire(int64(capacity - initial)) {
		panic("counter: initial count exceeds capacity")
	}
	return &counter{sem: sem}
}

func (c *counter) wait(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

func (c *counter) tryWait() bool {
	return c.sem.TryAcquire(1)
}

func (c *counter) post() {
	c.sem.Release(1)
}
