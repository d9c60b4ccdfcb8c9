package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/atra-crawler/atra/internal/queue"
)

// Barrier tracks how many workers have simultaneously exhausted their
// patience (spec.md §4.O). When that count reaches the worker pool
// size, the barrier cancels and every worker still waiting on it stops.
// A queue change wakes and rescues waiting workers instead, letting
// late-arriving links from a slow worker prevent a premature shutdown.
//
// Grounded on original_source/src/core/sync/barrier.rs's WorkerBarrier:
// the waiting count starts one above zero so that the Nth worker to
// join (not the (N-1)th) trips the cancellation.
type Barrier struct {
	numWorkers int32
	waiting    int32
	cancelled  chan struct{}
	once       sync.Once
}

// NewBarrier builds a Barrier sized for numWorkers.
func NewBarrier(numWorkers int) *Barrier {
	return &Barrier{
		numWorkers: int32(numWorkers),
		waiting:    1,
		cancelled:  make(chan struct{}),
	}
}

// IsCancelled reports whether the barrier has already tripped.
func (b *Barrier) IsCancelled() bool {
	select {
	case <-b.cancelled:
		return true
	default:
		return false
	}
}

// TriggerCancellation cancels the barrier unconditionally, e.g. in
// response to an operator-initiated shutdown.
func (b *Barrier) TriggerCancellation() {
	b.once.Do(func() { close(b.cancelled) })
}

// WaitForCancelled is entered by a worker whose patience has run out. It
// joins the waiting count, tripping cancellation once every worker has
// joined, and then blocks until either a queue change rescues it or the
// barrier cancels (or ctx ends, which is treated the same as cancellation).
// Returns true if the caller should stop, false if it should continue.
func (b *Barrier) WaitForCancelled(ctx context.Context, q *queue.Queue) bool {
	if b.IsCancelled() {
		return true
	}

	sub := q.Subscribe()
	// atomic.AddInt32 returns the post-increment value; the barrier.rs
	// original compares fetch_add's pre-increment return against
	// numWorkers, so subtract 1 to match: the Nth worker to join (not
	// the (N-1)th) is the one that trips cancellation.
	count := atomic.AddInt32(&b.waiting, 1) - 1
	if count == b.numWorkers {
		b.TriggerCancellation()
	}

	select {
	case <-sub:
		atomic.AddInt32(&b.waiting, -1)
		return b.IsCancelled()
	case <-b.cancelled:
		return true
	case <-ctx.Done():
		return true
	}
}
