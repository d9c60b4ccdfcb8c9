// Package seed implements the seed provider (spec component M): the
// single atomic operation that pairs a queued URL with an exclusive
// hold on its origin, or reports why none could be produced.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/budget"
	"github.com/atra-crawler/atra/internal/linkstate"
	"github.com/atra-crawler/atra/internal/originguard"
	"github.com/atra-crawler/atra/internal/queue"
)

// missedCacheCapacity bounds how many re-enqueued elements are batched
// before being flushed back to the queue, trading queue churn for a
// bounded amount of work held outside it.
const missedCacheCapacity = 8

// AbortCause explains why Get produced no seed.
type AbortCause int

const (
	// AbortNone is the zero value; never returned alongside an error.
	AbortNone AbortCause = iota
	AbortTooManyMisses
	AbortOutOfRetries
	AbortQueueEmpty
	AbortNoHost
	AbortShutdown
)

func (c AbortCause) String() string {
	switch c {
	case AbortTooManyMisses:
		return "too many misses, try again later"
	case AbortOutOfRetries:
		return "no valid origin found before exhausting retries"
	case AbortQueueEmpty:
		return "the queue is empty"
	case AbortNoHost:
		return "the element does not have a host"
	case AbortShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Error wraps an AbortCause so it satisfies the error interface while
// remaining distinguishable via errors.As.
type Error struct {
	Cause AbortCause
	Elem  *queue.Element
}

func (e *Error) Error() string {
	if e.Elem != nil {
		return fmt.Sprintf("seed: %s (%s)", e.Cause, e.Elem.Target.String())
	}
	return fmt.Sprintf("seed: %s", e.Cause)
}

// Seed is a successfully reserved URL paired with the origin guard
// that must be released when the per-site crawl finishes.
type Seed struct {
	Guard  *originguard.Guard
	Target atraurl.URL
}

// ShutdownSignal reports whether a shutdown has been requested; checked
// once per loop iteration so an in-flight dequeue never blocks a
// graceful stop.
type ShutdownSignal interface {
	IsShutdown() bool
}

// Get performs the critical-atomicity loop of spec.md §4.M: pop from
// q, drop or re-enqueue elements per link state and origin occupancy,
// and return the first element whose origin can be exclusively
// reserved.
func Get(ctx context.Context, q *queue.Queue, states linkstate.Store, origins *originguard.Manager, budgets budget.Table, shutdown ShutdownSignal, maxMiss int) (Seed, error) {
	if q.IsEmpty() {
		return Seed{}, &Error{Cause: AbortQueueEmpty}
	}

	var missed []queue.Element
	misses := 0
	retries := q.Len()

	restore := func() error {
		if len(missed) == 0 {
			return nil
		}
		err := q.EnqueueAll(missed)
		missed = nil
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = restore()
			return Seed{}, ctx.Err()
		default:
		}

		if shutdown != nil && shutdown.IsShutdown() {
			if err := restore(); err != nil {
				return Seed{}, fmt.Errorf("seed: restore miss cache on shutdown: %w", err)
			}
			return Seed{}, &Error{Cause: AbortShutdown}
		}

		entry, ok := q.Dequeue()
		if !ok {
			return Seed{}, &Error{Cause: AbortQueueEmpty}
		}
		retries--

		record, found, err := states.Get(ctx, entry.Target.String())
		if err != nil {
			return Seed{}, fmt.Errorf("seed: look up link state for %s: %w", entry.Target.String(), err)
		}

		if found {
			if dropFromQueue(record, entry.Target, budgets) {
				continue
			}
			if record.Type != linkstate.Discovered {
				missed = append(missed, entry)
				misses++
				cause, err := enforceMissLimits(q, &missed, misses, maxMiss, retries, true)
				if err != nil {
					return Seed{}, fmt.Errorf("seed: flush miss cache: %w", err)
				}
				if cause != AbortNone {
					if restoreErr := restore(); restoreErr != nil {
						return Seed{}, fmt.Errorf("seed: restore miss cache on abort: %w", restoreErr)
					}
					return Seed{}, &Error{Cause: cause}
				}
				continue
			}
		}

		guard, err := origins.TryReserve(entry.Target)
		switch {
		case err == nil:
			if restoreErr := restore(); restoreErr != nil {
				return Seed{}, fmt.Errorf("seed: restore miss cache after reserving: %w", restoreErr)
			}
			return Seed{Guard: guard, Target: entry.Target}, nil

		case errors.Is(err, originguard.ErrNoOrigin):
			if restoreErr := restore(); restoreErr != nil {
				return Seed{}, fmt.Errorf("seed: restore miss cache on no-origin: %w", restoreErr)
			}
			e := entry
			return Seed{}, &Error{Cause: AbortNoHost, Elem: &e}

		default:
			var occupied *originguard.AlreadyOccupiedError
			if !errors.As(err, &occupied) {
				return Seed{}, fmt.Errorf("seed: reserve origin for %s: %w", entry.Target.String(), err)
			}
			missed = append(missed, entry)
			misses++
			cause, err := enforceMissLimits(q, &missed, misses, maxMiss, retries, false)
			if err != nil {
				return Seed{}, fmt.Errorf("seed: flush miss cache: %w", err)
			}
			if cause != AbortNone {
				if restoreErr := restore(); restoreErr != nil {
					return Seed{}, fmt.Errorf("seed: restore miss cache on abort: %w", restoreErr)
				}
				return Seed{}, &Error{Cause: cause}
			}
		}
	}
}

// enforceMissLimits mirrors push_logic_1/push_logic_2: when
// checkRetries is true and retries are exhausted, abort with whatever
// is left in *missed still queued for restoration by the caller. It
// also enforces maxMiss (0 means unbounded) and flushes *missed back
// to q once it reaches missedCacheCapacity, to bound queue churn
// without ever growing the in-memory cache past that size.
func enforceMissLimits(q *queue.Queue, missed *[]queue.Element, misses, maxMiss, retries int, checkRetries bool) (AbortCause, error) {
	if checkRetries && retries <= 0 {
		return AbortOutOfRetries, nil
	}
	if maxMiss > 0 && misses > maxMiss {
		return AbortTooManyMisses, nil
	}
	if len(*missed) >= missedCacheCapacity {
		if err := q.EnqueueAll(*missed); err != nil {
			return AbortNone, err
		}
		*missed = nil
	}
	return AbortNone, nil
}

// dropFromQueue mirrors the Rust drop_policy: keep Discovered, drop
// everything else outright except ProcessedAndStored, which drops
// only when the origin's budget carries no recrawl interval.
func dropFromQueue(record linkstate.Record, target atraurl.URL, budgets budget.Table) bool {
	switch record.Type {
	case linkstate.Discovered:
		return false
	case linkstate.ProcessedAndStored:
		var b budget.Budget
		if origin, ok := target.Origin(); ok {
			b = budgets.For(origin)
		} else {
			b = budgets.Default
		}
		_, hasRecrawl := b.RecrawlInterval()
		return !hasRecrawl
	default:
		return true
	}
}
