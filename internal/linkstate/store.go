// Package linkstate implements the durable URL -> state map (spec
// component E): the single source of truth for whether a URL has been
// discovered, reserved, crawled, or failed, so a restarted crawl never
// re-fetches what it already has.
package linkstate

import (
	"context"
	"time"
)

// StateType is the crawl state of a single URL (spec.md §3/§4.E).
type StateType int

const (
	// Unset means no record exists for the URL.
	Unset StateType = iota
	Discovered
	ReservedForCrawl
	Crawled
	ProcessedAndStored
	InternalError
	// Unknown holds a state recovered from storage that this build does
	// not recognize; Record.UnknownCode preserves the raw value for forward
	// compatibility.
	Unknown
)

func (s StateType) String() string {
	switch s {
	case Unset:
		return "unset"
	case Discovered:
		return "discovered"
	case ReservedForCrawl:
		return "reserved-for-crawl"
	case Crawled:
		return "crawled"
	case ProcessedAndStored:
		return "processed-and-stored"
	case InternalError:
		return "internal-error"
	default:
		return "unknown"
	}
}

// Terminal reports whether a state ends the URL's lifecycle absent the
// one permitted reset back to Discovered (spec.md §3).
func (s StateType) Terminal() bool {
	return s == ProcessedAndStored || s == InternalError
}

// Record is one entry of the link-state map.
type Record struct {
	Type        StateType
	UnknownCode int
	Timestamp   time.Time
	// Payload is an optional opaque blob (e.g. a serialized skip pointer
	// or failure reason); most states carry none.
	Payload []byte
}

// Store is the durable backend behind the link-state map. Implementations
// must make UpdateState safe for concurrent callers racing on the same
// URL; the last writer wins on timestamp order.
type Store interface {
	// UpdateState sets typ for url, replacing any existing record's type
	// and timestamp but leaving Payload untouched. Creates the record if
	// absent.
	UpdateState(ctx context.Context, url string, typ StateType) error

	// Upsert writes rec verbatim, including Payload.
	Upsert(ctx context.Context, url string, rec Record) error

	// Get returns the record for url, or ok=false if none exists.
	Get(ctx context.Context, url string) (rec Record, ok bool, err error)

	// CountState returns the number of URLs currently in typ.
	CountState(ctx context.Context, typ StateType) (uint64, error)

	// ScanAnyState reports whether any URL is currently in one of types,
	// short-circuiting on the first match.
	ScanAnyState(ctx context.Context, types []StateType) (bool, error)

	Close() error
}

// WithRetry wraps store so that a single KindRecoverableFailure is
// retried exactly once before being surfaced to the caller, per spec.md
// §7's "recoverable failures retried once at call site" rule.
func WithRetry(store Store) Store {
	return &retryingStore{inner: store}
}

type retryingStore struct{ inner Store }

func retry(fn func() error) error {
	err := fn()
	var dbErr *DatabaseError
	if err == nil || !asDatabaseError(err, &dbErr) || !dbErr.Recoverable() {
		return err
	}
	return fn()
}

func asDatabaseError(err error, target **DatabaseError) bool {
	for err != nil {
		if de, ok := err.(*DatabaseError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (s *retryingStore) UpdateState(ctx context.Context, url string, typ StateType) error {
	return retry(func() error { return s.inner.UpdateState(ctx, url, typ) })
}

func (s *retryingStore) Upsert(ctx context.Context, url string, rec Record) error {
	return retry(func() error { return s.inner.Upsert(ctx, url, rec) })
}

func (s *retryingStore) Get(ctx context.Context, url string) (Record, bool, error) {
	var rec Record
	var ok bool
	err := retry(func() error {
		var innerErr error
		rec, ok, innerErr = s.inner.Get(ctx, url)
		return innerErr
	})
	return rec, ok, err
}

func (s *retryingStore) CountState(ctx context.Context, typ StateType) (uint64, error) {
	var n uint64
	err := retry(func() error {
		var innerErr error
		n, innerErr = s.inner.CountState(ctx, typ)
		return innerErr
	})
	return n, err
}

func (s *retryingStore) ScanAnyState(ctx context.Context, types []StateType) (bool, error) {
	var any bool
	err := retry(func() error {
		var innerErr error
		any, innerErr = s.inner.ScanAnyState(ctx, types)
		return innerErr
	})
	return any, err
}

func (s *retryingStore) Close() error { return s.inner.Close() }
