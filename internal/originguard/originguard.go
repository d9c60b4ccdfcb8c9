// Package originguard implements the process-wide origin mutual
// exclusion registry (spec component G): at most one worker may hold a
// reservation for a given origin at a time.
package originguard

import (
	"fmt"
	"sync"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
)

// ErrNoOrigin is returned by TryReserve when the URL carries no origin.
var ErrNoOrigin = fmt.Errorf("originguard: url has no origin")

// AlreadyOccupiedError is returned when origin is already reserved by
// another caller.
type AlreadyOccupiedError struct {
	Origin atraurl.Origin
}

func (e *AlreadyOccupiedError) Error() string {
	return fmt.Sprintf("originguard: origin %q is already occupied", e.Origin)
}

// PoisonReason describes why CheckPoisoned found the registry in an
// inconsistent state relative to a guard, per
// original_source/src/core/domain/errors.rs::GuardPoisonedError.
type PoisonReason int

const (
	// NotPoisoned indicates the guard's bookkeeping matches the registry.
	NotPoisoned PoisonReason = iota
	// DomainMissing: the origin has no entry at all.
	DomainMissing
	// InUseNotSet: the origin entry exists but isn't marked reserved.
	InUseNotSet
	// WrongTimestamp: the entry's reservation timestamp doesn't match
	// this guard's — the registry was mutated outside the guard protocol.
	WrongTimestamp
)

func (p PoisonReason) String() string {
	switch p {
	case NotPoisoned:
		return "not-poisoned"
	case DomainMissing:
		return "domain-missing"
	case InUseNotSet:
		return "in-use-not-set"
	case WrongTimestamp:
		return "wrong-timestamp"
	default:
		return "unknown"
	}
}

type entry struct {
	reserved     bool
	reservedAt   time.Time
	lastModified time.Time
}

// Manager is the process-wide registry of per-origin reservations.
type Manager struct {
	mu      sync.Mutex
	entries map[atraurl.Origin]*entry
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{entries: make(map[atraurl.Origin]*entry)}
}

// Guard is a scoped reservation handle. Callers must call Release on
// every exit path (typically via defer).
type Guard struct {
	manager    *Manager
	origin     atraurl.Origin
	reservedAt time.Time
	released   bool
}

// TryReserve attempts to reserve u's origin. Returns ErrNoOrigin if u has
// no origin, or *AlreadyOccupiedError if another caller already holds
// the reservation.
func (m *Manager) TryReserve(u atraurl.URL) (*Guard, error) {
	origin, ok := u.Origin()
	if !ok {
		return nil, ErrNoOrigin
	}
	return m.TryReserveOrigin(origin)
}

// TryReserveOrigin is TryReserve without requiring a full URL.
func (m *Manager) TryReserveOrigin(origin atraurl.Origin) (*Guard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[origin]
	if !ok {
		e = &entry{}
		m.entries[origin] = e
	}
	if e.reserved {
		return nil, &AlreadyOccupiedError{Origin: origin}
	}

	now := time.Now()
	e.reserved = true
	e.reservedAt = now
	e.lastModified = now

	return &Guard{manager: m, origin: origin, reservedAt: now}, nil
}

// Origin returns the origin this guard reserved.
func (g *Guard) Origin() atraurl.Origin { return g.origin }

// ReservedAt returns when the reservation was made.
func (g *Guard) ReservedAt() time.Time { return g.reservedAt }

// Release frees the origin, marking it available to other callers and
// recording last_modification = now. Safe to call more than once; only
// the first call has effect.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.manager.release(g.origin)
}

func (m *Manager) release(origin atraurl.Origin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[origin]; ok {
		e.reserved = false
		e.lastModified = time.Now()
	}
}

// CheckPoisoned verifies the registry's bookkeeping for this guard's
// origin still matches what the guard recorded at reservation time,
// restoring original_source/src/core/domain/guard.rs's
// check_for_poison defensive check.
func (m *Manager) CheckPoisoned(g *Guard) PoisonReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[g.origin]
	if !ok {
		return DomainMissing
	}
	if !e.reserved {
		return InUseNotSet
	}
	if !e.reservedAt.Equal(g.reservedAt) {
		return WrongTimestamp
	}
	return NotPoisoned
}

// CurrentlyReserved returns the origins presently held by a guard.
func (m *Manager) CurrentlyReserved() []atraurl.Origin {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []atraurl.Origin
	for origin, e := range m.entries {
		if e.reserved {
			out = append(out, origin)
		}
	}
	return out
}
