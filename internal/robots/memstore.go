package robots

import (
	"context"
	"sync"

	"github.com/atra-crawler/atra/internal/atraurl"
)

// memStore is a trivial in-process PersistentStore, used by tests and by
// single-process runs that don't need the entries to survive a restart
// (the in-memory LRU already covers the hot path; durability across
// restarts is what the sqlite-backed store is for).
type memStore struct {
	mu      sync.RWMutex
	entries map[atraurl.Origin]*Entry
}

// NewMemStore returns a PersistentStore backed by a plain map.
func NewMemStore() PersistentStore {
	return &memStore{entries: make(map[atraurl.Origin]*Entry)}
}

func (m *memStore) Get(_ context.Context, origin atraurl.Origin) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[origin]
	return e, ok, nil
}

func (m *memStore) Put(_ context.Context, origin atraurl.Origin, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[origin] = entry
	return nil
}
