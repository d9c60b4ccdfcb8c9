package seed

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/budget"
	"github.com/atra-crawler/atra/internal/linkstate"
	"github.com/atra-crawler/atra/internal/originguard"
	"github.com/atra-crawler/atra/internal/queue"
)

type neverShutdown struct{}

func (neverShutdown) IsShutdown() bool { return false }

type alwaysShutdown struct{}

func (alwaysShutdown) IsShutdown() bool { return true }

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.log"), queue.DefaultMaxAge)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func newTestStore(t *testing.T) linkstate.Store {
	t.Helper()
	store, err := linkstate.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustURL(t *testing.T, raw string) atraurl.URL {
	t.Helper()
	u, err := atraurl.FromSeed(raw)
	if err != nil {
		t.Fatalf("FromSeed(%q): %v", raw, err)
	}
	return u
}

func TestGetEmptyQueueAborts(t *testing.T) {
	q := newTestQueue(t)
	store := newTestStore(t)
	origins := originguard.New()

	_, err := Get(context.Background(), q, store, origins, budget.Table{}, neverShutdown{}, 0)
	var serr *Error
	if !errors.As(err, &serr) || serr.Cause != AbortQueueEmpty {
		t.Fatalf("expected AbortQueueEmpty, got %v", err)
	}
}

func TestGetReservesFirstDiscoveredURL(t *testing.T) {
	q := newTestQueue(t)
	store := newTestStore(t)
	origins := originguard.New()

	u := mustURL(t, "https://example.com/a")
	if err := q.Enqueue(queue.Element{Target: u}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := Get(context.Background(), q, store, origins, budget.Table{}, neverShutdown{}, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Target.String() != u.String() {
		t.Fatalf("target = %s, want %s", got.Target.String(), u.String())
	}
	if got.Guard == nil {
		t.Fatal("expected a non-nil guard")
	}
	got.Guard.Release()
}

func TestGetSkipsOccupiedOriginAndReturnsNextAvailable(t *testing.T) {
	q := newTestQueue(t)
	store := newTestStore(t)
	origins := originguard.New()

	busy := mustURL(t, "https://busy.test/a")
	guard, err := origins.TryReserve(busy)
	if err != nil {
		t.Fatalf("pre-reserve: %v", err)
	}
	defer guard.Release()

	free := mustURL(t, "https://free.test/a")
	if err := q.Enqueue(queue.Element{Target: busy}); err != nil {
		t.Fatalf("Enqueue busy: %v", err)
	}
	if err := q.Enqueue(queue.Element{Target: free}); err != nil {
		t.Fatalf("Enqueue free: %v", err)
	}

	got, err := Get(context.Background(), q, store, origins, budget.Table{}, neverShutdown{}, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Target.String() != free.String() {
		t.Fatalf("target = %s, want %s", got.Target.String(), free.String())
	}
	got.Guard.Release()

	// The busy element should have been restored to the queue.
	if q.IsEmpty() {
		t.Fatal("expected the missed busy-origin element to be restored to the queue")
	}
}

func TestGetDropsTerminalStatesAndSkipsReservedForCrawl(t *testing.T) {
	q := newTestQueue(t)
	store := newTestStore(t)
	origins := originguard.New()
	ctx := context.Background()

	stuck := mustURL(t, "https://stuck.test/a")
	if err := store.UpdateState(ctx, stuck.String(), linkstate.ReservedForCrawl); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := q.Enqueue(queue.Element{Target: stuck}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_, err := Get(ctx, q, store, origins, budget.Table{}, neverShutdown{}, 0)
	var serr *Error
	if !errors.As(err, &serr) || serr.Cause != AbortQueueEmpty {
		t.Fatalf("expected the ReservedForCrawl element to be dropped and the queue to end up empty, got %v", err)
	}
}

func TestGetProcessedAndStoredRespectsRecrawlBudget(t *testing.T) {
	q := newTestQueue(t)
	store := newTestStore(t)
	origins := originguard.New()
	ctx := context.Background()

	u := mustURL(t, "https://done.test/a")
	if err := store.UpdateState(ctx, u.String(), linkstate.ProcessedAndStored); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := q.Enqueue(queue.Element{Target: u}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// No recrawl interval configured: dropped, queue ends up empty.
	_, err := Get(ctx, q, store, origins, budget.Table{}, neverShutdown{}, 0)
	var serr *Error
	if !errors.As(err, &serr) || serr.Cause != AbortQueueEmpty {
		t.Fatalf("expected drop with no recrawl interval, got %v", err)
	}
}

func TestGetAbortsOnShutdownAndRestoresCache(t *testing.T) {
	q := newTestQueue(t)
	store := newTestStore(t)
	origins := originguard.New()

	u := mustURL(t, "https://example.com/a")
	if err := q.Enqueue(queue.Element{Target: u}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_, err := Get(context.Background(), q, store, origins, budget.Table{}, alwaysShutdown{}, 0)
	var serr *Error
	if !errors.As(err, &serr) || serr.Cause != AbortShutdown {
		t.Fatalf("expected AbortShutdown, got %v", err)
	}
	if q.IsEmpty() {
		t.Fatal("expected the queue to still hold the undequeued element")
	}
}

func TestGetNoHostAbortsForHostlessURL(t *testing.T) {
	q := newTestQueue(t)
	store := newTestStore(t)
	origins := originguard.New()

	// mailto: carries no host, so Origin() fails and TryReserve returns ErrNoOrigin.
	u, err := atraurl.FromSeed("mailto:test@example.com")
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	if err := q.Enqueue(queue.Element{Target: u}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_, err = Get(context.Background(), q, store, origins, budget.Table{}, neverShutdown{}, 0)
	var serr *Error
	if !errors.As(err, &serr) || serr.Cause != AbortNoHost {
		t.Fatalf("expected AbortNoHost, got %v", err)
	}
}
