package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
)

func mustURL(t *testing.T, raw string) atraurl.URL {
	t.Helper()
	u, err := atraurl.FromSeed(raw)
	if err != nil {
		t.Fatalf("FromSeed(%q): %v", raw, err)
	}
	return u
}

func TestEnqueueDequeueFIFOOrder(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer q.Close()

	a := Element{Target: mustURL(t, "https://a.test/")}
	b := Element{Target: mustURL(t, "https://b.test/")}
	if err := q.Enqueue(a); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(b); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first, ok := q.Dequeue()
	if !ok || !first.Target.Equal(a.Target) {
		t.Fatalf("expected a first, got %+v ok=%v", first, ok)
	}
	second, ok := q.Dequeue()
	if !ok || !second.Target.Equal(b.Target) {
		t.Fatalf("expected b second, got %+v ok=%v", second, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestEnqueueAgesElement(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer q.Close()

	if err := q.Enqueue(Element{Age: 5, Target: mustURL(t, "https://a.test/")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected an element")
	}
	if e.Age != 6 {
		t.Fatalf("age = %d, want 6", e.Age)
	}
}

func TestDequeueDropsElementsOlderThanMaxAge(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer q.Close()

	// age 2 -> enqueued becomes 3, which exceeds maxAge=2 and is dropped.
	if err := q.Enqueue(Element{Age: 2, Target: mustURL(t, "https://old.test/")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(Element{Age: 0, Target: mustURL(t, "https://fresh.test/")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	e, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected the fresh element to survive")
	}
	if e.Target.String() != "https://fresh.test/" {
		t.Fatalf("got %q, expected the aged-out element to be skipped", e.Target.String())
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected queue to be empty after skipping the aged-out element")
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	q, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := q.EnqueueAll([]Element{
		{Target: mustURL(t, "https://a.test/")},
		{Target: mustURL(t, "https://b.test/")},
	}); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 2 {
		t.Fatalf("len after restart = %d", reopened.Len())
	}
	e, ok := reopened.Dequeue()
	if !ok || e.Target.String() != "https://a.test/" {
		t.Fatalf("expected a.test first after restart, got %+v", e)
	}
}

func TestSubscribeWakesOnEnqueue(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer q.Close()

	woken := make(chan struct{})
	sub := q.Subscribe()
	go func() {
		<-sub
		close(woken)
	}()

	if err := q.Enqueue(Element{Target: mustURL(t, "https://a.test/")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not woken by enqueue")
	}
}

func TestDequeueCompactsLogAfterManyDequeues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	q, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 50; i++ {
		if err := q.Enqueue(Element{Target: mustURL(t, "https://a.test/x")}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for i := 0; i < 40; i++ {
		if _, ok := q.Dequeue(); !ok {
			t.Fatalf("expected element at i=%d", i)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 10 {
		t.Fatalf("len after restart = %d, want 10", reopened.Len())
	}
}
