package robots

import (
	"context"
	"testing"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
)

type fakeFetcher struct {
	body   []byte
	status int
	err    error
	calls  int
}

func (f *fakeFetcher) FetchRobots(ctx context.Context, origin atraurl.Origin) ([]byte, int, error) {
	f.calls++
	return f.body, f.status, f.err
}

func TestGetOrFetchCachesAfterFirstFetch(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("User-agent: *\nDisallow: /private\nCrawl-delay: 2\n"), status: 200}
	cache, err := New(10, NewMemStore(), fetcher, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry, err := cache.GetOrFetch(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if entry.Delay != 2*time.Second {
		t.Fatalf("delay = %v", entry.Delay)
	}

	if _, err := cache.GetOrFetch(context.Background(), "example.com"); err != nil {
		t.Fatalf("second GetOrFetch: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected exactly one fetch, got %d", fetcher.calls)
	}
}

func TestNetworkFailureSynthesizesPermissiveDefault(t *testing.T) {
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	cache, err := New(10, NewMemStore(), fetcher, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry, err := cache.GetOrFetch(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if !entry.Allowed("https://example.com/anything", "atra") {
		t.Fatal("expected permissive default on fetch failure")
	}
	if entry.Delay != 0 {
		t.Fatalf("expected zero delay on failure, got %v", entry.Delay)
	}
}

func TestAllowedRespectsDisallowRules(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("User-agent: *\nDisallow: /private\n"), status: 200}
	cache, err := New(10, NewMemStore(), fetcher, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry, err := cache.GetOrFetch(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if entry.Allowed("https://example.com/private/secret", "atra") {
		t.Fatal("expected /private to be disallowed")
	}
	if !entry.Allowed("https://example.com/public", "atra") {
		t.Fatal("expected /public to be allowed")
	}
}

func TestBoundCacheServesFromMemoryAfterBind(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("User-agent: *\nDisallow: /x\n"), status: 200}
	cache, err := New(10, NewMemStore(), fetcher, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bound, err := Bind(context.Background(), cache, "example.com")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if bound.Allowed("https://example.com/x", "atra") {
		t.Fatal("expected disallow to carry through the bound cache")
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected exactly one fetch at bind time, got %d", fetcher.calls)
	}

	// Repeated calls against the bound cache must not re-fetch.
	bound.Allowed("https://example.com/y", "atra")
	bound.Allowed("https://example.com/z", "atra")
	if fetcher.calls != 1 {
		t.Fatalf("expected bound lookups to avoid the shared cache, got %d calls", fetcher.calls)
	}
}

func TestEntryExpiresAfterMaxAge(t *testing.T) {
	e := &Entry{FetchedAt: time.Now().Add(-2 * time.Hour)}
	if !e.expired(time.Hour) {
		t.Fatal("expected entry to be expired")
	}
	if e.expired(0) {
		t.Fatal("zero maxAge should disable expiry")
	}
}
