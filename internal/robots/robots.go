// Package robots implements the two-layer robots.txt cache (spec
// component D): a bounded in-memory LRU fronting a persistent store, so
// a restarted crawl doesn't re-fetch robots.txt for origins it already
// knows about.
package robots

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"

	"github.com/atra-crawler/atra/internal/atraurl"
)

// Fetcher is the minimal HTTP capability the cache needs to retrieve
// robots.txt; component L's fetcher satisfies this without the robots
// cache importing the fetch package directly (avoids an import cycle,
// since the fetcher itself consults Allowed before following a link).
type Fetcher interface {
	FetchRobots(ctx context.Context, origin atraurl.Origin) (body []byte, statusCode int, err error)
}

// Entry is a cached robots.txt verdict for one origin.
type Entry struct {
	// Data is nil when no robots.txt exists, the fetch failed, or the
	// response was not parseable — all three synthesize a permissive
	// default with no crawl-delay, per spec.md §4.D.
	Data      *robotstxt.RobotsData
	Sitemaps  []string
	Delay     time.Duration
	FetchedAt time.Time

	// rawRobotsTxt is the original response body, kept so a persistent
	// store can re-parse it on load (robotstxt.RobotsData itself isn't
	// serializable).
	rawRobotsTxt []byte
}

func (e *Entry) expired(maxAge time.Duration) bool {
	return maxAge > 0 && time.Since(e.FetchedAt) > maxAge
}

// PersistentStore is the on-disk layer behind the LRU. Get returning
// ok=false means "not cached"; it is never used to signal a fetch error.
type PersistentStore interface {
	Get(ctx context.Context, origin atraurl.Origin) (*Entry, bool, error)
	Put(ctx context.Context, origin atraurl.Origin, entry *Entry) error
}

// Cache is the process-wide robots cache shared by every per-site
// crawler.
type Cache struct {
	mem        *lru.Cache[atraurl.Origin, *Entry]
	persistent PersistentStore
	fetcher    Fetcher
	maxAge     time.Duration
	log        *slog.Logger

	// singleflight prevents two workers discovering the same uncached
	// origin from both firing a robots.txt fetch.
	mu      sync.Mutex
	inFlight map[atraurl.Origin]*sync.WaitGroup
}

// New builds a Cache with an in-memory LRU of the given size fronting
// persistent. maxAge is the freshness window (spec.md's max_robots_age);
// zero disables expiry.
func New(size int, persistent PersistentStore, fetcher Fetcher, maxAge time.Duration, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	mem, err := lru.New[atraurl.Origin, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("robots: new lru: %w", err)
	}
	return &Cache{
		mem:        mem,
		persistent: persistent,
		fetcher:    fetcher,
		maxAge:     maxAge,
		log:        log,
		inFlight:   make(map[atraurl.Origin]*sync.WaitGroup),
	}, nil
}

// Get returns the cached entry for origin without fetching, checking the
// LRU then the persistent store.
func (c *Cache) Get(ctx context.Context, origin atraurl.Origin) (*Entry, bool, error) {
	if e, ok := c.mem.Get(origin); ok && !e.expired(c.maxAge) {
		return e, true, nil
	}
	e, ok, err := c.persistent.Get(ctx, origin)
	if err != nil {
		return nil, false, fmt.Errorf("robots: persistent get: %w", err)
	}
	if ok && !e.expired(c.maxAge) {
		c.mem.Add(origin, e)
		return e, true, nil
	}
	return nil, false, nil
}

// GetOrFetch returns the cached entry, fetching and parsing robots.txt on
// a miss or expiry. Network failures synthesize a permissive default
// rather than propagating, matching internal/scraper/robots.go's
// "defaulting to allow" posture.
func (c *Cache) GetOrFetch(ctx context.Context, origin atraurl.Origin) (*Entry, error) {
	if e, ok, err := c.Get(ctx, origin); err != nil {
		return nil, err
	} else if ok {
		return e, nil
	}

	wg, leader := c.claim(origin)
	if !leader {
		wg.Wait()
		if e, ok, err := c.Get(ctx, origin); err == nil && ok {
			return e, nil
		}
	}
	defer c.release(origin, wg)

	entry := c.fetch(ctx, origin)
	if err := c.persistent.Put(ctx, origin, entry); err != nil {
		c.log.Warn("robots persist failed", "origin", origin, "err", err)
	}
	c.mem.Add(origin, entry)
	return entry, nil
}

func (c *Cache) claim(origin atraurl.Origin) (*sync.WaitGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wg, ok := c.inFlight[origin]; ok {
		return wg, false
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.inFlight[origin] = wg
	return wg, true
}

func (c *Cache) release(origin atraurl.Origin, wg *sync.WaitGroup) {
	c.mu.Lock()
	delete(c.inFlight, origin)
	c.mu.Unlock()
	wg.Done()
}

func (c *Cache) fetch(ctx context.Context, origin atraurl.Origin) *Entry {
	now := time.Now()
	body, status, err := c.fetcher.FetchRobots(ctx, origin)
	if err != nil || status >= 400 {
		c.log.Debug("robots.txt fetch failed, defaulting to allow", "origin", origin, "err", err, "status", status)
		return &Entry{FetchedAt: now}
	}

	parsed, err := robotstxt.FromBytes(body)
	if err != nil {
		c.log.Debug("robots.txt parse failed, defaulting to allow", "origin", origin, "err", err)
		return &Entry{FetchedAt: now}
	}

	delay := time.Duration(0)
	if group := parsed.FindGroup("*"); group != nil && group.CrawlDelay > 0 {
		delay = group.CrawlDelay
	}

	return &Entry{
		Data:         parsed,
		Sitemaps:     parsed.Sitemaps,
		Delay:        delay,
		FetchedAt:    now,
		rawRobotsTxt: body,
	}
}

// delayOrZero returns the crawl-delay robots.txt requests for origin, or
// 0 for a nil entry.
func (e *Entry) delayOrZero() time.Duration {
	if e == nil {
		return 0
	}
	return e.Delay
}

// Allowed reports whether userAgent may fetch rawURL under this entry's
// rules. A nil entry (no robots.txt, or fetch/parse failure) allows
// everything.
func (e *Entry) Allowed(rawURL string, userAgent string) bool {
	if e == nil || e.Data == nil {
		return true
	}
	path := pathOf(rawURL)
	group := e.Data.FindGroup(userAgent)
	return group.Test(path)
}

func pathOf(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rest := rawURL[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return rawURL
}

// BoundCache is a per-origin view acquired once at per-site crawler
// start: spec.md §4.D requires that "subsequent lookups with matching
// origin return in O(1) without touching the shared cache."
type BoundCache struct {
	origin atraurl.Origin
	entry  *Entry
}

// Bind fetches (or reuses the cached) entry for origin once and returns
// a BoundCache that serves every subsequent call from memory.
func Bind(ctx context.Context, cache *Cache, origin atraurl.Origin) (*BoundCache, error) {
	entry, err := cache.GetOrFetch(ctx, origin)
	if err != nil {
		return nil, err
	}
	return &BoundCache{origin: origin, entry: entry}, nil
}

// Allowed reports whether userAgent may fetch rawURL under the bound origin.
func (b *BoundCache) Allowed(rawURL string, userAgent string) bool {
	return b.entry.Allowed(rawURL, userAgent)
}

// Delay returns the bound origin's crawl-delay, or 0 if robots.txt
// specified none.
func (b *BoundCache) Delay() time.Duration { return b.entry.delayOrZero() }

// CacheDelayResolver adapts a *Cache to component H's pacer.DelayResolver
// interface: a lookup that never triggers a network fetch, since the
// pacer must never block on robots.txt retrieval — an uncached origin
// simply falls back to the pacer's configured default.
type CacheDelayResolver struct {
	Cache *Cache
	Ctx   context.Context
}

// Delay implements pacer.DelayResolver.
func (r CacheDelayResolver) Delay(origin atraurl.Origin) (time.Duration, bool) {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	entry, ok, err := r.Cache.Get(ctx, origin)
	if err != nil || !ok || entry.Delay <= 0 {
		return 0, false
	}
	return entry.Delay, true
}

// Sitemaps returns the sitemap URLs robots.txt declared for the bound origin.
func (b *BoundCache) Sitemaps() []string { return b.entry.Sitemaps }
