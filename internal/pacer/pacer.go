// Package pacer implements the per-origin fetch-interval pacer (spec
// component H): one ticker per origin, resolving its period the first
// time that origin is seen and caching the result.
package pacer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/pkg/ratelimit"
)

// DefaultInterval is the last-resort period when neither a robots
// crawl-delay nor a configured default applies (spec.md §4.H).
const DefaultInterval = 100 * time.Millisecond

// DelayResolver supplies the robots-derived crawl-delay for an origin,
// if any. Implemented by a bound robots cache (component D); kept as a
// narrow interface here to avoid an import cycle.
type DelayResolver interface {
	Delay(origin atraurl.Origin) (time.Duration, bool)
}

// Pacer hands out per-origin wait gates. Safe for concurrent use.
type Pacer struct {
	mu       sync.Mutex
	limiters map[atraurl.Origin]*ratelimit.Limiter
	resolver DelayResolver
	fallback time.Duration

	hostless *ratelimit.Limiter
}

// New builds a Pacer. fallback is the configured default interval used
// when the resolver has no opinion for an origin; 0 uses DefaultInterval.
// resolver may be nil, in which case every origin uses fallback.
func New(resolver DelayResolver, fallback time.Duration) *Pacer {
	if fallback <= 0 {
		fallback = DefaultInterval
	}
	p := &Pacer{
		limiters: make(map[atraurl.Origin]*ratelimit.Limiter),
		resolver: resolver,
		fallback: fallback,
	}
	p.hostless = ratelimit.NewLimiter(1.0/fallback.Seconds(), 0)
	return p
}

// Wait blocks until the next tick for u's origin, or until ctx is done.
// URLs with no origin share a single process-wide default ticker.
func (p *Pacer) Wait(ctx context.Context, u atraurl.URL) error {
	origin, ok := u.Origin()
	if !ok {
		return p.hostless.Wait(ctx)
	}
	return p.WaitOrigin(ctx, origin)
}

// WaitOrigin blocks until the next tick for origin.
func (p *Pacer) WaitOrigin(ctx context.Context, origin atraurl.Origin) error {
	limiter := p.limiterFor(origin)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer: wait for %s: %w", origin, err)
	}
	return nil
}

func (p *Pacer) limiterFor(origin atraurl.Origin) *ratelimit.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[origin]; ok {
		return l
	}

	interval := p.fallback
	if p.resolver != nil {
		if d, ok := p.resolver.Delay(origin); ok && d > 0 {
			interval = d
		}
	}

	l := ratelimit.NewLimiter(1.0/interval.Seconds(), 0)
	p.limiters[origin] = l
	return l
}

// Close stops every ticker the pacer has created.
func (p *Pacer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.limiters {
		l.Stop()
	}
	p.hostless.Stop()
}
