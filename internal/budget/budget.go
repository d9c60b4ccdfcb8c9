// Package budget implements the per-origin crawl budget (spec.md §3):
// the policy deciding which URLs are eligible for enqueueing and
// crawling, and whether a previously-stored URL is due for a recrawl.
package budget

import (
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
)

// Shape selects which of the three budget kinds a Budget enforces.
type Shape int

const (
	// Normal caps both depth on origin and distance to seed; the zero
	// value, so an unconfigured Budget is unbounded rather than
	// silently seed-only.
	Normal Shape = iota
	// SeedOnly admits only seeds (distance_to_seed == 0), capped by
	// depth on origin.
	SeedOnly
	// Absolute caps only the total distance to seed, regardless of
	// origin hops.
	Absolute
)

// Budget is one origin's (or the default) crawl policy. A cap of 0
// means unbounded, per spec.md §3.
type Budget struct {
	Shape            Shape
	DepthOnOriginCap int
	DistanceCap      int
	TotalDistanceCap int
	Recrawl          time.Duration
	RequestTimeout   time.Duration
}

// RecrawlInterval returns the configured recrawl interval and whether
// one is set at all; a zero Recrawl means the URL is never recrawled
// once ProcessedAndStored.
func (b Budget) RecrawlInterval() (time.Duration, bool) {
	if b.Recrawl <= 0 {
		return 0, false
	}
	return b.Recrawl, true
}

// InBudget reports whether u is eligible for enqueueing/crawling under
// this budget, per spec.md §8 property 3.
func (b Budget) InBudget(u atraurl.URL) bool {
	d := u.Depth()
	switch b.Shape {
	case SeedOnly:
		if d.DistanceToSeed != 0 {
			return false
		}
		return b.DepthOnOriginCap == 0 || d.DepthOnOrigin <= b.DepthOnOriginCap
	case Normal:
		if b.DepthOnOriginCap != 0 && d.DepthOnOrigin > b.DepthOnOriginCap {
			return false
		}
		if b.DistanceCap != 0 && d.DistanceToSeed > b.DistanceCap {
			return false
		}
		return true
	case Absolute:
		return b.TotalDistanceCap == 0 || d.TotalDistanceToSeed <= b.TotalDistanceCap
	default:
		return true
	}
}

// Table resolves a Budget for an origin, falling back to a default.
type Table struct {
	Default   Budget
	PerOrigin map[atraurl.Origin]Budget
}

// For returns the budget that applies to origin.
func (t Table) For(origin atraurl.Origin) Budget {
	if t.PerOrigin != nil {
		if b, ok := t.PerOrigin[origin]; ok {
			return b
		}
	}
	return t.Default
}
