package budget

import (
	"testing"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
)

func mustURL(t *testing.T, depth atraurl.Depth, raw string) atraurl.URL {
	t.Helper()
	u, err := atraurl.New(depth, raw)
	if err != nil {
		t.Fatalf("New(%q): %v", raw, err)
	}
	return u
}

func TestSeedOnlyAdmitsOnlySeedsWithinDepthCap(t *testing.T) {
	b := Budget{Shape: SeedOnly, DepthOnOriginCap: 2}

	seed := mustURL(t, atraurl.Depth{DepthOnOrigin: 1}, "https://a.test/x")
	if !b.InBudget(seed) {
		t.Fatal("expected a seed-distance URL within depth cap to be in budget")
	}

	nonSeed := mustURL(t, atraurl.Depth{DistanceToSeed: 1}, "https://a.test/y")
	if b.InBudget(nonSeed) {
		t.Fatal("expected a non-seed URL to be rejected under SeedOnly")
	}

	tooDeep := mustURL(t, atraurl.Depth{DepthOnOrigin: 3}, "https://a.test/z")
	if b.InBudget(tooDeep) {
		t.Fatal("expected depth cap to reject a too-deep URL")
	}
}

func TestZeroCapsAreUnbounded(t *testing.T) {
	b := Budget{Shape: Normal}
	u := mustURL(t, atraurl.Depth{DepthOnOrigin: 9999, DistanceToSeed: 9999}, "https://a.test/")
	if !b.InBudget(u) {
		t.Fatal("zero caps should admit any depth")
	}
}

func TestAbsoluteCapsOnTotalDistance(t *testing.T) {
	b := Budget{Shape: Absolute, TotalDistanceCap: 2}
	ok := mustURL(t, atraurl.Depth{TotalDistanceToSeed: 2}, "https://a.test/")
	if !b.InBudget(ok) {
		t.Fatal("expected total distance at the cap to be admitted")
	}
	tooFar := mustURL(t, atraurl.Depth{TotalDistanceToSeed: 3}, "https://a.test/")
	if b.InBudget(tooFar) {
		t.Fatal("expected total distance beyond the cap to be rejected")
	}
}

func TestRecrawlIntervalReportsUnsetWhenZero(t *testing.T) {
	b := Budget{}
	if _, ok := b.RecrawlInterval(); ok {
		t.Fatal("expected no recrawl interval for a zero-value budget")
	}

	b.Recrawl = time.Hour
	iv, ok := b.RecrawlInterval()
	if !ok || iv != time.Hour {
		t.Fatalf("RecrawlInterval = %v, %v", iv, ok)
	}
}

func TestTableFallsBackToDefault(t *testing.T) {
	tbl := Table{
		Default:   Budget{Shape: Normal, DepthOnOriginCap: 1},
		PerOrigin: map[atraurl.Origin]Budget{"special.test": {Shape: Absolute, TotalDistanceCap: 5}},
	}
	if got := tbl.For("special.test"); got.Shape != Absolute {
		t.Fatalf("expected per-origin override, got %v", got.Shape)
	}
	if got := tbl.For("other.test"); got.Shape != Normal {
		t.Fatalf("expected default fallback, got %v", got.Shape)
	}
}
