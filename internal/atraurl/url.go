// Package atraurl implements the canonical URL-with-depth value used
// throughout the crawl core (spec component A) and the origin-key
// derivation used for mutual exclusion, pacing and budgets (component B).
package atraurl

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Depth tracks how far a URL sits from its seed, both within the
// current origin and across the whole crawl.
type Depth struct {
	// DepthOnOrigin counts link hops since the last time the origin changed.
	DepthOnOrigin int
	// DistanceToSeed counts how many times the origin has changed since the seed.
	DistanceToSeed int
	// TotalDistanceToSeed counts every derivation, regardless of origin.
	TotalDistanceToSeed int
}

// ZeroDepth is the depth of a seed URL.
var ZeroDepth = Depth{}

// URL is a canonical absolute URL paired with its depth metadata.
//
// Equality and hashing consider only the canonical URL string; ordering
// is lexicographic on that string, then by depth. Fragments are always
// stripped at construction time.
type URL struct {
	depth Depth
	u     *url.URL
}

// FromSeed parses raw as a seed URL: depth is all zeros.
func FromSeed(raw string) (URL, error) {
	return New(ZeroDepth, raw)
}

// New parses raw and associates it with the given depth.
func New(depth Depth, raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("atraurl: parse %q: %w", raw, err)
	}
	if !parsed.IsAbs() {
		return URL{}, fmt.Errorf("atraurl: %q is not an absolute url", raw)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return URL{depth: depth, u: parsed}, nil
}

// WithBase resolves raw relative to base and derives the child's depth
// per spec.md §3: same origin increments DepthOnOrigin; different origin
// resets DepthOnOrigin to 0 and increments DistanceToSeed. Every
// derivation increments TotalDistanceToSeed.
func WithBase(base URL, raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	ref, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("atraurl: parse %q: %w", raw, err)
	}
	resolved := base.u.ResolveReference(ref)
	resolved.Fragment = ""
	resolved.RawFragment = ""

	depth := base.depth
	baseOrigin, baseOK := OriginOf(base.u)
	childOrigin, childOK := OriginOf(resolved)
	if baseOK && childOK && baseOrigin == childOrigin {
		depth.DepthOnOrigin++
	} else {
		depth.DepthOnOrigin = 0
		depth.DistanceToSeed++
	}
	depth.TotalDistanceToSeed++

	return URL{depth: depth, u: resolved}, nil
}

// Depth returns the depth metadata associated with this URL.
func (u URL) Depth() Depth { return u.depth }

// String returns the canonical URL string, used for equality and hashing.
func (u URL) String() string {
	if u.u == nil {
		return ""
	}
	return u.u.String()
}

// Raw returns the underlying *url.URL. Callers must not mutate it.
func (u URL) Raw() *url.URL { return u.u }

// Host returns the lower-cased host, or "" if the URL carries none.
func (u URL) Host() string {
	if u.u == nil {
		return ""
	}
	return strings.ToLower(u.u.Hostname())
}

// Scheme returns the URL scheme.
func (u URL) Scheme() string {
	if u.u == nil {
		return ""
	}
	return u.u.Scheme
}

// CleanURL returns a copy with path, query and fragment removed, used to
// scope cookie jars to an origin rather than a specific page.
func (u URL) CleanURL() *url.URL {
	clean := *u.u
	clean.Path = ""
	clean.RawPath = ""
	clean.RawQuery = ""
	clean.Fragment = ""
	clean.RawFragment = ""
	return &clean
}

// Equal reports whether two URLs share the same canonical string.
func (u URL) Equal(other URL) bool {
	return u.String() == other.String()
}

// Less orders URLs lexicographically on the canonical string, then by
// depth (distance-to-seed, then depth-on-origin), matching spec.md §8
// property 1's ordering requirement.
func (u URL) Less(other URL) bool {
	if u.String() != other.String() {
		return u.String() < other.String()
	}
	if u.depth.DistanceToSeed != other.depth.DistanceToSeed {
		return u.depth.DistanceToSeed < other.depth.DistanceToSeed
	}
	return u.depth.DepthOnOrigin < other.depth.DepthOnOrigin
}

// jsonForm is the on-disk representation used by the URL queue and
// other components that need to persist a URL across a restart.
type jsonForm struct {
	URL   string `json:"url"`
	Depth Depth  `json:"depth"`
}

// MarshalJSON encodes the canonical string and depth, the same pair New
// takes to reconstruct a URL.
func (u URL) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonForm{URL: u.String(), Depth: u.depth})
}

// UnmarshalJSON reconstructs a URL from its canonical string and depth.
func (u *URL) UnmarshalJSON(data []byte) error {
	var form jsonForm
	if err := json.Unmarshal(data, &form); err != nil {
		return fmt.Errorf("atraurl: unmarshal: %w", err)
	}
	parsed, err := New(form.Depth, form.URL)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Origin returns the canonical origin key for this URL (component B),
// or ok=false if the URL carries no host (e.g. "mailto:" or "data:").
func (u URL) Origin() (Origin, bool) {
	return OriginOf(u.u)
}

// Origin is the unique key used by the robots cache, interval pacer,
// origin guard manager and per-host budgets: the public-suffix-trimmed
// effective domain, lower-cased, falling back to the lower-cased host.
type Origin string

// OriginOf derives the origin key from a *url.URL. It is total: it
// always returns a value for any URL carrying a host, and ok=false
// otherwise — such URLs are rejected at ingestion per spec.md §3.
func OriginOf(u *url.URL) (Origin, bool) {
	host := u.Hostname()
	if host == "" {
		return "", false
	}
	host = strings.ToLower(host)
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil && etld1 != "" {
		return Origin(etld1), true
	}
	return Origin(host), true
}
