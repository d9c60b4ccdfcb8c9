// Package storage holds ScrapeResult, the raw-fetch-attempt shape that
// internal/fetch and internal/bypass exchange on the way to becoming a
// crawlresult.SlimResult; it no longer owns any persistence backend of
// its own (see internal/crawlresult and internal/export).
package storage

import "time"

// ScrapeResult represents the outcome of a single fetch attempt, before
// it is reduced to a slim crawl result.
type ScrapeResult struct {
	ID           string
	URL          string
	Method       string
	StatusCode   int
	Headers      map[string][]string
	Body         []byte
	Duration     time.Duration
	DetectedBot  bool
	DetectionSrc string // e.g. "Cloudflare", "Akamai", "PerimeterX", "DataDome"
	CreatedAt    time.Time
	Error        string // non-empty if the scrape failed before HTTP response
}
