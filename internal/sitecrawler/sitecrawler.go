// Package sitecrawler implements the per-site crawler (spec component
// N): a local BFS frontier over a single origin, held for the
// lifetime of one origin guard.
package sitecrawler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/blacklist"
	"github.com/atra-crawler/atra/internal/budget"
	"github.com/atra-crawler/atra/internal/crawlresult"
	"github.com/atra-crawler/atra/internal/fetch"
	"github.com/atra-crawler/atra/internal/linkstate"
	"github.com/atra-crawler/atra/internal/originguard"
	"github.com/atra-crawler/atra/internal/pacer"
	"github.com/atra-crawler/atra/internal/robots"
	"github.com/atra-crawler/atra/internal/warc"
	"github.com/oxffaa/gopher-parse-sitemap"
)

// ShutdownSignal reports whether a graceful shutdown was requested.
type ShutdownSignal interface {
	IsShutdown() bool
}

// LinkHandler receives the links discovered on one page and decides
// what happens to the ones leaving the current origin: writing graph
// edges, enqueueing out-of-origin URLs subject to their budget, and
// reporting which links stayed on-origin so the caller can continue
// local traversal (spec.md §4.N step 11).
type LinkHandler interface {
	HandleLinks(ctx context.Context, from atraurl.URL, links []atraurl.URL) (onOrigin []atraurl.URL, err error)
}

// Dependencies bundles everything the per-site crawl loop consults.
type Dependencies struct {
	Fetcher   *fetch.Fetcher
	States    linkstate.Store
	Results   crawlresult.Store
	Warc      *warc.Writer
	Robots    *robots.BoundCache
	Blacklist *blacklist.Snapshot
	Pacer     *pacer.Pacer
	Budgets   budget.Table
	Links     LinkHandler
	Log       *slog.Logger

	UserAgent           string
	IgnoreSitemap       bool
	StoreOnlyHTMLInWarc bool
}

// Crawler owns guard for its lifetime; Release must be called by the
// caller once Run returns (the crawler never releases its own guard,
// matching spec.md §3's "Origin guard: released on drop of the
// per-site crawler" lifecycle, which in Go means "when the owner is
// done with it").
type Crawler struct {
	deps     Dependencies
	guard    *originguard.Guard
	origin   atraurl.Origin
	frontier []atraurl.URL
	visited  map[string]struct{}
}

// New builds a Crawler for guard's origin, seeding the local frontier
// with seed and, unless IgnoreSitemap, with sitemap entries discovered
// via robots or /sitemap.xml. Sitemap failures are logged and ignored.
func New(ctx context.Context, deps Dependencies, guard *originguard.Guard, seed atraurl.URL) (*Crawler, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	c := &Crawler{
		deps:     deps,
		guard:    guard,
		origin:   guard.Origin(),
		frontier: []atraurl.URL{seed},
		visited:  make(map[string]struct{}),
	}

	if !deps.IgnoreSitemap {
		c.seedFromSitemaps(ctx, seed)
	}

	return c, nil
}

func (c *Crawler) seedFromSitemaps(ctx context.Context, seed atraurl.URL) {
	locations := c.deps.Robots.Sitemaps()
	if len(locations) == 0 {
		if u, err := atraurl.WithBase(seed, "/sitemap.xml"); err == nil {
			locations = []string{u.String()}
		}
	}

	for _, loc := range locations {
		entries, err := c.fetchSitemap(ctx, loc)
		if err != nil {
			c.deps.Log.Debug("sitemap fetch failed, ignoring", "url", loc, "err", err)
			continue
		}
		for _, raw := range entries {
			u, err := atraurl.WithBase(seed, raw)
			if err != nil {
				continue
			}
			c.frontier = append(c.frontier, u)
		}
	}
}

func (c *Crawler) fetchSitemap(ctx context.Context, location string) ([]string, error) {
	resp, err := c.deps.Fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("sitecrawler: sitemap %s returned status %d", location, resp.StatusCode)
	}

	var urls []string
	parseErr := sitemap.Parse(bytes.NewReader(resp.Body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})
	if parseErr == nil && len(urls) > 0 {
		return urls, nil
	}

	var nested []string
	if idxErr := sitemap.ParseIndex(bytes.NewReader(resp.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	}); idxErr != nil || len(nested) == 0 {
		return nil, fmt.Errorf("sitecrawler: %s is neither a sitemap nor a sitemap index", location)
	}

	for _, n := range nested {
		children, err := c.fetchSitemap(ctx, n)
		if err != nil {
			c.deps.Log.Debug("nested sitemap fetch failed, ignoring", "url", n, "err", err)
			continue
		}
		urls = append(urls, children...)
	}
	return urls, nil
}

// Run drives the loop of spec.md §4.N until the local frontier is
// empty or a shutdown is observed.
func (c *Crawler) Run(ctx context.Context, shutdown ShutdownSignal) error {
	for len(c.frontier) > 0 {
		if (shutdown != nil && shutdown.IsShutdown()) || ctx.Err() != nil {
			return nil
		}

		target := c.frontier[0]
		c.frontier = c.frontier[1:]

		if !c.urlChecker(target) {
			continue
		}

		if err := c.deps.States.UpdateState(ctx, target.String(), linkstate.ReservedForCrawl); err != nil {
			c.deps.Log.Warn("update state to ReservedForCrawl failed", "url", target.String(), "err", err)
		}

		if c.skipViaRecrawlPolicy(ctx, target) {
			continue
		}

		if err := c.deps.Pacer.Wait(ctx, target); err != nil {
			if setErr := c.deps.States.UpdateState(ctx, target.String(), linkstate.Discovered); setErr != nil {
				c.deps.Log.Warn("update state after pacing failure", "url", target.String(), "err", setErr)
			}
			return fmt.Errorf("sitecrawler: pace %s: %w", target.String(), err)
		}

		resp, err := c.deps.Fetcher.Fetch(ctx, target.String())
		if err != nil {
			if setErr := c.deps.States.UpdateState(ctx, target.String(), linkstate.InternalError); setErr != nil {
				c.deps.Log.Warn("update state to InternalError failed", "url", target.String(), "err", setErr)
			}
			continue
		}

		if err := c.deps.States.UpdateState(ctx, target.String(), linkstate.Discovered); err != nil {
			c.deps.Log.Warn("transient update state to Discovered failed", "url", target.String(), "err", err)
		}

		contentType := resp.Headers.Get("Content-Type")
		format := normalizeFormat(contentType)

		var links []atraurl.URL
		if strings.Contains(format, "text/html") {
			links = extractLinks(target, resp.Body)
		}

		onOrigin, handleErr := c.deps.Links.HandleLinks(ctx, target, links)
		if handleErr != nil {
			c.deps.Log.Warn("handle links failed, skipping storage for this url", "url", target.String(), "err", handleErr)
			if setErr := c.deps.States.UpdateState(ctx, target.String(), linkstate.Discovered); setErr != nil {
				c.deps.Log.Warn("update state after link-handling failure", "url", target.String(), "err", setErr)
			}
			continue
		}
		for _, u := range onOrigin {
			if c.urlChecker(u) {
				c.frontier = append(c.frontier, u)
			}
		}

		content := warc.Content{Kind: warc.InMemory, Bytes: resp.Body, Format: format}
		if c.deps.StoreOnlyHTMLInWarc && format != "text/html" {
			// Non-HTML content under store_only_html_in_warc is dropped
			// from the WARC stream entirely; only metadata is retained.
			content = warc.Content{}
		}

		if err := c.storeCrawledWebsite(ctx, target, resp, content); err != nil {
			c.deps.Log.Error("store crawled website failed", "url", target.String(), "err", err)
			if setErr := c.deps.States.UpdateState(ctx, target.String(), linkstate.Discovered); setErr != nil {
				c.deps.Log.Warn("update state after store failure", "url", target.String(), "err", setErr)
			}
			return fmt.Errorf("sitecrawler: store %s: %w", target.String(), err)
		}

		if err := c.deps.States.UpdateState(ctx, target.String(), linkstate.ProcessedAndStored); err != nil {
			c.deps.Log.Warn("update state to ProcessedAndStored failed", "url", target.String(), "err", err)
		}
	}
	return nil
}

// urlChecker implements "not yet visited locally ∧ not blacklisted ∧
// robots allows ∧ in budget" (spec.md §4.N step 3).
func (c *Crawler) urlChecker(u atraurl.URL) bool {
	key := u.String()
	if _, seen := c.visited[key]; seen {
		return false
	}
	if c.deps.Blacklist != nil && c.deps.Blacklist.HasMatchFor(key) {
		return false
	}
	if c.deps.Robots != nil && !c.deps.Robots.Allowed(key, c.deps.UserAgent) {
		return false
	}
	if origin, ok := u.Origin(); ok {
		if !c.deps.Budgets.For(origin).InBudget(u) {
			return false
		}
	}
	c.visited[key] = struct{}{}
	return true
}

// skipViaRecrawlPolicy implements step 5: a previously-stored result is
// skipped unless its age has exceeded the origin's recrawl interval.
func (c *Crawler) skipViaRecrawlPolicy(ctx context.Context, target atraurl.URL) bool {
	existing, found, err := c.deps.Results.Get(ctx, target.String())
	if err != nil || !found {
		return false
	}

	b := c.deps.Budgets.Default
	if origin, ok := target.Origin(); ok {
		b = c.deps.Budgets.For(origin)
	}
	interval, hasRecrawl := b.RecrawlInterval()
	if !hasRecrawl {
		if setErr := c.deps.States.UpdateState(ctx, target.String(), linkstate.ProcessedAndStored); setErr != nil {
			c.deps.Log.Warn("update state for recrawl skip failed", "url", target.String(), "err", setErr)
		}
		return true
	}
	if time.Since(existing.Timestamp) < interval {
		if setErr := c.deps.States.UpdateState(ctx, target.String(), linkstate.ProcessedAndStored); setErr != nil {
			c.deps.Log.Warn("update state for recrawl skip failed", "url", target.String(), "err", setErr)
		}
		return true
	}
	return false
}

// storeCrawledWebsite writes the fetch result through the WARC writer
// and records its slim pointer, implementing step 13.
func (c *Crawler) storeCrawledWebsite(ctx context.Context, target atraurl.URL, resp fetch.Response, content warc.Content) error {
	statusLine := fmt.Sprintf("HTTP/1.1 %d\r\n", resp.StatusCode)
	var headerBuf bytes.Buffer
	headerBuf.WriteString(statusLine)
	for k, vs := range resp.Headers {
		for _, v := range vs {
			headerBuf.WriteString(k)
			headerBuf.WriteString(": ")
			headerBuf.WriteString(v)
			headerBuf.WriteString("\r\n")
		}
	}
	headerBuf.WriteString("\r\n")

	hint := crawlresult.StoredDataHint{Kind: crawlresult.HintNone}
	if content.Kind == warc.InMemory && len(content.Bytes) > 0 || content.Kind == warc.ExternalFile {
		instr, err := warc.WriteCrawlResult(c.deps.Warc, warc.Request{
			URL:             target.String(),
			Timestamp:       time.Now(),
			HeaderSignature: headerBuf.Bytes(),
			Content:         content,
		})
		if err != nil {
			return fmt.Errorf("write warc record: %w", err)
		}
		hint = crawlresult.StoredDataHint{Kind: crawlresult.HintWarc, Warc: &instr}
	}

	slim := crawlresult.SlimResult{
		URL:         target.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Headers.Get("Content-Type"),
		Timestamp:   time.Now(),
		Hint:        hint,
	}
	if err := c.deps.Results.Add(ctx, slim); err != nil {
		return fmt.Errorf("store slim result: %w", err)
	}
	return nil
}

func normalizeFormat(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// extractLinks pulls every <a href> out of an HTML document and
// resolves it against base, deriving each child's depth.
func extractLinks(base atraurl.URL, body []byte) []atraurl.URL {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []atraurl.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		u, err := atraurl.WithBase(base, href)
		if err != nil {
			return
		}
		if u.Scheme() != "http" && u.Scheme() != "https" {
			return
		}
		links = append(links, u)
	})
	return links
}
