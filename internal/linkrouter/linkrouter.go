// Package linkrouter implements the link-handling policy a per-site
// crawl consults after extracting a page's links (spec.md §4.N step
// 11): record every edge in the web-link graph, enqueue the
// off-origin ones that are still within budget, and hand the on-origin
// ones back to the caller to keep local traversal going.
package linkrouter

import (
	"context"
	"fmt"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/budget"
	"github.com/atra-crawler/atra/internal/linkstate"
	"github.com/atra-crawler/atra/internal/queue"
	"github.com/atra-crawler/atra/internal/webgraph"
)

// Router is the production sitecrawler.LinkHandler: it writes graph
// edges for every discovered link, enqueues out-of-origin links that
// pass their origin's budget and aren't already terminally resolved,
// and returns the links that stayed on-origin.
type Router struct {
	Queue   *queue.Queue
	Graph   *webgraph.Writer
	States  linkstate.Store
	Budgets budget.Table
}

// HandleLinks implements sitecrawler.LinkHandler.
func (r Router) HandleLinks(ctx context.Context, from atraurl.URL, links []atraurl.URL) ([]atraurl.URL, error) {
	fromOrigin, _ := from.Origin()

	var onOrigin []atraurl.URL
	for _, link := range links {
		linkOrigin, ok := link.Origin()
		if !ok {
			continue
		}

		if err := r.Graph.Send(ctx, webgraph.Edge{From: from.String(), To: link.String()}); err != nil {
			return onOrigin, fmt.Errorf("linkrouter: write edge %s -> %s: %w", from, link, err)
		}

		if linkOrigin == fromOrigin {
			onOrigin = append(onOrigin, link)
			continue
		}

		if !r.Budgets.For(linkOrigin).InBudget(link) {
			continue
		}

		if rec, ok, err := r.States.Get(ctx, link.String()); err != nil {
			return onOrigin, fmt.Errorf("linkrouter: check state for %s: %w", link, err)
		} else if ok && rec.Type.Terminal() {
			continue
		}

		if err := r.Queue.Enqueue(queue.Element{Target: link}); err != nil {
			return onOrigin, fmt.Errorf("linkrouter: enqueue %s: %w", link, err)
		}
		if err := r.States.UpdateState(ctx, link.String(), linkstate.Discovered); err != nil {
			return onOrigin, fmt.Errorf("linkrouter: mark discovered %s: %w", link, err)
		}
	}

	return onOrigin, nil
}
