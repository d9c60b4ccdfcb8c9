// Package worker implements the worker loop (spec component O): N
// workers sharing a seed provider, a patience-based idle detector, and
// a barrier that decides when the whole pool should stop.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/budget"
	"github.com/atra-crawler/atra/internal/linkstate"
	"github.com/atra-crawler/atra/internal/originguard"
	"github.com/atra-crawler/atra/internal/queue"
	"github.com/atra-crawler/atra/internal/seed"
	"github.com/atra-crawler/atra/internal/shutdown"
	"github.com/atra-crawler/atra/internal/sitecrawler"
)

// startingPatience is the per-worker idle budget (spec.md §4.O).
const startingPatience = 150

// CrawlerFactory builds a per-site crawler for one reserved origin
// holding target, so the worker pool doesn't need to know how
// sitecrawler.Dependencies is assembled.
type CrawlerFactory func(ctx context.Context, guard *originguard.Guard, target atraurl.URL) (*sitecrawler.Crawler, error)

// Pool drives Workers goroutines, each pulling from Queue via the seed
// provider (component M) and running a per-site crawl (component N) to
// completion before looping.
type Pool struct {
	Workers  int
	Queue    *queue.Queue
	States   linkstate.Store
	Origins  *originguard.Manager
	Budgets  budget.Table
	Build    CrawlerFactory
	Shutdown *shutdown.Coordinator
	MaxMiss  int
	Log      *slog.Logger
}

// Run blocks until every worker has stopped, either because the pool's
// barrier cancelled (patience exhausted everywhere, or the queue is
// durably empty) or because shutdown was requested.
func (p *Pool) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	barrier := NewBarrier(workers)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			p.runWorker(gctx, id, barrier, log)
			return nil
		})
	}

	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int, barrier *Barrier, log *slog.Logger) {
	leave := p.enter()
	defer leave()

	patience := startingPatience
	for {
		if (p.Shutdown != nil && p.Shutdown.IsShutdown()) || barrier.IsCancelled() || ctx.Err() != nil {
			barrier.WaitForCancelled(ctx, p.Queue)
			return
		}

		s, err := seed.Get(ctx, p.Queue, p.States, p.Origins, p.Budgets, p.Shutdown, p.MaxMiss)
		if err != nil {
			patience = p.handleAbort(id, err, patience, log)
		} else {
			patience = startingPatience
			p.crawl(ctx, s, log)
		}

		if patience < 0 {
			patience = startingPatience
			if barrier.WaitForCancelled(ctx, p.Queue) {
				return
			}
		}
	}
}

func (p *Pool) enter() func() {
	if p.Shutdown == nil {
		return func() {}
	}
	return p.Shutdown.Enter()
}

func (p *Pool) handleAbort(id int, err error, patience int, log *slog.Logger) int {
	var serr *seed.Error
	if !errors.As(err, &serr) {
		log.Debug("worker seed retrieval error", "worker", id, "err", err)
		return patience
	}
	switch serr.Cause {
	case seed.AbortTooManyMisses:
		return patience - 2
	case seed.AbortOutOfRetries:
		return patience - 5
	case seed.AbortQueueEmpty:
		return patience - 10
	case seed.AbortNoHost:
		log.Debug("worker dropped a hostless url", "worker", id)
		return patience
	case seed.AbortShutdown:
		return patience
	default:
		log.Debug("worker seed retrieval aborted", "worker", id, "cause", serr.Cause.String())
		return patience
	}
}

func (p *Pool) crawl(ctx context.Context, s seed.Seed, log *slog.Logger) {
	defer s.Guard.Release()

	c, err := p.Build(ctx, s.Guard, s.Target)
	if err != nil {
		log.Warn("build per-site crawler failed", "url", s.Target.String(), "err", err)
		return
	}
	if err := c.Run(ctx, p.Shutdown); err != nil {
		log.Warn("per-site crawl aborted", "url", s.Target.String(), "err", err)
	}
}
