// Command atra drives a crawl session: SINGLE runs one depth-bounded
// origin, MULTI runs many seeds across a worker pool configured from
// atra.ini/crawl.yaml (spec.md §6).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/blacklist"
	"github.com/atra-crawler/atra/internal/budget"
	"github.com/atra-crawler/atra/internal/config"
	"github.com/atra-crawler/atra/internal/crawlresult"
	"github.com/atra-crawler/atra/internal/fetch"
	"github.com/atra-crawler/atra/internal/linkrouter"
	"github.com/atra-crawler/atra/internal/linkstate"
	"github.com/atra-crawler/atra/internal/metrics"
	"github.com/atra-crawler/atra/internal/originguard"
	"github.com/atra-crawler/atra/internal/pacer"
	"github.com/atra-crawler/atra/internal/queue"
	"github.com/atra-crawler/atra/internal/report"
	"github.com/atra-crawler/atra/internal/robots"
	"github.com/atra-crawler/atra/internal/shutdown"
	"github.com/atra-crawler/atra/internal/sitecrawler"
	"github.com/atra-crawler/atra/internal/warc"
	"github.com/atra-crawler/atra/internal/webgraph"
	"github.com/atra-crawler/atra/internal/worker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var generateConfigDir string

	root := &cobra.Command{
		Use:   "atra",
		Short: "A polite, resumable, multi-worker web crawler.",
		// Runnable so a bare `atra --generate-example-config DIR` reaches
		// PersistentPreRunE; without the flag it prints help.
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&generateConfigDir, "generate-example-config", "", "write a default atra.ini and crawl.yaml into DIR and exit")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if generateConfigDir == "" {
			return nil
		}
		if err := config.WriteExampleConfig(generateConfigDir); err != nil {
			return fmt.Errorf("generate example config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote atra.ini and crawl.yaml to %s\n", generateConfigDir)
		os.Exit(0)
		return nil
	}

	root.AddCommand(singleCmd(), multiCmd())
	return root
}

// seedSpec parses the SEEDS grammar (spec.md §6): file:<path> |
// single:<url> | multi:"<url>","<url>",… | "<url>",… | <path> | <url>.
func seedSpec(raw string) ([]string, error) {
	switch {
	case strings.HasPrefix(raw, "file:"):
		return readSeedFile(strings.TrimPrefix(raw, "file:"))
	case strings.HasPrefix(raw, "single:"):
		return []string{unquote(strings.TrimPrefix(raw, "single:"))}, nil
	case strings.HasPrefix(raw, "multi:"):
		return splitQuotedList(strings.TrimPrefix(raw, "multi:")), nil
	case strings.Contains(raw, ","):
		return splitQuotedList(raw), nil
	case looksLikePath(raw):
		return readSeedFile(raw)
	default:
		return []string{unquote(raw)}, nil
	}
}

func looksLikePath(raw string) bool {
	if strings.Contains(raw, "://") {
		return false
	}
	_, err := os.Stat(raw)
	return err == nil
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func splitQuotedList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = unquote(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readSeedFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seeds: read %s: %w", path, err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func newLogger(level string, toFile bool, sessionDir string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if !toFile {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("log: create session dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(sessionDir, "atra.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log: open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), nil
}

// crawlDeps bundles every long-lived component a crawl session shares
// across workers, so both SINGLE and MULTI can assemble one from a
// config.CrawlConfig and tear it down uniformly.
type crawlDeps struct {
	log       *slog.Logger
	q         *queue.Queue
	states    linkstate.Store
	results   crawlresult.Store
	robotsDB  robots.PersistentStore
	robotsC   *robots.Cache
	blacklist *blacklist.Watcher
	pacerC    *pacer.Pacer
	origins   *originguard.Manager
	graph     *webgraph.Writer
	shutdown  *shutdown.Coordinator
	budgets   budget.Table
	cfg       config.CrawlConfig
	warc      *warc.Writer
}

func buildCrawlDeps(cfg config.CrawlConfig, log *slog.Logger) (*crawlDeps, error) {
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("init: create state dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.WarcDir, 0o755); err != nil {
		return nil, fmt.Errorf("init: create warc dir: %w", err)
	}

	q, err := queue.Open(cfg.Paths.QueueFile, cfg.MaxQueueAge)
	if err != nil {
		return nil, fmt.Errorf("init: open queue: %w", err)
	}

	states, err := linkstate.NewSQLite(filepath.Join(cfg.Paths.StateDir, "linkstate.db"))
	if err != nil {
		return nil, fmt.Errorf("init: open link-state store: %w", err)
	}

	results, err := crawlresult.NewSQLiteStore(filepath.Join(cfg.Paths.StateDir, "crawlresult.db"))
	if err != nil {
		return nil, fmt.Errorf("init: open crawl-result store: %w", err)
	}

	robotsDB, err := robots.NewSQLiteStore(filepath.Join(cfg.Paths.StateDir, "robots.db"))
	if err != nil {
		return nil, fmt.Errorf("init: open robots store: %w", err)
	}

	fetcher, err := fetch.New(fetch.Config{
		Timeout:        30 * time.Second,
		RedirectLimit:  cfg.RedirectLimit,
		RedirectPolicy: toFetchRedirectPolicy(cfg.RedirectPolicy),
		UseCookieJar:   cfg.UseCookies,
		ExtraHeaders:   cfg.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("init: build fetcher: %w", err)
	}

	robotsC, err := robots.New(cfg.RobotsCacheSize, robotsDB, fetcher, cfg.MaxRobotsAge, log)
	if err != nil {
		return nil, fmt.Errorf("init: build robots cache: %w", err)
	}

	bl, err := blacklist.New(cfg.Paths.BlacklistFile, log)
	if err != nil {
		return nil, fmt.Errorf("init: load blacklist: %w", err)
	}

	graph, err := webgraph.Open(cfg.Paths.WebGraphFile, cfg.WebGraphCacheSize, log)
	if err != nil {
		return nil, fmt.Errorf("init: open web-graph writer: %w", err)
	}

	w, err := warc.NewWriter(cfg.Paths.WarcDir)
	if err != nil {
		return nil, fmt.Errorf("init: open warc writer: %w", err)
	}

	p := pacer.New(robots.CacheDelayResolver{Cache: robotsC}, cfg.Delay)

	return &crawlDeps{
		log:       log,
		q:         q,
		states:    states,
		results:   results,
		robotsDB:  robotsDB,
		robotsC:   robotsC,
		blacklist: bl,
		pacerC:    p,
		origins:   originguard.New(),
		graph:     graph,
		shutdown:  shutdown.New(),
		budgets:   cfg.Budget.Table(),
		cfg:       cfg,
		warc:      w,
	}, nil
}

func (d *crawlDeps) close() {
	d.q.Close()
	d.states.Close()
	d.results.Close()
	if closer, ok := d.robotsDB.(io.Closer); ok {
		closer.Close()
	}
	d.blacklist.Close()
	d.pacerC.Close()
	d.graph.Close()
	d.warc.Close()
}

// crawlerFactory builds a worker.CrawlerFactory bound to deps. Every
// per-site crawl shares the pool's single warc.Writer (its own mutex
// serializes concurrent appends) rather than one file per origin, so a
// short-lived crawl of a small site doesn't leave behind a near-empty
// WARC file.
func (d *crawlDeps) crawlerFactory() worker.CrawlerFactory {
	return func(ctx context.Context, guard *originguard.Guard, target atraurl.URL) (*sitecrawler.Crawler, error) {
		origin := guard.Origin()
		bound, err := robots.Bind(ctx, d.robotsC, origin)
		if err != nil {
			return nil, fmt.Errorf("factory: bind robots cache: %w", err)
		}

		fetcher, err := newFetcher(d.cfg)
		if err != nil {
			return nil, fmt.Errorf("factory: build fetcher: %w", err)
		}

		deps := sitecrawler.Dependencies{
			Fetcher:   fetcher,
			States:    d.states,
			Results:   d.results,
			Warc:      d.warc,
			Robots:    bound,
			Blacklist: d.blacklist.Snapshot(),
			Pacer:     d.pacerC,
			Budgets:   d.budgets,
			Links: linkrouter.Router{
				Queue:   d.q,
				Graph:   d.graph,
				States:  d.states,
				Budgets: d.budgets,
			},
			Log:           d.log,
			UserAgent:     d.cfg.UserAgent,
			IgnoreSitemap: d.cfg.IgnoreSitemap,
		}

		return sitecrawler.New(ctx, deps, guard, target)
	}
}

// newFetcher builds a fresh fetcher per per-site crawl; cheap relative
// to a network round trip and avoids sharing cookie jars across origins
// when cfg.UseCookies is set.
func newFetcher(cfg config.CrawlConfig) (*fetch.Fetcher, error) {
	return fetch.New(fetch.Config{
		Timeout:        30 * time.Second,
		RedirectLimit:  cfg.RedirectLimit,
		RedirectPolicy: toFetchRedirectPolicy(cfg.RedirectPolicy),
		UseCookieJar:   cfg.UseCookies,
		ExtraHeaders:   cfg.Headers,
	})
}

// toFetchRedirectPolicy maps the config-file redirect policy string
// onto the fetcher's own enum, since config.RedirectPolicy exists to
// be the INI/YAML-facing spelling and shouldn't leak into the fetch
// package's wire type.
func toFetchRedirectPolicy(p config.RedirectPolicy) fetch.RedirectPolicy {
	if p == config.RedirectStrict {
		return fetch.Strict
	}
	return fetch.Loose
}

func singleCmd() *cobra.Command {
	var (
		sessionName string
		agent       string
		depth       int
		absolute    bool
		timeoutSec  int
		logLevel    string
		logToFile   bool
	)

	cmd := &cobra.Command{
		Use:   "SINGLE SEEDS",
		Short: "Crawl a single origin to a bounded depth.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := seedSpec(args[0])
			if err != nil {
				return err
			}
			if len(seeds) == 0 {
				return fmt.Errorf("single: no seed URLs resolved from %q", args[0])
			}
			if sessionName == "" {
				return fmt.Errorf("single: --session-name is required")
			}

			cfg := config.Default(filepath.Join(".", sessionName))
			cfg.UserAgent = agent

			b := budget.Budget{DepthOnOriginCap: depth}
			if absolute {
				b.Shape = budget.Absolute
				b.TotalDistanceCap = depth
			} else {
				b.Shape = budget.SeedOnly
			}
			cfg.Budget = config.BudgetConfig{Default: b}

			log, err := newLogger(logLevel, logToFile, cfg.Paths.Root)
			if err != nil {
				return err
			}

			deps, err := buildCrawlDeps(cfg, log)
			if err != nil {
				return err
			}
			defer deps.close()

			if err := seedQueue(deps, seeds); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			timeout := time.Duration(timeoutSec) * time.Second
			return runPool(ctx, deps, 1, timeout)
		},
	}

	cmd.Flags().StringVar(&sessionName, "session-name", "", "session directory name under the working directory")
	cmd.Flags().StringVar(&agent, "agent", "atra/1.0", "user agent string")
	cmd.Flags().IntVar(&depth, "depth", 3, "maximum depth (depth-on-origin, or total distance with --absolute)")
	cmd.Flags().BoolVar(&absolute, "absolute", false, "bound by total distance to seed instead of depth on origin")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "stop the crawl after this many seconds (0 for unbounded)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&logToFile, "log-to-file", false, "write logs to <session>/atra.log instead of stderr")
	return cmd
}

func multiCmd() *cobra.Command {
	var (
		sessionName      string
		threads          int
		configDir        string
		overrideLogLevel string
		logToFile        bool
	)

	cmd := &cobra.Command{
		Use:   "MULTI SEEDS",
		Short: "Crawl many seeds across a worker pool, configured from a config directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := seedSpec(args[0])
			if err != nil {
				return err
			}
			if len(seeds) == 0 {
				return fmt.Errorf("multi: no seed URLs resolved from %q", args[0])
			}
			if sessionName == "" {
				return fmt.Errorf("multi: --session-name is required")
			}
			if configDir == "" {
				return fmt.Errorf("multi: --config is required")
			}

			cfg, err := config.ViperLoader{}.Load(configDir)
			if err != nil {
				return fmt.Errorf("multi: load config: %w", err)
			}
			cfg.Paths = config.DefaultPaths(filepath.Join(".", sessionName))

			level := cfg.LogLevel
			if overrideLogLevel != "" {
				level = overrideLogLevel
			}
			toFile := cfg.LogToFile || logToFile

			log, err := newLogger(level, toFile, cfg.Paths.Root)
			if err != nil {
				return err
			}

			deps, err := buildCrawlDeps(cfg, log)
			if err != nil {
				return err
			}
			defer deps.close()

			if err := seedQueue(deps, seeds); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			return runPool(ctx, deps, threads, 0)
		},
	}

	cmd.Flags().StringVar(&sessionName, "session-name", "", "session directory name under the working directory")
	cmd.Flags().IntVar(&threads, "threads", 4, "number of concurrent workers")
	cmd.Flags().StringVar(&configDir, "config", "", "directory containing atra.ini and crawl.yaml")
	cmd.Flags().StringVar(&overrideLogLevel, "override-log-level", "", "override the config file's log level")
	cmd.Flags().BoolVar(&logToFile, "log-to-file", false, "write logs to <session>/atra.log instead of stderr")
	return cmd
}

func seedQueue(deps *crawlDeps, seeds []string) error {
	for _, raw := range seeds {
		u, err := atraurl.FromSeed(raw)
		if err != nil {
			deps.log.Warn("dropping unparseable seed", "seed", raw, "err", err)
			continue
		}
		if err := deps.q.Enqueue(queue.Element{Target: u, IsSeed: true}); err != nil {
			return fmt.Errorf("seed: enqueue %s: %w", raw, err)
		}
		if err := deps.states.UpdateState(context.Background(), u.String(), linkstate.Discovered); err != nil {
			return fmt.Errorf("seed: mark discovered %s: %w", raw, err)
		}
	}
	return nil
}

func runPool(ctx context.Context, deps *crawlDeps, workers int, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	srv := metrics.Start(0)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(stopCtx)
	}()

	pool := &worker.Pool{
		Workers:  workers,
		Queue:    deps.q,
		States:   deps.states,
		Origins:  deps.origins,
		Budgets:  deps.budgets,
		Build:    deps.crawlerFactory(),
		Shutdown: deps.shutdown,
		MaxMiss:  8,
		Log:      deps.log,
	}

	go func() {
		<-ctx.Done()
		deps.shutdown.Request()
	}()

	if err := pool.Run(ctx); err != nil {
		deps.log.Error("worker pool exited with error", "err", err)
	}

	return writeReport(deps)
}

func writeReport(deps *crawlDeps) error {
	all, err := deps.results.All(context.Background())
	if err != nil {
		return fmt.Errorf("report: load crawl results: %w", err)
	}
	summary := report.GenerateSummary(all, 0)
	return report.WriteText(os.Stdout, summary)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
