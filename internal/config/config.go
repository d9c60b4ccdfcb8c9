// Package config defines the Go shape a crawl configuration is loaded
// into. It owns no INI/YAML grammar itself — spec.md §1 puts config
// parsing out of scope — only the resulting structs and the Loader
// seam a concrete frontend (ViperLoader, or a future one) populates.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/budget"
	"github.com/atra-crawler/atra/internal/queue"
)

// RedirectPolicy selects how strictly redirects are followed.
type RedirectPolicy string

const (
	RedirectLoose  RedirectPolicy = "Loose"
	RedirectStrict RedirectPolicy = "Strict"
)

// PathsConfig locates every persisted artifact under one root folder,
// per spec.md §6's "Persisted state layout".
type PathsConfig struct {
	Root          string
	StateDir      string // rocksdb/-equivalent: link states, crawl results, robots cache
	QueueFile     string // queue.tmp
	BlacklistFile string // blacklist.txt
	WebGraphFile  string // web_graph.rdf
	BigFilesDir   string // big_files/
	WarcDir       string // <worker-id>/*.warc, rooted here
}

// DefaultPaths derives the standard layout from a single root folder.
func DefaultPaths(root string) PathsConfig {
	return PathsConfig{
		Root:          root,
		StateDir:      filepath.Join(root, "state"),
		QueueFile:     filepath.Join(root, "queue.tmp"),
		BlacklistFile: filepath.Join(root, "blacklist.txt"),
		WebGraphFile:  filepath.Join(root, "web_graph.rdf"),
		BigFilesDir:   filepath.Join(root, "big_files"),
		WarcDir:       root,
	}
}

// BudgetConfig is the config-file shape of a budget.Table: a default
// budget plus per-origin overrides, keyed by origin string since a
// config file has no atraurl.Origin type to bind into.
type BudgetConfig struct {
	Default budget.Budget
	PerHost map[string]budget.Budget
}

// Table converts the config-file shape into the atraurl.Origin-keyed
// table internal/budget actually consults.
func (b BudgetConfig) Table() budget.Table {
	t := budget.Table{Default: b.Default}
	if len(b.PerHost) > 0 {
		t.PerOrigin = make(map[atraurl.Origin]budget.Budget, len(b.PerHost))
		for host, bud := range b.PerHost {
			t.PerOrigin[atraurl.Origin(host)] = bud
		}
	}
	return t
}

// CrawlConfig is the full set of recognized crawl options from
// spec.md §6's config-files section.
type CrawlConfig struct {
	UserAgent           string
	RespectRobotsTxt    bool
	RespectNofollow     bool
	CrawlEmbeddedData   bool
	CrawlJavascript     bool
	MaxFileSize         int64
	MaxRobotsAge        time.Duration
	IgnoreSitemap       bool
	Subdomains          bool
	Cache               bool
	UseCookies          bool
	Headers             map[string]string
	Proxies             []string
	TLD                 string
	Delay               time.Duration
	Budget              BudgetConfig
	MaxQueueAge         uint32
	RedirectLimit       int
	RedirectPolicy      RedirectPolicy
	AcceptInvalidCerts  bool
	DecodeBigFilesUpTo  int64
	RobotsCacheSize     int
	WebGraphCacheSize   int
	MaxFileSizeInMemory int64
	LogLevel            string
	LogToFile           bool

	Paths PathsConfig
}

// Default returns the configuration Atra runs with when no config
// file overrides a given option.
func Default(root string) CrawlConfig {
	return CrawlConfig{
		UserAgent:           "atra/1.0 (+https://github.com/atra-crawler/atra)",
		RespectRobotsTxt:    true,
		RespectNofollow:     true,
		CrawlEmbeddedData:   false,
		CrawlJavascript:     false,
		MaxFileSize:         100 << 20, // 100 MiB
		MaxRobotsAge:        24 * time.Hour,
		IgnoreSitemap:       false,
		Subdomains:          false,
		Cache:               true,
		UseCookies:          false,
		Delay:               1 * time.Second,
		Budget:              BudgetConfig{Default: budget.Budget{}},
		MaxQueueAge:         queue.DefaultMaxAge,
		RedirectLimit:       10,
		RedirectPolicy:      RedirectLoose,
		AcceptInvalidCerts:  false,
		DecodeBigFilesUpTo:  10 << 20, // 10 MiB
		RobotsCacheSize:     1024,
		WebGraphCacheSize:   4096,
		MaxFileSizeInMemory: 1 << 20, // 1 MiB
		LogLevel:            "info",
		LogToFile:           false,
		Paths:               DefaultPaths(root),
	}
}

// Loader populates a CrawlConfig from whatever frontend it wraps
// (INI+YAML files on disk today, any other source tomorrow) without
// the crawl core depending on that frontend directly.
type Loader interface {
	Load(dir string) (CrawlConfig, error)
}

// WriteExampleConfig emits atra.ini and crawl.yaml populated with
// Default's values into dir, for `atra --generate-example-config`.
func WriteExampleConfig(dir string) error {
	cfg := Default(dir)

	ini := fmt.Sprintf(`; atra.ini - system, paths and session options
[system]
log_level = %s
log_to_file = %t

[paths]
root = %s
`, cfg.LogLevel, cfg.LogToFile, dir)

	yaml := fmt.Sprintf(`# crawl.yaml - crawl behavior options
user_agent: %q
respect_robots_txt: %t
respect_nofollow: %t
crawl_embedded_data: %t
crawl_javascript: %t
max_file_size: %d
max_robots_age: %s
ignore_sitemap: %t
subdomains: %t
cache: %t
use_cookies: %t
tld: %q
delay: %s
max_queue_age: %d
redirect_limit: %d
redirect_policy: %s
accept_invalid_certs: %t
decode_big_files_up_to: %d
robots_cache_size: %d
web_graph_cache_size: %d
max_file_size_in_memory: %d
budget:
  default:
    depth_on_origin_cap: 0
    distance_cap: 0
    total_distance_cap: 0
    recrawl: 0s
  per_host: {}
`,
		cfg.UserAgent, cfg.RespectRobotsTxt, cfg.RespectNofollow, cfg.CrawlEmbeddedData,
		cfg.CrawlJavascript, cfg.MaxFileSize, cfg.MaxRobotsAge, cfg.IgnoreSitemap,
		cfg.Subdomains, cfg.Cache, cfg.UseCookies, cfg.TLD, cfg.Delay, cfg.MaxQueueAge,
		cfg.RedirectLimit, cfg.RedirectPolicy, cfg.AcceptInvalidCerts, cfg.DecodeBigFilesUpTo,
		cfg.RobotsCacheSize, cfg.WebGraphCacheSize, cfg.MaxFileSizeInMemory,
	)

	if err := os.WriteFile(filepath.Join(dir, "atra.ini"), []byte(ini), 0o644); err != nil {
		return fmt.Errorf("config: write atra.ini: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "crawl.yaml"), []byte(yaml), 0o644); err != nil {
		return fmt.Errorf("config: write crawl.yaml: %w", err)
	}
	return nil
}
