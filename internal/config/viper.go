package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ViperLoader is the Loader frontend wiring atra.ini (system/paths) and
// crawl.yaml (crawl behavior) onto a CrawlConfig, via two independent
// viper instances so a missing file in one simply falls back to
// Default's values for that half.
type ViperLoader struct{}

var _ Loader = ViperLoader{}

// Load reads atra.ini and crawl.yaml out of dir, layering recognized
// keys over Default(dir). Either file may be absent; an absent file
// leaves its half of the config at the default.
func (ViperLoader) Load(dir string) (CrawlConfig, error) {
	cfg := Default(dir)

	sys := viper.New()
	sys.SetConfigName("atra")
	sys.SetConfigType("ini")
	sys.AddConfigPath(dir)
	if err := sys.ReadInConfig(); err == nil {
		if v := sys.GetString("system.log_level"); v != "" {
			cfg.LogLevel = v
		}
		if sys.IsSet("system.log_to_file") {
			cfg.LogToFile = sys.GetBool("system.log_to_file")
		}
		if v := sys.GetString("paths.root"); v != "" {
			cfg.Paths = DefaultPaths(v)
		}
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return CrawlConfig{}, fmt.Errorf("config: read atra.ini: %w", err)
	}

	crawl := viper.New()
	crawl.SetConfigName("crawl")
	crawl.SetConfigType("yaml")
	crawl.AddConfigPath(dir)
	if err := crawl.ReadInConfig(); err == nil {
		bindString(crawl, "user_agent", &cfg.UserAgent)
		bindBool(crawl, "respect_robots_txt", &cfg.RespectRobotsTxt)
		bindBool(crawl, "respect_nofollow", &cfg.RespectNofollow)
		bindBool(crawl, "crawl_embedded_data", &cfg.CrawlEmbeddedData)
		bindBool(crawl, "crawl_javascript", &cfg.CrawlJavascript)
		bindBool(crawl, "ignore_sitemap", &cfg.IgnoreSitemap)
		bindBool(crawl, "subdomains", &cfg.Subdomains)
		bindBool(crawl, "cache", &cfg.Cache)
		bindBool(crawl, "use_cookies", &cfg.UseCookies)
		bindBool(crawl, "accept_invalid_certs", &cfg.AcceptInvalidCerts)
		bindString(crawl, "tld", &cfg.TLD)

		if crawl.IsSet("max_file_size") {
			cfg.MaxFileSize = crawl.GetInt64("max_file_size")
		}
		if crawl.IsSet("decode_big_files_up_to") {
			cfg.DecodeBigFilesUpTo = crawl.GetInt64("decode_big_files_up_to")
		}
		if crawl.IsSet("max_file_size_in_memory") {
			cfg.MaxFileSizeInMemory = crawl.GetInt64("max_file_size_in_memory")
		}
		if crawl.IsSet("robots_cache_size") {
			cfg.RobotsCacheSize = crawl.GetInt("robots_cache_size")
		}
		if crawl.IsSet("web_graph_cache_size") {
			cfg.WebGraphCacheSize = crawl.GetInt("web_graph_cache_size")
		}
		if crawl.IsSet("redirect_limit") {
			cfg.RedirectLimit = crawl.GetInt("redirect_limit")
		}
		if v := crawl.GetString("redirect_policy"); v != "" {
			cfg.RedirectPolicy = RedirectPolicy(v)
		}

		bindDuration(crawl, "max_robots_age", &cfg.MaxRobotsAge)
		bindDuration(crawl, "delay", &cfg.Delay)
		if crawl.IsSet("max_queue_age") {
			cfg.MaxQueueAge = uint32(crawl.GetUint("max_queue_age"))
		}

		if crawl.IsSet("proxies") {
			cfg.Proxies = crawl.GetStringSlice("proxies")
		}
		if crawl.IsSet("headers") {
			cfg.Headers = crawl.GetStringMapString("headers")
		}

		if crawl.IsSet("budget.default.depth_on_origin_cap") {
			cfg.Budget.Default.DepthOnOriginCap = crawl.GetInt("budget.default.depth_on_origin_cap")
		}
		if crawl.IsSet("budget.default.distance_cap") {
			cfg.Budget.Default.DistanceCap = crawl.GetInt("budget.default.distance_cap")
		}
		if crawl.IsSet("budget.default.total_distance_cap") {
			cfg.Budget.Default.TotalDistanceCap = crawl.GetInt("budget.default.total_distance_cap")
		}
		bindDuration(crawl, "budget.default.recrawl", &cfg.Budget.Default.Recrawl)
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return CrawlConfig{}, fmt.Errorf("config: read crawl.yaml: %w", err)
	}

	return cfg, nil
}

func bindString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}

func bindBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func bindDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}
