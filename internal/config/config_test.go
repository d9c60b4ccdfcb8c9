package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atra-crawler/atra/internal/atraurl"
	"github.com/atra-crawler/atra/internal/budget"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default("/tmp/atra-root")
	if cfg.UserAgent == "" {
		t.Error("expected a non-empty default user agent")
	}
	if !cfg.RespectRobotsTxt {
		t.Error("expected robots.txt to be respected by default")
	}
	if cfg.Paths.Root != "/tmp/atra-root" {
		t.Errorf("expected paths rooted at /tmp/atra-root, got %s", cfg.Paths.Root)
	}
}

func TestWriteExampleConfigProducesLoadableFiles(t *testing.T) {
	dir := t.TempDir()
	if err := WriteExampleConfig(dir); err != nil {
		t.Fatalf("WriteExampleConfig: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "atra.ini")); err != nil {
		t.Errorf("expected atra.ini to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "crawl.yaml")); err != nil {
		t.Errorf("expected crawl.yaml to exist: %v", err)
	}

	cfg, err := ViperLoader{}.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserAgent == "" {
		t.Error("expected a user agent to survive round-tripping through the example config")
	}
}

func TestViperLoaderOverridesDefaults(t *testing.T) {
	dir := t.TempDir()

	ini := "[system]\nlog_level = debug\nlog_to_file = true\n"
	if err := os.WriteFile(filepath.Join(dir, "atra.ini"), []byte(ini), 0o644); err != nil {
		t.Fatalf("write atra.ini: %v", err)
	}

	yaml := "user_agent: \"custom-bot/1.0\"\ndelay: 2500ms\nredirect_limit: 3\n"
	if err := os.WriteFile(filepath.Join(dir, "crawl.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write crawl.yaml: %v", err)
	}

	cfg, err := ViperLoader{}.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
	if !cfg.LogToFile {
		t.Error("expected log_to_file to be true")
	}
	if cfg.UserAgent != "custom-bot/1.0" {
		t.Errorf("expected overridden user agent, got %s", cfg.UserAgent)
	}
	if cfg.Delay != 2500*time.Millisecond {
		t.Errorf("expected delay of 2500ms, got %v", cfg.Delay)
	}
	if cfg.RedirectLimit != 3 {
		t.Errorf("expected redirect limit 3, got %d", cfg.RedirectLimit)
	}
}

func TestViperLoaderToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg, err := ViperLoader{}.Load(dir)
	if err != nil {
		t.Fatalf("Load with no config files present: %v", err)
	}
	if cfg.UserAgent != Default(dir).UserAgent {
		t.Error("expected defaults to apply when no config files are present")
	}
}

func TestBudgetConfigTable(t *testing.T) {
	bc := BudgetConfig{
		Default: budget.Budget{DepthOnOriginCap: 5},
		PerHost: map[string]budget.Budget{
			"example.com": {DepthOnOriginCap: 2},
		},
	}

	table := bc.Table()
	if table.Default.DepthOnOriginCap != 5 {
		t.Errorf("expected default depth cap 5, got %d", table.Default.DepthOnOriginCap)
	}
	got, ok := table.PerOrigin[atraurl.Origin("example.com")]
	if !ok {
		t.Fatal("expected a per-origin override for example.com")
	}
	if got.DepthOnOriginCap != 2 {
		t.Errorf("expected override depth cap 2, got %d", got.DepthOnOriginCap)
	}
}
