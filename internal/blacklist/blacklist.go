// Package blacklist implements the crawl-wide deny list (spec component
// C): a polymorphic prefix/regex matcher over canonical URL strings,
// readable as an immutable snapshot while the backing file is
// hot-reloaded in the background.
package blacklist

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Rule is one line of a blacklist file.
type Rule interface {
	Match(url string) bool
}

type prefixRule string

func (p prefixRule) Match(url string) bool { return strings.HasPrefix(url, string(p)) }

type regexRule struct{ re *regexp.Regexp }

func (r regexRule) Match(url string) bool { return r.re.MatchString(url) }

// Snapshot is an immutable view of the blacklist at the moment it was
// acquired. Readers never block a concurrent reload.
type Snapshot struct {
	rules []Rule
}

// HasMatchFor reports whether url matches any rule in the snapshot.
func (s *Snapshot) HasMatchFor(url string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.rules {
		if r.Match(url) {
			return true
		}
	}
	return false
}

// emptySnapshot matches nothing; used before the first load and as the
// zero value for configurations with no blacklist file.
var emptySnapshot = &Snapshot{}

// ParseRule parses one line of a blacklist file. A line wrapped in
// slashes ("/.../") is a regex; any other non-blank, non-comment line is
// a literal prefix.
func ParseRule(line string) (Rule, error) {
	line = strings.TrimSpace(line)
	if len(line) >= 2 && strings.HasPrefix(line, "/") && strings.HasSuffix(line, "/") {
		pattern := line[1 : len(line)-1]
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("blacklist: compile regex %q: %w", pattern, err)
		}
		return regexRule{re: re}, nil
	}
	return prefixRule(line), nil
}

// Parse builds a Snapshot from a blacklist file's lines, skipping blank
// lines and lines starting with "#".
func Parse(lines []string) (*Snapshot, error) {
	rules := make([]Rule, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		rule, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("blacklist: line %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return &Snapshot{rules: rules}, nil
}

// Watcher owns the on-disk blacklist file and serves lock-free reads of
// the current Snapshot to any number of concurrent per-site crawlers,
// swapping in a freshly parsed snapshot whenever the file changes.
type Watcher struct {
	path    string
	log     *slog.Logger
	current atomic.Pointer[Snapshot]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New loads path (if it exists; a missing file yields an empty,
// never-match snapshot) and starts watching it for changes. Call Close
// to stop the watch goroutine.
func New(path string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{path: path, log: log, done: make(chan struct{})}
	w.current.Store(emptySnapshot)

	if path == "" {
		return w, nil
	}

	if err := w.reload(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("blacklist: initial load: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("blacklist: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		// A not-yet-created file is not fatal: it is logged and left
		// unwatched, so a file that appears after New is not loaded by
		// this Watcher.
		log.Warn("blacklist file not watchable yet", "path", path, "err", err)
	}
	w.watcher = fw
	go w.run()
	return w, nil
}

// Snapshot returns the current immutable view. Safe for concurrent use.
func (w *Watcher) Snapshot() *Snapshot {
	if s := w.current.Load(); s != nil {
		return s
	}
	return emptySnapshot
}

// Close stops the watch goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) reload() error {
	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("blacklist: read %s: %w", w.path, err)
	}

	snap, err := Parse(lines)
	if err != nil {
		return err
	}
	w.current.Store(snap)
	w.log.Info("blacklist reloaded", "path", w.path, "rules", len(snap.rules))
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.Error("blacklist reload failed", "path", w.path, "err", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("blacklist watch error", "err", err)
		}
	}
}
