package robots

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/temoto/robotstxt"
	_ "modernc.org/sqlite"

	"github.com/atra-crawler/atra/internal/atraurl"
)

func parseCached(body []byte) (*robotstxt.RobotsData, error) {
	return robotstxt.FromBytes(body)
}

// sqliteStore persists robots entries in one table, with JSON for the
// variable-shaped bits (here, the sitemap list), opened with
// modernc.org/sqlite.
type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS robots_cache (
	origin TEXT PRIMARY KEY,
	allowed_rules BLOB,
	sitemaps TEXT NOT NULL,
	delay_ms INTEGER NOT NULL,
	fetched_at DATETIME NOT NULL
);
`

// NewSQLiteStore opens (creating if absent) a persistent robots store at dsn.
func NewSQLiteStore(dsn string) (PersistentStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("robots: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("robots: migrate sqlite: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, origin atraurl.Origin) (*Entry, bool, error) {
	const q = `SELECT allowed_rules, sitemaps, delay_ms, fetched_at FROM robots_cache WHERE origin = ?`
	row := s.db.QueryRowContext(ctx, q, string(origin))

	var rules []byte
	var sitemapsJSON string
	var delayMs int64
	var fetchedAt time.Time
	if err := row.Scan(&rules, &sitemapsJSON, &delayMs, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("robots: get %s: %w", origin, err)
	}

	var sitemaps []string
	if err := json.Unmarshal([]byte(sitemapsJSON), &sitemaps); err != nil {
		return nil, false, fmt.Errorf("robots: decode sitemaps for %s: %w", origin, err)
	}

	entry := &Entry{
		Sitemaps:  sitemaps,
		Delay:     time.Duration(delayMs) * time.Millisecond,
		FetchedAt: fetchedAt,
	}
	if len(rules) > 0 {
		parsed, err := parseCached(rules)
		if err != nil {
			return nil, false, fmt.Errorf("robots: reparse cached robots.txt for %s: %w", origin, err)
		}
		entry.Data = parsed
		entry.rawRobotsTxt = rules
	}
	return entry, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, origin atraurl.Origin, entry *Entry) error {
	sitemapsJSON, err := json.Marshal(entry.Sitemaps)
	if err != nil {
		return fmt.Errorf("robots: encode sitemaps: %w", err)
	}

	rules := entry.rawRobotsTxt

	const q = `
	INSERT INTO robots_cache (origin, allowed_rules, sitemaps, delay_ms, fetched_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(origin) DO UPDATE SET
		allowed_rules = excluded.allowed_rules,
		sitemaps = excluded.sitemaps,
		delay_ms = excluded.delay_ms,
		fetched_at = excluded.fetched_at
	`
	_, err = s.db.ExecContext(ctx, q, string(origin), rules, string(sitemapsJSON), entry.Delay.Milliseconds(), entry.FetchedAt)
	if err != nil {
		return fmt.Errorf("robots: put %s: %w", origin, err)
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
