package crawlresult

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the durable backend behind the crawl-result map.
type Store interface {
	// Add upserts a slim result, replacing any prior record for the
	// same URL.
	Add(ctx context.Context, r SlimResult) error

	// Get returns the slim result for url, or ok=false if none exists.
	Get(ctx context.Context, url string) (r SlimResult, ok bool, err error)

	// All returns every slim result currently stored, for report
	// generation and export.
	All(ctx context.Context) ([]SlimResult, error)

	Close() error
}

type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_result (
	url TEXT PRIMARY KEY,
	payload BLOB NOT NULL
);
`

// NewSQLiteStore opens (creating if absent) a SQLite-backed crawl-result
// Store at dsn, generalized from internal/storage/sqlite's
// single-table-per-concern layout.
func NewSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("crawlresult: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("crawlresult: migrate sqlite: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Add(ctx context.Context, r SlimResult) error {
	payload, err := Encode(r)
	if err != nil {
		return err
	}
	const q = `
	INSERT INTO crawl_result (url, payload) VALUES (?, ?)
	ON CONFLICT(url) DO UPDATE SET payload = excluded.payload
	`
	if _, err := s.db.ExecContext(ctx, q, r.URL, payload); err != nil {
		return fmt.Errorf("crawlresult: add %s: %w", r.URL, err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, url string) (SlimResult, bool, error) {
	const q = `SELECT payload FROM crawl_result WHERE url = ?`
	var payload []byte
	if err := s.db.QueryRowContext(ctx, q, url).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SlimResult{}, false, nil
		}
		return SlimResult{}, false, fmt.Errorf("crawlresult: get %s: %w", url, err)
	}
	r, err := Decode(payload)
	if err != nil {
		return SlimResult{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) All(ctx context.Context) ([]SlimResult, error) {
	const q = `SELECT payload FROM crawl_result`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("crawlresult: all: %w", err)
	}
	defer rows.Close()

	var out []SlimResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("crawlresult: all: scan: %w", err)
		}
		r, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crawlresult: all: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
