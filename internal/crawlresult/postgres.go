package crawlresult

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore is the alternate crawl-result backend for multi-process
// deployments, generalized from internal/storage/postgres's single
// scrape_results table.
type postgresStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS crawl_result (
	url TEXT PRIMARY KEY,
	payload JSONB NOT NULL
);
`

// NewPostgresStore connects to dsn and returns a Postgres-backed Store.
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("crawlresult: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("crawlresult: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("crawlresult: migrate postgres: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Add(ctx context.Context, r SlimResult) error {
	payload, err := Encode(r)
	if err != nil {
		return err
	}
	const q = `
	INSERT INTO crawl_result (url, payload) VALUES ($1, $2)
	ON CONFLICT (url) DO UPDATE SET payload = excluded.payload
	`
	if _, err := s.pool.Exec(ctx, q, r.URL, payload); err != nil {
		return fmt.Errorf("crawlresult: add %s: %w", r.URL, err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, url string) (SlimResult, bool, error) {
	const q = `SELECT payload FROM crawl_result WHERE url = $1`
	var payload []byte
	if err := s.pool.QueryRow(ctx, q, url).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (s *postgresStore) All(ctx context.Context) ([]SlimResult, error) {
	const q = `SELECT payload FROM crawl_result`
	rows, err := s.pool.Query(ctx, q)
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

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
