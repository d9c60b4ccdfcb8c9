package linkstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore is the alternate link-state backend for multi-process
// deployments, generalized from internal/storage/postgres's single
// scrape_results table.
type postgresStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS link_state (
	url TEXT PRIMARY KEY,
	state_type INTEGER NOT NULL,
	unknown_code INTEGER NOT NULL DEFAULT 0,
	timestamp TIMESTAMPTZ NOT NULL,
	payload BYTEA
);
CREATE INDEX IF NOT EXISTS link_state_type_idx ON link_state (state_type);
`

// NewPostgres connects to dsn and returns a Store wrapped with the §7
// recoverable-retry policy.
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("linkstate: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("linkstate: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("linkstate: migrate postgres: %w", err)
	}
	return WithRetry(&postgresStore{pool: pool}), nil
}

func (s *postgresStore) UpdateState(ctx context.Context, url string, typ StateType) error {
	const q = `
	INSERT INTO link_state (url, state_type, unknown_code, timestamp, payload)
	VALUES ($1, $2, 0, $3, NULL)
	ON CONFLICT (url) DO UPDATE SET state_type = excluded.state_type, timestamp = excluded.timestamp
	`
	_, err := s.pool.Exec(ctx, q, url, int(typ), time.Now().UTC())
	if err != nil {
		return classifyPg("update-state", err)
	}
	return nil
}

func (s *postgresStore) Upsert(ctx context.Context, url string, rec Record) error {
	const q = `
	INSERT INTO link_state (url, state_type, unknown_code, timestamp, payload)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (url) DO UPDATE SET
		state_type = excluded.state_type,
		unknown_code = excluded.unknown_code,
		timestamp = excluded.timestamp,
		payload = excluded.payload
	`
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, q, url, int(rec.Type), rec.UnknownCode, ts, rec.Payload)
	if err != nil {
		return classifyPg("upsert", err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, url string) (Record, bool, error) {
	const q = `SELECT state_type, unknown_code, timestamp, payload FROM link_state WHERE url = $1`
	row := s.pool.QueryRow(ctx, q, url)

	var rec Record
	var stateType int
	if err := row.Scan(&stateType, &rec.UnknownCode, &rec.Timestamp, &rec.Payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, classifyPg("get", err)
	}
	rec.Type = StateType(stateType)
	return rec, true, nil
}

func (s *postgresStore) CountState(ctx context.Context, typ StateType) (uint64, error) {
	const q = `SELECT COUNT(*) FROM link_state WHERE state_type = $1`
	var n uint64
	if err := s.pool.QueryRow(ctx, q, int(typ)).Scan(&n); err != nil {
		return 0, classifyPg("count-state", err)
	}
	return n, nil
}

func (s *postgresStore) ScanAnyState(ctx context.Context, types []StateType) (bool, error) {
	if len(types) == 0 {
		return false, nil
	}
	ints := make([]int, len(types))
	for i, t := range types {
		ints[i] = int(t)
	}
	const q = `SELECT 1 FROM link_state WHERE state_type = ANY($1) LIMIT 1`
	var dummy int
	err := s.pool.QueryRow(ctx, q, ints).Scan(&dummy)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classifyPg("scan-any-state", err)
	}
	return true, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

// classifyPg maps a pgx/Postgres error onto a DatabaseKind.
func classifyPg(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return newError(op, KindRecoverableFailure, err)
		case "XX000", "58P01": // internal_error, undefined_file
			return newError(op, KindDamaged, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(op, KindRecoverableFailure, err)
	}
	return newError(op, KindFailure, err)
}
