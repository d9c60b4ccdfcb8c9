package linkstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	_ "modernc.org/sqlite"
)

// sqliteStore is the default link-state backend: one table, one row per
// URL, generalized from internal/storage/sqlite's single-table-per-concern
// layout.
type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS link_state (
	url TEXT PRIMARY KEY,
	state_type INTEGER NOT NULL,
	unknown_code INTEGER NOT NULL DEFAULT 0,
	timestamp DATETIME NOT NULL,
	payload BLOB
);
CREATE INDEX IF NOT EXISTS link_state_type_idx ON link_state (state_type);
`

// NewSQLite opens (creating if absent) a SQLite-backed link-state Store
// at dsn, wrapped with the §7 recoverable-retry policy.
func NewSQLite(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("linkstate: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("linkstate: migrate sqlite: %w", err)
	}
	return WithRetry(&sqliteStore{db: db}), nil
}

func (s *sqliteStore) UpdateState(ctx context.Context, url string, typ StateType) error {
	const q = `
	INSERT INTO link_state (url, state_type, unknown_code, timestamp, payload)
	VALUES (?, ?, 0, ?, NULL)
	ON CONFLICT(url) DO UPDATE SET state_type = excluded.state_type, timestamp = excluded.timestamp
	`
	_, err := s.db.ExecContext(ctx, q, url, int(typ), time.Now().UTC())
	if err != nil {
		return classify("update-state", err)
	}
	return nil
}

func (s *sqliteStore) Upsert(ctx context.Context, url string, rec Record) error {
	const q = `
	INSERT INTO link_state (url, state_type, unknown_code, timestamp, payload)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		state_type = excluded.state_type,
		unknown_code = excluded.unknown_code,
		timestamp = excluded.timestamp,
		payload = excluded.payload
	`
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, q, url, int(rec.Type), rec.UnknownCode, ts, rec.Payload)
	if err != nil {
		return classify("upsert", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, url string) (Record, bool, error) {
	const q = `SELECT state_type, unknown_code, timestamp, payload FROM link_state WHERE url = ?`
	row := s.db.QueryRowContext(ctx, q, url)

	var rec Record
	var stateType int
	if err := row.Scan(&stateType, &rec.UnknownCode, &rec.Timestamp, &rec.Payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, classify("get", err)
	}
	rec.Type = StateType(stateType)
	return rec, true, nil
}

func (s *sqliteStore) CountState(ctx context.Context, typ StateType) (uint64, error) {
	const q = `SELECT COUNT(*) FROM link_state WHERE state_type = ?`
	var n uint64
	if err := s.db.QueryRowContext(ctx, q, int(typ)).Scan(&n); err != nil {
		return 0, classify("count-state", err)
	}
	return n, nil
}

func (s *sqliteStore) ScanAnyState(ctx context.Context, types []StateType) (bool, error) {
	if len(types) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	q := fmt.Sprintf(`SELECT 1 FROM link_state WHERE state_type IN (%s) LIMIT 1`, placeholders)
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = int(t)
	}
	var dummy int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("scan-any-state", err)
	}
	return true, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// classify maps a modernc.org/sqlite driver error onto a DatabaseKind so
// callers (via WithRetry) know whether a retry is worthwhile.
func classify(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_INTERRUPT:
			return newError(op, KindRecoverableFailure, err)
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return newError(op, KindDamaged, err)
		}
	}
	return newError(op, KindFailure, err)
}
