package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as unix milliseconds so expiry comparisons are
// numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	sources     TEXT NOT NULL,
	diagnostics TEXT NOT NULL,
	from_cache  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCachedResult(ctx context.Context, key string) (*CachedResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, payload, created_at, expires_at FROM result_cache WHERE key = ?`,
		key,
	)

	var cr CachedResult
	var createdAt, expiresAt int64
	err := row.Scan(&cr.Key, &cr.Payload, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached result")
	}
	cr.CreatedAt = time.UnixMilli(createdAt).UTC()
	cr.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &cr, nil
}

func (s *SQLiteStore) SetCachedResult(ctx context.Context, entry CachedResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO result_cache (key, payload, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		entry.Key, entry.Payload, entry.CreatedAt.UnixMilli(), entry.ExpiresAt.UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: set cached result")
}

func (s *SQLiteStore) DeleteCachedResult(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM result_cache WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete cached result %s", key)
}

func (s *SQLiteStore) DeleteAllCachedResults(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM result_cache`)
	return eris.Wrap(err, "sqlite: delete all cached results")
}

func (s *SQLiteStore) DeleteExpiredResults(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM result_cache WHERE expires_at <= ?`,
		now.UnixMilli(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired results")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run *model.Run) error {
	fillRun(run)

	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}
	diagJSON, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal diagnostics")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, fingerprint, sources, diagnostics, from_cache, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Fingerprint, string(sourcesJSON), string(diagJSON), run.FromCache, run.CreatedAt.UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, fingerprint, sources, diagnostics, from_cache, created_at FROM runs WHERE 1=1`
	var args []any

	if filter.Fingerprint != "" {
		query += ` AND fingerprint = ?`
		args = append(args, filter.Fingerprint)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var sourcesJSON, diagJSON string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Fingerprint, &sourcesJSON, &diagJSON, &r.FromCache, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := decodeRun(&r, []byte(sourcesJSON), []byte(diagJSON)); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode run")
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

// fillRun assigns an ID and timestamp to runs that lack them.
func fillRun(run *model.Run) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
}

func decodeRun(r *model.Run, sourcesJSON, diagJSON []byte) error {
	if err := json.Unmarshal(sourcesJSON, &r.Sources); err != nil {
		return err
	}
	return json.Unmarshal(diagJSON, &r.Diagnostics)
}
