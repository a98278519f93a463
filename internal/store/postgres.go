package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock pools satisfy
// it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	key        TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	fingerprint TEXT NOT NULL,
	sources     JSONB NOT NULL,
	diagnostics JSONB NOT NULL,
	from_cache  BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetCachedResult(ctx context.Context, key string) (*CachedResult, error) {
	var cr CachedResult
	err := s.pool.QueryRow(ctx,
		`SELECT key, payload, created_at, expires_at FROM result_cache WHERE key = $1`,
		key,
	).Scan(&cr.Key, &cr.Payload, &cr.CreatedAt, &cr.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached result")
	}
	return &cr, nil
}

func (s *PostgresStore) SetCachedResult(ctx context.Context, entry CachedResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO result_cache (key, payload, created_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET payload = $2, created_at = $3, expires_at = $4`,
		entry.Key, entry.Payload, entry.CreatedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	return eris.Wrap(err, "postgres: set cached result")
}

func (s *PostgresStore) DeleteCachedResult(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM result_cache WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: delete cached result %s", key)
}

func (s *PostgresStore) DeleteAllCachedResults(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM result_cache`)
	return eris.Wrap(err, "postgres: delete all cached results")
}

func (s *PostgresStore) DeleteExpiredResults(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM result_cache WHERE expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired results")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, run *model.Run) error {
	fillRun(run)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, fingerprint, sources, diagnostics, from_cache, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Fingerprint, run.Sources, run.Diagnostics, run.FromCache, run.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, fingerprint, sources, diagnostics, from_cache, created_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Fingerprint != "" {
		query += fmt.Sprintf(` AND fingerprint = $%d`, argIdx)
		args = append(args, filter.Fingerprint)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var sourcesJSON, diagJSON []byte
		if err := rows.Scan(&r.ID, &r.Fingerprint, &sourcesJSON, &diagJSON, &r.FromCache, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := decodeRun(&r, sourcesJSON, diagJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: decode run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
