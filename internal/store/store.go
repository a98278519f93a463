package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CachedResult is a serialized cache entry. Expiry is enforced by the
// caller; stores return rows regardless of ExpiresAt.
type CachedResult struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for cached results and run history.
type Store interface {
	// Result cache
	GetCachedResult(ctx context.Context, key string) (*CachedResult, error)
	SetCachedResult(ctx context.Context, entry CachedResult) error
	DeleteCachedResult(ctx context.Context, key string) error
	DeleteAllCachedResults(ctx context.Context) error
	DeleteExpiredResults(ctx context.Context, now time.Time) (int, error)

	// Runs
	RecordRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store named by driver and runs migrations. The
// memory driver has no store; callers check for it before calling Open.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case DriverSQLite:
		st, err = NewSQLite(dsn)
	case DriverPostgres:
		st, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

const defaultListLimit = 100

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return defaultListLimit
	}
	return filter.Limit
}
