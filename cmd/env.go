package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/marketing-kpi/internal/cache"
	"github.com/sells-group/marketing-kpi/internal/config"
	"github.com/sells-group/marketing-kpi/internal/fetcher"
	"github.com/sells-group/marketing-kpi/internal/pipeline"
	"github.com/sells-group/marketing-kpi/internal/store"
)

// kpiEnv holds the store, cache, fetcher and pipeline needed by the kpi,
// serve, cache and runs commands.
type kpiEnv struct {
	Store    store.Store // nil for the memory driver
	Cache    *cache.Cache
	Pipeline *pipeline.Pipeline
	Fetcher  *fetcher.HTTPFetcher
}

// Close releases resources held by the environment.
func (e *kpiEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens the persistent store when one is
// configured, and builds the cache and pipeline. Callers should defer
// env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*kpiEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	phases, err := config.LoadPhaseTable(c.Pipeline.PhaseTablePath)
	if err != nil {
		return nil, err
	}

	env := &kpiEnv{}
	cacheOpts := cache.Options{
		MaxEntries: c.Cache.MaxEntries,
		TTL:        c.Cache.TTL(),
	}
	pipeOpts := pipeline.Options{
		MaxRows:    c.Pipeline.MaxRows,
		TopN:       c.Pipeline.TopN,
		CacheTTL:   c.Cache.TTL(),
		PhaseTable: phases,
	}

	if c.Store.Persistent() {
		st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &c.Store.Pool)
		if err != nil {
			return nil, eris.Wrap(err, "open store")
		}
		env.Store = st
		cacheOpts.Backing = st
		pipeOpts.Runs = st
		zap.L().Info("persistent cache enabled", zap.String("driver", c.Store.Driver))
	}

	env.Cache = cache.New(cacheOpts)
	env.Pipeline = pipeline.New(env.Cache, pipeOpts)
	env.Fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.Fetch.UserAgent,
		Timeout:    time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: c.Fetch.MaxRetries,
		HostRate:   rate.Limit(c.Fetch.HostRate),
	})
	return env, nil
}
