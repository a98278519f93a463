package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-kpi/internal/model"
)

// ResultCache stores pipeline results by fingerprint. Implementations must
// be safe for concurrent use and must swallow their own storage faults.
type ResultCache interface {
	Get(ctx context.Context, key string) (*model.CacheEntry, bool)
	Put(ctx context.Context, key string, result *model.PipelineResult, snapshot []model.Dataset, ttl time.Duration)
}

// RunRecorder persists a history row per invocation.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *model.Run) error
}

// Options configure a Pipeline.
type Options struct {
	MaxRows    int
	TopN       int
	CacheTTL   time.Duration
	PhaseTable model.PhaseRankTable
	// Runs is optional; when set every invocation is recorded.
	Runs RunRecorder
}

// Source is one dataset plus its merge priority. Higher priorities win
// identity conflicts.
type Source struct {
	Name     string
	Priority int
	Dataset  model.Dataset
}

// Input is one pipeline invocation.
type Input struct {
	Sources []Source
	// PhaseTable overrides Options.PhaseTable when non-empty.
	PhaseTable model.PhaseRankTable
}

// Pipeline runs classification, normalization, merging and aggregation and
// caches the result. It is safe for concurrent use when its cache is.
type Pipeline struct {
	cache ResultCache
	opts  Options
}

// New creates a Pipeline. cache may be nil, which disables caching.
func New(cache ResultCache, opts Options) *Pipeline {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	return &Pipeline{cache: cache, opts: opts}
}

// Run derives KPIs for in. Malformed data never produces an error; only an
// input without sources or a cancelled context does.
func (p *Pipeline) Run(ctx context.Context, in Input) (*model.PipelineResult, error) {
	if len(in.Sources) == 0 {
		return nil, eris.New("pipeline: no sources")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: run")
	}

	table := in.PhaseTable
	if len(table) == 0 {
		table = p.opts.PhaseTable
	}

	key := Fingerprint(in.Sources, table, p.opts)
	log := zap.L().With(zap.String("fingerprint", key), zap.Int("sources", len(in.Sources)))

	if p.cache != nil {
		if entry, ok := p.cache.Get(ctx, key); ok && entry.Result != nil {
			res := entry.Result.Clone()
			res.FromCache = true
			log.Debug("pipeline: cache hit")
			p.record(ctx, res, in.Sources)
			return res, nil
		}
	}

	start := time.Now()
	sources, diag := truncateSources(in.Sources, p.opts.MaxRows)
	if diag.Truncated {
		log.Warn("pipeline: input truncated",
			zap.Int("input_rows", diag.InputRows),
			zap.Int("row_cap", diag.RowCap),
		)
	}

	resolver := NewPhaseResolver(table)
	groups := make([]RecordGroup, 0, len(sources))
	schemas := make([]model.Schema, 0, len(sources))
	sourceSchemas := make(map[string]model.Schema, len(sources))

	for _, src := range sources {
		schema := Classify(src.Dataset.Columns)
		records, dropped := Normalize(src.Dataset, schema)
		for i := range records {
			records[i].Priority = src.Priority
		}
		diag.DroppedRows += dropped
		groups = append(groups, RecordGroup{Priority: src.Priority, Records: records})
		schemas = append(schemas, schema)
		sourceSchemas[src.Name] = schema
	}

	var records []model.NormalizedRecord
	if len(groups) == 1 {
		records = groups[0].Records
	} else {
		records, diag.DuplicateRecords = Merge(groups)
	}
	diag.ProcessedRows = len(records)

	schema := model.Union(schemas...)
	res := &model.PipelineResult{
		Fingerprint:   key,
		Schema:        schema,
		SourceSchemas: sourceSchemas,
		KPIs:          Aggregate(records, schema, resolver, AggregateOptions{TopN: p.opts.TopN}),
		Diagnostics:   diag,
	}

	if p.cache != nil {
		snapshot := make([]model.Dataset, len(sources))
		for i, src := range sources {
			snapshot[i] = src.Dataset
		}
		p.cache.Put(ctx, key, res.Clone(), snapshot, p.opts.CacheTTL)
	}

	log.Info("pipeline: complete",
		zap.Int("records", diag.ProcessedRows),
		zap.Int("dropped", diag.DroppedRows),
		zap.Int("duplicates", diag.DuplicateRecords),
		zap.Int("roles", len(schema.Columns)),
		zap.Duration("elapsed", time.Since(start)),
	)
	p.record(ctx, res, in.Sources)
	return res, nil
}

func (p *Pipeline) record(ctx context.Context, res *model.PipelineResult, sources []Source) {
	if p.opts.Runs == nil {
		return
	}
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Name
	}
	run := &model.Run{
		Fingerprint: res.Fingerprint,
		Sources:     names,
		Diagnostics: res.Diagnostics,
		FromCache:   res.FromCache,
	}
	if err := p.opts.Runs.RecordRun(ctx, run); err != nil {
		zap.L().Warn("pipeline: failed to record run", zap.String("fingerprint", res.Fingerprint), zap.Error(err))
	}
}

// truncateSources applies the row cap as one budget across sources in input
// order, keeping a deterministic prefix. maxRows <= 0 disables the cap.
func truncateSources(sources []Source, maxRows int) ([]Source, model.Diagnostics) {
	var diag model.Diagnostics
	out := make([]Source, len(sources))
	remaining := maxRows

	for i, src := range sources {
		diag.InputRows += src.Dataset.Len()
		out[i] = src
		if maxRows <= 0 {
			continue
		}
		ds, cut := src.Dataset.Truncate(remaining)
		if cut {
			diag.Truncated = true
		}
		out[i].Dataset = ds
		remaining -= ds.Len()
	}

	if diag.Truncated {
		diag.RowCap = maxRows
	}
	return out, diag
}
