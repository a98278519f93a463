package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/marketing-kpi/internal/cache"
	"github.com/sells-group/marketing-kpi/internal/config"
	"github.com/sells-group/marketing-kpi/internal/fetcher"
	"github.com/sells-group/marketing-kpi/internal/model"
	"github.com/sells-group/marketing-kpi/internal/pipeline"
	"github.com/sells-group/marketing-kpi/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the KPI HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env, cfg.Server, cfg.Pipeline.Sheets),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// api serves the KPI endpoints over one environment.
type api struct {
	pipeline *pipeline.Pipeline
	cache    *cache.Cache
	runs     store.Store // nil without a persistent store
	maxBody  int64
	sheets   []string
}

// sourceRequest is one dataset in a POST /api/kpis body. Columns may be
// omitted, in which case they are taken from the rows.
type sourceRequest struct {
	Name     string                       `json:"name"`
	Priority *int                         `json:"priority,omitempty"`
	Columns  []string                     `json:"columns,omitempty"`
	Rows     []map[string]json.RawMessage `json:"rows"`
}

type kpiRequest struct {
	Sources    []sourceRequest      `json:"sources"`
	PhaseTable model.PhaseRankTable `json:"phase_table,omitempty"`
}

// buildRouter wires middleware and routes. env.Store may be nil.
func buildRouter(env *kpiEnv, sc config.ServerConfig, sheets []string) http.Handler {
	a := &api{
		pipeline: env.Pipeline,
		cache:    env.Cache,
		runs:     env.Store,
		maxBody:  int64(sc.MaxBodyMB) << 20,
		sheets:   sheets,
	}
	if a.maxBody <= 0 {
		a.maxBody = fetcher.MaxInputBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: sc.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(sc.RateLimit), sc.RateBurst)))

		r.Post("/kpis", a.handleKPIs)
		r.Post("/kpis/csv", a.handleCSV)
		r.Post("/kpis/file", a.handleFile)
		r.Get("/kpis/{fingerprint}", a.handleCached)

		r.Get("/cache/stats", a.handleCacheStats)
		r.Delete("/cache/{fingerprint}", a.handleInvalidate)
		r.Delete("/cache", a.handleInvalidateAll)

		r.Get("/runs", a.handleRuns)
	})

	return r
}

func (a *api) handleKPIs(w http.ResponseWriter, r *http.Request) {
	var req kpiRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Sources) == 0 {
		writeError(w, http.StatusBadRequest, "at least one source is required")
		return
	}

	sources := make([]pipeline.Source, 0, len(req.Sources))
	for i, s := range req.Sources {
		name := s.Name
		if name == "" {
			name = "source-" + strconv.Itoa(i+1)
		}
		priority := i + 1
		if s.Priority != nil {
			priority = *s.Priority
		}
		sources = append(sources, pipeline.Source{
			Name:     name,
			Priority: priority,
			Dataset:  fetcher.RecordsDataset(name, s.Columns, s.Rows),
		})
	}

	a.run(w, r, pipeline.Input{Sources: sources, PhaseTable: req.PhaseTable})
}

func (a *api) handleCSV(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.csv"
	}
	ds, err := fetcher.ReadCSV(r.Context(), name, http.MaxBytesReader(w, r.Body, a.maxBody), fetcher.CSVOptions{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid csv body")
		return
	}
	a.run(w, r, pipeline.Input{Sources: []pipeline.Source{{Name: name, Priority: 1, Dataset: ds}}})
}

// handleFile accepts a raw XLSX, CSV, JSON or ZIP body whose format is
// given by the name query parameter's extension.
func (a *api) handleFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if _, err := fetcher.DetectFormat(name); err != nil {
		writeError(w, http.StatusBadRequest, "name must end in .csv, .xlsx, .json or .zip")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	datasets, err := fetcher.LoadBytes(r.Context(), name, data, fetcher.LoadOptions{Sheets: a.sheets})
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not parse "+name)
		return
	}
	if len(datasets) == 0 {
		writeError(w, http.StatusBadRequest, "file contains no datasets")
		return
	}

	sources := make([]pipeline.Source, 0, len(datasets))
	for i, ds := range datasets {
		sources = append(sources, pipeline.Source{Name: ds.Name, Priority: i + 1, Dataset: ds})
	}
	a.run(w, r, pipeline.Input{Sources: sources})
}

func (a *api) run(w http.ResponseWriter, r *http.Request, in pipeline.Input) {
	res, err := a.pipeline.Run(r.Context(), in)
	if err != nil {
		zap.L().Error("kpi request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pipeline failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleCached(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.cache.Get(r.Context(), chi.URLParam(r, "fingerprint"))
	if !ok || entry.Result == nil {
		writeError(w, http.StatusNotFound, "no cached result")
		return
	}
	res := entry.Result.Clone()
	res.FromCache = true
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cache.Stats())
}

func (a *api) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	a.cache.Invalidate(r.Context(), chi.URLParam(r, "fingerprint"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	a.cache.InvalidateAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRuns(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		writeError(w, http.StatusNotFound, "run history requires a persistent store")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := a.runs.ListRuns(r.Context(), store.RunFilter{
		Fingerprint: q.Get("fingerprint"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// rateLimit rejects requests beyond the limiter's rate with 429.
func rateLimit(lim *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
