//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketing-kpi/internal/cache"
	"github.com/sells-group/marketing-kpi/internal/config"
	"github.com/sells-group/marketing-kpi/internal/model"
	"github.com/sells-group/marketing-kpi/internal/pipeline"
	"github.com/sells-group/marketing-kpi/internal/store"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:        8080,
		RateLimit:   1000,
		RateBurst:   1000,
		CORSOrigins: []string{"*"},
		MaxBodyMB:   1,
	}
}

// newTestEnv builds an in-memory environment, optionally backed by a
// temporary sqlite store.
func newTestEnv(t *testing.T, persistent bool) *kpiEnv {
	t.Helper()

	env := &kpiEnv{}
	cacheOpts := cache.Options{MaxEntries: 8, TTL: time.Minute}
	pipeOpts := pipeline.Options{MaxRows: 1000, TopN: 5, CacheTTL: time.Minute}
	if persistent {
		st, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "kpi.db"), nil)
		require.NoError(t, err)
		t.Cleanup(env.Close)
		env.Store = st
		cacheOpts.Backing = st
		pipeOpts.Runs = st
	}
	env.Cache = cache.New(cacheOpts)
	env.Pipeline = pipeline.New(env.Cache, pipeOpts)
	return env
}

const adsBody = `{
	"sources": [{
		"name": "ads",
		"rows": [
			{"Data": "05/03/2024", "Criativo": "Video", "Leads": 10, "MQLs": 3, "Investimento": "R$ 100,00"},
			{"Data": "06/03/2024", "Criativo": "Carrossel", "Leads": 5, "MQLs": 1, "Investimento": "R$ 50,00"}
		]
	}]
}`

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) model.PipelineResult {
	t.Helper()
	var res model.PipelineResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func TestBuildRouter_HealthEndpoint(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_KPIs(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	rr := postJSON(t, h, "/api/kpis", adsBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decodeResult(t, rr)
	assert.NotEmpty(t, res.Fingerprint)
	assert.False(t, res.FromCache)
	require.NotNil(t, res.KPIs.Totals.Leads)
	assert.InDelta(t, 15, *res.KPIs.Totals.Leads, 1e-9)
	require.NotNil(t, res.KPIs.Totals.MQLs)
	assert.InDelta(t, 4, *res.KPIs.Totals.MQLs, 1e-9)

	again := decodeResult(t, postJSON(t, h, "/api/kpis", adsBody))
	assert.True(t, again.FromCache)
	assert.Equal(t, res.Fingerprint, again.Fingerprint)
}

func TestBuildRouter_KPIs_BadRequests(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sources": [`},
		{"no sources", `{"sources": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(t, h, "/api/kpis", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBuildRouter_KPIs_BodyTooLarge(t *testing.T) {
	sc := testServerConfig()
	h := buildRouter(newTestEnv(t, false), sc, nil)

	big := `{"sources":[{"name":"x","rows":[{"a":"` + strings.Repeat("x", 2<<20) + `"}]}]}`
	rr := postJSON(t, h, "/api/kpis", big)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_CSVUpload(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	csv := "Nome;Status;Origem\nAna;Novo;Instagram\nBruno;Perdido;Google\n"
	req := httptest.NewRequest(http.MethodPost, "/api/kpis/csv?name=leads.csv", strings.NewReader(csv))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeResult(t, rr)
	assert.Equal(t, 2, res.KPIs.Records)
	assert.Contains(t, res.SourceSchemas, "leads.csv")
}

func TestBuildRouter_FileUpload(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	body := `[{"Nome":"Ana","Status":"Novo"},{"Nome":"Bruno","Status":"Novo"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/kpis/file?name=sults.json", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 2, decodeResult(t, rr).KPIs.Records)

	req = httptest.NewRequest(http.MethodPost, "/api/kpis/file?name=report.pdf", strings.NewReader("%PDF"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_CachedLookupAndInvalidate(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	res := decodeResult(t, postJSON(t, h, "/api/kpis", adsBody))

	req := httptest.NewRequest(http.MethodGet, "/api/kpis/"+res.Fingerprint, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeResult(t, rr).FromCache)

	req = httptest.NewRequest(http.MethodDelete, "/api/cache/"+res.Fingerprint, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/kpis/"+res.Fingerprint, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildRouter_CachedLookupLeavesEntryUntouched(t *testing.T) {
	env := newTestEnv(t, false)
	h := buildRouter(env, testServerConfig(), nil)

	res := decodeResult(t, postJSON(t, h, "/api/kpis", adsBody))

	req := httptest.NewRequest(http.MethodGet, "/api/kpis/"+res.Fingerprint, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	entry, ok := env.Cache.Get(context.Background(), res.Fingerprint)
	require.True(t, ok)
	assert.False(t, entry.Result.FromCache)
}

func TestBuildRouter_CacheStatsAndClear(t *testing.T) {
	env := newTestEnv(t, false)
	h := buildRouter(env, testServerConfig(), nil)

	postJSON(t, h, "/api/kpis", adsBody)
	require.Equal(t, 1, env.Cache.Len())

	req := httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 8, stats.MaxEntries)

	req = httptest.NewRequest(http.MethodDelete, "/api/cache", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 0, env.Cache.Len())
}

func TestBuildRouter_Runs(t *testing.T) {
	h := buildRouter(newTestEnv(t, true), testServerConfig(), nil)

	res := decodeResult(t, postJSON(t, h, "/api/kpis", adsBody))
	postJSON(t, h, "/api/kpis", adsBody)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?fingerprint="+res.Fingerprint+"&limit=10", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, res.Fingerprint, r.Fingerprint)
		assert.Equal(t, []string{"ads"}, r.Sources)
	}
}

func TestBuildRouter_RunsWithoutStore(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildRouter_RateLimit(t *testing.T) {
	sc := testServerConfig()
	sc.RateLimit = 0.001
	sc.RateBurst = 1
	h := buildRouter(newTestEnv(t, false), sc, nil)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health is not rate limited")
}

func TestBuildRouter_CORS(t *testing.T) {
	sc := testServerConfig()
	sc.CORSOrigins = []string{"https://dash.example.com"}
	h := buildRouter(newTestEnv(t, false), sc, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/kpis", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://dash.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusTeapot, "short and stout")

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.JSONEq(t, `{"error":"short and stout"}`, strings.TrimSpace(rr.Body.String()))
}

func TestBuildRouter_PhaseTableInBody(t *testing.T) {
	h := buildRouter(newTestEnv(t, false), testServerConfig(), nil)

	body := map[string]any{
		"sources": []map[string]any{{
			"name": "crm",
			"rows": []map[string]any{
				{"Nome": "Ana", "Fase": "Triagem"},
				{"Nome": "Bruno", "Fase": "Novo Lead"},
			},
		}},
		"phase_table": map[string]int{"Novo Lead": 1, "Triagem": 2},
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/kpis", bytes.NewReader(data))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	phases := decodeResult(t, rr).KPIs.Distributions[model.CategoryPhase]
	require.Len(t, phases, 2)
	assert.Equal(t, "Novo Lead", phases[0].Label)
	assert.Equal(t, 1, phases[0].Rank)
}
