package enginehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"carve/internal/engine"
	"carve/internal/execution"
	"carve/internal/ledger"
	"carve/internal/risk"
	"carve/internal/riskprofile"
	"carve/internal/signal"
)

type fakeEngine struct {
	status    engine.Status
	positions []ledger.Position
	active    []execution.Snapshot
	processed []signal.Signal
	resumed   bool
}

func (f *fakeEngine) Status() engine.Status { return f.status }

func (f *fakeEngine) Positions() []ledger.Position { return f.positions }

func (f *fakeEngine) Executions() []execution.Snapshot { return f.active }

func (f *fakeEngine) Metrics() engine.Metrics { return engine.Metrics{} }

func (f *fakeEngine) Process(sig signal.Signal) { f.processed = append(f.processed, sig) }

func (f *fakeEngine) Resume() { f.resumed = true }

type fakeAudit struct {
	executions []execution.Snapshot
	fills      []execution.FillRecord
	err        error
}

func (f *fakeAudit) ListExecutions(context.Context, int) ([]execution.Snapshot, error) {
	return f.executions, f.err
}

func (f *fakeAudit) ListFills(context.Context, string, int) ([]execution.FillRecord, error) {
	return f.fills, f.err
}

type fakeProfiles struct {
	profiles map[string]riskprofile.Profile
}

func (f *fakeProfiles) Snapshot() riskprofile.Snapshot {
	return riskprofile.Snapshot{Version: 1, LoadedAt: time.Now(), Profiles: f.profiles}
}

func (f *fakeProfiles) Limits(name string) (risk.Limits, error) {
	if p, ok := f.profiles[name]; ok {
		return p.Limits, nil
	}
	return risk.Limits{}, assert.AnError
}

func newTestRouter(eng *fakeEngine, audit AuditAPI, profiles ProfileAPI, limiter *risk.Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	r := NewRouter(eng, audit, profiles)
	r.SetLimiter(limiter)
	r.Register(g.Group("/api"))
	return g
}

func doRequest(g *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	eng := &fakeEngine{status: engine.Status{Running: true, OpenPositions: 2}}
	g := newTestRouter(eng, nil, nil, nil)

	w := doRequest(g, http.MethodGet, "/api/engine/status", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var got engine.Status
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Running)
	assert.Equal(t, 2, got.OpenPositions)
}

func TestPositionsEndpoint(t *testing.T) {
	eng := &fakeEngine{positions: []ledger.Position{{Symbol: "ETHUSDT", Quantity: 3}}}
	g := newTestRouter(eng, nil, nil, nil)

	w := doRequest(g, http.MethodGet, "/api/engine/positions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ETHUSDT")
}

func TestSignalEndpoint(t *testing.T) {
	t.Run("valid payload is accepted", func(t *testing.T) {
		eng := &fakeEngine{}
		g := newTestRouter(eng, nil, nil, nil)

		w := doRequest(g, http.MethodPost, "/api/signals",
			`{"symbol":"ethusdt","side":"BUY","quantity":1,"price":100}`)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Contains(t, w.Body.String(), "signal_id")
		assert.Len(t, eng.processed, 1)
		assert.Equal(t, "ETHUSDT", eng.processed[0].Symbol)
	})

	t.Run("schema violations are rejected up front", func(t *testing.T) {
		eng := &fakeEngine{}
		g := newTestRouter(eng, nil, nil, nil)

		w := doRequest(g, http.MethodPost, "/api/signals", `{"side":"BUY"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, eng.processed)
	})
}

func TestResumeEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	g := newTestRouter(eng, nil, nil, nil)

	w := doRequest(g, http.MethodPost, "/api/engine/resume", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, eng.resumed)
}

func TestExecutionsEndpoint(t *testing.T) {
	t.Run("active only without audit", func(t *testing.T) {
		eng := &fakeEngine{active: []execution.Snapshot{{ID: "e1", Status: execution.StatusActive}}}
		g := newTestRouter(eng, nil, nil, nil)

		w := doRequest(g, http.MethodGet, "/api/engine/executions", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "e1")
		assert.NotContains(t, w.Body.String(), "recent")
	})

	t.Run("audit history merged when configured", func(t *testing.T) {
		eng := &fakeEngine{}
		audit := &fakeAudit{executions: []execution.Snapshot{{ID: "old-1"}}}
		g := newTestRouter(eng, audit, nil, nil)

		w := doRequest(g, http.MethodGet, "/api/engine/executions?limit=10", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "old-1")
	})
}

func TestExecutionFillsEndpoint(t *testing.T) {
	t.Run("without audit store", func(t *testing.T) {
		g := newTestRouter(&fakeEngine{}, nil, nil, nil)
		w := doRequest(g, http.MethodGet, "/api/engine/executions/e1/fills", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("with audit store", func(t *testing.T) {
		audit := &fakeAudit{fills: []execution.FillRecord{{ExecutionID: "e1", Quantity: 2, Price: 100}}}
		g := newTestRouter(&fakeEngine{}, audit, nil, nil)

		w := doRequest(g, http.MethodGet, "/api/engine/executions/e1/fills", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "e1")
	})
}

func TestRiskEndpoints(t *testing.T) {
	limiter := risk.NewLimiter(risk.Limits{MaxPositions: 5, MaxRiskPerTrade: 10000})
	profiles := &fakeProfiles{profiles: map[string]riskprofile.Profile{
		"conservative": {Name: "conservative", Limits: risk.Limits{MaxPositions: 2, MaxRiskPerTrade: 1000}},
	}}
	g := newTestRouter(&fakeEngine{}, nil, profiles, limiter)

	t.Run("limits reflects the live limiter", func(t *testing.T) {
		w := doRequest(g, http.MethodGet, "/api/risk/limits", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var got risk.Limits
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, 5, got.MaxPositions)
	})

	t.Run("profiles listing", func(t *testing.T) {
		w := doRequest(g, http.MethodGet, "/api/risk/profiles", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "conservative")
	})

	t.Run("applying a profile swaps the limits", func(t *testing.T) {
		w := doRequest(g, http.MethodPost, "/api/risk/profile", `{"name":"conservative"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, limiter.Limits().MaxPositions)
	})

	t.Run("unknown profile", func(t *testing.T) {
		w := doRequest(g, http.MethodPost, "/api/risk/profile", `{"name":"nope"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		w := doRequest(g, http.MethodPost, "/api/risk/profile", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRiskEndpointsUnconfigured(t *testing.T) {
	g := newTestRouter(&fakeEngine{}, nil, nil, nil)

	w := doRequest(g, http.MethodGet, "/api/risk/limits", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(g, http.MethodGet, "/api/risk/profiles", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(g, http.MethodPost, "/api/risk/profile", `{"name":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 50, parseLimit("", 50))
	assert.Equal(t, 50, parseLimit("abc", 50))
	assert.Equal(t, 50, parseLimit("-3", 50))
	assert.Equal(t, 25, parseLimit("25", 50))
	assert.Equal(t, 500, parseLimit("9000", 50))
}
