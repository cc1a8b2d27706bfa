package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"huginn/internal/backtest"
	. "huginn/internal/common"
	"huginn/internal/marketdata"
	"huginn/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	results, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	srv, err := NewServer(Config{
		Source:  marketdata.NewCSVSource(filepath.Join("..", "..", "data")),
		Results: results,
		Risk: backtest.Risk{
			StartingCash:     decimal.NewFromInt(100000),
			PositionFraction: decimal.RequireFromString("0.1"),
		},
	})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createRun(t *testing.T, srv *Server) backtest.Result {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/backtest/runs", map[string]any{
		"strategy": "trend_following",
		"params":   map[string]any{"symbols": []string{"AAPL"}, "short_window": 5, "long_window": 20},
		"risk":     map[string]any{"transaction_cost": "1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Run backtest.Result `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Run
}

func TestServer_CreateAndFetchRun(t *testing.T) {
	srv := newTestServer(t)
	run := createRun(t, srv)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, "trend_following", run.Strategy)
	assert.Equal(t, []string{"AAPL"}, run.Symbols)
	// Request risk overrides only the fields it sets.
	assert.Equal(t, "1", run.Risk.TransactionCost.String())
	assert.Equal(t, "100000", run.Risk.StartingCash.String())
	assert.Equal(t, len(run.Trades), run.Metrics.NumTrades)

	rec := do(t, srv, http.MethodGet, "/api/backtest/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Run backtest.Result `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, run.ID, detail.Run.ID)
	assert.Len(t, detail.Run.Trades, len(run.Trades))
	assert.True(t, run.Metrics.FinalCash.Equal(detail.Run.Metrics.FinalCash))

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs/"+run.ID+"/fills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fills struct {
		Fills []ExecutionReport `json:"fills"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fills))
	require.Len(t, fills.Fills, len(run.Trades))
	for i, fill := range fills.Fills {
		assert.Equal(t, run.Trades[i].OrderID, fill.OrderID)
		assert.Equal(t, run.Trades[i].Side, fill.Side)
		assert.Equal(t, run.ID, fill.Owner)
	}
}

func TestServer_ListRuns(t *testing.T) {
	srv := newTestServer(t)
	first := createRun(t, srv)
	second := createRun(t, srv)
	assert.NotEqual(t, first.ID, second.ID)

	rec := do(t, srv, http.MethodGet, "/api/backtest/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []store.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 2)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 1)

	rec = do(t, srv, http.MethodGet, "/api/backtest/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Errors(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown run", http.MethodGet, "/api/backtest/runs/nope", nil, http.StatusNotFound},
		{"unknown run fills", http.MethodGet, "/api/backtest/runs/nope/fills", nil, http.StatusNotFound},
		{"unknown strategy", http.MethodPost, "/api/backtest/runs",
			map[string]any{"strategy": "martingale", "params": map[string]any{"symbols": []string{"AAPL"}}}, http.StatusBadRequest},
		{"unknown symbol", http.MethodPost, "/api/backtest/runs",
			map[string]any{"strategy": "trend_following", "params": map[string]any{"symbols": []string{"ZZZZ"}, "short_window": 5, "long_window": 20}}, http.StatusBadRequest},
		{"bad risk", http.MethodPost, "/api/backtest/runs",
			map[string]any{
				"strategy": "trend_following",
				"params":   map[string]any{"symbols": []string{"AAPL"}, "short_window": 5, "long_window": 20},
				"risk":     map[string]any{"position_fraction": "2"},
			}, http.StatusBadRequest},
		{"bad lookback", http.MethodPost, "/api/backtest/runs",
			map[string]any{
				"strategy": "trend_following",
				"params":   map[string]any{"symbols": []string{"AAPL"}, "short_window": 5, "long_window": 20},
				"lookback": "forever",
			},
			http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/backtest/runs", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(store.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusOf(NewValidationError("side", "bad")))
	assert.Equal(t, http.StatusBadRequest, statusOf(marketdata.ErrNoData))
	assert.Equal(t, http.StatusBadGateway, statusOf(marketdata.ErrProvider))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}
