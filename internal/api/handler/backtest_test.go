package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradesim/internal/alert"
	"github.com/newthinker/tradesim/internal/api/job"
	"github.com/newthinker/tradesim/internal/api/response"
	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/notifier"
	"github.com/newthinker/tradesim/internal/strategy"
)

type mockSource struct {
	params map[string]any
}

func (m *mockSource) Name() string  { return "mock" }
func (m *mockSource) Lookback() int { return 1 }
func (m *mockSource) Generate(history []core.OHLCV, symbol string) (*core.Signal, error) {
	return nil, nil
}
func (m *mockSource) Init(cfg strategy.Config) error {
	if _, ok := cfg.Params["bad"]; ok {
		return errors.New("bad param")
	}
	m.params = cfg.Params
	return nil
}

// fakeRunner records requests and blocks until release is closed, if set.
type fakeRunner struct {
	mu      sync.Mutex
	reqs    []backtest.RunRequest
	err     error
	release chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req backtest.RunRequest) (*backtest.Run, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &backtest.Run{
		Strategy: req.Source.Name(),
		Symbols:  req.Symbols,
		Start:    req.Start,
		End:      req.End,
		Result: backtest.Result{
			InitialCapital: 1_000_000,
			FinalAssets:    1_100_000,
			TotalReturn:    0.1,
			MaxDrawdown:    0.25,
			TradingDays:    3,
		},
	}, nil
}

func newTestHandler(t *testing.T, runner Runner, mutate func(*Deps)) *BacktestHandler {
	t.Helper()
	cfg := config.Defaults()
	cfg.Backtest.Symbols = []string{"600519.SH"}
	cfg.Backtest.Strategy = "mock"
	cfg.Strategies = map[string]config.StrategyConfig{
		"mock": {Params: map[string]any{"period": 5, "fast": 2}},
	}

	reg := strategy.NewRegistry()
	reg.Register("mock", func() strategy.SignalSource { return &mockSource{} })

	deps := Deps{
		Jobs:       job.NewStore(10, time.Hour),
		Runner:     runner,
		Strategies: reg,
		Config:     cfg,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h := NewBacktestHandler(deps)
	t.Cleanup(func() { h.Shutdown(context.Background()) })
	return h
}

func post(h *BacktestHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Create(w, req)
	return w
}

func jobID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	return data["job_id"].(string)
}

func waitDone(t *testing.T, store *job.Store, id string) job.Job {
	t.Helper()
	var j job.Job
	require.Eventually(t, func() bool {
		var err error
		j, err = store.Get(id)
		return err == nil && j.Status.Done()
	}, 2*time.Second, 5*time.Millisecond)
	return j
}

func TestBacktestHandler_Create(t *testing.T) {
	runner := &fakeRunner{}
	var (
		mu       sync.Mutex
		notified []notifier.Summary
	)
	evaluator, err := alert.NewEvaluator([]alert.Rule{
		{Name: "dd", Expr: "max_drawdown > 0.2", Severity: "warning", Message: "deep"},
	})
	require.NoError(t, err)

	h := newTestHandler(t, runner, func(d *Deps) {
		d.Alerts = evaluator
		d.Notify = func(ctx context.Context, s notifier.Summary) {
			mu.Lock()
			notified = append(notified, s)
			mu.Unlock()
		}
	})

	w := post(h, `{
		"symbols": ["000001.SZ"],
		"start": "2023-01-01",
		"end": "2024-01-01",
		"params": {"period": 10}
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Data.(map[string]any)["status"])

	j := waitDone(t, h.deps.Jobs, jobID(t, w))
	require.Equal(t, job.StatusComplete, j.Status)
	outcome := j.Result.(Outcome)
	assert.Equal(t, "mock", outcome.Strategy)
	assert.Equal(t, []string{"000001.SZ"}, outcome.Symbols)
	assert.Equal(t, "2023-01-01", outcome.Start)
	assert.InDelta(t, 0.1, outcome.Result.TotalReturn, 1e-9)
	require.Len(t, outcome.Alerts, 1)
	assert.Contains(t, outcome.Alerts[0], "[WARNING] dd: deep")

	runner.mu.Lock()
	src := runner.reqs[0].Source.(*mockSource)
	runner.mu.Unlock()
	assert.Equal(t, 10.0, src.params["period"], "request params override config")
	assert.Equal(t, 2, src.params["fast"], "config params are kept")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, outcome.RunID, notified[0].RunID)
}

func TestBacktestHandler_Create_ConfigDefaults(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestHandler(t, runner, nil)
	h.now = func() time.Time { return time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC) }

	w := post(h, `{}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	waitDone(t, h.deps.Jobs, jobID(t, w))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	req := runner.reqs[0]
	assert.Equal(t, []string{"600519.SH"}, req.Symbols)
	assert.Equal(t, time.Date(2023, 5, 10, 0, 0, 0, 0, time.UTC), req.Start)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), req.End)
}

func TestBacktestHandler_Create_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{"symbols": `, "CONFIG_INVALID"},
		{"invalid date", `{"start": "invalid-date"}`, "CONFIG_INVALID"},
		{"reversed period", `{"start": "2024-02-01", "end": "2024-01-01"}`, "CONFIG_INVALID"},
		{"unknown strategy", `{"strategy": "nonexistent"}`, "UNKNOWN_STRATEGY"},
		{"bad params", `{"params": {"bad": true}}`, "CONFIG_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeRunner{}, nil)
			w := post(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp response.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Zero(t, h.deps.Jobs.Len(), "no job for a rejected request")
		})
	}
}

func TestBacktestHandler_Create_NoSymbols(t *testing.T) {
	h := newTestHandler(t, &fakeRunner{}, func(d *Deps) {
		d.Config.Backtest.Symbols = nil
	})

	w := post(h, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBacktestHandler_RunFailure(t *testing.T) {
	runner := &fakeRunner{err: core.Errorf(core.ErrNoData, "no bars")}
	h := newTestHandler(t, runner, nil)

	w := post(h, `{}`)
	id := jobID(t, w)
	waitDone(t, h.deps.Jobs, id)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest("GET", "/api/v1/backtests/"+id, nil), id)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Status string               `json:"status"`
			Error  response.ErrorDetail `json:"error"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Data.Status)
	assert.Equal(t, "NO_DATA", resp.Data.Error.Code)
}

func TestBacktestHandler_GetStatus_NotFound(t *testing.T) {
	h := newTestHandler(t, &fakeRunner{}, nil)

	w := httptest.NewRecorder()
	h.GetStatus(w, httptest.NewRequest("GET", "/api/v1/backtests/nonexistent", nil), "nonexistent")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBacktestHandler_List(t *testing.T) {
	h := newTestHandler(t, &fakeRunner{}, nil)
	waitDone(t, h.deps.Jobs, jobID(t, post(h, `{}`)))
	waitDone(t, h.deps.Jobs, jobID(t, post(h, `{}`)))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest("GET", "/api/v1/backtests", nil))

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestBacktestHandler_ShutdownCancelsRunningJobs(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	h := newTestHandler(t, runner, nil)

	id := jobID(t, post(h, `{}`))
	require.Eventually(t, func() bool {
		j, _ := h.deps.Jobs.Get(id)
		return j.Status == job.StatusRunning
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Shutdown(ctx), context.DeadlineExceeded)

	j, err := h.deps.Jobs.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, "RUN_FAILED", j.Error.Code)
}
