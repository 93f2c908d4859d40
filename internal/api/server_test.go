package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/api/handler"
	"github.com/newthinker/tradesim/internal/api/job"
	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/strategy"
)

type holdSource struct{}

func (holdSource) Name() string  { return "hold" }
func (holdSource) Lookback() int { return 1 }
func (holdSource) Generate([]core.OHLCV, string) (*core.Signal, error) {
	return nil, nil
}

type emptyProvider struct{}

func (emptyProvider) LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, error) {
	return map[string][]core.OHLCV{}, nil
}

func newTestServer(t *testing.T, apiKey string, reg *metrics.Registry) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Backtest.Symbols = []string{"600519.SH"}
	cfg.Backtest.Strategy = "hold"

	strategies := strategy.NewRegistry()
	strategies.Register("hold", func() strategy.SignalSource { return holdSource{} })

	bt, err := backtest.New(cfg.BacktestSettings(), emptyProvider{})
	if err != nil {
		t.Fatal(err)
	}

	backtests := handler.NewBacktestHandler(handler.Deps{
		Jobs:       job.NewStore(10, time.Hour),
		Runner:     bt,
		Strategies: strategies,
		Config:     cfg,
	})

	srv, err := NewServer(Config{Host: "localhost", Port: 8080, APIKey: apiKey}, Dependencies{
		Backtests:  backtests,
		Strategies: strategies,
		Metrics:    reg,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() { backtests.Shutdown(context.Background()) })
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, "secret", nil)

	w := serve(srv, httptest.NewRequest("GET", "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 without key, got %d", w.Code)
	}
}

func TestServer_APIAuth(t *testing.T) {
	srv := newTestServer(t, "test-key", nil)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/strategies", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/strategies", nil)
	req.Header.Set("X-API-Key", "test-key")
	w = serve(srv, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"hold"`) {
		t.Errorf("expected strategy list, got %s", w.Body.String())
	}
}

func TestServer_APIAuth_Disabled(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/backtests", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with disabled auth, got %d", w.Code)
	}
}

func TestServer_BacktestLifecycle(t *testing.T) {
	srv := newTestServer(t, "", nil)

	body := bytes.NewBufferString(`{"start": "2024-01-01", "end": "2024-01-31"}`)
	w := serve(srv, httptest.NewRequest("POST", "/api/v1/backtests", body))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	if created.Data.JobID == "" {
		t.Fatal("expected job_id")
	}

	// No bars: the run completes with a degenerate result.
	var status struct {
		Data struct {
			Status string `json:"status"`
			Result struct {
				Result backtest.Result `json:"result"`
			} `json:"result"`
		} `json:"data"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = serve(srv, httptest.NewRequest("GET", "/api/v1/backtests/"+created.Data.JobID, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		json.Unmarshal(w.Body.Bytes(), &status)
		if status.Data.Status == "complete" || status.Data.Status == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", status.Data.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status.Data.Status != "complete" {
		t.Fatalf("expected complete, got %s", status.Data.Status)
	}
	if status.Data.Result.Result.TradingDays != 0 || status.Data.Result.Result.FinalAssets != 1_000_000 {
		t.Errorf("unexpected result %+v", status.Data.Result.Result)
	}
}

func TestServer_UnknownJob(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/backtests/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := serve(srv, httptest.NewRequest("DELETE", "/api/v1/backtests", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	srv := newTestServer(t, "", reg)

	serve(srv, httptest.NewRequest("GET", "/api/health", nil))
	w := serve(srv, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `http_requests_total{method="GET",path="GET /api/health",status="2xx"} 1`) {
		t.Errorf("health request not recorded:\n%s", w.Body.String())
	}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(Config{}, Dependencies{}, nil); err == nil {
		t.Error("expected error without dependencies")
	}
}
