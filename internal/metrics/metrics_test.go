package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/broker"
	"github.com/newthinker/tradesim/internal/core"
)

// family returns the gathered metric family with the given name.
func family(t *testing.T, reg *Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labels(m *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, l := range m.GetLabel() {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

func TestRegistry_ImplementsGatherer(t *testing.T) {
	var _ prometheus.Gatherer = NewRegistry()
}

func TestRegistry_RecordRequest_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			reg := NewRegistry()
			reg.RecordRequest("GET", "/metrics", tt.status, 0.01)

			mf := family(t, reg, "http_requests_total")
			if mf == nil || len(mf.GetMetric()) != 1 {
				t.Fatalf("expected one http_requests_total series")
			}
			if got := labels(mf.GetMetric()[0])["status"]; got != tt.expected {
				t.Errorf("status label = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestRegistry_RecordRun(t *testing.T) {
	reg := NewRegistry()
	reg.RecordRun("ma_crossover", 250*time.Millisecond, backtest.Result{TotalReturn: 0.12, MaxDrawdown: 0.08})
	reg.RecordRun("ma_crossover", 50*time.Millisecond, backtest.Result{TotalReturn: -0.02, MaxDrawdown: 0.1})

	runs := family(t, reg, "tradesim_backtests_total")
	if runs == nil || runs.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Errorf("expected 2 runs, got %v", runs)
	}

	hist := family(t, reg, "tradesim_backtest_duration_seconds").GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 2 || hist.GetSampleSum() < 0.29 || hist.GetSampleSum() > 0.31 {
		t.Errorf("unexpected histogram count=%d sum=%v", hist.GetSampleCount(), hist.GetSampleSum())
	}

	last := family(t, reg, "tradesim_last_total_return_ratio").GetMetric()[0].GetGauge().GetValue()
	if last != -0.02 {
		t.Errorf("last return = %v, want the most recent run", last)
	}
}

func TestRegistry_RecordTrade(t *testing.T) {
	reg := NewRegistry()
	reg.RecordTrade("s", broker.OrderSideBuy, "golden cross MA5 > MA20")
	reg.RecordTrade("s", broker.OrderSideSell, string(broker.ExitStopLoss))
	reg.RecordTrade("s", broker.OrderSideSell, string(broker.ExitLiquidation))

	got := map[string]float64{}
	for _, m := range family(t, reg, "tradesim_trades_total").GetMetric() {
		l := labels(m)
		got[l["side"]+"/"+l["reason"]] = m.GetCounter().GetValue()
	}
	want := map[string]float64{"BUY/normal": 1, "SELL/stop_loss": 1, "SELL/liquidation": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v (all: %v)", k, got[k], v, got)
		}
	}
}

func TestRegistry_RejectionsAndSignals(t *testing.T) {
	reg := NewRegistry()
	reg.RecordRejection("s", "CIRCUIT_BREAKER")
	reg.RecordRejection("s", "CIRCUIT_BREAKER")
	reg.RecordSignal("s", core.ActionHold)

	rej := family(t, reg, "tradesim_order_rejections_total").GetMetric()[0]
	if labels(rej)["code"] != "CIRCUIT_BREAKER" || rej.GetCounter().GetValue() != 2 {
		t.Errorf("unexpected rejection series %v", rej)
	}
	sig := family(t, reg, "tradesim_signals_total").GetMetric()[0]
	if labels(sig)["action"] != "hold" {
		t.Errorf("unexpected signal series %v", sig)
	}
}

func TestRegistry_Handler(t *testing.T) {
	reg := NewRegistry()
	reg.RecordRejection("s", "NO_POSITION")

	w := httptest.NewRecorder()
	reg.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `tradesim_order_rejections_total{code="NO_POSITION",strategy="s"} 1`) {
		t.Errorf("rejection counter missing from exposition:\n%s", w.Body.String())
	}

	w = httptest.NewRecorder()
	reg.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", w.Code, w.Body.String())
	}
}
