package alert

import (
	"errors"
	"strings"
	"testing"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/core"
)

func testRun() *backtest.Run {
	return &backtest.Run{
		Result: backtest.Result{
			TotalReturn: -0.12,
			MaxDrawdown: 0.25,
			SharpeRatio: -0.4,
			TotalTrades: 14,
		},
		Rejections: make([]backtest.OrderEvent, 3),
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	eval, err := NewEvaluator([]Rule{
		{Name: "deep_drawdown", Expr: "max_drawdown > 0.2", Severity: "critical", Message: "Drawdown above 20%"},
		{Name: "losing_run", Expr: "total_return < -0.1", Severity: "warning", Message: "Lost more than 10%"},
		{Name: "idle", Expr: "total_trades == 0", Severity: "info", Message: "No trades"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fired := eval.Evaluate(testRun())

	if len(fired) != 2 {
		t.Fatalf("expected 2 alerts, got %d: %v", len(fired), fired)
	}
	if !strings.HasPrefix(fired[0], "[CRITICAL] deep_drawdown") {
		t.Errorf("unexpected first alert %q", fired[0])
	}
	if !strings.Contains(fired[1], "total_return = -0.12") {
		t.Errorf("expected observed value in %q", fired[1])
	}
}

func TestEvaluator_RuleNotTriggered(t *testing.T) {
	eval, err := NewEvaluator([]Rule{{Name: "r", Expr: "rejections > 5", Severity: "warning"}})
	if err != nil {
		t.Fatal(err)
	}
	if fired := eval.Evaluate(testRun()); len(fired) != 0 {
		t.Errorf("expected no alerts, got %v", fired)
	}
}

func TestNewEvaluator_RejectsBadRules(t *testing.T) {
	tests := []Rule{
		{Name: "", Expr: "max_drawdown > 0.2"},
		{Name: "bad_expr", Expr: "max_drawdown is big"},
		{Name: "unknown_metric", Expr: "error_rate > 0.05"},
	}
	for _, rule := range tests {
		t.Run(rule.Name, func(t *testing.T) {
			_, err := NewEvaluator([]Rule{rule})
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestRule_Evaluate(t *testing.T) {
	tests := []struct {
		expr     string
		metrics  map[string]float64
		expected bool
	}{
		{"max_drawdown > 0.05", map[string]float64{"max_drawdown": 0.10}, true},
		{"max_drawdown > 0.05", map[string]float64{"max_drawdown": 0.01}, false},
		{"total_trades == 0", map[string]float64{"total_trades": 0}, true},
		{"total_trades == 0", map[string]float64{"total_trades": 1}, false},
		{"total_trades >= 10", map[string]float64{"total_trades": 10}, true},
		{"total_trades >= 10", map[string]float64{"total_trades": 9}, false},
		{"win_rate <= 0.5", map[string]float64{"win_rate": 0.5}, true},
		{"win_rate <= 0.5", map[string]float64{"win_rate": 0.6}, false},
		{"rejections != 0", map[string]float64{"rejections": 2}, true},
		{"rejections != 0", map[string]float64{"rejections": 0}, false},
		{"total_return < -0.1", map[string]float64{"total_return": -0.2}, true},
		{"total_return < -0.1", map[string]float64{"total_return": 0.05}, false},
		{"missing > 0", map[string]float64{}, false}, // missing metric
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			rule := Rule{Expr: tt.expr}
			result := rule.Evaluate(tt.metrics)
			if result != tt.expected {
				t.Errorf("expr %q with metrics %v: expected %v, got %v",
					tt.expr, tt.metrics, tt.expected, result)
			}
		})
	}
}

func TestRule_FormatMessage(t *testing.T) {
	rule := Rule{
		Name:     "high_drawdown",
		Expr:     "max_drawdown > 0.2",
		Severity: "warning",
		Message:  "Drawdown above 20%",
	}

	msg := rule.FormatMessage(map[string]float64{})
	if msg != "[WARNING] high_drawdown: Drawdown above 20%" {
		t.Errorf("unexpected message: %s", msg)
	}

	msg = rule.FormatMessage(map[string]float64{"max_drawdown": 0.25})
	if msg != "[WARNING] high_drawdown: Drawdown above 20% (max_drawdown = 0.25)" {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestMetricNames(t *testing.T) {
	names := MetricNames()
	if len(names) != 11 || names[0] != "annual_return" {
		t.Errorf("unexpected names %v", names)
	}
}
