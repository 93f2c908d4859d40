package alert

import (
	"sort"

	"github.com/newthinker/tradesim/internal/backtest"
)

// Metrics exposes a run's result under the names rules refer to.
func Metrics(run *backtest.Run) map[string]float64 {
	r := run.Result
	return map[string]float64{
		"total_return":   r.TotalReturn,
		"annual_return":  r.AnnualReturn,
		"max_drawdown":   r.MaxDrawdown,
		"sharpe_ratio":   r.SharpeRatio,
		"win_rate":       r.WinRate,
		"total_trades":   float64(r.TotalTrades),
		"winning_trades": float64(r.WinningTrades),
		"losing_trades":  float64(r.LosingTrades),
		"trading_days":   float64(r.TradingDays),
		"final_assets":   r.FinalAssets,
		"rejections":     float64(len(run.Rejections)),
	}
}

// MetricNames lists the names available to rules, sorted.
func MetricNames() []string {
	names := make([]string, 0, 11)
	for name := range Metrics(&backtest.Run{}) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func knownMetric(name string) bool {
	_, ok := Metrics(&backtest.Run{})[name]
	return ok
}

// Evaluator checks runs against a fixed rule set.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator validates rules up front so a typo fails at startup rather
// than silently never firing.
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &Evaluator{rules: rules}, nil
}

// Evaluate returns the formatted message of every rule run triggers, in
// rule order.
func (e *Evaluator) Evaluate(run *backtest.Run) []string {
	metrics := Metrics(run)
	var fired []string
	for _, rule := range e.rules {
		if rule.Evaluate(metrics) {
			fired = append(fired, rule.FormatMessage(metrics))
		}
	}
	return fired
}
