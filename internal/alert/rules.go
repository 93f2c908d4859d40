// Package alert checks finished runs against threshold rules such as
// "max_drawdown > 0.2" so notifications can call out runs that need a look.
package alert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/newthinker/tradesim/internal/core"
)

// Rule defines a single alert rule.
type Rule struct {
	Name     string `mapstructure:"name"`
	Expr     string `mapstructure:"expr"`
	Severity string `mapstructure:"severity"`
	Message  string `mapstructure:"message"`
}

// Simple expression grammar: "metric op value".
// Supports: >, <, >=, <=, ==, !=
var exprPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)$`)

type condition struct {
	metric    string
	op        string
	threshold float64
}

func (r *Rule) parse() (condition, error) {
	matches := exprPattern.FindStringSubmatch(strings.TrimSpace(r.Expr))
	if len(matches) != 4 {
		return condition{}, core.Errorf(core.ErrConfigInvalid, "alert %s: cannot parse %q", r.Name, r.Expr)
	}
	threshold, err := strconv.ParseFloat(matches[3], 64)
	if err != nil {
		return condition{}, core.Errorf(core.ErrConfigInvalid, "alert %s: threshold %q", r.Name, matches[3])
	}
	return condition{metric: matches[1], op: matches[2], threshold: threshold}, nil
}

// Validate fails when the expression cannot be parsed or names a metric
// that runs do not report.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return core.Errorf(core.ErrConfigInvalid, "alert rule without a name")
	}
	c, err := r.parse()
	if err != nil {
		return err
	}
	if !knownMetric(c.metric) {
		return core.Errorf(core.ErrConfigInvalid, "alert %s: unknown metric %q (known: %s)",
			r.Name, c.metric, strings.Join(MetricNames(), ", "))
	}
	return nil
}

// Evaluate evaluates the rule expression against metrics. Unparsable
// expressions and missing metrics never match.
func (r *Rule) Evaluate(metrics map[string]float64) bool {
	c, err := r.parse()
	if err != nil {
		return false
	}

	value, exists := metrics[c.metric]
	if !exists {
		return false
	}

	switch c.op {
	case ">":
		return value > c.threshold
	case "<":
		return value < c.threshold
	case ">=":
		return value >= c.threshold
	case "<=":
		return value <= c.threshold
	case "==":
		return value == c.threshold
	case "!=":
		return value != c.threshold
	default:
		return false
	}
}

// FormatMessage formats the alert message with the observed metric value.
func (r *Rule) FormatMessage(metrics map[string]float64) string {
	msg := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(r.Severity), r.Name, r.Message)
	if c, err := r.parse(); err == nil {
		if v, ok := metrics[c.metric]; ok {
			msg += fmt.Sprintf(" (%s = %.4g)", c.metric, v)
		}
	}
	return msg
}
