package strategy

import (
	"github.com/newthinker/tradesim/internal/core"
)

// Config holds strategy configuration
type Config struct {
	Params map[string]any
}

// SignalSource produces at most one signal per instrument from the bars
// available up to and including the evaluation day. history is ordered by
// date and its last element is the evaluation day; implementations must not
// retain or modify it. A nil signal means there is nothing to do.
//
// Sources are shared across parallel sweep runs and must be safe for
// concurrent use.
type SignalSource interface {
	Name() string
	// Lookback is the minimum number of bars Generate needs.
	Lookback() int
	Generate(history []core.OHLCV, symbol string) (*core.Signal, error)
}

// Configurable is implemented by sources that accept parameters.
type Configurable interface {
	Init(cfg Config) error
}

// Closes extracts closing prices from bars.
func Closes(bars []core.OHLCV) []float64 {
	prices := make([]float64, len(bars))
	for i, bar := range bars {
		prices[i] = bar.Close
	}
	return prices
}

// Volumes extracts volumes from bars.
func Volumes(bars []core.OHLCV) []float64 {
	volumes := make([]float64, len(bars))
	for i, bar := range bars {
		volumes[i] = float64(bar.Volume)
	}
	return volumes
}

// IntParam reads an integer parameter. Config files decode numbers as
// int or float64 depending on the source, so both are accepted.
func IntParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// FloatParam reads a float parameter.
func FloatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// IntsParam reads a list of integers. Any element that is not a number
// rejects the whole list and def is returned.
func IntsParam(params map[string]any, key string, def []int) []int {
	var raw []any
	switch v := params[key].(type) {
	case []int:
		return v
	case []any:
		raw = v
	default:
		return def
	}

	out := make([]int, 0, len(raw))
	for _, item := range raw {
		n := IntParam(map[string]any{key: item}, key, -1)
		if n == -1 {
			return def
		}
		out = append(out, n)
	}
	return out
}
