package rsi_reversal

import (
	"fmt"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/indicator"
	"github.com/newthinker/tradesim/internal/strategy"
)

// Name is the registry name of this strategy.
const Name = "rsi_reversal"

// RSIReversal buys oversold and sells overbought instruments.
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
}

// New creates an RSI reversal strategy.
func New(period int, oversold, overbought float64) *RSIReversal {
	return &RSIReversal{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
	}
}

// Factory returns a registry factory with RSI(14) and 30/70 thresholds.
func Factory() strategy.SignalSource {
	return New(14, 30, 70)
}

func (r *RSIReversal) Name() string {
	return Name
}

func (r *RSIReversal) Lookback() int {
	return r.period + 1
}

func (r *RSIReversal) Init(cfg strategy.Config) error {
	r.period = strategy.IntParam(cfg.Params, "period", r.period)
	r.oversold = strategy.FloatParam(cfg.Params, "oversold", r.oversold)
	r.overbought = strategy.FloatParam(cfg.Params, "overbought", r.overbought)
	if r.period <= 0 || r.oversold <= 0 || r.overbought >= 100 || r.oversold >= r.overbought {
		return core.Errorf(core.ErrConfigInvalid,
			"rsi_reversal period %d thresholds %.1f/%.1f", r.period, r.oversold, r.overbought)
	}
	return nil
}

func (r *RSIReversal) Generate(history []core.OHLCV, symbol string) (*core.Signal, error) {
	if len(history) < r.Lookback() {
		return nil, nil
	}

	rsi, ok := indicator.Last(indicator.RSI(strategy.Closes(history), r.period))
	if !ok {
		return nil, nil
	}

	last := history[len(history)-1]
	signal := &core.Signal{
		Symbol:      symbol,
		Price:       last.Close,
		Strategy:    Name,
		Indicators:  map[string]any{"rsi": rsi},
		GeneratedAt: last.Time,
	}

	switch {
	case rsi < r.oversold:
		signal.Action = core.ActionBuy
		signal.Strength = core.ClampStrength(50 + (r.oversold-rsi)/r.oversold*50)
		signal.Reason = fmt.Sprintf("RSI oversold (%.1f < %.0f)", rsi, r.oversold)
	case rsi > r.overbought:
		signal.Action = core.ActionSell
		signal.Strength = core.ClampStrength(50 + (rsi-r.overbought)/(100-r.overbought)*50)
		signal.Reason = fmt.Sprintf("RSI overbought (%.1f > %.0f)", rsi, r.overbought)
	default:
		return nil, nil
	}
	return signal, nil
}
