package bollinger

import (
	"fmt"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/indicator"
	"github.com/newthinker/tradesim/internal/strategy"
)

// Name is the registry name of this strategy.
const Name = "bollinger"

// Bands buys closes below the lower band and sells closes above the upper band.
type Bands struct {
	period int
	width  float64
}

// New creates a Bollinger band reversion strategy.
func New(period int, width float64) *Bands {
	return &Bands{period: period, width: width}
}

// Factory returns a registry factory with 20 periods and 2 deviations.
func Factory() strategy.SignalSource {
	return New(20, 2)
}

func (b *Bands) Name() string {
	return Name
}

func (b *Bands) Lookback() int {
	return b.period
}

func (b *Bands) Init(cfg strategy.Config) error {
	b.period = strategy.IntParam(cfg.Params, "period", b.period)
	b.width = strategy.FloatParam(cfg.Params, "width", b.width)
	if b.period < 2 || b.width <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "bollinger period %d width %.2f", b.period, b.width)
	}
	return nil
}

func (b *Bands) Generate(history []core.OHLCV, symbol string) (*core.Signal, error) {
	if len(history) < b.Lookback() {
		return nil, nil
	}

	bands := indicator.Bollinger(strategy.Closes(history), b.period, b.width)
	upper, ok := indicator.Last(bands.Upper)
	if !ok {
		return nil, nil
	}
	middle, _ := indicator.Last(bands.Middle)
	lower, _ := indicator.Last(bands.Lower)

	last := history[len(history)-1]
	price := last.Close
	halfWidth := upper - middle

	signal := &core.Signal{
		Symbol:   symbol,
		Price:    price,
		Strategy: Name,
		Indicators: map[string]any{
			"bb_upper":  upper,
			"bb_middle": middle,
			"bb_lower":  lower,
		},
		GeneratedAt: last.Time,
	}

	switch {
	case price < lower:
		signal.Action = core.ActionBuy
		signal.Strength = core.ClampStrength(75 + (lower-price)/halfWidth*25)
		signal.Reason = fmt.Sprintf("close %.2f below lower band %.2f", price, lower)
	case price > upper:
		signal.Action = core.ActionSell
		signal.Strength = core.ClampStrength(75 + (price-upper)/halfWidth*25)
		signal.Reason = fmt.Sprintf("close %.2f above upper band %.2f", price, upper)
	default:
		return nil, nil
	}
	return signal, nil
}
