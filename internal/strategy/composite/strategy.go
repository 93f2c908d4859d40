// Package composite scores trend, momentum, band and volume indicators
// together and emits a signal once the buy or sell score passes a threshold.
package composite

import (
	"fmt"
	"strings"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/indicator"
	"github.com/newthinker/tradesim/internal/strategy"
)

// Name is the registry name of this strategy.
const Name = "composite"

// Score weights.
const (
	weightAlignment = 20
	weightMACross   = 25
	weightRSI       = 15
	weightMACD      = 20
	weightBollinger = 15
	weightVolume    = 10
)

// Composite combines several indicators into one signal.
type Composite struct {
	maPeriods   []int
	threshold   float64
	volumeSurge float64
}

// New creates a composite strategy with the given MA alignment periods.
func New(maPeriods []int, threshold float64) *Composite {
	return &Composite{
		maPeriods:   maPeriods,
		threshold:   threshold,
		volumeSurge: 1.5,
	}
}

// Factory returns a registry factory with 5/10/20/60 MAs and threshold 15.
func Factory() strategy.SignalSource {
	return New([]int{5, 10, 20, 60}, 15)
}

func (c *Composite) Name() string {
	return Name
}

// Lookback is 60 bars or the longest MA plus one, whichever is larger.
func (c *Composite) Lookback() int {
	lookback := 60
	for _, p := range c.maPeriods {
		if p+1 > lookback {
			lookback = p + 1
		}
	}
	return lookback
}

func (c *Composite) Init(cfg strategy.Config) error {
	c.threshold = strategy.FloatParam(cfg.Params, "threshold", c.threshold)
	c.volumeSurge = strategy.FloatParam(cfg.Params, "volume_surge", c.volumeSurge)
	c.maPeriods = strategy.IntsParam(cfg.Params, "ma_periods", c.maPeriods)
	if len(c.maPeriods) < 2 {
		return core.Errorf(core.ErrConfigInvalid, "composite needs at least two ma_periods")
	}
	for _, p := range c.maPeriods {
		if p <= 0 {
			return core.Errorf(core.ErrConfigInvalid, "composite ma period %d", p)
		}
	}
	if c.threshold <= 0 || c.threshold > 100 {
		return core.Errorf(core.ErrConfigInvalid, "composite threshold %.1f", c.threshold)
	}
	return nil
}

type tally struct {
	buy, sell  float64
	reasons    []string
	indicators map[string]any
}

func (t *tally) add(buy bool, weight float64, reason string) {
	if buy {
		t.buy += weight
	} else {
		t.sell += weight
	}
	t.reasons = append(t.reasons, reason)
}

func (c *Composite) Generate(history []core.OHLCV, symbol string) (*core.Signal, error) {
	if len(history) < c.Lookback() {
		return nil, nil
	}

	closes := strategy.Closes(history)
	t := &tally{indicators: make(map[string]any)}

	c.scoreAlignment(closes, t)
	c.scoreMACross(closes, t)
	c.scoreRSI(closes, t)
	c.scoreMACD(closes, t)
	c.scoreBollinger(closes, t)
	c.scoreVolume(history, t)

	last := history[len(history)-1]
	signal := &core.Signal{
		Symbol:      symbol,
		Price:       last.Close,
		Strategy:    Name,
		Indicators:  t.indicators,
		GeneratedAt: last.Time,
	}
	t.indicators["buy_score"] = t.buy
	t.indicators["sell_score"] = t.sell

	reasons := t.reasons
	if len(reasons) > 3 {
		reasons = reasons[:3]
	}

	switch {
	case t.buy >= c.threshold && t.buy >= t.sell:
		signal.Action = core.ActionBuy
		signal.Strength = core.ClampStrength(t.buy)
		signal.Reason = strings.Join(reasons, "; ")
	case t.sell >= c.threshold && t.sell >= t.buy:
		signal.Action = core.ActionSell
		signal.Strength = core.ClampStrength(t.sell)
		signal.Reason = strings.Join(reasons, "; ")
	default:
		signal.Action = core.ActionHold
		signal.Strength = 50
		signal.Reason = fmt.Sprintf("no clear signal (buy %.0f, sell %.0f)", t.buy, t.sell)
	}
	return signal, nil
}

// scoreAlignment rewards strictly ordered moving averages.
func (c *Composite) scoreAlignment(closes []float64, t *tally) {
	mas := make([]float64, len(c.maPeriods))
	for i, p := range c.maPeriods {
		v, ok := indicator.Last(indicator.SMA(closes, p))
		if !ok {
			return
		}
		mas[i] = v
	}

	bullish, bearish := true, true
	for i := 0; i < len(mas)-1; i++ {
		if mas[i] <= mas[i+1] {
			bullish = false
		}
		if mas[i] >= mas[i+1] {
			bearish = false
		}
	}
	switch {
	case bullish:
		t.add(true, weightAlignment, "bullish MA alignment")
	case bearish:
		t.add(false, weightAlignment, "bearish MA alignment")
	}
}

// scoreMACross checks the MA5/MA20 cross on the latest bar.
func (c *Composite) scoreMACross(closes []float64, t *tally) {
	fast := indicator.SMA(closes, 5)
	slow := indicator.SMA(closes, 20)
	if len(slow) < 2 {
		return
	}
	currFast, prevFast := fast[len(fast)-1], fast[len(fast)-2]
	currSlow, prevSlow := slow[len(slow)-1], slow[len(slow)-2]

	switch {
	case prevFast <= prevSlow && currFast > currSlow:
		t.add(true, weightMACross, "MA5 crossed above MA20")
	case prevFast >= prevSlow && currFast < currSlow:
		t.add(false, weightMACross, "MA5 crossed below MA20")
	}
}

func (c *Composite) scoreRSI(closes []float64, t *tally) {
	rsi, ok := indicator.Last(indicator.RSI(closes, 14))
	if !ok {
		return
	}
	switch {
	case rsi < 30:
		t.indicators["rsi"] = rsi
		t.add(true, weightRSI, fmt.Sprintf("RSI oversold (%.1f)", rsi))
	case rsi > 70:
		t.indicators["rsi"] = rsi
		t.add(false, weightRSI, fmt.Sprintf("RSI overbought (%.1f)", rsi))
	}
}

func (c *Composite) scoreMACD(closes []float64, t *tally) {
	m := indicator.MACD(closes, 12, 26, 9)
	n := len(m.MACD)
	if n < 2 {
		return
	}
	line, signal, prevHist := m.MACD[n-1], m.Signal[n-1], m.Histogram[n-2]
	t.indicators["macd"] = line

	switch {
	case line > signal && prevHist <= 0:
		t.add(true, weightMACD, "MACD golden cross")
	case line < signal && prevHist >= 0:
		t.add(false, weightMACD, "MACD death cross")
	}
}

func (c *Composite) scoreBollinger(closes []float64, t *tally) {
	bands := indicator.Bollinger(closes, 20, 2)
	upper, ok := indicator.Last(bands.Upper)
	if !ok {
		return
	}
	lower, _ := indicator.Last(bands.Lower)
	price := closes[len(closes)-1]

	switch {
	case price < lower:
		t.add(true, weightBollinger, "touched lower Bollinger band")
	case price > upper:
		t.add(false, weightBollinger, "touched upper Bollinger band")
	}
}

// scoreVolume treats a volume surge as confirmation of the day's direction.
func (c *Composite) scoreVolume(history []core.OHLCV, t *tally) {
	avg, ok := indicator.Last(indicator.SMA(strategy.Volumes(history), 20))
	if !ok || len(history) < 2 {
		return
	}
	last := history[len(history)-1]
	if float64(last.Volume) <= avg*c.volumeSurge {
		return
	}
	if last.Close > history[len(history)-2].Close {
		t.add(true, weightVolume, "volume surge on up day")
	} else {
		t.add(false, weightVolume, "volume surge on down day")
	}
}
