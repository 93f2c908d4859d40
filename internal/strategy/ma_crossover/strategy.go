package ma_crossover

import (
	"fmt"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/indicator"
	"github.com/newthinker/tradesim/internal/strategy"
)

// Name is the registry name of this strategy.
const Name = "ma_crossover"

// MACrossover implements a moving average crossover strategy
type MACrossover struct {
	fastPeriod int
	slowPeriod int
}

// New creates a new MA Crossover strategy
func New(fastPeriod, slowPeriod int) *MACrossover {
	return &MACrossover{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
	}
}

// Factory returns a registry factory with the default 5/20 periods.
func Factory() strategy.SignalSource {
	return New(5, 20)
}

func (m *MACrossover) Name() string {
	return Name
}

// Lookback covers the slow MA plus the previous bar needed to detect a cross.
func (m *MACrossover) Lookback() int {
	return m.slowPeriod + 1
}

func (m *MACrossover) Init(cfg strategy.Config) error {
	m.fastPeriod = strategy.IntParam(cfg.Params, "fast_period", m.fastPeriod)
	m.slowPeriod = strategy.IntParam(cfg.Params, "slow_period", m.slowPeriod)
	if m.fastPeriod <= 0 || m.slowPeriod <= m.fastPeriod {
		return core.Errorf(core.ErrConfigInvalid,
			"ma_crossover periods %d/%d: need 0 < fast < slow", m.fastPeriod, m.slowPeriod)
	}
	return nil
}

func (m *MACrossover) Generate(history []core.OHLCV, symbol string) (*core.Signal, error) {
	if len(history) < m.Lookback() {
		return nil, nil // Not enough data
	}

	prices := strategy.Closes(history)
	fastMA := indicator.SMA(prices, m.fastPeriod)
	slowMA := indicator.SMA(prices, m.slowPeriod)

	if len(fastMA) < 2 || len(slowMA) < 2 {
		return nil, nil
	}

	currFast := fastMA[len(fastMA)-1]
	prevFast := fastMA[len(fastMA)-2]
	currSlow := slowMA[len(slowMA)-1]
	prevSlow := slowMA[len(slowMA)-2]

	last := history[len(history)-1]
	indicators := map[string]any{
		"fast_ma": currFast,
		"slow_ma": currSlow,
	}

	// Golden Cross: fast crosses above slow
	if prevFast <= prevSlow && currFast > currSlow {
		indicators["type"] = "golden_cross"
		return &core.Signal{
			Symbol:      symbol,
			Action:      core.ActionBuy,
			Strength:    m.calculateStrength(currFast, currSlow),
			Price:       last.Close,
			Reason:      fmt.Sprintf("Golden Cross: MA%d (%.2f) crossed above MA%d (%.2f)", m.fastPeriod, currFast, m.slowPeriod, currSlow),
			Strategy:    Name,
			Indicators:  indicators,
			GeneratedAt: last.Time,
		}, nil
	}

	// Death Cross: fast crosses below slow
	if prevFast >= prevSlow && currFast < currSlow {
		indicators["type"] = "death_cross"
		return &core.Signal{
			Symbol:      symbol,
			Action:      core.ActionSell,
			Strength:    m.calculateStrength(currFast, currSlow),
			Price:       last.Close,
			Reason:      fmt.Sprintf("Death Cross: MA%d (%.2f) crossed below MA%d (%.2f)", m.fastPeriod, currFast, m.slowPeriod, currSlow),
			Strategy:    Name,
			Indicators:  indicators,
			GeneratedAt: last.Time,
		}, nil
	}

	return nil, nil
}

// calculateStrength returns higher strength for larger divergence
func (m *MACrossover) calculateStrength(fast, slow float64) float64 {
	diff := (fast - slow) / slow
	if diff < 0 {
		diff = -diff
	}

	// Scale to 50-90 range based on divergence
	strength := 50 + (diff * 1000)
	if strength > 90 {
		strength = 90
	}
	return strength
}
