package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/newthinker/tradesim/internal/broker"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/strategy"
)

// HistoryProvider loads daily bars for many symbols in one call.
type HistoryProvider interface {
	LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, error)
}

// Settings is the immutable run configuration. It is passed by value into
// every component of a run.
type Settings struct {
	InitialCapital float64           `json:"initial_capital"`
	Costs          broker.CostConfig `json:"costs"`
	Risk           broker.RiskConfig `json:"risk"`
	// PositionSizePct is the fraction of available cash committed per buy.
	PositionSizePct float64 `json:"position_size_pct"`
	// LotSize is the board lot; buy quantities are rounded down to it.
	LotSize int64 `json:"lot_size"`
	// WarmupDays is the number of calendar days loaded before the start
	// date so signal sources have history on the first simulated day.
	WarmupDays int `json:"warmup_days"`
}

// DefaultSettings returns A-share defaults.
func DefaultSettings() Settings {
	return Settings{
		InitialCapital:  1_000_000,
		Costs:           broker.DefaultCostConfig(),
		Risk:            broker.DefaultRiskConfig(),
		PositionSizePct: 0.3,
		LotSize:         100,
		WarmupDays:      120,
	}
}

// Validate fails on malformed configuration.
func (s Settings) Validate() error {
	if s.InitialCapital <= 0 || math.IsNaN(s.InitialCapital) || math.IsInf(s.InitialCapital, 0) {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("initial_capital must be positive, got %v", s.InitialCapital))
	}
	if s.PositionSizePct <= 0 || s.PositionSizePct > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("position_size_pct must be in (0,1], got %v", s.PositionSizePct))
	}
	if s.LotSize <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("lot_size must be positive, got %d", s.LotSize))
	}
	if s.WarmupDays < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("warmup_days cannot be negative, got %d", s.WarmupDays))
	}
	if err := s.Costs.Validate(); err != nil {
		return err
	}
	return s.Risk.Validate()
}

// RunRequest selects what to simulate.
type RunRequest struct {
	Symbols []string
	Start   time.Time
	End     time.Time
	Source  strategy.SignalSource
}

// Validate checks the request shape.
func (r RunRequest) Validate() error {
	if len(r.Symbols) == 0 {
		return core.Errorf(core.ErrConfigInvalid, "no symbols")
	}
	if r.Source == nil {
		return core.Errorf(core.ErrConfigInvalid, "no signal source")
	}
	if r.End.Before(r.Start) {
		return core.Errorf(core.ErrConfigInvalid, "end %s before start %s",
			r.End.Format("2006-01-02"), r.Start.Format("2006-01-02"))
	}
	return nil
}

// DailyRecord is the end-of-day snapshot of the ledger.
type DailyRecord struct {
	Date          time.Time `json:"date"`
	TotalAssets   float64   `json:"total_assets"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	Profit        float64   `json:"profit"`
	// ProfitPct is cumulative profit as a fraction of initial capital.
	ProfitPct float64 `json:"profit_pct"`
	Positions int     `json:"positions"`
	// TradeCount is the number of fills on this day only.
	TradeCount int `json:"trade_count"`
}

// Result holds the summary statistics of a run. Returns, drawdown and win
// rate are fractions.
type Result struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalAssets    float64 `json:"final_assets"`
	TotalReturn    float64 `json:"total_return"`
	AnnualReturn   float64 `json:"annual_return"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	WinRate        float64 `json:"win_rate"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	TradingDays    int     `json:"trading_days"`
}

// OrderEvent records an order that was rejected or dropped.
type OrderEvent struct {
	Date   time.Time        `json:"date"`
	Symbol string           `json:"symbol"`
	Side   broker.OrderSide `json:"side"`
	Code   string           `json:"code"`
	Reason string           `json:"reason"`
}

// Run is the complete output of one simulation.
type Run struct {
	Strategy   string         `json:"strategy"`
	Symbols    []string       `json:"symbols"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Settings   Settings       `json:"settings"`
	Records    []DailyRecord  `json:"daily_records"`
	Trades     []broker.Trade `json:"trades"`
	Rejections []OrderEvent   `json:"rejections"`
	Result     Result         `json:"result"`
	Duration   time.Duration  `json:"-"`
}

// EquityPoint is one point of the equity curve.
type EquityPoint struct {
	Date        time.Time `json:"date"`
	TotalAssets float64   `json:"total_assets"`
}

// EquityCurve returns date and total assets per trading day.
func (r *Run) EquityCurve() []EquityPoint {
	curve := make([]EquityPoint, len(r.Records))
	for i, rec := range r.Records {
		curve[i] = EquityPoint{Date: rec.Date, TotalAssets: rec.TotalAssets}
	}
	return curve
}

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use since sweeps run simulations in parallel.
type Recorder interface {
	RecordRun(strategy string, duration time.Duration, result Result)
	RecordTrade(strategy string, side broker.OrderSide, reason string)
	RecordRejection(strategy string, code string)
	RecordSignal(strategy string, action core.Action)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, time.Duration, Result)      {}
func (nopRecorder) RecordTrade(string, broker.OrderSide, string) {}
func (nopRecorder) RecordRejection(string, string)               {}
func (nopRecorder) RecordSignal(string, core.Action)             {}
