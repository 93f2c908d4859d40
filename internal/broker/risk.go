package broker

import (
	"fmt"
	"math"
	"time"

	"github.com/newthinker/tradesim/internal/core"
	"go.uber.org/zap"
)

// RiskConfig defines risk management parameters. Percentages are fractions.
type RiskConfig struct {
	// MaxPositionPct is the maximum fraction of total assets in a single instrument.
	MaxPositionPct float64 `json:"max_position_pct"`
	// MaxExposurePct is the maximum fraction of total assets held in positions
	// before new buys are refused. Zero falls back to MaxPositionPct.
	MaxExposurePct float64 `json:"max_exposure_pct"`
	// MaxPositions is the maximum number of concurrent positions. Zero means unlimited.
	MaxPositions int `json:"max_positions"`
	// StopLossPct closes a position once price <= avg cost * (1 - StopLossPct).
	StopLossPct float64 `json:"stop_loss_pct"`
	// TakeProfitPct closes a position once price >= avg cost * (1 + TakeProfitPct).
	TakeProfitPct float64 `json:"take_profit_pct"`
	// MaxDailyLossPct is the daily loss, as a fraction of initial capital,
	// that trips the circuit breaker.
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`
}

// DefaultRiskConfig returns a RiskConfig with sensible default values.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionPct:  0.3,
		MaxPositions:    10,
		StopLossPct:     0.03,
		TakeProfitPct:   0.06,
		MaxDailyLossPct: 0.05,
	}
}

// ExposureLimit returns the effective exposure cap.
func (c RiskConfig) ExposureLimit() float64 {
	if c.MaxExposurePct > 0 {
		return c.MaxExposurePct
	}
	return c.MaxPositionPct
}

// Validate checks that all fractions are in range.
func (c RiskConfig) Validate() error {
	fractions := []struct {
		name  string
		value float64
		open  bool // zero disables the rule
	}{
		{"max_position_pct", c.MaxPositionPct, false},
		{"max_exposure_pct", c.MaxExposurePct, true},
		{"stop_loss_pct", c.StopLossPct, true},
		{"take_profit_pct", c.TakeProfitPct, true},
		{"max_daily_loss_pct", c.MaxDailyLossPct, false},
	}
	for _, f := range fractions {
		if math.IsNaN(f.value) || f.value < 0 || f.value > 1 || (!f.open && f.value == 0) {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("%s out of range, got %v", f.name, f.value))
		}
	}
	if c.MaxPositions < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_positions cannot be negative, got %d", c.MaxPositions))
	}
	return nil
}

// RiskCheckResult represents the outcome of a risk check.
type RiskCheckResult struct {
	// Allowed indicates whether the order is permitted.
	Allowed bool
	// Reason provides explanation when order is rejected.
	Reason string
	// Exit annotates allowed sells.
	Exit ExitReason
	// Err carries the coded error for rejections.
	Err error
}

// RiskStatus is a snapshot of the controller's daily state.
type RiskStatus struct {
	Date           time.Time `json:"date"`
	DailyLoss      float64   `json:"daily_loss"`
	DailyLossLimit float64   `json:"daily_loss_limit"`
	CircuitBreaker bool      `json:"circuit_breaker"`
	Reason         string    `json:"reason,omitempty"`
}

// RiskController gates buys against the daily loss circuit breaker and
// exposure caps, and detects stop-loss and take-profit exits. It belongs to
// a single run.
type RiskController struct {
	config         RiskConfig
	initialCapital float64
	logger         *zap.Logger

	date        time.Time
	startEquity float64
	dailyLoss   float64
	tripped     bool
	reason      string
}

// NewRiskController creates a controller for a run starting with initialCapital.
func NewRiskController(config RiskConfig, initialCapital float64, logger *zap.Logger) *RiskController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskController{
		config:         config,
		initialCapital: initialCapital,
		startEquity:    initialCapital,
		logger:         logger,
	}
}

// ResetDaily clears the loss accumulator and breaker and records the
// day-start equity from the ledger.
func (r *RiskController) ResetDaily(date time.Time, ledger *Portfolio) {
	r.date = date
	r.dailyLoss = 0
	r.tripped = false
	r.reason = ""
	if ledger != nil {
		r.startEquity = ledger.TotalAssets()
	}
}

// RecordLoss adds a realised loss to the day's accumulator. Non-positive
// amounts are ignored.
func (r *RiskController) RecordLoss(amount float64) {
	if amount > 0 {
		r.dailyLoss += amount
	}
}

func (r *RiskController) dailyLossLimit() float64 {
	return r.config.MaxDailyLossPct * r.initialCapital
}

// currentLoss is the larger of the accumulated loss and the mark-to-market
// drop since the start of the day.
func (r *RiskController) currentLoss(ledger *Portfolio) float64 {
	loss := r.dailyLoss
	if drop := r.startEquity - ledger.TotalAssets(); drop > loss {
		loss = drop
	}
	return loss
}

// CheckBuy decides whether a buy signal may be executed against the ledger.
func (r *RiskController) CheckBuy(ledger *Portfolio, signal core.Signal) RiskCheckResult {
	if r.tripped {
		return r.reject(signal.Symbol, core.Errorf(core.ErrCircuitBreaker, "%s", r.reason))
	}

	loss := r.currentLoss(ledger)
	limit := r.dailyLossLimit()
	if limit > 0 && loss >= limit {
		r.tripped = true
		r.reason = fmt.Sprintf("daily loss %.2f >= limit %.2f", loss, limit)
		r.logger.Warn("circuit breaker tripped",
			zap.Time("date", r.date),
			zap.Float64("loss", loss),
			zap.Float64("limit", limit),
		)
		return r.reject(signal.Symbol, core.Errorf(core.ErrCircuitBreaker, "%s", r.reason))
	}

	if ratio, maxRatio := ledger.PositionRatio(), r.config.ExposureLimit(); maxRatio > 0 && ratio >= maxRatio {
		return r.reject(signal.Symbol, core.Errorf(core.ErrRiskRejected,
			"position ratio %.2f%% >= %.2f%%", ratio*100, maxRatio*100))
	}

	if r.config.MaxPositions > 0 && !ledger.HasPosition(signal.Symbol) &&
		ledger.PositionCount() >= r.config.MaxPositions {
		return r.reject(signal.Symbol, core.Errorf(core.ErrRiskRejected,
			"max open positions reached: %d >= %d", ledger.PositionCount(), r.config.MaxPositions))
	}

	return RiskCheckResult{Allowed: true}
}

// CheckSell allows any sell of an existing position and annotates the exit.
// The circuit breaker never blocks sells.
func (r *RiskController) CheckSell(ledger *Portfolio, symbol string, price float64) RiskCheckResult {
	pos, ok := ledger.Position(symbol)
	if !ok {
		return r.reject(symbol, core.Errorf(core.ErrNoPosition, "%s", symbol))
	}
	exit := ExitNormal
	switch {
	case r.hitsStopLoss(pos, price):
		exit = ExitStopLoss
	case r.hitsTakeProfit(pos, price):
		exit = ExitTakeProfit
	}
	return RiskCheckResult{Allowed: true, Exit: exit, Reason: string(exit)}
}

// ScanStopLoss returns the symbols whose price crossed the stop-loss threshold.
func (r *RiskController) ScanStopLoss(ledger *Portfolio, prices map[string]float64) []string {
	return r.scan(ledger, prices, r.hitsStopLoss)
}

// ScanTakeProfit returns the symbols whose price crossed the take-profit threshold.
func (r *RiskController) ScanTakeProfit(ledger *Portfolio, prices map[string]float64) []string {
	return r.scan(ledger, prices, r.hitsTakeProfit)
}

// Status returns the current daily risk state.
func (r *RiskController) Status() RiskStatus {
	return RiskStatus{
		Date:           r.date,
		DailyLoss:      r.dailyLoss,
		DailyLossLimit: r.dailyLossLimit(),
		CircuitBreaker: r.tripped,
		Reason:         r.reason,
	}
}

func (r *RiskController) scan(ledger *Portfolio, prices map[string]float64, hit func(Position, float64) bool) []string {
	var out []string
	for _, pos := range ledger.Positions() {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			continue
		}
		if hit(pos, price) {
			out = append(out, pos.Symbol)
		}
	}
	return out
}

func (r *RiskController) hitsStopLoss(pos Position, price float64) bool {
	return r.config.StopLossPct > 0 && price <= pos.AverageCost*(1-r.config.StopLossPct)
}

func (r *RiskController) hitsTakeProfit(pos Position, price float64) bool {
	return r.config.TakeProfitPct > 0 && price >= pos.AverageCost*(1+r.config.TakeProfitPct)
}

func (r *RiskController) reject(symbol string, err error) RiskCheckResult {
	r.logger.Debug("order rejected by risk control",
		zap.String("symbol", symbol),
		zap.Error(err),
	)
	return RiskCheckResult{Allowed: false, Reason: err.Error(), Err: err}
}
