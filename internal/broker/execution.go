package broker

import (
	"fmt"
	"math"
	"time"

	"github.com/newthinker/tradesim/internal/core"
	"go.uber.org/zap"
)

// ExecutionConfig holds configuration for the execution engine.
type ExecutionConfig struct {
	// Costs are the frictions charged on every fill.
	Costs CostConfig
	// MaxPositionPct caps a single instrument's post-trade value as a
	// fraction of total assets.
	MaxPositionPct float64
}

// Engine is the only component allowed to mutate a Portfolio. It validates
// affordability and holdings, charges trading costs and records trades.
type Engine struct {
	config    ExecutionConfig
	portfolio *Portfolio
	logger    *zap.Logger
}

// NewEngine creates an execution engine bound to the given ledger.
func NewEngine(config ExecutionConfig, portfolio *Portfolio, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:    config,
		portfolio: portfolio,
		logger:    logger,
	}
}

// Portfolio returns the ledger this engine mutates.
func (e *Engine) Portfolio() *Portfolio {
	return e.portfolio
}

// Commission computes the trading frictions for an amount on a side.
func (e *Engine) Commission(amount float64, side OrderSide) float64 {
	return e.config.Costs.Commission(amount, side)
}

// CanBuy checks affordability and the per-instrument position cap.
func (e *Engine) CanBuy(symbol string, price float64, quantity int64) error {
	if err := validateOrder(symbol, price, quantity); err != nil {
		return err
	}

	cost := price * float64(quantity)
	totalCost := cost + e.Commission(cost, OrderSideBuy)
	if totalCost > e.portfolio.Cash() {
		return core.Errorf(core.ErrInsufficientFunds,
			"%s needs %.2f, cash %.2f", symbol, totalCost, e.portfolio.Cash())
	}

	if e.config.MaxPositionPct > 0 {
		var held int64
		if pos, ok := e.portfolio.Position(symbol); ok {
			held = pos.Quantity
		}
		postValue := float64(held+quantity) * price
		limit := e.portfolio.TotalAssets() * e.config.MaxPositionPct
		if postValue > limit {
			return core.Errorf(core.ErrPositionLimit,
				"%s position %.2f > %.2f%% of assets", symbol, postValue, e.config.MaxPositionPct*100)
		}
	}

	return nil
}

// CanSell checks that enough shares are held.
func (e *Engine) CanSell(symbol string, quantity int64) error {
	if symbol == "" || quantity <= 0 {
		return core.Errorf(core.ErrInvalidOrder, "symbol %q quantity %d", symbol, quantity)
	}
	pos, ok := e.portfolio.Position(symbol)
	if !ok {
		return core.Errorf(core.ErrNoPosition, "%s", symbol)
	}
	if pos.Quantity < quantity {
		return core.Errorf(core.ErrInsufficientHoldings,
			"%s held %d, sell %d", symbol, pos.Quantity, quantity)
	}
	return nil
}

// Buy fills a buy order. On rejection the ledger is unchanged.
func (e *Engine) Buy(symbol, name string, price float64, quantity int64, date time.Time, reason string) (*Trade, error) {
	if err := e.CanBuy(symbol, price, quantity); err != nil {
		return nil, err
	}

	cost := e.Commission(price*float64(quantity), OrderSideBuy)
	trade := e.portfolio.applyBuy(symbol, name, price, quantity, cost, date, reason)

	e.logger.Info("buy filled",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Int64("quantity", quantity),
		zap.Float64("cost", cost),
		zap.Time("date", date),
	)
	return &trade, nil
}

// Sell fills a sell order. On rejection the ledger is unchanged.
func (e *Engine) Sell(symbol string, price float64, quantity int64, date time.Time, reason string) (*Trade, error) {
	if err := e.CanSell(symbol, quantity); err != nil {
		return nil, err
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, core.Errorf(core.ErrInvalidOrder, "%s price %v", symbol, price)
	}

	cost := e.Commission(price*float64(quantity), OrderSideSell)
	trade := e.portfolio.applySell(symbol, price, quantity, cost, date, reason)

	e.logger.Info("sell filled",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Int64("quantity", quantity),
		zap.Float64("cost", cost),
		zap.String("reason", reason),
		zap.Time("date", date),
	)
	return &trade, nil
}

// ClosePosition sells the entire holding of a symbol.
func (e *Engine) ClosePosition(symbol string, price float64, date time.Time, reason string) (*Trade, error) {
	pos, ok := e.portfolio.Position(symbol)
	if !ok {
		return nil, core.Errorf(core.ErrNoPosition, "%s", symbol)
	}
	return e.Sell(symbol, price, pos.Quantity, date, reason)
}

// UpdatePrices marks open positions to the given prices. Symbols that are
// not held are ignored and cash is never touched.
func (e *Engine) UpdatePrices(prices map[string]float64) {
	for symbol, price := range prices {
		e.portfolio.mark(symbol, price)
	}
}

func validateOrder(symbol string, price float64, quantity int64) error {
	if symbol == "" {
		return core.Errorf(core.ErrInvalidOrder, "empty symbol")
	}
	if quantity <= 0 {
		return core.Errorf(core.ErrInvalidOrder, "%s quantity %d", symbol, quantity)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return core.Errorf(core.ErrInvalidOrder, "%s price %v", symbol, price)
	}
	return nil
}

// String formats a trade for logs and CLI output.
func (t Trade) String() string {
	return fmt.Sprintf("%s %s %s %d @ %.2f (cost %.2f)",
		t.Date.Format("2006-01-02"), t.Side, t.Symbol, t.Quantity, t.Price, t.Cost)
}
