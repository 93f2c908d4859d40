// Package broker implements the simulated brokerage: the ledger of cash and
// positions, the execution engine that mutates it and the risk controller
// that gates orders against it.
package broker

import (
	"time"
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order.
	OrderSideSell OrderSide = "SELL"
)

// ExitReason annotates why a sell happened.
type ExitReason string

const (
	ExitNormal      ExitReason = "normal"
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitLiquidation ExitReason = "liquidation"
)

// Position represents a holding in a security.
type Position struct {
	// Symbol is the instrument code (e.g. "600519.SH").
	Symbol string `json:"symbol"`
	// Name is the display name of the instrument.
	Name string `json:"name"`
	// Quantity is the number of shares held, in whole board lots.
	Quantity int64 `json:"quantity"`
	// AverageCost is the average cost basis per share.
	AverageCost float64 `json:"average_cost"`
	// CurrentPrice is the most recently marked price.
	CurrentPrice float64 `json:"current_price"`
	// EntryDate is the date of the first buy that opened the position.
	EntryDate time.Time `json:"entry_date"`
}

// MarketValue returns quantity at the marked price.
func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

// CostBasis returns quantity at the average cost.
func (p Position) CostBasis() float64 {
	return float64(p.Quantity) * p.AverageCost
}

// UnrealizedPL returns the mark-to-market profit or loss.
func (p Position) UnrealizedPL() float64 {
	return p.MarketValue() - p.CostBasis()
}

// UnrealizedPLPercent returns the unrealized P/L as a percentage of cost.
func (p Position) UnrealizedPLPercent() float64 {
	if p.AverageCost == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AverageCost) / p.AverageCost * 100
}

// Trade is an immutable record of one completed fill.
type Trade struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Side     OrderSide `json:"side"`
	Price    float64   `json:"price"`
	Quantity int64     `json:"quantity"`
	// Amount is price times quantity before frictions.
	Amount float64 `json:"amount"`
	// Cost is the total trading friction charged (commission, taxes, fees, slippage).
	Cost   float64 `json:"cost"`
	Reason string  `json:"reason,omitempty"`
}

// CashDelta returns the signed change to cash caused by the trade.
func (t Trade) CashDelta() float64 {
	if t.Side == OrderSideBuy {
		return -(t.Amount + t.Cost)
	}
	return t.Amount - t.Cost
}

// IsBuy returns true for buy fills.
func (t Trade) IsBuy() bool {
	return t.Side == OrderSideBuy
}
