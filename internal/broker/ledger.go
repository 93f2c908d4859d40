package broker

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Portfolio is the ledger of one simulation: cash, open positions keyed by
// symbol and the append-only trade list. Only Engine mutates it; everything
// else reads through the accessor methods. A Portfolio belongs to a single
// run and is not safe for concurrent use.
type Portfolio struct {
	initialCapital float64
	cash           float64
	positions      map[string]*Position // symbol -> position
	trades         []Trade
}

// NewPortfolio creates a ledger holding only the initial capital in cash.
func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*Position),
	}
}

// InitialCapital returns the return baseline.
func (p *Portfolio) InitialCapital() float64 {
	return p.initialCapital
}

// Cash returns the available cash balance.
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// Position returns a copy of the open position for a symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// HasPosition reports whether the symbol is currently held.
func (p *Portfolio) HasPosition(symbol string) bool {
	_, ok := p.positions[symbol]
	return ok
}

// Positions returns copies of all open positions ordered by symbol.
func (p *Portfolio) Positions() []Position {
	positions := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions
}

// PositionCount returns the number of open positions.
func (p *Portfolio) PositionCount() int {
	return len(p.positions)
}

// Trades returns a copy of the trade log.
func (p *Portfolio) Trades() []Trade {
	trades := make([]Trade, len(p.trades))
	copy(trades, p.trades)
	return trades
}

// TradeCount returns the number of recorded trades.
func (p *Portfolio) TradeCount() int {
	return len(p.trades)
}

// PositionValue returns the sum of all positions at their marked prices.
func (p *Portfolio) PositionValue() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// TotalAssets returns cash plus marked position value.
func (p *Portfolio) TotalAssets() float64 {
	return p.cash + p.PositionValue()
}

// PositionRatio returns the share of total assets held in positions.
func (p *Portfolio) PositionRatio() float64 {
	total := p.TotalAssets()
	if total == 0 {
		return 0
	}
	return (total - p.cash) / total
}

// UnrealizedPL returns the sum of unrealized P&L across all positions.
func (p *Portfolio) UnrealizedPL() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.UnrealizedPL()
	}
	return total
}

// Profit returns total assets minus initial capital.
func (p *Portfolio) Profit() float64 {
	return p.TotalAssets() - p.initialCapital
}

// ProfitPct returns profit as a fraction of initial capital.
func (p *Portfolio) ProfitPct() float64 {
	if p.initialCapital == 0 {
		return 0
	}
	return p.Profit() / p.initialCapital
}

// applyBuy debits cash and folds the fill into the position using weighted
// average cost: new avg = (old_avg*old_qty + price*qty) / (old_qty + qty).
func (p *Portfolio) applyBuy(symbol, name string, price float64, qty int64, cost float64, date time.Time, reason string) Trade {
	amount := price * float64(qty)
	p.cash -= amount + cost

	pos, exists := p.positions[symbol]
	if !exists {
		p.positions[symbol] = &Position{
			Symbol:       symbol,
			Name:         name,
			Quantity:     qty,
			AverageCost:  price,
			CurrentPrice: price,
			EntryDate:    date,
		}
	} else {
		totalCost := float64(pos.Quantity)*pos.AverageCost + amount
		pos.Quantity += qty
		pos.AverageCost = totalCost / float64(pos.Quantity)
		pos.CurrentPrice = price
		if name != "" {
			pos.Name = name
		}
	}

	return p.appendTrade(Trade{
		Date:     date,
		Symbol:   symbol,
		Name:     p.positions[symbol].Name,
		Side:     OrderSideBuy,
		Price:    price,
		Quantity: qty,
		Amount:   amount,
		Cost:     cost,
		Reason:   reason,
	})
}

// applySell credits net proceeds and removes the position once exhausted.
func (p *Portfolio) applySell(symbol string, price float64, qty int64, cost float64, date time.Time, reason string) Trade {
	pos := p.positions[symbol]
	amount := price * float64(qty)
	p.cash += amount - cost

	pos.Quantity -= qty
	pos.CurrentPrice = price
	name := pos.Name
	if pos.Quantity == 0 {
		delete(p.positions, symbol)
	}

	return p.appendTrade(Trade{
		Date:     date,
		Symbol:   symbol,
		Name:     name,
		Side:     OrderSideSell,
		Price:    price,
		Quantity: qty,
		Amount:   amount,
		Cost:     cost,
		Reason:   reason,
	})
}

// mark rewrites the current price of an open position. Cash is untouched.
func (p *Portfolio) mark(symbol string, price float64) {
	if pos, ok := p.positions[symbol]; ok && price > 0 {
		pos.CurrentPrice = price
	}
}

func (p *Portfolio) appendTrade(t Trade) Trade {
	t.ID = uuid.NewString()
	p.trades = append(p.trades, t)
	return t
}
