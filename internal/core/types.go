package core

import "time"

// Market represents a trading market
type Market string

const (
	MarketSH Market = "SH"
	MarketSZ Market = "SZ"
	MarketBJ Market = "BJ"
	MarketHK Market = "HK"
)

// MarketOf infers the exchange from a ts_code style symbol ("600519.SH").
// Bare six-digit codes starting with 6 are Shanghai, everything else Shenzhen.
func MarketOf(symbol string) Market {
	for i := len(symbol) - 1; i >= 0; i-- {
		if symbol[i] == '.' {
			return Market(symbol[i+1:])
		}
	}
	if len(symbol) > 0 && symbol[0] == '6' {
		return MarketSH
	}
	return MarketSZ
}

// Instrument is a tradable security known to the price store
type Instrument struct {
	Symbol string
	Name   string
	Market Market
}

// OHLCV represents a candlestick/bar
type OHLCV struct {
	Symbol   string
	Interval string // "1d"
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Time     time.Time
}

// IsValid checks the bar carries the fields the simulator needs
func (b OHLCV) IsValid() bool {
	return !b.Time.IsZero() && b.Open > 0 && b.Close > 0
}

// Action represents a trading signal action
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// IsTrade reports whether the action requires an order.
func (a Action) IsTrade() bool {
	return a == ActionBuy || a == ActionSell
}

// Signal represents a trading signal from a strategy
type Signal struct {
	Symbol      string
	Name        string
	Action      Action
	Strength    float64 // 0-100
	Price       float64 // Reference price at signal generation
	Reason      string
	Strategy    string
	Indicators  map[string]any
	GeneratedAt time.Time
}

// ClampStrength bounds a raw score to the [0,100] strength range.
func ClampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// DateKey normalizes a bar time to its calendar day in UTC.
func DateKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
