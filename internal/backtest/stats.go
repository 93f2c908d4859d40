package backtest

import (
	"math"

	"github.com/newthinker/tradesim/internal/broker"
)

// tradingDaysPerYear is the annualisation convention.
const tradingDaysPerYear = 252

// CalculateResult computes summary statistics from the equity curve and
// trade log of a finished run.
func CalculateResult(initialCapital float64, records []DailyRecord, trades []broker.Trade) Result {
	finalAssets := initialCapital
	if len(records) > 0 {
		finalAssets = records[len(records)-1].TotalAssets
	}

	equity := make([]float64, len(records))
	for i, r := range records {
		equity[i] = r.TotalAssets
	}

	wins, losses := countRoundTrips(trades)
	var winRate float64
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses)
	}

	var totalReturn float64
	if initialCapital > 0 {
		totalReturn = (finalAssets - initialCapital) / initialCapital
	}

	return Result{
		InitialCapital: initialCapital,
		FinalAssets:    finalAssets,
		TotalReturn:    totalReturn,
		AnnualReturn:   annualizedReturn(initialCapital, finalAssets, len(records)),
		MaxDrawdown:    calculateMaxDrawdown(equity),
		WinRate:        winRate,
		SharpeRatio:    calculateSharpeRatio(dailyReturns(initialCapital, equity)),
		TotalTrades:    len(trades),
		WinningTrades:  wins,
		LosingTrades:   losses,
		TradingDays:    len(records),
	}
}

// annualizedReturn is (final/initial)^(252/days) - 1, or 0 without days.
func annualizedReturn(initial, final float64, days int) float64 {
	if days == 0 || initial <= 0 || final <= 0 {
		return 0
	}
	return math.Pow(final/initial, float64(tradingDaysPerYear)/float64(days)) - 1
}

// countRoundTrips pairs every sell with the most recent prior buy of the
// same symbol. A sell above that buy price is a win; anything else a loss.
func countRoundTrips(trades []broker.Trade) (wins, losses int) {
	lastBuy := make(map[string]float64)
	for _, t := range trades {
		if t.IsBuy() {
			lastBuy[t.Symbol] = t.Price
			continue
		}
		buyPrice, ok := lastBuy[t.Symbol]
		if !ok {
			continue
		}
		if t.Price > buyPrice {
			wins++
		} else {
			losses++
		}
	}
	return wins, losses
}

// calculateMaxDrawdown finds the largest peak-to-trough decline of the
// equity curve as a fraction of the running peak.
func calculateMaxDrawdown(equity []float64) float64 {
	var maxDD, peak float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// dailyReturns converts the equity curve into day-over-day returns, the
// first measured against initial capital.
func dailyReturns(initial float64, equity []float64) []float64 {
	returns := make([]float64, 0, len(equity))
	prev := initial
	for _, v := range equity {
		if prev > 0 {
			returns = append(returns, v/prev-1)
		}
		prev = v
	}
	return returns
}

// calculateSharpeRatio computes risk-adjusted return
// Assumes risk-free rate of 0 for simplicity
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	// Calculate mean return
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	// Calculate standard deviation
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))

	if stdDev == 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(tradingDaysPerYear)
}
