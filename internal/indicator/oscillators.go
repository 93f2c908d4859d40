package indicator

import "math"

// StdDev calculates the rolling sample standard deviation.
// Returns slice of length: len(prices) - period + 1
func StdDev(prices []float64, period int) []float64 {
	if period < 2 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)
	for end := period; end <= len(prices); end++ {
		window := prices[end-period : end]
		var sum float64
		for _, p := range window {
			sum += p
		}
		mean := sum / float64(period)

		var variance float64
		for _, p := range window {
			variance += (p - mean) * (p - mean)
		}
		result = append(result, math.Sqrt(variance/float64(period-1)))
	}
	return result
}

// RSI calculates the Relative Strength Index using simple averages of gains
// and losses over the period. Values are in [0,100]; a window with no
// losses yields 100.
// Returns slice of length: len(prices) - period
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) <= period {
		return []float64{}
	}

	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	avgGain := SMA(gains, period)
	avgLoss := SMA(losses, period)

	result := make([]float64, len(avgGain))
	for i := range avgGain {
		switch {
		case avgLoss[i] == 0 && avgGain[i] == 0:
			result[i] = 50
		case avgLoss[i] == 0:
			result[i] = 100
		default:
			rs := avgGain[i] / avgLoss[i]
			result[i] = 100 - 100/(1+rs)
		}
	}
	return result
}

// MACDResult holds the three MACD series, all of length len(prices).
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD calculates the Moving Average Convergence Divergence. The EMAs are
// seeded with the first price so every series has one value per input.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	if len(prices) == 0 || fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDResult{}
	}

	fastEMA := seededEMA(prices, fast)
	slowEMA := seededEMA(prices, slow)

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := seededEMA(line, signal)

	hist := make([]float64, len(prices))
	for i := range line {
		hist[i] = line[i] - signalLine[i]
	}

	return MACDResult{MACD: line, Signal: signalLine, Histogram: hist}
}

// BollingerBands holds upper, middle and lower bands.
type BollingerBands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger calculates Bollinger Bands as SMA ± k sample standard deviations.
// Each band has length: len(prices) - period + 1
func Bollinger(prices []float64, period int, k float64) BollingerBands {
	middle := SMA(prices, period)
	std := StdDev(prices, period)
	if len(middle) == 0 || len(std) != len(middle) {
		return BollingerBands{}
	}

	bands := BollingerBands{
		Upper:  make([]float64, len(middle)),
		Middle: middle,
		Lower:  make([]float64, len(middle)),
	}
	for i := range middle {
		bands.Upper[i] = middle[i] + k*std[i]
		bands.Lower[i] = middle[i] - k*std[i]
	}
	return bands
}

// Last returns the final value of a series.
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}
