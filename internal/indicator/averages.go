package indicator

// SMA returns the simple moving average of every full window.
// Returns slice of length: len(values) - period + 1, empty when period is
// not positive or the input is shorter than one window.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return []float64{}
	}

	out := make([]float64, len(values)-period+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i-period+1] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average seeded with the SMA of the
// first window, aligned with SMA.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return []float64{}
	}

	k := smoothing(period)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, SMA(values[:period], period)[0])
	for _, v := range values[period:] {
		out = append(out, emaStep(out[len(out)-1], v, k))
	}
	return out
}

// seededEMA seeds with the first value so the output has one point per
// input; MACD needs that alignment.
func seededEMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := smoothing(period)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = emaStep(out[i-1], values[i], k)
	}
	return out
}

func smoothing(period int) float64 { return 2.0 / float64(period+1) }

func emaStep(prev, v, k float64) float64 { return prev + k*(v-prev) }
