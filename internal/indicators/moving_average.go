package indicators

import "math"

// SMA computes the simple moving average. The first value is at index period-1.
func SMA(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) < period {
		return out
	}
	var sum float64
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average seeded with the SMA of the
// first period values. NaN inputs are skipped until the seed is complete.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}

	start := -1
	for i, v := range values {
		if !math.IsNaN(v) {
			start = i
			break
		}
	}
	if start < 0 || len(values)-start < period {
		return out
	}

	var sum float64
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	seed := start + period - 1
	out[seed] = sum / float64(period)

	k := 2 / float64(period+1)
	for i := seed + 1; i < len(values); i++ {
		out[i] = out[i-1] + k*(values[i]-out[i-1])
	}
	return out
}
