// Package indicators computes technical indicator series from closing prices.
//
// Every function returns a slice aligned with its input: out[i] is the
// indicator value at closes[i], and NaN while the indicator is warming up.
package indicators

import "math"

// Last returns the last value of a series, or NaN when empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// Prev returns the value n positions before the last one, or NaN.
func Prev(series []float64, n int) float64 {
	i := len(series) - 1 - n
	if i < 0 {
		return math.NaN()
	}
	return series[i]
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
