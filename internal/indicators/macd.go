package indicators

import "math"

// MACDSeries holds the three MACD output series, aligned with the input.
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow), its EMA(signal), and the histogram.
// The histogram is available from index slow+signal-2.
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	line := nanSeries(len(closes))
	for i := range closes {
		if !math.IsNaN(fastEMA[i]) && !math.IsNaN(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}

	sig := EMA(line, signal)
	hist := nanSeries(len(closes))
	for i := range closes {
		if !math.IsNaN(line[i]) && !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}

	return MACDSeries{Line: line, Signal: sig, Histogram: hist}
}
