package indicators

// Momentum returns the percent change over n periods.
func Momentum(closes []float64, n int) []float64 {
	out := nanSeries(len(closes))
	if n <= 0 {
		return out
	}
	for i := n; i < len(closes); i++ {
		if closes[i-n] == 0 {
			continue
		}
		out[i] = (closes[i]/closes[i-n] - 1) * 100
	}
	return out
}
