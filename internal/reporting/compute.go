package reporting

import (
	"math"
	"sort"

	"dex-trade-agent/internal/domain"
)

// closed reports whether e is a closed trade with a realized PnL.
func closed(e *domain.TradeLogEntry) bool {
	return e.Action == domain.ActionSell && e.Outcome == domain.OutcomeSuccess
}

// computeSummary fills Summary from entries in chronological order.
func computeSummary(entries []*domain.TradeLogEntry) Summary {
	var s Summary
	s.TotalEntries = len(entries)

	var pnl []float64
	for _, e := range entries {
		if s.FirstEntry == 0 || e.Timestamp < s.FirstEntry {
			s.FirstEntry = e.Timestamp
		}
		if e.Timestamp > s.LastEntry {
			s.LastEntry = e.Timestamp
		}
		if e.Simulated {
			s.Simulated++
		}

		switch e.Outcome {
		case domain.OutcomeRejected:
			s.Rejected++
			continue
		case domain.OutcomeFailed:
			s.Failed++
			continue
		}

		switch e.Action {
		case domain.ActionBuy:
			s.Buys++
		case domain.ActionSell:
			s.Sells++
		}
		if closed(e) {
			pnl = append(pnl, e.PnLPct)
		}
	}

	s.ClosedTrades = len(pnl)
	if len(pnl) == 0 {
		return s
	}

	for _, p := range pnl {
		if p > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	s.WinRate = float64(s.Wins) / float64(len(pnl))
	s.PnLMean = mean(pnl)
	s.PnLStdDev = stddev(pnl, s.PnLMean)
	s.MaxDrawdown = maxDrawdown(pnl)
	s.MaxConsecutiveLosses = maxConsecutiveLosses(pnl)

	sorted := append([]float64(nil), pnl...)
	sort.Float64s(sorted)
	s.PnLMedian = percentile(sorted, 0.5)
	s.PnLP10 = percentile(sorted, 0.10)
	s.PnLP90 = percentile(sorted, 0.90)
	return s
}

func computeOutcomes(entries []*domain.TradeLogEntry) []OutcomeRow {
	counts := make(map[OutcomeRow]int)
	for _, e := range entries {
		key := OutcomeRow{Action: string(e.Action), Outcome: string(e.Outcome), Reason: e.Reason}
		counts[key]++
	}

	rows := make([]OutcomeRow, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		rows = append(rows, k)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Action != rows[j].Action {
			return rows[i].Action < rows[j].Action
		}
		if rows[i].Outcome != rows[j].Outcome {
			return rows[i].Outcome < rows[j].Outcome
		}
		return rows[i].Reason < rows[j].Reason
	})
	return rows
}

func computeSymbols(entries []*domain.TradeLogEntry) []SymbolRow {
	type acc struct {
		row  SymbolRow
		wins int
		pnl  []float64
	}
	bySymbol := make(map[string]*acc)
	for _, e := range entries {
		a, ok := bySymbol[e.Symbol]
		if !ok {
			a = &acc{row: SymbolRow{Symbol: e.Symbol}}
			bySymbol[e.Symbol] = a
		}
		if e.Timestamp > a.row.LastAt {
			a.row.LastAt = e.Timestamp
		}
		if e.Outcome != domain.OutcomeSuccess {
			a.row.Failures++
			continue
		}
		switch e.Action {
		case domain.ActionBuy:
			a.row.Buys++
		case domain.ActionSell:
			a.row.Sells++
			a.pnl = append(a.pnl, e.PnLPct)
			a.row.PnLSum += e.PnLPct
			if e.PnLPct > 0 {
				a.wins++
			}
		}
	}

	rows := make([]SymbolRow, 0, len(bySymbol))
	for _, a := range bySymbol {
		if len(a.pnl) > 0 {
			a.row.WinRate = float64(a.wins) / float64(len(a.pnl))
			a.row.PnLMean = mean(a.pnl)
		}
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PnLSum != rows[j].PnLSum {
			return rows[i].PnLSum > rows[j].PnLSum
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return rows
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation.
func stddev(xs []float64, m float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// percentile uses linear interpolation between closest ranks.
// sorted must be ascending; p is in [0, 1].
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch n {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// maxDrawdown is the worst peak-to-trough drop of the cumulative sum.
// The curve starts at zero.
func maxDrawdown(xs []float64) float64 {
	cum, peak, worst := 0.0, 0.0, 0.0
	for _, x := range xs {
		cum += x
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > worst {
			worst = dd
		}
	}
	return worst
}

// maxConsecutiveLosses is the longest run of values <= 0.
func maxConsecutiveLosses(xs []float64) int {
	best, cur := 0, 0
	for _, x := range xs {
		if x > 0 {
			cur = 0
			continue
		}
		cur++
		if cur > best {
			best = cur
		}
	}
	return best
}
