package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Trading Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Range: %s to %s", formatMs(r.RangeStart), formatMs(r.RangeEnd)))
	if r.Simulated {
		sb.WriteString(" (simulated entries included)")
	}
	sb.WriteString("\n\n")

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Entries | %d |\n", s.TotalEntries))
	sb.WriteString(fmt.Sprintf("| Buys | %d |\n", s.Buys))
	sb.WriteString(fmt.Sprintf("| Sells | %d |\n", s.Sells))
	sb.WriteString(fmt.Sprintf("| Rejected | %d |\n", s.Rejected))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", s.Failed))
	sb.WriteString(fmt.Sprintf("| Simulated | %d |\n", s.Simulated))
	sb.WriteString(fmt.Sprintf("| First Entry | %s |\n", formatMs(s.FirstEntry)))
	sb.WriteString(fmt.Sprintf("| Last Entry | %s |\n", formatMs(s.LastEntry)))
	sb.WriteString("\n")

	sb.WriteString("## Closed Trades\n\n")
	if s.ClosedTrades == 0 {
		sb.WriteString("No closed trades.\n\n")
	} else {
		sb.WriteString("| Trades | Wins | Losses | WinRate | Mean % | Median % | P10 % | P90 % | StdDev | MaxDD | MaxLossStreak |\n")
		sb.WriteString("|--------|------|--------|---------|--------|----------|-------|-------|--------|-------|---------------|\n")
		sb.WriteString(fmt.Sprintf("| %d | %d | %d | %.4f | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f | %d |\n\n",
			s.ClosedTrades, s.Wins, s.Losses, s.WinRate, s.PnLMean, s.PnLMedian,
			s.PnLP10, s.PnLP90, s.PnLStdDev, s.MaxDrawdown, s.MaxConsecutiveLosses))
	}

	// Outcomes
	sb.WriteString("## Outcomes\n\n")
	if len(r.Outcomes) > 0 {
		sb.WriteString("| Action | Outcome | Reason | Count |\n")
		sb.WriteString("|--------|---------|--------|-------|\n")
		for _, o := range r.Outcomes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n", o.Action, o.Outcome, dash(o.Reason), o.Count))
		}
	} else {
		sb.WriteString("No entries in range.\n")
	}
	sb.WriteString("\n")

	// Symbols
	sb.WriteString("## Symbols\n\n")
	if len(r.Symbols) > 0 {
		sb.WriteString("| Symbol | Buys | Sells | Failures | WinRate | Mean % | Sum % | Last |\n")
		sb.WriteString("|--------|------|-------|----------|---------|--------|-------|------|\n")
		for _, row := range r.Symbols {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %.4f | %.2f | %.2f | %s |\n",
				row.Symbol, row.Buys, row.Sells, row.Failures, row.WinRate,
				row.PnLMean, row.PnLSum, formatMs(row.LastAt)))
		}
	} else {
		sb.WriteString("No symbols traded.\n")
	}
	sb.WriteString("\n")

	// Positions
	sb.WriteString("## Open Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| Symbol | Quantity | AvgCost | CostBasis | Price | Value | Unrealized % | Opened |\n")
		sb.WriteString("|--------|----------|---------|-----------|-------|-------|--------------|--------|\n")
		for _, p := range r.Positions {
			price, value, pct := "-", "-", "-"
			if p.Price > 0 {
				price = fmt.Sprintf("%.6g", p.Price)
				value = fmt.Sprintf("%.2f", p.Value)
				pct = fmt.Sprintf("%.2f", p.UnrealizedPct)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %.6g | %.2f | %s | %s | %s | %s |\n",
				p.Symbol, p.Quantity, p.AvgCost, p.CostBasis, price, value, pct, formatMs(p.OpenedAt)))
		}
	} else {
		sb.WriteString("No open positions.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
