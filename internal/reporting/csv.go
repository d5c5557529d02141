package reporting

import (
	"fmt"
	"strings"
)

// RenderSymbolsCSV renders per-symbol rows as CSV string.
func RenderSymbolsCSV(rows []SymbolRow) string {
	var sb strings.Builder

	sb.WriteString("symbol,buys,sells,failures,win_rate,pnl_mean,pnl_sum,last_at\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%.6f,%.6f,%.6f,%d\n",
			r.Symbol,
			r.Buys,
			r.Sells,
			r.Failures,
			r.WinRate,
			r.PnLMean,
			r.PnLSum,
			r.LastAt,
		))
	}

	return sb.String()
}

// RenderPositionsCSV renders open positions as CSV string.
func RenderPositionsCSV(rows []PositionRow) string {
	var sb strings.Builder

	sb.WriteString("symbol,token,quantity,avg_cost,cost_basis,price,value,unrealized_pct,opened_at\n")
	for _, p := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%.10f,%.6f,%.10f,%.6f,%.6f,%d\n",
			p.Symbol,
			p.Token,
			p.Quantity,
			p.AvgCost,
			p.CostBasis,
			p.Price,
			p.Value,
			p.UnrealizedPct,
			p.OpenedAt,
		))
	}

	return sb.String()
}
