package domain

import "github.com/shopspring/decimal"

// Position is an open holding of one symbol.
//
// Quantity is always positive for a stored position; a position whose
// quantity reaches zero is removed by the ledger.
type Position struct {
	Symbol    string
	Token     string          // token address
	Quantity  decimal.Decimal // token units (already scaled by decimals)
	AvgCost   decimal.Decimal // weighted-average entry price, USD
	HighWater float64         // highest observed price since entry, USD
	OpenedAt  int64           // first fill timestamp (ms)
	UpdatedAt int64           // last fill timestamp (ms)
}

// CostBasis returns Quantity * AvgCost.
func (p Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.AvgCost)
}

// UnrealizedPct returns the percent gain of price over the average cost.
func (p Position) UnrealizedPct(price float64) float64 {
	if p.AvgCost.IsZero() {
		return 0
	}
	avg, _ := p.AvgCost.Float64()
	return (price/avg - 1) * 100
}
