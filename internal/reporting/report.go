package reporting

import "time"

// Report is a performance summary of the trade log.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	RangeStart  int64 // Unix ms, 0 when unbounded
	RangeEnd    int64 // Unix ms, 0 when unbounded
	Simulated   bool  // paper/dry-run entries included in the statistics

	Summary   Summary
	Outcomes  []OutcomeRow  // sorted by action, outcome, reason
	Symbols   []SymbolRow   // sorted by realized PnL sum DESC, then symbol
	Positions []PositionRow // open positions rebuilt from the full log, by symbol
}

// Summary contains trade-level statistics over closed trades.
//
// A closed trade is a successful SELL; its PnLPct is the realized return
// against the average entry cost.
type Summary struct {
	TotalEntries int
	Buys         int
	Sells        int
	Rejected     int
	Failed       int
	Simulated    int

	FirstEntry int64 // Unix ms
	LastEntry  int64 // Unix ms

	ClosedTrades         int
	Wins                 int
	Losses               int
	WinRate              float64
	PnLMean              float64 // percent
	PnLMedian            float64
	PnLP10               float64
	PnLP90               float64
	PnLStdDev            float64
	MaxDrawdown          float64 // percent points on the cumulative PnL curve
	MaxConsecutiveLosses int
}

// OutcomeRow counts entries for one action/outcome/reason triple.
type OutcomeRow struct {
	Action  string
	Outcome string
	Reason  string
	Count   int
}

// SymbolRow aggregates trades for one symbol.
type SymbolRow struct {
	Symbol   string
	Buys     int
	Sells    int
	Failures int // rejected + failed
	WinRate  float64
	PnLMean  float64
	PnLSum   float64
	LastAt   int64 // Unix ms of the latest entry
}

// PositionRow is one open position, optionally marked to market.
type PositionRow struct {
	Symbol        string
	Token         string
	Quantity      string
	AvgCost       float64
	CostBasis     float64
	Price         float64 // 0 when no mark price is available
	Value         float64
	UnrealizedPct float64
	OpenedAt      int64
}
