package domain

import "github.com/shopspring/decimal"

// Action is the side of a trade.
type Action string

// Trade actions.
const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Outcome is the terminal state of one trade intent.
type Outcome string

// Trade outcomes.
const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeFailed   Outcome = "FAILED"
)

// Reason codes attached to rejected and failed outcomes.
const (
	ReasonDisabled  = "disabled"
	ReasonGas       = "gas"
	ReasonBalance   = "balance"
	ReasonLiquidity = "liquidity"
	ReasonAmount    = "amount"
	ReasonSimulate  = "simulate"
	ReasonApprove   = "approve"
	ReasonSubmit    = "submit"
	ReasonNoFill    = "no-fill"
)

// Trigger reasons attached to successful outcomes.
const (
	TriggerSignal       = "signal"
	TriggerStopLoss     = "stop-loss"
	TriggerTakeProfit   = "take-profit"
	TriggerTrailingStop = "trailing-stop"
	TriggerSellSignal   = "sell-signal"
)

// TradeLogEntry is one append-only record of a trade attempt.
// The trade log is the source of truth for rebuilding positions on restart.
type TradeLogEntry struct {
	ID        string          // deterministic hash, see idhash.ComputeEntryID
	Timestamp int64           // attempt time (ms)
	Action    Action          // BUY | SELL
	Symbol    string          // token symbol
	Token     string          // token address
	Quantity  decimal.Decimal // filled token units; quoted or requested units otherwise
	Price     float64         // USD price per token at decision time
	Outcome   Outcome         // SUCCESS | REJECTED | FAILED
	Reason    string          // trigger for SUCCESS, reason code otherwise
	PnLPct    float64         // realized % for sells, unrealized % otherwise
	TxHash    string          // transaction reference (empty when none was sent)
	Simulated bool            // paper/dry-run outcome, never mutates positions
	Error     string          // underlying error text for FAILED
}

// Counts reports whether the entry changes position state on replay.
func (e *TradeLogEntry) Counts() bool {
	return e.Outcome == OutcomeSuccess && !e.Simulated && e.Quantity.IsPositive()
}
