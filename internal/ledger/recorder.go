package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/events"
	"dex-trade-agent/internal/idhash"
	"dex-trade-agent/internal/observability"
	"dex-trade-agent/internal/storage"
)

// RiskTracker receives position lifecycle changes.
type RiskTracker interface {
	RecordEntry(symbol string, price float64)
	Restore(symbol string, entry, highWater float64)
	Forget(symbol string)
}

// Recorder is the single write path for trade outcomes: it appends the
// entry, applies counting fills to the ledger and risk state, and exports
// the entry.
type Recorder struct {
	store     storage.TradeLogStore
	ledger    *Ledger
	risk      RiskTracker
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
	instance  string // random per process, mixed into entry IDs
	seq       atomic.Uint64
}

// NewRecorder creates a Recorder. A nil publisher disables export.
func NewRecorder(store storage.TradeLogStore, l *Ledger, risk RiskTracker, publisher events.Publisher, logger zerolog.Logger) *Recorder {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Recorder{
		store:     store,
		ledger:    l,
		risk:      risk,
		publisher: publisher,
		logger:    logger.With().Str("component", "recorder").Logger(),
		now:       time.Now,
		instance:  uuid.NewString(),
	}
}

// Ledger returns the ledger the recorder writes to.
func (r *Recorder) Ledger() *Ledger {
	return r.ledger
}

// Record persists e and applies its effects. The entry's ID and timestamp
// are filled in when empty. A store failure is returned, but a counting
// fill is still applied in memory since the chain state already changed.
func (r *Recorder) Record(ctx context.Context, e *domain.TradeLogEntry) error {
	if e.Timestamp == 0 {
		e.Timestamp = r.now().UnixMilli()
	}
	if e.ID == "" {
		e.ID = idhash.ComputeEntryID(e.Timestamp, e.Action, e.Symbol, e.Outcome, e.Reason, e.TxHash, r.instance, r.seq.Add(1))
	}

	var storeErr error
	if err := r.store.Append(ctx, e); err != nil {
		storeErr = fmt.Errorf("append trade log: %w", err)
		r.logger.Error().Err(err).
			Str("entry_id", e.ID).
			Str("symbol", e.Symbol).
			Str("action", string(e.Action)).
			Str("outcome", string(e.Outcome)).
			Str("quantity", e.Quantity.String()).
			Msg("trade log append failed")
	}

	r.apply(e)
	r.log(e)
	observability.RecordTrade(string(e.Action), string(e.Outcome), e.Reason, e.Simulated)
	observability.UpdatePositions(r.ledger.Len())

	if err := r.publisher.Publish(ctx, e); err != nil {
		r.logger.Warn().Err(err).Str("entry_id", e.ID).Msg("trade event publish failed")
	}

	return storeErr
}

func (r *Recorder) apply(e *domain.TradeLogEntry) {
	if !e.Counts() || r.ledger.Skipped(e.Symbol) {
		return
	}

	wasHeld := r.ledger.Holds(e.Symbol)
	if err := r.ledger.Apply(e); err != nil {
		r.logger.Error().Err(err).Str("symbol", e.Symbol).Msg("apply fill")
		return
	}
	if r.risk == nil {
		return
	}

	switch e.Action {
	case domain.ActionBuy:
		if !wasHeld {
			r.risk.RecordEntry(e.Symbol, e.Price)
		}
	case domain.ActionSell:
		if !r.ledger.Holds(e.Symbol) {
			r.risk.Forget(e.Symbol)
		}
	}
}

func (r *Recorder) log(e *domain.TradeLogEntry) {
	var ev *zerolog.Event
	switch e.Outcome {
	case domain.OutcomeSuccess:
		ev = r.logger.Info()
	case domain.OutcomeFailed:
		ev = r.logger.Error()
	default:
		ev = r.logger.Warn()
	}

	ev = ev.Str("symbol", e.Symbol).
		Str("action", string(e.Action)).
		Str("outcome", string(e.Outcome)).
		Str("reason", e.Reason).
		Str("quantity", e.Quantity.String()).
		Float64("price", e.Price).
		Bool("simulated", e.Simulated)
	if e.TxHash != "" {
		ev = ev.Str("tx_hash", e.TxHash)
	}
	if e.PnLPct != 0 {
		ev = ev.Float64("pnl_pct", e.PnLPct)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	ev.Msg("trade outcome")
}

// Restore rebuilds the ledger from the trade log and seeds risk state with
// each position's average cost and high-water mark.
func (r *Recorder) Restore(ctx context.Context) (int, error) {
	n, err := r.ledger.Restore(ctx, r.store)
	if err != nil {
		return 0, err
	}

	for _, p := range r.ledger.Positions() {
		if r.risk != nil {
			avg, _ := p.AvgCost.Float64()
			r.risk.Restore(p.Symbol, avg, p.HighWater)
		}
	}
	observability.UpdatePositions(r.ledger.Len())

	r.logger.Info().Int("entries", n).Int("positions", r.ledger.Len()).Msg("positions restored from trade log")
	return n, nil
}
