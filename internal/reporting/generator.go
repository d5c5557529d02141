package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/ledger"
	"dex-trade-agent/internal/storage"
)

// PriceSource marks open positions to market. Keyed by token address.
type PriceSource interface {
	Price(ctx context.Context, address string) (float64, error)
}

// Generator produces reports from the stored trade log.
type Generator struct {
	store     storage.TradeLogStore
	prices    PriceSource
	skip      []string
	simulated bool
	logger    zerolog.Logger
	now       func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator. Symbols in skip (base and quote
// assets) never appear as positions.
func NewGenerator(store storage.TradeLogStore, skip ...string) *Generator {
	return &Generator{
		store:  store,
		skip:   skip,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithPrices marks open positions with prices from src.
func (g *Generator) WithPrices(src PriceSource) *Generator {
	g.prices = src
	return g
}

// WithSimulated includes paper and dry-run entries in the statistics.
// Positions are always rebuilt from real fills only.
func (g *Generator) WithSimulated(include bool) *Generator {
	g.simulated = include
	return g
}

// WithLogger sets the logger used for mark-price failures.
func (g *Generator) WithLogger(logger zerolog.Logger) *Generator {
	g.logger = logger.With().Str("component", "reporting").Logger()
	return g
}

// Generate builds a report over [start, end] (Unix ms). A zero end means
// unbounded; open positions always reflect the full log.
func (g *Generator) Generate(ctx context.Context, start, end int64) (*Report, error) {
	all, err := g.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trade log: %w", err)
	}

	entries := make([]*domain.TradeLogEntry, 0, len(all))
	for _, e := range all {
		if e.Timestamp < start || (end > 0 && e.Timestamp > end) {
			continue
		}
		if e.Simulated && !g.simulated {
			continue
		}
		entries = append(entries, e)
	}

	positions, err := g.positions(ctx, all)
	if err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt: g.now(),
		RangeStart:  start,
		RangeEnd:    end,
		Simulated:   g.simulated,
		Summary:     computeSummary(entries),
		Outcomes:    computeOutcomes(entries),
		Symbols:     computeSymbols(entries),
		Positions:   positions,
	}, nil
}

func (g *Generator) positions(ctx context.Context, entries []*domain.TradeLogEntry) ([]PositionRow, error) {
	l := ledger.New(g.skip...)
	for _, e := range entries {
		// A sell without a matching buy is ignored, as on agent restart.
		_ = l.Apply(e)
	}

	open := l.Positions()
	rows := make([]PositionRow, 0, len(open))
	for _, p := range open {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		avg, _ := p.AvgCost.Float64()
		basis, _ := p.CostBasis().Float64()
		row := PositionRow{
			Symbol:    p.Symbol,
			Token:     p.Token,
			Quantity:  p.Quantity.String(),
			AvgCost:   avg,
			CostBasis: basis,
			OpenedAt:  p.OpenedAt,
		}
		if g.prices != nil {
			price, err := g.prices.Price(ctx, p.Token)
			if err != nil {
				g.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("mark price unavailable")
			} else {
				qty, _ := p.Quantity.Float64()
				row.Price = price
				row.Value = qty * price
				row.UnrealizedPct = p.UnrealizedPct(price)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
