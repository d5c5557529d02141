package storage

import (
	"context"

	"dex-trade-agent/internal/domain"
)

// TradeLogStore provides access to the append-only trade log.
type TradeLogStore interface {
	// Append adds a new entry. Returns ErrDuplicateKey if the entry ID exists.
	Append(ctx context.Context, e *domain.TradeLogEntry) error

	// GetAll retrieves every entry, ordered by timestamp ASC then ID.
	GetAll(ctx context.Context) ([]*domain.TradeLogEntry, error)

	// GetBySymbol retrieves all entries for a symbol, ordered by timestamp ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.TradeLogEntry, error)

	// GetByTimeRange retrieves entries within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.TradeLogEntry, error)
}

// PriceSampleStore provides access to observed price samples.
type PriceSampleStore interface {
	// InsertBulk adds multiple samples. Fails entire batch on duplicate (symbol, timestamp_ms).
	InsertBulk(ctx context.Context, samples []*domain.PriceSample) error

	// GetRecent retrieves the newest limit samples for a symbol, ordered by timestamp ASC.
	GetRecent(ctx context.Context, symbol string, limit int) ([]*domain.PriceSample, error)

	// GetByTimeRange retrieves samples for a symbol within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.PriceSample, error)
}

// FailureStateStore persists circuit-breaker state per symbol.
// Unlike the other stores it is mutable: Put overwrites.
type FailureStateStore interface {
	// Get retrieves the state for a symbol. Returns ErrNotFound if not exists.
	Get(ctx context.Context, symbol string) (*domain.FailureState, error)

	// Put stores the state for a symbol, replacing any previous value.
	Put(ctx context.Context, s *domain.FailureState) error

	// Delete removes the state for a symbol. Deleting a missing symbol is not an error.
	Delete(ctx context.Context, symbol string) error

	// GetAll retrieves every stored state, ordered by symbol.
	GetAll(ctx context.Context) ([]*domain.FailureState, error)
}
