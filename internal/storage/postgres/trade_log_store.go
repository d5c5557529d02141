package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// TradeLogStore implements storage.TradeLogStore using PostgreSQL.
type TradeLogStore struct {
	pool *Pool
}

// NewTradeLogStore creates a new TradeLogStore.
func NewTradeLogStore(pool *Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLogStore = (*TradeLogStore)(nil)

const tradeLogColumns = `
	entry_id, timestamp_ms, action, symbol, token,
	quantity::TEXT, price, outcome, reason, pnl_pct,
	tx_hash, simulated, error
`

// Append adds a new entry. Returns ErrDuplicateKey if entry_id exists.
func (s *TradeLogStore) Append(ctx context.Context, e *domain.TradeLogEntry) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_log (
			entry_id, timestamp_ms, action, symbol, token,
			quantity, price, outcome, reason, pnl_pct,
			tx_hash, simulated, error
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC, $7, $8, $9, $10,
			$11, $12, $13
		)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Timestamp, string(e.Action), e.Symbol, e.Token,
		e.Quantity.String(), e.Price, string(e.Outcome), e.Reason, e.PnLPct,
		e.TxHash, e.Simulated, e.Error,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append trade log entry: %w", err)
	}
	return nil
}

// GetAll retrieves every entry in replay order.
func (s *TradeLogStore) GetAll(ctx context.Context) ([]*domain.TradeLogEntry, error) {
	query := `SELECT ` + tradeLogColumns + `
		FROM trade_log
		ORDER BY timestamp_ms ASC, entry_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all trade log entries: %w", err)
	}
	defer rows.Close()

	return scanTradeLogEntries(rows)
}

// GetBySymbol retrieves all entries for a symbol.
func (s *TradeLogStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.TradeLogEntry, error) {
	query := `SELECT ` + tradeLogColumns + `
		FROM trade_log
		WHERE symbol = $1
		ORDER BY timestamp_ms ASC, entry_id ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get trade log entries by symbol: %w", err)
	}
	defer rows.Close()

	return scanTradeLogEntries(rows)
}

// GetByTimeRange retrieves entries within [start, end] (inclusive).
func (s *TradeLogStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.TradeLogEntry, error) {
	query := `SELECT ` + tradeLogColumns + `
		FROM trade_log
		WHERE timestamp_ms >= $1 AND timestamp_ms <= $2
		ORDER BY timestamp_ms ASC, entry_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trade log entries by time range: %w", err)
	}
	defer rows.Close()

	return scanTradeLogEntries(rows)
}

// scanTradeLogEntries scans multiple rows into a slice of entries.
func scanTradeLogEntries(rows pgx.Rows) ([]*domain.TradeLogEntry, error) {
	var entries []*domain.TradeLogEntry

	for rows.Next() {
		var e domain.TradeLogEntry
		var action, outcome, quantity string

		err := rows.Scan(
			&e.ID, &e.Timestamp, &action, &e.Symbol, &e.Token,
			&quantity, &e.Price, &outcome, &e.Reason, &e.PnLPct,
			&e.TxHash, &e.Simulated, &e.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade log row: %w", err)
		}

		e.Action = domain.Action(action)
		e.Outcome = domain.Outcome(outcome)
		e.Quantity, err = decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", quantity, err)
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade log rows: %w", err)
	}

	return entries, nil
}
