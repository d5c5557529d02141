package clickhouse

import (
	"context"
	"fmt"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// PriceSampleStore implements storage.PriceSampleStore using ClickHouse.
type PriceSampleStore struct {
	conn *Conn
}

// NewPriceSampleStore creates a new PriceSampleStore.
func NewPriceSampleStore(conn *Conn) *PriceSampleStore {
	return &PriceSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)

// InsertBulk adds multiple samples. Fails entire batch on duplicate (symbol, timestamp_ms).
func (s *PriceSampleStore) InsertBulk(ctx context.Context, samples []*domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	type key struct {
		symbol      string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(samples))
	for _, p := range samples {
		if p == nil || p.Symbol == "" || p.TimestampMs < 0 {
			return storage.ErrInvalidInput
		}
		k := key{p.Symbol, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce uniqueness, so check existing rows first.
	for _, p := range samples {
		exists, err := s.exists(ctx, p.Symbol, p.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO price_samples (symbol, timestamp_ms, price)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range samples {
		if err := batch.Append(p.Symbol, uint64(p.TimestampMs), p.Price); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRecent retrieves the newest limit samples for a symbol, oldest first.
func (s *PriceSampleStore) GetRecent(ctx context.Context, symbol string, limit int) ([]*domain.PriceSample, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT symbol, timestamp_ms, price
		FROM price_samples
		WHERE symbol = ?
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent samples: %w", err)
	}
	defer rows.Close()

	samples, err := scanPriceSamples(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// GetByTimeRange retrieves samples for a symbol within [start, end] (inclusive).
func (s *PriceSampleStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.PriceSample, error) {
	query := `
		SELECT symbol, timestamp_ms, price
		FROM price_samples
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPriceSamples(rows)
}

func (s *PriceSampleStore) exists(ctx context.Context, symbol string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM price_samples
		WHERE symbol = ? AND timestamp_ms = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, symbol, uint64(timestampMs)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanPriceSamples(rows chRows) ([]*domain.PriceSample, error) {
	var samples []*domain.PriceSample

	for rows.Next() {
		var p domain.PriceSample
		var timestampMs uint64

		if err := rows.Scan(&p.Symbol, &timestampMs, &p.Price); err != nil {
			return nil, fmt.Errorf("scan price sample row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		samples = append(samples, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price sample rows: %w", err)
	}

	return samples, nil
}
