package memory

import (
	"context"
	"sort"
	"sync"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// PriceSampleStore is an in-memory implementation of storage.PriceSampleStore.
type PriceSampleStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.PriceSample // keyed by symbol, sorted by timestamp
}

// NewPriceSampleStore creates a new in-memory price sample store.
func NewPriceSampleStore() *PriceSampleStore {
	return &PriceSampleStore{
		data: make(map[string][]*domain.PriceSample),
	}
}

// InsertBulk adds multiple samples atomically. Fails entire batch on any duplicate.
func (s *PriceSampleStore) InsertBulk(_ context.Context, samples []*domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		symbol string
		ts     int64
	}
	batchKeys := make(map[key]struct{}, len(samples))

	for _, p := range samples {
		if p == nil || p.Symbol == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.Symbol, p.TimestampMs}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
		for _, existing := range s.data[p.Symbol] {
			if existing.TimestampMs == p.TimestampMs {
				return storage.ErrDuplicateKey
			}
		}
	}

	touched := make(map[string]struct{})
	for _, p := range samples {
		copy := *p
		s.data[p.Symbol] = append(s.data[p.Symbol], &copy)
		touched[p.Symbol] = struct{}{}
	}
	for sym := range touched {
		series := s.data[sym]
		sort.Slice(series, func(i, j int) bool { return series[i].TimestampMs < series[j].TimestampMs })
	}

	return nil
}

// GetRecent retrieves the newest limit samples for a symbol, oldest first.
func (s *PriceSampleStore) GetRecent(_ context.Context, symbol string, limit int) ([]*domain.PriceSample, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[symbol]
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	return copySamples(series), nil
}

// GetByTimeRange retrieves samples for a symbol within [start, end] (inclusive).
func (s *PriceSampleStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSample
	for _, p := range s.data[symbol] {
		if p.TimestampMs >= start && p.TimestampMs <= end {
			copy := *p
			result = append(result, &copy)
		}
	}
	return result, nil
}

func copySamples(in []*domain.PriceSample) []*domain.PriceSample {
	out := make([]*domain.PriceSample, len(in))
	for i, p := range in {
		copy := *p
		out[i] = &copy
	}
	return out
}

var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)
