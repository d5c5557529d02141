package memory

import (
	"context"
	"sort"
	"sync"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// TradeLogStore is an in-memory implementation of storage.TradeLogStore.
type TradeLogStore struct {
	mu      sync.RWMutex
	entries []*domain.TradeLogEntry // append order
	ids     map[string]struct{}
}

// NewTradeLogStore creates a new in-memory trade log.
func NewTradeLogStore() *TradeLogStore {
	return &TradeLogStore{
		ids: make(map[string]struct{}),
	}
}

// Append adds a new entry. Returns ErrDuplicateKey if the ID exists.
func (s *TradeLogStore) Append(_ context.Context, e *domain.TradeLogEntry) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.entries = append(s.entries, &copy)
	s.ids[e.ID] = struct{}{}
	return nil
}

// GetAll retrieves every entry, ordered by timestamp ASC then ID.
func (s *TradeLogStore) GetAll(_ context.Context) ([]*domain.TradeLogEntry, error) {
	return s.filter(func(*domain.TradeLogEntry) bool { return true }), nil
}

// GetBySymbol retrieves all entries for a symbol.
func (s *TradeLogStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.TradeLogEntry, error) {
	return s.filter(func(e *domain.TradeLogEntry) bool { return e.Symbol == symbol }), nil
}

// GetByTimeRange retrieves entries within [start, end] (inclusive).
func (s *TradeLogStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.TradeLogEntry, error) {
	return s.filter(func(e *domain.TradeLogEntry) bool {
		return e.Timestamp >= start && e.Timestamp <= end
	}), nil
}

func (s *TradeLogStore) filter(keep func(*domain.TradeLogEntry) bool) []*domain.TradeLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeLogEntry
	for _, e := range s.entries {
		if keep(e) {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].ID < result[j].ID
	})
	return result
}

var _ storage.TradeLogStore = (*TradeLogStore)(nil)
