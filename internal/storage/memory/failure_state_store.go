package memory

import (
	"context"
	"sort"
	"sync"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// FailureStateStore is an in-memory implementation of storage.FailureStateStore.
type FailureStateStore struct {
	mu   sync.RWMutex
	data map[string]domain.FailureState
}

// NewFailureStateStore creates a new in-memory failure state store.
func NewFailureStateStore() *FailureStateStore {
	return &FailureStateStore{
		data: make(map[string]domain.FailureState),
	}
}

// Get retrieves the state for a symbol. Returns ErrNotFound if not exists.
func (s *FailureStateStore) Get(_ context.Context, symbol string) (*domain.FailureState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[symbol]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &st, nil
}

// Put stores the state, replacing any previous value.
func (s *FailureStateStore) Put(_ context.Context, st *domain.FailureState) error {
	if st == nil || st.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	s.data[st.Symbol] = *st
	s.mu.Unlock()
	return nil
}

// Delete removes the state for a symbol.
func (s *FailureStateStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.data, symbol)
	s.mu.Unlock()
	return nil
}

// GetAll retrieves every stored state, ordered by symbol.
func (s *FailureStateStore) GetAll(_ context.Context) ([]*domain.FailureState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FailureState, 0, len(s.data))
	for _, st := range s.data {
		st := st
		result = append(result, &st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

var _ storage.FailureStateStore = (*FailureStateStore)(nil)
