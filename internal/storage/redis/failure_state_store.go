package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

// Key layout:
//
//	<prefix>:failure:<symbol>  JSON-encoded FailureState, expiring after TTL
//	<prefix>:failures          set of symbols with stored state
const (
	DefaultKeyPrefix = "dexagent"
	DefaultStateTTL  = 24 * time.Hour
)

type failureState struct {
	Symbol        string `json:"symbol"`
	Count         int    `json:"count"`
	LastFailure   int64  `json:"last_failure_ms"`
	DisabledUntil int64  `json:"disabled_until_ms"`
}

// FailureStateStore implements storage.FailureStateStore on Redis.
type FailureStateStore struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewFailureStateStore creates a store. Empty prefix and non-positive ttl
// select the defaults. The TTL must exceed the breaker cooldown.
func NewFailureStateStore(client *Client, prefix string, ttl time.Duration) *FailureStateStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &FailureStateStore{client: client, prefix: prefix, ttl: ttl}
}

// Compile-time interface check.
var _ storage.FailureStateStore = (*FailureStateStore)(nil)

func (s *FailureStateStore) key(symbol string) string {
	return fmt.Sprintf("%s:failure:%s", s.prefix, symbol)
}

func (s *FailureStateStore) indexKey() string {
	return s.prefix + ":failures"
}

// Get retrieves the state for a symbol. Returns ErrNotFound if not exists.
func (s *FailureStateStore) Get(ctx context.Context, symbol string) (*domain.FailureState, error) {
	raw, err := s.client.Get(ctx, s.key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get failure state: %w", err)
	}

	var fs failureState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("decode failure state %s: %w", symbol, err)
	}
	return &domain.FailureState{
		Symbol:        fs.Symbol,
		Count:         fs.Count,
		LastFailure:   fs.LastFailure,
		DisabledUntil: fs.DisabledUntil,
	}, nil
}

// Put stores the state, replacing any previous value.
func (s *FailureStateStore) Put(ctx context.Context, st *domain.FailureState) error {
	if st == nil || st.Symbol == "" {
		return storage.ErrInvalidInput
	}

	raw, err := json.Marshal(failureState{
		Symbol:        st.Symbol,
		Count:         st.Count,
		LastFailure:   st.LastFailure,
		DisabledUntil: st.DisabledUntil,
	})
	if err != nil {
		return fmt.Errorf("encode failure state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(st.Symbol), raw, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), st.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put failure state: %w", err)
	}
	return nil
}

// Delete removes the state for a symbol.
func (s *FailureStateStore) Delete(ctx context.Context, symbol string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(symbol))
	pipe.SRem(ctx, s.indexKey(), symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete failure state: %w", err)
	}
	return nil
}

// GetAll retrieves every stored state, ordered by symbol. Index members whose
// state key has expired are pruned.
func (s *FailureStateStore) GetAll(ctx context.Context) ([]*domain.FailureState, error) {
	symbols, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list failure states: %w", err)
	}
	sort.Strings(symbols)

	result := make([]*domain.FailureState, 0, len(symbols))
	for _, sym := range symbols {
		st, err := s.Get(ctx, sym)
		if errors.Is(err, storage.ErrNotFound) {
			_ = s.client.SRem(ctx, s.indexKey(), sym).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, nil
}
