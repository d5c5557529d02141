package universe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dex-trade-agent/internal/domain"
)

type cachedToken struct {
	Symbol   string  `json:"symbol"`
	Address  string  `json:"address"`
	Decimals uint8   `json:"decimals,omitempty"`
	Feed     string  `json:"feed,omitempty"`
	Score    float64 `json:"score"`
}

type cacheFile struct {
	UpdatedAt int64         `json:"updated_at"` // unix ms
	Tokens    []cachedToken `json:"tokens"`
}

// ReadCache loads the token cache file. The returned tokens keep file order.
func ReadCache(path string) ([]domain.Token, time.Time, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}

	var f cacheFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode token cache %s: %w", path, err)
	}

	tokens := make([]domain.Token, 0, len(f.Tokens))
	for _, t := range f.Tokens {
		tokens = append(tokens, domain.Token{
			Symbol:   domain.NormalizeSymbol(t.Symbol),
			Address:  t.Address,
			Decimals: t.Decimals,
			Feed:     t.Feed,
			Score:    t.Score,
		})
	}
	return tokens, time.UnixMilli(f.UpdatedAt), nil
}

// WriteCache replaces the token cache file atomically.
func WriteCache(path string, tokens []domain.Token, at time.Time) error {
	f := cacheFile{UpdatedAt: at.UnixMilli(), Tokens: make([]cachedToken, 0, len(tokens))}
	for _, t := range tokens {
		f.Tokens = append(f.Tokens, cachedToken{
			Symbol:   t.Symbol,
			Address:  t.Address,
			Decimals: t.Decimals,
			Feed:     t.Feed,
			Score:    t.Score,
		})
	}

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token cache: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}
	return nil
}
