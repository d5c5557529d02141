package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dex-trade-agent/internal/domain"
)

// TokenListClient reads a Uniswap-style token list and returns the tokens
// deployed on one chain.
type TokenListClient struct {
	url     string
	chainID int64
	http    *getter
}

// NewTokenListClient creates a client for the list at url.
func NewTokenListClient(url string, chainID int64, opts ...ClientOption) *TokenListClient {
	return &TokenListClient{
		url:     url,
		chainID: chainID,
		http:    newGetter("tokenlist", opts),
	}
}

type tokenList struct {
	Name   string `json:"name"`
	Tokens []struct {
		ChainID  int64  `json:"chainId"`
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals uint8  `json:"decimals"`
	} `json:"tokens"`
}

// Candidates returns the list's tokens on the configured chain with
// normalized symbols and checksum addresses. Entries with a malformed
// address or empty symbol are dropped; the first entry per symbol wins.
func (c *TokenListClient) Candidates(ctx context.Context) ([]domain.Token, error) {
	var list tokenList
	if err := c.http.getJSON(ctx, c.url, &list); err != nil {
		return nil, fmt.Errorf("token list: %w", err)
	}

	seen := make(map[string]bool)
	var out []domain.Token
	for _, t := range list.Tokens {
		if t.ChainID != c.chainID {
			continue
		}
		sym := domain.NormalizeSymbol(t.Symbol)
		addr := strings.TrimSpace(t.Address)
		if sym == "" || seen[sym] || !common.IsHexAddress(addr) {
			continue
		}
		seen[sym] = true
		out = append(out, domain.Token{
			Symbol:   sym,
			Address:  common.HexToAddress(addr).Hex(),
			Decimals: t.Decimals,
		})
	}
	return out, nil
}
