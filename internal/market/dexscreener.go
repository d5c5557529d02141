package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dex-trade-agent/internal/domain"
)

// DefaultDexScreenerURL is the public DexScreener API.
const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreenerClient reads token prices and pair statistics from DexScreener.
// Among a token's pairs on the configured chain, the deepest one wins.
type DexScreenerClient struct {
	baseURL string
	chain   string
	http    *getter
}

// NewDexScreenerClient creates a client for pairs on chain (DexScreener
// chain id, e.g. "arbitrum").
func NewDexScreenerClient(baseURL, chain string, opts ...ClientOption) *DexScreenerClient {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	return &DexScreenerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		chain:   strings.ToLower(chain),
		http:    newGetter("dexscreener", opts),
	}
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	PriceUSD  string `json:"priceUsd"`
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// Price returns the USD price of the token at address.
func (c *DexScreenerClient) Price(ctx context.Context, address string) (float64, error) {
	m, err := c.Metrics(ctx, address)
	if err != nil {
		return 0, err
	}
	return m.PriceUSD, nil
}

// Metrics returns price, liquidity, volume and 24h change for the token's
// deepest pair where it is the base token.
func (c *DexScreenerClient) Metrics(ctx context.Context, address string) (domain.TokenMetrics, error) {
	var resp dexResponse
	if err := c.http.getJSON(ctx, c.baseURL+"/latest/dex/tokens/"+address, &resp); err != nil {
		return domain.TokenMetrics{}, fmt.Errorf("dexscreener %s: %w", address, err)
	}

	var best *dexPair
	bestLiq := -1.0
	for i := range resp.Pairs {
		p := &resp.Pairs[i]
		if c.chain != "" && !strings.EqualFold(p.ChainID, c.chain) {
			continue
		}
		if !strings.EqualFold(p.BaseToken.Address, address) {
			continue
		}
		liq := 0.0
		if p.Liquidity != nil {
			liq = p.Liquidity.USD
		}
		if liq > bestLiq {
			best, bestLiq = p, liq
		}
	}
	if best == nil {
		return domain.TokenMetrics{}, fmt.Errorf("dexscreener %s: %w", address, ErrNotFound)
	}

	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || price <= 0 {
		return domain.TokenMetrics{}, fmt.Errorf("dexscreener %s: invalid price %q", address, best.PriceUSD)
	}

	return domain.TokenMetrics{
		PriceUSD:       price,
		LiquidityUSD:   bestLiq,
		VolumeUSD24h:   best.Volume.H24,
		PriceChange24h: best.PriceChange.H24,
	}, nil
}
