package domain

import "strings"

// Token is a tradable asset in the universe.
type Token struct {
	Symbol   string  // case-normalized, unique within the universe
	Address  string  // EIP-55 checksum address
	Decimals uint8   // ERC20 decimals (0 = unknown, resolved on chain)
	Feed     string  // optional price-feed reference (Chainlink aggregator address)
	Score    float64 // rank score assigned at the last universe refresh
}

// NormalizeSymbol trims and upper-cases a token symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// TokenMetrics are market statistics used to rank a candidate.
type TokenMetrics struct {
	PriceUSD       float64
	LiquidityUSD   float64
	VolumeUSD24h   float64
	PriceChange24h float64 // percent
}
