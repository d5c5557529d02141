package domain

// ProtocolVersion identifies the AMM family a pool belongs to.
type ProtocolVersion string

// Protocol versions.
const (
	ProtocolV3 ProtocolVersion = "v3" // concentrated liquidity, fee tiers
	ProtocolV2 ProtocolVersion = "v2" // constant product
)

// Pool is a tradable pool located by the liquidity router.
type Pool struct {
	Address  string
	Version  ProtocolVersion
	Fee      uint32 // fee tier in hundredths of a bip (v3 only)
	TokenIn  string // token address the pool was probed for
	Quote    string // quote asset address (base asset or alternate stable)
	QuoteSym string
}

// Found reports whether the pool is set.
func (p Pool) Found() bool {
	return p.Address != ""
}
