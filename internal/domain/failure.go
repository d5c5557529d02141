package domain

// FailureState tracks liquidity-related execution failures for one symbol.
type FailureState struct {
	Symbol        string
	Count         int   // consecutive liquidity failures inside the reset window
	LastFailure   int64 // timestamp of the last counted failure (ms)
	DisabledUntil int64 // 0 when tradable (ms)
}

// Disabled reports whether the symbol is disabled at nowMs.
func (f FailureState) Disabled(nowMs int64) bool {
	return f.DisabledUntil > nowMs
}
