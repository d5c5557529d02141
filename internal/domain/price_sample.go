package domain

// PriceSample is one observed USD close for a symbol.
type PriceSample struct {
	Symbol      string
	TimestampMs int64
	Price       float64
}
