package domain

// Evaluation is the ephemeral result of scoring one symbol's price history.
// It is recomputed every cycle and never persisted.
type Evaluation struct {
	Symbol      string
	Price       float64
	Score       int
	Signals     []string
	ShouldBuy   bool
	ShouldSell  bool
	SellSignals []string
	Closes      []float64
}
