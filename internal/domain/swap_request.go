package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapRequest is one exact-input swap through a located pool.
// Amounts are in the smallest on-chain unit of each token.
type SwapRequest struct {
	Pool     Pool
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	MinOut   *big.Int // zero when only quoting
}

// SwapReceipt is the confirmed result of a submitted transaction.
type SwapReceipt struct {
	TxHash  string
	Status  uint64 // 1 = success
	GasUsed uint64
	Block   uint64
}
