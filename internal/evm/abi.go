package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const v3FactoryJSON = `[
{"name":"getPool","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"name":"pool","type":"address"}]}
]`

const quoterJSON = `[
{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"params","type":"tuple","components":[
   {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},
   {"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
 "outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},
   {"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}]}
]`

const swapRouterJSON = `[
{"name":"exactInputSingle","type":"function","stateMutability":"payable",
 "inputs":[{"name":"params","type":"tuple","components":[
   {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},
   {"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},
   {"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
 "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const v2FactoryJSON = `[
{"name":"getPair","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]}
]`

const v2RouterJSON = `[
{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},
   {"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
 "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const aggregatorJSON = `[
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],
 "outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},
   {"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}]}
]`

var (
	erc20ABI      = mustParse(erc20JSON)
	v3FactoryABI  = mustParse(v3FactoryJSON)
	quoterABI     = mustParse(quoterJSON)
	swapRouterABI = mustParse(swapRouterJSON)
	v2FactoryABI  = mustParse(v2FactoryJSON)
	v2RouterABI   = mustParse(v2RouterJSON)
	aggregatorABI = mustParse(aggregatorJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("evm: bad abi: " + err.Error())
	}
	return parsed
}
