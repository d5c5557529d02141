// Package evm is the chain client: contract reads through eth_call, swap
// simulation, and signed EIP-1559 transactions for approvals and swaps.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/observability"
	"dex-trade-agent/internal/retry"
)

// Client errors.
var (
	// ErrNoSigner is returned by write calls when no private key is configured.
	ErrNoSigner = errors.New("no signing key configured")

	// ErrNoFeed is returned by NativeUSD when no price feed is configured.
	ErrNoFeed = errors.New("no native price feed configured")
)

// Backend is the RPC surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Contracts holds the protocol addresses on the target chain.
type Contracts struct {
	V3Factory     common.Address
	Quoter        common.Address // QuoterV2
	SwapRouter    common.Address // v3 SwapRouter
	V2Factory     common.Address
	V2Router      common.Address
	NativeUSDFeed common.Address // Chainlink aggregator for the native asset
}

// Config configures the Client.
type Config struct {
	ChainID        *big.Int
	Contracts      Contracts
	PrivateKey     string         // hex, optional; without it the client is read-only
	Wallet         common.Address // balance owner when no key is configured
	NativeTTL      time.Duration  // native USD price cache lifetime
	GasLimitBuffer float64        // multiplier over eth_estimateGas
	DeadlineWindow time.Duration  // swap deadline from now
}

// DefaultConfig returns client defaults without addresses.
func DefaultConfig() Config {
	return Config{
		NativeTTL:      5 * time.Minute,
		GasLimitBuffer: 1.2,
		DeadlineWindow: 5 * time.Minute,
	}
}

// Client implements router.PoolReader and execution.Chain on an EVM chain.
type Client struct {
	backend Backend
	cfg     Config
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	logger  zerolog.Logger
	now     func() time.Time

	sendMu sync.Mutex // serializes nonce allocation

	priceMu     sync.Mutex
	nativeUSD   float64
	nativeAt    time.Time
	feedDecimal int
}

// Dial connects to rpcURL and creates a Client. A missing chain ID is read
// from the node.
func Dial(ctx context.Context, rpcURL string, cfg Config, logger zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	if cfg.ChainID == nil {
		id, err := ec.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("read chain id: %w", err)
		}
		cfg.ChainID = id
	}
	return NewClient(ec, cfg, logger)
}

// NewClient creates a Client over backend.
func NewClient(backend Backend, cfg Config, logger zerolog.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("nil backend")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("chain id required")
	}
	if cfg.NativeTTL <= 0 {
		cfg.NativeTTL = 5 * time.Minute
	}
	if cfg.GasLimitBuffer < 1 {
		cfg.GasLimitBuffer = 1.2
	}
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = 5 * time.Minute
	}

	c := &Client{
		backend:     backend,
		cfg:         cfg,
		from:        cfg.Wallet,
		signer:      types.LatestSignerForChainID(cfg.ChainID),
		logger:      logger.With().Str("component", "evm").Logger(),
		now:         time.Now,
		feedDecimal: -1,
	}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Address returns the wallet address.
func (c *Client) Address() common.Address {
	return c.from
}

// CanSign reports whether a signing key is configured.
func (c *Client) CanSign() bool {
	return c.key != nil
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	defer c.observe("eth_gasPrice", c.now())
	return c.backend.SuggestGasPrice(ctx)
}

func (c *Client) observe(method string, start time.Time) {
	observability.RecordRPCLatency(method, c.now().Sub(start).Seconds())
}

// call packs method, runs eth_call against to and unpacks the result.
func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	start := c.now()
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	c.observe(method, start)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty result", method, to.Hex())
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// V3Pool returns the concentrated-liquidity pool for the pair and fee tier.
func (c *Client) V3Pool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	out, err := c.call(ctx, v3FactoryABI, c.cfg.Contracts.V3Factory, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// V2Pair returns the constant-product pair for tokenA and tokenB.
func (c *Client) V2Pair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	if c.cfg.Contracts.V2Factory == (common.Address{}) {
		return common.Address{}, nil
	}
	out, err := c.call(ctx, v2FactoryABI, c.cfg.Contracts.V2Factory, "getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// BalanceOf returns holder's balance of token.
func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	out, err := c.call(ctx, erc20ABI, token, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// WalletBalance returns the wallet's balance of token.
func (c *Client) WalletBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	return c.BalanceOf(ctx, token, c.from)
}

// Decimals returns the token's decimals.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// Allowance returns the wallet's allowance for spender.
func (c *Client) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, erc20ABI, token, "allowance", c.from, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Spender returns the router that pulls tokens for a pool version.
func (c *Client) Spender(version domain.ProtocolVersion) common.Address {
	if version == domain.ProtocolV2 {
		return c.cfg.Contracts.V2Router
	}
	return c.cfg.Contracts.SwapRouter
}

type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Quote returns the expected output of an exact-input swap.
func (c *Client) Quote(ctx context.Context, req domain.SwapRequest) (*big.Int, error) {
	if req.Pool.Version == domain.ProtocolV2 {
		out, err := c.call(ctx, v2RouterABI, c.cfg.Contracts.V2Router, "getAmountsOut",
			req.AmountIn, []common.Address{req.TokenIn, req.TokenOut})
		if err != nil {
			return nil, err
		}
		amounts := out[0].([]*big.Int)
		if len(amounts) < 2 {
			return nil, fmt.Errorf("getAmountsOut returned %d amounts", len(amounts))
		}
		return amounts[len(amounts)-1], nil
	}

	out, err := c.call(ctx, quoterABI, c.cfg.Contracts.Quoter, "quoteExactInputSingle", quoteParams{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		Fee:               new(big.Int).SetUint64(uint64(req.Pool.Fee)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// swapCall builds the router call for req.
func (c *Client) swapCall(req domain.SwapRequest) (common.Address, []byte, error) {
	deadline := big.NewInt(c.now().Add(c.cfg.DeadlineWindow).Unix())
	minOut := req.MinOut
	if minOut == nil {
		minOut = new(big.Int)
	}

	if req.Pool.Version == domain.ProtocolV2 {
		data, err := v2RouterABI.Pack("swapExactTokensForTokens",
			req.AmountIn, minOut, []common.Address{req.TokenIn, req.TokenOut}, c.from, deadline)
		return c.cfg.Contracts.V2Router, data, err
	}

	data, err := swapRouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		Fee:               new(big.Int).SetUint64(uint64(req.Pool.Fee)),
		Recipient:         c.from,
		Deadline:          deadline,
		AmountIn:          req.AmountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: new(big.Int),
	})
	return c.cfg.Contracts.SwapRouter, data, err
}

// SimulateSwap runs the swap as eth_call from the wallet. When the router
// has no allowance yet the call would revert on transfer, so the swap is
// validated by quote instead.
func (c *Client) SimulateSwap(ctx context.Context, req domain.SwapRequest) error {
	to, data, err := c.swapCall(req)
	if err != nil {
		return fmt.Errorf("pack swap: %w", err)
	}

	allowance, err := c.Allowance(ctx, req.TokenIn, to)
	if err != nil {
		return err
	}
	if allowance.Cmp(req.AmountIn) < 0 {
		quoted, err := c.Quote(ctx, req)
		if err != nil {
			return fmt.Errorf("simulate by quote: %w", err)
		}
		if req.MinOut != nil && quoted.Cmp(req.MinOut) < 0 {
			return fmt.Errorf("simulate by quote: output %s below minimum %s", quoted, req.MinOut)
		}
		return nil
	}

	start := c.now()
	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	c.observe("simulate_swap", start)
	if err != nil {
		return fmt.Errorf("simulate swap: %w", err)
	}
	return nil
}

// Approve sets spender's allowance for token and waits for the receipt.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (domain.SwapReceipt, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("pack approve: %w", err)
	}
	return c.transact(ctx, token, data)
}

// Swap submits req and waits for the receipt.
func (c *Client) Swap(ctx context.Context, req domain.SwapRequest) (domain.SwapReceipt, error) {
	to, data, err := c.swapCall(req)
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("pack swap: %w", err)
	}
	return c.transact(ctx, to, data)
}

// transact signs and sends a call to `to`, then waits for it to be mined.
// Errors after the transaction was sent are permanent so callers never
// resubmit a transaction that may already be pending.
func (c *Client) transact(ctx context.Context, to common.Address, data []byte) (domain.SwapReceipt, error) {
	if c.key == nil {
		return domain.SwapReceipt{}, retry.Permanent(ErrNoSigner)
	}

	tx, err := c.signAndSend(ctx, to, data)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	hash := tx.Hash().Hex()
	c.logger.Info().Str("tx_hash", hash).Str("to", to.Hex()).Uint64("nonce", tx.Nonce()).Msg("transaction sent")

	start := c.now()
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	c.observe("wait_mined", start)
	if err != nil {
		return domain.SwapReceipt{TxHash: hash}, retry.Permanent(fmt.Errorf("wait for %s: %w", hash, err))
	}

	return domain.SwapReceipt{
		TxHash:  hash,
		Status:  receipt.Status,
		GasUsed: receipt.GasUsed,
		Block:   receipt.BlockNumber.Uint64(),
	}, nil
}

func (c *Client) signAndSend(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit := estimate * uint64(math.Round(c.cfg.GasLimitBuffer*100)) / 100

	tx, err := types.SignNewTx(c.key, c.signer, &types.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	start := c.now()
	err = c.backend.SendTransaction(ctx, tx)
	c.observe("eth_sendRawTransaction", start)
	if err != nil {
		// The node may have accepted it before the error surfaced.
		return nil, retry.Permanent(fmt.Errorf("send transaction %s: %w", tx.Hash().Hex(), err))
	}
	return tx, nil
}

// NativeUSD returns the native asset price from the configured Chainlink
// feed, cached for NativeTTL.
func (c *Client) NativeUSD(ctx context.Context) (float64, error) {
	feed := c.cfg.Contracts.NativeUSDFeed
	if feed == (common.Address{}) {
		return 0, ErrNoFeed
	}

	c.priceMu.Lock()
	defer c.priceMu.Unlock()

	if c.nativeUSD > 0 && c.now().Sub(c.nativeAt) < c.cfg.NativeTTL {
		return c.nativeUSD, nil
	}

	if c.feedDecimal < 0 {
		out, err := c.call(ctx, aggregatorABI, feed, "decimals")
		if err != nil {
			return 0, err
		}
		c.feedDecimal = int(out[0].(uint8))
	}

	out, err := c.call(ctx, aggregatorABI, feed, "latestRoundData")
	if err != nil {
		if c.nativeUSD > 0 {
			c.logger.Warn().Err(err).Msg("native price refresh failed, serving stale value")
			return c.nativeUSD, nil
		}
		return 0, err
	}
	answer := out[1].(*big.Int)
	if answer.Sign() <= 0 {
		return 0, fmt.Errorf("feed %s returned non-positive answer %s", feed.Hex(), answer)
	}

	price, _ := new(big.Float).Quo(
		new(big.Float).SetInt(answer),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.feedDecimal)), nil)),
	).Float64()

	c.nativeUSD = price
	c.nativeAt = c.now()
	return price, nil
}
