package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/retry"
)

var (
	testWETH   = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	testGMX    = common.HexToAddress("0xfc5A1A6EB076a2C7aD06eD22C90d7E710E35ad0a")
	testPool   = common.HexToAddress("0x80A9ae39310abf666A87C743d6ebBD0E8C42158E")
	testRouter = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	testV2     = common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
	testFeed   = common.HexToAddress("0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612")
)

// mockBackend answers eth_call by 4-byte selector.
type mockBackend struct {
	mu       sync.Mutex
	handlers map[string]func(data []byte) ([]byte, error)
	calls    map[string]int

	sent    []*ethtypes.Transaction
	sendErr error
	status  uint64
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		handlers: make(map[string]func([]byte) ([]byte, error)),
		calls:    make(map[string]int),
		status:   ethtypes.ReceiptStatusSuccessful,
	}
}

// on registers a canned result for method of contract.
func (m *mockBackend) on(contract abi.ABI, method string, values ...interface{}) {
	m.handle(contract, method, func([]byte) ([]byte, error) {
		return contract.Methods[method].Outputs.Pack(values...)
	})
}

func (m *mockBackend) handle(contract abi.ABI, method string, fn func([]byte) ([]byte, error)) {
	m.handlers[string(contract.Methods[method].ID)] = fn
}

func (m *mockBackend) count(contract abi.ABI, method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(contract.Methods[method].ID)]
}

func (m *mockBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}
func (m *mockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	sel := string(call.Data[:4])
	m.mu.Lock()
	m.calls[sel]++
	fn, ok := m.handlers[sel]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return fn(call.Data[4:])
}
func (m *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(100), BaseFee: big.NewInt(100_000_000)}, nil
}
func (m *mockBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, nil
}
func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.sent)), nil
}
func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(110_000_000), nil
}
func (m *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(10_000_000), nil
}
func (m *mockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}
func (m *mockBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}
func (m *mockBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return nil, nil
}
func (m *mockBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}
func (m *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.sent {
		if tx.Hash() == txHash {
			return &ethtypes.Receipt{
				Status:      m.status,
				TxHash:      txHash,
				GasUsed:     91_000,
				BlockNumber: big.NewInt(101),
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func testKey(t *testing.T) (string, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey)
}

func newTestClient(t *testing.T, backend *mockBackend, signing bool) (*Client, common.Address) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ChainID = big.NewInt(42161)
	cfg.Contracts = Contracts{
		V3Factory:     common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		Quoter:        common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		SwapRouter:    testRouter,
		V2Factory:     common.HexToAddress("0xc35DADB65012eC5796536bD9864eD8773aBc74C4"),
		V2Router:      testV2,
		NativeUSDFeed: testFeed,
	}
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	if signing {
		cfg.PrivateKey, wallet = testKey(t)
	} else {
		cfg.Wallet = wallet
	}

	c, err := NewClient(backend, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, wallet
}

func TestClient_Reads(t *testing.T) {
	backend := newMockBackend()
	backend.on(erc20ABI, "decimals", uint8(18))
	backend.on(erc20ABI, "balanceOf", big.NewInt(5e18))
	backend.on(erc20ABI, "allowance", big.NewInt(7))
	backend.on(v3FactoryABI, "getPool", testPool)
	backend.on(v2FactoryABI, "getPair", common.Address{})

	c, wallet := newTestClient(t, backend, false)
	ctx := context.Background()

	if c.Address() != wallet || c.CanSign() {
		t.Fatalf("read-only client: address %s canSign %v", c.Address().Hex(), c.CanSign())
	}

	dec, err := c.Decimals(ctx, testGMX)
	if err != nil || dec != 18 {
		t.Fatalf("Decimals = %d, %v", dec, err)
	}
	bal, err := c.WalletBalance(ctx, testGMX)
	if err != nil || bal.Cmp(big.NewInt(5e18)) != 0 {
		t.Fatalf("WalletBalance = %v, %v", bal, err)
	}
	allowance, err := c.Allowance(ctx, testGMX, testRouter)
	if err != nil || allowance.Int64() != 7 {
		t.Fatalf("Allowance = %v, %v", allowance, err)
	}
	pool, err := c.V3Pool(ctx, testGMX, testWETH, 3000)
	if err != nil || pool != testPool {
		t.Fatalf("V3Pool = %s, %v", pool.Hex(), err)
	}
	pair, err := c.V2Pair(ctx, testGMX, testWETH)
	if err != nil || pair != (common.Address{}) {
		t.Fatalf("V2Pair = %s, %v", pair.Hex(), err)
	}
}

func TestClient_ReadRevert(t *testing.T) {
	c, _ := newTestClient(t, newMockBackend(), false)
	if _, err := c.Decimals(context.Background(), testGMX); err == nil {
		t.Fatal("expected error for unhandled call")
	}
}

func TestClient_Quote(t *testing.T) {
	backend := newMockBackend()
	backend.handle(quoterABI, "quoteExactInputSingle", func(data []byte) ([]byte, error) {
		args, err := quoterABI.Methods["quoteExactInputSingle"].Inputs.Unpack(data)
		if err != nil {
			return nil, err
		}
		params := *abi.ConvertType(args[0], new(quoteParams)).(*quoteParams)
		if params.Fee.Int64() != 3000 {
			return nil, errors.New("unexpected fee")
		}
		out := new(big.Int).Mul(params.AmountIn, big.NewInt(2))
		return quoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(out, big.NewInt(0), uint32(1), big.NewInt(80_000))
	})
	backend.on(v2RouterABI, "getAmountsOut", []*big.Int{big.NewInt(1000), big.NewInt(1500)})

	c, _ := newTestClient(t, backend, false)
	ctx := context.Background()

	got, err := c.Quote(ctx, domain.SwapRequest{
		Pool:     domain.Pool{Address: testPool.Hex(), Version: domain.ProtocolV3, Fee: 3000},
		TokenIn:  testWETH,
		TokenOut: testGMX,
		AmountIn: big.NewInt(1000),
	})
	if err != nil || got.Int64() != 2000 {
		t.Fatalf("v3 Quote = %v, %v", got, err)
	}

	got, err = c.Quote(ctx, domain.SwapRequest{
		Pool:     domain.Pool{Version: domain.ProtocolV2},
		TokenIn:  testWETH,
		TokenOut: testGMX,
		AmountIn: big.NewInt(1000),
	})
	if err != nil || got.Int64() != 1500 {
		t.Fatalf("v2 Quote = %v, %v", got, err)
	}
}

func TestClient_Spender(t *testing.T) {
	c, _ := newTestClient(t, newMockBackend(), false)
	if c.Spender(domain.ProtocolV3) != testRouter {
		t.Errorf("v3 spender = %s", c.Spender(domain.ProtocolV3).Hex())
	}
	if c.Spender(domain.ProtocolV2) != testV2 {
		t.Errorf("v2 spender = %s", c.Spender(domain.ProtocolV2).Hex())
	}
}

func TestClient_SwapSignsAndWaits(t *testing.T) {
	backend := newMockBackend()
	c, wallet := newTestClient(t, backend, true)

	rcpt, err := c.Swap(context.Background(), domain.SwapRequest{
		Pool:     domain.Pool{Address: testPool.Hex(), Version: domain.ProtocolV3, Fee: 500},
		TokenIn:  testWETH,
		TokenOut: testGMX,
		AmountIn: big.NewInt(1e17),
		MinOut:   big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.sent))
	}

	tx := backend.sent[0]
	if rcpt.TxHash != tx.Hash().Hex() || rcpt.Status != 1 || rcpt.GasUsed != 91_000 || rcpt.Block != 101 {
		t.Errorf("receipt = %+v", rcpt)
	}
	if *tx.To() != testRouter {
		t.Errorf("tx to %s, want router", tx.To().Hex())
	}
	if tx.Gas() != 120_000 {
		t.Errorf("gas limit = %d, want buffered 120000", tx.Gas())
	}
	// feeCap = 2*baseFee + tip
	if tx.GasFeeCap().Int64() != 210_000_000 {
		t.Errorf("fee cap = %s", tx.GasFeeCap())
	}
	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(42161)), tx)
	if err != nil || sender != wallet {
		t.Errorf("sender = %s, %v; want %s", sender.Hex(), err, wallet.Hex())
	}
}

func TestClient_ApproveRevertedStatus(t *testing.T) {
	backend := newMockBackend()
	backend.status = ethtypes.ReceiptStatusFailed
	c, _ := newTestClient(t, backend, true)

	rcpt, err := c.Approve(context.Background(), testGMX, testRouter, big.NewInt(1))
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rcpt.Status != 0 {
		t.Errorf("status = %d, want 0", rcpt.Status)
	}
	if *backend.sent[0].To() != testGMX {
		t.Errorf("approve sent to %s, want token", backend.sent[0].To().Hex())
	}
}

func TestClient_WriteErrorsArePermanent(t *testing.T) {
	t.Run("no signer", func(t *testing.T) {
		c, _ := newTestClient(t, newMockBackend(), false)
		_, err := c.Approve(context.Background(), testGMX, testRouter, big.NewInt(1))
		if !errors.Is(err, ErrNoSigner) || !retry.IsPermanent(err) {
			t.Fatalf("err = %v, want permanent ErrNoSigner", err)
		}
	})

	t.Run("send failure", func(t *testing.T) {
		backend := newMockBackend()
		backend.sendErr = errors.New("connection reset")
		c, _ := newTestClient(t, backend, true)
		_, err := c.Swap(context.Background(), domain.SwapRequest{
			Pool:     domain.Pool{Version: domain.ProtocolV2},
			TokenIn:  testWETH,
			TokenOut: testGMX,
			AmountIn: big.NewInt(1),
		})
		if err == nil || !retry.IsPermanent(err) {
			t.Fatalf("err = %v, want permanent", err)
		}
	})
}

func TestClient_SimulateSwap(t *testing.T) {
	req := domain.SwapRequest{
		Pool:     domain.Pool{Address: testPool.Hex(), Version: domain.ProtocolV2},
		TokenIn:  testWETH,
		TokenOut: testGMX,
		AmountIn: big.NewInt(1000),
		MinOut:   big.NewInt(1400),
	}

	t.Run("allowance short falls back to quote", func(t *testing.T) {
		backend := newMockBackend()
		backend.on(erc20ABI, "allowance", big.NewInt(0))
		backend.on(v2RouterABI, "getAmountsOut", []*big.Int{big.NewInt(1000), big.NewInt(1500)})
		c, _ := newTestClient(t, backend, false)

		if err := c.SimulateSwap(context.Background(), req); err != nil {
			t.Fatalf("SimulateSwap: %v", err)
		}
		if backend.count(v2RouterABI, "swapExactTokensForTokens") != 0 {
			t.Error("swap call should not run without allowance")
		}
	})

	t.Run("quote below minimum", func(t *testing.T) {
		backend := newMockBackend()
		backend.on(erc20ABI, "allowance", big.NewInt(0))
		backend.on(v2RouterABI, "getAmountsOut", []*big.Int{big.NewInt(1000), big.NewInt(900)})
		c, _ := newTestClient(t, backend, false)

		if err := c.SimulateSwap(context.Background(), req); err == nil {
			t.Fatal("expected error for quote below minimum")
		}
	})

	t.Run("eth_call with allowance", func(t *testing.T) {
		backend := newMockBackend()
		backend.on(erc20ABI, "allowance", big.NewInt(1e18))
		c, _ := newTestClient(t, backend, false)

		// No handler for the swap selector: the call reverts.
		if err := c.SimulateSwap(context.Background(), req); err == nil {
			t.Fatal("expected revert")
		}
		backend.on(v2RouterABI, "swapExactTokensForTokens", []*big.Int{big.NewInt(1000), big.NewInt(1500)})
		if err := c.SimulateSwap(context.Background(), req); err != nil {
			t.Fatalf("SimulateSwap: %v", err)
		}
	})
}

func TestClient_NativeUSDCaches(t *testing.T) {
	backend := newMockBackend()
	backend.on(aggregatorABI, "decimals", uint8(8))
	backend.on(aggregatorABI, "latestRoundData",
		big.NewInt(1), big.NewInt(3_000_00000000), big.NewInt(0), big.NewInt(0), big.NewInt(1))

	c, _ := newTestClient(t, backend, false)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		price, err := c.NativeUSD(context.Background())
		if err != nil || price != 3000 {
			t.Fatalf("NativeUSD = %v, %v", price, err)
		}
	}
	if n := backend.count(aggregatorABI, "latestRoundData"); n != 1 {
		t.Errorf("feed read %d times, want 1", n)
	}

	now = now.Add(6 * time.Minute)
	if _, err := c.NativeUSD(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := backend.count(aggregatorABI, "latestRoundData"); n != 2 {
		t.Errorf("feed read %d times after expiry, want 2", n)
	}
}
