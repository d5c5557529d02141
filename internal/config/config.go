// Package config loads the agent configuration from YAML, applies struct-tag
// defaults, overlays environment variables and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full agent configuration.
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Agent     AgentConfig     `yaml:"agent"`
	Signal    SignalConfig    `yaml:"signal"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Universe  UniverseConfig  `yaml:"universe"`
	Gas       GasConfig       `yaml:"gas"`
	Market    MarketConfig    `yaml:"market"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// ChainConfig holds endpoints, keys and protocol addresses. Defaults target
// Arbitrum One.
type ChainConfig struct {
	RPCURL     string `yaml:"rpc_url" validate:"required,url"`
	WSURL      string `yaml:"ws_url" validate:"omitempty,url"`
	ChainID    int64  `yaml:"chain_id" default:"42161" validate:"gt=0"`
	PrivateKey string `yaml:"-"`                                        // env only
	Wallet     string `yaml:"wallet" validate:"omitempty,eth_addr"`

	V3Factory   string        `yaml:"v3_factory" default:"0x1F98431c8aD98523631AE4a59f267346ea31F984" validate:"eth_addr"`
	Quoter      string        `yaml:"quoter" default:"0x61fFE014bA17989E743c5F6cB21bF9697530B21e" validate:"eth_addr"`
	SwapRouter  string        `yaml:"swap_router" default:"0xE592427A0AEce92De3Edee1F18E0157C05861564" validate:"eth_addr"`
	V2Factory   string        `yaml:"v2_factory" default:"0xc35DADB65012eC5796536bD9864eD8773aBc74C4" validate:"omitempty,eth_addr"`
	V2Router    string        `yaml:"v2_router" default:"0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506" validate:"omitempty,eth_addr"`
	BaseAsset   string        `yaml:"base_asset" default:"0x82aF49447D8a07e3bd95BD0d56f35241523fBab1" validate:"eth_addr"`
	BaseSymbol  string        `yaml:"base_symbol" default:"WETH" validate:"required"`
	AltQuote    string        `yaml:"alt_quote" default:"0xaf88d065e77c8cC2239327C5EDb3A432268e5831" validate:"omitempty,eth_addr"`
	AltSymbol   string        `yaml:"alt_symbol" default:"USDC"`
	NativeFeed  string        `yaml:"native_usd_feed" default:"0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612" validate:"eth_addr"`
	NativeTTL   time.Duration `yaml:"native_price_ttl" default:"5m"`
	GasLimitBuf float64       `yaml:"gas_limit_buffer" default:"1.2" validate:"gte=1"`
}

// AgentConfig drives the scan loop.
type AgentConfig struct {
	ScanInterval    time.Duration `yaml:"scan_interval" default:"60s" validate:"gt=0"`
	WatchEvery      int           `yaml:"watch_every" default:"5" validate:"gte=1"`
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"1h" validate:"gt=0"`
	HistoryCap      int           `yaml:"history_cap" default:"100" validate:"gte=10"`
	Fanout          int           `yaml:"fanout" default:"8" validate:"gte=1"`
	CallTimeout     time.Duration `yaml:"call_timeout" default:"15s" validate:"gt=0"`
	MinCloses       int           `yaml:"min_closes" validate:"gte=0"`
	GasReserveUnits uint64        `yaml:"gas_reserve_units" default:"210000"`
	Paper           bool          `yaml:"paper"`
	DryRun          bool          `yaml:"dry_run"`                                                      // simulate every intent but keep live preflight
	ZeroScorePolicy string        `yaml:"zero_score_policy" default:"keep" validate:"oneof=keep floor"`
	SellDestination string        `yaml:"sell_destination" validate:"omitempty,eth_addr"`
}

// SignalConfig tunes the indicator-based scorer.
type SignalConfig struct {
	RSIPeriod         int     `yaml:"rsi_period" default:"14" validate:"gte=2"`
	Oversold          float64 `yaml:"oversold" default:"30"`
	RecoverLevel      float64 `yaml:"recover_level" default:"30"`
	Overbought        float64 `yaml:"overbought" default:"70"`
	BounceLookback    int     `yaml:"bounce_lookback" default:"5" validate:"gte=1"`
	FastPeriod        int     `yaml:"fast_period" default:"5" validate:"gte=1"`
	SlowPeriod        int     `yaml:"slow_period" default:"20" validate:"gtfield=FastPeriod"`
	MACDFast          int     `yaml:"macd_fast" default:"12" validate:"gte=1"`
	MACDSlow          int     `yaml:"macd_slow" default:"26" validate:"gtfield=MACDFast"`
	MACDSignal        int     `yaml:"macd_signal" default:"9" validate:"gte=1"`
	MomentumPeriod    int     `yaml:"momentum_period" default:"5" validate:"gte=1"`
	MomentumThreshold float64 `yaml:"momentum_threshold" default:"0.5"`
	BuyThreshold      int     `yaml:"buy_threshold" default:"2" validate:"gte=1,lte=4"`
}

// RiskConfig bounds exposure per position.
type RiskConfig struct {
	StopLossPct     float64 `yaml:"stop_loss_pct" default:"0.04" validate:"gt=0,lt=1"`
	TakeProfitPct   float64 `yaml:"take_profit_pct" default:"0.08" validate:"gt=0"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct" default:"0.02" validate:"gte=0,lt=1"`
	MaxAllocation   float64 `yaml:"max_allocation" default:"0.15" validate:"gt=0,lte=1"`
	MinTradeUSD     float64 `yaml:"min_trade_usd" default:"10" validate:"gte=0"`
}

// ExecutionConfig bounds every swap.
type ExecutionConfig struct {
	SlippageBps     int64         `yaml:"slippage_bps" default:"100" validate:"gte=0,lt=10000"`
	MaxGasGwei      float64       `yaml:"max_gas_gwei" default:"80" validate:"gt=0"`
	MinLiquidityUSD float64       `yaml:"min_liquidity_usd" default:"5" validate:"gte=0"`
	SwapGasUnits    uint64        `yaml:"swap_gas_units" default:"250000" validate:"gt=0"`
	ApproveGasUnits uint64        `yaml:"approve_gas_units" default:"60000" validate:"gt=0"`
	TxTimeout       time.Duration `yaml:"tx_timeout" default:"3m" validate:"gt=0"`
	FeeTiers        []uint32      `yaml:"fee_tiers" default:"[500,3000,10000]" validate:"min=1,dive,oneof=100 500 3000 10000"`
	RetryAttempts   int           `yaml:"retry_attempts" default:"3" validate:"gte=1"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay" default:"1s"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" default:"10s"`
}

// UniverseConfig drives discovery, grouping and the circuit breaker.
type UniverseConfig struct {
	CachePath         string        `yaml:"cache_path" default:"data/tokens.json" validate:"required"`
	FullRefresh       time.Duration `yaml:"full_refresh" default:"12h"`
	MaxCandidates     int           `yaml:"max_candidates" default:"30" validate:"gte=1"`
	MinLiquidityUSD   float64       `yaml:"min_liquidity_usd" default:"2000" validate:"gte=0"`
	HotSize           int           `yaml:"hot_size" default:"5" validate:"gte=1"`
	WatchCap          int           `yaml:"watch_cap" default:"25" validate:"gte=0"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval" default:"5m"`
	Blacklist         []string      `yaml:"blacklist"`
	BreakerThreshold  int           `yaml:"breaker_threshold" default:"3" validate:"gte=1"`
	BreakerReset      time.Duration `yaml:"breaker_reset_window" default:"30m"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown" default:"12h"`
}

// GasConfig tunes the regime tracker and oracle.
type GasConfig struct {
	Window        time.Duration `yaml:"window" default:"5m"`
	QuietUpToUSD  float64       `yaml:"quiet_up_to_usd" default:"5"`
	NormalUpToUSD float64       `yaml:"normal_up_to_usd" default:"15" validate:"gtefield=QuietUpToUSD"`
	QuietBuffer   float64       `yaml:"quiet_buffer" default:"0.005"`
	NormalBuffer  float64       `yaml:"normal_buffer" default:"0.01"`
	BusyBuffer    float64       `yaml:"busy_buffer" default:"0.02"`
	SlippageFrac  float64       `yaml:"slippage_frac" default:"0.001"`
	GasBuffer     float64       `yaml:"gas_buffer" default:"1.15" validate:"gte=1"`
	MinPctFloor   float64       `yaml:"min_pct_floor" default:"0.003"`
	HeadMaxAge    time.Duration `yaml:"head_max_age" default:"30s"`
	TipGwei       float64       `yaml:"tip_gwei" default:"0.01" validate:"gte=0"`
}

// MarketConfig points at the HTTP collaborators.
type MarketConfig struct {
	DexScreenerURL string        `yaml:"dexscreener_url" default:"https://api.dexscreener.com" validate:"url"`
	DexChain       string        `yaml:"dexscreener_chain" default:"arbitrum"`
	TokenListURL   string        `yaml:"token_list_url" default:"https://tokens.coingecko.com/arbitrum-one/all.json" validate:"url"`
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
	MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=0"`
}

// StorageConfig selects persistence backends. Empty DSNs fall back to
// in-memory stores.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	RedisAddr     string `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" default:"dex-agent:"`
	SkipMigrate   bool   `yaml:"skip_migrate"`
}

// EventsConfig configures the trade event publisher.
type EventsConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"dex-agent.trades"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
}

// HTTPConfig configures the status server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout" validate:"required"`
}

var validate = validator.New()

// Load reads path (optional), applies defaults and environment overrides,
// and validates. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Agent.Paper && c.Agent.DryRun {
		return errors.New("agent.paper and agent.dry_run are mutually exclusive")
	}
	return nil
}

// RequireWallet checks that a trading process has a wallet and, unless it
// only simulates, a signing key.
func (c *Config) RequireWallet() error {
	if c.Chain.PrivateKey == "" && c.Chain.Wallet == "" {
		return errors.New("either PRIVATE_KEY or chain.wallet is required")
	}
	if c.Chain.PrivateKey == "" && !c.Simulate() {
		return errors.New("PRIVATE_KEY is required unless agent.paper or agent.dry_run is set")
	}
	return nil
}

// Simulate reports whether intents should stop before submission.
func (c *Config) Simulate() bool {
	return c.Agent.Paper || c.Agent.DryRun
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"RPC_URL":          &c.Chain.RPCURL,
		"WS_URL":           &c.Chain.WSURL,
		"PRIVATE_KEY":      &c.Chain.PrivateKey,
		"WALLET_ADDRESS":   &c.Chain.Wallet,
		"POSTGRES_DSN":     &c.Storage.PostgresDSN,
		"CLICKHOUSE_DSN":   &c.Storage.ClickHouseDSN,
		"REDIS_ADDR":       &c.Storage.RedisAddr,
		"REDIS_PASSWORD":   &c.Storage.RedisPassword,
		"SELL_DESTINATION": &c.Agent.SellDestination,
		"LOG_LEVEL":        &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = splitList(v)
	}

	flags := map[string]*bool{
		"PAPER":   &c.Agent.Paper,
		"DRY_RUN": &c.Agent.DryRun,
	}
	for key, dst := range flags {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
