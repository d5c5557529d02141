// Command tokens runs one universe discovery pass: it pulls candidates from
// the token list, ranks them by market metrics, validates on-chain
// liquidity and writes the token cache used by the agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"dex-trade-agent/internal/config"
	"dex-trade-agent/internal/evm"
	"dex-trade-agent/internal/logging"
	"dex-trade-agent/internal/market"
	"dex-trade-agent/internal/router"
	"dex-trade-agent/internal/universe"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGENT_CONFIG"), "Path to YAML config (optional)")
	cachePath := flag.String("out", "", "Token cache path (default: universe.cache_path)")
	maxCandidates := flag.Int("max", 0, "Override universe.max_candidates")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, closer, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	evmCfg := evm.DefaultConfig()
	evmCfg.ChainID = big.NewInt(cfg.Chain.ChainID)
	evmCfg.Wallet = common.HexToAddress(cfg.Chain.Wallet)
	evmCfg.NativeTTL = cfg.Chain.NativeTTL
	evmCfg.Contracts = evm.Contracts{
		V3Factory:     common.HexToAddress(cfg.Chain.V3Factory),
		Quoter:        common.HexToAddress(cfg.Chain.Quoter),
		SwapRouter:    common.HexToAddress(cfg.Chain.SwapRouter),
		V2Factory:     common.HexToAddress(cfg.Chain.V2Factory),
		V2Router:      common.HexToAddress(cfg.Chain.V2Router),
		NativeUSDFeed: common.HexToAddress(cfg.Chain.NativeFeed),
	}
	chain, err := evm.Dial(ctx, cfg.Chain.RPCURL, evmCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dial chain")
	}

	routerCfg := router.Config{
		FeeTiers:        cfg.Execution.FeeTiers,
		Base:            router.Asset{Symbol: cfg.Chain.BaseSymbol, Address: common.HexToAddress(cfg.Chain.BaseAsset)},
		MinLiquidityUSD: cfg.Universe.MinLiquidityUSD,
		CallTimeout:     cfg.Agent.CallTimeout,
	}
	if cfg.Chain.AltQuote != "" {
		routerCfg.AltQuote = &router.Asset{Symbol: cfg.Chain.AltSymbol, Address: common.HexToAddress(cfg.Chain.AltQuote), Stable: true}
	}
	rt := router.New(routerCfg, chain, chain, logger)

	uniCfg := universe.DefaultConfig()
	uniCfg.CachePath = cfg.Universe.CachePath
	if *cachePath != "" {
		uniCfg.CachePath = *cachePath
	}
	uniCfg.MaxCandidates = cfg.Universe.MaxCandidates
	if *maxCandidates > 0 {
		uniCfg.MaxCandidates = *maxCandidates
	}
	uniCfg.MinLiquidityUSD = cfg.Universe.MinLiquidityUSD
	uniCfg.HotSize = cfg.Universe.HotSize
	uniCfg.WatchCap = cfg.Universe.WatchCap
	uniCfg.Fanout = cfg.Agent.Fanout
	uniCfg.CallTimeout = cfg.Agent.CallTimeout
	if len(cfg.Universe.Blacklist) > 0 {
		uniCfg.Blacklist = cfg.Universe.Blacklist
	}

	opts := []market.ClientOption{market.WithTimeout(cfg.Market.Timeout), market.WithMaxRetries(cfg.Market.MaxRetries)}
	mgr := universe.NewManager(uniCfg,
		market.NewTokenListClient(cfg.Market.TokenListURL, cfg.Chain.ChainID, opts...),
		market.NewDexScreenerClient(cfg.Market.DexScreenerURL, cfg.Market.DexChain, opts...),
		rt, logger)

	res, err := mgr.Refresh(ctx, true, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("universe refresh failed")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSYMBOL\tADDRESS\tSCORE")
	for i, t := range mgr.Tokens() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\n", i+1, t.Symbol, t.Address, t.Score)
	}
	w.Flush()

	logger.Info().
		Str("source", res.Source).
		Int("tokens", res.Tokens).
		Int("rejected", res.Rejected).
		Str("cache", uniCfg.CachePath).
		Msg("token cache written")
}
