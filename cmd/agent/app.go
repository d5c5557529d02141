package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"dex-trade-agent/internal/config"
	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/events"
	"dex-trade-agent/internal/evm"
	"dex-trade-agent/internal/execution"
	"dex-trade-agent/internal/gas"
	"dex-trade-agent/internal/ledger"
	"dex-trade-agent/internal/market"
	"dex-trade-agent/internal/retry"
	"dex-trade-agent/internal/risk"
	"dex-trade-agent/internal/router"
	"dex-trade-agent/internal/scheduler"
	"dex-trade-agent/internal/signal"
	"dex-trade-agent/internal/storage"
	chstore "dex-trade-agent/internal/storage/clickhouse"
	"dex-trade-agent/internal/storage/memory"
	"dex-trade-agent/internal/storage/migrations"
	pgstore "dex-trade-agent/internal/storage/postgres"
	redisstore "dex-trade-agent/internal/storage/redis"
	"dex-trade-agent/internal/universe"
)

// app holds the wired components of one agent process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	chain     *evm.Client
	heads     *evm.HeadSubscriber
	tracker   *gas.Tracker
	breaker   *universe.Breaker
	universe  *universe.Manager
	recorder  *ledger.Recorder
	scheduler *scheduler.Scheduler

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// stores bundles the persistence backends.
type stores struct {
	tradeLog storage.TradeLogStore
	samples  storage.PriceSampleStore
	failures storage.FailureStateStore
}

func openStores(ctx context.Context, cfg config.StorageConfig, useMemory bool, logger zerolog.Logger) (*stores, []io.Closer, error) {
	s := &stores{
		tradeLog: memory.NewTradeLogStore(),
		samples:  memory.NewPriceSampleStore(),
		failures: memory.NewFailureStateStore(),
	}
	if useMemory {
		logger.Warn().Msg("using in-memory storage; trade log and breaker state are lost on exit")
		return s, nil, nil
	}

	var closers []io.Closer
	fail := func(err error) (*stores, []io.Closer, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		return nil, nil, err
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(4))
		if err != nil {
			return fail(fmt.Errorf("connect to postgres: %w", err))
		}
		closers = append(closers, closerFunc(func() error { pool.Close(); return nil }))
		if !cfg.SkipMigrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return fail(fmt.Errorf("postgres migrations: %w", err))
			}
		}
		s.tradeLog = pgstore.NewTradeLogStore(pool)
	} else {
		logger.Warn().Msg("no postgres dsn; trade log kept in memory")
	}

	if cfg.ClickHouseDSN != "" {
		var conn *chstore.Conn
		var err error
		if cfg.SkipMigrate {
			conn, err = chstore.NewConn(ctx, cfg.ClickHouseDSN)
		} else {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		}
		if err != nil {
			return fail(fmt.Errorf("connect to clickhouse: %w", err))
		}
		closers = append(closers, conn)
		s.samples = chstore.NewPriceSampleStore(conn)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fail(fmt.Errorf("connect to redis: %w", err))
		}
		closers = append(closers, client)
		s.failures = redisstore.NewFailureStateStore(client, cfg.RedisPrefix, 7*24*time.Hour)
	}

	return s, closers, nil
}

func build(ctx context.Context, cfg *config.Config, useMemory bool, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	st, closers, err := openStores(ctx, cfg.Storage, useMemory, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closers...)

	// Chain.
	base := common.HexToAddress(cfg.Chain.BaseAsset)
	var alt common.Address
	if cfg.Chain.AltQuote != "" {
		alt = common.HexToAddress(cfg.Chain.AltQuote)
	}

	evmCfg := evm.DefaultConfig()
	evmCfg.ChainID = big.NewInt(cfg.Chain.ChainID)
	evmCfg.PrivateKey = cfg.Chain.PrivateKey
	evmCfg.Wallet = common.HexToAddress(cfg.Chain.Wallet)
	evmCfg.NativeTTL = cfg.Chain.NativeTTL
	evmCfg.GasLimitBuffer = cfg.Chain.GasLimitBuf
	evmCfg.Contracts = evm.Contracts{
		V3Factory:     common.HexToAddress(cfg.Chain.V3Factory),
		Quoter:        common.HexToAddress(cfg.Chain.Quoter),
		SwapRouter:    common.HexToAddress(cfg.Chain.SwapRouter),
		NativeUSDFeed: common.HexToAddress(cfg.Chain.NativeFeed),
	}
	if cfg.Chain.V2Factory != "" {
		evmCfg.Contracts.V2Factory = common.HexToAddress(cfg.Chain.V2Factory)
		evmCfg.Contracts.V2Router = common.HexToAddress(cfg.Chain.V2Router)
	}

	chain, err := evm.Dial(ctx, cfg.Chain.RPCURL, evmCfg, logger)
	if err != nil {
		return nil, err
	}
	a.chain = chain

	tipWei := new(big.Int).SetUint64(uint64(cfg.Gas.TipGwei * 1e9))
	oracle := gas.NewOracle(chain, cfg.Gas.HeadMaxAge, tipWei)
	if cfg.Chain.WSURL != "" {
		heads, err := evm.SubscribeHeads(ctx, cfg.Chain.WSURL, nil, func(h evm.Head) {
			if h.BaseFee != nil {
				oracle.ObserveBaseFee(h.BaseFee)
			}
		}, logger)
		if err != nil {
			// Heads only sharpen gas pricing; polling still works.
			logger.Warn().Err(err).Msg("newHeads subscription unavailable, polling gas price")
		} else {
			a.heads = heads
			a.closers = append(a.closers, heads)
		}
	}

	gasCfg := gas.DefaultConfig()
	gasCfg.Window = cfg.Gas.Window
	gasCfg.QuietUpToUSD = cfg.Gas.QuietUpToUSD
	gasCfg.NormalUpToUSD = cfg.Gas.NormalUpToUSD
	gasCfg.QuietBuffer = cfg.Gas.QuietBuffer
	gasCfg.NormalBuffer = cfg.Gas.NormalBuffer
	gasCfg.BusyBuffer = cfg.Gas.BusyBuffer
	gasCfg.SlippageFrac = cfg.Gas.SlippageFrac
	gasCfg.GasBuffer = cfg.Gas.GasBuffer
	gasCfg.MinPctFloor = cfg.Gas.MinPctFloor
	a.tracker = gas.NewTracker(gasCfg)

	// Routing.
	routerCfg := router.Config{
		FeeTiers:        cfg.Execution.FeeTiers,
		Base:            router.Asset{Symbol: cfg.Chain.BaseSymbol, Address: base},
		MinLiquidityUSD: cfg.Universe.MinLiquidityUSD,
		CallTimeout:     cfg.Agent.CallTimeout,
	}
	if alt != (common.Address{}) {
		routerCfg.AltQuote = &router.Asset{Symbol: cfg.Chain.AltSymbol, Address: alt, Stable: true}
	}
	rt := router.New(routerCfg, chain, chain, logger)

	// Universe and breaker.
	a.breaker = universe.NewBreaker(universe.BreakerConfig{
		Threshold:   cfg.Universe.BreakerThreshold,
		ResetWindow: cfg.Universe.BreakerReset,
		Cooldown:    cfg.Universe.BreakerCooldown,
	}, st.failures, logger)

	uniCfg := universe.DefaultConfig()
	uniCfg.CachePath = cfg.Universe.CachePath
	uniCfg.FullRefresh = cfg.Universe.FullRefresh
	uniCfg.MaxCandidates = cfg.Universe.MaxCandidates
	uniCfg.MinLiquidityUSD = cfg.Universe.MinLiquidityUSD
	uniCfg.HotSize = cfg.Universe.HotSize
	uniCfg.WatchCap = cfg.Universe.WatchCap
	uniCfg.RebalanceInterval = cfg.Universe.RebalanceInterval
	uniCfg.Fanout = cfg.Agent.Fanout
	uniCfg.CallTimeout = cfg.Agent.CallTimeout
	if len(cfg.Universe.Blacklist) > 0 {
		uniCfg.Blacklist = cfg.Universe.Blacklist
	}

	marketOpts := []market.ClientOption{
		market.WithTimeout(cfg.Market.Timeout),
		market.WithMaxRetries(cfg.Market.MaxRetries),
	}
	prices := market.NewDexScreenerClient(cfg.Market.DexScreenerURL, cfg.Market.DexChain, marketOpts...)
	tokenList := market.NewTokenListClient(cfg.Market.TokenListURL, cfg.Chain.ChainID, marketOpts...)
	a.universe = universe.NewManager(uniCfg, tokenList, prices, rt, logger)

	// Signals, risk, ledger.
	sigCfg := signal.DefaultConfig()
	sigCfg.RSIPeriod = cfg.Signal.RSIPeriod
	sigCfg.Oversold = cfg.Signal.Oversold
	sigCfg.RecoverLevel = cfg.Signal.RecoverLevel
	sigCfg.Overbought = cfg.Signal.Overbought
	sigCfg.BounceLookback = cfg.Signal.BounceLookback
	sigCfg.FastPeriod = cfg.Signal.FastPeriod
	sigCfg.SlowPeriod = cfg.Signal.SlowPeriod
	sigCfg.MACDFast = cfg.Signal.MACDFast
	sigCfg.MACDSlow = cfg.Signal.MACDSlow
	sigCfg.MACDSignal = cfg.Signal.MACDSignal
	sigCfg.MomentumPeriod = cfg.Signal.MomentumPeriod
	sigCfg.MomentumThreshold = cfg.Signal.MomentumThreshold
	sigCfg.BuyThreshold = cfg.Signal.BuyThreshold
	sigCfg.ZeroScorePolicy = cfg.Agent.ZeroScorePolicy
	signals, err := signal.New(sigCfg)
	if err != nil {
		return nil, fmt.Errorf("signal engine: %w", err)
	}

	riskMgr := risk.NewManager(risk.Config{
		StopLossPct:     cfg.Risk.StopLossPct,
		TakeProfitPct:   cfg.Risk.TakeProfitPct,
		TrailingStopPct: cfg.Risk.TrailingStopPct,
		MaxAllocation:   cfg.Risk.MaxAllocation,
		MinTradeUSD:     cfg.Risk.MinTradeUSD,
	})

	skip := []string{domain.NormalizeSymbol(cfg.Chain.BaseSymbol)}
	if alt != (common.Address{}) {
		skip = append(skip, domain.NormalizeSymbol(cfg.Chain.AltSymbol))
	}
	book := ledger.New(skip...)

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Events.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.Events.Brokers,
			Topic:        cfg.Events.Topic,
			WriteTimeout: cfg.Events.WriteTimeout,
			MaxAttempts:  cfg.Events.MaxAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		publisher = kp
	}
	a.closers = append(a.closers, publisher)
	a.recorder = ledger.NewRecorder(st.tradeLog, book, riskMgr, publisher, logger)

	// Execution.
	execCfg := execution.DefaultConfig()
	execCfg.SlippageBps = cfg.Execution.SlippageBps
	execCfg.MaxGasGwei = cfg.Execution.MaxGasGwei
	execCfg.MinTradeUSD = cfg.Risk.MinTradeUSD
	execCfg.MinLiquidityUSD = cfg.Execution.MinLiquidityUSD
	execCfg.TakeProfitPct = cfg.Risk.TakeProfitPct
	execCfg.SwapGasUnits = cfg.Execution.SwapGasUnits
	execCfg.ApproveGasUnits = cfg.Execution.ApproveGasUnits
	execCfg.CallTimeout = cfg.Agent.CallTimeout
	execCfg.TxTimeout = cfg.Execution.TxTimeout
	execCfg.Paper = cfg.Agent.Paper || !chain.CanSign()
	execCfg.Retry = retry.Policy{
		MaxAttempts: cfg.Execution.RetryAttempts,
		BaseDelay:   cfg.Execution.RetryBaseDelay,
		MaxDelay:    cfg.Execution.RetryMaxDelay,
		BackoffMult: retry.DefaultBackoffMult,
	}
	execCfg.BaseAsset = base
	if alt != (common.Address{}) {
		execCfg.StableQuotes = []common.Address{alt}
	}
	if cfg.Agent.SellDestination != "" {
		execCfg.SellTo = common.HexToAddress(cfg.Agent.SellDestination)
	}

	engine := execution.New(execCfg, execution.Deps{
		Chain:     chain,
		Pools:     rt,
		GasPrice:  oracle,
		Native:    chain,
		Tracker:   a.tracker,
		Breaker:   a.breaker,
		Recorder:  a.recorder,
		Positions: book,
		Logger:    logger,
	})

	// Scheduler.
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Interval = cfg.Agent.ScanInterval
	schedCfg.WatchEvery = cfg.Agent.WatchEvery
	schedCfg.RefreshInterval = cfg.Agent.RefreshInterval
	schedCfg.HistoryCap = cfg.Agent.HistoryCap
	schedCfg.Fanout = cfg.Agent.Fanout
	schedCfg.CallTimeout = cfg.Agent.CallTimeout
	schedCfg.MinCloses = cfg.Agent.MinCloses
	schedCfg.GasReserveUnits = cfg.Agent.GasReserveUnits
	schedCfg.Simulate = cfg.Agent.DryRun
	schedCfg.Base = domain.Token{Symbol: domain.NormalizeSymbol(cfg.Chain.BaseSymbol), Address: base.Hex()}
	if dec, err := rt.Decimals(ctx, base); err == nil {
		schedCfg.Base.Decimals = dec
	} else {
		logger.Warn().Err(err).Msg("base asset decimals unavailable, assuming 18")
	}
	schedCfg.SkipSymbols = skip

	a.scheduler = scheduler.New(scheduler.Options{
		Config:   schedCfg,
		Prices:   prices,
		Universe: a.universe,
		Signals:  signals,
		Risk:     riskMgr,
		Ledger:   book,
		Breaker:  a.breaker,
		Executor: engine,
		Wallet:   chain,
		Gas:      oracle,
		Native:   chain,
		Samples:  st.samples,
		Logger:   logger,
	})

	ok = true
	return a, nil
}

// restore rebuilds state from persistence: positions from the trade log,
// breaker state, the universe (cache, then discovery when due) and price
// history.
func (a *app) restore(ctx context.Context, forceRefresh bool) error {
	n, err := a.recorder.Restore(ctx)
	if err != nil {
		return fmt.Errorf("replay trade log: %w", err)
	}
	a.logger.Info().Int("entries", n).Int("positions", a.recorder.Ledger().Len()).Msg("trade log replayed")

	if err := a.breaker.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("breaker state unavailable, starting clean")
	}

	if res, err := a.universe.LoadCache(); err != nil {
		a.logger.Info().Err(err).Msg("no usable token cache")
	} else {
		a.logger.Info().Int("tokens", res.Tokens).Time("updated_at", res.UpdatedAt).Msg("token cache loaded")
	}

	res, err := a.scheduler.RefreshUniverse(ctx, forceRefresh)
	if err != nil {
		if a.universe.Len() == 0 {
			return fmt.Errorf("universe: %w", err)
		}
		a.logger.Warn().Err(err).Msg("universe refresh failed, continuing with cached universe")
	} else {
		a.logger.Info().Str("source", res.Source).Int("tokens", res.Tokens).Int("rejected", res.Rejected).Msg("universe ready")
	}

	if _, err := a.scheduler.WarmUp(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("price history warm-up failed")
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
