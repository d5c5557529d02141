// Command report renders a performance report from the persisted trade log:
// outcome counts, closed-trade statistics, per-symbol rows and open
// positions rebuilt the same way the agent restores them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dex-trade-agent/internal/config"
	"dex-trade-agent/internal/logging"
	"dex-trade-agent/internal/market"
	"dex-trade-agent/internal/reporting"
	pgstore "dex-trade-agent/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGENT_CONFIG"), "Path to YAML config (optional)")
	outputDir := flag.String("output-dir", "reports", "Output directory for generated files")
	since := flag.Duration("since", 0, "Only include entries newer than this (e.g. 168h); 0 means all")
	simulated := flag.Bool("simulated", false, "Include paper and dry-run entries in the statistics")
	mark := flag.Bool("mark", true, "Mark open positions to market via DexScreener")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if cfg.Storage.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: storage.postgres_dsn (or POSTGRES_DSN) is required to read the trade log")
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

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN,
		pgstore.WithMaxConns(2),
		pgstore.WithApplicationName("dex-trade-report"),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pool.Close()

	gen := reporting.NewGenerator(pgstore.NewTradeLogStore(pool), cfg.Chain.BaseSymbol, cfg.Chain.AltSymbol).
		WithSimulated(*simulated).
		WithLogger(logger)
	if *mark {
		gen = gen.WithPrices(market.NewDexScreenerClient(cfg.Market.DexScreenerURL, cfg.Market.DexChain,
			market.WithTimeout(cfg.Market.Timeout),
			market.WithMaxRetries(cfg.Market.MaxRetries),
		))
	}

	var start int64
	if *since > 0 {
		start = time.Now().Add(-*since).UnixMilli()
	}
	report, err := gen.Generate(ctx, start, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("generate report")
	}

	if err := writeFiles(*outputDir, report); err != nil {
		logger.Fatal().Err(err).Msg("write report")
	}

	logger.Info().
		Int("entries", report.Summary.TotalEntries).
		Int("closed_trades", report.Summary.ClosedTrades).
		Float64("win_rate", report.Summary.WinRate).
		Int("open_positions", len(report.Positions)).
		Str("dir", *outputDir).
		Msg("report generated")
}

func writeFiles(dir string, r *reporting.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	files := map[string]string{
		"REPORT.md":     reporting.RenderMarkdown(r),
		"SYMBOLS.csv":   reporting.RenderSymbolsCSV(r.Symbols),
		"POSITIONS.csv": reporting.RenderPositionsCSV(r.Positions),
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
