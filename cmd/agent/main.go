// Command agent runs the autonomous trading loop: universe refresh, price
// scans, signal scoring and risk-bounded swaps, with a read-only HTTP status
// server alongside.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dex-trade-agent/internal/config"
	"dex-trade-agent/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGENT_CONFIG"), "Path to YAML config (optional)")
	paper := flag.Bool("paper", false, "Simulate every intent; never submit transactions")
	forceRefresh := flag.Bool("force-refresh", false, "Force universe discovery at startup")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse/Redis")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *paper {
		cfg.Agent.Paper = true
		cfg.Agent.DryRun = false
	}
	if err := cfg.RequireWallet(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, closer, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, runFlags{forceRefresh: *forceRefresh, useMemory: *useMemory}, logger)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("agent stopped")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

type runFlags struct {
	forceRefresh bool
	useMemory    bool
}

func run(ctx context.Context, cfg *config.Config, flags runFlags, logger zerolog.Logger) error {
	a, err := build(ctx, cfg, flags.useMemory, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.restore(ctx, flags.forceRefresh); err != nil {
		return err
	}

	srv := newStatusServer(a.scheduler, a.tracker, logger)
	go func() {
		if err := srv.Start(cfg.HTTP.Addr); err != nil {
			logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status server shutdown")
		}
	}()

	logger.Info().
		Bool("paper", cfg.Agent.Paper).
		Bool("dry_run", cfg.Agent.DryRun).
		Str("wallet", a.chain.Address().Hex()).
		Dur("interval", cfg.Agent.ScanInterval).
		Msg("agent started")

	return a.scheduler.Run(ctx)
}
