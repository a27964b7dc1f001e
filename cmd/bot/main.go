// Polymarket trading bot — runs multiple concurrent strategies against
// Polymarket binary prediction markets.
//
// Architecture:
//
//	main.go               — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go      — orchestrator: wires clients → risk → execution → strategies
//	strategy/liquidity.go — LP reward farming: one resting bid per market inside the reward band
//	strategy/flip.go      — single-market entry→exit cycle pairing both outcomes for $1 redemption
//	strategy/arbitrage.go — YES+NO cost-sum scanner emitting paired FOK orders
//	strategy/copytrade.go — mirrors position changes of tracked leaderboard wallets
//	strategy/synthedge.go — Kelly-sized bets on external forecast vs market divergence
//	execution/manager.go  — signal pipeline: risk gate → jitter → place → inventory → store → bus
//	risk/gate.go          — ordered limit checks with a latching drawdown halt
//	exchange/             — CLOB, Gamma, Data, and Synth API clients with rate limiting
//	store/store.go        — SQLite persistence: trades, volumes, flip cycles, KV state
//	api/                  — dashboard: JSON snapshot plus WebSocket event stream
//
// How it makes money:
//
//	The LP strategies earn Polymarket's liquidity rewards by keeping resting
//	bids inside each market's reward-eligible spread band. Arbitrage captures
//	moments where YES+NO can be bought for less than the $1 they jointly
//	redeem. Copy and forecast-edge are directional: one mirrors wallets with
//	an edge, the other bets when an external model disagrees with the market.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"polymarket-bot/internal/config"
	"polymarket-bot/internal/engine"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// Secrets come from the environment; .env is a convenience for dev.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env", "error", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	if cfg.Dashboard.Enabled {
		logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
