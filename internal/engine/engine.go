// Package engine is the central orchestrator of the trading bot.
//
// It wires together all subsystems:
//
//  1. Config selects which strategies run and whether orders are real.
//  2. Exchange clients (CLOB, Gamma, Data, Synth) provide market state.
//  3. Every strategy signal flows through one order pipeline:
//     risk gate → jitter → executor → inventory → store → event bus.
//  4. The strategy runner supervises one goroutine per enabled strategy.
//  5. The dashboard server projects the event bus for observers.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-bot/internal/api"
	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
	"polymarket-bot/internal/exchange"
	"polymarket-bot/internal/execution"
	"polymarket-bot/internal/inventory"
	"polymarket-bot/internal/retry"
	"polymarket-bot/internal/risk"
	"polymarket-bot/internal/store"
	"polymarket-bot/internal/strategy"
	"polymarket-bot/pkg/types"
)

// statsInterval is how often the engine samples portfolio state onto the
// event bus.
const statsInterval = time.Minute

// Engine owns the lifecycle of every component and goroutine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	store     *store.Store
	bus       *bus.Bus
	auth      *exchange.Auth
	clob      *exchange.Client
	gamma     *exchange.GammaClient
	data      *exchange.DataClient
	synth     *exchange.SynthClient
	inventory *inventory.Manager
	orders    *execution.Manager
	runner    *strategy.Runner
	dashboard *api.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// exchangeAccount joins the CLOB balance endpoint with the data-API
// position listing for inventory sync.
type exchangeAccount struct {
	clob *exchange.Client
	data *exchange.DataClient
}

func (a exchangeAccount) GetPositions(ctx context.Context) ([]types.Position, error) {
	return a.data.GetOwnPositions(ctx)
}

func (a exchangeAccount) GetBalance(ctx context.Context) (float64, error) {
	return a.clob.GetBalance(ctx)
}

// New creates and wires all engine components. Live mode requires a wallet
// private key; dry-run works without one.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	b := bus.New(cfg.Dashboard.EventBuffer, logger)

	var auth *exchange.Auth
	if cfg.Wallet.PrivateKey != "" {
		auth, err = exchange.NewAuth(cfg)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("wallet auth: %w", err)
		}
	}

	clob := exchange.NewClient(cfg, auth, logger)
	gamma := exchange.NewGammaClient(cfg, logger)

	ownAddress := ""
	if auth != nil {
		ownAddress = auth.Address().Hex()
	}
	data := exchange.NewDataClient(cfg, ownAddress, logger)
	synth := exchange.NewSynthClient(cfg, logger)

	inv := inventory.New(cfg.Risk.StartingBalanceUSD, logger)
	gate := risk.New(cfg.Risk, inv, st, b, logger)

	var exec execution.Executor
	if cfg.DryRun {
		exec = execution.NewDryRunExecutor(inv.Balance, func(tokenID string) float64 {
			pos, ok := inv.Position(tokenID)
			if !ok {
				return 0
			}
			return pos.Size
		}, logger)
	} else {
		exec = execution.NewLiveExecutor(clob, logger)
	}
	orders := execution.NewManager(gate, exec, inv, st, b, cfg.Jitter, logger)

	var strategies []strategy.Strategy
	if cfg.Strategies.Arbitrage {
		strategies = append(strategies, strategy.NewArbitrage(cfg, gamma, clob, orders, b, logger))
	}
	if cfg.Strategies.Liquidity {
		strategies = append(strategies, strategy.NewLiquidity(cfg, clob, clob, clob, inv, st, orders, b, logger))
	}
	if cfg.Strategies.LPFlip {
		strategies = append(strategies, strategy.NewFlip(cfg, clob, clob, clob, orders, st, b, logger))
	}
	if cfg.Strategies.Copy {
		strategies = append(strategies, strategy.NewCopyTrading(cfg, data, st, orders, b, logger))
	}
	if cfg.Strategies.SynthEdge {
		strategies = append(strategies, strategy.NewSynthEdge(cfg, synth, st, orders, b, logger))
	}
	runner := strategy.NewRunner(strategies, b, logger)

	var dashboard *api.Server
	if cfg.Dashboard.Enabled {
		dashboard = api.NewServer(cfg.Dashboard, b, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		store:     st,
		bus:       b,
		auth:      auth,
		clob:      clob,
		gamma:     gamma,
		data:      data,
		synth:     synth,
		inventory: inv,
		orders:    orders,
		runner:    runner,
		dashboard: dashboard,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start brings the account state current and launches the strategies, the
// stats sampler, and the dashboard.
func (e *Engine) Start() error {
	if e.cfg.DryRun {
		e.logger.Info("dry-run mode: orders are simulated",
			"starting_balance", e.cfg.Risk.StartingBalanceUSD)
	} else {
		if err := e.connectLive(); err != nil {
			return err
		}
	}

	e.runner.Start(e.ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.statsLoop()
	}()

	if e.dashboard != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.dashboard.Start(e.ctx); err != nil {
				e.logger.Error("dashboard server failed", "error", err)
			}
		}()
	}

	e.logger.Info("engine started", "dry_run", e.cfg.DryRun)
	return nil
}

// connectLive derives L2 credentials when needed, refreshes the collateral
// allowance, and seeds inventory from the exchange.
func (e *Engine) connectLive() error {
	ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	defer cancel()

	if e.auth == nil {
		return fmt.Errorf("live mode requires wallet.private_key")
	}
	if !e.auth.HasL2Credentials() {
		e.logger.Info("no L2 credentials, deriving API key via L1")
		var creds *exchange.Credentials
		err := retry.Do(ctx, retry.DefaultConfig, func() error {
			var err error
			creds, err = e.clob.DeriveAPIKey(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("derive api key: %w", err)
		}
		e.auth.SetCredentials(*creds)
	}

	if err := e.clob.UpdateBalanceAllowance(ctx); err != nil {
		e.logger.Warn("balance allowance refresh failed", "error", err)
	}

	account := exchangeAccount{clob: e.clob, data: e.data}
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		return e.inventory.SyncFromExchange(ctx, account)
	})
	if err != nil {
		return fmt.Errorf("sync inventory: %w", err)
	}
	e.logger.Info("account synced",
		"balance", e.inventory.Balance(),
		"positions", e.inventory.OpenPositionCount())
	return nil
}

// Stop shuts the engine down: strategies first so no new signals arrive,
// then the exchange safety net, then the consumers and the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()
	e.runner.Wait()

	if !e.cfg.DryRun {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.orders.CancelAll(ctx); err != nil {
			e.logger.Error("cancel-all on shutdown failed", "error", err)
		}
		cancel()
	}

	e.wg.Wait()

	if e.dashboard != nil {
		if err := e.dashboard.Stop(); err != nil {
			e.logger.Error("dashboard stop failed", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("store close failed", "error", err)
	}

	e.logger.Info("shutdown complete",
		"balance", e.inventory.Balance(),
		"realized_pnl", e.inventory.RealizedPnL(),
		"dropped_events", e.bus.Dropped())
}

// statsLoop samples portfolio state onto the bus for the dashboard's
// balance history.
func (e *Engine) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			balance := e.inventory.Balance()
			positions := e.inventory.PortfolioValue() - balance
			e.bus.Publish(bus.BalanceUpdate, map[string]any{
				"balance":         balance,
				"positions_value": positions,
				"realized_pnl":    e.inventory.RealizedPnL(),
				"open_positions":  e.inventory.OpenPositionCount(),
			})
			e.logger.Info("portfolio",
				"balance", balance,
				"positions_value", positions,
				"realized_pnl", e.inventory.RealizedPnL(),
				"open_positions", e.inventory.OpenPositionCount())
		}
	}
}
