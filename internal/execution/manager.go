package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
	"polymarket-bot/internal/inventory"
	"polymarket-bot/internal/jitter"
	"polymarket-bot/internal/risk"
	"polymarket-bot/internal/store"
	"polymarket-bot/pkg/types"
)

// placementDelay is the base pause before each order goes out. Jittered so
// placements never land on a fixed cadence.
const placementDelay = 250 * time.Millisecond

// Manager runs the signal pipeline: risk gate, jitter, placement, inventory
// update, persistence, event publish. One signal at a time; the mutex keeps
// risk checks consistent when several strategies fire together.
type Manager struct {
	mu        sync.Mutex
	gate      *risk.Gate
	executor  Executor
	inventory *inventory.Manager
	store     *store.Store
	bus       *bus.Bus
	jcfg      config.JitterConfig
	logger    *slog.Logger
}

// NewManager wires the pipeline.
func NewManager(gate *risk.Gate, exec Executor, inv *inventory.Manager,
	st *store.Store, b *bus.Bus, jcfg config.JitterConfig, logger *slog.Logger) *Manager {
	return &Manager{
		gate:      gate,
		executor:  exec,
		inventory: inv,
		store:     st,
		bus:       b,
		jcfg:      jcfg,
		logger:    logger.With("component", "orders"),
	}
}

// Executor exposes the underlying venue for strategies that manage their own
// resting orders (open-order polling, cancels, allowance reads).
func (m *Manager) Executor() Executor { return m.executor }

// Halted reports whether the risk gate has latched the drawdown halt.
func (m *Manager) Halted() bool { return m.gate.Halted() }

// Execute runs one signal through the full pipeline. Risk rejections return
// the wrapped risk error and are not persisted; execution failures are
// persisted as failed trades. The returned result reflects the possibly
// downsized signal that was actually sent.
func (m *Manager) Execute(ctx context.Context, sig types.Signal) (types.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	approved, err := m.gate.Check(ctx, sig)
	if err != nil {
		if errors.Is(err, risk.ErrRejected) {
			m.logger.Info("signal rejected",
				"strategy", sig.Strategy, "reason", err.Error())
		}
		return types.OrderResult{Signal: sig, Error: err.Error()}, err
	}

	approved = approved.WithSize(jitter.Size(approved.Size, m.jcfg.SizePct))
	if err := jitter.Sleep(ctx, jitter.Interval(placementDelay, m.jcfg.TimingPct)); err != nil {
		return types.OrderResult{Signal: approved, Error: err.Error()}, err
	}

	res, err := m.executor.Place(ctx, approved)
	if err != nil {
		m.logger.Error("order placement failed",
			"strategy", approved.Strategy, "side", approved.Side, "error", err)
		if _, dbErr := m.store.InsertTrade(ctx, res); dbErr != nil {
			m.logger.Error("persist failed trade", "error", dbErr)
		}
		return res, err
	}

	m.settle(ctx, approved, res)
	return res, nil
}

// ExecuteBatch runs signals in order, stopping early once the drawdown halt
// latches. Results are returned for every signal attempted.
func (m *Manager) ExecuteBatch(ctx context.Context, sigs []types.Signal) []types.OrderResult {
	out := make([]types.OrderResult, 0, len(sigs))
	for _, sig := range sigs {
		res, err := m.Execute(ctx, sig)
		out = append(out, res)
		if errors.Is(err, risk.ErrHalted) || ctx.Err() != nil {
			break
		}
	}
	return out
}

// RecordFill books a fill that a strategy detected on a previously resting
// order. The order already passed the gate when it was placed, so this only
// updates inventory, persistence, and the event stream.
func (m *Manager) RecordFill(ctx context.Context, sig types.Signal, orderID string, fillPrice, fillSize float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := types.OrderResult{
		Signal:    sig,
		Success:   true,
		OrderID:   orderID,
		Status:    "matched",
		FillPrice: fillPrice,
		FillSize:  fillSize,
		At:        time.Now().UTC(),
	}
	m.inventory.ApplyFill(sig, res)
	if _, err := m.store.InsertTrade(ctx, res); err != nil {
		m.logger.Error("persist resting fill", "error", err)
	}
	if err := m.store.UpdateDailyVolume(ctx, sig.Strategy, fillPrice*fillSize, 0); err != nil {
		m.logger.Error("update daily volume", "error", err)
	}
	m.publishTrade(res)

	m.bus.Publish(bus.OrderResolved, map[string]any{
		"order_id":   orderID,
		"strategy":   string(sig.Strategy),
		"fill_price": fillPrice,
		"fill_size":  fillSize,
	})
}

// CancelAll cancels every resting order on the venue.
func (m *Manager) CancelAll(ctx context.Context) error {
	return m.executor.CancelAll(ctx)
}

func (m *Manager) settle(ctx context.Context, sig types.Signal, res types.OrderResult) {
	if res.Filled() {
		m.inventory.ApplyFill(sig, res)
	}
	if _, err := m.store.InsertTrade(ctx, res); err != nil {
		m.logger.Error("persist trade", "error", err)
	}
	// Volume counts at fill time. Resting orders contribute when their
	// fill is recorded, not at placement.
	if res.Filled() {
		if err := m.store.UpdateDailyVolume(ctx, sig.Strategy, res.FillPrice*res.FillSize, 0); err != nil {
			m.logger.Error("update daily volume", "error", err)
		}
	}
	m.publishTrade(res)

	m.logger.Info("order executed",
		"strategy", sig.Strategy, "side", sig.Side,
		"price", sig.Price, "size", sig.Size,
		"status", res.Status, "order_id", res.OrderID, "dry_run", res.DryRun)
}

func (m *Manager) publishTrade(res types.OrderResult) {
	m.bus.Publish(bus.TradeExecuted, map[string]any{
		"strategy": string(res.Signal.Strategy),
		"market":   res.Signal.MarketQuestion,
		"side":     string(res.Signal.Side),
		"price":    res.Signal.Price,
		"size":     res.Signal.Size,
		"status":   res.Status,
		"order_id": res.OrderID,
		"dry_run":  res.DryRun,
		"balance":  m.inventory.Balance(),
	})
}
