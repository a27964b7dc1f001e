// Package risk is the centralised pre-trade gate. Every signal passes
// through Gate.Check before execution. Checks run in a fixed order and the
// first hard failure short-circuits with a rejection; size caps downsize
// the signal instead of rejecting it outright.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
	"polymarket-bot/internal/store"
	"polymarket-bot/pkg/types"
)

// ErrRejected wraps every rejection so callers can distinguish risk refusals
// from execution failures with errors.Is.
var ErrRejected = errors.New("risk: rejected")

// ErrHalted is returned once the drawdown kill switch has latched.
var ErrHalted = fmt.Errorf("%w: drawdown halt, trading suspended", ErrRejected)

// minNotionalUSD is the smallest order worth sending after downsizing.
const minNotionalUSD = 1.0

// warnFraction triggers a drawdown warning once this share of the allowed
// drawdown has been consumed.
const warnFraction = 0.80

// ledger is the inventory view the gate needs.
type ledger interface {
	PortfolioValue() float64
	Balance() float64
	OpenPositionCount() int
	MarketExposure(conditionID string) float64
	TotalExposure() float64
}

// volumes is the persistence view the gate needs.
type volumes interface {
	TodayVolume(ctx context.Context) (store.DayVolume, error)
}

// Gate validates signals against the configured limits. The halt latch is
// one-way: once tripped it stays tripped for the process lifetime.
type Gate struct {
	cfg       config.RiskConfig
	inventory ledger
	store     volumes
	bus       *bus.Bus
	logger    *slog.Logger

	halted atomic.Bool
	warned atomic.Bool
}

// New creates a Gate.
func New(cfg config.RiskConfig, inv ledger, st volumes, b *bus.Bus, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:       cfg,
		inventory: inv,
		store:     st,
		bus:       b,
		logger:    logger.With("component", "risk"),
	}
}

// Halted reports whether the drawdown kill switch has fired.
func (g *Gate) Halted() bool { return g.halted.Load() }

// Check validates a signal. The returned signal may carry a smaller size
// than the input. A nil error means the (possibly downsized) signal may be
// executed.
func (g *Gate) Check(ctx context.Context, sig types.Signal) (types.Signal, error) {
	// 1. Drawdown kill switch, always first.
	if g.checkDrawdown() {
		return sig, ErrHalted
	}

	if sig.Price <= 0 || sig.Size <= 0 {
		return sig, fmt.Errorf("%w: non-positive price or size", ErrRejected)
	}

	// 2. Per-trade size cap: downsize, never reject.
	notional := sig.Notional()
	if notional > g.cfg.MaxTradeSizeUSD {
		sig = sig.WithSize(g.cfg.MaxTradeSizeUSD / sig.Price)
		notional = sig.Notional()
		g.logger.Info("trade size capped",
			"strategy", sig.Strategy, "new_size", sig.Size)
	}

	// 3. Daily volume cap.
	day, err := g.store.TodayVolume(ctx)
	if err != nil {
		return sig, fmt.Errorf("risk: read daily volume: %w", err)
	}
	if day.Total+notional > g.cfg.DailyVolumeCapUSD {
		remaining := g.cfg.DailyVolumeCapUSD - day.Total
		if remaining <= 0 {
			return sig, fmt.Errorf("%w: daily volume cap reached", ErrRejected)
		}
		sig = sig.WithSize(remaining / sig.Price)
		notional = sig.Notional()
		g.logger.Info("daily volume downsize",
			"strategy", sig.Strategy, "remaining", remaining)
	}

	// 4. Open positions limit (BUY opens exposure; SELL reduces it).
	if sig.Side == types.BUY &&
		g.inventory.OpenPositionCount() >= g.cfg.MaxOpenPositions {
		return sig, fmt.Errorf("%w: max open positions reached", ErrRejected)
	}

	// 5. Per-market exposure, BUY only.
	if sig.Side == types.BUY {
		exp := g.inventory.MarketExposure(sig.ConditionID)
		if exp+notional > g.cfg.MaxPerMarketUSD {
			remaining := g.cfg.MaxPerMarketUSD - exp
			if remaining <= 0 {
				return sig, fmt.Errorf("%w: per-market exposure limit reached", ErrRejected)
			}
			sig = sig.WithSize(remaining / sig.Price)
			notional = sig.Notional()
			g.logger.Info("per-market downsize",
				"condition_id", sig.ConditionID, "remaining", remaining)
		}
	}

	// 6. Portfolio-wide exposure, BUY only.
	if sig.Side == types.BUY {
		total := g.inventory.TotalExposure()
		if total+notional > g.cfg.MaxPortfolioUSD {
			remaining := g.cfg.MaxPortfolioUSD - total
			if remaining <= 0 {
				return sig, fmt.Errorf("%w: portfolio exposure limit reached", ErrRejected)
			}
			sig = sig.WithSize(remaining / sig.Price)
			g.logger.Info("portfolio downsize", "remaining", remaining)
		}
	}

	if sig.Notional() < minNotionalUSD {
		return sig, fmt.Errorf("%w: downsized below $%.0f minimum", ErrRejected, minNotionalUSD)
	}
	return sig, nil
}

// checkDrawdown latches the halt once portfolio value (cash plus positions
// at cost) falls to the drawdown floor. Positions count because LP
// strategies tie cash up in tokens that retain value.
func (g *Gate) checkDrawdown() bool {
	if g.halted.Load() {
		return true
	}

	portfolio := g.inventory.PortfolioValue()
	floor := g.cfg.StartingBalanceUSD - g.cfg.MaxDrawdownUSD

	if portfolio <= floor {
		if g.halted.CompareAndSwap(false, true) {
			g.logger.Error("DRAWDOWN HALT",
				"portfolio", portfolio,
				"cash", g.inventory.Balance(),
				"floor", floor)
			g.bus.Publish(bus.DrawdownHalt, map[string]any{
				"balance":   portfolio,
				"threshold": floor,
			})
		}
		return true
	}

	used := g.cfg.StartingBalanceUSD - portfolio
	if used >= g.cfg.MaxDrawdownUSD*warnFraction && g.warned.CompareAndSwap(false, true) {
		g.logger.Warn("drawdown warning",
			"portfolio", portfolio, "drawdown_used", used)
		g.bus.Publish(bus.DrawdownWarn, map[string]any{
			"portfolio":     portfolio,
			"drawdown_used": used,
			"max_drawdown":  g.cfg.MaxDrawdownUSD,
		})
	}
	return false
}
