package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
	"polymarket-bot/internal/exchange"
	"polymarket-bot/internal/jitter"
	"polymarket-bot/internal/retry"
	"polymarket-bot/internal/store"
	"polymarket-bot/pkg/types"
)

const copyStatePrefix = "copy_snapshot_"

// walletSource reads a wallet's current positions and its public activity
// feed.
type walletSource interface {
	GetPositions(ctx context.Context, address string) ([]types.Position, error)
	GetActivity(ctx context.Context, address string, limit int) ([]exchange.Activity, error)
}

// snapshotStore persists per-address position snapshots between polls.
type snapshotStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	TouchCopyTarget(ctx context.Context, address string, copiedUSD float64) error
}

// copySnapshot is one position entry in the persisted JSON snapshot.
type copySnapshot struct {
	TokenID     string  `json:"token_id"`
	ConditionID string  `json:"condition_id"`
	Outcome     string  `json:"outcome"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
	Question    string  `json:"market_question"`
}

// CopyTrading mirrors position changes of tracked wallets. Each poll diffs
// the wallet's current positions against the last persisted snapshot: size
// increases become scaled BUYs, decreases become scaled SELLs. A random
// delay before execution breaks the timing correlation with the copied
// trader.
type CopyTrading struct {
	cfg      config.CopyConfig
	wallet   walletSource
	store    snapshotStore
	trader   trader
	bus      *bus.Bus
	interval time.Duration
	logger   *slog.Logger
}

// NewCopyTrading creates the copy-trading strategy.
func NewCopyTrading(cfg config.Config, wallet walletSource, st snapshotStore,
	t trader, b *bus.Bus, logger *slog.Logger) *CopyTrading {
	return &CopyTrading{
		cfg:      cfg.Copy,
		wallet:   wallet,
		store:    st,
		trader:   t,
		bus:      b,
		interval: jitter.Interval(cfg.Copy.PollInterval, cfg.Jitter.TimingPct),
		logger:   logger.With("component", "copy"),
	}
}

func (c *CopyTrading) Name() string { return "copy_trading" }

func (c *CopyTrading) Run(ctx context.Context) {
	loopEvery(ctx, c.interval, func(ctx context.Context) {
		for _, addr := range c.cfg.Traders {
			sigs, err := c.scanTrader(ctx, addr)
			if err != nil {
				scanErr(c.bus, c.logger, c.Name(), fmt.Errorf("trader %s: %w", shortAddr(addr), err))
				continue
			}
			if len(sigs) == 0 {
				continue
			}
			// Random delay so our orders do not trail the copied wallet
			// at a fixed offset.
			delay := time.Duration(rand.Float64() * float64(c.cfg.MaxDelay))
			if err := jitter.Sleep(ctx, delay); err != nil {
				return
			}
			c.trader.ExecuteBatch(ctx, sigs)
		}
	})
}

func (c *CopyTrading) Shutdown(ctx context.Context) {}

// scanTrader diffs one wallet and returns the mirror signals. The snapshot
// is persisted even when no signal clears the minimum, so skipped deltas
// are not re-detected next poll.
func (c *CopyTrading) scanTrader(ctx context.Context, address string) ([]types.Signal, error) {
	var current []types.Position
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		var err error
		current, err = c.wallet.GetPositions(ctx, address)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	previous, err := c.loadSnapshot(ctx, address)
	if err != nil {
		return nil, err
	}

	currentMap := make(map[string]types.Position, len(current))
	for _, p := range current {
		currentMap[p.TokenID] = p
	}

	var signals []types.Signal

	// New or increased positions mirror as BUYs.
	for tokenID, pos := range currentMap {
		prev, seen := previous[tokenID]
		if seen && pos.Size <= prev.Size {
			continue
		}
		delta := pos.Size
		if seen {
			delta = pos.Size - prev.Size
		}
		scaled := delta * c.cfg.ScaleFactor
		if scaled*pos.CurrentPrice < c.cfg.MinTradeUSD {
			continue
		}
		signals = append(signals, types.Signal{
			Strategy:       types.StrategyCopy,
			ConditionID:    pos.ConditionID,
			TokenID:        tokenID,
			MarketQuestion: pos.Question,
			Side:           types.BUY,
			Price:          pos.CurrentPrice,
			Size:           scaled,
			OrderType:      types.OrderTypeGTC,
			Reason:         fmt.Sprintf("copy %s +%.1f", shortAddr(address), delta),
		})
	}

	// Closed or decreased positions mirror as SELLs. MinTradeUSD gates
	// BUYs only: skipping a small exit would strand shares the copied
	// wallet no longer holds.
	for tokenID, prev := range previous {
		cur, open := currentMap[tokenID]
		if open && cur.Size >= prev.Size {
			continue
		}
		delta := prev.Size
		if open {
			delta = prev.Size - cur.Size
		}
		signals = append(signals, types.Signal{
			Strategy:       types.StrategyCopy,
			ConditionID:    prev.ConditionID,
			TokenID:        tokenID,
			MarketQuestion: prev.Question,
			Side:           types.SELL,
			Price:          prev.Price,
			Size:           delta * c.cfg.ScaleFactor,
			OrderType:      types.OrderTypeGTC,
			Reason:         fmt.Sprintf("copy %s -%.1f", shortAddr(address), delta),
		})
	}

	if len(signals) > 0 {
		data := map[string]any{
			"address": address,
			"signals": len(signals),
		}
		// The activity feed timestamps the move we are about to mirror.
		if acts, err := c.wallet.GetActivity(ctx, address, 1); err == nil && len(acts) > 0 {
			data["last_trade_age"] = acts[0].Age().Round(time.Second).String()
		}
		c.bus.Publish(bus.CopyDetected, data)
		var copied float64
		for _, s := range signals {
			copied += s.Notional()
		}
		if err := c.store.TouchCopyTarget(ctx, address, copied); err != nil {
			c.logger.Warn("copy target bookkeeping failed", "error", err)
		}
	}

	if err := c.saveSnapshot(ctx, address, current); err != nil {
		c.logger.Warn("snapshot save failed", "address", shortAddr(address), "error", err)
	}
	return signals, nil
}

func (c *CopyTrading) loadSnapshot(ctx context.Context, address string) (map[string]copySnapshot, error) {
	raw, err := c.store.GetState(ctx, copyStatePrefix+address)
	if errors.Is(err, store.ErrNotFound) || (err == nil && raw == "") {
		return map[string]copySnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var entries []copySnapshot
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// A corrupt snapshot resets the baseline rather than wedging the
		// trader forever.
		c.logger.Warn("snapshot unreadable, resetting", "address", shortAddr(address))
		return map[string]copySnapshot{}, nil
	}
	out := make(map[string]copySnapshot, len(entries))
	for _, e := range entries {
		out[e.TokenID] = e
	}
	return out, nil
}

func (c *CopyTrading) saveSnapshot(ctx context.Context, address string, positions []types.Position) error {
	entries := make([]copySnapshot, 0, len(positions))
	for _, p := range positions {
		entries = append(entries, copySnapshot{
			TokenID:     p.TokenID,
			ConditionID: p.ConditionID,
			Outcome:     p.Outcome,
			Size:        p.Size,
			Price:       p.CurrentPrice,
			Question:    p.Question,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.store.SetState(ctx, copyStatePrefix+address, string(data))
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10] + ".."
}
