// Package inventory tracks the bot's cash balance and open token positions
// across all markets. Strategies and the risk gate read from it; only the
// order manager writes fills into it.
package inventory

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"polymarket-bot/pkg/types"
)

// Manager is the global position ledger. Thread-safe via RWMutex.
type Manager struct {
	mu          sync.RWMutex
	balance     float64
	realizedPnL float64
	positions   map[string]*types.Position // keyed by token ID
	logger      *slog.Logger
}

// New creates a Manager seeded with the starting cash balance.
func New(startingBalance float64, logger *slog.Logger) *Manager {
	return &Manager{
		balance:   startingBalance,
		positions: make(map[string]*types.Position),
		logger:    logger.With("component", "inventory"),
	}
}

// ApplyFill updates balance and positions from an executed order. BUY
// reduces cash and raises the volume-weighted entry price; SELL adds the
// proceeds, realizes PnL against the cost basis, and drops emptied
// positions.
func (m *Manager) ApplyFill(sig types.Signal, res types.OrderResult) {
	if res.FillSize <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	notional := res.FillPrice * res.FillSize

	if sig.Side == types.BUY {
		m.balance -= notional + res.FeePaid
		pos, ok := m.positions[sig.TokenID]
		if !ok {
			pos = &types.Position{
				ConditionID: sig.ConditionID,
				TokenID:     sig.TokenID,
				Question:    sig.MarketQuestion,
				Strategy:    sig.Strategy,
				OpenedAt:    time.Now().UTC(),
			}
			m.positions[sig.TokenID] = pos
		}
		totalCost := pos.AvgEntryPrice*pos.Size + notional
		pos.Size += res.FillSize
		if pos.Size > 0 {
			pos.AvgEntryPrice = totalCost / pos.Size
		}
		return
	}

	// SELL
	m.balance += notional - res.FeePaid
	pos, ok := m.positions[sig.TokenID]
	if !ok {
		// Selling shares acquired outside this process (legacy positions).
		m.logger.Warn("sell fill without tracked position",
			"token_id", sig.TokenID, "size", res.FillSize)
		return
	}
	sold := math.Min(res.FillSize, pos.Size)
	m.realizedPnL += (res.FillPrice - pos.AvgEntryPrice) * sold
	pos.Size -= res.FillSize
	if pos.Size <= 1e-9 {
		delete(m.positions, sig.TokenID)
	}
}

// Balance returns the current cash balance in USD.
func (m *Manager) Balance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance
}

// SetBalance overwrites the cash balance (startup sync from the exchange).
func (m *Manager) SetBalance(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = v
}

// RealizedPnL returns cumulative realized profit since start.
func (m *Manager) RealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.realizedPnL
}

// Position returns a copy of the holding in the given token.
func (m *Manager) Position(tokenID string) (types.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[tokenID]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns a snapshot copy of all open positions.
func (m *Manager) Positions() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenPositionCount returns the number of distinct token positions.
func (m *Manager) OpenPositionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// MarketExposure sums cost basis across both outcome tokens of a condition.
func (m *Manager) MarketExposure(conditionID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		if pos.ConditionID == conditionID {
			total += pos.CostBasis()
		}
	}
	return total
}

// TotalExposure sums cost basis across all open positions.
func (m *Manager) TotalExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		total += pos.CostBasis()
	}
	return total
}

// PortfolioValue is balance plus exposure at cost. The drawdown check
// compares this against the halt floor.
func (m *Manager) PortfolioValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		total += pos.CostBasis()
	}
	return m.balance + total
}

// Restore replaces the tracked positions wholesale (startup sync).
func (m *Manager) Restore(positions []types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*types.Position, len(positions))
	for i := range positions {
		p := positions[i]
		if p.Size <= 0 {
			continue
		}
		m.positions[p.TokenID] = &p
	}
}

// exchangeState is the slice of the exchange client SyncFromExchange needs.
type exchangeState interface {
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetBalance(ctx context.Context) (float64, error)
}

// SyncFromExchange seeds balance and positions from the exchange at startup.
// Dry-run engines skip this and keep the configured starting balance.
func (m *Manager) SyncFromExchange(ctx context.Context, ex exchangeState) error {
	positions, err := ex.GetPositions(ctx)
	if err != nil {
		return err
	}
	balance, err := ex.GetBalance(ctx)
	if err != nil {
		return err
	}
	m.Restore(positions)
	m.SetBalance(balance)
	m.logger.Info("inventory synced",
		"balance", balance, "positions", len(positions))
	return nil
}
