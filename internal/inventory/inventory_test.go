package inventory

import (
	"log/slog"
	"math"
	"os"
	"testing"

	"polymarket-bot/pkg/types"
)

func newManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(500, logger)
}

func fill(tokenID string, side types.Side, price, size float64) (types.Signal, types.OrderResult) {
	sig := types.Signal{
		Strategy:    types.StrategyLiquidity,
		ConditionID: "cond-" + tokenID,
		TokenID:     tokenID,
		Side:        side,
		Price:       price,
		Size:        size,
	}
	res := types.OrderResult{Signal: sig, Success: true, FillPrice: price, FillSize: size}
	return sig, res
}

func TestBuyCreatesPosition(t *testing.T) {
	t.Parallel()
	m := newManager()

	m.ApplyFill(fill("tok1", types.BUY, 0.40, 100))

	if got := m.Balance(); got != 460 {
		t.Errorf("balance = %v, want 460", got)
	}
	pos, ok := m.Position("tok1")
	if !ok {
		t.Fatal("position not created")
	}
	if pos.Size != 100 || pos.AvgEntryPrice != 0.40 {
		t.Errorf("position = %+v", pos)
	}
}

func TestBuyMergesWeightedAverage(t *testing.T) {
	t.Parallel()
	m := newManager()

	m.ApplyFill(fill("tok1", types.BUY, 0.40, 100))
	m.ApplyFill(fill("tok1", types.BUY, 0.60, 100))

	pos, _ := m.Position("tok1")
	if pos.Size != 200 {
		t.Errorf("size = %v, want 200", pos.Size)
	}
	if math.Abs(pos.AvgEntryPrice-0.50) > 1e-9 {
		t.Errorf("avg entry = %v, want 0.50", pos.AvgEntryPrice)
	}
}

func TestSellRealizesPnL(t *testing.T) {
	t.Parallel()
	m := newManager()

	m.ApplyFill(fill("tok1", types.BUY, 0.40, 100))
	m.ApplyFill(fill("tok1", types.SELL, 0.50, 100))

	if got := m.RealizedPnL(); math.Abs(got-10) > 1e-9 {
		t.Errorf("realized pnl = %v, want 10", got)
	}
	if _, ok := m.Position("tok1"); ok {
		t.Error("emptied position should be deleted")
	}
	// 500 - 40 + 50
	if got := m.Balance(); math.Abs(got-510) > 1e-9 {
		t.Errorf("balance = %v, want 510", got)
	}
}

func TestSellUntrackedPositionOnlyCredits(t *testing.T) {
	t.Parallel()
	m := newManager()

	m.ApplyFill(fill("ghost", types.SELL, 0.50, 10))

	if got := m.Balance(); got != 505 {
		t.Errorf("balance = %v, want 505", got)
	}
	if got := m.RealizedPnL(); got != 0 {
		t.Errorf("realized pnl = %v, want 0", got)
	}
}

func TestZeroFillIgnored(t *testing.T) {
	t.Parallel()
	m := newManager()

	sig, res := fill("tok1", types.BUY, 0.40, 100)
	res.FillSize = 0
	m.ApplyFill(sig, res)

	if got := m.Balance(); got != 500 {
		t.Errorf("balance = %v, want 500", got)
	}
	if m.OpenPositionCount() != 0 {
		t.Error("no position should exist")
	}
}

func TestExposureQueries(t *testing.T) {
	t.Parallel()
	m := newManager()

	m.ApplyFill(fill("tok1", types.BUY, 0.40, 100)) // cond-tok1, $40
	m.ApplyFill(fill("tok2", types.BUY, 0.25, 80))  // cond-tok2, $20

	if got := m.OpenPositionCount(); got != 2 {
		t.Errorf("open positions = %d, want 2", got)
	}
	if got := m.MarketExposure("cond-tok1"); math.Abs(got-40) > 1e-9 {
		t.Errorf("market exposure = %v, want 40", got)
	}
	if got := m.TotalExposure(); math.Abs(got-60) > 1e-9 {
		t.Errorf("total exposure = %v, want 60", got)
	}
	// balance 440 + exposure 60
	if got := m.PortfolioValue(); math.Abs(got-500) > 1e-9 {
		t.Errorf("portfolio = %v, want 500", got)
	}
}

func TestRestoreReplacesPositions(t *testing.T) {
	t.Parallel()
	m := newManager()

	m.ApplyFill(fill("old", types.BUY, 0.30, 10))
	m.Restore([]types.Position{
		{TokenID: "tok1", ConditionID: "cond1", Size: 50, AvgEntryPrice: 0.45},
		{TokenID: "dust", Size: 0},
	})

	if _, ok := m.Position("old"); ok {
		t.Error("restore should drop prior positions")
	}
	if _, ok := m.Position("dust"); ok {
		t.Error("restore should skip empty positions")
	}
	pos, ok := m.Position("tok1")
	if !ok || pos.Size != 50 {
		t.Errorf("restored position = %+v (ok=%v)", pos, ok)
	}
}
