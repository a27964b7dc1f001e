package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"polymarket-bot/internal/store"
	"polymarket-bot/pkg/types"
)

func newFlipStrategy(t *testing.T, books *fakeBooks, prices *fakePrices) (*Flip, *fakeTrader, *fakeCycles) {
	t.Helper()
	tr := newFakeTrader()
	cycles := newFakeCycles()
	f := NewFlip(baseConfig(), &fakeRewards{}, books, prices, tr, cycles, testBus(), testLogger())
	return f, tr, cycles
}

// flipBooks builds a market where the YES entry rests at 0.47 and the NO
// exit would rest at 0.50, a profitable pair (0.97 < 0.98).
func flipBooks() *fakeBooks {
	return &fakeBooks{books: map[string]*types.OrderBook{
		"m1-yes": {
			Bids: []types.Level{{Price: 0.48, Size: 50}, {Price: 0.47, Size: 30}},
			Asks: []types.Level{{Price: 0.50, Size: 50}},
		},
		"m1-no": {
			Bids: []types.Level{{Price: 0.51, Size: 50}, {Price: 0.50, Size: 40}},
			Asks: []types.Level{{Price: 0.53, Size: 50}},
		},
	}}
}

func TestFlipEntryPlacesBehindBestBid(t *testing.T) {
	t.Parallel()
	f, tr, cycles := newFlipStrategy(t, flipBooks(), &fakePrices{})

	if !f.tryEntrySide(context.Background(), rewardMarket("m1", 20), "yes") {
		t.Fatal("entry should be placed")
	}
	if len(tr.executed) != 1 {
		t.Fatalf("executed = %d signals, want 1", len(tr.executed))
	}
	sig := tr.executed[0]
	if sig.Side != types.BUY || sig.OrderType != types.OrderTypeGTC {
		t.Errorf("entry = %+v, want GTC BUY", sig)
	}
	if sig.Price != 0.47 {
		t.Errorf("entry price = %v, want second bid 0.47", sig.Price)
	}
	if math.Abs(sig.Size-25/0.47) > 1e-9 {
		t.Errorf("entry size = %v, want %v", sig.Size, 25/0.47)
	}

	if f.phase != phaseRestingEntry {
		t.Errorf("phase = %s, want resting_entry", f.phase)
	}
	if f.cycle == nil || f.cycle.oppositeToken != "m1-no" {
		t.Fatalf("cycle = %+v", f.cycle)
	}
	row := cycles.rows[f.cycle.row.ID]
	if row.Status != "open" || row.EntrySide != "yes" || row.EntryPrice != 0.47 {
		t.Errorf("persisted cycle = %+v", row)
	}
}

func TestFlipInstantEntryFillBooksOnce(t *testing.T) {
	t.Parallel()
	f, tr, cycles := newFlipStrategy(t, flipBooks(), &fakePrices{})
	// The entry matches immediately instead of resting.
	tr.queue = []types.OrderResult{{
		Success: true, OrderID: "entry-1", Status: "matched",
		FillPrice: 0.47, FillSize: 25 / 0.47,
	}}

	if !f.tryEntrySide(context.Background(), rewardMarket("m1", 20), "yes") {
		t.Fatal("entry should advance the machine")
	}

	// Execute already settled the instant fill. Booking it again would
	// double the position and the daily volume.
	if len(tr.fills) != 0 {
		t.Fatalf("recorded fills = %d, want 0 for an instant fill", len(tr.fills))
	}
	if len(tr.executed) != 2 {
		t.Fatalf("executed = %d signals, want entry + exit", len(tr.executed))
	}
	if exit := tr.executed[1]; exit.TokenID != "m1-no" || exit.Price != 0.50 {
		t.Errorf("exit = %+v, want m1-no @ 0.50", exit)
	}
	if f.phase != phaseRestingExit {
		t.Fatalf("phase = %s, want resting_exit", f.phase)
	}
	row := cycles.rows[f.cycle.row.ID]
	if row.EntryFilledAt == "" {
		t.Error("entry fill timestamp missing")
	}
}

func TestFlipEntrySkipsUnprofitablePair(t *testing.T) {
	t.Parallel()
	books := flipBooks()
	// The NO exit would rest at 0.52: 0.47 + 0.52 leaves less than the
	// required flip spread under the $1 redemption.
	books.books["m1-no"] = &types.OrderBook{
		Bids: []types.Level{{Price: 0.53, Size: 50}, {Price: 0.52, Size: 40}},
		Asks: []types.Level{{Price: 0.55, Size: 50}},
	}
	f, tr, _ := newFlipStrategy(t, books, &fakePrices{})

	if f.tryEntrySide(context.Background(), rewardMarket("m1", 20), "yes") {
		t.Error("unprofitable pair should be skipped")
	}
	if len(tr.executed) != 0 {
		t.Errorf("executed = %d signals, want 0", len(tr.executed))
	}
}

func TestFlipStaleEntryRecycled(t *testing.T) {
	t.Parallel()
	f, tr, cycles := newFlipStrategy(t, flipBooks(), &fakePrices{})
	f.phase = phaseRestingEntry
	f.cycle = &flipCycle{
		row: store.FlipCycle{
			ID: 1, ConditionID: "m1", EntryOrderID: "entry-1", Status: "open",
		},
		entryPlacedAt: time.Now().Add(-2 * time.Hour),
	}

	if err := f.doRestingEntry(context.Background()); err != nil {
		t.Fatalf("doRestingEntry: %v", err)
	}
	if len(tr.exec.cancelled) != 1 || tr.exec.cancelled[0] != "entry-1" {
		t.Errorf("cancelled = %v, want [entry-1]", tr.exec.cancelled)
	}
	if cycles.rows[1].Status != "cancelled" {
		t.Errorf("status = %s, want cancelled", cycles.rows[1].Status)
	}
	if f.phase != phaseIdle || f.cycle != nil {
		t.Errorf("machine should reset, phase=%s", f.phase)
	}
}

func TestFlipEntryFillPlacesExit(t *testing.T) {
	t.Parallel()
	f, tr, cycles := newFlipStrategy(t, flipBooks(), &fakePrices{})
	f.phase = phaseRestingEntry
	f.cycle = &flipCycle{
		row: store.FlipCycle{
			ID: 1, ConditionID: "m1", Question: "Question m1",
			EntrySide: "yes", EntryTokenID: "m1-yes",
			EntryPrice: 0.47, EntryShares: 50,
			EntryOrderID: "entry-1", Status: "open",
		},
		entryTick:     types.Tick001,
		oppositeToken: "m1-no",
		entryPlacedAt: time.Now(),
	}
	// The entry is gone from the open set: it filled.
	tr.exec.open = nil

	if err := f.doRestingEntry(context.Background()); err != nil {
		t.Fatalf("doRestingEntry: %v", err)
	}

	if len(tr.fills) != 1 {
		t.Fatalf("recorded fills = %d, want 1 (entry)", len(tr.fills))
	}
	if tr.fills[0].orderID != "entry-1" || tr.fills[0].price != 0.47 {
		t.Errorf("entry fill = %+v", tr.fills[0])
	}

	if len(tr.executed) != 1 {
		t.Fatalf("executed = %d signals, want 1 (exit)", len(tr.executed))
	}
	exit := tr.executed[0]
	if exit.TokenID != "m1-no" || exit.Price != 0.50 || exit.Size != 50 {
		t.Errorf("exit = %+v, want 50 shares of m1-no @ 0.50", exit)
	}

	if f.phase != phaseRestingExit {
		t.Errorf("phase = %s, want resting_exit", f.phase)
	}
	row := cycles.rows[1]
	if row.ExitSide != "no" || row.ExitPrice != 0.50 || row.ExitOrderID == "" {
		t.Errorf("persisted exit = %+v", row)
	}
}

func TestFlipExitFillCompletesCycle(t *testing.T) {
	t.Parallel()
	f, tr, cycles := newFlipStrategy(t, flipBooks(), &fakePrices{})
	f.phase = phaseRestingExit
	f.cycle = &flipCycle{
		row: store.FlipCycle{
			ID: 1, ConditionID: "m1", Question: "Question m1",
			EntrySide: "yes", EntryTokenID: "m1-yes",
			EntryPrice: 0.48, EntryShares: 50,
			EntryOrderID: "entry-1",
			ExitSide:     "no", ExitTokenID: "m1-no",
			ExitPrice: 0.46, ExitShares: 50,
			ExitOrderID: "exit-1", Status: "open",
		},
		entryTick:     types.Tick001,
		oppositeToken: "m1-no",
	}
	tr.exec.open = nil

	if err := f.doRestingExit(context.Background()); err != nil {
		t.Fatalf("doRestingExit: %v", err)
	}

	if len(tr.fills) != 1 || tr.fills[0].orderID != "exit-1" {
		t.Fatalf("fills = %+v, want the exit fill", tr.fills)
	}
	row := cycles.rows[1]
	if row.Status != "completed" {
		t.Errorf("status = %s, want completed", row.Status)
	}
	if row.ExitFilledAt == "" {
		t.Error("exit fill timestamp missing")
	}
	// 50 matched pairs redeem $50; the legs cost $24 and $23.
	if math.Abs(row.Profit-3.0) > 1e-9 {
		t.Errorf("profit = %v, want 3.0", row.Profit)
	}
	if f.phase != phaseIdle {
		t.Errorf("phase = %s, want idle", f.phase)
	}
}

func TestFlipStopLossUnwindsEntry(t *testing.T) {
	t.Parallel()
	prices := &fakePrices{prices: map[string]float64{"m1-yes": 0.33}}
	f, tr, cycles := newFlipStrategy(t, flipBooks(), prices)
	f.phase = phaseRestingExit
	f.cycle = &flipCycle{
		row: store.FlipCycle{
			ID: 1, ConditionID: "m1",
			EntrySide: "yes", EntryTokenID: "m1-yes",
			EntryPrice: 0.48, EntryShares: 50,
			ExitOrderID: "exit-1", Status: "open",
		},
		entryTick:     types.Tick001,
		oppositeToken: "m1-no",
	}
	tr.exec.tokens["m1-yes"] = 50
	// Keep the exit order visible so only the stop-loss path can fire.
	tr.exec.open = []types.OpenOrder{{ID: "exit-1", Status: "live"}}

	if err := f.doRestingExit(context.Background()); err != nil {
		t.Fatalf("doRestingExit: %v", err)
	}

	if len(tr.exec.cancelled) != 1 || tr.exec.cancelled[0] != "exit-1" {
		t.Errorf("cancelled = %v, want [exit-1]", tr.exec.cancelled)
	}
	if len(tr.exec.placed) != 1 {
		t.Fatalf("emergency sells = %d, want 1", len(tr.exec.placed))
	}
	sell := tr.exec.placed[0]
	if sell.Side != types.SELL || sell.Size != 50 {
		t.Errorf("emergency sell = %+v", sell)
	}
	if want := types.RoundToTick(0.33*0.5, types.Tick001); sell.Price != want {
		t.Errorf("sell price = %v, want %v", sell.Price, want)
	}

	row := cycles.rows[1]
	if row.Status != "stop_loss" {
		t.Errorf("status = %s, want stop_loss", row.Status)
	}
	if row.ExitFilledAt != "" {
		t.Errorf("exit fill timestamp = %q, want empty for a cancelled exit", row.ExitFilledAt)
	}
	if math.Abs(row.Profit-(0.33-0.48)*50) > 1e-9 {
		t.Errorf("profit = %v, want -7.5", row.Profit)
	}
	if f.phase != phaseIdle {
		t.Errorf("phase = %s, want idle", f.phase)
	}
}

func TestFlipExitPlacementFailureUnwinds(t *testing.T) {
	t.Parallel()
	// No book for the opposite token, so the exit cannot be placed.
	books := &fakeBooks{books: map[string]*types.OrderBook{
		"m1-yes": {
			Bids: []types.Level{{Price: 0.48, Size: 50}, {Price: 0.47, Size: 30}},
			Asks: []types.Level{{Price: 0.50, Size: 50}},
		},
	}}
	f, tr, cycles := newFlipStrategy(t, books, &fakePrices{})
	f.phase = phaseRestingEntry
	f.cycle = &flipCycle{
		row: store.FlipCycle{
			ID: 1, ConditionID: "m1",
			EntrySide: "yes", EntryTokenID: "m1-yes",
			EntryPrice: 0.47, EntryShares: 50,
			EntryOrderID: "entry-1", Status: "open",
		},
		entryTick:     types.Tick001,
		oppositeToken: "m1-no",
		entryPlacedAt: time.Now(),
	}
	tr.exec.tokens["m1-yes"] = 50
	tr.exec.open = nil

	if err := f.doRestingEntry(context.Background()); err != nil {
		t.Fatalf("doRestingEntry: %v", err)
	}

	// Entry fill recorded, then the emergency sell fill.
	if len(tr.fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(tr.fills))
	}
	if len(tr.exec.placed) != 1 || tr.exec.placed[0].Side != types.SELL {
		t.Errorf("emergency sell = %+v", tr.exec.placed)
	}
	if cycles.rows[1].Status != "error" {
		t.Errorf("status = %s, want error", cycles.rows[1].Status)
	}
	if f.phase != phaseIdle {
		t.Errorf("phase = %s, want idle", f.phase)
	}
}

func TestFlipAbandonsStaleCycles(t *testing.T) {
	t.Parallel()
	f, _, cycles := newFlipStrategy(t, flipBooks(), &fakePrices{})
	c := &store.FlipCycle{ConditionID: "m1", EntryOrderID: "dead-1"}
	if _, err := cycles.InsertFlipCycle(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	f.abandonStaleCycles(context.Background())

	if got := cycles.rows[c.ID].Status; got != "abandoned" {
		t.Errorf("status = %s, want abandoned", got)
	}
}

func TestFlipShutdownCancelsRestingOrder(t *testing.T) {
	t.Parallel()
	f, tr, _ := newFlipStrategy(t, flipBooks(), &fakePrices{})
	f.phase = phaseRestingExit
	f.cycle = &flipCycle{row: store.FlipCycle{EntryOrderID: "entry-1", ExitOrderID: "exit-1"}}

	f.Shutdown(context.Background())

	if len(tr.exec.cancelled) != 1 || tr.exec.cancelled[0] != "exit-1" {
		t.Errorf("cancelled = %v, want the resting exit", tr.exec.cancelled)
	}
}
