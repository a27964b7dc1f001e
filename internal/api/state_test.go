package api

import (
	"fmt"
	"testing"
	"time"

	"polymarket-bot/internal/bus"
)

func event(t bus.EventType, data map[string]any) bus.Event {
	return bus.Event{Type: t, At: time.Now().UTC(), Data: data}
}

func TestStateAppliesTrade(t *testing.T) {
	t.Parallel()
	s := NewState()

	s.Apply(event(bus.TradeExecuted, map[string]any{
		"strategy": "arbitrage",
		"market":   "Will it happen?",
		"side":     "BUY",
		"price":    0.45,
		"size":     50.0,
		"status":   "matched",
		"dry_run":  true,
		"balance":  477.5,
	}))

	snap := s.Snapshot()
	if snap.Balance != 477.5 {
		t.Errorf("balance = %v, want 477.5", snap.Balance)
	}
	st := snap.Strategies["arbitrage"]
	if st.Trades != 1 || st.Status != "ok" {
		t.Errorf("strategy = %+v", st)
	}
	if st.VolumeUSD != 22.5 {
		t.Errorf("volume = %v, want 22.5", st.VolumeUSD)
	}
	if len(snap.Activity) != 1 || snap.Activity[0].Market != "Will it happen?" || !snap.Activity[0].DryRun {
		t.Errorf("activity = %+v", snap.Activity)
	}
	if snap.EventsApplied != 1 {
		t.Errorf("applied = %d, want 1", snap.EventsApplied)
	}
}

func TestStateRestingTradeAddsNoVolume(t *testing.T) {
	t.Parallel()
	s := NewState()

	s.Apply(event(bus.TradeExecuted, map[string]any{
		"strategy": "liquidity",
		"price":    0.45,
		"size":     50.0,
		"status":   "live",
	}))

	st := s.Snapshot().Strategies["liquidity"]
	if st.Trades != 1 || st.VolumeUSD != 0 {
		t.Errorf("strategy = %+v, want 1 trade and no volume", st)
	}
}

func TestStateActivityRingBounded(t *testing.T) {
	t.Parallel()
	s := NewState()

	for i := 0; i < activityRingSize+25; i++ {
		s.Apply(event(bus.TradeExecuted, map[string]any{
			"strategy": "arbitrage",
			"market":   fmt.Sprintf("m-%d", i),
			"status":   "matched",
		}))
	}

	snap := s.Snapshot()
	if len(snap.Activity) != activityRingSize {
		t.Fatalf("ring = %d entries, want %d", len(snap.Activity), activityRingSize)
	}
	if snap.Activity[len(snap.Activity)-1].Market != fmt.Sprintf("m-%d", activityRingSize+24) {
		t.Errorf("ring should keep the newest entries, last = %s",
			snap.Activity[len(snap.Activity)-1].Market)
	}
}

func TestStateCountsEdgesScansErrors(t *testing.T) {
	t.Parallel()
	s := NewState()

	s.Apply(event(bus.EdgeDetected, map[string]any{"strategy": "arbitrage"}))
	s.Apply(event(bus.MarketScanned, map[string]any{"strategy": "arbitrage"}))
	s.Apply(event(bus.MarketScanned, map[string]any{"strategy": "arbitrage"}))
	s.Apply(event(bus.StrategyError, map[string]any{"strategy": "arbitrage", "error": "scan failed"}))

	st := s.Snapshot().Strategies["arbitrage"]
	if st.Edges != 1 || st.Scans != 2 || st.Errors != 1 {
		t.Errorf("counters = %+v", st)
	}
	if st.Status != "error" || st.LastError != "scan failed" {
		t.Errorf("error state = %+v", st)
	}
}

func TestStateDrawdownFlags(t *testing.T) {
	t.Parallel()
	s := NewState()

	s.Apply(event(bus.DrawdownWarn, nil))
	if snap := s.Snapshot(); !snap.DrawdownWarned || snap.Halted {
		t.Errorf("after warn: %+v", snap)
	}

	s.Apply(event(bus.DrawdownHalt, nil))
	if snap := s.Snapshot(); !snap.Halted {
		t.Error("halt flag should be set")
	}
}

func TestStateLPQuoteAndFlipPhase(t *testing.T) {
	t.Parallel()
	s := NewState()

	s.Apply(event(bus.LPPosition, map[string]any{
		"market":     "Question m1",
		"side":       "yes",
		"price":      0.43,
		"shares":     58.0,
		"est_reward": 4.2,
	}))
	s.Apply(event(bus.FlipPhase, map[string]any{
		"phase":  "resting_entry",
		"market": "Question m2",
	}))

	snap := s.Snapshot()
	q := snap.LPQuotes["Question m1"]
	if q.Side != "yes" || q.Price != 0.43 || q.EstDailyReward != 4.2 {
		t.Errorf("lp quote = %+v", q)
	}
	if snap.Flip.Phase != "resting_entry" || snap.Flip.Market != "Question m2" {
		t.Errorf("flip = %+v", snap.Flip)
	}
}

func TestStateBalanceHistoryBounded(t *testing.T) {
	t.Parallel()
	s := NewState()

	for i := 0; i < balanceHistorySize+10; i++ {
		s.Apply(event(bus.BalanceUpdate, map[string]any{
			"balance":         float64(i),
			"positions_value": 25.0,
		}))
	}

	snap := s.Snapshot()
	if len(snap.History) != balanceHistorySize {
		t.Fatalf("history = %d points, want %d", len(snap.History), balanceHistorySize)
	}
	if snap.Balance != float64(balanceHistorySize+9) {
		t.Errorf("balance = %v, want the last sample", snap.Balance)
	}
	if snap.Portfolio != snap.Balance+25 {
		t.Errorf("portfolio = %v, want balance + positions value", snap.Portfolio)
	}
}

func TestStateSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	s := NewState()
	s.Apply(event(bus.TradeExecuted, map[string]any{"strategy": "arbitrage", "status": "matched"}))

	snap := s.Snapshot()
	snap.Strategies["arbitrage"] = StrategyStatus{Trades: 99}
	snap.Activity[0].Market = "mutated"

	fresh := s.Snapshot()
	if fresh.Strategies["arbitrage"].Trades != 1 {
		t.Error("snapshot map should not alias internal state")
	}
	if fresh.Activity[0].Market == "mutated" {
		t.Error("snapshot slice should not alias internal state")
	}
}

func TestStateUnknownStrategyBucket(t *testing.T) {
	t.Parallel()
	s := NewState()
	s.Apply(event(bus.MarketScanned, nil))

	if _, ok := s.Snapshot().Strategies["unknown"]; !ok {
		t.Error("events without a strategy tag fold into the unknown bucket")
	}
}
