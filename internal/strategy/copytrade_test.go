package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"polymarket-bot/internal/exchange"
	"polymarket-bot/internal/store"
	"polymarket-bot/pkg/types"
)

type fakeWallet struct {
	positions     []types.Position
	err           error
	failures      int // transient errors returned before succeeding
	positionCalls int
	activityCalls int
}

func (f *fakeWallet) GetPositions(ctx context.Context, address string) ([]types.Position, error) {
	f.positionCalls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("data api timeout")
	}
	return f.positions, f.err
}

func (f *fakeWallet) GetActivity(ctx context.Context, address string, limit int) ([]exchange.Activity, error) {
	f.activityCalls++
	return []exchange.Activity{{Timestamp: time.Now().Unix(), Type: "TRADE"}}, nil
}

type fakeSnapshots struct {
	kv      map[string]string
	touches []float64
}

func newFakeSnapshots() *fakeSnapshots { return &fakeSnapshots{kv: make(map[string]string)} }

func (f *fakeSnapshots) GetState(ctx context.Context, key string) (string, error) {
	v, ok := f.kv[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeSnapshots) SetState(ctx context.Context, key, value string) error {
	f.kv[key] = value
	return nil
}

func (f *fakeSnapshots) TouchCopyTarget(ctx context.Context, address string, copiedUSD float64) error {
	f.touches = append(f.touches, copiedUSD)
	return nil
}

const copyAddr = "0xabc1234567890"

func newCopy(t *testing.T, wallet *fakeWallet, snaps *fakeSnapshots) *CopyTrading {
	t.Helper()
	return NewCopyTrading(baseConfig(), wallet, snaps, newFakeTrader(), testBus(), testLogger())
}

func seedSnapshot(t *testing.T, snaps *fakeSnapshots, entries []copySnapshot) {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	snaps.kv[copyStatePrefix+copyAddr] = string(data)
}

func TestCopyMirrorsIncrease(t *testing.T) {
	t.Parallel()
	snaps := newFakeSnapshots()
	seedSnapshot(t, snaps, []copySnapshot{
		{TokenID: "tok1", ConditionID: "cond1", Size: 100, Price: 0.50},
	})
	wallet := &fakeWallet{positions: []types.Position{
		{TokenID: "tok1", ConditionID: "cond1", Size: 300, CurrentPrice: 0.50, Question: "Q"},
	}}
	c := newCopy(t, wallet, snaps)

	sigs, err := c.scanTrader(context.Background(), copyAddr)
	if err != nil {
		t.Fatalf("scanTrader: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("signals = %d, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.Side != types.BUY || sig.OrderType != types.OrderTypeGTC {
		t.Errorf("signal = %+v, want GTC BUY", sig)
	}
	// +200 shares scaled by 0.1.
	if math.Abs(sig.Size-20) > 1e-9 || sig.Price != 0.50 {
		t.Errorf("mirror = %v @ %v, want 20 @ 0.50", sig.Size, sig.Price)
	}
	if len(snaps.touches) != 1 || math.Abs(snaps.touches[0]-10) > 1e-9 {
		t.Errorf("copied USD = %v, want [10]", snaps.touches)
	}
	// Detected moves are stamped with the wallet's latest activity.
	if wallet.activityCalls != 1 {
		t.Errorf("activity fetches = %d, want 1", wallet.activityCalls)
	}
}

func TestCopyRetriesTransientPositionFetch(t *testing.T) {
	t.Parallel()
	wallet := &fakeWallet{
		failures: 1,
		positions: []types.Position{
			{TokenID: "tok1", ConditionID: "cond1", Size: 200, CurrentPrice: 0.50},
		},
	}
	c := newCopy(t, wallet, newFakeSnapshots())

	sigs, err := c.scanTrader(context.Background(), copyAddr)
	if err != nil {
		t.Fatalf("one transient failure should be retried: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("signals = %d, want 1", len(sigs))
	}
	if wallet.positionCalls != 2 {
		t.Errorf("position fetches = %d, want 2", wallet.positionCalls)
	}
}

func TestCopySkipsSmallDeltaButSavesSnapshot(t *testing.T) {
	t.Parallel()
	snaps := newFakeSnapshots()
	seedSnapshot(t, snaps, []copySnapshot{
		{TokenID: "tok1", ConditionID: "cond1", Size: 100, Price: 0.50},
	})
	wallet := &fakeWallet{positions: []types.Position{
		{TokenID: "tok1", ConditionID: "cond1", Size: 110, CurrentPrice: 0.50},
	}}
	c := newCopy(t, wallet, snaps)

	sigs, err := c.scanTrader(context.Background(), copyAddr)
	if err != nil {
		t.Fatalf("scanTrader: %v", err)
	}
	if len(sigs) != 0 {
		t.Errorf("signals = %d, want 0 for a $0.50 delta", len(sigs))
	}

	// The skipped delta must not be re-detected next poll.
	var saved []copySnapshot
	if err := json.Unmarshal([]byte(snaps.kv[copyStatePrefix+copyAddr]), &saved); err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].Size != 110 {
		t.Errorf("saved snapshot = %+v, want size 110", saved)
	}
}

func TestCopyMirrorsDecrease(t *testing.T) {
	t.Parallel()
	snaps := newFakeSnapshots()
	seedSnapshot(t, snaps, []copySnapshot{
		{TokenID: "tok1", ConditionID: "cond1", Size: 100, Price: 0.50},
	})
	wallet := &fakeWallet{positions: []types.Position{
		{TokenID: "tok1", ConditionID: "cond1", Size: 40, CurrentPrice: 0.48},
	}}
	c := newCopy(t, wallet, snaps)

	sigs, err := c.scanTrader(context.Background(), copyAddr)
	if err != nil {
		t.Fatalf("scanTrader: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("signals = %d, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.Side != types.SELL {
		t.Errorf("side = %s, want SELL", sig.Side)
	}
	// -60 shares scaled by 0.1, priced from the snapshot.
	if math.Abs(sig.Size-6) > 1e-9 || sig.Price != 0.50 {
		t.Errorf("mirror = %v @ %v, want 6 @ 0.50", sig.Size, sig.Price)
	}
}

func TestCopyClosedPositionSellsFullSize(t *testing.T) {
	t.Parallel()
	snaps := newFakeSnapshots()
	seedSnapshot(t, snaps, []copySnapshot{
		{TokenID: "tok1", ConditionID: "cond1", Size: 100, Price: 0.50},
	})
	c := newCopy(t, &fakeWallet{}, snaps)

	sigs, err := c.scanTrader(context.Background(), copyAddr)
	if err != nil {
		t.Fatalf("scanTrader: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Side != types.SELL || math.Abs(sigs[0].Size-10) > 1e-9 {
		t.Errorf("signals = %+v, want one SELL of 10", sigs)
	}
}

func TestCopyFirstPollMirrorsHoldings(t *testing.T) {
	t.Parallel()
	wallet := &fakeWallet{positions: []types.Position{
		{TokenID: "tok1", ConditionID: "cond1", Size: 200, CurrentPrice: 0.50},
	}}
	c := newCopy(t, wallet, newFakeSnapshots())

	sigs, err := c.scanTrader(context.Background(), copyAddr)
	if err != nil {
		t.Fatalf("scanTrader: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Side != types.BUY || math.Abs(sigs[0].Size-20) > 1e-9 {
		t.Errorf("signals = %+v, want one BUY of 20", sigs)
	}
}

func TestCopyCorruptSnapshotResetsBaseline(t *testing.T) {
	t.Parallel()
	snaps := newFakeSnapshots()
	snaps.kv[copyStatePrefix+copyAddr] = "{not json"
	wallet := &fakeWallet{positions: []types.Position{
		{TokenID: "tok1", ConditionID: "cond1", Size: 200, CurrentPrice: 0.50},
	}}
	c := newCopy(t, wallet, snaps)

	sigs, err := c.scanTrader(context.Background(), copyAddr)
	if err != nil {
		t.Fatalf("corrupt snapshot should not error: %v", err)
	}
	if len(sigs) != 1 {
		t.Errorf("signals = %d, want the full-size mirror after reset", len(sigs))
	}
}
