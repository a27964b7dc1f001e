package types

import (
	"math"
	"testing"
)

func TestTickSizeDecimals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick TickSize
		want int
	}{
		{Tick01, 1},
		{Tick001, 2},
		{Tick0001, 3},
		{Tick00001, 4},
		{TickSize("unknown"), 2}, // default
	}

	for _, tt := range tests {
		if got := tt.tick.Decimals(); got != tt.want {
			t.Errorf("TickSize(%q).Decimals() = %d, want %d", tt.tick, got, tt.want)
		}
	}
}

func TestTickSizeAmountDecimals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick TickSize
		want int
	}{
		{Tick01, 3},
		{Tick001, 4},
		{Tick0001, 5},
		{Tick00001, 6},
		{TickSize("unknown"), 4}, // default
	}

	for _, tt := range tests {
		if got := tt.tick.AmountDecimals(); got != tt.want {
			t.Errorf("TickSize(%q).AmountDecimals() = %d, want %d", tt.tick, got, tt.want)
		}
	}
}

func TestRoundToTick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		price float64
		tick  TickSize
		want  float64
	}{
		{0.12345, Tick001, 0.12},
		{0.125, Tick001, 0.13}, // half away from zero
		{0.43, Tick001, 0.43},  // already on grid
		{0.12345, Tick0001, 0.123},
		{0.55, Tick01, 0.6},
	}
	for _, tt := range tests {
		if got := RoundToTick(tt.price, tt.tick); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("RoundToTick(%v, %q) = %v, want %v", tt.price, tt.tick, got, tt.want)
		}
	}

	// Rounding is idempotent.
	once := RoundToTick(0.4649, Tick001)
	if twice := RoundToTick(once, Tick001); twice != once {
		t.Errorf("re-rounding changed the price: %v -> %v", once, twice)
	}
}

func TestRoundDownToTick(t *testing.T) {
	t.Parallel()
	if got := RoundDownToTick(0.439, Tick001); math.Abs(got-0.43) > 1e-12 {
		t.Errorf("RoundDownToTick(0.439) = %v, want 0.43", got)
	}
}

func TestClampPrice(t *testing.T) {
	t.Parallel()
	if got := ClampPrice(0.001, Tick001); got != 0.01 {
		t.Errorf("low clamp = %v, want 0.01", got)
	}
	if got := ClampPrice(0.999, Tick001); got != 0.99 {
		t.Errorf("high clamp = %v, want 0.99", got)
	}
	if got := ClampPrice(0.45, Tick001); got != 0.45 {
		t.Errorf("in-range price changed: %v", got)
	}
}

func TestBookResponseParseBestFirst(t *testing.T) {
	t.Parallel()

	// The CLOB sends bids ascending and asks descending.
	r := BookResponse{
		AssetID: "tok1",
		Bids: []PriceLevel{
			{Price: "0.40", Size: "10"},
			{Price: "0.44", Size: "20"},
			{Price: "bad", Size: "5"},
		},
		Asks: []PriceLevel{
			{Price: "0.55", Size: "10"},
			{Price: "0.50", Size: "30"},
		},
	}
	book := r.Parse()

	if len(book.Bids) != 2 {
		t.Fatalf("bids = %d levels, want 2 (unparseable dropped)", len(book.Bids))
	}
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	if bid.Price != 0.44 || ask.Price != 0.50 {
		t.Errorf("best = %v / %v, want 0.44 / 0.50", bid.Price, ask.Price)
	}
	if got := book.Midpoint(); math.Abs(got-0.47) > 1e-12 {
		t.Errorf("midpoint = %v, want 0.47", got)
	}
	if got := book.Spread(); math.Abs(got-0.06) > 1e-12 {
		t.Errorf("spread = %v, want 0.06", got)
	}
}

func TestMidpointOneSided(t *testing.T) {
	t.Parallel()

	bidsOnly := OrderBook{Bids: []Level{{Price: 0.40, Size: 10}}}
	if got := bidsOnly.Midpoint(); got != 0.40 {
		t.Errorf("bid-only midpoint = %v, want 0.40", got)
	}
	asksOnly := OrderBook{Asks: []Level{{Price: 0.60, Size: 10}}}
	if got := asksOnly.Midpoint(); got != 0.60 {
		t.Errorf("ask-only midpoint = %v, want 0.60", got)
	}
	empty := OrderBook{}
	if got := empty.Midpoint(); got != 0 {
		t.Errorf("empty midpoint = %v, want 0", got)
	}
	if got := empty.Spread(); got != 0 {
		t.Errorf("empty spread = %v, want 0", got)
	}
}

func TestOrderResultStates(t *testing.T) {
	t.Parallel()

	resting := OrderResult{Success: true, Status: "live"}
	if !resting.Resting() || resting.Filled() {
		t.Errorf("live order: Resting=%v Filled=%v", resting.Resting(), resting.Filled())
	}
	filled := OrderResult{Success: true, Status: "matched", FillSize: 10}
	if filled.Resting() || !filled.Filled() {
		t.Errorf("matched order: Resting=%v Filled=%v", filled.Resting(), filled.Filled())
	}
	rejected := OrderResult{Success: false, Status: "live", FillSize: 10}
	if rejected.Resting() || rejected.Filled() {
		t.Error("failed order reports neither state")
	}
}
