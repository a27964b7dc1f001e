package exchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"polymarket-bot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: srv.URL}}
	return NewClient(cfg, nil, testLogger())
}

func TestGetOrderBookParsesBestFirst(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("token_id"); got != "tok1" {
			t.Errorf("token_id = %q, want tok1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// The CLOB returns bids ascending and asks descending.
		json.NewEncoder(w).Encode(map[string]any{
			"asset_id": "tok1",
			"bids": []map[string]string{
				{"price": "0.40", "size": "100"},
				{"price": "0.45", "size": "50"},
			},
			"asks": []map[string]string{
				{"price": "0.55", "size": "80"},
				{"price": "0.50", "size": "60"},
			},
		})
	})

	book, err := c.GetOrderBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}

	bid, ok := book.BestBid()
	if !ok || bid.Price != 0.45 {
		t.Errorf("best bid = %+v (ok=%v), want price 0.45", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 0.50 {
		t.Errorf("best ask = %+v (ok=%v), want price 0.50", ask, ok)
	}
	if mid := book.Midpoint(); mid != 0.475 {
		t.Errorf("midpoint = %v, want 0.475", mid)
	}
}

func TestGetOrderBookErrorStatus(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such book", http.StatusNotFound)
	})

	_, err := c.GetOrderBook(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiError.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiError.Status)
	}
}

func TestGetPrice(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("side"); got != "SELL" {
			t.Errorf("side = %q, want SELL", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"price": "0.37"})
	})

	price, err := c.GetPrice(context.Background(), "tok1", "SELL")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 0.37 {
		t.Errorf("price = %v, want 0.37", price)
	}
}

func TestGetSamplingMarketsPaginatesAndNormalizes(t *testing.T) {
	t.Parallel()

	page1 := map[string]any{
		"data": []map[string]any{{
			"condition_id": "cond1",
			"question":     "Will it rain?",
			"active":       true,
			"tokens": []map[string]string{
				{"token_id": "yes1", "outcome": "Yes"},
				{"token_id": "no1", "outcome": "No"},
			},
			"minimum_tick_size": 0.01,
			"rewards": map[string]any{
				"min_size":   50,
				"max_spread": 3.5, // cents on the wire
				"rates": []map[string]any{
					{"rewards_daily_rate": 20.0},
					{"rewards_daily_rate": 5.0},
				},
			},
		}},
		"next_cursor": "page2",
	}
	page2 := map[string]any{
		"data": []map[string]any{{
			// single-token market is dropped
			"condition_id": "cond2",
			"tokens":       []map[string]string{{"token_id": "only", "outcome": "Yes"}},
		}},
		"next_cursor": "LTE=",
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("next_cursor") == "page2" {
			json.NewEncoder(w).Encode(page2)
			return
		}
		json.NewEncoder(w).Encode(page1)
	})

	markets, err := c.GetSamplingMarkets(context.Background())
	if err != nil {
		t.Fatalf("GetSamplingMarkets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}

	m := markets[0]
	if m.ConditionID != "cond1" || m.YesTokenID != "yes1" || m.NoTokenID != "no1" {
		t.Errorf("market ids not normalized: %+v", m)
	}
	if m.RewardsDailyRate != 25.0 {
		t.Errorf("daily rate = %v, want 25 (rates summed)", m.RewardsDailyRate)
	}
	if m.RewardsMaxSpread != 0.035 {
		t.Errorf("max spread = %v, want 0.035 (cents converted)", m.RewardsMaxSpread)
	}
	if string(m.TickSize) != "0.01" {
		t.Errorf("tick size = %q, want \"0.01\"", m.TickSize)
	}
}

// newAuthedClient builds a client with a throwaway wallet and L2 creds so
// authenticated endpoints can be exercised against a test server.
func newAuthedClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		Wallet: config.WalletConfig{
			PrivateKey: strings.Repeat("11", 32),
			ChainID:    137,
		},
		API: config.APIConfig{
			CLOBBaseURL: srv.URL,
			ApiKey:      "test-key",
			Secret:      base64.URLEncoding.EncodeToString([]byte("test-secret")),
			Passphrase:  "test-pass",
		},
	}
	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	return NewClient(cfg, auth, testLogger())
}

func TestGetOpenOrdersFiltersByMarket(t *testing.T) {
	t.Parallel()
	c := newAuthedClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("market"); got != "cond1" {
			t.Errorf("market = %q, want cond1", got)
		}
		if r.Header.Get("POLY_API_KEY") != "test-key" {
			t.Error("missing L2 auth headers")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "ord1", "status": "LIVE", "market": "cond1", "price": "0.42", "original_size": "60", "size_matched": "0"},
		})
	})

	orders, err := c.GetOpenOrders(context.Background(), "cond1")
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ord1" {
		t.Fatalf("orders = %+v, want single ord1", orders)
	}
	if p := orders[0].PriceF(); p != 0.42 {
		t.Errorf("price = %v, want 0.42", p)
	}
}
