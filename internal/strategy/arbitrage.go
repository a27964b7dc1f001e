package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
	"polymarket-bot/internal/exchange"
	"polymarket-bot/internal/jitter"
	"polymarket-bot/pkg/types"
)

// marketLister is the Gamma API surface the arbitrage scan consumes.
type marketLister interface {
	GetActiveMarkets(ctx context.Context) ([]exchange.GammaMarket, error)
}

// bookSource fetches order books for one token.
type bookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error)
}

// Arbitrage scans binary markets for YES+NO mispricing: when the two best
// asks sum to less than $1 minus the profit threshold, buying both sides
// locks in a risk-free payout at resolution. Both legs are FOK so the pair
// either fills atomically or leaves no one-sided exposure.
type Arbitrage struct {
	cfg      config.ArbConfig
	maxTrade float64
	markets  marketLister
	books    bookSource
	trader   trader
	bus      *bus.Bus
	interval time.Duration
	logger   *slog.Logger
}

// NewArbitrage creates the arbitrage strategy. The scan interval is
// jittered once here so parallel deployments never align.
func NewArbitrage(cfg config.Config, markets marketLister, books bookSource,
	t trader, b *bus.Bus, logger *slog.Logger) *Arbitrage {
	return &Arbitrage{
		cfg:      cfg.Arb,
		maxTrade: cfg.Risk.MaxTradeSizeUSD,
		markets:  markets,
		books:    books,
		trader:   t,
		bus:      b,
		interval: jitter.Interval(cfg.Arb.ScanInterval, cfg.Jitter.TimingPct),
		logger:   logger.With("component", "arbitrage"),
	}
}

func (a *Arbitrage) Name() string { return "arbitrage" }

func (a *Arbitrage) Run(ctx context.Context) {
	loopEvery(ctx, a.interval, func(ctx context.Context) {
		sigs, err := a.Scan(ctx)
		if err != nil {
			scanErr(a.bus, a.logger, a.Name(), err)
			return
		}
		if len(sigs) > 0 {
			a.executePairs(ctx, sigs)
		}
	})
}

func (a *Arbitrage) Shutdown(ctx context.Context) {}

// executePairs fires each YES+NO pair and unwinds any leg left naked by a
// killed partner. FOK legs normally fill or die together, but the second
// leg can still be rejected by the gate or killed by the book moving
// between the two posts.
func (a *Arbitrage) executePairs(ctx context.Context, sigs []types.Signal) {
	for i := 0; i+1 < len(sigs); i += 2 {
		results := a.trader.ExecuteBatch(ctx, sigs[i:i+2])

		var filled []types.OrderResult
		for _, r := range results {
			if r.Filled() {
				filled = append(filled, r)
			}
		}
		if len(filled) == 1 {
			a.unwind(ctx, filled[0])
		}
		// A short batch means the halt latch tripped mid-pair.
		if len(results) < 2 {
			return
		}
	}
}

// unwind sells back the one leg that filled. Held alone it is a naked
// directional position the pair never priced for.
func (a *Arbitrage) unwind(ctx context.Context, leg types.OrderResult) {
	sig := leg.Signal
	price := leg.FillPrice
	if book, err := a.books.GetOrderBook(ctx, sig.TokenID); err == nil {
		if bid, ok := book.BestBid(); ok {
			price = bid.Price
		}
	}
	a.logger.Warn("one-sided arbitrage fill, unwinding",
		"market", sig.MarketQuestion, "token", sig.TokenID,
		"shares", leg.FillSize, "price", price)

	res, err := a.trader.Execute(ctx, types.Signal{
		Strategy:       types.StrategyArbitrage,
		ConditionID:    sig.ConditionID,
		TokenID:        sig.TokenID,
		MarketQuestion: sig.MarketQuestion,
		Side:           types.SELL,
		Price:          price,
		Size:           leg.FillSize,
		OrderType:      types.OrderTypeFOK,
		TickSize:       sig.TickSize,
		NegRisk:        sig.NegRisk,
		Reason:         "arb unwind",
	})
	if err != nil || !res.Filled() {
		a.logger.Error("arbitrage unwind did not fill",
			"token", sig.TokenID, "error", err)
	}
}

// Scan walks active binary markets and emits paired FOK BUY signals for
// every mispricing found.
func (a *Arbitrage) Scan(ctx context.Context) ([]types.Signal, error) {
	minProfit := a.cfg.MinProfitCents / 100.0

	markets, err := a.markets.GetActiveMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	var signals []types.Signal
	scanned := 0
	for _, m := range markets {
		if !m.Active || m.Closed || !m.EnableOrderBook {
			continue
		}
		yesID, noID, ok := m.TokenIDs()
		if !ok {
			continue
		}
		scanned++

		// Gamma's cached quotes are a cheap prefilter; the books below
		// are authoritative.
		if m.BestAsk > 0 && m.BestAsk+(1-m.BestBid) >= 1.0+minProfit {
			continue
		}

		yesBook, err := a.books.GetOrderBook(ctx, yesID)
		if err != nil {
			continue
		}
		noBook, err := a.books.GetOrderBook(ctx, noID)
		if err != nil {
			continue
		}
		yesAsk, ok1 := yesBook.BestAsk()
		noAsk, ok2 := noBook.BestAsk()
		if !ok1 || !ok2 {
			continue
		}

		profit := 1.0 - (yesAsk.Price + noAsk.Price)
		if profit < minProfit {
			continue
		}

		a.logger.Info("arbitrage opportunity",
			"market", m.Question,
			"yes_ask", yesAsk.Price, "no_ask", noAsk.Price,
			"profit", profit)
		a.bus.Publish(bus.EdgeDetected, map[string]any{
			"strategy": string(types.StrategyArbitrage),
			"market":   m.Question,
			"edge":     profit,
			"yes_ask":  yesAsk.Price,
			"no_ask":   noAsk.Price,
		})

		// Equal-dollar legs: each side's share count scales with the
		// other side's ask so the combined outlay stays under the cap.
		reason := fmt.Sprintf("arb profit=%.4f", profit)
		signals = append(signals,
			types.Signal{
				Strategy:       types.StrategyArbitrage,
				ConditionID:    m.ConditionID,
				TokenID:        yesID,
				MarketQuestion: m.Question,
				Side:           types.BUY,
				Price:          yesAsk.Price,
				Size:           a.maxTrade * (1.0 - noAsk.Price),
				OrderType:      types.OrderTypeFOK,
				TickSize:       m.TickSize(),
				NegRisk:        m.NegRisk,
				Edge:           profit,
				Reason:         reason,
			},
			types.Signal{
				Strategy:       types.StrategyArbitrage,
				ConditionID:    m.ConditionID,
				TokenID:        noID,
				MarketQuestion: m.Question,
				Side:           types.BUY,
				Price:          noAsk.Price,
				Size:           a.maxTrade * (1.0 - yesAsk.Price),
				OrderType:      types.OrderTypeFOK,
				TickSize:       m.TickSize(),
				NegRisk:        m.NegRisk,
				Edge:           profit,
				Reason:         reason,
			},
		)
	}

	a.bus.Publish(bus.MarketScanned, map[string]any{
		"strategy": string(types.StrategyArbitrage),
		"count":    scanned,
		"signals":  len(signals),
	})
	if len(signals) > 0 {
		a.logger.Info("arbitrage signals generated", "count", len(signals))
	}
	return signals, nil
}
