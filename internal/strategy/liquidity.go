package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
	"polymarket-bot/internal/jitter"
	"polymarket-bot/internal/quant"
	"polymarket-bot/internal/store"
	"polymarket-bot/pkg/types"
)

// monitorInterval is the cadence of fill detection and exit checks, which
// run between full market rescans.
const monitorInterval = 30 * time.Second

// fillCooldown keeps a market out of the selector after a fill, so we do
// not immediately re-quote into whatever flow just hit us.
const fillCooldown = 30 * time.Minute

// minResolutionLead excludes markets about to resolve: near expiry the
// book thins out and adverse selection dominates the reward.
const minResolutionLead = 3 * 24 * time.Hour

// midHistoryLen bounds the per-market midpoint history used for the
// volatility warning.
const midHistoryLen = 10

// rewardSource lists the exchange's current reward-bearing markets.
type rewardSource interface {
	GetSamplingMarkets(ctx context.Context) ([]types.MarketInfo, error)
}

// priceSource reads a token's current tradeable price.
type priceSource interface {
	GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error)
}

// holdings exposes existing inventory for legacy position seeding.
type holdings interface {
	Positions() []types.Position
}

// rewardLog persists reward estimates for quoted markets.
type rewardLog interface {
	RecordLPReward(ctx context.Context, r store.LPReward) error
}

// liveOrder is one resting LP quote we own.
type liveOrder struct {
	orderID  string
	tokenID  string
	side     string // "yes" | "no"
	price    float64
	mid      float64 // midpoint at placement
	shares   float64
	tick     types.TickSize
	question string
}

// lpPosition is inventory acquired through a filled LP quote, monitored
// for stop-loss and take-profit exits.
type lpPosition struct {
	conditionID string
	tokenID     string
	side        string
	fillPrice   float64
	shares      float64
	tick        types.TickSize
	question    string
	filledAt    time.Time
}

// Liquidity earns the exchange's liquidity-provider rewards by keeping one
// resting bid per selected market inside the reward-eligible spread band.
// After a fill it switches which outcome it quotes, cools the market down,
// and bounds the downside on the acquired inventory with a stop-loss.
//
// All state is owned by the single Run goroutine; the scan and monitor
// cadences interleave on one select loop.
type Liquidity struct {
	cfg       config.LiquidityConfig
	sizeJit   float64
	perMarket float64
	rewards   rewardSource
	books     bookSource
	prices    priceSource
	inventory holdings
	rewardLog rewardLog
	trader    trader
	bus       *bus.Bus
	interval  time.Duration
	logger    *slog.Logger

	marketSides map[string]string
	liveOrders  map[string]liveOrder
	positions   map[string]lpPosition
	cooldowns   map[string]time.Time
	midHistory  map[string][]float64
	halted      bool
	seeded      bool
}

// NewLiquidity creates the LP selector strategy.
func NewLiquidity(cfg config.Config, rewards rewardSource, books bookSource,
	prices priceSource, inv holdings, rl rewardLog, t trader, b *bus.Bus,
	logger *slog.Logger) *Liquidity {
	return &Liquidity{
		cfg:         cfg.Liquidity,
		sizeJit:     cfg.Jitter.SizePct,
		perMarket:   cfg.Risk.MaxPerMarketUSD,
		rewards:     rewards,
		books:       books,
		prices:      prices,
		inventory:   inv,
		rewardLog:   rl,
		trader:      t,
		bus:         b,
		interval:    jitter.Interval(cfg.Liquidity.RefreshInterval, cfg.Jitter.TimingPct),
		logger:      logger.With("component", "liquidity"),
		marketSides: make(map[string]string),
		liveOrders:  make(map[string]liveOrder),
		positions:   make(map[string]lpPosition),
		cooldowns:   make(map[string]time.Time),
		midHistory:  make(map[string][]float64),
	}
}

func (l *Liquidity) Name() string { return "liquidity" }

func (l *Liquidity) Run(ctx context.Context) {
	scan := time.NewTicker(l.interval)
	defer scan.Stop()
	monitor := time.NewTicker(monitorInterval)
	defer monitor.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scan.C:
			l.scan(ctx)
		case <-monitor.C:
			l.monitorTick(ctx)
		}
	}
}

// Shutdown cancels every resting LP quote.
func (l *Liquidity) Shutdown(ctx context.Context) {
	for cid, order := range l.liveOrders {
		if err := l.trader.Executor().Cancel(ctx, order.orderID); err != nil {
			l.logger.Warn("shutdown cancel failed", "order_id", order.orderID, "error", err)
		}
		delete(l.liveOrders, cid)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Scan: ranking and quoting
// ————————————————————————————————————————————————————————————————————————

func (l *Liquidity) scan(ctx context.Context) {
	if l.halted {
		l.logger.Warn("quoting halted, waiting for positions to clear",
			"stuck", len(l.positions))
		return
	}
	l.seedLegacyPositions()

	markets, err := l.rewards.GetSamplingMarkets(ctx)
	if err != nil {
		scanErr(l.bus, l.logger, l.Name(), fmt.Errorf("fetch reward markets: %w", err))
		return
	}
	ranked := l.rank(markets)

	// Fill the quota of active slots: markets whose existing quote is
	// kept count against it too.
	target := make(map[string]bool, l.cfg.MaxMarkets)
	for _, m := range ranked {
		if len(target) >= l.cfg.MaxMarkets {
			break
		}
		if l.quoteOrKeep(ctx, m) {
			target[m.ConditionID] = true
		}
	}

	// Drop quotes in markets that fell out of the target set.
	for cid, order := range l.liveOrders {
		if target[cid] {
			continue
		}
		if err := l.trader.Executor().Cancel(ctx, order.orderID); err != nil {
			l.logger.Warn("cancel failed", "order_id", order.orderID, "error", err)
			continue
		}
		delete(l.liveOrders, cid)
	}

	l.bus.Publish(bus.MarketScanned, map[string]any{
		"strategy": string(types.StrategyLiquidity),
		"count":    len(ranked),
		"quoted":   len(target),
	})
}

// rank filters and orders reward markets, highest daily reward first.
func (l *Liquidity) rank(markets []types.MarketInfo) []types.MarketInfo {
	now := time.Now()
	eligible := make([]types.MarketInfo, 0, len(markets))
	for _, m := range markets {
		if !m.Active || m.Closed || m.RewardsMaxSpread <= 0 {
			continue
		}
		if m.YesTokenID == "" || m.NoTokenID == "" {
			continue
		}
		if m.RewardsDailyRate < l.cfg.MinDailyReward {
			continue
		}
		if !m.EndDate.IsZero() && m.EndDate.Sub(now) < minResolutionLead {
			continue
		}
		if until, ok := l.cooldowns[m.ConditionID]; ok {
			if time.Now().Before(until) {
				continue
			}
			delete(l.cooldowns, m.ConditionID)
		}
		eligible = append(eligible, m)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].RewardsDailyRate > eligible[j].RewardsDailyRate
	})
	return eligible
}

// quoteOrKeep ensures one resting quote in the market, on the currently
// selected side. Returns true when the market occupies an active slot
// (order kept or newly placed).
func (l *Liquidity) quoteOrKeep(ctx context.Context, m types.MarketInfo) bool {
	side := l.marketSides[m.ConditionID]
	if side == "" {
		side = "yes"
	}
	if l.quoteSide(ctx, m, side) {
		return true
	}
	// One fallback on the other outcome; its midpoint may sit inside the
	// single-sided reward zone even when this side's does not.
	other := "no"
	if side == "no" {
		other = "yes"
	}
	return l.quoteSide(ctx, m, other)
}

func (l *Liquidity) quoteSide(ctx context.Context, m types.MarketInfo, side string) bool {
	tokenID := m.TokenID(side == "yes")
	book, err := l.books.GetOrderBook(ctx, tokenID)
	if err != nil {
		return false
	}
	mid := book.Midpoint()
	if mid <= 0 {
		return false
	}
	l.recordMid(m.ConditionID, mid)

	// The reward formula pays zero to single-sided quoters when the
	// midpoint sits in the extreme zones. 0.10 and 0.90 themselves are
	// allowed.
	if mid < 0.10 || mid > 0.90 {
		return false
	}

	bestBid, ok := book.BestBid()
	if !ok || bestBid.Price < l.cfg.MinBestBid {
		return false
	}

	// Smart refresh: keep an existing quote while it still earns. Cancel
	// and re-place only when drift pushed it outside the reward band.
	if existing, ok := l.liveOrders[m.ConditionID]; ok && existing.side == side {
		if abs(mid-existing.price) <= m.RewardsMaxSpread {
			return true
		}
		if err := l.trader.Executor().Cancel(ctx, existing.orderID); err != nil {
			l.logger.Warn("stale quote cancel failed", "order_id", existing.orderID, "error", err)
			return true
		}
		delete(l.liveOrders, m.ConditionID)
	}

	tick := m.TickSize.Unit()
	// Quote behind the best bid, never at it: first in queue fills
	// instantly and forfeits the reward position.
	var price float64
	if len(book.Bids) >= 2 {
		price = book.Bids[1].Price
	} else {
		price = types.RoundToTick(bestBid.Price-tick, m.TickSize)
	}
	if d := abs(mid - price); d > m.RewardsMaxSpread {
		price = types.RoundToTick(mid-m.RewardsMaxSpread+tick, m.TickSize)
	}
	if price <= 0.01 || price >= 0.99 {
		return false
	}
	spreadFromMid := abs(mid - price)

	// Headroom against size jitter: the jittered size must not drop
	// below the reward-eligible minimum.
	shares := l.cfg.OrderSizeUSD / price
	if minShares := m.RewardsMinSize / (1 - l.sizeJit); shares < minShares {
		shares = minShares
	}
	if shares*price > l.perMarket {
		return false
	}

	// Pool-share estimate from the eligible bid depth.
	ourQ := quant.RewardScore(m.RewardsMaxSpread, spreadFromMid, shares)
	var totalQ float64
	for _, lv := range book.Bids {
		if d := abs(mid - lv.Price); d <= m.RewardsMaxSpread {
			totalQ += quant.RewardScore(m.RewardsMaxSpread, d, lv.Size)
		}
	}
	var estDaily float64
	if ourQ+totalQ > 0 {
		estDaily = m.RewardsDailyRate * ourQ / (totalQ + ourQ)
	}
	if estDaily < l.cfg.MinEstimatedReward {
		return false
	}

	res, err := l.trader.Execute(ctx, types.Signal{
		Strategy:       types.StrategyLiquidity,
		ConditionID:    m.ConditionID,
		TokenID:        tokenID,
		MarketQuestion: m.Question,
		Side:           types.BUY,
		Price:          price,
		Size:           shares,
		OrderType:      types.OrderTypeGTC,
		TickSize:       m.TickSize,
		NegRisk:        m.NegRisk,
		Edge:           estDaily,
		Reason:         fmt.Sprintf("lp quote spread=%.4f est=$%.2f/d", spreadFromMid, estDaily),
	})
	if err != nil {
		return false
	}

	if err := l.rewardLog.RecordLPReward(ctx, store.LPReward{
		ConditionID:     m.ConditionID,
		TokenID:         tokenID,
		QScore:          ourQ,
		EstimatedReward: estDaily,
		SpreadFromMid:   spreadFromMid,
		OrderSize:       res.Signal.Size,
	}); err != nil {
		l.logger.Warn("reward log failed", "error", err)
	}

	l.marketSides[m.ConditionID] = side
	l.bus.Publish(bus.LPPosition, map[string]any{
		"market":     m.Question,
		"side":       side,
		"price":      price,
		"shares":     res.Signal.Size,
		"est_reward": estDaily,
	})

	if res.Resting() {
		l.liveOrders[m.ConditionID] = liveOrder{
			orderID:  res.OrderID,
			tokenID:  tokenID,
			side:     side,
			price:    price,
			mid:      mid,
			shares:   res.Signal.Size,
			tick:     m.TickSize,
			question: m.Question,
		}
		return true
	}
	if res.Filled() {
		// Instant fill (dry-run, or the book moved through us).
		l.onFill(m.ConditionID, lpPosition{
			conditionID: m.ConditionID,
			tokenID:     tokenID,
			side:        side,
			fillPrice:   res.FillPrice,
			shares:      res.FillSize,
			tick:        m.TickSize,
			question:    m.Question,
			filledAt:    time.Now(),
		})
		return true
	}
	return false
}

func (l *Liquidity) recordMid(conditionID string, mid float64) {
	hist := append(l.midHistory[conditionID], mid)
	if len(hist) > midHistoryLen {
		hist = hist[len(hist)-midHistoryLen:]
	}
	l.midHistory[conditionID] = hist

	lo, hi := hist[0], hist[0]
	for _, v := range hist[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo > 0.05 {
		l.logger.Warn("volatile midpoint", "condition_id", conditionID, "range", hi-lo)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Monitor: fill detection and exits
// ————————————————————————————————————————————————————————————————————————

func (l *Liquidity) monitorTick(ctx context.Context) {
	l.detectFills(ctx)
	l.checkExits(ctx)

	if l.halted && len(l.positions) == 0 {
		l.halted = false
		l.logger.Info("all stuck positions cleared, resuming quoting")
	}
}

// detectFills diffs our live order set against the exchange's open orders.
// A live order missing from the open set has filled.
func (l *Liquidity) detectFills(ctx context.Context) {
	if len(l.liveOrders) == 0 {
		return
	}
	open, err := l.trader.Executor().OpenOrders(ctx, "")
	if err != nil {
		l.logger.Warn("open orders fetch failed", "error", err)
		return
	}
	openIDs := make(map[string]bool, len(open))
	for _, o := range open {
		openIDs[o.ID] = true
	}

	for cid, order := range l.liveOrders {
		if openIDs[order.orderID] {
			continue
		}
		delete(l.liveOrders, cid)
		l.logger.Info("lp quote filled",
			"market", order.question, "side", order.side,
			"price", order.price, "shares", order.shares)

		l.trader.RecordFill(ctx, types.Signal{
			Strategy:       types.StrategyLiquidity,
			ConditionID:    cid,
			TokenID:        order.tokenID,
			MarketQuestion: order.question,
			Side:           types.BUY,
			Price:          order.price,
			Size:           order.shares,
			OrderType:      types.OrderTypeGTC,
			TickSize:       order.tick,
		}, order.orderID, order.price, order.shares)

		l.onFill(cid, lpPosition{
			conditionID: cid,
			tokenID:     order.tokenID,
			side:        order.side,
			fillPrice:   order.price,
			shares:      order.shares,
			tick:        order.tick,
			question:    order.question,
			filledAt:    time.Now(),
		})

		if l.cfg.AutoClose {
			if err := l.exitPosition(ctx, l.positions[cid], "auto_close"); err != nil {
				l.logger.Error("auto-close failed, halting quoting",
					"market", order.question, "error", err)
				l.halted = true
				l.Shutdown(ctx)
			}
		}
	}
}

// onFill books the new position, flips the quoted side, and starts the
// market's cooldown.
func (l *Liquidity) onFill(conditionID string, pos lpPosition) {
	l.positions[conditionID] = pos
	if pos.side == "yes" {
		l.marketSides[conditionID] = "no"
	} else {
		l.marketSides[conditionID] = "yes"
	}
	l.cooldowns[conditionID] = time.Now().Add(l.cooldownPeriod())
}

func (l *Liquidity) cooldownPeriod() time.Duration {
	if l.cfg.CooldownPeriod > 0 {
		return l.cfg.CooldownPeriod
	}
	return fillCooldown
}

// checkExits applies stop-loss and take-profit to filled positions.
func (l *Liquidity) checkExits(ctx context.Context) {
	for _, pos := range l.positions {
		current, err := l.prices.GetPrice(ctx, pos.tokenID, types.SELL)
		if err != nil || current <= 0 || pos.fillPrice <= 0 {
			continue
		}
		change := (current - pos.fillPrice) / pos.fillPrice
		switch {
		case change <= -l.cfg.StopLossPct:
			l.logger.Warn("stop-loss triggered",
				"market", pos.question, "fill", pos.fillPrice,
				"current", current, "change_pct", change)
			if err := l.exitPosition(ctx, pos, "stop_loss"); err != nil {
				l.logger.Error("stop-loss exit failed", "market", pos.question, "error", err)
			}
		case change >= l.cfg.TakeProfitPct:
			l.logger.Info("take-profit triggered",
				"market", pos.question, "fill", pos.fillPrice,
				"current", current, "change_pct", change)
			if err := l.exitPosition(ctx, pos, "take_profit"); err != nil {
				l.logger.Error("take-profit exit failed", "market", pos.question, "error", err)
			}
		}
	}
}

// exitPosition unwinds one filled position with a stepped FOK sell. FOK
// never leaves a resting order behind, so each attempt has a deterministic
// outcome: filled, or rejected and retried one tick lower until the floor.
func (l *Liquidity) exitPosition(ctx context.Context, pos lpPosition, reason string) error {
	actual, err := l.trader.Executor().TokenBalance(ctx, pos.tokenID)
	if err != nil {
		return fmt.Errorf("token balance: %w", err)
	}
	sellShares := pos.shares
	if actual < sellShares {
		sellShares = actual
	}
	if sellShares < 1 {
		// Dust. Not worth an order.
		delete(l.positions, pos.conditionID)
		return nil
	}

	price := pos.fillPrice
	if book, err := l.books.GetOrderBook(ctx, pos.tokenID); err == nil {
		if bid, ok := book.BestBid(); ok {
			price = bid.Price
		}
	}
	price = types.RoundToTick(price, pos.tick)
	tick := pos.tick.Unit()

	for price >= 0.01 {
		res, err := l.trader.Executor().Place(ctx, types.Signal{
			Strategy:       types.StrategyLiquidity,
			ConditionID:    pos.conditionID,
			TokenID:        pos.tokenID,
			MarketQuestion: pos.question,
			Side:           types.SELL,
			Price:          price,
			Size:           sellShares,
			OrderType:      types.OrderTypeFOK,
			TickSize:       pos.tick,
			Reason:         "lp exit " + reason,
		})
		if err == nil && res.Filled() {
			l.trader.RecordFill(ctx, res.Signal, res.OrderID, res.FillPrice, res.FillSize)
			delete(l.positions, pos.conditionID)
			l.logger.Info("position exited",
				"market", pos.question, "reason", reason,
				"price", res.FillPrice, "shares", res.FillSize)
			return nil
		}
		if err := jitter.Sleep(ctx, 300*time.Millisecond); err != nil {
			return err
		}
		price = types.RoundToTick(price-tick, pos.tick)
	}
	return fmt.Errorf("sell attempts exhausted for %s", pos.question)
}

// seedLegacyPositions places inventory held at startup under stop-loss
// monitoring, even though this process did not open it.
func (l *Liquidity) seedLegacyPositions() {
	if l.seeded {
		return
	}
	l.seeded = true
	for _, p := range l.inventory.Positions() {
		if _, tracked := l.positions[p.ConditionID]; tracked {
			continue
		}
		side := "yes"
		if p.Outcome == "No" || p.Outcome == "no" {
			side = "no"
		}
		l.positions[p.ConditionID] = lpPosition{
			conditionID: p.ConditionID,
			tokenID:     p.TokenID,
			side:        side,
			fillPrice:   p.AvgEntryPrice,
			shares:      p.Size,
			tick:        types.Tick001,
			question:    p.Question,
			filledAt:    time.Now(),
		}
	}
	if n := len(l.positions); n > 0 {
		l.logger.Info("seeded existing positions for exit monitoring", "count", n)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
