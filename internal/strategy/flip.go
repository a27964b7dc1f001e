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

// flipPhase is the state of the flip cycle machine.
type flipPhase string

const (
	phaseIdle         flipPhase = "idle"
	phaseRestingEntry flipPhase = "resting_entry"
	phaseRestingExit  flipPhase = "resting_exit"
)

// errorCooldown pauses the machine after an unexpected failure before it
// returns to scanning.
const errorCooldown = time.Minute

// cycleStore is the flip-cycle persistence surface.
type cycleStore interface {
	InsertFlipCycle(ctx context.Context, c *store.FlipCycle) (int64, error)
	UpdateFlipCycle(ctx context.Context, c *store.FlipCycle) error
	OpenFlipCycles(ctx context.Context) ([]store.FlipCycle, error)
}

// flipCycle is the in-flight cycle: the persisted row plus runtime state
// that does not survive a restart.
type flipCycle struct {
	row           store.FlipCycle
	entryTick     types.TickSize
	entryNegRisk  bool
	oppositeToken string
	entryPlacedAt time.Time
}

// Flip runs a single-market flip cycle: buy one outcome behind its best
// bid, wait for the fill, then buy the opposite outcome the same way. The
// completed pair redeems at $1 whichever way the market resolves, so the
// cycle's profit is the redeemable dollar minus both entry costs, plus any
// LP rewards the resting orders accrued along the way.
type Flip struct {
	cfg     config.FlipConfig
	lpCfg   config.LiquidityConfig
	timing  float64
	rewards rewardSource
	books   bookSource
	prices  priceSource
	trader  trader
	cycles  cycleStore
	bus     *bus.Bus
	logger  *slog.Logger

	phase flipPhase
	cycle *flipCycle
}

// NewFlip creates the flip strategy. Market filters are shared with the LP
// selector configuration.
func NewFlip(cfg config.Config, rewards rewardSource, books bookSource,
	prices priceSource, t trader, cycles cycleStore, b *bus.Bus,
	logger *slog.Logger) *Flip {
	return &Flip{
		cfg:     cfg.Flip,
		lpCfg:   cfg.Liquidity,
		timing:  cfg.Jitter.TimingPct,
		rewards: rewards,
		books:   books,
		prices:  prices,
		trader:  t,
		cycles:  cycles,
		bus:     b,
		logger:  logger.With("component", "lp_flip"),
		phase:   phaseIdle,
	}
}

func (f *Flip) Name() string { return "lp_flip" }

// Run drives the state machine until ctx is cancelled. Each phase sleeps
// its own jittered interval before acting, so the machine never polls on a
// fixed cadence.
func (f *Flip) Run(ctx context.Context) {
	f.abandonStaleCycles(ctx)

	for {
		var wait time.Duration
		if f.phase == phaseIdle {
			wait = jitter.Interval(f.cfg.ScanInterval, f.timing)
		} else {
			wait = jitter.Interval(f.cfg.PollInterval, f.timing)
		}
		if err := jitter.Sleep(ctx, wait); err != nil {
			return
		}

		var err error
		switch f.phase {
		case phaseIdle:
			err = f.doIdle(ctx)
		case phaseRestingEntry:
			err = f.doRestingEntry(ctx)
		case phaseRestingExit:
			err = f.doRestingExit(ctx)
		}
		if err != nil {
			scanErr(f.bus, f.logger, f.Name(), fmt.Errorf("%s: %w", f.phase, err))
			f.reset()
			if err := jitter.Sleep(ctx, errorCooldown); err != nil {
				return
			}
		}
	}
}

// Shutdown cancels whichever order the cycle is currently resting on.
func (f *Flip) Shutdown(ctx context.Context) {
	if f.cycle == nil {
		return
	}
	orderID := f.cycle.row.EntryOrderID
	if f.phase == phaseRestingExit {
		orderID = f.cycle.row.ExitOrderID
	}
	if orderID == "" {
		return
	}
	if err := f.trader.Executor().Cancel(ctx, orderID); err != nil {
		f.logger.Warn("shutdown cancel failed", "order_id", orderID, "error", err)
	}
}

func (f *Flip) reset() {
	f.phase = phaseIdle
	f.cycle = nil
	f.publishPhase("")
}

func (f *Flip) publishPhase(market string) {
	f.bus.Publish(bus.FlipPhase, map[string]any{
		"phase":  string(f.phase),
		"market": market,
	})
}

// abandonStaleCycles closes out cycles left open by a previous process.
// Their order ids are stale, so they cannot be resumed, only recorded.
func (f *Flip) abandonStaleCycles(ctx context.Context) {
	open, err := f.cycles.OpenFlipCycles(ctx)
	if err != nil {
		f.logger.Warn("open cycle sweep failed", "error", err)
		return
	}
	for i := range open {
		open[i].Status = "abandoned"
		if err := f.cycles.UpdateFlipCycle(ctx, &open[i]); err != nil {
			f.logger.Warn("cycle abandon failed", "id", open[i].ID, "error", err)
		}
	}
	if len(open) > 0 {
		f.logger.Info("abandoned stale flip cycles", "count", len(open))
	}
}

// ————————————————————————————————————————————————————————————————————————
// IDLE: select a market and place the entry
// ————————————————————————————————————————————————————————————————————————

func (f *Flip) doIdle(ctx context.Context) error {
	markets, err := f.rewards.GetSamplingMarkets(ctx)
	if err != nil {
		return fmt.Errorf("fetch reward markets: %w", err)
	}
	ranked := f.rank(markets)
	f.bus.Publish(bus.MarketScanned, map[string]any{
		"strategy": string(types.StrategyLPFlip),
		"count":    len(ranked),
	})
	if len(ranked) == 0 {
		return nil
	}

	for _, m := range ranked {
		if f.tryEntry(ctx, m) {
			return nil
		}
	}
	f.logger.Debug("no viable entry", "tried", len(ranked))
	return nil
}

func (f *Flip) rank(markets []types.MarketInfo) []types.MarketInfo {
	now := time.Now()
	eligible := make([]types.MarketInfo, 0, len(markets))
	for _, m := range markets {
		if !m.Active || m.Closed || m.RewardsMaxSpread <= 0 {
			continue
		}
		if m.YesTokenID == "" || m.NoTokenID == "" {
			continue
		}
		if m.RewardsDailyRate < f.lpCfg.MinDailyReward {
			continue
		}
		if !m.EndDate.IsZero() && m.EndDate.Sub(now) < minResolutionLead {
			continue
		}
		eligible = append(eligible, m)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].RewardsDailyRate > eligible[j].RewardsDailyRate
	})
	return eligible
}

// tryEntry attempts an entry BUY on either side of the market. Returns
// true when an entry was placed and the machine advanced.
func (f *Flip) tryEntry(ctx context.Context, m types.MarketInfo) bool {
	for _, side := range []string{"yes", "no"} {
		if f.tryEntrySide(ctx, m, side) {
			return true
		}
	}
	return false
}

func (f *Flip) tryEntrySide(ctx context.Context, m types.MarketInfo, side string) bool {
	tokenID := m.TokenID(side == "yes")
	opposite := m.TokenID(side != "yes")

	book, err := f.books.GetOrderBook(ctx, tokenID)
	if err != nil {
		return false
	}
	mid := book.Midpoint()
	if mid < 0.10 || mid > 0.90 {
		return false
	}
	bestBid, ok := book.BestBid()
	if !ok || bestBid.Price < f.lpCfg.MinBestBid {
		return false
	}

	tick := m.TickSize.Unit()
	price := behindBestBid(book, m.TickSize)
	if price <= 0.01 || price >= 0.99 {
		return false
	}
	if d := abs(mid - price); d > m.RewardsMaxSpread {
		price = types.RoundToTick(mid-m.RewardsMaxSpread+tick, m.TickSize)
		if price <= 0.01 {
			return false
		}
	}
	spreadFromMid := abs(mid - price)

	// The pair only pays if both legs together cost less than the $1 it
	// redeems for. Check the prospective exit price up front.
	oppBook, err := f.books.GetOrderBook(ctx, opposite)
	if err != nil {
		return false
	}
	if _, ok := oppBook.BestBid(); !ok {
		return false
	}
	exitPrice := behindBestBid(oppBook, m.TickSize)
	if exitPrice <= 0.01 || price+exitPrice > 1.0-f.cfg.FlipSpread {
		return false
	}

	shares := f.cfg.OrderSizeUSD / price

	// Same reward-pool estimate as the LP selector: a flip entry still
	// earns rewards while it rests.
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
	if estDaily < f.lpCfg.MinEstimatedReward {
		return false
	}

	res, err := f.trader.Execute(ctx, types.Signal{
		Strategy:       types.StrategyLPFlip,
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
		Reason:         fmt.Sprintf("flip entry %s est=$%.2f/d", side, estDaily),
	})
	if err != nil || !res.Success || res.OrderID == "" {
		return false
	}

	cycle := &flipCycle{
		row: store.FlipCycle{
			ConditionID:  m.ConditionID,
			Question:     m.Question,
			EntrySide:    side,
			EntryTokenID: tokenID,
			EntryPrice:   price,
			EntryShares:  res.Signal.Size,
			EntryOrderID: res.OrderID,
			Status:       "open",
		},
		entryTick:     m.TickSize,
		entryNegRisk:  m.NegRisk,
		oppositeToken: opposite,
		entryPlacedAt: time.Now(),
	}
	if _, err := f.cycles.InsertFlipCycle(ctx, &cycle.row); err != nil {
		f.logger.Error("cycle insert failed", "error", err)
	}
	f.cycle = cycle
	f.phase = phaseRestingEntry
	f.logger.Info("flip entry placed",
		"market", m.Question, "side", side,
		"price", price, "shares", res.Signal.Size,
		"order_id", res.OrderID)
	f.publishPhase(m.Question)

	if res.Filled() {
		// An instant fill was already settled inside Execute; only the
		// phase machine advances here.
		return f.onEntryFilled(ctx, res.FillPrice, res.FillSize) == nil
	}
	return true
}

// behindBestBid returns the second bid level when the book has one, else
// one tick under the best bid. Quoting at the best bid itself would put us
// first in the fill queue.
func behindBestBid(book *types.OrderBook, tick types.TickSize) float64 {
	if len(book.Bids) >= 2 {
		return book.Bids[1].Price
	}
	if bid, ok := book.BestBid(); ok {
		return types.RoundToTick(bid.Price-tick.Unit(), tick)
	}
	return 0
}

// ————————————————————————————————————————————————————————————————————————
// RESTING_ENTRY: wait for the entry fill
// ————————————————————————————————————————————————————————————————————————

func (f *Flip) doRestingEntry(ctx context.Context) error {
	c := f.cycle
	if c == nil {
		f.reset()
		return nil
	}

	if age := time.Since(c.entryPlacedAt); age > f.cfg.MaxResting {
		f.logger.Info("entry stale, recycling",
			"market", c.row.Question, "age", age.Round(time.Second))
		if err := f.trader.Executor().Cancel(ctx, c.row.EntryOrderID); err != nil {
			f.logger.Warn("entry cancel failed", "error", err)
		}
		c.row.Status = "cancelled"
		if err := f.cycles.UpdateFlipCycle(ctx, &c.row); err != nil {
			f.logger.Warn("cycle update failed", "error", err)
		}
		f.reset()
		return nil
	}

	filled, err := f.orderGone(ctx, c.row.ConditionID, c.row.EntryOrderID)
	if err != nil || !filled {
		return err
	}

	// A resting fill never went through the manager's settle path, so the
	// fill is booked here. Instant fills must not reach this branch: they
	// were settled inside Execute already.
	f.trader.RecordFill(ctx, types.Signal{
		Strategy:       types.StrategyLPFlip,
		ConditionID:    c.row.ConditionID,
		TokenID:        c.row.EntryTokenID,
		MarketQuestion: c.row.Question,
		Side:           types.BUY,
		Price:          c.row.EntryPrice,
		Size:           c.row.EntryShares,
		OrderType:      types.OrderTypeGTC,
		TickSize:       c.entryTick,
	}, c.row.EntryOrderID, c.row.EntryPrice, c.row.EntryShares)
	return f.onEntryFilled(ctx, c.row.EntryPrice, c.row.EntryShares)
}

// onEntryFilled advances the machine past a booked entry fill and places
// the opposite-side exit.
func (f *Flip) onEntryFilled(ctx context.Context, fillPrice, fillShares float64) error {
	c := f.cycle
	f.logger.Info("flip entry filled",
		"market", c.row.Question, "side", c.row.EntrySide,
		"price", fillPrice, "shares", fillShares)

	c.row.EntryFilledAt = time.Now().UTC().Format(time.RFC3339)
	if err := f.cycles.UpdateFlipCycle(ctx, &c.row); err != nil {
		f.logger.Warn("cycle update failed", "error", err)
	}

	if f.placeExit(ctx) {
		f.phase = phaseRestingExit
		f.publishPhase(c.row.Question)
		return nil
	}

	f.logger.Warn("exit placement failed, unwinding entry", "market", c.row.Question)
	f.emergencySell(ctx, c.row.EntryTokenID, c.row.EntryShares, c.row.EntryPrice, c.entryTick)
	c.row.Status = "error"
	if err := f.cycles.UpdateFlipCycle(ctx, &c.row); err != nil {
		f.logger.Warn("cycle update failed", "error", err)
	}
	f.reset()
	return nil
}

// placeExit rests a BUY on the opposite outcome, same shares, behind its
// best bid.
func (f *Flip) placeExit(ctx context.Context) bool {
	c := f.cycle
	book, err := f.books.GetOrderBook(ctx, c.oppositeToken)
	if err != nil {
		return false
	}
	if _, ok := book.BestBid(); !ok {
		return false
	}
	price := behindBestBid(book, c.entryTick)
	if price <= 0.01 || price >= 0.99 {
		return false
	}

	exitSide := "no"
	if c.row.EntrySide == "no" {
		exitSide = "yes"
	}
	res, err := f.trader.Execute(ctx, types.Signal{
		Strategy:       types.StrategyLPFlip,
		ConditionID:    c.row.ConditionID,
		TokenID:        c.oppositeToken,
		MarketQuestion: c.row.Question,
		Side:           types.BUY,
		Price:          price,
		Size:           c.row.EntryShares,
		OrderType:      types.OrderTypeGTC,
		TickSize:       c.entryTick,
		NegRisk:        c.entryNegRisk,
		Reason:         "flip exit " + exitSide,
	})
	if err != nil || !res.Success || res.OrderID == "" {
		return false
	}

	c.row.ExitSide = exitSide
	c.row.ExitTokenID = c.oppositeToken
	c.row.ExitPrice = price
	c.row.ExitShares = res.Signal.Size
	c.row.ExitOrderID = res.OrderID
	if err := f.cycles.UpdateFlipCycle(ctx, &c.row); err != nil {
		f.logger.Warn("cycle update failed", "error", err)
	}
	f.logger.Info("flip exit placed",
		"market", c.row.Question, "exit_side", exitSide,
		"price", price, "shares", res.Signal.Size)

	if res.Filled() {
		f.completeCycle(ctx, f.pairProfit(), "completed")
	}
	return true
}

// ————————————————————————————————————————————————————————————————————————
// RESTING_EXIT: wait for the exit fill, enforce stop-loss
// ————————————————————————————————————————————————————————————————————————

func (f *Flip) doRestingExit(ctx context.Context) error {
	c := f.cycle
	if c == nil {
		f.reset()
		return nil
	}

	// Stop-loss is marked on the entry token: the side we already own.
	current, err := f.prices.GetPrice(ctx, c.row.EntryTokenID, types.SELL)
	if err == nil && current > 0 && c.row.EntryPrice > 0 {
		loss := (c.row.EntryPrice - current) / c.row.EntryPrice
		if loss >= f.cfg.StopLossPct {
			f.logger.Warn("flip stop-loss",
				"market", c.row.Question,
				"entry", c.row.EntryPrice, "current", current,
				"loss_pct", loss)
			if c.row.ExitOrderID != "" {
				if err := f.trader.Executor().Cancel(ctx, c.row.ExitOrderID); err != nil {
					f.logger.Warn("exit cancel failed", "error", err)
				}
			}
			f.emergencySell(ctx, c.row.EntryTokenID, c.row.EntryShares, current, c.entryTick)
			profit := (current - c.row.EntryPrice) * c.row.EntryShares
			f.completeCycle(ctx, profit, "stop_loss")
			return nil
		}
	}

	filled, err := f.orderGone(ctx, c.row.ConditionID, c.row.ExitOrderID)
	if err != nil || !filled {
		return err
	}

	f.trader.RecordFill(ctx, types.Signal{
		Strategy:       types.StrategyLPFlip,
		ConditionID:    c.row.ConditionID,
		TokenID:        c.row.ExitTokenID,
		MarketQuestion: c.row.Question,
		Side:           types.BUY,
		Price:          c.row.ExitPrice,
		Size:           c.row.ExitShares,
		OrderType:      types.OrderTypeGTC,
		TickSize:       c.entryTick,
	}, c.row.ExitOrderID, c.row.ExitPrice, c.row.ExitShares)

	f.completeCycle(ctx, f.pairProfit(), "completed")
	return nil
}

// pairProfit values a completed cycle: holding both outcomes redeems $1
// per matched share pair, minus what both legs cost.
func (f *Flip) pairProfit() float64 {
	c := f.cycle
	redeemable := c.row.EntryShares
	if c.row.ExitShares < redeemable {
		redeemable = c.row.ExitShares
	}
	entryCost := c.row.EntryPrice * c.row.EntryShares
	exitCost := c.row.ExitPrice * c.row.ExitShares
	return redeemable - entryCost - exitCost
}

func (f *Flip) completeCycle(ctx context.Context, profit float64, status string) {
	c := f.cycle
	// Stop-loss cycles cancel the exit rather than fill it.
	if status == "completed" {
		c.row.ExitFilledAt = time.Now().UTC().Format(time.RFC3339)
	}
	c.row.Profit = profit
	c.row.Status = status
	if err := f.cycles.UpdateFlipCycle(ctx, &c.row); err != nil {
		f.logger.Error("cycle finalize failed", "error", err)
	}
	f.logger.Info("flip cycle complete",
		"market", c.row.Question, "status", status, "profit", profit)
	f.reset()
}

// orderGone reports whether orderID has left the market's open-order set,
// which for our resting orders means it filled.
func (f *Flip) orderGone(ctx context.Context, conditionID, orderID string) (bool, error) {
	if orderID == "" {
		f.reset()
		return false, nil
	}
	open, err := f.trader.Executor().OpenOrders(ctx, conditionID)
	if err != nil {
		return false, fmt.Errorf("open orders: %w", err)
	}
	for _, o := range open {
		if o.ID == orderID {
			return false, nil
		}
	}
	return true, nil
}

// emergencySell dumps shares at half the current price. Execution quality
// is sacrificed for certainty of exit.
func (f *Flip) emergencySell(ctx context.Context, tokenID string, shares, current float64, tick types.TickSize) {
	actual, err := f.trader.Executor().TokenBalance(ctx, tokenID)
	if err != nil {
		f.logger.Error("emergency sell balance check failed", "error", err)
		return
	}
	if actual < shares {
		shares = actual
	}
	if shares < 1 {
		return
	}
	if current <= 0 {
		current = 0.02
	}
	price := types.RoundToTick(current*0.5, tick)
	if price < 0.01 {
		price = 0.01
	}

	res, err := f.trader.Executor().Place(ctx, types.Signal{
		Strategy:  types.StrategyLPFlip,
		TokenID:   tokenID,
		Side:      types.SELL,
		Price:     price,
		Size:      shares,
		OrderType: types.OrderTypeGTC,
		TickSize:  tick,
		Reason:    "flip emergency sell",
	})
	if err != nil {
		f.logger.Error("emergency sell failed", "token", tokenID, "error", err)
		return
	}
	if res.Filled() {
		f.trader.RecordFill(ctx, res.Signal, res.OrderID, res.FillPrice, res.FillSize)
	}
	f.logger.Info("emergency sell posted",
		"token", tokenID, "price", price, "shares", shares)
}
