// Package store persists trades, daily volume, flip cycles, forecast
// signals, and small key/value state to a local SQLite database.
//
// SQLite runs with a single connection and WAL journaling so dashboard
// reads do not block the trade pipeline.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"polymarket-bot/pkg/types"
)

// ErrNotFound is returned when a requested row or key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the database file (and parent directory) if needed, applies
// migrations, and returns a ready Store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With("component", "store")}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func utcISO() string   { return time.Now().UTC().Format("2006-01-02T15:04:05.000Z") }
func utcToday() string { return time.Now().UTC().Format("2006-01-02") }

// ————————————————————————————————————————————————————————————————————————
// Trades and daily volume
// ————————————————————————————————————————————————————————————————————————

// InsertTrade records an executed (or rejected) order and returns the row id.
func (s *Store) InsertTrade(ctx context.Context, res types.OrderResult) (int64, error) {
	status := "rejected"
	if res.Success {
		if res.Resting() {
			status = "live"
		} else {
			status = "filled"
		}
	}
	dry := 0
	if res.DryRun {
		dry = 1
	}
	r, err := s.db.ExecContext(ctx,
		`INSERT INTO trades
		   (strategy, condition_id, token_id, market_question, side, price, size,
		    order_type, order_id, status, fill_price, fill_size, fee_paid,
		    edge, reason, is_dry_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Signal.Strategy, res.Signal.ConditionID, res.Signal.TokenID,
		res.Signal.MarketQuestion, res.Signal.Side, res.Signal.Price, res.Signal.Size,
		res.Signal.OrderType, res.OrderID, status, res.FillPrice, res.FillSize,
		res.FeePaid, res.Signal.Edge, res.Signal.Reason, dry,
	)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return r.LastInsertId()
}

var volumeColumns = map[types.Strategy]string{
	types.StrategyArbitrage: "arb_volume",
	types.StrategyLiquidity: "lp_volume",
	types.StrategyLPFlip:    "lp_flip_volume",
	types.StrategyCopy:      "copy_volume",
	types.StrategySynthEdge: "synth_volume",
}

// UpdateDailyVolume upserts today's row, bumping the total and the
// per-strategy volume column.
func (s *Store) UpdateDailyVolume(ctx context.Context, strat types.Strategy, volume, pnl float64) error {
	col, ok := volumeColumns[strat]
	if !ok {
		return fmt.Errorf("unknown strategy %q", strat)
	}
	q := fmt.Sprintf(
		`INSERT INTO daily_volume (date, total_volume, %s, trade_count, pnl)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(date) DO UPDATE SET
		     total_volume = total_volume + ?,
		     %s = %s + ?,
		     trade_count = trade_count + 1,
		     pnl = pnl + ?,
		     updated_at = ?`, col, col, col)
	_, err := s.db.ExecContext(ctx, q,
		utcToday(), volume, volume, pnl, volume, volume, pnl, utcISO())
	if err != nil {
		return fmt.Errorf("update daily volume: %w", err)
	}
	return nil
}

// DayVolume is a daily_volume row.
type DayVolume struct {
	Date       string
	Total      float64
	Arb        float64
	LP         float64
	LPFlip     float64
	Copy       float64
	Synth      float64
	TradeCount int
	PnL        float64
}

// TodayVolume returns today's volume row. A day with no trades returns a
// zero-valued row, not an error.
func (s *Store) TodayVolume(ctx context.Context) (DayVolume, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT date, total_volume, arb_volume, lp_volume, lp_flip_volume,
		        copy_volume, synth_volume, trade_count, pnl
		 FROM daily_volume WHERE date = ?`, utcToday())
	var v DayVolume
	err := row.Scan(&v.Date, &v.Total, &v.Arb, &v.LP, &v.LPFlip, &v.Copy,
		&v.Synth, &v.TradeCount, &v.PnL)
	if errors.Is(err, sql.ErrNoRows) {
		return DayVolume{Date: utcToday()}, nil
	}
	if err != nil {
		return DayVolume{}, fmt.Errorf("today volume: %w", err)
	}
	return v, nil
}

// TradeStats summarizes filled trades for the dashboard footer.
type TradeStats struct {
	TotalTrades int
	Wins        int
	TotalPnL    float64
	AvgBet      float64
	BestTrade   float64
	WorstTrade  float64
}

// TradeStats aggregates over filled trades. Win means the fill beat the
// limit price for the trade's side.
func (s *Store) TradeStats(ctx context.Context) (TradeStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT
		     COUNT(*),
		     COALESCE(SUM(CASE WHEN fill_price > price AND side = 'BUY' THEN 1
		                       WHEN fill_price < price AND side = 'SELL' THEN 1
		                       ELSE 0 END), 0),
		     COALESCE(SUM((fill_size * fill_price) - (size * price)), 0),
		     COALESCE(AVG(size * price), 0),
		     COALESCE(MAX((fill_size * fill_price) - (size * price)), 0),
		     COALESCE(MIN((fill_size * fill_price) - (size * price)), 0)
		 FROM trades WHERE status = 'filled'`)
	var st TradeStats
	if err := row.Scan(&st.TotalTrades, &st.Wins, &st.TotalPnL, &st.AvgBet,
		&st.BestTrade, &st.WorstTrade); err != nil {
		return TradeStats{}, fmt.Errorf("trade stats: %w", err)
	}
	return st, nil
}

// TradeReturns returns recent per-trade PnL values, newest first.
func (s *Store) TradeReturns(ctx context.Context, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT (fill_size * fill_price) - (size * price)
		 FROM trades WHERE status = 'filled'
		 ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("trade returns: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		out = append(out, pnl)
	}
	return out, rows.Err()
}

// TradeRow is a trades table row for the activity log.
type TradeRow struct {
	ID        int64
	Timestamp string
	Strategy  string
	Question  string
	Side      string
	Price     float64
	Size      float64
	Status    string
	OrderID   string
}

// RecentTrades returns the newest trades, most recent first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]TradeRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, strategy, market_question, side, price, size,
		        status, COALESCE(order_id, '')
		 FROM trades ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Strategy, &t.Question,
			&t.Side, &t.Price, &t.Size, &t.Status, &t.OrderID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Flip cycles
// ————————————————————————————————————————————————————————————————————————

// FlipCycle is a flip_cycles row tracking one buy-low/sell-high round trip.
type FlipCycle struct {
	ID            int64
	ConditionID   string
	Question      string
	EntrySide     string
	EntryTokenID  string
	EntryPrice    float64
	EntryShares   float64
	EntryOrderID  string
	EntryFilledAt string
	ExitSide      string
	ExitTokenID   string
	ExitPrice     float64
	ExitShares    float64
	ExitOrderID   string
	ExitFilledAt  string
	Profit        float64
	Status        string // "open", "completed", "abandoned"
}

// InsertFlipCycle records a new cycle after the entry order fills.
func (s *Store) InsertFlipCycle(ctx context.Context, c *FlipCycle) (int64, error) {
	r, err := s.db.ExecContext(ctx,
		`INSERT INTO flip_cycles
		   (condition_id, market_question, entry_side, entry_token_id,
		    entry_price, entry_shares, entry_order_id, entry_filled_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open')`,
		c.ConditionID, c.Question, c.EntrySide, c.EntryTokenID,
		c.EntryPrice, c.EntryShares, c.EntryOrderID, c.EntryFilledAt)
	if err != nil {
		return 0, fmt.Errorf("insert flip cycle: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// UpdateFlipCycle writes exit details, profit, and status back to a cycle row.
func (s *Store) UpdateFlipCycle(ctx context.Context, c *FlipCycle) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE flip_cycles SET
		     exit_side = ?, exit_token_id = ?, exit_price = ?, exit_shares = ?,
		     exit_order_id = ?, exit_filled_at = ?, profit = ?, status = ?,
		     updated_at = ?
		 WHERE id = ?`,
		c.ExitSide, c.ExitTokenID, c.ExitPrice, c.ExitShares,
		c.ExitOrderID, c.ExitFilledAt, c.Profit, c.Status, utcISO(), c.ID)
	if err != nil {
		return fmt.Errorf("update flip cycle: %w", err)
	}
	return nil
}

// OpenFlipCycles returns cycles still waiting on their exit fill.
func (s *Store) OpenFlipCycles(ctx context.Context) ([]FlipCycle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, condition_id, market_question, entry_side, entry_token_id,
		        entry_price, entry_shares, COALESCE(entry_order_id, ''),
		        COALESCE(entry_filled_at, ''), COALESCE(exit_side, ''),
		        COALESCE(exit_token_id, ''), COALESCE(exit_price, 0),
		        COALESCE(exit_shares, 0), COALESCE(exit_order_id, ''),
		        COALESCE(exit_filled_at, ''), COALESCE(profit, 0), status
		 FROM flip_cycles WHERE status = 'open' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("open flip cycles: %w", err)
	}
	defer rows.Close()

	var out []FlipCycle
	for rows.Next() {
		var c FlipCycle
		if err := rows.Scan(&c.ID, &c.ConditionID, &c.Question, &c.EntrySide,
			&c.EntryTokenID, &c.EntryPrice, &c.EntryShares, &c.EntryOrderID,
			&c.EntryFilledAt, &c.ExitSide, &c.ExitTokenID, &c.ExitPrice,
			&c.ExitShares, &c.ExitOrderID, &c.ExitFilledAt, &c.Profit,
			&c.Status); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FlipStats summarizes completed cycles.
type FlipStats struct {
	Completed   int
	TotalProfit float64
}

// CompletedFlipStats aggregates over completed cycles.
func (s *Store) CompletedFlipStats(ctx context.Context) (FlipStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(profit), 0)
		 FROM flip_cycles WHERE status = 'completed'`)
	var st FlipStats
	if err := row.Scan(&st.Completed, &st.TotalProfit); err != nil {
		return FlipStats{}, fmt.Errorf("flip stats: %w", err)
	}
	return st, nil
}

// ————————————————————————————————————————————————————————————————————————
// Synth signals, LP rewards, copy targets
// ————————————————————————————————————————————————————————————————————————

// InsertSynthSignal logs one forecast evaluation, whether acted on or not.
func (s *Store) InsertSynthSignal(ctx context.Context, f types.SynthForecast, action string, kellySize float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO synth_signals (asset, synth_prob_up, poly_prob_up, edge, action_taken, kelly_size)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.Asset, f.ProbUp, f.PolyProbUp, f.Edge, action, kellySize)
	if err != nil {
		return fmt.Errorf("insert synth signal: %w", err)
	}
	return nil
}

// LPReward is one reward estimate snapshot for a quoted market.
type LPReward struct {
	ConditionID     string
	TokenID         string
	QScore          float64
	EstimatedReward float64
	SpreadFromMid   float64
	OrderSize       float64
}

// RecordLPReward logs a reward estimate for today's quoting on a market.
func (s *Store) RecordLPReward(ctx context.Context, r LPReward) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lp_rewards (date, condition_id, token_id, q_score,
		                         estimated_reward, spread_from_mid, order_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		utcToday(), r.ConditionID, r.TokenID, r.QScore, r.EstimatedReward,
		r.SpreadFromMid, r.OrderSize)
	if err != nil {
		return fmt.Errorf("record lp reward: %w", err)
	}
	return nil
}

// TouchCopyTarget upserts a copy target's bookkeeping row after a poll.
func (s *Store) TouchCopyTarget(ctx context.Context, address string, copiedUSD float64) error {
	now := utcISO()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO copy_targets (address, last_checked_at, total_copied)
		 VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
		     last_checked_at = ?,
		     total_copied = total_copied + ?`,
		address, now, copiedUSD, now, copiedUSD)
	if err != nil {
		return fmt.Errorf("touch copy target: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Key/value state
// ————————————————————————————————————————————————————————————————————————

// GetState reads a bot_state value, returning ErrNotFound for missing keys.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key)
	var v string
	err := row.Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %q: %w", key, err)
	}
	return v, nil
}

// SetState upserts a bot_state key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	now := utcISO()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?`,
		key, value, now, value, now)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}
