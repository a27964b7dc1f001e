package api

import (
	"sync"
	"time"

	"polymarket-bot/internal/bus"
)

const (
	activityRingSize   = 100
	balanceHistorySize = 288
)

// ActivityEntry is one row of the dashboard's trade log.
type ActivityEntry struct {
	At       time.Time `json:"at"`
	Strategy string    `json:"strategy"`
	Market   string    `json:"market"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	Status   string    `json:"status"`
	DryRun   bool      `json:"dry_run"`
}

// StrategyStatus aggregates per-strategy counters.
type StrategyStatus struct {
	Trades    int       `json:"trades"`
	VolumeUSD float64   `json:"volume_usd"`
	Edges     int       `json:"edges"`
	Scans     int       `json:"scans"`
	Errors    int       `json:"errors"`
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// BalancePoint is one sample of the balance history chart.
type BalancePoint struct {
	At             time.Time `json:"at"`
	Balance        float64   `json:"balance"`
	PositionsValue float64   `json:"positions_value"`
}

// LPQuote mirrors the most recent resting quote per LP market.
type LPQuote struct {
	Market         string    `json:"market"`
	Side           string    `json:"side"`
	Price          float64   `json:"price"`
	Shares         float64   `json:"shares"`
	EstDailyReward float64   `json:"est_daily_reward"`
	At             time.Time `json:"at"`
}

// FlipStatus is the flip state machine's last reported phase.
type FlipStatus struct {
	Phase  string    `json:"phase"`
	Market string    `json:"market,omitempty"`
	At     time.Time `json:"at"`
}

// Snapshot is the JSON shape served to dashboard clients.
type Snapshot struct {
	Timestamp      time.Time                 `json:"timestamp"`
	Balance        float64                   `json:"balance"`
	PositionsValue float64                   `json:"positions_value"`
	Portfolio      float64                   `json:"portfolio"`
	Halted         bool                      `json:"halted"`
	DrawdownWarned bool                      `json:"drawdown_warned"`
	Strategies     map[string]StrategyStatus `json:"strategies"`
	Activity       []ActivityEntry           `json:"activity"`
	History        []BalancePoint            `json:"history"`
	LPQuotes       map[string]LPQuote        `json:"lp_quotes"`
	Flip           FlipStatus                `json:"flip"`
	EventsApplied  int64                     `json:"events_applied"`
}

// State is the dashboard projection: a fold over the event bus. Apply is
// called by the single bus-consumer goroutine; reads take the lock so the
// HTTP handlers can snapshot concurrently.
type State struct {
	mu             sync.RWMutex
	balance        float64
	positionsValue float64
	halted         bool
	warned         bool
	strategies     map[string]*StrategyStatus
	activity       []ActivityEntry
	history        []BalancePoint
	lpQuotes       map[string]LPQuote
	flip           FlipStatus
	applied        int64
}

// NewState creates an empty projection.
func NewState() *State {
	return &State{
		strategies: make(map[string]*StrategyStatus),
		lpQuotes:   make(map[string]LPQuote),
	}
}

// Apply folds one bus event into the projection.
func (s *State) Apply(evt bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied++

	switch evt.Type {
	case bus.TradeExecuted:
		st := s.strategy(str(evt.Data["strategy"]), evt.At)
		st.Trades++
		status := str(evt.Data["status"])
		if status == "matched" {
			st.VolumeUSD += num(evt.Data["price"]) * num(evt.Data["size"])
		}
		if b, ok := evt.Data["balance"]; ok {
			s.balance = num(b)
		}
		s.activity = append(s.activity, ActivityEntry{
			At:       evt.At,
			Strategy: str(evt.Data["strategy"]),
			Market:   str(evt.Data["market"]),
			Side:     str(evt.Data["side"]),
			Price:    num(evt.Data["price"]),
			Size:     num(evt.Data["size"]),
			Status:   status,
			DryRun:   boolean(evt.Data["dry_run"]),
		})
		if len(s.activity) > activityRingSize {
			s.activity = s.activity[len(s.activity)-activityRingSize:]
		}

	case bus.EdgeDetected:
		s.strategy(str(evt.Data["strategy"]), evt.At).Edges++

	case bus.MarketScanned:
		s.strategy(str(evt.Data["strategy"]), evt.At).Scans++

	case bus.DrawdownWarn:
		s.warned = true

	case bus.DrawdownHalt:
		s.halted = true

	case bus.StrategyError:
		st := s.strategy(str(evt.Data["strategy"]), evt.At)
		st.Errors++
		st.Status = "error"
		st.LastError = str(evt.Data["error"])

	case bus.LPPosition:
		market := str(evt.Data["market"])
		s.lpQuotes[market] = LPQuote{
			Market:         market,
			Side:           str(evt.Data["side"]),
			Price:          num(evt.Data["price"]),
			Shares:         num(evt.Data["shares"]),
			EstDailyReward: num(evt.Data["est_reward"]),
			At:             evt.At,
		}

	case bus.FlipPhase:
		s.flip = FlipStatus{
			Phase:  str(evt.Data["phase"]),
			Market: str(evt.Data["market"]),
			At:     evt.At,
		}

	case bus.BalanceUpdate:
		s.balance = num(evt.Data["balance"])
		s.positionsValue = num(evt.Data["positions_value"])
		s.history = append(s.history, BalancePoint{
			At:             evt.At,
			Balance:        s.balance,
			PositionsValue: s.positionsValue,
		})
		if len(s.history) > balanceHistorySize {
			s.history = s.history[len(s.history)-balanceHistorySize:]
		}
	}
}

// Snapshot copies the projection for serving.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strategies := make(map[string]StrategyStatus, len(s.strategies))
	for name, st := range s.strategies {
		strategies[name] = *st
	}
	lp := make(map[string]LPQuote, len(s.lpQuotes))
	for k, v := range s.lpQuotes {
		lp[k] = v
	}

	return Snapshot{
		Timestamp:      time.Now().UTC(),
		Balance:        s.balance,
		PositionsValue: s.positionsValue,
		Portfolio:      s.balance + s.positionsValue,
		Halted:         s.halted,
		DrawdownWarned: s.warned,
		Strategies:     strategies,
		Activity:       append([]ActivityEntry(nil), s.activity...),
		History:        append([]BalancePoint(nil), s.history...),
		LPQuotes:       lp,
		Flip:           s.flip,
		EventsApplied:  s.applied,
	}
}

func (s *State) strategy(name string, at time.Time) *StrategyStatus {
	if name == "" {
		name = "unknown"
	}
	st, ok := s.strategies[name]
	if !ok {
		st = &StrategyStatus{Status: "ok"}
		s.strategies[name] = st
	}
	st.LastSeen = at
	return st
}

// Payload values arrive as map[string]any, so types are whatever the
// publisher put in. These coercions keep Apply total.

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}
