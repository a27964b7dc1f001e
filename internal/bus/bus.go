// Package bus is the in-process event channel between the trading pipeline
// and the dashboard/stats consumers. Publishing never blocks the hot path:
// when the buffer is full the oldest event is dropped.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType labels bus events for the dashboard projection.
type EventType string

const (
	TradeExecuted EventType = "TRADE_EXECUTED"
	EdgeDetected  EventType = "EDGE_DETECTED"
	MarketScanned EventType = "MARKET_SCANNED"
	OrderResolved EventType = "ORDER_RESOLVED"
	DrawdownWarn  EventType = "DRAWDOWN_WARNING"
	DrawdownHalt  EventType = "DRAWDOWN_HALT"
	StrategyError EventType = "STRATEGY_ERROR"
	LPPosition    EventType = "LP_POSITION"
	FlipPhase     EventType = "FLIP_PHASE"
	CopyDetected  EventType = "COPY_DETECTED"
	SynthSignal   EventType = "SYNTH_SIGNAL"
	BalanceUpdate EventType = "BALANCE_UPDATE"
)

// Event is a single bus message. Data holds a small, JSON-friendly payload.
type Event struct {
	ID   string         `json:"id"`
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
	At   time.Time      `json:"at"`
}

// Bus is a bounded single-consumer event queue.
type Bus struct {
	ch      chan Event
	mu      sync.Mutex // serializes the drop-oldest path in Publish
	dropped atomic.Int64
	logger  *slog.Logger
}

// DefaultCapacity bounds the event buffer when New is called with size <= 0.
const DefaultCapacity = 512

// New creates a Bus with the given buffer capacity.
func New(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = DefaultCapacity
	}
	return &Bus{
		ch:     make(chan Event, size),
		logger: logger.With("component", "bus"),
	}
}

// Publish enqueues an event without blocking. If the buffer is full the
// oldest event is evicted to make room, so consumers always see the most
// recent activity.
func (b *Bus) Publish(t EventType, data map[string]any) {
	evt := Event{
		ID:   uuid.NewString(),
		Type: t,
		Data: data,
		At:   time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case b.ch <- evt:
		return
	default:
	}
	// Full: evict one, then send. The receive can race a consumer and find
	// the buffer drained, in which case the send below succeeds anyway.
	select {
	case <-b.ch:
		b.dropped.Add(1)
	default:
	}
	select {
	case b.ch <- evt:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped", "type", t)
	}
}

// Events returns the receive side of the bus. Intended for a single
// consumer goroutine.
func (b *Bus) Events() <-chan Event { return b.ch }

// Dropped reports how many events were evicted or discarded.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
