// Package strategy implements the trading strategies and their supervisor.
//
// Each strategy is a long-lived loop producing signals that flow through
// the order pipeline. Scan-driven strategies (arbitrage, copy, synth edge)
// use the shared scan/execute/sleep loop; the LP selector and the flip
// state machine run bespoke loops. The Runner supervises all of them:
// panics are contained, errors become STRATEGY_ERROR events, and shutdown
// hooks run after every loop has stopped.
package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/execution"
	"polymarket-bot/internal/jitter"
	"polymarket-bot/pkg/types"
)

// trader is the slice of the order pipeline strategies consume.
// *execution.Manager satisfies it.
type trader interface {
	Execute(ctx context.Context, sig types.Signal) (types.OrderResult, error)
	ExecuteBatch(ctx context.Context, sigs []types.Signal) []types.OrderResult
	RecordFill(ctx context.Context, sig types.Signal, orderID string, fillPrice, fillSize float64)
	Executor() execution.Executor
	Halted() bool
}

// Strategy is one supervised trading loop.
type Strategy interface {
	// Name tags log lines and error events.
	Name() string
	// Run blocks until ctx is cancelled.
	Run(ctx context.Context)
	// Shutdown releases venue-side resources (resting orders). Called
	// after Run returns, with a fresh short-lived context.
	Shutdown(ctx context.Context)
}

// Runner supervises strategy goroutines.
type Runner struct {
	strategies []Strategy
	bus        *bus.Bus
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewRunner creates a supervisor over the given strategies.
func NewRunner(strategies []Strategy, b *bus.Bus, logger *slog.Logger) *Runner {
	return &Runner{
		strategies: strategies,
		bus:        b,
		logger:     logger.With("component", "runner"),
	}
}

// Start launches every strategy. Panics inside a strategy are logged and
// published; the strategy stays down but the process keeps running.
func (r *Runner) Start(ctx context.Context) {
	for _, s := range r.strategies {
		r.wg.Add(1)
		go func(s Strategy) {
			defer r.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("strategy panicked", "strategy", s.Name(), "panic", rec)
					r.bus.Publish(bus.StrategyError, map[string]any{
						"strategy": s.Name(),
						"error":    "panic",
					})
				}
			}()
			r.logger.Info("strategy started", "strategy", s.Name())
			s.Run(ctx)
			r.logger.Info("strategy stopped", "strategy", s.Name())
		}(s)
	}
}

// Wait blocks until all strategy loops return, then runs shutdown hooks.
func (r *Runner) Wait() {
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, s := range r.strategies {
		s.Shutdown(ctx)
	}
}

// loopEvery runs fn, sleeps interval, and repeats until ctx is done.
// The first fn call happens after one interval, not immediately, so a
// restart does not replay the previous cadence.
func loopEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	for {
		if err := jitter.Sleep(ctx, interval); err != nil {
			return
		}
		fn(ctx)
	}
}

// scanErr logs a failed scan and publishes a STRATEGY_ERROR event.
func scanErr(b *bus.Bus, logger *slog.Logger, name string, err error) {
	logger.Error("scan failed", "error", err)
	b.Publish(bus.StrategyError, map[string]any{
		"strategy": name,
		"error":    err.Error(),
	})
}
