package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-bot/pkg/types"
)

// DryRunExecutor simulates order execution without touching the exchange.
// Every order fills instantly at the signal price, including GTC: paper
// trading measures strategy decisions, not queue position. OpenOrders is
// therefore always empty, which the resting-fill detectors read as an
// immediate fill.
type DryRunExecutor struct {
	mu      sync.Mutex
	counter int
	balance func() float64               // inventory cash, for AllowanceBalance
	shares  func(tokenID string) float64 // inventory position, for TokenBalance
	logger  *slog.Logger
}

// NewDryRunExecutor creates a paper-trading executor. balance reports the
// simulated cash balance; shares reports held shares per token.
func NewDryRunExecutor(balance func() float64, shares func(tokenID string) float64, logger *slog.Logger) *DryRunExecutor {
	return &DryRunExecutor{
		balance: balance,
		shares:  shares,
		logger:  logger.With("component", "dry-run"),
	}
}

// Place simulates a full fill at the requested price and size.
func (e *DryRunExecutor) Place(ctx context.Context, sig types.Signal) (types.OrderResult, error) {
	e.mu.Lock()
	e.counter++
	orderID := fmt.Sprintf("dry-%06d", e.counter)
	e.mu.Unlock()

	e.logger.Info("dry-run fill",
		"order_id", orderID, "strategy", sig.Strategy,
		"side", sig.Side, "price", sig.Price, "size", sig.Size)

	return types.OrderResult{
		Signal:    sig,
		Success:   true,
		OrderID:   orderID,
		Status:    "matched",
		FillPrice: sig.Price,
		FillSize:  sig.Size,
		DryRun:    true,
		At:        time.Now().UTC(),
	}, nil
}

// OpenOrders is always empty: simulated orders never rest.
func (e *DryRunExecutor) OpenOrders(ctx context.Context, conditionID string) ([]types.OpenOrder, error) {
	return nil, nil
}

// Cancel succeeds unconditionally, matching exchange semantics for orders
// that are already gone.
func (e *DryRunExecutor) Cancel(ctx context.Context, orderID string) error { return nil }

// CancelAll is a no-op.
func (e *DryRunExecutor) CancelAll(ctx context.Context) error { return nil }

// CancelMarket is a no-op.
func (e *DryRunExecutor) CancelMarket(ctx context.Context, conditionID string) error { return nil }

// AllowanceBalance returns the simulated cash balance.
func (e *DryRunExecutor) AllowanceBalance(ctx context.Context) (float64, error) {
	if e.balance == nil {
		return 0, nil
	}
	return e.balance(), nil
}

// TokenBalance returns the simulated share count for a token.
func (e *DryRunExecutor) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	if e.shares == nil {
		return 0, nil
	}
	return e.shares(tokenID), nil
}
