// Package execution turns risk-approved signals into exchange orders.
//
// The Manager owns the signal pipeline (risk gate, jitter, execution,
// inventory, persistence, events). The Executor interface abstracts the
// venue so the same pipeline drives live trading and paper trading.
package execution

import (
	"context"
	"log/slog"
	"time"

	"polymarket-bot/internal/exchange"
	"polymarket-bot/pkg/types"
)

// Executor places and cancels orders on a venue, real or simulated.
type Executor interface {
	Place(ctx context.Context, sig types.Signal) (types.OrderResult, error)
	OpenOrders(ctx context.Context, conditionID string) ([]types.OpenOrder, error)
	Cancel(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
	CancelMarket(ctx context.Context, conditionID string) error

	// AllowanceBalance refreshes and returns the sellable collateral
	// balance. Emergency exits size their sell orders from it.
	AllowanceBalance(ctx context.Context) (float64, error)

	// TokenBalance refreshes the conditional-token allowance and returns
	// the sellable share count for one token.
	TokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// LiveExecutor sends orders to the CLOB through the exchange client.
type LiveExecutor struct {
	api    exchange.API
	logger *slog.Logger
}

// NewLiveExecutor creates an Executor backed by the real exchange.
func NewLiveExecutor(api exchange.API, logger *slog.Logger) *LiveExecutor {
	return &LiveExecutor{api: api, logger: logger.With("component", "executor")}
}

// Place posts a single order. A "live" status means the order rests
// unfilled; any matched status is treated as a full fill at the limit
// price, which is the worst case for a taker order.
func (e *LiveExecutor) Place(ctx context.Context, sig types.Signal) (types.OrderResult, error) {
	resp, err := e.api.PostOrder(ctx, sig)
	if err != nil {
		return types.OrderResult{Signal: sig, Error: err.Error(), At: time.Now().UTC()}, err
	}

	res := types.OrderResult{
		Signal:  sig,
		Success: resp.Success,
		OrderID: resp.OrderID,
		Status:  resp.Status,
		Error:   resp.ErrorMsg,
		At:      time.Now().UTC(),
	}
	if resp.Success && resp.Status != "live" {
		res.FillPrice = sig.Price
		res.FillSize = sig.Size
	}
	return res, nil
}

func (e *LiveExecutor) OpenOrders(ctx context.Context, conditionID string) ([]types.OpenOrder, error) {
	return e.api.GetOpenOrders(ctx, conditionID)
}

func (e *LiveExecutor) Cancel(ctx context.Context, orderID string) error {
	return e.api.CancelOrder(ctx, orderID)
}

func (e *LiveExecutor) CancelAll(ctx context.Context) error {
	_, err := e.api.CancelAll(ctx)
	return err
}

func (e *LiveExecutor) CancelMarket(ctx context.Context, conditionID string) error {
	_, err := e.api.CancelMarketOrders(ctx, conditionID)
	return err
}

// AllowanceBalance forces the CLOB to refresh its collateral view, then
// reads it back.
func (e *LiveExecutor) AllowanceBalance(ctx context.Context) (float64, error) {
	if err := e.api.UpdateBalanceAllowance(ctx); err != nil {
		e.logger.Warn("allowance refresh failed", "error", err)
	}
	return e.api.GetBalance(ctx)
}

// TokenBalance refreshes and reads the sellable shares of one token.
func (e *LiveExecutor) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	if err := e.api.UpdateTokenAllowance(ctx, tokenID); err != nil {
		e.logger.Warn("token allowance refresh failed", "error", err)
	}
	return e.api.GetTokenBalance(ctx, tokenID)
}
