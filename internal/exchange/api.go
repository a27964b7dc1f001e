package exchange

import (
	"context"
	"fmt"

	"polymarket-bot/pkg/types"
)

// API is the CLOB surface the strategies and the order manager consume.
// *Client implements it; tests substitute fakes.
type API interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error)
	GetMidpoint(ctx context.Context, tokenID string) (float64, error)
	GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error)
	GetSamplingMarkets(ctx context.Context) ([]types.MarketInfo, error)
	GetOpenOrders(ctx context.Context, conditionID string) ([]types.OpenOrder, error)

	PostOrder(ctx context.Context, sig types.Signal) (*types.OrderResponse, error)
	PostOrders(ctx context.Context, sigs []types.Signal) ([]types.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) (*types.CancelResponse, error)
	CancelMarketOrders(ctx context.Context, conditionID string) (*types.CancelResponse, error)

	GetBalanceAllowance(ctx context.Context) (types.BalanceAllowance, error)
	UpdateBalanceAllowance(ctx context.Context) error
	GetBalance(ctx context.Context) (float64, error)
	UpdateTokenAllowance(ctx context.Context, tokenID string) error
	GetTokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// APIError is a non-2xx response from any of the HTTP services.
type APIError struct {
	Service string
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Body)
}

func apiErr(service string, status int, body string) *APIError {
	if len(body) > 300 {
		body = body[:300]
	}
	return &APIError{Service: service, Status: status, Body: body}
}
