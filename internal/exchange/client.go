// Package exchange implements the Polymarket HTTP clients.
//
// The CLOB client (Client) handles market data and order management:
//   - GetOrderBook / GetMidpoint / GetPrice — L2 book and quote reads
//   - GetSamplingMarkets  — paginated reward-eligible market discovery
//   - PostOrder(s)        — place signed limit orders (batch limit 15)
//   - CancelOrder / CancelAll / CancelMarketOrders
//   - GetBalanceAllowance / UpdateBalanceAllowance — collateral state
//   - DeriveAPIKey        — bootstrap L2 creds from the L1 wallet
//
// Every request is rate-limited via per-category TokenBuckets, retried on
// 5xx errors, and authenticated with L2 HMAC headers where required.
// Companion clients in this package cover the Gamma API (market metadata),
// the Data API (positions and activity for copy trading), and the Synth
// forecast API.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-bot/internal/config"
	"polymarket-bot/pkg/types"
)

// maxBatchOrders is the CLOB's limit on orders per batch POST.
const maxBatchOrders = 15

// Client is the Polymarket CLOB REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

var _ API = (*Client)(nil)

// NewClient creates a CLOB client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "clob"),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// GetOrderBook fetches and parses the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("get book", resp.StatusCode(), resp.String())
	}
	return result.Parse(), nil
}

// GetMidpoint fetches the midpoint price for a token.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}

	var result struct {
		Mid string `json:"mid"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/midpoint")
	if err != nil {
		return 0, fmt.Errorf("get midpoint: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, apiErr("get midpoint", resp.StatusCode(), resp.String())
	}
	mid, err := strconv.ParseFloat(result.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("parse midpoint %q: %w", result.Mid, err)
	}
	return mid, nil
}

// GetPrice fetches the best quoted price for a token on the given side.
func (c *Client) GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}

	var result struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"token_id": tokenID,
			"side":     string(side),
		}).
		SetResult(&result).
		Get("/price")
	if err != nil {
		return 0, fmt.Errorf("get price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, apiErr("get price", resp.StatusCode(), resp.String())
	}
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", result.Price, err)
	}
	return price, nil
}

// samplingMarket mirrors one entry of GET /sampling-markets.
type samplingMarket struct {
	ConditionID     string `json:"condition_id"`
	Question        string `json:"question"`
	MarketSlug      string `json:"market_slug"`
	EndDateISO      string `json:"end_date_iso"`
	MinimumOrderSize any   `json:"minimum_order_size"`
	MinimumTickSize  any   `json:"minimum_tick_size"`
	NegRisk         bool   `json:"neg_risk"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"accepting_orders"`
	Tokens          []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
	Rewards struct {
		Rates []struct {
			AssetAddress     string  `json:"asset_address"`
			RewardsDailyRate float64 `json:"rewards_daily_rate"`
		} `json:"rates"`
		MinSize   float64 `json:"min_size"`
		MaxSpread float64 `json:"max_spread"`
	} `json:"rewards"`
}

// endCursor marks the final page of a paginated CLOB listing.
const endCursor = "LTE="

// GetSamplingMarkets fetches every reward-eligible market, following the
// pagination cursor to the end.
func (c *Client) GetSamplingMarkets(ctx context.Context) ([]types.MarketInfo, error) {
	var out []types.MarketInfo
	cursor := ""
	for {
		if err := c.rl.Book.Wait(ctx); err != nil {
			return nil, err
		}

		var page struct {
			Data       []samplingMarket `json:"data"`
			NextCursor string           `json:"next_cursor"`
		}
		req := c.http.R().SetContext(ctx).SetResult(&page)
		if cursor != "" {
			req.SetQueryParam("next_cursor", cursor)
		}
		resp, err := req.Get("/sampling-markets")
		if err != nil {
			return nil, fmt.Errorf("sampling markets: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, apiErr("sampling markets", resp.StatusCode(), resp.String())
		}

		for _, m := range page.Data {
			info, ok := m.toMarketInfo()
			if !ok {
				continue
			}
			out = append(out, info)
		}

		if page.NextCursor == "" || page.NextCursor == endCursor {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// toMarketInfo normalizes a wire market. Markets without exactly two
// outcome tokens are dropped.
func (m samplingMarket) toMarketInfo() (types.MarketInfo, bool) {
	if len(m.Tokens) != 2 {
		return types.MarketInfo{}, false
	}
	info := types.MarketInfo{
		ConditionID:      m.ConditionID,
		Slug:             m.MarketSlug,
		Question:         m.Question,
		TickSize:         types.TickSize(anyToString(m.MinimumTickSize, "0.01")),
		MinOrderSize:     anyToFloat(m.MinimumOrderSize),
		NegRisk:          m.NegRisk,
		Active:           m.Active,
		Closed:           m.Closed,
		AcceptingOrders:  m.AcceptingOrders,
		RewardsMinSize:   m.Rewards.MinSize,
		RewardsMaxSpread: m.Rewards.MaxSpread / 100, // wire value is in cents
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			info.EndDate = t
		}
	}
	for _, rate := range m.Rewards.Rates {
		info.RewardsDailyRate += rate.RewardsDailyRate
	}
	for _, tok := range m.Tokens {
		if tok.Outcome == "Yes" {
			info.YesTokenID = tok.TokenID
		} else {
			info.NoTokenID = tok.TokenID
		}
	}
	if info.YesTokenID == "" || info.NoTokenID == "" {
		return types.MarketInfo{}, false
	}
	return info, true
}

// anyToString handles fields the CLOB returns as either string or number.
func anyToString(v any, fallback string) string {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t
		}
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fallback
}

func anyToFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// buildOrderPayload converts a Signal into the on-chain SignedOrder plus
// metadata the REST API expects. Human-readable price/size become big.Int
// maker/taker amounts at the market's tick precision; the maker is the
// funder wallet, the signer the EOA, the taker the zero address.
func (c *Client) buildOrderPayload(sig types.Signal) types.OrderPayload {
	tickSize := sig.TickSize
	if tickSize == "" {
		tickSize = types.Tick001
	}
	makerAmt, takerAmt := PriceToAmounts(sig.Price, sig.Size, sig.Side, tickSize)

	orderType := sig.OrderType
	if orderType == "" {
		orderType = types.OrderTypeGTC
	}

	return types.OrderPayload{
		Order: types.SignedOrder{
			Salt:          strconv.FormatUint(rand.Uint64()>>1, 10),
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       sig.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          sig.Side,
			Expiration:    strconv.FormatInt(sig.Expiration, 10),
			Nonce:         "0",
			FeeRateBps:    "0",
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: orderType,
	}
}

// PostOrder places a single signed order.
func (c *Client) PostOrder(ctx context.Context, sig types.Signal) (*types.OrderResponse, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload := c.buildOrderPayload(sig)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("post order", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// PostOrders places up to 15 orders in a batch.
func (c *Client) PostOrders(ctx context.Context, sigs []types.Signal) ([]types.OrderResponse, error) {
	if len(sigs) == 0 {
		return nil, nil
	}
	if len(sigs) > maxBatchOrders {
		return nil, fmt.Errorf("batch limit is %d orders, got %d", maxBatchOrders, len(sigs))
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payloads := make([]types.OrderPayload, len(sigs))
	for i, sig := range sigs {
		payloads[i] = c.buildOrderPayload(sig)
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("post orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("post orders", resp.StatusCode(), resp.String())
	}
	return results, nil
}

// GetOpenOrders returns live resting orders, optionally filtered by market.
func (c *Client) GetOpenOrders(ctx context.Context, conditionID string) ([]types.OpenOrder, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/data/orders"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	req := c.http.R().SetContext(ctx).SetHeaders(headers)
	if conditionID != "" {
		req.SetQueryParam("market", conditionID)
	}
	var results []types.OpenOrder
	resp, err := req.SetResult(&results).Get(path)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("get open orders", resp.StatusCode(), resp.String())
	}
	return results, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"orderID":%q}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Delete("/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return apiErr("cancel order", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("cancel all", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarketOrders cancels all orders for a specific market.
func (c *Client) CancelMarketOrders(ctx context.Context, conditionID string) (*types.CancelResponse, error) {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"market":%q}`, conditionID)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("cancel market orders", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// ————————————————————————————————————————————————————————————————————————
// Auth and balance
// ————————————————————————————————————————————————————————————————————————

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("derive api key", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// GetBalanceAllowance fetches the collateral balance (1e6-scaled USDC).
func (c *Client) GetBalanceAllowance(ctx context.Context) (types.BalanceAllowance, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.BalanceAllowance{}, err
	}

	path := "/balance-allowance"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return types.BalanceAllowance{}, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.BalanceAllowance
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "COLLATERAL",
			"signature_type": strconv.Itoa(int(c.auth.sigType)),
		}).
		SetResult(&result).
		Get(path)
	if err != nil {
		return types.BalanceAllowance{}, fmt.Errorf("balance allowance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.BalanceAllowance{}, apiErr("balance allowance", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// UpdateBalanceAllowance asks the CLOB to refresh its cached view of the
// wallet's collateral. Called before emergency sells so the sellable
// balance is current.
func (c *Client) UpdateBalanceAllowance(ctx context.Context) error {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return err
	}

	path := "/balance-allowance/update"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "COLLATERAL",
			"signature_type": strconv.Itoa(int(c.auth.sigType)),
		}).
		Get(path)
	if err != nil {
		return fmt.Errorf("update balance allowance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return apiErr("update balance allowance", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetBalance returns the collateral balance in dollars.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	ba, err := c.GetBalanceAllowance(ctx)
	if err != nil {
		return 0, err
	}
	return ba.USD(), nil
}

// UpdateTokenAllowance refreshes the CLOB's view of one conditional token.
// Required before selling tokens acquired outside the current session.
func (c *Client) UpdateTokenAllowance(ctx context.Context, tokenID string) error {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return err
	}

	path := "/balance-allowance/update"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "CONDITIONAL",
			"token_id":       tokenID,
			"signature_type": strconv.Itoa(int(c.auth.sigType)),
		}).
		Get(path)
	if err != nil {
		return fmt.Errorf("update token allowance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return apiErr("update token allowance", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetTokenBalance returns the sellable share count of one conditional token.
func (c *Client) GetTokenBalance(ctx context.Context, tokenID string) (float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}

	path := "/balance-allowance"
	headers, err := c.auth.L2Headers("GET", path, "")
	if err != nil {
		return 0, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.BalanceAllowance
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "CONDITIONAL",
			"token_id":       tokenID,
			"signature_type": strconv.Itoa(int(c.auth.sigType)),
		}).
		SetResult(&result).
		Get(path)
	if err != nil {
		return 0, fmt.Errorf("token balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, apiErr("token balance", resp.StatusCode(), resp.String())
	}
	// Conditional token balances use the same 1e6 scaling as collateral.
	return result.USD(), nil
}
