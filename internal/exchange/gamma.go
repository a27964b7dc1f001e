package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"polymarket-bot/internal/config"
	"polymarket-bot/pkg/types"
)

// GammaMarket is the JSON shape returned by the Gamma API /markets listing.
type GammaMarket struct {
	ID                    string  `json:"id"`
	Question              string  `json:"question"`
	ConditionID           string  `json:"conditionId"`
	Slug                  string  `json:"slug"`
	Active                bool    `json:"active"`
	Closed                bool    `json:"closed"`
	AcceptingOrders       bool    `json:"acceptingOrders"`
	EnableOrderBook       bool    `json:"enableOrderBook"`
	EndDate               string  `json:"endDate"`
	Liquidity             string  `json:"liquidity"`
	Volume24hr            float64 `json:"volume24hr"`
	ClobTokenIds          string  `json:"clobTokenIds"`
	NegRisk               bool    `json:"negRisk"`
	Spread                float64 `json:"spread"`
	BestBid               float64 `json:"bestBid"`
	BestAsk               float64 `json:"bestAsk"`
	OrderPriceMinTickSize float64 `json:"orderPriceMinTickSize"`
	OrderMinSize          float64 `json:"orderMinSize"`
}

// TokenIDs parses the JSON-encoded clobTokenIds field. The first entry is
// the YES token, the second the NO token.
func (m GammaMarket) TokenIDs() (yes, no string, ok bool) {
	if m.ClobTokenIds == "" {
		return "", "", false
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &ids); err != nil || len(ids) < 2 {
		return "", "", false
	}
	return ids[0], ids[1], true
}

// TickSize maps Gamma's numeric tick to the TickSize enum.
func (m GammaMarket) TickSize() types.TickSize {
	switch m.OrderPriceMinTickSize {
	case 0.1:
		return types.Tick01
	case 0.001:
		return types.Tick0001
	case 0.0001:
		return types.Tick00001
	}
	return types.Tick001
}

// GammaClient reads market metadata from the Gamma API. Read-only and
// unauthenticated; a shared limiter keeps full-listing scans polite.
type GammaClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGammaClient creates a Gamma API client.
func NewGammaClient(cfg config.Config, logger *slog.Logger) *GammaClient {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &GammaClient{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  logger.With("component", "gamma"),
	}
}

// GetActiveMarkets fetches the full active, order-book-enabled market
// listing, paginating by offset.
func (g *GammaClient) GetActiveMarkets(ctx context.Context) ([]GammaMarket, error) {
	var all []GammaMarket
	offset := 0
	const limit = 100

	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var page []GammaMarket
		resp, err := g.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, apiErr("fetch markets", resp.StatusCode(), resp.String())
		}

		all = append(all, page...)
		if len(page) < limit {
			return all, nil
		}
		offset += limit
	}
}

// GetMarketByCondition fetches a single market's metadata.
func (g *GammaClient) GetMarketByCondition(ctx context.Context, conditionID string) (*GammaMarket, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var page []GammaMarket
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("condition_ids", conditionID).
		SetResult(&page).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", conditionID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("fetch market", resp.StatusCode(), resp.String())
	}
	if len(page) == 0 {
		return nil, fmt.Errorf("market %s not found", conditionID)
	}
	return &page[0], nil
}
