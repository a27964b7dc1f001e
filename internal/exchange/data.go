package exchange

import (
	"context"
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

// dataPosition is the wire shape of one Data API position entry.
type dataPosition struct {
	ProxyWallet string  `json:"proxyWallet"`
	Asset       string  `json:"asset"` // token ID
	ConditionID string  `json:"conditionId"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
	CurPrice    float64 `json:"curPrice"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
}

// Activity is one entry of a trader's public activity feed.
type Activity struct {
	Timestamp   int64   `json:"timestamp"` // unix seconds
	Type        string  `json:"type"`      // "TRADE", "REDEEM", ...
	Side        string  `json:"side"`      // "BUY" or "SELL"
	Asset       string  `json:"asset"`     // token ID
	ConditionID string  `json:"conditionId"`
	Size        float64 `json:"size"`
	UsdcSize    float64 `json:"usdcSize"`
	Price       float64 `json:"price"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
}

// Age returns how long ago the activity happened.
func (a Activity) Age() time.Duration {
	return time.Since(time.Unix(a.Timestamp, 0))
}

// DataClient reads wallet positions and activity from the Polymarket Data
// API. Used for copy-trading targets and for syncing our own inventory at
// startup.
type DataClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	address string // our own wallet, for GetOwnPositions
	logger  *slog.Logger
}

// NewDataClient creates a Data API client. ownAddress may be empty in
// dry-run mode.
func NewDataClient(cfg config.Config, ownAddress string, logger *slog.Logger) *DataClient {
	client := resty.New().
		SetBaseURL(cfg.API.DataBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second)

	return &DataClient{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		address: ownAddress,
		logger:  logger.With("component", "data-api"),
	}
}

// GetPositions fetches current positions for a wallet, normalized to the
// typed Position representation at this boundary.
func (d *DataClient) GetPositions(ctx context.Context, address string) ([]types.Position, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []dataPosition
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParam("user", address).
		SetResult(&raw).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("get positions", resp.StatusCode(), resp.String())
	}

	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		if p.Size <= 0 {
			continue
		}
		out = append(out, types.Position{
			ConditionID:   p.ConditionID,
			TokenID:       p.Asset,
			Outcome:       p.Outcome,
			Question:      p.Title,
			Size:          p.Size,
			AvgEntryPrice: p.AvgPrice,
			CurrentPrice:  p.CurPrice,
		})
	}
	return out, nil
}

// GetOwnPositions fetches positions for the configured wallet.
func (d *DataClient) GetOwnPositions(ctx context.Context) ([]types.Position, error) {
	if d.address == "" {
		return nil, nil
	}
	return d.GetPositions(ctx, d.address)
}

// GetActivity fetches a wallet's recent public activity, newest first.
func (d *DataClient) GetActivity(ctx context.Context, address string, limit int) ([]Activity, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out []Activity
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":  address,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get("/activity")
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("get activity", resp.StatusCode(), resp.String())
	}
	return out, nil
}
