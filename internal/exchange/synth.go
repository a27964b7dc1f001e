package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"polymarket-bot/internal/config"
	"polymarket-bot/pkg/types"
)

// SynthClient reads probability forecasts from the Synth API, which pairs
// its own model's P(up) with the matching Polymarket hourly market's
// implied probability.
type SynthClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSynthClient creates a Synth API client authenticated with a bearer key.
func NewSynthClient(cfg config.Config, logger *slog.Logger) *SynthClient {
	client := resty.New().
		SetBaseURL(cfg.API.SynthBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetHeader("Authorization", "Bearer "+cfg.API.SynthAPIKey)

	return &SynthClient{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(1), 2),
		logger:  logger.With("component", "synth"),
	}
}

// GetHourlyUpDown fetches the hourly up/down forecast for a crypto asset.
func (s *SynthClient) GetHourlyUpDown(ctx context.Context, asset string) (*types.SynthForecast, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw struct {
		SynthProbabilityUp      float64 `json:"synth_probability_up"`
		PolymarketProbabilityUp float64 `json:"polymarket_probability_up"`
		UpTokenID               string  `json:"up_token_id"`
		DownTokenID             string  `json:"down_token_id"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("asset", strings.ToUpper(asset)).
		SetResult(&raw).
		Get("/insights/polymarket/up-down/hourly")
	if err != nil {
		return nil, fmt.Errorf("synth hourly forecast: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiErr("synth hourly forecast", resp.StatusCode(), resp.String())
	}

	return &types.SynthForecast{
		Asset:       strings.ToUpper(asset),
		ProbUp:      raw.SynthProbabilityUp,
		PolyProbUp:  raw.PolymarketProbabilityUp,
		Edge:        raw.SynthProbabilityUp - raw.PolymarketProbabilityUp,
		UpTokenID:   raw.UpTokenID,
		DownTokenID: raw.DownTokenID,
		FetchedAt:   time.Now().UTC(),
	}, nil
}
