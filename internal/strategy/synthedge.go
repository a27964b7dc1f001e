package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"polymarket-bot/internal/bus"
	"polymarket-bot/internal/config"
	"polymarket-bot/internal/jitter"
	"polymarket-bot/internal/quant"
	"polymarket-bot/pkg/types"
)

// forecaster fetches hourly up/down probability forecasts.
type forecaster interface {
	GetHourlyUpDown(ctx context.Context, asset string) (*types.SynthForecast, error)
}

// signalLog records every forecast evaluation for post-hoc analysis.
type signalLog interface {
	InsertSynthSignal(ctx context.Context, f types.SynthForecast, action string, kellySize float64) error
}

// SynthEdge trades the divergence between an external probability model
// and the market's implied probability on hourly crypto up/down markets.
// A positive edge (model above market) buys the UP token, negative buys
// DOWN. Sizing is fractional Kelly on the absolute edge, capped at the
// per-trade limit. Every evaluation is logged, including skips, so the
// model's calibration can be audited later.
type SynthEdge struct {
	cfg       config.SynthConfig
	startBal  float64
	maxTrade  float64
	forecasts forecaster
	signals   signalLog
	trader    trader
	bus       *bus.Bus
	interval  time.Duration
	logger    *slog.Logger
}

// NewSynthEdge creates the forecast-edge strategy.
func NewSynthEdge(cfg config.Config, forecasts forecaster, signals signalLog,
	t trader, b *bus.Bus, logger *slog.Logger) *SynthEdge {
	return &SynthEdge{
		cfg:       cfg.Synth,
		startBal:  cfg.Risk.StartingBalanceUSD,
		maxTrade:  cfg.Risk.MaxTradeSizeUSD,
		forecasts: forecasts,
		signals:   signals,
		trader:    t,
		bus:       b,
		interval:  jitter.Interval(cfg.Synth.PollInterval, cfg.Jitter.TimingPct),
		logger:    logger.With("component", "synth"),
	}
}

func (s *SynthEdge) Name() string { return "synth_edge" }

func (s *SynthEdge) Run(ctx context.Context) {
	loopEvery(ctx, s.interval, func(ctx context.Context) {
		sigs := s.Scan(ctx)
		if len(sigs) > 0 {
			s.trader.ExecuteBatch(ctx, sigs)
		}
	})
}

func (s *SynthEdge) Shutdown(ctx context.Context) {}

// Scan evaluates each configured asset and returns GTC BUY signals for
// every forecast whose edge clears the threshold.
func (s *SynthEdge) Scan(ctx context.Context) []types.Signal {
	var signals []types.Signal

	for _, asset := range s.cfg.Assets {
		forecast, err := s.forecasts.GetHourlyUpDown(ctx, asset)
		if err != nil {
			scanErr(s.bus, s.logger, s.Name(), fmt.Errorf("%s forecast: %w", asset, err))
			continue
		}

		edge := forecast.Edge
		absEdge := math.Abs(edge)
		if absEdge < s.cfg.EdgeThreshold {
			s.logSignal(ctx, *forecast, "skip", 0)
			continue
		}

		var tokenID string
		var price float64
		var reason string
		if edge > 0 {
			tokenID = forecast.UpTokenID
			price = forecast.PolyProbUp
			reason = fmt.Sprintf("synth UP edge=%+.4f", edge)
		} else {
			tokenID = forecast.DownTokenID
			price = 1.0 - forecast.PolyProbUp
			reason = fmt.Sprintf("synth DOWN edge=%+.4f", absEdge)
		}
		if tokenID == "" || price <= 0 || price >= 1 {
			s.logSignal(ctx, *forecast, "invalid", 0)
			continue
		}

		kellyFrac := quant.Kelly(absEdge, price, s.cfg.KellyFraction)
		sizeUSD := quant.Clamp(kellyFrac*s.startBal, 0, s.maxTrade)
		if sizeUSD <= 0 {
			s.logSignal(ctx, *forecast, "kelly_zero", 0)
			continue
		}

		signals = append(signals, types.Signal{
			Strategy:       types.StrategySynthEdge,
			ConditionID:    fmt.Sprintf("synth_%s", strings.ToLower(asset)),
			TokenID:        tokenID,
			MarketQuestion: fmt.Sprintf("%s price movement", forecast.Asset),
			Side:           types.BUY,
			Price:          price,
			Size:           sizeUSD / price,
			OrderType:      types.OrderTypeGTC,
			Edge:           absEdge,
			Reason:         reason,
		})

		s.bus.Publish(bus.SynthSignal, map[string]any{
			"asset":      forecast.Asset,
			"edge":       edge,
			"synth_prob": forecast.ProbUp,
			"poly_prob":  forecast.PolyProbUp,
			"kelly_usd":  sizeUSD,
		})
		s.logSignal(ctx, *forecast, "trade", sizeUSD)
		s.logger.Info("forecast edge",
			"asset", forecast.Asset, "edge", edge, "kelly_usd", sizeUSD)
	}
	return signals
}

func (s *SynthEdge) logSignal(ctx context.Context, f types.SynthForecast, action string, kellyUSD float64) {
	if err := s.signals.InsertSynthSignal(ctx, f, action, kellyUSD); err != nil {
		s.logger.Warn("synth signal log failed", "asset", f.Asset, "error", err)
	}
}
