// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via PM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	API        APIConfig        `mapstructure:"api"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Arb        ArbConfig        `mapstructure:"arb"`
	Liquidity  LiquidityConfig  `mapstructure:"liquidity"`
	Flip       FlipConfig       `mapstructure:"flip"`
	Copy       CopyConfig       `mapstructure:"copy"`
	Synth      SynthConfig      `mapstructure:"synth"`
	Jitter     JitterConfig     `mapstructure:"jitter"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from
// signer when using a proxy wallet).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds service endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on
// startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataBaseURL  string `mapstructure:"data_base_url"`
	SynthBaseURL string `mapstructure:"synth_base_url"`
	SynthAPIKey  string `mapstructure:"synth_api_key"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// RiskConfig sets the hard limits enforced by the risk gate, in the order
// they are checked.
//
//   - StartingBalanceUSD: bankroll at launch, anchor for the drawdown floor.
//   - MaxDrawdownUSD: once balance+exposure falls to this floor, trading
//     halts permanently for the process lifetime.
//   - MaxTradeSizeUSD: per-trade notional cap (signals are downsized, not rejected).
//   - DailyVolumeCapUSD: total notional traded per UTC day.
//   - MaxOpenPositions: cap on distinct open token positions (BUY only).
//   - MaxPerMarketUSD: exposure cap per condition (BUY only).
//   - MaxPortfolioUSD: total exposure cap across all markets (BUY only).
type RiskConfig struct {
	StartingBalanceUSD float64 `mapstructure:"starting_balance_usd"`
	MaxDrawdownUSD     float64 `mapstructure:"max_drawdown_usd"`
	MaxTradeSizeUSD    float64 `mapstructure:"max_trade_size_usd"`
	DailyVolumeCapUSD  float64 `mapstructure:"daily_volume_cap_usd"`
	MaxOpenPositions   int     `mapstructure:"max_open_positions"`
	MaxPerMarketUSD    float64 `mapstructure:"max_per_market_usd"`
	MaxPortfolioUSD    float64 `mapstructure:"max_portfolio_usd"`
}

// ArbConfig tunes the YES+NO arbitrage scanner.
type ArbConfig struct {
	MinProfitCents float64       `mapstructure:"min_profit_cents"`
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
}

// LiquidityConfig tunes the reward-farming LP strategy.
type LiquidityConfig struct {
	OrderSizeUSD       float64       `mapstructure:"order_size_usd"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	MaxMarkets         int           `mapstructure:"max_markets"`
	MinDailyReward     float64       `mapstructure:"min_daily_reward"`
	MinEstimatedReward float64       `mapstructure:"min_estimated_reward"`
	MinBestBid         float64       `mapstructure:"min_best_bid"`
	StopLossPct        float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct      float64       `mapstructure:"take_profit_pct"`
	AutoClose          bool          `mapstructure:"auto_close"`
	CooldownPeriod     time.Duration `mapstructure:"cooldown_period"`
}

// FlipConfig tunes the LP flip (buy low, resell higher) strategy.
type FlipConfig struct {
	OrderSizeUSD float64       `mapstructure:"order_size_usd"`
	FlipSpread   float64       `mapstructure:"flip_spread"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxResting   time.Duration `mapstructure:"max_resting"`
	StopLossPct  float64       `mapstructure:"stop_loss_pct"`
}

// CopyConfig tunes the copy-trading strategy.
type CopyConfig struct {
	Traders      []string      `mapstructure:"traders"`
	ScaleFactor  float64       `mapstructure:"scale_factor"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MinTradeUSD  float64       `mapstructure:"min_trade_usd"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// SynthConfig tunes the forecast-edge strategy.
type SynthConfig struct {
	EdgeThreshold float64       `mapstructure:"edge_threshold"`
	Assets        []string      `mapstructure:"assets"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	KellyFraction float64       `mapstructure:"kelly_fraction"`
}

// JitterConfig randomizes sizes and timings to avoid machine-regular patterns.
type JitterConfig struct {
	TimingPct float64 `mapstructure:"timing_pct"`
	SizePct   float64 `mapstructure:"size_pct"`
}

// StrategiesConfig enables or disables individual strategies.
type StrategiesConfig struct {
	Arbitrage bool `mapstructure:"arbitrage"`
	Liquidity bool `mapstructure:"liquidity"`
	LPFlip    bool `mapstructure:"lp_flip"`
	Copy      bool `mapstructure:"copy"`
	SynthEdge bool `mapstructure:"synth_edge"`
}

// StoreConfig sets where the SQLite database lives.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	EventBuffer    int      `mapstructure:"event_buffer"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PM_PRIVATE_KEY, PM_API_KEY, PM_API_SECRET,
// PM_PASSPHRASE, PM_SYNTH_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("PM_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("PM_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("PM_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("PM_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if key := os.Getenv("PM_SYNTH_API_KEY"); key != "" {
		cfg.API.SynthAPIKey = key
	}
	if os.Getenv("PM_DRY_RUN") == "true" || os.Getenv("PM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dry_run", true)
	v.SetDefault("wallet.chain_id", 137)

	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.data_base_url", "https://data-api.polymarket.com")
	v.SetDefault("api.synth_base_url", "https://api.synthdata.co")

	v.SetDefault("risk.starting_balance_usd", 500.0)
	v.SetDefault("risk.max_drawdown_usd", 250.0)
	v.SetDefault("risk.max_trade_size_usd", 25.0)
	v.SetDefault("risk.daily_volume_cap_usd", 25000.0)
	v.SetDefault("risk.max_open_positions", 15)
	v.SetDefault("risk.max_per_market_usd", 100.0)
	v.SetDefault("risk.max_portfolio_usd", 400.0)

	v.SetDefault("arb.min_profit_cents", 0.5)
	v.SetDefault("arb.scan_interval", "15s")

	v.SetDefault("liquidity.order_size_usd", 25.0)
	v.SetDefault("liquidity.refresh_interval", "60s")
	v.SetDefault("liquidity.max_markets", 10)
	v.SetDefault("liquidity.min_daily_reward", 10.0)
	v.SetDefault("liquidity.min_estimated_reward", 0.5)
	v.SetDefault("liquidity.min_best_bid", 0.05)
	v.SetDefault("liquidity.stop_loss_pct", 0.05)
	v.SetDefault("liquidity.take_profit_pct", 0.50)
	v.SetDefault("liquidity.auto_close", true)
	v.SetDefault("liquidity.cooldown_period", "10m")

	v.SetDefault("flip.order_size_usd", 25.0)
	v.SetDefault("flip.flip_spread", 0.02)
	v.SetDefault("flip.scan_interval", "60s")
	v.SetDefault("flip.poll_interval", "10s")
	v.SetDefault("flip.max_resting", "1h")
	v.SetDefault("flip.stop_loss_pct", 0.25)

	v.SetDefault("copy.scale_factor", 0.1)
	v.SetDefault("copy.poll_interval", "30s")
	v.SetDefault("copy.min_trade_usd", 10.0)
	v.SetDefault("copy.max_delay", "5m")

	v.SetDefault("synth.edge_threshold", 0.05)
	v.SetDefault("synth.assets", []string{"BTC", "ETH"})
	v.SetDefault("synth.poll_interval", "300s")
	v.SetDefault("synth.kelly_fraction", 0.25)

	v.SetDefault("jitter.timing_pct", 0.15)
	v.SetDefault("jitter.size_pct", 0.10)

	v.SetDefault("strategies.arbitrage", true)
	v.SetDefault("strategies.liquidity", true)
	v.SetDefault("strategies.lp_flip", true)
	v.SetDefault("strategies.copy", false)
	v.SetDefault("strategies.synth_edge", false)

	v.SetDefault("store.db_path", "data/bot.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.port", 8090)
	v.SetDefault("dashboard.event_buffer", 512)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set PM_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Risk.StartingBalanceUSD <= 0 {
		return fmt.Errorf("risk.starting_balance_usd must be > 0")
	}
	if c.Risk.MaxDrawdownUSD <= 0 || c.Risk.MaxDrawdownUSD >= c.Risk.StartingBalanceUSD {
		return fmt.Errorf("risk.max_drawdown_usd must be in (0, starting_balance_usd)")
	}
	if c.Risk.MaxTradeSizeUSD <= 0 {
		return fmt.Errorf("risk.max_trade_size_usd must be > 0")
	}
	if c.Risk.DailyVolumeCapUSD <= 0 {
		return fmt.Errorf("risk.daily_volume_cap_usd must be > 0")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if c.Risk.MaxPerMarketUSD <= 0 || c.Risk.MaxPortfolioUSD <= 0 {
		return fmt.Errorf("risk per-market and portfolio caps must be > 0")
	}
	if c.Liquidity.StopLossPct <= 0 || c.Liquidity.StopLossPct >= 1 {
		return fmt.Errorf("liquidity.stop_loss_pct must be in (0, 1)")
	}
	if c.Liquidity.TakeProfitPct <= 0 {
		return fmt.Errorf("liquidity.take_profit_pct must be > 0")
	}
	if c.Flip.FlipSpread <= 0 {
		return fmt.Errorf("flip.flip_spread must be > 0")
	}
	if c.Synth.KellyFraction <= 0 || c.Synth.KellyFraction > 1 {
		return fmt.Errorf("synth.kelly_fraction must be in (0, 1]")
	}
	if c.Jitter.TimingPct < 0 || c.Jitter.TimingPct >= 1 || c.Jitter.SizePct < 0 || c.Jitter.SizePct >= 1 {
		return fmt.Errorf("jitter percentages must be in [0, 1)")
	}
	if c.Strategies.Copy && len(c.Copy.Traders) == 0 {
		return fmt.Errorf("copy.traders is required when strategies.copy is enabled")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	return nil
}
