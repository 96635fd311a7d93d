// Package config loads the engine's nested, multi-underlying configuration.
// The teacher bot (env.go) tunes a single symbol from flat .env keys; this
// engine configures many underlyings at once, so the shape outgrows flat
// env vars the way 0xtitan6-polymarket-mm's internal/config/config.go
// outgrew plain getenv calls — nested YAML via viper + mapstructure tags,
// with the teacher's env-override idiom kept for ops/secret knobs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OrderType mirrors the brokerage gateway's accepted order types.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LO"
	OrderTypeMarket OrderType = "MO"
)

// LiquidationCooldownMode selects how the post-liquidation buy-freeze is
// measured (spec §4.6 step 4).
type LiquidationCooldownMode string

const (
	CooldownModeMinutes        LiquidationCooldownMode = "minutes"
	CooldownModeMidnightEligible LiquidationCooldownMode = "midnightEligible"
)

// LiquidationCooldownConfig configures the post-liquidation buy freeze.
type LiquidationCooldownConfig struct {
	Mode    LiquidationCooldownMode `mapstructure:"mode"`
	Minutes int                     `mapstructure:"minutes"`
}

// VerificationRule configures one direction (buy or sell) of the delayed
// signal verifier (spec §4.5).
type VerificationRule struct {
	DelaySeconds int      `mapstructure:"delay_seconds"`
	Indicators   []string `mapstructure:"indicators"`
}

// VerificationConfig holds both directions' delayed-verification rules.
type VerificationConfig struct {
	Buy  VerificationRule `mapstructure:"buy"`
	Sell VerificationRule `mapstructure:"sell"`
}

// SignalConfigSet holds the four optional signal-config DSL strings (spec
// §4.4). Parsing happens lazily in internal/strategy; this package only
// carries the raw text so config loading never depends on the DSL grammar.
type SignalConfigSet struct {
	BuyCall  string `mapstructure:"buycall"`
	SellCall string `mapstructure:"sellcall"`
	BuyPut   string `mapstructure:"buyput"`
	SellPut  string `mapstructure:"sellput"`
}

// SwitchDistanceRange configures when the auto-symbol manager should
// rotate out of the current warrant (spec §4.10).
type SwitchDistanceRange struct {
	MinPct float64 `mapstructure:"min_pct"`
	MaxPct float64 `mapstructure:"max_pct"`
}

// AutoSearchConfig configures per-(underlying,direction) warrant selection.
type AutoSearchConfig struct {
	Enabled              bool                 `mapstructure:"enabled"`
	MinDistancePct       float64              `mapstructure:"min_distance_pct"`
	MinTurnoverPerMinute float64              `mapstructure:"min_turnover_per_minute"`
	ExpiryMinMonths      int                  `mapstructure:"expiry_min_months"`
	SwitchDistanceRange  *SwitchDistanceRange `mapstructure:"switch_distance_range"`
	MaxFailuresPerDay    int                  `mapstructure:"max_failures_per_day"`
}

// MonitorConfig configures one underlying (spec §3 "Underlying (Monitor)").
type MonitorConfig struct {
	OriginalIndex           int                        `mapstructure:"original_index"`
	MonitorSymbol           string                     `mapstructure:"monitor_symbol"`
	Market                  string                     `mapstructure:"market"`
	LongSymbol              string                     `mapstructure:"long_symbol"`
	ShortSymbol             string                     `mapstructure:"short_symbol"`
	AutoSearch              AutoSearchConfig           `mapstructure:"auto_search"`
	OrderOwnershipMapping   string                     `mapstructure:"order_ownership_mapping"`
	TargetNotional          float64                    `mapstructure:"target_notional"`
	MaxPositionNotional     float64                    `mapstructure:"max_position_notional"`
	MaxDailyLoss            float64                    `mapstructure:"max_daily_loss"`
	MaxUnrealizedLossPerSymbol float64                 `mapstructure:"max_unrealized_loss_per_symbol"`
	BuyIntervalSeconds      int                        `mapstructure:"buy_interval_seconds"`
	LiquidationCooldown     LiquidationCooldownConfig  `mapstructure:"liquidation_cooldown"`
	Verification            VerificationConfig         `mapstructure:"verification"`
	SignalConfig             SignalConfigSet            `mapstructure:"signal_config"`
	SmartCloseEnabled        bool                       `mapstructure:"smart_close_enabled"`
}

// BuyIntervalDuration is buy_interval_seconds as a time.Duration.
func (m MonitorConfig) BuyIntervalDuration() time.Duration {
	return time.Duration(m.BuyIntervalSeconds) * time.Second
}

// OpenProtectionConfig suppresses signal generation for N minutes from a
// session open (spec §4.9).
type OpenProtectionConfig struct {
	Morning   int `mapstructure:"morning_minutes"`
	Afternoon int `mapstructure:"afternoon_minutes"`
}

// GlobalConfig holds cross-underlying operational knobs (spec §6).
type GlobalConfig struct {
	DoomsdayProtection            bool                 `mapstructure:"doomsday_protection"`
	OpenProtection                OpenProtectionConfig `mapstructure:"open_protection"`
	TradingOrderType               OrderType            `mapstructure:"trading_order_type"`
	LiquidationOrderType            OrderType            `mapstructure:"liquidation_order_type"`
	BuyOrderTimeoutSeconds          int                  `mapstructure:"buy_order_timeout_seconds"`
	SellOrderTimeoutSeconds         int                  `mapstructure:"sell_order_timeout_seconds"`
	OrderMonitorPriceUpdateIntervalSeconds int          `mapstructure:"order_monitor_price_update_interval_seconds"`
	VerifiedSignalCooldownSeconds  int                  `mapstructure:"verified_signal_cooldown_seconds"`
	BullWarrantMinDistancePercent  float64              `mapstructure:"bull_warrant_min_distance_percent"`
	BearWarrantMaxDistancePercent  float64              `mapstructure:"bear_warrant_max_distance_percent"`
	LogRoot                        string               `mapstructure:"log_root"`
	Port                           int                  `mapstructure:"port"`
	LogLevel                       string               `mapstructure:"log_level"`
	LogFormat                      string               `mapstructure:"log_format"`
	Broker                         string               `mapstructure:"broker"`
	BridgeURL                      string               `mapstructure:"bridge_url"`
	TickIntervalSeconds            int                  `mapstructure:"tick_interval_seconds"`
}

// Config is the top-level configuration: one GlobalConfig plus one
// MonitorConfig per underlying.
type Config struct {
	Global   GlobalConfig    `mapstructure:"global"`
	Monitors []MonitorConfig `mapstructure:"monitors"`
}

func defaults() Config {
	return Config{
		Global: GlobalConfig{
			DoomsdayProtection:                     true,
			OpenProtection:                          OpenProtectionConfig{Morning: 2, Afternoon: 2},
			TradingOrderType:                        OrderTypeLimit,
			LiquidationOrderType:                     OrderTypeMarket,
			BuyOrderTimeoutSeconds:                   30,
			SellOrderTimeoutSeconds:                  30,
			OrderMonitorPriceUpdateIntervalSeconds:   5,
			VerifiedSignalCooldownSeconds:            10,
			BullWarrantMinDistancePercent:            0.5,
			BearWarrantMaxDistancePercent:             -0.5,
			LogRoot:                                  "./data",
			Port:                                     8080,
			LogLevel:                                 "info",
			LogFormat:                                "text",
			TickIntervalSeconds:                      1,
		},
	}
}

// Load reads path (YAML) and env-var overrides and returns a validated
// Config. An environment variable named ENGINE_<SECTION>_<KEY> (e.g.
// ENGINE_GLOBAL_PORT, ENGINE_GLOBAL_BROKER) overrides that key when the key
// is present in the file, much as the teacher's getEnv helpers let an
// operator tune .env without recompiling.
func Load(path string) (Config, error) {
	v := viper.New()
	cfg := defaults()

	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if len(cfg.Monitors) == 0 {
		return fmt.Errorf("no monitors configured")
	}
	seen := make(map[string]struct{}, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		if m.MonitorSymbol == "" {
			return fmt.Errorf("monitor at index %d missing monitor_symbol", m.OriginalIndex)
		}
		if _, dup := seen[m.MonitorSymbol]; dup {
			return fmt.Errorf("duplicate monitor_symbol %q", m.MonitorSymbol)
		}
		seen[m.MonitorSymbol] = struct{}{}
		if m.LiquidationCooldown.Mode == "" {
			return fmt.Errorf("%s: liquidation_cooldown.mode is required", m.MonitorSymbol)
		}
	}
	return nil
}
