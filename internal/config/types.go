package config

import "time"

// Config is the full declarative document: runtime knobs plus the
// account -> strategy -> instruments -> risk-limit mapping.
type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Broker   BrokerConfig    `mapstructure:"broker"`
	Market   MarketConfig    `mapstructure:"market"`
	Scan     ScanConfig      `mapstructure:"scan"`
	Notify   NotifyConfig    `mapstructure:"notify"`
	Store    StoreConfig     `mapstructure:"store"`
	Circuit  CircuitConfig   `mapstructure:"circuit"`
	Accounts []AccountConfig `mapstructure:"accounts"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
}

type BrokerConfig struct {
	Mode            string  `mapstructure:"mode"` // "paper"
	Timezone        string  `mapstructure:"timezone"`
	Currency        string  `mapstructure:"currency"`
	StartingBalance float64 `mapstructure:"starting_balance"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
}

type MarketConfig struct {
	Source      string `mapstructure:"source"`
	RESTBaseURL string `mapstructure:"rest_base_url"`
	Interval    string `mapstructure:"interval"`
	History     int    `mapstructure:"history"`
	MaxCached   int    `mapstructure:"max_cached"`
}

type ScanConfig struct {
	Interval       string   `mapstructure:"interval"`
	Offset         string   `mapstructure:"offset"`
	RunImmediately bool     `mapstructure:"run_immediately"`
	Slots          []string `mapstructure:"slots"` // "name=HH:MM"
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type CircuitConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// AccountConfig binds one trading account to one strategy, its instrument
// set and its risk limits. Immutable for the trading day once loaded;
// replaced wholesale on reload.
type AccountConfig struct {
	ID          string          `mapstructure:"id"`
	Enabled     bool            `mapstructure:"enabled"`
	Strategy    string          `mapstructure:"strategy"`
	Params      map[string]any  `mapstructure:"params"`
	Instruments []string        `mapstructure:"instruments"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Lifecycle   LifecycleConfig `mapstructure:"lifecycle"`
}

type RiskConfig struct {
	MaxRiskPerTrade    float64 `mapstructure:"max_risk_per_trade"`
	MaxPortfolioRisk   float64 `mapstructure:"max_portfolio_risk"`
	MaxOpenPositions   int     `mapstructure:"max_open_positions"`
	MaxTradesPerDay    int     `mapstructure:"max_trades_per_day"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
	MaxSpreadPct       float64 `mapstructure:"max_spread_pct"`
	MaxStopDistancePct float64 `mapstructure:"max_stop_distance_pct"`
	SessionStartHour   int     `mapstructure:"session_start_hour"`
	SessionEndHour     int     `mapstructure:"session_end_hour"`
}

type LifecycleConfig struct {
	BreakevenAtR   float64 `mapstructure:"breakeven_at_r"`
	PartialAtR     float64 `mapstructure:"partial_at_r"`
	PartialRatio   float64 `mapstructure:"partial_ratio"`
	TrailingAtR    float64 `mapstructure:"trailing_at_r"`
	TrailDistanceR float64 `mapstructure:"trail_distance_r"`
	MaxHoldMinutes int     `mapstructure:"max_hold_minutes"`
}

func (l LifecycleConfig) MaxHold() time.Duration {
	if l.MaxHoldMinutes <= 0 {
		return 0
	}
	return time.Duration(l.MaxHoldMinutes) * time.Minute
}

func (b BrokerConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}
