// Package config loads the YAML configuration tree. Files may pull in
// shared fragments through an `include` list; later files win on conflict.
package config

import "strings"

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Market    MarketConfig    `mapstructure:"market"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Signals   SignalsConfig   `mapstructure:"signals"`
	Store     StoreConfig     `mapstructure:"store"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type EngineConfig struct {
	PortfolioIntervalSeconds   int     `mapstructure:"portfolio_interval_seconds"`
	RiskIntervalSeconds        int     `mapstructure:"risk_interval_seconds"`
	PerformanceIntervalSeconds int     `mapstructure:"performance_interval_seconds"`
	SignalPollSeconds          int     `mapstructure:"signal_poll_seconds"`
	DegradedThreshold          int     `mapstructure:"degraded_threshold"`
	InitialEquity              float64 `mapstructure:"initial_equity"`
}

type RiskConfig struct {
	// Profile selects a named profile from ProfilesPath; inline fields
	// below override whatever the profile carries.
	Profile         string  `mapstructure:"profile"`
	ProfilesPath    string  `mapstructure:"profiles_path"`
	MaxPositions    int     `mapstructure:"max_positions"`
	MaxRiskPerTrade float64 `mapstructure:"max_risk_per_trade"`
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`
	MaxDrawdownPct  float64 `mapstructure:"max_drawdown_pct"`
}

type ExecutionConfig struct {
	TickIntervalSeconds  int     `mapstructure:"tick_interval_seconds"`
	SubmitTimeoutSeconds int     `mapstructure:"submit_timeout_seconds"`
	FeedTimeoutSeconds   int     `mapstructure:"feed_timeout_seconds"`
	DefaultWindowSeconds int     `mapstructure:"default_window_seconds"`
	VWAPLookback         int     `mapstructure:"vwap_lookback"`
	VWAPParticipation    float64 `mapstructure:"vwap_participation"`
	PoVParticipationCap  float64 `mapstructure:"pov_participation_cap"`
}

type MarketConfig struct {
	Source  string              `mapstructure:"source"`
	Binance BinanceMarketConfig `mapstructure:"binance"`
}

type BinanceMarketConfig struct {
	RESTBaseURL        string `mapstructure:"rest_base_url"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds"`
	Interval           string `mapstructure:"interval"`
	ProxyEnabled       bool   `mapstructure:"proxy_enabled"`
	ProxyURL           string `mapstructure:"proxy_url"`
}

type GatewayConfig struct {
	Mode string           `mapstructure:"mode"`
	Sim  SimGatewayConfig `mapstructure:"sim"`
}

type SimGatewayConfig struct {
	Slippage     float64 `mapstructure:"slippage"`
	MaxLiquidity float64 `mapstructure:"max_liquidity"`
	LatencyMs    int     `mapstructure:"latency_ms"`
}

type SignalsConfig struct {
	RSI RSISignalConfig `mapstructure:"rsi"`
}

type RSISignalConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Symbols       []string `mapstructure:"symbols"`
	Period        int      `mapstructure:"period"`
	Oversold      float64  `mapstructure:"oversold"`
	Overbought    float64  `mapstructure:"overbought"`
	Quantity      float64  `mapstructure:"quantity"`
	Lookback      int      `mapstructure:"lookback"`
	Algorithm     string   `mapstructure:"algorithm"`
	WindowSeconds int      `mapstructure:"window_seconds"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// keySet tracks which config paths were explicitly set in the files, so
// defaults never clobber an intentional zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
