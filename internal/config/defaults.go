package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppLogPath  = "logs/carve.log"
	defaultAppHTTPAddr = ":8880"

	defaultEnginePortfolioSeconds   = 5
	defaultEngineRiskSeconds        = 1
	defaultEnginePerformanceSeconds = 3600
	defaultEngineSignalPollSeconds  = 60
	defaultEngineDegradedThreshold  = 3
	defaultEngineInitialEquity      = 100000

	defaultRiskMaxPositions    = 5
	defaultRiskMaxRiskPerTrade = 10000
	defaultRiskMaxDailyLoss    = 5000
	defaultRiskStopLossPct     = 0.05
	defaultRiskTakeProfitPct   = 0.10
	defaultRiskMaxDrawdownPct  = 0.15

	defaultExecTickSeconds          = 1
	defaultExecSubmitTimeoutSeconds = 5
	defaultExecFeedTimeoutSeconds   = 3
	defaultExecWindowSeconds        = 300
	defaultExecVWAPLookback         = 20
	defaultExecVWAPParticipation    = 0.10
	defaultExecPoVCap               = 0.30

	defaultMarketSource   = "binance"
	defaultMarketREST     = "https://fapi.binance.com"
	defaultMarketTimeout  = 10
	defaultMarketInterval = "1m"

	defaultGatewayMode = "sim"

	defaultRSIPeriod     = 14
	defaultRSIOversold   = 30
	defaultRSIOverbought = 70
	defaultRSILookback   = 100
	defaultStorePath     = "data/carve.db"
	defaultProfilesPath  = "configs/risk_profiles.yaml"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Gateway.applyDefaults(keys)
	c.Signals.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("engine.portfolio_interval_seconds", &e.PortfolioIntervalSeconds, defaultEnginePortfolioSeconds),
		intFieldDefault("engine.risk_interval_seconds", &e.RiskIntervalSeconds, defaultEngineRiskSeconds),
		intFieldDefault("engine.performance_interval_seconds", &e.PerformanceIntervalSeconds, defaultEnginePerformanceSeconds),
		intFieldDefault("engine.signal_poll_seconds", &e.SignalPollSeconds, defaultEngineSignalPollSeconds),
		intFieldDefault("engine.degraded_threshold", &e.DegradedThreshold, defaultEngineDegradedThreshold),
		floatFieldDefault("engine.initial_equity", &e.InitialEquity, defaultEngineInitialEquity),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("risk.profiles_path", &r.ProfilesPath, defaultProfilesPath),
		intFieldDefault("risk.max_positions", &r.MaxPositions, defaultRiskMaxPositions),
		floatFieldDefault("risk.max_risk_per_trade", &r.MaxRiskPerTrade, defaultRiskMaxRiskPerTrade),
		floatFieldDefault("risk.max_daily_loss", &r.MaxDailyLoss, defaultRiskMaxDailyLoss),
		floatFieldDefault("risk.stop_loss_pct", &r.StopLossPct, defaultRiskStopLossPct),
		floatFieldDefault("risk.take_profit_pct", &r.TakeProfitPct, defaultRiskTakeProfitPct),
		floatFieldDefault("risk.max_drawdown_pct", &r.MaxDrawdownPct, defaultRiskMaxDrawdownPct),
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("execution.tick_interval_seconds", &e.TickIntervalSeconds, defaultExecTickSeconds),
		intFieldDefault("execution.submit_timeout_seconds", &e.SubmitTimeoutSeconds, defaultExecSubmitTimeoutSeconds),
		intFieldDefault("execution.feed_timeout_seconds", &e.FeedTimeoutSeconds, defaultExecFeedTimeoutSeconds),
		intFieldDefault("execution.default_window_seconds", &e.DefaultWindowSeconds, defaultExecWindowSeconds),
		intFieldDefault("execution.vwap_lookback", &e.VWAPLookback, defaultExecVWAPLookback),
		floatFieldDefault("execution.vwap_participation", &e.VWAPParticipation, defaultExecVWAPParticipation),
		floatFieldDefault("execution.pov_participation_cap", &e.PoVParticipationCap, defaultExecPoVCap),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.binance.rest_base_url", &m.Binance.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.binance.http_timeout_seconds", &m.Binance.HTTPTimeoutSeconds, defaultMarketTimeout),
		stringFieldDefault("market.binance.interval", &m.Binance.Interval, defaultMarketInterval),
	)
}

func (g *GatewayConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("gateway.mode", &g.Mode, defaultGatewayMode),
	)
}

func (s *SignalsConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("signals.rsi.period", &s.RSI.Period, defaultRSIPeriod),
		floatFieldDefault("signals.rsi.oversold", &s.RSI.Oversold, defaultRSIOversold),
		floatFieldDefault("signals.rsi.overbought", &s.RSI.Overbought, defaultRSIOverbought),
		intFieldDefault("signals.rsi.lookback", &s.RSI.Lookback, defaultRSILookback),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
