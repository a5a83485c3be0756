package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Signals.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if r.MaxRiskPerTrade <= 0 {
		return fmt.Errorf("risk.max_risk_per_trade must be > 0")
	}
	if r.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0, 1)")
	}
	if r.TakeProfitPct <= 0 {
		return fmt.Errorf("risk.take_profit_pct must be > 0")
	}
	if r.MaxDrawdownPct <= 0 || r.MaxDrawdownPct >= 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 1)")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.VWAPParticipation <= 0 || e.VWAPParticipation > 1 {
		return fmt.Errorf("execution.vwap_participation must be in (0, 1]")
	}
	if e.PoVParticipationCap <= 0 || e.PoVParticipationCap > 1 {
		return fmt.Errorf("execution.pov_participation_cap must be in (0, 1]")
	}
	if e.VWAPLookback <= 0 {
		return fmt.Errorf("execution.vwap_lookback must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	source := strings.ToLower(strings.TrimSpace(m.Source))
	if source != "binance" {
		return fmt.Errorf("market.source only supports 'binance', got %s", m.Source)
	}
	if strings.TrimSpace(m.Binance.RESTBaseURL) == "" {
		return fmt.Errorf("market.binance.rest_base_url cannot be empty")
	}
	if m.Binance.ProxyEnabled && strings.TrimSpace(m.Binance.ProxyURL) == "" {
		return fmt.Errorf("market.binance proxy enabled but proxy_url is empty")
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	mode := strings.ToLower(strings.TrimSpace(g.Mode))
	if mode != "sim" {
		return fmt.Errorf("gateway.mode only supports 'sim', got %s", g.Mode)
	}
	if g.Sim.Slippage < 0 || g.Sim.Slippage >= 1 {
		return fmt.Errorf("gateway.sim.slippage must be in [0, 1)")
	}
	if g.Sim.MaxLiquidity < 0 {
		return fmt.Errorf("gateway.sim.max_liquidity must be >= 0")
	}
	return nil
}

func (s *SignalsConfig) validate() error {
	if !s.RSI.Enabled {
		return nil
	}
	if len(s.RSI.Symbols) == 0 {
		return fmt.Errorf("signals.rsi requires at least one symbol")
	}
	if s.RSI.Quantity <= 0 {
		return fmt.Errorf("signals.rsi.quantity must be > 0")
	}
	if s.RSI.Oversold >= s.RSI.Overbought {
		return fmt.Errorf("signals.rsi.oversold must be below overbought")
	}
	if s.RSI.Lookback <= s.RSI.Period {
		return fmt.Errorf("signals.rsi.lookback must exceed the period")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
