// Package risk evaluates proposed signals and open positions against
// configured limits. Evaluation is a pure function of a state snapshot plus
// the limits, so it can be called speculatively and re-run on every tick.
package risk

import (
	"fmt"
	"sync"

	"carve/internal/signal"
)

// Limits is the risk configuration. Read-only at runtime; hot reloads swap
// the whole struct through Limiter.SetLimits.
type Limits struct {
	MaxPositions    int     `mapstructure:"max_positions" yaml:"max_positions"`
	MaxRiskPerTrade float64 `mapstructure:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss" yaml:"max_daily_loss"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct" yaml:"take_profit_pct"`
	MaxDrawdownPct  float64 `mapstructure:"max_drawdown_pct" yaml:"max_drawdown_pct"`
}

// State is the snapshot a check runs against. Callers assemble it from the
// ledger and session; the limiter never reads shared state itself.
type State struct {
	DailyPnL      float64
	OpenPositions int
	HoldsSymbol   bool
}

// Verdict is the structured result of a check. Rejections carry the specific
// limit breached; they never surface as errors.
type Verdict struct {
	Approved bool
	Reason   string
}

func approve() Verdict { return Verdict{Approved: true} }

func reject(format string, v ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, v...)}
}

// Limiter holds the active limits.
type Limiter struct {
	mu     sync.RWMutex
	limits Limits
}

func NewLimiter(limits Limits) *Limiter {
	return &Limiter{limits: limits}
}

// Limits returns the active limits.
func (l *Limiter) Limits() Limits {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits
}

// SetLimits swaps the active limits (profile hot reload).
func (l *Limiter) SetLimits(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
}

// Check gates a signal. Order matters and mirrors the ingestion contract:
// daily loss floor first, then position count for new positions, then
// per-trade notional.
func (l *Limiter) Check(sig signal.Signal, st State) Verdict {
	limits := l.Limits()

	if limits.MaxDailyLoss > 0 && st.DailyPnL <= -limits.MaxDailyLoss {
		return reject("daily loss limit reached: pnl=%.2f limit=%.2f", st.DailyPnL, limits.MaxDailyLoss)
	}
	opensNew := sig.Side == signal.SideBuy && !st.HoldsSymbol
	if opensNew && limits.MaxPositions > 0 && st.OpenPositions >= limits.MaxPositions {
		return reject("max positions reached: open=%d limit=%d", st.OpenPositions, limits.MaxPositions)
	}
	if limits.MaxRiskPerTrade > 0 && sig.Notional() > limits.MaxRiskPerTrade {
		return reject("trade risk too large: notional=%.2f limit=%.2f", sig.Notional(), limits.MaxRiskPerTrade)
	}
	return approve()
}
