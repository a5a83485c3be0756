package risk

import (
	"carve/internal/ledger"
	"carve/internal/signal"

	"github.com/shopspring/decimal"
)

// ExitReason tags why a synthetic exit was emitted.
const (
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
	ExitReasonDrawdown   = "max_drawdown"
)

// EvaluatePositions checks open positions against stop-loss and take-profit
// thresholds and returns synthetic exit signals (source=risk) for every
// breach. The signals re-enter the processor exactly like external ones.
func (l *Limiter) EvaluatePositions(positions []ledger.Position) []signal.Signal {
	limits := l.Limits()
	var out []signal.Signal
	for _, pos := range positions {
		if pos.Quantity <= 0 || pos.AveragePrice <= 0 || pos.CurrentPrice <= 0 {
			continue
		}
		reason := exitReason(pos, limits)
		if reason == "" {
			continue
		}
		sig := signal.New(pos.Symbol, signal.SideSell, 1, pos.CurrentPrice, pos.Quantity, signal.SourceRisk)
		sig.Metadata = map[string]any{
			"reason":        reason,
			"average_price": pos.AveragePrice,
			"current_price": pos.CurrentPrice,
		}
		out = append(out, sig)
	}
	return out
}

func exitReason(pos ledger.Position, limits Limits) string {
	entry := decimal.NewFromFloat(pos.AveragePrice)
	curr := decimal.NewFromFloat(pos.CurrentPrice)
	change, _ := curr.Sub(entry).Div(entry).Float64()

	switch {
	case limits.StopLossPct > 0 && change <= -limits.StopLossPct:
		return ExitReasonStopLoss
	case limits.TakeProfitPct > 0 && change >= limits.TakeProfitPct:
		return ExitReasonTakeProfit
	}
	return ""
}

// DrawdownBreached reports whether the equity drawdown from its session peak
// exceeds the configured maximum.
func (l *Limiter) DrawdownBreached(peakEquity, equity float64) bool {
	limits := l.Limits()
	if limits.MaxDrawdownPct <= 0 || peakEquity <= 0 || equity >= peakEquity {
		return false
	}
	drawdown := (peakEquity - equity) / peakEquity
	return drawdown >= limits.MaxDrawdownPct
}
