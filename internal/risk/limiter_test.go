package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"carve/internal/ledger"
	"carve/internal/signal"
)

func testLimits() Limits {
	return Limits{
		MaxPositions:    3,
		MaxRiskPerTrade: 10000,
		MaxDailyLoss:    5000,
		StopLossPct:     0.05,
		TakeProfitPct:   0.10,
		MaxDrawdownPct:  0.15,
	}
}

func buySignal(notionalQty, price float64) signal.Signal {
	return signal.New("ETHUSDT", signal.SideBuy, 0.9, price, notionalQty, signal.SourceStrategy)
}

func TestCheckOrderOfLimits(t *testing.T) {
	l := NewLimiter(testLimits())

	t.Run("daily loss floor rejects everything first", func(t *testing.T) {
		// Breaches daily loss AND max positions AND notional; the
		// verdict must name the loss limit.
		sig := buySignal(100, 1000)
		v := l.Check(sig, State{DailyPnL: -5000, OpenPositions: 10})
		assert.False(t, v.Approved)
		assert.Contains(t, v.Reason, "daily loss")
	})

	t.Run("position count only gates new buys", func(t *testing.T) {
		sig := buySignal(1, 100)
		v := l.Check(sig, State{OpenPositions: 3})
		assert.False(t, v.Approved)
		assert.Contains(t, v.Reason, "max positions")

		// Adding to a symbol we already hold is not a new position.
		v = l.Check(sig, State{OpenPositions: 3, HoldsSymbol: true})
		assert.True(t, v.Approved)

		// Sells never open positions.
		sell := signal.New("ETHUSDT", signal.SideSell, 0.9, 100, 1, signal.SourceStrategy)
		v = l.Check(sell, State{OpenPositions: 3, HoldsSymbol: true})
		assert.True(t, v.Approved)
	})

	t.Run("notional cap rejects last", func(t *testing.T) {
		sig := buySignal(11, 1000) // 11000 > 10000
		v := l.Check(sig, State{})
		assert.False(t, v.Approved)
		assert.Contains(t, v.Reason, "trade risk")

		sig = buySignal(10, 1000) // exactly at the limit passes
		v = l.Check(sig, State{})
		assert.True(t, v.Approved)
	})
}

func TestCheckZeroLimitsDisableChecks(t *testing.T) {
	l := NewLimiter(Limits{})
	sig := buySignal(1e9, 1e6)
	v := l.Check(sig, State{DailyPnL: -1e12, OpenPositions: 1000})
	assert.True(t, v.Approved)
}

func TestSetLimitsSwapsAtomically(t *testing.T) {
	l := NewLimiter(testLimits())
	sig := buySignal(11, 1000)
	assert.False(t, l.Check(sig, State{}).Approved)

	next := testLimits()
	next.MaxRiskPerTrade = 20000
	l.SetLimits(next)
	assert.True(t, l.Check(sig, State{}).Approved)
	assert.Equal(t, next, l.Limits())
}

func TestEvaluatePositions(t *testing.T) {
	l := NewLimiter(testLimits())

	positions := []ledger.Position{
		{Symbol: "STOPUSDT", Quantity: 2, AveragePrice: 100, CurrentPrice: 94},  // -6% <= -5%
		{Symbol: "PROFUSDT", Quantity: 3, AveragePrice: 100, CurrentPrice: 111}, // +11% >= +10%
		{Symbol: "FLATUSDT", Quantity: 1, AveragePrice: 100, CurrentPrice: 102}, // inside band
		{Symbol: "BADUSDT", Quantity: 1, AveragePrice: 0, CurrentPrice: 50},     // unusable marks
	}

	exits := l.EvaluatePositions(positions)
	assert.Len(t, exits, 2)

	bySymbol := map[string]signal.Signal{}
	for _, sig := range exits {
		bySymbol[sig.Symbol] = sig
	}

	stop := bySymbol["STOPUSDT"]
	assert.Equal(t, signal.SideSell, stop.Side)
	assert.Equal(t, signal.SourceRisk, stop.Source)
	assert.InDelta(t, 2, stop.Quantity, 1e-9)
	assert.InDelta(t, 94, stop.Price, 1e-9)
	assert.Equal(t, ExitReasonStopLoss, stop.Metadata["reason"])

	prof := bySymbol["PROFUSDT"]
	assert.Equal(t, ExitReasonTakeProfit, prof.Metadata["reason"])
	assert.InDelta(t, 3, prof.Quantity, 1e-9)
}

func TestEvaluatePositionsExactThresholds(t *testing.T) {
	l := NewLimiter(testLimits())

	exits := l.EvaluatePositions([]ledger.Position{
		{Symbol: "SLUSDT", Quantity: 1, AveragePrice: 100, CurrentPrice: 95},  // exactly -5%
		{Symbol: "TPUSDT", Quantity: 1, AveragePrice: 100, CurrentPrice: 110}, // exactly +10%
	})
	assert.Len(t, exits, 2)
}

func TestDrawdownBreached(t *testing.T) {
	l := NewLimiter(testLimits())

	assert.False(t, l.DrawdownBreached(100000, 90000))  // 10% < 15%
	assert.True(t, l.DrawdownBreached(100000, 85000))   // exactly 15%
	assert.True(t, l.DrawdownBreached(100000, 80000))   // 20%
	assert.False(t, l.DrawdownBreached(100000, 110000)) // above peak
	assert.False(t, l.DrawdownBreached(0, -100))        // no peak yet

	l.SetLimits(Limits{}) // disabled
	assert.False(t, l.DrawdownBreached(100000, 10000))
}
