package signal

import (
	"context"
	"fmt"
	"strings"

	"carve/internal/market"

	talib "github.com/markcheno/go-talib"
)

// A Generator produces signals on demand. The engine polls it on its own
// cadence; tests inject fixed-output generators.
type Generator interface {
	Generate(ctx context.Context) ([]Signal, error)
}

// RSIConfig controls the RSI generator.
type RSIConfig struct {
	Symbols    []string
	Period     int
	Overbought float64
	Oversold   float64
	Lookback   int
	Quantity   float64
	Algorithm  string
}

// RSIGenerator emits BUY when RSI crosses into oversold territory and SELL
// when it crosses into overbought, one signal per symbol per poll at most.
// Output is a pure function of the fetched bars, so replaying the same
// history yields the same signals.
type RSIGenerator struct {
	feed       market.Feed
	symbols    []string
	period     int
	overbought float64
	oversold   float64
	lookback   int
	quantity   float64
	algorithm  string
}

func NewRSIGenerator(feed market.Feed, cfg RSIConfig) *RSIGenerator {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	if cfg.Lookback <= cfg.Period {
		cfg.Lookback = cfg.Period * 5
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = 1
	}
	return &RSIGenerator{
		feed:       feed,
		symbols:    cfg.Symbols,
		period:     cfg.Period,
		overbought: cfg.Overbought,
		oversold:   cfg.Oversold,
		lookback:   cfg.Lookback,
		quantity:   cfg.Quantity,
		algorithm:  strings.ToUpper(strings.TrimSpace(cfg.Algorithm)),
	}
}

func (g *RSIGenerator) Generate(ctx context.Context) ([]Signal, error) {
	if g.feed == nil {
		return nil, fmt.Errorf("rsi generator: no feed configured")
	}
	var out []Signal
	for _, symbol := range g.symbols {
		sig, ok, err := g.evaluate(ctx, symbol)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (g *RSIGenerator) evaluate(ctx context.Context, symbol string) (Signal, bool, error) {
	bars, err := g.feed.History(ctx, symbol, g.lookback)
	if err != nil {
		return Signal{}, false, fmt.Errorf("rsi %s: history fetch failed: %w", symbol, err)
	}
	if len(bars) < g.period+2 {
		return Signal{}, false, nil
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	series := talib.Rsi(closes, g.period)
	if len(series) < 2 {
		return Signal{}, false, nil
	}
	curr := series[len(series)-1]
	prev := series[len(series)-2]
	price := closes[len(closes)-1]

	var side Side
	var confidence float64
	switch {
	case curr <= g.oversold && prev > g.oversold:
		side = SideBuy
		confidence = clamp01((g.oversold - curr) / g.oversold)
	case curr >= g.overbought && prev < g.overbought:
		side = SideSell
		confidence = clamp01((curr - g.overbought) / (100 - g.overbought))
	default:
		return Signal{}, false, nil
	}
	if confidence < 0.05 {
		confidence = 0.05
	}

	sig := New(symbol, side, confidence, price, g.quantity, SourceStrategy)
	sig.Algorithm = g.algorithm
	sig.Metadata = map[string]any{
		"indicator": "rsi",
		"period":    g.period,
		"value":     curr,
	}
	return sig, true, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
