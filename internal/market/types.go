// Package market defines the market data boundary consumed by the engine.
// Implementations live under internal/gateway; the core only reads.
package market

import (
	"context"
	"time"
)

// Bar is one aggregated price/volume sample for a symbol.
type Bar struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Quote is the latest observation for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feed supplies price/volume samples. Latest returns the most recent quote,
// History returns up to lookback closed bars, oldest first. Both may block on
// I/O; callers pass a context with a deadline.
type Feed interface {
	Latest(ctx context.Context, symbol string) (Quote, error)
	History(ctx context.Context, symbol string, lookback int) ([]Bar, error)
}

// TypicalPrice returns (high+low+close)/3 for a bar.
func TypicalPrice(b Bar) float64 {
	return (b.High + b.Low + b.Close) / 3
}
