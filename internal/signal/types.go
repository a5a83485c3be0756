// Package signal defines the trading signal value type and its ingestion
// helpers. Signals are immutable value objects: every component receives its
// own copy and none of them share mutable state.
package signal

import (
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideHold:
		return true
	}
	return false
}

// Source identifies who produced a signal. Synthetic exits emitted by the
// risk monitors use SourceRisk and re-enter the pipeline like any other.
type Source string

const (
	SourceStrategy Source = "strategy"
	SourceML       Source = "ml"
	SourceManual   Source = "manual"
	SourceRisk     Source = "risk"
)

// Signal is a single buy/sell/hold intent. Consumed exactly once by the
// processor; the optional Algorithm hint routes it to the execution
// scheduler instead of the direct gateway path.
type Signal struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	Confidence float64        `json:"confidence"`
	Price      float64        `json:"price"`
	Quantity   float64        `json:"quantity"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     Source         `json:"source"`
	Algorithm  string         `json:"algorithm,omitempty"`
	Window     time.Duration  `json:"window,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// New builds a signal with a fresh ID and timestamp.
func New(symbol string, side Side, confidence, price, quantity float64, source Source) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Confidence: confidence,
		Price:      price,
		Quantity:   quantity,
		Timestamp:  time.Now().UTC(),
		Source:     source,
	}
}

// Notional returns quantity x price.
func (s Signal) Notional() float64 {
	return s.Quantity * s.Price
}
