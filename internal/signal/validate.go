package signal

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed signal field. It never crosses the
// processor boundary; invalid signals are dropped and logged.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Validate performs the structural checks from the ingestion contract:
// non-empty symbol, known side, positive quantity and price, confidence
// within [0,1]. First violation wins.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return &ValidationError{Field: "symbol", Value: s.Symbol, Message: "must not be empty"}
	}
	if !s.Side.Valid() {
		return &ValidationError{Field: "side", Value: s.Side, Message: "must be BUY, SELL or HOLD"}
	}
	if s.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Value: s.Quantity, Message: "must be > 0"}
	}
	if s.Price <= 0 {
		return &ValidationError{Field: "price", Value: s.Price, Message: "must be > 0"}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return &ValidationError{Field: "confidence", Value: s.Confidence, Message: "must be within [0,1]"}
	}
	return nil
}
