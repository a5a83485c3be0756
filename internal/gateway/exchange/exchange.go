// Package exchange defines the order gateway boundary. The engine submits
// child orders through it and never sees broker wire formats; concrete
// backends live beside it under internal/gateway.
package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Request is one child order. Callers assign ClientOrderID so a retry after
// a timeout is idempotent-safe on the gateway side.
type Request struct {
	ClientOrderID string
	Symbol        string
	Side          string  // "BUY" or "SELL"
	Quantity      float64
	Price         float64 // 0 means market
}

// Fill reports the executed part of a request.
type Fill struct {
	FilledQuantity float64
	FillPrice      float64
}

// Gateway accepts child orders and reports fills or rejections. Submit may
// block on I/O; callers must pass a context with a deadline. A rejection is
// returned as *RejectionError, a timeout as the context error.
type Gateway interface {
	Submit(ctx context.Context, req Request) (Fill, error)
}

// RejectionError is a terminal refusal for one child order.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// IsRejection reports whether err is a gateway rejection (as opposed to a
// transient transport failure).
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// IsTimeout reports whether err is a deadline/cancellation from the
// transport. Timed-out submissions are "no fill this tick", not failures.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
