// Package trading provides exact arithmetic helpers for position and fill math.
// Inputs and outputs are float64; intermediate steps run on decimals so that
// repeated adds/reduces never accumulate binary rounding drift.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

var decimalEps = decimal.NewFromFloat(1e-9)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// WeightedAverage returns the quantity-weighted mean price after adding
// addQty units at addPrice to an existing baseQty units at basePrice.
func WeightedAverage(baseQty, basePrice, addQty, addPrice float64) float64 {
	qa := decFromFloat(baseQty)
	qb := decFromFloat(addQty)
	total := qa.Add(qb)
	if total.Cmp(decimal.Zero) <= 0 {
		return 0
	}
	notional := qa.Mul(decFromFloat(basePrice)).Add(qb.Mul(decFromFloat(addPrice)))
	return decToFloat(notional.Div(total))
}

// AverageAfterRemoval returns the weighted mean price left after backing
// removeQty units at removePrice out of totalQty units averaging avgPrice.
// It is the inverse of WeightedAverage; removal order does not matter. A
// removal that empties the position returns 0.
func AverageAfterRemoval(totalQty, avgPrice, removeQty, removePrice float64) float64 {
	qt := decFromFloat(totalQty)
	qr := decFromFloat(removeQty)
	remaining := qt.Sub(qr)
	if remaining.Cmp(decimalEps) <= 0 {
		return 0
	}
	notional := qt.Mul(decFromFloat(avgPrice)).Sub(qr.Mul(decFromFloat(removePrice)))
	return decToFloat(notional.Div(remaining))
}

// RealizedPnL computes (exitPrice - entryPrice) * qty.
func RealizedPnL(entryPrice, exitPrice, qty float64) float64 {
	diff := decFromFloat(exitPrice).Sub(decFromFloat(entryPrice))
	return decToFloat(diff.Mul(decFromFloat(qty)))
}

// UnrealizedPnL computes (currentPrice - entryPrice) * qty.
func UnrealizedPnL(entryPrice, currentPrice, qty float64) float64 {
	return RealizedPnL(entryPrice, currentPrice, qty)
}

// Notional returns qty * price.
func Notional(qty, price float64) float64 {
	return decToFloat(decFromFloat(qty).Mul(decFromFloat(price)))
}

// IsZero reports whether val is zero within epsilon.
func IsZero(val float64) bool {
	return decFromFloat(val).Abs().Cmp(decimalEps) < 0
}

// CalcCloseAmount computes the close amount for a ratio of the position.
// When isInitialRatio is set the ratio applies to the initial size; the
// result is always capped at the current amount.
func CalcCloseAmount(currentAmount, initialAmount, ratio float64, isInitialRatio bool) float64 {
	if currentAmount <= 0 || ratio <= 0 {
		return 0
	}
	base := currentAmount
	if isInitialRatio && initialAmount > 0 {
		base = initialAmount
	}
	amount := decToFloat(decFromFloat(base).Mul(decFromFloat(ratio)))
	if amount > currentAmount {
		amount = currentAmount
	}
	return amount
}
