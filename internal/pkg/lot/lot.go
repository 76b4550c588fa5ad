// Package lot quantizes quantities and prices onto exchange step lattices.
package lot

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Round snaps v to the nearest multiple of step. Halves round away from zero.
func Round(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Round(0).Mul(step)
}

// Floor snaps v down to a multiple of step.
func Floor(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// Ceil snaps v up to a multiple of step.
func Ceil(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// Places returns the number of decimal places a step carries, ignoring
// trailing zeros ("0.00100000" -> 3).
func Places(step decimal.Decimal) int32 {
	s := step.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// Format renders v with exactly the precision of step, as the exchange
// expects in quantity and price parameters.
func Format(v, step decimal.Decimal) string {
	if step.Sign() <= 0 {
		return v.String()
	}
	return v.StringFixed(Places(step))
}
