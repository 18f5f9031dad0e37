package domain

import (
	"github.com/shopspring/decimal"
)

// Amounts are fixed-point decimals with two fractional digits (MRU cents).
// They are never represented as binary floats anywhere in the ledger.

// ParseAmount parses a caller-supplied amount string and normalizes it to
// two decimal places. Amounts with more precision than the currency supports
// are rejected rather than silently rounded.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ValidationErrorf("invalid amount %q", s)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, ValidationErrorf("amount %q has more than 2 decimal places", s)
	}
	return d.Round(2), nil
}

// FormatAmount renders an amount with exactly two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// WithinBounds reports whether min <= d <= max. A zero max means unbounded.
func WithinBounds(d, min, max decimal.Decimal) bool {
	if d.LessThan(min) {
		return false
	}
	if !max.IsZero() && d.GreaterThan(max) {
		return false
	}
	return true
}
