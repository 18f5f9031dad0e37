// Package fees computes the charge applied to wallet operations. Rules are
// configured per operation: a percentage of the amount plus a fixed part,
// clamped to an optional minimum and maximum.
package fees

import (
	"github.com/sahelpay/sahelpay/internal/domain"
	"github.com/shopspring/decimal"
)

// Rule describes the fee for one operation kind. Percent is expressed in
// percentage points (1.5 means 1.5%). Zero Max means no cap.
type Rule struct {
	Percent decimal.Decimal
	Fixed   decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// Apply returns the fee for amount under this rule, rounded to 2 decimal
// places.
func (r Rule) Apply(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(r.Percent).Div(decimal.NewFromInt(100)).Add(r.Fixed)
	if fee.LessThan(r.Min) {
		fee = r.Min
	}
	if r.Max.IsPositive() && fee.GreaterThan(r.Max) {
		fee = r.Max
	}
	return fee.Round(2)
}

// Schedule maps operation kinds to fee rules. Operations without a rule are
// free.
type Schedule struct {
	rules map[string]Rule
}

// NewSchedule builds a schedule from configured rules.
func NewSchedule(rules map[string]Rule) *Schedule {
	cp := make(map[string]Rule, len(rules))
	for op, r := range rules {
		cp[op] = r
	}
	return &Schedule{rules: cp}
}

// DefaultSchedule returns the fee schedule applied when none is configured:
// 1% on transfers with a 1 MRU floor, 0.5% capped at 50 MRU on cash-outs,
// everything else free.
func DefaultSchedule() *Schedule {
	return NewSchedule(map[string]Rule{
		domain.FeeOpTransfer: {
			Percent: decimal.NewFromInt(1),
			Min:     decimal.NewFromInt(1),
		},
		domain.FeeOpCashOut: {
			Percent: decimal.RequireFromString("0.5"),
			Max:     decimal.NewFromInt(50),
		},
	})
}

// For returns the fee for the given operation and amount.
func (s *Schedule) For(operation string, amount decimal.Decimal) decimal.Decimal {
	r, ok := s.rules[operation]
	if !ok {
		return decimal.Zero
	}
	return r.Apply(amount)
}
