/*
Package generic provides the domain-agnostic primitives of the allocation engine.

PURPOSE:
  This package contains the money, month and allocation primitives shared by
  the kafala domain, the stores and the API. Nothing in here knows about
  sponsors or orphans: it only knows how to divide money exactly and how to
  pour an amount into a list of obligations oldest-first.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, always rounded to the smallest currency unit
  - DivideMoney: the single division point (round half-up, 2 places)
  - SplitEvenly: headcount split whose parts sum exactly to the input

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. One rounding rule: half-up to CurrencyScale, applied at every division
  3. Conservation: splits never create or lose a cent

USAGE:
  share := generic.DivideMoney(pledge, activeCount)   // 600 / 2 = 300.00
  parts := generic.SplitEvenly(generic.Money(200), 3) // 66.67, 66.67, 66.66

SEE ALSO:
  - fifo.go: Oldest-first application of an amount to obligations
  - time.go: Month arithmetic
  - errors.go: Error taxonomy
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// CurrencyScale is the number of decimal places of the smallest currency unit.
const CurrencyScale int32 = 2

// Money builds a decimal amount from an integer number of currency units.
func Money(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}

// MustParseMoney parses a decimal string, returning zero on malformed input.
// Only used for values the store wrote itself.
func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds half-up (away from zero) to CurrencyScale.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyScale)
}

// IsWholeUnits reports whether d is a whole number of currency units
// ("100.50" and "100.500" are, "100.005" is not).
func IsWholeUnits(d decimal.Decimal) bool {
	return d.Equal(RoundMoney(d))
}

// CheckAmount validates a payment-side amount: positive and in whole
// currency units.
func CheckAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !IsWholeUnits(d) {
		return ErrSubUnitAmount
	}
	return nil
}

// DivideMoney divides amount by n and rounds to the currency unit.
// n <= 0 returns the amount unchanged: callers that need a divide-by-zero
// fallback rely on that.
func DivideMoney(amount decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return RoundMoney(amount)
	}
	return RoundMoney(amount.Div(decimal.NewFromInt(int64(n))))
}

// SplitEvenly divides amount into n equal parts rounded to the currency unit.
// The last part absorbs the rounding residue so the parts always sum to the
// input exactly. No part is ever negative, even for sub-cent inputs.
func SplitEvenly(amount decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	share := DivideMoney(amount, n)
	parts := make([]decimal.Decimal, n)
	remaining := amount
	for i := 0; i < n-1; i++ {
		parts[i] = decimal.Min(share, MaxZero(remaining))
		remaining = remaining.Sub(parts[i])
	}
	parts[n-1] = remaining
	return parts
}

// SumMoney adds up a list of amounts.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MaxZero clamps negative amounts to zero.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Percent returns part/whole*100 rounded to two places, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(2)
}
