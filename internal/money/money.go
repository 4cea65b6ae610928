package money

import "github.com/shopspring/decimal"

// Round normalizes an amount to 2 decimal places, half-up. All order totals
// and gateway amounts go through this so float drift can never reach a
// stored or transmitted value.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Text renders an amount the way the gateway expects it: exact decimal
// string with two fractional digits.
func Text(d decimal.Decimal) string {
	return Round(d).StringFixed(2)
}

func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// Equal compares two amounts after normalization, so "49.97" and "49.970"
// reconcile as the same value.
func Equal(a, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}
