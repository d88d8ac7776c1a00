package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// FormatCents renders integer minor units as a two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmount parses a decimal currency string (e.g. "49.19") into cents.
// Amounts with more than two fractional digits are rounded half away from zero.
// Amounts whose cents do not fit in an int64 are rejected.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents := d.Shift(2).Round(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	return cents.IntPart(), nil
}
