package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// ParseAmount converts a decimal string such as "10000" or "12.35" into
// int64 minor units with the given number of decimals. It rejects values
// carrying more precision than decimals allows.
func ParseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q must have at most %d decimal places", s, decimals)
	}
	if scaled.Abs().GreaterThan(maxAmount) {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders minor units as a decimal string.
func FormatAmount(minor int64, decimals int32) string {
	return decimal.New(minor, -decimals).StringFixed(decimals)
}
