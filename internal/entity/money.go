package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists ISO 4217 currencies without a minor unit. Everything else
// in this marketplace settles in hundredths.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func ValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Exponent is the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ToMajor converts minor units to an exact decimal in major units.
func ToMajor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// ToMinor converts a major-unit decimal to minor units. Sub-minor fractions
// are rejected rather than rounded.
func ToMinor(major decimal.Decimal, currency string) (int64, error) {
	shifted := major.Shift(Exponent(currency))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s %s has sub-minor precision", ErrInvalidAmount, major, currency)
	}
	return shifted.IntPart(), nil
}

// WithinTolerance reports whether observed differs from expected by at most
// the given fraction of expected.
func WithinTolerance(expected, observed int64, fraction decimal.Decimal) bool {
	diff := decimal.NewFromInt(expected - observed).Abs()
	limit := decimal.NewFromInt(expected).Abs().Mul(fraction)
	return diff.LessThanOrEqual(limit)
}
