package utils

import (
	"errors"  // Sentinel errors
	"fmt"     // Error wrapping
	"strings" // Currency normalisation

	"github.com/shopspring/decimal" // Exact decimal arithmetic
)

var ErrInvalidAmount = errors.New("invalid amount")

// minorExponents lists currencies whose minor unit is not 1/100 of the major unit
var minorExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"XOF": 0,
	"XAF": 0,
	"BHD": 3,
	"KWD": 3,
}

// MinorExponent returns the number of decimal places of currency's minor unit
func MinorExponent(currency string) int32 {
	if exp, ok := minorExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ParseAmount converts a major-unit decimal string ("1500.50") into minor units.
// Amounts with more precision than the currency allows are rejected, never rounded.
func ParseAmount(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	minor := d.Shift(MinorExponent(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s has sub-minor precision", ErrInvalidAmount, s)
	}
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, s)
	}
	if minor.GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("%w: %s is too large", ErrInvalidAmount, s)
	}
	return minor.IntPart(), nil
}

// FormatMinor renders minor units as a major-unit string with the currency's precision
func FormatMinor(minor int64, currency string) string {
	exp := MinorExponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}
