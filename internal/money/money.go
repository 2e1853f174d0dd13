// Package money implements fixed-point arithmetic for the two currencies the exchange trades.
//
// Amounts are carried as int64 minor units. Rates are decimals; a rate only ever touches an amount
// inside a single multiplication that is rounded straight back to minor units.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	USD Currency = "USD"
	ARS Currency = "ARS"
)

// Base is the local currency, quoted in whole units.
const Base = ARS

// RateScale is the number of fractional digits kept on effective rates.
const RateScale int32 = 4

func (c Currency) Valid() bool {
	return c == USD || c == ARS
}

// Exponent is the number of decimal places of the currency's minor unit.
func (c Currency) Exponent() int32 {
	switch c {
	case USD:
		return 2
	default:
		return 0
	}
}

// ToDecimal converts minor units to a major-unit decimal, e.g. 12345 USD -> 123.45.
func ToDecimal(c Currency, minor int64) decimal.Decimal {
	return decimal.New(minor, -c.Exponent())
}

// FromDecimal converts a major-unit decimal to minor units, rounding half away from zero.
func FromDecimal(c Currency, v decimal.Decimal) int64 {
	return v.Shift(c.Exponent()).Round(0).IntPart()
}

// Parse reads a human amount such as "200.00" into minor units.
func Parse(c Currency, s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s amount %q: %w", c, s, err)
	}
	if !d.Equal(d.Round(c.Exponent())) {
		return 0, fmt.Errorf("%s amount %q has more than %d decimal places", c, s, c.Exponent())
	}
	return FromDecimal(c, d), nil
}

// Format renders minor units as a fixed-point string with the currency's precision.
func Format(c Currency, minor int64) string {
	return ToDecimal(c, minor).StringFixed(c.Exponent())
}

// RoundTo rounds a major-unit value to the atomic unit of the currency.
func RoundTo(c Currency, v decimal.Decimal) decimal.Decimal {
	return v.Round(c.Exponent())
}

// RoundBase rounds a major-unit value to the atomic unit of the local currency.
func RoundBase(v decimal.Decimal) decimal.Decimal {
	return RoundTo(Base, v)
}
