// Package money provides currency-safe helpers over integer minor units.
// All transaction amounts are stored as signed int64 minor units; this
// package only converts at the display and parsing boundaries.
package money

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Format renders minor units as a localized currency string, e.g. -450 -> "-$4.50".
func Format(amountMinor int64, currencyCode string) string {
	return money.New(amountMinor, currencyCode).Display()
}

// MinorUnits converts a decimal major-unit value to minor units for the
// given currency, rounding half away from zero.
func MinorUnits(amount decimal.Decimal, currencyCode string) int64 {
	fraction := 2
	if c := money.GetCurrency(currencyCode); c != nil {
		fraction = c.Fraction
	}
	multiplier := decimal.New(1, int32(fraction))
	return amount.Mul(multiplier).Round(0).IntPart()
}

// IsExpense reports whether an amount in minor units is an outflow.
func IsExpense(amountMinor int64) bool {
	return amountMinor < 0
}
