// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value in the base currency (BRL) with full
// precision. Uses decimal.Decimal to avoid floating-point errors: the
// per-piece surcharge is a real-valued division and must not be rounded
// until final money output.
type Money = decimal.Decimal

// NewMoney creates a Money value from a float.
// WARNING: Use NewMoneyFromString for precise values.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f)
}

// NewMoneyFromInt creates a Money value from an integer piece count.
func NewMoneyFromInt(i int64) Money {
	return decimal.NewFromInt(i)
}

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Currency identifies the currency of a purchase line item.
// The subsystem supports the base currency and one foreign currency
// converted through a supplied rate.
type Currency string

const (
	// CurrencyBRL is the base currency; amounts pass through unconverted.
	CurrencyBRL Currency = "BRL"
	// CurrencyUSD is the foreign currency; amounts are multiplied by the
	// line item's conversion rate before allocation.
	CurrencyUSD Currency = "USD"
)

// IsValid checks that the currency is one of the supported values.
func (c Currency) IsValid() bool {
	return c == CurrencyBRL || c == CurrencyUSD
}

// IsBase reports whether amounts in this currency need no conversion.
func (c Currency) IsBase() bool {
	return c == CurrencyBRL
}
