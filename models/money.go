package models

import "github.com/shopspring/decimal"

// Money is an amount expressed in the currency's minor unit (cents for USD).
type Money int64

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String renders the amount with two decimals, e.g. "300.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MulRate multiplies m by rate and rounds half away from zero to the minor unit.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(rate).Round(0).IntPart())
}

// MoneyFromDecimal converts a major-unit amount (e.g. 12.345) to Money, rounding
// to the nearest minor unit.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(2).Round(0).IntPart())
}

// MinMoney returns the smaller of a and b.
func MinMoney(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}
