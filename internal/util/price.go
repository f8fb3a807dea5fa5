// Package util provides fixed-point helpers for on-chain price and amount math.
package util

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FromRaw interprets raw as a fixed-point integer scaled by 10^decimals.
// A nil raw value is treated as zero.
func FromRaw(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ToRaw converts d back to a raw integer at the given scale, truncating any
// precision below 10^-decimals.
func ToRaw(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

// SafeDiv returns num/den, or zero when den is zero.
func SafeDiv(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// Percent returns part/whole * 100, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	return SafeDiv(part, whole).Mul(hundred)
}

// Clamp bounds x into [lo, hi].
func Clamp(x, lo, hi decimal.Decimal) decimal.Decimal {
	if x.LessThan(lo) {
		return lo
	}
	if x.GreaterThan(hi) {
		return hi
	}
	return x
}

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.01, 1.235 becomes 1.24.
func RoundToTick(x, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return x
	}
	return x.Div(tick).Round(0).Mul(tick)
}

// RoundPlaces rounds x to the given number of decimal places for display.
// A negative places value leaves x untouched.
func RoundPlaces(x decimal.Decimal, places int32) decimal.Decimal {
	if places < 0 {
		return x
	}
	return x.Round(places)
}
