package util

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        string
		tick     string
		expected string
	}{
		{
			name:     "basic rounding down",
			x:        "1.2345",
			tick:     "0.01",
			expected: "1.23",
		},
		{
			name:     "tie rounds away from zero",
			x:        "1.235",
			tick:     "0.01",
			expected: "1.24",
		},
		{
			name:     "negative tie rounds away from zero",
			x:        "-1.235",
			tick:     "0.01",
			expected: "-1.24",
		},
		{
			name:     "larger tick size",
			x:        "1.27",
			tick:     "0.05",
			expected: "1.25",
		},
		{
			name:     "exact multiple",
			x:        "1.25",
			tick:     "0.05",
			expected: "1.25",
		},
		{
			name:     "zero tick returns input",
			x:        "1.2345",
			tick:     "0",
			expected: "1.2345",
		},
		{
			name:     "negative tick returns input",
			x:        "1.2345",
			tick:     "-0.01",
			expected: "1.2345",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToTick(d(tt.x), d(tt.tick))
			if !got.Equal(d(tt.expected)) {
				t.Errorf("RoundToTick(%s, %s) = %s, want %s", tt.x, tt.tick, got, tt.expected)
			}
		})
	}
}

func TestFromRaw(t *testing.T) {
	raw, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := FromRaw(raw, 18); !got.Equal(d("1.5")) {
		t.Errorf("FromRaw 18 decimals = %s, want 1.5", got)
	}
	if got := FromRaw(big.NewInt(312345678901), 8); !got.Equal(d("3123.45678901")) {
		t.Errorf("FromRaw 8 decimals = %s", got)
	}
	if got := FromRaw(nil, 6); !got.IsZero() {
		t.Errorf("FromRaw(nil) = %s, want 0", got)
	}
}

func TestToRaw_RoundTrip(t *testing.T) {
	raw := big.NewInt(123456789)
	back := ToRaw(FromRaw(raw, 6), 6)
	if back.Cmp(raw) != 0 {
		t.Errorf("round trip = %s, want %s", back, raw)
	}
	// precision below the scale is truncated
	if got := ToRaw(d("1.23456789"), 2); got.Cmp(big.NewInt(123)) != 0 {
		t.Errorf("ToRaw truncation = %s, want 123", got)
	}
}

func TestSafeDiv(t *testing.T) {
	if got := SafeDiv(d("10"), decimal.Zero); !got.IsZero() {
		t.Errorf("SafeDiv by zero = %s, want 0", got)
	}
	if got := SafeDiv(d("10"), d("4")); !got.Equal(d("2.5")) {
		t.Errorf("SafeDiv = %s, want 2.5", got)
	}
}

func TestPercentAndClamp(t *testing.T) {
	if got := Percent(d("400"), d("1000")); !got.Equal(d("40")) {
		t.Errorf("Percent = %s, want 40", got)
	}
	if got := Percent(d("1"), decimal.Zero); !got.IsZero() {
		t.Errorf("Percent of zero whole = %s, want 0", got)
	}
	if got := Clamp(d("120"), decimal.Zero, d("100")); !got.Equal(d("100")) {
		t.Errorf("Clamp high = %s", got)
	}
	if got := Clamp(d("-3"), decimal.Zero, d("100")); !got.IsZero() {
		t.Errorf("Clamp low = %s", got)
	}
}

func TestRoundPlaces(t *testing.T) {
	if got := RoundPlaces(d("1.23456"), 2); !got.Equal(d("1.23")) {
		t.Errorf("RoundPlaces = %s", got)
	}
	if got := RoundPlaces(d("1.23456"), -1); !got.Equal(d("1.23456")) {
		t.Errorf("RoundPlaces negative = %s", got)
	}
}
