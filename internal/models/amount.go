package models

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/eddiefleurent/ssov_engine/internal/util"
	"github.com/shopspring/decimal"
)

// Scales holds the fixed-point decimal counts used to read raw on-chain integers.
type Scales struct {
	Token        int32 `yaml:"token" json:"token"`                 // option and collateral token amounts
	Strike       int32 `yaml:"strike" json:"strike"`               // strike and settlement prices
	USD          int32 `yaml:"usd" json:"usd"`                     // quote-denominated ledger amounts
	ExchangeRate int32 `yaml:"exchange_rate" json:"exchange_rate"` // collateral exchange rate
	Volatility   int32 `yaml:"volatility" json:"volatility"`       // implied volatility, expressed in percent
}

// DefaultScales matches the vault contracts' precision constants.
var DefaultScales = Scales{
	Token:        18,
	Strike:       8,
	USD:          6,
	ExchangeRate: 8,
	Volatility:   0,
}

// Amount is a raw fixed-point integer together with its decimal scale.
// The scale travels with the value so that products of differently scaled
// quantities never lose precision.
type Amount struct {
	Raw      *big.Int
	Decimals int32
}

// NewAmount wraps raw at the given scale. A nil raw value is stored as zero.
func NewAmount(raw *big.Int, decimals int32) Amount {
	if raw == nil {
		raw = new(big.Int)
	}
	return Amount{Raw: raw, Decimals: decimals}
}

// AmountFromInt builds an Amount from a small integer raw value.
func AmountFromInt(raw int64, decimals int32) Amount {
	return Amount{Raw: big.NewInt(raw), Decimals: decimals}
}

// AmountFromDecimal scales d to a raw integer at the given decimals.
func AmountFromDecimal(d decimal.Decimal, decimals int32) Amount {
	return Amount{Raw: util.ToRaw(d, decimals), Decimals: decimals}
}

// ParseAmount parses a base-10 raw integer string, as returned by indexers.
func ParseAmount(s string, decimals int32) (Amount, error) {
	if s == "" {
		return NewAmount(nil, decimals), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid integer amount %q", s)
	}
	return Amount{Raw: v, Decimals: decimals}, nil
}

// Decimal returns the exact decimal value of the amount.
func (a Amount) Decimal() decimal.Decimal {
	return util.FromRaw(a.Raw, a.Decimals)
}

// IsZero reports whether the amount is zero or unset.
func (a Amount) IsZero() bool {
	return a.Raw == nil || a.Raw.Sign() == 0
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	if a.Raw == nil {
		return 0
	}
	return a.Raw.Sign()
}

// Add returns a+b when both share a scale; otherwise the sum is rescaled to
// the larger of the two scales.
func (a Amount) Add(b Amount) Amount {
	if a.Decimals == b.Decimals {
		return Amount{Raw: new(big.Int).Add(a.raw(), b.raw()), Decimals: a.Decimals}
	}
	dec := a.Decimals
	if b.Decimals > dec {
		dec = b.Decimals
	}
	return AmountFromDecimal(a.Decimal().Add(b.Decimal()), dec)
}

// Key returns a stable string form of the raw value, suitable for map keys.
func (a Amount) Key() string {
	return a.raw().String()
}

// String renders the decimal value.
func (a Amount) String() string {
	return a.Decimal().String()
}

func (a Amount) raw() *big.Int {
	if a.Raw == nil {
		return new(big.Int)
	}
	return a.Raw
}

type amountJSON struct {
	Raw      string `json:"raw"`
	Decimals int32  `json:"decimals"`
	Value    string `json:"value"`
}

// MarshalJSON encodes the raw integer as a string to avoid float truncation.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{
		Raw:      a.raw().String(),
		Decimals: a.Decimals,
		Value:    a.Decimal().String(),
	})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var v amountJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseAmount(v.Raw, v.Decimals)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
