// Package greeks computes closed-form option sensitivities.
package greeks

import (
	"errors"
	"math"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidInput is returned when time to expiry, volatility, spot or strike
// is not strictly positive and finite.
var ErrInvalidInput = errors.New("greeks: invalid input")

const (
	daysPerYear = 365.0
	// RiskFreeRate is fixed at zero for vault option pricing.
	RiskFreeRate = 0.0
)

// Input holds the parameters of a single option.
type Input struct {
	Spot       float64
	Strike     float64
	Years      float64 // time to expiry
	Volatility float64 // annualised, as a decimal fraction (0.8 = 80%)
	Side       models.OptionSide
}

// Greeks contains option sensitivities for one option unit.
// Theta is per calendar day and vega per one volatility point.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Calculate evaluates the lognormal sensitivities with a zero risk-free rate.
func Calculate(in Input) (Greeks, error) {
	if !positiveFinite(in.Spot) || !positiveFinite(in.Strike) ||
		!positiveFinite(in.Years) || !positiveFinite(in.Volatility) {
		return Greeks{}, ErrInvalidInput
	}

	sqrtT := math.Sqrt(in.Years)
	volSqrtT := in.Volatility * sqrtT
	d1 := (math.Log(in.Spot/in.Strike) + (RiskFreeRate+0.5*in.Volatility*in.Volatility)*in.Years) / volSqrtT
	pdf := distuv.UnitNormal.Prob(d1)

	delta := distuv.UnitNormal.CDF(d1)
	if in.Side.IsPut() {
		delta -= 1
	}

	// With r = 0 the rho-dependent terms drop out and theta is side-independent.
	g := Greeks{
		Delta: delta,
		Gamma: pdf / (in.Spot * volSqrtT),
		Theta: -(in.Spot * pdf * in.Volatility) / (2 * sqrtT) / daysPerYear,
		Vega:  in.Spot * pdf * sqrtT / 100,
	}
	if !finite(g.Delta) || !finite(g.Gamma) || !finite(g.Theta) || !finite(g.Vega) {
		return Greeks{}, ErrInvalidInput
	}
	return g, nil
}

// Safe returns the Greeks for in, or zeroed Greeks when the input is out of
// range (expired option, missing volatility).
func Safe(in Input) Greeks {
	g, err := Calculate(in)
	if err != nil {
		return Greeks{}
	}
	return g
}

// YearsUntil returns the time from now to expiry in 365-day years.
// Past expiries return zero.
func YearsUntil(now, expiry time.Time) float64 {
	d := expiry.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Hours() / 24 / daysPerYear
}

func positiveFinite(x float64) bool {
	return x > 0 && finite(x)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
