// Package strikes builds per-strike liquidity and pricing rows for an epoch.
package strikes

import (
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/greeks"
	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/eddiefleurent/ssov_engine/internal/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
)

// Market is the vault-wide context shared by every strike of an epoch.
type Market struct {
	Vault common.Address
	Side  models.OptionSide
	Spot  models.Amount
	Epoch models.EpochSnapshot
	Now   time.Time
}

// StrikeInput is the raw per-strike chain state.
type StrikeInput struct {
	Strike     models.Amount
	Data       source.StrikeData
	Premium    models.Amount // per option, collateral token units
	Fee        models.Amount // per option, collateral token units
	Volatility models.Amount // implied volatility in percent
}

// Row is one display row of the strike chain. Premium, fee, cost and
// breakeven are in quote units; collateral figures in collateral units
// unless named otherwise.
type Row struct {
	Strike                   decimal.Decimal   `json:"strike"`
	Side                     models.OptionSide `json:"side"`
	TotalCollateral          decimal.Decimal   `json:"total_collateral"`
	ActiveCollateral         decimal.Decimal   `json:"active_collateral"`
	AvailableCollateral      decimal.Decimal   `json:"available_collateral"`
	TotalAvailableCollateral decimal.Decimal   `json:"total_available_collateral"` // underlying units
	Utilization              decimal.Decimal   `json:"utilization"`
	Premium                  decimal.Decimal   `json:"premium"`
	PurchaseFee              decimal.Decimal   `json:"purchase_fee"`
	TotalCost                decimal.Decimal   `json:"total_cost"`
	Breakeven                decimal.Decimal   `json:"breakeven"`
	TVL                      decimal.Decimal   `json:"tvl"`
	PremiumAPY               decimal.Decimal   `json:"premium_apy"`
	ImpliedVolatility        decimal.Decimal   `json:"implied_volatility"`
	Greeks                   greeks.Greeks     `json:"greeks"`
}

// BuildRow computes the row for one strike. It is pure; rounding to the
// configured display places happens only on the returned values.
func (b *Builder) BuildRow(m Market, in StrikeInput) Row {
	strike := in.Strike.Decimal()
	spot := m.Spot.Decimal()
	rate := m.Epoch.CollateralExchangeRate.Decimal()
	isPut := m.Side.IsPut()

	total := in.Data.TotalCollateral.Decimal()
	active := in.Data.ActiveCollateral.Decimal()
	accrued := in.Data.TotalPremiumsAccrued.Decimal()
	available := total.Sub(active)

	premium := in.Premium.Decimal()
	fee := in.Fee.Decimal()
	if !isPut {
		premium = premium.Mul(spot)
		fee = fee.Mul(spot)
	}

	breakeven := strike.Add(premium)
	if isPut {
		breakeven = strike.Sub(premium)
	}

	iv := in.Volatility.Decimal()
	g := greeks.Safe(greeks.Input{
		Spot:       spot.InexactFloat64(),
		Strike:     strike.InexactFloat64(),
		Years:      greeks.YearsUntil(m.Now, m.Epoch.Expiry),
		Volatility: iv.Div(hundred).InexactFloat64(),
		Side:       m.Side,
	})

	round := func(x decimal.Decimal) decimal.Decimal { return util.RoundPlaces(x, b.cfg.DisplayPlaces) }
	return Row{
		Strike:                   strike,
		Side:                     m.Side,
		TotalCollateral:          round(total),
		ActiveCollateral:         round(active),
		AvailableCollateral:      round(available),
		TotalAvailableCollateral: round(toUnderlying(available, rate, strike, isPut)),
		Utilization:              round(Utilization(total, active)),
		Premium:                  round(premium),
		PurchaseFee:              round(fee),
		TotalCost:                round(premium.Add(fee)),
		Breakeven:                round(breakeven),
		TVL:                      round(toUnderlying(total, rate, strike, isPut).Mul(spot)),
		PremiumAPY:               round(PremiumAPY(accrued, total, m.Epoch.DurationDays())),
		ImpliedVolatility:        iv,
		Greeks:                   g,
	}
}

// Utilization is the share of total collateral backing sold options, in
// percent within [0, 100]. An empty strike has zero utilization.
func Utilization(total, active decimal.Decimal) decimal.Decimal {
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	available := total.Sub(active)
	u := hundred.Sub(util.Percent(available, total))
	return util.Clamp(u, decimal.Zero, hundred)
}

// PremiumAPY annualises the premiums accrued over one epoch.
func PremiumAPY(accrued, total decimal.Decimal, epochDays float64) decimal.Decimal {
	if epochDays <= 0 {
		return decimal.Zero
	}
	share := util.Percent(accrued, accrued.Add(total))
	return util.SafeDiv(share.Mul(daysPerYear), decimal.NewFromFloat(epochDays))
}

// toUnderlying converts collateral to underlying units. Put collateral is
// posted in a price-stable asset and is further divided by the strike.
func toUnderlying(collateral, rate, strike decimal.Decimal, isPut bool) decimal.Decimal {
	v := util.SafeDiv(collateral, rate)
	if isPut {
		v = util.SafeDiv(v, strike)
	}
	return v
}
