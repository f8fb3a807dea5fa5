package strikes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/mock"
	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow   = time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	testVault = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	scales    = models.DefaultScales
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func amt(s string, decimals int32) models.Amount {
	return models.AmountFromDecimal(d(s), decimals)
}

func newTestBuilder(places int32) *Builder {
	logger, _ := test.NewNullLogger()
	return NewBuilder(Config{DisplayPlaces: places, Now: func() time.Time { return testNow }}, logger)
}

func market(side models.OptionSide, spot string) Market {
	return Market{
		Vault: testVault,
		Side:  side,
		Spot:  amt(spot, scales.Strike),
		Epoch: models.EpochSnapshot{
			Vault:                  testVault,
			Epoch:                  3,
			StartTime:              testNow.Add(-24 * time.Hour),
			Expiry:                 testNow.Add(6 * 24 * time.Hour),
			CollateralExchangeRate: amt("1", scales.ExchangeRate),
		},
		Now: testNow,
	}
}

func strikeInput(strike, total, active, accrued, premium, fee, iv string) StrikeInput {
	return StrikeInput{
		Strike: amt(strike, scales.Strike),
		Data: source.StrikeData{
			TotalCollateral:      amt(total, scales.Token),
			ActiveCollateral:     amt(active, scales.Token),
			TotalPremiumsAccrued: amt(accrued, scales.Token),
		},
		Premium:    amt(premium, scales.Token),
		Fee:        amt(fee, scales.Token),
		Volatility: amt(iv, scales.Volatility),
	}
}

func TestUtilization(t *testing.T) {
	tests := []struct {
		name          string
		total, active string
		want          string
	}{
		{"forty percent backed", "1000", "400", "40"},
		{"sixty percent backed", "1000", "600", "60"},
		{"idle strike", "1000", "0", "0"},
		{"fully used", "1000", "1000", "100"},
		{"empty strike", "0", "0", "0"},
		{"empty strike with stale active", "0", "5", "0"},
		{"over-reported active clamps", "1000", "1200", "100"},
		{"negative active clamps", "1000", "-10", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Utilization(d(tt.total), d(tt.active))
			assert.True(t, got.Equal(d(tt.want)), "utilization = %s, want %s", got, tt.want)
		})
	}
}

func TestPremiumAPY(t *testing.T) {
	got := PremiumAPY(d("10"), d("1000"), 7)
	assert.InDelta(t, 100*10.0/1010*365/7, got.InexactFloat64(), 1e-9)

	assert.True(t, PremiumAPY(d("10"), d("1000"), 0).IsZero(), "zero duration")
	assert.True(t, PremiumAPY(d("0"), d("0"), 7).IsZero(), "zero denominator")
}

func TestBuildRow_Call(t *testing.T) {
	b := newTestBuilder(-1)
	row := b.BuildRow(market(models.SideCall, "1800"),
		strikeInput("2000", "1000", "400", "10", "0.02", "0.00025", "80"))

	assert.True(t, row.AvailableCollateral.Equal(d("600")))
	assert.True(t, row.TotalAvailableCollateral.Equal(d("600")))
	assert.True(t, row.Utilization.Equal(d("40")), "400 of 1000 backing sold options")
	assert.True(t, row.Premium.Equal(d("36")), "premium in quote units = %s", row.Premium)
	assert.True(t, row.PurchaseFee.Equal(d("0.45")))
	assert.True(t, row.TotalCost.Equal(d("36.45")))
	assert.True(t, row.Breakeven.Equal(d("2036")), "call breakeven = strike + premium")
	assert.True(t, row.TVL.Equal(d("1800000")))
	assert.True(t, row.ImpliedVolatility.Equal(d("80")))
	assert.InDelta(t, 100*10.0/1010*365/7, row.PremiumAPY.InexactFloat64(), 1e-9)

	assert.Greater(t, row.Greeks.Delta, 0.0)
	assert.Less(t, row.Greeks.Delta, 0.5, "otm call")
	assert.Greater(t, row.Greeks.Gamma, 0.0)
	assert.Less(t, row.Greeks.Theta, 0.0)
}

func TestBuildRow_Put(t *testing.T) {
	b := newTestBuilder(-1)
	row := b.BuildRow(market(models.SidePut, "1800"),
		strikeInput("1600", "1000000", "400000", "0", "40", "1", "90"))

	assert.True(t, row.Premium.Equal(d("40")), "put premium is already in quote units")
	assert.True(t, row.Breakeven.Equal(d("1560")), "put breakeven = strike - premium")
	assert.True(t, row.TotalAvailableCollateral.Equal(d("375")), "got %s", row.TotalAvailableCollateral)
	assert.True(t, row.TVL.Equal(d("1125000")), "got %s", row.TVL)
	assert.True(t, row.PremiumAPY.IsZero())
	assert.Less(t, row.Greeks.Delta, 0.0)
}

func TestBuildRow_ZeroCollateralAndExpired(t *testing.T) {
	b := newTestBuilder(-1)
	m := market(models.SidePut, "1800")
	m.Epoch.Expiry = testNow.Add(-time.Minute)
	m.Epoch.CollateralExchangeRate = models.Amount{}

	row := b.BuildRow(m, strikeInput("1600", "0", "0", "0", "0", "0", "0"))
	assert.True(t, row.Utilization.IsZero())
	assert.True(t, row.TotalAvailableCollateral.IsZero())
	assert.True(t, row.TVL.IsZero())
	assert.True(t, row.PremiumAPY.IsZero())
	assert.Zero(t, row.Greeks, "greeks fall back to zero past expiry")
}

func TestBuildRow_DisplayRounding(t *testing.T) {
	b := newTestBuilder(2)
	row := b.BuildRow(market(models.SideCall, "1800"),
		strikeInput("2000", "3", "1", "0", "0.0123456", "0", "80"))

	assert.True(t, row.Utilization.Equal(d("33.33")), "got %s", row.Utilization)
	assert.True(t, row.Premium.Equal(d("22.22")), "got %s", row.Premium)
	assert.True(t, row.Strike.Equal(d("2000")))
}

func TestLoad_SampleChain(t *testing.T) {
	owner := common.HexToAddress("0xaa")
	m := mock.NewSampleProvider(owner, []mock.SampleVault{{Address: testVault, Spot: 1800}}, scales, testNow)
	b := newTestBuilder(4)

	c, err := b.LoadCurrent(context.Background(), m, testVault)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.Epoch)
	assert.Equal(t, models.SideCall, c.Side)
	require.Len(t, c.Rows, 4)
	assert.Empty(t, c.Skipped)

	for i, row := range c.Rows {
		assert.True(t, row.Utilization.GreaterThanOrEqual(decimal.Zero) && row.Utilization.LessThanOrEqual(hundred),
			"utilization out of bounds: %s", row.Utilization)
		if i > 0 {
			assert.True(t, c.Rows[i-1].Strike.LessThan(row.Strike), "rows sorted by strike")
		}
	}
	assert.Equal(t, 1, m.Calls("SpotPrice"), "spot is read once per chain")
	assert.Equal(t, 4, m.Calls("StrikeData"))
}

func TestLoad_SkipsFailingStrike(t *testing.T) {
	owner := common.HexToAddress("0xaa")
	m := mock.NewSampleProvider(owner, []mock.SampleVault{{Address: testVault, IsPut: true, Spot: 1800}}, scales, testNow)
	snap, err := m.EpochSnapshot(context.Background(), testVault, 2)
	require.NoError(t, err)
	m.FailStrike(testVault, 2, snap.Strikes[1], errors.New("execution reverted"))

	logger, hook := test.NewNullLogger()
	b := NewBuilder(Config{DisplayPlaces: 4, Now: func() time.Time { return testNow }}, logger)

	c, err := b.Load(context.Background(), m, testVault, 2)
	require.NoError(t, err)
	assert.Len(t, c.Rows, 3)
	assert.Equal(t, []string{snap.Strikes[1].String()}, c.Skipped)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "skipping strike", hook.LastEntry().Message)
}

func TestLoad_Errors(t *testing.T) {
	m := mock.NewDataProvider()
	b := newTestBuilder(4)

	_, err := b.Load(context.Background(), m, testVault, 1)
	assert.ErrorIs(t, err, source.ErrNotFound)

	owner := common.HexToAddress("0xaa")
	sample := mock.NewSampleProvider(owner, []mock.SampleVault{{Address: testVault, Spot: 1800}}, scales, testNow)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Load(ctx, sample, testVault, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
