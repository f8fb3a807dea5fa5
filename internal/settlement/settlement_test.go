package settlement

import (
	"testing"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		wantPayoff string
		wantPnL    string
		wantSettle bool
	}{
		{
			name:       "itm call",
			in:         Input{Side: models.SideCall, Strike: d("100"), SettlementPrice: d("120"), Size: d("2"), PremiumPaid: d("10"), Expired: true},
			wantPayoff: "40", wantPnL: "30", wantSettle: true,
		},
		{
			name:       "itm put",
			in:         Input{Side: models.SidePut, Strike: d("100"), SettlementPrice: d("90"), Size: d("3"), PremiumPaid: d("5"), Expired: true},
			wantPayoff: "30", wantPnL: "25", wantSettle: true,
		},
		{
			name:       "otm call never pays",
			in:         Input{Side: models.SideCall, Strike: d("100"), SettlementPrice: d("80"), Size: d("2"), PremiumPaid: d("10"), Expired: true},
			wantPayoff: "0", wantPnL: "-10", wantSettle: false,
		},
		{
			name:       "payoff equal to premium is not worth settling",
			in:         Input{Side: models.SideCall, Strike: d("100"), SettlementPrice: d("105"), Size: d("2"), PremiumPaid: d("10"), Expired: true},
			wantPayoff: "10", wantPnL: "0", wantSettle: false,
		},
		{
			name:       "not expired",
			in:         Input{Side: models.SideCall, Strike: d("100"), SettlementPrice: d("120"), Size: d("2"), PremiumPaid: d("10"), Expired: false},
			wantPayoff: "40", wantPnL: "30", wantSettle: false,
		},
		{
			name:       "expired without settlement price",
			in:         Input{Side: models.SidePut, Strike: d("100"), Size: d("2"), Expired: true},
			wantPayoff: "200", wantPnL: "200", wantSettle: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.in)
			assert.True(t, got.Payoff.Equal(d(tt.wantPayoff)), "payoff = %s", got.Payoff)
			assert.True(t, got.PnL.Equal(d(tt.wantPnL)), "pnl = %s", got.PnL)
			assert.Equal(t, tt.wantSettle, got.CanSettle)
		})
	}
}

func TestSettleRequest(t *testing.T) {
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	vault := common.HexToAddress("0x0c01")
	recipient := common.HexToAddress("0xaa")
	p := models.ActivePosition{
		Vault:           vault,
		Epoch:           3,
		Strike:          models.AmountFromInt(100_00000000, 8),
		Side:            models.SideCall,
		OptionToken:     common.HexToAddress("0x0de1"),
		Balance:         models.AmountFromInt(2_000000000000000000, 18),
		Premium:         models.AmountFromInt(10_000000, 6),
		Expiry:          now.Add(-time.Hour),
		SettlementPrice: models.AmountFromInt(120_00000000, 8),
	}

	req, res := SettleRequest(p, recipient, now)
	require.NotNil(t, req)
	assert.True(t, res.PnL.Equal(d("30")))
	assert.Equal(t, models.ActionSettle, req.Kind)
	assert.Equal(t, p.OptionToken, req.OptionToken)
	assert.Equal(t, p.Balance, req.Amount)
	assert.Equal(t, recipient, req.Recipient)
	assert.NotEmpty(t, req.ID)

	p.Expiry = now.Add(time.Hour)
	req, _ = SettleRequest(p, recipient, now)
	assert.Nil(t, req, "live epochs cannot settle")
}

func TestRewardSettleRequest(t *testing.T) {
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	reward := models.RewardAccrual{
		Token:    common.HexToAddress("0x0de1"),
		Amount:   models.AmountFromInt(1_000000000000000000, 18),
		IsOption: true,
		Option: &models.OptionRef{
			Side:            models.SidePut,
			Strike:          models.AmountFromInt(1800_00000000, 8),
			SettlementPrice: models.AmountFromInt(1700_00000000, 8),
			Expiry:          now.Add(-24 * time.Hour),
		},
	}

	req, res := RewardSettleRequest(reward, common.HexToAddress("0xaa"), now)
	require.NotNil(t, req)
	assert.True(t, res.Payoff.Equal(d("100")))
	assert.Equal(t, reward.Token, req.OptionToken)

	plain := models.RewardAccrual{Token: common.HexToAddress("0x01"), Amount: reward.Amount}
	req, _ = RewardSettleRequest(plain, common.HexToAddress("0xaa"), now)
	assert.Nil(t, req)
	_, ok := ForReward(plain, now)
	assert.False(t, ok)
}
