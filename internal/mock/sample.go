package mock

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SampleVault describes one vault to populate with generated data.
type SampleVault struct {
	Address common.Address
	IsPut   bool
	Spot    float64
}

const epochLength = 7 * 24 * time.Hour

// NewSampleProvider builds a provider with two epochs per vault: the previous
// one expired and settled, the current one live. owner holds a merged buy
// position, a transferred-in balance, an expired position and two write
// positions in every vault.
func NewSampleProvider(owner common.Address, vaults []SampleVault, scales models.Scales, now time.Time) *DataProvider {
	m := NewDataProvider()
	for i, v := range vaults {
		populateVault(m, owner, v, scales, now, i)
	}
	return m
}

func populateVault(m *DataProvider, owner common.Address, v SampleVault, scales models.Scales, now time.Time, idx int) {
	spot := v.Spot * (1 + (secureFloat64()-0.5)*0.02)
	side := models.SideFromIsPut(v.IsPut)
	m.SetVault(v.Address, v.IsPut, decAmount(spot, scales.Strike), 2)

	stepSign := 1.0
	if v.IsPut {
		stepSign = -1.0
	}
	strikes := make([]models.Amount, 0, 4)
	for i := 0; i < 4; i++ {
		k := roundStrike(v.Spot * (1 + stepSign*0.1*float64(i)))
		strikes = append(strikes, decAmount(k, scales.Strike))
	}

	rate := decAmount(1, scales.ExchangeRate)
	prevStart := now.Add(-2*epochLength - 48*time.Hour)
	prev := models.EpochSnapshot{
		Vault:                  v.Address,
		Epoch:                  1,
		Strikes:                strikes,
		StartTime:              prevStart,
		Expiry:                 prevStart.Add(epochLength),
		CollateralExchangeRate: rate,
		SettlementPrice:        decAmount(roundStrike(v.Spot*(1+stepSign*0.12)), scales.Strike),
	}
	curStart := now.Add(-48 * time.Hour)
	cur := models.EpochSnapshot{
		Vault:                  v.Address,
		Epoch:                  2,
		Strikes:                strikes,
		StartTime:              curStart,
		Expiry:                 curStart.Add(epochLength),
		CollateralExchangeRate: rate,
	}
	m.SetEpoch(prev)
	m.SetEpoch(cur)

	for _, e := range []models.EpochSnapshot{prev, cur} {
		for i, k := range e.Strikes {
			totalTokens := 100 + secureFloat64()*900
			if v.IsPut {
				totalTokens *= k.Decimal().InexactFloat64()
			}
			total := decAmount(totalTokens, scales.Token)
			active := decAmount(totalTokens*secureFloat64()*0.8, scales.Token)
			accrued := decAmount(totalTokens*0.01*(1+secureFloat64()), scales.Token)

			moneyness := 0.04 / float64(i+1)
			premium := moneyness
			if v.IsPut {
				premium = moneyness * spot
			}
			m.SetStrike(v.Address, e.Epoch, k,
				source.StrikeData{TotalCollateral: total, ActiveCollateral: active, TotalPremiumsAccrued: accrued},
				decAmount(premium, scales.Token),
				decAmount(premium*0.0125, scales.Token),
				decAmount(math.Round(60+secureFloat64()*40), scales.Volatility),
			)
		}
	}

	tokenFor := func(epoch uint64, strike int) common.Address {
		return common.BigToAddress(big.NewInt(int64(0xD0AE000 + idx*256 + int(epoch)*16 + strike)))
	}
	buyAmount := decAmount(5, scales.Token)
	m.AddBuy(owner, models.BuyPositionRecord{
		Vault: v.Address, Epoch: 2, Strike: strikes[1], Side: side,
		Amount: buyAmount, Premium: decAmount(5*0.02*spot, scales.USD), Fee: decAmount(0.1, scales.USD),
	})
	m.AddBalance(owner, models.OptionTokenBalanceRecord{
		Vault: v.Address, Epoch: 2, Strike: strikes[1], Side: side,
		Balance: buyAmount, OptionToken: tokenFor(2, 1),
	})
	m.AddBalance(owner, models.OptionTokenBalanceRecord{
		Vault: v.Address, Epoch: 2, Strike: strikes[2], Side: side,
		Balance: decAmount(2, scales.Token), OptionToken: tokenFor(2, 2),
	})
	m.AddBuy(owner, models.BuyPositionRecord{
		Vault: v.Address, Epoch: 1, Strike: strikes[0], Side: side,
		Amount: decAmount(3, scales.Token), Premium: decAmount(3*0.03*spot, scales.USD),
	})
	m.AddBalance(owner, models.OptionTokenBalanceRecord{
		Vault: v.Address, Epoch: 1, Strike: strikes[0], Side: side,
		Balance: decAmount(3, scales.Token), OptionToken: tokenFor(1, 0),
	})

	rewardToken := common.HexToAddress("0x6C2C06790b3E3E3c38e12Ee22F8183b37a13EE55")
	m.AddWrite(owner, models.WriteLedgerRecord{
		PositionID: fmt.Sprintf("%d", 100+idx*2),
		Vault:      v.Address, Epoch: 2, Strike: strikes[0], Side: side,
		Collateral: decAmount(10, scales.Token),
		RewardInfo: []models.RewardInfo{{Token: rewardToken, Symbol: "DPX", RewardRate: decAmount(0.001, scales.Token)}},
	})
	m.AddWrite(owner, models.WriteLedgerRecord{
		PositionID: fmt.Sprintf("%d", 101+idx*2),
		Vault:      v.Address, Epoch: 1, Strike: strikes[1], Side: side,
		Collateral: decAmount(8, scales.Token),
		RewardsAccrued: []models.RewardAccrual{{
			Token:    tokenFor(1, 0),
			Amount:   decAmount(1, scales.Token),
			Symbol:   "OPT",
			IsOption: true,
			Option: &models.OptionRef{
				Vault: v.Address, Epoch: 1, Strike: strikes[0], Side: side,
				Expiry: prev.Expiry, SettlementPrice: prev.SettlementPrice,
			},
		}},
	})
}

func decAmount(x float64, decimals int32) models.Amount {
	return models.AmountFromDecimal(decimal.NewFromFloat(x), decimals)
}

func roundStrike(x float64) float64 {
	step := 50.0
	if x < 100 {
		step = 1
	}
	return math.Round(x/step) * step
}
