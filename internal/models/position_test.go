package models

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVault = common.HexToAddress("0x10FD85ec522C245a63239b9FC64434F58520bd1f")

func TestAmount_Decimal(t *testing.T) {
	a := AmountFromInt(250000000, 8)
	assert.True(t, a.Decimal().Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "2.5", a.String())
	assert.False(t, a.IsZero())

	var unset Amount
	assert.True(t, unset.IsZero())
	assert.Equal(t, 0, unset.Sign())
	assert.Equal(t, "0", unset.Key())
}

func TestAmount_Add(t *testing.T) {
	sum := AmountFromInt(150, 2).Add(AmountFromInt(250, 2))
	assert.Equal(t, int32(2), sum.Decimals)
	assert.Equal(t, 0, sum.Raw.Cmp(big.NewInt(400)))

	mixed := AmountFromInt(1, 0).Add(AmountFromInt(5, 1))
	assert.Equal(t, int32(1), mixed.Decimals)
	assert.Equal(t, 0, mixed.Raw.Cmp(big.NewInt(15)))
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("5000000000000000000", 18)
	require.NoError(t, err)
	assert.True(t, a.Decimal().Equal(decimal.NewFromInt(5)))

	empty, err := ParseAmount("", 18)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = ParseAmount("12.5", 18)
	assert.Error(t, err)
}

func TestAmount_JSONRoundTrip(t *testing.T) {
	in := AmountFromInt(123456789, 6)
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"raw":"123456789","decimals":6,"value":"123.456789"}`, string(b))

	var out Amount
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.Decimals, out.Decimals)
	assert.Equal(t, 0, in.Raw.Cmp(out.Raw))
}

func TestPositionKey_MatchesAcrossRecordTypes(t *testing.T) {
	buy := BuyPositionRecord{Vault: testVault, Epoch: 3, Strike: AmountFromInt(100, 0), Side: SideCall}
	bal := OptionTokenBalanceRecord{Vault: testVault, Epoch: 3, Strike: AmountFromInt(100, 0), Side: SideCall}
	assert.Equal(t, buy.Key(), bal.Key())

	other := bal
	other.Side = SidePut
	assert.NotEqual(t, buy.Key(), other.Key())
}

func TestEpochSnapshot_Expiry(t *testing.T) {
	start := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	e := EpochSnapshot{StartTime: start, Expiry: start.Add(7 * 24 * time.Hour)}

	assert.False(t, e.Expired(start))
	assert.True(t, e.Expired(e.Expiry))
	assert.InDelta(t, 7.0, e.DurationDays(), 1e-9)
	assert.False(t, e.Settled())

	e.SettlementPrice = AmountFromInt(1, 8)
	assert.True(t, e.Settled())

	assert.False(t, EpochSnapshot{}.Expired(start), "unset expiry never expires")
	assert.Zero(t, EpochSnapshot{}.DurationDays())
}

func TestSide(t *testing.T) {
	assert.True(t, SideCall.Valid())
	assert.True(t, SidePut.Valid())
	assert.False(t, OptionSide("straddle").Valid())
	assert.Equal(t, SidePut, SideFromIsPut(true))
	assert.Equal(t, SideCall, SideFromIsPut(false))
}

func TestNewWritePosition(t *testing.T) {
	rec := WriteLedgerRecord{
		PositionID: "7",
		Vault:      testVault,
		Epoch:      2,
		Strike:     AmountFromInt(100, 0),
		Side:       SidePut,
		Collateral: AmountFromInt(50, 0),
		RewardInfo: []RewardInfo{{Symbol: "DPX"}},
	}
	w := NewWritePosition(rec)
	assert.Equal(t, PhaseBlocked, w.Phase)
	assert.Equal(t, OriginLedger, w.Origin)
	assert.Equal(t, 0, w.Balance.Raw.Cmp(big.NewInt(50)))

	// slices are copied, not aliased
	rec.RewardInfo[0].Symbol = "changed"
	assert.Equal(t, "DPX", w.RewardInfo[0].Symbol)
}

func TestActivePosition_CostBasis(t *testing.T) {
	p := ActivePosition{Premium: AmountFromInt(10, 0), Fee: AmountFromInt(2, 0)}
	assert.True(t, p.CostBasis().Decimal().Equal(decimal.NewFromInt(12)))
}
