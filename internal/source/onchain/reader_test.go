package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVault = common.HexToAddress("0x10FD85ec522C245a63239b9FC64434F58520bd1f")

// fakeVault answers eth_call by ABI-decoding the selector and packing the
// scripted outputs.
type fakeVault struct {
	t       *testing.T
	abi     abi.ABI
	outputs map[string]func(args []any) []any
	err     error
	empty   bool
	calls   []string
}

func newFakeVault(t *testing.T) *fakeVault {
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	require.NoError(t, err)
	return &fakeVault{t: t, abi: parsed, outputs: map[string]func([]any) []any{}}
}

func (f *fakeVault) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	assert.Equal(f.t, testVault, *call.To)
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, method.Name)
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	out, ok := f.outputs[method.Name]
	if !ok {
		return nil, fmt.Errorf("execution reverted: %s", method.Name)
	}
	return method.Outputs.Pack(out(args)...)
}

func (f *fakeVault) returns(method string, values ...any) {
	f.outputs[method] = func([]any) []any { return values }
}

func exp10(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }

func scaled(v, decimals int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), exp10(decimals)) }

func newTestReader(t *testing.T, f *fakeVault) *Reader {
	r, err := NewReader(f, models.DefaultScales)
	require.NoError(t, err)
	return r
}

func TestReader_VaultReads(t *testing.T) {
	f := newFakeVault(t)
	f.returns("currentEpoch", big.NewInt(4))
	f.returns("isPut", true)
	f.returns("getUnderlyingPrice", scaled(1800, 8))
	r := newTestReader(t, f)
	ctx := context.Background()

	epoch, err := r.CurrentEpoch(ctx, testVault)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), epoch)

	isPut, err := r.IsPut(ctx, testVault)
	require.NoError(t, err)
	assert.True(t, isPut)

	spot, err := r.SpotPrice(ctx, testVault)
	require.NoError(t, err)
	assert.Equal(t, "1800", spot.String())
}

func TestReader_EpochSnapshot(t *testing.T) {
	start := time.Date(2026, 10, 9, 8, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	f := newFakeVault(t)
	f.outputs["getEpochTimes"] = func(args []any) []any {
		assert.Equal(t, big.NewInt(4), args[0])
		return []any{big.NewInt(start.Unix()), big.NewInt(end.Unix())}
	}
	f.returns("getEpochStrikes", []*big.Int{scaled(1600, 8), scaled(1800, 8)})
	f.returns("getEpochCollateralExchangeRate", scaled(1, 8))
	f.returns("getEpochSettlementPrice", big.NewInt(0))
	r := newTestReader(t, f)

	snap, err := r.EpochSnapshot(context.Background(), testVault, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Epoch)
	assert.Equal(t, start, snap.StartTime)
	assert.Equal(t, end, snap.Expiry)
	require.Len(t, snap.Strikes, 2)
	assert.Equal(t, "1600", snap.Strikes[0].String())
	assert.Equal(t, "1", snap.CollateralExchangeRate.String())
	assert.False(t, snap.Settled())
	assert.InDelta(t, 7.0, snap.DurationDays(), 1e-9)
}

func TestReader_EpochNotStarted(t *testing.T) {
	f := newFakeVault(t)
	f.returns("getEpochTimes", big.NewInt(0), big.NewInt(0))
	r := newTestReader(t, f)

	_, err := r.EpochSnapshot(context.Background(), testVault, 9)
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestReader_StrikeQuotes(t *testing.T) {
	strike := models.NewAmount(scaled(1800, 8), 8)
	f := newFakeVault(t)
	f.outputs["getEpochStrikeData"] = func(args []any) []any {
		assert.Equal(t, scaled(1800, 8), args[1])
		return []any{scaled(1000, 18), scaled(400, 18), scaled(12, 18)}
	}
	f.returns("getEpochTimes", big.NewInt(1), big.NewInt(1_800_000_000))
	f.outputs["calculatePremium"] = func(args []any) []any {
		assert.Equal(t, exp10(18), args[1], "quotes are per one option")
		assert.Equal(t, big.NewInt(1_800_000_000), args[2], "premium is priced to the epoch expiry")
		return []any{scaled(2, 16)}
	}
	f.returns("calculatePurchaseFees", scaled(25, 13))
	f.returns("getVolatility", big.NewInt(85))
	r := newTestReader(t, f)
	ctx := context.Background()

	data, err := r.StrikeData(ctx, testVault, 4, strike)
	require.NoError(t, err)
	assert.Equal(t, "1000", data.TotalCollateral.String())
	assert.Equal(t, "400", data.ActiveCollateral.String())
	assert.Equal(t, "12", data.TotalPremiumsAccrued.String())

	premium, err := r.PremiumQuote(ctx, testVault, 4, strike)
	require.NoError(t, err)
	assert.Equal(t, "0.02", premium.String())

	fee, err := r.PurchaseFee(ctx, testVault, 4, strike)
	require.NoError(t, err)
	assert.Equal(t, "0.00025", fee.String())

	vol, err := r.Volatility(ctx, testVault, strike)
	require.NoError(t, err)
	assert.Equal(t, "85", vol.String())
}

func TestReader_Errors(t *testing.T) {
	f := newFakeVault(t)
	r := newTestReader(t, f)

	_, err := r.CurrentEpoch(context.Background(), testVault)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")

	f.err = errors.New("dial tcp: connection refused")
	_, err = r.SpotPrice(context.Background(), testVault)
	assert.ErrorIs(t, err, f.err)

	f.err = nil
	f.empty = true
	_, err = r.IsPut(context.Background(), testVault)
	assert.ErrorIs(t, err, source.ErrNotFound, "calls to an address without code return nothing")
}
