// Package onchain implements source.ChainState by calling vault view
// functions over JSON-RPC.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractCaller is the read-only part of an Ethereum client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader reads vault state at the latest block.
type Reader struct {
	client ContractCaller
	abi    abi.ABI
	scales models.Scales
	closer func()
}

var _ source.ChainState = (*Reader)(nil)

// Dial connects to rpcURL and returns a Reader over it.
func Dial(ctx context.Context, rpcURL string, scales models.Scales) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	r, err := NewReader(client, scales)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.closer = client.Close
	return r, nil
}

// NewReader wraps an existing client.
func NewReader(client ContractCaller, scales models.Scales) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	return &Reader{client: client, abi: parsed, scales: scales}, nil
}

// Close releases the RPC connection opened by Dial.
func (r *Reader) Close() {
	if r.closer != nil {
		r.closer()
	}
}

func (r *Reader) call(ctx context.Context, vault common.Address, method string, args ...any) ([]any, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &vault, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, vault.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: no contract code: %w", method, vault.Hex(), source.ErrNotFound)
	}
	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *Reader) callUint(ctx context.Context, vault common.Address, method string, args ...any) (*big.Int, error) {
	values, err := r.call(ctx, vault, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", method, values[0])
	}
	return v, nil
}

func rawArg(a models.Amount) *big.Int {
	if a.Raw == nil {
		return new(big.Int)
	}
	return a.Raw
}

func epochArg(epoch uint64) *big.Int {
	return new(big.Int).SetUint64(epoch)
}

// oneOption is a single option unit at token precision, the amount quotes
// are requested for.
func (r *Reader) oneOption() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.scales.Token)), nil)
}

func (r *Reader) CurrentEpoch(ctx context.Context, vault common.Address) (uint64, error) {
	v, err := r.callUint(ctx, vault, "currentEpoch")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func (r *Reader) IsPut(ctx context.Context, vault common.Address) (bool, error) {
	values, err := r.call(ctx, vault, "isPut")
	if err != nil {
		return false, err
	}
	v, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("isPut: unexpected output type %T", values[0])
	}
	return v, nil
}

func (r *Reader) SpotPrice(ctx context.Context, vault common.Address) (models.Amount, error) {
	v, err := r.callUint(ctx, vault, "getUnderlyingPrice")
	if err != nil {
		return models.Amount{}, err
	}
	return models.NewAmount(v, r.scales.Strike), nil
}

// EpochSnapshot reads times, strikes, exchange rate and settlement price of
// epoch. An epoch that never started is reported as source.ErrNotFound.
func (r *Reader) EpochSnapshot(ctx context.Context, vault common.Address, epoch uint64) (models.EpochSnapshot, error) {
	times, err := r.call(ctx, vault, "getEpochTimes", epochArg(epoch))
	if err != nil {
		return models.EpochSnapshot{}, err
	}
	start, _ := times[0].(*big.Int)
	end, _ := times[1].(*big.Int)
	if start == nil || end == nil || start.Sign() == 0 {
		return models.EpochSnapshot{}, fmt.Errorf("epoch %d of %s: %w", epoch, vault.Hex(), source.ErrNotFound)
	}

	strikesOut, err := r.call(ctx, vault, "getEpochStrikes", epochArg(epoch))
	if err != nil {
		return models.EpochSnapshot{}, err
	}
	rawStrikes, ok := strikesOut[0].([]*big.Int)
	if !ok {
		return models.EpochSnapshot{}, fmt.Errorf("getEpochStrikes: unexpected output type %T", strikesOut[0])
	}
	strikes := make([]models.Amount, len(rawStrikes))
	for i, k := range rawStrikes {
		strikes[i] = models.NewAmount(k, r.scales.Strike)
	}

	rate, err := r.callUint(ctx, vault, "getEpochCollateralExchangeRate", epochArg(epoch))
	if err != nil {
		return models.EpochSnapshot{}, err
	}
	settlement, err := r.callUint(ctx, vault, "getEpochSettlementPrice", epochArg(epoch))
	if err != nil {
		return models.EpochSnapshot{}, err
	}

	return models.EpochSnapshot{
		Vault:                  vault,
		Epoch:                  epoch,
		Strikes:                strikes,
		StartTime:              time.Unix(start.Int64(), 0).UTC(),
		Expiry:                 time.Unix(end.Int64(), 0).UTC(),
		CollateralExchangeRate: models.NewAmount(rate, r.scales.ExchangeRate),
		SettlementPrice:        models.NewAmount(settlement, r.scales.Strike),
	}, nil
}

func (r *Reader) StrikeData(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (source.StrikeData, error) {
	values, err := r.call(ctx, vault, "getEpochStrikeData", epochArg(epoch), rawArg(strike))
	if err != nil {
		return source.StrikeData{}, err
	}
	total, _ := values[0].(*big.Int)
	active, _ := values[1].(*big.Int)
	premiums, _ := values[2].(*big.Int)
	return source.StrikeData{
		TotalCollateral:      models.NewAmount(total, r.scales.Token),
		ActiveCollateral:     models.NewAmount(active, r.scales.Token),
		TotalPremiumsAccrued: models.NewAmount(premiums, r.scales.Token),
	}, nil
}

// PremiumQuote quotes one option expiring at the epoch end.
func (r *Reader) PremiumQuote(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	times, err := r.call(ctx, vault, "getEpochTimes", epochArg(epoch))
	if err != nil {
		return models.Amount{}, err
	}
	expiry, _ := times[1].(*big.Int)
	if expiry == nil {
		return models.Amount{}, fmt.Errorf("epoch %d of %s: %w", epoch, vault.Hex(), source.ErrNotFound)
	}
	v, err := r.callUint(ctx, vault, "calculatePremium", rawArg(strike), r.oneOption(), expiry)
	if err != nil {
		return models.Amount{}, err
	}
	return models.NewAmount(v, r.scales.Token), nil
}

func (r *Reader) PurchaseFee(ctx context.Context, vault common.Address, _ uint64, strike models.Amount) (models.Amount, error) {
	v, err := r.callUint(ctx, vault, "calculatePurchaseFees", rawArg(strike), r.oneOption())
	if err != nil {
		return models.Amount{}, err
	}
	return models.NewAmount(v, r.scales.Token), nil
}

func (r *Reader) Volatility(ctx context.Context, vault common.Address, strike models.Amount) (models.Amount, error) {
	v, err := r.callUint(ctx, vault, "getVolatility", rawArg(strike))
	if err != nil {
		return models.Amount{}, err
	}
	return models.NewAmount(v, r.scales.Volatility), nil
}
