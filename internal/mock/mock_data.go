// Package mock provides in-memory vault and ledger data for paper mode and tests.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
)

// DataProvider is an in-memory implementation of source.Ledger and
// source.ChainState. It is safe for concurrent use.
type DataProvider struct {
	mu sync.RWMutex

	buys     map[common.Address][]models.BuyPositionRecord
	balances map[common.Address][]models.OptionTokenBalanceRecord
	writes   map[common.Address][]models.WriteLedgerRecord

	currentEpoch map[common.Address]uint64
	epochs       map[models.EpochKey]models.EpochSnapshot
	strikeData   map[strikeKey]source.StrikeData
	premiums     map[strikeKey]models.Amount
	fees         map[strikeKey]models.Amount
	vols         map[volKey]models.Amount
	spots        map[common.Address]models.Amount
	isPut        map[common.Address]bool

	methodErrs map[string]error
	epochErrs  map[models.EpochKey]error
	strikeErrs map[strikeKey]error
	calls      map[string]int
}

type strikeKey struct {
	vault  common.Address
	epoch  uint64
	strike string
}

type volKey struct {
	vault  common.Address
	strike string
}

var (
	_ source.Ledger     = (*DataProvider)(nil)
	_ source.ChainState = (*DataProvider)(nil)
)

// NewDataProvider returns an empty provider.
func NewDataProvider() *DataProvider {
	return &DataProvider{
		buys:         make(map[common.Address][]models.BuyPositionRecord),
		balances:     make(map[common.Address][]models.OptionTokenBalanceRecord),
		writes:       make(map[common.Address][]models.WriteLedgerRecord),
		currentEpoch: make(map[common.Address]uint64),
		epochs:       make(map[models.EpochKey]models.EpochSnapshot),
		strikeData:   make(map[strikeKey]source.StrikeData),
		premiums:     make(map[strikeKey]models.Amount),
		fees:         make(map[strikeKey]models.Amount),
		vols:         make(map[volKey]models.Amount),
		spots:        make(map[common.Address]models.Amount),
		isPut:        make(map[common.Address]bool),
		methodErrs:   make(map[string]error),
		epochErrs:    make(map[models.EpochKey]error),
		strikeErrs:   make(map[strikeKey]error),
		calls:        make(map[string]int),
	}
}

// --- setup ---

// AddBuy records a ledger purchase for owner.
func (m *DataProvider) AddBuy(owner common.Address, rec models.BuyPositionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buys[owner] = append(m.buys[owner], rec)
}

// AddBalance records a live option-token balance for owner.
func (m *DataProvider) AddBalance(owner common.Address, rec models.OptionTokenBalanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[owner] = append(m.balances[owner], rec)
}

// AddWrite records a write position for owner.
func (m *DataProvider) AddWrite(owner common.Address, rec models.WriteLedgerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[owner] = append(m.writes[owner], rec)
}

// SetVault configures a vault's side, spot price and current epoch.
func (m *DataProvider) SetVault(vault common.Address, isPut bool, spot models.Amount, currentEpoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isPut[vault] = isPut
	m.spots[vault] = spot
	m.currentEpoch[vault] = currentEpoch
}

// SetEpoch stores an epoch snapshot.
func (m *DataProvider) SetEpoch(e models.EpochSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs[e.Key()] = e
}

// SetStrike stores the per-strike state and quotes of an epoch.
func (m *DataProvider) SetStrike(vault common.Address, epoch uint64, strike models.Amount,
	data source.StrikeData, premium, fee, vol models.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := strikeKey{vault: vault, epoch: epoch, strike: strike.Key()}
	m.strikeData[k] = data
	m.premiums[k] = premium
	m.fees[k] = fee
	m.vols[volKey{vault: vault, strike: strike.Key()}] = vol
}

// FailMethod makes every call to the named method return err. A nil err clears it.
func (m *DataProvider) FailMethod(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.methodErrs, method)
		return
	}
	m.methodErrs[method] = err
}

// FailEpoch makes EpochSnapshot fail for one epoch.
func (m *DataProvider) FailEpoch(key models.EpochKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochErrs[key] = err
}

// FailStrike makes StrikeData fail for one strike.
func (m *DataProvider) FailStrike(vault common.Address, epoch uint64, strike models.Amount, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strikeErrs[strikeKey{vault: vault, epoch: epoch, strike: strike.Key()}] = err
}

// Calls returns how many times the named method was invoked.
func (m *DataProvider) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

func (m *DataProvider) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.methodErrs[method]
}

func inVaults(v common.Address, vaults []common.Address) bool {
	for _, x := range vaults {
		if x == v {
			return true
		}
	}
	return false
}

// --- source.Ledger ---

// BuyPositions returns owner's purchases within vaults.
func (m *DataProvider) BuyPositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.BuyPositionRecord, error) {
	if err := m.enter(ctx, "BuyPositions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.BuyPositionRecord
	for _, r := range m.buys[owner] {
		if inVaults(r.Vault, vaults) {
			out = append(out, r)
		}
	}
	return out, nil
}

// OptionBalances returns owner's balances within vaults.
func (m *DataProvider) OptionBalances(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.OptionTokenBalanceRecord, error) {
	if err := m.enter(ctx, "OptionBalances"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OptionTokenBalanceRecord
	for _, r := range m.balances[owner] {
		if inVaults(r.Vault, vaults) {
			out = append(out, r)
		}
	}
	return out, nil
}

// WritePositions returns owner's write positions within vaults.
func (m *DataProvider) WritePositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.WriteLedgerRecord, error) {
	if err := m.enter(ctx, "WritePositions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.WriteLedgerRecord
	for _, r := range m.writes[owner] {
		if inVaults(r.Vault, vaults) {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- source.ChainState ---

// CurrentEpoch returns the configured current epoch of vault.
func (m *DataProvider) CurrentEpoch(ctx context.Context, vault common.Address) (uint64, error) {
	if err := m.enter(ctx, "CurrentEpoch"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.currentEpoch[vault]
	if !ok {
		return 0, fmt.Errorf("vault %s: %w", vault.Hex(), source.ErrNotFound)
	}
	return e, nil
}

// EpochSnapshot returns the stored snapshot.
func (m *DataProvider) EpochSnapshot(ctx context.Context, vault common.Address, epoch uint64) (models.EpochSnapshot, error) {
	if err := m.enter(ctx, "EpochSnapshot"); err != nil {
		return models.EpochSnapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := models.EpochKey{Vault: vault, Epoch: epoch}
	if err := m.epochErrs[key]; err != nil {
		return models.EpochSnapshot{}, err
	}
	e, ok := m.epochs[key]
	if !ok {
		return models.EpochSnapshot{}, fmt.Errorf("epoch %s: %w", key, source.ErrNotFound)
	}
	return e, nil
}

// StrikeData returns the stored per-strike collateral state.
func (m *DataProvider) StrikeData(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (source.StrikeData, error) {
	if err := m.enter(ctx, "StrikeData"); err != nil {
		return source.StrikeData{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := strikeKey{vault: vault, epoch: epoch, strike: strike.Key()}
	if err := m.strikeErrs[k]; err != nil {
		return source.StrikeData{}, err
	}
	d, ok := m.strikeData[k]
	if !ok {
		return source.StrikeData{}, fmt.Errorf("strike %s: %w", strike, source.ErrNotFound)
	}
	return d, nil
}

// PremiumQuote returns the stored premium per option.
func (m *DataProvider) PremiumQuote(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	if err := m.enter(ctx, "PremiumQuote"); err != nil {
		return models.Amount{}, err
	}
	return m.lookupQuote(m.premiums, vault, epoch, strike)
}

// PurchaseFee returns the stored purchase fee per option.
func (m *DataProvider) PurchaseFee(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	if err := m.enter(ctx, "PurchaseFee"); err != nil {
		return models.Amount{}, err
	}
	return m.lookupQuote(m.fees, vault, epoch, strike)
}

func (m *DataProvider) lookupQuote(from map[strikeKey]models.Amount, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := from[strikeKey{vault: vault, epoch: epoch, strike: strike.Key()}]
	if !ok {
		return models.Amount{}, fmt.Errorf("quote for strike %s: %w", strike, source.ErrNotFound)
	}
	return v, nil
}

// Volatility returns the stored implied volatility.
func (m *DataProvider) Volatility(ctx context.Context, vault common.Address, strike models.Amount) (models.Amount, error) {
	if err := m.enter(ctx, "Volatility"); err != nil {
		return models.Amount{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vols[volKey{vault: vault, strike: strike.Key()}]
	if !ok {
		return models.Amount{}, fmt.Errorf("volatility for strike %s: %w", strike, source.ErrNotFound)
	}
	return v, nil
}

// SpotPrice returns the configured underlying price.
func (m *DataProvider) SpotPrice(ctx context.Context, vault common.Address) (models.Amount, error) {
	if err := m.enter(ctx, "SpotPrice"); err != nil {
		return models.Amount{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.spots[vault]
	if !ok {
		return models.Amount{}, fmt.Errorf("spot for vault %s: %w", vault.Hex(), source.ErrNotFound)
	}
	return v, nil
}

// IsPut returns the configured vault side.
func (m *DataProvider) IsPut(ctx context.Context, vault common.Address) (bool, error) {
	if err := m.enter(ctx, "IsPut"); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.isPut[vault]
	if !ok {
		return false, fmt.Errorf("vault %s: %w", vault.Hex(), source.ErrNotFound)
	}
	return v, nil
}

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}
