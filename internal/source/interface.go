// Package source defines the external data contracts consumed by the engine.
package source

import (
	"context"
	"errors"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned when a vault, epoch or strike does not exist.
var ErrNotFound = errors.New("not found")

// Ledger is the indexed history of an owner's option activity.
type Ledger interface {
	BuyPositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.BuyPositionRecord, error)
	OptionBalances(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.OptionTokenBalanceRecord, error)
	WritePositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.WriteLedgerRecord, error)
}

// StrikeData is the per-strike collateral state of an epoch.
type StrikeData struct {
	TotalCollateral      models.Amount
	ActiveCollateral     models.Amount
	TotalPremiumsAccrued models.Amount
}

// ChainState reads live vault state.
type ChainState interface {
	CurrentEpoch(ctx context.Context, vault common.Address) (uint64, error)
	EpochSnapshot(ctx context.Context, vault common.Address, epoch uint64) (models.EpochSnapshot, error)
	StrikeData(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (StrikeData, error)
	// PremiumQuote and PurchaseFee are per one option unit, in collateral token units.
	PremiumQuote(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error)
	PurchaseFee(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error)
	Volatility(ctx context.Context, vault common.Address, strike models.Amount) (models.Amount, error)
	SpotPrice(ctx context.Context, vault common.Address) (models.Amount, error)
	IsPut(ctx context.Context, vault common.Address) (bool, error)
}
