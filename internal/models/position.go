// Package models provides the data structures shared by the pricing and reconciliation engine.
package models

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OptionSide represents the type of option contract
type OptionSide string

const (
	// SideCall represents a call option
	SideCall OptionSide = "call"
	// SidePut represents a put option
	SidePut OptionSide = "put"
)

// Valid returns true if the OptionSide is one of the defined constants
func (s OptionSide) Valid() bool {
	switch s {
	case SideCall, SidePut:
		return true
	default:
		return false
	}
}

// IsPut reports whether the side is a put.
func (s OptionSide) IsPut() bool {
	return s == SidePut
}

// SideFromIsPut maps a vault's isPut flag to an OptionSide.
func SideFromIsPut(isPut bool) OptionSide {
	if isPut {
		return SidePut
	}
	return SideCall
}

// PositionKey identifies one option series held in one vault.
type PositionKey struct {
	Vault  common.Address
	Epoch  uint64
	Strike string // raw strike integer
	Side   OptionSide
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", k.Vault.Hex(), k.Epoch, k.Strike, k.Side)
}

// EpochKey identifies one epoch of one vault.
type EpochKey struct {
	Vault common.Address
	Epoch uint64
}

func (k EpochKey) String() string {
	return fmt.Sprintf("%s/%d", k.Vault.Hex(), k.Epoch)
}

// EpochSnapshot is the per-vault metadata of a single epoch.
type EpochSnapshot struct {
	Vault                  common.Address `json:"vault"`
	Epoch                  uint64         `json:"epoch"`
	Strikes                []Amount       `json:"strikes"`
	StartTime              time.Time      `json:"start_time"`
	Expiry                 time.Time      `json:"expiry"`
	CollateralExchangeRate Amount         `json:"collateral_exchange_rate"`
	SettlementPrice        Amount         `json:"settlement_price"` // zero until the epoch settles
}

// Key returns the epoch identity.
func (e EpochSnapshot) Key() EpochKey {
	return EpochKey{Vault: e.Vault, Epoch: e.Epoch}
}

// Expired reports whether now is at or past the epoch expiry.
func (e EpochSnapshot) Expired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

// Settled reports whether a settlement price has been published.
func (e EpochSnapshot) Settled() bool {
	return !e.SettlementPrice.IsZero()
}

// DurationDays returns the epoch length in days, or zero if the bounds are unset.
func (e EpochSnapshot) DurationDays() float64 {
	if e.StartTime.IsZero() || e.Expiry.IsZero() || !e.Expiry.After(e.StartTime) {
		return 0
	}
	return e.Expiry.Sub(e.StartTime).Hours() / 24
}

// BuyPositionRecord is a ledger-indexed option purchase. It may not reflect
// current holdings since option tokens are transferable.
type BuyPositionRecord struct {
	Vault   common.Address `json:"vault"`
	Epoch   uint64         `json:"epoch"`
	Strike  Amount         `json:"strike"`
	Side    OptionSide     `json:"side"`
	Amount  Amount         `json:"amount"`
	Premium Amount         `json:"premium"`
	Fee     Amount         `json:"fee"`
	TxHash  string         `json:"tx_hash,omitempty"`
}

// Key returns the position identity of the record.
func (r BuyPositionRecord) Key() PositionKey {
	return PositionKey{Vault: r.Vault, Epoch: r.Epoch, Strike: r.Strike.Key(), Side: r.Side}
}

// OptionTokenBalanceRecord is a live option-token balance. It is
// authoritative for the current holding size.
type OptionTokenBalanceRecord struct {
	Vault       common.Address `json:"vault"`
	Epoch       uint64         `json:"epoch"`
	Strike      Amount         `json:"strike"`
	Side        OptionSide     `json:"side"`
	Balance     Amount         `json:"balance"`
	OptionToken common.Address `json:"option_token"`
}

// Key returns the position identity of the record.
func (r OptionTokenBalanceRecord) Key() PositionKey {
	return PositionKey{Vault: r.Vault, Epoch: r.Epoch, Strike: r.Strike.Key(), Side: r.Side}
}

// PositionOrigin records which sources contributed to a position.
type PositionOrigin string

const (
	// OriginMerged means a ledger purchase matched a live balance
	OriginMerged PositionOrigin = "merged"
	// OriginBalanceOnly means the tokens arrived without a purchase (e.g. a transfer)
	OriginBalanceOnly PositionOrigin = "balance_only"
	// OriginLedger marks write positions sourced from the ledger
	OriginLedger PositionOrigin = "ledger"
)

// PositionStatus reports whether metadata could be attached to a position.
type PositionStatus string

const (
	// StatusActive is a fully reconciled position
	StatusActive PositionStatus = "active"
	// StatusPartial is a nonzero position whose epoch metadata failed to load
	StatusPartial PositionStatus = "partial"
)

// ActivePosition is the canonical merged view of one held option series.
// It only exists while Balance > 0.
type ActivePosition struct {
	Vault           common.Address `json:"vault"`
	Epoch           uint64         `json:"epoch"`
	Strike          Amount         `json:"strike"`
	Side            OptionSide     `json:"side"`
	OptionToken     common.Address `json:"option_token"`
	Balance         Amount         `json:"balance"`
	Premium         Amount         `json:"premium"`
	Fee             Amount         `json:"fee"`
	Expiry          time.Time      `json:"expiry"`
	SettlementPrice Amount         `json:"settlement_price"`
	Origin          PositionOrigin `json:"origin"`
	Status          PositionStatus `json:"status"`
	Warning         string         `json:"warning,omitempty"`
}

// Key returns the position identity.
func (p ActivePosition) Key() PositionKey {
	return PositionKey{Vault: p.Vault, Epoch: p.Epoch, Strike: p.Strike.Key(), Side: p.Side}
}

// EpochKey returns the epoch the position belongs to.
func (p ActivePosition) EpochKey() EpochKey {
	return EpochKey{Vault: p.Vault, Epoch: p.Epoch}
}

// CostBasis returns premium plus fees paid.
func (p ActivePosition) CostBasis() Amount {
	return p.Premium.Add(p.Fee)
}

// Expired reports whether the position's epoch has expired at now.
func (p ActivePosition) Expired(now time.Time) bool {
	return !p.Expiry.IsZero() && !now.Before(p.Expiry)
}

// RewardInfo describes a reward stream a write position can be staked into.
type RewardInfo struct {
	Token      common.Address `json:"token"`
	Symbol     string         `json:"symbol"`
	RewardRate Amount         `json:"reward_rate"`
}

// OptionRef identifies the option series behind a reward token that is
// itself an option.
type OptionRef struct {
	Vault           common.Address `json:"vault"`
	Epoch           uint64         `json:"epoch"`
	Strike          Amount         `json:"strike"`
	Side            OptionSide     `json:"side"`
	Expiry          time.Time      `json:"expiry"`
	SettlementPrice Amount         `json:"settlement_price"`
}

// RewardAccrual is an amount of reward accrued by a staked write position.
type RewardAccrual struct {
	Token    common.Address `json:"token"`
	Amount   Amount         `json:"amount"`
	Symbol   string         `json:"symbol"`
	IsOption bool           `json:"is_option"`
	Option   *OptionRef     `json:"option,omitempty"`
}

// WriteLedgerRecord is a ledger-indexed write (liquidity) position.
type WriteLedgerRecord struct {
	PositionID     string          `json:"position_id"`
	Vault          common.Address  `json:"vault"`
	Epoch          uint64          `json:"epoch"`
	Strike         Amount          `json:"strike"`
	Side           OptionSide      `json:"side"`
	Collateral     Amount          `json:"collateral"`
	RewardInfo     []RewardInfo    `json:"reward_info"`
	RewardsAccrued []RewardAccrual `json:"rewards_accrued"`
}

// WritePositionRecord is an ActivePosition on the liquidity-provider side.
type WritePositionRecord struct {
	ActivePosition
	PositionID       string          `json:"position_id"`
	Collateral       Amount          `json:"collateral"`
	RewardInfo       []RewardInfo    `json:"reward_info"`
	RewardsAccrued   []RewardAccrual `json:"rewards_accrued"`
	Phase            LifecyclePhase  `json:"phase"`
	CanBeStaked      bool            `json:"can_be_staked"`
	CanBeClaimedOnly bool            `json:"can_be_claimed_only"`
	CanBeWithdrawn   bool            `json:"can_be_withdrawn"`
	Settleable       []RewardAccrual `json:"settleable,omitempty"`
}

// NewWritePosition creates a write position from a ledger record with the
// blocked phase until the lifecycle is evaluated.
func NewWritePosition(r WriteLedgerRecord) WritePositionRecord {
	return WritePositionRecord{
		ActivePosition: ActivePosition{
			Vault:   r.Vault,
			Epoch:   r.Epoch,
			Strike:  r.Strike,
			Side:    r.Side,
			Balance: r.Collateral,
			Origin:  OriginLedger,
			Status:  StatusActive,
		},
		PositionID:     r.PositionID,
		Collateral:     r.Collateral,
		RewardInfo:     append([]RewardInfo(nil), r.RewardInfo...),
		RewardsAccrued: append([]RewardAccrual(nil), r.RewardsAccrued...),
		Phase:          PhaseBlocked,
	}
}
