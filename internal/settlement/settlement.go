// Package settlement computes expiry payoffs and decides whether settling
// an option is worth doing.
package settlement

import (
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Input describes one option series at settlement. Prices are in quote
// units, Size in option units.
type Input struct {
	Side            models.OptionSide
	Strike          decimal.Decimal
	SettlementPrice decimal.Decimal
	Size            decimal.Decimal
	PremiumPaid     decimal.Decimal
	Expired         bool
}

// Result holds the payoff and the settle decision.
type Result struct {
	Payoff    decimal.Decimal `json:"payoff"`
	PnL       decimal.Decimal `json:"pnl"`
	CanSettle bool            `json:"can_settle"`
}

// Calculate returns payoff and pnl. Settling is only allowed once the epoch
// has expired, a settlement price exists and pnl is strictly positive.
func Calculate(in Input) Result {
	var intrinsic decimal.Decimal
	if in.Side.IsPut() {
		intrinsic = in.Strike.Sub(in.SettlementPrice)
	} else {
		intrinsic = in.SettlementPrice.Sub(in.Strike)
	}
	if intrinsic.IsNegative() {
		intrinsic = decimal.Zero
	}

	payoff := intrinsic.Mul(in.Size)
	pnl := payoff.Sub(in.PremiumPaid)
	settled := !in.SettlementPrice.IsZero()

	return Result{
		Payoff:    payoff,
		PnL:       pnl,
		CanSettle: in.Expired && settled && pnl.IsPositive(),
	}
}

// ForPosition evaluates a reconciled buy position at now.
func ForPosition(p models.ActivePosition, now time.Time) Result {
	return Calculate(Input{
		Side:            p.Side,
		Strike:          p.Strike.Decimal(),
		SettlementPrice: p.SettlementPrice.Decimal(),
		Size:            p.Balance.Decimal(),
		PremiumPaid:     p.Premium.Decimal(),
		Expired:         p.Expired(now),
	})
}

// ForReward evaluates a reward that is itself an option token. Rewards have
// no premium paid. ok is false when the reward is not an option.
func ForReward(r models.RewardAccrual, now time.Time) (res Result, ok bool) {
	if !r.IsOption || r.Option == nil {
		return Result{}, false
	}
	o := r.Option
	expired := !o.Expiry.IsZero() && !now.Before(o.Expiry)
	return Calculate(Input{
		Side:            o.Side,
		Strike:          o.Strike.Decimal(),
		SettlementPrice: o.SettlementPrice.Decimal(),
		Size:            r.Amount.Decimal(),
		Expired:         expired,
	}), true
}

// SettleRequest builds the settle action for p, or nil when settling is not
// allowed.
func SettleRequest(p models.ActivePosition, recipient common.Address, now time.Time) (*models.ActionRequest, Result) {
	res := ForPosition(p, now)
	if !res.CanSettle {
		return nil, res
	}
	return &models.ActionRequest{
		ID:          uuid.NewString(),
		Kind:        models.ActionSettle,
		Vault:       p.Vault,
		Epoch:       p.Epoch,
		Strike:      p.Strike,
		Side:        p.Side,
		OptionToken: p.OptionToken,
		Amount:      p.Balance,
		Recipient:   recipient,
	}, res
}

// RewardSettleRequest builds the settle action for an option-token reward,
// or nil when settling it is not allowed.
func RewardSettleRequest(r models.RewardAccrual, recipient common.Address, now time.Time) (*models.ActionRequest, Result) {
	res, ok := ForReward(r, now)
	if !ok || !res.CanSettle {
		return nil, res
	}
	o := r.Option
	return &models.ActionRequest{
		ID:          uuid.NewString(),
		Kind:        models.ActionSettle,
		Vault:       o.Vault,
		Epoch:       o.Epoch,
		Strike:      o.Strike,
		Side:        o.Side,
		OptionToken: r.Token,
		Amount:      r.Amount,
		Recipient:   recipient,
	}, res
}
