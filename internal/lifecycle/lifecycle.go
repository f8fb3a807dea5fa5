// Package lifecycle derives the phase and the single valid action of a
// write position.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/settlement"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Guard predicates, evaluated in this order by Phase.

// CanBeStaked: reward streams exist, nothing has accrued and the epoch is live.
func CanBeStaked(w *models.WritePositionRecord, now time.Time) bool {
	return len(w.RewardInfo) > 0 && len(w.RewardsAccrued) == 0 && !w.Expired(now)
}

// CanBeClaimedOnly: rewards have accrued and the epoch is live.
func CanBeClaimedOnly(w *models.WritePositionRecord, now time.Time) bool {
	return len(w.RewardsAccrued) > 0 && !w.Expired(now)
}

// CanBeWithdrawn: the epoch has expired.
func CanBeWithdrawn(w *models.WritePositionRecord, now time.Time) bool {
	return w.Expired(now)
}

// Phase returns the phase selected by the first matching guard. Accrual
// entries that are all zero mean the position is staked with nothing to
// claim yet.
func Phase(w *models.WritePositionRecord, now time.Time) models.LifecyclePhase {
	switch {
	case CanBeStaked(w, now):
		return models.PhaseStakeable
	case CanBeClaimedOnly(w, now):
		if !hasClaimable(w.RewardsAccrued) {
			return models.PhaseStaked
		}
		return models.PhaseClaimOnly
	case CanBeWithdrawn(w, now):
		return models.PhaseWithdrawable
	default:
		return models.PhaseBlocked
	}
}

func hasClaimable(accrued []models.RewardAccrual) bool {
	for _, a := range accrued {
		if a.Amount.Sign() > 0 {
			return true
		}
	}
	return false
}

// Evaluator applies the lifecycle at a point in time.
type Evaluator struct {
	now    func() time.Time
	logger logrus.FieldLogger
}

// NewEvaluator creates an Evaluator. A nil clock uses time.Now.
func NewEvaluator(now func() time.Time, logger logrus.FieldLogger) *Evaluator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evaluator{now: now, logger: logger}
}

// Apply writes the guard flags, the phase and the settleable rewards of w.
func (e *Evaluator) Apply(w *models.WritePositionRecord) {
	now := e.now()
	w.CanBeStaked = CanBeStaked(w, now)
	w.CanBeClaimedOnly = CanBeClaimedOnly(w, now)
	w.CanBeWithdrawn = CanBeWithdrawn(w, now)
	w.Phase = Phase(w, now)
	if w.Phase == models.PhaseStaked {
		// Nothing accrued is claimable yet.
		w.CanBeClaimedOnly = false
	}

	w.Settleable = nil
	for _, a := range w.RewardsAccrued {
		if res, ok := settlement.ForReward(a, now); ok && res.CanSettle {
			w.Settleable = append(w.Settleable, a)
		}
	}
}

// ApplyAll applies the lifecycle to every position in place.
func (e *Evaluator) ApplyAll(ws []models.WritePositionRecord) {
	for i := range ws {
		e.Apply(&ws[i])
	}
}

// NextAction returns the action the current phase allows, or nil when the
// position is staked or blocked. Apply must have run first.
func (e *Evaluator) NextAction(w *models.WritePositionRecord, owner common.Address) *models.ActionRequest {
	kind := w.Phase.Action()
	if kind == "" {
		return nil
	}
	req := &models.ActionRequest{
		ID:         uuid.NewString(),
		Kind:       kind,
		Vault:      w.Vault,
		Epoch:      w.Epoch,
		Strike:     w.Strike,
		Side:       w.Side,
		PositionID: w.PositionID,
		Recipient:  owner,
	}
	switch kind {
	case models.ActionStake, models.ActionWithdraw:
		req.Amount = w.Collateral
	}
	return req
}

// SettleActions returns one settle request per option-token reward that is
// worth settling.
func (e *Evaluator) SettleActions(w *models.WritePositionRecord, owner common.Address) []models.ActionRequest {
	now := e.now()
	var out []models.ActionRequest
	for _, a := range w.RewardsAccrued {
		if req, _ := settlement.RewardSettleRequest(a, owner, now); req != nil {
			out = append(out, *req)
		}
	}
	return out
}

// CheckTransitions compares the phases of the previous pass with the current
// one and returns an error per write position whose phase moved in a way
// the transition table does not allow.
func (e *Evaluator) CheckTransitions(prev, next []models.WritePositionRecord) []error {
	before := make(map[string]models.LifecyclePhase, len(prev))
	for _, w := range prev {
		before[writeID(w)] = w.Phase
	}

	var errs []error
	for _, w := range next {
		from, ok := before[writeID(w)]
		if !ok {
			continue
		}
		if err := models.IsValidPhaseTransition(from, w.Phase); err != nil {
			e.logger.WithFields(logrus.Fields{
				"position_id": w.PositionID,
				"vault":       w.Vault.Hex(),
				"from":        from,
				"to":          w.Phase,
			}).Warn("unexpected phase transition")
			errs = append(errs, fmt.Errorf("write position %s: %w", w.PositionID, err))
			continue
		}
		if from != w.Phase {
			e.logger.WithFields(logrus.Fields{
				"position_id": w.PositionID,
				"condition":   models.TransitionCondition(from, w.Phase),
			}).Infof("write position %s -> %s", from, w.Phase)
		}
	}
	return errs
}

func writeID(w models.WritePositionRecord) string {
	return w.Vault.Hex() + "/" + w.PositionID
}
