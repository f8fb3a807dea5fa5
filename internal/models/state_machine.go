package models

import "fmt"

// LifecyclePhase represents the post-purchase phase of a write position
type LifecyclePhase string

const (
	PhaseStakeable    LifecyclePhase = "stakeable"    // Rewards available, not yet staked
	PhaseStaked       LifecyclePhase = "staked"       // Staked, nothing claimable yet
	PhaseClaimOnly    LifecyclePhase = "claim_only"   // Rewards accrued before expiry
	PhaseWithdrawable LifecyclePhase = "withdrawable" // Epoch expired, collateral can be withdrawn
	PhaseBlocked      LifecyclePhase = "blocked"      // No action currently valid
)

// AllPhases lists every phase in guard priority order, blocked last.
var AllPhases = []LifecyclePhase{
	PhaseStakeable,
	PhaseStaked,
	PhaseClaimOnly,
	PhaseWithdrawable,
	PhaseBlocked,
}

// Valid returns true if the phase is one of the defined constants
func (p LifecyclePhase) Valid() bool {
	for _, known := range AllPhases {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further phase can follow within the epoch.
func (p LifecyclePhase) Terminal() bool {
	return p == PhaseWithdrawable
}

// Action returns the single action a phase allows, or "" when none.
func (p LifecyclePhase) Action() ActionKind {
	switch p {
	case PhaseStakeable:
		return ActionStake
	case PhaseClaimOnly:
		return ActionClaim
	case PhaseWithdrawable:
		return ActionWithdraw
	default:
		return ""
	}
}

// Description returns a human-readable description of the phase
func (p LifecyclePhase) Description() string {
	switch p {
	case PhaseStakeable:
		return "Reward streams available: position can be staked"
	case PhaseStaked:
		return "Staked: waiting for rewards to accrue"
	case PhaseClaimOnly:
		return "Rewards accrued: claim available until expiry"
	case PhaseWithdrawable:
		return "Epoch expired: collateral and rewards can be withdrawn"
	case PhaseBlocked:
		return "No action available"
	default:
		return "Unknown phase"
	}
}

// PhaseTransition defines a phase change that may be observed between two
// reconciliation passes of the same write position.
type PhaseTransition struct {
	From        LifecyclePhase
	To          LifecyclePhase
	Condition   string
	Description string
}

// ValidPhaseTransitions lists the phase changes that can legitimately occur.
var ValidPhaseTransitions = []PhaseTransition{
	// Staking
	{PhaseBlocked, PhaseStakeable, "rewards_listed", "Reward streams became available"},
	{PhaseStakeable, PhaseStaked, "staked", "Position staked, no accrual yet"},
	{PhaseStakeable, PhaseClaimOnly, "rewards_accrued", "Staked and rewards accrued"},
	{PhaseStaked, PhaseClaimOnly, "rewards_accrued", "Rewards started accruing"},
	{PhaseClaimOnly, PhaseStaked, "rewards_claimed", "Accrued rewards claimed"},

	// Expiry from any pre-expiry phase
	{PhaseBlocked, PhaseWithdrawable, "epoch_expired", "Epoch expired"},
	{PhaseStakeable, PhaseWithdrawable, "epoch_expired", "Epoch expired before staking"},
	{PhaseStaked, PhaseWithdrawable, "epoch_expired", "Epoch expired while staked"},
	{PhaseClaimOnly, PhaseWithdrawable, "epoch_expired", "Epoch expired with rewards accrued"},

	// Reward streams removed before staking
	{PhaseStakeable, PhaseBlocked, "rewards_delisted", "Reward streams removed"},
}

// IsValidPhaseTransition checks whether from -> to is a known transition.
// Staying in the same phase is always valid.
func IsValidPhaseTransition(from, to LifecyclePhase) error {
	if from == to {
		return nil
	}
	for _, tr := range ValidPhaseTransitions {
		if tr.From == from && tr.To == to {
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition from %s to %s", from, to)
}

// TransitionCondition returns the condition label of a valid transition.
func TransitionCondition(from, to LifecyclePhase) string {
	for _, tr := range ValidPhaseTransitions {
		if tr.From == from && tr.To == to {
			return tr.Condition
		}
	}
	return ""
}
