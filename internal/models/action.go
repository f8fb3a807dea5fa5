package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// ActionKind names an externally triggerable vault action.
type ActionKind string

const (
	ActionStake    ActionKind = "stake"
	ActionClaim    ActionKind = "claim"
	ActionWithdraw ActionKind = "withdraw"
	ActionSettle   ActionKind = "settle"
)

// ActionRequest carries everything a transaction submitter needs for one
// action. The engine never submits it.
type ActionRequest struct {
	ID          string         `json:"id"`
	Kind        ActionKind     `json:"kind"`
	Vault       common.Address `json:"vault"`
	Epoch       uint64         `json:"epoch"`
	Strike      Amount         `json:"strike"`
	Side        OptionSide     `json:"side"`
	PositionID  string         `json:"position_id,omitempty"`
	OptionToken common.Address `json:"option_token,omitempty"`
	Amount      Amount         `json:"amount"`
	Recipient   common.Address `json:"recipient"`
}
