package battle

import "github.com/tcgarena/battle-server/internal/catalog"

// ActionType names one of the battle actions.
type ActionType string

const (
	ActionPlaceActive  ActionType = "PLACE_ACTIVE"
	ActionPlaceBench   ActionType = "PLACE_BENCH"
	ActionAttachEnergy ActionType = "ATTACH_ENERGY"
	ActionAttack       ActionType = "ATTACK"
	ActionRetreat      ActionType = "RETREAT"
	ActionSwitchActive ActionType = "SWITCH_ACTIVE"
	ActionEndTurn      ActionType = "END_TURN"
	ActionSurrender    ActionType = "SURRENDER"
)

// Action is one requested battle action. Which fields are meaningful
// depends on Type; the engine validates the ones it needs.
type Action struct {
	Type ActionType `json:"type"`

	// CardInstanceID addresses a hand card for PLACE_ACTIVE and
	// PLACE_BENCH, and the attachment target for ATTACH_ENERGY.
	CardInstanceID string `json:"cardInstanceId,omitempty"`

	// BenchSlot addresses a bench position for PLACE_BENCH, RETREAT
	// and SWITCH_ACTIVE.
	BenchSlot int `json:"benchSlot"`

	// AttackIndex selects one of the active card's attacks.
	AttackIndex int `json:"attackIndex"`

	// EnergyType is the element attached by ATTACH_ENERGY.
	EnergyType catalog.Element `json:"energyType,omitempty"`
}

// Outcome describes what a successfully applied action did, in the form
// the hosting shells broadcast or persist.
type Outcome struct {
	Action Action `json:"action"`
	Side   Side   `json:"side"`

	// Damage dealt by an ATTACK after weakness and resistance, zero for
	// every other action type.
	Damage int `json:"damage,omitempty"`

	// KnockedOut is the instance id of a card discarded at zero HP.
	KnockedOut string `json:"knockedOut,omitempty"`

	// PromotionRequired names the side that must promote from bench
	// before its next action.
	PromotionRequired Side `json:"promotionRequired,omitempty"`

	// DrewCard is set when END_TURN triggered a draw for the new owner.
	DrewCard bool `json:"drewCard,omitempty"`

	// Finished and Winner report a terminal transition caused by this
	// action. The engine is the only component that sets a winner.
	Finished bool `json:"finished,omitempty"`
	Winner   Side `json:"winner,omitempty"`
}
