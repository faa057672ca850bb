package battle

import (
	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/catalog"
)

// Policy selects the next action for a side. Implementations must only
// produce actions the engine would accept; there is no privileged path
// around legality checks.
type Policy interface {
	Decide(state *State, bctx *Context, side Side) Action
}

// StandardPolicy is the default opponent strategy. Priority order:
// mandatory promotion, board setup, lethal attack, best available
// attack, energy attachment, bench development, end turn. Ties are
// always broken by the lowest index (attack index, bench slot, hand
// position), which keeps decisions reproducible.
type StandardPolicy struct {
	logger *zap.Logger
}

// NewStandardPolicy creates the default policy.
func NewStandardPolicy(logger *zap.Logger) *StandardPolicy {
	return &StandardPolicy{logger: logger}
}

// Decide returns one action for side. Callers apply it through the
// engine and call Decide again until END_TURN or a terminal state.
func (p *StandardPolicy) Decide(state *State, bctx *Context, side Side) Action {
	ps := state.SideState(side)

	if ps.PendingPromotion {
		if slot, ok := p.bestBenchSlot(ps, bctx); ok {
			return Action{Type: ActionSwitchActive, BenchSlot: slot}
		}
	}

	if ps.Active == nil {
		if slot, ok := p.bestBenchSlot(ps, bctx); ok {
			return Action{Type: ActionSwitchActive, BenchSlot: slot}
		}
		if id, ok := p.strongestHandCard(ps, bctx); ok {
			return Action{Type: ActionPlaceActive, CardInstanceID: id}
		}
		return Action{Type: ActionEndTurn}
	}

	if action, ok := p.bestAttack(state, bctx, side); ok {
		return action
	}

	if !ps.EnergyAttachedThisTurn && ps.EnergyBudget > 0 {
		if target, element, ok := p.bestEnergyTarget(ps, bctx); ok {
			return Action{Type: ActionAttachEnergy, CardInstanceID: target, EnergyType: element}
		}
	}

	if slot := p.firstEmptyBenchSlot(ps); slot >= 0 {
		if id, ok := p.strongestHandCard(ps, bctx); ok {
			return Action{Type: ActionPlaceBench, CardInstanceID: id, BenchSlot: slot}
		}
	}

	return Action{Type: ActionEndTurn}
}

// bestBenchSlot scores each occupied slot and returns the strongest.
func (p *StandardPolicy) bestBenchSlot(ps *PlayerState, bctx *Context) (int, bool) {
	bestSlot, bestScore := -1, -1.0
	for slot, ref := range ps.Bench {
		if ref == nil {
			continue
		}
		inst := bctx.Instance(ref.InstanceID)
		if inst == nil {
			continue
		}
		if score := promotionScore(inst); score > bestScore {
			bestScore = score
			bestSlot = slot
		}
	}
	return bestSlot, bestSlot >= 0
}

// promotionScore weighs current HP, attached energy, attacks that are
// already payable, and attacks one energy away from payable.
func promotionScore(inst *CardInstance) float64 {
	score := float64(inst.HP)
	score += float64(len(inst.Energy)) * 10

	for _, atk := range inst.Attacks {
		if CheckAttackCost(inst.Energy, atk.Cost) == nil {
			score += 25
		} else if len(inst.Energy)+1 >= len(atk.Cost) {
			score += float64(atk.Damage) * 0.5
		}
	}
	return score
}

func (p *StandardPolicy) strongestHandCard(ps *PlayerState, bctx *Context) (string, bool) {
	bestID, bestHP := "", -1
	for _, ref := range ps.Hand {
		inst := bctx.Instance(ref.InstanceID)
		if inst == nil {
			continue
		}
		if inst.MaxHP > bestHP {
			bestHP = inst.MaxHP
			bestID = ref.InstanceID
		}
	}
	return bestID, bestID != ""
}

// bestAttack prefers a knockout when one is payable, otherwise the
// highest-value payable attack. Value is damage plus a bonus for
// knockout potential and for damage of 30 or more.
func (p *StandardPolicy) bestAttack(state *State, bctx *Context, side Side) (Action, bool) {
	ps := state.SideState(side)
	enemy := state.SideState(side.Other())
	if ps.Active == nil || enemy.Active == nil {
		return Action{}, false
	}
	attacker := bctx.Instance(ps.Active.InstanceID)
	defender := bctx.Instance(enemy.Active.InstanceID)
	if attacker == nil || defender == nil {
		return Action{}, false
	}

	lethalIdx, lethalDamage := -1, -1
	bestIdx, bestValue := -1, 0
	for i, atk := range attacker.Attacks {
		if CheckAttackCost(attacker.Energy, atk.Cost) != nil {
			continue
		}
		damage := DamageAgainst(attacker.Element, defender, atk.Damage)

		if damage >= defender.HP && damage > lethalDamage {
			lethalIdx, lethalDamage = i, damage
		}

		value := damage
		if damage >= defender.HP {
			value += 50
		}
		if damage >= 30 {
			value += 10
		}
		if value > bestValue {
			bestIdx, bestValue = i, value
		}
	}

	if lethalIdx >= 0 {
		return Action{Type: ActionAttack, AttackIndex: lethalIdx}, true
	}
	if bestIdx >= 0 {
		return Action{Type: ActionAttack, AttackIndex: bestIdx}, true
	}
	return Action{}, false
}

// bestEnergyTarget walks a priority chain: active one energy away from
// an attack, active with no energy, a bench card one energy away, the
// active while it holds fewer than three, then the first bench card
// holding fewer than two.
func (p *StandardPolicy) bestEnergyTarget(ps *PlayerState, bctx *Context) (string, catalog.Element, bool) {
	var active *CardInstance
	if ps.Active != nil {
		active = bctx.Instance(ps.Active.InstanceID)
	}
	var bench []*CardInstance
	for _, ref := range ps.Bench {
		if ref == nil {
			continue
		}
		if inst := bctx.Instance(ref.InstanceID); inst != nil {
			bench = append(bench, inst)
		}
	}

	pick := func(inst *CardInstance) (string, catalog.Element, bool) {
		element := attachableElement(inst)
		if element == "" {
			return "", "", false
		}
		return inst.InstanceID, element, true
	}

	if active != nil && oneEnergyAway(active) {
		return pick(active)
	}
	if active != nil && len(active.Energy) == 0 {
		return pick(active)
	}
	for _, inst := range bench {
		if oneEnergyAway(inst) {
			return pick(inst)
		}
	}
	if active != nil && len(active.Energy) < 3 {
		return pick(active)
	}
	if len(bench) > 0 && len(bench[0].Energy) < 2 {
		return pick(bench[0])
	}
	return "", "", false
}

// attachableElement chooses which element to attach to inst: its own
// element, or the first non-Colorless element in its attack costs when
// the card itself is Colorless. A card whose costs are entirely
// Colorless accepts any element, so a fixed one is used for
// determinism. An empty result means the card has no attacks at all.
func attachableElement(inst *CardInstance) catalog.Element {
	if inst.Element != "" && inst.Element != catalog.Colorless {
		return inst.Element
	}
	for _, atk := range inst.Attacks {
		for _, el := range atk.Cost {
			if el != catalog.Colorless {
				return el
			}
		}
	}
	if len(inst.Attacks) > 0 {
		return catalog.Fire
	}
	return ""
}

func oneEnergyAway(inst *CardInstance) bool {
	have := len(inst.Energy)
	for _, atk := range inst.Attacks {
		need := len(atk.Cost)
		if have < need && have+1 >= need {
			return true
		}
	}
	return false
}

func (p *StandardPolicy) firstEmptyBenchSlot(ps *PlayerState) int {
	for slot, ref := range ps.Bench {
		if ref == nil {
			return slot
		}
	}
	return -1
}
