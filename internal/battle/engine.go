package battle

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/catalog"
)

// Engine validates and applies battle actions. It is the single authority
// for damage, costs, promotion and the win condition; neither hosting
// shell may declare a winner on its own.
//
// Apply mutates the given state and context in place on success. On any
// error the state and context are untouched, so callers never need to
// roll back.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Apply runs one action for side against state. It returns the outcome
// on success or a typed error on rejection.
func (e *Engine) Apply(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	if state.Finished() {
		return nil, ErrBattleFinished
	}
	if state.Phase != PhasePlaying {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, state.Phase)
	}
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrIllegalTarget, side)
	}

	// Promotion after a knockout may happen outside the owner's turn;
	// surrender is always available. Everything else belongs to the
	// turn owner.
	if side != state.TurnOwner && action.Type != ActionSurrender {
		if !(action.Type == ActionSwitchActive && state.SideState(side).PendingPromotion) {
			return nil, ErrWrongTurn
		}
	}

	// A side owing a promotion may only promote or surrender.
	if state.SideState(side).PendingPromotion &&
		action.Type != ActionSwitchActive && action.Type != ActionSurrender {
		return nil, fmt.Errorf("%w: must promote a bench card first", ErrIllegalTarget)
	}

	var (
		outcome *Outcome
		err     error
	)
	switch action.Type {
	case ActionPlaceActive:
		outcome, err = e.placeActive(state, bctx, side, action)
	case ActionPlaceBench:
		outcome, err = e.placeBench(state, bctx, side, action)
	case ActionAttachEnergy:
		outcome, err = e.attachEnergy(state, bctx, side, action)
	case ActionAttack:
		outcome, err = e.attack(state, bctx, side, action)
	case ActionRetreat:
		outcome, err = e.retreat(state, bctx, side, action)
	case ActionSwitchActive:
		outcome, err = e.switchActive(state, bctx, side, action)
	case ActionEndTurn:
		outcome, err = e.endTurn(state, bctx, side, action)
	case ActionSurrender:
		outcome, err = e.surrender(state, side, action)
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrIllegalTarget, action.Type)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("action applied",
		zap.String("battle_id", state.ID),
		zap.String("side", string(side)),
		zap.String("action", string(action.Type)),
		zap.Int("turn", state.TurnNumber))
	return outcome, nil
}

func (e *Engine) placeActive(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	ps := state.SideState(side)
	if ps.Active != nil {
		return nil, fmt.Errorf("%w: active slot already occupied", ErrIllegalTarget)
	}
	idx := ps.HandIndex(action.CardInstanceID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: card %s not in hand", ErrIllegalTarget, action.CardInstanceID)
	}

	ref := ps.Hand[idx]
	ps.Hand = append(ps.Hand[:idx], ps.Hand[idx+1:]...)
	ps.Active = &ref

	return &Outcome{Action: action, Side: side}, nil
}

func (e *Engine) placeBench(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	ps := state.SideState(side)
	if action.BenchSlot < 0 || action.BenchSlot >= len(ps.Bench) {
		return nil, fmt.Errorf("%w: bench slot %d out of range", ErrIllegalTarget, action.BenchSlot)
	}
	if ps.Bench[action.BenchSlot] != nil {
		return nil, fmt.Errorf("%w: bench slot %d occupied", ErrIllegalTarget, action.BenchSlot)
	}
	idx := ps.HandIndex(action.CardInstanceID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: card %s not in hand", ErrIllegalTarget, action.CardInstanceID)
	}

	ref := ps.Hand[idx]
	ps.Hand = append(ps.Hand[:idx], ps.Hand[idx+1:]...)
	ps.Bench[action.BenchSlot] = &ref

	return &Outcome{Action: action, Side: side}, nil
}

func (e *Engine) attachEnergy(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	ps := state.SideState(side)
	if ps.EnergyAttachedThisTurn {
		return nil, fmt.Errorf("%w: already attached energy this turn", ErrIllegalTarget)
	}
	if ps.EnergyBudget < 1 {
		return nil, fmt.Errorf("%w: no energy available this turn", ErrInsufficientEnergy)
	}
	if action.EnergyType == "" || action.EnergyType == catalog.Colorless {
		return nil, fmt.Errorf("%w: invalid energy type %q", ErrIllegalTarget, action.EnergyType)
	}

	target := bctx.Instance(action.CardInstanceID)
	if target == nil {
		return nil, fmt.Errorf("%w: unknown instance %s", ErrIllegalTarget, action.CardInstanceID)
	}
	if !e.onBoard(ps, action.CardInstanceID) {
		return nil, fmt.Errorf("%w: %s is not in play", ErrIllegalTarget, action.CardInstanceID)
	}
	if max := state.Rules.MaxEnergyPerCard; max > 0 && len(target.Energy) >= max {
		return nil, fmt.Errorf("%w: %s already holds the maximum %d energy",
			ErrIllegalTarget, action.CardInstanceID, max)
	}

	target.Energy = append(target.Energy, action.EnergyType)
	ps.EnergyBudget--
	ps.EnergyAttachedThisTurn = true
	e.syncInstance(state, target)

	return &Outcome{Action: action, Side: side}, nil
}

// onBoard reports whether instanceID is this side's active or on its bench.
// Energy may only be attached to cards in play, not to hand or deck cards.
func (e *Engine) onBoard(ps *PlayerState, instanceID string) bool {
	if ps.Active != nil && ps.Active.InstanceID == instanceID {
		return true
	}
	for _, ref := range ps.Bench {
		if ref != nil && ref.InstanceID == instanceID {
			return true
		}
	}
	return false
}

func (e *Engine) attack(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	attackerPS := state.SideState(side)
	defenderPS := state.SideState(side.Other())

	if attackerPS.Active == nil {
		return nil, fmt.Errorf("%w: no active card to attack with", ErrIllegalTarget)
	}
	if defenderPS.Active == nil {
		return nil, fmt.Errorf("%w: opponent has no active card", ErrIllegalTarget)
	}

	attacker := bctx.Instance(attackerPS.Active.InstanceID)
	defender := bctx.Instance(defenderPS.Active.InstanceID)
	if attacker == nil || defender == nil {
		return nil, fmt.Errorf("%w: missing card instance", ErrIllegalTarget)
	}
	if action.AttackIndex < 0 || action.AttackIndex >= len(attacker.Attacks) {
		return nil, fmt.Errorf("%w: attack index %d out of range", ErrIllegalTarget, action.AttackIndex)
	}

	atk := attacker.Attacks[action.AttackIndex]
	if err := CheckAttackCost(attacker.Energy, atk.Cost); err != nil {
		return nil, err
	}

	// Attached energy is checked against the cost but not consumed; it
	// stays on the card across turns.
	damage := DamageAgainst(attacker.Element, defender, atk.Damage)

	defender.HP -= damage
	if defender.HP < 0 {
		defender.HP = 0
	}
	e.syncInstance(state, defender)

	outcome := &Outcome{Action: action, Side: side, Damage: damage}

	if defender.HP == 0 {
		outcome.KnockedOut = defender.InstanceID
		e.knockout(state, bctx, side.Other())
		if state.Finished() {
			outcome.Finished = true
			outcome.Winner = state.Winner
		} else {
			outcome.PromotionRequired = side.Other()
		}
	}
	return outcome, nil
}

func (e *Engine) retreat(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	ps := state.SideState(side)
	if ps.Active == nil {
		return nil, fmt.Errorf("%w: no active card to retreat", ErrIllegalTarget)
	}
	if action.BenchSlot < 0 || action.BenchSlot >= len(ps.Bench) {
		return nil, fmt.Errorf("%w: bench slot %d out of range", ErrIllegalTarget, action.BenchSlot)
	}
	if ps.Bench[action.BenchSlot] == nil {
		return nil, fmt.Errorf("%w: bench slot %d is empty", ErrIllegalTarget, action.BenchSlot)
	}

	active := bctx.Instance(ps.Active.InstanceID)
	if active == nil {
		return nil, fmt.Errorf("%w: missing card instance", ErrIllegalTarget)
	}

	cost := RetreatCost(active.HP)
	if len(active.Energy) < cost {
		return nil, fmt.Errorf("%w: retreat needs %d energy, have %d",
			ErrInsufficientEnergy, cost, len(active.Energy))
	}

	// Retreat cost is element-agnostic; the paid energies are discarded.
	active.Energy = active.Energy[cost:]
	e.syncInstance(state, active)

	ps.Active, ps.Bench[action.BenchSlot] = ps.Bench[action.BenchSlot], ps.Active

	return &Outcome{Action: action, Side: side}, nil
}

func (e *Engine) switchActive(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	ps := state.SideState(side)
	if action.BenchSlot < 0 || action.BenchSlot >= len(ps.Bench) {
		return nil, fmt.Errorf("%w: bench slot %d out of range", ErrIllegalTarget, action.BenchSlot)
	}
	if ps.Bench[action.BenchSlot] == nil {
		return nil, fmt.Errorf("%w: bench slot %d is empty", ErrIllegalTarget, action.BenchSlot)
	}

	if ps.Active == nil {
		// Bench promotion: the slot empties instead of swapping.
		ps.Active = ps.Bench[action.BenchSlot]
		ps.Bench[action.BenchSlot] = nil
		ps.PendingPromotion = false
	} else {
		ps.Active, ps.Bench[action.BenchSlot] = ps.Bench[action.BenchSlot], ps.Active
	}

	return &Outcome{Action: action, Side: side}, nil
}

func (e *Engine) endTurn(state *State, bctx *Context, side Side, action Action) (*Outcome, error) {
	state.TurnOwner = side.Other()
	state.TurnNumber++

	next := state.SideState(state.TurnOwner)
	next.EnergyAttachedThisTurn = false
	next.EnergyBudget++

	outcome := &Outcome{Action: action, Side: side}
	if state.TurnNumber%state.Rules.DrawInterval == 0 && len(next.Deck) > 0 {
		drawn := next.Deck[0]
		next.Deck = next.Deck[1:]
		next.Hand = append(next.Hand, drawn)
		outcome.DrewCard = true
	}
	return outcome, nil
}

func (e *Engine) surrender(state *State, side Side, action Action) (*Outcome, error) {
	e.finish(state, side.Other())
	return &Outcome{
		Action:   action,
		Side:     side,
		Finished: true,
		Winner:   state.Winner,
	}, nil
}

// knockout moves side's active to discard, counts the knockout, and
// either requires a promotion or ends the battle.
func (e *Engine) knockout(state *State, bctx *Context, side Side) {
	ps := state.SideState(side)
	ref := *ps.Active
	ps.Active = nil
	ps.Discard = append(ps.Discard, ref)
	ps.Knockouts++

	e.logger.Info("card knocked out",
		zap.String("battle_id", state.ID),
		zap.String("side", string(side)),
		zap.String("instance_id", ref.InstanceID),
		zap.Int("knockouts", ps.Knockouts))

	if ps.Knockouts >= state.Rules.KnockoutTarget || ps.BenchCount() == 0 {
		e.finish(state, side.Other())
		return
	}
	ps.PendingPromotion = true
}

// finish is the only place a winner is assigned. It is idempotent in the
// sense that a finished battle is never finished again; Apply's terminal
// guard rejects all later actions.
func (e *Engine) finish(state *State, winner Side) {
	state.Phase = PhaseFinished
	state.Winner = winner
	e.logger.Info("battle finished",
		zap.String("battle_id", state.ID),
		zap.String("winner", string(winner)))
}

// syncInstance pushes an instance's mutable numbers into the state's
// persistable maps.
func (e *Engine) syncInstance(state *State, inst *CardInstance) {
	state.HPByInstance[inst.InstanceID] = inst.HP
	state.EnergyByInstance[inst.InstanceID] = len(inst.Energy)
	state.EnergyTypesByInstance[inst.InstanceID] = append([]catalog.Element(nil), inst.Energy...)
}

// CheckAttackCost verifies that attached covers cost under strict element
// matching: every non-Colorless slot needs an attached energy of exactly
// that element, Colorless slots accept any leftover energy, and no energy
// covers two slots.
func CheckAttackCost(attached []catalog.Element, cost []catalog.Element) error {
	if len(attached) < len(cost) {
		return fmt.Errorf("%w: need %d energy, have %d", ErrInsufficientEnergy, len(cost), len(attached))
	}

	have := make(map[catalog.Element]int, len(attached))
	for _, el := range attached {
		have[el]++
	}
	for _, el := range cost {
		if el == catalog.Colorless {
			continue
		}
		if have[el] == 0 {
			return fmt.Errorf("%w: missing %s energy", ErrInsufficientEnergy, el)
		}
		have[el]--
	}
	return nil
}

// DamageAgainst applies the defender's weakness and resistance to a base
// damage value from an attacker of the given element. Weakness doubles,
// resistance subtracts, and the result never goes below zero.
func DamageAgainst(attackerElement catalog.Element, defender *CardInstance, base int) int {
	damage := base
	for _, w := range defender.Weaknesses {
		if w.Element == attackerElement {
			damage *= 2
			break
		}
	}
	for _, r := range defender.Resistances {
		if r.Element == attackerElement {
			value := r.Value
			if value == 0 {
				value = catalog.DefaultResistanceValue
			}
			damage -= value
			break
		}
	}
	if damage < 0 {
		damage = 0
	}
	return damage
}

// RetreatCost tiers the cost by the active card's current HP.
func RetreatCost(currentHP int) int {
	switch {
	case currentHP >= 200:
		return 3
	case currentHP >= 100:
		return 2
	default:
		return 1
	}
}
