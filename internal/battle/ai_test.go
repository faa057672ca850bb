package battle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tcgarena/battle-server/internal/catalog"
)

func policyFixture(t *testing.T) (*battleFixture, *StandardPolicy) {
	return newFixture(t), NewStandardPolicy(zaptest.NewLogger(t))
}

func TestPolicyPrefersLethalOverBiggerDamage(t *testing.T) {
	f, policy := policyFixture(t)
	f.state.TurnOwner = SideOpponent
	f.setActive(SideOpponent, f.spawn("ai", catalog.CardDef{
		ID: "c-ai", Name: "Striker", Element: catalog.Fire, MaxHP: 100,
		Attacks: []catalog.Attack{
			{Name: "Flame Burst", Damage: 80, Cost: []catalog.Element{catalog.Fire}},
			{Name: "Ember", Damage: 30, Cost: []catalog.Element{catalog.Fire}},
		},
	}))
	f.setActive(SidePlayer, f.spawn("tgt", pikachuDef()))
	f.attach("ai", catalog.Fire)
	f.bctx.Instance("tgt").HP = 25
	f.state.HPByInstance["tgt"] = 25

	// Both attacks knock out at 25 HP; the lethal scan keeps the higher
	// damage and the engine accepts the choice.
	action := policy.Decide(f.state, f.bctx, SideOpponent)
	assert.Equal(t, ActionAttack, action.Type)
	assert.Equal(t, 0, action.AttackIndex)

	_, err := f.engine.Apply(f.state, f.bctx, SideOpponent, action)
	require.NoError(t, err)
}

func TestPolicyNeverProposesUnpayableAttack(t *testing.T) {
	f, policy := policyFixture(t)
	f.state.TurnOwner = SideOpponent
	f.state.Opponent.EnergyBudget = 1
	f.setActive(SideOpponent, f.spawn("ai", charizardDef()))
	f.setActive(SidePlayer, f.spawn("tgt", pikachuDef()))

	// No energy attached: the only attack costs two Fire, so the policy
	// falls through to attaching energy instead.
	action := policy.Decide(f.state, f.bctx, SideOpponent)
	assert.Equal(t, ActionAttachEnergy, action.Type)
	assert.Equal(t, "ai", action.CardInstanceID)
	assert.Equal(t, catalog.Fire, action.EnergyType)

	_, err := f.engine.Apply(f.state, f.bctx, SideOpponent, action)
	require.NoError(t, err)
}

func TestPolicyPromotesAfterKnockout(t *testing.T) {
	f, policy := policyFixture(t)
	f.state.TurnOwner = SidePlayer
	f.state.Opponent.PendingPromotion = true

	// Slot 2 has energy and a payable attack, slot 0 is a bare card.
	f.setBench(SideOpponent, 0, f.spawn("weak", squirtleDef()))
	f.setBench(SideOpponent, 2, f.spawn("strong", pikachuDef()))
	f.attach("strong", catalog.Lightning, catalog.Lightning)

	action := policy.Decide(f.state, f.bctx, SideOpponent)
	assert.Equal(t, ActionSwitchActive, action.Type)
	assert.Equal(t, 2, action.BenchSlot)

	_, err := f.engine.Apply(f.state, f.bctx, SideOpponent, action)
	require.NoError(t, err)
	assert.Equal(t, "strong", f.state.Opponent.Active.InstanceID)
}

func TestPolicyPlacesStrongestFromHand(t *testing.T) {
	f, policy := policyFixture(t)
	f.state.TurnOwner = SideOpponent
	f.addHand(SideOpponent, f.spawn("h-sq", squirtleDef()))
	f.addHand(SideOpponent, f.spawn("h-char", charizardDef()))

	action := policy.Decide(f.state, f.bctx, SideOpponent)
	assert.Equal(t, ActionPlaceActive, action.Type)
	assert.Equal(t, "h-char", action.CardInstanceID)
}

func TestPolicyEndsTurnWhenNothingLeft(t *testing.T) {
	f, policy := policyFixture(t)
	f.state.TurnOwner = SideOpponent
	f.setActive(SideOpponent, f.spawn("ai", charizardDef()))
	f.setActive(SidePlayer, f.spawn("tgt", pikachuDef()))
	f.state.Opponent.EnergyAttachedThisTurn = true

	// Cannot attack, already attached, nothing in hand.
	action := policy.Decide(f.state, f.bctx, SideOpponent)
	assert.Equal(t, ActionEndTurn, action.Type)
}

// The policy drives full turns that the engine accepts end to end.
func TestPolicyTurnIsAlwaysLegal(t *testing.T) {
	f, policy := policyFixture(t)
	f.state.TurnOwner = SideOpponent
	f.state.Opponent.EnergyBudget = 1
	f.setActive(SidePlayer, f.spawn("tgt", pikachuDef()))
	f.addHand(SideOpponent, f.spawn("h1", charizardDef()))
	f.addHand(SideOpponent, f.spawn("h2", squirtleDef()))
	f.addHand(SideOpponent, f.spawn("h3", pikachuDef()))

	for i := 0; i < 20; i++ {
		action := policy.Decide(f.state, f.bctx, SideOpponent)
		_, err := f.engine.Apply(f.state, f.bctx, SideOpponent, action)
		require.NoError(t, err, "step %d action %s", i, action.Type)
		if action.Type == ActionEndTurn || f.state.Finished() {
			break
		}
	}
	assert.Equal(t, SidePlayer, f.state.TurnOwner)
}
