package battle

import "github.com/tcgarena/battle-server/internal/catalog"

// Setup builds the starting state and context for a new battle from two
// assembled decks. Each side's opening hand is dealt off the top of its
// (already shuffled) deck; actives and benches start empty and are filled
// by the players' own placement actions.
func Setup(id string, rules Rules, firstOwner Side, playerDeck, opponentDeck []*CardInstance) (*State, *Context) {
	state := NewState(id, rules, firstOwner)
	bctx := NewContext()

	deal(state, bctx, SidePlayer, playerDeck)
	deal(state, bctx, SideOpponent, opponentDeck)

	return state, bctx
}

func deal(state *State, bctx *Context, side Side, cards []*CardInstance) {
	ps := state.SideState(side)
	handSize := state.Rules.HandSize
	if handSize > len(cards) {
		handSize = len(cards)
	}

	for i, inst := range cards {
		bctx.Add(inst)
		ref := CardRef{CatalogID: inst.CatalogID, InstanceID: inst.InstanceID}
		if i < handSize {
			ps.Hand = append(ps.Hand, ref)
		} else {
			ps.Deck = append(ps.Deck, ref)
		}
		state.HPByInstance[inst.InstanceID] = inst.HP
		state.EnergyByInstance[inst.InstanceID] = len(inst.Energy)
		state.EnergyTypesByInstance[inst.InstanceID] = append([]catalog.Element(nil), inst.Energy...)
	}
}
