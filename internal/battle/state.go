package battle

import (
	"encoding/json"
	"fmt"

	"github.com/tcgarena/battle-server/internal/catalog"
)

// Side identifies one of the two seats in a battle.
type Side string

const (
	SidePlayer   Side = "player"
	SideOpponent Side = "opponent"
)

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SidePlayer {
		return SideOpponent
	}
	return SidePlayer
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SidePlayer || s == SideOpponent
}

// Phase is the battle lifecycle phase.
type Phase string

const (
	PhaseCoinFlip  Phase = "coin_flip"
	PhaseSelecting Phase = "selecting"
	PhasePlaying   Phase = "playing"
	PhaseFinished  Phase = "finished"
)

// CardRef ties a catalog definition to one physical copy in a battle.
// All runtime mutable state is keyed by InstanceID, never CatalogID,
// so duplicate copies of the same card stay distinguishable.
type CardRef struct {
	CatalogID  string `json:"catalogId"`
	InstanceID string `json:"instanceId"`
}

// Rules carries the tunable battle constants. Both hosting shells use
// DefaultRules unless configured otherwise.
type Rules struct {
	DeckSize       int
	HandSize       int
	BenchSize      int
	KnockoutTarget int
	DrawInterval   int

	// MaxEnergyPerCard caps the energy a single card can hold. Zero
	// disables the cap.
	MaxEnergyPerCard int
}

// DefaultRules returns the standard ruleset.
func DefaultRules() Rules {
	return Rules{
		DeckSize:         15,
		HandSize:         5,
		BenchSize:        3,
		KnockoutTarget:   3,
		DrawInterval:     3,
		MaxEnergyPerCard: 10,
	}
}

// PlayerState is one side's zones and per-turn counters. Bench slots are
// independently addressable; a nil entry is an empty slot, and the slice
// always has exactly BenchSize entries.
type PlayerState struct {
	Active  *CardRef   `json:"active"`
	Bench   []*CardRef `json:"bench"`
	Hand    []CardRef  `json:"hand"`
	Deck    []CardRef  `json:"deck"`
	Discard []CardRef  `json:"discard"`

	// Knockouts counts this side's own cards that were knocked out.
	// Reaching the knockout target loses the battle.
	Knockouts int `json:"knockouts"`

	// EnergyBudget is the turn resource spent by ATTACH_ENERGY. One unit
	// is granted each time this side becomes the turn owner.
	EnergyBudget int `json:"energyBudget"`

	// EnergyAttachedThisTurn limits attachment to once per turn.
	EnergyAttachedThisTurn bool `json:"energyAttachedThisTurn"`

	// PendingPromotion is set when this side's active was knocked out
	// while a bench card remained. The side must promote before taking
	// any other action.
	PendingPromotion bool `json:"pendingPromotion"`
}

// BenchCount returns the number of occupied bench slots.
func (p *PlayerState) BenchCount() int {
	n := 0
	for _, ref := range p.Bench {
		if ref != nil {
			n++
		}
	}
	return n
}

// HandIndex returns the position of instanceID in the hand, or -1.
func (p *PlayerState) HandIndex(instanceID string) int {
	for i, ref := range p.Hand {
		if ref.InstanceID == instanceID {
			return i
		}
	}
	return -1
}

// State is the full persistable battle state. The instance-keyed maps
// mirror the mutable numbers held on live CardInstances so the stateless
// PvE path can reconstruct them after a round trip through storage.
type State struct {
	ID         string `json:"id"`
	Phase      Phase  `json:"phase"`
	TurnOwner  Side   `json:"turnOwner"`
	TurnNumber int    `json:"turnNumber"`
	Winner     Side   `json:"winner,omitempty"`

	// PlayerID is the human player's user id on PvE battles, carried on
	// the snapshot so result events can name a real user. PvP rooms track
	// seats themselves and leave it empty.
	PlayerID string `json:"playerId,omitempty"`

	Player   *PlayerState `json:"player"`
	Opponent *PlayerState `json:"opponent"`

	HPByInstance          map[string]int               `json:"hpByInstance"`
	EnergyByInstance      map[string]int               `json:"energyByInstance"`
	EnergyTypesByInstance map[string][]catalog.Element `json:"energyTypesByInstance"`

	Rules Rules `json:"rules"`

	// Version guards read-modify-write cycles on persisted snapshots.
	// Storage rejects a write whose version does not match the stored row.
	Version int64 `json:"version"`
}

// NewState creates an empty playing-phase state with the given first
// turn owner, who starts with one unit of energy budget.
func NewState(id string, rules Rules, firstOwner Side) *State {
	s := &State{
		ID:                    id,
		Phase:                 PhasePlaying,
		TurnOwner:             firstOwner,
		TurnNumber:            1,
		Player:                newPlayerState(rules),
		Opponent:              newPlayerState(rules),
		HPByInstance:          make(map[string]int),
		EnergyByInstance:      make(map[string]int),
		EnergyTypesByInstance: make(map[string][]catalog.Element),
		Rules:                 rules,
		Version:               1,
	}
	s.SideState(firstOwner).EnergyBudget = 1
	return s
}

func newPlayerState(rules Rules) *PlayerState {
	return &PlayerState{
		Bench:   make([]*CardRef, rules.BenchSize),
		Hand:    []CardRef{},
		Deck:    []CardRef{},
		Discard: []CardRef{},
	}
}

// SideState returns the zones belonging to side.
func (s *State) SideState(side Side) *PlayerState {
	if side == SidePlayer {
		return s.Player
	}
	return s.Opponent
}

// Finished reports whether the battle has reached a terminal phase.
func (s *State) Finished() bool {
	return s.Phase == PhaseFinished
}

// AllInstanceIDs returns every instance id reachable from any zone on
// either side, in a stable zone-walk order.
func (s *State) AllInstanceIDs() []string {
	var ids []string
	for _, side := range []Side{SidePlayer, SideOpponent} {
		ps := s.SideState(side)
		if ps == nil {
			continue
		}
		if ps.Active != nil {
			ids = append(ids, ps.Active.InstanceID)
		}
		for _, ref := range ps.Bench {
			if ref != nil {
				ids = append(ids, ref.InstanceID)
			}
		}
		for _, ref := range ps.Hand {
			ids = append(ids, ref.InstanceID)
		}
		for _, ref := range ps.Deck {
			ids = append(ids, ref.InstanceID)
		}
		for _, ref := range ps.Discard {
			ids = append(ids, ref.InstanceID)
		}
	}
	return ids
}

// AllRefs returns every card ref reachable from any zone on either side.
func (s *State) AllRefs() []CardRef {
	var refs []CardRef
	for _, side := range []Side{SidePlayer, SideOpponent} {
		ps := s.SideState(side)
		if ps == nil {
			continue
		}
		if ps.Active != nil {
			refs = append(refs, *ps.Active)
		}
		for _, ref := range ps.Bench {
			if ref != nil {
				refs = append(refs, *ref)
			}
		}
		refs = append(refs, ps.Hand...)
		refs = append(refs, ps.Deck...)
		refs = append(refs, ps.Discard...)
	}
	return refs
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("battle state not serializable: %v", err))
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("battle state clone failed: %v", err))
	}
	return &out
}

// CardInstance is the runtime form of one physical card. It is owned by
// exactly one battle for its lifetime and is never shared across battles.
type CardInstance struct {
	InstanceID  string               `json:"instanceId"`
	CatalogID   string               `json:"catalogId"`
	Name        string               `json:"name"`
	Element     catalog.Element      `json:"element"`
	HP          int                  `json:"hp"`
	MaxHP       int                  `json:"maxHp"`
	Attacks     []catalog.Attack     `json:"attacks"`
	Weaknesses  []catalog.Weakness   `json:"weaknesses,omitempty"`
	Resistances []catalog.Resistance `json:"resistances,omitempty"`
	Energy      []catalog.Element    `json:"energy"`
}

// NewInstance builds a fresh full-HP instance of def.
func NewInstance(instanceID string, def catalog.CardDef) *CardInstance {
	return &CardInstance{
		InstanceID:  instanceID,
		CatalogID:   def.ID,
		Name:        def.Name,
		Element:     def.Element,
		HP:          def.MaxHP,
		MaxHP:       def.MaxHP,
		Attacks:     def.Attacks,
		Weaknesses:  def.Weaknesses,
		Resistances: def.Resistances,
		Energy:      []catalog.Element{},
	}
}

// EnergyCount returns the number of attached energies.
func (c *CardInstance) EnergyCount() int {
	return len(c.Energy)
}

// Context is the per-battle runtime cache of card instances and the
// catalog definitions behind them. It is rebuilt from a persisted state
// by the rehydrator for the stateless path, and maintained incrementally
// for the resident PvP path.
type Context struct {
	Instances map[string]*CardInstance
	Defs      map[string]catalog.CardDef
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		Instances: make(map[string]*CardInstance),
		Defs:      make(map[string]catalog.CardDef),
	}
}

// Instance returns the live instance for id, or nil.
func (c *Context) Instance(id string) *CardInstance {
	return c.Instances[id]
}

// Add registers inst, replacing any previous instance with the same id.
func (c *Context) Add(inst *CardInstance) {
	c.Instances[inst.InstanceID] = inst
}
