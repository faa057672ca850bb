package catalog

// Element is a card or energy type.
type Element string

const (
	Fire      Element = "Fire"
	Water     Element = "Water"
	Grass     Element = "Grass"
	Lightning Element = "Lightning"
	Psychic   Element = "Psychic"
	Fighting  Element = "Fighting"
	Darkness  Element = "Darkness"
	Metal     Element = "Metal"
	Dragon    Element = "Dragon"
	Fairy     Element = "Fairy"

	// Colorless appears only in attack costs, where it is satisfied by
	// an attached energy of any element.
	Colorless Element = "Colorless"
)

// Attack is one attack printed on a card.
type Attack struct {
	Name        string    `json:"name"`
	Damage      int       `json:"damage"`
	Cost        []Element `json:"cost"`
	Description string    `json:"description,omitempty"`
}

// Weakness doubles incoming damage from the named element.
type Weakness struct {
	Element Element `json:"element"`
}

// Resistance reduces incoming damage from the named element by Value.
type Resistance struct {
	Element Element `json:"element"`
	Value   int     `json:"value"`
}

// DefaultResistanceValue applies when a resistance omits its value.
const DefaultResistanceValue = 20

// CardDef is the immutable catalog definition of a card. Runtime state
// (current HP, attached energy) lives on battle card instances, never here.
type CardDef struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Element     Element      `json:"element"`
	MaxHP       int          `json:"maxHp"`
	Attacks     []Attack     `json:"attacks"`
	Weaknesses  []Weakness   `json:"weaknesses,omitempty"`
	Resistances []Resistance `json:"resistances,omitempty"`
	Rarity      string       `json:"rarity,omitempty"`
	SmallImage  string       `json:"smallImage,omitempty"`
	LargeImage  string       `json:"largeImage,omitempty"`
}

// Placeholder returns a minimal playable definition for a catalog id that
// could not be resolved. Deck assembly substitutes it instead of failing.
func Placeholder(id string) CardDef {
	return CardDef{
		ID:      id,
		Name:    "Unknown Card",
		Element: Colorless,
		MaxHP:   50,
		Attacks: []Attack{
			{Name: "Struggle", Damage: 10, Cost: []Element{Colorless}},
		},
	}
}
