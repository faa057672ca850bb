package deck

import (
	"context"
	"errors"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/catalog"
)

// Deck is a saved deck as stored by the collaborator.
type Deck struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	OwnerID string   `json:"ownerId"`
	CardIDs []string `json:"cardIds"`
}

// Store resolves saved decks for a user.
type Store interface {
	// GetDeck returns the ordered catalog ids of one deck, scoped to the
	// requesting user.
	GetDeck(ctx context.Context, deckID, userID string) ([]string, error)

	// ListDecks returns all decks a user owns, for timer auto-pick.
	ListDecks(ctx context.Context, userID string) ([]Deck, error)
}

// Assembler turns a deck reference into battle-ready card instances.
type Assembler struct {
	catalog  *catalog.Catalog
	store    Store
	deckSize int
	logger   *zap.Logger
}

// NewAssembler creates an Assembler. deckSize is the fixed deck size
// every assembled list is held to; zero disables the limit.
func NewAssembler(cat *catalog.Catalog, store Store, deckSize int, logger *zap.Logger) *Assembler {
	return &Assembler{catalog: cat, store: store, deckSize: deckSize, logger: logger}
}

// Build resolves deckID for ownerID and assembles its cards. It never
// fails: an unresolvable deck yields an empty list and the caller treats
// that as a legal, if hopeless, starting condition.
func (a *Assembler) Build(ctx context.Context, deckID, ownerID string) []*battle.CardInstance {
	ids, err := a.store.GetDeck(ctx, deckID, ownerID)
	if err != nil {
		a.logger.Warn("deck could not be resolved",
			zap.String("deck_id", deckID),
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return []*battle.CardInstance{}
	}
	return a.Assemble(ctx, ids)
}

// Assemble instantiates the given catalog ids directly, for callers that
// already hold the card list. Every entry gets a fresh instance id; a
// catalog miss substitutes a placeholder definition instead of failing.
// The result is a uniformly random permutation.
func (a *Assembler) Assemble(ctx context.Context, catalogIDs []string) []*battle.CardInstance {
	// Decks have a fixed size; anything longer, whether stored or
	// client-supplied, is cut down before instantiation. Shorter lists
	// pass through, a thin deck is a legal if weak starting condition.
	if a.deckSize > 0 && len(catalogIDs) > a.deckSize {
		a.logger.Warn("deck exceeds fixed size, truncating",
			zap.Int("cards", len(catalogIDs)),
			zap.Int("deck_size", a.deckSize))
		catalogIDs = catalogIDs[:a.deckSize]
	}

	cards := make([]*battle.CardInstance, 0, len(catalogIDs))
	for _, id := range catalogIDs {
		def, err := a.catalog.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				a.logger.Warn("catalog lookup failed during deck assembly",
					zap.String("card_id", id), zap.Error(err))
			}
			def = catalog.Placeholder(id)
		}
		cards = append(cards, battle.NewInstance(uuid.NewString(), def))
	}

	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	return cards
}

// Random draws count random catalog cards and instantiates them, used
// for the PvE opponent's deck. Duplicates are filled in when the catalog
// holds fewer than count cards.
func (a *Assembler) Random(ctx context.Context, count int) []*battle.CardInstance {
	defs, err := a.catalog.GetRandom(ctx, count, "")
	if err != nil || len(defs) == 0 {
		a.logger.Warn("random deck unavailable", zap.Error(err))
		return []*battle.CardInstance{}
	}

	cards := make([]*battle.CardInstance, 0, count)
	for i := 0; i < count; i++ {
		cards = append(cards, battle.NewInstance(uuid.NewString(), defs[i%len(defs)]))
	}
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	return cards
}
