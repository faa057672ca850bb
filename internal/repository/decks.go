package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tcgarena/battle-server/internal/deck"
)

// ErrDeckNotFound is returned when a deck does not exist or belongs to
// another user.
var ErrDeckNotFound = errors.New("deck not found")

// DeckRepository reads saved decks. It implements deck.Store.
type DeckRepository struct {
	db *DB
}

// NewDeckRepository creates a DeckRepository.
func NewDeckRepository(db *DB) *DeckRepository {
	return &DeckRepository{db: db}
}

// GetDeck returns the ordered catalog ids of one deck, scoped to the
// requesting user so players cannot battle with someone else's deck.
func (r *DeckRepository) GetDeck(ctx context.Context, deckID, userID string) ([]string, error) {
	var cardIDs []string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT card_ids
		FROM decks
		WHERE id = $1 AND owner_id = $2`,
		deckID, userID,
	).Scan(&cardIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeckNotFound, deckID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deck %s: %w", deckID, err)
	}
	return cardIDs, nil
}

// ListDecks returns every deck a user owns.
func (r *DeckRepository) ListDecks(ctx context.Context, userID string) ([]deck.Deck, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, owner_id, card_ids
		FROM decks
		WHERE owner_id = $1
		ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks for %s: %w", userID, err)
	}
	defer rows.Close()

	var decks []deck.Deck
	for rows.Next() {
		var d deck.Deck
		if err := rows.Scan(&d.ID, &d.Name, &d.OwnerID, &d.CardIDs); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deck rows: %w", err)
	}
	return decks, nil
}
