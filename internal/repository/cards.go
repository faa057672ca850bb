package repository

import (
	"context"
	"fmt"

	"github.com/tcgarena/battle-server/internal/catalog"
)

// CardRepository loads card definitions from the cards table. It
// implements catalog.Source, so the catalog consults it exactly once
// per process.
type CardRepository struct {
	db *DB
}

// NewCardRepository creates a CardRepository.
func NewCardRepository(db *DB) *CardRepository {
	return &CardRepository{db: db}
}

// LoadAll reads every card definition. Attack lists, weaknesses and
// resistances are stored as JSONB columns and scanned straight into the
// catalog types.
func (r *CardRepository) LoadAll(ctx context.Context) ([]catalog.CardDef, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, element, max_hp, attacks, weaknesses, resistances,
		       rarity, small_image, large_image
		FROM cards
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var defs []catalog.CardDef
	for rows.Next() {
		var def catalog.CardDef
		if err := rows.Scan(
			&def.ID, &def.Name, &def.Element, &def.MaxHP,
			&def.Attacks, &def.Weaknesses, &def.Resistances,
			&def.Rarity, &def.SmallImage, &def.LargeImage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		for i := range def.Resistances {
			if def.Resistances[i].Value == 0 {
				def.Resistances[i].Value = catalog.DefaultResistanceValue
			}
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read card rows: %w", err)
	}
	return defs, nil
}
