package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tcgarena/battle-server/internal/battle"
)

var (
	// ErrBattleNotFound is returned when no snapshot exists for an id.
	ErrBattleNotFound = errors.New("battle not found")

	// ErrVersionConflict is returned when a write carries a stale
	// version, meaning another request modified the snapshot since it
	// was read. The caller re-reads and retries or gives up.
	ErrVersionConflict = errors.New("battle snapshot version conflict")
)

// BattleRepository persists PvE battle snapshots. Every read-modify-write
// cycle is guarded by an optimistic version check; a stale write fails
// instead of silently overwriting a newer state.
type BattleRepository struct {
	db *DB
}

// NewBattleRepository creates a BattleRepository.
func NewBattleRepository(db *DB) *BattleRepository {
	return &BattleRepository{db: db}
}

// Create inserts a new snapshot at version 1.
func (r *BattleRepository) Create(ctx context.Context, state *battle.State) error {
	state.Version = 1
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO battles (id, state, version, updated_at)
		VALUES ($1, $2, $3, now())`,
		state.ID, state, state.Version)
	if err != nil {
		return fmt.Errorf("failed to insert battle %s: %w", state.ID, err)
	}
	return nil
}

// Get reads a snapshot. The stored version column is authoritative and
// overwrites whatever version the JSON document carries.
func (r *BattleRepository) Get(ctx context.Context, id string) (*battle.State, error) {
	var state battle.State
	var version int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT state, version
		FROM battles
		WHERE id = $1`,
		id,
	).Scan(&state, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBattleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load battle %s: %w", id, err)
	}
	state.Version = version
	return &state, nil
}

// Update writes a snapshot if and only if the stored version still
// matches the version the state was read at. On success the state's
// version is advanced to the newly stored one.
func (r *BattleRepository) Update(ctx context.Context, state *battle.State) error {
	next := state.Version + 1
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE battles
		SET state = $2, version = $3, updated_at = now()
		WHERE id = $1 AND version = $4`,
		state.ID, state, next, state.Version)
	if err != nil {
		return fmt.Errorf("failed to update battle %s: %w", state.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale write from a missing row.
		var exists bool
		if checkErr := r.db.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM battles WHERE id = $1)`, state.ID,
		).Scan(&exists); checkErr == nil && !exists {
			return fmt.Errorf("%w: %s", ErrBattleNotFound, state.ID)
		}
		return fmt.Errorf("%w: battle %s at version %d", ErrVersionConflict, state.ID, state.Version)
	}
	state.Version = next
	return nil
}

// Delete removes a snapshot, for finished battles past their retention.
func (r *BattleRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM battles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete battle %s: %w", id, err)
	}
	return nil
}
