package battle

import "errors"

// Engine errors are values, never panics. A rejected action leaves the
// state and context completely unchanged.
var (
	// ErrWrongTurn rejects an action from the side that does not own
	// the current turn.
	ErrWrongTurn = errors.New("not your turn")

	// ErrIllegalTarget rejects an action addressing an empty or occupied
	// slot, an unknown instance, or an out-of-range index.
	ErrIllegalTarget = errors.New("illegal target")

	// ErrInsufficientEnergy rejects an attack or retreat whose cost is
	// not covered by the active card's attached energy.
	ErrInsufficientEnergy = errors.New("insufficient energy")

	// ErrBattleFinished rejects any action once the battle is terminal.
	ErrBattleFinished = errors.New("battle already finished")

	// ErrWrongPhase rejects battle actions while the battle is still in
	// setup (coin flip or deck selection).
	ErrWrongPhase = errors.New("battle not in playing phase")
)
