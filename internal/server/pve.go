package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/catalog"
	"github.com/tcgarena/battle-server/internal/deck"
	"github.com/tcgarena/battle-server/internal/events"
	"github.com/tcgarena/battle-server/internal/repository"
)

// maxAIActions caps one AI turn so a policy bug can never spin a
// request forever.
const maxAIActions = 32

// BattleStore persists PvE snapshots. Implemented by
// repository.BattleRepository.
type BattleStore interface {
	Create(ctx context.Context, state *battle.State) error
	Get(ctx context.Context, id string) (*battle.State, error)
	Update(ctx context.Context, state *battle.State) error
}

// PvEHandler serves the stateless battle API. Every action request is
// one rehydrate, act, persist cycle; nothing survives in memory between
// calls.
type PvEHandler struct {
	store      BattleStore
	assembler  *deck.Assembler
	rehydrator *battle.Rehydrator
	engine     *battle.Engine
	policy     battle.Policy
	rules      battle.Rules
	publisher  *events.Publisher
	logger     *zap.Logger
}

// NewPvEHandler creates a PvEHandler.
func NewPvEHandler(store BattleStore, assembler *deck.Assembler, rehydrator *battle.Rehydrator,
	engine *battle.Engine, policy battle.Policy, rules battle.Rules,
	publisher *events.Publisher, logger *zap.Logger) *PvEHandler {
	return &PvEHandler{
		store:      store,
		assembler:  assembler,
		rehydrator: rehydrator,
		engine:     engine,
		policy:     policy,
		rules:      rules,
		publisher:  publisher,
		logger:     logger,
	}
}

// Register mounts the PvE routes.
func (h *PvEHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/pve/battles", h.handleCreate)
	mux.HandleFunc("GET /api/pve/battles/{id}", h.handleGet)
	mux.HandleFunc("POST /api/pve/battles/{id}/actions", h.handleAction)
}

type createBattleRequest struct {
	UserID string `json:"userId"`
	DeckID string `json:"deckId"`
}

type actionRequest struct {
	Action struct {
		Type           string `json:"type"`
		CardInstanceID string `json:"cardInstanceId"`
		BenchSlot      int    `json:"benchSlot"`
		AttackIndex    int    `json:"attackIndex"`
		EnergyType     string `json:"energyType"`
	} `json:"action"`
}

type battleResponse struct {
	State    *battle.State     `json:"state"`
	Outcomes []*battle.Outcome `json:"outcomes,omitempty"`
	Issues   []battle.Issue    `json:"issues,omitempty"`
}

func (h *PvEHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.DeckID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "userId and deckId are required")
		return
	}
	ctx := r.Context()

	playerDeck := h.assembler.Build(ctx, req.DeckID, req.UserID)
	aiDeck := h.assembler.Random(ctx, h.rules.DeckSize)

	firstOwner := battle.SidePlayer
	if time.Now().UnixNano()%2 == 1 {
		firstOwner = battle.SideOpponent
	}

	state, bctx := battle.Setup(uuid.NewString(), h.rules, firstOwner, playerDeck, aiDeck)
	state.PlayerID = req.UserID

	var outcomes []*battle.Outcome
	if firstOwner == battle.SideOpponent {
		outcomes = h.runAITurn(state, bctx)
	}

	if err := h.store.Create(ctx, state); err != nil {
		h.logger.Error("failed to persist new battle", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not create battle")
		return
	}

	h.logger.Info("pve battle created",
		zap.String("battle_id", state.ID),
		zap.String("user_id", req.UserID),
		zap.String("first_owner", string(firstOwner)))
	writeJSON(w, http.StatusCreated, battleResponse{State: state, Outcomes: outcomes})
}

func (h *PvEHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrBattleNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "battle not found")
			return
		}
		h.logger.Error("failed to load battle", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not load battle")
		return
	}
	writeJSON(w, http.StatusOK, battleResponse{State: state})
}

func (h *PvEHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed action body")
		return
	}
	ctx := r.Context()

	state, err := h.store.Get(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrBattleNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "battle not found")
			return
		}
		h.logger.Error("failed to load battle", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not load battle")
		return
	}

	bctx, err := h.rehydrator.Rehydrate(ctx, state)
	if err != nil {
		h.logger.Error("rehydration failed", zap.String("battle_id", state.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rehydration_error", "could not rebuild battle context")
		return
	}
	issues := h.rehydrator.Validate(state, bctx)
	for _, issue := range issues {
		h.logger.Warn("battle context issue",
			zap.String("battle_id", state.ID),
			zap.String("instance_id", issue.InstanceID),
			zap.String("kind", issue.Kind))
	}

	action := battle.Action{
		Type:           battle.ActionType(req.Action.Type),
		CardInstanceID: req.Action.CardInstanceID,
		BenchSlot:      req.Action.BenchSlot,
		AttackIndex:    req.Action.AttackIndex,
		EnergyType:     catalog.Element(req.Action.EnergyType),
	}

	outcome, err := h.engine.Apply(state, bctx, battle.SidePlayer, action)
	if err != nil {
		status, code := engineErrorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	outcomes := []*battle.Outcome{outcome}

	// The AI plays out its whole turn inside the same request. A forced
	// promotion after a knockout also runs here, even mid player turn.
	if !state.Finished() && (state.TurnOwner == battle.SideOpponent ||
		state.SideState(battle.SideOpponent).PendingPromotion) {
		outcomes = append(outcomes, h.runAITurn(state, bctx)...)
	}

	if err := h.store.Update(ctx, state); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			writeError(w, http.StatusConflict, "version_conflict",
				"battle was modified by another request, re-read and retry")
			return
		}
		h.logger.Error("failed to persist battle", zap.String("battle_id", state.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage_error", "could not persist battle")
		return
	}

	if state.Finished() {
		h.publisher.PublishBattleCompleted(battleCompletedEvent(state))
	}

	writeJSON(w, http.StatusOK, battleResponse{State: state, Outcomes: outcomes, Issues: issues})
}

// runAITurn applies policy decisions until the AI ends its turn, a
// knockout forces it to promote, or the battle finishes.
func (h *PvEHandler) runAITurn(state *battle.State, bctx *battle.Context) []*battle.Outcome {
	var outcomes []*battle.Outcome
	for i := 0; i < maxAIActions; i++ {
		if state.Finished() {
			break
		}
		if state.TurnOwner != battle.SideOpponent && !state.SideState(battle.SideOpponent).PendingPromotion {
			break
		}

		action := h.policy.Decide(state, bctx, battle.SideOpponent)
		outcome, err := h.engine.Apply(state, bctx, battle.SideOpponent, action)
		if err != nil {
			// The policy proposed something illegal; end the turn rather
			// than fail the whole request.
			h.logger.Error("ai action rejected",
				zap.String("battle_id", state.ID),
				zap.String("action", string(action.Type)),
				zap.Error(err))
			if action.Type != battle.ActionEndTurn {
				if fallback, endErr := h.engine.Apply(state, bctx, battle.SideOpponent,
					battle.Action{Type: battle.ActionEndTurn}); endErr == nil {
					outcomes = append(outcomes, fallback)
				}
			}
			break
		}
		outcomes = append(outcomes, outcome)
		if action.Type == battle.ActionEndTurn {
			break
		}
	}
	return outcomes
}

// battleCompletedEvent builds the result event for a finished PvE
// battle. The human player's user id goes on whichever side they ended
// up on; the AI side has no user and stays empty.
func battleCompletedEvent(state *battle.State) events.BattleCompleted {
	ev := events.BattleCompleted{
		BattleID:   state.ID,
		Mode:       "pve",
		Turns:      state.TurnNumber,
		FinishedAt: time.Now().UTC(),
	}
	if state.Winner == battle.SidePlayer {
		ev.WinnerID = state.PlayerID
	} else {
		ev.LoserID = state.PlayerID
	}
	return ev
}

func engineErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, battle.ErrWrongTurn):
		return http.StatusConflict, "wrong_turn"
	case errors.Is(err, battle.ErrBattleFinished):
		return http.StatusConflict, "battle_finished"
	case errors.Is(err, battle.ErrWrongPhase):
		return http.StatusConflict, "wrong_phase"
	case errors.Is(err, battle.ErrInsufficientEnergy):
		return http.StatusUnprocessableEntity, "insufficient_energy"
	case errors.Is(err, battle.ErrIllegalTarget):
		return http.StatusUnprocessableEntity, "illegal_target"
	default:
		return http.StatusInternalServerError, "engine_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
