package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/catalog"
	"github.com/tcgarena/battle-server/internal/config"
	"github.com/tcgarena/battle-server/internal/deck"
	"github.com/tcgarena/battle-server/internal/events"
	"github.com/tcgarena/battle-server/internal/repository"
)

// memStore mimics the repository's optimistic versioning in memory.
type memStore struct {
	mu     sync.Mutex
	states map[string]*battle.State
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]*battle.State)}
}

func (s *memStore) Create(ctx context.Context, state *battle.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Version = 1
	s.states[state.ID] = state.Clone()
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*battle.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrBattleNotFound, id)
	}
	return state.Clone(), nil
}

func (s *memStore) Update(ctx context.Context, state *battle.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.states[state.ID]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrBattleNotFound, state.ID)
	}
	if stored.Version != state.Version {
		return fmt.Errorf("%w: battle %s", repository.ErrVersionConflict, state.ID)
	}
	state.Version++
	s.states[state.ID] = state.Clone()
	return nil
}

type pveCatalogSource struct{}

func (pveCatalogSource) LoadAll(ctx context.Context) ([]catalog.CardDef, error) {
	return []catalog.CardDef{
		{ID: "base1-58", Name: "Pikachu", Element: catalog.Lightning, MaxHP: 60,
			Attacks: []catalog.Attack{{Name: "Gnaw", Damage: 10, Cost: []catalog.Element{catalog.Colorless}}}},
		{ID: "base1-63", Name: "Squirtle", Element: catalog.Water, MaxHP: 40,
			Attacks: []catalog.Attack{{Name: "Bubble", Damage: 10, Cost: []catalog.Element{catalog.Water}}}},
	}, nil
}

type pveDeckStore struct{}

func (pveDeckStore) GetDeck(ctx context.Context, deckID, userID string) ([]string, error) {
	if deckID != "deck-1" {
		return nil, errors.New("deck not found")
	}
	ids := make([]string, 0, 15)
	for i := 0; i < 15; i++ {
		if i%2 == 0 {
			ids = append(ids, "base1-58")
		} else {
			ids = append(ids, "base1-63")
		}
	}
	return ids, nil
}

func (pveDeckStore) ListDecks(ctx context.Context, userID string) ([]deck.Deck, error) {
	return nil, nil
}

func newTestHandler(t *testing.T) (*PvEHandler, *memStore, *http.ServeMux) {
	store := newMemStore()
	h, mux := newTestHandlerWithStore(t, store)
	return h, store, mux
}

func newTestHandlerWithStore(t *testing.T, store BattleStore) (*PvEHandler, *http.ServeMux) {
	logger := zaptest.NewLogger(t)
	cat := catalog.New(pveCatalogSource{}, logger)
	assembler := deck.NewAssembler(cat, pveDeckStore{}, 15, logger)
	rehydrator := battle.NewRehydrator(cat, logger)
	engine := battle.NewEngine(logger)
	policy := battle.NewStandardPolicy(logger)
	publisher, err := events.NewPublisher(config.EventsConfig{}, logger)
	require.NoError(t, err)

	h := NewPvEHandler(store, assembler, rehydrator, engine, policy,
		battle.DefaultRules(), publisher, logger)
	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func createBattle(t *testing.T, mux *http.ServeMux) battleResponse {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/pve/battles",
		map[string]string{"userId": "u1", "deckId": "deck-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp battleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.State)
	return resp
}

func TestCreateBattleDealsBothSides(t *testing.T) {
	_, _, mux := newTestHandler(t)
	resp := createBattle(t, mux)

	state := resp.State
	assert.Len(t, state.Player.Hand, 5)
	assert.Len(t, state.Player.Deck, 10)
	assert.Equal(t, int64(1), state.Version)

	// The AI deck is 15 random catalog cards; some may already have
	// moved to hand or board if the AI took the first turn.
	aiTotal := len(state.Opponent.Hand) + len(state.Opponent.Deck)
	if state.Opponent.Active != nil {
		aiTotal++
	}
	for _, ref := range state.Opponent.Bench {
		if ref != nil {
			aiTotal++
		}
	}
	assert.Equal(t, 15, aiTotal)
}

func TestCreateBattleCarriesPlayerID(t *testing.T) {
	_, _, mux := newTestHandler(t)
	resp := createBattle(t, mux)
	assert.Equal(t, "u1", resp.State.PlayerID)
}

func TestBattleCompletedEventNamesUser(t *testing.T) {
	state := battle.NewState("b-1", battle.DefaultRules(), battle.SidePlayer)
	state.PlayerID = "u1"
	state.TurnNumber = 7

	state.Winner = battle.SidePlayer
	ev := battleCompletedEvent(state)
	assert.Equal(t, "b-1", ev.BattleID)
	assert.Equal(t, "pve", ev.Mode)
	assert.Equal(t, "u1", ev.WinnerID)
	assert.Empty(t, ev.LoserID)
	assert.Equal(t, 7, ev.Turns)
	assert.False(t, ev.FinishedAt.IsZero())

	state.Winner = battle.SideOpponent
	ev = battleCompletedEvent(state)
	assert.Empty(t, ev.WinnerID)
	assert.Equal(t, "u1", ev.LoserID)
}

func TestCreateBattleRequiresUserAndDeck(t *testing.T) {
	_, _, mux := newTestHandler(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/pve/battles", map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBattle(t *testing.T) {
	_, _, mux := newTestHandler(t)
	resp := createBattle(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/api/pve/battles/"+resp.State.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/pve/battles/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActionOnMissingBattle(t *testing.T) {
	_, _, mux := newTestHandler(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/pve/battles/nope/actions",
		map[string]any{"action": map[string]any{"type": "END_TURN"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIllegalActionLeavesSnapshotUntouched(t *testing.T) {
	_, store, mux := newTestHandler(t)
	resp := createBattle(t, mux)
	before, err := store.Get(context.Background(), resp.State.ID)
	require.NoError(t, err)

	// An out-of-range attack index is rejected whichever side owns the
	// turn.
	rec := doJSON(t, mux, http.MethodPost, "/api/pve/battles/"+resp.State.ID+"/actions",
		map[string]any{"action": map[string]any{"type": "ATTACK", "attackIndex": 99}})
	require.Contains(t, []int{http.StatusConflict, http.StatusUnprocessableEntity}, rec.Code)

	after, err := store.Get(context.Background(), resp.State.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEndTurnTriggersAITurn(t *testing.T) {
	_, _, mux := newTestHandler(t)
	resp := createBattle(t, mux)

	// If the AI opened the battle it has already ended its turn, so the
	// player owns the turn either way.
	require.Equal(t, battle.SidePlayer, resp.State.TurnOwner)

	rec := doJSON(t, mux, http.MethodPost, "/api/pve/battles/"+resp.State.ID+"/actions",
		map[string]any{"action": map[string]any{"type": "END_TURN"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out battleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	// The AI played its whole turn inside the request and handed the
	// turn back.
	require.NotEmpty(t, out.Outcomes)
	assert.Equal(t, battle.ActionEndTurn, out.Outcomes[0].Action.Type)
	assert.Equal(t, battle.SidePlayer, out.State.TurnOwner)
	assert.Greater(t, len(out.Outcomes), 1)
	assert.Equal(t, int64(2), out.State.Version)
}

func TestSurrenderFinishesBattle(t *testing.T) {
	_, _, mux := newTestHandler(t)
	resp := createBattle(t, mux)

	rec := doJSON(t, mux, http.MethodPost, "/api/pve/battles/"+resp.State.ID+"/actions",
		map[string]any{"action": map[string]any{"type": "SURRENDER"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var out battleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, battle.PhaseFinished, out.State.Phase)
	assert.Equal(t, battle.SideOpponent, out.State.Winner)

	rec = doJSON(t, mux, http.MethodPost, "/api/pve/battles/"+resp.State.ID+"/actions",
		map[string]any{"action": map[string]any{"type": "END_TURN"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// racingStore simulates a retried client request: every read is followed
// by a concurrent writer bumping the stored version before this
// request's write lands.
type racingStore struct {
	*memStore
	racing bool
}

func (s *racingStore) Get(ctx context.Context, id string) (*battle.State, error) {
	state, err := s.memStore.Get(ctx, id)
	if err == nil && s.racing {
		s.mu.Lock()
		s.states[id].Version++
		s.mu.Unlock()
	}
	return state, err
}

func TestStaleWriteReturnsConflict(t *testing.T) {
	store := &racingStore{memStore: newMemStore()}
	_, mux := newTestHandlerWithStore(t, store)
	resp := createBattle(t, mux)
	store.racing = true

	rec := doJSON(t, mux, http.MethodPost, "/api/pve/battles/"+resp.State.ID+"/actions",
		map[string]any{"action": map[string]any{"type": "SURRENDER"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "version_conflict", body["error"])
}
