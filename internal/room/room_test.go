package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/catalog"
	"github.com/tcgarena/battle-server/internal/config"
	"github.com/tcgarena/battle-server/internal/deck"
	"github.com/tcgarena/battle-server/internal/events"
)

const waitFor = 3 * time.Second

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Envelope
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) SocketID() string { return c.id }

func (c *fakeConn) Send(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, env)
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, env := range c.events {
		if env.Event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(event string) (Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Event == event {
			return c.events[i], true
		}
	}
	return Envelope{}, false
}

func (c *fakeConn) waitFor(t *testing.T, event string) Envelope {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.count(event) > 0
	}, waitFor, 5*time.Millisecond, "expected %s", event)
	env, _ := c.last(event)
	return env
}

type stubCatalogSource struct{}

func (stubCatalogSource) LoadAll(ctx context.Context) ([]catalog.CardDef, error) {
	return []catalog.CardDef{
		{ID: "base1-58", Name: "Pikachu", Element: catalog.Lightning, MaxHP: 60,
			Attacks: []catalog.Attack{{Name: "Gnaw", Damage: 10, Cost: []catalog.Element{catalog.Colorless}}}},
		{ID: "base1-63", Name: "Squirtle", Element: catalog.Water, MaxHP: 40,
			Attacks: []catalog.Attack{{Name: "Bubble", Damage: 10, Cost: []catalog.Element{catalog.Water}}}},
	}, nil
}

type stubDeckStore struct {
	decksByUser map[string][]deck.Deck
}

func (s *stubDeckStore) GetDeck(ctx context.Context, deckID, userID string) ([]string, error) {
	for _, d := range s.decksByUser[userID] {
		if d.ID == deckID {
			return d.CardIDs, nil
		}
	}
	return nil, errors.New("deck not found")
}

func (s *stubDeckStore) ListDecks(ctx context.Context, userID string) ([]deck.Deck, error) {
	return s.decksByUser[userID], nil
}

func testDeck(id string) deck.Deck {
	return deck.Deck{ID: id, Name: "Test " + id, CardIDs: []string{
		"base1-58", "base1-63", "base1-58", "base1-63", "base1-58",
	}}
}

func testRegistry(t *testing.T, store deck.Store) *Registry {
	logger := zaptest.NewLogger(t)
	cat := catalog.New(stubCatalogSource{}, logger)
	assembler := deck.NewAssembler(cat, store, 15, logger)
	engine := battle.NewEngine(logger)
	publisher, err := events.NewPublisher(config.EventsConfig{}, logger)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.SelectionSeconds = 2
	cfg.TickInterval = 5 * time.Millisecond
	cfg.CleanupGrace = time.Hour

	reg := NewRegistry(cfg, engine, assembler, store, publisher, logger)
	t.Cleanup(reg.Shutdown)
	return reg
}

func join(r *Room, userID string) *fakeConn {
	conn := newFakeConn("sock-" + userID)
	r.Join(Player{UserID: userID, Name: "Player " + userID, Conn: conn})
	return conn
}

func TestSecondJoinStartsSelectionTimer(t *testing.T) {
	store := &stubDeckStore{decksByUser: map[string][]deck.Deck{}}
	reg := testRegistry(t, store)
	r := reg.GetOrCreate("room-1")

	c1 := join(r, "u1")
	c1.waitFor(t, EventRoomStateUpdate)
	assert.Equal(t, 0, c1.count(EventTimerTick))

	c2 := join(r, "u2")
	c1.waitFor(t, EventTimerTick)
	c2.waitFor(t, EventTimerTick)
}

// The timer expires with one player unconfirmed: exactly one of their
// saved decks is picked and confirmed for them and the battle starts.
func TestTimerExpiryAutoPicksAndStartsBattle(t *testing.T) {
	store := &stubDeckStore{decksByUser: map[string][]deck.Deck{
		"u1": {testDeck("deck-a")},
		"u2": {testDeck("deck-b"), testDeck("deck-c")},
	}}
	reg := testRegistry(t, store)
	r := reg.GetOrCreate("room-1")

	c1 := join(r, "u1")
	c2 := join(r, "u2")
	r.ConfirmDeck("u1", "deck-a", nil)
	c1.waitFor(t, EventPlayerConfirmed)

	c1.waitFor(t, EventTimerEnd)
	c2.waitFor(t, EventAutoPickDeck)

	// Both confirmations were broadcast: u1's own and u2's auto-pick.
	require.Eventually(t, func() bool {
		return c1.count(EventPlayerConfirmed) == 2
	}, waitFor, 5*time.Millisecond)

	env := c2.waitFor(t, EventAutoPickDeck)
	picked, ok := env.Data.(deck.Deck)
	require.True(t, ok)
	assert.Contains(t, []string{"deck-b", "deck-c"}, picked.ID)

	c1.waitFor(t, EventBattleStart)
	c2.waitFor(t, EventBattleStart)
	assert.Equal(t, 1, c2.count(EventAutoPickDeck))
}

func TestAutoPickSkipsPlayerWithoutDecks(t *testing.T) {
	store := &stubDeckStore{decksByUser: map[string][]deck.Deck{
		"u1": {testDeck("deck-a")},
	}}
	reg := testRegistry(t, store)
	r := reg.GetOrCreate("room-1")

	c1 := join(r, "u1")
	c2 := join(r, "u2")
	r.ConfirmDeck("u1", "deck-a", nil)

	// u2 has nothing to pick; the battle still starts, u2 just has an
	// empty deck.
	c1.waitFor(t, EventBattleStart)
	c2.waitFor(t, EventBattleStart)
	assert.Equal(t, 0, c2.count(EventAutoPickDeck))
}

func startedBattle(t *testing.T, reg *Registry, roomID string) (*Room, *fakeConn, *fakeConn, *battle.State) {
	t.Helper()
	r := reg.GetOrCreate(roomID)
	c1 := join(r, "u1")
	c2 := join(r, "u2")
	r.ConfirmDeck("u1", "deck-a", nil)
	r.ConfirmDeck("u2", "deck-b", nil)

	env := c1.waitFor(t, EventBattleStart)
	state, ok := env.Data.(*battle.State)
	require.True(t, ok)
	c2.waitFor(t, EventBattleStart)
	return r, c1, c2, state
}

func confirmStore() *stubDeckStore {
	return &stubDeckStore{decksByUser: map[string][]deck.Deck{
		"u1": {testDeck("deck-a")},
		"u2": {testDeck("deck-b")},
	}}
}

// Advancing out of coin_flip needs acknowledgments from both players; a
// single ack only produces a waiting notice.
func TestCoinFlipReadinessBarrier(t *testing.T) {
	reg := testRegistry(t, confirmStore())
	r, c1, c2, state := startedBattle(t, reg, "room-1")
	assert.Equal(t, battle.PhaseCoinFlip, state.Phase)

	r.CoinFlipAck("u1")
	c1.waitFor(t, EventWaitingForOpponent)
	assert.Equal(t, 0, c1.count(EventBattlePhaseUpdate))
	assert.Equal(t, 0, c2.count(EventBattlePhaseUpdate))

	r.CoinFlipAck("u2")
	c1.waitFor(t, EventBattlePhaseUpdate)
	c2.waitFor(t, EventBattlePhaseUpdate)
}

func TestActionBeforePlayingRejected(t *testing.T) {
	reg := testRegistry(t, confirmStore())
	r, c1, _, _ := startedBattle(t, reg, "room-1")

	// Still in coin_flip: the engine rejects and only the sender hears
	// about it.
	r.HandleAction("u1", battle.Action{Type: battle.ActionEndTurn})
	env := c1.waitFor(t, EventBattleActionError)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data["error"], "not in playing phase")
}

func TestWrongTurnErrorGoesToSenderOnly(t *testing.T) {
	reg := testRegistry(t, confirmStore())
	r, c1, c2, state := startedBattle(t, reg, "room-1")
	r.CoinFlipAck("u1")
	r.CoinFlipAck("u2")
	c1.waitFor(t, EventBattlePhaseUpdate)

	// u1 is always SidePlayer (first join). Pick whoever is not the
	// turn owner.
	sender, senderConn, otherConn := "u1", c1, c2
	if state.TurnOwner == battle.SidePlayer {
		sender, senderConn, otherConn = "u2", c2, c1
	}

	r.HandleAction(sender, battle.Action{Type: battle.ActionEndTurn})
	senderConn.waitFor(t, EventBattleActionError)
	assert.Equal(t, 0, otherConn.count(EventBattleActionError))
	assert.Equal(t, 0, otherConn.count(EventBattleStateUpdate))
}

func TestLegalActionBroadcastsState(t *testing.T) {
	reg := testRegistry(t, confirmStore())
	r, c1, c2, state := startedBattle(t, reg, "room-1")
	r.CoinFlipAck("u1")
	r.CoinFlipAck("u2")
	c1.waitFor(t, EventBattlePhaseUpdate)

	owner := "u1"
	if state.TurnOwner == battle.SideOpponent {
		owner = "u2"
	}

	r.HandleAction(owner, battle.Action{Type: battle.ActionEndTurn})
	c1.waitFor(t, EventBattleStateUpdate)
	c2.waitFor(t, EventBattleStateUpdate)
}

// A player dropping mid-battle forfeits on the spot.
func TestDisconnectDuringPlayingForfeits(t *testing.T) {
	reg := testRegistry(t, confirmStore())
	r, c1, _, _ := startedBattle(t, reg, "room-1")
	r.CoinFlipAck("u1")
	r.CoinFlipAck("u2")
	c1.waitFor(t, EventBattlePhaseUpdate)

	r.Disconnect("sock-u2")
	c1.waitFor(t, EventPlayerDisconnected)
	env := c1.waitFor(t, EventBattleResult)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u1", data["winnerId"])
	assert.Equal(t, "u2", data["loserId"])
	c1.waitFor(t, EventBattleCompleted)
}

// Dropping before the battle is live is recoverable: the seat stays and
// a rejoin reattaches.
func TestDisconnectBeforePlayingIsRecoverable(t *testing.T) {
	reg := testRegistry(t, confirmStore())
	r := reg.GetOrCreate("room-1")
	c1 := join(r, "u1")
	c2 := join(r, "u2")
	c1.waitFor(t, EventTimerTick)

	r.Disconnect("sock-u2")
	c1.waitFor(t, EventPlayerDisconnected)
	assert.Equal(t, 0, c1.count(EventBattleResult))

	// Rejoin with a fresh connection.
	c2b := newFakeConn("sock-u2-b")
	r.Join(Player{UserID: "u2", Conn: c2b})
	env := c2b.waitFor(t, EventRoomStateUpdate)
	snap, ok := env.Data.(Snapshot)
	require.True(t, ok)
	require.Len(t, snap.Players, 2)
	_ = c2
}

func TestRoomRemovedWhenEmpty(t *testing.T) {
	store := &stubDeckStore{decksByUser: map[string][]deck.Deck{}}
	reg := testRegistry(t, store)
	r := reg.GetOrCreate("room-1")
	c1 := join(r, "u1")
	c1.waitFor(t, EventRoomStateUpdate)
	require.Equal(t, 1, reg.Count())

	r.Disconnect("sock-u1")
	require.Eventually(t, func() bool {
		return reg.Count() == 0
	}, waitFor, 5*time.Millisecond)
}

func TestTimerRequestSyncsCountdown(t *testing.T) {
	reg := testRegistry(t, confirmStore())
	r := reg.GetOrCreate("room-1")
	c1 := join(r, "u1")
	join(r, "u2")
	c1.waitFor(t, EventTimerTick)

	probe := newFakeConn("sock-probe")
	r.RequestTimer(probe)
	env := probe.waitFor(t, EventTimerSync)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["timerActive"])
}
