package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/catalog"
	"github.com/tcgarena/battle-server/internal/config"
	"github.com/tcgarena/battle-server/internal/deck"
	"github.com/tcgarena/battle-server/internal/events"
	"github.com/tcgarena/battle-server/internal/room"
)

func newSocketTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cat := catalog.New(pveCatalogSource{}, logger)
	store := pveDeckStore{}
	assembler := deck.NewAssembler(cat, store, 15, logger)
	engine := battle.NewEngine(logger)
	publisher, err := events.NewPublisher(config.EventsConfig{}, logger)
	require.NoError(t, err)

	cfg := room.DefaultConfig()
	cfg.CleanupGrace = time.Hour

	reg := room.NewRegistry(cfg, engine, assembler, store, publisher, logger)
	t.Cleanup(reg.Shutdown)

	ws := NewSocketServer(reg, logger)
	srv := httptest.NewServer(http.HandlerFunc(ws.HandleWS))
	t.Cleanup(srv.Close)
	return srv
}

func dialSocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(inboundMessage{Event: event, Data: raw}))
}

func joinTestRoom(t *testing.T, conn *websocket.Conn, roomID, userID string) {
	t.Helper()
	sendEvent(t, conn, msgJoinRoom, map[string]any{
		"roomId": roomID,
		"player": map[string]any{"id": userID, "name": userID},
	})
}

// readUntil drains envelopes until the named event arrives, tolerating
// timer ticks and state updates interleaved by the room actor.
func readUntil(t *testing.T, conn *websocket.Conn, event string) room.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env room.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

func TestDisconnectNotifiesOnlyJoinedRoom(t *testing.T) {
	srv := newSocketTestServer(t)

	dropped := dialSocket(t, srv)
	seated := dialSocket(t, srv)
	bystander := dialSocket(t, srv)

	joinTestRoom(t, dropped, "room-a", "u1")
	joinTestRoom(t, seated, "room-a", "u2")
	joinTestRoom(t, bystander, "room-b", "u3")

	readUntil(t, seated, room.EventRoomStateUpdate)
	readUntil(t, bystander, room.EventRoomStateUpdate)

	dropped.Close()

	env := readUntil(t, seated, room.EventPlayerDisconnected)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u1", data["playerId"])

	// The other room never held u1's seat, so the drop must not reach
	// it. Ask it for a snapshot and make sure the sync arrives without
	// a disconnect notice in front of it.
	sendEvent(t, bystander, msgRequestRoomState, map[string]any{"roomId": "room-b"})
	bystander.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env room.Envelope
		require.NoError(t, bystander.ReadJSON(&env))
		require.NotEqual(t, room.EventPlayerDisconnected, env.Event)
		if env.Event == room.EventRoomStateSync {
			break
		}
	}
}

func TestDisconnectBeforeJoinIsHarmless(t *testing.T) {
	srv := newSocketTestServer(t)

	seated := dialSocket(t, srv)
	joinTestRoom(t, seated, "room-a", "u1")
	readUntil(t, seated, room.EventRoomStateUpdate)

	// A connection that closes without ever joining has no seat to
	// release anywhere.
	loiterer := dialSocket(t, srv)
	loiterer.Close()

	sendEvent(t, seated, msgRequestRoomState, map[string]any{"roomId": "room-a"})
	env := readUntil(t, seated, room.EventRoomStateSync)
	require.NotNil(t, env.Data)
}
