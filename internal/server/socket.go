package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/catalog"
	"github.com/tcgarena/battle-server/internal/room"
)

// Inbound socket event names.
const (
	msgJoinRoom          = "joinRoom"
	msgSelectDeck        = "SELECT_DECK"
	msgConfirmDeck       = "CONFIRM_DECK"
	msgCoinFlipComplete  = "COIN_FLIP_COMPLETE"
	msgBattleAction      = "BATTLE_ACTION"
	msgRequestTimer      = "REQUEST_TIMER"
	msgRequestRoomState  = "REQUEST_ROOM_STATE"
	msgRequestBattleData = "REQUEST_BATTLE_DATA"
)

// inboundMessage is the wire envelope for client-to-server messages.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
	Player struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatarUrl"`
	} `json:"player"`
}

type deckPayload struct {
	RoomID   string   `json:"roomId"`
	PlayerID string   `json:"playerId"`
	DeckID   string   `json:"deckId"`
	Cards    []string `json:"cards,omitempty"`
}

type roomPayload struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId,omitempty"`
}

type battleActionPayload struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Action   struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"action"`
}

type actionData struct {
	CardInstanceID string `json:"cardInstanceId"`
	BenchSlot      int    `json:"benchSlot"`
	AttackIndex    int    `json:"attackIndex"`
	EnergyType     string `json:"energyType"`
}

// SocketServer terminates PvP websocket connections and routes their
// messages into the room registry.
type SocketServer struct {
	registry *room.Registry
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewSocketServer creates a SocketServer.
func NewSocketServer(registry *room.Registry, logger *zap.Logger) *SocketServer {
	return &SocketServer{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleWS upgrades an HTTP request and starts the connection's pumps.
func (s *SocketServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan room.Envelope, sendQueueSize),
		server: s,
		logger: s.logger,
	}
	s.logger.Info("websocket connected", zap.String("socket_id", c.id))

	go c.writeLoop()
	go c.readLoop()
}

// dispatch routes one inbound message. Unknown room ids are answered
// with an error instead of implicitly creating rooms for every typo;
// only joinRoom creates.
func (s *SocketServer) dispatch(c *client, msg inboundMessage) {
	switch msg.Event {
	case msgJoinRoom:
		var p joinRoomPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		c.userID = p.Player.ID
		c.roomID = p.RoomID
		r := s.registry.GetOrCreate(p.RoomID)
		r.Join(room.Player{
			UserID:    p.Player.ID,
			Name:      p.Player.Name,
			AvatarURL: p.Player.AvatarURL,
			Conn:      c,
		})

	case msgSelectDeck:
		var p deckPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		if r, ok := s.lookup(c, p.RoomID); ok {
			r.SelectDeck(s.playerID(c, p.PlayerID), p.DeckID)
		}

	case msgConfirmDeck:
		var p deckPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		if r, ok := s.lookup(c, p.RoomID); ok {
			r.ConfirmDeck(s.playerID(c, p.PlayerID), p.DeckID, p.Cards)
		}

	case msgCoinFlipComplete:
		var p roomPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		if r, ok := s.lookup(c, p.RoomID); ok {
			r.CoinFlipAck(s.playerID(c, p.PlayerID))
		}

	case msgBattleAction:
		var p battleActionPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		var d actionData
		if len(p.Action.Data) > 0 {
			if err := json.Unmarshal(p.Action.Data, &d); err != nil {
				c.Send(room.Envelope{Event: room.EventError, Data: map[string]any{
					"message": "malformed action data",
				}})
				return
			}
		}
		if r, ok := s.lookup(c, p.RoomID); ok {
			r.HandleAction(s.playerID(c, p.PlayerID), battle.Action{
				Type:           battle.ActionType(p.Action.Type),
				CardInstanceID: d.CardInstanceID,
				BenchSlot:      d.BenchSlot,
				AttackIndex:    d.AttackIndex,
				EnergyType:     catalog.Element(d.EnergyType),
			})
		}

	case msgRequestTimer:
		var p roomPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		if r, ok := s.lookup(c, p.RoomID); ok {
			r.RequestTimer(c)
		}

	case msgRequestRoomState:
		var p roomPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		if r, ok := s.lookup(c, p.RoomID); ok {
			r.RequestRoomState(c)
		}

	case msgRequestBattleData:
		var p roomPayload
		if !s.decode(c, msg.Data, &p) {
			return
		}
		if r, ok := s.lookup(c, p.RoomID); ok {
			r.RequestBattleData(c)
		}

	default:
		c.Send(room.Envelope{Event: room.EventError, Data: map[string]any{
			"message": "unknown event: " + msg.Event,
		}})
	}
}

func (s *SocketServer) decode(c *client, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.Send(room.Envelope{Event: room.EventError, Data: map[string]any{
			"message": "malformed payload",
		}})
		return false
	}
	return true
}

func (s *SocketServer) lookup(c *client, roomID string) (*room.Room, bool) {
	r, ok := s.registry.Get(roomID)
	if !ok {
		c.Send(room.Envelope{Event: room.EventError, Data: map[string]any{
			"message": "room not found: " + roomID,
		}})
	}
	return r, ok
}

// playerID prefers the explicit payload id and falls back to the id the
// connection joined with.
func (s *SocketServer) playerID(c *client, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.userID
}

// disconnect reports the drop to the room the connection joined. A
// connection that never joined has no seat anywhere, so there is
// nothing to notify.
func (s *SocketServer) disconnect(c *client) {
	s.logger.Info("websocket disconnected",
		zap.String("socket_id", c.id), zap.String("user_id", c.userID))
	if c.roomID == "" {
		return
	}
	if r, ok := s.registry.Get(c.roomID); ok {
		r.Disconnect(c.id)
	}
}
