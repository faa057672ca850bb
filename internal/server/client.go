package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/room"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the peer may stay silent before the
	// connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendQueueSize = 256
)

// client is one websocket connection. Outbound envelopes go through the
// buffered send channel so the room actor never blocks on a slow peer.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan room.Envelope
	server *SocketServer
	logger *zap.Logger

	// userID is learned from the joinRoom message and used for events
	// that identify the player implicitly.
	userID string
	roomID string
}

// SocketID implements room.Conn.
func (c *client) SocketID() string { return c.id }

// Send implements room.Conn. A full queue drops the envelope instead of
// blocking the sender; the peer can resync with REQUEST_ROOM_STATE.
func (c *client) Send(env room.Envelope) {
	select {
	case c.send <- env:
	default:
		c.logger.Warn("send queue full, dropping event",
			zap.String("socket_id", c.id),
			zap.String("event", env.Event))
	}
}

// readLoop pumps inbound messages into the dispatcher until the
// connection drops, then reports the disconnect.
func (c *client) readLoop() {
	defer func() {
		c.server.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.String("socket_id", c.id), zap.Error(err))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(room.Envelope{Event: room.EventError, Data: map[string]any{
				"message": "malformed message",
			}})
			continue
		}
		c.server.dispatch(c, msg)
	}
}

// writeLoop drains the send channel and keeps the connection alive with
// pings.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn("websocket write failed", zap.String("socket_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
