package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/config"
)

// BattleCompleted is published once per finished battle, for stats and
// reward services downstream.
type BattleCompleted struct {
	BattleID   string    `json:"battleId"`
	RoomID     string    `json:"roomId,omitempty"`
	Mode       string    `json:"mode"`
	WinnerID   string    `json:"winnerId"`
	LoserID    string    `json:"loserId,omitempty"`
	Turns      int       `json:"turns"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Publisher emits battle events over NATS. When no NATS URL is
// configured the publisher is disabled and every publish is a no-op, so
// callers never need to nil-check.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher connects to NATS, or returns a disabled publisher when
// cfg.NATSURL is empty.
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{subject: cfg.Subject, logger: logger}
	if cfg.NATSURL == "" {
		logger.Info("event publishing disabled, no NATS URL configured")
		return p, nil
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	logger.Info("event publisher connected", zap.String("url", cfg.NATSURL), zap.String("subject", cfg.Subject))
	p.conn = conn
	return p, nil
}

// PublishBattleCompleted emits the event. Failures are logged, never
// propagated; event delivery must not affect battle handling.
func (p *Publisher) PublishBattleCompleted(ev BattleCompleted) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal battle event", zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Error("failed to publish battle event",
			zap.String("battle_id", ev.BattleID), zap.Error(err))
		return
	}
	p.logger.Debug("battle event published",
		zap.String("battle_id", ev.BattleID), zap.String("winner_id", ev.WinnerID))
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("failed to drain NATS connection", zap.Error(err))
	}
}
