package room

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/deck"
	"github.com/tcgarena/battle-server/internal/events"
)

// Phase is the room lifecycle phase, coarser than the battle phase.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseSelecting Phase = "selecting"
	PhaseCoinFlip  Phase = "coin_flip"
	PhasePlaying   Phase = "playing"
	PhaseFinished  Phase = "finished"
)

// Config carries the room timing knobs. TickInterval exists so tests can
// run the selection countdown faster than real time.
type Config struct {
	SelectionSeconds int
	TickInterval     time.Duration
	CleanupGrace     time.Duration
	Rules            battle.Rules
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		SelectionSeconds: 60,
		TickInterval:     time.Second,
		CleanupGrace:     time.Minute,
		Rules:            battle.DefaultRules(),
	}
}

// Player identifies a joining user and their connection.
type Player struct {
	UserID    string
	Name      string
	AvatarURL string
	Conn      Conn
}

// seat is one of the two player slots.
type seat struct {
	Player
	side      battle.Side
	connected bool
	confirmed bool
	deckID    string
	cards     []string
}

// Room owns one match between two players. All mutable state is touched
// only by the run goroutine, which consumes a typed command channel;
// commands for the same room apply in arrival order and never interleave.
type Room struct {
	id        string
	cfg       Config
	engine    *battle.Engine
	assembler *deck.Assembler
	decks     deck.Store
	publisher *events.Publisher
	logger    *zap.Logger
	onClose   func(roomID string)

	cmds chan command
	done chan struct{}
	once sync.Once

	seats map[string]*seat
	order []string
	phase Phase

	remaining int
	ticker    *time.Ticker
	tickC     <-chan time.Time

	cleanupT *time.Timer
	cleanupC <-chan time.Time

	coinAcks map[string]struct{}
	started  bool
	battleID string
	state    *battle.State
	bctx     *battle.Context
}

func newRoom(id string, cfg Config, engine *battle.Engine, assembler *deck.Assembler,
	decks deck.Store, publisher *events.Publisher, logger *zap.Logger, onClose func(string)) *Room {
	r := &Room{
		id:        id,
		cfg:       cfg,
		engine:    engine,
		assembler: assembler,
		decks:     decks,
		publisher: publisher,
		logger:    logger.With(zap.String("room_id", id)),
		onClose:   onClose,
		cmds:      make(chan command, 64),
		done:      make(chan struct{}),
		seats:     make(map[string]*seat),
		phase:     PhaseWaiting,
		coinAcks:  make(map[string]struct{}),
	}
	go r.run()
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Join upserts a player into the room. Rejoining with a new connection
// replaces the old one.
func (r *Room) Join(p Player) { r.post(joinCmd{player: p}) }

// SelectDeck records a provisional deck choice without confirming it.
func (r *Room) SelectDeck(userID, deckID string) { r.post(selectDeckCmd{userID: userID, deckID: deckID}) }

// ConfirmDeck locks in a deck. An explicit card list, if present, wins
// over the stored deck contents.
func (r *Room) ConfirmDeck(userID, deckID string, cards []string) {
	r.post(confirmDeckCmd{userID: userID, deckID: deckID, cards: cards})
}

// CoinFlipAck marks one player ready after the coin flip animation.
func (r *Room) CoinFlipAck(userID string) { r.post(coinFlipAckCmd{userID: userID}) }

// HandleAction forwards a battle action from userID.
func (r *Room) HandleAction(userID string, action battle.Action) {
	r.post(actionCmd{userID: userID, action: action})
}

// RequestTimer replies to conn with the current countdown.
func (r *Room) RequestTimer(conn Conn) { r.post(timerRequestCmd{conn: conn}) }

// RequestRoomState replies to conn with a room snapshot.
func (r *Room) RequestRoomState(conn Conn) { r.post(roomStateRequestCmd{conn: conn}) }

// RequestBattleData replies to conn with the full battle state.
func (r *Room) RequestBattleData(conn Conn) { r.post(battleDataRequestCmd{conn: conn}) }

// Disconnect reports that the connection identified by socketID dropped.
func (r *Room) Disconnect(socketID string) { r.post(disconnectCmd{socketID: socketID}) }

// Close tears the room down immediately.
func (r *Room) Close() { r.shutdown() }

func (r *Room) post(cmd command) {
	select {
	case r.cmds <- cmd:
	case <-r.done:
	}
}

func (r *Room) run() {
	for {
		select {
		case cmd := <-r.cmds:
			r.handle(cmd)
		case <-r.tickC:
			r.handleTick()
		case <-r.cleanupC:
			r.logger.Info("cleanup grace elapsed, closing room")
			r.shutdown()
		case <-r.done:
			r.stopTimer()
			return
		}
	}
}

func (r *Room) shutdown() {
	r.once.Do(func() {
		close(r.done)
		if r.onClose != nil {
			r.onClose(r.id)
		}
	})
}

func (r *Room) handle(cmd command) {
	switch c := cmd.(type) {
	case joinCmd:
		r.handleJoin(c.player)
	case selectDeckCmd:
		r.handleSelectDeck(c.userID, c.deckID)
	case confirmDeckCmd:
		r.handleConfirmDeck(c.userID, c.deckID, c.cards)
	case coinFlipAckCmd:
		r.handleCoinFlipAck(c.userID)
	case actionCmd:
		r.handleAction(c.userID, c.action)
	case timerRequestCmd:
		c.conn.Send(Envelope{Event: EventTimerSync, Data: map[string]any{
			"timer":       r.remaining,
			"timerActive": r.timerActive(),
		}})
	case roomStateRequestCmd:
		c.conn.Send(Envelope{Event: EventRoomStateSync, Data: r.snapshot()})
	case battleDataRequestCmd:
		if r.state == nil {
			c.conn.Send(Envelope{Event: EventError, Data: map[string]any{"message": "battle not started"}})
			return
		}
		c.conn.Send(Envelope{Event: EventBattleStateUpdate, Data: r.state.Clone()})
	case disconnectCmd:
		r.handleDisconnect(c.socketID)
	}
}

func (r *Room) handleJoin(p Player) {
	if s, ok := r.seats[p.UserID]; ok {
		s.Conn = p.Conn
		s.connected = true
		if p.Name != "" {
			s.Name = p.Name
		}
		r.logger.Info("player rejoined", zap.String("user_id", p.UserID))
		r.broadcast(Envelope{Event: EventRoomStateUpdate, Data: r.snapshot()})
		return
	}
	if len(r.seats) >= 2 {
		p.Conn.Send(Envelope{Event: EventError, Data: map[string]any{"message": "room is full"}})
		return
	}

	side := battle.SidePlayer
	if len(r.seats) == 1 {
		side = battle.SideOpponent
	}
	r.seats[p.UserID] = &seat{Player: p, side: side, connected: true}
	r.order = append(r.order, p.UserID)
	r.logger.Info("player joined", zap.String("user_id", p.UserID), zap.String("side", string(side)))

	r.broadcast(Envelope{Event: EventRoomStateUpdate, Data: r.snapshot()})

	if len(r.seats) == 2 && !r.started && !r.timerActive() {
		r.phase = PhaseSelecting
		r.startTimer()
	}
}

func (r *Room) handleSelectDeck(userID, deckID string) {
	s, ok := r.seats[userID]
	if !ok || r.started {
		return
	}
	s.deckID = deckID
	r.broadcast(Envelope{Event: EventRoomStateUpdate, Data: r.snapshot()})
}

func (r *Room) handleConfirmDeck(userID, deckID string, cards []string) {
	s, ok := r.seats[userID]
	if !ok || r.started {
		return
	}
	s.deckID = deckID
	s.cards = cards
	s.confirmed = true

	r.broadcast(Envelope{Event: EventPlayerConfirmed, Data: map[string]any{
		"playerId": userID,
		"deckId":   deckID,
	}})

	if len(r.seats) == 2 && r.allConfirmed() {
		r.stopTimer()
		r.startBattle()
	}
}

func (r *Room) handleTick() {
	r.remaining--
	if r.remaining > 0 {
		r.broadcast(Envelope{Event: EventTimerTick, Data: map[string]any{"seconds": r.remaining}})
		return
	}

	r.stopTimer()
	r.broadcast(Envelope{Event: EventTimerEnd})
	r.autoPickUnconfirmed()
	r.startBattle()
}

// autoPickUnconfirmed picks a random saved deck for every player that
// did not confirm before the timer ran out. A player with no saved decks
// is skipped with a warning and enters the battle with an empty deck.
func (r *Room) autoPickUnconfirmed() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, userID := range r.order {
		s := r.seats[userID]
		if s.confirmed {
			continue
		}
		decks, err := r.decks.ListDecks(ctx, userID)
		if err != nil {
			r.logger.Warn("failed to list decks for auto-pick",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if len(decks) == 0 {
			r.logger.Warn("no decks available for auto-pick", zap.String("user_id", userID))
			continue
		}

		picked := decks[rand.Intn(len(decks))]
		s.deckID = picked.ID
		s.confirmed = true

		if s.connected {
			s.Conn.Send(Envelope{Event: EventAutoPickDeck, Data: picked})
		}
		r.broadcast(Envelope{Event: EventPlayerConfirmed, Data: map[string]any{
			"playerId": userID,
			"deckId":   picked.ID,
		}})
		r.logger.Info("deck auto-picked",
			zap.String("user_id", userID), zap.String("deck_id", picked.ID))
	}
}

// startBattle assembles both decks, rolls the first player, and enters
// the coin flip phase. It runs at most once per room.
func (r *Room) startBattle() {
	if r.started || len(r.seats) < 2 {
		return
	}
	r.started = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decksBySide := make(map[battle.Side][]*battle.CardInstance)
	for _, userID := range r.order {
		s := r.seats[userID]
		switch {
		case len(s.cards) > 0:
			decksBySide[s.side] = r.assembler.Assemble(ctx, s.cards)
		case s.confirmed && s.deckID != "":
			decksBySide[s.side] = r.assembler.Build(ctx, s.deckID, userID)
		default:
			decksBySide[s.side] = []*battle.CardInstance{}
		}
	}

	firstOwner := battle.SidePlayer
	if rand.Intn(2) == 1 {
		firstOwner = battle.SideOpponent
	}

	r.battleID = uuid.NewString()
	r.state, r.bctx = battle.Setup(r.battleID, r.cfg.Rules, firstOwner,
		decksBySide[battle.SidePlayer], decksBySide[battle.SideOpponent])
	r.state.Phase = battle.PhaseCoinFlip
	r.phase = PhaseCoinFlip
	r.coinAcks = make(map[string]struct{})

	r.logger.Info("battle started",
		zap.String("battle_id", r.battleID),
		zap.String("first_owner", string(firstOwner)))

	// Broadcast a copy: the transport marshals asynchronously while the
	// actor keeps mutating the live state.
	r.broadcast(Envelope{Event: EventBattleStart, Data: r.state.Clone()})
}

// handleCoinFlipAck implements the two-party readiness barrier: the
// phase advances only once both players have acknowledged, never on a
// timeout.
func (r *Room) handleCoinFlipAck(userID string) {
	if r.phase != PhaseCoinFlip {
		return
	}
	s, ok := r.seats[userID]
	if !ok {
		return
	}

	r.coinAcks[userID] = struct{}{}
	if len(r.coinAcks) < 2 {
		if s.connected {
			s.Conn.Send(Envelope{Event: EventWaitingForOpponent})
		}
		return
	}

	r.state.Phase = battle.PhasePlaying
	r.phase = PhasePlaying
	r.broadcast(Envelope{Event: EventBattlePhaseUpdate, Data: map[string]any{
		"gamePhase":   string(battle.PhasePlaying),
		"battleState": r.state.Clone(),
	}})
}

func (r *Room) handleAction(userID string, action battle.Action) {
	s, ok := r.seats[userID]
	if !ok {
		return
	}
	if r.state == nil {
		if s.connected {
			s.Conn.Send(Envelope{Event: EventError, Data: map[string]any{"message": "battle not started"}})
		}
		return
	}

	outcome, err := r.engine.Apply(r.state, r.bctx, s.side, action)
	if err != nil {
		if s.connected {
			s.Conn.Send(Envelope{Event: EventBattleActionError, Data: map[string]any{
				"action": action,
				"error":  err.Error(),
			}})
		}
		return
	}

	r.broadcast(Envelope{Event: EventBattleStateUpdate, Data: r.state.Clone()})

	if outcome.Damage > 0 {
		if target := r.userBySide(s.side.Other()); target != "" {
			r.broadcast(Envelope{Event: EventDamageEffect, Data: map[string]any{
				"targetPlayerId": target,
			}})
		}
	}
	if outcome.Finished {
		r.finishBattle(outcome.Winner)
	}
}

func (r *Room) finishBattle(winner battle.Side) {
	r.phase = PhaseFinished
	winnerID := r.userBySide(winner)
	loserID := r.userBySide(winner.Other())

	r.broadcast(Envelope{Event: EventBattleCompleted})
	r.broadcast(Envelope{Event: EventBattleResult, Data: map[string]any{
		"winnerId": winnerID,
		"loserId":  loserID,
	}})

	r.publisher.PublishBattleCompleted(events.BattleCompleted{
		BattleID:   r.battleID,
		RoomID:     r.id,
		Mode:       "pvp",
		WinnerID:   winnerID,
		LoserID:    loserID,
		Turns:      r.state.TurnNumber,
		FinishedAt: time.Now().UTC(),
	})

	r.cleanupT = time.NewTimer(r.cfg.CleanupGrace)
	r.cleanupC = r.cleanupT.C
}

// handleDisconnect forfeits a mid-battle player and merely marks an
// earlier-phase player absent, keeping the seat for a rejoin.
func (r *Room) handleDisconnect(socketID string) {
	var s *seat
	for _, userID := range r.order {
		if r.seats[userID].Conn != nil && r.seats[userID].Conn.SocketID() == socketID {
			s = r.seats[userID]
			break
		}
	}
	if s == nil {
		return
	}

	s.connected = false
	r.broadcast(Envelope{Event: EventPlayerDisconnected, Data: map[string]any{
		"playerId": s.UserID,
	}})
	r.logger.Info("player disconnected",
		zap.String("user_id", s.UserID), zap.String("phase", string(r.phase)))

	if r.phase == PhasePlaying && r.state != nil && !r.state.Finished() {
		outcome, err := r.engine.Apply(r.state, r.bctx, s.side, battle.Action{Type: battle.ActionSurrender})
		if err != nil {
			r.logger.Error("forfeit failed", zap.Error(err))
			return
		}
		r.broadcast(Envelope{Event: EventBattleStateUpdate, Data: r.state.Clone()})
		r.finishBattle(outcome.Winner)
		return
	}

	if r.allDisconnected() {
		r.logger.Info("room empty, closing")
		r.shutdown()
	}
}

func (r *Room) startTimer() {
	r.remaining = r.cfg.SelectionSeconds
	r.ticker = time.NewTicker(r.cfg.TickInterval)
	r.tickC = r.ticker.C
	r.broadcast(Envelope{Event: EventTimerTick, Data: map[string]any{"seconds": r.remaining}})
}

func (r *Room) stopTimer() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
		r.tickC = nil
	}
}

func (r *Room) timerActive() bool { return r.tickC != nil }

func (r *Room) allConfirmed() bool {
	for _, s := range r.seats {
		if !s.confirmed {
			return false
		}
	}
	return len(r.seats) > 0
}

func (r *Room) allDisconnected() bool {
	for _, s := range r.seats {
		if s.connected {
			return false
		}
	}
	return true
}

func (r *Room) userBySide(side battle.Side) string {
	for _, userID := range r.order {
		if r.seats[userID].side == side {
			return userID
		}
	}
	return ""
}

func (r *Room) snapshot() Snapshot {
	snap := Snapshot{
		RoomID:      r.id,
		Phase:       string(r.phase),
		Timer:       r.remaining,
		TimerActive: r.timerActive(),
	}
	for _, userID := range r.order {
		s := r.seats[userID]
		snap.Players = append(snap.Players, PlayerInfo{
			UserID:    s.UserID,
			Name:      s.Name,
			AvatarURL: s.AvatarURL,
			Confirmed: s.confirmed,
			Connected: s.connected,
			DeckID:    s.deckID,
		})
	}
	return snap
}

func (r *Room) broadcast(env Envelope) {
	for _, s := range r.seats {
		if s.connected && s.Conn != nil {
			s.Conn.Send(env)
		}
	}
}
