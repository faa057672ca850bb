package room

// Outbound socket event names.
const (
	EventRoomStateUpdate    = "ROOM_STATE_UPDATE"
	EventRoomStateSync      = "ROOM_STATE_SYNC"
	EventTimerTick          = "TIMER_TICK"
	EventTimerEnd           = "TIMER_END"
	EventTimerSync          = "TIMER_SYNC"
	EventAutoPickDeck       = "AUTO_PICK_DECK"
	EventPlayerConfirmed    = "PLAYER_CONFIRMED"
	EventBattleStart        = "BATTLE_START"
	EventBattlePhaseUpdate  = "BATTLE_PHASE_UPDATE"
	EventWaitingForOpponent = "WAITING_FOR_OPPONENT"
	EventBattleStateUpdate  = "BATTLE_STATE_UPDATE"
	EventDamageEffect       = "DAMAGE_EFFECT"
	EventBattleCompleted    = "BATTLE_COMPLETED"
	EventBattleResult       = "BATTLE_RESULT"
	EventPlayerDisconnected = "PLAYER_DISCONNECTED"
	EventBattleActionError  = "BATTLE_ACTION_ERROR"
	EventError              = "error"
)

// Envelope is one outbound socket message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn is the transport handle for one connected player. The websocket
// layer implements it; tests substitute a recorder.
type Conn interface {
	// SocketID identifies this connection, distinct from the user id so
	// a rejoin with a fresh connection can replace a stale one.
	SocketID() string

	// Send queues an envelope for delivery. It must not block the
	// caller; a slow consumer is the transport layer's problem.
	Send(env Envelope)
}

// PlayerInfo is the public view of one seat, included in room snapshots.
type PlayerInfo struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Confirmed bool   `json:"confirmed"`
	Connected bool   `json:"connected"`
	DeckID    string `json:"deckId,omitempty"`
}

// Snapshot is the room state broadcast on every membership or
// confirmation change.
type Snapshot struct {
	RoomID      string       `json:"roomId"`
	Phase       string       `json:"phase"`
	Players     []PlayerInfo `json:"players"`
	Timer       int          `json:"timer"`
	TimerActive bool         `json:"timerActive"`
}
