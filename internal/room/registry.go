package room

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/battle"
	"github.com/tcgarena/battle-server/internal/deck"
	"github.com/tcgarena/battle-server/internal/events"
)

// Registry owns the live room table. It replaces ambient global state
// with an injected service: handlers get rooms from here and rooms
// remove themselves through the onClose callback when they die.
type Registry struct {
	cfg       Config
	engine    *battle.Engine
	assembler *deck.Assembler
	decks     deck.Store
	publisher *events.Publisher
	logger    *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config, engine *battle.Engine, assembler *deck.Assembler,
	decks deck.Store, publisher *events.Publisher, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		engine:    engine,
		assembler: assembler,
		decks:     decks,
		publisher: publisher,
		logger:    logger,
		rooms:     make(map[string]*Room),
	}
}

// GetOrCreate returns the room for id, starting a fresh one on first
// join.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r
	}
	r := newRoom(id, g.cfg, g.engine, g.assembler, g.decks, g.publisher, g.logger, g.remove)
	g.rooms[id] = r
	g.logger.Info("room created", zap.String("room_id", id), zap.Int("rooms", len(g.rooms)))
	return r
}

// Get returns an existing room.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// Count reports the number of live rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Shutdown closes every room.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}

func (g *Registry) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, id)
	g.logger.Info("room removed", zap.String("room_id", id), zap.Int("rooms", len(g.rooms)))
}
