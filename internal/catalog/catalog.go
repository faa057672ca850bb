package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when a catalog id has no definition.
var ErrNotFound = errors.New("card not found in catalog")

// Source supplies the full set of card definitions. Implementations load
// from the database or from a JSON index file.
type Source interface {
	LoadAll(ctx context.Context) ([]CardDef, error)
}

// Catalog is a read-through cache over a Source. The source is consulted
// at most once per process; concurrent first callers share a single
// in-flight load instead of triggering duplicates.
type Catalog struct {
	source Source
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	cards  map[string]CardDef
	order  []string
}

// New creates a Catalog backed by the given source. Nothing is loaded
// until the first lookup.
func New(source Source, logger *zap.Logger) *Catalog {
	return &Catalog{
		source: source,
		logger: logger,
	}
}

// ensureLoaded performs the one-time load. Callers arriving while a load
// is in flight block on the mutex and observe the populated cache. A
// failed load is not cached, so a later call may retry.
func (c *Catalog) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	defs, err := c.source.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load card catalog: %w", err)
	}

	c.cards = make(map[string]CardDef, len(defs))
	c.order = make([]string, 0, len(defs))
	for _, def := range defs {
		if _, dup := c.cards[def.ID]; dup {
			c.logger.Warn("duplicate card id in catalog source", zap.String("card_id", def.ID))
			continue
		}
		c.cards[def.ID] = def
		c.order = append(c.order, def.ID)
	}
	c.loaded = true

	c.logger.Info("card catalog loaded", zap.Int("cards", len(c.cards)))
	return nil
}

// Get returns the definition for id, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, id string) (CardDef, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return CardDef{}, err
	}
	c.mu.Lock()
	def, ok := c.cards[id]
	c.mu.Unlock()
	if !ok {
		return CardDef{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return def, nil
}

// GetMany returns the definitions for the given ids, silently omitting
// unknown ones. Callers that care must compare lengths.
func (c *Catalog) GetMany(ctx context.Context, ids []string) ([]CardDef, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	defs := make([]CardDef, 0, len(ids))
	for _, id := range ids {
		if def, ok := c.cards[id]; ok {
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// GetRandom returns up to count random definitions, optionally restricted
// to one element. An empty element means no filter. Fewer than count are
// returned when the filtered pool is too small.
func (c *Catalog) GetRandom(ctx context.Context, count int, element Element) ([]CardDef, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	pool := make([]string, 0, len(c.order))
	for _, id := range c.order {
		if element != "" && c.cards[id].Element != element {
			continue
		}
		pool = append(pool, id)
	}

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if count > len(pool) {
		count = len(pool)
	}

	defs := make([]CardDef, 0, count)
	for _, id := range pool[:count] {
		defs = append(defs, c.cards[id])
	}
	return defs, nil
}

// Size reports the number of loaded definitions, forcing the initial load
// if it has not happened yet.
func (c *Catalog) Size(ctx context.Context) (int, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cards), nil
}
