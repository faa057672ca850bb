package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubSource struct {
	defs  []CardDef
	err   error
	calls atomic.Int32
}

func (s *stubSource) LoadAll(ctx context.Context) ([]CardDef, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.defs, nil
}

func testDefs() []CardDef {
	return []CardDef{
		{ID: "base1-58", Name: "Pikachu", Element: Lightning, MaxHP: 60,
			Attacks: []Attack{{Name: "Thunder Jolt", Damage: 30, Cost: []Element{Lightning, Colorless}}}},
		{ID: "base1-4", Name: "Charizard", Element: Fire, MaxHP: 120,
			Attacks: []Attack{{Name: "Fire Spin", Damage: 100, Cost: []Element{Fire, Fire, Fire, Fire}}}},
		{ID: "base1-2", Name: "Blastoise", Element: Water, MaxHP: 100,
			Attacks: []Attack{{Name: "Hydro Pump", Damage: 40, Cost: []Element{Water, Water, Water}}}},
	}
}

func TestGet(t *testing.T) {
	c := New(&stubSource{defs: testDefs()}, zaptest.NewLogger(t))
	ctx := context.Background()

	def, err := c.Get(ctx, "base1-58")
	require.NoError(t, err)
	assert.Equal(t, "Pikachu", def.Name)
	assert.Equal(t, Lightning, def.Element)

	_, err = c.Get(ctx, "no-such-card")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetManyOmitsUnknown(t *testing.T) {
	c := New(&stubSource{defs: testDefs()}, zaptest.NewLogger(t))

	defs, err := c.GetMany(context.Background(), []string{"base1-4", "no-such-card", "base1-2"})
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "Charizard", defs[0].Name)
	assert.Equal(t, "Blastoise", defs[1].Name)
}

func TestGetRandomElementFilter(t *testing.T) {
	c := New(&stubSource{defs: testDefs()}, zaptest.NewLogger(t))

	defs, err := c.GetRandom(context.Background(), 5, Fire)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Charizard", defs[0].Name)

	defs, err = c.GetRandom(context.Background(), 2, "")
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestSingleLoadUnderConcurrency(t *testing.T) {
	src := &stubSource{defs: testDefs()}
	c := New(src, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "base1-58")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFailedLoadRetries(t *testing.T) {
	src := &stubSource{err: errors.New("db down")}
	c := New(src, zaptest.NewLogger(t))

	_, err := c.Get(context.Background(), "base1-58")
	require.Error(t, err)

	src.err = nil
	src.defs = testDefs()
	def, err := c.Get(context.Background(), "base1-58")
	require.NoError(t, err)
	assert.Equal(t, "Pikachu", def.Name)
}
