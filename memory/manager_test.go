package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwick/townmind/core"
)

// manualClock is a settable time source shared by the memory tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)}
}

// constantEmbedder returns the same vector for every text, making every pair
// of memories a perfect semantic match.
type constantEmbedder struct{}

func (constantEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestManager(t *testing.T, embedder core.EmbeddingService) (*Manager, *manualClock) {
	t.Helper()
	clock := newManualClock()
	return NewManager(NewInMemoryStore(), embedder, WithClock(clock)), clock
}

func TestStoreObservationImportanceGate(t *testing.T) {
	m, _ := newTestManager(t, nil)

	res, err := m.StoreObservation(context.Background(), ObservationInput{
		AgentID: "alice", Content: "a leaf fell", Importance: MinImportance - 1,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFiltered, res.Outcome)
	assert.Empty(t, res.ID)

	count, err := m.store.Count(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStoreObservationTemporalDedup(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()
	in := ObservationInput{AgentID: "alice", Content: "the baker burned the bread this morning", Importance: 6}

	res, err := m.StoreObservation(ctx, in)
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, res.Outcome)

	// Same content inside the window is rejected; storage is idempotent.
	res, err = m.StoreObservation(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFiltered, res.Outcome)

	// Past the general window the same content stores again.
	clock.Advance(time.Hour + time.Minute)
	res, err = m.StoreObservation(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, res.Outcome)
}

func TestStoreObservationSemanticDedup(t *testing.T) {
	m, _ := newTestManager(t, constantEmbedder{})
	ctx := context.Background()

	res, err := m.StoreObservation(ctx, ObservationInput{
		AgentID: "alice", Content: "the flour delivery arrived late today", Importance: 6,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, res.Outcome)

	// Lexically distinct but (by the constant embedder) semantically
	// identical content is rejected.
	res, err = m.StoreObservation(ctx, ObservationInput{
		AgentID: "alice", Content: "Bram complained about his aching knee", Importance: 6,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFiltered, res.Outcome)
	assert.Equal(t, "semantically near-duplicate", res.Reason)
}

// flakyEmbedder fails a set number of calls before recovering.
type flakyEmbedder struct {
	calls    int
	failures int
}

func (e *flakyEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.failures > 0 {
		e.failures--
		return nil, errors.New("embedding service temporarily unreachable")
	}
	return []float32{0, 1, 0}, nil
}

func TestStoreObservationEmbedderOutageDegrades(t *testing.T) {
	emb := &flakyEmbedder{failures: 1}
	m, _ := newTestManager(t, emb)
	ctx := context.Background()

	// The outage costs the vector, not the observation.
	res, err := m.StoreObservation(ctx, ObservationInput{
		AgentID: "alice", Content: "the oven door came off its hinge", Importance: 6,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, res.Outcome)

	rec, err := m.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.Embedding)

	// The recovered embedder serves the next candidate as usual.
	res, err = m.StoreObservation(ctx, ObservationInput{
		AgentID: "alice", Content: "Bram argued with a customer over turnips", Importance: 6,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeStored, res.Outcome)

	rec, err = m.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Embedding)
	assert.Equal(t, 2, emb.calls)
}

func TestStoreDerivedEmbedderOutageDegrades(t *testing.T) {
	m, _ := newTestManager(t, &flakyEmbedder{failures: 1})

	id, err := m.StoreDerived(context.Background(), core.MemoryRecord{
		AgentID: "alice", Kind: core.MemoryReflection,
		Content: "the morning rush keeps catching me unprepared", Importance: 8,
	})
	require.NoError(t, err)

	rec, err := m.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, rec.Embedding)
}

func TestMovementAggregation(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		res, err := m.StoreObservation(ctx, ObservationInput{
			AgentID:    "alice",
			Category:   CategoryMovement,
			Subject:    "player-1",
			Content:    "player-1 walked by",
			Importance: 5,
			Position:   core.Point{X: i, Y: 0},
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeAggregated, res.Outcome)
		clock.Advance(10 * time.Second)
	}

	// Nothing persisted while the session is live.
	count, err := m.store.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)

	clock.Advance(movementSessionIdle)
	m.FlushIdleMovement(ctx)

	recs, err := m.MemoriesSince(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Content, "player-1 moved through 4 locations")
	assert.Equal(t, []string{"movement"}, recs[0].Tags)
	assert.Equal(t, []string{"player-1"}, recs[0].RelatedAgents)
}

func TestMovementDepartureClosesImmediately(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		in := ObservationInput{
			AgentID:    "alice",
			Category:   CategoryMovement,
			Subject:    "player-1",
			Content:    "player-1 on the move",
			Importance: 5,
			Position:   core.Point{X: i, Y: i},
			Departure:  i == 2,
		}
		_, err := m.StoreObservation(ctx, in)
		require.NoError(t, err)
	}

	count, err := m.store.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMovementBelowMinMovesEmitsNothing(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.StoreObservation(ctx, ObservationInput{
		AgentID: "alice", Category: CategoryMovement, Subject: "player-1",
		Content: "player-1 stepped out", Importance: 5, Position: core.Point{X: 1, Y: 1},
	})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	m.FlushIdleMovement(ctx)

	count, err := m.store.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStoreDerivedRejectsObservations(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.StoreDerived(context.Background(), core.MemoryRecord{
		AgentID: "alice", Kind: core.MemoryObservation, Content: "sneaky",
	})
	assert.Error(t, err)
}

func TestStoreDerivedFillsDefaults(t *testing.T) {
	m, clock := newTestManager(t, nil)
	id, err := m.StoreDerived(context.Background(), core.MemoryRecord{
		AgentID:    "alice",
		Kind:       core.MemoryReflection,
		Content:    "I have been neglecting the evening bake",
		Importance: 8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := m.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), rec.CreatedAt)
}

func TestStoredHookFires(t *testing.T) {
	var got []core.MemoryRecord
	clock := newManualClock()
	m := NewManager(NewInMemoryStore(), nil,
		WithClock(clock),
		WithStoredHook(func(rec core.MemoryRecord) { got = append(got, rec) }),
	)

	_, err := m.StoreObservation(context.Background(), ObservationInput{
		AgentID: "alice", Content: "the well ran dry", Importance: 7,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.MemoryObservation, got[0].Kind)
	assert.Equal(t, 7, got[0].Importance)
}

func TestContextualMemoriesRanking(t *testing.T) {
	m, clock := newTestManager(t, nil)
	ctx := context.Background()
	start := clock.Now()

	// Old but very important.
	_, err := m.StoreDerived(ctx, core.MemoryRecord{
		AgentID: "alice", Kind: core.MemoryReflection,
		Content: "the bakery is the heart of this town", Importance: 10, EmotionalRelevance: 8,
		CreatedAt: start.Add(-9 * 24 * time.Hour),
	})
	require.NoError(t, err)

	// Fresh but trivial.
	_, err = m.StoreDerived(ctx, core.MemoryRecord{
		AgentID: "alice", Kind: core.MemoryPlan,
		Content: "sweep the doorstep", Importance: 1, EmotionalRelevance: 1,
		CreatedAt: start,
	})
	require.NoError(t, err)

	got, err := m.ContextualMemories(ctx, "alice", "what matters most", 6)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	// 0.4*importance dominates a near-expired recency term.
	assert.Equal(t, "the bakery is the heart of this town", got[0].Content)
}

func TestConversationMemories(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.StoreObservation(ctx, ObservationInput{
		AgentID: "alice", Content: "Bram shared market gossip", Importance: 5,
		RelatedAgents: []string{"bram"},
	})
	require.NoError(t, err)
	_, err = m.StoreObservation(ctx, ObservationInput{
		AgentID: "alice", Content: "Cora waved from across the square", Importance: 5,
		RelatedAgents: []string{"cora"},
	})
	require.NoError(t, err)

	got, err := m.ConversationMemories(ctx, "alice", "bram", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Bram shared market gossip", got[0].Content)
}
