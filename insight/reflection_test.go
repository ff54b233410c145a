package insight

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/internal/testutil"
	"github.com/ashwick/townmind/memory"
)

// manualClock is a settable time source shared by the insight tests.
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
	return &manualClock{t: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
}

func newReflectionFixture(t *testing.T) (*ReflectionEngine, *memory.Manager, *manualClock) {
	t.Helper()
	clock := newManualClock()
	mgr := memory.NewManager(memory.NewInMemoryStore(), nil, memory.WithClock(clock))
	return NewReflectionEngine(mgr, clock, nil), mgr, clock
}

func TestShouldReflectGates(t *testing.T) {
	e, _, clock := newReflectionFixture(t)
	last := clock.Now().Add(-2 * time.Hour)

	tests := []struct {
		name     string
		counters core.DayCounters
		want     bool
	}{
		{"all gates pass", core.DayCounters{CumulativeImportance: 150, MemoriesSinceReflection: 5, LastReflectionAt: last}, true},
		{"importance short", core.DayCounters{CumulativeImportance: 149, MemoriesSinceReflection: 5, LastReflectionAt: last}, false},
		{"too few memories", core.DayCounters{CumulativeImportance: 200, MemoriesSinceReflection: 4, LastReflectionAt: last}, false},
		{"daily cap reached", core.DayCounters{CumulativeImportance: 200, MemoriesSinceReflection: 10, ReflectionsToday: MaxReflectionsPerDay, LastReflectionAt: last}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := testutil.NewAgentBuilder("alice").Counters(tt.counters).Build()
			assert.Equal(t, tt.want, e.ShouldReflect(agent))
		})
	}
}

func TestPrepareBuildsPromptFromAccumulation(t *testing.T) {
	e, mgr, clock := newReflectionFixture(t)
	ctx := context.Background()
	last := clock.Now().Add(-3 * time.Hour)

	_, err := mgr.StoreObservation(ctx, memory.ObservationInput{
		AgentID: "alice", Content: "the oven cracked during the morning bake", Importance: 8,
	})
	require.NoError(t, err)

	agent := testutil.NewAgentBuilder("alice").
		Goal("run the bakery").
		ReadyToReflect(last).
		Build()

	req, ok, err := e.Prepare(ctx, agent)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", req.AgentID)
	assert.Equal(t, last.UnixNano(), req.Epoch)
	assert.Contains(t, req.Prompt, "the oven cracked")
	assert.Contains(t, req.Prompt, "run the bakery")
}

func TestPrepareDedupsInFlightWindow(t *testing.T) {
	e, _, clock := newReflectionFixture(t)
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("alice").ReadyToReflect(clock.Now().Add(-time.Hour)).Build()

	_, ok, err := e.Prepare(ctx, agent)
	require.NoError(t, err)
	require.True(t, ok)

	// Same accumulation window, already generating.
	_, ok, err = e.Prepare(ctx, agent)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteResetsCountersAndStores(t *testing.T) {
	e, mgr, clock := newReflectionFixture(t)
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("alice").ReadyToReflect(clock.Now().Add(-time.Hour)).Build()

	req, ok, err := e.Prepare(ctx, agent)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Minute)
	require.NoError(t, e.Complete(ctx, agent, req, "I keep postponing repairs that matter to me."))

	assert.Zero(t, agent.Counters.CumulativeImportance)
	assert.Zero(t, agent.Counters.MemoriesSinceReflection)
	assert.Equal(t, 1, agent.Counters.ReflectionsToday)
	assert.Equal(t, clock.Now(), agent.Counters.LastReflectionAt)

	recs, err := mgr.MemoriesSince(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, core.MemoryReflection, recs[0].Kind)
	assert.Contains(t, recs[0].Tags, "reflection")
}

func TestCompleteEmptyTextSkipsStorage(t *testing.T) {
	e, mgr, clock := newReflectionFixture(t)
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("alice").ReadyToReflect(clock.Now().Add(-time.Hour)).Build()

	req, ok, err := e.Prepare(ctx, agent)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.Complete(ctx, agent, req, "   \n"))

	recs, err := mgr.MemoriesSince(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, agent.Counters.ReflectionsToday, "an empty result must not consume the daily budget")
}

func TestAbortAllowsRetry(t *testing.T) {
	e, _, clock := newReflectionFixture(t)
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("alice").ReadyToReflect(clock.Now().Add(-time.Hour)).Build()

	req, ok, err := e.Prepare(ctx, agent)
	require.NoError(t, err)
	require.True(t, ok)

	e.Abort(req)

	// The same window is claimable again after the failed job released it.
	_, ok, err = e.Prepare(ctx, agent)
	require.NoError(t, err)
	assert.True(t, ok)
}
