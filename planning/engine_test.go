package planning

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

// manualClock is a settable time source for the planning tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 8, 28, 5, 30, 0, 0, time.UTC)}
}

func newEngineFixture(t *testing.T) (*Engine, *memory.Manager, *memory.InMemoryPlanStore) {
	t.Helper()
	clock := newManualClock()
	mgr := memory.NewManager(memory.NewInMemoryStore(), nil, memory.WithClock(clock))
	plans := memory.NewInMemoryPlanStore()
	return NewEngine(mgr, plans, clock, nil), mgr, plans
}

func TestPrepareIncludesContext(t *testing.T) {
	e, mgr, _ := newEngineFixture(t)
	ctx := context.Background()

	_, err := mgr.StoreObservation(ctx, memory.ObservationInput{
		AgentID: "alice", Content: "the flour delivery is due tomorrow", Importance: 7,
	})
	require.NoError(t, err)

	agent := testutil.NewAgentBuilder("alice").
		Goal("run the bakery").
		Template(core.PlanStep{At: 360, Intent: core.ActivityIntent{Name: "bake bread"}}).
		Build()

	req, err := e.Prepare(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, "alice", req.AgentID)
	assert.Contains(t, req.Prompt, "run the bakery")
	assert.Contains(t, req.Prompt, "flour delivery")
	assert.Contains(t, req.Prompt, "bake bread")
}

func TestCompleteActivatesGeneratedPlan(t *testing.T) {
	e, mgr, plans := newEngineFixture(t)
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("alice").Goal("run the bakery").Build()

	out := `{"goal": "a full day of baking",
		"schedule": [
			{"time": "6:00", "activity": "bake bread", "location": "bakery", "priority": 8},
			{"time": "12:00", "activity": "tend stall", "priority": 5}
		]}`

	plan, err := e.Complete(ctx, agent, Request{AgentID: "alice"}, out)
	require.NoError(t, err)
	assert.Equal(t, "a full day of baking", plan.Goal)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, core.DayMinute(360), plan.Steps[0].At)
	assert.Equal(t, core.StepFromPlanner, plan.Steps[0].Source)
	assert.Equal(t, "bakery", plan.Steps[0].Intent.LocationHint)

	active, ok, err := plans.Active(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plan.ID, active.ID)

	// A plan summary memory lands alongside.
	recs, err := mgr.MemoriesSince(ctx, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, core.MemoryPlan, recs[0].Kind)
	assert.Contains(t, recs[0].Content, "a full day of baking")
}

func TestCompleteFallsBackToTemplate(t *testing.T) {
	e, _, plans := newEngineFixture(t)
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("alice").
		Template(
			core.PlanStep{At: 360, Intent: core.ActivityIntent{Name: "bake bread"}},
			core.PlanStep{At: 720, Intent: core.ActivityIntent{Name: "tend stall"}},
		).
		Build()

	plan, err := e.Complete(ctx, agent, Request{AgentID: "alice"}, "sorry, I cannot plan today")
	require.NoError(t, err)
	assert.Equal(t, "Follow the usual routine", plan.Goal)
	require.Len(t, plan.Steps, 2)
	for _, st := range plan.Steps {
		assert.Equal(t, core.StepFromTemplate, st.Source)
		assert.NotEmpty(t, st.ID)
		assert.False(t, st.Done)
	}

	_, ok, err := plans.Active(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompleteFallbackWithoutTemplateFails(t *testing.T) {
	e, _, _ := newEngineFixture(t)
	agent := testutil.NewAgentBuilder("alice").Build()

	_, err := e.Complete(context.Background(), agent, Request{AgentID: "alice"}, "not a plan")
	assert.Error(t, err)
}

func TestCompleteReplacesActivePlan(t *testing.T) {
	e, _, plans := newEngineFixture(t)
	ctx := context.Background()
	agent := testutil.NewAgentBuilder("alice").Build()

	out := `{"goal": "first", "schedule": [{"time": "8:00", "activity": "bake bread"}]}`
	first, err := e.Complete(ctx, agent, Request{AgentID: "alice"}, out)
	require.NoError(t, err)

	out = `{"goal": "second", "schedule": [{"time": "9:00", "activity": "tend stall"}]}`
	second, err := e.Complete(ctx, agent, Request{AgentID: "alice"}, out)
	require.NoError(t, err)

	active, ok, err := plans.Active(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)

	recent, err := plans.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	for _, p := range recent {
		if p.ID == first.ID {
			assert.Equal(t, core.PlanAbandoned, p.Status)
		}
	}
}
