package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwick/townmind/core"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteMemoryRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	rec := core.MemoryRecord{
		ID:                 "m1",
		AgentID:            "alice",
		Kind:               core.MemoryObservation,
		Content:            "the oven cracked during the morning bake",
		Importance:         8,
		EmotionalRelevance: 6,
		Tags:               []string{"bakery", "mishap"},
		RelatedAgents:      []string{"bram"},
		Location:           "bakery",
		CreatedAt:          time.Date(2026, 8, 28, 6, 30, 0, 0, time.UTC),
		Embedding:          []float32{0.6, 0.8},
	}
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, rec.RelatedAgents, got.RelatedAgents)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Get(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, s.Insert(ctx, core.MemoryRecord{AgentID: "alice"}), "id is required")
}

func TestSQLiteQueryFilters(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	seed := []core.MemoryRecord{
		{ID: "m1", AgentID: "alice", Kind: core.MemoryObservation, Content: "a", Importance: 3, CreatedAt: base},
		{ID: "m2", AgentID: "alice", Kind: core.MemoryReflection, Content: "b", Importance: 8, CreatedAt: base.Add(time.Hour), RelatedAgents: []string{"bram"}},
		{ID: "m3", AgentID: "alice", Kind: core.MemoryObservation, Content: "c", Importance: 5, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "m4", AgentID: "cora", Kind: core.MemoryObservation, Content: "d", Importance: 5, CreatedAt: base},
	}
	for _, rec := range seed {
		require.NoError(t, s.Insert(ctx, rec))
	}

	recs, err := s.Query(ctx, core.MemoryQuery{AgentID: "alice", Kinds: []core.MemoryKind{core.MemoryObservation}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m3", recs[0].ID, "recency order by default")

	recs, err = s.Query(ctx, core.MemoryQuery{AgentID: "alice", Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Query(ctx, core.MemoryQuery{AgentID: "alice", OrderBy: core.OrderByImportance})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "m2", recs[0].ID)

	recs, err = s.Query(ctx, core.MemoryQuery{AgentID: "alice", RelatedTo: "bram"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m2", recs[0].ID)

	recs, err = s.Query(ctx, core.MemoryQuery{AgentID: "alice", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	n, err := s.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteSimilar(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, core.MemoryRecord{
		ID: "near", AgentID: "alice", Kind: core.MemoryObservation, Content: "a",
		CreatedAt: base, Embedding: []float32{1, 0},
	}))
	require.NoError(t, s.Insert(ctx, core.MemoryRecord{
		ID: "far", AgentID: "alice", Kind: core.MemoryObservation, Content: "b",
		CreatedAt: base, Embedding: []float32{0, 1},
	}))
	require.NoError(t, s.Insert(ctx, core.MemoryRecord{
		ID: "no-vector", AgentID: "alice", Kind: core.MemoryObservation, Content: "c",
		CreatedAt: base,
	}))

	matches, err := s.Similar(ctx, "alice", []float32{1, 0}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2, "records without embeddings are skipped")
	assert.Equal(t, "near", matches[0].Record.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
}

func TestSQLitePlanLifecycle(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 5, 0, 0, 0, time.UTC)

	p1 := core.Plan{
		ID: "p1", AgentID: "alice", Goal: "first", CreatedAt: base,
		Steps: []core.PlanStep{{ID: "s1", At: 360, Intent: core.ActivityIntent{Name: "bake bread"}, Priority: 5}},
	}
	require.NoError(t, s.Activate(ctx, p1))

	p2 := p1
	p2.ID = "p2"
	p2.Goal = "second"
	p2.CreatedAt = base.Add(time.Hour)
	require.NoError(t, s.Activate(ctx, p2))

	active, ok, err := s.Active(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p2", active.ID)

	recent, err := s.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, core.PlanAbandoned, recent[1].Status)

	require.NoError(t, s.InsertStep(ctx, "p2", core.PlanStep{
		ID: "mod", At: 300, Intent: core.ActivityIntent{Name: "fix the oven"}, Priority: 9,
		Source: core.StepFromMetacognition,
	}))
	require.NoError(t, s.MarkStepDone(ctx, "p2", "s1"))
	assert.Error(t, s.MarkStepDone(ctx, "p2", "missing"))
	assert.Error(t, s.InsertStep(ctx, "missing", core.PlanStep{ID: "x"}))

	active, _, err = s.Active(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active.Steps, 2)
	assert.Equal(t, "mod", active.Steps[0].ID, "inserted step sorts by time")
	for _, st := range active.Steps {
		if st.ID == "s1" {
			assert.True(t, st.Done)
		}
	}

	require.NoError(t, s.SetStatus(ctx, "p2", core.PlanCompleted))
	_, ok, err = s.Active(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, s.SetStatus(ctx, "missing", core.PlanCompleted))
}
