package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ashwick/townmind/core"
)

// Compile-time interface assertion.
var _ core.PlanStore = (*InMemoryPlanStore)(nil)

// InMemoryPlanStore is a process-local PlanStore. Activation is atomic under
// the store mutex: the previous active plan is abandoned and the new one
// inserted in a single critical section.
type InMemoryPlanStore struct {
	mu      sync.Mutex
	plans   map[string]*core.Plan
	active  map[string]string // agentID -> planID
	byAgent map[string][]string
}

// NewInMemoryPlanStore creates an empty in-memory plan store.
func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		plans:   make(map[string]*core.Plan),
		active:  make(map[string]string),
		byAgent: make(map[string][]string),
	}
}

// Activate implements core.PlanStore.
func (s *InMemoryPlanStore) Activate(_ context.Context, p core.Plan) error {
	if p.ID == "" || p.AgentID == "" {
		return fmt.Errorf("plan requires id and agent id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prevID, ok := s.active[p.AgentID]; ok {
		s.plans[prevID].Status = core.PlanAbandoned
	}
	cp := clonePlan(p)
	cp.Status = core.PlanActive
	s.plans[cp.ID] = &cp
	s.active[p.AgentID] = cp.ID
	s.byAgent[p.AgentID] = append(s.byAgent[p.AgentID], cp.ID)
	return nil
}

// Active implements core.PlanStore.
func (s *InMemoryPlanStore) Active(_ context.Context, agentID string) (core.Plan, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[agentID]
	if !ok {
		return core.Plan{}, false, nil
	}
	return clonePlan(*s.plans[id]), true, nil
}

// Recent implements core.PlanStore.
func (s *InMemoryPlanStore) Recent(_ context.Context, agentID string, limit int) ([]core.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byAgent[agentID]
	out := make([]core.Plan, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePlan(*s.plans[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetStatus implements core.PlanStore.
func (s *InMemoryPlanStore) SetStatus(_ context.Context, planID string, status core.PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("plan %q not found", planID)
	}
	p.Status = status
	if status != core.PlanActive && s.active[p.AgentID] == planID {
		delete(s.active, p.AgentID)
	}
	return nil
}

// InsertStep implements core.PlanStore.
func (s *InMemoryPlanStore) InsertStep(_ context.Context, planID string, step core.PlanStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("plan %q not found", planID)
	}
	p.Steps = append(p.Steps, step)
	p.SortSteps()
	return nil
}

// MarkStepDone implements core.PlanStore.
func (s *InMemoryPlanStore) MarkStepDone(_ context.Context, planID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("plan %q not found", planID)
	}
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			p.Steps[i].Done = true
			return nil
		}
	}
	return fmt.Errorf("step %q not found in plan %q", stepID, planID)
}

func clonePlan(p core.Plan) core.Plan {
	cp := p
	cp.Steps = append([]core.PlanStep(nil), p.Steps...)
	return cp
}
