// Package social stores the relationship graph as keyed adjacency entries
// (pair key -> edge), never as object references, and implements the one
// mechanism by which player-to-player social influence reaches an agent: the
// explicit report action. Inference from ordinary conversation text is
// deliberately not implemented.
package social

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/memory"
)

// Compile-time interface assertion.
var _ core.RelationshipStore = (*Store)(nil)

// Store is a process-local RelationshipStore. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	edges map[string]core.Relationship // PairKey -> edge
}

// NewStore creates an empty relationship store.
func NewStore() *Store {
	return &Store{edges: make(map[string]core.Relationship)}
}

// Get implements core.RelationshipStore.
func (s *Store) Get(_ context.Context, a, b string) (core.Relationship, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.edges[core.PairKey(a, b)]
	return r, ok, nil
}

// Put implements core.RelationshipStore. The edge is stored under the
// canonical unordered key regardless of field order.
func (s *Store) Put(_ context.Context, r core.Relationship) error {
	if r.A == "" || r.B == "" {
		return fmt.Errorf("relationship requires both ids")
	}
	if r.B < r.A {
		r.A, r.B = r.B, r.A
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[core.PairKey(r.A, r.B)] = r
	return nil
}

// ForAgent implements core.RelationshipStore.
func (s *Store) ForAgent(_ context.Context, id string) ([]core.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Relationship
	for _, r := range s.edges {
		if r.A == id || r.B == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// Reporter turns explicit player reports into relationship adjustments and
// agent memories.
type Reporter struct {
	*core.LoggerAdapter

	store   core.RelationshipStore
	manager *memory.Manager
	clock   core.Clock
}

// NewReporter wires a Reporter over the relationship store and memory manager.
func NewReporter(store core.RelationshipStore, manager *memory.Manager, clock core.Clock, logger logging.Logger) *Reporter {
	if clock == nil {
		clock = core.SystemClock()
	}
	return &Reporter{
		LoggerAdapter: core.NewLoggerAdapter(logger),
		store:         store,
		manager:       manager,
		clock:         clock,
	}
}

// HandleReport processes one explicit report event: the reporting player told
// the agent something about a third party. The agent-reporter edge is
// refreshed and the report content goes through the normal observation
// pipeline (so trivial reports are still filtered).
func (r *Reporter) HandleReport(ctx context.Context, ev core.SimEvent) error {
	if ev.Kind != core.EventReport {
		return fmt.Errorf("not a report event: %s", ev.Kind)
	}
	reporter := ev.Subject
	if reporter == "" && len(ev.RelatedPlayers) > 0 {
		reporter = ev.RelatedPlayers[0]
	}
	if reporter != "" {
		edge, ok, err := r.store.Get(ctx, ev.AgentID, reporter)
		if err != nil {
			return fmt.Errorf("load relationship: %w", err)
		}
		if !ok {
			edge = core.Relationship{A: ev.AgentID, B: reporter}
		}
		edge.InteractionFrequency++
		edge.LastInteraction = r.clock.Now()
		if err := r.store.Put(ctx, edge); err != nil {
			return fmt.Errorf("store relationship: %w", err)
		}
	}

	res, err := r.manager.StoreObservation(ctx, memory.ObservationInput{
		AgentID:        ev.AgentID,
		Content:        ev.Payload,
		Category:       memory.CategoryGeneral,
		Importance:     ev.Importance,
		Emotional:      ev.Emotional,
		Tags:           []string{"report"},
		Location:       ev.Location,
		RelatedAgents:  ev.RelatedAgents,
		RelatedPlayers: ev.RelatedPlayers,
	})
	if err != nil {
		return err
	}
	r.LogDebug("report processed", "agent_id", ev.AgentID, "outcome", string(res.Outcome))
	return nil
}
