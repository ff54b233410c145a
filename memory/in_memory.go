package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashwick/townmind/core"
)

// Compile-time interface assertion.
var _ core.MemoryStore = (*InMemoryStore)(nil)

// InMemoryStore is a process-local MemoryStore. Records are kept per agent in
// insertion order; similarity search is a linear cosine scan. Suitable for
// tests and small worlds; use SQLiteStore for durability.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*core.MemoryRecord
	byAgent map[string][]*core.MemoryRecord
}

// NewInMemoryStore creates an empty in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*core.MemoryRecord),
		byAgent: make(map[string][]*core.MemoryRecord),
	}
}

// Insert implements core.MemoryStore.
func (s *InMemoryStore) Insert(_ context.Context, rec core.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		return fmt.Errorf("memory record without id")
	}
	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("duplicate memory id %q", rec.ID)
	}
	cp := rec
	cp.Embedding = append([]float32(nil), rec.Embedding...)
	s.byID[cp.ID] = &cp
	s.byAgent[cp.AgentID] = append(s.byAgent[cp.AgentID], &cp)
	return nil
}

// Get implements core.MemoryStore.
func (s *InMemoryStore) Get(_ context.Context, id string) (core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return core.MemoryRecord{}, fmt.Errorf("memory %q not found", id)
	}
	return *rec, nil
}

// Query implements core.MemoryStore.
func (s *InMemoryStore) Query(_ context.Context, q core.MemoryQuery) ([]core.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MemoryRecord
	for _, rec := range s.byAgent[q.AgentID] {
		if matches(*rec, q) {
			out = append(out, *rec)
		}
	}
	switch q.OrderBy {
	case core.OrderByImportance:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Importance != out[j].Importance {
				return out[i].Importance > out[j].Importance
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(rec core.MemoryRecord, q core.MemoryQuery) bool {
	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if rec.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && rec.CreatedAt.After(q.Until) {
		return false
	}
	if q.RelatedTo != "" && !rec.RelatedTo(q.RelatedTo) {
		return false
	}
	return true
}

// Similar implements core.MemoryStore with a linear cosine scan.
func (s *InMemoryStore) Similar(_ context.Context, agentID string, embedding []float32, since time.Time, limit int) ([]core.SimilarityMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.SimilarityMatch
	for _, rec := range s.byAgent[agentID] {
		if len(rec.Embedding) == 0 {
			continue
		}
		if !since.IsZero() && rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, core.SimilarityMatch{
			Record:     *rec,
			Similarity: Cosine(embedding, rec.Embedding),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetConsolidated implements core.MemoryStore.
func (s *InMemoryStore) SetConsolidated(_ context.Context, id string, consolidated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory %q not found", id)
	}
	rec.Consolidated = consolidated
	return nil
}

// Count implements core.MemoryStore.
func (s *InMemoryStore) Count(_ context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAgent[agentID]), nil
}
