package core

import (
	"context"
	"time"
)

// MemoryKind categorizes a stored memory record.
type MemoryKind string

const (
	// MemoryObservation is a directly experienced event.
	MemoryObservation MemoryKind = "observation"
	// MemoryReflection is a synthesized insight over a batch of memories.
	MemoryReflection MemoryKind = "reflection"
	// MemoryPlan is a summary of a generated daily plan.
	MemoryPlan MemoryKind = "plan"
	// MemoryMetacognition is a self-evaluation of goal progress.
	MemoryMetacognition MemoryKind = "metacognition"
)

// MemoryRecord is one stored unit of an agent's experience.
//
// Content, Embedding and CreatedAt are immutable once persisted; only the
// Consolidated flag may be set later. Records reach the store exclusively
// through the memory.Manager filter pipeline, so every persisted
// observation-derived record has Importance >= 4.
type MemoryRecord struct {
	ID                 string     `json:"id"`
	AgentID            string     `json:"agent_id"`
	Kind               MemoryKind `json:"kind"`
	Content            string     `json:"content"`
	Importance         int        `json:"importance"`          // 1-10
	EmotionalRelevance int        `json:"emotional_relevance"` // 1-10
	Tags               []string   `json:"tags,omitempty"`
	RelatedAgents      []string   `json:"related_agents,omitempty"`
	RelatedPlayers     []string   `json:"related_players,omitempty"`
	Location           string     `json:"location,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	Embedding          []float32  `json:"-"`
	Consolidated       bool       `json:"consolidated,omitempty"`
}

// RelatedTo reports whether id appears in the record's related agent or
// player sets.
func (r MemoryRecord) RelatedTo(id string) bool {
	for _, a := range r.RelatedAgents {
		if a == id {
			return true
		}
	}
	for _, p := range r.RelatedPlayers {
		if p == id {
			return true
		}
	}
	return false
}

// MemoryOrder selects the sort order of a MemoryQuery result.
type MemoryOrder int

const (
	// OrderByRecency sorts newest first.
	OrderByRecency MemoryOrder = iota
	// OrderByImportance sorts highest importance first, recency as tie-break.
	OrderByImportance
)

// MemoryQuery filters an agent's memories. Zero time bounds are unbounded;
// Limit <= 0 means no limit.
type MemoryQuery struct {
	AgentID   string
	Kinds     []MemoryKind
	Since     time.Time
	Until     time.Time
	RelatedTo string
	OrderBy   MemoryOrder
	Limit     int
}

// SimilarityMatch pairs a record with its cosine similarity to a query vector.
type SimilarityMatch struct {
	Record     MemoryRecord
	Similarity float64
}

// MemoryStore defines durable persistence and retrieval for memory records,
// including similarity search over embeddings. Implementations must be safe
// for concurrent use; memory and sqlite backends are provided.
type MemoryStore interface {
	// Insert persists a new record. The record's ID must be unique.
	Insert(ctx context.Context, rec MemoryRecord) error

	// Get returns a record by id.
	Get(ctx context.Context, id string) (MemoryRecord, error)

	// Query returns records matching q in the requested order.
	Query(ctx context.Context, q MemoryQuery) ([]MemoryRecord, error)

	// Similar returns up to limit records of the agent created at or after
	// since, ranked by cosine similarity to embedding (highest first).
	Similar(ctx context.Context, agentID string, embedding []float32, since time.Time, limit int) ([]SimilarityMatch, error)

	// SetConsolidated flips the only mutable flag on a persisted record.
	SetConsolidated(ctx context.Context, id string, consolidated bool) error

	// Count returns the number of records stored for an agent.
	Count(ctx context.Context, agentID string) (int, error)
}
