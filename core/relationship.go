package core

import (
	"context"
	"time"
)

// Relationship is the social edge between two characters (agent-agent or
// agent-player). Edges are stored as keyed adjacency entries, never as object
// references, so the graph stays acyclic in memory and trivially
// serializable.
type Relationship struct {
	A                    string    `json:"a"` // lexically smaller id
	B                    string    `json:"b"`
	Affection            float64   `json:"affection"` // -10..10
	Trust                float64   `json:"trust"`     // -10..10
	InteractionFrequency int       `json:"interaction_frequency"`
	LastInteraction      time.Time `json:"last_interaction"`
}

// PairKey returns the canonical unordered key for two character ids.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// RelationshipStore persists relationship edges keyed by unordered pair.
type RelationshipStore interface {
	// Get returns the edge between two ids, if present.
	Get(ctx context.Context, a, b string) (Relationship, bool, error)

	// Put inserts or replaces an edge.
	Put(ctx context.Context, r Relationship) error

	// ForAgent returns every edge touching the given id.
	ForAgent(ctx context.Context, id string) ([]Relationship, error)
}
