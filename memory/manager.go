package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/logging"
)

// Pipeline tuning. These values are the behavioral contract of the filter
// stages.
const (
	// MinImportance is the storage gate: candidates below it are dropped.
	MinImportance = 4

	// movementDedupWindow bounds the temporal dedup lookback for positional
	// observations; generalDedupWindow covers everything else.
	movementDedupWindow = 5 * time.Minute
	generalDedupWindow  = time.Hour

	// lexicalDedupThreshold rejects candidates too lexically close to a
	// recent memory; semanticDedupThreshold does the same on embeddings over
	// the trailing semanticDedupWindow.
	lexicalDedupThreshold  = 0.8
	semanticDedupThreshold = 0.85
	semanticDedupWindow    = 6 * time.Hour

	// recencyHorizon is where the retrieval recency term decays to zero.
	recencyHorizon = 10 * 24 * time.Hour
)

// ObservationCategory steers the temporal dedup window and movement
// aggregation.
type ObservationCategory string

const (
	// CategoryGeneral is any non-positional observation.
	CategoryGeneral ObservationCategory = "general"
	// CategoryMovement is a positional observation about a moving entity.
	CategoryMovement ObservationCategory = "movement"
)

// ObservationInput is one pre-filter observation candidate. Candidates that
// do not survive the pipeline are never persisted.
type ObservationInput struct {
	AgentID        string
	Content        string
	Category       ObservationCategory
	Importance     int // 1-10
	Emotional      int // 1-10
	Tags           []string
	Location       string
	RelatedAgents  []string
	RelatedPlayers []string

	// Movement-only fields: the observed entity, its position, and whether
	// this observation is the entity leaving (which closes the aggregation
	// session immediately).
	Subject   string
	Position  core.Point
	Departure bool
}

// StoreOutcome reports what the filter pipeline did with a candidate.
type StoreOutcome string

const (
	// OutcomeStored means a record was persisted.
	OutcomeStored StoreOutcome = "stored"
	// OutcomeFiltered means the candidate was rejected by a pipeline stage.
	OutcomeFiltered StoreOutcome = "filtered"
	// OutcomeAggregated means the candidate was folded into a movement
	// session instead of being stored individually.
	OutcomeAggregated StoreOutcome = "aggregated"
)

// StoreResult is the outcome of StoreObservation. ID is set only for
// OutcomeStored.
type StoreResult struct {
	Outcome StoreOutcome
	ID      string
	Reason  string
}

// StoredHook is invoked after a record is persisted, with the new record.
// The orchestrator uses it to feed trigger counters.
type StoredHook func(rec core.MemoryRecord)

// Manager applies the storage filter pipeline and answers retrieval queries.
// It is safe for concurrent use.
type Manager struct {
	*core.LoggerAdapter

	store    core.MemoryStore
	embedder core.EmbeddingService
	clock    core.Clock
	onStored StoredHook

	movement *movementAggregator
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock substitutes the simulated time source.
func WithClock(c core.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) { m.LoggerAdapter = core.NewLoggerAdapter(l) }
}

// WithStoredHook registers a callback fired after every persisted record.
func WithStoredHook(h StoredHook) ManagerOption {
	return func(m *Manager) { m.onStored = h }
}

// NewManager creates a Manager over the given store and embedder. A nil
// embedder disables the semantic dedup stage and the similarity retrieval
// term (lexical dedup still applies).
func NewManager(store core.MemoryStore, embedder core.EmbeddingService, opts ...ManagerOption) *Manager {
	m := &Manager{
		LoggerAdapter: core.NewLoggerAdapter(nil),
		store:         store,
		embedder:      embedder,
		clock:         core.SystemClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.movement = newMovementAggregator(m)
	return m
}

// StoreObservation runs the filter pipeline on one candidate, first match
// wins:
//
//  1. importance gate (< MinImportance)
//  2. temporal dedup (lexical similarity within the category window)
//  3. semantic dedup (embedding similarity over the trailing 6 hours)
//  4. movement aggregation (positional observations fold into a session)
//  5. persist with generated embedding
//
// An embedding-service failure skips stages that need the vector and stores
// the record without one; it never fails the call.
func (m *Manager) StoreObservation(ctx context.Context, in ObservationInput) (StoreResult, error) {
	now := m.clock.Now()

	if in.Importance < MinImportance {
		return StoreResult{Outcome: OutcomeFiltered, Reason: "importance below storage gate"}, nil
	}

	window := generalDedupWindow
	if in.Category == CategoryMovement {
		window = movementDedupWindow
	}
	recent, err := m.store.Query(ctx, core.MemoryQuery{
		AgentID: in.AgentID,
		Since:   now.Add(-window),
		OrderBy: core.OrderByRecency,
	})
	if err != nil {
		return StoreResult{}, fmt.Errorf("temporal dedup query: %w", err)
	}
	for _, prev := range recent {
		if LexicalSimilarity(in.Content, prev.Content) > lexicalDedupThreshold {
			return StoreResult{Outcome: OutcomeFiltered, Reason: "duplicate of recent memory"}, nil
		}
	}

	// An embedder outage never costs the observation: the record stores
	// without a vector and semantic dedup sits this candidate out.
	var embedding []float32
	if m.embedder != nil {
		embedding, err = m.embedder.Embed(ctx, in.Content)
		if err != nil {
			m.LogWarn("embedding unavailable, storing without vector", "agent_id", in.AgentID, "error", err.Error())
			embedding = nil
		} else {
			matches, err := m.store.Similar(ctx, in.AgentID, embedding, now.Add(-semanticDedupWindow), 1)
			if err != nil {
				return StoreResult{}, fmt.Errorf("semantic dedup query: %w", err)
			}
			if len(matches) > 0 && matches[0].Similarity > semanticDedupThreshold {
				return StoreResult{Outcome: OutcomeFiltered, Reason: "semantically near-duplicate"}, nil
			}
		}
	}

	if in.Category == CategoryMovement && in.Subject != "" {
		if err := m.movement.observe(ctx, in, now); err != nil {
			return StoreResult{}, err
		}
		return StoreResult{Outcome: OutcomeAggregated, Reason: "movement session"}, nil
	}

	rec := core.MemoryRecord{
		ID:                 core.NewID(),
		AgentID:            in.AgentID,
		Kind:               core.MemoryObservation,
		Content:            in.Content,
		Importance:         clampScale(in.Importance),
		EmotionalRelevance: clampScale(in.Emotional),
		Tags:               in.Tags,
		RelatedAgents:      in.RelatedAgents,
		RelatedPlayers:     in.RelatedPlayers,
		Location:           in.Location,
		CreatedAt:          now,
		Embedding:          embedding,
	}
	if err := m.persist(ctx, rec); err != nil {
		return StoreResult{}, err
	}
	return StoreResult{Outcome: OutcomeStored, ID: rec.ID}, nil
}

// StoreDerived persists a reflection, plan or metacognition record, bypassing
// the observation filter (their importance is fixed by construction). The
// embedding is generated here if absent.
func (m *Manager) StoreDerived(ctx context.Context, rec core.MemoryRecord) (string, error) {
	if rec.Kind == core.MemoryObservation {
		return "", fmt.Errorf("observations must pass the filter pipeline")
	}
	if rec.ID == "" {
		rec.ID = core.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.clock.Now()
	}
	if len(rec.Embedding) == 0 && m.embedder != nil {
		emb, err := m.embedder.Embed(ctx, rec.Content)
		if err != nil {
			m.LogWarn("embedding unavailable, storing without vector", "agent_id", rec.AgentID, "kind", string(rec.Kind), "error", err.Error())
		} else {
			rec.Embedding = emb
		}
	}
	if err := m.persist(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (m *Manager) persist(ctx context.Context, rec core.MemoryRecord) error {
	if err := m.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("persist memory: %w", err)
	}
	m.LogDebug("memory stored", "agent_id", rec.AgentID, "kind", string(rec.Kind), "importance", rec.Importance)
	if m.onStored != nil {
		m.onStored(rec)
	}
	return nil
}

// FlushIdleMovement closes movement sessions idle past their deadline and
// emits their summary records. The orchestrator calls this every tick.
func (m *Manager) FlushIdleMovement(ctx context.Context) {
	m.movement.flushIdle(ctx, m.clock.Now())
}

// ContextualMemories retrieves the memories most relevant to a query: three
// candidate pools (most recent, highest importance, nearest by embedding) are
// unioned and re-ranked by the composite score
// 0.3*recency + 0.4*importance + 0.2*emotional + 0.1*similarity, each term
// normalized to 0-10 with recency decaying linearly over ten days.
func (m *Manager) ContextualMemories(ctx context.Context, agentID, query string, limit int) ([]core.MemoryRecord, error) {
	if limit <= 0 {
		limit = 9
	}
	pool := limit / 3
	if pool < 1 {
		pool = 1
	}
	now := m.clock.Now()

	recent, err := m.store.Query(ctx, core.MemoryQuery{AgentID: agentID, OrderBy: core.OrderByRecency, Limit: pool})
	if err != nil {
		return nil, fmt.Errorf("recent pool: %w", err)
	}
	important, err := m.store.Query(ctx, core.MemoryQuery{AgentID: agentID, OrderBy: core.OrderByImportance, Limit: pool})
	if err != nil {
		return nil, fmt.Errorf("importance pool: %w", err)
	}

	var queryEmbedding []float32
	candidates := make(map[string]core.MemoryRecord)
	for _, r := range recent {
		candidates[r.ID] = r
	}
	for _, r := range important {
		candidates[r.ID] = r
	}
	if m.embedder != nil {
		queryEmbedding, err = m.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		similar, err := m.store.Similar(ctx, agentID, queryEmbedding, time.Time{}, pool)
		if err != nil {
			return nil, fmt.Errorf("similarity pool: %w", err)
		}
		for _, s := range similar {
			candidates[s.Record.ID] = s.Record
		}
	}

	type scored struct {
		rec   core.MemoryRecord
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		ranked = append(ranked, scored{rec: rec, score: compositeScore(rec, queryEmbedding, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].rec.CreatedAt.After(ranked[j].rec.CreatedAt)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]core.MemoryRecord, len(ranked))
	for i, s := range ranked {
		out[i] = s.rec
	}
	return out, nil
}

func compositeScore(rec core.MemoryRecord, queryEmbedding []float32, now time.Time) float64 {
	age := now.Sub(rec.CreatedAt)
	recency := 0.0
	if age < recencyHorizon {
		recency = 10 * (1 - float64(age)/float64(recencyHorizon))
	}
	similarity := 0.0
	if len(queryEmbedding) > 0 && len(rec.Embedding) > 0 {
		similarity = 10 * Cosine(queryEmbedding, rec.Embedding)
		if similarity < 0 {
			similarity = 0
		}
	}
	return 0.3*recency + 0.4*float64(rec.Importance) + 0.2*float64(rec.EmotionalRelevance) + 0.1*similarity
}

// MemoriesSince returns the agent's memories created at or after since,
// highest importance first. The insight engines use it to assemble their
// accumulation batches and performance snapshots.
func (m *Manager) MemoriesSince(ctx context.Context, agentID string, since time.Time, limit int) ([]core.MemoryRecord, error) {
	return m.store.Query(ctx, core.MemoryQuery{
		AgentID: agentID,
		Since:   since,
		OrderBy: core.OrderByImportance,
		Limit:   limit,
	})
}

// ConversationMemories returns memories involving the counterpart, highest
// importance first, recency as tie-break.
func (m *Manager) ConversationMemories(ctx context.Context, agentID, counterpartID string, limit int) ([]core.MemoryRecord, error) {
	return m.store.Query(ctx, core.MemoryQuery{
		AgentID:   agentID,
		RelatedTo: counterpartID,
		OrderBy:   core.OrderByImportance,
		Limit:     limit,
	})
}

func clampScale(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
