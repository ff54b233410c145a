package insight

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/internal/util"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/memory"
)

// Reflection trigger gates.
const (
	// ReflectionImportanceThreshold is the cumulative importance an agent
	// must accumulate since its last reflection.
	ReflectionImportanceThreshold = 150

	// MaxReflectionsPerDay caps reflections per simulated day.
	MaxReflectionsPerDay = 3

	// MinMemoriesForReflection is the minimum accumulation batch size.
	MinMemoriesForReflection = 5

	// reflectionMemoryLimit bounds the prompt to the highest-importance
	// qualifying memories.
	reflectionMemoryLimit = 50

	// Persisted reflection records use fixed scores by construction.
	reflectionImportance = 8
	reflectionEmotional  = 7
)

// ReflectionRequest is a prepared reflection job: the prompt plus the
// identity of the accumulation window it covers.
type ReflectionRequest struct {
	AgentID string
	Epoch   int64 // UnixNano of the window start (last reflection)
	Prompt  string
}

// ReflectionEngine decides when an agent reflects and turns generation
// output into reflection records.
type ReflectionEngine struct {
	*core.LoggerAdapter

	manager *memory.Manager
	clock   core.Clock

	mu       sync.Mutex
	inFlight map[string]int64 // agentID -> epoch currently generating
}

// NewReflectionEngine wires a reflection engine over the memory manager.
func NewReflectionEngine(manager *memory.Manager, clock core.Clock, logger logging.Logger) *ReflectionEngine {
	if clock == nil {
		clock = core.SystemClock()
	}
	return &ReflectionEngine{
		LoggerAdapter: core.NewLoggerAdapter(logger),
		manager:       manager,
		clock:         clock,
		inFlight:      make(map[string]int64),
	}
}

// ShouldReflect reports whether the agent's counters satisfy all three
// trigger gates.
func (e *ReflectionEngine) ShouldReflect(agent *core.Agent) bool {
	c := agent.Counters
	return c.CumulativeImportance >= ReflectionImportanceThreshold &&
		c.ReflectionsToday < MaxReflectionsPerDay &&
		c.MemoriesSinceReflection >= MinMemoriesForReflection
}

// Prepare checks the gates and, if they pass and the window is not already
// generating, marks the window in flight and builds the synthesis prompt.
// The second return is false when no job should be submitted.
func (e *ReflectionEngine) Prepare(ctx context.Context, agent *core.Agent) (ReflectionRequest, bool, error) {
	if !e.ShouldReflect(agent) {
		return ReflectionRequest{}, false, nil
	}
	epoch := agent.Counters.LastReflectionAt.UnixNano()

	e.mu.Lock()
	if inEpoch, ok := e.inFlight[agent.ID]; ok && inEpoch == epoch {
		e.mu.Unlock()
		return ReflectionRequest{}, false, nil
	}
	e.inFlight[agent.ID] = epoch
	e.mu.Unlock()

	recs, err := e.qualifyingMemories(ctx, agent)
	if err != nil {
		e.clearInFlight(agent.ID)
		return ReflectionRequest{}, false, err
	}
	prompt := buildReflectionPrompt(agent, recs)
	return ReflectionRequest{AgentID: agent.ID, Epoch: epoch, Prompt: prompt}, true, nil
}

func (e *ReflectionEngine) qualifyingMemories(ctx context.Context, agent *core.Agent) ([]core.MemoryRecord, error) {
	return e.manager.MemoriesSince(ctx, agent.ID, agent.Counters.LastReflectionAt, reflectionMemoryLimit)
}

// Complete persists the generated reflection, resets the accumulation
// counters and releases the in-flight window. A completion for a window the
// agent already moved past is still stored as a valid historical record.
func (e *ReflectionEngine) Complete(ctx context.Context, agent *core.Agent, req ReflectionRequest, text string) error {
	defer e.clearInFlight(req.AgentID)

	text = strings.TrimSpace(text)
	if text == "" {
		e.LogWarn("empty reflection result skipped", "agent_id", req.AgentID)
		return nil
	}
	id, err := e.manager.StoreDerived(ctx, core.MemoryRecord{
		AgentID:            req.AgentID,
		Kind:               core.MemoryReflection,
		Content:            text,
		Importance:         reflectionImportance,
		EmotionalRelevance: reflectionEmotional,
		Tags:               []string{"reflection"},
	})
	if err != nil {
		return fmt.Errorf("store reflection: %w", err)
	}

	agent.Counters.CumulativeImportance = 0
	agent.Counters.MemoriesSinceReflection = 0
	agent.Counters.ReflectionsToday++
	agent.Counters.LastReflectionAt = e.clock.Now()

	e.LogInfo("reflection stored", "agent_id", req.AgentID, "memory_id", id, "reflections_today", agent.Counters.ReflectionsToday)
	return nil
}

// Abort releases the in-flight window after a failed or dropped job so a
// later trigger can retry the same accumulation.
func (e *ReflectionEngine) Abort(req ReflectionRequest) {
	e.clearInFlight(req.AgentID)
}

func (e *ReflectionEngine) clearInFlight(agentID string) {
	e.mu.Lock()
	delete(e.inFlight, agentID)
	e.mu.Unlock()
}

func buildReflectionPrompt(agent *core.Agent, memories []core.MemoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", agent.Name, util.RenderPersona(agent.Persona, agent.Name, agent.PrimaryGoal))
	fmt.Fprintf(&b, "Primary goal: %s\n", agent.PrimaryGoal)
	if len(agent.SecondaryGoals) > 0 {
		fmt.Fprintf(&b, "Secondary goals: %s\n", strings.Join(agent.SecondaryGoals, "; "))
	}
	b.WriteString("\nRecent experiences, most significant first:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%d] %s\n", m.Importance, m.Content)
	}
	b.WriteString("\nSynthesize one higher-level insight about your life, relationships or progress toward your goals. Reply with the insight only.\n")
	return b.String()
}
