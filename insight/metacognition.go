package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/internal/util"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/memory"
)

// Metacognition trigger tuning.
const (
	// MetacognitionImportanceTrigger fires an evaluation when a single new
	// memory reaches this importance.
	MetacognitionImportanceTrigger = 8

	// MetacognitionInterval fires an evaluation after this much simulated
	// time without one.
	MetacognitionInterval = 24 * time.Hour

	// UrgencyThreshold is the conversational urgency that forces an
	// evaluation past the daily cap.
	UrgencyThreshold = 6

	// MaxMetacognitionsPerDay caps importance- and interval-triggered
	// evaluations; urgency bypasses it.
	MaxMetacognitionsPerDay = 1

	// snapshotWindow is the memory lookback of the performance snapshot.
	snapshotWindow = 72 * time.Hour

	// Persisted metacognition records use fixed scores by construction.
	metacognitionImportance = 7
	metacognitionEmotional  = 5
)

// TriggerReason identifies which gate fired a metacognition evaluation.
type TriggerReason string

const (
	// TriggerImportantMemory is a single new memory with importance >= 8.
	TriggerImportantMemory TriggerReason = "important_memory"
	// TriggerElapsed is 24 simulated hours without an evaluation.
	TriggerElapsed TriggerReason = "elapsed"
	// TriggerUrgency is an external urgency signal >= 6; it bypasses the cap.
	TriggerUrgency TriggerReason = "urgency"
)

// MetacognitionRequest is a prepared evaluation job.
type MetacognitionRequest struct {
	AgentID string
	Epoch   int64
	Reason  TriggerReason
	Prompt  string
}

// Evaluation is the parsed output of a metacognition job.
type Evaluation struct {
	Text          string                      `json:"evaluation"`
	Modifications []core.ScheduleModification `json:"schedule_modifications"`
}

// metacognitionSchema validates the structured part of the generation output
// before any schedule change is applied.
const metacognitionSchema = `{
	"type": "object",
	"required": ["evaluation"],
	"properties": {
		"evaluation": {"type": "string", "minLength": 1},
		"schedule_modifications": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["time", "activity", "priority"],
				"properties": {
					"time": {"type": "string", "pattern": "^([01]?[0-9]|2[0-3]):[0-5][0-9]$"},
					"activity": {"type": "string", "minLength": 1},
					"location": {"type": "string"},
					"reason": {"type": "string"},
					"priority": {"type": "integer", "minimum": 1, "maximum": 10}
				}
			}
		}
	}
}`

var compiledMetacognitionSchema = jsonschema.MustCompileString("metacognition.json", metacognitionSchema)

// MetacognitionEngine evaluates goal progress and turns evaluations into
// schedule modifications on the active plan.
type MetacognitionEngine struct {
	*core.LoggerAdapter

	manager *memory.Manager
	plans   core.PlanStore
	clock   core.Clock

	mu       sync.Mutex
	inFlight map[string]int64
}

// NewMetacognitionEngine wires a metacognition engine over the memory
// manager and plan store.
func NewMetacognitionEngine(manager *memory.Manager, plans core.PlanStore, clock core.Clock, logger logging.Logger) *MetacognitionEngine {
	if clock == nil {
		clock = core.SystemClock()
	}
	return &MetacognitionEngine{
		LoggerAdapter: core.NewLoggerAdapter(logger),
		manager:       manager,
		plans:         plans,
		clock:         clock,
		inFlight:      make(map[string]int64),
	}
}

// TriggerForMemory maps a freshly stored memory to a trigger reason, if any.
func (e *MetacognitionEngine) TriggerForMemory(rec core.MemoryRecord) (TriggerReason, bool) {
	if rec.Importance >= MetacognitionImportanceTrigger {
		return TriggerImportantMemory, true
	}
	return "", false
}

// TriggerForElapsed reports whether the 24h interval gate fires.
func (e *MetacognitionEngine) TriggerForElapsed(agent *core.Agent) (TriggerReason, bool) {
	if e.clock.Now().Sub(agent.Counters.LastMetacognitionAt) >= MetacognitionInterval {
		return TriggerElapsed, true
	}
	return "", false
}

// TriggerForUrgency maps an external urgency signal to a trigger reason.
func (e *MetacognitionEngine) TriggerForUrgency(urgency int) (TriggerReason, bool) {
	if urgency >= UrgencyThreshold {
		return TriggerUrgency, true
	}
	return "", false
}

// Prepare enforces the daily cap (urgency excepted), marks the evaluation in
// flight and assembles the performance snapshot prompt.
func (e *MetacognitionEngine) Prepare(ctx context.Context, agent *core.Agent, reason TriggerReason) (MetacognitionRequest, bool, error) {
	if reason != TriggerUrgency && agent.Counters.MetacognitionsToday >= MaxMetacognitionsPerDay {
		return MetacognitionRequest{}, false, nil
	}
	epoch := agent.Counters.LastMetacognitionAt.UnixNano()

	e.mu.Lock()
	if inEpoch, ok := e.inFlight[agent.ID]; ok && inEpoch == epoch {
		e.mu.Unlock()
		return MetacognitionRequest{}, false, nil
	}
	e.inFlight[agent.ID] = epoch
	e.mu.Unlock()

	now := e.clock.Now()
	memories, err := e.manager.MemoriesSince(ctx, agent.ID, now.Add(-snapshotWindow), 30)
	if err != nil {
		e.clearInFlight(agent.ID)
		return MetacognitionRequest{}, false, fmt.Errorf("snapshot memories: %w", err)
	}
	plans, err := e.plans.Recent(ctx, agent.ID, 5)
	if err != nil {
		e.clearInFlight(agent.ID)
		return MetacognitionRequest{}, false, fmt.Errorf("snapshot plans: %w", err)
	}
	prompt := buildMetacognitionPrompt(agent, reason, memories, plans)
	return MetacognitionRequest{AgentID: agent.ID, Epoch: epoch, Reason: reason, Prompt: prompt}, true, nil
}

// Complete parses and validates the evaluation, stores the metacognition
// record, inserts any schedule modifications into the active plan and
// updates the counters. Malformed structured output degrades to a plain
// evaluation with no schedule change; it never fails the agent's cycle.
func (e *MetacognitionEngine) Complete(ctx context.Context, agent *core.Agent, req MetacognitionRequest, text string) (Evaluation, error) {
	defer e.clearInFlight(req.AgentID)

	eval := parseEvaluation(text)
	if strings.TrimSpace(eval.Text) == "" {
		e.LogWarn("empty metacognition result skipped", "agent_id", req.AgentID)
		return eval, nil
	}

	if _, err := e.manager.StoreDerived(ctx, core.MemoryRecord{
		AgentID:            req.AgentID,
		Kind:               core.MemoryMetacognition,
		Content:            eval.Text,
		Importance:         metacognitionImportance,
		EmotionalRelevance: metacognitionEmotional,
		Tags:               []string{"metacognition", string(req.Reason)},
	}); err != nil {
		return eval, fmt.Errorf("store metacognition: %w", err)
	}

	if err := e.applyModifications(ctx, agent, eval.Modifications); err != nil {
		e.LogWarn("schedule modifications not applied", "agent_id", req.AgentID, "error", err.Error())
	}

	agent.Counters.MetacognitionsToday++
	agent.Counters.LastMetacognitionAt = e.clock.Now()
	e.LogInfo("metacognition stored", "agent_id", req.AgentID, "reason", string(req.Reason), "modifications", len(eval.Modifications))
	return eval, nil
}

// Abort releases the in-flight window after a failed or dropped job.
func (e *MetacognitionEngine) Abort(req MetacognitionRequest) {
	e.clearInFlight(req.AgentID)
}

func (e *MetacognitionEngine) clearInFlight(agentID string) {
	e.mu.Lock()
	delete(e.inFlight, agentID)
	e.mu.Unlock()
}

// applyModifications inserts each modification as a plan step ahead of the
// standing schedule. Dispatch resolves ties by priority then creation time.
func (e *MetacognitionEngine) applyModifications(ctx context.Context, agent *core.Agent, mods []core.ScheduleModification) error {
	if len(mods) == 0 {
		return nil
	}
	plan, ok, err := e.plans.Active(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("load active plan: %w", err)
	}
	if !ok {
		return fmt.Errorf("no active plan for agent %s", agent.ID)
	}
	now := e.clock.Now()
	for _, mod := range mods {
		at, err := core.ParseDayMinute(mod.Time)
		if err != nil {
			e.LogWarn("modification with bad time skipped", "agent_id", agent.ID, "time", mod.Time)
			continue
		}
		step := core.PlanStep{
			ID: core.NewID(),
			At: at,
			Intent: core.ActivityIntent{
				Name:         mod.Activity,
				LocationHint: mod.Location,
				Params:       map[string]string{"reason": mod.Reason},
			},
			Priority:  mod.Priority,
			Source:    core.StepFromMetacognition,
			CreatedAt: now,
		}
		if err := e.plans.InsertStep(ctx, plan.ID, step); err != nil {
			return fmt.Errorf("insert modification step: %w", err)
		}
	}
	return nil
}

// parseEvaluation extracts the structured evaluation from generation output.
// Output that fails JSON extraction or schema validation degrades to plain
// evaluation text.
func parseEvaluation(text string) Evaluation {
	raw, ok := util.ExtractJSONObject(text)
	if ok {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			if err := compiledMetacognitionSchema.Validate(v); err == nil {
				var eval Evaluation
				if err := json.Unmarshal([]byte(raw), &eval); err == nil {
					return eval
				}
			}
		}
	}
	return Evaluation{Text: strings.TrimSpace(text)}
}

func buildMetacognitionPrompt(agent *core.Agent, reason TriggerReason, memories []core.MemoryRecord, plans []core.Plan) string {
	completed, abandoned := 0, 0
	for _, p := range plans {
		switch p.Status {
		case core.PlanCompleted:
			completed++
		case core.PlanAbandoned:
			abandoned++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", agent.Name, util.RenderPersona(agent.Persona, agent.Name, agent.PrimaryGoal))
	fmt.Fprintf(&b, "Primary goal: %s\n", agent.PrimaryGoal)
	fmt.Fprintf(&b, "Evaluation trigger: %s\n", reason)
	fmt.Fprintf(&b, "\nRecent plans: %d completed, %d abandoned of the last %d.\n", completed, abandoned, len(plans))
	b.WriteString("Recent memories, most significant first:\n")
	for _, m := range memories {
		tag := ""
		if m.Kind == core.MemoryReflection {
			tag = " (reflection)"
		}
		fmt.Fprintf(&b, "- [%d]%s %s\n", m.Importance, tag, m.Content)
	}
	b.WriteString(`
Evaluate your progress toward your goals. Reply with JSON:
{"evaluation": "<your self-evaluation>", "schedule_modifications": [{"time": "HH:MM", "activity": "<name>", "location": "<optional>", "reason": "<why>", "priority": 1-10}]}
Use an empty schedule_modifications array if no change is needed.
`)
	return b.String()
}
