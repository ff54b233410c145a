// Package planning turns an agent's persona, goals and recent memories into
// a time-keyed daily plan via the generation service, with a static schedule
// template as fallback. Like the insight engines it exposes a
// prepare/complete pair so the orchestrator can run the generation call as an
// asynchronous job outside the tick loop.
package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/internal/util"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/memory"
)

// planMemoryImportance is the fixed importance of the stored plan summary.
const planMemoryImportance = 6

// Request is a prepared planning job.
type Request struct {
	AgentID string
	Prompt  string
}

// Engine generates and activates daily plans.
type Engine struct {
	*core.LoggerAdapter

	manager *memory.Manager
	plans   core.PlanStore
	clock   core.Clock
}

// NewEngine wires a planning engine over the memory manager and plan store.
func NewEngine(manager *memory.Manager, plans core.PlanStore, clock core.Clock, logger logging.Logger) *Engine {
	if clock == nil {
		clock = core.SystemClock()
	}
	return &Engine{
		LoggerAdapter: core.NewLoggerAdapter(logger),
		manager:       manager,
		plans:         plans,
		clock:         clock,
	}
}

// Prepare assembles the full-day planning prompt for an agent.
func (e *Engine) Prepare(ctx context.Context, agent *core.Agent) (Request, error) {
	query := fmt.Sprintf("plans and priorities of %s for today", agent.Name)
	memories, err := e.manager.ContextualMemories(ctx, agent.ID, query, 12)
	if err != nil {
		return Request{}, fmt.Errorf("planning context: %w", err)
	}
	return Request{AgentID: agent.ID, Prompt: buildPlanningPrompt(agent, memories)}, nil
}

// Complete parses the generated plan and activates it atomically (the prior
// active plan is abandoned in the same operation). Malformed output falls
// back to the static schedule template; planning failures never crash the
// agent's cycle.
func (e *Engine) Complete(ctx context.Context, agent *core.Agent, req Request, text string) (core.Plan, error) {
	parsed, err := parsePlan(text)
	if err != nil {
		e.LogWarn("generated plan unusable, falling back to template", "agent_id", agent.ID, "error", err.Error())
		return e.Fallback(ctx, agent)
	}

	now := e.clock.Now()
	plan := core.Plan{
		ID:        core.NewID(),
		AgentID:   agent.ID,
		Goal:      parsed.Goal,
		Priority:  5,
		CreatedAt: now,
	}
	for _, entry := range parsed.Schedule {
		at, err := core.ParseDayMinute(entry.Time)
		if err != nil {
			e.LogWarn("plan entry with bad time skipped", "agent_id", agent.ID, "time", entry.Time)
			continue
		}
		priority := entry.Priority
		if priority == 0 {
			priority = 5
		}
		plan.Steps = append(plan.Steps, core.PlanStep{
			ID:        core.NewID(),
			At:        at,
			Intent:    core.ActivityIntent{Name: entry.Activity, LocationHint: entry.Location},
			Priority:  priority,
			Source:    core.StepFromPlanner,
			CreatedAt: now,
		})
	}
	if len(plan.Steps) == 0 {
		e.LogWarn("generated plan had no usable steps, falling back to template", "agent_id", agent.ID)
		return e.Fallback(ctx, agent)
	}
	plan.SortSteps()

	if err := e.plans.Activate(ctx, plan); err != nil {
		return core.Plan{}, fmt.Errorf("activate plan: %w", err)
	}
	if _, err := e.manager.StoreDerived(ctx, core.MemoryRecord{
		AgentID:            agent.ID,
		Kind:               core.MemoryPlan,
		Content:            fmt.Sprintf("Today's goal: %s", plan.Goal),
		Importance:         planMemoryImportance,
		EmotionalRelevance: 4,
		Tags:               []string{"plan"},
	}); err != nil {
		e.LogWarn("plan memory not stored", "agent_id", agent.ID, "error", err.Error())
	}
	e.LogInfo("plan activated", "agent_id", agent.ID, "plan_id", plan.ID, "steps", len(plan.Steps))
	return plan, nil
}

// Fallback activates a plan built from the agent's static schedule template.
func (e *Engine) Fallback(ctx context.Context, agent *core.Agent) (core.Plan, error) {
	if len(agent.ScheduleTemplate) == 0 {
		return core.Plan{}, fmt.Errorf("agent %s has no schedule template", agent.ID)
	}
	now := e.clock.Now()
	plan := core.Plan{
		ID:        core.NewID(),
		AgentID:   agent.ID,
		Goal:      "Follow the usual routine",
		Priority:  3,
		CreatedAt: now,
	}
	for _, tmpl := range agent.ScheduleTemplate {
		step := tmpl
		step.ID = core.NewID()
		step.Source = core.StepFromTemplate
		step.CreatedAt = now
		step.Done = false
		if step.Priority == 0 {
			step.Priority = 3
		}
		plan.Steps = append(plan.Steps, step)
	}
	plan.SortSteps()
	if err := e.plans.Activate(ctx, plan); err != nil {
		return core.Plan{}, fmt.Errorf("activate fallback plan: %w", err)
	}
	e.LogInfo("fallback plan activated", "agent_id", agent.ID, "plan_id", plan.ID)
	return plan, nil
}

func buildPlanningPrompt(agent *core.Agent, memories []core.MemoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", agent.Name, util.RenderPersona(agent.Persona, agent.Name, agent.PrimaryGoal))
	fmt.Fprintf(&b, "Primary goal: %s\n", agent.PrimaryGoal)
	if len(agent.SecondaryGoals) > 0 {
		fmt.Fprintf(&b, "Secondary goals: %s\n", strings.Join(agent.SecondaryGoals, "; "))
	}
	if len(memories) > 0 {
		b.WriteString("\nWhat has been on your mind:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}
	if len(agent.ScheduleTemplate) > 0 {
		b.WriteString("\nYour usual routine:\n")
		for _, s := range agent.ScheduleTemplate {
			fmt.Fprintf(&b, "- %s %s\n", s.At, s.Intent.Name)
		}
	}
	b.WriteString(`
Plan your day. Reply with JSON:
{"goal": "<today's overarching goal>", "schedule": [{"time": "HH:MM", "activity": "<name>", "location": "<optional hint>", "priority": 1-10}]}
`)
	return b.String()
}
