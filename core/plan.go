package core

import (
	"context"
	"sort"
	"time"
)

// PlanStatus is the lifecycle state of a daily plan.
type PlanStatus string

const (
	// PlanActive is the single currently executing plan of an agent.
	PlanActive PlanStatus = "active"
	// PlanCompleted marks a plan whose steps all ran.
	PlanCompleted PlanStatus = "completed"
	// PlanAbandoned marks a plan displaced by a newer activation.
	PlanAbandoned PlanStatus = "abandoned"
)

// ActivityIntent names what an agent wants to do: an activity (possibly an
// alias), an optional location hint and free-form parameters.
type ActivityIntent struct {
	Name         string            `json:"name" yaml:"name"`
	LocationHint string            `json:"location_hint,omitempty" yaml:"location_hint,omitempty"`
	Params       map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// StepSource identifies where a plan step came from.
type StepSource string

const (
	// StepFromPlanner marks a step from the standing daily plan.
	StepFromPlanner StepSource = "planner"
	// StepFromTemplate marks a fallback step from the static schedule.
	StepFromTemplate StepSource = "template"
	// StepFromMetacognition marks a schedule modification.
	StepFromMetacognition StepSource = "metacognition"
)

// PlanStep is one time-keyed entry of a plan. Steps injected by
// metacognition carry their own priority and creation time so dispatch can
// break ties uniformly: higher priority first, then earlier CreatedAt.
type PlanStep struct {
	ID        string         `json:"id" yaml:"-"`
	At        DayMinute      `json:"at" yaml:"at"`
	Intent    ActivityIntent `json:"intent" yaml:"intent"`
	Priority  int            `json:"priority" yaml:"priority"`
	Source    StepSource     `json:"source" yaml:"-"`
	CreatedAt time.Time      `json:"created_at" yaml:"-"`
	Done      bool           `json:"done" yaml:"-"`
}

// Plan is a full-day, time-keyed sequence of intended activities for one
// agent. At most one plan per agent is active at any time.
type Plan struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Goal      string     `json:"goal"`
	Steps     []PlanStep `json:"steps"`
	Status    PlanStatus `json:"status"`
	Priority  int        `json:"priority"`
	CreatedAt time.Time  `json:"created_at"`
}

// SortSteps orders the plan's steps by time of day, priority desc, then
// creation time, the same order dispatch walks them in.
func (p *Plan) SortSteps() {
	sort.SliceStable(p.Steps, func(i, j int) bool {
		a, b := p.Steps[i], p.Steps[j]
		if a.At != b.At {
			return a.At < b.At
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// ScheduleModification is one schedule change emitted by a metacognition
// evaluation. It is inserted into the active plan as a high-priority step.
type ScheduleModification struct {
	Time     string `json:"time"` // "HH:MM"
	Activity string `json:"activity"`
	Location string `json:"location,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Priority int    `json:"priority"`
}

// PlanStore defines durable persistence for plans. Activation must be
// atomic: the previously active plan of the agent is marked abandoned and the
// new plan inserted as active in a single indivisible operation.
type PlanStore interface {
	// Activate atomically abandons the agent's current active plan (if any)
	// and stores p with status active.
	Activate(ctx context.Context, p Plan) error

	// Active returns the agent's active plan, if one exists.
	Active(ctx context.Context, agentID string) (Plan, bool, error)

	// Recent returns the agent's newest plans (any status), newest first.
	Recent(ctx context.Context, agentID string, limit int) ([]Plan, error)

	// SetStatus updates a plan's lifecycle status.
	SetStatus(ctx context.Context, planID string, status PlanStatus) error

	// InsertStep adds a step (typically a schedule modification) to a plan.
	InsertStep(ctx context.Context, planID string, step PlanStep) error

	// MarkStepDone flags a dispatched step so it is not dispatched again.
	MarkStepDone(ctx context.Context, planID, stepID string) error
}
