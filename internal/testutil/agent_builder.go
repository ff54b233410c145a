package testutil

import (
	"time"

	"github.com/ashwick/townmind/core"
)

// AgentBuilder helps construct agents with fluent chaining for tests.
// Example:
//
//	agent := NewAgentBuilder("alice").Goal("run the bakery").At(3, 4).Build()
type AgentBuilder struct {
	agent core.Agent
}

// NewAgentBuilder creates a builder with a usable default agent: named after
// its id, positioned at the origin, counters zeroed.
func NewAgentBuilder(id string) *AgentBuilder {
	return &AgentBuilder{agent: core.Agent{
		ID:      id,
		Name:    id,
		Persona: "A resident of the town.",
	}}
}

// Name sets the display name (chainable).
func (b *AgentBuilder) Name(name string) *AgentBuilder { b.agent.Name = name; return b }

// Persona sets the persona text (chainable).
func (b *AgentBuilder) Persona(p string) *AgentBuilder { b.agent.Persona = p; return b }

// Goal sets the primary goal (chainable).
func (b *AgentBuilder) Goal(goal string) *AgentBuilder { b.agent.PrimaryGoal = goal; return b }

// At places the agent (chainable).
func (b *AgentBuilder) At(x, y int) *AgentBuilder {
	b.agent.Position = core.Point{X: x, Y: y}
	return b
}

// Home sets the home position (chainable).
func (b *AgentBuilder) Home(x, y int) *AgentBuilder {
	b.agent.Home = core.Point{X: x, Y: y}
	return b
}

// Counters overrides the per-day counters (chainable).
func (b *AgentBuilder) Counters(c core.DayCounters) *AgentBuilder {
	b.agent.Counters = c
	return b
}

// ReadyToReflect fast-forwards the counters past every reflection gate (chainable).
func (b *AgentBuilder) ReadyToReflect(lastReflection time.Time) *AgentBuilder {
	b.agent.Counters.CumulativeImportance = 200
	b.agent.Counters.MemoriesSinceReflection = 10
	b.agent.Counters.LastReflectionAt = lastReflection
	return b
}

// Template sets the static fallback schedule (chainable).
func (b *AgentBuilder) Template(steps ...core.PlanStep) *AgentBuilder {
	b.agent.ScheduleTemplate = steps
	return b
}

// Build returns a fresh *core.Agent.
func (b *AgentBuilder) Build() *core.Agent {
	a := b.agent
	return &a
}
