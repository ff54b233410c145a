package core

import "time"

// Agent is one autonomous character in the town. Agents are created at world
// startup and destroyed only at teardown; the orchestrator and the insight
// engines are the only mutators.
type Agent struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Persona        string   `json:"persona" yaml:"persona"`
	PrimaryGoal    string   `json:"primary_goal" yaml:"primary_goal"`
	SecondaryGoals []string `json:"secondary_goals,omitempty" yaml:"secondary_goals,omitempty"`
	Personality    []string `json:"personality,omitempty" yaml:"personality,omitempty"`

	Position        Point   `json:"position" yaml:"position"`
	Home            Point   `json:"home" yaml:"home"`
	CurrentActivity string  `json:"current_activity" yaml:"-"`
	Energy          float64 `json:"energy" yaml:"energy"`
	Mood            float64 `json:"mood" yaml:"mood"`

	// ScheduleTemplate is the static fallback daily schedule used when plan
	// generation fails or has not yet run.
	ScheduleTemplate []PlanStep `json:"schedule_template,omitempty" yaml:"schedule_template,omitempty"`

	Counters DayCounters `json:"counters" yaml:"-"`
}

// DayCounters is the day-scoped trigger bookkeeping block of an agent.
// CumulativeImportance and MemoriesSinceReflection accumulate between
// reflections; the *Today counters reset at simulated midnight.
type DayCounters struct {
	CumulativeImportance    int       `json:"cumulative_importance"`
	MemoriesSinceReflection int       `json:"memories_since_reflection"`
	ReflectionsToday        int       `json:"reflections_today"`
	MetacognitionsToday     int       `json:"metacognitions_today"`
	LastReflectionAt        time.Time `json:"last_reflection_at"`
	LastMetacognitionAt     time.Time `json:"last_metacognition_at"`
}

// ResetDay clears the per-day counters at simulated midnight. Accumulation
// toward the next reflection deliberately survives the rollover.
func (c *DayCounters) ResetDay() {
	c.ReflectionsToday = 0
	c.MetacognitionsToday = 0
}
