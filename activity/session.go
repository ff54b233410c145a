// Package activity executes one plan step per agent as a small state
// machine: resolve the activity and a location, move there, perform the
// activity, and surface failure or interruption as terminal states. Sessions
// are ephemeral; the orchestrator creates one per dispatched step and drops
// it once it reaches a terminal state.
package activity

import (
	"context"
	"time"

	"github.com/ashwick/townmind/coord"
	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/pathfind"
)

// State is the lifecycle state of an activity session.
type State string

const (
	// StatePlanning resolves the activity definition and claims a location.
	StatePlanning State = "planning"
	// StateMoving advances along the computed route.
	StateMoving State = "moving"
	// StatePerforming holds or patterns at the location for the duration.
	StatePerforming State = "performing"
	// StateCompleted is the successful terminal state.
	StateCompleted State = "completed"
	// StateFailed is the unsuccessful terminal state.
	StateFailed State = "failed"
	// StateInterrupted is the terminal state after preemption.
	StateInterrupted State = "interrupted"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateInterrupted
}

// Deps are the injected collaborators of every session.
type Deps struct {
	Catalog    core.ActivityCatalog
	Registry   core.LocationRegistry
	Pathfinder *pathfind.Engine
	Coord      *coord.Manager
	Clock      core.Clock
	Logger     logging.Logger
}

// Session executes one activity intent for one agent.
type Session struct {
	*core.LoggerAdapter

	deps     Deps
	agent    *core.Agent
	intent   core.ActivityIntent
	priority int

	state      State
	failReason string
	def        core.ActivityDef
	location   core.Location
	hasTarget  bool

	path      []core.Point
	pathIdx   int
	replanned bool

	remaining  time.Duration
	lastTick   time.Time
	patternIdx int
	rngState   uint64
}

// NewSession creates a session in StatePlanning for the given step.
func NewSession(deps Deps, agent *core.Agent, step core.PlanStep) *Session {
	if deps.Clock == nil {
		deps.Clock = core.SystemClock()
	}
	seed := uint64(1)
	for _, c := range agent.ID {
		seed = seed*31 + uint64(c)
	}
	return &Session{
		LoggerAdapter: core.NewLoggerAdapter(deps.Logger),
		deps:          deps,
		agent:         agent,
		intent:        step.Intent,
		priority:      step.Priority,
		state:         StatePlanning,
		rngState:      seed | 1,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Priority returns the dispatched step's priority, used by the orchestrator
// to decide whether a new step preempts this session.
func (s *Session) Priority() int { return s.priority }

// FailReason describes why the session failed, if it did.
func (s *Session) FailReason() string { return s.failReason }

// Tick advances the session by one simulation tick and returns the state
// afterwards.
func (s *Session) Tick(ctx context.Context) State {
	switch s.state {
	case StatePlanning:
		s.tickPlanning()
	case StateMoving:
		s.tickMoving()
	case StatePerforming:
		s.tickPerforming()
	}
	return s.state
}

// Interrupt preempts the session from any non-terminal state, releasing
// every held claim immediately. In-flight generation jobs are unaffected;
// only movement and action progress is cancelled.
func (s *Session) Interrupt() {
	if s.state.Terminal() {
		return
	}
	s.deps.Coord.ReleaseAll(s.agent.ID)
	s.transition(StateInterrupted)
}

func (s *Session) tickPlanning() {
	def, err := s.deps.Catalog.Resolve(s.intent.Name)
	if err != nil {
		s.fail("activity resolution: " + err.Error())
		return
	}
	s.def = def

	candidates := s.rankedCandidates()
	if len(candidates) == 0 {
		s.fail("no location satisfies required tags")
		return
	}
	claimed := false
	for _, loc := range candidates {
		if err := s.deps.Coord.AcquireCapacity(loc.ID, s.agent.ID, loc.MaxCapacity); err == nil {
			s.location = loc
			claimed = true
			break
		}
	}
	if !claimed {
		s.fail("all matching locations at capacity")
		return
	}

	if target := s.intent.Params["target"]; target != "" {
		if err := s.deps.Coord.LockInteraction(s.agent.ID, target); err != nil {
			s.deps.Coord.ReleaseCapacity(s.location.ID, s.agent.ID)
			s.fail("interaction target unavailable")
			return
		}
		s.hasTarget = true
	}

	s.path = s.deps.Pathfinder.FindPath(s.agent.Position, s.location.Position)
	if s.path == nil {
		s.release()
		s.fail("no route to location")
		return
	}
	s.pathIdx = 0
	s.transition(StateMoving)
}

// rankedCandidates orders matching locations by preferred-tag hits, then
// distance, with the explicit location hint tried first when it qualifies.
func (s *Session) rankedCandidates() []core.Location {
	matches := s.deps.Registry.Lookup(s.def.RequiredTags)
	type ranked struct {
		loc       core.Location
		preferred int
		dist      int
	}
	rankedList := make([]ranked, 0, len(matches))
	for _, loc := range matches {
		pref := 0
		for _, t := range s.def.PreferredTags {
			if loc.HasTag(t) {
				pref++
			}
		}
		rankedList = append(rankedList, ranked{loc: loc, preferred: pref, dist: s.agent.Position.Manhattan(loc.Position)})
	}
	for i := 1; i < len(rankedList); i++ {
		for j := i; j > 0; j-- {
			a, b := rankedList[j-1], rankedList[j]
			if b.preferred > a.preferred || (b.preferred == a.preferred && b.dist < a.dist) {
				rankedList[j-1], rankedList[j] = b, a
			} else {
				break
			}
		}
	}
	out := make([]core.Location, 0, len(rankedList))
	if s.intent.LocationHint != "" {
		if hinted, ok := s.deps.Registry.Get(s.intent.LocationHint); ok && hasAll(hinted, s.def.RequiredTags) {
			out = append(out, hinted)
		}
	}
	for _, r := range rankedList {
		if len(out) > 0 && r.loc.ID == out[0].ID {
			continue
		}
		out = append(out, r.loc)
	}
	return out
}

func (s *Session) tickMoving() {
	if s.pathIdx >= len(s.path) {
		s.arrive()
		return
	}
	waypoint := s.path[s.pathIdx]
	if s.agent.Position == waypoint {
		s.pathIdx++
		if s.pathIdx >= len(s.path) {
			s.arrive()
		}
		return
	}
	next := stepToward(s.agent.Position, waypoint)
	if err := s.deps.Coord.ReserveTile(next, s.agent.ID); err != nil {
		if s.replanned {
			s.release()
			s.fail("route blocked after replan")
			return
		}
		s.replanned = true
		s.path = s.deps.Pathfinder.FindPath(s.agent.Position, s.location.Position)
		if s.path == nil {
			s.release()
			s.fail("no alternate route to location")
			return
		}
		s.pathIdx = 0
		return
	}
	s.deps.Coord.ReleaseTile(s.agent.Position, s.agent.ID)
	s.agent.Position = next
	if s.agent.Position == waypoint {
		s.pathIdx++
	}
	if s.pathIdx >= len(s.path) && s.agent.Position == s.location.Position {
		s.arrive()
	}
}

func (s *Session) arrive() {
	s.remaining = s.def.Duration
	s.lastTick = s.deps.Clock.Now()
	s.transition(StatePerforming)
}

func (s *Session) tickPerforming() {
	now := s.deps.Clock.Now()
	s.remaining -= now.Sub(s.lastTick)
	s.lastTick = now
	if s.remaining <= 0 {
		s.release()
		s.transition(StateCompleted)
		return
	}
	switch s.def.Pattern {
	case core.MovementPace:
		s.pace()
	case core.MovementPatrol:
		s.patrol()
	case core.MovementWander:
		s.wander()
	}
}

var paceOffsets = [2]core.Point{{X: -1, Y: 0}, {X: 1, Y: 0}}

func (s *Session) pace() {
	s.moveNear(paceOffsets[s.patternIdx%len(paceOffsets)])
	s.patternIdx++
}

var patrolOffsets = [4]core.Point{{X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}, {X: 0, Y: -1}}

func (s *Session) patrol() {
	s.moveNear(patrolOffsets[s.patternIdx%len(patrolOffsets)])
	s.patternIdx++
}

func (s *Session) wander() {
	// xorshift keeps wandering deterministic per agent without a shared rng.
	s.rngState ^= s.rngState << 13
	s.rngState ^= s.rngState >> 7
	s.rngState ^= s.rngState << 17
	s.moveNear(patrolOffsets[s.rngState%4])
}

// moveNear steps to an adjacent tile relative to the activity location when
// the tile can be claimed; contention just skips the step.
func (s *Session) moveNear(off core.Point) {
	next := core.Point{X: s.location.Position.X + off.X, Y: s.location.Position.Y + off.Y}
	if err := s.deps.Coord.ReserveTile(next, s.agent.ID); err != nil {
		return
	}
	s.deps.Coord.ReleaseTile(s.agent.Position, s.agent.ID)
	s.agent.Position = next
}

func (s *Session) fail(reason string) {
	s.failReason = reason
	s.transition(StateFailed)
}

func (s *Session) release() {
	if s.location.ID != "" {
		s.deps.Coord.ReleaseCapacity(s.location.ID, s.agent.ID)
	}
	if s.hasTarget {
		s.deps.Coord.UnlockInteraction(s.agent.ID)
		s.hasTarget = false
	}
	s.deps.Coord.ReleaseTile(s.agent.Position, s.agent.ID)
}

// transition moves to the next state and updates the agent's displayed
// current-activity label, the side effect every transition carries.
func (s *Session) transition(next State) {
	prev := s.state
	s.state = next
	switch next {
	case StateMoving:
		s.agent.CurrentActivity = "heading to " + s.location.Name
	case StatePerforming:
		s.agent.CurrentActivity = s.def.CanonicalName
	default:
		s.agent.CurrentActivity = "idle"
	}
	if sl, ok := s.Logger().(stateLogger); ok {
		sl.LogStateTransition(s.agent.ID, string(prev), string(next), s.intent.Name)
		return
	}
	s.LogDebug("activity transition", "agent_id", s.agent.ID, "from", string(prev), "to", string(next), "activity", s.intent.Name)
}

// stateLogger is the optional transition surface of logging.SimLogger.
type stateLogger interface {
	LogStateTransition(agentID, from, to, activity string)
}

func stepToward(from, to core.Point) core.Point {
	switch {
	case from.X < to.X:
		return core.Point{X: from.X + 1, Y: from.Y}
	case from.X > to.X:
		return core.Point{X: from.X - 1, Y: from.Y}
	case from.Y < to.Y:
		return core.Point{X: from.X, Y: from.Y + 1}
	case from.Y > to.Y:
		return core.Point{X: from.X, Y: from.Y - 1}
	default:
		return from
	}
}

func hasAll(l core.Location, tags []string) bool {
	for _, t := range tags {
		if !l.HasTag(t) {
			return false
		}
	}
	return true
}
