// Package orchestrator drives the simulation: a tick loop that advances
// simulated time, routes external events into memory, fires the cognition
// triggers, dispatches due plan steps to activity sessions and reconciles
// results from asynchronous generation jobs.
//
// The tick loop never blocks on generation. Engines prepare prompts
// synchronously; the job runner executes them concurrently off the loop and
// the next ticks reconcile whatever finished. Store operations are retried
// with a short backoff; an operation still failing after its retries skips
// the cycle, and only a sustained run of consecutive persistence failures
// halts the loop and raises the operator alert.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ashwick/townmind/activity"
	"github.com/ashwick/townmind/coord"
	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/insight"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/memory"
	"github.com/ashwick/townmind/pathfind"
	"github.com/ashwick/townmind/planning"
	"github.com/ashwick/townmind/social"
)

// Config tunes the loop. Zero values select the defaults.
type Config struct {
	// Start is the initial simulated time.
	Start time.Time
	// SimSecondsPerTick is how much simulated time one tick covers.
	SimSecondsPerTick int
	// TickInterval is the real-time spacing of ticks in Run.
	TickInterval time.Duration
	// MaxConcurrentJobs bounds concurrent generation calls.
	MaxConcurrentJobs int64
	// JobTimeout bounds one generation attempt.
	JobTimeout time.Duration
	// JobRetries is how many times a failed generation call is retried
	// before the job is dropped.
	JobRetries uint64
	// MaxPersistFailures is how many consecutive store failures are
	// tolerated, each skipping its cycle, before the loop halts.
	MaxPersistFailures int
}

// In-cycle retry budget for one store operation, on top of the attempt that
// failed.
const persistRetries = 2

// Deps are the orchestrator's collaborators, wired once at startup.
type Deps struct {
	Memory        *memory.Manager
	Plans         core.PlanStore
	Reflection    *insight.ReflectionEngine
	Metacognition *insight.MetacognitionEngine
	Planner       *planning.Engine
	Reporter      *social.Reporter
	Coord         *coord.Manager
	Catalog       core.ActivityCatalog
	Registry      core.LocationRegistry
	Pathfinder    *pathfind.Engine
	Generator     core.GenerationService
	Logger        logging.Logger

	// Clock optionally injects a pre-built simulated clock shared with the
	// other components; nil builds one from Config.
	Clock *SimClock

	// OnFatal is the operator alert, invoked once when the orchestrator
	// halts on a persistence failure.
	OnFatal func(error)
}

type sessionEntry struct {
	session *activity.Session
	planID  string
	stepID  string
}

// Orchestrator owns the tick loop. All mutation of agent state happens on
// the tick goroutine; the mutex-guarded queues are the only cross-goroutine
// surfaces.
type Orchestrator struct {
	*core.LoggerAdapter

	cfg  Config
	deps Deps

	clock  *SimClock
	runner *runner

	agents   []*core.Agent
	byID     map[string]*core.Agent
	sessions map[string]sessionEntry

	// pendingPlan marks agents with a plan job in flight.
	pendingPlan map[string]bool

	day  time.Time
	tick uint64

	// persistFailures counts consecutive store failures; any store success
	// resets it.
	persistFailures int

	mu            sync.Mutex
	eventQueue    []core.SimEvent
	pendingStored []core.MemoryRecord

	halted   bool
	fatalErr error
}

// New builds an orchestrator. Register agents with AddAgent before Run.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.JobRetries == 0 {
		cfg.JobRetries = 3
	}
	if cfg.MaxPersistFailures <= 0 {
		cfg.MaxPersistFailures = 3
	}
	clock := deps.Clock
	if clock == nil {
		clock = NewSimClock(cfg.Start, cfg.SimSecondsPerTick)
	}
	return &Orchestrator{
		LoggerAdapter: core.NewLoggerAdapter(deps.Logger),
		cfg:           cfg,
		deps:          deps,
		clock:         clock,
		runner:        newRunner(deps.Generator, cfg.MaxConcurrentJobs, cfg.JobTimeout, cfg.JobRetries, deps.Logger),
		byID:          make(map[string]*core.Agent),
		sessions:      make(map[string]sessionEntry),
		pendingPlan:   make(map[string]bool),
		day:           dayOf(clock.Now()),
	}
}

// Clock exposes the simulated time source so the rest of the wiring can
// share it.
func (o *Orchestrator) Clock() *SimClock { return o.clock }

// AddAgent registers an agent. Agents tick in registration order.
func (o *Orchestrator) AddAgent(agent *core.Agent) {
	o.agents = append(o.agents, agent)
	o.byID[agent.ID] = agent
}

// OnStored is the memory manager hook feeding trigger counters. Wire it via
// memory.WithStoredHook when building the manager.
func (o *Orchestrator) OnStored(rec core.MemoryRecord) {
	o.mu.Lock()
	o.pendingStored = append(o.pendingStored, rec)
	o.mu.Unlock()
}

// Enqueue adds an external event for the next tick. Safe for concurrent use.
func (o *Orchestrator) Enqueue(ev core.SimEvent) {
	o.mu.Lock()
	o.eventQueue = append(o.eventQueue, ev)
	o.mu.Unlock()
}

// Run ticks at the configured real-time interval until the context is done
// or a fatal persistence failure halts the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick advances the simulation by one step. It is exported so tests and
// embedding applications can drive the loop directly.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if o.halted {
		return o.fatalErr
	}
	started := time.Now()

	now := o.clock.Advance()
	if d := dayOf(now); !d.Equal(o.day) {
		o.day = d
		o.rollover(ctx)
	}

	o.drainResults(ctx)
	o.drainStored(ctx)
	o.drainEvents(ctx)
	o.checkTriggers(ctx)
	o.dispatchSteps(ctx)
	o.tickSessions(ctx)

	o.deps.Memory.FlushIdleMovement(ctx)
	o.deps.Coord.Sweep()

	o.tick++
	if tl, ok := o.deps.Logger.(tickLogger); ok {
		tl.LogTick(o.tick, len(o.agents), time.Since(started))
	}
	return o.fatalErr
}

// tickLogger is the optional per-tick metrics surface of logging.SimLogger.
type tickLogger interface {
	LogTick(tick uint64, agents int, dur time.Duration)
}

// rollover resets the per-day counters and schedules a fresh plan for every
// agent.
func (o *Orchestrator) rollover(ctx context.Context) {
	o.LogInfo("day rollover", "day", o.day.Format("2006-01-02"))
	for _, agent := range o.agents {
		agent.Counters.ResetDay()
		o.submitPlanJob(ctx, agent)
	}
}

func (o *Orchestrator) submitPlanJob(ctx context.Context, agent *core.Agent) {
	if o.pendingPlan[agent.ID] {
		return
	}
	req, err := o.deps.Planner.Prepare(ctx, agent)
	if err != nil {
		o.LogWarn("plan preparation failed", "agent_id", agent.ID, "error", err.Error())
		return
	}
	o.pendingPlan[agent.ID] = true
	o.runner.submit(ctx, job{
		kind:     jobPlan,
		agentID:  agent.ID,
		prompt:   req.Prompt,
		planDay:  o.day,
		planning: req,
	})
}

// drainResults reconciles every finished generation job without blocking.
func (o *Orchestrator) drainResults(ctx context.Context) {
	for {
		select {
		case res := <-o.runner.results:
			o.handleResult(ctx, res)
		default:
			return
		}
	}
}

func (o *Orchestrator) handleResult(ctx context.Context, res jobResult) {
	if res.job.kind == jobPlan {
		delete(o.pendingPlan, res.job.agentID)
	}
	agent, ok := o.byID[res.job.agentID]
	if !ok {
		o.LogWarn("job result for unknown agent dropped", "agent_id", res.job.agentID)
		o.abortJob(res.job)
		return
	}
	if res.err != nil {
		o.abortJob(res.job)
		return
	}

	switch res.job.kind {
	case jobPlan:
		if !res.job.planDay.Equal(o.day) {
			o.LogWarn("stale plan result dropped", "agent_id", agent.ID,
				"prepared_day", res.job.planDay.Format("2006-01-02"))
			return
		}
		o.retryStore("plan activation for "+agent.ID, func() error {
			_, err := o.deps.Planner.Complete(ctx, agent, res.job.planning, res.text)
			return err
		})
	case jobReflection:
		o.retryStore("reflection persistence for "+agent.ID, func() error {
			return o.deps.Reflection.Complete(ctx, agent, res.job.reflection, res.text)
		})
	case jobMetacognition:
		o.retryStore("metacognition persistence for "+agent.ID, func() error {
			_, err := o.deps.Metacognition.Complete(ctx, agent, res.job.metacognition, res.text)
			return err
		})
	}
}

// abortJob releases engine in-flight windows so the trigger can fire again.
func (o *Orchestrator) abortJob(j job) {
	switch j.kind {
	case jobReflection:
		o.deps.Reflection.Abort(j.reflection)
	case jobMetacognition:
		o.deps.Metacognition.Abort(j.metacognition)
	}
}

// drainStored applies persisted-memory effects: accumulation counters and
// the important-memory metacognition trigger.
func (o *Orchestrator) drainStored(ctx context.Context) {
	o.mu.Lock()
	stored := o.pendingStored
	o.pendingStored = nil
	o.mu.Unlock()

	for _, rec := range stored {
		agent, ok := o.byID[rec.AgentID]
		if !ok {
			continue
		}
		if rec.Kind != core.MemoryObservation {
			continue
		}
		agent.Counters.CumulativeImportance += rec.Importance
		agent.Counters.MemoriesSinceReflection++
		if reason, ok := o.deps.Metacognition.TriggerForMemory(rec); ok {
			o.submitMetacognition(ctx, agent, reason)
		}
	}
}

func (o *Orchestrator) drainEvents(ctx context.Context) {
	o.mu.Lock()
	events := o.eventQueue
	o.eventQueue = nil
	o.mu.Unlock()

	for _, ev := range events {
		if o.halted {
			return
		}
		o.handleEvent(ctx, ev)
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev core.SimEvent) {
	agent, ok := o.byID[ev.AgentID]
	if !ok {
		o.LogWarn("event for unknown agent dropped", "agent_id", ev.AgentID, "kind", string(ev.Kind))
		return
	}

	switch ev.Kind {
	case core.EventReport:
		o.retryStore("report handling for "+ev.AgentID, func() error {
			return o.deps.Reporter.HandleReport(ctx, ev)
		})
		return
	case core.EventUrgency:
		if reason, ok := o.deps.Metacognition.TriggerForUrgency(ev.Urgency); ok {
			o.submitMetacognition(ctx, agent, reason)
		}
		if ev.Payload == "" {
			return
		}
	}

	in := memory.ObservationInput{
		AgentID:        ev.AgentID,
		Content:        ev.Payload,
		Category:       memory.CategoryGeneral,
		Importance:     ev.Importance,
		Emotional:      ev.Emotional,
		Location:       ev.Location,
		RelatedAgents:  ev.RelatedAgents,
		RelatedPlayers: ev.RelatedPlayers,
	}
	switch ev.Kind {
	case core.EventMovement:
		in.Category = memory.CategoryMovement
		in.Subject = ev.Subject
		in.Position = ev.Position
	case core.EventConversation:
		if ev.Subject != "" {
			in.RelatedAgents = append([]string{ev.Subject}, in.RelatedAgents...)
		}
	}
	// A dropped observation costs one memory, not the simulation.
	o.retryStore("observation persistence for "+ev.AgentID, func() error {
		_, err := o.deps.Memory.StoreObservation(ctx, in)
		return err
	})
}

// checkTriggers evaluates the per-agent cognition gates and submits jobs.
// Agents with no active plan (fresh start or store recovery) get one.
func (o *Orchestrator) checkTriggers(ctx context.Context) {
	for _, agent := range o.agents {
		if o.halted {
			return
		}

		if !o.pendingPlan[agent.ID] {
			var hasPlan bool
			if !o.retryLoad("active plan lookup for "+agent.ID, func() error {
				var err error
				_, hasPlan, err = o.deps.Plans.Active(ctx, agent.ID)
				return err
			}) {
				continue
			}
			if !hasPlan {
				o.submitPlanJob(ctx, agent)
			}
		}

		req, ok, err := o.deps.Reflection.Prepare(ctx, agent)
		if err != nil {
			o.LogWarn("reflection preparation failed", "agent_id", agent.ID, "error", err.Error())
		} else if ok {
			o.runner.submit(ctx, job{kind: jobReflection, agentID: agent.ID, prompt: req.Prompt, reflection: req})
		}

		if reason, fire := o.deps.Metacognition.TriggerForElapsed(agent); fire {
			o.submitMetacognition(ctx, agent, reason)
		}
	}
}

func (o *Orchestrator) submitMetacognition(ctx context.Context, agent *core.Agent, reason insight.TriggerReason) {
	req, ok, err := o.deps.Metacognition.Prepare(ctx, agent, reason)
	if err != nil {
		o.LogWarn("metacognition preparation failed", "agent_id", agent.ID, "error", err.Error())
		return
	}
	if !ok {
		return
	}
	o.runner.submit(ctx, job{kind: jobMetacognition, agentID: agent.ID, prompt: req.Prompt, metacognition: req})
}

// dispatchSteps starts an activity session for the highest-priority due step
// of each agent. A running session yields only to a strictly higher-priority
// step.
func (o *Orchestrator) dispatchSteps(ctx context.Context) {
	nowMinute := o.clock.DayMinute()
	for _, agent := range o.agents {
		if o.halted {
			return
		}
		var plan core.Plan
		var ok bool
		if !o.retryLoad("active plan lookup for "+agent.ID, func() error {
			var err error
			plan, ok, err = o.deps.Plans.Active(ctx, agent.ID)
			return err
		}) {
			continue
		}
		if !ok {
			continue
		}

		due := dueSteps(plan, nowMinute)
		if len(due) == 0 {
			continue
		}
		next := due[0]

		if entry, running := o.sessions[agent.ID]; running && !entry.session.State().Terminal() {
			if entry.stepID == next.ID {
				continue
			}
			if next.Priority <= entry.session.Priority() {
				continue
			}
			entry.session.Interrupt()
			o.LogInfo("session preempted", "agent_id", agent.ID, "step_id", next.ID, "priority", next.Priority)
		}

		sess := activity.NewSession(activity.Deps{
			Catalog:    o.deps.Catalog,
			Registry:   o.deps.Registry,
			Pathfinder: o.deps.Pathfinder,
			Coord:      o.deps.Coord,
			Clock:      o.clock,
			Logger:     o.deps.Logger,
		}, agent, next)
		o.sessions[agent.ID] = sessionEntry{session: sess, planID: plan.ID, stepID: next.ID}
	}
}

// dueSteps returns the undone steps whose time has come, ordered by priority
// desc then creation time asc.
func dueSteps(plan core.Plan, nowMinute core.DayMinute) []core.PlanStep {
	var due []core.PlanStep
	for _, step := range plan.Steps {
		if !step.Done && step.At <= nowMinute {
			due = append(due, step)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due
}

func (o *Orchestrator) tickSessions(ctx context.Context) {
	for _, agent := range o.agents {
		entry, ok := o.sessions[agent.ID]
		if !ok {
			continue
		}
		state := entry.session.Tick(ctx)
		if !state.Terminal() {
			continue
		}
		delete(o.sessions, agent.ID)

		switch state {
		case activity.StateCompleted, activity.StateFailed:
			if state == activity.StateFailed {
				o.LogWarn("activity failed", "agent_id", agent.ID, "step_id", entry.stepID, "reason", entry.session.FailReason())
			}
			// On failure the step stays undone and simply dispatches again.
			if !o.retryStore("step completion for "+agent.ID, func() error {
				return o.deps.Plans.MarkStepDone(ctx, entry.planID, entry.stepID)
			}) {
				continue
			}
			o.finishPlanIfDone(ctx, agent.ID, entry.planID)
		case activity.StateInterrupted:
			// The step stays undone; it can dispatch again once the
			// preempting step finishes.
		}
	}
}

// finishPlanIfDone marks the plan completed once its last step is done.
func (o *Orchestrator) finishPlanIfDone(ctx context.Context, agentID, planID string) {
	var plan core.Plan
	var ok bool
	if !o.retryLoad("active plan lookup for "+agentID, func() error {
		var err error
		plan, ok, err = o.deps.Plans.Active(ctx, agentID)
		return err
	}) {
		return
	}
	if !ok || plan.ID != planID {
		return
	}
	for _, step := range plan.Steps {
		if !step.Done {
			return
		}
	}
	if !o.retryStore("plan completion for "+agentID, func() error {
		return o.deps.Plans.SetStatus(ctx, planID, core.PlanCompleted)
	}) {
		return
	}
	o.LogInfo("plan completed", "agent_id", agentID, "plan_id", planID)
}

// retryStore runs one store write with a short bounded backoff. A success
// clears the consecutive-failure count. Exhausted retries log, count toward
// Config.MaxPersistFailures and report false so the caller skips the cycle;
// crossing the threshold halts the loop.
func (o *Orchestrator) retryStore(what string, op func() error) bool {
	return o.storeOp(what, op, true)
}

// retryLoad is retryStore for reads. A read hitting a different backend says
// nothing about the one that is failing, so success leaves the
// consecutive-failure count untouched.
func (o *Orchestrator) retryLoad(what string, op func() error) bool {
	return o.storeOp(what, op, false)
}

func (o *Orchestrator) storeOp(what string, op func() error, resetOnSuccess bool) bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	err := backoff.Retry(op, backoff.WithMaxRetries(policy, persistRetries))
	if err == nil {
		if resetOnSuccess {
			o.persistFailures = 0
		}
		return true
	}
	o.persistFailures++
	o.LogWarn("store operation failed, skipping cycle",
		"op", what,
		"consecutive", o.persistFailures,
		"error", err.Error())
	if o.persistFailures >= o.cfg.MaxPersistFailures {
		o.fatal(fmt.Errorf("%s: %w", what, err))
	}
	return false
}

// fatal halts the loop and raises the operator alert exactly once.
// retryStore invokes it when consecutive store failures reach the
// configured threshold.
func (o *Orchestrator) fatal(err error) {
	if o.halted {
		return
	}
	o.halted = true
	o.fatalErr = err
	o.LogError("orchestrator halted", "error", err.Error())
	if o.deps.OnFatal != nil {
		o.deps.OnFatal(err)
	}
}

// Drain waits for in-flight generation jobs after the loop stops.
func (o *Orchestrator) Drain() { o.runner.wait() }

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
