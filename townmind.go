// Package townmind provides a high-level façade over the cognition core:
// memory, reflection, metacognition, planning, pathfinding, coordination and
// the tick orchestrator. Most applications interact with this package by:
//  1. Creating a Town via New() (optionally overriding default in-memory services)
//  2. Registering agents and feeding external events (Enqueue)
//  3. Driving the simulation (Run for real-time ticking, Tick for direct control)
//
// All defaults are safe for local development and testing; production
// deployments typically supply the SQLite stores, real provider adapters and
// a structured logger.
package townmind

import (
	"context"
	"time"

	"github.com/ashwick/townmind/catalog"
	"github.com/ashwick/townmind/coord"
	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/insight"
	"github.com/ashwick/townmind/logging"
	"github.com/ashwick/townmind/memory"
	"github.com/ashwick/townmind/model"
	"github.com/ashwick/townmind/orchestrator"
	"github.com/ashwick/townmind/pathfind"
	"github.com/ashwick/townmind/planning"
	"github.com/ashwick/townmind/social"
)

// Options configures the Town instance.
type Options struct {
	// Orchestrator configuration (sim rate, tick interval, job limits).
	Config orchestrator.Config

	// Stores (default to in-memory implementations if not provided).
	MemoryStore core.MemoryStore
	PlanStore   core.PlanStore

	// World content. Catalog and Registry are required for activity
	// execution; Grid is required for movement.
	Catalog  core.ActivityCatalog
	Registry core.LocationRegistry
	Grid     pathfind.Grid

	// Services (default to deterministic mocks if not provided).
	Generator core.GenerationService
	Embedder  core.EmbeddingService

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// OnFatal is the operator alert for persistence failures.
	OnFatal func(error)
}

// Town is the high-level façade aggregating the cognition services and the
// tick loop.
type Town struct {
	memory *memory.Manager
	plans  core.PlanStore
	social *social.Store
	orch   *orchestrator.Orchestrator
}

// New creates a Town with optional overrides. Any unset service is
// initialized with an in-memory or mock implementation.
func New(optFns ...func(o *Options)) *Town {
	opts := Options{
		MemoryStore: memory.NewInMemoryStore(),
		PlanStore:   memory.NewInMemoryPlanStore(),
		Generator:   model.NewMockGenerator(),
		Embedder:    &model.MockEmbedder{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Catalog == nil {
		c, _ := catalog.NewActivityCatalog(nil) // empty catalog cannot fail
		opts.Catalog = c
	}
	if opts.Registry == nil {
		r, _ := catalog.NewLocationRegistry(nil)
		opts.Registry = r
	}
	if opts.Grid == nil {
		opts.Grid = pathfind.NewTileMap(64, 64)
	}

	town := &Town{plans: opts.PlanStore}

	start := opts.Config.Start
	if start.IsZero() {
		start = time.Now().UTC()
		opts.Config.Start = start
	}
	clock := orchestrator.NewSimClock(start, opts.Config.SimSecondsPerTick)

	// The stored-memory hook feeds the orchestrator's trigger counters; the
	// orchestrator does not exist yet, so the closure binds it late.
	town.memory = memory.NewManager(opts.MemoryStore, opts.Embedder,
		memory.WithClock(clock),
		memory.WithLogger(opts.Logger),
		memory.WithStoredHook(func(rec core.MemoryRecord) {
			if town.orch != nil {
				town.orch.OnStored(rec)
			}
		}),
	)
	town.social = social.NewStore()
	reporter := social.NewReporter(town.social, town.memory, clock, opts.Logger)

	// Reservations are timed on the shared simulated clock; a TTL of two
	// ticks keeps a moving agent's claim alive until it renews next tick.
	simPerTick := opts.Config.SimSecondsPerTick
	if simPerTick <= 0 {
		simPerTick = orchestrator.DefaultSimSecondsPerTick
	}
	coordinator := coord.New(
		coord.WithClock(clock),
		coord.WithTTL(2*time.Duration(simPerTick)*time.Second),
		coord.WithLogger(opts.Logger),
	)

	deps := orchestrator.Deps{
		Memory:        town.memory,
		Plans:         opts.PlanStore,
		Reflection:    insight.NewReflectionEngine(town.memory, clock, opts.Logger),
		Metacognition: insight.NewMetacognitionEngine(town.memory, opts.PlanStore, clock, opts.Logger),
		Planner:       planning.NewEngine(town.memory, opts.PlanStore, clock, opts.Logger),
		Reporter:      reporter,
		Coord:         coordinator,
		Catalog:       opts.Catalog,
		Registry:      opts.Registry,
		Pathfinder:    pathfind.New(opts.Grid),
		Generator:     opts.Generator,
		Logger:        opts.Logger,
		Clock:         clock,
		OnFatal:       opts.OnFatal,
	}
	town.orch = orchestrator.New(opts.Config, deps)
	return town
}

// AddAgent registers an agent with the simulation.
func (t *Town) AddAgent(agent *core.Agent) { t.orch.AddAgent(agent) }

// Enqueue feeds an external event into the next tick. Safe for concurrent use.
func (t *Town) Enqueue(ev core.SimEvent) { t.orch.Enqueue(ev) }

// Run drives the tick loop until the context is cancelled or the
// orchestrator halts on a persistence failure.
func (t *Town) Run(ctx context.Context) error { return t.orch.Run(ctx) }

// Tick advances the simulation one step; exported for tests and turn-based
// embedders.
func (t *Town) Tick(ctx context.Context) error { return t.orch.Tick(ctx) }

// Drain waits for in-flight generation jobs after the loop stops.
func (t *Town) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		t.orch.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Memory exposes the memory manager for retrieval queries.
func (t *Town) Memory() *memory.Manager { return t.memory }

// Plans exposes the plan store.
func (t *Town) Plans() core.PlanStore { return t.plans }

// Relationships exposes the relationship store.
func (t *Town) Relationships() *social.Store { return t.social }
