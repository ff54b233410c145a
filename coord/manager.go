// Package coord arbitrates contested spatial resources between agents:
// exclusive tile reservations with a TTL, per-location capacity counters and
// interaction-target locks. All checks and claims happen under one mutex so
// a reservation request is an indivisible compare-and-claim.
//
// Denials are normal negative results surfaced as sentinel errors
// (ErrReserved, ErrCapacityFull, ErrTargetLocked, ErrHolderBusy); callers
// pick an alternate resource or queue, they never treat them as failures.
package coord

import (
	"errors"
	"sync"
	"time"

	"github.com/ashwick/townmind/core"
	"github.com/ashwick/townmind/logging"
)

// DefaultReservationTTL is how long a tile reservation lives without
// renewal, measured on the manager's clock. Wiring that injects a simulated
// clock should pass WithTTL scaled to cover at least one full tick of
// simulated time, or every reservation expires between renewals.
const DefaultReservationTTL = 5 * time.Second

var (
	// ErrReserved means another agent holds a live reservation on the tile.
	ErrReserved = errors.New("position already reserved")
	// ErrCapacityFull means the location is at max concurrent occupancy.
	ErrCapacityFull = errors.New("location capacity full")
	// ErrTargetLocked means another agent already claimed the interaction target.
	ErrTargetLocked = errors.New("interaction target locked")
	// ErrHolderBusy means the claimant already holds a different interaction target.
	ErrHolderBusy = errors.New("holder already has an interaction target")
)

type reservation struct {
	holder    string
	expiresAt time.Time
}

type occupancy struct {
	max     int
	holders map[string]bool
}

// Manager is the shared coordination point across all agents. Safe for
// concurrent use.
type Manager struct {
	*core.LoggerAdapter

	clock core.Clock
	ttl   time.Duration

	mu           sync.Mutex
	tiles        map[core.Point]reservation
	locations    map[string]*occupancy
	interactions map[string]string // target id -> holder id
	heldTargets  map[string]string // holder id -> target id
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock substitutes the time source (tests use a manual clock).
func WithClock(c core.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTTL overrides the default reservation time-to-live.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.LoggerAdapter = core.NewLoggerAdapter(l) }
}

// New creates an empty coordination manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		LoggerAdapter: core.NewLoggerAdapter(nil),
		clock:         core.SystemClock(),
		ttl:           DefaultReservationTTL,
		tiles:         make(map[core.Point]reservation),
		locations:     make(map[string]*occupancy),
		interactions:  make(map[string]string),
		heldTargets:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReserveTile claims exclusive use of one tile for the configured TTL. A live
// conflicting claim by another agent yields ErrReserved. Re-reserving an own
// tile renews the TTL.
func (m *Manager) ReserveTile(pos core.Point, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if r, ok := m.tiles[pos]; ok && r.holder != agentID && now.Before(r.expiresAt) {
		return ErrReserved
	}
	m.tiles[pos] = reservation{holder: agentID, expiresAt: now.Add(m.ttl)}
	return nil
}

// ReleaseTile drops the agent's reservation, if it still holds one.
func (m *Manager) ReleaseTile(pos core.Point, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.tiles[pos]; ok && r.holder == agentID {
		delete(m.tiles, pos)
	}
}

// TileHolder reports the current live holder of a tile, if any.
func (m *Manager) TileHolder(pos core.Point) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tiles[pos]
	if !ok || m.clock.Now().After(r.expiresAt) {
		return "", false
	}
	return r.holder, true
}

// AcquireCapacity takes one occupancy slot at the location. Acquiring is
// idempotent per agent. Fails with ErrCapacityFull once usage == maxCapacity.
// maxCapacity <= 0 means unlimited.
func (m *Manager) AcquireCapacity(locationID, agentID string, maxCapacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ, ok := m.locations[locationID]
	if !ok {
		occ = &occupancy{max: maxCapacity, holders: make(map[string]bool)}
		m.locations[locationID] = occ
	}
	occ.max = maxCapacity
	if occ.holders[agentID] {
		return nil
	}
	if occ.max > 0 && len(occ.holders) >= occ.max {
		return ErrCapacityFull
	}
	occ.holders[agentID] = true
	return nil
}

// ReleaseCapacity returns the agent's occupancy slot at the location.
func (m *Manager) ReleaseCapacity(locationID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if occ, ok := m.locations[locationID]; ok {
		delete(occ.holders, agentID)
		if len(occ.holders) == 0 {
			delete(m.locations, locationID)
		}
	}
}

// CapacityUsage returns the current occupancy of a location.
func (m *Manager) CapacityUsage(locationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if occ, ok := m.locations[locationID]; ok {
		return len(occ.holders)
	}
	return 0
}

// LockInteraction claims an interaction target for an agent. Each agent may
// hold at most one target; each target admits at most one claimant.
func (m *Manager) LockInteraction(holderID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.heldTargets[holderID]; ok && held != targetID {
		return ErrHolderBusy
	}
	if owner, ok := m.interactions[targetID]; ok && owner != holderID {
		return ErrTargetLocked
	}
	m.interactions[targetID] = holderID
	m.heldTargets[holderID] = targetID
	return nil
}

// UnlockInteraction releases the agent's interaction claim, if any.
func (m *Manager) UnlockInteraction(holderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if target, ok := m.heldTargets[holderID]; ok {
		delete(m.heldTargets, holderID)
		if m.interactions[target] == holderID {
			delete(m.interactions, target)
		}
	}
}

// ReleaseAll drops every claim held by the agent: tiles, occupancy slots and
// interaction locks. Called when an activity session is interrupted or fails.
func (m *Manager) ReleaseAll(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pos, r := range m.tiles {
		if r.holder == agentID {
			delete(m.tiles, pos)
		}
	}
	for id, occ := range m.locations {
		delete(occ.holders, agentID)
		if len(occ.holders) == 0 {
			delete(m.locations, id)
		}
	}
	if target, ok := m.heldTargets[agentID]; ok {
		delete(m.heldTargets, agentID)
		if m.interactions[target] == agentID {
			delete(m.interactions, target)
		}
	}
}

// Sweep drops expired tile reservations. The orchestrator calls it once per
// tick; expiry is also checked lazily on every claim.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for pos, r := range m.tiles {
		if now.After(r.expiresAt) {
			delete(m.tiles, pos)
		}
	}
}
