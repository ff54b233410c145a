package coord

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwick/townmind/core"
)

// manualClock is a settable time source for TTL tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)}
}

func TestReserveTileMutualExclusion(t *testing.T) {
	m := New(WithClock(newManualClock()))
	pos := core.Point{X: 3, Y: 4}

	require.NoError(t, m.ReserveTile(pos, "alice"))
	assert.ErrorIs(t, m.ReserveTile(pos, "bram"), ErrReserved)

	// Renewal by the holder is allowed.
	assert.NoError(t, m.ReserveTile(pos, "alice"))

	holder, ok := m.TileHolder(pos)
	require.True(t, ok)
	assert.Equal(t, "alice", holder)
}

func TestReserveTileExpiry(t *testing.T) {
	clock := newManualClock()
	m := New(WithClock(clock), WithTTL(5*time.Second))
	pos := core.Point{X: 1, Y: 1}

	require.NoError(t, m.ReserveTile(pos, "alice"))
	clock.Advance(6 * time.Second)

	// Expired reservations yield to new claimants without a sweep.
	assert.NoError(t, m.ReserveTile(pos, "bram"))
}

func TestReservationSpansSimTicks(t *testing.T) {
	// A simulated clock jumps a whole tick at a time, so exclusivity across
	// ticks needs a TTL scaled to the tick's simulated span.
	clock := newManualClock()
	m := New(WithClock(clock), WithTTL(2*time.Minute))
	pos := core.Point{X: 4, Y: 4}

	require.NoError(t, m.ReserveTile(pos, "alice"))
	clock.Advance(time.Minute)
	assert.ErrorIs(t, m.ReserveTile(pos, "bram"), ErrReserved)

	// Renewal each tick keeps the claim alive indefinitely.
	require.NoError(t, m.ReserveTile(pos, "alice"))
	clock.Advance(time.Minute)
	assert.ErrorIs(t, m.ReserveTile(pos, "bram"), ErrReserved)

	// Once the holder stops renewing, the claim lapses after two ticks.
	clock.Advance(2 * time.Minute)
	assert.NoError(t, m.ReserveTile(pos, "bram"))
}

func TestSweepDropsExpired(t *testing.T) {
	clock := newManualClock()
	m := New(WithClock(clock), WithTTL(5*time.Second))

	require.NoError(t, m.ReserveTile(core.Point{X: 0, Y: 0}, "alice"))
	clock.Advance(10 * time.Second)
	require.NoError(t, m.ReserveTile(core.Point{X: 1, Y: 0}, "alice"))

	m.Sweep()

	_, ok := m.TileHolder(core.Point{X: 0, Y: 0})
	assert.False(t, ok)
	_, ok = m.TileHolder(core.Point{X: 1, Y: 0})
	assert.True(t, ok)
}

func TestAcquireCapacity(t *testing.T) {
	m := New(WithClock(newManualClock()))

	require.NoError(t, m.AcquireCapacity("tavern", "alice", 2))
	require.NoError(t, m.AcquireCapacity("tavern", "bram", 2))
	assert.ErrorIs(t, m.AcquireCapacity("tavern", "cora", 2), ErrCapacityFull)

	// Idempotent per holder.
	assert.NoError(t, m.AcquireCapacity("tavern", "alice", 2))
	assert.Equal(t, 2, m.CapacityUsage("tavern"))

	m.ReleaseCapacity("tavern", "bram")
	assert.NoError(t, m.AcquireCapacity("tavern", "cora", 2))
}

func TestAcquireCapacityUnlimited(t *testing.T) {
	m := New()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, m.AcquireCapacity("square", id, 0))
	}
	assert.Equal(t, 5, m.CapacityUsage("square"))
}

func TestInteractionLocks(t *testing.T) {
	m := New()

	require.NoError(t, m.LockInteraction("alice", "player-1"))
	assert.ErrorIs(t, m.LockInteraction("bram", "player-1"), ErrTargetLocked)
	assert.ErrorIs(t, m.LockInteraction("alice", "player-2"), ErrHolderBusy)

	// Re-locking the same target is a no-op for the holder.
	assert.NoError(t, m.LockInteraction("alice", "player-1"))

	m.UnlockInteraction("alice")
	assert.NoError(t, m.LockInteraction("bram", "player-1"))
}

func TestReleaseAll(t *testing.T) {
	m := New(WithClock(newManualClock()))

	require.NoError(t, m.ReserveTile(core.Point{X: 2, Y: 2}, "alice"))
	require.NoError(t, m.AcquireCapacity("bakery", "alice", 1))
	require.NoError(t, m.LockInteraction("alice", "player-1"))

	m.ReleaseAll("alice")

	_, held := m.TileHolder(core.Point{X: 2, Y: 2})
	assert.False(t, held)
	assert.Zero(t, m.CapacityUsage("bakery"))
	assert.NoError(t, m.AcquireCapacity("bakery", "bram", 1))
	assert.NoError(t, m.LockInteraction("bram", "player-1"))
}

func TestConcurrentTileClaims(t *testing.T) {
	m := New()
	pos := core.Point{X: 7, Y: 7}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			if m.ReserveTile(pos, string('a'+id)) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(byte(i))
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
