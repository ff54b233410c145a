package orchestrator

import (
	"sync"
	"time"

	"github.com/ashwick/townmind/core"
)

// DefaultSimSecondsPerTick is how much simulated time one tick covers.
const DefaultSimSecondsPerTick = 60

// SimClock is the simulated time source shared by every component. It only
// moves when the orchestrator advances it, so a tick sees one consistent
// simulated instant no matter how long its real work takes.
type SimClock struct {
	mu      sync.RWMutex
	current time.Time
	perTick time.Duration
}

// NewSimClock starts simulated time at start, advancing by
// simSecondsPerTick each tick. Zero or negative rates fall back to the
// default.
func NewSimClock(start time.Time, simSecondsPerTick int) *SimClock {
	if simSecondsPerTick <= 0 {
		simSecondsPerTick = DefaultSimSecondsPerTick
	}
	return &SimClock{
		current: start.UTC(),
		perTick: time.Duration(simSecondsPerTick) * time.Second,
	}
}

// Now implements core.Clock.
func (c *SimClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Advance moves simulated time forward by one tick and returns the new time.
func (c *SimClock) Advance() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.perTick)
	return c.current
}

// DayMinute returns the current simulated minute of the day.
func (c *SimClock) DayMinute() core.DayMinute {
	now := c.Now()
	return core.DayMinute(now.Hour()*60 + now.Minute())
}

var _ core.Clock = (*SimClock)(nil)
