package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Point is a tile coordinate on the town grid.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Manhattan returns the L1 distance between two points.
func (p Point) Manhattan(o Point) int {
	return abs(p.X-o.X) + abs(p.Y-o.Y)
}

// String returns "(x,y)" for logs and reservation keys.
func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DayMinute is a simulated time of day expressed as minutes since midnight.
// Daily plans are keyed by DayMinute so a plan is independent of the calendar
// day it executes on.
type DayMinute int

// ParseDayMinute parses "HH:MM" (24h clock) into a DayMinute.
func ParseDayMinute(s string) (DayMinute, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return DayMinute(h*60 + m), nil
}

// String renders the minute as "HH:MM".
func (d DayMinute) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

// NewID generates a new unique identifier for records, plans, sessions and jobs.
func NewID() string { return uuid.NewString() }
