package core

import (
	"errors"
	"time"
)

// Location is one named place agents can act at.
type Location struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Position    Point    `json:"position" yaml:"position"`
	MaxCapacity int      `json:"max_capacity" yaml:"max_capacity"`
	Tags        []string `json:"tags" yaml:"tags"`
}

// HasTag reports whether the location carries the given tag.
func (l Location) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MovementPattern describes how an agent moves while performing an activity.
type MovementPattern string

const (
	// MovementNone holds position for the activity duration.
	MovementNone MovementPattern = "none"
	// MovementPace walks back and forth along a short line.
	MovementPace MovementPattern = "pace"
	// MovementPatrol cycles the perimeter tiles around the location.
	MovementPatrol MovementPattern = "patrol"
	// MovementWander takes random adjacent steps near the location.
	MovementWander MovementPattern = "wander"
)

// ActivityDef is a canonical activity definition resolved from the catalog.
type ActivityDef struct {
	CanonicalName string          `json:"canonical_name" yaml:"name"`
	RequiredTags  []string        `json:"required_tags" yaml:"required_tags"`
	PreferredTags []string        `json:"preferred_tags,omitempty" yaml:"preferred_tags,omitempty"`
	Duration      time.Duration   `json:"duration" yaml:"duration"`
	Pattern       MovementPattern `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// ErrUnknownActivity is returned when neither a canonical name nor an alias
// matches the requested activity.
var ErrUnknownActivity = errors.New("unknown activity")

// ErrAmbiguousActivity is returned when an alias maps to more than one
// canonical activity. Ambiguity is a data-quality error in the catalog
// content, never silently resolved.
var ErrAmbiguousActivity = errors.New("ambiguous activity alias")

// ActivityCatalog resolves activity names and aliases to canonical
// definitions. Implementations are read-only after construction.
type ActivityCatalog interface {
	Resolve(nameOrAlias string) (ActivityDef, error)
}

// LocationRegistry answers tag queries over the town's locations.
// Implementations are read-only after construction.
type LocationRegistry interface {
	// Lookup returns every location carrying all of the given tags.
	Lookup(tags []string) []Location

	// Get returns a location by id.
	Get(id string) (Location, bool)
}
