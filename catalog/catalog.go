// Package catalog provides the read-only content catalogs the cognition core
// consumes: the activity catalog (canonical activity definitions plus an
// alias table) and the location registry. Both load from YAML files at
// startup and are injected into the components that need them; they are
// never ambient globals.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashwick/townmind/core"
)

type activityFile struct {
	Activities []ActivityEntry `yaml:"activities"`
}

// ActivityEntry is one activity definition as it appears in the catalog file.
type ActivityEntry struct {
	Name          string   `yaml:"name"`
	Aliases       []string `yaml:"aliases"`
	RequiredTags  []string `yaml:"required_tags"`
	PreferredTags []string `yaml:"preferred_tags"`
	Duration      string   `yaml:"duration"` // time.ParseDuration format
	Pattern       string   `yaml:"pattern"`
}

// ActivityCatalog maps activity names and aliases to canonical definitions.
// Lookup is case-insensitive. Aliases claimed by more than one activity are
// flagged at resolve time as a data-quality error instead of silently picking
// one.
type ActivityCatalog struct {
	defs      map[string]core.ActivityDef // canonical name -> def
	aliases   map[string]string           // alias -> canonical name
	ambiguous map[string]bool             // alias claimed by >1 activity
}

// LoadActivities reads an activity catalog YAML file.
func LoadActivities(path string) (*ActivityCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read activity catalog: %w", err)
	}
	var f activityFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse activity catalog: %w", err)
	}
	return NewActivityCatalog(f.Activities)
}

// NewActivityCatalog builds a catalog from parsed entries.
func NewActivityCatalog(entries []ActivityEntry) (*ActivityCatalog, error) {
	c := &ActivityCatalog{
		defs:      make(map[string]core.ActivityDef),
		aliases:   make(map[string]string),
		ambiguous: make(map[string]bool),
	}
	for _, e := range entries {
		name := normalize(e.Name)
		if name == "" {
			return nil, fmt.Errorf("activity with empty name")
		}
		if _, dup := c.defs[name]; dup {
			return nil, fmt.Errorf("duplicate activity %q", e.Name)
		}
		def := core.ActivityDef{
			CanonicalName: e.Name,
			RequiredTags:  e.RequiredTags,
			PreferredTags: e.PreferredTags,
			Pattern:       core.MovementNone,
		}
		if e.Duration != "" {
			d, err := time.ParseDuration(e.Duration)
			if err != nil {
				return nil, fmt.Errorf("activity %q: bad duration: %w", e.Name, err)
			}
			def.Duration = d
		}
		if e.Pattern != "" {
			def.Pattern = core.MovementPattern(e.Pattern)
		}
		c.defs[name] = def
		for _, a := range e.Aliases {
			alias := normalize(a)
			if prev, ok := c.aliases[alias]; ok && prev != name {
				c.ambiguous[alias] = true
				continue
			}
			c.aliases[alias] = name
		}
	}
	return c, nil
}

// Resolve implements core.ActivityCatalog.
func (c *ActivityCatalog) Resolve(nameOrAlias string) (core.ActivityDef, error) {
	key := normalize(nameOrAlias)
	if def, ok := c.defs[key]; ok {
		return def, nil
	}
	if c.ambiguous[key] {
		return core.ActivityDef{}, fmt.Errorf("%w: %q", core.ErrAmbiguousActivity, nameOrAlias)
	}
	if canonical, ok := c.aliases[key]; ok {
		return c.defs[canonical], nil
	}
	return core.ActivityDef{}, fmt.Errorf("%w: %q", core.ErrUnknownActivity, nameOrAlias)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

type locationFile struct {
	Locations []core.Location `yaml:"locations"`
}

// LocationRegistry answers tag queries over the town's locations. Lookup
// results are sorted by id for determinism.
type LocationRegistry struct {
	byID  map[string]core.Location
	order []string
}

// LoadLocations reads a location registry YAML file.
func LoadLocations(path string) (*LocationRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read location registry: %w", err)
	}
	var f locationFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse location registry: %w", err)
	}
	return NewLocationRegistry(f.Locations)
}

// NewLocationRegistry builds a registry from parsed locations.
func NewLocationRegistry(locations []core.Location) (*LocationRegistry, error) {
	r := &LocationRegistry{byID: make(map[string]core.Location)}
	for _, l := range locations {
		if l.ID == "" {
			return nil, fmt.Errorf("location with empty id")
		}
		if _, dup := r.byID[l.ID]; dup {
			return nil, fmt.Errorf("duplicate location %q", l.ID)
		}
		r.byID[l.ID] = l
		r.order = append(r.order, l.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// Lookup implements core.LocationRegistry: every location carrying all tags.
func (r *LocationRegistry) Lookup(tags []string) []core.Location {
	var out []core.Location
	for _, id := range r.order {
		l := r.byID[id]
		if hasAllTags(l, tags) {
			out = append(out, l)
		}
	}
	return out
}

// Get implements core.LocationRegistry.
func (r *LocationRegistry) Get(id string) (core.Location, bool) {
	l, ok := r.byID[id]
	return l, ok
}

func hasAllTags(l core.Location, tags []string) bool {
	for _, t := range tags {
		if !l.HasTag(t) {
			return false
		}
	}
	return true
}

// Compile-time interface assertions.
var (
	_ core.ActivityCatalog  = (*ActivityCatalog)(nil)
	_ core.LocationRegistry = (*LocationRegistry)(nil)
)
