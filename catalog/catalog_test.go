package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwick/townmind/core"
)

func testCatalog(t *testing.T) *ActivityCatalog {
	t.Helper()
	c, err := NewActivityCatalog([]ActivityEntry{
		{Name: "Bake Bread", Aliases: []string{"baking", "make bread"}, RequiredTags: []string{"bakery"}, Duration: "2h"},
		{Name: "Patrol Streets", Aliases: []string{"rounds"}, RequiredTags: []string{"street"}, Duration: "1h", Pattern: "patrol"},
		{Name: "Guard Duty", Aliases: []string{"rounds"}, RequiredTags: []string{"gate"}, Duration: "4h"},
	})
	require.NoError(t, err)
	return c
}

func TestResolveCanonical(t *testing.T) {
	c := testCatalog(t)

	def, err := c.Resolve("bake bread")
	require.NoError(t, err)
	assert.Equal(t, "Bake Bread", def.CanonicalName)
	assert.Equal(t, 2*time.Hour, def.Duration)
	assert.Equal(t, core.MovementNone, def.Pattern)

	// Case and whitespace insensitive.
	def, err = c.Resolve("  BAKE   Bread ")
	require.NoError(t, err)
	assert.Equal(t, "Bake Bread", def.CanonicalName)
}

func TestResolveAlias(t *testing.T) {
	c := testCatalog(t)
	def, err := c.Resolve("baking")
	require.NoError(t, err)
	assert.Equal(t, "Bake Bread", def.CanonicalName)
}

func TestResolveAmbiguousAlias(t *testing.T) {
	c := testCatalog(t)
	_, err := c.Resolve("rounds")
	assert.ErrorIs(t, err, core.ErrAmbiguousActivity)
}

func TestResolveUnknown(t *testing.T) {
	c := testCatalog(t)
	_, err := c.Resolve("interpretive dance")
	assert.ErrorIs(t, err, core.ErrUnknownActivity)
}

func TestNewActivityCatalogRejectsBadData(t *testing.T) {
	_, err := NewActivityCatalog([]ActivityEntry{{Name: ""}})
	assert.Error(t, err)

	_, err = NewActivityCatalog([]ActivityEntry{{Name: "a"}, {Name: "A"}})
	assert.Error(t, err, "duplicate after normalization")

	_, err = NewActivityCatalog([]ActivityEntry{{Name: "a", Duration: "two hours"}})
	assert.Error(t, err)
}

func TestLoadActivitiesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activities.yaml")
	content := `activities:
  - name: Bake Bread
    aliases: [baking]
    required_tags: [bakery]
    preferred_tags: [indoor]
    duration: 90m
    pattern: none
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadActivities(path)
	require.NoError(t, err)
	def, err := c.Resolve("baking")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, def.Duration)
	assert.Equal(t, []string{"indoor"}, def.PreferredTags)
}

func TestLocationRegistryLookup(t *testing.T) {
	r, err := NewLocationRegistry([]core.Location{
		{ID: "bakery", Tags: []string{"bakery", "indoor"}},
		{ID: "tavern", Tags: []string{"indoor", "social"}},
		{ID: "square", Tags: []string{"outdoor", "social"}},
	})
	require.NoError(t, err)

	social := r.Lookup([]string{"social"})
	require.Len(t, social, 2)
	// Sorted by id for determinism.
	assert.Equal(t, "square", social[0].ID)
	assert.Equal(t, "tavern", social[1].ID)

	assert.Empty(t, r.Lookup([]string{"social", "bakery"}))
	assert.Len(t, r.Lookup(nil), 3)

	loc, ok := r.Get("bakery")
	require.True(t, ok)
	assert.Equal(t, "bakery", loc.ID)
	_, ok = r.Get("nowhere")
	assert.False(t, ok)
}

func TestLocationRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewLocationRegistry([]core.Location{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)
}
