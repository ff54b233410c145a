package pathfind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwick/townmind/core"
)

func TestFindPathStraightLine(t *testing.T) {
	grid := NewTileMap(10, 10)
	engine := New(grid)

	path := engine.FindPath(core.Point{X: 0, Y: 0}, core.Point{X: 5, Y: 0})
	require.NotNil(t, path)
	// A straight run smooths down to its endpoints.
	assert.Equal(t, core.Point{X: 0, Y: 0}, path[0])
	assert.Equal(t, core.Point{X: 5, Y: 0}, path[len(path)-1])
	assert.Len(t, path, 2)
}

func TestFindPathAroundWall(t *testing.T) {
	grid := NewTileMap(10, 10)
	// Vertical wall at x=3 with a gap at y=9.
	for y := 0; y < 9; y++ {
		grid.SetBlocked(core.Point{X: 3, Y: y}, true)
	}
	engine := New(grid)

	path := engine.FindPath(core.Point{X: 0, Y: 0}, core.Point{X: 6, Y: 0})
	require.NotNil(t, path)
	assert.Equal(t, core.Point{X: 6, Y: 0}, path[len(path)-1])
	for _, p := range path {
		assert.True(t, grid.Walkable(p), "waypoint %v must be walkable", p)
	}
}

func TestFindPathUnreachable(t *testing.T) {
	grid := NewTileMap(10, 10)
	for y := 0; y < 10; y++ {
		grid.SetBlocked(core.Point{X: 3, Y: y}, true)
	}
	engine := New(grid)

	assert.Nil(t, engine.FindPath(core.Point{X: 0, Y: 0}, core.Point{X: 6, Y: 0}))
}

func TestFindPathSameTile(t *testing.T) {
	engine := New(NewTileMap(4, 4))
	path := engine.FindPath(core.Point{X: 2, Y: 2}, core.Point{X: 2, Y: 2})
	assert.Equal(t, []core.Point{{X: 2, Y: 2}}, path)
}

func TestFindPathBlockedEndpoints(t *testing.T) {
	grid := NewTileMap(4, 4)
	grid.SetBlocked(core.Point{X: 1, Y: 1}, true)
	engine := New(grid)

	assert.Nil(t, engine.FindPath(core.Point{X: 1, Y: 1}, core.Point{X: 3, Y: 3}))
	assert.Nil(t, engine.FindPath(core.Point{X: 0, Y: 0}, core.Point{X: 1, Y: 1}))
	assert.Nil(t, engine.FindPath(core.Point{X: 0, Y: 0}, core.Point{X: 9, Y: 9}), "out of bounds goal")
}

func TestFindPathNodeBudget(t *testing.T) {
	grid := NewTileMap(100, 100)
	engine := New(grid, WithMaxExpansions(10))

	// The budget is far too small for this distance; nil signals exhaustion.
	assert.Nil(t, engine.FindPath(core.Point{X: 0, Y: 0}, core.Point{X: 99, Y: 99}))
}

func TestSmoothDropsCollinearPoints(t *testing.T) {
	grid := NewTileMap(10, 10)
	engine := New(grid)

	// A detour route keeps only its corners after smoothing.
	grid.SetBlocked(core.Point{X: 1, Y: 0}, true)
	path := engine.FindPath(core.Point{X: 0, Y: 0}, core.Point{X: 3, Y: 0})
	require.NotNil(t, path)

	for i := 1; i < len(path); i++ {
		prev, cur := path[i-1], path[i]
		assert.True(t, prev.X == cur.X || prev.Y == cur.Y,
			"segment %v -> %v must be axis-aligned", prev, cur)
	}
	for i := 2; i < len(path); i++ {
		a, b, c := path[i-2], path[i-1], path[i]
		dx1, dy1 := b.X-a.X, b.Y-a.Y
		dx2, dy2 := c.X-b.X, c.Y-b.Y
		assert.NotEqual(t, 0, dx1*dy2-dy1*dx2,
			"three consecutive waypoints %v %v %v must not be collinear", a, b, c)
	}
}
