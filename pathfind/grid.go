package pathfind

import "github.com/ashwick/townmind/core"

// Grid exposes the walkability of the town's tile graph. Implementations
// must be safe for concurrent readers; the engine never mutates the grid.
type Grid interface {
	InBounds(p core.Point) bool
	Walkable(p core.Point) bool
}

// TileMap is a fixed-size Grid backed by a walkability matrix. Row-major,
// indexed [y][x]. The zero value is unusable; build via NewTileMap.
type TileMap struct {
	width, height int
	blocked       []bool
}

// NewTileMap creates a fully walkable width x height map.
func NewTileMap(width, height int) *TileMap {
	return &TileMap{width: width, height: height, blocked: make([]bool, width*height)}
}

// SetBlocked marks one tile as unwalkable (or walkable again).
func (m *TileMap) SetBlocked(p core.Point, blocked bool) {
	if m.InBounds(p) {
		m.blocked[p.Y*m.width+p.X] = blocked
	}
}

// InBounds implements Grid.
func (m *TileMap) InBounds(p core.Point) bool {
	return p.X >= 0 && p.X < m.width && p.Y >= 0 && p.Y < m.height
}

// Walkable implements Grid.
func (m *TileMap) Walkable(p core.Point) bool {
	return m.InBounds(p) && !m.blocked[p.Y*m.width+p.X]
}

// Width returns the map width in tiles.
func (m *TileMap) Width() int { return m.width }

// Height returns the map height in tiles.
func (m *TileMap) Height() int { return m.height }
