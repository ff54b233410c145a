// Package pathfind provides bounded A* search over the walkable tile graph.
// Search cost is capped by a node-expansion budget so a call always
// terminates; an unreachable or over-budget goal yields an empty path, not an
// error. Results are deterministic: equal-cost frontier entries pop in FIFO
// insertion order.
package pathfind

import (
	"container/heap"

	"github.com/ashwick/townmind/core"
)

// DefaultMaxExpansions bounds the search frontier for a town-scale grid.
const DefaultMaxExpansions = 10000

// Engine performs A* searches over a Grid.
type Engine struct {
	grid          Grid
	maxExpansions int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMaxExpansions overrides the node-expansion budget.
func WithMaxExpansions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxExpansions = n
		}
	}
}

// New creates a pathfinding engine over the given grid.
func New(grid Grid, opts ...Option) *Engine {
	e := &Engine{grid: grid, maxExpansions: DefaultMaxExpansions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type node struct {
	pos    core.Point
	gCost  int
	fCost  int
	seq    int // FIFO tie-break
	parent *node
	index  int
}

type frontier []*node

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].fCost != f[j].fCost {
		return f[i].fCost < f[j].fCost
	}
	return f[i].seq < f[j].seq
}

func (f frontier) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
	f[i].index = i
	f[j].index = j
}

func (f *frontier) Push(x any) {
	n := x.(*node)
	n.index = len(*f)
	*f = append(*f, n)
}

func (f *frontier) Pop() any {
	old := *f
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*f = old[:len(old)-1]
	return n
}

var neighborOffsets = [4]core.Point{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}}

// FindPath returns a walkable tile sequence from start to goal inclusive, or
// nil when no route exists within the expansion budget. Interior points
// collinear with their neighbors are removed from the result.
func (e *Engine) FindPath(start, goal core.Point) []core.Point {
	if !e.grid.Walkable(start) || !e.grid.Walkable(goal) {
		return nil
	}
	if start == goal {
		return []core.Point{start}
	}

	open := &frontier{}
	heap.Init(open)
	seq := 0
	startNode := &node{pos: start, fCost: start.Manhattan(goal)}
	heap.Push(open, startNode)

	best := map[core.Point]int{start: 0}
	closed := map[core.Point]bool{}
	expansions := 0

	for open.Len() > 0 {
		current := heap.Pop(open).(*node)
		if current.pos == goal {
			return smooth(reconstruct(current))
		}
		if closed[current.pos] {
			continue
		}
		closed[current.pos] = true

		expansions++
		if expansions > e.maxExpansions {
			return nil
		}

		for _, off := range neighborOffsets {
			next := core.Point{X: current.pos.X + off.X, Y: current.pos.Y + off.Y}
			if !e.grid.Walkable(next) || closed[next] {
				continue
			}
			g := current.gCost + 1
			if prev, seen := best[next]; seen && g >= prev {
				continue
			}
			best[next] = g
			seq++
			heap.Push(open, &node{
				pos:    next,
				gCost:  g,
				fCost:  g + next.Manhattan(goal),
				seq:    seq,
				parent: current,
			})
		}
	}
	return nil
}

func reconstruct(n *node) []core.Point {
	var rev []core.Point
	for ; n != nil; n = n.parent {
		rev = append(rev, n.pos)
	}
	path := make([]core.Point, len(rev))
	for i, p := range rev {
		path[len(rev)-1-i] = p
	}
	return path
}

// smooth drops interior waypoints collinear with both neighbors, keeping the
// endpoints intact.
func smooth(path []core.Point) []core.Point {
	if len(path) <= 2 {
		return path
	}
	out := make([]core.Point, 0, len(path))
	out = append(out, path[0])
	for i := 1; i < len(path)-1; i++ {
		prev, cur, next := out[len(out)-1], path[i], path[i+1]
		dx1, dy1 := cur.X-prev.X, cur.Y-prev.Y
		dx2, dy2 := next.X-cur.X, next.Y-cur.Y
		if dx1*dy2 == dy1*dx2 {
			continue
		}
		out = append(out, cur)
	}
	return append(out, path[len(path)-1])
}
