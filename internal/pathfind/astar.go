// Package pathfind finds walkable routes across a world's tile grid.
package pathfind

import "container/heap"

// Point is a tile coordinate.
type Point struct {
	X, Y int
}

// Grid answers walkability for a bounded tile area.
type Grid interface {
	Size() (width, height int)
	Walkable(x, y int) bool
}

// MaxExpanded bounds how many nodes one search may expand.
const MaxExpanded = 1 << 16

var steps = [4]Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// Find returns the 4-connected path from start to goal, excluding start and
// including goal. ok is false when goal is unreachable or blocked. start
// itself need not be walkable.
func Find(g Grid, start, goal Point) (path []Point, ok bool) {
	w, h := g.Size()
	inside := func(p Point) bool { return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h }
	if !inside(start) || !inside(goal) || !g.Walkable(goal.X, goal.Y) {
		return nil, false
	}
	if start == goal {
		return nil, true
	}

	open := &nodeHeap{}
	heap.Push(open, &node{p: start, f: manhattan(start, goal)})
	cost := map[Point]int{start: 0}
	from := map[Point]Point{}
	closed := map[Point]bool{}

	for expanded := 0; open.Len() > 0 && expanded < MaxExpanded; expanded++ {
		cur := heap.Pop(open).(*node)
		if cur.p == goal {
			return rebuild(from, start, goal), true
		}
		if closed[cur.p] {
			continue
		}
		closed[cur.p] = true

		for _, d := range steps {
			next := Point{cur.p.X + d.X, cur.p.Y + d.Y}
			if !inside(next) || closed[next] || !g.Walkable(next.X, next.Y) {
				continue
			}
			c := cost[cur.p] + 1
			if old, seen := cost[next]; seen && c >= old {
				continue
			}
			cost[next] = c
			from[next] = cur.p
			heap.Push(open, &node{p: next, g: c, f: c + manhattan(next, goal)})
		}
	}
	return nil, false
}

func rebuild(from map[Point]Point, start, goal Point) []Point {
	var rev []Point
	for p := goal; p != start; p = from[p] {
		rev = append(rev, p)
	}
	out := make([]Point, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}

func manhattan(a, b Point) int {
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

type node struct {
	p    Point
	g, f int
}

type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].f == h[j].f {
		return h[i].g > h[j].g
	}
	return h[i].f < h[j].f
}
func (h nodeHeap) Swap(i, j int)  { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)    { *h = append(*h, x.(*node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}
