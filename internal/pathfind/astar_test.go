package pathfind

import (
	"strings"
	"testing"
)

// textGrid parses rows of '.' (open) and '#' (blocked).
type textGrid []string

func (g textGrid) Size() (int, int)       { return len(g[0]), len(g) }
func (g textGrid) Walkable(x, y int) bool { return g[y][x] != '#' }

func TestFind_AroundWall(t *testing.T) {
	g := textGrid{
		".....",
		".###.",
		"...#.",
		"...#.",
	}
	path, ok := Find(g, Point{0, 3}, Point{4, 3})
	if !ok {
		t.Fatal("no path")
	}
	if path[len(path)-1] != (Point{4, 3}) {
		t.Fatalf("path ends at %v", path[len(path)-1])
	}
	if len(path) != 10 {
		t.Fatalf("len=%d want 10: %v", len(path), path)
	}

	prev := Point{0, 3}
	for _, p := range path {
		if g[p.Y][p.X] == '#' {
			t.Fatalf("path crosses wall at %v", p)
		}
		if manhattan(prev, p) != 1 {
			t.Fatalf("jump from %v to %v", prev, p)
		}
		prev = p
	}
}

func TestFind_Unreachable(t *testing.T) {
	g := textGrid{
		"..#..",
		"..#..",
	}
	if _, ok := Find(g, Point{0, 0}, Point{4, 0}); ok {
		t.Fatal("found path through wall")
	}
	if _, ok := Find(g, Point{0, 0}, Point{2, 0}); ok {
		t.Fatal("blocked goal accepted")
	}
	if _, ok := Find(g, Point{0, 0}, Point{9, 9}); ok {
		t.Fatal("out of range goal accepted")
	}
}

func TestFind_SameTile(t *testing.T) {
	g := textGrid{strings.Repeat(".", 3)}
	path, ok := Find(g, Point{1, 0}, Point{1, 0})
	if !ok || len(path) != 0 {
		t.Fatalf("path=%v ok=%v", path, ok)
	}
}
