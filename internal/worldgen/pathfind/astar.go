// Package pathfind implements a policy-driven A* over 2D terrain grids. It is
// used both for carving roads and for agent navigation.
package pathfind

import (
	"container/heap"
	"math"

	"tileworld.ai/internal/worldgen/mathx"
	"tileworld.ai/internal/worldgen/terrain"
)

type Point struct {
	X int
	Z int
}

// Grid is a read-only view over row-major kind and elevation layers.
// Elevation may be nil, in which case slope penalties are zero.
type Grid struct {
	W         int
	H         int
	Kinds     []terrain.Kind
	Elevation []float32
}

func (g Grid) InBounds(p Point) bool {
	return p.X >= 0 && p.Z >= 0 && p.X < g.W && p.Z < g.H
}

func (g Grid) idx(p Point) int { return p.X + p.Z*g.W }

// Heuristic estimates the remaining cost between two cells. It must never
// overestimate for the policy it is used with.
type Heuristic func(a, b Point) float64

type Policy struct {
	Diagonal bool
	// Cost is the traversal factor per target kind; +Inf makes a kind impassable.
	Cost              [terrain.NumKinds]float64
	SlopeCostPerMeter float64
	CornerCut         bool
	// Heuristic overrides the default (min finite cost times Manhattan or octile distance).
	Heuristic Heuristic
}

// Walkable reports whether a move into kind k is allowed.
func (p Policy) Walkable(k terrain.Kind) bool {
	if !k.Valid() {
		return false
	}
	return !math.IsInf(p.Cost[k], 1)
}

func (p Policy) minCost() float64 {
	m := math.Inf(1)
	for _, c := range p.Cost {
		if c < m {
			m = c
		}
	}
	if math.IsInf(m, 1) {
		return 0
	}
	return m
}

func (p Policy) heuristic() Heuristic {
	if p.Heuristic != nil {
		return p.Heuristic
	}
	scale := p.minCost()
	if p.Diagonal {
		return func(a, b Point) float64 { return scale * mathx.Octile(a.X, a.Z, b.X, b.Z) }
	}
	return func(a, b Point) float64 { return scale * float64(mathx.Manhattan(a.X, a.Z, b.X, b.Z)) }
}

// Fixed neighbor order keeps results identical across runs.
var (
	orthogonal = []Point{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}
	diagonal   = []Point{{X: 1, Z: 1}, {X: -1, Z: 1}, {X: 1, Z: -1}, {X: -1, Z: -1}}
)

// StepCost returns the cost of moving from a to its neighbor b, or +Inf when
// the move is not allowed.
func (p Policy) StepCost(g Grid, a, b Point) float64 {
	if !g.InBounds(b) {
		return math.Inf(1)
	}
	k := g.Kinds[g.idx(b)]
	if !p.Walkable(k) {
		return math.Inf(1)
	}
	dx, dz := b.X-a.X, b.Z-a.Z
	base := 1.0
	if dx != 0 && dz != 0 {
		if !p.CornerCut {
			if !p.Walkable(g.Kinds[g.idx(Point{X: a.X + dx, Z: a.Z})]) ||
				!p.Walkable(g.Kinds[g.idx(Point{X: a.X, Z: a.Z + dz})]) {
				return math.Inf(1)
			}
		}
		base = math.Sqrt2
	}
	cost := base * p.Cost[k]
	if p.SlopeCostPerMeter > 0 && g.Elevation != nil {
		d := float64(g.Elevation[g.idx(b)]) - float64(g.Elevation[g.idx(a)])
		cost += p.SlopeCostPerMeter * math.Abs(d)
	}
	return cost
}

type node struct {
	idx   int
	f     float64
	h     float64
	seq   int
	index int
}

type openSet []*node

func (o openSet) Len() int { return len(o) }
func (o openSet) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	if o[i].h != o[j].h {
		return o[i].h < o[j].h
	}
	return o[i].seq < o[j].seq
}
func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}
func (o *openSet) Push(x any) {
	n := x.(*node)
	n.index = len(*o)
	*o = append(*o, n)
}
func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*o = old[:len(old)-1]
	n.index = -1
	return n
}

// Find returns the cheapest path from start to goal inclusive, or (nil, false)
// when the open set empties first. The start cell's own kind is not checked.
func Find(g Grid, p Policy, start, goal Point) ([]Point, bool) {
	path, _, ok := FindWithCost(g, p, start, goal)
	return path, ok
}

// FindWithCost is Find plus the total path cost.
func FindWithCost(g Grid, p Policy, start, goal Point) ([]Point, float64, bool) {
	if !g.InBounds(start) || !g.InBounds(goal) || len(g.Kinds) != g.W*g.H {
		return nil, 0, false
	}
	if start == goal {
		return []Point{start}, 0, true
	}
	if !p.Walkable(g.Kinds[g.idx(goal)]) {
		return nil, 0, false
	}

	h := p.heuristic()
	n := g.W * g.H
	gScore := make([]float64, n)
	for i := range gScore {
		gScore[i] = math.Inf(1)
	}
	parent := make([]int32, n)
	for i := range parent {
		parent[i] = -1
	}
	closed := make([]bool, n)
	open := make([]*node, n)

	dirs := orthogonal
	if p.Diagonal {
		dirs = append(append([]Point{}, orthogonal...), diagonal...)
	}

	pq := &openSet{}
	seq := 0
	si := g.idx(start)
	gScore[si] = 0
	sh := h(start, goal)
	open[si] = &node{idx: si, f: sh, h: sh}
	heap.Push(pq, open[si])

	gi := g.idx(goal)
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*node)
		open[cur.idx] = nil
		if cur.idx == gi {
			return reconstruct(parent, g.W, gi), gScore[gi], true
		}
		closed[cur.idx] = true
		cp := Point{X: cur.idx % g.W, Z: cur.idx / g.W}
		for _, d := range dirs {
			np := Point{X: cp.X + d.X, Z: cp.Z + d.Z}
			if !g.InBounds(np) {
				continue
			}
			ni := g.idx(np)
			if closed[ni] {
				continue
			}
			step := p.StepCost(g, cp, np)
			if math.IsInf(step, 1) {
				continue
			}
			tentative := gScore[cur.idx] + step
			if tentative >= gScore[ni] {
				continue
			}
			gScore[ni] = tentative
			parent[ni] = int32(cur.idx)
			nh := h(np, goal)
			if o := open[ni]; o != nil {
				o.f = tentative + nh
				heap.Fix(pq, o.index)
				continue
			}
			seq++
			open[ni] = &node{idx: ni, f: tentative + nh, h: nh, seq: seq}
			heap.Push(pq, open[ni])
		}
	}
	return nil, 0, false
}

func reconstruct(parent []int32, w, goal int) []Point {
	var rev []Point
	for i := goal; i >= 0; i = int(parent[i]) {
		rev = append(rev, Point{X: i % w, Z: i / w})
	}
	out := make([]Point, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

// PathCost sums StepCost along a path.
func PathCost(g Grid, p Policy, path []Point) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += p.StepCost(g, path[i-1], path[i])
	}
	return total
}
