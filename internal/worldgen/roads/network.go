// Package roads synthesizes connected road networks on terrain grids.
package roads

import (
	"log"
	"math"
	"sort"

	"tileworld.ai/internal/worldgen/mathx"
	"tileworld.ai/internal/worldgen/pathfind"
	"tileworld.ai/internal/worldgen/terrain"
)

type Waypoint struct {
	X         int  `json:"x"`
	Z         int  `json:"z"`
	Gate      bool `json:"gate,omitempty"`
	Structure bool `json:"structure,omitempty"`
}

func (w Waypoint) Point() pathfind.Point { return pathfind.Point{X: w.X, Z: w.Z} }

// Edge joins two waypoints by index.
type Edge struct {
	A, B   int
	Weight int
}

type Options struct {
	// Width is the painted road width; cells within Chebyshev distance
	// (Width-1)/2 of the path are paved, so even widths round down.
	Width            int
	AllowSlope       bool
	AllowWater       bool
	MaxGradePerCellM float64
	Policy           pathfind.Policy
}

// Repair records an MST edge that fell back to a straight corridor.
type Repair struct {
	From Waypoint
	To   Waypoint
}

type Result struct {
	Edges    []Edge
	Paths    [][]pathfind.Point
	Repairs  []Repair
	Painted  int
	Adjusted int
}

// RoadPolicy masks opt.Policy with the allow flags. Obstacle, void and wall
// are never walkable for roads.
func RoadPolicy(opt Options) pathfind.Policy {
	p := opt.Policy
	inf := math.Inf(1)
	p.Cost[terrain.Obstacle] = inf
	p.Cost[terrain.Void] = inf
	p.Cost[terrain.Wall] = inf
	if !opt.AllowSlope {
		p.Cost[terrain.Slope] = inf
	}
	if !opt.AllowWater {
		p.Cost[terrain.Water] = inf
	}
	return p
}

// MinimumSpanningTree connects waypoints with Prim's algorithm over Manhattan
// distance. Ties go to the lower index so the tree is stable.
func MinimumSpanningTree(wps []Waypoint) []Edge {
	n := len(wps)
	if n < 2 {
		return nil
	}
	inTree := make([]bool, n)
	best := make([]int, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.MaxInt
		from[i] = -1
	}
	best[0] = 0
	edges := make([]Edge, 0, n-1)
	for iter := 0; iter < n; iter++ {
		u := -1
		for i := 0; i < n; i++ {
			if !inTree[i] && (u < 0 || best[i] < best[u]) {
				u = i
			}
		}
		inTree[u] = true
		if from[u] >= 0 {
			edges = append(edges, Edge{A: from[u], B: u, Weight: best[u]})
		}
		for v := 0; v < n; v++ {
			if inTree[v] {
				continue
			}
			d := mathx.Manhattan(wps[u].X, wps[u].Z, wps[v].X, wps[v].Z)
			if d < best[v] {
				best[v] = d
				from[v] = u
			}
		}
	}
	return edges
}

// Synthesize builds a road network over waypoints, writing road kinds and
// ramp grades into kinds/elev (both w*h row-major) in place.
//
// Fewer than two waypoints is a no-op. A failed search never surfaces as an
// error: the edge is carved as a straight corridor instead, regardless of the
// terrain underneath, and reported in Result.Repairs.
func Synthesize(kinds []terrain.Kind, elev []float32, w, h int, wps []Waypoint, opt Options, logger *log.Logger) Result {
	var res Result
	wps = inBounds(wps, w, h)
	if len(wps) < 2 {
		return res
	}
	grid := pathfind.Grid{W: w, H: h, Kinds: kinds, Elevation: elev}
	policy := RoadPolicy(opt)
	res.Edges = MinimumSpanningTree(wps)

	// Search against the unpainted terrain so every edge sees the same costs.
	for _, e := range res.Edges {
		a, b := wps[e.A], wps[e.B]
		path, ok := pathfind.Find(grid, policy, a.Point(), b.Point())
		if ok {
			res.Paths = append(res.Paths, path)
			continue
		}
		res.Repairs = append(res.Repairs, Repair{From: a, To: b})
		if logger != nil {
			logger.Printf("roads: no path (%d,%d)->(%d,%d); carving straight corridor", a.X, a.Z, b.X, b.Z)
		}
	}

	radius := (opt.Width - 1) / 2
	if radius < 0 {
		radius = 0
	}
	for _, path := range res.Paths {
		res.Painted += paintPath(kinds, w, h, path, radius, opt)
	}
	var corridors [][]pathfind.Point
	for _, r := range res.Repairs {
		line := Corridor(r.From.Point(), r.To.Point())
		corridors = append(corridors, line)
		res.Painted += carve(kinds, w, h, line, radius)
	}
	for _, wp := range wps {
		i := wp.X + wp.Z*w
		if kinds[i] != terrain.Road {
			kinds[i] = terrain.Road
			res.Painted++
		}
	}

	if opt.MaxGradePerCellM > 0 && elev != nil {
		for _, path := range res.Paths {
			res.Adjusted += carveRamp(kinds, elev, w, h, path, radius, opt.MaxGradePerCellM)
		}
		for _, line := range corridors {
			res.Adjusted += carveRamp(kinds, elev, w, h, line, radius, opt.MaxGradePerCellM)
		}
	}
	return res
}

// Paintable reports whether a road may be painted over kind k.
func Paintable(k terrain.Kind, opt Options) bool {
	switch k {
	case terrain.Ground, terrain.Road:
		return true
	case terrain.Slope:
		return opt.AllowSlope
	case terrain.Water:
		return opt.AllowWater
	case terrain.Obstacle, terrain.Void, terrain.Wall:
		return false
	}
	return false
}

func paintPath(kinds []terrain.Kind, w, h int, path []pathfind.Point, radius int, opt Options) int {
	n := 0
	forEachCross(w, h, path, radius, func(i int) {
		if kinds[i] == terrain.Road || !Paintable(kinds[i], opt) {
			return
		}
		kinds[i] = terrain.Road
		n++
	})
	return n
}

func carve(kinds []terrain.Kind, w, h int, line []pathfind.Point, radius int) int {
	n := 0
	forEachCross(w, h, line, radius, func(i int) {
		if kinds[i] != terrain.Road {
			kinds[i] = terrain.Road
			n++
		}
	})
	return n
}

// forEachCross visits every in-bounds cell within Chebyshev radius of a path
// cell, each at most once.
func forEachCross(w, h int, path []pathfind.Point, radius int, fn func(i int)) {
	seen := make(map[int]struct{}, len(path)*(2*radius+1))
	for _, c := range path {
		for dz := -radius; dz <= radius; dz++ {
			for dx := -radius; dx <= radius; dx++ {
				x, z := c.X+dx, c.Z+dz
				if x < 0 || z < 0 || x >= w || z >= h {
					continue
				}
				i := x + z*w
				if _, ok := seen[i]; ok {
					continue
				}
				seen[i] = struct{}{}
				fn(i)
			}
		}
	}
}

// carveRamp limits the grade between consecutive path cells. The clamped
// height is written only into road cells of the cross-section; the reference
// still advances through non-road cells so the grade stays continuous.
func carveRamp(kinds []terrain.Kind, elev []float32, w, h int, path []pathfind.Point, radius int, maxGrade float64) int {
	if len(path) < 2 {
		return 0
	}
	adjusted := 0
	ref := float64(elev[path[0].X+path[0].Z*w])
	for _, c := range path[1:] {
		natural := float64(elev[c.X+c.Z*w])
		d := natural - ref
		if math.Abs(d) <= maxGrade {
			ref = natural
			continue
		}
		if d > 0 {
			ref += maxGrade
		} else {
			ref -= maxGrade
		}
		v := float32(ref)
		for dz := -radius; dz <= radius; dz++ {
			for dx := -radius; dx <= radius; dx++ {
				x, z := c.X+dx, c.Z+dz
				if x < 0 || z < 0 || x >= w || z >= h {
					continue
				}
				i := x + z*w
				if kinds[i] != terrain.Road || elev[i] == v {
					continue
				}
				elev[i] = v
				adjusted++
			}
		}
	}
	return adjusted
}

// Corridor returns a 4-connected Bresenham line from a to b inclusive. When
// the line steps diagonally the intermediate orthogonal cell is included, so
// the corridor has no corner-only contacts.
func Corridor(a, b pathfind.Point) []pathfind.Point {
	dx := mathx.AbsInt(b.X - a.X)
	dz := -mathx.AbsInt(b.Z - a.Z)
	sx, sz := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Z > b.Z {
		sz = -1
	}
	err := dx + dz
	x, z := a.X, a.Z
	out := []pathfind.Point{{X: x, Z: z}}
	for x != b.X || z != b.Z {
		e2 := 2 * err
		stepX := e2 >= dz
		stepZ := e2 <= dx
		if stepX && stepZ {
			// Diagonal: pass through the x-neighbor first.
			err += dz
			x += sx
			out = append(out, pathfind.Point{X: x, Z: z})
			err += dx
			z += sz
			out = append(out, pathfind.Point{X: x, Z: z})
			continue
		}
		if stepX {
			err += dz
			x += sx
		} else {
			err += dx
			z += sz
		}
		out = append(out, pathfind.Point{X: x, Z: z})
	}
	return out
}

func inBounds(wps []Waypoint, w, h int) []Waypoint {
	out := make([]Waypoint, 0, len(wps))
	for _, wp := range wps {
		if wp.X >= 0 && wp.Z >= 0 && wp.X < w && wp.Z < h {
			out = append(out, wp)
		}
	}
	return out
}

// SortWaypoints orders waypoints by position so plans built from maps or
// concurrent producers feed the MST in a stable order.
func SortWaypoints(wps []Waypoint) {
	sort.SliceStable(wps, func(i, j int) bool {
		if wps[i].Z != wps[j].Z {
			return wps[i].Z < wps[j].Z
		}
		return wps[i].X < wps[j].X
	})
}
