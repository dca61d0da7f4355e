package roads

import (
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/seed"
)

type PlanConfig struct {
	ChunkSize         int
	RegionChunks      int
	Structures        int
	GateChancePercent int
	GateMargin        int
}

func (c PlanConfig) regionSize() int { return c.ChunkSize * c.RegionChunks }

// Plan holds a region's waypoints in region-local cell coordinates.
type Plan struct {
	Region    chunk.Region
	Waypoints []Waypoint
}

// PlanRegion places structure sites from the region's road stream and adds
// the border gates of every chunk in the region. Gates come from EdgeKey, so
// a chunk in the neighboring region computes the same crossing.
func PlanRegion(worldSeed uint64, r chunk.Region, cfg PlanConfig) Plan {
	p := Plan{Region: r}
	n := cfg.regionSize()
	if n <= 0 {
		return p
	}
	stream := seed.NewStream(seed.Derive(worldSeed, r.RX, r.RZ, seed.StageRoads))
	inset := cfg.GateMargin
	if 2*inset >= n {
		inset = 0
	}
	for i := 0; i < cfg.Structures; i++ {
		x := inset + stream.Intn(n-2*inset)
		z := inset + stream.Intn(n-2*inset)
		p.Waypoints = append(p.Waypoints, Waypoint{X: x, Z: z, Structure: true})
	}
	for _, c := range r.Chunks(cfg.RegionChunks) {
		ox := int(c.CX-r.RX*int32(cfg.RegionChunks)) * cfg.ChunkSize
		oz := int(c.CZ-r.RZ*int32(cfg.RegionChunks)) * cfg.ChunkSize
		for _, g := range ChunkGates(worldSeed, c, cfg) {
			g.X += ox
			g.Z += oz
			p.Waypoints = append(p.Waypoints, g)
		}
	}
	p.Waypoints = mergeWaypoints(p.Waypoints)
	return p
}

// ForChunk returns the plan's waypoints that fall inside c, in chunk-local
// coordinates.
func (p Plan) ForChunk(c chunk.Coord, cfg PlanConfig) []Waypoint {
	ox := int(c.CX-p.Region.RX*int32(cfg.RegionChunks)) * cfg.ChunkSize
	oz := int(c.CZ-p.Region.RZ*int32(cfg.RegionChunks)) * cfg.ChunkSize
	var out []Waypoint
	for _, wp := range p.Waypoints {
		x, z := wp.X-ox, wp.Z-oz
		if x < 0 || z < 0 || x >= cfg.ChunkSize || z >= cfg.ChunkSize {
			continue
		}
		wp.X, wp.Z = x, z
		out = append(out, wp)
	}
	return out
}

type side struct {
	dx, dz int32
}

var sides = [4]side{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// ChunkGates returns the border gates of chunk c in chunk-local coordinates.
// A gate sits on the boundary cell facing the neighbor, at an offset both
// chunks derive from their shared edge key.
func ChunkGates(worldSeed uint64, c chunk.Coord, cfg PlanConfig) []Waypoint {
	size := cfg.ChunkSize
	if size <= 0 {
		return nil
	}
	var out []Waypoint
	for _, s := range sides {
		key := seed.EdgeKey(worldSeed, c.CX, c.CZ, c.CX+s.dx, c.CZ+s.dz)
		if int(key%100) >= cfg.GateChancePercent {
			continue
		}
		off := gateOffset(key, size, cfg.GateMargin)
		var wp Waypoint
		switch {
		case s.dx > 0:
			wp = Waypoint{X: size - 1, Z: off}
		case s.dx < 0:
			wp = Waypoint{X: 0, Z: off}
		case s.dz > 0:
			wp = Waypoint{X: off, Z: size - 1}
		default:
			wp = Waypoint{X: off, Z: 0}
		}
		wp.Gate = true
		out = append(out, wp)
	}
	return out
}

func gateOffset(key uint64, size, margin int) int {
	span := size - 2*margin
	if span <= 0 {
		return size / 2
	}
	return margin + int((key>>8)%uint64(span))
}

// mergeWaypoints drops duplicate positions, keeping the union of flags, and
// sorts the result.
func mergeWaypoints(wps []Waypoint) []Waypoint {
	type pos struct{ x, z int }
	idx := make(map[pos]int, len(wps))
	out := make([]Waypoint, 0, len(wps))
	for _, wp := range wps {
		k := pos{wp.X, wp.Z}
		if i, ok := idx[k]; ok {
			out[i].Gate = out[i].Gate || wp.Gate
			out[i].Structure = out[i].Structure || wp.Structure
			continue
		}
		idx[k] = len(out)
		out = append(out, wp)
	}
	SortWaypoints(out)
	return out
}
