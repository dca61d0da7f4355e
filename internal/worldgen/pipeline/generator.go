// Package pipeline turns a preset and a world seed into raw and detailed
// chunks, writes them through a chunk store and serves them on demand.
package pipeline

import (
	"fmt"
	"log"

	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/worldgen/biome"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/elevation"
	"tileworld.ai/internal/worldgen/noise"
	"tileworld.ai/internal/worldgen/pathfind"
	"tileworld.ai/internal/worldgen/roads"
	"tileworld.ai/internal/worldgen/seed"
	"tileworld.ai/internal/worldgen/terrain"
)

// Generator is pure: every method depends only on the preset, the world seed
// and its arguments.
type Generator struct {
	p         preset.Preset
	worldSeed uint64
	elev      *elevation.Generator
	temp      noise.Sampler
	moist     noise.Sampler
	slope     terrain.SlopeOptions
	plan      roads.PlanConfig
	road      roads.Options
}

func NewGenerator(p preset.Preset, worldSeed uint64) (*Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	bands := make([]elevation.Band, 0, len(p.Elevation.Terrace.Bands))
	for _, b := range p.Elevation.Terrace.Bands {
		bands = append(bands, elevation.Band{MaxNoise: b.MaxNoise, StepM: b.StepM})
	}
	elev, err := elevation.New(elevation.Config{
		MaxHeightM:    p.Elevation.MaxHeightM,
		ShapeExponent: p.Elevation.ShapeExponent,
		SmoothPasses:  p.Elevation.SmoothPasses,
		Margin:        p.Margin,
		Noise:         p.Elevation.Noise.Params(),
		TerraceStepM:  p.Elevation.Terrace.StepM,
		Bands:         bands,
		BandNoise:     p.Elevation.Terrace.BandNoise.Params(),
	}, worldSeed)
	if err != nil {
		return nil, err
	}
	temp, err := noise.New(p.Biomes.Temperature.Params(), seed.World(worldSeed, seed.StageTemperature))
	if err != nil {
		return nil, fmt.Errorf("temperature noise: %w", err)
	}
	moist, err := noise.New(p.Biomes.Moisture.Params(), seed.World(worldSeed, seed.StageMoisture))
	if err != nil {
		return nil, fmt.Errorf("moisture noise: %w", err)
	}
	return &Generator{
		p:         p,
		worldSeed: worldSeed,
		elev:      elev,
		temp:      temp,
		moist:     moist,
		slope: terrain.SlopeOptions{
			Threshold:        p.Classify.SlopeThresholdM,
			Diagonal:         p.Classify.SlopeDiagonal,
			Dilation:         p.Classify.SlopeDilation,
			IgnoreWaterEdges: p.Classify.IgnoreWaterEdges,
		},
		plan: roads.PlanConfig{
			ChunkSize:         p.ChunkSize,
			RegionChunks:      p.RegionChunks,
			Structures:        p.Roads.StructuresPerRegion,
			GateChancePercent: p.Roads.GateChancePercent,
			GateMargin:        p.Roads.GateMargin,
		},
		road: roads.Options{
			Width:            p.Roads.Width,
			AllowSlope:       p.Roads.AllowSlope,
			AllowWater:       p.Roads.AllowWater,
			MaxGradePerCellM: p.Roads.MaxGradePerCellM,
			Policy: pathfind.Policy{
				Diagonal:          p.Roads.Diagonal,
				Cost:              p.Roads.KindCosts(),
				SlopeCostPerMeter: p.Roads.SlopeCostPerM,
				CornerCut:         p.Roads.CornerCut,
			},
		},
	}, nil
}

func (g *Generator) Preset() preset.Preset { return g.p }
func (g *Generator) Seed() uint64          { return g.worldSeed }
func (g *Generator) ChunkSize() int        { return g.p.ChunkSize }

// Raw builds elevation and classification for one chunk. Classification runs
// on a window one cell plus the slope dilation wider than the chunk so slope
// bands along the border match the neighbor's. Heights are snapped to the
// height quantum so a raw chunk equals its stored form.
func (g *Generator) Raw(c chunk.Coord) *chunk.Chunk {
	size := g.p.ChunkSize
	ext := 1 + g.slope.Dilation
	ww := size + 2*ext
	x0 := int(c.CX)*size - ext
	z0 := int(c.CZ)*size - ext
	elev := g.elev.Window(x0, z0, ww, ww)
	kinds := terrain.Classify(elev, g.p.Classify.SeaLevelM, g.p.Classify.MountainLevelM)
	terrain.MarkSlopes(kinds, elev, ww, ww, g.slope)

	out := chunk.New(c, size)
	out.Phase = chunk.PhaseRaw
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			i := (x + ext) + (z+ext)*ww
			out.Set(x, z, kinds[i], elev[i])
		}
	}
	out.SnapHeights(g.p.Export.HeightQuantumM)
	return out
}

// Plan returns the road plan of region r.
func (g *Generator) Plan(r chunk.Region) roads.Plan {
	return roads.PlanRegion(g.worldSeed, r, g.plan)
}

// RegionResult summarizes one detailing pass. Road coordinates are
// region-local.
type RegionResult struct {
	Region      chunk.Region
	Waypoints   int
	Synthesized int // chunks whose plan slice ran road synthesis
	Roads       roads.Result
}

// Detail lays roads over a region and assigns biomes. raw must hold every
// chunk of the region in raw phase; chunks are rewritten in place. The road
// plan is computed once for the region and sliced per chunk; a chunk with an
// empty slice keeps its raw terrain. Neighbors agree on the border gates, so
// roads continue across chunk edges.
func (g *Generator) Detail(r chunk.Region, raw map[chunk.Coord]*chunk.Chunk, logger *log.Logger) (RegionResult, error) {
	n := g.p.RegionChunks
	size := g.p.ChunkSize
	coords := r.Chunks(n)
	for _, c := range coords {
		ch, ok := raw[c]
		if !ok {
			return RegionResult{}, fmt.Errorf("%w: %s", ErrMissingRaw, c)
		}
		if ch.Size != size {
			return RegionResult{}, fmt.Errorf("chunk %s has size %d, preset says %d", c, ch.Size, size)
		}
	}

	plan := g.Plan(r)
	out := RegionResult{Region: r, Waypoints: len(plan.Waypoints)}
	for _, c := range coords {
		ch := raw[c]
		if wps := plan.ForChunk(c, g.plan); len(wps) > 0 {
			res := roads.Synthesize(ch.Kinds, ch.Elevation, size, size, wps, g.road, logger)
			ox := int(c.CX-r.RX*int32(n)) * size
			oz := int(c.CZ-r.RZ*int32(n)) * size
			out.addChunk(res, ox, oz)
		}
		ch.Biome = g.Biome(c).String()
		ch.Phase = chunk.PhaseDetailed
	}
	return out, nil
}

// addChunk folds one chunk's synthesis into the region totals, shifting
// chunk-local coordinates by (ox, oz).
func (rr *RegionResult) addChunk(res roads.Result, ox, oz int) {
	rr.Synthesized++
	// Edge endpoints index the chunk's own waypoint slice.
	rr.Roads.Edges = append(rr.Roads.Edges, res.Edges...)
	for _, path := range res.Paths {
		shifted := make([]pathfind.Point, len(path))
		for i, pt := range path {
			shifted[i] = pathfind.Point{X: pt.X + ox, Z: pt.Z + oz}
		}
		rr.Roads.Paths = append(rr.Roads.Paths, shifted)
	}
	for _, rep := range res.Repairs {
		rep.From.X += ox
		rep.From.Z += oz
		rep.To.X += ox
		rep.To.Z += oz
		rr.Roads.Repairs = append(rr.Roads.Repairs, rep)
	}
	rr.Roads.Painted += res.Painted
	rr.Roads.Adjusted += res.Adjusted
}

// Region generates region r from scratch, raw and detailed, without touching
// any store.
func (g *Generator) Region(r chunk.Region, logger *log.Logger) (map[chunk.Coord]*chunk.Chunk, RegionResult, error) {
	coords := r.Chunks(g.p.RegionChunks)
	out := make(map[chunk.Coord]*chunk.Chunk, len(coords))
	for _, c := range coords {
		out[c] = g.Raw(c)
	}
	res, err := g.Detail(r, out, logger)
	return out, res, err
}

// Biome scores the climate at the chunk centre.
func (g *Generator) Biome(c chunk.Coord) biome.Biome {
	size := g.p.ChunkSize
	cx := float64(int(c.CX)*size + size/2)
	cz := float64(int(c.CZ)*size + size/2)
	return biome.Classify(g.temp.Sample(cx, cz), g.moist.Sample(cx, cz))
}
