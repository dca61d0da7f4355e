package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/terrain"
)

func testPreset() preset.Preset {
	p := preset.Defaults()
	p.ChunkSize = 16
	p.RegionChunks = 2
	p.Roads.GateMargin = 2
	p.Roads.StructuresPerRegion = 3
	p.Elevation.Noise.Frequency = 0.03
	return p
}

func newTestPipeline(t *testing.T, dir string, worldSeed uint64, sink EventSink) *Pipeline {
	t.Helper()
	p := testPreset()
	gen, err := NewGenerator(p, worldSeed)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	store, err := chunkfile.Open(dir, chunkfile.Options{WorldID: "test", Seed: worldSeed, HeightQuantumM: p.Export.HeightQuantumM})
	if err != nil {
		t.Fatalf("chunkfile.Open: %v", err)
	}
	var buf bytes.Buffer
	return New(gen, store, Config{
		WorldID: "test",
		Workers: 3,
		Logger:  log.New(&buf, "", 0),
		Sink:    sink,
	})
}

func TestGenerator_RawDeterministic(t *testing.T) {
	a, err := NewGenerator(testPreset(), 42)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	b, _ := NewGenerator(testPreset(), 42)
	other, _ := NewGenerator(testPreset(), 43)
	c := chunk.Coord{CX: -3, CZ: 5}
	ra, rb := a.Raw(c), b.Raw(c)
	if ra.Digest(0.01) != rb.Digest(0.01) {
		t.Fatalf("same seed gave different chunks")
	}
	if ra.Digest(0.01) == other.Raw(c).Digest(0.01) {
		t.Fatalf("different seeds gave identical chunks")
	}
}

func TestGenerator_RawHeightsStayOnTerraces(t *testing.T) {
	flat := testPreset()
	flat.Elevation.Terrace.Bands = nil
	flat.Elevation.Terrace.StepM = 0.5
	banded := testPreset() // bands of 1, 2 and 4 m
	for name, tc := range map[string]struct {
		p    preset.Preset
		step float64
	}{"flat": {flat, 0.5}, "banded": {banded, 1}} {
		g, err := NewGenerator(tc.p, 11)
		if err != nil {
			t.Fatalf("%s: NewGenerator: %v", name, err)
		}
		for _, c := range []chunk.Coord{{CX: 0, CZ: 0}, {CX: -2, CZ: 3}} {
			for i, h := range g.Raw(c).Elevation {
				m := math.Mod(float64(h), tc.step)
				if m > 1e-5 && tc.step-m > 1e-5 {
					t.Fatalf("%s: chunk %s cell %d height %v is off the %v m terrace", name, c, i, h, tc.step)
				}
			}
		}
	}

	off := testPreset()
	off.Elevation.Terrace.Bands = nil
	off.Elevation.Terrace.StepM = 0.125
	if _, err := NewGenerator(off, 11); !errors.Is(err, preset.ErrInvalid) {
		t.Fatalf("step off the height quantum: err=%v want ErrInvalid", err)
	}
}

func TestGenerator_RawClassificationIsSeamFree(t *testing.T) {
	g, err := NewGenerator(testPreset(), 7)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	size := g.ChunkSize()
	ext := 1 + g.slope.Dilation
	// One window spanning both chunks classified in a single pass.
	w, h := 2*size+2*ext, size+2*ext
	elev := g.elev.Window(-ext, -ext, w, h)
	kinds := terrain.Classify(elev, g.p.Classify.SeaLevelM, g.p.Classify.MountainLevelM)
	terrain.MarkSlopes(kinds, elev, w, h, g.slope)

	for i, c := range []chunk.Coord{{CX: 0, CZ: 0}, {CX: 1, CZ: 0}} {
		raw := g.Raw(c)
		for z := 0; z < size; z++ {
			for x := 0; x < size; x++ {
				j := (i*size + x + ext) + (z+ext)*w
				if raw.Kind(x, z) != kinds[j] {
					t.Fatalf("chunk %v cell %d,%d: %s vs %s", c, x, z, raw.Kind(x, z), kinds[j])
				}
				if want := chunk.Snap(elev[j], g.p.Export.HeightQuantumM); raw.Height(x, z) != want {
					t.Fatalf("chunk %v cell %d,%d height %v vs %v", c, x, z, raw.Height(x, z), want)
				}
			}
		}
	}
}

func TestPipeline_DetailedChunkRoadsConnected(t *testing.T) {
	p := newTestPipeline(t, t.TempDir(), 42, nil)
	r := chunk.Region{RX: 0, RZ: -1}
	if err := p.Generate(context.Background(), []chunk.Region{r}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := map[chunk.Coord]*chunk.Chunk{}
	for _, c := range r.Chunks(p.gen.p.RegionChunks) {
		ch, err := p.store.Read(c)
		if err != nil {
			t.Fatalf("Read %s: %v", c, err)
		}
		if ch.Phase != chunk.PhaseDetailed || ch.Biome == "" {
			t.Fatalf("chunk %s not detailed: phase=%s biome=%q", c, ch.Phase, ch.Biome)
		}
		got[c] = ch
	}
	checked := checkChunkRoads(t, p.gen, r, got)

	for rx := int32(-1); rx <= 1; rx++ {
		for rz := int32(-1); rz <= 1; rz++ {
			reg := chunk.Region{RX: rx, RZ: rz}
			out, _, err := p.gen.Region(reg, nil)
			if err != nil {
				t.Fatalf("Region %s: %v", reg, err)
			}
			checked += checkChunkRoads(t, p.gen, reg, out)
		}
	}
	if checked == 0 {
		t.Fatalf("no chunk planned two or more waypoints")
	}
}

// checkChunkRoads asserts that every chunk with at least two planned
// waypoints connects them, gates included, and returns how many did.
func checkChunkRoads(t *testing.T, g *Generator, r chunk.Region, chunks map[chunk.Coord]*chunk.Chunk) int {
	t.Helper()
	plan := g.Plan(r)
	size := g.ChunkSize()
	n := 0
	for c, ch := range chunks {
		wps := plan.ForChunk(c, g.plan)
		if len(wps) < 2 {
			continue
		}
		n++
		seen := flood(ch.Kinds, size, wps[0].X, wps[0].Z)
		for _, wp := range wps {
			if ch.Kind(wp.X, wp.Z) != terrain.Road {
				t.Fatalf("chunk %s waypoint %+v is %s, want road", c, wp, ch.Kind(wp.X, wp.Z))
			}
			if !seen[wp.X+wp.Z*size] {
				t.Fatalf("chunk %s waypoint %+v not connected to %+v", c, wp, wps[0])
			}
		}
	}
	return n
}

func TestGenerator_EmptyPlanSliceKeepsRawTerrain(t *testing.T) {
	p := testPreset()
	p.Roads.GateChancePercent = 0
	p.Roads.StructuresPerRegion = 2
	g, err := NewGenerator(p, 5)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	empty := 0
	for rx := int32(0); rx <= 5; rx++ {
		r := chunk.Region{RX: rx, RZ: 0}
		out, res, err := g.Region(r, nil)
		if err != nil {
			t.Fatalf("Region %s: %v", r, err)
		}
		plan := g.Plan(r)
		withPlan := 0
		for c, ch := range out {
			if len(plan.ForChunk(c, g.plan)) > 0 {
				withPlan++
				continue
			}
			empty++
			raw := g.Raw(c)
			for i := range ch.Kinds {
				if ch.Kinds[i] != raw.Kinds[i] || ch.Elevation[i] != raw.Elevation[i] {
					t.Fatalf("region %s chunk %s: cell %d changed under an empty plan", r, c, i)
				}
				if ch.Kinds[i] == terrain.Road {
					t.Fatalf("region %s chunk %s: road painted under an empty plan", r, c)
				}
			}
			if ch.Phase != chunk.PhaseDetailed || ch.Biome == "" {
				t.Fatalf("chunk %s not detailed", c)
			}
		}
		if res.Synthesized != withPlan {
			t.Fatalf("region %s: synthesized %d chunks, %d have a plan", r, res.Synthesized, withPlan)
		}
	}
	if empty == 0 {
		t.Fatalf("no chunk had an empty plan slice")
	}
}

// flood marks cells reachable from (x, z) through 8-connected road or ground.
func flood(kinds []terrain.Kind, side, x, z int) []bool {
	ok := func(k terrain.Kind) bool { return k == terrain.Road || k == terrain.Ground }
	seen := make([]bool, len(kinds))
	start := x + z*side
	if !ok(kinds[start]) {
		return seen
	}
	seen[start] = true
	stack := []int{start}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cx, cz := i%side, i/side
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				nx, nz := cx+dx, cz+dz
				if nx < 0 || nz < 0 || nx >= side || nz >= side {
					continue
				}
				j := nx + nz*side
				if !seen[j] && ok(kinds[j]) {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
	}
	return seen
}

func TestPipeline_SameSeedSameArtifacts(t *testing.T) {
	regions := Regions(-1, 0, 0, 0)
	digests := make([]map[chunk.Coord]string, 2)
	for i := range digests {
		p := newTestPipeline(t, t.TempDir(), 99, nil)
		if err := p.Generate(context.Background(), regions); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		list, err := p.store.List()
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 8 {
			t.Fatalf("stored %d chunks, want 8", len(list))
		}
		digests[i] = map[chunk.Coord]string{}
		for _, c := range list {
			doc, err := p.store.ReadDoc(c)
			if err != nil {
				t.Fatalf("ReadDoc: %v", err)
			}
			digests[i][c] = doc.Digest
		}
	}
	for c, d := range digests[0] {
		if digests[1][c] != d {
			t.Fatalf("chunk %s digest differs between runs", c)
		}
	}
}

func TestPipeline_DetailTwiceIsIdempotent(t *testing.T) {
	p := newTestPipeline(t, t.TempDir(), 5, nil)
	r := chunk.Region{}
	if err := p.Generate(context.Background(), []chunk.Region{r}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	before, _ := p.store.ReadDoc(chunk.Coord{})
	if _, err := p.DetailRegion(context.Background(), r); err != nil {
		t.Fatalf("DetailRegion: %v", err)
	}
	after, _ := p.store.ReadDoc(chunk.Coord{})
	if before.Digest != after.Digest {
		t.Fatalf("second detailing changed the chunk")
	}
}

func TestGenerator_RegionMatchesStoredArtifacts(t *testing.T) {
	p := newTestPipeline(t, t.TempDir(), 21, nil)
	r := chunk.Region{RX: 1, RZ: -2}
	if err := p.Generate(context.Background(), []chunk.Region{r}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fresh, _, err := p.gen.Region(r, nil)
	if err != nil {
		t.Fatalf("Region: %v", err)
	}
	q := p.gen.Preset().Export.HeightQuantumM
	for c, ch := range fresh {
		doc, err := p.store.ReadDoc(c)
		if err != nil {
			t.Fatalf("ReadDoc %s: %v", c, err)
		}
		if doc.Digest != ch.Digest(q) || doc.Biome != ch.Biome {
			t.Fatalf("chunk %s: stored digest %s biome %s, regenerated %s %s", c, doc.Digest, doc.Biome, ch.Digest(q), ch.Biome)
		}
	}
}

func TestPipeline_DetailRequiresAllRaw(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(t, dir, 5, nil)
	if _, err := p.RawChunk(chunk.Coord{CX: 0, CZ: 0}); err != nil {
		t.Fatalf("RawChunk: %v", err)
	}
	_, err := p.DetailRegion(context.Background(), chunk.Region{})
	if !errors.Is(err, ErrMissingRaw) {
		t.Fatalf("err=%v want ErrMissingRaw", err)
	}
	doc, err := p.store.ReadDoc(chunk.Coord{})
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}
	if doc.Phase != chunk.PhaseRaw {
		t.Fatalf("partial detailing written: phase=%s", doc.Phase)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "chunks"))
	if len(entries) != 1 {
		t.Fatalf("chunk files=%d want 1", len(entries))
	}
}

func TestPipeline_EventsEmitted(t *testing.T) {
	sink := &MemorySink{}
	p := newTestPipeline(t, t.TempDir(), 11, sink)
	if err := p.Generate(context.Background(), []chunk.Region{{RX: 2, RZ: 2}}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	counts := map[string]int{}
	for _, e := range sink.Events() {
		counts[e.Type]++
		if e.WorldID != "test" {
			t.Fatalf("event world id %q", e.WorldID)
		}
	}
	if counts[EventRawChunk] != 4 || counts[EventRegionDetailed] != 1 {
		t.Fatalf("event counts %v", counts)
	}
}

func TestPipeline_RunRawHonorsCancel(t *testing.T) {
	p := newTestPipeline(t, t.TempDir(), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.RunRaw(ctx, chunk.Region{}.Chunks(2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	sink := &MemorySink{}
	p := newTestPipeline(t, t.TempDir(), 3, sink)
	cache := NewCache(p, 16)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	coords := []chunk.Coord{{CX: 0, CZ: 0}, {CX: 1, CZ: 0}, {CX: 1, CZ: 1}, {CX: 0, CZ: 1}}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := cache.Get(context.Background(), coords[i%len(coords)])
			if err != nil {
				errs <- err
				return
			}
			if ch.Phase != chunk.PhaseDetailed {
				errs <- errors.New("cache returned non-detailed chunk")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Get: %v", err)
	}

	counts := map[string]int{}
	for _, e := range sink.Events() {
		counts[e.Type]++
	}
	if counts[EventRawChunk] != 4 || counts[EventRegionDetailed] != 1 {
		t.Fatalf("generation ran more than once: %v", counts)
	}
	if cache.Len() != len(coords) {
		t.Fatalf("cache holds %d chunks, want %d", cache.Len(), len(coords))
	}
}

func TestCache_PeekDoesNotGenerate(t *testing.T) {
	p := newTestPipeline(t, t.TempDir(), 3, nil)
	cache := NewCache(p, 4)
	ch, err := cache.Peek(chunk.Coord{CX: 9, CZ: 9})
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if ch.Phase != chunk.PhaseVoid {
		t.Fatalf("phase=%s want void", ch.Phase)
	}
	if p.store.Exists(chunk.Coord{CX: 9, CZ: 9}) {
		t.Fatalf("Peek generated a chunk")
	}
}
