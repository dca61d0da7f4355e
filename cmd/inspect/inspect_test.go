package main

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"strings"
	"testing"

	persistlog "tileworld.ai/internal/persistence/log"
	"tileworld.ai/internal/persistence/worlddir"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/pipeline"
	"tileworld.ai/internal/worldgen/terrain"
)

func testPreset() preset.Preset {
	p := preset.Defaults()
	p.ChunkSize = 16
	p.RegionChunks = 2
	p.Roads.GateMargin = 2
	p.Roads.StructuresPerRegion = 3
	return p
}

func generate(t *testing.T, data string, sink pipeline.EventSink, regions ...chunk.Region) (*worlddir.World, *pipeline.Generator) {
	t.Helper()
	p := testPreset()
	w, err := worlddir.Open(worlddir.Options{DataDir: data, WorldID: "w1", Seed: 3, Preset: p})
	if err != nil {
		t.Fatalf("worlddir.Open: %v", err)
	}
	gen, err := pipeline.NewGenerator(p, 3)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	var buf bytes.Buffer
	pl := pipeline.New(gen, w.Store, pipeline.Config{WorldID: "w1", Workers: 2, Logger: log.New(&buf, "", 0), Sink: sink})
	if err := pl.Generate(context.Background(), regions); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return w, gen
}

func TestVerify_CleanWorld(t *testing.T) {
	w, gen := generate(t, t.TempDir(), nil, chunk.Region{}, chunk.Region{RX: -1})
	rep, err := verify(w.Store, gen)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rep.Checked != 8 || rep.Regions != 2 || len(rep.Mismatches) != 0 {
		t.Fatalf("report=%+v", rep)
	}
}

func TestVerify_ReportsTamperedChunk(t *testing.T) {
	w, gen := generate(t, t.TempDir(), nil, chunk.Region{})
	c, err := w.Store.Read(chunk.Coord{CX: 1, CZ: 1})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	k := terrain.Wall
	if c.Kind(0, 0) == terrain.Wall {
		k = terrain.Ground
	}
	c.Set(0, 0, k, c.Height(0, 0))
	if _, err := w.Store.Write(c); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rep, err := verify(w.Store, gen)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(rep.Mismatches) != 1 || !strings.HasPrefix(rep.Mismatches[0], "1,1") {
		t.Fatalf("mismatches=%v", rep.Mismatches)
	}
}

func TestScanEvents_CountsGenerationEvents(t *testing.T) {
	data := t.TempDir()
	evlog := persistlog.NewEventLogger(worlddir.Path(data, "w1"))
	generate(t, data, evlog, chunk.Region{})
	if err := evlog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := listEventFiles(filepath.Join(worlddir.Path(data, "w1"), "events"))
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	counts := map[string]int{}
	for _, f := range files {
		if err := scanEvents(f, func(e pipeline.Event, _ []byte) { counts[e.Type]++ }); err != nil {
			t.Fatalf("scanEvents: %v", err)
		}
	}
	if counts[pipeline.EventRawChunk] != 4 || counts[pipeline.EventChunkDetailed] != 4 || counts[pipeline.EventRegionDetailed] != 1 {
		t.Fatalf("counts=%v", counts)
	}
}

func TestKindMap(t *testing.T) {
	c := chunk.New(chunk.Coord{}, 2)
	c.Set(0, 0, terrain.Road, 0)
	c.Set(1, 0, terrain.Water, 0)
	c.Set(0, 1, terrain.Ground, 0)
	c.Set(1, 1, terrain.Slope, 0)
	if got := kindMap(c); got != "#~\n./\n" {
		t.Fatalf("kindMap=%q", got)
	}
}
