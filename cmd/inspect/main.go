package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/persistence/indexdb"
	"tileworld.ai/internal/persistence/worlddir"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/protocol"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/pipeline"
	"tileworld.ai/internal/worldgen/terrain"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "verify":
			verifyCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "world":
			worldCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fail("read", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

func worldCmd(args []string) {
	fs := flag.NewFlagSet("world", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	_ = fs.Parse(args)

	meta, store := openWorld(*dataDir, *worldID)
	fmt.Printf("world=%s seed=%d preset=%s digest=%s\n", meta.WorldID, meta.Seed, meta.Preset, short(meta.PresetDigest))
	fmt.Printf("chunk=%dpx region=%dx%d chunks edge=%d m/px=%v height=[%v,%v] quantum=%v\n",
		meta.ChunkPixelSize, meta.RegionChunks, meta.RegionChunks, meta.GridEdgeLength, meta.MetersPerPixel,
		meta.HeightMinM, meta.HeightMaxM, meta.HeightQuantumM)

	coords, err := store.List()
	if err != nil {
		fail("list", err)
	}
	phases := map[chunk.Phase]int{}
	for _, c := range coords {
		doc, err := store.ReadDoc(c)
		if err != nil {
			fail("read "+c.String(), err)
		}
		phases[doc.Phase]++
	}
	fmt.Printf("chunks=%d raw=%d detailed=%d\n", len(coords), phases[chunk.PhaseRaw], phases[chunk.PhaseDetailed])
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	file := fs.String("file", "", "chunk file (.json or .json.zst); overrides -data/-world/-cx/-cz")
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	cx := fs.Int("cx", 0, "chunk x")
	cz := fs.Int("cz", 0, "chunk z")
	showMap := fs.Bool("map", false, "print the kind layer as text")
	_ = fs.Parse(args)

	var (
		doc protocol.ChunkDoc
		err error
	)
	if strings.TrimSpace(*file) != "" {
		doc, err = chunkfile.ReadFile(*file)
	} else {
		_, store := openWorld(*dataDir, *worldID)
		doc, err = store.ReadDoc(chunk.Coord{CX: int32(*cx), CZ: int32(*cz)})
	}
	if err != nil {
		fail("read chunk", err)
	}
	c, err := doc.Chunk()
	if err != nil {
		fail("decode chunk", err)
	}

	fmt.Printf("chunk %s world=%s seed=%d size=%d phase=%s biome=%s digest=%s\n",
		c.Coord, doc.WorldID, doc.Seed, c.Size, c.Phase, doc.Biome, short(doc.Digest))
	counts := c.CountKinds()
	for _, k := range terrain.AllKinds() {
		if counts[k] > 0 {
			fmt.Printf("  %-8s %6d\n", k, counts[k])
		}
	}
	lo, hi := c.Elevation[0], c.Elevation[0]
	for _, h := range c.Elevation {
		lo, hi = min(lo, h), max(hi, h)
	}
	fmt.Printf("  height   [%.2f, %.2f]\n", lo, hi)
	if *showMap {
		fmt.Print(kindMap(c))
	}
}

// kindMap renders one glyph per cell, north row first.
func kindMap(c *chunk.Chunk) string {
	var b strings.Builder
	for z := 0; z < c.Size; z++ {
		for x := 0; x < c.Size; x++ {
			b.WriteByte(glyph(c.Kind(x, z)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func glyph(k terrain.Kind) byte {
	switch k {
	case terrain.Ground:
		return '.'
	case terrain.Water:
		return '~'
	case terrain.Obstacle:
		return '^'
	case terrain.Slope:
		return '/'
	case terrain.Road:
		return '#'
	case terrain.Wall:
		return 'W'
	default:
		return ' '
	}
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	presetPath := fs.String("preset", "./configs/presets/default.yaml", "preset the world was generated with")
	_ = fs.Parse(args)

	meta, store := openWorld(*dataDir, *worldID)
	p, err := preset.Load(*presetPath)
	if err != nil {
		fail("load preset", err)
	}
	if meta.PresetDigest != "" && meta.PresetDigest != p.Digest() {
		fail("verify", fmt.Errorf("preset %s does not match the one the world was generated with (%s)", p.Name, meta.Preset))
	}
	gen, err := pipeline.NewGenerator(p, meta.Seed)
	if err != nil {
		fail("generator", err)
	}
	rep, err := verify(store, gen)
	if err != nil {
		fail("verify", err)
	}
	for _, m := range rep.Mismatches {
		fmt.Println("MISMATCH", m)
	}
	if len(rep.Mismatches) > 0 {
		fmt.Printf("verify failed: %d of %d chunks differ\n", len(rep.Mismatches), rep.Checked)
		os.Exit(1)
	}
	fmt.Printf("verify ok: checked=%d chunks in %d regions\n", rep.Checked, rep.Regions)
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	chunks := fs.Bool("chunks", false, "list chunks as well as regions")
	_ = fs.Parse(args)

	meta, _ := openWorld(*dataDir, *worldID)
	idx, err := indexdb.OpenSQLite(filepath.Join(worlddir.Path(*dataDir, meta.WorldID), "index", "world.sqlite"))
	if err != nil {
		fail("open index", err)
	}
	defer idx.Close()

	ctx := context.Background()
	regions, err := idx.Regions(ctx, meta.WorldID)
	if err != nil {
		fail("regions", err)
	}
	for _, r := range regions {
		fmt.Printf("region %d,%d waypoints=%d edges=%d painted=%d adjusted=%d repairs=%d took=%dms at=%s\n",
			r.RX, r.RZ, r.Waypoints, r.Edges, r.Painted, r.Adjusted, r.Repairs, r.DurationMS, r.DetailedAt)
	}
	repairs, err := idx.RepairCount(ctx, meta.WorldID)
	if err != nil {
		fail("repairs", err)
	}
	rows, err := idx.Chunks(ctx, meta.WorldID)
	if err != nil {
		fail("chunks", err)
	}
	if *chunks {
		for _, c := range rows {
			fmt.Printf("chunk %d,%d %s %s %s\n", c.CX, c.CZ, c.Phase, c.Biome, short(c.Digest))
		}
	}
	fmt.Printf("regions=%d chunks=%d repairs=%d\n", len(regions), len(rows), repairs)
}

func openWorld(dataDir, worldID string) (protocol.WorldMeta, *chunkfile.Store) {
	if strings.TrimSpace(worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	dir := worlddir.Path(dataDir, worldID)
	meta, err := chunkfile.ReadWorld(dir)
	if err != nil {
		fail("read world", err)
	}
	store, err := chunkfile.Open(dir, chunkfile.Options{
		WorldID:        meta.WorldID,
		Seed:           meta.Seed,
		HeightQuantumM: meta.HeightQuantumM,
	})
	if err != nil {
		fail("open store", err)
	}
	return meta, store
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
