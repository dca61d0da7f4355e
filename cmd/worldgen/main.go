package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tileworld.ai/internal/persistence/export"
	"tileworld.ai/internal/persistence/indexdb"
	persistlog "tileworld.ai/internal/persistence/log"
	"tileworld.ai/internal/persistence/worlddir"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/worldgen/pipeline"
)

func main() {
	var (
		presetPath = flag.String("preset", "./configs/presets/default.yaml", "preset yaml (empty for built-in defaults)")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Uint64("seed", 1337, "world seed")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		workers    = flag.Int("workers", 4, "parallel workers per phase")

		rx0 = flag.Int("rx0", 0, "first region x (default derived from grid_edge_length)")
		rz0 = flag.Int("rz0", 0, "first region z")
		rx1 = flag.Int("rx1", 0, "last region x (inclusive)")
		rz1 = flag.Int("rz1", 0, "last region z (inclusive)")

		doExport = flag.Bool("export", false, "write heightmap, control map and previews for the generated rectangle")
		useDB    = flag.Bool("db", true, "record generated chunks and regions in <world>/index/world.sqlite")
		events   = flag.Bool("events", true, "write generation events to <world>/events")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[worldgen] ", log.LstdFlags|log.Lmicroseconds)

	p, err := preset.Load(*presetPath)
	if err != nil {
		logger.Fatalf("load preset: %v", err)
	}
	w, err := worlddir.Open(worlddir.Options{DataDir: *dataDir, WorldID: *worldID, Seed: *seed, Preset: p})
	if err != nil {
		logger.Fatalf("open world: %v", err)
	}
	if w.Fresh {
		logger.Printf("new world %s seed=%d preset=%s", w.Meta.WorldID, w.Meta.Seed, p.Name)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	rect := [4]int{*rx0, *rz0, *rx1, *rz1}
	if !set["rx0"] && !set["rz0"] && !set["rx1"] && !set["rz1"] {
		n, ok := defaultRegions(p)
		if !ok {
			logger.Fatalf("grid_edge_length is 0; pass -rx0 -rz0 -rx1 -rz1")
		}
		rect = [4]int{0, 0, n - 1, n - 1}
	}
	if rect[2] < rect[0] || rect[3] < rect[1] {
		logger.Fatalf("empty region rectangle %v", rect)
	}

	var sinks []pipeline.EventSink
	var idx *indexdb.SQLiteIndex
	if *useDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(w.Dir, "index", "world.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	var evlog *persistlog.EventLogger
	if *events {
		evlog = persistlog.NewEventLogger(w.Dir)
		defer evlog.Close()
		sinks = append(sinks, evlog)
	}

	gen, err := pipeline.NewGenerator(p, *seed)
	if err != nil {
		logger.Fatalf("generator: %v", err)
	}
	pl := pipeline.New(gen, w.Store, pipeline.Config{
		WorldID: w.Meta.WorldID,
		Workers: *workers,
		Logger:  logger,
		Sink:    pipeline.MultiSink(sinks...),
	})

	ctx, cancel := signalContext()
	defer cancel()

	regions := pipeline.Regions(int32(rect[0]), int32(rect[1]), int32(rect[2]), int32(rect[3]))
	start := time.Now()
	if err := pl.Generate(ctx, regions); err != nil {
		logger.Fatalf("generate: %v", err)
	}
	logger.Printf("generated %d regions in %s", len(regions), time.Since(start).Round(time.Millisecond))

	if *doExport {
		n := int32(p.RegionChunks)
		cx0, cz0 := int32(rect[0])*n, int32(rect[1])*n
		cx1, cz1 := int32(rect[2]+1)*n-1, int32(rect[3]+1)*n-1
		m, err := export.Load(w.Store, p.ChunkSize, cx0, cz0, cx1, cz1)
		if err != nil {
			logger.Fatalf("export: %v", err)
		}
		files, err := export.WriteAll(filepath.Join(w.Dir, "export"), m, p)
		if err != nil {
			logger.Fatalf("export: %v", err)
		}
		logger.Printf("exported %dx%d cells: %s %s %s %s", m.W, m.H, files.R16, files.Control, files.TIFF, files.BMP)
	}

	if idx != nil {
		fctx, fcancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := idx.Flush(fctx); err != nil {
			logger.Printf("index flush: %v", err)
		}
		fcancel()
		if st := idx.Stats(); st.DropTotal > 0 {
			logger.Printf("index dropped %d events", st.DropTotal)
		}
	}
	if evlog != nil && evlog.Errors() > 0 {
		logger.Printf("event log: %d write errors", evlog.Errors())
	}
	fmt.Printf("world %s ready in %s\n", w.Meta.WorldID, w.Dir)
}

// defaultRegions is the number of regions per side covering grid_edge_length
// cells.
func defaultRegions(p preset.Preset) (int, bool) {
	edge := p.Export.GridEdgeLength
	if edge <= 0 {
		return 0, false
	}
	chunks := (edge + p.ChunkSize - 1) / p.ChunkSize
	return (chunks + p.RegionChunks - 1) / p.RegionChunks, true
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
