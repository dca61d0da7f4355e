package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/worldgen/chunk"
)

// ErrMissingRaw means a region cannot be detailed because one of its chunks
// has no raw artifact yet.
var ErrMissingRaw = errors.New("raw chunk missing")

type Config struct {
	WorldID string
	Workers int
	Logger  *log.Logger
	Sink    EventSink
}

// Pipeline writes generated chunks through a chunk store.
type Pipeline struct {
	gen     *Generator
	store   *chunkfile.Store
	worldID string
	workers int
	logger  *log.Logger
	sink    EventSink
}

func New(gen *Generator, store *chunkfile.Store, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[worldgen] ", log.LstdFlags|log.Lmicroseconds)
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	return &Pipeline{
		gen:     gen,
		store:   store,
		worldID: cfg.WorldID,
		workers: cfg.Workers,
		logger:  cfg.Logger,
		sink:    cfg.Sink,
	}
}

func (p *Pipeline) Generator() *Generator   { return p.gen }
func (p *Pipeline) Store() *chunkfile.Store { return p.store }
func (p *Pipeline) WorldID() string         { return p.worldID }

// RawChunk generates and writes one raw chunk.
func (p *Pipeline) RawChunk(c chunk.Coord) (*chunk.Chunk, error) {
	start := time.Now()
	ch := p.gen.Raw(c)
	doc, err := p.store.Write(ch)
	if err != nil {
		return nil, err
	}
	p.sink.Emit(Event{
		Type:       EventRawChunk,
		Time:       now(),
		WorldID:    p.worldID,
		CX:         c.CX,
		CZ:         c.CZ,
		Phase:      string(ch.Phase),
		Digest:     doc.Digest,
		Path:       p.store.Path(c),
		DurationMS: time.Since(start).Milliseconds(),
	})
	return ch, nil
}

// RunRaw generates coords with a fixed pool of workers. Each worker owns the
// chunk it writes; the first error stops the remaining jobs.
func (p *Pipeline) RunRaw(ctx context.Context, coords []chunk.Coord) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan chunk.Coord)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if _, err := p.RawChunk(c); err != nil {
					fail(fmt.Errorf("raw chunk %s: %w", c, err))
				}
			}
		}()
	}
feed:
	for _, c := range coords {
		select {
		case jobs <- c:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// DetailRegion lays roads across region r. Every chunk of the region must
// have a raw artifact; nothing is written when one is missing. Chunks that
// are already detailed are rebuilt from their raw form, so detailing twice
// gives the same result.
func (p *Pipeline) DetailRegion(ctx context.Context, r chunk.Region) (RegionResult, error) {
	if err := ctx.Err(); err != nil {
		return RegionResult{}, err
	}
	start := time.Now()
	n := p.gen.Preset().RegionChunks
	raw := make(map[chunk.Coord]*chunk.Chunk, n*n)
	for _, c := range r.Chunks(n) {
		ch, err := p.store.Read(c)
		if errors.Is(err, chunkfile.ErrNotFound) {
			return RegionResult{}, fmt.Errorf("detail %s: %w: %s", r, ErrMissingRaw, c)
		}
		if err != nil {
			return RegionResult{}, fmt.Errorf("detail %s: %w", r, err)
		}
		if ch.Phase != chunk.PhaseRaw {
			ch = p.gen.Raw(c)
		}
		raw[c] = ch
	}

	res, err := p.gen.Detail(r, raw, p.logger)
	if err != nil {
		return res, fmt.Errorf("detail %s: %w", r, err)
	}
	for _, rep := range res.Roads.Repairs {
		p.sink.Emit(Event{
			Type:    EventRoadRepair,
			Time:    now(),
			WorldID: p.worldID,
			RX:      r.RX,
			RZ:      r.RZ,
			From:    [2]int{rep.From.X, rep.From.Z},
			To:      [2]int{rep.To.X, rep.To.Z},
		})
	}
	for _, c := range r.Chunks(n) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ch := raw[c]
		doc, err := p.store.Write(ch)
		if err != nil {
			return res, fmt.Errorf("detail %s: %w", r, err)
		}
		p.sink.Emit(Event{
			Type:    EventChunkDetailed,
			Time:    now(),
			WorldID: p.worldID,
			CX:      c.CX,
			CZ:      c.CZ,
			RX:      r.RX,
			RZ:      r.RZ,
			Phase:   string(ch.Phase),
			Biome:   ch.Biome,
			Digest:  doc.Digest,
			Path:    p.store.Path(c),
		})
	}
	p.sink.Emit(Event{
		Type:       EventRegionDetailed,
		Time:       now(),
		WorldID:    p.worldID,
		RX:         r.RX,
		RZ:         r.RZ,
		Waypoints:  res.Waypoints,
		Edges:      len(res.Roads.Edges),
		Painted:    res.Roads.Painted,
		Adjusted:   res.Roads.Adjusted,
		Repairs:    len(res.Roads.Repairs),
		DurationMS: time.Since(start).Milliseconds(),
	})
	return res, nil
}

// DetailRegions details regions in parallel, one region per worker at a time.
func (p *Pipeline) DetailRegions(ctx context.Context, regions []chunk.Region) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan chunk.Region)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if _, err := p.DetailRegion(ctx, r); err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}()
	}
feed:
	for _, r := range regions {
		select {
		case jobs <- r:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Generate runs the raw phase for every chunk of the regions, then details
// them.
func (p *Pipeline) Generate(ctx context.Context, regions []chunk.Region) error {
	n := p.gen.Preset().RegionChunks
	var coords []chunk.Coord
	for _, r := range regions {
		coords = append(coords, r.Chunks(n)...)
	}
	p.logger.Printf("raw phase: %d chunks, %d workers", len(coords), p.workers)
	if err := p.RunRaw(ctx, coords); err != nil {
		return err
	}
	p.logger.Printf("detail phase: %d regions", len(regions))
	return p.DetailRegions(ctx, regions)
}

// Regions lists the regions of the inclusive rectangle [rx0,rx1] x [rz0,rz1].
func Regions(rx0, rz0, rx1, rz1 int32) []chunk.Region {
	var out []chunk.Region
	for rz := rz0; rz <= rz1; rz++ {
		for rx := rx0; rx <= rx1; rx++ {
			out = append(out, chunk.Region{RX: rx, RZ: rz})
		}
	}
	return out
}
