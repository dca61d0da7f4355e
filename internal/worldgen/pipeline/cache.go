package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/coalesce"
)

// CacheKey identifies a chunk across worlds and seeds.
type CacheKey struct {
	WorldID string
	Seed    uint64
	CX, CZ  int32
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%q/%d/%d,%d", k.WorldID, k.Seed, k.CX, k.CZ)
}

type regionKey struct {
	WorldID string
	Seed    uint64
	RX, RZ  int32
}

func (k regionKey) String() string {
	return fmt.Sprintf("%q/%d/r%d,%d", k.WorldID, k.Seed, k.RX, k.RZ)
}

// Cache serves detailed chunks on demand. Misses are coalesced per chunk and
// per region, so concurrent requests for the same key trigger at most one
// generation, while unrelated keys proceed in parallel.
type Cache struct {
	p   *Pipeline
	max int

	chunks  coalesce.Group[CacheKey, *chunk.Chunk]
	regions coalesce.Group[regionKey, struct{}]

	mu    sync.Mutex
	mem   map[CacheKey]*chunk.Chunk
	order []CacheKey
}

// NewCache keeps up to max decoded chunks in memory (0 disables the memory
// tier; the chunk store is always consulted).
func NewCache(p *Pipeline, max int) *Cache {
	return &Cache{p: p, max: max, mem: make(map[CacheKey]*chunk.Chunk)}
}

func (c *Cache) key(cc chunk.Coord) CacheKey {
	return CacheKey{WorldID: c.p.worldID, Seed: c.p.gen.Seed(), CX: cc.CX, CZ: cc.CZ}
}

// Get returns the detailed chunk at cc, generating its region when needed.
// Callers receive their own copy.
func (c *Cache) Get(ctx context.Context, cc chunk.Coord) (*chunk.Chunk, error) {
	k := c.key(cc)
	if ch, ok := c.lookup(k); ok {
		return ch.Clone(), nil
	}
	ch, err, _ := c.chunks.Do(k, func() (*chunk.Chunk, error) {
		if ch, ok := c.lookup(k); ok {
			return ch, nil
		}
		ch, err := c.p.store.Read(cc)
		if err == nil && ch.Phase == chunk.PhaseDetailed {
			c.remember(k, ch)
			return ch, nil
		}
		if err != nil && !errors.Is(err, chunkfile.ErrNotFound) {
			c.p.logger.Printf("cache: regenerating %s after read error: %v", cc, err)
		}
		if err := c.ensureRegion(ctx, chunk.RegionOf(cc, c.p.gen.Preset().RegionChunks)); err != nil {
			return nil, err
		}
		ch, err = c.p.store.Read(cc)
		if err != nil {
			return nil, fmt.Errorf("read %s after generation: %w", cc, err)
		}
		c.remember(k, ch)
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	return ch.Clone(), nil
}

// Peek returns the stored chunk or a void placeholder without generating.
func (c *Cache) Peek(cc chunk.Coord) (*chunk.Chunk, error) {
	if ch, ok := c.lookup(c.key(cc)); ok {
		return ch.Clone(), nil
	}
	return c.p.store.LoadOrVoid(cc, c.p.gen.ChunkSize())
}

func (c *Cache) ensureRegion(ctx context.Context, r chunk.Region) error {
	k := regionKey{WorldID: c.p.worldID, Seed: c.p.gen.Seed(), RX: r.RX, RZ: r.RZ}
	_, err, _ := c.regions.Do(k, func() (struct{}, error) {
		n := c.p.gen.Preset().RegionChunks
		var missing []chunk.Coord
		detailed := true
		for _, cc := range r.Chunks(n) {
			doc, err := c.p.store.ReadDoc(cc)
			if err != nil {
				// Unreadable chunks are regenerated like missing ones.
				detailed = false
				missing = append(missing, cc)
				continue
			}
			if doc.Phase != chunk.PhaseDetailed {
				detailed = false
			}
		}
		if detailed {
			return struct{}{}, nil
		}
		if err := c.p.RunRaw(ctx, missing); err != nil {
			return struct{}{}, err
		}
		if _, err := c.p.DetailRegion(ctx, r); err != nil {
			return struct{}{}, err
		}
		c.forgetRegion(r, n)
		return struct{}{}, nil
	})
	return err
}

func (c *Cache) lookup(k CacheKey) (*chunk.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.mem[k]
	return ch, ok
}

func (c *Cache) remember(k CacheKey, ch *chunk.Chunk) {
	if c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mem[k]; ok {
		c.mem[k] = ch
		return
	}
	for len(c.order) >= c.max {
		old := c.order[0]
		c.order = c.order[1:]
		delete(c.mem, old)
	}
	c.mem[k] = ch
	c.order = append(c.order, k)
}

func (c *Cache) forgetRegion(r chunk.Region, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cc := range r.Chunks(n) {
		k := c.key(cc)
		if _, ok := c.mem[k]; !ok {
			continue
		}
		delete(c.mem, k)
		for i, o := range c.order {
			if o == k {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// Len reports the number of chunks held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mem)
}
