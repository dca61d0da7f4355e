package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"tileworld.ai/internal/worldgen/mathx"
	"tileworld.ai/internal/worldgen/terrain"
)

type Phase string

const (
	// PhaseRaw chunks carry elevation and classification only.
	PhaseRaw Phase = "raw"
	// PhaseDetailed chunks also carry roads and a biome.
	PhaseDetailed Phase = "detailed"
	// PhaseVoid marks a placeholder for a chunk that is not generated yet.
	PhaseVoid Phase = "void"
)

type Coord struct {
	CX int32 `json:"cx"`
	CZ int32 `json:"cz"`
}

func (c Coord) String() string { return fmt.Sprintf("%d,%d", c.CX, c.CZ) }

// Region is an N x N block of chunks that shares one road plan.
type Region struct {
	RX int32 `json:"rx"`
	RZ int32 `json:"rz"`
}

func (r Region) String() string { return fmt.Sprintf("r%d,%d", r.RX, r.RZ) }

func RegionOf(c Coord, regionChunks int) Region {
	return Region{
		RX: int32(mathx.FloorDiv(int(c.CX), regionChunks)),
		RZ: int32(mathx.FloorDiv(int(c.CZ), regionChunks)),
	}
}

// Chunks lists the region's chunks in row-major order.
func (r Region) Chunks(regionChunks int) []Coord {
	out := make([]Coord, 0, regionChunks*regionChunks)
	for dz := 0; dz < regionChunks; dz++ {
		for dx := 0; dx < regionChunks; dx++ {
			out = append(out, Coord{
				CX: r.RX*int32(regionChunks) + int32(dx),
				CZ: r.RZ*int32(regionChunks) + int32(dz),
			})
		}
	}
	return out
}

// Chunk is one square tile. Kinds and Elevation are Size*Size, row-major by z.
type Chunk struct {
	Coord     Coord
	Size      int
	Phase     Phase
	Biome     string
	Kinds     []terrain.Kind
	Elevation []float32
}

func New(c Coord, size int) *Chunk {
	return &Chunk{
		Coord:     c,
		Size:      size,
		Phase:     PhaseVoid,
		Kinds:     make([]terrain.Kind, size*size),
		Elevation: make([]float32, size*size),
	}
}

// Void returns the placeholder used for chunks that are not generated yet:
// every cell is void and therefore impassable.
func Void(c Coord, size int) *Chunk {
	return New(c, size)
}

func (c *Chunk) index(x, z int) int { return x + z*c.Size }

func (c *Chunk) Kind(x, z int) terrain.Kind { return c.Kinds[c.index(x, z)] }

func (c *Chunk) Height(x, z int) float32 { return c.Elevation[c.index(x, z)] }

func (c *Chunk) Set(x, z int, k terrain.Kind, h float32) {
	i := c.index(x, z)
	c.Kinds[i] = k
	c.Elevation[i] = h
}

// Origin returns the world coordinate of local cell (0,0).
func (c *Chunk) Origin() (int, int) {
	return int(c.Coord.CX) * c.Size, int(c.Coord.CZ) * c.Size
}

func (c *Chunk) Validate() error {
	n := c.Size * c.Size
	if c.Size <= 0 {
		return fmt.Errorf("chunk %s: bad size %d", c.Coord, c.Size)
	}
	if len(c.Kinds) != n || len(c.Elevation) != n {
		return fmt.Errorf("chunk %s: layer shape mismatch kinds=%d elevation=%d want %d", c.Coord, len(c.Kinds), len(c.Elevation), n)
	}
	for i, k := range c.Kinds {
		if !k.Valid() {
			return fmt.Errorf("chunk %s: cell %d has invalid kind %d", c.Coord, i, k)
		}
	}
	return nil
}

// QuantizeHeights maps elevation to integer multiples of quantum.
func (c *Chunk) QuantizeHeights(quantum float64) []int64 {
	out := make([]int64, len(c.Elevation))
	for i, h := range c.Elevation {
		out[i] = int64(math.Round(float64(h) / quantum))
	}
	return out
}

// Snap rounds h to the nearest multiple of quantum, the value a height
// decodes to after a round trip through a chunk file.
func Snap(h float32, quantum float64) float32 {
	return float32(math.Round(float64(h)/quantum) * quantum)
}

// SnapHeights applies Snap to every cell.
func (c *Chunk) SnapHeights(quantum float64) {
	for i, h := range c.Elevation {
		c.Elevation[i] = Snap(h, quantum)
	}
}

// Digest hashes the kind layer and the quantized heights, so a chunk read
// back from disk digests the same as the one that was written.
func (c *Chunk) Digest(quantum float64) string {
	h := sha256.New()
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(c.Size))
	h.Write(tmp[:4])
	for _, k := range c.Kinds {
		h.Write([]byte{byte(k)})
	}
	for _, q := range c.QuantizeHeights(quantum) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(q))
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Chunk) Clone() *Chunk {
	out := &Chunk{
		Coord:     c.Coord,
		Size:      c.Size,
		Phase:     c.Phase,
		Biome:     c.Biome,
		Kinds:     append([]terrain.Kind(nil), c.Kinds...),
		Elevation: append([]float32(nil), c.Elevation...),
	}
	return out
}

// CountKinds returns a histogram of kinds.
func (c *Chunk) CountKinds() [terrain.NumKinds]int {
	var out [terrain.NumKinds]int
	for _, k := range c.Kinds {
		if k.Valid() {
			out[k]++
		}
	}
	return out
}
