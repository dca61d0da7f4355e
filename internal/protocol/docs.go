package protocol

import (
	"fmt"

	"tileworld.ai/internal/encoding"
	"tileworld.ai/internal/worldgen/chunk"
)

type Layers struct {
	Kind    encoding.Grid `json:"kind"`
	HeightQ encoding.Grid `json:"height_q"`
}

// ChunkDoc is the persisted form of one chunk. Heights are stored as integer
// multiples of HeightQuantumM.
type ChunkDoc struct {
	Version        int         `json:"version"`
	WorldID        string      `json:"world_id"`
	Seed           uint64      `json:"seed,string"`
	CX             int32       `json:"cx"`
	CZ             int32       `json:"cz"`
	Size           int         `json:"size"`
	Phase          chunk.Phase `json:"phase"`
	Biome          string      `json:"biome,omitempty"`
	Digest         string      `json:"digest"`
	HeightQuantumM float64     `json:"height_quantum_m"`
	Layers         Layers      `json:"layers"`
}

type WorldMeta struct {
	Version        int     `json:"version"`
	WorldID        string  `json:"world_id"`
	Seed           uint64  `json:"seed,string"`
	Preset         string  `json:"preset"`
	PresetDigest   string  `json:"preset_digest,omitempty"`
	GridEdgeLength int     `json:"grid_edge_length"`
	MetersPerPixel float64 `json:"meters_per_pixel"`
	ChunkPixelSize int     `json:"chunk_pixel_size"`
	RegionChunks   int     `json:"region_chunks"`
	// R16 heightmaps decode as height_min_m + value/65535*(height_max_m-height_min_m).
	HeightMinM     float64 `json:"height_min_m"`
	HeightMaxM     float64 `json:"height_max_m"`
	HeightQuantumM float64 `json:"height_quantum_m"`
}

func NewChunkDoc(c *chunk.Chunk, worldID string, seed uint64, quantum float64) (ChunkDoc, error) {
	if err := c.Validate(); err != nil {
		return ChunkDoc{}, err
	}
	kinds, err := encoding.EncodeKinds(c.Kinds, c.Size, c.Size)
	if err != nil {
		return ChunkDoc{}, fmt.Errorf("chunk %s kind layer: %w", c.Coord, err)
	}
	heights, err := encoding.EncodeHeights(c.Elevation, quantum, c.Size, c.Size)
	if err != nil {
		return ChunkDoc{}, fmt.Errorf("chunk %s height layer: %w", c.Coord, err)
	}
	return ChunkDoc{
		Version:        DocVersion,
		WorldID:        worldID,
		Seed:           seed,
		CX:             c.Coord.CX,
		CZ:             c.Coord.CZ,
		Size:           c.Size,
		Phase:          c.Phase,
		Biome:          c.Biome,
		Digest:         c.Digest(quantum),
		HeightQuantumM: quantum,
		Layers:         Layers{Kind: kinds, HeightQ: heights},
	}, nil
}

// Chunk decodes the layers. Any malformed layer fails the whole chunk.
func (d ChunkDoc) Chunk() (*chunk.Chunk, error) {
	if d.Version != DocVersion {
		return nil, fmt.Errorf("chunk %d,%d: unsupported version %d", d.CX, d.CZ, d.Version)
	}
	if d.Size <= 0 {
		return nil, fmt.Errorf("chunk %d,%d: bad size %d", d.CX, d.CZ, d.Size)
	}
	kinds, err := encoding.DecodeKinds(d.Layers.Kind, d.Size, d.Size)
	if err != nil {
		return nil, fmt.Errorf("chunk %d,%d kind layer: %w", d.CX, d.CZ, err)
	}
	heights, err := encoding.DecodeHeights(d.Layers.HeightQ, d.HeightQuantumM, d.Size, d.Size)
	if err != nil {
		return nil, fmt.Errorf("chunk %d,%d height layer: %w", d.CX, d.CZ, err)
	}
	return &chunk.Chunk{
		Coord:     chunk.Coord{CX: d.CX, CZ: d.CZ},
		Size:      d.Size,
		Phase:     d.Phase,
		Biome:     d.Biome,
		Kinds:     kinds,
		Elevation: heights,
	}, nil
}
