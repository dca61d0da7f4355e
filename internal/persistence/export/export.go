// Package export writes engine-facing artifacts for a generated area: a raw
// 16-bit heightmap, a packed control map, world metadata and previews.
package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/protocol"
	"tileworld.ai/internal/worldgen/biome"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/terrain"
)

// Control map bit layout.
const (
	BitNavigable   = 0
	BitRoadOverlay = 1
	BiomeShift     = 8
	BiomeMask      = 0xff
	KindShift      = 27
	KindMask       = 0x1f
)

// Mosaic is a rectangle of cells stitched from chunks, row-major by z.
type Mosaic struct {
	X0, Z0    int
	W, H      int
	Kinds     []terrain.Kind
	Elevation []float32
	Biomes    []biome.Biome
}

// Load stitches chunks [cx0,cx1] x [cz0,cz1] from the store. Chunks that are
// not generated show up as void.
func Load(store *chunkfile.Store, size int, cx0, cz0, cx1, cz1 int32) (*Mosaic, error) {
	if cx1 < cx0 || cz1 < cz0 {
		return nil, fmt.Errorf("empty chunk rectangle")
	}
	cw, ch := int(cx1-cx0+1), int(cz1-cz0+1)
	m := &Mosaic{
		X0:        int(cx0) * size,
		Z0:        int(cz0) * size,
		W:         cw * size,
		H:         ch * size,
		Kinds:     make([]terrain.Kind, cw*size*ch*size),
		Elevation: make([]float32, cw*size*ch*size),
		Biomes:    make([]biome.Biome, cw*size*ch*size),
	}
	for cz := cz0; cz <= cz1; cz++ {
		for cx := cx0; cx <= cx1; cx++ {
			c, err := store.LoadOrVoid(chunk.Coord{CX: cx, CZ: cz}, size)
			if err != nil {
				return nil, err
			}
			if c.Size != size {
				return nil, fmt.Errorf("chunk %s has size %d, want %d", c.Coord, c.Size, size)
			}
			b := biome.Unknown
			if c.Phase == chunk.PhaseDetailed || c.Biome != "" {
				var ok bool
				if b, ok = biome.Parse(c.Biome); !ok {
					return nil, fmt.Errorf("chunk %s: unknown biome %q", c.Coord, c.Biome)
				}
			}
			ox := int(cx-cx0) * size
			oz := int(cz-cz0) * size
			for z := 0; z < size; z++ {
				for x := 0; x < size; x++ {
					i := ox + x + (oz+z)*m.W
					m.Kinds[i] = c.Kind(x, z)
					m.Elevation[i] = c.Height(x, z)
					m.Biomes[i] = b
				}
			}
		}
	}
	return m, nil
}

// HeightValue maps a height into [0, 65535] over [minM, maxM]. Heights
// outside the range saturate. Readers decode with
// minM + value/65535*(maxM-minM), taking both bounds from the world
// metadata; with minM == 0 this is value/65535*maxM.
func HeightValue(h float32, minM, maxM float64) uint16 {
	v := (float64(h) - minM) / (maxM - minM)
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint16(math.Round(v * 65535))
}

func Navigable(k terrain.Kind) bool {
	switch k {
	case terrain.Ground, terrain.Road, terrain.Slope:
		return true
	case terrain.Void, terrain.Water, terrain.Obstacle, terrain.Wall:
		return false
	}
	return false
}

// ControlWord packs one cell of the control map.
func ControlWord(k terrain.Kind, b biome.Biome) uint32 {
	w := (uint32(k) & KindMask) << KindShift
	w |= (uint32(b) & BiomeMask) << BiomeShift
	if Navigable(k) {
		w |= 1 << BitNavigable
	}
	if k == terrain.Road {
		w |= 1 << BitRoadOverlay
	}
	return w
}

// WriteR16 writes little-endian u16 heights with no header.
func WriteR16(w io.Writer, m *Mosaic, minM, maxM float64) error {
	bw := bufio.NewWriter(w)
	var tmp [2]byte
	for _, h := range m.Elevation {
		binary.LittleEndian.PutUint16(tmp[:], HeightValue(h, minM, maxM))
		if _, err := bw.Write(tmp[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteControl writes little-endian u32 control words with no header.
func WriteControl(w io.Writer, m *Mosaic) error {
	bw := bufio.NewWriter(w)
	var tmp [4]byte
	for i, k := range m.Kinds {
		binary.LittleEndian.PutUint32(tmp[:], ControlWord(k, m.Biomes[i]))
		if _, err := bw.Write(tmp[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteHeightTIFF writes the heightmap as a 16-bit grayscale TIFF preview.
func WriteHeightTIFF(w io.Writer, m *Mosaic, minM, maxM float64) error {
	img := image.NewGray16(image.Rect(0, 0, m.W, m.H))
	for z := 0; z < m.H; z++ {
		for x := 0; x < m.W; x++ {
			img.SetGray16(x, z, color.Gray16{Y: HeightValue(m.Elevation[x+z*m.W], minM, maxM)})
		}
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

// WriteKindBMP paints each cell with its kind's palette color.
func WriteKindBMP(w io.Writer, m *Mosaic, palette map[string]string) error {
	var colors [terrain.NumKinds]color.NRGBA
	for _, k := range terrain.AllKinds() {
		c, err := parseHex(palette[k.String()])
		if err != nil {
			return fmt.Errorf("palette %s: %w", k, err)
		}
		colors[k] = c
	}
	img := image.NewNRGBA(image.Rect(0, 0, m.W, m.H))
	for z := 0; z < m.H; z++ {
		for x := 0; x < m.W; x++ {
			k := m.Kinds[x+z*m.W]
			if !k.Valid() {
				k = terrain.Void
			}
			img.SetNRGBA(x, z, colors[k])
		}
	}
	return bmp.Encode(w, img)
}

func parseHex(s string) (color.NRGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("bad color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// WorldMeta describes an exported world.
func WorldMeta(worldID string, worldSeed uint64, p preset.Preset, presetDigest string, edge int) protocol.WorldMeta {
	return protocol.WorldMeta{
		Version:        protocol.DocVersion,
		WorldID:        worldID,
		Seed:           worldSeed,
		Preset:         p.Name,
		PresetDigest:   presetDigest,
		GridEdgeLength: edge,
		MetersPerPixel: p.Export.MetersPerPixel,
		ChunkPixelSize: p.ChunkSize,
		RegionChunks:   p.RegionChunks,
		HeightMinM:     p.Export.HeightMinM,
		HeightMaxM:     p.Export.HeightMaxM,
		HeightQuantumM: p.Export.HeightQuantumM,
	}
}

// Files lists what WriteAll produced.
type Files struct {
	R16     string
	Control string
	TIFF    string
	BMP     string
}

// WriteAll writes every artifact for m into dir.
func WriteAll(dir string, m *Mosaic, p preset.Preset) (Files, error) {
	f := Files{
		R16:     filepath.Join(dir, "heightmap.r16"),
		Control: filepath.Join(dir, "control.u32"),
		TIFF:    filepath.Join(dir, "heightmap.tif"),
		BMP:     filepath.Join(dir, "kinds.bmp"),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return f, err
	}
	minM, maxM := p.Export.HeightMinM, p.Export.HeightMaxM
	steps := []struct {
		path  string
		write func(io.Writer) error
	}{
		{f.R16, func(w io.Writer) error { return WriteR16(w, m, minM, maxM) }},
		{f.Control, func(w io.Writer) error { return WriteControl(w, m) }},
		{f.TIFF, func(w io.Writer) error { return WriteHeightTIFF(w, m, minM, maxM) }},
		{f.BMP, func(w io.Writer) error { return WriteKindBMP(w, m, p.Export.Palette) }},
	}
	for _, s := range steps {
		if err := writeFile(s.path, s.write); err != nil {
			return f, fmt.Errorf("export %s: %w", filepath.Base(s.path), err)
		}
	}
	return f, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := fn(out); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
