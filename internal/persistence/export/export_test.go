package export

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"math"
	"os"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"tileworld.ai/internal/persistence/chunkfile"
	"tileworld.ai/internal/preset"
	"tileworld.ai/internal/worldgen/biome"
	"tileworld.ai/internal/worldgen/chunk"
	"tileworld.ai/internal/worldgen/terrain"
)

func TestControlWord_BitLayout(t *testing.T) {
	w := ControlWord(terrain.Road, biome.Forest)
	if k := terrain.Kind((w >> KindShift) & KindMask); k != terrain.Road {
		t.Fatalf("kind bits=%d", k)
	}
	if b := biome.Biome((w >> BiomeShift) & BiomeMask); b != biome.Forest {
		t.Fatalf("biome bits=%d", b)
	}
	if w&(1<<BitNavigable) == 0 || w&(1<<BitRoadOverlay) == 0 {
		t.Fatalf("flags missing: %032b", w)
	}
	w = ControlWord(terrain.Water, biome.Swamp)
	if w&(1<<BitNavigable) != 0 || w&(1<<BitRoadOverlay) != 0 {
		t.Fatalf("water flags set: %032b", w)
	}
	// Consumers mask: unused bits stay zero.
	if w&^(KindMask<<KindShift|BiomeMask<<BiomeShift|3) != 0 {
		t.Fatalf("reserved bits set: %032b", w)
	}
}

func TestHeightValue_Scale(t *testing.T) {
	if v := HeightValue(0, 0, 100); v != 0 {
		t.Fatalf("min -> %d", v)
	}
	if v := HeightValue(100, 0, 100); v != 65535 {
		t.Fatalf("max -> %d", v)
	}
	if v := HeightValue(150, 0, 100); v != 65535 {
		t.Fatalf("above max -> %d", v)
	}
	if v := HeightValue(-5, 0, 100); v != 0 {
		t.Fatalf("below min -> %d", v)
	}
	v := HeightValue(25, 0, 100)
	back := float64(v) / 65535 * 100
	if back < 24.999 || back > 25.001 {
		t.Fatalf("25m decodes to %v", back)
	}
}

func testMosaic(t *testing.T) (*Mosaic, preset.Preset) {
	t.Helper()
	p := preset.Defaults()
	p.ChunkSize = 8
	store, err := chunkfile.Open(t.TempDir(), chunkfile.Options{WorldID: "w", Seed: 1, HeightQuantumM: 0.01})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c := chunk.New(chunk.Coord{CX: 0, CZ: 0}, 8)
	c.Phase = chunk.PhaseDetailed
	c.Biome = "desert"
	for i := range c.Kinds {
		c.Kinds[i] = terrain.Ground
		c.Elevation[i] = float32(i)
	}
	c.Kinds[0] = terrain.Road
	if _, err := store.Write(c); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Chunk (1,0) is never generated and must come back as void.
	m, err := Load(store, 8, 0, 0, 1, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m, p
}

func TestLoad_StitchesAndFillsVoid(t *testing.T) {
	m, _ := testMosaic(t)
	if m.W != 16 || m.H != 8 {
		t.Fatalf("size %dx%d", m.W, m.H)
	}
	if m.Kinds[0] != terrain.Road || m.Biomes[0] != biome.Desert {
		t.Fatalf("cell 0: %s %s", m.Kinds[0], m.Biomes[0])
	}
	if m.Kinds[8] != terrain.Void || m.Kinds[15+7*16] != terrain.Void {
		t.Fatalf("missing chunk not void")
	}
	if m.Elevation[3+2*16] != 19 {
		t.Fatalf("elevation at 3,2 = %v", m.Elevation[3+2*16])
	}
}

func TestWriteAll_R16DecodesWithMetaOffset(t *testing.T) {
	m, p := testMosaic(t)
	p.Export.HeightMinM = -50
	p.Export.HeightMaxM = 150
	files, err := WriteAll(t.TempDir(), m, p)
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	raw, err := os.ReadFile(files.R16)
	if err != nil {
		t.Fatalf("read r16: %v", err)
	}
	meta := WorldMeta("w", 1, p, "abc", m.W)
	span := meta.HeightMaxM - meta.HeightMinM
	for _, cell := range []int{0, 3 + 2*16, 7 + 7*16} {
		v := binary.LittleEndian.Uint16(raw[2*cell:])
		got := meta.HeightMinM + float64(v)/65535*span
		if want := float64(m.Elevation[cell]); math.Abs(got-want) > span/65535 {
			t.Fatalf("cell %d: value %d decodes to %v, want %v", cell, v, got, want)
		}
	}
}

func TestLoad_RejectsUnknownBiome(t *testing.T) {
	store, err := chunkfile.Open(t.TempDir(), chunkfile.Options{WorldID: "w", Seed: 1, HeightQuantumM: 0.01})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	raw := chunk.New(chunk.Coord{CX: 0, CZ: 0}, 8)
	raw.Phase = chunk.PhaseRaw
	for i := range raw.Kinds {
		raw.Kinds[i] = terrain.Ground
	}
	if _, err := store.Write(raw); err != nil {
		t.Fatalf("Write: %v", err)
	}
	m, err := Load(store, 8, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("raw chunk without biome: %v", err)
	}
	if m.Biomes[0] != biome.Unknown {
		t.Fatalf("raw chunk biome %s", m.Biomes[0])
	}

	bad := chunk.New(chunk.Coord{CX: 1, CZ: 0}, 8)
	bad.Phase = chunk.PhaseDetailed
	bad.Biome = "marsh"
	for i := range bad.Kinds {
		bad.Kinds[i] = terrain.Ground
	}
	if _, err := store.Write(bad); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Load(store, 8, 0, 0, 1, 0); err == nil || !strings.Contains(err.Error(), "marsh") {
		t.Fatalf("corrupt biome: err=%v", err)
	}
}

func TestWriters_RawLayouts(t *testing.T) {
	m, p := testMosaic(t)
	var r16 bytes.Buffer
	if err := WriteR16(&r16, m, 0, 100); err != nil {
		t.Fatalf("WriteR16: %v", err)
	}
	if r16.Len() != 2*m.W*m.H {
		t.Fatalf("r16 size %d", r16.Len())
	}
	if v := binary.LittleEndian.Uint16(r16.Bytes()[2*(3+2*16):]); v != HeightValue(19, 0, 100) {
		t.Fatalf("r16 cell value %d", v)
	}
	var ctl bytes.Buffer
	if err := WriteControl(&ctl, m); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}
	if ctl.Len() != 4*m.W*m.H {
		t.Fatalf("control size %d", ctl.Len())
	}
	if w := binary.LittleEndian.Uint32(ctl.Bytes()); w != ControlWord(terrain.Road, biome.Desert) {
		t.Fatalf("control word %032b", w)
	}

	var tb bytes.Buffer
	if err := WriteHeightTIFF(&tb, m, 0, 100); err != nil {
		t.Fatalf("WriteHeightTIFF: %v", err)
	}
	img, err := tiff.Decode(&tb)
	if err != nil {
		t.Fatalf("tiff.Decode: %v", err)
	}
	if got := color.Gray16Model.Convert(img.At(3, 2)).(color.Gray16).Y; got != HeightValue(19, 0, 100) {
		t.Fatalf("tiff pixel %d", got)
	}

	var bb bytes.Buffer
	if err := WriteKindBMP(&bb, m, p.Export.Palette); err != nil {
		t.Fatalf("WriteKindBMP: %v", err)
	}
	bimg, err := bmp.Decode(&bb)
	if err != nil {
		t.Fatalf("bmp.Decode: %v", err)
	}
	if bimg.Bounds().Dx() != m.W || bimg.Bounds().Dy() != m.H {
		t.Fatalf("bmp bounds %v", bimg.Bounds())
	}
	want, _ := parseHex(p.Export.Palette["road"])
	r, g, b, _ := bimg.At(0, 0).RGBA()
	if uint8(r>>8) != want.R || uint8(g>>8) != want.G || uint8(b>>8) != want.B {
		t.Fatalf("road pixel %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestWriteAll_CreatesFiles(t *testing.T) {
	m, p := testMosaic(t)
	dir := t.TempDir()
	files, err := WriteAll(dir, m, p)
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	for _, path := range []string{files.R16, files.Control, files.TIFF, files.BMP} {
		st, err := os.Stat(path)
		if err != nil || st.Size() == 0 {
			t.Fatalf("%s: %v", path, err)
		}
	}
	meta := WorldMeta("w", 1, p, "abc", m.W)
	if meta.ChunkPixelSize != 8 || meta.GridEdgeLength != 16 || meta.Seed != 1 {
		t.Fatalf("meta=%+v", meta)
	}
}
