package preset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"tileworld.ai/internal/worldgen/noise"
	"tileworld.ai/internal/worldgen/terrain"
)

// ErrInvalid marks every configuration error. Presets are rejected before any
// generation starts; values are never clamped into range.
var ErrInvalid = errors.New("invalid preset")

type Preset struct {
	Name         string `yaml:"name"`
	ChunkSize    int    `yaml:"chunk_size"`
	RegionChunks int    `yaml:"region_chunks"`
	Margin       int    `yaml:"margin"`

	Elevation Elevation `yaml:"elevation"`
	Classify  Classify  `yaml:"classify"`
	Roads     Roads     `yaml:"roads"`
	Biomes    Biomes    `yaml:"biomes"`
	Export    Export    `yaml:"export"`
}

type Noise struct {
	Kind       string  `yaml:"kind"`
	Frequency  float64 `yaml:"frequency"`
	Octaves    int     `yaml:"octaves"`
	Gain       float64 `yaml:"gain"`
	Lacunarity float64 `yaml:"lacunarity"`
}

func (n Noise) Params() noise.Params {
	return noise.Params{
		Kind:       n.Kind,
		Frequency:  n.Frequency,
		Octaves:    n.Octaves,
		Gain:       n.Gain,
		Lacunarity: n.Lacunarity,
	}
}

type Elevation struct {
	MaxHeightM    float64 `yaml:"max_height_m"`
	ShapeExponent float64 `yaml:"shape_exponent"`
	SmoothPasses  int     `yaml:"smooth_passes"`
	Noise         Noise   `yaml:"noise"`
	Terrace       Terrace `yaml:"terrace"`
}

// Terrace quantizes heights. With no bands every cell uses StepM; otherwise
// BandNoise picks a band per cell and the band's step applies.
type Terrace struct {
	StepM     float64       `yaml:"step_m"`
	Bands     []TerraceBand `yaml:"bands,omitempty"`
	BandNoise Noise         `yaml:"band_noise"`
}

type TerraceBand struct {
	MaxNoise float64 `yaml:"max_noise"`
	StepM    float64 `yaml:"step_m"`
}

type Classify struct {
	SeaLevelM        float64 `yaml:"sea_level_m"`
	MountainLevelM   float64 `yaml:"mountain_level_m"`
	SlopeThresholdM  float64 `yaml:"slope_threshold_m"`
	SlopeDiagonal    bool    `yaml:"slope_diagonal"`
	SlopeDilation    int     `yaml:"slope_dilation"`
	IgnoreWaterEdges bool    `yaml:"ignore_water_edges"`
}

type Roads struct {
	Width               int                `yaml:"width"`
	AllowSlope          bool               `yaml:"allow_slope"`
	AllowWater          bool               `yaml:"allow_water"`
	MaxGradePerCellM    float64            `yaml:"max_grade_per_cell_m"`
	Diagonal            bool               `yaml:"diagonal"`
	CornerCut           bool               `yaml:"corner_cut"`
	SlopeCostPerM       float64            `yaml:"slope_cost_per_m"`
	Costs               map[string]float64 `yaml:"costs"`
	StructuresPerRegion int                `yaml:"structures_per_region"`
	GateChancePercent   int                `yaml:"gate_chance_percent"`
	GateMargin          int                `yaml:"gate_margin"`
}

type Biomes struct {
	Temperature Noise `yaml:"temperature"`
	Moisture    Noise `yaml:"moisture"`
}

type Export struct {
	HeightMinM     float64           `yaml:"height_min_m"`
	HeightMaxM     float64           `yaml:"height_max_m"`
	HeightQuantumM float64           `yaml:"height_quantum_m"`
	MetersPerPixel float64           `yaml:"meters_per_pixel"`
	GridEdgeLength int               `yaml:"grid_edge_length"`
	Compress       bool              `yaml:"compress"`
	Palette        map[string]string `yaml:"palette"`
}

func Load(path string) (Preset, error) {
	p := Defaults()
	if strings.TrimSpace(path) == "" {
		p.Normalize()
		return p, p.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	return Parse(raw)
}

// Parse overlays YAML onto the defaults, normalizes and validates.
func Parse(raw []byte) (Preset, error) {
	p := Defaults()
	// Maps are replaced wholesale so a file must spell out every kind.
	p.Roads.Costs = nil
	p.Export.Palette = nil
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("preset yaml: %w", err)
	}
	if p.Roads.Costs == nil {
		p.Roads.Costs = defaultCosts()
	}
	if p.Export.Palette == nil {
		p.Export.Palette = defaultPalette()
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func Defaults() Preset {
	return Preset{
		Name:         "default",
		ChunkSize:    64,
		RegionChunks: 4,
		Margin:       4,
		Elevation: Elevation{
			MaxHeightM:    120,
			ShapeExponent: 1.6,
			SmoothPasses:  2,
			Noise:         Noise{Kind: noise.KindPerlin, Frequency: 0.008, Octaves: 5, Gain: 0.5, Lacunarity: 2},
			Terrace: Terrace{
				StepM: 2,
				Bands: []TerraceBand{
					{MaxNoise: 0.45, StepM: 1},
					{MaxNoise: 0.75, StepM: 2},
					{MaxNoise: 1, StepM: 4},
				},
				BandNoise: Noise{Kind: noise.KindValue, Frequency: 0.004, Octaves: 2, Gain: 0.5, Lacunarity: 2},
			},
		},
		Classify: Classify{
			SeaLevelM:        24,
			MountainLevelM:   96,
			SlopeThresholdM:  4,
			SlopeDiagonal:    true,
			SlopeDilation:    1,
			IgnoreWaterEdges: true,
		},
		Roads: Roads{
			Width:               3,
			AllowSlope:          true,
			AllowWater:          false,
			MaxGradePerCellM:    1,
			Diagonal:            true,
			CornerCut:           false,
			SlopeCostPerM:       0.5,
			Costs:               defaultCosts(),
			StructuresPerRegion: 6,
			GateChancePercent:   50,
			GateMargin:          4,
		},
		Biomes: Biomes{
			Temperature: Noise{Kind: noise.KindValue, Frequency: 0.0015, Octaves: 2, Gain: 0.5, Lacunarity: 2},
			Moisture:    Noise{Kind: noise.KindValue, Frequency: 0.002, Octaves: 2, Gain: 0.5, Lacunarity: 2},
		},
		Export: Export{
			HeightMinM:     0,
			HeightMaxM:     120,
			HeightQuantumM: 0.01,
			MetersPerPixel: 1,
			GridEdgeLength: 64,
			Compress:       true,
			Palette:        defaultPalette(),
		},
	}
}

func defaultCosts() map[string]float64 {
	inf := math.Inf(1)
	return map[string]float64{
		"void":     inf,
		"ground":   1,
		"water":    inf,
		"obstacle": inf,
		"slope":    3,
		"road":     0.5,
		"wall":     inf,
	}
}

func defaultPalette() map[string]string {
	return map[string]string{
		"void":     "#000000",
		"ground":   "#7fae5a",
		"water":    "#3a6fb0",
		"obstacle": "#8a8580",
		"slope":    "#b59a6a",
		"road":     "#d8cfa8",
		"wall":     "#4a3b32",
	}
}

func (p *Preset) Normalize() {
	if p == nil {
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	for _, n := range []*Noise{&p.Elevation.Noise, &p.Elevation.Terrace.BandNoise, &p.Biomes.Temperature, &p.Biomes.Moisture} {
		n.Kind = strings.ToLower(strings.TrimSpace(n.Kind))
		if n.Kind == "" {
			n.Kind = noise.KindValue
		}
	}
	lower := func(m map[string]float64) map[string]float64 {
		out := make(map[string]float64, len(m))
		for k, v := range m {
			out[strings.ToLower(strings.TrimSpace(k))] = v
		}
		return out
	}
	p.Roads.Costs = lower(p.Roads.Costs)
	pal := make(map[string]string, len(p.Export.Palette))
	for k, v := range p.Export.Palette {
		pal[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	p.Export.Palette = pal
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate reports the first problem found.
func (p Preset) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}
	if p.ChunkSize < 8 {
		return bad("chunk_size must be >= 8, got %d", p.ChunkSize)
	}
	if p.RegionChunks < 1 {
		return bad("region_chunks must be >= 1, got %d", p.RegionChunks)
	}
	if p.Margin < 2 {
		return bad("margin must be >= 2, got %d", p.Margin)
	}

	e := p.Elevation
	if e.MaxHeightM <= 0 {
		return bad("elevation.max_height_m must be > 0, got %v", e.MaxHeightM)
	}
	if e.ShapeExponent <= 0 {
		return bad("elevation.shape_exponent must be > 0, got %v", e.ShapeExponent)
	}
	if e.SmoothPasses < 0 {
		return bad("elevation.smooth_passes must be >= 0, got %d", e.SmoothPasses)
	}
	if err := validateNoise("elevation.noise", e.Noise); err != nil {
		return bad("%v", err)
	}
	if e.Terrace.StepM < 0 {
		return bad("elevation.terrace.step_m must be >= 0, got %v", e.Terrace.StepM)
	}
	if len(e.Terrace.Bands) > 0 {
		if err := validateNoise("elevation.terrace.band_noise", e.Terrace.BandNoise); err != nil {
			return bad("%v", err)
		}
		prev := 0.0
		for i, b := range e.Terrace.Bands {
			if b.StepM <= 0 {
				return bad("elevation.terrace.bands[%d].step_m must be > 0, got %v", i, b.StepM)
			}
			if b.MaxNoise <= prev {
				return bad("elevation.terrace.bands[%d].max_noise must be > %v, got %v", i, prev, b.MaxNoise)
			}
			prev = b.MaxNoise
		}
		if prev != 1 {
			return bad("elevation.terrace.bands must end at max_noise 1, got %v", prev)
		}
	}

	c := p.Classify
	if c.SeaLevelM < 0 || c.MountainLevelM < 0 {
		return bad("classify levels must be >= 0")
	}
	if c.SeaLevelM > c.MountainLevelM {
		return bad("classify.sea_level_m (%v) > mountain_level_m (%v)", c.SeaLevelM, c.MountainLevelM)
	}
	if c.SlopeThresholdM <= 0 {
		return bad("classify.slope_threshold_m must be > 0, got %v", c.SlopeThresholdM)
	}
	if c.SlopeDilation < 0 {
		return bad("classify.slope_dilation must be >= 0, got %d", c.SlopeDilation)
	}

	r := p.Roads
	if r.Width < 1 {
		return bad("roads.width must be >= 1, got %d", r.Width)
	}
	if r.MaxGradePerCellM <= 0 {
		return bad("roads.max_grade_per_cell_m must be > 0, got %v", r.MaxGradePerCellM)
	}
	if r.SlopeCostPerM < 0 {
		return bad("roads.slope_cost_per_m must be >= 0, got %v", r.SlopeCostPerM)
	}
	if r.StructuresPerRegion < 0 {
		return bad("roads.structures_per_region must be >= 0, got %d", r.StructuresPerRegion)
	}
	if r.GateChancePercent < 0 || r.GateChancePercent > 100 {
		return bad("roads.gate_chance_percent must be in [0,100], got %d", r.GateChancePercent)
	}
	if r.GateMargin < 0 || 2*r.GateMargin >= p.ChunkSize {
		return bad("roads.gate_margin must be >= 0 and < chunk_size/2, got %d", r.GateMargin)
	}
	for _, k := range terrain.AllKinds() {
		v, ok := r.Costs[k.String()]
		if !ok {
			return bad("roads.costs missing kind %q", k.String())
		}
		if math.IsNaN(v) || v < 0 {
			return bad("roads.costs[%s] must be >= 0 or .inf, got %v", k, v)
		}
	}
	for name := range r.Costs {
		if _, ok := terrain.ParseKind(name); !ok {
			return bad("roads.costs has unknown kind %q", name)
		}
	}
	if v := r.Costs[terrain.Ground.String()]; math.IsInf(v, 1) {
		return bad("roads.costs[ground] must be finite")
	}

	for _, n := range []struct {
		name string
		n    Noise
	}{{"biomes.temperature", p.Biomes.Temperature}, {"biomes.moisture", p.Biomes.Moisture}} {
		if err := validateNoise(n.name, n.n); err != nil {
			return bad("%v", err)
		}
	}

	x := p.Export
	if x.HeightMinM >= x.HeightMaxM {
		return bad("export.height_min_m (%v) must be < height_max_m (%v)", x.HeightMinM, x.HeightMaxM)
	}
	if x.HeightQuantumM <= 0 {
		return bad("export.height_quantum_m must be > 0, got %v", x.HeightQuantumM)
	}
	// Heights are snapped to the quantum after terracing.
	if e.Terrace.StepM > 0 && !multipleOf(e.Terrace.StepM, x.HeightQuantumM) {
		return bad("elevation.terrace.step_m (%v) must be a multiple of export.height_quantum_m (%v)", e.Terrace.StepM, x.HeightQuantumM)
	}
	for i, b := range e.Terrace.Bands {
		if !multipleOf(b.StepM, x.HeightQuantumM) {
			return bad("elevation.terrace.bands[%d].step_m (%v) must be a multiple of export.height_quantum_m (%v)", i, b.StepM, x.HeightQuantumM)
		}
	}
	if x.MetersPerPixel <= 0 {
		return bad("export.meters_per_pixel must be > 0, got %v", x.MetersPerPixel)
	}
	if x.GridEdgeLength < 0 {
		return bad("export.grid_edge_length must be >= 0, got %d", x.GridEdgeLength)
	}
	for _, k := range terrain.AllKinds() {
		col, ok := x.Palette[k.String()]
		if !ok {
			return bad("export.palette missing kind %q", k.String())
		}
		if !hexColor.MatchString(col) {
			return bad("export.palette[%s] must be #rrggbb, got %q", k, col)
		}
	}
	return nil
}

func multipleOf(v, q float64) bool {
	r := v / q
	return math.Abs(r-math.Round(r)) <= 1e-6
}

func validateNoise(name string, n Noise) error {
	switch n.Kind {
	case noise.KindValue, noise.KindPerlin, noise.KindSimplex:
	default:
		return fmt.Errorf("%s.kind must be %q, %q or %q, got %q", name, noise.KindValue, noise.KindPerlin, noise.KindSimplex, n.Kind)
	}
	if n.Frequency <= 0 {
		return fmt.Errorf("%s.frequency must be > 0, got %v", name, n.Frequency)
	}
	if n.Octaves < 1 {
		return fmt.Errorf("%s.octaves must be >= 1, got %d", name, n.Octaves)
	}
	if n.Gain <= 0 {
		return fmt.Errorf("%s.gain must be > 0, got %v", name, n.Gain)
	}
	if n.Lacunarity <= 0 {
		return fmt.Errorf("%s.lacunarity must be > 0, got %v", name, n.Lacunarity)
	}
	return nil
}

// Digest identifies the effective preset values, so artifacts can be matched
// to the preset that produced them.
func (p Preset) Digest() string {
	b, err := yaml.Marshal(p)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// KindCosts converts the cost map into a dense per-kind table.
func (r Roads) KindCosts() [terrain.NumKinds]float64 {
	var out [terrain.NumKinds]float64
	for _, k := range terrain.AllKinds() {
		v, ok := r.Costs[k.String()]
		if !ok {
			v = math.Inf(1)
		}
		out[k] = v
	}
	return out
}
