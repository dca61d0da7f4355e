// Package elevation builds seam-free height fields.
//
// Heights are a pure function of world coordinates: each request is computed
// over an oversized working window whose margin absorbs the truncated
// neighborhoods of the smoothing passes, then cropped. Two chunks sharing a
// border therefore see identical values without exchanging any state.
package elevation

import (
	"fmt"
	"math"

	"tileworld.ai/internal/worldgen/mathx"
	"tileworld.ai/internal/worldgen/noise"
	"tileworld.ai/internal/worldgen/seed"
)

// MinMargin is the smallest working-window margin ever used.
const MinMargin = 2

type Band struct {
	MaxNoise float64
	StepM    float64
}

type Config struct {
	MaxHeightM    float64
	ShapeExponent float64
	SmoothPasses  int
	Margin        int
	Noise         noise.Params

	// TerraceStepM applies everywhere when Bands is empty; zero disables terracing.
	TerraceStepM float64
	Bands        []Band
	BandNoise    noise.Params
}

type Generator struct {
	cfg    Config
	base   noise.Sampler
	bands  noise.Sampler
	margin int
}

func New(cfg Config, worldSeed uint64) (*Generator, error) {
	base, err := noise.New(cfg.Noise, seed.World(worldSeed, seed.StageElevation))
	if err != nil {
		return nil, fmt.Errorf("elevation noise: %w", err)
	}
	g := &Generator{cfg: cfg, base: base}
	if len(cfg.Bands) > 0 {
		g.bands, err = noise.New(cfg.BandNoise, seed.World(worldSeed, seed.StageTerraceBands))
		if err != nil {
			return nil, fmt.Errorf("terrace band noise: %w", err)
		}
	}
	// Each smoothing pass pulls truncated edge values one cell further in.
	g.margin = mathx.MaxInt(mathx.MaxInt(cfg.Margin, MinMargin), cfg.SmoothPasses)
	return g, nil
}

// Margin is the effective working-window margin.
func (g *Generator) Margin() int { return g.margin }

// Window returns heights for the world rectangle [x0, x0+w) x [z0, z0+h),
// row-major by z.
func (g *Generator) Window(x0, z0, w, h int) []float32 {
	m := g.margin
	ww, wh := w+2*m, h+2*m
	ox, oz := x0-m, z0-m

	work := make([]float64, ww*wh)
	for j := 0; j < wh; j++ {
		for i := 0; i < ww; i++ {
			raw := g.base.Sample(float64(ox+i), float64(oz+j))
			work[i+j*ww] = math.Pow(raw, g.cfg.ShapeExponent) * g.cfg.MaxHeightM
		}
	}

	scratch := make([]float64, len(work))
	for p := 0; p < g.cfg.SmoothPasses; p++ {
		smooth3x3(work, scratch, ww, wh)
		work, scratch = scratch, work
	}

	out := make([]float32, w*h)
	for z := 0; z < h; z++ {
		for x := 0; x < w; x++ {
			v := work[(x+m)+(z+m)*ww]
			out[x+z*w] = float32(terrace(v, g.StepAt(x0+x, z0+z)))
		}
	}
	return out
}

// StepAt returns the terrace step used at a world cell (0 = no terracing).
func (g *Generator) StepAt(wx, wz int) float64 {
	if len(g.cfg.Bands) == 0 {
		return g.cfg.TerraceStepM
	}
	n := g.bands.Sample(float64(wx), float64(wz))
	for _, b := range g.cfg.Bands {
		if n <= b.MaxNoise {
			return b.StepM
		}
	}
	return g.cfg.Bands[len(g.cfg.Bands)-1].StepM
}

func terrace(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step) * step
}

// smooth3x3 writes the 3x3 mean of src into dst; edge cells average only
// their in-bounds neighbors.
func smooth3x3(src, dst []float64, w, h int) {
	for z := 0; z < h; z++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			n := 0
			for dz := -1; dz <= 1; dz++ {
				nz := z + dz
				if nz < 0 || nz >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					sum += src[nx+nz*w]
					n++
				}
			}
			dst[x+z*w] = sum / float64(n)
		}
	}
}
