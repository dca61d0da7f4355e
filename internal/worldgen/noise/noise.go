// Package noise provides coherent 2D fractal noise sampled in world
// coordinates. Samplers hold no per-chunk state, so any chunk sampling the
// same world position sees the same value.
package noise

import (
	"fmt"
	"math"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"

	"tileworld.ai/internal/worldgen/mathx"
)

const (
	KindValue   = "value"
	KindPerlin  = "perlin"
	KindSimplex = "simplex"
)

// Params configures a fractal field.
type Params struct {
	Kind       string
	Frequency  float64
	Octaves    int
	Gain       float64
	Lacunarity float64
}

// Sampler returns a value in [0,1] for a world position.
type Sampler interface {
	Sample(x, z float64) float64
}

// New builds the sampler selected by p.Kind.
func New(p Params, seed uint64) (Sampler, error) {
	if p.Octaves < 1 {
		return nil, fmt.Errorf("noise: octaves must be >= 1, got %d", p.Octaves)
	}
	if p.Gain <= 0 {
		return nil, fmt.Errorf("noise: gain must be > 0, got %v", p.Gain)
	}
	switch p.Kind {
	case KindValue, "":
		return &Value{p: p, seed: seed}, nil
	case KindPerlin:
		return NewPerlin(p, seed), nil
	case KindSimplex:
		return NewSimplex(p, seed), nil
	default:
		return nil, fmt.Errorf("noise: unknown kind %q", p.Kind)
	}
}

// Value is hash-lattice value noise summed over octaves.
type Value struct {
	p    Params
	seed uint64
}

func (v *Value) Sample(x, z float64) float64 {
	x *= v.p.Frequency
	z *= v.p.Frequency
	amplitude := 1.0
	sum := 0.0
	norm := 0.0
	for i := 0; i < v.p.Octaves; i++ {
		sum += valueNoise2D(x, z, v.seed+uint64(i)*131) * amplitude
		norm += amplitude
		amplitude *= v.p.Gain
		x *= v.p.Lacunarity
		z *= v.p.Lacunarity
	}
	if norm == 0 {
		return 0
	}
	return mathx.Clamp01(sum / norm)
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func lattice(x, z int, seed uint64) float64 {
	h := mathx.Hash2(seed, x, z)
	return float64(h&0xFFFFFFFF) / float64(0xFFFFFFFF)
}

func valueNoise2D(x, z float64, seed uint64) float64 {
	x0 := math.Floor(x)
	z0 := math.Floor(z)
	fx := fade(x - x0)
	fz := fade(z - z0)
	ix, iz := int(x0), int(z0)

	v00 := lattice(ix, iz, seed)
	v10 := lattice(ix+1, iz, seed)
	v01 := lattice(ix, iz+1, seed)
	v11 := lattice(ix+1, iz+1, seed)
	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fz)
}

// perlinSpan is the practical amplitude of 2D gradient noise; it maps the
// normalized octave sum onto [0,1].
const perlinSpan = math.Sqrt2 / 2

// Perlin wraps go-perlin's gradient noise.
type Perlin struct {
	p    Params
	gen  *perlin.Perlin
	norm float64
}

func NewPerlin(p Params, seed uint64) *Perlin {
	// go-perlin divides octave i by alpha^i, so alpha is the inverse gain.
	alpha := 1 / p.Gain
	norm := 0.0
	w := 1.0
	for i := 0; i < p.Octaves; i++ {
		norm += w
		w /= alpha
	}
	return &Perlin{
		p:    p,
		gen:  perlin.NewPerlin(alpha, p.Lacunarity, int32(p.Octaves), int64(seed)),
		norm: norm,
	}
}

func (n *Perlin) Sample(x, z float64) float64 {
	v := n.gen.Noise2D(x*n.p.Frequency, z*n.p.Frequency) / n.norm
	return mathx.Clamp01(0.5 + v/(2*perlinSpan))
}

// Simplex sums normalized OpenSimplex octaves.
type Simplex struct {
	p     Params
	noise opensimplex.Noise
}

func NewSimplex(p Params, seed uint64) *Simplex {
	return &Simplex{p: p, noise: opensimplex.NewNormalized(int64(seed))}
}

func (n *Simplex) Sample(x, z float64) float64 {
	freq := n.p.Frequency
	amplitude := 1.0
	total, maxVal := 0.0, 0.0
	for i := 0; i < n.p.Octaves; i++ {
		total += n.noise.Eval2(x*freq, z*freq) * amplitude
		maxVal += amplitude
		amplitude *= n.p.Gain
		freq *= n.p.Lacunarity
	}
	return mathx.Clamp01(total / maxVal)
}
