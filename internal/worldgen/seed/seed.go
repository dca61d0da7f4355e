// Package seed derives independent pseudo-random streams from a world seed.
//
// Every function here is pure: the same inputs always produce the same
// output on every machine.
package seed

import "tileworld.ai/internal/worldgen/mathx"

// Stage tags one generation pass so that passes over the same chunk draw
// from unrelated streams.
type Stage uint64

const (
	StageElevation Stage = iota + 1
	StageTerraceBands
	StageRoads
	StageGates
	StageTemperature
	StageMoisture
)

func (s Stage) String() string {
	switch s {
	case StageElevation:
		return "elevation"
	case StageTerraceBands:
		return "terrace_bands"
	case StageRoads:
		return "roads"
	case StageGates:
		return "gates"
	case StageTemperature:
		return "temperature"
	case StageMoisture:
		return "moisture"
	default:
		return "unknown"
	}
}

const (
	stageSalt = 0xd1b54a32d192ed03
	axisSaltX = 0x8cb92ba72f3d8dd7
	axisSaltZ = 0xabc98388fb8fac03
)

// Derive mixes the world seed with a chunk (or region) coordinate and a
// stage into a 64-bit stream seed.
func Derive(world uint64, cx, cz int32, stage Stage) uint64 {
	h := mathx.Mix64(world ^ (uint64(stage) * stageSalt))
	h = mathx.Mix64(h ^ (uint64(uint32(cx)) * axisSaltX))
	h = mathx.Mix64(h ^ (uint64(uint32(cz)) * axisSaltZ))
	return h
}

// World returns a chunk-independent stream for fields that are sampled in
// world coordinates. Noise seeded from a per-chunk value would break seams.
func World(world uint64, stage Stage) uint64 {
	return mathx.Mix64(world ^ (uint64(stage) * stageSalt))
}

// EdgeKey returns a value shared by two neighboring chunks. The pair is put in
// canonical order first, so EdgeKey(a, b) == EdgeKey(b, a) and each side can
// compute it without talking to the other.
func EdgeKey(world uint64, cx1, cz1, cx2, cz2 int32) uint64 {
	if cx2 < cx1 || (cx2 == cx1 && cz2 < cz1) {
		cx1, cz1, cx2, cz2 = cx2, cz2, cx1, cz1
	}
	h := Derive(world, cx1, cz1, StageGates)
	h = mathx.Mix64(h ^ (uint64(uint32(cx2)) * axisSaltZ))
	h = mathx.Mix64(h ^ (uint64(uint32(cz2)) * axisSaltX))
	return h
}

// Stream is a splitmix64 sequence.
type Stream struct {
	state uint64
}

func NewStream(s uint64) *Stream {
	return &Stream{state: s}
}

func (s *Stream) Uint64() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn returns a value in [0, n). n must be > 0.
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Uint64() % uint64(n))
}

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}
