package mathx

import "math"

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Chebyshev returns the king-move distance between two cells.
func Chebyshev(ax, az, bx, bz int) int {
	return MaxInt(AbsInt(ax-bx), AbsInt(az-bz))
}

func Manhattan(ax, az, bx, bz int) int {
	return AbsInt(ax-bx) + AbsInt(az-bz)
}

// Octile is the exact 8-neighbor distance with unit orthogonal and √2 diagonal steps.
func Octile(ax, az, bx, bz int) float64 {
	dx := AbsInt(ax - bx)
	dz := AbsInt(az - bz)
	lo, hi := dx, dz
	if lo > hi {
		lo, hi = hi, lo
	}
	return float64(hi-lo) + math.Sqrt2*float64(lo)
}

// Mix64 is the splitmix64 finalizer: golden-ratio increment, then two
// xor-shift/multiply rounds.
func Mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed uint64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := seed ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return Mix64(v)
}
