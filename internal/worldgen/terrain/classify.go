package terrain

import "tileworld.ai/internal/worldgen/mathx"

// Classify thresholds elevation into water, ground and obstacle.
func Classify(elev []float32, seaLevel, mountainLevel float64) []Kind {
	out := make([]Kind, len(elev))
	for i, e := range elev {
		out[i] = ClassifyCell(float64(e), seaLevel, mountainLevel)
	}
	return out
}

func ClassifyCell(e, seaLevel, mountainLevel float64) Kind {
	switch {
	case e < seaLevel:
		return Water
	case e > mountainLevel:
		return Obstacle
	default:
		return Ground
	}
}

type SlopeOptions struct {
	Threshold        float64
	Diagonal         bool
	Dilation         int
	IgnoreWaterEdges bool
}

// MarkSlopes converts cells around steep neighbor pairs into Slope. Only
// ground and water cells are rewritten; slope and obstacle stay as they are.
// kinds and elev are w*h row-major. It returns the number of cells converted.
func MarkSlopes(kinds []Kind, elev []float32, w, h int, opt SlopeOptions) int {
	if opt.Threshold <= 0 || w <= 0 || h <= 0 {
		return 0
	}
	steep := make([]bool, w*h)
	offsets := [][2]int{{1, 0}, {0, 1}}
	if opt.Diagonal {
		offsets = append(offsets, [2]int{1, 1}, [2]int{-1, 1})
	}
	for z := 0; z < h; z++ {
		for x := 0; x < w; x++ {
			i := x + z*w
			for _, o := range offsets {
				nx, nz := x+o[0], z+o[1]
				if nx < 0 || nx >= w || nz >= h {
					continue
				}
				j := nx + nz*w
				d := float64(elev[i]) - float64(elev[j])
				if d < 0 {
					d = -d
				}
				if d < opt.Threshold {
					continue
				}
				if opt.IgnoreWaterEdges && kinds[i] == Water && kinds[j] == Water {
					continue
				}
				steep[i] = true
				steep[j] = true
			}
		}
	}

	r := opt.Dilation
	converted := 0
	for z := 0; z < h; z++ {
		for x := 0; x < w; x++ {
			i := x + z*w
			if !convertible(kinds[i]) || !nearSteep(steep, w, h, x, z, r) {
				continue
			}
			kinds[i] = Slope
			converted++
		}
	}
	return converted
}

func convertible(k Kind) bool {
	switch k {
	case Ground, Water:
		return true
	case Void, Obstacle, Slope, Road, Wall:
		return false
	}
	return false
}

func nearSteep(steep []bool, w, h, x, z, r int) bool {
	for dz := -r; dz <= r; dz++ {
		nz := z + dz
		if nz < 0 || nz >= h {
			continue
		}
		for dx := -r; dx <= r; dx++ {
			nx := x + dx
			if nx < 0 || nx >= w {
				continue
			}
			if mathx.Chebyshev(x, z, nx, nz) <= r && steep[nx+nz*w] {
				return true
			}
		}
	}
	return false
}
