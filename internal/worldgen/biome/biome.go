// Package biome scores a climate sample into one of a fixed set of biomes.
package biome

import "fmt"

// Biome ids are written into control maps; do not renumber.
type Biome uint8

const (
	Unknown Biome = iota
	Tundra
	Taiga
	Grassland
	Forest
	Swamp
	Desert
	Savanna
	Jungle

	NumBiomes = 9
)

var names = [NumBiomes]string{
	Unknown:   "unknown",
	Tundra:    "tundra",
	Taiga:     "taiga",
	Grassland: "grassland",
	Forest:    "forest",
	Swamp:     "swamp",
	Desert:    "desert",
	Savanna:   "savanna",
	Jungle:    "jungle",
}

func (b Biome) String() string {
	if b < NumBiomes {
		return names[b]
	}
	return fmt.Sprintf("biome(%d)", uint8(b))
}

func Parse(s string) (Biome, bool) {
	for i, n := range names {
		if n == s {
			return Biome(i), true
		}
	}
	return Unknown, false
}

// Classify maps temperature and moisture, both in [0,1], to a biome. Values
// outside the range are clamped by the bin edges.
func Classify(temperature, moisture float64) Biome {
	switch {
	case temperature < 0.25:
		if moisture < 0.5 {
			return Tundra
		}
		return Taiga
	case temperature < 0.65:
		switch {
		case moisture < 0.35:
			return Grassland
		case moisture < 0.75:
			return Forest
		default:
			return Swamp
		}
	default:
		switch {
		case moisture < 0.3:
			return Desert
		case moisture < 0.6:
			return Savanna
		default:
			return Jungle
		}
	}
}
