package terrain

import "fmt"

// Kind is the closed set of cell kinds. The numeric values are the wire ids
// used in RLE layers and the control map, so they must never be renumbered.
type Kind uint8

const (
	Void Kind = iota
	Ground
	Water
	Obstacle
	Slope
	Road
	Wall

	NumKinds = 7
)

func AllKinds() []Kind {
	return []Kind{Void, Ground, Water, Obstacle, Slope, Road, Wall}
}

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Ground:
		return "ground"
	case Water:
		return "water"
	case Obstacle:
		return "obstacle"
	case Slope:
		return "slope"
	case Road:
		return "road"
	case Wall:
		return "wall"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) Valid() bool {
	return k < NumKinds
}

func ParseKind(s string) (Kind, bool) {
	for _, k := range AllKinds() {
		if k.String() == s {
			return k, true
		}
	}
	return Void, false
}

// KindFromID validates a decoded wire id. Unknown ids are an error rather than
// a silent fallback to ground.
func KindFromID(id int64) (Kind, error) {
	if id < 0 || id >= NumKinds {
		return Void, fmt.Errorf("unknown terrain kind id %d", id)
	}
	return Kind(id), nil
}
