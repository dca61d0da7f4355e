package terrain

import "testing"

func flat(size int, v float32) []float32 {
	out := make([]float32, size*size)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestClassify_FlatFieldsScenario(t *testing.T) {
	// seed=42, chunk size=16, sea=5, mountain=40
	const size = 16
	for _, tc := range []struct {
		elev float32
		want Kind
	}{
		{3, Water},
		{60, Obstacle},
		{20, Ground},
		{5, Ground},
		{40, Ground},
	} {
		kinds := Classify(flat(size, tc.elev), 5, 40)
		if len(kinds) != size*size {
			t.Fatalf("len=%d want %d", len(kinds), size*size)
		}
		for i, k := range kinds {
			if k != tc.want {
				t.Fatalf("elev=%v cell %d: got %s want %s", tc.elev, i, k, tc.want)
			}
		}
	}
}

func TestMarkSlopes_StepMarksBothSidesWithDilation(t *testing.T) {
	const w, h = 10, 4
	elev := make([]float32, w*h)
	for z := 0; z < h; z++ {
		for x := 5; x < w; x++ {
			elev[x+z*w] = 10
		}
	}
	kinds := Classify(elev, -1, 100)
	n := MarkSlopes(kinds, elev, w, h, SlopeOptions{Threshold: 5, Dilation: 1})
	if n == 0 {
		t.Fatalf("expected slope cells")
	}
	for z := 0; z < h; z++ {
		for x := 0; x < w; x++ {
			got := kinds[x+z*w]
			want := Ground
			if x >= 3 && x <= 6 {
				want = Slope
			}
			if got != want {
				t.Fatalf("cell %d,%d: got %s want %s", x, z, got, want)
			}
		}
	}
}

func TestMarkSlopes_NeverDowngradesObstacle(t *testing.T) {
	const w, h = 3, 1
	elev := []float32{0, 50, 0}
	kinds := []Kind{Ground, Obstacle, Ground}
	MarkSlopes(kinds, elev, w, h, SlopeOptions{Threshold: 1})
	if kinds[1] != Obstacle {
		t.Fatalf("obstacle downgraded to %s", kinds[1])
	}
	if kinds[0] != Slope || kinds[2] != Slope {
		t.Fatalf("neighbors not marked: %v", kinds)
	}
}

func TestMarkSlopes_IgnoreWaterEdges(t *testing.T) {
	elev := []float32{0, 8}
	kinds := []Kind{Water, Water}
	MarkSlopes(kinds, elev, 2, 1, SlopeOptions{Threshold: 1, IgnoreWaterEdges: true})
	if kinds[0] != Water || kinds[1] != Water {
		t.Fatalf("water pair should be ignored: %v", kinds)
	}
	MarkSlopes(kinds, elev, 2, 1, SlopeOptions{Threshold: 1})
	if kinds[0] != Slope || kinds[1] != Slope {
		t.Fatalf("water pair should be marked without the flag: %v", kinds)
	}
}

func TestMarkSlopes_DiagonalOnly(t *testing.T) {
	// Only the diagonal pair (0,0)-(1,1) is steep.
	elev := []float32{0, 2, 2, 4}
	kinds := []Kind{Ground, Ground, Ground, Ground}
	MarkSlopes(kinds, elev, 2, 2, SlopeOptions{Threshold: 3})
	for _, k := range kinds {
		if k != Ground {
			t.Fatalf("axis-only pass marked %v", kinds)
		}
	}
	MarkSlopes(kinds, elev, 2, 2, SlopeOptions{Threshold: 3, Diagonal: true})
	if kinds[0] != Slope || kinds[3] != Slope || kinds[1] != Ground || kinds[2] != Ground {
		t.Fatalf("diagonal pass: %v", kinds)
	}
}

func TestKindFromID(t *testing.T) {
	for _, k := range AllKinds() {
		got, err := KindFromID(int64(k))
		if err != nil || got != k {
			t.Fatalf("round trip %s: %v %v", k, got, err)
		}
		if p, ok := ParseKind(k.String()); !ok || p != k {
			t.Fatalf("parse %s failed", k)
		}
	}
	if _, err := KindFromID(NumKinds); err == nil {
		t.Fatalf("expected error for unknown id")
	}
}
