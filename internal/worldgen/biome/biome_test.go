package biome

import "testing"

func TestClassify_Corners(t *testing.T) {
	cases := []struct {
		temp, moist float64
		want        Biome
	}{
		{0, 0, Tundra},
		{0.1, 0.9, Taiga},
		{0.5, 0.1, Grassland},
		{0.5, 0.5, Forest},
		{0.5, 0.9, Swamp},
		{0.9, 0.1, Desert},
		{0.9, 0.45, Savanna},
		{1, 1, Jungle},
		{-3, 7, Taiga},
	}
	for _, tc := range cases {
		if got := Classify(tc.temp, tc.moist); got != tc.want {
			t.Fatalf("Classify(%v,%v)=%s want %s", tc.temp, tc.moist, got, tc.want)
		}
	}
}

func TestParse_AllNames(t *testing.T) {
	for b := Biome(0); b < NumBiomes; b++ {
		got, ok := Parse(b.String())
		if !ok || got != b {
			t.Fatalf("Parse(%q)=%v,%v", b.String(), got, ok)
		}
	}
	if _, ok := Parse("lava"); ok {
		t.Fatalf("unexpected biome lava")
	}
}
