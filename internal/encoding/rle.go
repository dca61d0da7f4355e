// Package encoding run-length encodes 2D grid layers row by row.
package encoding

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"tileworld.ai/internal/worldgen/terrain"
)

// RowsV1 is the only encoding tag this package writes or accepts.
const RowsV1 = "rle_rows_v1"

var (
	ErrRunLength = errors.New("rle: run length must be positive")
	ErrRowWidth  = errors.New("rle: row width mismatch")
	ErrRowCount  = errors.New("rle: row count mismatch")
	ErrEncoding  = errors.New("rle: unknown encoding")
)

// Run is a (value, length) pair. On the wire it is the array [value, run].
type Run struct {
	Value     int64
	RunLength int64
}

func (r Run) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{r.Value, r.RunLength})
}

func (r *Run) UnmarshalJSON(b []byte) error {
	var pair []int64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("rle: bad run: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("rle: run has %d elements, want 2", len(pair))
	}
	r.Value, r.RunLength = pair[0], pair[1]
	return nil
}

type Grid struct {
	Encoding string  `json:"encoding"`
	Rows     [][]Run `json:"rows"`
}

// EncodeRow collapses consecutive equal values. An empty row encodes to an
// empty (non-nil) slice.
func EncodeRow(row []int64) []Run {
	out := make([]Run, 0, 4)
	i := 0
	for i < len(row) {
		v := row[i]
		n := int64(1)
		for j := i + 1; j < len(row) && row[j] == v; j++ {
			n++
		}
		out = append(out, Run{Value: v, RunLength: n})
		i += int(n)
	}
	return out
}

// DecodeRow expands runs and checks the result is exactly width cells.
func DecodeRow(runs []Run, width int) ([]int64, error) {
	out := make([]int64, 0, width)
	for i, r := range runs {
		if r.RunLength <= 0 {
			return nil, fmt.Errorf("%w: run %d has length %d", ErrRunLength, i, r.RunLength)
		}
		if int64(len(out))+r.RunLength > int64(width) {
			return nil, fmt.Errorf("%w: runs exceed width %d", ErrRowWidth, width)
		}
		for k := int64(0); k < r.RunLength; k++ {
			out = append(out, r.Value)
		}
	}
	if len(out) != width {
		return nil, fmt.Errorf("%w: got %d cells, want %d", ErrRowWidth, len(out), width)
	}
	return out, nil
}

// EncodeGrid encodes a row-major width*height layer.
func EncodeGrid(cells []int64, width, height int) (Grid, error) {
	if width < 0 || height < 0 || len(cells) != width*height {
		return Grid{}, fmt.Errorf("%w: %d cells for %dx%d", ErrRowWidth, len(cells), width, height)
	}
	g := Grid{Encoding: RowsV1, Rows: make([][]Run, height)}
	for z := 0; z < height; z++ {
		g.Rows[z] = EncodeRow(cells[z*width : (z+1)*width])
	}
	return g, nil
}

// DecodeGrid expands g into a row-major width*height layer.
func DecodeGrid(g Grid, width, height int) ([]int64, error) {
	if g.Encoding != RowsV1 {
		return nil, fmt.Errorf("%w: %q", ErrEncoding, g.Encoding)
	}
	if len(g.Rows) != height {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrRowCount, len(g.Rows), height)
	}
	out := make([]int64, 0, width*height)
	for z, runs := range g.Rows {
		row, err := DecodeRow(runs, width)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", z, err)
		}
		out = append(out, row...)
	}
	return out, nil
}

func EncodeKinds(kinds []terrain.Kind, width, height int) (Grid, error) {
	cells := make([]int64, len(kinds))
	for i, k := range kinds {
		cells[i] = int64(k)
	}
	return EncodeGrid(cells, width, height)
}

// DecodeKinds rejects ids outside the closed kind set.
func DecodeKinds(g Grid, width, height int) ([]terrain.Kind, error) {
	cells, err := DecodeGrid(g, width, height)
	if err != nil {
		return nil, err
	}
	out := make([]terrain.Kind, len(cells))
	for i, v := range cells {
		k, err := terrain.KindFromID(v)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		out[i] = k
	}
	return out, nil
}

// EncodeHeights quantizes heights to multiples of quantum meters.
func EncodeHeights(elev []float32, quantum float64, width, height int) (Grid, error) {
	if quantum <= 0 {
		return Grid{}, fmt.Errorf("rle: height quantum must be > 0, got %v", quantum)
	}
	cells := make([]int64, len(elev))
	for i, h := range elev {
		cells[i] = int64(math.Round(float64(h) / quantum))
	}
	return EncodeGrid(cells, width, height)
}

func DecodeHeights(g Grid, quantum float64, width, height int) ([]float32, error) {
	if quantum <= 0 {
		return nil, fmt.Errorf("rle: height quantum must be > 0, got %v", quantum)
	}
	cells, err := DecodeGrid(g, width, height)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(cells))
	for i, q := range cells {
		out[i] = float32(float64(q) * quantum)
	}
	return out, nil
}
