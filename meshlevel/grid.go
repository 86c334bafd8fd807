package meshlevel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mastercactapus/gstream/coord"
)

// Grid is a regular grid of probed heights with bilinear interpolation
// between samples.
//
// Samples are visited in boustrophedon order: rows of increasing Y,
// alternating the X direction on every row.
type Grid struct {
	xs, ys  []float64
	z       [][]float64
	set     [][]bool
	missing int
	spacing float64
}

var _ HeightMap = &Grid{}

func axisSamples(a, b, spacing float64) []float64 {
	if b < a {
		a, b = b, a
	}
	n := int(math.Ceil((b-a)/spacing)) + 1
	if n == 1 {
		return []float64{a}
	}

	step := (b - a) / float64(n-1)
	res := make([]float64, n)
	for i := range res {
		res[i] = a + step*float64(i)
	}
	res[n-1] = b
	return res
}

// NewGrid creates an empty grid covering both ranges inclusively.
//
// Each axis gets ceil(range/spacing)+1 evenly spread samples.
func NewGrid(x0, x1, y0, y1, spacing float64) (*Grid, error) {
	if spacing <= 0 || math.IsNaN(spacing) {
		return nil, fmt.Errorf("invalid grid spacing %g", spacing)
	}
	return newGrid(axisSamples(x0, x1, spacing), axisSamples(y0, y1, spacing), spacing), nil
}

func newGrid(xs, ys []float64, spacing float64) *Grid {
	g := &Grid{
		xs:      xs,
		ys:      ys,
		z:       make([][]float64, len(ys)),
		set:     make([][]bool, len(ys)),
		missing: len(xs) * len(ys),
		spacing: spacing,
	}
	for i := range g.z {
		g.z[i] = make([]float64, len(xs))
		g.set[i] = make([]bool, len(xs))
	}
	return g
}

// Len returns the number of samples in the grid.
func (g *Grid) Len() int { return len(g.xs) * len(g.ys) }

func (g *Grid) Spacing() float64 { return g.spacing }

func (g *Grid) cell(i int) (ix, iy int) {
	iy = i / len(g.xs)
	ix = i % len(g.xs)
	if iy%2 == 1 {
		ix = len(g.xs) - 1 - ix
	}
	return ix, iy
}

// ProbePoints returns the sample positions in visiting order.
func (g *Grid) ProbePoints() []coord.Point {
	res := make([]coord.Point, g.Len())
	for i := range res {
		ix, iy := g.cell(i)
		res[i] = coord.Point{X: g.xs[ix], Y: g.ys[iy]}
	}
	return res
}

// SetHeight records z+extra for the sample at visiting index i.
func (g *Grid) SetHeight(i int, z, extra float64) error {
	if i < 0 || i >= g.Len() {
		return fmt.Errorf("probe index %d out of range [0,%d)", i, g.Len())
	}
	ix, iy := g.cell(i)
	if !g.set[iy][ix] {
		g.set[iy][ix] = true
		g.missing--
	}
	g.z[iy][ix] = z + extra
	return nil
}

func (g *Grid) IsComplete() bool { return g.missing == 0 }

// bracket returns the samples around v and the weight of the upper one.
// Values outside the axis clamp to the edge sample.
func bracket(vals []float64, v float64) (lo, hi int, t float64) {
	last := len(vals) - 1
	if v <= vals[0] {
		return 0, 0, 0
	}
	if v >= vals[last] {
		return last, last, 0
	}
	for i := 0; i < last; i++ {
		if v < vals[i+1] {
			return i, i + 1, (v - vals[i]) / (vals[i+1] - vals[i])
		}
	}
	return last, last, 0
}

// HeightAt returns the interpolated height at x,y.
func (g *Grid) HeightAt(x, y float64) (float64, error) {
	if !g.IsComplete() {
		return 0, ErrIncomplete
	}

	x0, x1, tx := bracket(g.xs, x)
	y0, y1, ty := bracket(g.ys, y)

	lower := g.z[y0][x0]*(1-tx) + g.z[y0][x1]*tx
	upper := g.z[y1][x0]*(1-tx) + g.z[y1][x1]*tx

	return lower*(1-ty) + upper*ty, nil
}

type gridJSON struct {
	X       []float64    `json:"x"`
	Y       []float64    `json:"y"`
	Z       [][]*float64 `json:"z"`
	Spacing float64      `json:"spacing"`
}

// MarshalJSON encodes the grid, with unset samples as null.
func (g *Grid) MarshalJSON() ([]byte, error) {
	data := gridJSON{
		X:       g.xs,
		Y:       g.ys,
		Z:       make([][]*float64, len(g.ys)),
		Spacing: g.spacing,
	}
	for iy := range g.z {
		data.Z[iy] = make([]*float64, len(g.xs))
		for ix := range g.z[iy] {
			if g.set[iy][ix] {
				z := g.z[iy][ix]
				data.Z[iy][ix] = &z
			}
		}
	}
	return json.Marshal(data)
}

func (g *Grid) UnmarshalJSON(b []byte) error {
	var data gridJSON
	err := json.Unmarshal(b, &data)
	if err != nil {
		return err
	}
	if len(data.X) == 0 || len(data.Y) == 0 || data.Spacing <= 0 {
		return errors.New("invalid grid")
	}
	if len(data.Z) != len(data.Y) {
		return fmt.Errorf("grid has %d rows, expected %d", len(data.Z), len(data.Y))
	}

	n := newGrid(data.X, data.Y, data.Spacing)
	for iy, row := range data.Z {
		if len(row) != len(data.X) {
			return fmt.Errorf("grid row %d has %d columns, expected %d", iy, len(row), len(data.X))
		}
		for ix, z := range row {
			if z == nil {
				continue
			}
			n.z[iy][ix] = *z
			n.set[iy][ix] = true
			n.missing--
		}
	}

	*g = *n
	return nil
}
