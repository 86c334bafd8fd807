package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2, Z: 3}
	b := Point{X: 4, Y: 5, Z: 6}

	assert.Equal(t, Point{X: 5, Y: 7, Z: 9}, a.Add(b))
	assert.Equal(t, Point{X: -3, Y: -3, Z: -3}, a.Sub(b))
	assert.Equal(t, Point{X: 2, Y: 4, Z: 6}, a.Mul(2))
}

func TestPoint_Distance(t *testing.T) {
	dist := Point{X: 1, Y: 2, Z: 3}.Distance(Point{X: 4, Y: 6, Z: 3})
	assert.Equal(t, 5.0, dist)
}

func TestPoint_MinMax(t *testing.T) {
	a := Point{X: 1, Y: -2, Z: 3}
	b := Point{X: -1, Y: 2, Z: 3}

	assert.Equal(t, Point{X: -1, Y: -2, Z: 3}, a.Min(b))
	assert.Equal(t, Point{X: 1, Y: 2, Z: 3}, a.Max(b))
}

func TestPoint_Split(t *testing.T) {
	var a Point
	b := Point{X: 10, Y: 10, Z: 10}

	assert.Equal(t, []Point{{X: 5, Y: 5, Z: 5}, {X: 10, Y: 10, Z: 10}}, a.Split(b, 2))

	a = Point{X: 10, Y: 10, Z: 10}
	b = Point{X: 20, Y: 20, Z: 20}
	assert.Equal(t,
		[]Point{{X: 12.5, Y: 12.5, Z: 12.5}, {X: 15, Y: 15, Z: 15}, {X: 17.5, Y: 17.5, Z: 17.5}, {X: 20, Y: 20, Z: 20}},
		a.Split(b, 4),
	)
	assert.Equal(t, []Point{b}, a.Split(b, 0))

	a = Point{X: 0.1, Y: 0.2}
	b = Point{X: 0.7, Y: 0.3, Z: 0.3}
	res := a.Split(b, 3)
	assert.Len(t, res, 3)
	assert.Equal(t, b, res[2])
}
