package gcode

import (
	"testing"

	"github.com/mastercactapus/gstream/coord"
	"github.com/stretchr/testify/assert"
)

func TestMovement_Split(t *testing.T) {
	mv := Movement{Kind: Linear, Start: coord.Point{X: 1}, End: coord.Point{X: 16, Y: 20}}
	assert.Equal(t, 25.0, mv.Length())

	res := mv.Split(10)
	assert.Len(t, res, 3)

	start := mv.Start
	for _, seg := range res {
		assert.Equal(t, start, seg.Start)
		assert.True(t, seg.Length() <= 10+1e-9)
		assert.Equal(t, Linear, seg.Kind)
		start = seg.End
	}
	assert.Equal(t, mv.End, res[2].End)

	assert.Len(t, mv.Split(30), 1)
	assert.Len(t, mv.Split(0), 1)
}

func TestMovement_SplitUnsplittable(t *testing.T) {
	arc := Movement{Kind: ArcCW, End: coord.Point{X: 100}, I: 50}
	assert.Equal(t, []Movement{arc}, arc.Split(1))

	e := 5.0
	extrude := Movement{Kind: Linear, End: coord.Point{X: 100}, E: &e}
	assert.Len(t, extrude.Split(1), 1)
}

func TestMovement_Block(t *testing.T) {
	f := 254.0
	mv := Movement{Kind: Linear, End: coord.Point{X: 25.4, Y: -12.7}, F: &f, Inches: true}
	assert.Equal(t, "G1X1Y-0.5Z0F10", mv.Block().String())

	mv = Movement{Kind: ArcCCW, End: coord.Point{X: 10, Y: 10, Z: 1}, I: 10}
	assert.Equal(t, "G3X10Y10Z1I10J0", mv.Block().String())
}
