package gcode

import (
	"math"
	"testing"

	"github.com/mastercactapus/gstream/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeAll(t *testing.T, in *Interpreter, lines ...string) {
	t.Helper()
	for _, l := range lines {
		_, err := in.Analyze(l)
		require.NoError(t, err, l)
	}
}

func TestInterpreter_Units(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G91", "G20", "G1 X1 F100")
	assert.InDelta(t, 25.4, in.Position().X, 1e-9)
	assert.InDelta(t, 2540, in.Feed(), 1e-9)
	assert.False(t, in.Metric())

	analyzeAll(t, in, "G21", "G1 X1 F100")
	assert.InDelta(t, 26.4, in.Position().X, 1e-9)
	assert.Equal(t, 100.0, in.Feed())
	assert.True(t, in.Metric())

	in.Reset()
	analyzeAll(t, in, "G20", "G1 X1", "G21")
	assert.InDelta(t, 25.4, in.Position().X, 1e-9)
	analyzeAll(t, in, "G1 X1")
	assert.Equal(t, 1.0, in.Position().X)
}

func TestInterpreter_FullCircle(t *testing.T) {
	in := NewInterpreter()
	mv, err := in.Analyze("G91 G2 X0 Y0 I5 J0")
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.Equal(t, ArcCW, mv.Kind)
	assert.Equal(t, coord.Point{}, in.Position())

	min, max := in.Bounds()
	assert.InDelta(t, 0, min.X, 1e-9)
	assert.InDelta(t, -5, min.Y, 1e-9)
	assert.InDelta(t, 10, max.X, 1e-9)
	assert.InDelta(t, 5, max.Y, 1e-9)

	assert.InDelta(t, 2*math.Pi*5, in.Travel(), 1e-9)
}

func TestInterpreter_Arc(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G0 X10 Y0")
	travel := in.Travel()

	mv, err := in.Analyze("G3 X0 Y10 I-10 J0")
	require.NoError(t, err)
	assert.Equal(t, -10.0, mv.I)
	assert.InDelta(t, math.Pi/2*10, in.Travel()-travel, 1e-9)
	min, max := in.Bounds()
	assert.Equal(t, coord.Point{}, min)
	assert.InDelta(t, 10, max.X, 1e-9)
	assert.InDelta(t, 10, max.Y, 1e-9)

	in.Reset()
	analyzeAll(t, in, "G0 X10 Y0")
	travel = in.Travel()
	analyzeAll(t, in, "G2 X0 Y10 I-10 J0")
	assert.InDelta(t, 3*math.Pi/2*10, in.Travel()-travel, 1e-9)
	min, _ = in.Bounds()
	assert.InDelta(t, -10, min.X, 1e-9)
	assert.InDelta(t, -10, min.Y, 1e-9)
}

func TestInterpreter_Undo(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G1 X5 Y1 F500")
	before := in.Position()

	mv, err := in.Analyze("G1 X10 Y7")
	require.NoError(t, err)
	assert.Equal(t, mv, in.LastMovement())

	in.Undo()
	assert.Equal(t, before, in.Position())
	assert.Nil(t, in.LastMovement())

	// bounds keep what was visited
	_, max := in.Bounds()
	assert.Equal(t, 10.0, max.X)

	// a line without motion has nothing to undo
	analyzeAll(t, in, "G1 X3")
	analyzeAll(t, in, "M5")
	in.Undo()
	assert.Equal(t, 3.0, in.Position().X)
}

func TestInterpreter_UndoOffsets(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G0 X10")

	analyzeAll(t, in, "G92 X0")
	assert.Equal(t, 0.0, in.Position().X)
	in.Undo()
	assert.Equal(t, coord.Point{X: 10}, in.Position())
	assert.Equal(t, coord.Point{X: 10}, in.MachinePosition())
	assert.Equal(t, coord.Point{}, in.Offset())

	analyzeAll(t, in, "G10 L20 P0 Y5")
	in.Undo()
	assert.Equal(t, coord.Point{}, in.Offset())

	// travel and bounds stand
	travel := in.Travel()
	analyzeAll(t, in, "G0 X20")
	in.Undo()
	assert.Equal(t, travel+10, in.Travel())
	_, max := in.Bounds()
	assert.Equal(t, 20.0, max.X)
	assert.Equal(t, 10.0, in.Position().X)
}

func TestInterpreter_UndoModes(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G20")
	in.Undo()
	assert.True(t, in.Metric())

	analyzeAll(t, in, "G91 G0 X1")
	in.Undo()
	assert.False(t, in.Relative())
	assert.Equal(t, 0.0, in.Position().X)

	// only the last line is undone
	analyzeAll(t, in, "G91")
	analyzeAll(t, in, "G0 X2")
	in.Undo()
	in.Undo()
	assert.True(t, in.Relative())
	assert.Equal(t, 0.0, in.Position().X)

	// nothing to undo past a status report
	analyzeAll(t, in, "G0 X3")
	p := coord.Point{X: 7}
	in.SyncStatus(nil, &p)
	in.Undo()
	assert.Equal(t, 7.0, in.Position().X)
}

func TestInterpreter_BoundsMonotonic(t *testing.T) {
	in := NewInterpreter()
	var lastMin, lastMax coord.Point
	for _, l := range []string{"G0 X5", "G1 Y-3", "G1 X-2 Z4", "G0 X0 Y0 Z0", "G1 X1"} {
		analyzeAll(t, in, l)
		min, max := in.Bounds()
		assert.Equal(t, lastMin, lastMin.Max(min), l)
		assert.Equal(t, max, lastMax.Max(max), l)
		lastMin, lastMax = min, max
	}
	assert.Equal(t, coord.Point{X: -2, Y: -3}, lastMin)
	assert.Equal(t, coord.Point{X: 5, Z: 4}, lastMax)
}

func TestInterpreter_MachineCoords(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G0 X10", "G92 X0")
	assert.Equal(t, 0.0, in.Position().X)
	assert.Equal(t, -10.0, in.Offset().X)
	assert.Equal(t, 10.0, in.MachinePosition().X)

	mv, err := in.Analyze("G53 G0 X20")
	require.NoError(t, err)
	assert.Equal(t, 10.0, mv.End.X)
	assert.Equal(t, 20.0, in.MachinePosition().X)

	// single line only
	analyzeAll(t, in, "G0 X0")
	assert.Equal(t, 10.0, in.MachinePosition().X)
}

func TestInterpreter_MachineCoordsRelative(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G0 X3")

	_, err := in.Analyze("G91 G53 G0 X1")
	assert.ErrorIs(t, err, ErrMachineRelative)
	assert.False(t, in.Relative())
	assert.Equal(t, 3.0, in.Position().X)

	analyzeAll(t, in, "G91")
	_, err = in.Analyze("G53 G1 X5")
	assert.ErrorIs(t, err, ErrMachineRelative)
	assert.Equal(t, 3.0, in.Position().X)

	// the flag does not leak into the next line
	analyzeAll(t, in, "G1 X1")
	assert.Equal(t, 4.0, in.Position().X)
}

func TestInterpreter_CoordinateSystem(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G0 X10 Y10", "G10 L20 P0 X5")
	assert.Equal(t, coord.Point{X: 5, Y: 10}, in.Position())
	assert.Equal(t, coord.Point{X: 10, Y: 10}, in.MachinePosition())

	analyzeAll(t, in, "G10 L2 P1 X3 Y4")
	assert.Equal(t, coord.Point{X: -3, Y: -4}, in.Offset())
	assert.Equal(t, coord.Point{X: 7, Y: 6}, in.Position())
	assert.Equal(t, coord.Point{X: 10, Y: 10}, in.MachinePosition())

	analyzeAll(t, in, "G20", "G92 X1")
	assert.InDelta(t, 25.4, in.Position().X, 1e-9)
	assert.InDelta(t, 15.4, in.Offset().X, 1e-9)
}

func TestInterpreter_Home(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G0 X10 Y10 Z3", "G92 X0")

	analyzeAll(t, in, "G28 X")
	hx, hy, hz := in.Homed()
	assert.True(t, hx)
	assert.False(t, hy)
	assert.False(t, hz)
	assert.Equal(t, coord.Point{Y: 10, Z: 3}, in.Position())

	analyzeAll(t, in, "$H")
	hx, hy, hz = in.Homed()
	assert.True(t, hx && hy && hz)
	assert.Equal(t, coord.Point{}, in.Position())
	assert.Equal(t, coord.Point{}, in.Offset())
}

func TestInterpreter_ModalMotion(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "G1 X1 F500")

	mv, err := in.Analyze("X2 Y3")
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.Equal(t, Linear, mv.Kind)
	assert.Equal(t, coord.Point{X: 2, Y: 3}, in.Position())

	mv, err = in.Analyze("G0 G90 X0 Y0")
	require.NoError(t, err)
	assert.Equal(t, Rapid, mv.Kind)
}

func TestInterpreter_Time(t *testing.T) {
	in := NewInterpreter()
	in.SetRapidFeed(5000)
	analyzeAll(t, in, "G1 X100 F1000")
	assert.InDelta(t, 0.1, in.Time(), 1e-9)

	analyzeAll(t, in, "G0 X0")
	assert.InDelta(t, 0.12, in.Time(), 1e-9)
	assert.Equal(t, 200.0, in.Travel())

	analyzeAll(t, in, "G1 X10 F0")
	assert.InDelta(t, 0.12, in.Time(), 1e-9)
	assert.Equal(t, 210.0, in.Travel())
}

func TestInterpreter_Extruder(t *testing.T) {
	in := NewInterpreter()
	analyzeAll(t, in, "M83", "G1 E5", "G1 E5")
	assert.True(t, in.ERelative())
	assert.Equal(t, 10.0, in.E())

	mv, err := in.Analyze("M82 G1 E3")
	require.NoError(t, err)
	require.NotNil(t, mv.E)
	assert.Equal(t, 3.0, *mv.E)
	assert.Equal(t, 3.0, in.E())
}

func TestInterpreter_Ignored(t *testing.T) {
	in := NewInterpreter()
	for _, l := range []string{"", "@pause", "(just a comment)", "; another", "$$", "M3 S1000"} {
		mv, err := in.Analyze(l)
		assert.NoError(t, err, l)
		assert.Nil(t, mv, l)
	}
	assert.Equal(t, coord.Point{}, in.Position())
}

func TestInterpreter_SyncStatus(t *testing.T) {
	in := NewInterpreter()
	in.SyncStatus(&coord.Point{X: 1, Y: 2, Z: 3}, &coord.Point{X: 0, Y: 1, Z: 3})
	assert.Equal(t, coord.Point{X: 0, Y: 1, Z: 3}, in.Position())
	assert.Equal(t, coord.Point{X: -1, Y: -1}, in.Offset())

	in.SyncStatus(&coord.Point{X: 5, Y: 5, Z: 5}, nil)
	assert.Equal(t, coord.Point{X: 4, Y: 4, Z: 5}, in.Position())

	in.SyncStatus(nil, &coord.Point{X: 9})
	assert.Equal(t, coord.Point{X: 9}, in.Position())
	assert.Equal(t, coord.Point{X: -1, Y: -1}, in.Offset())
}
