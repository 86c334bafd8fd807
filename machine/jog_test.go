package machine

import (
	"testing"
	"time"

	"github.com/mastercactapus/gstream/coord"
	"github.com/stretchr/testify/assert"
)

func TestJogger_RelativeMove(t *testing.T) {
	f := newFake()
	f.inches = true
	j := NewJogger(f, nil)

	assert.True(t, j.RelativeMove(coord.Point{X: 1, Z: -0.5}, 0))
	j.Wait()
	assert.Equal(t, []string{"G91", "G21", "G0X1Z-0.5"}, f.Commands())
	assert.Equal(t, []bool{false, false, true}, f.Waits())
	assert.Equal(t, Ready, f.Current())

	assert.True(t, j.RelativeMove(coord.Point{Y: 2}, 500))
	j.Wait()
	assert.Equal(t, "G1Y2F500", f.Commands()[3])
	assert.Len(t, f.Commands(), 4)
}

func TestJogger_AbsoluteMove(t *testing.T) {
	f := newFake()
	f.relative = true
	j := NewJogger(f, nil)

	assert.True(t, j.AbsoluteMove(coord.Point{X: 1, Y: 2}, 0))
	j.Wait()
	assert.Equal(t, []string{"G90", "G0X1Y2Z0"}, f.Commands())
	assert.Equal(t, []bool{false, true}, f.Waits())
}

func TestJogger_Jog(t *testing.T) {
	f := newFake()
	f.jogs = true
	f.inches = true
	j := NewJogger(f, nil)

	// 600mm/min for 200ms
	assert.True(t, j.RelativeMove(coord.Point{X: 1}, 600))
	j.Wait()
	assert.Equal(t, []string{"$J=G91G21X2F600"}, f.Commands())
	assert.Equal(t, []bool{false}, f.Waits())

	j.Interval = 0
	assert.True(t, j.RelativeMove(coord.Point{X: 3, Y: -4}, 100))
	j.Wait()
	assert.Equal(t, "$J=G91G21X3Y-4F100", f.Commands()[1])

	// modes are left alone
	rel, metric := f.Modes()
	assert.False(t, rel)
	assert.False(t, metric)

	// rapid moves cannot be jogged
	assert.True(t, j.RelativeMove(coord.Point{Z: 1}, 0))
	j.Wait()
	assert.Equal(t, []string{"G91", "G21", "G0Z1"}, f.Commands()[2:])
}

func TestJogLine(t *testing.T) {
	assert.Equal(t, "$J=G91G21X0.6Y0.8F300", jogLine(coord.Point{X: 3, Y: 4}, 300, 200*time.Millisecond))
	assert.Equal(t, "$J=G91G21Z-0.5F50", jogLine(coord.Point{Z: -0.5}, 50, 0))
}

func TestJogger_Drop(t *testing.T) {
	f := newFake()
	release := make(chan struct{})
	f.onCommand = func(string) { <-release }
	j := NewJogger(f, nil)

	assert.True(t, j.RelativeMove(coord.Point{X: 1}, 0))
	assert.True(t, j.IsBusy())
	assert.False(t, j.RelativeMove(coord.Point{X: 2}, 0))
	assert.False(t, j.AbsoluteMove(coord.Point{}, 0))

	close(release)
	j.Wait()
	assert.False(t, j.IsBusy())
	assert.Equal(t, []string{"G91", "G0X1"}, f.Commands())
}

func TestJogger_Cancel(t *testing.T) {
	f := newFake()
	j := NewJogger(f, nil)

	assert.True(t, j.RelativeMove(coord.Point{}, 100))
	j.Wait()
	assert.Equal(t, 1, f.cancels)

	// waits for the controller to stop before the position is refreshed
	assert.Equal(t, []string{"G4 P0"}, f.Commands())
}

func TestJogger_HomeUpdate(t *testing.T) {
	f := newFake()
	j := NewJogger(f, nil)

	x := 5.0
	assert.True(t, j.HomeUpdate(&x, nil, nil))
	j.Wait()
	assert.Equal(t, []string{"G10L20P0X5"}, f.Commands())

	assert.False(t, j.HomeUpdate(nil, nil, nil))
}

func TestJogger_Exclusive(t *testing.T) {
	f := newFake()
	f.Set(Streaming)
	j := NewJogger(f, nil)

	assert.False(t, j.RelativeMove(coord.Point{X: 1}, 0))
	assert.False(t, j.IsBusy())
	time.Sleep(5 * time.Millisecond)
	assert.Empty(t, f.Commands())
}
