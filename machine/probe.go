package machine

import (
	"context"
	"fmt"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/gcode"
	"github.com/mastercactapus/gstream/meshlevel"
)

const mmPerInch = 25.4

// ProbeOptions configure a straight z-probe operation.
type ProbeOptions struct {
	ZeroZAxis bool

	// Offset is the Z value assigned to the probed surface when ZeroZAxis
	// is set, e.g. the thickness of a touch plate.
	Offset float64

	FeedRate  float64
	MaxTravel float64

	// Retract is how far to lift after touching.
	Retract float64
}

// GridOptions configure a grid of z-probes.
type GridOptions struct {
	// Min and Max are the work coordinate corners of the area. If both are
	// zero the bounding box of the loaded program is used.
	Min, Max coord.Point
	Spacing  float64

	// Clearance is the Z height to travel at between points.
	Clearance float64
	FeedRate  float64
	MaxTravel float64

	// Offset is added to every probed height.
	Offset float64
}

// ProbeZ will perform a straight z-probe from the current location,
// returning the work Z of the surface.
func (m *Machine) ProbeZ(ctx context.Context, opt ProbeOptions) (float64, error) {
	err := m.a.Begin(Probing)
	if err != nil {
		return 0, err
	}
	defer m.a.End(Probing)

	startZ := m.a.Position().Z
	dist, err := m.a.ProbeAxis(ctx, -opt.MaxTravel, opt.FeedRate)
	if err != nil {
		return 0, err
	}
	surface := startZ + dist

	if opt.ZeroZAxis {
		zero := gcode.Block{{W: 'G', Arg: 10}, {W: 'L', Arg: 20}, {W: 'P', Arg: 0}, {W: 'Z', Arg: m.units(opt.Offset)}}
		_, err = m.a.DoCommand(ctx, zero.String(), false)
		if err != nil {
			return 0, err
		}
		surface = opt.Offset
	}
	if opt.Retract > 0 {
		err = m.retract(ctx, opt.Retract)
		if err != nil {
			return surface, err
		}
	}

	return surface, nil
}

// units converts millimeters to the controller's current units.
func (m *Machine) units(mm float64) float64 {
	if _, metric := m.a.Modes(); !metric {
		return mm / mmPerInch
	}
	return mm
}

// retract lifts Z by dist millimeters with a relative move, whatever the
// current distance mode, and waits for it to finish.
func (m *Machine) retract(ctx context.Context, dist float64) error {
	relative, _ := m.a.Modes()
	if !relative {
		_, err := m.a.DoCommand(ctx, "G91", false)
		if err != nil {
			return err
		}
	}

	lift := gcode.Block{{W: 'G', Arg: 0}, {W: 'Z', Arg: m.units(dist)}}
	_, err := m.a.DoCommand(ctx, lift.String(), true)

	if !relative {
		_, rerr := m.a.DoCommand(ctx, "G90", false)
		if err == nil {
			err = rerr
		}
	}
	return err
}

// ProbeGrid probes a grid of heights and installs it as the active
// Z compensation.
func (m *Machine) ProbeGrid(ctx context.Context, opt GridOptions) (*meshlevel.Grid, error) {
	if opt.Min == (coord.Point{}) && opt.Max == (coord.Point{}) {
		p := m.Profile()
		if p == nil {
			return nil, fmt.Errorf("no probe area and no program loaded")
		}
		opt.Min, opt.Max = p.Min, p.Max
	}

	err := m.a.Begin(Probing)
	if err != nil {
		return nil, err
	}
	defer m.a.End(Probing)

	return m.a.ProbeGrid(ctx, opt)
}
