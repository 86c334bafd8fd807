package grbl

import (
	"context"
	"errors"
	"fmt"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/gcode"
	"github.com/mastercactapus/gstream/machine"
	"github.com/mastercactapus/gstream/meshlevel"
)

// units returns the factor converting millimeters to the active units.
func (w *Writer) units() float64 {
	if w.interp.Metric() {
		return 1
	}
	return 1 / 25.4
}

func (w *Writer) probeAxis(ctx context.Context, distance, feed float64) (float64, error) {
	_, err := w.status(ctx, false)
	if err != nil {
		return 0, err
	}
	start := w.interp.MachinePosition().Z

	conv := w.units()
	probe := gcode.Block{
		{W: 'G', Arg: 91},
		{W: 'G', Arg: 38.2},
		{W: 'Z', Arg: distance * conv},
		{W: 'F', Arg: feed * conv},
	}
	c, _ := w.link()
	err = c.WriteLine(probe.String())
	if err != nil {
		return 0, err
	}

	rctx, cancel := context.WithTimeout(ctx, w.cfg.MotionTimeout)
	defer cancel()
	var touch *coord.Point
	var success bool
wait:
	for {
		line, err := c.ReadLine(rctx)
		if err != nil {
			return 0, err
		}
		switch classify(line) {
		case respProbe:
			p, ok, err := parseProbe(line)
			if err != nil {
				return 0, err
			}
			p = w.reportScale(p)
			touch, success = &p, ok
		case respOK:
			break wait
		case respError:
			return 0, parseError(line)
		case respAlarm:
			// the controller stays locked until it is reset
			w.alarm = parseError(line)
			return 0, fmt.Errorf("%w: %w", ErrProbeFailed, w.alarm)
		case respBanner:
			w.handleBanner(line)
			return 0, ErrReset
		default:
			w.handleMessage(line)
		}
	}

	if !w.interp.Relative() {
		_, err = w.exchange(ctx, "G90", w.cfg.ResponseTimeout)
		if err != nil {
			return 0, err
		}
	}
	if touch == nil || !success {
		return 0, ErrProbeFailed
	}
	_, err = w.status(ctx, false)
	if err != nil {
		return 0, err
	}
	return touch.Z - start, nil
}

// ProbeAxis probes along Z by up to distance, returning how far the
// tool moved before touching.
func (w *Writer) ProbeAxis(ctx context.Context, distance, feed float64) (float64, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	d, err := w.probeAxis(ctx, distance, feed)
	w.emitPosition()
	return d, err
}

// ProbeGrid probes every point of a grid covering opt.Min to opt.Max,
// starting each probe from the clearance height. On success the grid is
// installed as the active compensation.
func (w *Writer) ProbeGrid(ctx context.Context, opt machine.GridOptions) (grid *meshlevel.Grid, err error) {
	if opt.FeedRate <= 0 || opt.MaxTravel <= 0 {
		return nil, errors.New("probe feed rate and travel must be positive")
	}
	grid, err = meshlevel.NewGrid(opt.Min.X, opt.Max.X, opt.Min.Y, opt.Max.Y, opt.Spacing)
	if err != nil {
		return nil, err
	}

	w.mx.Lock()
	defer w.mx.Unlock()

	saved := w.comp
	w.comp = nil
	defer func() {
		if err != nil {
			w.comp = saved
		}
	}()

	relative := w.interp.Relative()
	if relative {
		_, err = w.command(ctx, "G90", false)
		if err != nil {
			return nil, err
		}
	}

	conv := w.units()
	clear := gcode.Block{{W: 'G', Arg: 0}, {W: 'Z', Arg: opt.Clearance * conv}}.String()
	for i, p := range grid.ProbePoints() {
		_, err = w.command(ctx, clear, false)
		if err != nil {
			return nil, err
		}
		move := gcode.Block{{W: 'G', Arg: 0}, {W: 'X', Arg: p.X * conv}, {W: 'Y', Arg: p.Y * conv}}
		_, err = w.command(ctx, move.String(), true)
		if err != nil {
			return nil, err
		}

		var d float64
		d, err = w.probeAxis(ctx, -opt.MaxTravel, opt.FeedRate)
		if err != nil {
			return nil, fmt.Errorf("probe point %d: %w", i, err)
		}
		err = grid.SetHeight(i, opt.Clearance+d, opt.Offset)
		if err != nil {
			return nil, err
		}
		w.emitPosition()
	}

	_, err = w.command(ctx, clear, true)
	if err != nil {
		return nil, err
	}
	if relative {
		_, err = w.command(ctx, "G91", false)
		if err != nil {
			return nil, err
		}
	}

	w.comp = grid
	return grid, nil
}
