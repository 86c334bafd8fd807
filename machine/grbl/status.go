package grbl

import (
	"context"
	"fmt"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/machine"
)

// reportScale converts a reported position to millimeters. `$13=1`
// makes the controller report in inches.
func (w *Writer) reportScale(p coord.Point) coord.Point {
	if w.settings[13] == 1 {
		return p.Mul(25.4)
	}
	return p
}

func (w *Writer) scaleFrame(p *coord.Point) *coord.Point {
	if p == nil {
		return nil
	}
	s := w.reportScale(*p)
	return &s
}

// applyStatus parses a status report and syncs the tracked position.
func (w *Writer) applyStatus(line string) (*machine.State, bool, error) {
	stat, wco, err := parseStatus(line)
	if err != nil {
		return nil, false, err
	}
	stat.MPos = w.scaleFrame(stat.MPos)
	stat.WPos = w.scaleFrame(stat.WPos)
	if wco != nil {
		w.wco = w.scaleFrame(wco)
	}
	fillFrames(stat, w.wco)
	w.interp.SyncStatus(stat.MPos, stat.WPos)
	return stat, stat.MPos != nil && stat.WPos != nil, nil
}

func (w *Writer) queryStatus(ctx context.Context) (*machine.State, bool, error) {
	c, _ := w.link()
	if c == nil {
		return nil, false, machine.ErrNotReady
	}
	err := c.WriteByte('?')
	if err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.ResponseTimeout)
	defer cancel()
	for {
		line, err := c.ReadLine(ctx)
		if err != nil {
			return nil, false, err
		}
		switch classify(line) {
		case respStatus:
			return w.applyStatus(line)
		case respBanner:
			w.handleBanner(line)
			return nil, false, ErrReset
		case respOK, respError, respAlarm:
			// only possible for lines still pending
			if w.pending > 0 {
				w.pending--
			}
		default:
			w.handleMessage(line)
		}
	}
}

// statusMask returns the `$10` value that reports the frame(s) the
// current mask does not.
func (w *Writer) statusMask() (cur, other int) {
	cur = int(w.settings[10])
	_, v := w.link()
	if v.AtLeast(1, 1) {
		return cur, cur ^ 1
	}
	return cur, cur | 3
}

func (w *Writer) status(ctx context.Context, bothFrames bool) (*machine.State, error) {
	err := w.settle(ctx)
	if err != nil {
		return nil, err
	}
	stat, both, err := w.queryStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !bothFrames || both {
		return stat, nil
	}

	cur, other := w.statusMask()
	_, err = w.exchange(ctx, fmt.Sprintf("$10=%d", other), w.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	stat2, _, err := w.queryStatus(ctx)
	if err != nil {
		return nil, err
	}
	_, err = w.exchange(ctx, fmt.Sprintf("$10=%d", cur), w.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}

	if stat.MPos == nil {
		stat.MPos = stat2.MPos
	}
	if stat.WPos == nil {
		stat.WPos = stat2.WPos
	}
	stat.Status = stat2.Status
	w.interp.SyncStatus(stat.MPos, stat.WPos)
	return stat, nil
}

// Status queries the controller. With bothFrames set the status report
// mask is switched temporarily if needed so that both machine and work
// positions are known.
func (w *Writer) Status(ctx context.Context, bothFrames bool) (*machine.State, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	stat, err := w.status(ctx, bothFrames)
	if err == nil {
		w.emitPosition()
	}
	return stat, err
}

func (w *Writer) home(ctx context.Context) error {
	_, err := w.exchange(ctx, "$H", w.cfg.MotionTimeout)
	if err != nil {
		return err
	}
	w.alarm = nil
	_, err = w.interp.Analyze("$H")
	if err != nil {
		return err
	}
	_, err = w.status(ctx, true)
	return err
}

// Home runs the homing cycle and resyncs the position.
func (w *Writer) Home(ctx context.Context) error {
	w.mx.Lock()
	defer w.mx.Unlock()
	err := w.settle(ctx)
	if err != nil {
		return err
	}
	err = w.home(ctx)
	w.emitPosition()
	return err
}
