package grbl

import (
	"context"
	"errors"

	"github.com/mastercactapus/gstream/machine"
)

var errNotChecking = errors.New("check mode is not active")

// SetCheckMode toggles the controller `$C` mode, where lines are
// validated without moving. The tracked position is restored when it
// is turned off.
func (w *Writer) SetCheckMode(ctx context.Context, on bool) error {
	if !w.cfg.CheckMode {
		return machine.ErrUnsupported
	}
	w.mx.Lock()
	defer w.mx.Unlock()
	if on == w.checkMode {
		return nil
	}
	err := w.settle(ctx)
	if err != nil {
		return err
	}

	if on {
		w.checkSave = *w.interp
		_, err = w.exchange(ctx, "$C", w.cfg.ResponseTimeout)
		if err != nil {
			return err
		}
		w.checkMode = true
		return nil
	}

	_, err = w.exchange(ctx, "$C", w.cfg.ResponseTimeout)
	w.checkMode = false
	*w.interp = w.checkSave
	if err != nil {
		return err
	}

	// leaving check mode restarts the controller
	c, _ := w.link()
	v, err := w.waitBanner(ctx, c)
	if err != nil {
		return err
	}
	w.setLink(c, v)
	w.restore = true
	return nil
}

// CheckLine sends a line in check mode, returning the controller's
// verdict.
func (w *Writer) CheckLine(ctx context.Context, line string) error {
	w.mx.Lock()
	defer w.mx.Unlock()
	if !w.checkMode {
		return errNotChecking
	}
	_, err := w.command(ctx, line, false)
	return err
}
