package grbl

import (
	"errors"

	"github.com/mastercactapus/gstream/gcode"
	"github.com/mastercactapus/gstream/meshlevel"
)

// words rebuilt from the movement when a line is compensated
var motionWords = []string{"G0", "G1", "G2", "G3", "G53", "X", "Y", "Z", "I", "J", "E", "F", "N"}

// SetCompensation installs a height map applied to later moves.
func (w *Writer) SetCompensation(h meshlevel.HeightMap) {
	w.mx.Lock()
	w.comp = h
	w.mx.Unlock()
}

func (w *Writer) ClearCompensation() { w.SetCompensation(nil) }

// Compensation returns the installed height map, or nil.
func (w *Writer) Compensation() meshlevel.HeightMap {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.comp
}

// compensate returns the lines to send in place of line so that Z
// follows the height map, or nil to send line unchanged.
//
// Straight moves are split at the map spacing. Arcs are sent as-is
// followed by a Z correction at their end point. Moves outside the
// map and relative moves are not compensated.
func (w *Writer) compensate(line string, mv *gcode.Movement) ([]string, error) {
	if mv == nil || w.comp == nil || !w.cfg.Compensation || w.checkMode || w.interp.Relative() {
		return nil, nil
	}

	l := meshlevel.Leveler{Heights: w.comp}
	if mv.IsArc() {
		fix, err := l.Correction(*mv)
		if errors.Is(err, meshlevel.ErrOutside) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []string{line, fix.String()}, nil
	}

	blocks, err := l.Segments(*mv)
	if errors.Is(err, meshlevel.ErrOutside) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res := make([]string, len(blocks))
	for i, b := range blocks {
		res[i] = b.String()
	}

	// keep anything else on the line, e.g. spindle or coolant words
	if b, err := gcode.ParseBlock(line); err == nil {
		if extra := b.Without(motionWords...); len(extra) > 0 {
			res[0] = extra.String() + res[0]
		}
	}
	return res, nil
}
