package meshlevel

import (
	"github.com/mastercactapus/gstream/gcode"
)

const mmPerInch = 25.4

// Leveler rewrites movements so Z follows a height map.
type Leveler struct {
	Heights HeightMap
}

// Segments splits a straight move at the height map spacing and raises
// the end of every segment by the height below it.
//
// The move must be in absolute coordinates.
func (l Leveler) Segments(mv gcode.Movement) ([]gcode.Block, error) {
	segs := mv.Split(l.Heights.Spacing())
	res := make([]gcode.Block, 0, len(segs))
	for _, seg := range segs {
		h, err := l.Heights.HeightAt(seg.End.X, seg.End.Y)
		if err != nil {
			return nil, err
		}
		seg.End.Z += h
		res = append(res, seg.Block())
	}
	return res, nil
}

// Correction returns a linear Z move that puts the end of an arc at the
// compensated height.
func (l Leveler) Correction(mv gcode.Movement) (gcode.Block, error) {
	h, err := l.Heights.HeightAt(mv.End.X, mv.End.Y)
	if err != nil {
		return nil, err
	}
	z := mv.End.Z + h
	if mv.Inches {
		z /= mmPerInch
	}
	return gcode.Block{{W: 'G', Arg: 1}, {W: 'Z', Arg: z}}, nil
}
