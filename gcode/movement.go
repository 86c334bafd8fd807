package gcode

import (
	"math"

	"github.com/mastercactapus/gstream/coord"
)

const mmPerInch = 25.4

// Kind is the type of a motion command.
type Kind int

const (
	Rapid  Kind = iota // G0
	Linear             // G1
	ArcCW              // G2
	ArcCCW             // G3
)

func (k Kind) String() string {
	switch k {
	case Rapid:
		return "rapid"
	case Linear:
		return "linear"
	case ArcCW:
		return "arc-cw"
	case ArcCCW:
		return "arc-ccw"
	}
	return "unknown"
}

// Movement is a single motion command.
//
// Start and End are absolute work coordinates in millimeters, I and J
// are the arc center offsets from Start. Inches records the units the
// command was written in so it can be re-emitted unchanged.
type Movement struct {
	Kind       Kind
	Start, End coord.Point
	I, J       float64

	E *float64
	F *float64

	Inches bool
}

func (m Movement) IsArc() bool { return m.Kind == ArcCW || m.Kind == ArcCCW }

// Length returns the straight-line distance of the move.
func (m Movement) Length() float64 { return m.Start.Distance(m.End) }

// Split will break a straight move into the fewest equal segments that are
// no longer than max. Arcs and moves with an E word are never split.
func (m Movement) Split(max float64) []Movement {
	if m.IsArc() || m.E != nil || max <= 0 {
		return []Movement{m}
	}
	dist := m.Length()
	if dist <= max {
		return []Movement{m}
	}

	n := int(math.Ceil(dist / max))
	points := m.Start.Split(m.End, n)

	res := make([]Movement, n)
	start := m.Start
	for i, p := range points {
		res[i] = m
		res[i].Start = start
		res[i].End = p
		start = p
	}
	return res
}

// Block returns the gcode for the movement in its original units.
func (m Movement) Block() Block {
	conv := 1.0
	if m.Inches {
		conv = mmPerInch
	}
	b := Block{
		{W: 'G', Arg: float64(m.Kind)},
		{W: 'X', Arg: m.End.X / conv},
		{W: 'Y', Arg: m.End.Y / conv},
		{W: 'Z', Arg: m.End.Z / conv},
	}
	if m.IsArc() {
		b = append(b, Word{W: 'I', Arg: m.I / conv}, Word{W: 'J', Arg: m.J / conv})
	}
	if m.E != nil {
		b = append(b, Word{W: 'E', Arg: *m.E / conv})
	}
	if m.F != nil {
		b = append(b, Word{W: 'F', Arg: *m.F / conv})
	}
	return b
}
