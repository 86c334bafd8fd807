package gcode

import (
	"errors"
	"math"
	"strconv"

	"github.com/mastercactapus/gstream/coord"
)

// ErrMachineRelative is returned for lines that combine G53 with
// relative motion.
var ErrMachineRelative = errors.New("machine coordinates (G53) in relative mode")

const (
	defaultFeed      = 1000
	defaultRapidFeed = 5000
)

// Interpreter will track machine state from a stream of gcode
// lines without talking to the controller.
//
// All stored values are in millimeters and work coordinates,
// where work = machine + offset.
type Interpreter struct {
	pos        coord.Point
	e          float64
	eOffset    float64
	feed       float64
	rapidFeed  float64
	relative   bool
	eRelative  bool
	inches     bool
	offset     coord.Point
	home       coord.Point
	homed      [3]bool
	min, max   coord.Point
	travel     float64
	minutes    float64
	lastMove   *Movement
	lastMotion Kind

	machineCoords bool

	// state before the last analyzed line
	undo *Interpreter
}

// NewInterpreter constructs a new Interpreter with default state.
func NewInterpreter() *Interpreter {
	in := &Interpreter{}
	in.Reset()
	return in
}

// Reset returns all state to the power-on defaults.
func (in *Interpreter) Reset() {
	*in = Interpreter{
		feed:      defaultFeed,
		rapidFeed: defaultRapidFeed,
	}
}

func (in *Interpreter) SetRapidFeed(f float64) {
	if f > 0 {
		in.rapidFeed = f
	}
}

func (in *Interpreter) RapidFeed() float64 { return in.rapidFeed }
func (in *Interpreter) Feed() float64      { return in.feed }
func (in *Interpreter) Relative() bool     { return in.relative }
func (in *Interpreter) ERelative() bool    { return in.eRelative }
func (in *Interpreter) Metric() bool       { return !in.inches }
func (in *Interpreter) E() float64         { return in.e }

// Position returns the current work coordinates.
func (in *Interpreter) Position() coord.Point { return in.pos }

// MachinePosition returns the current machine coordinates.
func (in *Interpreter) MachinePosition() coord.Point { return in.pos.Sub(in.offset) }

// Offset returns the per-axis work offset.
func (in *Interpreter) Offset() coord.Point { return in.offset }

// Bounds returns the bounding box of every position visited so far.
func (in *Interpreter) Bounds() (min, max coord.Point) { return in.min, in.max }

// Travel returns the total distance traveled.
func (in *Interpreter) Travel() float64 { return in.travel }

// Time returns the estimated time spent moving, in minutes.
func (in *Interpreter) Time() float64 { return in.minutes }

// Homed reports which axes have been homed.
func (in *Interpreter) Homed() (x, y, z bool) { return in.homed[0], in.homed[1], in.homed[2] }

// LastMovement returns the movement produced by the last analyzed
// line, or nil.
func (in *Interpreter) LastMovement() *Movement { return in.lastMove }

// Undo reverts everything the last analyzed line changed: position,
// offsets and modes.
//
// It is used when the controller rejects a line. The bounding box,
// travel and time are left as they are.
func (in *Interpreter) Undo() {
	if in.undo != nil {
		min, max, travel, minutes, rapid := in.min, in.max, in.travel, in.minutes, in.rapidFeed
		*in = *in.undo
		in.min, in.max, in.travel, in.minutes, in.rapidFeed = min, max, travel, minutes, rapid
	}
	in.undo = nil
	in.lastMove = nil
}

// SyncStatus updates the tracked position from a controller status report.
//
// With both frames the work offset is also recomputed.
func (in *Interpreter) SyncStatus(mpos, wpos *coord.Point) {
	switch {
	case mpos != nil && wpos != nil:
		in.pos = *wpos
		in.offset = wpos.Sub(*mpos)
	case wpos != nil:
		in.pos = *wpos
	case mpos != nil:
		in.pos = mpos.Add(in.offset)
	}
	in.undo = nil
}

// Analyze will interpret a single line of gcode, returning the last
// movement it contained (if any).
//
// A rejected line leaves the state untouched.
func (in *Interpreter) Analyze(line string) (*Movement, error) {
	stripped, home := stripLine(line)
	if len(stripped) > 0 && stripped[0] == '@' {
		// host command
		in.lastMove = nil
		in.undo = nil
		return nil, nil
	}

	prev := in.undo
	saved := *in
	saved.undo = nil
	segs := Segments(line)
	if home {
		segs = append(segs, "G28")
	}

	var move *Movement
	for _, seg := range segs {
		mv, err := in.analyzeSegment(seg)
		if err != nil {
			*in = saved
			in.undo = prev
			return nil, err
		}
		if mv != nil {
			move = mv
		}
	}
	in.machineCoords = false
	in.lastMove = move
	in.undo = &saved

	return move, nil
}

func (in *Interpreter) conv() float64 {
	if in.inches {
		return mmPerInch
	}
	return 1
}

func (in *Interpreter) analyzeSegment(seg string) (*Movement, error) {
	switch seg[0] {
	case 'X', 'Y', 'Z':
		// modal motion
		seg = "G" + strconv.Itoa(int(in.lastMotion)) + " " + seg
	}

	conv := in.conv()
	if code, ok := findCode(seg, 'G'); ok {
		modal := true
		switch code {
		case 0, 1, 2, 3:
			in.lastMotion = Kind(code)
			return in.motion(seg, Kind(code), conv)
		case 20:
			in.inches = true
		case 21:
			in.inches = false
		case 53:
			in.machineCoords = true
		case 90:
			in.relative = false
		case 91:
			in.relative = true
		default:
			modal = false
		}
		if modal && hasAxis(seg) {
			return in.motion(seg, in.lastMotion, in.conv())
		}

		switch code {
		case 28, 161:
			in.homeAxes(seg)
		case 92:
			in.setOrigin(seg, conv)
		case 10:
			switch l, _ := findCode(seg, 'L'); l {
			case 20:
				in.setOrigin(seg, conv)
			case 2:
				in.setOffset(seg, conv)
			}
		}
	}

	if code, ok := findCode(seg, 'M'); ok {
		switch code {
		case 82:
			in.eRelative = false
		case 83:
			in.eRelative = true
		}
	}

	return nil, nil
}

func hasAxis(seg string) bool {
	for _, c := range []byte("XYZ") {
		if _, ok := findCode(seg, c); ok {
			return true
		}
	}
	return false
}

func (in *Interpreter) motion(seg string, kind Kind, conv float64) (*Movement, error) {
	if in.machineCoords && in.relative {
		return nil, ErrMachineRelative
	}

	mv := &Movement{Kind: kind, Start: in.pos, Inches: in.inches}
	if f, ok := findCode(seg, 'F'); ok {
		in.feed = f * conv
		feed := in.feed
		mv.F = &feed
	}

	apply := func(cur *float64, letter byte, offset float64) {
		v, ok := findCode(seg, letter)
		if !ok {
			return
		}
		switch {
		case in.machineCoords:
			*cur = v*conv + offset
		case in.relative:
			*cur += v * conv
		default:
			*cur = v * conv
		}
	}
	apply(&in.pos.X, 'X', in.offset.X)
	apply(&in.pos.Y, 'Y', in.offset.Y)
	apply(&in.pos.Z, 'Z', in.offset.Z)

	if e, ok := findCode(seg, 'E'); ok {
		e *= conv
		mv.E = &e
		if in.relative || in.eRelative {
			in.e += e
		} else {
			in.e = in.eOffset + e
		}
	}

	mv.End = in.pos
	in.widen(in.pos)

	var dist float64
	if mv.IsArc() {
		i, _ := findCode(seg, 'I')
		j, _ := findCode(seg, 'J')
		mv.I = i * conv
		mv.J = j * conv
		dist = in.arc(mv)
	} else {
		dist = mv.Start.Distance(mv.End)
	}

	feed := in.feed
	if kind == Rapid {
		feed = in.rapidFeed
	}
	in.travel += dist
	if feed > 0 {
		in.minutes += dist / feed
	}

	return mv, nil
}

func normAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	if a >= 2*math.Pi {
		a = 0
	}
	return a
}

// arc returns the length of an arc move and widens the bounding box
// with every axis extreme the arc passes through.
func (in *Interpreter) arc(mv *Movement) float64 {
	cx := mv.Start.X + mv.I
	cy := mv.Start.Y + mv.J
	radius := math.Hypot(mv.Start.X-cx, mv.Start.Y-cy)

	startAngle := normAngle(math.Atan2(mv.Start.Y-cy, mv.Start.X-cx))
	endAngle := normAngle(math.Atan2(mv.End.Y-cy, mv.End.X-cx))

	sweep := endAngle - startAngle
	if mv.Kind == ArcCW {
		sweep = -sweep
	}
	sweep = normAngle(sweep)
	if sweep == 0 && mv.Start.X == mv.End.X && mv.Start.Y == mv.End.Y {
		// full circle
		sweep = 2 * math.Pi
	}

	// a clockwise arc covers the same points as the
	// counter-clockwise arc from its end
	from := startAngle
	if mv.Kind == ArcCW {
		from = endAngle
	}
	for q := 0; q < 4; q++ {
		theta := float64(q) * math.Pi / 2
		if normAngle(theta-from) > sweep {
			continue
		}
		in.widen(coord.Point{
			X: cx + radius*math.Cos(theta),
			Y: cy + radius*math.Sin(theta),
			Z: mv.End.Z,
		})
	}

	return sweep * radius
}

func (in *Interpreter) widen(p coord.Point) {
	in.min = in.min.Min(p)
	in.max = in.max.Max(p)
}

func (in *Interpreter) homeAxes(seg string) {
	_, hasX := findCode(seg, 'X')
	_, hasY := findCode(seg, 'Y')
	_, hasZ := findCode(seg, 'Z')
	all := !hasX && !hasY && !hasZ

	if hasX || all {
		in.homed[0] = true
		in.offset.X = 0
		in.pos.X = in.home.X
	}
	if hasY || all {
		in.homed[1] = true
		in.offset.Y = 0
		in.pos.Y = in.home.Y
	}
	if hasZ || all {
		in.homed[2] = true
		in.offset.Z = 0
		in.pos.Z = in.home.Z
	}
	if _, ok := findCode(seg, 'E'); ok {
		in.eOffset = 0
		in.e = 0
	}
}

// setOrigin redefines the current work position, keeping the
// machine position as-is.
func (in *Interpreter) setOrigin(seg string, conv float64) {
	mpos := in.MachinePosition()
	if v, ok := findCode(seg, 'X'); ok {
		in.pos.X = v * conv
	}
	if v, ok := findCode(seg, 'Y'); ok {
		in.pos.Y = v * conv
	}
	if v, ok := findCode(seg, 'Z'); ok {
		in.pos.Z = v * conv
	}
	if v, ok := findCode(seg, 'E'); ok {
		in.e = v * conv
	}
	in.offset = in.pos.Sub(mpos)
}

// setOffset sets the coordinate system origin to the given
// machine coordinates (G10 L2).
func (in *Interpreter) setOffset(seg string, conv float64) {
	mpos := in.MachinePosition()
	if v, ok := findCode(seg, 'X'); ok {
		in.offset.X = -v * conv
	}
	if v, ok := findCode(seg, 'Y'); ok {
		in.offset.Y = -v * conv
	}
	if v, ok := findCode(seg, 'Z'); ok {
		in.offset.Z = -v * conv
	}
	in.pos = mpos.Add(in.offset)
}
