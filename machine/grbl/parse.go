package grbl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/machine"
)

// Version is a Grbl firmware version, e.g. 1.1h.
type Version struct {
	Major, Minor int
	Patch        string
}

func (v Version) String() string { return fmt.Sprintf("%d.%d%s", v.Major, v.Minor, v.Patch) }

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

type responseKind int

const (
	respOther responseKind = iota
	respOK
	respError
	respAlarm
	respBanner
	respStatus
	respProbe
	respSetting
)

var rxBanner = regexp.MustCompile(`^Grbl (\d+)\.(\d+)([a-z]?)`)

func classify(line string) responseKind {
	switch {
	case line == "ok":
		return respOK
	case strings.HasPrefix(line, "error:"):
		return respError
	case strings.HasPrefix(line, "ALARM:"):
		return respAlarm
	case rxBanner.MatchString(line):
		return respBanner
	case strings.HasPrefix(line, "<"):
		return respStatus
	case strings.HasPrefix(line, "[PRB:"):
		return respProbe
	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		return respSetting
	}
	return respOther
}

func parseBanner(line string) (v Version, ok bool) {
	m := rxBanner.FindStringSubmatch(line)
	if m == nil {
		return v, false
	}
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	v.Patch = m[3]
	return v, true
}

// parseError builds a CommandError from an `error:` or `ALARM:` line.
func parseError(line string) *CommandError {
	e := &CommandError{Line: line}
	rest, alarm := strings.CutPrefix(line, "ALARM:")
	if alarm {
		e.Alarm = true
	} else {
		rest = strings.TrimPrefix(line, "error:")
	}
	rest = strings.TrimSpace(rest)
	code, err := strconv.Atoi(rest)
	if err != nil {
		e.Text = rest
	} else {
		e.Code = code
	}
	return e
}

// parseSetting parses `$110=500.000`, ignoring any trailing description.
func parseSetting(line string) (int, float64, error) {
	line = strings.TrimPrefix(line, "$")
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return 0, 0, errors.New("invalid setting: " + line)
	}
	val, _, _ = strings.Cut(val, " ")
	id, err := strconv.Atoi(key)
	if err != nil {
		return 0, 0, err
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, 0, err
	}
	return id, f, nil
}

// parseCoords parses a comma separated list of at least 3 values,
// ignoring any extra axes.
func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// parseProbe parses `[PRB:x,y,z:1]`. Reports without the success flag
// are treated as successful.
func parseProbe(data string) (p coord.Point, ok bool, err error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "[")
	data = strings.TrimSuffix(data, "]")
	parts := strings.Split(data, ":")
	if len(parts) < 2 || parts[0] != "PRB" {
		return p, false, errors.New("unknown PUSH message: " + data)
	}
	p, err = parseCoords(parts[1])
	if err != nil {
		return p, false, err
	}
	ok = len(parts) < 3 || parts[2] == "1"
	return p, ok, nil
}

var rxLegacyPos = regexp.MustCompile(`(MPos|WPos|WCO):(-?[\d.]+,-?[\d.]+,-?[\d.]+)`)

func setFrame(stat *machine.State, wco **coord.Point, name, val string) error {
	p, err := parseCoords(val)
	if err != nil {
		return err
	}
	switch name {
	case "MPos":
		stat.MPos = &p
	case "WPos":
		stat.WPos = &p
	case "WCO":
		*wco = &p
	}
	return nil
}

// parseStatus parses a status report in either the `<Idle|MPos:..>` or
// the older `<Idle,MPos:..,WPos:..>` form.
//
// The returned work coordinate offset is nil unless it was reported.
func parseStatus(data string) (*machine.State, *coord.Point, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")

	var stat machine.State
	var wco *coord.Point
	if strings.Contains(data, "|") {
		parts := strings.Split(data, "|")
		stat.Status = parts[0]
		for _, s := range parts[1:] {
			name, val, _ := strings.Cut(s, ":")
			switch name {
			case "MPos", "WPos", "WCO":
				err := setFrame(&stat, &wco, name, val)
				if err != nil {
					return nil, nil, err
				}
			}
		}
	} else {
		stat.Status, _, _ = strings.Cut(data, ",")
		for _, m := range rxLegacyPos.FindAllStringSubmatch(data, -1) {
			err := setFrame(&stat, &wco, m[1], m[2])
			if err != nil {
				return nil, nil, err
			}
		}
	}
	if stat.Status == "" {
		return nil, nil, errors.New("invalid status report: " + data)
	}

	return &stat, wco, nil
}

// fillFrames derives a missing frame from the other using the work
// coordinate offset.
func fillFrames(stat *machine.State, wco *coord.Point) {
	if wco == nil {
		return
	}
	switch {
	case stat.MPos != nil && stat.WPos == nil:
		p := stat.MPos.Sub(*wco)
		stat.WPos = &p
	case stat.WPos != nil && stat.MPos == nil:
		p := stat.WPos.Add(*wco)
		stat.MPos = &p
	}
}
