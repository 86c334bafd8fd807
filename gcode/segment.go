package gcode

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	rxSegment  = regexp.MustCompile(`(?i)[GM][^GM]+`)
	rxFraction = regexp.MustCompile(`\.([0-9]+)`)
	rxHome     = regexp.MustCompile(`(?i)\$H\b`)

	rxCodes = make(map[byte]*regexp.Regexp)
)

func init() {
	for _, c := range "GMXYZEFIJLP" {
		rxCodes[byte(c)] = regexp.MustCompile(`(?i)` + string(c) + `\s*(-?[0-9.]*)`)
	}
}

// stripLine removes comments and `$` control text from a line.
//
// The second return value reports whether the line contained a `$H`
// homing command.
func stripLine(line string) (string, bool) {
	if i := strings.IndexAny(line, ";("); i >= 0 {
		line = line[:i]
	}
	home := rxHome.MatchString(line)
	if i := strings.IndexByte(line, '$'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line), home
}

// Segments splits a line into its individual G/M words, each followed by
// its arguments. Text before the first G or M word is returned as its own
// segment so modal axis-only lines are preserved.
//
// Comments and `$` control text are dropped.
func Segments(line string) []string {
	line, _ = stripLine(line)
	if line == "" || line[0] == '@' {
		return nil
	}

	var res []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			res = append(res, strings.ToUpper(s))
		}
	}

	last := 0
	for _, idx := range rxSegment.FindAllStringIndex(line, -1) {
		add(line[last:idx[0]])
		add(line[idx[0]:idx[1]])
		last = idx[1]
	}
	add(line[last:])

	return res
}

// findCode returns the numeric value following letter in seg.
//
// A letter with no parseable number yields 0.
func findCode(seg string, letter byte) (float64, bool) {
	rx := rxCodes[letter]
	if rx == nil {
		return 0, false
	}
	m := rx.FindStringSubmatch(seg)
	if m == nil {
		return 0, false
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, true
	}
	return val, true
}

// Truncate shortens every decimal fraction in line to at most digits places.
func Truncate(line string, digits int) string {
	return rxFraction.ReplaceAllStringFunc(line, func(s string) string {
		if len(s)-1 <= digits {
			return s
		}
		return s[:digits+1]
	})
}
