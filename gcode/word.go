package gcode

import (
	"strconv"
	"strings"
)

// wordDigits is the number of decimal places emitted for a word value.
const wordDigits = 4

// Word is a single letter/value pair, e.g. `G1` or `X-2.5`.
type Word struct {
	W   byte
	Arg float64
}

// formatFloat writes f with at most prec decimals and no trailing zeros.
func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.IndexByte(s, '.') >= 0 {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	return string(w.W) + formatFloat(w.Arg, wordDigits)
}
