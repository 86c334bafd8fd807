package gcode

import (
	"strconv"
	"strings"
)

// Block is a single line of gcode words.
type Block []Word

// Arg returns the value of the first word with the letter w.
func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

// SetArg will update the first word with the letter w, appending
// a new word if none exists.
func (b Block) SetArg(w byte, val float64) Block {
	for i, g := range b {
		if g.W == w {
			b[i].Arg = val
			return b
		}
	}
	return append(b, Word{W: w, Arg: val})
}

func (b Block) String() string {
	var sb strings.Builder
	for _, w := range b {
		sb.WriteString(w.String())
	}
	return sb.String()
}

// Without returns a copy of b with every word matching one of the
// filters removed. A filter is a letter (`T`) matching any value, or a
// full word (`M6`).
func (b Block) Without(filters ...string) Block {
	res := make(Block, 0, len(b))
outer:
	for _, w := range b {
		for _, f := range filters {
			if matchWord(w, f) {
				continue outer
			}
		}
		res = append(res, w)
	}
	return res
}

func matchWord(w Word, filter string) bool {
	filter = strings.ToUpper(strings.TrimSpace(filter))
	if filter == "" || filter[0] != w.W {
		return false
	}
	if len(filter) == 1 {
		return true
	}
	val, err := strconv.ParseFloat(filter[1:], 64)
	return err == nil && val == w.Arg
}
