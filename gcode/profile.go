package gcode

import (
	"fmt"
	"time"

	"github.com/mastercactapus/gstream/coord"
)

// Profile is the result of replaying a whole program through an Interpreter.
type Profile struct {
	Lines []string

	// Elapsed holds the cumulative estimated run time after each line.
	Elapsed []time.Duration

	Min, Max coord.Point
	Travel   float64
}

// Total returns the estimated run time of the whole program.
func (p *Profile) Total() time.Duration {
	if len(p.Elapsed) == 0 {
		return 0
	}
	return p.Elapsed[len(p.Elapsed)-1]
}

// Remaining returns the estimated time left once line n has been sent.
func (p *Profile) Remaining(n int) time.Duration {
	if n < 0 || n >= len(p.Elapsed) {
		return 0
	}
	return p.Total() - p.Elapsed[n]
}

// Analyze will replay lines on a fresh Interpreter using rapidFeed for G0 moves.
func Analyze(lines []string, rapidFeed float64) (*Profile, error) {
	in := NewInterpreter()
	in.SetRapidFeed(rapidFeed)

	p := &Profile{
		Lines:   lines,
		Elapsed: make([]time.Duration, len(lines)),
	}
	for i, line := range lines {
		_, err := in.Analyze(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		p.Elapsed[i] = time.Duration(in.Time() * float64(time.Minute))
	}
	p.Min, p.Max = in.Bounds()
	p.Travel = in.Travel()

	return p, nil
}
