package machine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/gcode"
)

// Jogger issues interactive moves in the background.
//
// Only one command runs at a time; requests made while one is in
// progress are dropped rather than queued.
type Jogger struct {
	c      Commander
	events EventFunc

	// Interval is how often an input device repeats a held jog. Jogs
	// are sized to last about this long; zero sends the delta as given.
	Interval time.Duration

	busy atomic.Bool
	wg   sync.WaitGroup
}

func NewJogger(c Commander, events EventFunc) *Jogger {
	return &Jogger{c: c, events: events, Interval: 200 * time.Millisecond}
}

// IsBusy reports whether a previous request has not completed yet.
func (j *Jogger) IsBusy() bool { return j.busy.Load() }

// Wait blocks until the current request (if any) is done.
func (j *Jogger) Wait() { j.wg.Wait() }

func (j *Jogger) run(fn func(context.Context) error) bool {
	if !j.busy.CompareAndSwap(false, true) {
		return false
	}
	err := j.c.Begin(Jogging)
	if err != nil {
		j.busy.Store(false)
		return false
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer j.busy.Store(false)
		defer j.c.End(Jogging)

		err := fn(context.Background())
		if err != nil {
			log.Println("ERROR: jog:", err)
			j.events.Emit(Event{Type: EventError, Err: err})
		}
	}()
	return true
}

// setModes switches the controller to the requested distance mode and
// millimeters, waiting for each switch to be acknowledged.
func (j *Jogger) setModes(ctx context.Context, relative bool) error {
	rel, metric := j.c.Modes()
	if rel != relative {
		mode := "G90"
		if relative {
			mode = "G91"
		}
		_, err := j.c.DoCommand(ctx, mode, false)
		if err != nil {
			return err
		}
	}
	if !metric {
		_, err := j.c.DoCommand(ctx, "G21", false)
		if err != nil {
			return err
		}
	}
	return nil
}

func moveBlock(p coord.Point, feed float64, skipZero bool) gcode.Block {
	b := gcode.Block{{W: 'G', Arg: 0}}
	if feed > 0 {
		b[0].Arg = 1
	}
	for _, w := range []gcode.Word{{W: 'X', Arg: p.X}, {W: 'Y', Arg: p.Y}, {W: 'Z', Arg: p.Z}} {
		if skipZero && w.Arg == 0 {
			continue
		}
		b = append(b, w)
	}
	if feed > 0 {
		b = append(b, gcode.Word{W: 'F', Arg: feed})
	}
	return b
}

// RelativeMove moves by delta millimeters. A feed <= 0 uses rapid motion.
//
// Controllers that support jogging get a `$J=` jog, sized to what feed
// covers in Interval so repeated requests run back to back, and it is
// not waited for. Otherwise the move runs as G0/G1 and the request stays
// busy until the motion is done.
//
// A zero delta cancels any jog in progress. G0/G1 moves cannot be
// canceled this way; stopping them needs a feed hold or a reset.
func (j *Jogger) RelativeMove(delta coord.Point, feed float64) bool {
	if delta == (coord.Point{}) {
		return j.cancel()
	}

	if feed > 0 && j.c.SupportsJog() {
		line := jogLine(delta, feed, j.Interval)
		return j.run(func(ctx context.Context) error {
			_, err := j.c.DoCommand(ctx, line, false)
			return err
		})
	}

	return j.run(func(ctx context.Context) error {
		err := j.setModes(ctx, true)
		if err != nil {
			return err
		}
		_, err = j.c.DoCommand(ctx, moveBlock(delta, feed, true).String(), true)
		return err
	})
}

// jogLine builds a relative metric jog. With a non-zero interval the
// distance is scaled to what feed covers in that time.
func jogLine(delta coord.Point, feed float64, interval time.Duration) string {
	if interval > 0 {
		travel := feed / 60 * interval.Seconds()
		delta = delta.Mul(travel / delta.Distance(coord.Point{}))
	}
	b := gcode.Block{{W: 'G', Arg: 91}, {W: 'G', Arg: 21}}
	b = append(b, moveBlock(delta, feed, true)[1:]...)
	return "$J=" + b.String()
}

// cancel stops jogging, then waits for the controller to come to rest and
// refreshes the position the jogs moved.
func (j *Jogger) cancel() bool {
	err := j.c.CancelJog()
	if err != nil {
		log.Println("ERROR: cancel jog:", err)
		return false
	}
	j.run(func(ctx context.Context) error {
		_, err := j.c.DoCommand(ctx, dwellLine, false)
		if err != nil {
			return err
		}
		_, err = j.c.Status(ctx, false)
		return err
	})
	return true
}

// AbsoluteMove moves to pos in work coordinates (millimeters), waiting
// for the motion to finish.
func (j *Jogger) AbsoluteMove(pos coord.Point, feed float64) bool {
	return j.run(func(ctx context.Context) error {
		err := j.setModes(ctx, false)
		if err != nil {
			return err
		}
		_, err = j.c.DoCommand(ctx, moveBlock(pos, feed, false).String(), true)
		return err
	})
}

// HomeUpdate sets the current work position of the given axes. Nil axes
// keep their offset.
func (j *Jogger) HomeUpdate(x, y, z *float64) bool {
	b := gcode.Block{{W: 'G', Arg: 10}, {W: 'L', Arg: 20}, {W: 'P', Arg: 0}}
	for _, w := range []struct {
		W byte
		V *float64
	}{{'X', x}, {'Y', y}, {'Z', z}} {
		if w.V != nil {
			b = b.SetArg(w.W, *w.V)
		}
	}
	if len(b) == 3 {
		return false
	}

	return j.run(func(ctx context.Context) error {
		_, metric := j.c.Modes()
		if !metric {
			_, err := j.c.DoCommand(ctx, "G21", false)
			if err != nil {
				return err
			}
		}
		_, err := j.c.DoCommand(ctx, b.String(), false)
		return err
	})
}
