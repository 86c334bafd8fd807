package machine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mastercactapus/gstream/gcode"
)

// RunState is the state of an Executor.
type RunState int

const (
	Idle RunState = iota
	Running
	Paused
	Completed
	Stopped
	Faulted
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// ErrRunning is returned when loading or starting while a run is active.
var ErrRunning = errors.New("program is running")

const (
	// line used to wait for all motion to finish
	dwellLine = "G4 P0"

	truncateDigits = 4
)

// Executor streams a loaded program to a Streamer, one line at a time.
type Executor struct {
	s      Streamer
	events EventFunc

	// PollInterval is the delay between acknowledgement checks.
	PollInterval time.Duration

	mx     sync.Mutex
	lines  []string
	cursor int
	state  RunState
	paused bool
	stop   bool
}

func NewExecutor(s Streamer, events EventFunc) *Executor {
	return &Executor{
		s:            s,
		events:       events,
		PollInterval: 10 * time.Millisecond,
	}
}

// Load replaces the program and rewinds to the first line.
func (e *Executor) Load(lines []string) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.state == Running {
		return ErrRunning
	}
	e.lines = lines
	e.cursor = 0
	e.state = Idle
	return nil
}

func (e *Executor) State() RunState {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.state == Running && e.paused {
		return Paused
	}
	return e.state
}

// Line returns the number of lines submitted so far.
func (e *Executor) Line() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.cursor
}

// Len returns the number of lines loaded.
func (e *Executor) Len() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return len(e.lines)
}

func (e *Executor) setPaused(p bool) bool {
	e.mx.Lock()
	if e.state != Running {
		e.mx.Unlock()
		return false
	}
	changed := e.paused != p
	e.paused = p
	line := e.cursor - 1
	e.mx.Unlock()

	if changed {
		e.events.Emit(Event{Type: EventPaused, Paused: p, Line: line})
	}
	return true
}

// Pause holds the run once the line in flight is acknowledged.
func (e *Executor) Pause() bool { return e.setPaused(true) }

// Resume continues a paused run.
func (e *Executor) Resume() bool { return e.setPaused(false) }

func (e *Executor) TogglePause() bool {
	e.mx.Lock()
	p := e.paused
	e.mx.Unlock()
	return e.setPaused(!p)
}

// Stop ends the run at the next acknowledgement check and resets
// the controller.
func (e *Executor) Stop() bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.state != Running {
		return false
	}
	e.stop = true
	return true
}

func (e *Executor) begin() error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.state == Running {
		return ErrRunning
	}
	err := e.s.Begin(Streaming)
	if err != nil {
		return err
	}
	e.cursor = 0
	e.state = Running
	e.paused = false
	e.stop = false
	return nil
}

// Run streams the loaded program, blocking until it completes, is
// stopped, or the link fails.
//
// Canceling ctx acts like Stop.
func (e *Executor) Run(ctx context.Context) error {
	err := e.begin()
	if err != nil {
		return err
	}
	defer e.s.End(Streaming)

	return e.loop(ctx)
}

// Start runs the program in the background.
func (e *Executor) Start(ctx context.Context) error {
	err := e.begin()
	if err != nil {
		return err
	}

	go func() {
		defer e.s.End(Streaming)
		err := e.loop(ctx)
		if err != nil {
			log.Println("ERROR: run:", err)
		}
	}()
	return nil
}

// next returns the line to send, or false if there is nothing to
// send right now.
func (e *Executor) next() (line string, idx int, ok bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.paused || e.cursor >= len(e.lines) {
		return "", 0, false
	}
	line = gcode.Truncate(e.lines[e.cursor], truncateDigits)
	idx = e.cursor
	e.cursor++
	return line, idx, true
}

func (e *Executor) status() (stop, paused, done bool, line int) {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.stop, e.paused, e.cursor >= len(e.lines), e.cursor - 1
}

func (e *Executor) finish(s RunState) {
	e.mx.Lock()
	e.state = s
	e.paused = false
	e.stop = false
	e.mx.Unlock()
}

func (e *Executor) idle(ctx context.Context) {
	t := time.NewTimer(e.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		e.mx.Lock()
		e.stop = true
		e.mx.Unlock()
	case <-t.C:
	}
}

// fatal reports errors that end a run: a lost link, or an alarm that
// blocks motion until the operator resets.
func fatal(err error) bool {
	return errors.Is(err, ErrLink) || errors.Is(err, ErrAlarm)
}

func (e *Executor) fault(err error, line int) error {
	e.finish(Faulted)
	e.events.Emit(Event{Type: EventError, Err: err, Line: line})
	return err
}

func (e *Executor) loop(ctx context.Context) error {
	var inFlight, dwellSent bool

	for {
		stop, paused, done, line := e.status()
		if stop || ctx.Err() != nil {
			err := e.s.Reset(context.WithoutCancel(ctx))
			e.finish(Stopped)
			e.events.Emit(Event{Type: EventStopped, Line: line})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if inFlight {
			acked, raw, err := e.s.PollAck()
			if fatal(err) {
				return e.fault(err, line)
			}
			if err != nil {
				// the controller rejected a line, keep going
				e.events.Emit(Event{Type: EventError, Err: err, Raw: raw, Line: line})
			}
			if !acked {
				e.idle(ctx)
				continue
			}
			inFlight = false
		}

		if paused {
			e.idle(ctx)
			continue
		}

		if done {
			if dwellSent {
				break
			}
			err := e.s.DoCommandNonBlocking(dwellLine)
			if fatal(err) {
				return e.fault(err, line)
			}
			dwellSent = true
			inFlight = err == nil
			continue
		}

		text, idx, ok := e.next()
		if !ok {
			continue
		}
		err := e.s.DoCommandNonBlocking(text)
		if fatal(err) {
			return e.fault(err, idx)
		}
		if err != nil {
			e.events.Emit(Event{Type: EventError, Err: err, Raw: text, Line: idx})
		} else {
			inFlight = true
		}
		e.events.Emit(Event{Type: EventProgress, Line: idx})
	}

	e.finish(Completed)
	_, _, _, line := e.status()
	e.events.Emit(Event{Type: EventCompleted, Line: line})
	return nil
}
