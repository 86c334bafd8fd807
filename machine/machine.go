package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/gcode"
	"github.com/mastercactapus/gstream/meshlevel"
)

// Machine coordinates everything that talks to a single controller.
//
// Streaming, jogging, probing and homing are mutually exclusive.
type Machine struct {
	a      Adapter
	events EventFunc

	exec *Executor
	jog  *Jogger

	// RetryInterval is the delay between connection attempts.
	RetryInterval time.Duration

	mx      sync.Mutex
	profile *gcode.Profile
}

func NewMachine(a Adapter, events EventFunc) *Machine {
	return &Machine{
		a:             a,
		events:        events,
		exec:          NewExecutor(a, events),
		jog:           NewJogger(a, events),
		RetryInterval: 2 * time.Second,
	}
}

func (m *Machine) Executor() *Executor { return m.exec }
func (m *Machine) Jogger() *Jogger     { return m.jog }

// Connect opens the controller, retrying until it succeeds or ctx is done.
func (m *Machine) Connect(ctx context.Context) error {
	for {
		err := m.a.Open(ctx)
		if err == nil {
			m.events.Emit(Event{Type: EventConnected, Position: m.a.Position()})
			return nil
		}
		log.Println("ERROR: connect:", err)

		t := time.NewTimer(m.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Watch keeps the controller connected until ctx is done, refreshing the
// position every interval while nothing else is using it.
func (m *Machine) Watch(ctx context.Context, interval time.Duration) error {
	err := m.Connect(ctx)
	if err != nil {
		return err
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		if m.a.Current() != Ready {
			continue
		}
		_, err = m.a.Status(ctx, false)
		if !errors.Is(err, ErrLink) {
			continue
		}
		log.Println("ERROR: link lost:", err)
		err = m.Connect(ctx)
		if err != nil {
			return err
		}
	}
}

func (m *Machine) Activity() Activity { return m.a.Current() }

// Position returns the tracked work position.
func (m *Machine) Position() coord.Point { return m.a.Position() }

// Recover resets the controller until it responds again.
func (m *Machine) Recover(ctx context.Context) error {
	m.exec.Stop()
	for {
		err := m.a.Reset(ctx)
		if err == nil {
			return nil
		}
		log.Println("ERROR: reset:", err)

		t := time.NewTimer(m.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Load reads a program and prepares it to run.
func (m *Machine) Load(r io.Reader) (*gcode.Profile, error) {
	lines, err := gcode.ReadProgram(r)
	if err != nil {
		return nil, err
	}
	return m.LoadLines(lines)
}

// LoadLines prepares lines to run, returning their estimated profile.
func (m *Machine) LoadLines(lines []string) (*gcode.Profile, error) {
	p, err := gcode.Analyze(lines, m.a.RapidFeed())
	if err != nil {
		return nil, err
	}
	err = m.exec.Load(lines)
	if err != nil {
		return nil, err
	}

	m.mx.Lock()
	m.profile = p
	m.mx.Unlock()
	return p, nil
}

// Profile returns the analysis of the loaded program, or nil.
func (m *Machine) Profile() *gcode.Profile {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.profile
}

// StartRun streams the loaded program in the background.
func (m *Machine) StartRun(ctx context.Context) error {
	if m.exec.Len() == 0 {
		return fmt.Errorf("no program loaded")
	}
	return m.exec.Start(ctx)
}

func (m *Machine) Pause() bool       { return m.exec.Pause() }
func (m *Machine) Resume() bool      { return m.exec.Resume() }
func (m *Machine) TogglePause() bool { return m.exec.TogglePause() }
func (m *Machine) Stop() bool        { return m.exec.Stop() }

func (m *Machine) Jog(delta coord.Point, feed float64) bool { return m.jog.RelativeMove(delta, feed) }
func (m *Machine) MoveTo(pos coord.Point, feed float64) bool {
	return m.jog.AbsoluteMove(pos, feed)
}
func (m *Machine) SetHome(x, y, z *float64) bool { return m.jog.HomeUpdate(x, y, z) }

// Home runs the controller homing cycle.
func (m *Machine) Home(ctx context.Context) error {
	err := m.a.Begin(Homing)
	if err != nil {
		return err
	}
	defer m.a.End(Homing)
	return m.a.Home(ctx)
}

// SetCompensation installs a height map for later moves.
func (m *Machine) SetCompensation(h meshlevel.HeightMap) { m.a.SetCompensation(h) }
func (m *Machine) ClearCompensation()                    { m.a.ClearCompensation() }

func (m *Machine) Status(ctx context.Context) (*State, error) {
	return m.a.Status(ctx, true)
}

// LineError is a line rejected by the controller.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (l LineError) Error() string { return fmt.Sprintf("line %d (%s): %v", l.Line+1, l.Text, l.Err) }

// CheckProgram sends the loaded program with motion disabled and returns
// every line the controller rejected.
func (m *Machine) CheckProgram(ctx context.Context) ([]LineError, error) {
	p := m.Profile()
	if p == nil {
		return nil, fmt.Errorf("no program loaded")
	}

	err := m.a.Begin(Streaming)
	if err != nil {
		return nil, err
	}
	defer m.a.End(Streaming)

	err = m.a.SetCheckMode(ctx, true)
	if err != nil {
		return nil, err
	}

	var res []LineError
	for i, line := range p.Lines {
		err = m.a.CheckLine(ctx, gcode.Truncate(line, truncateDigits))
		if err != nil {
			res = append(res, LineError{Line: i, Text: line, Err: err})
		}
		if ctx.Err() != nil {
			break
		}
	}

	err = m.a.SetCheckMode(context.WithoutCancel(ctx), false)
	if err != nil {
		return res, err
	}
	return res, ctx.Err()
}
