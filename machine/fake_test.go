package machine

import (
	"context"
	"sync"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/meshlevel"
)

type ack struct {
	ok  bool
	raw string
	err error
}

// fakeAdapter records everything sent to it and acknowledges
// immediately unless told otherwise.
type fakeAdapter struct {
	Gate

	mx       sync.Mutex
	sent     []string
	commands []string
	waits    []bool
	acks     []ack
	hold     bool
	resets   int
	cancels  int
	checking []bool

	relative bool
	inches   bool
	jogs     bool
	pos      coord.Point

	openErrs   []error
	statusErrs []error
	sendErr    func(line string) error
	onSend     func(line string)
	onCommand  func(line string)
	checkErr   func(line string) error

	probeDist float64
	gridOpts  *GridOptions
	comp      meshlevel.HeightMap
}

var _ Adapter = &fakeAdapter{}

func newFake() *fakeAdapter {
	f := &fakeAdapter{}
	f.Set(Ready)
	return f
}

func (f *fakeAdapter) Sent() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeAdapter) Commands() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeAdapter) Waits() []bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]bool(nil), f.waits...)
}

func (f *fakeAdapter) DoCommandNonBlocking(line string) error {
	if f.sendErr != nil {
		if err := f.sendErr(line); err != nil {
			return err
		}
	}
	f.mx.Lock()
	f.sent = append(f.sent, line)
	f.mx.Unlock()
	if f.onSend != nil {
		f.onSend(line)
	}
	return nil
}

func (f *fakeAdapter) PollAck() (bool, string, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if len(f.acks) > 0 {
		a := f.acks[0]
		f.acks = f.acks[1:]
		return a.ok, a.raw, a.err
	}
	if f.hold {
		return false, "", nil
	}
	return true, "ok", nil
}

func (f *fakeAdapter) Reset(context.Context) error {
	f.mx.Lock()
	f.resets++
	f.mx.Unlock()
	return nil
}

func (f *fakeAdapter) DoCommand(ctx context.Context, line string, wait bool) (string, error) {
	if f.onCommand != nil {
		f.onCommand(line)
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	f.commands = append(f.commands, line)
	f.waits = append(f.waits, wait)
	switch line {
	case "G90":
		f.relative = false
	case "G91":
		f.relative = true
	case "G20":
		f.inches = true
	case "G21":
		f.inches = false
	}
	return "ok", nil
}

func (f *fakeAdapter) Modes() (bool, bool) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.relative, !f.inches
}

func (f *fakeAdapter) SupportsJog() bool { return f.jogs }

func (f *fakeAdapter) CancelJog() error {
	f.mx.Lock()
	f.cancels++
	f.mx.Unlock()
	return nil
}

func (f *fakeAdapter) Open(context.Context) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		return err
	}
	f.Set(Ready)
	return nil
}

func (f *fakeAdapter) Close() error {
	f.Set(Closed)
	return nil
}

func (f *fakeAdapter) Status(context.Context, bool) (*State, error) {
	f.mx.Lock()
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		f.mx.Unlock()
		return nil, err
	}
	f.mx.Unlock()
	p := f.Position()
	return &State{Status: "Idle", WPos: &p}, nil
}

func (f *fakeAdapter) Home(context.Context) error {
	return nil
}

func (f *fakeAdapter) ProbeAxis(ctx context.Context, distance, feed float64) (float64, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.pos.Z += f.probeDist
	return f.probeDist, nil
}

func (f *fakeAdapter) ProbeGrid(ctx context.Context, opt GridOptions) (*meshlevel.Grid, error) {
	f.mx.Lock()
	f.gridOpts = &opt
	f.mx.Unlock()
	return meshlevel.NewGrid(opt.Min.X, opt.Max.X, opt.Min.Y, opt.Max.Y, opt.Spacing)
}

func (f *fakeAdapter) SetCheckMode(ctx context.Context, on bool) error {
	f.mx.Lock()
	f.checking = append(f.checking, on)
	f.mx.Unlock()
	return nil
}

func (f *fakeAdapter) CheckLine(ctx context.Context, line string) error {
	if f.checkErr != nil {
		return f.checkErr(line)
	}
	return nil
}

func (f *fakeAdapter) SetCompensation(h meshlevel.HeightMap) {
	f.mx.Lock()
	f.comp = h
	f.mx.Unlock()
}

func (f *fakeAdapter) ClearCompensation() { f.SetCompensation(nil) }

func (f *fakeAdapter) Compensation() meshlevel.HeightMap {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.comp
}

func (f *fakeAdapter) Position() coord.Point {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.pos
}

func (f *fakeAdapter) RapidFeed() float64 { return 5000 }

// eventLog collects events for assertions.
type eventLog struct {
	mx     sync.Mutex
	events []Event
}

func (l *eventLog) Emit(e Event) {
	l.mx.Lock()
	l.events = append(l.events, e)
	l.mx.Unlock()
}

func (l *eventLog) Of(t EventType) []Event {
	l.mx.Lock()
	defer l.mx.Unlock()
	var res []Event
	for _, e := range l.events {
		if e.Type == t {
			res = append(res, e)
		}
	}
	return res
}

func (f *fakeAdapter) Resets() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.resets
}
