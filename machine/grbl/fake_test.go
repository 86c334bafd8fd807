package grbl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/machine"
	"github.com/stretchr/testify/require"
)

const testBanner = "Grbl 1.1h ['$' for help]"

// fakeGrbl simulates a controller on the other end of a link. Every
// Open starts a new link.
type fakeGrbl struct {
	mx       sync.Mutex
	w        *io.PipeWriter
	ch       chan string
	buf      []byte
	lines    []string
	realtime []byte
	settings []string
	banner   string
	mask     int
	mpos     coord.Point
	wco      *coord.Point
	probe    string
	checking bool

	// manual disables the automatic `ok` for plain lines
	manual bool

	// reply overrides the response to a line
	reply func(line string) ([]string, bool)
}

func newFakeGrbl() *fakeGrbl {
	return &fakeGrbl{
		banner:   testBanner,
		settings: []string{"$10=1", "$22=0", "$110=500.000"},
		mask:     1,
		wco:      &coord.Point{},
		probe:    "[PRB:0.000,0.000,0.000:1]",
	}
}

type fakeLink struct {
	f *fakeGrbl
	r *io.PipeReader
}

func (l *fakeLink) Read(p []byte) (int, error)  { return l.r.Read(p) }
func (l *fakeLink) Write(p []byte) (int, error) { return l.f.write(p) }
func (l *fakeLink) Close() error                { return l.r.Close() }

func (f *fakeGrbl) Open() (io.ReadWriteCloser, error) {
	r, w := io.Pipe()
	ch := make(chan string, 256)
	go func() {
		for line := range ch {
			if _, err := io.WriteString(w, line+"\r\n"); err != nil {
				return
			}
		}
	}()

	f.mx.Lock()
	f.w, f.ch = w, ch
	f.buf = nil
	f.mx.Unlock()
	return &fakeLink{f: f, r: r}, nil
}

// Disconnect drops the current link.
func (f *fakeGrbl) Disconnect() {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.w.Close()
}

// Send writes lines as if the controller produced them.
func (f *fakeGrbl) Send(lines ...string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.send(lines...)
}

func (f *fakeGrbl) send(lines ...string) {
	for _, l := range lines {
		f.ch <- l
	}
}

func (f *fakeGrbl) Lines() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeGrbl) Realtime() []byte {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]byte(nil), f.realtime...)
}

func fmtPoint(p coord.Point) string {
	return fmt.Sprintf("%.3f,%.3f,%.3f", p.X, p.Y, p.Z)
}

func (f *fakeGrbl) statusLine() string {
	parts := []string{"Idle"}
	if f.mask&1 == 1 {
		parts = append(parts, "MPos:"+fmtPoint(f.mpos))
	} else {
		wpos := f.mpos
		if f.wco != nil {
			wpos = f.mpos.Sub(*f.wco)
		}
		parts = append(parts, "WPos:"+fmtPoint(wpos))
	}
	parts = append(parts, "FS:0,0")
	if f.wco != nil {
		parts = append(parts, "WCO:"+fmtPoint(*f.wco))
	}
	return "<" + strings.Join(parts, "|") + ">"
}

func (f *fakeGrbl) write(p []byte) (int, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	for _, b := range p {
		switch b {
		case softReset:
			f.realtime = append(f.realtime, b)
			f.buf = nil
			f.checking = false
			f.send(f.banner)
		case '?':
			f.realtime = append(f.realtime, b)
			f.send(f.statusLine())
		case jogCancel:
			f.realtime = append(f.realtime, b)
		case '\r':
		case '\n':
			line := string(f.buf)
			f.buf = nil
			if line == "" {
				continue
			}
			f.lines = append(f.lines, line)
			f.handle(line)
		default:
			f.buf = append(f.buf, b)
		}
	}
	return len(p), nil
}

func (f *fakeGrbl) handle(line string) {
	if f.reply != nil {
		if resp, ok := f.reply(line); ok {
			f.send(resp...)
			return
		}
	}
	switch {
	case line == "$$":
		f.send(f.settings...)
		f.send("ok")
	case strings.HasPrefix(line, "$10="):
		fmt.Sscanf(line, "$10=%d", &f.mask)
		f.send("ok")
	case line == "$C":
		if f.checking {
			f.checking = false
			f.send("[MSG:Disabled]", "ok", f.banner)
			return
		}
		f.checking = true
		f.send("[MSG:Enabled]", "ok")
	case strings.Contains(line, "G38.2"):
		if strings.HasPrefix(f.probe, "ALARM") {
			f.send(f.probe)
			return
		}
		f.send(f.probe, "ok")
	case f.manual:
	default:
		f.send("ok")
	}
}

func testConfig() Config {
	cfg := BasicConfig()
	cfg.BannerTimeout = time.Second
	cfg.ResponseTimeout = time.Second
	cfg.MotionTimeout = time.Second
	return cfg
}

type eventLog struct {
	mx     sync.Mutex
	events []machine.Event
}

func (l *eventLog) Emit(e machine.Event) {
	l.mx.Lock()
	l.events = append(l.events, e)
	l.mx.Unlock()
}

func (l *eventLog) Of(t machine.EventType) []machine.Event {
	l.mx.Lock()
	defer l.mx.Unlock()
	var res []machine.Event
	for _, e := range l.events {
		if e.Type == t {
			res = append(res, e)
		}
	}
	return res
}

func openFake(t *testing.T, f *fakeGrbl, cfg Config) (*Writer, *eventLog) {
	t.Helper()
	log := &eventLog{}
	w := NewWriter(f, cfg, log.Emit)
	require.NoError(t, w.Open(context.Background()))
	t.Cleanup(func() { w.Close() })
	return w, log
}

// linesAfter returns the lines received after the first occurrence of
// marker.
func linesAfter(lines []string, marker string) []string {
	for i, l := range lines {
		if l == marker {
			return lines[i+1:]
		}
	}
	return nil
}
