package grbl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/gcode"
	"github.com/mastercactapus/gstream/machine"
	"github.com/mastercactapus/gstream/meshlevel"
)

const (
	softReset = 0x18
	jogCancel = 0x85

	dwellLine = "G4 P0"
)

// Config configures a Writer.
type Config struct {
	BannerTimeout   time.Duration
	ResponseTimeout time.Duration

	// MotionTimeout bounds waiting for motion to finish.
	MotionTimeout time.Duration

	// Suppress lists words removed from every line before it is sent,
	// either a full word (`M6`) or a letter matching any value (`T`).
	Suppress []string

	// Compensation applies an installed height map to straight moves.
	Compensation bool

	// CheckMode allows SetCheckMode.
	CheckMode bool
}

func DefaultConfig() Config {
	return Config{
		BannerTimeout:   5 * time.Second,
		ResponseTimeout: 10 * time.Second,
		MotionTimeout:   10 * time.Minute,
		Suppress:        []string{"M6", "T"},
		Compensation:    true,
		CheckMode:       true,
	}
}

// BasicConfig is DefaultConfig with suppression, compensation and
// check mode turned off.
func BasicConfig() Config {
	cfg := DefaultConfig()
	cfg.Suppress = nil
	cfg.Compensation = false
	cfg.CheckMode = false
	return cfg
}

// Writer talks the Grbl protocol over a link, tracking the machine
// position as lines are sent.
type Writer struct {
	machine.Gate

	cfg    Config
	opener Opener
	events machine.EventFunc

	// rt guards the link for realtime bytes, which must not wait on mx.
	rt      sync.Mutex
	conn    *Conn
	version Version

	resetMx   sync.Mutex
	resetting *resetCall

	mx        sync.Mutex
	interp    *gcode.Interpreter
	settings  map[int]float64
	wco       *coord.Point
	pending   int
	restore   bool
	comp      meshlevel.HeightMap
	checkMode bool
	checkSave gcode.Interpreter

	// alarm is latched until a reset, unlock or homing cycle.
	alarm error
}

type resetCall struct {
	done chan struct{}
	err  error
}

var _ machine.Adapter = &Writer{}

func NewWriter(o Opener, cfg Config, events machine.EventFunc) *Writer {
	return &Writer{
		cfg:      cfg,
		opener:   o,
		events:   events,
		interp:   gcode.NewInterpreter(),
		settings: make(map[int]float64),
	}
}

func (w *Writer) link() (*Conn, Version) {
	w.rt.Lock()
	defer w.rt.Unlock()
	return w.conn, w.version
}

func (w *Writer) setLink(c *Conn, v Version) {
	w.rt.Lock()
	w.conn = c
	w.version = v
	w.rt.Unlock()
}

// Version returns the firmware version reported at connect.
func (w *Writer) Version() Version {
	_, v := w.link()
	return v
}

// Settings returns a copy of the controller `$` settings.
func (w *Writer) Settings() map[int]float64 {
	w.mx.Lock()
	defer w.mx.Unlock()
	res := make(map[int]float64, len(w.settings))
	for k, v := range w.settings {
		res[k] = v
	}
	return res
}

// Pending returns the number of lines sent but not yet acknowledged.
func (w *Writer) Pending() int {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.pending
}

func (w *Writer) Modes() (relative, metric bool) {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.interp.Relative(), w.interp.Metric()
}

// Position returns the tracked work position in millimeters.
func (w *Writer) Position() coord.Point {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.interp.Position()
}

func (w *Writer) RapidFeed() float64 {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.interp.RapidFeed()
}

func (w *Writer) emitPosition() {
	w.events.Emit(machine.Event{Type: machine.EventPosition, Position: w.interp.Position()})
}

// Open connects to the controller, restarts it and loads its settings.
// Homing is run if the controller requires it.
func (w *Writer) Open(ctx context.Context) error {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.Set(machine.Connecting)
	err := w.open(ctx)
	if err != nil {
		w.Set(machine.Closed)
		return err
	}
	w.Set(machine.Ready)
	return nil
}

func (w *Writer) open(ctx context.Context) (err error) {
	if old, _ := w.link(); old != nil {
		old.Close()
		w.setLink(nil, Version{})
	}

	rw, err := w.opener.Open()
	if err != nil {
		return err
	}
	c := NewConn(rw)
	w.setLink(c, Version{})
	defer func() {
		if err != nil {
			c.Close()
			w.setLink(nil, Version{})
		}
	}()

	w.pending = 0
	w.restore = false
	w.alarm = nil
	w.checkMode = false
	w.wco = nil
	w.interp.Reset()

	err = c.WriteLine("\r")
	if err != nil {
		return err
	}
	err = c.WriteByte(softReset)
	if err != nil {
		return err
	}
	v, err := w.waitBanner(ctx, c)
	if err != nil {
		return err
	}
	w.setLink(c, v)

	err = w.loadSettings(ctx)
	if err != nil {
		return err
	}
	if w.settings[22] != 0 {
		err = w.home(ctx)
	} else {
		_, err = w.status(ctx, true)
	}
	if err != nil {
		return err
	}
	log.Printf("connected to Grbl %s", v)
	w.emitPosition()
	return nil
}

func (w *Writer) waitBanner(ctx context.Context, c *Conn) (Version, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.BannerTimeout)
	defer cancel()
	for {
		line, err := c.ReadLine(ctx)
		if errors.Is(err, ErrTimeout) {
			return Version{}, ErrNoBanner
		}
		if err != nil {
			return Version{}, err
		}
		if v, ok := parseBanner(line); ok {
			return v, nil
		}
	}
}

func (w *Writer) loadSettings(ctx context.Context) error {
	w.settings = make(map[int]float64)
	_, err := w.exchange(ctx, "$$", w.cfg.ResponseTimeout)
	if err != nil {
		return err
	}
	if f, ok := w.settings[110]; ok {
		w.interp.SetRapidFeed(f)
	}
	return nil
}

// Close disconnects from the controller.
func (w *Writer) Close() error {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.Set(machine.Closed)
	c, _ := w.link()
	if c == nil {
		return nil
	}
	w.setLink(nil, Version{})
	return c.Close()
}

// Reset soft-resets the controller and reconnects. A call made while
// another reset is in progress waits for it and returns its result.
func (w *Writer) Reset(ctx context.Context) error {
	w.resetMx.Lock()
	if call := w.resetting; call != nil {
		w.resetMx.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &resetCall{done: make(chan struct{})}
	w.resetting = call
	w.resetMx.Unlock()

	call.err = w.reset(ctx)

	w.resetMx.Lock()
	w.resetting = nil
	w.resetMx.Unlock()
	close(call.done)
	return call.err
}

func (w *Writer) reset(ctx context.Context) error {
	// interrupt anything holding mx
	if c, _ := w.link(); c != nil {
		c.WriteByte(softReset)
	}

	w.mx.Lock()
	defer w.mx.Unlock()

	prev := w.Current()
	w.Set(machine.Connecting)
	err := w.open(ctx)
	if err != nil {
		w.Set(machine.Closed)
		return err
	}
	if prev < machine.Ready {
		prev = machine.Ready
	}
	w.Set(prev)
	w.events.Emit(machine.Event{Type: machine.EventReset, Position: w.interp.Position()})
	return nil
}

// readResponse reads until the response to the last line, handling any
// other messages along the way.
func (w *Writer) readResponse(ctx context.Context, c *Conn) (string, error) {
	for {
		line, err := c.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		switch classify(line) {
		case respOK:
			return line, nil
		case respError:
			return line, parseError(line)
		case respAlarm:
			err := parseError(line)
			w.alarm = err
			return line, err
		case respBanner:
			w.handleBanner(line)
			return line, ErrReset
		default:
			w.handleMessage(line)
		}
	}
}

func (w *Writer) exchange(ctx context.Context, line string, timeout time.Duration) (string, error) {
	c, _ := w.link()
	if c == nil {
		return "", machine.ErrNotReady
	}
	err := c.WriteLine(line)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.readResponse(ctx, c)
}

// handleBanner handles a controller restart we did not ask for. Nothing
// sent before it will be acknowledged, and the work offsets are restored
// before the next line.
func (w *Writer) handleBanner(line string) {
	if v, ok := parseBanner(line); ok {
		c, _ := w.link()
		w.setLink(c, v)
	}
	w.pending = 0
	w.restore = true
	w.wco = nil
	log.Println("WARN: controller reset:", line)
	w.events.Emit(machine.Event{Type: machine.EventReset, Raw: line, Position: w.interp.Position()})
}

func (w *Writer) handleMessage(line string) {
	switch classify(line) {
	case respSetting:
		id, val, err := parseSetting(line)
		if err != nil {
			log.Println("WARN: parse setting:", err)
			return
		}
		w.settings[id] = val
	case respStatus:
		_, _, err := w.applyStatus(line)
		if err != nil {
			log.Println("WARN: parse status:", err)
		}
	case respProbe:
		// reported with the response to the probe command
	default:
		log.Println("grbl:", line)
	}
}

// restoreLine rebuilds the modes and work position lost by a reset.
func (w *Writer) restoreLine() string {
	conv := 1.0
	parts := []string{"G21", "G90", "G10", "L20", "P0"}
	if !w.interp.Metric() {
		parts[0] = "G20"
		conv = 1 / 25.4
	}
	if w.interp.Relative() {
		parts[1] = "G91"
	}
	pos := w.interp.Position()
	parts = append(parts,
		gcode.Word{W: 'X', Arg: pos.X * conv}.String(),
		gcode.Word{W: 'Y', Arg: pos.Y * conv}.String(),
		gcode.Word{W: 'Z', Arg: pos.Z * conv}.String(),
	)
	return strings.Join(parts, " ")
}

// settle waits for every pending line and restores the work position
// after a reset.
func (w *Writer) settle(ctx context.Context) error {
	c, _ := w.link()
	if c == nil {
		return machine.ErrNotReady
	}
	for w.pending > 0 {
		rctx, cancel := context.WithTimeout(ctx, w.cfg.MotionTimeout)
		line, err := w.readResponse(rctx, c)
		cancel()
		var cmdErr *CommandError
		switch {
		case err == nil:
			w.pending--
		case errors.Is(err, ErrReset):
		case errors.As(err, &cmdErr):
			w.pending--
			w.interp.Undo()
			w.events.Emit(machine.Event{Type: machine.EventError, Raw: line, Err: err})
		default:
			return err
		}
	}

	if w.restore {
		w.restore = false
		_, err := w.exchange(ctx, w.restoreLine(), w.cfg.ResponseTimeout)
		if err != nil {
			return err
		}
	}
	return nil
}

// prepare removes suppressed words, returning false if nothing is left
// to send.
func (w *Writer) prepare(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if len(w.cfg.Suppress) > 0 {
		b, err := gcode.ParseBlock(line)
		if err == nil {
			kept := b.Without(w.cfg.Suppress...)
			if len(kept) != len(b) {
				line = kept.String()
			}
		}
	}
	return line, line != ""
}

// DoCommand sends a single line and waits for its response. With wait
// set it also waits for all motion to finish.
func (w *Writer) DoCommand(ctx context.Context, line string, wait bool) (string, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	resp, err := w.command(ctx, line, wait)
	w.emitPosition()
	return resp, err
}

func (w *Writer) command(ctx context.Context, line string, wait bool) (string, error) {
	err := w.settle(ctx)
	if err != nil {
		return "", err
	}
	line, ok := w.prepare(line)
	if !ok {
		return "", nil
	}
	err = w.locked(line)
	if err != nil {
		return "", err
	}
	mv, err := w.interp.Analyze(line)
	if err != nil {
		return "", err
	}

	lines, err := w.compensate(line, mv)
	if err != nil {
		w.interp.Undo()
		return "", err
	}
	if lines == nil {
		lines = []string{line}
	}

	var resp string
	for _, l := range lines {
		resp, err = w.exchange(ctx, l, w.cfg.ResponseTimeout)
		if err != nil {
			w.interp.Undo()
			return resp, err
		}
	}

	if strings.EqualFold(line, "$X") || strings.EqualFold(line, "$H") {
		w.alarm = nil
	}

	if wait {
		return w.exchange(ctx, dwellLine, w.cfg.MotionTimeout)
	}
	return resp, nil
}

// locked returns the latched alarm for anything but a `$` system
// command, which stays usable to unlock or home the controller. Jogs are
// motion and stay locked.
func (w *Writer) locked(line string) error {
	if w.alarm == nil {
		return nil
	}
	if strings.HasPrefix(line, "$") && !strings.HasPrefix(strings.ToUpper(line), "$J=") {
		return nil
	}
	return fmt.Errorf("%w: %w", machine.ErrAlarm, w.alarm)
}

// DoCommandNonBlocking sends a line without waiting for its response.
// PollAck reports when it has been acknowledged.
func (w *Writer) DoCommandNonBlocking(line string) error {
	w.mx.Lock()
	defer w.mx.Unlock()

	c, _ := w.link()
	if c == nil {
		return machine.ErrNotReady
	}
	if w.restore {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ResponseTimeout)
		err := w.settle(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	line, ok := w.prepare(line)
	if !ok {
		return nil
	}
	err := w.locked(line)
	if err != nil {
		return err
	}
	mv, err := w.interp.Analyze(line)
	if err != nil {
		return err
	}

	lines, err := w.compensate(line, mv)
	if err != nil {
		w.interp.Undo()
		return err
	}
	if len(lines) > 1 {
		// only the last segment is left pending
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.MotionTimeout)
		defer cancel()
		err = w.settle(ctx)
		if err == nil {
			for _, l := range lines[:len(lines)-1] {
				_, err = w.exchange(ctx, l, w.cfg.ResponseTimeout)
				if err != nil {
					break
				}
			}
		}
		if err != nil {
			w.interp.Undo()
			return err
		}
		line = lines[len(lines)-1]
	} else if len(lines) == 1 {
		line = lines[0]
	}

	err = c.WriteLine(line)
	if err != nil {
		w.interp.Undo()
		return err
	}
	w.pending++
	return nil
}

// PollAck consumes any responses received so far, reporting true once
// nothing is pending.
//
// A controller error is returned after accounting for the line it
// rejected. A restart counts as no acknowledgement but clears the
// pending lines.
func (w *Writer) PollAck() (bool, string, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.pending == 0 {
		return true, "", nil
	}
	c, _ := w.link()
	if c == nil {
		return false, "", machine.ErrNotReady
	}

	for {
		line, ok, err := c.TryReadLine()
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, "", nil
		}

		switch classify(line) {
		case respOK:
			w.pending--
			if w.pending == 0 {
				w.emitPosition()
				return true, line, nil
			}
		case respError, respAlarm:
			w.pending--
			w.interp.Undo()
			err := parseError(line)
			if err.Alarm {
				w.alarm = err
			}
			return w.pending == 0, line, err
		case respBanner:
			w.handleBanner(line)
			return false, line, nil
		default:
			w.handleMessage(line)
		}
	}
}

// SupportsJog reports whether the controller accepts `$J=` jogs, Grbl 1.1
// and later.
func (w *Writer) SupportsJog() bool {
	c, v := w.link()
	return c != nil && v.AtLeast(1, 1)
}

// CancelJog stops jog motion immediately, discarding queued jogs.
func (w *Writer) CancelJog() error {
	c, v := w.link()
	if c == nil {
		return machine.ErrNotReady
	}
	if !v.AtLeast(1, 1) {
		return machine.ErrUnsupported
	}
	return c.WriteByte(jogCancel)
}
