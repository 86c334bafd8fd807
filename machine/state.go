package machine

import (
	"errors"
	"sync"

	"github.com/mastercactapus/gstream/coord"
)

var (
	// ErrBusy is returned when starting an activity while another is active.
	ErrBusy = errors.New("machine busy")

	// ErrNotReady is returned when starting an activity without a connection.
	ErrNotReady = errors.New("machine not connected")

	// ErrUnsupported is returned for operations the controller can't perform.
	ErrUnsupported = errors.New("not supported by controller")

	// ErrLink wraps failures of the connection to the controller. They are
	// fatal to the current session.
	ErrLink = errors.New("controller link failed")

	// ErrAlarm matches controller alarms. Motion stays blocked until the
	// controller is reset or unlocked.
	ErrAlarm = errors.New("controller alarm, reset required")
)

// Activity is the connection state of a controller.
type Activity int

const (
	Closed Activity = iota
	Connecting
	Ready
	Streaming
	Jogging
	Probing
	Homing
)

func (a Activity) String() string {
	switch a {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Streaming:
		return "streaming"
	case Jogging:
		return "jogging"
	case Probing:
		return "probing"
	case Homing:
		return "homing"
	}
	return "unknown"
}

// Gate allows only one activity at a time.
//
// The zero value is Closed.
type Gate struct {
	mx  sync.Mutex
	cur Activity
}

// Set forces the current state, e.g. after connecting or disconnecting.
func (g *Gate) Set(a Activity) {
	g.mx.Lock()
	g.cur = a
	g.mx.Unlock()
}

func (g *Gate) Current() Activity {
	g.mx.Lock()
	defer g.mx.Unlock()
	return g.cur
}

// Begin moves from Ready to a, failing if another activity is running.
func (g *Gate) Begin(a Activity) error {
	g.mx.Lock()
	defer g.mx.Unlock()
	switch g.cur {
	case Ready:
	case Closed, Connecting:
		return ErrNotReady
	default:
		return ErrBusy
	}
	g.cur = a
	return nil
}

// End returns to Ready if a is the current activity.
func (g *Gate) End(a Activity) {
	g.mx.Lock()
	if g.cur == a {
		g.cur = Ready
	}
	g.mx.Unlock()
}

// State is a controller status report. Frames the controller did not
// report are nil.
type State struct {
	Status string
	MPos   *coord.Point
	WPos   *coord.Point
}
