package machine

import "github.com/mastercactapus/gstream/coord"

type EventType int

const (
	// EventPosition is sent after every settled command with the
	// current work position.
	EventPosition EventType = iota

	// EventProgress carries the index of the last line submitted during a run.
	EventProgress

	EventError

	// EventReset is sent when the controller restarted, either on request
	// or spontaneously.
	EventReset

	EventCompleted
	EventStopped
	EventPaused
	EventConnected
)

func (t EventType) String() string {
	switch t {
	case EventPosition:
		return "position"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventReset:
		return "reset"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	case EventPaused:
		return "paused"
	case EventConnected:
		return "connected"
	}
	return "unknown"
}

// Event is a notification for an outside observer (e.g. a UI).
type Event struct {
	Type     EventType
	Position coord.Point
	Line     int
	Paused   bool

	// Raw is the controller response that caused the event, if any.
	Raw string
	Err error
}

// EventFunc receives events. It must not block.
type EventFunc func(Event)

// Emit calls f if it is set.
func (f EventFunc) Emit(e Event) {
	if f == nil {
		return
	}
	f(e)
}
