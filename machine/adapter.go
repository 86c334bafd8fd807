package machine

import (
	"context"

	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/meshlevel"
)

// A Streamer can pipeline program lines to a controller.
type Streamer interface {
	Begin(Activity) error
	End(Activity)

	// DoCommandNonBlocking sends a line without waiting for its
	// response. Nothing is left pending when it returns an error.
	DoCommandNonBlocking(line string) error

	// PollAck reports whether every pending line has been acknowledged.
	// It never blocks.
	PollAck() (bool, string, error)

	Reset(context.Context) error
}

// A Commander executes single commands synchronously.
type Commander interface {
	Begin(Activity) error
	End(Activity)

	DoCommand(ctx context.Context, line string, wait bool) (string, error)

	// Modes returns the current distance and unit modes.
	Modes() (relative, metric bool)

	// SupportsJog reports whether `$J=` jogs (and so CancelJog) are
	// available.
	SupportsJog() bool

	// CancelJog stops any jog motion in progress.
	CancelJog() error

	Status(ctx context.Context, bothFrames bool) (*State, error)
}

// An Adapter represents a full CNC controller connection.
type Adapter interface {
	Streamer
	Commander

	Open(context.Context) error
	Close() error

	// Current returns the activity in progress.
	Current() Activity

	Home(context.Context) error

	ProbeAxis(ctx context.Context, distance, feed float64) (float64, error)
	ProbeGrid(context.Context, GridOptions) (*meshlevel.Grid, error)

	SetCheckMode(ctx context.Context, on bool) error
	CheckLine(ctx context.Context, line string) error

	SetCompensation(meshlevel.HeightMap)
	ClearCompensation()

	Position() coord.Point
	RapidFeed() float64
}
