package machine

import (
	"context"
	"log"

	"github.com/mastercactapus/gstream/coord"
)

type IntentType int

const (
	IntentMove IntentType = iota
	IntentMoveTo
	IntentHome
	IntentRun
	IntentPause
	IntentResume
	IntentStop
	IntentExit
)

// Intent is a request from an input device (keyboard, joystick, ...).
type Intent struct {
	Type IntentType

	// Delta for IntentMove, position for IntentMoveTo.
	Point coord.Point

	// Feed <= 0 means rapid.
	Feed float64

	// Home values for IntentHome; nil axes are left alone.
	X, Y, Z *float64
}

// An IntentSource produces intents until it is closed or sends IntentExit.
type IntentSource interface {
	Intents() <-chan Intent
}

// IntentChan is an IntentSource backed by a channel.
type IntentChan chan Intent

func (c IntentChan) Intents() <-chan Intent { return c }

// Serve routes intents from src until it is exhausted or ctx is done.
func (m *Machine) Serve(ctx context.Context, src IntentSource) error {
	ch := src.Intents()
	for {
		var in Intent
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok = <-ch:
		}
		if !ok || in.Type == IntentExit {
			return nil
		}

		switch in.Type {
		case IntentMove:
			m.Jog(in.Point, in.Feed)
		case IntentMoveTo:
			m.MoveTo(in.Point, in.Feed)
		case IntentHome:
			m.SetHome(in.X, in.Y, in.Z)
		case IntentRun:
			err := m.StartRun(ctx)
			if err != nil {
				log.Println("ERROR: start run:", err)
			}
		case IntentPause:
			m.Pause()
		case IntentResume:
			m.Resume()
		case IntentStop:
			m.Stop()
		}
	}
}
