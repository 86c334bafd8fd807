package main

import (
	"encoding/json"
	"io"
	"log"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/machine"
)

const eventChannel = "/events/machine"

// eventStream forwards machine events to server-sent event clients.
type eventStream struct {
	sse *sse.Server
}

func newEventStream() *eventStream {
	return &eventStream{
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}
}

type eventJSON struct {
	Type     string
	Position coord.Point
	Line     int
	Paused   bool   `json:",omitempty"`
	Raw      string `json:",omitempty"`
	Error    string `json:",omitempty"`
}

func encodeEvent(e machine.Event) ([]byte, error) {
	v := eventJSON{
		Type:     e.Type.String(),
		Position: e.Position,
		Line:     e.Line,
		Paused:   e.Paused,
		Raw:      e.Raw,
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return json.Marshal(v)
}

func (s *eventStream) Emit(e machine.Event) {
	if e.Type == machine.EventError {
		log.Printf("ERROR: line %d: %v (%s)", e.Line+1, e.Err, e.Raw)
	}
	data, err := encodeEvent(e)
	if err != nil {
		log.Printf("ERROR: marshal json: %+v", err)
		return
	}
	s.sse.SendMessage(eventChannel, sse.SimpleMessage(string(data)))
}
