package grbl

import (
	"io"
	"path/filepath"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// An Opener establishes a new link to a controller.
type Opener interface {
	Open() (io.ReadWriteCloser, error)
}

// OpenerFunc adapts a function to an Opener.
type OpenerFunc func() (io.ReadWriteCloser, error)

func (fn OpenerFunc) Open() (io.ReadWriteCloser, error) { return fn() }

// SerialOpener opens the first serial device whose name matches Pattern.
type SerialOpener struct {
	// Pattern is a glob, e.g. /dev/ttyUSB*
	Pattern string
	Baud    int
}

// Devices returns the serial devices matching the pattern.
func (o SerialOpener) Devices() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, err
	}
	var res []string
	for _, p := range ports {
		ok, err := filepath.Match(o.Pattern, p)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, p)
		}
	}
	return res, nil
}

func (o SerialOpener) Open() (io.ReadWriteCloser, error) {
	devs, err := o.Devices()
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, ErrNoDevice
	}
	return serial.OpenPort(&serial.Config{Name: devs[0], Baud: o.Baud})
}
