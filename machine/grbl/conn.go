package grbl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mastercactapus/gstream/machine"
)

// Conn is a line oriented connection to a Grbl controller.
//
// Lines are read in the background so that responses can be polled
// without blocking.
type Conn struct {
	rw io.ReadWriteCloser

	lines   chan string
	readErr error

	closeCh   chan struct{}
	closeOnce sync.Once

	mx sync.Mutex
}

// NewConn creates a new Conn using the provided ReadWriteCloser for data.
func NewConn(rw io.ReadWriteCloser) *Conn {
	c := &Conn{
		rw:      rw,
		lines:   make(chan string, 64),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func linkErr(err error) error {
	return fmt.Errorf("%w: %w", machine.ErrLink, err)
}

func (c *Conn) readLoop() {
	defer close(c.lines)
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		select {
		case c.lines <- line:
		case <-c.closeCh:
			return
		}
	}
	err := scan.Err()
	if err == nil {
		err = io.EOF
	}
	// read before close(c.lines), so visible to anyone who sees it closed
	c.readErr = err
}

func (c *Conn) closed() error {
	if c.readErr != nil {
		return linkErr(c.readErr)
	}
	return linkErr(io.ErrClosedPipe)
}

// ReadLine blocks until the next line arrives.
func (c *Conn) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrTimeout
		}
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", c.closed()
		}
		return line, nil
	}
}

// TryReadLine returns the next line if one is already available.
func (c *Conn) TryReadLine() (string, bool, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", false, c.closed()
		}
		return line, true, nil
	default:
		return "", false, nil
	}
}

// Drain discards every line already received.
func (c *Conn) Drain() {
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(p []byte) error {
	select {
	case <-c.closeCh:
		return linkErr(io.ErrClosedPipe)
	default:
	}
	c.mx.Lock()
	_, err := c.rw.Write(p)
	c.mx.Unlock()
	if err != nil {
		return linkErr(err)
	}
	return nil
}

// WriteLine sends a single line of text.
func (c *Conn) WriteLine(line string) error {
	return c.write([]byte(line + "\n"))
}

// WriteByte will write directly to the serial device.
//
// Use for realtime commands like `?`.
func (c *Conn) WriteByte(p byte) error {
	return c.write([]byte{p})
}

// Close will abort any pending reads and close the underlying
// ReadWriteCloser.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.rw.Close()
	})
	return err
}
