// Package spjs opens serial ports through a serial-port-json-server
// (https://github.com/chilipeppr/serial-port-json-server).
package spjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoPort is returned when the server does not know the requested port.
var ErrNoPort = errors.New("port not found")

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
}

// PortEvent reports a port being opened or closed.
type PortEvent struct {
	Cmd  string
	Desc string
	Port string
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}

func (l SerialPortList) Find(name string) (SerialPort, bool) {
	for _, p := range l.SerialPorts {
		if p.Name == name {
			return p, true
		}
	}
	return SerialPort{}, false
}

type SerialPort struct {
	Name                      string
	Friendly                  string
	SerialNumber              string
	DeviceClass               string
	IsOpen                    bool
	IsPrimary                 bool
	RelatedNames              []string
	Baud                      int
	BufferAlgorithm           string
	AvailableBufferAlgorithms []string
	Ver                       float64
	USBVID                    string
	USBPID                    string
	FeedRateOverride          float64
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	err = json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Type", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}
	if check("Cmd", &PortEvent{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

// Opener opens Port on the server at URL every time Open is called.
type Opener struct {
	URL  string
	Port string
	Baud int

	// Timeout bounds waiting for the server to list and open the port.
	Timeout time.Duration
}

func (o Opener) Open() (io.ReadWriteCloser, error) {
	return Dial(o.URL, o.Port, o.Baud, o.Timeout)
}

// Link is a serial port opened through the server. Reads return the
// data received from the port and writes are sent to it.
type Link struct {
	ws   *websocket.Conn
	port string

	wmx sync.Mutex
	pr  *io.PipeReader
	pw  *io.PipeWriter

	lists  chan SerialPortList
	events chan PortEvent
}

// Dial connects to the server and opens port unless it is already open.
func Dial(url, port string, baud int, timeout time.Duration) (*Link, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log.Println("Connecting to", url)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	l := &Link{
		ws:     ws,
		port:   port,
		pr:     pr,
		pw:     pw,
		lists:  make(chan SerialPortList, 1),
		events: make(chan PortEvent, 4),
	}
	go l.readLoop()

	err = l.open(baud, timeout)
	if err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Link) open(baud int, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	err := l.writeString("list")
	if err != nil {
		return err
	}
	var list SerialPortList
	select {
	case list = <-l.lists:
	case <-t.C:
		return errors.New("spjs: timeout waiting for port list")
	}
	sp, ok := list.Find(l.port)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPort, l.port)
	}
	if sp.IsOpen {
		return nil
	}

	err = l.writeString(fmt.Sprintf("open %s %d default", l.port, baud))
	if err != nil {
		return err
	}
	select {
	case ev := <-l.events:
		if ev.Cmd != "Open" {
			return fmt.Errorf("spjs: open %s: %s", l.port, ev.Desc)
		}
	case <-t.C:
		return errors.New("spjs: timeout opening " + l.port)
	}
	return nil
}

func (l *Link) readLoop() {
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			l.pw.CloseWithError(err)
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			log.Println("ERROR: parse:", err)
			continue
		}

		switch m := val.(type) {
		case *DataFrame:
			if m.Port != l.port {
				continue
			}
			_, err = io.WriteString(l.pw, m.Data)
			if err != nil {
				return
			}
		case *SerialPortList:
			select {
			case l.lists <- *m:
			default:
			}
		case *PortEvent:
			if m.Port != "" && m.Port != l.port {
				continue
			}
			select {
			case l.events <- *m:
			default:
			}
		case *ErrorMessage:
			log.Println("ERROR: spjs:", m.Error)
		}
	}
}

func (l *Link) writeString(data string) error {
	l.wmx.Lock()
	defer l.wmx.Unlock()
	return l.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

// encode maps bytes to runes so realtime commands above 0x7f survive
// the JSON encoding. The extra UTF-8 lead byte is ignored by Grbl.
func encode(p []byte) string {
	var sb strings.Builder
	for _, b := range p {
		if b < 0x80 {
			sb.WriteByte(b)
		} else {
			sb.WriteRune(rune(b))
		}
	}
	return sb.String()
}

func (l *Link) Read(p []byte) (int, error) { return l.pr.Read(p) }

func (l *Link) Write(p []byte) (int, error) {
	data, err := json.Marshal(JSON{
		Port: l.port,
		Data: []Data{{Data: encode(p), ID: nextID()}},
	})
	if err != nil {
		return 0, err
	}
	err = l.writeString("sendjson " + string(data))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close disconnects from the server, leaving the port open for other
// clients.
func (l *Link) Close() error {
	l.pr.Close()
	return l.ws.Close()
}
