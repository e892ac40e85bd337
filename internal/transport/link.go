package transport

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// link is the minimal line-oriented duplex the Transport drives. Production
// code talks to the controller over a real serial port; tests and dev mode
// use simLink instead.
type link interface {
	Open() error
	Close() error
	WriteLine(line string) error
	ReadLine() (string, error)
}

// serialLink is the production link, backed by go.bug.st/serial.
type serialLink struct {
	path string
	baud int
	port serial.Port
	r    *bufio.Reader
}

func newSerialLink(path string, baud int) *serialLink {
	return &serialLink{path: path, baud: baud}
}

func (s *serialLink) Open() error {
	mode := &serial.Mode{BaudRate: s.baud}
	port, err := serial.Open(s.path, mode)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", s.path, err)
	}
	s.port = port
	s.r = bufio.NewReader(port)
	return nil
}

func (s *serialLink) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

func (s *serialLink) WriteLine(line string) error {
	_, err := s.port.Write([]byte(line + "\n"))
	return err
}

func (s *serialLink) ReadLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return line, nil
}

var _ link = (*serialLink)(nil)

// simResponseDelay is the small synthetic delay (~100ms) before simLink
// responds to a command, standing in for real controller latency.
const simResponseDelay = 100 * time.Millisecond
