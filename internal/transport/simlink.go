package transport

import (
	"fmt"
	"strings"
	"time"
)

// simLink is the deterministic responder used when the transport runs in
// simulation mode instead of opening a real serial port. Responses are
// computed from a command-prefix table and delivered after
// simResponseDelay.
type simLink struct {
	pos     Position
	pending chan []string
	closed  bool
}

func newSimLink() *simLink {
	return &simLink{
		pos:     Position{X: 100, Y: 50, Z: 10, E: 0},
		pending: make(chan []string, 16),
	}
}

func (s *simLink) Open() error  { return nil }
func (s *simLink) Close() error { s.closed = true; return nil }

func (s *simLink) WriteLine(line string) error {
	resp := s.respond(strings.TrimSpace(line))
	go func() {
		time.Sleep(simResponseDelay)
		s.pending <- resp
	}()
	return nil
}

// ReadLine returns the next buffered response line, blocking until a batch
// queued by WriteLine arrives; a multi-line batch is handed out one line per
// call by re-queuing its remainder.
func (s *simLink) ReadLine() (string, error) {
	batch, ok := <-s.pending
	if !ok || len(batch) == 0 {
		return "ok\n", nil
	}
	for i, line := range batch {
		if i == len(batch)-1 {
			continue
		}
		s.pending <- batch[i+1:]
		return line + "\n", nil
	}
	return batch[0] + "\n", nil
}

// respond computes the full set of response lines for a single command:
// position query, file listing, storage info, file select/start/write/save,
// pause/stop/emergency stop, homing, rapid/linear motion, and pin control.
// Unknown commands return "ok".
func (s *simLink) respond(cmd string) []string {
	switch {
	case strings.HasPrefix(cmd, "M114"):
		return []string{fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f", s.pos.X, s.pos.Y, s.pos.Z, s.pos.E), "ok"}
	case strings.HasPrefix(cmd, "M20"):
		return []string{"Begin file list", "plot1.gcode", "plot2.gcode", "End file list", "ok"}
	case strings.HasPrefix(cmd, "M39"):
		return []string{"Storage: 1048576 512000", "ok"}
	case strings.HasPrefix(cmd, "M23"), strings.HasPrefix(cmd, "M24"):
		return []string{"ok"}
	case strings.HasPrefix(cmd, "M28"):
		return []string{"Writing to file", "ok"}
	case strings.HasPrefix(cmd, "M29"):
		return []string{"Done saving file", "ok"}
	case strings.HasPrefix(cmd, "M25"):
		return []string{"ok"}
	case cmd == "M0", strings.HasPrefix(cmd, "M0 "):
		return []string{"ok"}
	case strings.HasPrefix(cmd, "M112"):
		return []string{"ok"}
	case strings.HasPrefix(cmd, "G28"):
		s.pos = Position{}
		return []string{"ok"}
	case strings.HasPrefix(cmd, "G0"), strings.HasPrefix(cmd, "G1"):
		s.applyMotion(cmd)
		return []string{"ok"}
	case strings.HasPrefix(cmd, "M42"):
		return []string{"ok"}
	default:
		return []string{"ok"}
	}
}

// applyMotion tracks the simulated axis position so a subsequent M114 query
// reflects prior moves.
func (s *simLink) applyMotion(cmd string) {
	fields := strings.Fields(cmd)
	for _, f := range fields[1:] {
		if len(f) < 2 {
			continue
		}
		var val float64
		if _, err := fmt.Sscanf(f[1:], "%f", &val); err != nil {
			continue
		}
		switch f[0] {
		case 'X', 'x':
			s.pos.X = val
		case 'Y', 'y':
			s.pos.Y = val
		case 'Z', 'z':
			s.pos.Z = val
		case 'E', 'e':
			s.pos.E = val
		}
	}
}

var _ link = (*simLink)(nil)
