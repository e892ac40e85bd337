package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dirtybirdnj/gellyroller/internal/ecode"
)

// orderedFakeLink answers writes strictly in the order they were issued,
// each after its own delay, the way a real controller that reads and
// executes commands from its own input buffer in order would — a slow
// command doesn't let a later one's reply overtake it on the wire.
type orderedFakeLink struct {
	jobs chan time.Duration
	out  chan []string
}

func newOrderedFakeLink() *orderedFakeLink {
	l := &orderedFakeLink{
		jobs: make(chan time.Duration, 16),
		out:  make(chan []string, 16),
	}
	go l.dispatch()
	return l
}

func (l *orderedFakeLink) dispatch() {
	for d := range l.jobs {
		time.Sleep(d)
		l.out <- []string{"ok"}
	}
}

func (l *orderedFakeLink) Open() error  { return nil }
func (l *orderedFakeLink) Close() error { close(l.jobs); return nil }

func (l *orderedFakeLink) WriteLine(line string) error {
	delay := 10 * time.Millisecond
	if strings.Contains(line, "SLOW") {
		delay = 300 * time.Millisecond
	}
	l.jobs <- delay
	return nil
}

func (l *orderedFakeLink) ReadLine() (string, error) {
	batch, ok := <-l.out
	if !ok || len(batch) == 0 {
		return "ok\n", nil
	}
	for i, line := range batch {
		if i == len(batch)-1 {
			continue
		}
		l.out <- batch[i+1:]
		return line + "\n", nil
	}
	return batch[0] + "\n", nil
}

var _ link = (*orderedFakeLink)(nil)

// newTransportWithLink builds a Transport wired directly to lnk, bypassing
// Open's dev-mode/serial link selection so tests can control response
// timing precisely.
func newTransportWithLink(t *testing.T, lnk link) *Transport {
	t.Helper()
	tr := New(&Config{DevMode: true, CommandTimeout: time.Second}, nil)
	tr.lnk = lnk
	tr.mu.Lock()
	tr.ready = true
	tr.mu.Unlock()
	tr.pool.Start()
	go tr.readLoop()
	t.Cleanup(func() { tr.Close() })
	return tr
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr := New(&Config{DevMode: true, CommandTimeout: time.Second}, nil)
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// Simulated position: transport in sim mode; getPosition returns
// {x:100, y:50, z:10, e:0} and emits one position event with those values.
func TestGetPosition_Simulated(t *testing.T) {
	tr := newTestTransport(t)

	events, unsub := tr.Subscribe()
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pos, err := tr.GetPosition(ctx)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}

	want := Position{X: 100, Y: 50, Z: 10, E: 0}
	if pos != want {
		t.Fatalf("GetPosition = %+v, want %+v", pos, want)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Kind == EventData {
				continue // each raw response line is published before the parsed position
			}
			if evt.Kind != EventPosition {
				t.Fatalf("first non-data event kind = %s, want position", evt.Kind)
			}
			if evt.Position != want {
				t.Fatalf("event position = %+v, want %+v", evt.Position, want)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for position event")
		}
	}
}

func TestOpen_EmitsReady(t *testing.T) {
	tr := New(&Config{DevMode: true}, nil)
	events, unsub := tr.Subscribe()
	defer unsub()

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	select {
	case evt := <-events:
		if evt.Kind != EventReady {
			t.Fatalf("kind = %s, want ready", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ready event")
	}
}

func TestSendCommand_NotReadyBeforeOpen(t *testing.T) {
	tr := New(&Config{DevMode: true}, nil)
	_, err := tr.SendCommand(context.Background(), "M114", 0)
	if err == nil {
		t.Fatal("expected NotReady error before Open")
	}
}

func TestListFiles_Simulated(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	files, err := tr.ListFiles(ctx)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one simulated file")
	}
}

func TestUploadFile_Simulated(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := tr.UploadFile(ctx, "test.gcode", "G0 X1 Y1\n\nG1 X2 Y2\n")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
}

// A command abandoned to a timeout must not have its real, late response
// misattributed to whatever command is sent next: the correlation id on
// each response has to match the waiting sendCommand call, not just be the
// next thing to arrive on respCh.
func TestSendCommand_TimeoutThenLateResponseDoesNotCorruptNextCommand(t *testing.T) {
	tr := newTransportWithLink(t, newOrderedFakeLink())

	slowCtx, slowCancel := context.WithTimeout(context.Background(), time.Second)
	defer slowCancel()
	if _, err := tr.SendCommand(slowCtx, "SLOW", 50); err == nil {
		t.Fatal("expected the slow command to time out")
	} else if !errors.Is(err, ecode.ErrTimeout) {
		t.Fatalf("error = %v, want a timeout error", err)
	}

	nextCtx, nextCancel := context.WithTimeout(context.Background(), time.Second)
	defer nextCancel()
	lines, err := tr.SendCommand(nextCtx, "M114", 0)
	if err != nil {
		t.Fatalf("SendCommand after an abandoned timeout: %v", err)
	}
	if len(lines) == 0 || lines[len(lines)-1] != "ok" {
		t.Fatalf("unexpected response lines: %v", lines)
	}

	// Let the slow command's real, stale response land and be discarded,
	// then prove the transport is still usable for a third command.
	time.Sleep(350 * time.Millisecond)

	thirdCtx, thirdCancel := context.WithTimeout(context.Background(), time.Second)
	defer thirdCancel()
	if _, err := tr.SendCommand(thirdCtx, "M114", 0); err != nil {
		t.Fatalf("SendCommand after the stale response settled: %v", err)
	}
}

func TestSendCommand_Serialized(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := tr.SendCommand(ctx, "M114", 0)
			done <- err
		}()
	}
	for i := 0; i < 3; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent SendCommand: %v", err)
		}
	}
}
