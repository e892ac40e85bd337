package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dirtybirdnj/gellyroller/internal/admission"
	"github.com/dirtybirdnj/gellyroller/internal/eventbus"
	"github.com/dirtybirdnj/gellyroller/internal/logger"
	"github.com/dirtybirdnj/gellyroller/internal/transport"
)

// fakeController stands in for Transport: it answers every SendCommand
// after fakeSendDelay, so a job is still running when a test pauses or
// cancels it, and records Pause/Stop calls without touching a real link.
type fakeController struct {
	mu      sync.Mutex
	calls   int
	onSend  func(n int)
	paused  int
	stopped int
	events  chan transport.Event
}

func newFakeController() *fakeController {
	return &fakeController{events: make(chan transport.Event)}
}

const fakeSendDelay = time.Millisecond

func (f *fakeController) SendCommand(ctx context.Context, line string, timeoutMs int) ([]string, error) {
	time.Sleep(fakeSendDelay)
	f.mu.Lock()
	f.calls++
	n := f.calls
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return []string{"ok"}, nil
}

func (f *fakeController) Pause(ctx context.Context) error {
	f.mu.Lock()
	f.paused++
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Subscribe() (<-chan transport.Event, func()) {
	return f.events, func() {}
}

func (f *fakeController) SetJobActive(active bool) {}

// fakePublisher records every event handed to it, standing in for the hub.
type fakePublisher struct {
	mu     sync.Mutex
	events []fakeEvent
}

type fakeEvent struct {
	jobID string
	typ   eventbus.OutboundType
	data  map[string]any
}

func (f *fakePublisher) Publish(jobID string, t eventbus.OutboundType, data map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{jobID: jobID, typ: t, data: data})
}

func (f *fakePublisher) Broadcast(t eventbus.OutboundType, data map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{typ: t, data: data})
}

func (f *fakePublisher) count(t eventbus.OutboundType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.typ == t {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T) (*Manager, *fakeController, *fakePublisher) {
	t.Helper()
	ctrl := newFakeController()
	pub := &fakePublisher{}
	gate, err := admission.NewGate(1)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return NewManager(ctrl, pub, gate, logger.StdLogger()), ctrl, pub
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func readJobFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func repeatLines(line string, n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func TestManager_CompletesThreeStarFixture(t *testing.T) {
	m, _, pub := newTestManager(t)
	content := readJobFixture(t, "three_star.gcode")

	j, err := m.Submit(content)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Start(context.Background(), j.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return j.State() == StateCompleted })

	snap := j.Snapshot()
	if snap.Progress.Percentage != 100 {
		t.Fatalf("percentage = %d, want 100", snap.Progress.Percentage)
	}
	if snap.Progress.CurrentLine != snap.Progress.TotalLines {
		t.Fatalf("currentLine = %d, want %d", snap.Progress.CurrentLine, snap.Progress.TotalLines)
	}
	if pub.count(eventbus.EventJobCompleted) != 1 {
		t.Fatalf("expected exactly one job:completed event")
	}
}

func TestManager_PauseResumeAtFiveHundredOfAThousand(t *testing.T) {
	m, ctrl, pub := newTestManager(t)
	content := repeatLines("G1 X1.000 Y1.000", 1000)

	reached500 := make(chan struct{})
	var once sync.Once
	ctrl.mu.Lock()
	ctrl.onSend = func(n int) {
		// the 501st send starts only after 500 lines have completed
		if n > 500 {
			once.Do(func() { close(reached500) })
		}
	}
	ctrl.mu.Unlock()

	j, err := m.Submit(content)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Start(context.Background(), j.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-reached500:
	case <-time.After(2 * time.Second):
		t.Fatal("never reached line 500")
	}

	progressBeforePause := pub.count(eventbus.EventJobProgress)
	if err := m.Pause(context.Background(), j.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitFor(t, time.Second, func() bool { return j.State() == StatePaused })

	if line := j.Progress().CurrentLine; line < 500 {
		t.Fatalf("currentLine = %d, want >= 500 at pause", line)
	}
	if pub.count(eventbus.EventJobProgress) <= progressBeforePause {
		t.Fatal("expected a job:progress event force-emitted at pause")
	}
	time.Sleep(20 * time.Millisecond) // let the in-flight line finish so the paused loop exits

	progressBeforeResume := pub.count(eventbus.EventJobProgress)
	if err := m.Resume(context.Background(), j.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if pub.count(eventbus.EventJobProgress) <= progressBeforeResume {
		t.Fatal("expected a job:progress event force-emitted at resume")
	}
	waitFor(t, 2*time.Second, func() bool { return j.State() == StateCompleted })

	snap := j.Snapshot()
	if snap.Progress.CurrentLine != 1000 {
		t.Fatalf("final currentLine = %d, want 1000", snap.Progress.CurrentLine)
	}
	hasResume := false
	for _, h := range snap.History {
		if h.Action == ActionResume {
			hasResume = true
		}
	}
	if !hasResume {
		t.Fatal("expected a resume history entry")
	}
}

func TestManager_CancelMidRun(t *testing.T) {
	m, ctrl, pub := newTestManager(t)
	content := repeatLines("G1 X1.000 Y1.000", 1000)

	reached10 := make(chan struct{})
	var once sync.Once
	ctrl.mu.Lock()
	ctrl.onSend = func(n int) {
		if n >= 10 {
			once.Do(func() { close(reached10) })
		}
	}
	ctrl.mu.Unlock()

	j, err := m.Submit(content)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Start(context.Background(), j.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-reached10:
	case <-time.After(2 * time.Second):
		t.Fatal("never reached line 10")
	}

	if err := m.Cancel(context.Background(), j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, time.Second, func() bool { return j.State() == StateCancelled })

	time.Sleep(20 * time.Millisecond) // let any in-flight loop iteration settle
	if pub.count(eventbus.EventJobCompleted) != 0 {
		t.Fatal("cancelled job must not emit job:completed")
	}

	// the gate must be free again for a new job to start.
	other, err := m.Submit(repeatLines("G1 X1.000 Y1.000", 2))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Start(context.Background(), other.ID); err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
}

func TestManager_SingleLayerChangeEvent(t *testing.T) {
	m, _, pub := newTestManager(t)
	content := ";LAYER:0\nG1 X1.000 Y1.000\n;LAYER:1\nG1 X2.000 Y2.000"

	j, err := m.Submit(content)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(j.Plan.Layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(j.Plan.Layers))
	}
	if err := m.Start(context.Background(), j.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return j.State() == StateCompleted })

	if n := pub.count(eventbus.EventJobLayerChange); n != 1 {
		t.Fatalf("layer-change events = %d, want exactly 1", n)
	}
}
