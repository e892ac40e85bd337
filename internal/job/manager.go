package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dirtybirdnj/gellyroller/internal/admission"
	"github.com/dirtybirdnj/gellyroller/internal/ecode"
	"github.com/dirtybirdnj/gellyroller/internal/eventbus"
	"github.com/dirtybirdnj/gellyroller/internal/gcode"
	"github.com/dirtybirdnj/gellyroller/internal/logger"
	"github.com/dirtybirdnj/gellyroller/internal/observes"
	"github.com/dirtybirdnj/gellyroller/internal/transport"
)

// Controller is the narrow slice of Transport the job loop needs: send a
// line, pause/stop the machine, and observe position. Depending on this
// instead of *transport.Transport keeps JobManager from needing Transport's
// full surface.
type Controller interface {
	SendCommand(ctx context.Context, line string, timeoutMs int) ([]string, error)
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Subscribe() (<-chan transport.Event, func())
	SetJobActive(active bool)
}

// Publisher is the narrow slice of the event bus JobManager emits through.
type Publisher interface {
	Publish(jobID string, eventType eventbus.OutboundType, data map[string]any)
	Broadcast(eventType eventbus.OutboundType, data map[string]any)
}

// DefaultProgressInterval throttles job:progress emission.
const DefaultProgressInterval = 500 * time.Millisecond

// Manager owns every submitted job, the single-job admission gate, and the
// forwarding of controller events onto the bus.
type Manager struct {
	controller Controller
	bus        Publisher
	gate       *admission.Gate
	log        *logger.Logger

	progressInterval time.Duration

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManager wires a Manager to its Controller and Publisher. gate is
// expected to have capacity 1, since at most one job runs at a time; a nil
// gate is built with that capacity.
func NewManager(controller Controller, bus Publisher, gate *admission.Gate, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.StdLogger()
	}
	if gate == nil {
		gate, _ = admission.NewGate(1)
	}
	m := &Manager{
		controller:       controller,
		bus:              bus,
		gate:             gate,
		log:              log,
		progressInterval: DefaultProgressInterval,
		jobs:             make(map[string]*Job),
	}
	go m.forwardControllerEvents()
	return m
}

// forwardControllerEvents relays machine position and status onto the bus
// unconditionally, independent of whether a job is active. It runs for the
// lifetime of the Manager; a panic while forwarding a single event is
// reported and logged rather than ending forwarding for every event after
// it.
func (m *Manager) forwardControllerEvents() {
	events, unsubscribe := m.controller.Subscribe()
	defer unsubscribe()

	for evt := range events {
		m.forwardEvent(evt)
	}
}

func (m *Manager) forwardEvent(evt transport.Event) {
	defer func() {
		if recovered, r := observes.Recover(); recovered {
			err := fmt.Errorf("controller event forwarding panic: %v", r)
			observes.CaptureError(err)
			m.log.Error(context.Background(), "controller event forwarding recovered from panic", "error", err)
		}
	}()

	switch evt.Kind {
	case transport.EventPosition:
		m.bus.Broadcast(eventbus.EventPositionUpdate, map[string]any{
			"x": evt.Position.X, "y": evt.Position.Y, "z": evt.Position.Z, "e": evt.Position.E,
		})
	case transport.EventReady:
		m.bus.Broadcast(eventbus.EventMachineStatus, map[string]any{"status": "ready"})
	case transport.EventError:
		m.bus.Broadcast(eventbus.EventMachineStatus, map[string]any{"status": "error"})
	case transport.EventClose:
		m.bus.Broadcast(eventbus.EventMachineStatus, map[string]any{"status": "closed"})
	}
}

// Submit parses content into a Plan and registers a new pending job.
func (m *Manager) Submit(content string) (*Job, error) {
	plan, err := gcode.Parse(content)
	if err != nil {
		return nil, err
	}

	j := newJob(uuid.NewString(), plan, content)

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	m.log.Info(context.Background(), "job submitted", "job_id", j.ID, "lines", plan.Stats.TotalLines, "layers", len(plan.Layers))
	m.bus.Publish(j.ID, eventbus.EventJobCreated, map[string]any{"jobId": j.ID, "totalLines": plan.Stats.TotalLines, "layers": len(plan.Layers)})
	return j, nil
}

// Start transitions a pending or paused job to running and launches (or
// resumes) its execution loop. Only one job may be running at a time; the
// gate rejects a second Start while one is already in flight.
func (m *Manager) Start(ctx context.Context, jobID string) error {
	j, err := m.Get(jobID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	switch j.state {
	case StatePending:
	case StatePaused:
	default:
		j.mu.Unlock()
		return ecode.ErrInvalidState.WithCommand(fmt.Sprintf("start job in state %s", j.state))
	}
	resuming := j.state == StatePaused
	j.mu.Unlock()

	// A paused job already holds its admission slot from its original
	// Start; only a fresh pending→running transition needs to acquire one.
	if !resuming && !m.gate.TryAcquire() {
		return ecode.New(ecode.KindInvalidState, "another job is already running")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	j.mu.Lock()
	j.cancel = cancel
	if resuming {
		j.state = StateRunning
		j.history = append(j.history, HistoryEntry{Timestamp: time.Now().UnixMilli(), Line: j.progress.CurrentLine, Action: ActionResume})
	} else {
		now := time.Now()
		j.startedAt = &now
		j.state = StateRunning
	}
	j.mu.Unlock()

	if resuming {
		m.bus.Publish(j.ID, eventbus.EventJobResumed, map[string]any{"jobId": j.ID, "currentLine": j.Progress().CurrentLine})
		m.emitProgress(j, false)
	} else {
		m.bus.Publish(j.ID, eventbus.EventJobStarted, map[string]any{"jobId": j.ID})
	}

	m.controller.SetJobActive(true)
	go m.runLoop(runCtx, j)
	return nil
}

// Pause requests that a running job stop advancing after its in-flight
// line finishes, issuing a controller pause immediately.
func (m *Manager) Pause(ctx context.Context, jobID string) error {
	j, err := m.Get(jobID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	if j.state != StateRunning {
		state := j.state
		j.mu.Unlock()
		return ecode.ErrInvalidState.WithCommand(fmt.Sprintf("pause job in state %s", state))
	}
	j.state = StatePaused
	j.history = append(j.history, HistoryEntry{Timestamp: time.Now().UnixMilli(), Line: j.progress.CurrentLine, Action: ActionPause})
	j.mu.Unlock()

	m.controller.SetJobActive(false)
	if err := m.controller.Pause(ctx); err != nil {
		m.log.Warn(ctx, "controller pause failed", "job_id", jobID, "error", err)
	}
	m.bus.Publish(jobID, eventbus.EventJobPaused, map[string]any{"jobId": jobID, "currentLine": j.Progress().CurrentLine})
	m.emitProgress(j, false)
	return nil
}

// Resume is an alias for Start that only makes sense semantically when a
// job is already paused; Start already accepts both pending and paused.
func (m *Manager) Resume(ctx context.Context, jobID string) error {
	return m.Start(ctx, jobID)
}

// Cancel aborts a running or paused job, issuing a controller stop.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	j, err := m.Get(jobID)
	if err != nil {
		return err
	}

	j.mu.Lock()
	switch j.state {
	case StateRunning, StatePaused:
	default:
		state := j.state
		j.mu.Unlock()
		return ecode.ErrInvalidState.WithCommand(fmt.Sprintf("cancel job in state %s", state))
	}
	j.state = StateCancelled
	cancelFn := j.cancel
	j.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	m.controller.SetJobActive(false)
	if err := m.controller.Stop(ctx); err != nil {
		m.log.Warn(ctx, "controller stop failed", "job_id", jobID, "error", err)
	}
	m.gate.Release()
	m.bus.Publish(jobID, eventbus.EventJobCancelled, map[string]any{"jobId": jobID})
	return nil
}

// Delete removes a pending or terminal job from the registry. Running and
// paused jobs are refused and must be cancelled first.
func (m *Manager) Delete(jobID string) error {
	j, err := m.Get(jobID)
	if err != nil {
		return err
	}
	switch j.State() {
	case StateRunning, StatePaused:
		return ecode.ErrInvalidState.WithCommand("delete an active job")
	}

	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
	return nil
}

// Get returns a job by id.
func (m *Manager) Get(jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ecode.ErrNotFound.WithCommand(jobID)
	}
	return j, nil
}

// List returns every known job.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}
