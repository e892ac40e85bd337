// Package job owns the lifecycle state machine and execution loop for a
// single G-code print job: submission, start/pause/resume/cancel, progress
// tracking, layer-change detection, and failure handling.
package job

import (
	"sync"
	"time"

	"github.com/dirtybirdnj/gellyroller/internal/gcode"
)

// State is a job's place in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCancelled State = "cancelled"
	StateError     State = "error"
	StateCompleted State = "completed"
)

// HistoryAction records why a history entry was appended.
type HistoryAction string

const (
	ActionPause  HistoryAction = "pause"
	ActionResume HistoryAction = "resume"
)

// HistoryEntry is one pause/resume transition.
type HistoryEntry struct {
	Timestamp int64         `json:"timestamp"`
	Line      int           `json:"line"`
	Action    HistoryAction `json:"action"`
}

// Error is the terminal failure recorded against a job in StateError.
type Error struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Command string `json:"command,omitempty"`
}

// Position mirrors transport.Position's axes as this package's own type, so
// Progress does not expose a transport type.
type Position struct {
	X, Y, Z, E float64
}

// Progress is a snapshot of a running job's completion state.
type Progress struct {
	CurrentLine          int      `json:"currentLine"`
	TotalLines           int      `json:"totalLines"`
	Percentage           int      `json:"percentage"`
	CurrentLayer         int      `json:"currentLayer"`
	TotalLayers          int      `json:"totalLayers"`
	ElapsedMs            int64    `json:"elapsedMs"`
	EstimatedRemainingMs int64    `json:"estimatedRemainingMs"`
	CurrentPosition      Position `json:"currentPosition"`
}

// Job is one submitted print, its parsed Plan, and its mutable lifecycle
// state. All fields below mu are read/written only while holding it, since
// the execution loop goroutine and API-facing callers (Pause/Cancel/GetJob)
// touch the same job concurrently.
type Job struct {
	ID        string
	Plan      *gcode.Plan
	Content   string
	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	startedAt   *time.Time
	completedAt *time.Time
	progress    Progress
	history     []HistoryEntry
	err         *Error

	cancel func() // set by the manager when a run is started
}

func newJob(id string, plan *gcode.Plan, content string) *Job {
	return &Job{
		ID:        id,
		Plan:      plan,
		Content:   content,
		CreatedAt: time.Now(),
		state:     StatePending,
		progress:  Progress{TotalLines: plan.Stats.TotalLines, TotalLayers: len(plan.Layers)},
	}
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns a snapshot of the job's execution progress.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// History returns a copy of the job's pause/resume history.
func (j *Job) History() []HistoryEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]HistoryEntry, len(j.history))
	copy(out, j.history)
	return out
}

// Err returns the job's terminal error, if any.
func (j *Job) Err() *Error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Snapshot is a read-only view of a job suitable for API responses.
type Snapshot struct {
	ID          string       `json:"id"`
	State       State        `json:"state"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	Progress    Progress     `json:"progress"`
	History     []HistoryEntry `json:"history,omitempty"`
	Error       *Error       `json:"error,omitempty"`
	Layers      int          `json:"layers"`
}

// Snapshot takes a consistent read of every mutable field at once.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	history := make([]HistoryEntry, len(j.history))
	copy(history, j.history)
	return Snapshot{
		ID:          j.ID,
		State:       j.state,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
		Progress:    j.progress,
		History:     history,
		Error:       j.err,
		Layers:      len(j.Plan.Layers),
	}
}
