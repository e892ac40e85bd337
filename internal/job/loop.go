package job

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dirtybirdnj/gellyroller/internal/ecode"
	"github.com/dirtybirdnj/gellyroller/internal/eventbus"
	"github.com/dirtybirdnj/gellyroller/internal/observes"
)

// runLoop drives one job from its current line to completion, cancellation,
// pause, or failure. It is launched fresh by Start on every pending→running
// or paused→running transition and exits as soon as the job leaves
// StateRunning. A panic anywhere in the loop is reported and turns into a
// failed job rather than taking down the daemon.
func (m *Manager) runLoop(ctx context.Context, j *Job) {
	defer func() {
		if recovered, r := observes.Recover(); recovered {
			cause := fmt.Errorf("job loop panic: %v", r)
			observes.CaptureError(cause)
			m.failJob(j, cause, j.Progress().CurrentLine, "")
		}
	}()

	lines := strings.Split(j.Content, "\n")
	totalLines := len(lines)

	runStart := time.Now()
	baseElapsed := j.Progress().ElapsedMs
	linesThisRun := 0
	lastEmit := time.Time{}

	for {
		j.mu.Lock()
		state := j.state
		current := j.progress.CurrentLine
		j.mu.Unlock()

		if state != StateRunning {
			// Paused: exits cleanly, currentLine already reflects the last
			// completed line so a later Start resumes from here.
			// Cancelled: the gate slot was already released by Cancel.
			return
		}

		if current >= totalLines {
			m.finishCompleted(j)
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		trimmed := strings.TrimSpace(lines[current])
		sendable := trimmed != "" && !strings.HasPrefix(trimmed, ";")

		if sendable {
			if _, err := m.controller.SendCommand(ctx, trimmed, 0); err != nil {
				if j.State() != StateRunning {
					// paused or cancelled out from under the in-flight command
					return
				}
				if ecode.ErrCancelled.Is(err) {
					return
				}
				m.failJob(j, err, current+1, trimmed)
				return
			}
			linesThisRun++
		}

		j.mu.Lock()
		j.progress.CurrentLine++
		elapsedRun := time.Since(runStart).Milliseconds()
		j.progress.ElapsedMs = baseElapsed + elapsedRun
		j.progress.Percentage = percentage(j.progress.CurrentLine, totalLines)
		if linesThisRun > 0 {
			msPerLine := float64(elapsedRun) / float64(linesThisRun)
			remaining := totalLines - j.progress.CurrentLine
			j.progress.EstimatedRemainingMs = int64(math.Max(0, float64(remaining)*msPerLine))
		}
		layerChanged := m.advanceLayer(j)
		reachedEnd := j.progress.CurrentLine >= totalLines
		j.mu.Unlock()

		if layerChanged || reachedEnd || time.Since(lastEmit) >= m.progressInterval {
			m.emitProgress(j, layerChanged)
			lastEmit = time.Now()
		}
	}
}

func percentage(current, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

// advanceLayer checks whether the line just completed crosses into a new
// layer: true when some layer's StartLine equals the new CurrentLine.
// Caller must hold j.mu.
func (m *Manager) advanceLayer(j *Job) bool {
	for i, layer := range j.Plan.Layers {
		if layer.StartLine == j.progress.CurrentLine && i != j.progress.CurrentLayer {
			j.progress.CurrentLayer = i
			return true
		}
	}
	return false
}

func (m *Manager) emitProgress(j *Job, layerChanged bool) {
	p := j.Progress()
	m.bus.Publish(j.ID, eventbus.EventJobProgress, map[string]any{
		"jobId":                j.ID,
		"currentLine":          p.CurrentLine,
		"totalLines":           p.TotalLines,
		"percentage":           p.Percentage,
		"currentLayer":         p.CurrentLayer,
		"totalLayers":          p.TotalLayers,
		"elapsedMs":            p.ElapsedMs,
		"estimatedRemainingMs": p.EstimatedRemainingMs,
	})
	if layerChanged {
		m.bus.Publish(j.ID, eventbus.EventJobLayerChange, map[string]any{"jobId": j.ID, "layer": p.CurrentLayer})
	}
}

// finishCompleted marks a job completed once the loop runs off the end of
// its content.
func (m *Manager) finishCompleted(j *Job) {
	now := time.Now()
	j.mu.Lock()
	j.state = StateCompleted
	j.completedAt = &now
	j.progress.Percentage = 100
	j.progress.EstimatedRemainingMs = 0
	j.mu.Unlock()

	m.controller.SetJobActive(false)
	m.gate.Release()
	m.log.Info(context.Background(), "job completed", "job_id", j.ID)
	m.bus.Publish(j.ID, eventbus.EventJobCompleted, map[string]any{"jobId": j.ID})
}

// failJob transitions a job to StateError on an unrecoverable send failure.
// A cancellation-caused send failure never reaches here: the loop detects
// it and returns early, transitioning to cancelled without emitting error.
func (m *Manager) failJob(j *Job, cause error, line int, command string) {
	j.mu.Lock()
	j.state = StateError
	j.err = &Error{Message: cause.Error(), Line: line, Command: command}
	j.mu.Unlock()

	m.controller.SetJobActive(false)
	m.gate.Release()
	m.log.Error(context.Background(), "job failed", "job_id", j.ID, "line", line, "command", command, "error", cause)
	m.bus.Publish(j.ID, eventbus.EventJobError, map[string]any{
		"jobId": j.ID, "message": cause.Error(), "line": line, "command": command,
	})
}
