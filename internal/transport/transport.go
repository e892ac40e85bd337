// Package transport owns the single bidirectional channel to the plotter's
// motion controller. It serializes commands onto the link, matches
// responses, tracks machine state, and fans out events to subscribers.
package transport

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dirtybirdnj/gellyroller/internal/ecode"
	"github.com/dirtybirdnj/gellyroller/internal/logger"
	"github.com/dirtybirdnj/gellyroller/internal/workerpool"
)

// defaultPollInterval is the idle position-poll cadence: a poller runs at
// roughly this rate whenever no job is active.
const defaultPollInterval = 500 * time.Millisecond

// Config configures a Transport.
type Config struct {
	DevMode        bool          // true selects the simulation link over a real serial port
	Path           string        // serial device path, e.g. /dev/ttyUSB0
	Baud           int           // baud rate
	CommandTimeout time.Duration // default 5000ms
}

// DefaultConfig returns simulation-mode defaults.
func DefaultConfig() *Config {
	return &Config{DevMode: true, Baud: 115200, CommandTimeout: 5 * time.Second}
}

var positionField = regexp.MustCompile(`([XYZE]):(-?\d+\.?\d*)`)

// response is what the reader goroutine hands back for one in-flight command.
// id correlates it to the sendCommand call that issued the write: the
// controller replies in the exact order commands were written, so readLoop
// tags each completed batch with the oldest still-unanswered id and
// sendCommand discards anything that doesn't match its own.
type response struct {
	lines []string
	err   error
	id    uint64
}

// Transport owns the serial link and exposes the high-level motion API.
type Transport struct {
	cfg Config
	lnk link
	log *logger.Logger

	pool *workerpool.Pool

	mu    sync.Mutex
	state State
	ready bool

	subMu sync.Mutex
	subs  map[string]chan Event

	respCh chan response
	stopCh chan struct{}

	// pendingIDs is the FIFO of correlation ids for commands that have been
	// written but not yet matched to a response. Its depth bounds how many
	// commands can be abandoned to a timeout while their real response is
	// still in flight on the wire.
	pendingIDs chan uint64
	nextID     atomic.Uint64

	jobActive atomic.Bool
	limiter   *rate.Limiter
}

// New constructs a Transport without opening the link; call Open to connect.
func New(cfg *Config, log *logger.Logger) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.StdLogger()
	}
	t := &Transport{
		cfg:        *cfg,
		log:        log,
		subs:       make(map[string]chan Event),
		respCh:     make(chan response, 1),
		stopCh:     make(chan struct{}),
		pendingIDs: make(chan uint64, 64),
		pool:       workerpool.New(workerpool.DefaultConfig()),
		limiter:    rate.NewLimiter(rate.Every(defaultPollInterval), 1),
	}
	return t
}

// SetJobActive suppresses (true) or resumes (false) the idle position
// poller. The JobManager calls this around a job's running window, since
// position updates are then already driven by per-command responses.
func (t *Transport) SetJobActive(active bool) {
	t.jobActive.Store(active)
}

// pollPosition runs for the transport's lifetime, issuing a GetPosition at
// defaultPollInterval whenever no job is active. The rate limiter paces the
// underlying query independent of the ticker, so a burst of SetJobActive
// toggling can't flood the link with M114s.
func (t *Transport) pollPosition() {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			if t.jobActive.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CommandTimeout)
			if t.limiter.Wait(ctx) == nil {
				_, _ = t.GetPosition(ctx)
			}
			cancel()
		}
	}
}

// Open connects the link (real serial port or simulation) and starts the
// reader goroutine. Open failures mark the transport not-ready and emit
// error; ready is emitted on success or immediately in simulation.
func (t *Transport) Open(ctx context.Context) error {
	if t.cfg.DevMode {
		t.lnk = newSimLink()
	} else {
		t.lnk = newSerialLink(t.cfg.Path, t.cfg.Baud)
	}

	if err := t.lnk.Open(); err != nil {
		t.mu.Lock()
		t.ready = false
		t.mu.Unlock()
		t.log.Error(ctx, "transport open failed", "error", err, "dev_mode", t.cfg.DevMode)
		t.publish(Event{Kind: EventError, Err: err})
		return ecode.New(ecode.KindIOError, err.Error())
	}

	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()

	t.pool.Start()
	go t.readLoop()
	go t.pollPosition()

	t.log.Info(ctx, "transport ready", "dev_mode", t.cfg.DevMode, "path", t.cfg.Path)
	t.publish(Event{Kind: EventReady})
	return nil
}

// Close shuts down the reader loop, worker pool, and underlying link. Close
// is surfaced as an event but never tears down the process.
func (t *Transport) Close() error {
	close(t.stopCh)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	t.pool.Stop(shutdownCtx)

	var err error
	if t.lnk != nil {
		err = t.lnk.Close()
	}
	t.publish(Event{Kind: EventClose})
	return err
}

// Subscribe registers a new event subscriber, returning its channel and an
// unsubscribe function.
func (t *Transport) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, 32)
	t.subMu.Lock()
	t.subs[id] = ch
	t.subMu.Unlock()
	return ch, func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

func (t *Transport) publish(evt Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// State returns a snapshot of the transport's last-known state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// readLoop continuously drains the link, accumulating lines until a
// termination marker (ok, Done, Error) is seen, then delivers the batch to
// whichever sendCommand call is currently awaiting a response. The protocol
// is strictly request/response with no unsolicited pushes, so there is at
// most one outstanding waiter at a time.
func (t *Transport) readLoop() {
	var batch []string
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		line, err := t.lnk.ReadLine()
		if err != nil {
			t.log.Warn(context.Background(), "transport read failed", "error", err)
			resp := response{id: t.popPendingID(), err: ecode.New(ecode.KindIOError, err.Error())}
			select {
			case t.respCh <- resp:
			default:
			}
			t.publish(Event{Kind: EventError, Err: err})
			continue
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		t.publish(Event{Kind: EventData, Line: line})
		t.maybeUpdatePosition(line)
		batch = append(batch, line)

		if strings.Contains(line, "ok") || strings.Contains(line, "Done") || strings.Contains(line, "Error") {
			isErr := strings.Contains(line, "Error")
			resp := response{lines: batch, id: t.popPendingID()}
			if isErr {
				resp.err = ecode.New(ecode.KindControllerError, strings.Join(batch, "; "))
			}
			batch = nil
			select {
			case t.respCh <- resp:
			case <-t.stopCh:
				return
			}
		}
	}
}

// popPendingID returns the oldest outstanding command id, or 0 if none is
// tracked. 0 never collides with a real id, since nextID starts counting
// at 1.
func (t *Transport) popPendingID() uint64 {
	select {
	case id := <-t.pendingIDs:
		return id
	default:
		return 0
	}
}

// maybeUpdatePosition updates state.Position whenever a response line
// contains X:, each axis parsed independently via a signed-decimal capture.
func (t *Transport) maybeUpdatePosition(line string) {
	if !strings.Contains(line, "X:") {
		return
	}
	matches := positionField.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return
	}

	t.mu.Lock()
	for _, m := range matches {
		val, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch m[1] {
		case "X":
			t.state.Position.X = val
		case "Y":
			t.state.Position.Y = val
		case "Z":
			t.state.Position.Z = val
		case "E":
			t.state.Position.E = val
		}
	}
	t.state.LastUpdate = time.Now().UnixMilli()
	pos := t.state.Position
	t.mu.Unlock()

	t.publish(Event{Kind: EventPosition, Position: pos})
}

// sendCommand writes one line and awaits its response. Submitting the full
// send-and-await cycle as a single task to a one-worker pool gives commands
// FIFO serialization without a bespoke queue: exactly one command is in
// flight at a time, and callers wait in submission order in the pool's queue.
func (t *Transport) sendCommand(ctx context.Context, line string, timeout time.Duration) ([]string, error) {
	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()
	if !ready {
		return nil, ecode.New(ecode.KindNotReady, "transport not ready")
	}

	if timeout <= 0 {
		timeout = t.cfg.CommandTimeout
	}

	type result struct {
		lines []string
		err   error
	}
	resCh := make(chan result, 1)

	err := t.pool.Submit(func() error {
		id := t.nextID.Add(1)
		if err := t.lnk.WriteLine(line); err != nil {
			resCh <- result{err: ecode.New(ecode.KindIOError, err.Error())}
			return err
		}
		select {
		case t.pendingIDs <- id:
		case <-t.stopCh:
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		// A response whose id doesn't match this call's is the real, late
		// answer to an earlier command this same worker already gave up on
		// waiting for (its own select timed out first). Discard it and keep
		// waiting for this call's own response instead of misattributing it,
		// so it never leaks into the next sendCommand's select.
		for {
			select {
			case resp := <-t.respCh:
				if resp.id != id {
					continue
				}
				if resp.err != nil {
					werr := wrapWithCommand(resp.err, line)
					resCh <- result{err: werr}
					return werr
				}
				resCh <- result{lines: resp.lines}
				return nil
			case <-timer.C:
				werr := wrapWithCommand(ecode.ErrTimeout, line)
				resCh <- result{err: werr}
				return werr
			case <-ctx.Done():
				werr := wrapWithCommand(ecode.ErrCancelled, line)
				resCh <- result{err: werr}
				return werr
			}
		}
	})
	if err != nil {
		return nil, ecode.New(ecode.KindIOError, err.Error())
	}

	select {
	case res := <-resCh:
		return res.lines, res.err
	case <-ctx.Done():
		return nil, ecode.New(ecode.KindCancelled, ctx.Err().Error())
	}
}

func wrapWithCommand(err error, cmd string) error {
	var e *ecode.Error
	if asErr, ok := err.(*ecode.Error); ok {
		e = asErr
	} else {
		e = ecode.New(ecode.KindProtocolError, err.Error())
	}
	return e.WithCommand(cmd)
}

// SendCommand is the exported entry point for ad-hoc commands: it sends a
// line and waits for its matched response or an error, with an optional
// per-call timeout override.
func (t *Transport) SendCommand(ctx context.Context, line string, timeoutMs int) ([]string, error) {
	var timeout time.Duration
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return t.sendCommand(ctx, line, timeout)
}

// GetPosition issues the position-query command and returns the parsed axes.
func (t *Transport) GetPosition(ctx context.Context) (Position, error) {
	if _, err := t.sendCommand(ctx, "M114", 0); err != nil {
		return Position{}, err
	}
	return t.State().Position, nil
}

// ListFiles lists files on the controller's storage.
func (t *Transport) ListFiles(ctx context.Context) ([]string, error) {
	lines, err := t.sendCommand(ctx, "M20", 0)
	if err != nil {
		return nil, err
	}
	var files []string
	in := false
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "Begin file list"):
			in = true
		case strings.HasPrefix(l, "End file list"):
			in = false
		case in:
			files = append(files, l)
		}
	}
	return files, nil
}

// StorageInfo reports the controller's storage usage.
func (t *Transport) StorageInfo(ctx context.Context) (string, error) {
	lines, err := t.sendCommand(ctx, "M39", 0)
	if err != nil {
		return "", err
	}
	if len(lines) > 0 {
		return lines[0], nil
	}
	return "", nil
}

// RunFile selects and starts a previously uploaded file.
func (t *Transport) RunFile(ctx context.Context, name string) error {
	if _, err := t.sendCommand(ctx, fmt.Sprintf("M23 %s", name), 0); err != nil {
		return err
	}
	_, err := t.sendCommand(ctx, "M24", 0)
	return err
}

// UploadFile brackets content with begin- and end-write commands and sends
// each non-empty line in order.
func (t *Transport) UploadFile(ctx context.Context, name, content string) error {
	if _, err := t.sendCommand(ctx, fmt.Sprintf("M28 %s", name), 0); err != nil {
		return err
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := t.sendCommand(ctx, line, 0); err != nil {
			return err
		}
	}
	_, err := t.sendCommand(ctx, "M29", 0)
	return err
}

// Pause issues the controller pause command.
func (t *Transport) Pause(ctx context.Context) error {
	_, err := t.sendCommand(ctx, "M25", 0)
	return err
}

// Stop issues the controller stop command.
func (t *Transport) Stop(ctx context.Context) error {
	_, err := t.sendCommand(ctx, "M0", 0)
	return err
}

// EmergencyStop issues the controller's emergency-stop command.
func (t *Transport) EmergencyStop(ctx context.Context) error {
	_, err := t.sendCommand(ctx, "M112", 0)
	return err
}

// HomeAll homes the given axes, or all axes when none are given.
func (t *Transport) HomeAll(ctx context.Context, axes ...string) error {
	cmd := "G28"
	if len(axes) > 0 {
		cmd += " " + strings.Join(axes, " ")
	}
	_, err := t.sendCommand(ctx, cmd, 0)
	return err
}

// MoveRapid issues a rapid (G0) move to the given coordinates.
func (t *Transport) MoveRapid(ctx context.Context, xyz Position) error {
	_, err := t.sendCommand(ctx, motionLine("G0", xyz, 0), 0)
	return err
}

// MoveLinear issues a controlled (G1) move, with an optional feed rate.
func (t *Transport) MoveLinear(ctx context.Context, xyz Position, feedRate float64) error {
	_, err := t.sendCommand(ctx, motionLine("G1", xyz, feedRate), 0)
	return err
}

func motionLine(word string, xyz Position, feedRate float64) string {
	var b strings.Builder
	b.WriteString(word)
	fmt.Fprintf(&b, " X%.3f Y%.3f", xyz.X, xyz.Y)
	if xyz.Z != 0 {
		fmt.Fprintf(&b, " Z%.3f", xyz.Z)
	}
	if feedRate > 0 {
		fmt.Fprintf(&b, " F%d", int(feedRate))
	}
	return b.String()
}

// SetPin writes a digital/PWM pin.
func (t *Transport) SetPin(ctx context.Context, pin int, value float64) error {
	_, err := t.sendCommand(ctx, fmt.Sprintf("M42 P%d S%.0f", pin, value), 0)
	return err
}

// ReadPin reads a pin's current value. The firmware's read-back wire format
// is undocumented; this assumes a bare M42 with no S parameter echoes the
// pin state in the response body.
func (t *Transport) ReadPin(ctx context.Context, pin int) (string, error) {
	lines, err := t.sendCommand(ctx, fmt.Sprintf("M42 P%d", pin), 0)
	if err != nil {
		return "", err
	}
	if len(lines) > 0 {
		return lines[0], nil
	}
	return "", nil
}

// WaitForIdle blocks until the controller reports it has finished all queued
// motion. No dedicated wire command is specified, so this polls getPosition
// until it settles across two consecutive reads — documented assumption,
// not firmware-verified.
func (t *Transport) WaitForIdle(ctx context.Context) error {
	var last Position
	for i := 0; ; i++ {
		pos, err := t.GetPosition(ctx)
		if err != nil {
			return err
		}
		if i > 0 && pos == last {
			return nil
		}
		last = pos
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ecode.New(ecode.KindCancelled, ctx.Err().Error())
		}
	}
}
