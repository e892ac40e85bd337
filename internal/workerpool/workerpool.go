// Package workerpool runs submitted tasks on a fixed number of goroutines.
// Transport uses a pool with exactly one worker to serialize sendCommand
// calls onto the single serial link: single-writer, single-reader, owned
// by Transport. A task that panics is recovered inside the goroutine that
// ran it, reported, and counted as failed; the worker and the pool's other
// queued tasks keep running.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirtybirdnj/gellyroller/internal/observes"
)

// ErrQueueFull is returned by Submit when the task queue has no room left.
var ErrQueueFull = errors.New("workerpool: task queue is full")

// Config configures a Pool.
type Config struct {
	Workers     int           // number of worker goroutines
	QueueSize   int           // buffered task queue size
	TaskTimeout time.Duration // per-task timeout; 0 disables
}

// DefaultConfig returns a single-worker, modestly-queued configuration —
// the shape Transport needs for its one serial link.
func DefaultConfig() *Config {
	return &Config{Workers: 1, QueueSize: 64, TaskTimeout: 0}
}

// Task is a unit of work submitted to the pool.
type Task func() error

// Metrics tracks a Pool's operational counters.
type Metrics struct {
	Active    atomic.Int64
	Pending   atomic.Int64
	Completed atomic.Int64
	Failed    atomic.Int64
}

// Pool runs submitted Tasks on a fixed number of goroutines, in submission
// order when Workers is 1.
type Pool struct {
	workers     int
	queueSize   int
	taskTimeout time.Duration

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Pool from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:     cfg.Workers,
		queueSize:   cfg.QueueSize,
		taskTimeout: cfg.TaskTimeout,
		tasks:       make(chan Task, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop cancels outstanding work and waits for workers to exit, up to ctx's
// deadline.
func (p *Pool) Stop(ctx context.Context) {
	p.cancel()
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Submit enqueues a task, returning ErrQueueFull if the queue has no room.
func (p *Pool) Submit(task Task) error {
	select {
	case p.tasks <- task:
		p.metrics.Pending.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	p.metrics.Active.Add(1)
	p.metrics.Pending.Add(-1)
	defer p.metrics.Active.Add(-1)

	taskCtx := p.ctx
	var cancel context.CancelFunc
	if p.taskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(p.ctx, p.taskTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered, r := observes.Recover(); recovered {
				err := fmt.Errorf("workerpool: task panic: %v", r)
				observes.CaptureError(err)
				done <- err
			}
		}()
		done <- task()
	}()

	select {
	case err := <-done:
		if err != nil {
			p.metrics.Failed.Add(1)
		} else {
			p.metrics.Completed.Add(1)
		}
	case <-taskCtx.Done():
		p.metrics.Failed.Add(1)
	}
}

// MetricsSnapshot returns a copy of the pool's current counters.
func (p *Pool) MetricsSnapshot() map[string]int64 {
	return map[string]int64{
		"active":    p.metrics.Active.Load(),
		"pending":   p.metrics.Pending.Load(),
		"completed": p.metrics.Completed.Load(),
		"failed":    p.metrics.Failed.Load(),
	}
}
