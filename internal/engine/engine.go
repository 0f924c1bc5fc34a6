// Package engine executes admitted tasks. Local is a reference engine
// that tracks one goroutine per task; real workloads plug in the same
// way through the create and delete callbacks.
package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/taskbridge-ai/taskbridge/internal/task"
)

// ErrNotRunning indicates the task has no active run.
var ErrNotRunning = errors.New("engine: task not running")

// StatusFunc receives terminal status changes for running tasks.
type StatusFunc func(taskID string, status task.Status) error

type run struct {
	stop     chan struct{}
	finish   chan task.Status
	done     chan struct{}
	stopOnce sync.Once
}

// Local is an in-process execution engine. Every created task gets a
// goroutine that lives until the task finishes or is deleted.
type Local struct {
	logger   *slog.Logger
	statusFn StatusFunc

	// stopWait bounds how long Delete waits for a run to wind down.
	stopWait time.Duration

	mu   sync.Mutex
	runs map[string]*run
}

func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		logger:   logger.With("component", "engine"),
		stopWait: 30 * time.Second,
		runs:     make(map[string]*run),
	}
}

// SetStatusFunc installs the status change sink. Must be set before
// any task is created.
func (l *Local) SetStatusFunc(fn StatusFunc) { l.statusFn = fn }

// Create starts a run for the task. Returns false when a run with the
// same id already exists.
func (l *Local) Create(info *task.Info) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.runs[info.ID]; exists {
		l.logger.Warn("run already exists", "task_id", info.ID)
		return false
	}
	r := &run{
		stop:   make(chan struct{}),
		finish: make(chan task.Status, 1),
		done:   make(chan struct{}),
	}
	l.runs[info.ID] = r
	go l.loop(info.ID, r)
	l.logger.Info("run started", "task_id", info.ID, "input", info.Input.Type())
	return true
}

// Delete stops the run and blocks until it has fully wound down, up to
// the stop wait bound.
func (l *Local) Delete(taskID string) bool {
	l.mu.Lock()
	r, ok := l.runs[taskID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	r.stopOnce.Do(func() { close(r.stop) })

	timer := time.NewTimer(l.stopWait)
	defer timer.Stop()
	select {
	case <-r.done:
		return true
	case <-timer.C:
		l.logger.Error("run did not stop in time", "task_id", taskID)
		return false
	}
}

// Complete finishes a run with the given terminal status, as a real
// workload would when its processing ends.
func (l *Local) Complete(taskID string, status task.Status) error {
	l.mu.Lock()
	r, ok := l.runs[taskID]
	l.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	select {
	case r.finish <- status:
		return nil
	default:
		return ErrNotRunning
	}
}

// Running reports whether the task has an active run.
func (l *Local) Running(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.runs[taskID]
	return ok
}

func (l *Local) loop(taskID string, r *run) {
	var final task.Status
	select {
	case <-r.stop:
		final = task.StatusSucceeded
	case final = <-r.finish:
	}

	l.mu.Lock()
	delete(l.runs, taskID)
	l.mu.Unlock()

	if l.statusFn != nil {
		if err := l.statusFn(taskID, final); err != nil {
			l.logger.Warn("status update rejected", "task_id", taskID, "error", err)
		}
	}
	close(r.done)
	l.logger.Info("run finished", "task_id", taskID, "status", final.String())
}
