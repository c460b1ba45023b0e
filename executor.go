// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Executor owns the single worker thread onto which every interpreter
// operation is dispatched. Tasks run strictly in submission order.
type Executor struct {
	name   string       // Name of the worker thread
	thread *thread      // The worker, nil until Start
	logger *slog.Logger // Logger instance

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error

	hooksMu   sync.Mutex
	stopHooks []func() error // Run on the worker after the queue drains at Stop
}

// NewExecutor creates a new executor with the given options. Call Start before submitting.
func NewExecutor(opts ...func(*Executor)) *Executor {
	executor := &Executor{
		name:   "julia-worker",
		logger: slog.Default(), // Default logger
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// WithExecutorName sets the worker thread name used in logs and errors.
func WithExecutorName(name string) func(*Executor) {
	return func(executor *Executor) {
		if name != "" {
			executor.name = name
		}
	}
}

// WithExecutorLogger configures the logger for the executor. A nil logger disables logging.
func WithExecutorLogger(logger *slog.Logger) func(*Executor) {
	return func(executor *Executor) {
		executor.logger = logger
	}
}

// Start launches the worker thread and waits until it is running.
func (e *Executor) Start() error {
	started := false
	e.startOnce.Do(func() {
		e.thread = newThread(e, e.name)
		go e.thread.run()
		<-e.thread.startCh
		started = true
	})
	if !started {
		return fmt.Errorf("executor %s already started", e.name)
	}
	if e.logger != nil {
		e.logger.Debug("Executor started", "thread", e.name)
	}
	return nil
}

// Submit enqueues fn for execution on the worker and returns its Future.
func (e *Executor) Submit(fn func() (any, error)) *Future {
	if e.thread == nil {
		return failedFuture(&ExecutionError{Kind: KindClosed, Err: errNotStarted})
	}
	tk := newTask(fn)
	if err := e.thread.push(tk); err != nil {
		return failedFuture(err)
	}
	return newFuture(tk)
}

// IsWorker reports whether the calling goroutine is the worker thread.
func (e *Executor) IsWorker() bool {
	return e.thread != nil && e.thread.isCurrent()
}

// OnStop registers a hook run on the worker thread during Stop, after all
// queued tasks have finished. Hooks run in reverse registration order.
func (e *Executor) OnStop(hook func() error) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.stopHooks = append(e.stopHooks, hook)
}

// runStopHooks runs the registered hooks; called on the worker.
func (e *Executor) runStopHooks() error {
	e.hooksMu.Lock()
	hooks := make([]func() error, len(e.stopHooks))
	copy(hooks, e.stopHooks)
	e.hooksMu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			if e.logger != nil {
				e.logger.Error("Stop hook failed", "thread", e.name, "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop drains the queue, runs the stop hooks and terminates the worker.
// Later submissions fail with a KindClosed error. Stop is idempotent.
func (e *Executor) Stop() error {
	if e.thread == nil {
		return fmt.Errorf("executor %s is not started", e.name)
	}
	e.stopOnce.Do(func() {
		e.stopErr = e.thread.stop()
		if e.logger != nil {
			e.logger.Debug("Executor stopped", "thread", e.name, "tasks", e.thread.getTaskCount())
		}
	})
	return e.stopErr
}

// TaskCount returns the number of tasks executed so far.
func (e *Executor) TaskCount() uint32 {
	if e.thread == nil {
		return 0
	}
	return e.thread.getTaskCount()
}

// LastUsed returns the time the last task finished, or the start time.
func (e *Executor) LastUsed() time.Time {
	if e.thread == nil {
		return time.Time{}
	}
	return e.thread.getLastUsed()
}

// Pending returns the number of tasks waiting in the queue.
func (e *Executor) Pending() int {
	if e.thread == nil {
		return 0
	}
	return e.thread.pending()
}

// Call runs fn on the executor's worker and waits for its result. When the
// caller already is the worker, fn runs inline to avoid waiting on itself.
func Call[T any](e *Executor, fn func() (T, error)) (T, error) {
	if e.IsWorker() {
		return fn()
	}
	value, err := e.Submit(func() (any, error) {
		v, err := fn()
		return v, err
	}).Wait()
	if err != nil {
		var zero T
		return zero, err
	}
	if value == nil {
		var zero T
		return zero, nil
	}
	return value.(T), nil
}
