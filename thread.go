// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// threadAction represents an action that can be performed on the worker thread.
type threadAction int

const (
	actionStop threadAction = iota // Drain queued tasks, run stop hooks and exit
)

// String returns the string representation of a threadAction.
func (a threadAction) String() string {
	switch a {
	case actionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// threadActionRequest represents a request to perform an action on the thread.
type threadActionRequest struct {
	action threadAction // The action to perform
	done   chan error   // Channel to signal completion and return any error
}

// thread is the single worker bound to one OS thread for its lifetime.
// The task queue is unbounded and served in FIFO order.
type thread struct {
	executor *Executor // Reference to the parent executor
	name     string    // Human-readable name for diagnostics

	mu      sync.Mutex    // Guards queue and closed
	queue   []*task       // Pending tasks in submission order
	closed  bool          // Set once stop has been requested
	notify  chan struct{} // Wakes the worker when queue becomes non-empty
	startCh chan struct{} // Closed once the worker goroutine is running
	doneCh  chan struct{} // Closed when the worker goroutine returns

	actionQueue chan *threadActionRequest // Channel for receiving control actions

	goid         int64  // Goroutine id of the worker (atomic)
	lastUsedNano int64  // Timestamp of last task execution (atomic, nanoseconds)
	taskID       uint32 // Number of tasks executed by this thread (atomic)
}

// newThread creates a new thread instance.
func newThread(executor *Executor, name string) *thread {
	return &thread{
		executor:     executor,
		name:         name,
		notify:       make(chan struct{}, 1),
		startCh:      make(chan struct{}),
		doneCh:       make(chan struct{}),
		actionQueue:  make(chan *threadActionRequest, 1),
		lastUsedNano: time.Now().UnixNano(),
	}
}

// getTaskCount returns the number of tasks executed by this thread (thread-safe).
func (t *thread) getTaskCount() uint32 {
	return atomic.LoadUint32(&t.taskID)
}

// getLastUsed returns the timestamp of the last task execution (thread-safe).
func (t *thread) getLastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&t.lastUsedNano))
}

// isCurrent reports whether the caller runs on the worker goroutine.
func (t *thread) isCurrent() bool {
	id := atomic.LoadInt64(&t.goid)
	return id != 0 && id == goid.Get()
}

// push appends a task to the queue. It fails once the thread is stopping.
func (t *thread) push(tk *task) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &ExecutionError{Kind: KindClosed, Err: fmt.Errorf("executor %s is stopped", t.name)}
	}
	t.queue = append(t.queue, tk)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the oldest task, or returns nil when the queue is empty.
func (t *thread) pop() *task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil
	}
	tk := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	return tk
}

// pending returns the number of queued tasks.
func (t *thread) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// run is the main thread loop that processes tasks and actions.
func (t *thread) run() {
	// Julia records stack and signal state relative to the thread that
	// initialized it, so this goroutine never migrates.
	runtime.LockOSThread()
	defer close(t.doneCh)

	atomic.StoreInt64(&t.goid, goid.Get())
	close(t.startCh)

	for {
		if tk := t.pop(); tk != nil {
			t.executeTask(tk)
			continue
		}

		select {
		case <-t.notify:
			continue
		case actionReq := <-t.actionQueue:
			if t.executeAction(actionReq) {
				// Leave the OS thread locked so it is destroyed with the goroutine.
				return
			}
		}
	}
}

// executeAction executes a thread action and reports whether the loop must exit.
func (t *thread) executeAction(req *threadActionRequest) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in executeAction: %v", r)
			t.logError("Panic recovered in executeAction", "action", req.action.String(), "error", r)
			req.done <- err
			// The thread is already closed.
			exit = req.action == actionStop
		}
	}()

	switch req.action {
	case actionStop:
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		// Tasks submitted before the stop request still run in order.
		for tk := t.pop(); tk != nil; tk = t.pop() {
			t.executeTask(tk)
		}
		req.done <- t.executor.runStopHooks()
		return true

	default:
		req.done <- nil
		return false
	}
}

// executeTask executes a single task and delivers its result.
func (t *thread) executeTask(tk *task) {
	defer func() {
		if r := recover(); r != nil {
			tk.resultChan <- &taskResult{
				err: fmt.Errorf("panic in thread %s: %v", t.name, r),
			}
			t.logError("Task execution panic",
				"taskID", t.getTaskCount(),
				"error", r)
		}
		atomic.StoreInt64(&t.lastUsedNano, time.Now().UnixNano())
		atomic.AddUint32(&t.taskID, 1)
	}()

	tk.status = taskStatusRunning
	value, err := tk.fn()
	tk.resultChan <- &taskResult{value: value, err: err}
	tk.status = taskStatusCompleted
}

// stop sends a stop request to the thread and waits for completion.
func (t *thread) stop() error {
	req := &threadActionRequest{
		action: actionStop,
		done:   make(chan error, 1),
	}
	t.actionQueue <- req
	return <-req.done
}

func (t *thread) logError(msg string, args ...any) {
	if t.executor != nil && t.executor.logger != nil {
		t.executor.logger.Error(msg, append([]any{"thread", t.name}, args...)...)
	}
}

// errNotStarted is returned when tasks are submitted before Start.
var errNotStarted = errors.New("executor is not started")
