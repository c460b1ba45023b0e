// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import "sync"

// taskStatus represents the current status of a task.
type taskStatus int

const (
	taskStatusPending   taskStatus = iota // Task is waiting to be executed
	taskStatusRunning                     // Task is currently being executed
	taskStatusCompleted                   // Task execution has completed
)

// taskResult represents the result of task execution.
type taskResult struct {
	value any   // Value returned by the task function
	err   error // Error returned or recovered from the task function
}

// task represents a unit of work to be executed by the worker thread.
type task struct {
	fn         func() (any, error) // Work to run on the worker
	resultChan chan *taskResult    // Channel to receive the execution result
	status     taskStatus          // Current status of the task
}

// newTask creates a new task instance for the given function.
func newTask(fn func() (any, error)) *task {
	return &task{
		fn:         fn,
		resultChan: make(chan *taskResult, 1), // Buffered so the worker never blocks on delivery
		status:     taskStatusPending,
	}
}

// Future is the handle to the eventual result of a submitted task.
type Future struct {
	resultChan chan *taskResult
	once       sync.Once
	result     *taskResult
}

// newFuture wraps a task's result channel.
func newFuture(t *task) *Future {
	return &Future{resultChan: t.resultChan}
}

// failedFuture returns a Future that is already completed with err.
func failedFuture(err error) *Future {
	ch := make(chan *taskResult, 1)
	ch <- &taskResult{err: err}
	return &Future{resultChan: ch}
}

// Wait blocks until the task has run and returns its value and error.
// It may be called any number of times.
func (f *Future) Wait() (any, error) {
	f.once.Do(func() {
		f.result = <-f.resultChan
	})
	return f.result.value, f.result.err
}
