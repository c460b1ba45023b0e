// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

// Dispatcher forwards every Engine operation through the engine's Executor and
// blocks until it completes. It is safe for concurrent use.
type Dispatcher struct {
	engine *Engine
}

var _ Client = (*Dispatcher)(nil)
var _ Client = (*Engine)(nil)

// NewDispatcher creates a Dispatcher for engine.
func NewDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// Engine returns the underlying engine.
func (d *Dispatcher) Engine() *Engine {
	return d.engine
}

// dispatch runs fn on the worker unless the caller holds the engine lock on
// another goroutine.
func dispatch[T any](d *Dispatcher, fn func() (T, error)) (T, error) {
	if err := d.engine.checkForeignLock(); err != nil {
		var zero T
		return zero, err
	}
	return Call(d.engine.executor, fn)
}

// Eval runs command on the worker.
func (d *Dispatcher) Eval(command string) error {
	_, err := dispatch(d, func() (struct{}, error) {
		return struct{}{}, d.engine.Eval(command)
	})
	return err
}

// GetJSON returns the interchange tree of variable, fetched on the worker.
func (d *Dispatcher) GetJSON(variable string) (any, error) {
	return dispatch(d, func() (any, error) {
		return d.engine.GetJSON(variable)
	})
}

// Get returns variable through the dual path, fetched on the worker.
func (d *Dispatcher) Get(variable string) (*Value, error) {
	return dispatch(d, func() (*Value, error) {
		return d.engine.Get(variable)
	})
}

// Put assigns array to variable on the worker.
func (d *Dispatcher) Put(variable string, array *Array) error {
	_, err := dispatch(d, func() (struct{}, error) {
		return struct{}{}, d.engine.Put(variable, array)
	})
	return err
}

// Reset resets the engine on the worker.
func (d *Dispatcher) Reset() error {
	_, err := dispatch(d, func() (struct{}, error) {
		return struct{}{}, d.engine.Reset()
	})
	return err
}

// Atomic runs fn on the worker while holding the engine lock, so that the
// calls fn makes appear as one step to every other caller.
func (d *Dispatcher) Atomic(fn func(Client) error) error {
	_, err := dispatch(d, func() (struct{}, error) {
		lock := d.engine.Lock()
		lock.Lock()
		defer lock.Unlock()
		return struct{}{}, fn(d.engine)
	})
	return err
}
