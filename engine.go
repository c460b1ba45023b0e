// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// successSentinel is appended to every evaluated command.
	successSentinel = ";\ntrue"

	// bootstrapCommand makes sure the JSON package is installed and loaded.
	bootstrapCommand = "using InteractiveUtils; using Pkg; " +
		"isinstalled(pkg::String) = any(x -> x.name == pkg && x.is_direct_dep, values(Pkg.dependencies())); " +
		"if !isinstalled(\"JSON\"); Pkg.add(\"JSON\"); end; using JSON"

	// outputFileName is the name of the interpreter stdout capture file.
	outputFileName = "JuliaEngine.out"
)

// Engine owns one Julia runtime and exposes eval, get, put and reset on it.
//
// Every method that touches the runtime must run on the executor's worker
// thread and fails with a KindAffinity error otherwise. Use a Dispatcher to
// call from arbitrary goroutines.
type Engine struct {
	runtime      Runtime        // Native interpreter binding
	executor     *Executor      // Worker the runtime is bound to
	lock         *ReentrantLock // Guards every runtime access
	resetContext *ResetContext  // Reinstalls helpers after reset
	logger       *slog.Logger   // Logger instance

	runtimeOptions RuntimeOptions
	tempDir        string
	outputPath     string
	initialized    bool
	closed         bool
}

// NewEngine creates an engine for runtime bound to executor and initializes it
// on the worker thread. The executor must be started. The runtime is shut down
// when the executor stops.
func NewEngine(executor *Executor, runtime Runtime, opts ...func(*Engine)) (*Engine, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor must be provided")
	}
	if runtime == nil {
		return nil, fmt.Errorf("julia runtime must be provided")
	}

	engine := &Engine{
		runtime:  runtime,
		executor: executor,
		lock:     NewReentrantLock("JuliaEngine_lock"),
		logger:   slog.Default(),
		tempDir:  os.TempDir(),
	}
	engine.resetContext = newResetContext(engine)

	// Apply configuration options
	for _, opt := range opts {
		opt(engine)
	}
	engine.outputPath = filepath.Join(engine.tempDir, outputFileName)

	executor.OnStop(engine.Close)
	if _, err := Call(executor, func() (struct{}, error) {
		return struct{}{}, engine.Init()
	}); err != nil {
		return nil, err
	}
	return engine, nil
}

// WithLogger configures the logger for the engine. A nil logger disables logging.
func WithLogger(logger *slog.Logger) func(*Engine) {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithTempDir sets the directory holding the output capture file.
func WithTempDir(dir string) func(*Engine) {
	return func(engine *Engine) {
		if dir != "" {
			engine.tempDir = dir
		}
	}
}

// WithJuliaHome sets the Julia installation directory passed to Runtime.Boot.
func WithJuliaHome(home string) func(*Engine) {
	return func(engine *Engine) {
		engine.runtimeOptions.JuliaHome = home
	}
}

// WithThreads sets the number of Julia threads passed to Runtime.Boot.
func WithThreads(threads int) func(*Engine) {
	return func(engine *Engine) {
		if threads > 0 {
			engine.runtimeOptions.Threads = threads
		}
	}
}

// Lock returns the lock guarding the runtime. Engine operations take it on the
// worker thread, so a sequence of calls is made atomic with Dispatcher.Atomic.
// Holding it on any other goroutine makes Dispatcher calls fail with a
// KindAffinity error.
func (e *Engine) Lock() *ReentrantLock {
	return e.lock
}

// Executor returns the worker the engine is bound to.
func (e *Engine) Executor() *Executor {
	return e.executor
}

// ResetContext returns the engine's reset context.
func (e *Engine) ResetContext() *ResetContext {
	return e.resetContext
}

// Initialized reports whether Init completed.
func (e *Engine) Initialized() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.initialized
}

// OutputPath returns the file capturing the interpreter's stdout.
func (e *Engine) OutputPath() string {
	return e.outputPath
}

// Init boots the runtime if needed, installs the JSON package, redirects
// interpreter stdout into the capture file and installs the helpers.
// It is a no-op once initialized.
func (e *Engine) Init() error {
	if err := e.checkWorker(); err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.initialized {
		return nil
	}
	if e.closed {
		return e.closedError()
	}

	if !e.runtime.Booted() {
		if err := e.runtime.Boot(e.runtimeOptions); err != nil {
			return newInitError(fmt.Errorf("failed to boot julia: %w", err))
		}
	}

	if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
		return newInitError(fmt.Errorf("failed to create temp dir: %w", err))
	}
	f, err := os.OpenFile(e.outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return newInitError(fmt.Errorf("failed to touch output file: %w", err))
	}
	_ = f.Close()

	if err := e.eval(bootstrapCommand); err != nil {
		return newInitError(fmt.Errorf("failed to install JSON package: %w", err))
	}
	redirect := "global __jlexec_out__ = open(" + quoteString(e.outputPath) + ", \"a\"); redirect_stdout(__jlexec_out__)"
	if err := e.eval(redirect); err != nil {
		return newInitError(fmt.Errorf("failed to redirect output: %w", err))
	}
	if err := e.resetContext.Init(); err != nil {
		return newInitError(err)
	}

	e.initialized = true
	if e.logger != nil {
		e.logger.Debug("Julia engine initialized", "output", e.outputPath)
	}
	return nil
}

// Eval runs command in Main and fails unless it completes with the success sentinel.
func (e *Engine) Eval(command string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.eval(command)
}

// eval is Eval without checks; callers hold the lock on the worker.
func (e *Engine) eval(command string) error {
	e.debug("> eval", "command", command)
	result, err := e.runtime.EvalString(command + successSentinel)
	if err != nil {
		return &ExecutionError{Kind: KindClosed, Command: command, Err: err}
	}
	e.debug("< eval", "response", result)
	if result == nil {
		return &ExecutionError{Kind: KindNullResponse, Command: command}
	}
	if ok, isBool := result.(bool); !isBool || !ok {
		return &ExecutionError{Kind: KindLogical, Command: command, Response: result}
	}
	return nil
}

// GetJSON serializes variable with JSON.json inside the interpreter and parses
// the text. JSON null yields a nil tree.
func (e *Engine) GetJSON(variable string) (any, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.getJSON(variable)
}

func (e *Engine) getJSON(variable string) (any, error) {
	e.debug("> get", "variable", variable)
	result, err := e.runtime.EvalString("JSON.json(" + variable + ")")
	if err != nil {
		return nil, &ExecutionError{Kind: KindClosed, Variable: variable, Err: err}
	}
	if result == nil {
		return nil, &ExecutionError{Kind: KindNullResponse, Variable: variable}
	}
	text, ok := result.(string)
	if !ok {
		return nil, &ExecutionError{Kind: KindLogical, Variable: variable, Response: result}
	}
	node, err := parseInterchange(text)
	if err != nil {
		return nil, newDecodeError(variable, err)
	}
	return node, nil
}

// Get evaluates variable directly and returns the native array descriptor
// when the runtime hands one back, falling back to the JSON interchange otherwise.
func (e *Engine) Get(variable string) (*Value, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	e.debug("> get", "variable", variable)
	result, err := e.runtime.EvalString("__ans__=" + variable + ";\n__ans__")
	if err != nil {
		return nil, &ExecutionError{Kind: KindClosed, Variable: variable, Err: err}
	}
	switch r := result.(type) {
	case nil:
		return &Value{}, nil
	case *Array:
		return &Value{Array: r}, nil
	case *JuliaException:
		return nil, &ExecutionError{Kind: KindLogical, Variable: variable, Response: r}
	}
	node, err := e.getJSON("__ans__")
	if err != nil {
		return nil, err
	}
	return &Value{Node: node}, nil
}

// Put builds a native array from the descriptor and assigns it to the global variable.
func (e *Engine) Put(variable string, array *Array) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	if array == nil {
		return &ExecutionError{Kind: KindDimension, Variable: variable, Err: errors.New("array must not be nil")}
	}
	if err := array.Validate(); err != nil {
		return &ExecutionError{Kind: KindDimension, Variable: variable, Err: fmt.Errorf("invalid array: %w", err)}
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	e.debug("> put", "variable", variable, "type", array.Type, "shape", array.Shape)
	result, err := e.runtime.Invoke(putGlobalFunction, variable, array)
	if err != nil {
		return &ExecutionError{Kind: KindClosed, Variable: variable, Err: err}
	}
	if ex, ok := result.(*JuliaException); ok {
		return &ExecutionError{Kind: KindLogical, Variable: variable, Response: ex}
	}
	return nil
}

// Reset clears interpreter globals and reinstalls the helper definitions.
// Pending failures are not cleared; callers re-attempt after reset.
func (e *Engine) Reset() error {
	if err := e.checkReady(); err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if err := e.resetContext.Reset(); err != nil {
		return err
	}
	if e.logger != nil {
		e.logger.Debug("Julia engine reset", "resets", e.resetContext.Resets())
	}
	return nil
}

// Output flushes the interpreter's stdout and returns the captured text.
func (e *Engine) Output() (string, error) {
	if err := e.checkForeignLock(); err != nil {
		return "", err
	}
	_, err := Call(e.executor, func() (struct{}, error) {
		e.lock.Lock()
		defer e.lock.Unlock()
		if !e.initialized || e.closed {
			return struct{}{}, nil
		}
		return struct{}{}, e.eval("flush(__jlexec_out__)")
	})
	if err != nil && KindOf(err) != KindClosed {
		return "", err
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	data, err := os.ReadFile(e.outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to read output file: %w", err)
	}
	return string(data), nil
}

// Close runs the runtime exit hook. It is registered as executor stop hook and
// must run on the worker thread. Shutdown is called even when the runtime no
// longer reports itself booted.
func (e *Engine) Close() error {
	if err := e.checkWorker(); err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.initialized = false
	if err := e.runtime.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down julia: %w", err)
	}
	return nil
}

func (e *Engine) checkWorker() error {
	if !e.executor.IsWorker() {
		return &ExecutionError{
			Kind: KindAffinity,
			Err:  errors.New("julia engine accessed outside of its worker thread"),
		}
	}
	return nil
}

// checkForeignLock fails when the caller holds the lock off the worker thread.
func (e *Engine) checkForeignLock() error {
	if !e.executor.IsWorker() && e.lock.HeldByCurrent() {
		return &ExecutionError{
			Kind: KindAffinity,
			Err:  errors.New("julia engine lock held outside of its worker thread; use Dispatcher.Atomic"),
		}
	}
	return nil
}

func (e *Engine) checkReady() error {
	if err := e.checkWorker(); err != nil {
		return err
	}
	if e.closed {
		return e.closedError()
	}
	if !e.initialized {
		return &ExecutionError{Kind: KindInit, Err: errors.New("julia engine is not initialized")}
	}
	return nil
}

func (e *Engine) closedError() error {
	return &ExecutionError{Kind: KindClosed, Err: errors.New("julia engine is closed")}
}

func (e *Engine) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
