// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import "fmt"

// Helper definitions the marshaller depends on inside the interpreter.
const (
	// putGlobalFunction assigns a value to a global variable given by name.
	putGlobalFunction = "jlexec_putGlobal"

	jsonHelperCommand      = "using JSON"
	putGlobalHelperCommand = "function " + putGlobalFunction + "(variable, value); global __ans__ = value; " +
		"Core.eval(Main, Meta.parse(\"global \" * variable * \" = __ans__\")); return nothing; end"

	// baselineCommand records the globals that survive a reset.
	baselineCommand = "if !isdefined(Main, :__jlexec_baseline__); " +
		"global const __jlexec_baseline__ = Set(names(Main; all=true, imported=true)); end"

	// clearCommand rebinds every global defined after the baseline to nothing.
	// Constant bindings (functions, types, modules) cannot be rebound and stay.
	clearCommand = "for __jlexec_n__ in names(Main; all=true); " +
		"if !(__jlexec_n__ in __jlexec_baseline__) && isdefined(Main, __jlexec_n__) && " +
		"!isconst(Main, __jlexec_n__) && !startswith(string(__jlexec_n__), \"#\"); " +
		"Core.eval(Main, :(global $(__jlexec_n__) = nothing)); end; end; GC.gc()"
)

// resetState is the lifecycle state of a ResetContext.
type resetState int

const (
	resetUninitialized resetState = iota
	resetReady
)

// ResetContext re-establishes interpreter-side helper definitions after a hard
// reset without replacing the host-side Engine.
type ResetContext struct {
	engine *Engine
	state  resetState
	resets int
}

// newResetContext creates a reset context for the given engine.
func newResetContext(engine *Engine) *ResetContext {
	return &ResetContext{engine: engine}
}

// Init records the baseline globals and installs the helpers. It runs once;
// later calls are no-ops.
func (r *ResetContext) Init() error {
	if r.state == resetReady {
		return nil
	}
	if err := r.engine.eval(baselineCommand); err != nil {
		return fmt.Errorf("failed to record baseline globals: %w", err)
	}
	if err := r.installHelpers(); err != nil {
		return err
	}
	r.state = resetReady
	return nil
}

// Reset clears user globals and reinstalls the helpers exactly as Init did.
func (r *ResetContext) Reset() error {
	if r.state != resetReady {
		return fmt.Errorf("reset context is not initialized")
	}
	if err := r.engine.eval(clearCommand); err != nil {
		return fmt.Errorf("failed to clear globals: %w", err)
	}
	if err := r.installHelpers(); err != nil {
		return err
	}
	r.resets++
	return nil
}

// Resets returns how many resets completed successfully.
func (r *ResetContext) Resets() int {
	return r.resets
}

func (r *ResetContext) installHelpers() error {
	for _, command := range []string{jsonHelperCommand, putGlobalHelperCommand} {
		if err := r.engine.eval(command); err != nil {
			return fmt.Errorf("failed to install helper: %w", err)
		}
	}
	return nil
}
