// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import "fmt"

// ElementType names the element type of a native Julia array.
type ElementType string

const (
	Int8    ElementType = "int8"
	Int16   ElementType = "int16"
	Int32   ElementType = "int32"
	Int64   ElementType = "int64"
	Float32 ElementType = "float32"
	Float64 ElementType = "float64"
)

// Array is the host-side descriptor of a native Julia array.
//
// Data is the flat column-major buffer as a typed slice ([]int8 ... []float64).
// Shape lists dimension sizes with the first dimension being the columns of a
// 2-D array, so a rows x cols matrix has Shape [cols, rows].
type Array struct {
	Type  ElementType
	Shape []int
	Data  any
}

// Len returns the number of elements in Data.
func (a *Array) Len() int {
	switch d := a.Data.(type) {
	case []int8:
		return len(d)
	case []int16:
		return len(d)
	case []int32:
		return len(d)
	case []int64:
		return len(d)
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	default:
		return 0
	}
}

// Validate checks that Data matches Type and the product of Shape.
func (a *Array) Validate() error {
	if elementTypeOf(a.Data) != a.Type {
		return fmt.Errorf("array data %T does not match element type %s", a.Data, a.Type)
	}
	n := 1
	for _, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension in shape %v", a.Shape)
		}
		n *= d
	}
	if n != a.Len() {
		return fmt.Errorf("shape %v needs %d elements, got %d", a.Shape, n, a.Len())
	}
	return nil
}

func elementTypeOf(data any) ElementType {
	switch data.(type) {
	case []int8:
		return Int8
	case []int16:
		return Int16
	case []int32:
		return Int32
	case []int64:
		return Int64
	case []float32:
		return Float32
	case []float64:
		return Float64
	default:
		return ""
	}
}

// JuliaException is returned as a result value when evaluation raised inside
// the interpreter after parsing succeeded.
type JuliaException struct {
	Message string
}

// String returns the exception message.
func (e *JuliaException) String() string {
	return "JuliaException: " + e.Message
}

// RuntimeOptions are passed to Runtime.Boot.
type RuntimeOptions struct {
	JuliaHome string // Julia installation directory, empty for the runtime default
	Threads   int    // Number of Julia threads, 0 for the runtime default
}

// Runtime is the native binding to one Julia interpreter.
//
// Implementations are not safe for concurrent use and must only be called from
// the goroutine that called Boot; the Executor worker guarantees this.
type Runtime interface {
	// Boot initializes the interpreter. It is only called when Booted reports false.
	Boot(opts RuntimeOptions) error

	// Booted reports whether the interpreter is live.
	Booted() bool

	// EvalString evaluates code in Main. A nil result with a nil error means the
	// interpreter produced no value (parse error or uncaught exception).
	// Non-nil results are bool, string, int64, float64, *Array, *JuliaException
	// or a runtime-specific opaque value for anything else.
	EvalString(code string) (any, error)

	// Invoke calls the global function with the given arguments. Arguments
	// are string or *Array; arrays are built with the native array constructor.
	Invoke(function string, args ...any) (any, error)

	// Shutdown runs the interpreter exit hook and releases resources. It is
	// idempotent and is called even when Booted reports false.
	Shutdown() error
}

// RuntimeFactory creates new Runtime instances.
type RuntimeFactory func() (Runtime, error)

// Client is the operation contract shared by Engine, Dispatcher and pooled sessions.
type Client interface {
	// Eval runs command and fails unless it completes with the success sentinel.
	Eval(command string) error

	// GetJSON returns the parsed interchange tree of variable, nil when absent.
	GetJSON(variable string) (any, error)

	// Get returns variable either as native array descriptor or interchange tree.
	Get(variable string) (*Value, error)

	// Put assigns a native array to the global variable.
	Put(variable string, array *Array) error

	// Reset clears interpreter globals and reinstalls the helper definitions.
	Reset() error
}
