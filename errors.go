// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes execution failures.
type ErrorKind int

const (
	KindInit         ErrorKind = iota + 1 // Runtime boot or bootstrap failure
	KindNullResponse                      // Runtime returned no value, usually a parse error
	KindLogical                           // Command ran but did not return the success sentinel
	KindDecode                            // Interchange text or a literal could not be parsed
	KindDimension                         // Native array rank does not match the requested shape
	KindAffinity                          // Runtime touched from outside the worker goroutine
	KindClosed                            // Executor stopped or runtime shut down
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindNullResponse:
		return "null response"
	case KindLogical:
		return "logical"
	case KindDecode:
		return "decode"
	case KindDimension:
		return "dimension"
	case KindAffinity:
		return "affinity"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExecutionError is the single error type surfaced for interpreter-facing failures.
// It carries enough context (command text, variable, raw response) to diagnose the call.
type ExecutionError struct {
	Kind     ErrorKind
	Command  string // Command text as submitted by the caller
	Variable string // Variable name for get/put operations
	Response any    // Raw runtime response, if any
	Err      error  // Underlying cause, if any
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := "julia " + e.Kind.String() + " failure"
	switch {
	case e.Command != "":
		msg += fmt.Sprintf(": command [%s]", e.Command)
	case e.Variable != "":
		msg += fmt.Sprintf(": variable [%s]", e.Variable)
	}
	switch e.Kind {
	case KindNullResponse:
		msg += " returned null response which might be caused by a parser error"
	case KindLogical:
		msg += fmt.Sprintf(" returned %v", e.Response)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or 0 when err is not an ExecutionError.
func KindOf(err error) ErrorKind {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return 0
}

// IsNullResponse returns true if err signals a null runtime response.
func IsNullResponse(err error) bool {
	return KindOf(err) == KindNullResponse
}

// IsLogical returns true if err signals a command that did not return true.
func IsLogical(err error) bool {
	return KindOf(err) == KindLogical
}

// IsDecode returns true if err signals an interchange or literal parse failure.
func IsDecode(err error) bool {
	return KindOf(err) == KindDecode
}

// IsDimension returns true if err signals a native array rank mismatch.
func IsDimension(err error) bool {
	return KindOf(err) == KindDimension
}

func newInitError(err error) *ExecutionError {
	return &ExecutionError{Kind: KindInit, Err: err}
}

func newDecodeError(variable string, err error) *ExecutionError {
	return &ExecutionError{Kind: KindDecode, Variable: variable, Err: err}
}
