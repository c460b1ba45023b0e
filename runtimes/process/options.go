// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Option configures a process Runtime.
type Option func(*Runtime) error

// WithBinary sets the julia executable. By default it is looked up as
// <JuliaHome>/bin/julia, or "julia" on PATH.
func WithBinary(path string) Option {
	return func(r *Runtime) error {
		if path == "" {
			return fmt.Errorf("julia binary path must not be empty")
		}
		r.binary = path
		return nil
	}
}

// WithArgs appends extra command line arguments for julia.
func WithArgs(args ...string) Option {
	return func(r *Runtime) error {
		r.args = append(r.args, args...)
		return nil
	}
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *Runtime) error {
		r.env = append(r.env, env...)
		return nil
	}
}

// WithStderr sets where the julia process stderr goes. Nil discards it.
func WithStderr(w io.Writer) Option {
	return func(r *Runtime) error {
		if w == nil {
			w = io.Discard
		}
		r.stderr = w
		return nil
	}
}

// WithLogger configures the runtime logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) error {
		r.logger = logger
		return nil
	}
}

// WithShutdownTimeout sets how long Shutdown waits for julia to exit before
// killing it.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runtime) error {
		if timeout <= 0 {
			return fmt.Errorf("shutdown timeout must be positive")
		}
		r.shutdownTimeout = timeout
		return nil
	}
}
