// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package libjulia embeds libjulia into the host process through cgo.
//
// The package only builds with the julia build tag and needs the Julia headers
// and library on the cgo search paths, for example:
//
//	JULIA_DIR=$(julia -e 'print(dirname(Sys.BINDIR))')
//	CGO_CFLAGS="-I$JULIA_DIR/include/julia" \
//	CGO_LDFLAGS="-L$JULIA_DIR/lib -Wl,-rpath,$JULIA_DIR/lib" \
//	go test -tags julia ./runtimes/libjulia
//
// A process hosts at most one interpreter and it cannot be restarted after
// Shutdown. The goroutine that calls Boot must make every later call, which the
// juliaexecutor Executor guarantees.
package libjulia
