// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package process runs Julia in a child process and talks to it over a
// newline-delimited JSON protocol on stdin and stdout.
package process

import (
	"bufio"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	juliaexecutor "github.com/buke/julia-executor"
)

//go:embed server.jl
var serverScript []byte

// maxLineSize bounds a single response line.
const maxLineSize = 256 << 20

// ErrNotBooted is returned by calls made before Boot or after Shutdown.
var ErrNotBooted = errors.New("julia process is not running")

// Runtime is a juliaexecutor.Runtime backed by a julia child process.
type Runtime struct {
	binary          string
	args            []string
	env             []string
	stderr          io.Writer
	logger          *slog.Logger
	shutdownTimeout time.Duration

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	scriptPath string
	version    string
	booted     bool
}

var _ juliaexecutor.Runtime = (*Runtime)(nil)

// New creates a process runtime. The process starts on Boot.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		stderr:          os.Stderr,
		logger:          slog.Default(),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewFactory returns a RuntimeFactory creating process runtimes with opts.
func NewFactory(opts ...Option) juliaexecutor.RuntimeFactory {
	return func() (juliaexecutor.Runtime, error) {
		return New(opts...)
	}
}

// Boot writes the server script, starts julia and waits for its ready line.
func (r *Runtime) Boot(opts juliaexecutor.RuntimeOptions) error {
	if r.booted {
		return nil
	}

	script, err := os.CreateTemp("", "jlexec-server-*.jl")
	if err != nil {
		return fmt.Errorf("failed to create server script: %w", err)
	}
	r.scriptPath = script.Name()
	_, err = script.Write(serverScript)
	if cerr := script.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		r.removeScript()
		return fmt.Errorf("failed to write server script: %w", err)
	}

	cmd := exec.Command(r.resolveBinary(opts), r.commandArgs(opts)...)
	cmd.Env = append(os.Environ(), r.env...)
	cmd.Stderr = r.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.removeScript()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.removeScript()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		r.removeScript()
		return fmt.Errorf("failed to start julia: %w", err)
	}

	if err := r.attach(stdin, stdout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		r.stdin = nil
		r.removeScript()
		return err
	}
	r.cmd = cmd
	if r.logger != nil {
		r.logger.Debug("Julia process started", "pid", cmd.Process.Pid, "version", r.version)
	}
	return nil
}

// attach binds the protocol streams and waits for the ready line.
func (r *Runtime) attach(stdin io.WriteCloser, stdout io.Reader) error {
	r.stdin = stdin
	r.stdout = bufio.NewReaderSize(stdout, 64<<10)

	resp, err := r.readResponse()
	if err != nil {
		return fmt.Errorf("julia server did not start: %w", err)
	}
	if resp.Status != statusReady {
		return fmt.Errorf("julia server did not start: unexpected status %q", resp.Status)
	}
	r.version = resp.Version
	r.booted = true
	return nil
}

func (r *Runtime) resolveBinary(opts juliaexecutor.RuntimeOptions) string {
	if r.binary != "" {
		return r.binary
	}
	if opts.JuliaHome != "" {
		return filepath.Join(opts.JuliaHome, "bin", "julia")
	}
	return "julia"
}

func (r *Runtime) commandArgs(opts juliaexecutor.RuntimeOptions) []string {
	args := []string{"--startup-file=no", "--history-file=no"}
	if opts.Threads > 0 {
		args = append(args, "--threads="+strconv.Itoa(opts.Threads))
	}
	args = append(args, r.args...)
	return append(args, r.scriptPath)
}

// Booted reports whether the julia process is running.
func (r *Runtime) Booted() bool {
	return r.booted
}

// Version returns the julia version reported at startup.
func (r *Runtime) Version() string {
	return r.version
}

// EvalString evaluates code in Main of the julia process.
func (r *Runtime) EvalString(code string) (any, error) {
	resp, err := r.roundTrip(&request{Op: opEval, Code: code})
	if err != nil {
		return nil, err
	}
	if resp.Status == statusNull && r.logger != nil {
		r.logger.Debug("Julia evaluation failed", "error", resp.Error)
	}
	return decodeResult(resp)
}

// Invoke calls a global function of Main with string and array arguments.
func (r *Runtime) Invoke(function string, args ...any) (any, error) {
	wireArgs, err := newArguments(args)
	if err != nil {
		return nil, err
	}
	resp, err := r.roundTrip(&request{Op: opInvoke, Function: function, Args: wireArgs})
	if err != nil {
		return nil, err
	}
	return decodeResult(resp)
}

// Shutdown asks the server to exit and waits for the process, killing it
// after the shutdown timeout.
func (r *Runtime) Shutdown() error {
	if r.stdin == nil {
		return nil
	}
	defer r.removeScript()

	if r.booted {
		if _, err := r.send(&request{Op: opExit}); err != nil && r.logger != nil {
			r.logger.Debug("Julia exit request failed", "error", err)
		}
	}
	r.booted = false
	_ = r.stdin.Close()
	r.stdin = nil

	cmd := r.cmd
	r.cmd = nil
	if cmd == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("julia process exited: %w", err)
		}
		return nil
	case <-time.After(r.shutdownTimeout):
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("julia process did not exit within %s and was killed", r.shutdownTimeout)
	}
}

// roundTrip sends req and returns its response.
func (r *Runtime) roundTrip(req *request) (*response, error) {
	if !r.booted {
		return nil, ErrNotBooted
	}
	return r.send(req)
}

func (r *Runtime) send(req *request) (*response, error) {
	req.ID = uuid.NewString()
	line, err := encodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := r.stdin.Write(line); err != nil {
		r.booted = false
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	resp, err := r.readResponse()
	if err != nil {
		r.booted = false
		return nil, err
	}
	if resp.ID != req.ID {
		r.booted = false
		return nil, fmt.Errorf("response id %q does not match request id %q", resp.ID, req.ID)
	}
	return resp, nil
}

func (r *Runtime) readResponse() (*response, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.stdout.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("julia process closed its output: %w", err)
			}
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, fmt.Errorf("response exceeds %d bytes", maxLineSize)
		}
		if !isPrefix {
			break
		}
	}
	resp := &response{}
	if err := json.Unmarshal(line, resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return resp, nil
}

func (r *Runtime) removeScript() {
	if r.scriptPath == "" {
		return
	}
	_ = os.Remove(r.scriptPath)
	r.scriptPath = ""
}
