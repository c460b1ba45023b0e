// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const (
	promptMain  = "julia> "
	historyName = ".juliaexec_history"
)

const replHelp = `Commands:
  :help                      show this help
  :get <var> [shape] [type]  print a variable (shape auto|scalar|vector|matrix)
  :reset                     clear globals and reinstall helpers
  :quit                      leave the REPL
Anything else is evaluated as Julia code.
`

func newReplCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive Julia session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(rootOpts, cmd)
		},
	}
}

func runRepl(opts *rootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	histPath := opts.cfg.Engine.HistoryFile
	if histPath == "" {
		home, _ := os.UserHomeDir()
		histPath = filepath.Join(home, historyName)
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	// Load history (best-effort)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	r := &repl{session: s, out: cmd.OutOrStdout()}
	if _, r.offset, err = s.outputTail(0); err != nil {
		return err
	}
	for {
		line, err := ln.Prompt(promptMain)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			break
		}
		if err != nil {
			// Ctrl+C drops the current line
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)
		if r.handle(line) {
			break
		}
	}

	// Persist history (best-effort)
	if f, err := os.Create(histPath); err == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
	return nil
}

// repl evaluates lines against one session.
type repl struct {
	session *session
	out     io.Writer
	offset  int // Captured output already printed
}

// handle runs one line and reports whether the REPL should exit.
func (r *repl) handle(line string) (exit bool) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, ":") {
		return r.command(trimmed)
	}
	if err := r.session.client.Eval(line); err != nil {
		fmt.Fprintln(r.out, err)
	}
	r.flushOutput()
	return false
}

func (r *repl) command(line string) (exit bool) {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case ":help":
		fmt.Fprint(r.out, replHelp)
	case ":quit", ":exit":
		return true
	case ":reset":
		if err := r.session.client.Reset(); err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		fmt.Fprintln(r.out, "session reset.")
	case ":get":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "usage: :get <var> [shape] [type]")
			return false
		}
		shape, typ := "auto", "float64"
		if len(fields) > 2 {
			shape = fields[2]
		}
		if len(fields) > 3 {
			typ = fields[3]
		}
		if !contains(validShapes, shape) || !contains(validTypes, typ) {
			fmt.Fprintf(r.out, "shape must be one of %v and type one of %v\n", validShapes, validTypes)
			return false
		}
		if err := printVariable(r.session.client, r.out, fields[1], shape, typ); err != nil {
			fmt.Fprintln(r.out, err)
		}
	default:
		fmt.Fprintln(r.out, "unknown command. Type :help for help.")
	}
	return false
}

// flushOutput prints interpreter output captured since the last call.
func (r *repl) flushOutput() {
	out, offset, err := r.session.outputTail(r.offset)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	r.offset = offset
	fmt.Fprint(r.out, out)
}
