// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	juliaexecutor "github.com/buke/julia-executor"
	"github.com/buke/julia-executor/internal/config"
	"github.com/buke/julia-executor/runtimes/process"
)

// rootOptions holds global flags and the state derived from them.
type rootOptions struct {
	ConfigPath string
	Julia      string
	Verbose    bool

	cfg        *config.Config
	logger     *slog.Logger
	newRuntime func() (juliaexecutor.Runtime, error) // Overridable in tests
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&rootOptions{})
}

func newRootCommandWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "juliaexec",
		Short:         "Evaluate Julia code through a thread-affine executor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Julia, "julia", "", "julia executable (overrides julia.binary)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(newEvalCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newReplCommand(opts))
	return cmd
}

// load reads the configuration and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Julia != "" {
		cfg.Julia.Binary = o.Julia
	}
	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.cfg = cfg
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// session is one engine on its own worker.
type session struct {
	executor *juliaexecutor.Executor
	engine   *juliaexecutor.Engine
	client   *juliaexecutor.Dispatcher
}

func (o *rootOptions) runtime() (juliaexecutor.Runtime, error) {
	if o.newRuntime != nil {
		return o.newRuntime()
	}
	popts := []process.Option{
		process.WithLogger(o.logger),
		process.WithStderr(os.Stderr),
		process.WithArgs(o.cfg.Julia.Args...),
		process.WithEnv(o.cfg.Julia.Env...),
	}
	if o.cfg.Julia.Binary != "" {
		popts = append(popts, process.WithBinary(o.cfg.Julia.Binary))
	}
	return process.New(popts...)
}

// openSession starts a worker and an initialized engine.
func (o *rootOptions) openSession() (*session, error) {
	executor := juliaexecutor.NewExecutor(
		juliaexecutor.WithExecutorName("juliaexec"),
		juliaexecutor.WithExecutorLogger(o.logger),
	)
	if err := executor.Start(); err != nil {
		return nil, err
	}
	rt, err := o.runtime()
	if err != nil {
		_ = executor.Stop()
		return nil, err
	}
	engine, err := juliaexecutor.NewEngine(executor, rt,
		juliaexecutor.WithLogger(o.logger),
		juliaexecutor.WithTempDir(o.cfg.Engine.TempDir),
		juliaexecutor.WithJuliaHome(o.cfg.Julia.Home),
		juliaexecutor.WithThreads(o.cfg.Julia.Threads),
	)
	if err != nil {
		_ = executor.Stop()
		return nil, fmt.Errorf("failed to start julia: %w", err)
	}
	return &session{
		executor: executor,
		engine:   engine,
		client:   juliaexecutor.NewDispatcher(engine),
	}, nil
}

func (s *session) Close() error {
	return s.executor.Stop()
}

// outputTail returns the captured output written after offset and the new offset.
func (s *session) outputTail(offset int) (string, int, error) {
	out, err := s.engine.Output()
	if err != nil {
		return "", offset, err
	}
	if offset > len(out) {
		offset = 0
	}
	return out[offset:], len(out), nil
}
