// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// evalOptions holds flags for the eval command.
type evalOptions struct {
	*rootOptions
	Quiet bool
}

func newEvalCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &evalOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <code>...",
		Short: "Evaluate Julia code",
		Long: `Evaluate each argument as Julia code in one session and print what the
code wrote to stdout.

Example:
  juliaexec eval 'x = [1 2; 3 4]' 'println(sum(x))'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "do not print captured output")
	return cmd
}

func runEval(opts *evalOptions, cmd *cobra.Command, code []string) error {
	s, err := opts.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	_, offset, err := s.outputTail(0)
	if err != nil {
		return err
	}
	for _, c := range code {
		if err := s.client.Eval(c); err != nil {
			return err
		}
	}
	if opts.Quiet {
		return nil
	}
	out, _, err := s.outputTail(offset)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
