// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	juliaexecutor "github.com/buke/julia-executor"
)

// getOptions holds flags for the get command.
type getOptions struct {
	*rootOptions
	Shape string
	Type  string
	Setup []string
}

var (
	validShapes = []string{"auto", "scalar", "vector", "matrix"}
	validTypes  = []string{"int8", "int16", "int32", "int64", "float32", "float64", "bool", "string", "char"}
)

func newGetCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &getOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <variable>",
		Short: "Print a Julia variable",
		Long: `Print a Julia variable after running optional setup code.

With --shape auto the JSON interchange form is printed as is. Other shapes
decode the variable into the element type given by --type and print one
matrix row per line.

Example:
  juliaexec get m --setup 'm = [1.0 2.0; 3.0 4.0]' --shape matrix --type float64`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !contains(validShapes, opts.Shape) {
				return fmt.Errorf("invalid shape %q: must be one of %v", opts.Shape, validShapes)
			}
			if !contains(validTypes, opts.Type) {
				return fmt.Errorf("invalid type %q: must be one of %v", opts.Type, validTypes)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Shape, "shape", "auto", "value shape (auto|scalar|vector|matrix)")
	cmd.Flags().StringVar(&opts.Type, "type", "float64", "element type for typed shapes")
	cmd.Flags().StringArrayVar(&opts.Setup, "setup", nil, "Julia code to evaluate first (repeatable)")
	return cmd
}

func runGet(opts *getOptions, cmd *cobra.Command, variable string) error {
	s, err := opts.openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, code := range opts.Setup {
		if err := s.client.Eval(code); err != nil {
			return err
		}
	}
	return printVariable(s.client, cmd.OutOrStdout(), variable, opts.Shape, opts.Type)
}

// printVariable writes variable in the requested shape and element type.
func printVariable(c juliaexecutor.Client, w io.Writer, variable, shape, typ string) error {
	if shape == "auto" {
		node, err := c.GetJSON(variable)
		if err != nil {
			return err
		}
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	switch typ {
	case "int8":
		return printTyped[int8](c, w, variable, shape)
	case "int16":
		return printTyped[int16](c, w, variable, shape)
	case "int32":
		return printTyped[int32](c, w, variable, shape)
	case "int64":
		return printTyped[int64](c, w, variable, shape)
	case "float32":
		return printTyped[float32](c, w, variable, shape)
	case "float64":
		return printTyped[float64](c, w, variable, shape)
	case "bool":
		return printTyped[bool](c, w, variable, shape)
	case "string":
		return printTyped[string](c, w, variable, shape)
	case "char":
		return printTyped[juliaexecutor.Char](c, w, variable, shape)
	default:
		return fmt.Errorf("unsupported type %q", typ)
	}
}

func printTyped[T juliaexecutor.Element](c juliaexecutor.Client, w io.Writer, variable, shape string) error {
	switch shape {
	case "scalar":
		v, err := juliaexecutor.Get[T](c, variable)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, formatElement(v))
		return err
	case "vector":
		v, err := juliaexecutor.GetVector[T](c, variable)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, formatRow(v))
		return err
	case "matrix":
		m, err := juliaexecutor.GetMatrix[T](c, variable)
		if err != nil {
			return err
		}
		for _, row := range m {
			if _, err := fmt.Fprintln(w, formatRow(row)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported shape %q", shape)
	}
}

func formatRow[T juliaexecutor.Element](row []T) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = formatElement(v)
	}
	return strings.Join(parts, " ")
}

func formatElement[T juliaexecutor.Element](v T) string {
	switch e := any(v).(type) {
	case juliaexecutor.Char:
		return string(rune(e))
	case string:
		return fmt.Sprintf("%q", e)
	default:
		return fmt.Sprint(e)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
