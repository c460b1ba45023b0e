// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	juliaexecutor "github.com/buke/julia-executor"
)

// Request operations understood by server.jl.
const (
	opEval   = "eval"
	opInvoke = "invoke"
	opExit   = "exit"
)

// Response statuses written by server.jl.
const (
	statusReady     = "ready"
	statusOK        = "ok"
	statusNull      = "null"
	statusException = "exception"
	statusError     = "error"
)

// request is one line sent to the server.
type request struct {
	ID       string     `json:"id"`
	Op       string     `json:"op"`
	Code     string     `json:"code,omitempty"`
	Function string     `json:"function,omitempty"`
	Args     []argument `json:"args,omitempty"`
}

// argument is a string or an array passed to an invoked function.
type argument struct {
	String *string    `json:"string,omitempty"`
	Array  *wireArray `json:"array,omitempty"`
}

// wireArray carries a native array with base64 little-endian data.
type wireArray struct {
	Type  juliaexecutor.ElementType `json:"type"`
	Shape []int                     `json:"shape"`
	Data  string                    `json:"data"`
}

// response is one line read from the server.
type response struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Kind    string          `json:"kind,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Array   *wireArray      `json:"array,omitempty"`
	Type    string          `json:"type,omitempty"`
	Error   string          `json:"error,omitempty"`
	Version string          `json:"version,omitempty"`
}

// Opaque is a Julia value without a host representation.
type Opaque struct {
	TypeName string
}

func (o *Opaque) String() string {
	return "julia value of type " + o.TypeName
}

// encodeRequest marshals req as a single protocol line.
func encodeRequest(req *request) ([]byte, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// newArguments converts Invoke arguments to their wire form.
func newArguments(args []any) ([]argument, error) {
	out := make([]argument, 0, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case string:
			s := a
			out = append(out, argument{String: &s})
		case *juliaexecutor.Array:
			w, err := encodeArray(a)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out = append(out, argument{Array: w})
		default:
			return nil, fmt.Errorf("argument %d: unsupported type %T", i, arg)
		}
	}
	return out, nil
}

func encodeArray(a *juliaexecutor.Array) (*wireArray, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, a.Data); err != nil {
		return nil, fmt.Errorf("failed to encode array data: %w", err)
	}
	return &wireArray{
		Type:  a.Type,
		Shape: append([]int{}, a.Shape...),
		Data:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func decodeArray(w *wireArray) (*juliaexecutor.Array, error) {
	raw, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid array data: %w", err)
	}

	var data any
	var size int
	switch w.Type {
	case juliaexecutor.Int8:
		data, size = make([]int8, len(raw)), 1
	case juliaexecutor.Int16:
		data, size = make([]int16, len(raw)/2), 2
	case juliaexecutor.Int32:
		data, size = make([]int32, len(raw)/4), 4
	case juliaexecutor.Int64:
		data, size = make([]int64, len(raw)/8), 8
	case juliaexecutor.Float32:
		data, size = make([]float32, len(raw)/4), 4
	case juliaexecutor.Float64:
		data, size = make([]float64, len(raw)/8), 8
	default:
		return nil, fmt.Errorf("unsupported array type %q", w.Type)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("array data of %d bytes is not a multiple of %d", len(raw), size)
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("failed to decode array data: %w", err)
	}

	a := &juliaexecutor.Array{Type: w.Type, Shape: append([]int{}, w.Shape...), Data: data}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// decodeResult maps a response onto the values Runtime.EvalString and
// Runtime.Invoke return.
func decodeResult(resp *response) (any, error) {
	switch resp.Status {
	case statusOK:
	case statusNull:
		return nil, nil
	case statusException:
		return &juliaexecutor.JuliaException{Message: resp.Error}, nil
	case statusError:
		return nil, fmt.Errorf("julia server error: %s", resp.Error)
	default:
		return nil, fmt.Errorf("unexpected response status %q", resp.Status)
	}

	switch resp.Kind {
	case "nothing":
		return &Opaque{TypeName: "Nothing"}, nil
	case "bool":
		var b bool
		if err := json.Unmarshal(resp.Value, &b); err != nil {
			return nil, fmt.Errorf("invalid bool value: %w", err)
		}
		return b, nil
	case "string":
		var s string
		if err := json.Unmarshal(resp.Value, &s); err != nil {
			return nil, fmt.Errorf("invalid string value: %w", err)
		}
		return s, nil
	case "int":
		var i int64
		if err := json.Unmarshal(resp.Value, &i); err != nil {
			return nil, fmt.Errorf("invalid int value: %w", err)
		}
		return i, nil
	case "float":
		var s string
		if err := json.Unmarshal(resp.Value, &s); err != nil {
			return nil, fmt.Errorf("invalid float value: %w", err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value: %w", err)
		}
		return f, nil
	case "array":
		if resp.Array == nil {
			return nil, fmt.Errorf("array response without array")
		}
		return decodeArray(resp.Array)
	case "other":
		return &Opaque{TypeName: resp.Type}, nil
	default:
		return nil, fmt.Errorf("unexpected value kind %q", resp.Kind)
	}
}
