// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Char is a single Julia character. It is distinct from int32 so that
// character vectors and Int32 vectors decode differently.
type Char rune

// Numeric is the set of element types exchanged through native arrays.
type Numeric interface {
	int8 | int16 | int32 | int64 | float32 | float64
}

// Element is the set of host element types the marshaller converts.
type Element interface {
	Numeric | bool | string | Char
}

// Missing-value sentinels, one per element type.
const (
	MissingInt8  int8  = math.MinInt8
	MissingInt16 int16 = math.MinInt16
	MissingInt32 int32 = math.MinInt32
	MissingInt64 int64 = math.MinInt64
	MissingChar  Char  = 0
	MissingBool        = false
	MissingString      = ""
)

// Missing returns the missing-value sentinel of T. Floats use NaN.
func Missing[T Element]() T {
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = MissingInt8
	case *int16:
		*p = MissingInt16
	case *int32:
		*p = MissingInt32
	case *int64:
		*p = MissingInt64
	case *float32:
		*p = float32(math.NaN())
	case *float64:
		*p = math.NaN()
	case *Char:
		*p = MissingChar
	}
	return v
}

// IsMissing reports whether v is the missing-value sentinel of T.
func IsMissing[T Element](v T) bool {
	switch x := any(v).(type) {
	case float32:
		return math.IsNaN(float64(x))
	case float64:
		return math.IsNaN(x)
	}
	return v == Missing[T]()
}

// ValueKind classifies a Value.
type ValueKind int

const (
	ValueAbsent ValueKind = iota
	ValueScalar
	ValueVector
	ValueMatrix
)

// String returns the string representation of a ValueKind.
func (k ValueKind) String() string {
	switch k {
	case ValueAbsent:
		return "absent"
	case ValueScalar:
		return "scalar"
	case ValueVector:
		return "vector"
	case ValueMatrix:
		return "matrix"
	default:
		return "unknown"
	}
}

// Value is the decoded result of a get: either a native array descriptor or
// the parsed interchange tree. A nil Value or one with neither set is absent.
type Value struct {
	Node  any    // Parsed JSON tree: nil, bool, string, json.Number, []any or map[string]any
	Array *Array // Native array descriptor, when the runtime returned one
}

// Kind classifies the value.
func (v *Value) Kind() ValueKind {
	if v == nil {
		return ValueAbsent
	}
	if v.Array != nil {
		if len(v.Array.Shape) == 2 {
			return ValueMatrix
		}
		return ValueVector
	}
	switch n := v.Node.(type) {
	case nil:
		return ValueAbsent
	case []any:
		if len(n) == 0 {
			return ValueVector
		}
		for _, e := range n {
			if _, ok := e.([]any); !ok {
				return ValueVector
			}
		}
		return ValueMatrix
	default:
		return ValueScalar
	}
}

// IsAbsent reports whether the variable had no value.
func (v *Value) IsAbsent() bool {
	return v.Kind() == ValueAbsent
}

// parseInterchange parses one JSON document. JSON null yields nil.
func parseInterchange(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, fmt.Errorf("invalid interchange text %q: %w", abbreviate(text), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after interchange value %q", abbreviate(text))
	}
	return node, nil
}

func abbreviate(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// nodeSize returns the number of children of a container node, 0 otherwise.
func nodeSize(node any) int {
	switch n := node.(type) {
	case []any:
		return len(n)
	case map[string]any:
		return len(n)
	default:
		return 0
	}
}

// nodeText returns the textual form of a leaf node. Containers have no text.
func nodeText(node any) string {
	switch n := node.(type) {
	case nil:
		return "null"
	case string:
		return n
	case json.Number:
		return n.String()
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case []any:
		// A 1-element row of an N x 1 array.
		if len(n) == 1 {
			return nodeText(n[0])
		}
		return ""
	default:
		return ""
	}
}

// isBlankText reports whether a leaf text denotes a missing element.
func isBlankText(text string) bool {
	t := strings.TrimSpace(text)
	return t == "" || t == "null"
}

// parseElement parses the textual form of one element.
func parseElement[T Element](text string) (T, error) {
	var v T
	var err error
	switch p := any(&v).(type) {
	case *int8:
		var n int64
		n, err = strconv.ParseInt(text, 10, 8)
		*p = int8(n)
	case *int16:
		var n int64
		n, err = strconv.ParseInt(text, 10, 16)
		*p = int16(n)
	case *int32:
		var n int64
		n, err = strconv.ParseInt(text, 10, 32)
		*p = int32(n)
	case *int64:
		*p, err = strconv.ParseInt(text, 10, 64)
	case *float32:
		var f float64
		f, err = strconv.ParseFloat(text, 32)
		*p = float32(f)
	case *float64:
		*p, err = strconv.ParseFloat(text, 64)
	case *bool:
		*p, err = strconv.ParseBool(text)
	case *string:
		*p = text
	case *Char:
		if utf8.RuneCountInString(text) != 1 {
			err = fmt.Errorf("%q is not a single character", text)
		} else {
			r, _ := utf8.DecodeRuneInString(text)
			*p = Char(r)
		}
	}
	return v, err
}

// decodeLeaf converts a leaf node into T, mapping blank text to the sentinel.
func decodeLeaf[T Element](node any) (T, error) {
	switch n := node.(type) {
	case []any:
		if len(n) != 1 {
			return Missing[T](), fmt.Errorf("expected one element, got array of %d", len(n))
		}
	case map[string]any:
		return Missing[T](), fmt.Errorf("expected one element, got object")
	}
	text := nodeText(node)
	if isBlankText(text) {
		return Missing[T](), nil
	}
	return parseElement[T](text)
}

// decodeScalar converts an interchange tree holding one value into T.
func decodeScalar[T Element](variable string, node any) (T, error) {
	if node == nil {
		return Missing[T](), nil
	}
	v, err := decodeLeaf[T](node)
	if err != nil {
		return v, newDecodeError(variable, err)
	}
	return v, nil
}

// decodeVector converts an interchange tree into a flat slice.
// A singleton wrapping a multi-element array is unwrapped one level.
func decodeVector[T Element](variable string, node any) ([]T, error) {
	if node == nil {
		return nil, nil
	}
	elems, ok := node.([]any)
	if !ok {
		elems = []any{node}
	}
	if len(elems) == 1 && nodeSize(elems[0]) > 1 {
		if inner, ok := elems[0].([]any); ok {
			elems = inner
		}
	}
	if len(elems) == 1 {
		// A 0x1 matrix serializes as [[]] and decodes as an empty vector
		// rather than one missing element.
		if inner, ok := elems[0].([]any); ok && len(inner) == 0 {
			elems = inner
		}
	}
	values := make([]T, len(elems))
	for i, e := range elems {
		v, err := decodeLeaf[T](e)
		if err != nil {
			return nil, newDecodeError(variable, fmt.Errorf("element %d: %w", i, err))
		}
		values[i] = v
	}
	return values, nil
}

// decodeMatrix converts a column-major interchange tree into a row-major matrix.
// An empty outer array cannot carry the row count; empty is then true and the
// caller must recover the rows separately.
func decodeMatrix[T Element](variable string, node any) (matrix [][]T, empty bool, err error) {
	if node == nil {
		return nil, false, nil
	}
	columns, ok := node.([]any)
	if !ok {
		return nil, false, newDecodeError(variable, fmt.Errorf("expected array of columns, got %T", node))
	}
	if len(columns) == 0 {
		return nil, true, nil
	}
	if _, nested := columns[0].([]any); !nested {
		// A Julia Vector is a single column.
		columns = []any{columns}
	}
	// [11 12 13; 21 22 23] is encoded as [[11,21],[12,22],[13,23]]
	cols := len(columns)
	rows := nodeSize(columns[0])
	matrix = make([][]T, rows)
	for r := range matrix {
		matrix[r] = make([]T, cols)
	}
	for c, column := range columns {
		cells, ok := column.([]any)
		if !ok || len(cells) != rows {
			return nil, false, newDecodeError(variable,
				fmt.Errorf("column %d has %d rows, expected %d", c, nodeSize(column), rows))
		}
		for r, cell := range cells {
			v, err := decodeLeaf[T](cell)
			if err != nil {
				return nil, false, newDecodeError(variable, fmt.Errorf("cell (%d,%d): %w", r, c, err))
			}
			matrix[r][c] = v
		}
	}
	return matrix, false, nil
}

// emptyRows returns a matrix with the given number of rows and no columns.
func emptyRows[T Element](rows int) [][]T {
	matrix := make([][]T, rows)
	for r := range matrix {
		matrix[r] = []T{}
	}
	return matrix
}

// convertData performs a checked conversion of native array data into []T.
func convertData[T Numeric](data any) ([]T, error) {
	if out, ok := data.([]T); ok {
		return out, nil
	}
	switch d := data.(type) {
	case []int8:
		return convertSlice[int8, T](d)
	case []int16:
		return convertSlice[int16, T](d)
	case []int32:
		return convertSlice[int32, T](d)
	case []int64:
		return convertSlice[int64, T](d)
	case []float32:
		return convertSlice[float32, T](d)
	case []float64:
		return convertSlice[float64, T](d)
	default:
		return nil, fmt.Errorf("unsupported native array data %T", data)
	}
}

func convertSlice[S Numeric, T Numeric](src []S) ([]T, error) {
	out := make([]T, len(src))
	for i, s := range src {
		t := T(s)
		// Integer targets must represent the value exactly.
		if !isFloat[T]() && (float64(t) != float64(s)) {
			return nil, fmt.Errorf("element %d: %v overflows %T", i, s, t)
		}
		out[i] = t
	}
	return out, nil
}

func isFloat[T Numeric]() bool {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return true
	}
	return false
}

// nativeVector decodes a native array into a flat slice.
func nativeVector[T Numeric](variable string, a *Array) ([]T, error) {
	values, err := convertData[T](a.Data)
	if err != nil {
		return nil, newDecodeError(variable, err)
	}
	return values, nil
}

// nativeMatrix decodes a native array of rank 2 into a row-major matrix.
func nativeMatrix[T Numeric](variable string, a *Array) ([][]T, error) {
	if len(a.Shape) != 2 {
		return nil, &ExecutionError{
			Kind:     KindDimension,
			Variable: variable,
			Response: a.Shape,
			Err:      fmt.Errorf("not a matrix: shape %v", a.Shape),
		}
	}
	vector, err := convertData[T](a.Data)
	if err != nil {
		return nil, newDecodeError(variable, err)
	}
	cols, rows := a.Shape[0], a.Shape[1]
	if len(vector) != cols*rows {
		return nil, newDecodeError(variable, fmt.Errorf("shape %v needs %d elements, got %d", a.Shape, cols*rows, len(vector)))
	}
	return unflattenColumnMajor(vector, rows, cols), nil
}

// unflattenColumnMajor rebuilds a row-major matrix from a column-major buffer.
func unflattenColumnMajor[T any](vector []T, rows, cols int) [][]T {
	matrix := make([][]T, rows)
	for r := range matrix {
		matrix[r] = make([]T, cols)
	}
	i := 0
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			matrix[r][c] = vector[i]
			i++
		}
	}
	return matrix
}

// flattenColumnMajor flattens a row-major matrix into a column-major buffer.
func flattenColumnMajor[T any](matrix [][]T) (vector []T, rows, cols int, err error) {
	rows = len(matrix)
	if rows > 0 {
		cols = len(matrix[0])
	}
	for r, row := range matrix {
		if len(row) != cols {
			return nil, 0, 0, fmt.Errorf("row %d has %d columns, expected %d", r, len(row), cols)
		}
	}
	vector = make([]T, 0, rows*cols)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			vector = append(vector, matrix[r][c])
		}
	}
	return vector, rows, cols, nil
}

// vectorArray builds the native descriptor for a vector: shape [1, n].
func vectorArray[T Numeric](vector []T) *Array {
	data := make([]T, len(vector))
	copy(data, vector)
	return &Array{Type: elementTypeOf(data), Shape: []int{1, len(vector)}, Data: data}
}

// matrixArray builds the native descriptor for a row-major matrix: shape [cols, rows].
func matrixArray[T Numeric](matrix [][]T) (*Array, error) {
	vector, rows, cols, err := flattenColumnMajor(matrix)
	if err != nil {
		return nil, err
	}
	return &Array{Type: elementTypeOf(vector), Shape: []int{cols, rows}, Data: vector}, nil
}

// juliaTypeName returns the Julia type name of T.
func juliaTypeName[T Element]() string {
	var zero T
	switch any(zero).(type) {
	case int8:
		return "Int8"
	case int16:
		return "Int16"
	case int32:
		return "Int32"
	case int64:
		return "Int64"
	case float32:
		return "Float32"
	case float64:
		return "Float64"
	case bool:
		return "Bool"
	case string:
		return "String"
	case Char:
		return "Char"
	}
	return "Any"
}

// elementLiteral renders v as a Julia literal convertible to T.
func elementLiteral[T Element](v T) string {
	switch x := any(v).(type) {
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return floatLiteral(float64(x), 32)
	case float64:
		return floatLiteral(x, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return quoteString(x)
	case Char:
		return quoteChar(rune(x))
	}
	return "nothing"
}

// scalarLiteral renders v so that the Julia value has exactly type T.
func scalarLiteral[T Element](v T) string {
	switch any(v).(type) {
	case int8, int16, int32, float32:
		return juliaTypeName[T]() + "(" + elementLiteral(v) + ")"
	}
	return elementLiteral(v)
}

func floatLiteral(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, bitSize)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// quoteString renders s as a Julia string literal.
func quoteString(s string) string {
	var b bytes.Buffer
	b.WriteByte('"')
	for _, r := range s {
		writeEscaped(&b, r, '"')
	}
	b.WriteByte('"')
	return b.String()
}

// quoteChar renders r as a Julia character literal.
func quoteChar(r rune) string {
	var b bytes.Buffer
	b.WriteByte('\'')
	writeEscaped(&b, r, '\'')
	b.WriteByte('\'')
	return b.String()
}

func writeEscaped(b *bytes.Buffer, r rune, quote rune) {
	switch r {
	case '\\':
		b.WriteString(`\\`)
	case '$':
		b.WriteString(`\$`)
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	case quote:
		b.WriteByte('\\')
		b.WriteRune(r)
	default:
		if r < 0x20 || r == 0x7f {
			fmt.Fprintf(b, `\x%02x`, r)
			return
		}
		b.WriteRune(r)
	}
}

// vectorLiteral renders a typed Julia vector, e.g. String["a", "b"].
func vectorLiteral[T Element](vector []T) string {
	var b strings.Builder
	b.WriteString(juliaTypeName[T]())
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(elementLiteral(v))
	}
	b.WriteByte(']')
	return b.String()
}

// matrixLiteral renders a row-major matrix as a column-major reshape, which
// keeps the 2-D shape even for single-column and empty matrices.
func matrixLiteral[T Element](matrix [][]T) (string, error) {
	vector, rows, cols, err := flattenColumnMajor(matrix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reshape(%s, %d, %d)", vectorLiteral(vector), rows, cols), nil
}
