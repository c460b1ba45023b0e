// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"fmt"
)

// Typed accessors over any Client. Numeric element types use the dual path
// (native array descriptor, JSON fallback); bool, string and Char use the
// JSON interchange only.

// Get returns the scalar variable as T. An absent variable yields the missing
// sentinel of T.
func Get[T Element](c Client, variable string) (T, error) {
	value, err := getValue[T](c, variable)
	if err != nil {
		return Missing[T](), err
	}
	if value.Array != nil {
		vector, err := nativeElements[T](variable, value.Array)
		if err != nil {
			return Missing[T](), err
		}
		if len(vector) != 1 {
			return Missing[T](), &ExecutionError{
				Kind:     KindDimension,
				Variable: variable,
				Response: value.Array.Shape,
				Err:      fmt.Errorf("not a scalar: shape %v", value.Array.Shape),
			}
		}
		return vector[0], nil
	}
	return decodeScalar[T](variable, value.Node)
}

// GetVector returns the variable as a flat slice. An absent variable yields nil.
func GetVector[T Element](c Client, variable string) ([]T, error) {
	value, err := getValue[T](c, variable)
	if err != nil {
		return nil, err
	}
	if value.Array != nil {
		return nativeElements[T](variable, value.Array)
	}
	return decodeVector[T](variable, value.Node)
}

// GetMatrix returns the variable as a row-major matrix. An absent variable
// yields nil. A matrix without columns yields its rows as empty slices.
func GetMatrix[T Element](c Client, variable string) ([][]T, error) {
	if !isNumericElement[T]() {
		return getMatrixJSON[T](c, variable)
	}
	value, err := c.Get(variable)
	if err != nil {
		return nil, err
	}
	if value.Array != nil {
		return nativeMatrixElements[T](variable, value.Array)
	}
	matrix, empty, err := decodeMatrix[T](variable, value.Node)
	if err != nil || !empty {
		return matrix, err
	}
	dims, err := c.Get("size(" + variable + ")")
	if err != nil {
		return nil, err
	}
	return emptyMatrix[T](variable, dims)
}

// getMatrixJSON is the textual-only matrix decode.
func getMatrixJSON[T Element](c Client, variable string) ([][]T, error) {
	node, err := c.GetJSON(variable)
	if err != nil {
		return nil, err
	}
	matrix, empty, err := decodeMatrix[T](variable, node)
	if err != nil || !empty {
		return matrix, err
	}
	dims, err := c.GetJSON("size(" + variable + ")")
	if err != nil {
		return nil, err
	}
	return emptyMatrix[T](variable, &Value{Node: dims})
}

// emptyMatrix builds a column-less matrix whose row count is the first
// element of the decoded size tuple.
func emptyMatrix[T Element](variable string, dims *Value) ([][]T, error) {
	var sizes []int64
	var err error
	if dims.Array != nil {
		sizes, err = nativeVector[int64](variable, dims.Array)
	} else {
		sizes, err = decodeVector[int64](variable, dims.Node)
	}
	if err != nil {
		return nil, err
	}
	if len(sizes) == 0 {
		return nil, newDecodeError(variable, fmt.Errorf("size of empty matrix is empty"))
	}
	if sizes[0] < 0 || IsMissing(sizes[0]) {
		return nil, newDecodeError(variable, fmt.Errorf("invalid row count %d", sizes[0]))
	}
	return emptyRows[T](int(sizes[0])), nil
}

// Put assigns a scalar to the global variable.
func Put[T Element](c Client, variable string, value T) error {
	return c.Eval(variable + " = " + scalarLiteral(value))
}

// PutVector assigns a vector to the global variable. Numeric vectors travel
// as native arrays of shape [1, n], which arrive as a single-column matrix.
func PutVector[T Element](c Client, variable string, vector []T) error {
	if array := numericVectorArray(vector); array != nil {
		return c.Put(variable, array)
	}
	return c.Eval(variable + " = " + vectorLiteral(vector))
}

// PutMatrix assigns a row-major matrix to the global variable. Numeric
// matrices travel as native arrays of shape [cols, rows]; empty matrices and
// other element types are sent as Julia literals.
func PutMatrix[T Element](c Client, variable string, matrix [][]T) error {
	if len(matrix) > 0 && len(matrix[0]) > 0 {
		array, err := numericMatrixArray(matrix)
		if err != nil {
			return invalidMatrixError(variable, err)
		}
		if array != nil {
			return c.Put(variable, array)
		}
	}
	literal, err := matrixLiteral(matrix)
	if err != nil {
		return invalidMatrixError(variable, err)
	}
	return c.Eval(variable + " = " + literal)
}

func invalidMatrixError(variable string, err error) error {
	return &ExecutionError{Kind: KindDimension, Variable: variable, Err: fmt.Errorf("invalid matrix: %w", err)}
}

// getValue fetches the variable through the path matching T.
func getValue[T Element](c Client, variable string) (*Value, error) {
	if isNumericElement[T]() {
		value, err := c.Get(variable)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return &Value{}, nil
		}
		return value, nil
	}
	node, err := c.GetJSON(variable)
	if err != nil {
		return nil, err
	}
	return &Value{Node: node}, nil
}

func isNumericElement[T Element]() bool {
	var zero T
	switch any(zero).(type) {
	case int8, int16, int32, int64, float32, float64:
		return true
	}
	return false
}

// nativeElements decodes a native array into []T for a numeric T.
func nativeElements[T Element](variable string, a *Array) ([]T, error) {
	var out any
	var err error
	var zero T
	switch any(zero).(type) {
	case int8:
		out, err = nativeVector[int8](variable, a)
	case int16:
		out, err = nativeVector[int16](variable, a)
	case int32:
		out, err = nativeVector[int32](variable, a)
	case int64:
		out, err = nativeVector[int64](variable, a)
	case float32:
		out, err = nativeVector[float32](variable, a)
	case float64:
		out, err = nativeVector[float64](variable, a)
	default:
		return nil, newDecodeError(variable, fmt.Errorf("native array cannot hold %T", zero))
	}
	if err != nil {
		return nil, err
	}
	return out.([]T), nil
}

// nativeMatrixElements decodes a rank-2 native array into [][]T for a numeric T.
func nativeMatrixElements[T Element](variable string, a *Array) ([][]T, error) {
	var out any
	var err error
	var zero T
	switch any(zero).(type) {
	case int8:
		out, err = nativeMatrix[int8](variable, a)
	case int16:
		out, err = nativeMatrix[int16](variable, a)
	case int32:
		out, err = nativeMatrix[int32](variable, a)
	case int64:
		out, err = nativeMatrix[int64](variable, a)
	case float32:
		out, err = nativeMatrix[float32](variable, a)
	case float64:
		out, err = nativeMatrix[float64](variable, a)
	default:
		return nil, newDecodeError(variable, fmt.Errorf("native array cannot hold %T", zero))
	}
	if err != nil {
		return nil, err
	}
	return out.([][]T), nil
}

// numericVectorArray returns the native descriptor for a numeric vector, nil otherwise.
func numericVectorArray[T Element](vector []T) *Array {
	switch v := any(vector).(type) {
	case []int8:
		return vectorArray(v)
	case []int16:
		return vectorArray(v)
	case []int32:
		return vectorArray(v)
	case []int64:
		return vectorArray(v)
	case []float32:
		return vectorArray(v)
	case []float64:
		return vectorArray(v)
	}
	return nil
}

// numericMatrixArray returns the native descriptor for a numeric matrix, nil otherwise.
func numericMatrixArray[T Element](matrix [][]T) (*Array, error) {
	switch m := any(matrix).(type) {
	case [][]int8:
		return matrixArray(m)
	case [][]int16:
		return matrixArray(m)
	case [][]int32:
		return matrixArray(m)
	case [][]int64:
		return matrixArray(m)
	case [][]float32:
		return matrixArray(m)
	case [][]float64:
		return matrixArray(m)
	}
	return nil, nil
}
