// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package juliaexecutor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClients returns a client on a runtime with native arrays and one that
// always falls back to the JSON interchange.
func testClients(t *testing.T) map[string]Client {
	t.Helper()
	textual := newFakeRuntime()
	textual.noNative = true
	return map[string]Client{
		"native":  NewDispatcher(newTestEngine(t, newFakeRuntime())),
		"textual": NewDispatcher(newTestEngine(t, textual)),
	}
}

func vectorRoundTrip[T Element](t *testing.T, c Client, vectors ...[]T) {
	t.Helper()
	for _, v := range vectors {
		require.NoError(t, PutVector(c, "v", v))
		got, err := GetVector[T](c, "v")
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func matrixRoundTrip[T Element](t *testing.T, c Client, matrices ...[][]T) {
	t.Helper()
	for _, m := range matrices {
		require.NoError(t, PutMatrix(c, "m", m))
		got, err := GetMatrix[T](c, "m")
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func scalarRoundTrip[T Element](t *testing.T, c Client, values ...T) {
	t.Helper()
	for _, v := range values {
		require.NoError(t, Put(c, "s", v))
		got, err := Get[T](c, "s")
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestAccessors_VectorRoundTrip(t *testing.T) {
	for name, c := range testClients(t) {
		t.Run(name, func(t *testing.T) {
			vectorRoundTrip(t, c, []int8{}, []int8{-7}, []int8{1, math.MaxInt8, math.MinInt8 + 1})
			vectorRoundTrip(t, c, []int16{}, []int16{300}, []int16{1, -2, math.MaxInt16})
			vectorRoundTrip(t, c, []int32{}, []int32{70000}, []int32{1, -2, math.MaxInt32})
			vectorRoundTrip(t, c, []int64{}, []int64{1 << 40}, []int64{1, -2, math.MaxInt64})
			vectorRoundTrip(t, c, []float32{}, []float32{1.5}, []float32{0.1, -2.25, 3e10})
			vectorRoundTrip(t, c, []float64{}, []float64{0.1}, []float64{1, -2.5, 1e-300})
			vectorRoundTrip(t, c, []bool{}, []bool{true}, []bool{true, false, true})
			vectorRoundTrip(t, c, []string{}, []string{"one"}, []string{"a\"b", "$x", "line\nbreak", "ü(]"})
			vectorRoundTrip(t, c, []Char{}, []Char{'x'}, []Char{'a', 'ü', '\''})
		})
	}
}

func TestAccessors_MatrixRoundTrip(t *testing.T) {
	for name, c := range testClients(t) {
		t.Run(name, func(t *testing.T) {
			matrixRoundTrip(t, c, [][]int8{{1}}, [][]int8{{1, 2, 3}, {4, 5, 6}})
			matrixRoundTrip(t, c, [][]int16{{1, 2}, {3, 4}, {5, 6}})
			matrixRoundTrip(t, c, [][]int32{{1}, {2}, {3}})
			matrixRoundTrip(t, c, [][]int64{{1, 2, 3}})
			matrixRoundTrip(t, c, [][]float32{{1.5, 2.5}, {3.5, 4.5}})
			matrixRoundTrip(t, c, [][]float64{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}})
			matrixRoundTrip(t, c, [][]bool{{true, false}, {false, true}})
			matrixRoundTrip(t, c, [][]string{{"a", "b", "c"}, {"d", "e", "f"}})
			matrixRoundTrip(t, c, [][]Char{{'a'}, {'b'}})
		})
	}
}

func TestAccessors_ScalarRoundTrip(t *testing.T) {
	for name, c := range testClients(t) {
		t.Run(name, func(t *testing.T) {
			scalarRoundTrip(t, c, int8(-8), int8(math.MaxInt8))
			scalarRoundTrip(t, c, int16(-16))
			scalarRoundTrip(t, c, int32(32))
			scalarRoundTrip(t, c, int64(math.MinInt64+1))
			scalarRoundTrip(t, c, float32(0.5))
			scalarRoundTrip(t, c, 2.0, -0.125)
			scalarRoundTrip(t, c, true, false)
			scalarRoundTrip(t, c, "hello", "")
			scalarRoundTrip(t, c, Char('z'))
		})
	}
}

func TestAccessors_EmptyMatrixRecoversRows(t *testing.T) {
	for name, c := range testClients(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, PutMatrix(c, "m", [][]string{{}, {}, {}}))
			s, err := GetMatrix[string](c, "m")
			require.NoError(t, err)
			assert.Equal(t, [][]string{{}, {}, {}}, s)

			require.NoError(t, PutMatrix(c, "m", [][]float64{{}, {}}))
			f, err := GetMatrix[float64](c, "m")
			require.NoError(t, err)
			assert.Equal(t, [][]float64{{}, {}}, f)

			require.NoError(t, PutMatrix(c, "m", [][]int32{}))
			i, err := GetMatrix[int32](c, "m")
			require.NoError(t, err)
			assert.Empty(t, i)
		})
	}
}

func TestAccessors_EmptyMatrixSizeQuery(t *testing.T) {
	rt := newFakeRuntime()
	rt.noNative = true
	d := NewDispatcher(newTestEngine(t, rt))

	require.NoError(t, PutMatrix(d, "m", [][]int64{{}, {}, {}, {}}))
	m, err := GetMatrix[int64](d, "m")
	require.NoError(t, err)
	assert.Len(t, m, 4)
	assert.Contains(t, rt.executed(), "__ans__=size(m);\n__ans__", "dual path asks size through Get")

	require.NoError(t, PutMatrix(d, "s", [][]bool{{}, {}}))
	b, err := GetMatrix[bool](d, "s")
	require.NoError(t, err)
	assert.Len(t, b, 2)
	assert.Contains(t, rt.executed(), "JSON.json(size(s))", "textual path asks size through GetJSON")
}

func TestAccessors_Absent(t *testing.T) {
	d := NewDispatcher(newTestEngine(t, newFakeRuntime()))
	require.NoError(t, d.Eval("n = nothing"))

	f, err := Get[float64](d, "n")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(f))

	i, err := Get[int32](d, "undefinedVariable")
	require.NoError(t, err)
	assert.Equal(t, MissingInt32, i)

	v, err := GetVector[int64](d, "n")
	require.NoError(t, err)
	assert.Nil(t, v)

	s, err := GetVector[string](d, "n")
	require.NoError(t, err)
	assert.Nil(t, s)

	m, err := GetMatrix[float64](d, "n")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestAccessors_UnwrapsSingleColumn(t *testing.T) {
	rt := newFakeRuntime()
	rt.noNative = true
	d := NewDispatcher(newTestEngine(t, rt))

	// Numeric vectors arrive as one column; the JSON form is [[1.0,2.0,3.0]].
	require.NoError(t, PutVector(d, "v", []float64{1, 2, 3}))
	node, err := d.GetJSON("v")
	require.NoError(t, err)
	assert.Len(t, node, 1)

	got, err := GetVector[float64](d, "v")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestAccessors_NativeConversions(t *testing.T) {
	d := NewDispatcher(newTestEngine(t, newFakeRuntime()))

	require.NoError(t, PutVector(d, "v", []int64{1, 2, 1000}))
	wide, err := GetVector[float64](d, "v")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1000}, wide)

	_, err = GetVector[int8](d, "v")
	assert.True(t, IsDecode(err))

	_, err = Get[int64](d, "v")
	assert.True(t, IsDimension(err), "a 3-element array is not a scalar")

	require.NoError(t, d.Eval("r = Float64[1.0, 2.0]"))
	_, err = GetMatrix[float64](d, "r")
	assert.True(t, IsDimension(err), "a rank-1 array is not a matrix")
	r, err := GetVector[float64](d, "r")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, r)
}

func TestAccessors_Sentinels(t *testing.T) {
	d := NewDispatcher(newTestEngine(t, newFakeRuntime()))

	require.NoError(t, d.Eval("f = Float64[1.5, NaN]"))
	f, err := GetVector[float64](d, "f")
	require.NoError(t, err)
	require.Len(t, f, 2)
	assert.True(t, math.IsNaN(f[1]))

	// JSON writes NaN as null.
	rt := newFakeRuntime()
	rt.noNative = true
	textual := NewDispatcher(newTestEngine(t, rt))
	require.NoError(t, textual.Eval("g = Float32[NaN, 2.0]"))
	g, err := GetVector[float32](textual, "g")
	require.NoError(t, err)
	assert.True(t, IsMissing(g[0]))
	assert.Equal(t, float32(2), g[1])
}

func TestAccessors_PutErrors(t *testing.T) {
	d := NewDispatcher(newTestEngine(t, newFakeRuntime()))

	err := PutMatrix(d, "m", [][]int64{{1, 2}, {3}})
	assert.True(t, IsDimension(err))
	assert.ErrorContains(t, err, "variable [m]: invalid matrix")
	err = PutMatrix(d, "m", [][]string{{"a"}, {}})
	assert.True(t, IsDimension(err))
	assert.ErrorContains(t, err, "variable [m]: invalid matrix")
}
