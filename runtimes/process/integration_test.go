// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"math"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	juliaexecutor "github.com/buke/julia-executor"
)

func requireJulia(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping julia integration test in short mode")
	}
	if _, err := exec.LookPath("julia"); err != nil {
		t.Skip("julia binary not found on PATH")
	}
}

func newIntegrationClient(t *testing.T) (*juliaexecutor.Dispatcher, *juliaexecutor.Engine) {
	t.Helper()
	executor := juliaexecutor.NewExecutor(juliaexecutor.WithExecutorLogger(nil))
	require.NoError(t, executor.Start())
	t.Cleanup(func() { _ = executor.Stop() })

	rt, err := New(WithLogger(nil))
	require.NoError(t, err)
	engine, err := juliaexecutor.NewEngine(executor, rt,
		juliaexecutor.WithLogger(nil),
		juliaexecutor.WithTempDir(t.TempDir()),
	)
	require.NoError(t, err)
	return juliaexecutor.NewDispatcher(engine), engine
}

func TestIntegration_EvalAndValues(t *testing.T) {
	requireJulia(t)
	d, engine := newIntegrationClient(t)

	require.NoError(t, d.Eval("x = 40 + 2"))
	x, err := juliaexecutor.Get[int64](d, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(42), x)

	err = d.Eval("y = (")
	assert.True(t, juliaexecutor.IsNullResponse(err))

	require.NoError(t, d.Eval(`println("hello from julia")`))
	out, err := engine.Output()
	require.NoError(t, err)
	assert.Contains(t, out, "hello from julia")
}

func TestIntegration_MatrixRoundTrip(t *testing.T) {
	requireJulia(t)
	d, _ := newIntegrationClient(t)

	m := [][]float64{{1, 2, 3}, {4, 5, 6}}
	require.NoError(t, juliaexecutor.PutMatrix(d, "m", m))
	got, err := juliaexecutor.GetMatrix[float64](d, "m")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	require.NoError(t, d.Eval("r = size(m, 1)"))
	rows, err := juliaexecutor.Get[int64](d, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	require.NoError(t, juliaexecutor.PutVector(d, "v", []int32{7, 8, 9}))
	v, err := juliaexecutor.GetVector[int32](d, "v")
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 8, 9}, v)

	require.NoError(t, juliaexecutor.PutVector(d, "s", []string{"a", "b"}))
	s, err := juliaexecutor.GetVector[string](d, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s)

	require.NoError(t, d.Eval("e = Array{Float64}(undef, 3, 0)"))
	e, err := juliaexecutor.GetMatrix[float64](d, "e")
	require.NoError(t, err)
	assert.Len(t, e, 3)

	require.NoError(t, d.Eval("n = Float64[1.0, NaN]"))
	n, err := juliaexecutor.GetVector[float64](d, "n")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(n[1]))
}

func TestIntegration_Reset(t *testing.T) {
	requireJulia(t)
	d, _ := newIntegrationClient(t)

	require.NoError(t, d.Eval("leftover = 1"))
	require.NoError(t, d.Reset())
	v, err := d.Get("leftover")
	require.NoError(t, err)
	assert.True(t, v.IsAbsent())

	require.NoError(t, juliaexecutor.PutVector(d, "after", []float64{1}))
}

func TestIntegration_Pool(t *testing.T) {
	requireJulia(t)
	p, err := juliaexecutor.NewPool(NewFactory(WithLogger(nil)),
		juliaexecutor.WithPoolLogger(nil),
		juliaexecutor.WithMinPoolSize(1),
		juliaexecutor.WithMaxPoolSize(2),
		juliaexecutor.WithSessionTTL(time.Minute),
		juliaexecutor.WithEngineOptions(juliaexecutor.WithLogger(nil), juliaexecutor.WithTempDir(t.TempDir())),
	)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer func() { assert.NoError(t, p.Stop()) }()

	err = p.Run(func(c juliaexecutor.Client) error {
		if err := c.Eval("z = sum(1:10)"); err != nil {
			return err
		}
		z, err := juliaexecutor.Get[int64](c, "z")
		assert.Equal(t, int64(55), z)
		return err
	})
	require.NoError(t, err)
}
