package webgpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/tuner"
	"github.com/glint-ml/glint/internal/view"
)

func TestGenerateElementwise(t *testing.T) {
	x := alu.GlobalView(alu.Float32, 0, view.FromShape([]int{8}), nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      8,
		Exp:       alu.Mul(alu.Add(x, x), alu.Sub(x, alu.ConstFloat(alu.Float32, 1))),
	}
	sh, err := generate(tuner.Lower(k))
	require.NoError(t, err)

	assert.Equal(t, defaultWorkgroup, sh.workgroupSize)
	assert.Equal(t, 1, sh.workgroups)
	assert.Contains(t, sh.source, "@group(0) @binding(0) var<storage, read> g0: array<f32>;")
	assert.Contains(t, sh.source, "@group(0) @binding(1) var<storage, read_write> out: array<f32>;")
	assert.Contains(t, sh.source, "@compute @workgroup_size(256)")
	assert.Contains(t, sh.source, "wg.x + wg.y * 16384u")
	// The shared load is emitted once.
	assert.Equal(t, 1, strings.Count(sh.source, "g0[u32("))
}

func TestGenerateReduction(t *testing.T) {
	x := alu.GlobalView(alu.Float32, 0, view.FromShape([]int{4, 16}), nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      4,
		Exp:       x,
		Reduce:    &kernel.Reduction{Op: kernel.ReduceAdd, Size: 16},
	}
	sh, err := generate(tuner.Lower(k))
	require.NoError(t, err)
	assert.Contains(t, sh.source, "for (var ridx: i32 = 0; ridx < 16; ridx++)")
	assert.Contains(t, sh.source, "var acc0: f32 = 0.0f;")
}

func TestGenerateGrouped(t *testing.T) {
	n := 4096
	x := alu.GlobalView(alu.Float32, 0, view.FromShape([]int{1, n}), nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      1,
		Exp:       x,
		Reduce:    &kernel.Reduction{Op: kernel.ReduceAdd, Size: n},
	}
	plan := tuner.Tune(k, tuner.DefaultOptions())
	require.Greater(t, plan.Dims.Groups, 1)

	sh, err := generate(plan)
	require.NoError(t, err)
	assert.Equal(t, plan.Dims.Groups, sh.workgroupSize)
	assert.Contains(t, sh.source, "var<workgroup> partial0:")
	assert.Contains(t, sh.source, "workgroupBarrier();")
	assert.Contains(t, sh.source, "if (group == 0)")
}

func TestGenerateUnrolledUpcast(t *testing.T) {
	k, _, _ := testMatmulKernel(t, 64, 64, 64)
	plan := tuner.Tune(k, tuner.DefaultOptions())
	require.Greater(t, plan.Dims.Upcast, 1)
	require.Greater(t, plan.Dims.Unroll, 1)

	sh, err := generate(plan)
	require.NoError(t, err)
	// One store per upcast slot.
	assert.Equal(t, plan.Dims.Upcast, strings.Count(sh.source, "out[u32("))
	// The reduce loop body is unrolled.
	assert.Contains(t, sh.source, "for (var ridx: i32 = 0; ridx <")
}

func TestGenerateNaNConstant(t *testing.T) {
	nan := alu.ConstFloat(alu.Float32, 0)
	k := &kernel.Kernel{
		NumInputs: 0,
		Size:      4,
		Exp:       alu.Div(nan, nan),
	}
	// 0/0 folds to NaN during simplification and must be emitted via
	// bit reinterpretation.
	sh, err := generate(tuner.Lower(k))
	require.NoError(t, err)
	assert.Contains(t, sh.source, "bitcast<f32>(0x7fc00000u)")
}

func TestGenerateBoolStorage(t *testing.T) {
	x := alu.GlobalView(alu.Float32, 0, view.FromShape([]int{4}), nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      4,
		Exp:       alu.Lt(x, alu.ConstFloat(alu.Float32, 0)),
	}
	sh, err := generate(tuner.Lower(k))
	require.NoError(t, err)
	// bool lives in i32 storage and native bool registers.
	assert.Contains(t, sh.source, "var<storage, read_write> out: array<i32>;")
	assert.Contains(t, sh.source, "select(0i, 1i,")
}

func testMatmulKernel(t *testing.T, m, n, kk int) (*kernel.Kernel, []float64, []float64) {
	t.Helper()
	a := view.FromShape([]int{m, kk})
	a, err := a.Reshape([]int{m, 1, kk})
	require.NoError(t, err)
	a, err = a.Expand([]int{m, n, kk})
	require.NoError(t, err)

	b := view.FromShape([]int{kk, n})
	b, err = b.Permute([]int{1, 0})
	require.NoError(t, err)
	b, err = b.Reshape([]int{1, n, kk})
	require.NoError(t, err)
	b, err = b.Expand([]int{m, n, kk})
	require.NoError(t, err)

	exp := alu.Mul(
		alu.GlobalView(alu.Float32, 0, a, nil),
		alu.GlobalView(alu.Float32, 1, b, nil),
	)
	return &kernel.Kernel{
		NumInputs: 2,
		Size:      m * n,
		Exp:       exp,
		Reduce:    &kernel.Reduction{Op: kernel.ReduceAdd, Size: kk},
	}, nil, nil
}
