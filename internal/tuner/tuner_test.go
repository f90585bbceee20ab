package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/view"
)

// runPlan executes a plan on the reference evaluator, mirroring what the
// backends do, and returns the flat output.
func runPlan(p *Plan, inputs [][]float64) []float64 {
	out := make([]float64, p.Kernel.Size)
	d := p.Dims
	env := &alu.Env{
		Specials: map[string]int64{},
		Global: func(gid int, index int64, dt alu.DType) alu.Scalar {
			return alu.FloatScalar(dt, inputs[gid][index])
		},
	}
	for tid := 0; tid < p.Threads/d.Groups; tid++ {
		env.Specials[alu.SpecialGidx] = int64(tid)
		for up := 0; up < d.Upcast; up++ {
			env.Specials[alu.SpecialUpcast] = int64(up)
			var acc alu.Scalar
			if p.Kernel.Reduce != nil {
				acc = p.Kernel.Reduce.Op.Identity(p.Kernel.Exp.DType)
				for g := 0; g < d.Groups; g++ {
					env.Specials[alu.SpecialGroup] = int64(g)
					for r := 0; r < d.Reduce; r++ {
						env.Specials[alu.SpecialRidx] = int64(r)
						for un := 0; un < d.Unroll; un++ {
							env.Specials[alu.SpecialUnroll] = int64(un)
							acc = p.Kernel.Reduce.Op.Combine(acc, p.Exp.Evaluate(env))
						}
					}
				}
				if p.Fusion != nil {
					env.Acc = &acc
					acc = p.Fusion.Evaluate(env)
					env.Acc = nil
				}
			} else {
				acc = p.Exp.Evaluate(env)
			}
			oi := p.OutIndex.Evaluate(env).Int()
			out[oi] = acc.Float()
		}
	}
	return out
}

func elementwiseKernel(t *testing.T, n int) (*kernel.Kernel, []float64) {
	t.Helper()
	st := view.FromShape([]int{n})
	x := alu.GlobalView(alu.Float32, 0, st, nil)
	// (x + x) * (x - 1)
	exp := alu.Mul(alu.Add(x, x), alu.Sub(x, alu.ConstFloat(alu.Float32, 1)))
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	return &kernel.Kernel{NumInputs: 1, Size: n, Exp: exp}, data
}

func TestNullPlanElementwise(t *testing.T) {
	k, data := elementwiseKernel(t, 8)
	p := Lower(k)
	assert.Equal(t, 8, p.Threads)
	got := runPlan(p, [][]float64{data})
	want := []float64{0, 0, 4, 12, 24, 40, 60, 84}
	assert.Equal(t, want, got)
}

// matmulKernel builds C[M,N] = sum_k A[M,K]*B[K,N] the way the frontend
// does: broadcast views over the shared [M, N, K] index shape.
func matmulKernel(t *testing.T, m, n, kk int) (*kernel.Kernel, []float64, []float64) {
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
	k := &kernel.Kernel{
		NumInputs: 2,
		Size:      m * n,
		Exp:       exp,
		Reduce:    &kernel.Reduction{Op: kernel.ReduceAdd, Size: kk},
	}
	av := make([]float64, m*kk)
	bv := make([]float64, kk*n)
	for i := range av {
		av[i] = float64(i%7) - 3
	}
	for i := range bv {
		bv[i] = float64(i%5) * 0.5
	}
	return k, av, bv
}

func TestTunedMatchesNull(t *testing.T) {
	k, av, bv := matmulKernel(t, 64, 64, 64)

	null := Lower(k)
	tuned := Tune(k, DefaultOptions())

	require.Greater(t, tuned.Dims.Upcast, 1, "expected the matmul to upcast")
	assert.Equal(t, k.Reduce.Size, tuned.Dims.Groups*tuned.Dims.Reduce*tuned.Dims.Unroll)
	assert.Equal(t, k.Size/tuned.Dims.Upcast*tuned.Dims.Groups, tuned.Threads)

	want := runPlan(null, [][]float64{av, bv})
	got := runPlan(tuned, [][]float64{av, bv})
	assert.InDeltaSlice(t, want, got, 1e-9)
}

func TestTunedSmallKernelStaysNullish(t *testing.T) {
	k, data := elementwiseKernel(t, 16)
	p := Tune(k, DefaultOptions())
	// No broadcast axis, nothing to upcast.
	assert.Equal(t, 1, p.Dims.Upcast)
	got := runPlan(p, [][]float64{data})
	want := runPlan(Lower(k), [][]float64{data})
	assert.Equal(t, want, got)
}

func TestGroupedReduction(t *testing.T) {
	// One long reduction over a single output forces grouping.
	n := 4096
	st := view.FromShape([]int{1, n})
	x := alu.GlobalView(alu.Float32, 0, st, nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      1,
		Exp:       x,
		Reduce:    &kernel.Reduction{Op: kernel.ReduceAdd, Size: n},
	}
	data := make([]float64, n)
	sum := 0.0
	for i := range data {
		data[i] = float64(i % 11)
		sum += data[i]
	}

	p := Tune(k, DefaultOptions())
	require.Greater(t, p.Dims.Groups, 1)
	assert.Equal(t, n, p.Dims.Groups*p.Dims.Reduce*p.Dims.Unroll)

	got := runPlan(p, [][]float64{data})
	assert.InDelta(t, sum, got[0], 1e-9)
}

func TestReductionWithFusion(t *testing.T) {
	// mean = sum / n expressed as a fused epilogue over acc.
	n := 8
	st := view.FromShape([]int{1, n})
	x := alu.GlobalView(alu.Float32, 0, st, nil)
	acc := alu.Special(alu.Float32, alu.SpecialAcc, 0)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      1,
		Exp:       x,
		Reduce: &kernel.Reduction{
			Op:     kernel.ReduceAdd,
			Size:   n,
			Fusion: alu.Div(acc, alu.ConstFloat(alu.Float32, float64(n))),
		},
	}
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	got := runPlan(Lower(k), [][]float64{data})
	assert.InDelta(t, 4.5, got[0], 1e-9)
}
