package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device/cpu"
)

func lift(t *testing.T, dev *cpu.Backend, shape []int, vals []float64) Value {
	t.Helper()
	a, err := array.FromFloat64s(dev, shape, alu.Float32, vals)
	require.NoError(t, err)
	return Lift(a)
}

func read(t *testing.T, v Value) []float64 {
	t.Helper()
	got, err := Arr(v).Float64s()
	require.NoError(t, err)
	return got
}

// y = (x + x) * (x - 1)
func fused(args []Value) []Value {
	x := args[0]
	return []Value{Mul(Add(x, x), Sub(x, OnesLike(x)))}
}

func TestEagerBind(t *testing.T) {
	dev := cpu.New()
	x := lift(t, dev, []int{4}, []float64{0, 1, 2, 3})
	out := fused([]Value{x})
	assert.Equal(t, []float64{0, 0, 4, 12}, read(t, out[0]))
}

func TestJitMatchesEager(t *testing.T) {
	dev := cpu.New()
	jf := Jit(fused)
	x := lift(t, dev, []int{4}, []float64{0, 1, 2, 3})

	out, err := jf.Call(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 4, 12}, read(t, out[0]))
	assert.Equal(t, 1, jf.CacheSize())

	// Same signature, new data: replay, no retrace.
	y := lift(t, dev, []int{4}, []float64{1, 2, 3, 4})
	out, err = jf.Call(y)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 4, 12, 24}, read(t, out[0]))
	assert.Equal(t, 1, jf.CacheSize())

	// New shape: retrace.
	z := lift(t, dev, []int{2}, []float64{5, 6})
	_, err = jf.Call(z)
	require.NoError(t, err)
	assert.Equal(t, 2, jf.CacheSize())
}

func TestJitStaticArgs(t *testing.T) {
	dev := cpu.New()
	jf := Jit(func(args []Value) []Value {
		return []Value{Add(args[0], args[1])}
	}, 1)
	x := lift(t, dev, []int{2}, []float64{1, 2})
	c1 := lift(t, dev, []int{2}, []float64{10, 10})
	c2 := lift(t, dev, []int{2}, []float64{20, 20})

	out, err := jf.Call(x, c1)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12}, read(t, out[0]))
	assert.Equal(t, 1, jf.CacheSize())

	// A different static value forces a second trace.
	out, err = jf.Call(x, c2)
	require.NoError(t, err)
	assert.Equal(t, []float64{21, 22}, read(t, out[0]))
	assert.Equal(t, 2, jf.CacheSize())
}

func TestJVPSquare(t *testing.T) {
	dev := cpu.New()
	x := lift(t, dev, []int{3}, []float64{1, 2, 3})
	tx := lift(t, dev, []int{3}, []float64{1, 1, 1})

	outs, touts, err := JVP(func(args []Value) []Value {
		return []Value{Mul(args[0], args[0])}
	}, []Value{x}, []Value{tx})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4, 9}, read(t, outs[0]))
	assert.Equal(t, []float64{2, 4, 6}, read(t, touts[0]))
}

func TestJVPTranscendental(t *testing.T) {
	dev := cpu.New()
	x := lift(t, dev, []int{2}, []float64{0, 1})
	tx := lift(t, dev, []int{2}, []float64{1, 1})

	outs, touts, err := JVP(func(args []Value) []Value {
		return []Value{Sin(args[0])}
	}, []Value{x}, []Value{tx})
	require.NoError(t, err)
	got := read(t, outs[0])
	assert.InDelta(t, 0, got[0], 1e-6)
	tg := read(t, touts[0])
	assert.InDelta(t, 1, tg[0], 1e-6) // cos(0)
}

// The reverse-mode scenario: f(x) = sum(1/x) at [1,2,3] has gradient
// [-1, -1/4, -1/9].
func TestGradSumReciprocal(t *testing.T) {
	dev := cpu.New()
	x := lift(t, dev, []int{3}, []float64{1, 2, 3})

	g := Grad(func(args []Value) []Value {
		return []Value{ReduceSum(Recip(args[0]), nil, false)}
	})
	cts, err := g([]Value{x})
	require.NoError(t, err)
	got := read(t, cts[0])
	assert.InDelta(t, -1, got[0], 1e-6)
	assert.InDelta(t, -0.25, got[1], 1e-6)
	assert.InDelta(t, -1.0/9.0, got[2], 1e-6)
}

// Finite differences agree with grad on a composite function.
func TestGradFiniteDifference(t *testing.T) {
	dev := cpu.New()
	vals := []float64{0.5, 1.5, 2.5}
	f := func(args []Value) []Value {
		x := args[0]
		return []Value{ReduceSum(Mul(Exp(Neg(x)), Sin(x)), nil, false)}
	}

	x := lift(t, dev, []int{3}, vals)
	cts, err := Grad(f)([]Value{x})
	require.NoError(t, err)
	grad := read(t, cts[0])

	eval := func(vs []float64) float64 {
		out := f([]Value{lift(t, dev, []int{3}, vs)})
		return read(t, out[0])[0]
	}
	const h = 1e-4
	for i := range vals {
		plus := append([]float64(nil), vals...)
		minus := append([]float64(nil), vals...)
		plus[i] += h
		minus[i] -= h
		fd := (eval(plus) - eval(minus)) / (2 * h)
		assert.InDelta(t, fd, grad[i], 1e-3, "component %d", i)
	}
}

func TestGradMatmulQuadratic(t *testing.T) {
	dev := cpu.New()
	// f(x) = sum(x @ x) for 2x2 x; d/dx checked against finite diff.
	vals := []float64{1, 2, 3, 4}
	f := func(args []Value) []Value {
		return []Value{ReduceSum(Matmul(args[0], args[0]), nil, false)}
	}
	x := lift(t, dev, []int{2, 2}, vals)
	cts, err := Grad(f)([]Value{x})
	require.NoError(t, err)
	grad := read(t, cts[0])

	eval := func(vs []float64) float64 {
		out := f([]Value{lift(t, dev, []int{2, 2}, vs)})
		return read(t, out[0])[0]
	}
	const h = 1e-3
	for i := range vals {
		plus := append([]float64(nil), vals...)
		minus := append([]float64(nil), vals...)
		plus[i] += h
		minus[i] -= h
		fd := (eval(plus) - eval(minus)) / (2 * h)
		assert.InDelta(t, fd, grad[i], 1e-2, "component %d", i)
	}
}

func TestVmapElementwise(t *testing.T) {
	dev := cpu.New()
	xs := lift(t, dev, []int{3, 2}, []float64{1, 2, 3, 4, 5, 6})
	ys := lift(t, dev, []int{2}, []float64{10, 20})

	vf := Vmap(func(args []Value) []Value {
		return []Value{Add(args[0], args[1])}
	}, []int{0, -1})
	outs, err := vf([]Value{xs, ys})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, outs[0].Aval().Shape)
	assert.Equal(t, []float64{11, 22, 13, 24, 15, 26}, read(t, outs[0]))
}

func TestVmapReduce(t *testing.T) {
	dev := cpu.New()
	xs := lift(t, dev, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	vf := Vmap(func(args []Value) []Value {
		return []Value{ReduceSum(args[0], nil, false)}
	}, []int{0})
	outs, err := vf([]Value{xs})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, outs[0].Aval().Shape)
	assert.Equal(t, []float64{6, 15}, read(t, outs[0]))
}

func TestVmapOverAxis1(t *testing.T) {
	dev := cpuDevOr(t)
	xs := lift(t, dev, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	vf := Vmap(func(args []Value) []Value {
		return []Value{Scale(args[0], 2)}
	}, []int{1})
	outs, err := vf([]Value{xs})
	require.NoError(t, err)
	// Batch axis lands at 0: shape [3, 2], columns doubled.
	assert.Equal(t, []int{3, 2}, outs[0].Aval().Shape)
	assert.Equal(t, []float64{2, 8, 4, 10, 6, 12}, read(t, outs[0]))
}

func cpuDevOr(t *testing.T) *cpu.Backend {
	t.Helper()
	return cpu.New()
}

func TestNestedVmap(t *testing.T) {
	dev := cpu.New()
	xs := lift(t, dev, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	inner := Vmap(func(args []Value) []Value {
		return []Value{Scale(args[0], 10)}
	}, []int{0})
	outer := Vmap(func(args []Value) []Value {
		out, err := inner([]Value{args[0]})
		if err != nil {
			panic(err)
		}
		return out
	}, []int{0})
	outs, err := outer([]Value{xs})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, read(t, outs[0]))
}

func TestGradOfJitReplay(t *testing.T) {
	dev := cpu.New()
	jf := Jit(func(args []Value) []Value {
		return []Value{ReduceSum(Mul(args[0], args[0]), nil, false)}
	})
	// Differentiate through the cached replay: d/dx sum(x^2) = 2x.
	x := lift(t, dev, []int{3}, []float64{1, 2, 3})
	if _, err := jf.Call(x); err != nil {
		t.Fatal(err)
	}
	g := Grad(func(args []Value) []Value {
		outs, err := jf.Call(args...)
		if err != nil {
			panic(err)
		}
		return outs
	})
	cts, err := g([]Value{x})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, read(t, cts[0]))
}

func TestJaxprString(t *testing.T) {
	jx, err := Stage(fused, []Aval{{Shape: []int{4}, DType: alu.Float32}})
	require.NoError(t, err)
	s := jx.String()
	assert.Contains(t, s, "mul")
	assert.Contains(t, s, "add")
	require.NotEmpty(t, jx.Eqns)
}
