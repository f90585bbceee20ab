package array_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/array"
	"github.com/glint-ml/glint/backend"
	"github.com/glint-ml/glint/random"
	"github.com/glint-ml/glint/transform"
)

// hostDevices initialises the backends that never need hardware.
func hostDevices(t *testing.T) []string {
	t.Helper()
	up, err := backend.Init("cpu", "vm")
	require.NoError(t, err)
	require.NoError(t, backend.SetDefault("cpu"))
	return up
}

func TestInitIdempotent(t *testing.T) {
	first := hostDevices(t)
	second := hostDevices(t)
	assert.Equal(t, first, second)
}

func TestGetUninitialisedFails(t *testing.T) {
	hostDevices(t)
	_, err := backend.Get("no-such-device")
	assert.Error(t, err)
}

func onDevice(t *testing.T, dev string, f func(opts *array.Options)) {
	t.Helper()
	for _, d := range hostDevices(t) {
		if dev != "" && d != dev {
			continue
		}
		t.Run(d, func(t *testing.T) { f(&array.Options{Device: d}) })
	}
}

// Scenario: elementwise fusion on every host backend.
func TestElementwiseEveryDevice(t *testing.T) {
	onDevice(t, "", func(opts *array.Options) {
		x, err := array.Arange(0, 8, 1, opts)
		require.NoError(t, err)
		xx, err := x.Add(x)
		require.NoError(t, err)
		xm1, err := x.SubScalar(1)
		require.NoError(t, err)
		y, err := xx.Mul(xm1)
		require.NoError(t, err)
		got, err := y.Float64s()
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0, 4, 12, 24, 40, 60, 84}, got)
	})
}

// Scenario: ones(64,64) @ ones(64,64) is 64 everywhere.
func TestMatmulEveryDevice(t *testing.T) {
	onDevice(t, "", func(opts *array.Options) {
		a, err := array.Ones([]int{64, 64}, opts)
		require.NoError(t, err)
		c, err := array.Matmul(a, a)
		require.NoError(t, err)
		got, err := c.Float64s()
		require.NoError(t, err)
		for _, v := range got {
			assert.InDelta(t, 64.0, v, 1e-4)
		}
	})
}

// Backend agreement on transcendentals within documented tolerances.
func TestTranscendentalAgreement(t *testing.T) {
	hostDevices(t)
	vals := []float64{-2, -0.5, 0.1, 1, 3}
	var results [][]float64
	for _, d := range []string{"cpu", "vm"} {
		opts := &array.Options{Device: d}
		x, err := array.FromFloats(vals, []int{len(vals)}, opts)
		require.NoError(t, err)
		e, err := x.Exp()
		require.NoError(t, err)
		got, err := e.Float64s()
		require.NoError(t, err)
		results = append(results, got)
	}
	for i := range vals {
		ref := math.Exp(vals[i])
		for _, r := range results {
			assert.InEpsilon(t, ref, r[i], 2e-6)
		}
	}
}

// The threefry golden value holds bit-exactly on every backend: the
// zero key's first block is the canonical threefry2x32(0,0,0,0) pair.
func TestThreefryGoldenEveryDevice(t *testing.T) {
	onDevice(t, "", func(opts *array.Options) {
		k, err := random.Key(0, opts.Device)
		require.NoError(t, err)
		bits := transform.Arr(transform.Threefry(transform.Lift(k), 2))
		words, err := bits.Uint32s()
		require.NoError(t, err)
		assert.Equal(t, []uint32{1797259609, 2579123966}, words)
	})
}

func TestJitEndToEnd(t *testing.T) {
	hostDevices(t)
	jf := transform.Jit(func(args []transform.Value) []transform.Value {
		x := args[0]
		return []transform.Value{transform.Mean(transform.Mul(x, x), nil, false)}
	})
	x, err := array.FromFloats([]float64{1, 2, 3, 4}, []int{4}, nil)
	require.NoError(t, err)
	out, err := jf.Call(transform.Lift(x))
	require.NoError(t, err)
	got, err := transform.Arr(out[0]).Float64s()
	require.NoError(t, err)
	assert.InDelta(t, 7.5, got[0], 1e-5)
	assert.Equal(t, 1, jf.CacheSize())
}

func TestGradEndToEnd(t *testing.T) {
	hostDevices(t)
	g := transform.Grad(func(args []transform.Value) []transform.Value {
		return []transform.Value{transform.ReduceSum(transform.Recip(args[0]), nil, false)}
	})
	x, err := array.FromFloats([]float64{1, 2, 3}, []int{3}, nil)
	require.NoError(t, err)
	cts, err := g([]transform.Value{transform.Lift(x)})
	require.NoError(t, err)
	got, err := transform.Arr(cts[0]).Float64s()
	require.NoError(t, err)
	assert.InDelta(t, -1, got[0], 1e-6)
	assert.InDelta(t, -0.25, got[1], 1e-6)
	assert.InDelta(t, -1.0/9.0, got[2], 1e-6)
}

func TestRoutineSurface(t *testing.T) {
	hostDevices(t)
	a, err := array.FromFloats([]float64{4, 2, 2, 3}, []int{2, 2}, nil)
	require.NoError(t, err)
	l, err := array.Cholesky(a)
	require.NoError(t, err)
	got, err := l.Float64s()
	require.NoError(t, err)
	assert.InDelta(t, 2, got[0], 1e-6)
	assert.InDelta(t, math.Sqrt2, got[3], 1e-6)
}
