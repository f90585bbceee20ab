package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device/cpu"
	"github.com/glint-ml/glint/internal/trace"
)

func TestKeyDeterminism(t *testing.T) {
	dev := cpu.New()
	k1, err := Key(dev, 1234)
	require.NoError(t, err)
	k2, err := Key(dev, 1234)
	require.NoError(t, err)

	a := trace.Arr(Uniform(trace.Lift(k1), []int{16}))
	b := trace.Arr(Uniform(trace.Lift(k2), []int{16}))
	av, err := a.Float64s()
	require.NoError(t, err)
	bv, err := b.Float64s()
	require.NoError(t, err)
	assert.Equal(t, av, bv)
}

func TestUniformRange(t *testing.T) {
	dev := cpu.New()
	k, err := Key(dev, 7)
	require.NoError(t, err)
	u := trace.Arr(Uniform(trace.Lift(k), []int{1000}))
	vals, err := u.Float64s()
	require.NoError(t, err)
	mean := 0.0
	for _, v := range vals {
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
		mean += v
	}
	mean /= float64(len(vals))
	assert.InDelta(t, 0.5, mean, 0.05)
}

func TestSplitIndependence(t *testing.T) {
	dev := cpu.New()
	k, err := Key(dev, 42)
	require.NoError(t, err)
	ks, err := Split(trace.Lift(k), 3)
	require.NoError(t, err)
	arr := trace.Arr(ks)
	assert.Equal(t, []int{3, 2}, arr.Shape())

	words, err := arr.Uint32s()
	require.NoError(t, err)
	seen := map[[2]uint32]bool{}
	for i := 0; i < 3; i++ {
		seen[[2]uint32{words[2*i], words[2*i+1]}] = true
	}
	assert.Len(t, seen, 3)
}

// The vmap scenario: sampling under vmap over split keys is exactly the
// stack of per-key samples.
func TestVmapUniformExactness(t *testing.T) {
	dev := cpu.New()
	k, err := Key(dev, 1234)
	require.NoError(t, err)
	const nkeys, draw = 5, 100
	ks, err := Split(trace.Lift(k), nkeys)
	require.NoError(t, err)

	vf := trace.Vmap(func(args []trace.Value) []trace.Value {
		return []trace.Value{Uniform(args[0], []int{draw})}
	}, []int{0})
	batched, err := vf([]trace.Value{ks})
	require.NoError(t, err)
	got, err := trace.Arr(batched[0]).Float64s()
	require.NoError(t, err)

	keys := trace.Arr(ks)
	var parts []*array.Array
	for i := 0; i < nkeys; i++ {
		ki, err := keys.Slice([]int{i, 0}, []int{i + 1, 2}, nil)
		require.NoError(t, err)
		ki, err = ki.Reshape([]int{2})
		require.NoError(t, err)
		parts = append(parts, trace.Arr(Uniform(trace.Lift(ki), []int{draw})))
	}
	stacked, err := array.Stack(parts, 0)
	require.NoError(t, err)
	want, err := stacked.Float64s()
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestNormalMoments(t *testing.T) {
	dev := cpu.New()
	k, err := Key(dev, 99)
	require.NoError(t, err)
	z := trace.Arr(Normal(trace.Lift(k), []int{4000}))
	vals, err := z.Float64s()
	require.NoError(t, err)

	mean, m2 := 0.0, 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	for _, v := range vals {
		m2 += (v - mean) * (v - mean)
	}
	variance := m2 / float64(len(vals))
	assert.InDelta(t, 0, mean, 0.08)
	assert.InDelta(t, 1, variance, 0.1)
}

func TestBernoulliRate(t *testing.T) {
	dev := cpu.New()
	k, err := Key(dev, 5)
	require.NoError(t, err)
	b := trace.Arr(Bernoulli(trace.Lift(k), 0.25, []int{2000}))
	vals, err := b.Bools()
	require.NoError(t, err)
	hits := 0
	for _, v := range vals {
		if v {
			hits++
		}
	}
	assert.InDelta(t, 0.25, float64(hits)/float64(len(vals)), 0.04)
}

func TestCategoricalPicksLikely(t *testing.T) {
	dev := cpu.New()
	k, err := Key(dev, 11)
	require.NoError(t, err)
	// Class 2 has overwhelming mass.
	logits, err := array.FromFloat64s(dev, []int{100, 3}, alu.Float32, repeatRow([]float64{0, 0, 20}, 100))
	require.NoError(t, err)
	idx, err := Categorical(trace.Lift(k), logits)
	require.NoError(t, err)
	vals, err := idx.Int64s()
	require.NoError(t, err)
	twos := 0
	for _, v := range vals {
		if v == 2 {
			twos++
		}
	}
	assert.Greater(t, twos, 95)
}

func repeatRow(row []float64, n int) []float64 {
	out := make([]float64, 0, len(row)*n)
	for i := 0; i < n; i++ {
		out = append(out, row...)
	}
	return out
}
