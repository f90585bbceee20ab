package array

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device/cpu"
)

func cpuDev() *cpu.Backend { return cpu.New() }

func TestArangeValues(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 0, 8, 1, alu.Float32)
	require.NoError(t, err)
	got, err := x.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7}, got)
}

// The first end-to-end scenario: y = (x + x) * (x - 1) fuses into one
// kernel with one fresh output buffer and one new dispatch.
func TestElementwiseFusion(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 0, 8, 1, alu.Float32)
	require.NoError(t, err)

	xx, err := x.Add(x)
	require.NoError(t, err)
	xm1, err := x.SubScalar(1)
	require.NoError(t, err)
	y, err := xx.Mul(xm1)
	require.NoError(t, err)

	// Still a fused recipe over x's buffer: the only pending dispatch is
	// x's own construction.
	assert.Equal(t, 1, y.PendingCount())

	live := dev.LiveBuffers()
	r, err := y.Realize()
	require.NoError(t, err)
	assert.Equal(t, live+1, dev.LiveBuffers(), "realization allocates exactly one output buffer")
	assert.Equal(t, 2, r.PendingCount(), "x's construction plus the fused kernel")

	got, err := r.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 4, 12, 24, 40, 60, 84}, got)
	assert.Equal(t, 0, r.PendingCount())
}

func TestShapeTrackerScenario(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 0, 12, 1, alu.Int32)
	require.NoError(t, err)
	x, err = x.Reshape([]int{3, 4})
	require.NoError(t, err)
	x, err = x.Transpose([]int{1, 0})
	require.NoError(t, err)
	x, err = x.Reshape([]int{2, 6})
	require.NoError(t, err)

	got, err := x.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 4, 8, 1, 5, 9, 2, 6, 10, 3, 7, 11}, got)
}

func TestReshapeRoundTrip(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 0, 12, 1, alu.Float32)
	require.NoError(t, err)
	x, err = x.Reshape([]int{3, 4})
	require.NoError(t, err)

	y, err := x.Reshape([]int{4, 3})
	require.NoError(t, err)
	y, err = y.Reshape([]int{3, 4})
	require.NoError(t, err)

	wx, err := x.Float64s()
	require.NoError(t, err)
	wy, err := y.Float64s()
	require.NoError(t, err)
	assert.Equal(t, wx, wy)
}

func TestTransposeRoundTrip(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 0, 24, 1, alu.Float32)
	require.NoError(t, err)
	x, err = x.Reshape([]int{2, 3, 4})
	require.NoError(t, err)

	perm := []int{2, 0, 1}
	inv := []int{1, 2, 0}
	y, err := x.Transpose(perm)
	require.NoError(t, err)
	y, err = y.Transpose(inv)
	require.NoError(t, err)

	wx, err := x.Float64s()
	require.NoError(t, err)
	wy, err := y.Float64s()
	require.NoError(t, err)
	assert.Equal(t, wx, wy)
}

func TestReductionsScenario(t *testing.T) {
	dev := cpuDev()
	x, err := FromInt64s(dev, []int{2, 3}, alu.Int32, []int64{3, 1, 4, 2, 5, 0})
	require.NoError(t, err)

	minAx0, err := x.Min([]int{0}, false)
	require.NoError(t, err)
	got, err := minAx0.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 0}, got)

	maxAx0, err := x.Max([]int{0}, false)
	require.NoError(t, err)
	got, err = maxAx0.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5, 4}, got)

	minAll, err := x.Min(nil, false)
	require.NoError(t, err)
	item, err := minAll.Item()
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.Int())

	am, err := x.ArgMax(1, false)
	require.NoError(t, err)
	got, err = am.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, got)
}

func TestMeanFusion(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 1, 9, 1, alu.Float32)
	require.NoError(t, err)
	m, err := x.Mean(nil, false)
	require.NoError(t, err)
	item, err := m.Item()
	require.NoError(t, err)
	assert.InDelta(t, 4.5, item.Float(), 1e-6)
}

func TestMatmulScenario(t *testing.T) {
	dev := cpuDev()
	a, err := Ones(dev, []int{64, 64}, alu.Float32)
	require.NoError(t, err)
	c, err := Matmul(a, a)
	require.NoError(t, err)
	got, err := c.Float64s()
	require.NoError(t, err)
	for _, v := range got {
		assert.InDelta(t, 64.0, v, 1e-4)
	}
}

func TestMatmulSmall(t *testing.T) {
	dev := cpuDev()
	a, err := FromFloat64s(dev, []int{2, 3}, alu.Float32, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := FromFloat64s(dev, []int{3, 2}, alu.Float32, []float64{7, 8, 9, 10, 11, 12})
	require.NoError(t, err)
	c, err := Matmul(a, b)
	require.NoError(t, err)
	got, err := c.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{58, 64, 139, 154}, got)
}

func TestPadAndSlice(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 1, 4, 1, alu.Float32)
	require.NoError(t, err)
	p, err := x.Pad([][2]int{{2, 1}})
	require.NoError(t, err)
	got, err := p.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 2, 3, 0}, got)

	s, err := p.Slice([]int{1}, []int{5}, nil)
	require.NoError(t, err)
	got, err = s.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, got)
}

// Padding a fused expression must not leak the expression into the
// padding region.
func TestPadOfFusedRecipe(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 1, 4, 1, alu.Float32)
	require.NoError(t, err)
	y, err := x.AddScalar(10)
	require.NoError(t, err)
	p, err := y.Pad([][2]int{{1, 1}})
	require.NoError(t, err)
	got, err := p.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 11, 12, 13, 0}, got)
}

func TestConcatenateAndStack(t *testing.T) {
	dev := cpuDev()
	a, err := FromFloat64s(dev, []int{2}, alu.Float32, []float64{1, 2})
	require.NoError(t, err)
	b, err := FromFloat64s(dev, []int{3}, alu.Float32, []float64{3, 4, 5})
	require.NoError(t, err)

	c, err := Concatenate([]*Array{a, b}, 0)
	require.NoError(t, err)
	got, err := c.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, got)

	s, err := Stack([]*Array{a, a}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, s.Shape())
	got, err = s.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1, 2}, got)
}

func TestTileRepeat(t *testing.T) {
	dev := cpuDev()
	a, err := FromFloat64s(dev, []int{2}, alu.Float32, []float64{1, 2})
	require.NoError(t, err)

	tl, err := a.Tile([]int{3})
	require.NoError(t, err)
	got, err := tl.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1, 2, 1, 2}, got)

	rp, err := a.Repeat(3, 0)
	require.NoError(t, err)
	got, err = rp.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 2, 2, 2}, got)
}

func TestWhereSelect(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 0, 4, 1, alu.Float32)
	require.NoError(t, err)
	two, err := Full(dev, []int{4}, alu.FloatScalar(alu.Float32, 2))
	require.NoError(t, err)
	cond, err := x.Lt(two)
	require.NoError(t, err)
	neg, err := x.Neg()
	require.NoError(t, err)
	w, err := Where(cond, x, neg)
	require.NoError(t, err)
	got, err := w.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, -2, -3}, got)
}

func TestEye(t *testing.T) {
	dev := cpuDev()
	e, err := Eye(dev, 2, 3, 1, alu.Float32)
	require.NoError(t, err)
	got, err := e.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 1}, got)
}

// The refcount law: after releasing every handle and draining pending
// work, the backend's live-buffer count returns to its prior value.
func TestRefcountLaw(t *testing.T) {
	dev := cpuDev()
	base := dev.LiveBuffers()

	x, err := Arange(dev, 0, 8, 1, alu.Float32)
	require.NoError(t, err)
	y, err := x.AddScalar(1)
	require.NoError(t, err)
	r, err := y.Realize()
	require.NoError(t, err)
	_, err = r.Float64s()
	require.NoError(t, err)

	x.Dispose()
	y.Dispose()
	r.Dispose()
	assert.Equal(t, base, dev.LiveBuffers())
}

func TestDisposedUseFails(t *testing.T) {
	dev := cpuDev()
	x, err := Arange(dev, 0, 4, 1, alu.Float32)
	require.NoError(t, err)
	x.Dispose()
	_, err = x.AddScalar(1)
	assert.Error(t, err)
	_, err = x.Bytes()
	assert.Error(t, err)
}

func TestSortAndArgsort(t *testing.T) {
	dev := cpuDev()
	x, err := FromFloat64s(dev, []int{2, 3}, alu.Float32, []float64{3, 1, 2, 0, 5, 4})
	require.NoError(t, err)

	s, err := x.Sort(-1)
	require.NoError(t, err)
	got, err := s.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 0, 4, 5}, got)

	as, err := x.ArgSort(-1)
	require.NoError(t, err)
	goti, err := as.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 0, 0, 2, 1}, goti)
}

func TestSortScalarFails(t *testing.T) {
	dev := cpuDev()
	x, err := Full(dev, nil, alu.FloatScalar(alu.Float32, 1))
	require.NoError(t, err)
	_, err = x.Sort(0)
	assert.Error(t, err)
}

func TestBroadcastChainFusesLazily(t *testing.T) {
	dev := cpuDev()
	x, err := FromFloat64s(dev, []int{3, 1}, alu.Float32, []float64{1, 2, 3})
	require.NoError(t, err)
	b, err := x.BroadcastTo([]int{3, 4})
	require.NoError(t, err)
	// Broadcast is a view rewrite: no new pending work.
	assert.Equal(t, 0, b.PendingCount())
	got, err := b.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, got)
}
