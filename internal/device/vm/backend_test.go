package vm

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/view"
)

func f32bytes(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func readF32(t *testing.T, b *Backend, buf device.Buffer) []float32 {
	t.Helper()
	raw, err := b.Read(buf, 0, -1)
	require.NoError(t, err)
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

func TestElementwiseKernel(t *testing.T) {
	b := New()
	x := alu.GlobalView(alu.Float32, 0, view.FromShape([]int{8}), nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      8,
		Exp:       alu.Mul(alu.Add(x, x), alu.Sub(x, alu.ConstFloat(alu.Float32, 1))),
	}

	in, err := b.Alloc(32, f32bytes([]float32{0, 1, 2, 3, 4, 5, 6, 7}))
	require.NoError(t, err)
	out, err := b.Alloc(32, nil)
	require.NoError(t, err)

	e, err := b.Prepare(k)
	require.NoError(t, err)
	require.NoError(t, b.Dispatch(e, []device.Buffer{in}, []device.Buffer{out}))

	assert.Equal(t, []float32{0, 0, 4, 12, 24, 40, 60, 84}, readF32(t, b, out))
}

func TestReductionKernel(t *testing.T) {
	b := New()
	x := alu.GlobalView(alu.Float32, 0, view.FromShape([]int{2, 4}), nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      2,
		Exp:       x,
		Reduce:    &kernel.Reduction{Op: kernel.ReduceAdd, Size: 4},
	}

	in, err := b.Alloc(32, f32bytes([]float32{1, 2, 3, 4, 10, 20, 30, 40}))
	require.NoError(t, err)
	out, err := b.Alloc(8, nil)
	require.NoError(t, err)

	e, err := b.Prepare(k)
	require.NoError(t, err)
	require.NoError(t, b.Dispatch(e, []device.Buffer{in}, []device.Buffer{out}))
	assert.Equal(t, []float32{10, 100}, readF32(t, b, out))
}

func TestTranscendentalKernel(t *testing.T) {
	b := New()
	x := alu.GlobalView(alu.Float32, 0, view.FromShape([]int{4}), nil)
	k := &kernel.Kernel{NumInputs: 1, Size: 4, Exp: alu.ExpE(x)}

	in, err := b.Alloc(16, f32bytes([]float32{0, 1, -1, 2}))
	require.NoError(t, err)
	out, err := b.Alloc(16, nil)
	require.NoError(t, err)

	e, err := b.Prepare(k)
	require.NoError(t, err)
	require.NoError(t, b.Dispatch(e, []device.Buffer{in}, []device.Buffer{out}))

	got := readF32(t, b, out)
	for i, xv := range []float64{0, 1, -1, 2} {
		assert.InEpsilon(t, math.Exp(xv), float64(got[i]), 2e-7)
	}
}

func TestFloat64Unsupported(t *testing.T) {
	b := New()
	k := &kernel.Kernel{NumInputs: 0, Size: 1, Exp: alu.ConstFloat(alu.Float64, 1)}
	_, err := b.Prepare(k)
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestRefcounting(t *testing.T) {
	b := New()
	require.Equal(t, 0, b.LiveBuffers())

	buf, err := b.Alloc(16, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.LiveBuffers())

	buf.Retain()
	require.NoError(t, buf.Release())
	assert.Equal(t, 1, b.LiveBuffers())
	require.NoError(t, buf.Release())
	assert.Equal(t, 0, b.LiveBuffers())

	assert.ErrorIs(t, buf.Release(), device.ErrFreedBuffer)
	_, err = b.Read(buf, 0, -1)
	assert.ErrorIs(t, err, device.ErrFreedBuffer)
}

func TestThreefryRoutine(t *testing.T) {
	b := New()
	key, err := b.Alloc(8, make([]byte, 8))
	require.NoError(t, err)
	out, err := b.Alloc(8, nil)
	require.NoError(t, err)

	err = b.Routine("threefry2x32", map[string]any{"count": 2},
		[]device.Buffer{key}, []device.Buffer{out})
	require.NoError(t, err)

	raw, err := b.Read(out, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1797259609), binary.LittleEndian.Uint32(raw[0:4]))
	assert.Equal(t, uint32(2579123966), binary.LittleEndian.Uint32(raw[4:8]))
}

func TestIntKernel(t *testing.T) {
	b := New()
	x := alu.GlobalView(alu.Int32, 0, view.FromShape([]int{2, 3}), nil)
	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      2,
		Exp:       x,
		Reduce:    &kernel.Reduction{Op: kernel.ReduceMin, Size: 3},
	}

	ints := []int32{3, 1, 4, 2, 5, 0}
	raw := make([]byte, 24)
	for i, v := range ints {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(v))
	}
	in, err := b.Alloc(24, raw)
	require.NoError(t, err)
	out, err := b.Alloc(8, nil)
	require.NoError(t, err)

	e, err := b.Prepare(k)
	require.NoError(t, err)
	require.NoError(t, b.Dispatch(e, []device.Buffer{in}, []device.Buffer{out}))

	got, err := b.Read(out, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), int32(binary.LittleEndian.Uint32(got[0:4])))
	assert.Equal(t, int32(0), int32(binary.LittleEndian.Uint32(got[4:8])))
}
