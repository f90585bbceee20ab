package routines

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
)

func TestThreefryGolden(t *testing.T) {
	r0, r1 := Threefry2x32(0, 0, 0, 0)
	assert.Equal(t, uint32(1797259609), r0)
	assert.Equal(t, uint32(2579123966), r1)
}

func TestThreefryPrefixStable(t *testing.T) {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint32(key[0:], 42)
	binary.LittleEndian.PutUint32(key[4:], 7)

	short := make([]byte, 4*4)
	long := make([]byte, 16*4)
	require.NoError(t, Run(Threefry, map[string]any{"count": 4}, [][]byte{key}, [][]byte{short}))
	require.NoError(t, Run(Threefry, map[string]any{"count": 16}, [][]byte{key}, [][]byte{long}))
	assert.Equal(t, short, long[:len(short)])
}

func f32buf(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func f32vals(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

func TestSortRows(t *testing.T) {
	in := f32buf([]float32{3, 1, 4, 1, 5, 9, 2, 6})
	out := make([]byte, len(in))
	params := map[string]any{"rows": 2, "n": 4, "dtype": alu.Float32}
	require.NoError(t, Run(Sort, params, [][]byte{in}, [][]byte{out}))
	assert.Equal(t, []float32{1, 1, 3, 4, 2, 5, 6, 9}, f32vals(out))
}

func TestArgsortStable(t *testing.T) {
	in := f32buf([]float32{2, 1, 2, 0})
	out := make([]byte, 4*4)
	params := map[string]any{"rows": 1, "n": 4, "dtype": alu.Float32}
	require.NoError(t, Run(Argsort, params, [][]byte{in}, [][]byte{out}))
	var got []int32
	for i := 0; i < 4; i++ {
		got = append(got, int32(device.LoadScalar(out, alu.Int32, int64(i)).I))
	}
	// Ties keep original order: the two 2s stay as indices 0 then 2.
	assert.Equal(t, []int32{3, 1, 0, 2}, got)
}

func TestCholesky(t *testing.T) {
	// A = [[4, 2], [2, 3]] has L = [[2, 0], [1, sqrt(2)]].
	in := f32buf([]float32{4, 2, 2, 3})
	out := make([]byte, len(in))
	params := map[string]any{"batch": 1, "n": 2, "dtype": alu.Float32}
	require.NoError(t, Run(Cholesky, params, [][]byte{in}, [][]byte{out}))
	got := f32vals(out)
	assert.InDelta(t, 2, got[0], 1e-6)
	assert.InDelta(t, 0, got[1], 1e-6)
	assert.InDelta(t, 1, got[2], 1e-6)
	assert.InDelta(t, math.Sqrt2, got[3], 1e-6)
}

func TestSolveTriangularLower(t *testing.T) {
	// L = [[2, 0], [1, 3]], b = [2, 7] -> x = [1, 2].
	a := f32buf([]float32{2, 0, 1, 3})
	b := f32buf([]float32{2, 7})
	out := make([]byte, len(b))
	params := map[string]any{
		"batch": 1, "n": 2, "m": 1, "dtype": alu.Float32, "lower": true,
	}
	require.NoError(t, Run(SolveTri, params, [][]byte{a, b}, [][]byte{out}))
	got := f32vals(out)
	assert.InDelta(t, 1, got[0], 1e-6)
	assert.InDelta(t, 2, got[1], 1e-6)
}

func TestSolveTriangularUpperUnit(t *testing.T) {
	// U = [[1, 2], [0, 1]] unit diagonal, b = [5, 3] -> x = [-1, 3].
	a := f32buf([]float32{1, 2, 0, 1})
	b := f32buf([]float32{5, 3})
	out := make([]byte, len(b))
	params := map[string]any{
		"batch": 1, "n": 2, "m": 1, "dtype": alu.Float32,
		"lower": false, "unitDiagonal": true,
	}
	require.NoError(t, Run(SolveTri, params, [][]byte{a, b}, [][]byte{out}))
	got := f32vals(out)
	assert.InDelta(t, -1, got[0], 1e-6)
	assert.InDelta(t, 3, got[1], 1e-6)
}

func TestUnknownRoutine(t *testing.T) {
	err := Run("fft", nil, nil, nil)
	assert.Error(t, err)
}
