package loader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device/cpu"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dev := cpu.New()
	path := filepath.Join(t.TempDir(), "model.safetensors")

	w, err := array.FromFloat64s(dev, []int{2, 3}, alu.Float32, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := array.FromInt64s(dev, []int{4}, alu.Int32, []int64{-1, 0, 1, 2})
	require.NoError(t, err)

	err = Save(path, map[string]*array.Array{"weight": w, "bias": b},
		map[string]string{"format": "test"})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.ElementsMatch(t, []string{"weight", "bias"}, r.Names())
	assert.Equal(t, "test", r.Metadata()["format"])

	info, err := r.Info("weight")
	require.NoError(t, err)
	assert.Equal(t, F32, info.DType)
	assert.Equal(t, []int{2, 3}, info.Shape)

	lw, err := r.Load("weight", dev)
	require.NoError(t, err)
	got, err := lw.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got)

	lb, err := r.Load("bias", dev)
	require.NoError(t, err)
	goti, err := lb.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 0, 1, 2}, goti)
}

func TestLoadAll(t *testing.T) {
	dev := cpu.New()
	path := filepath.Join(t.TempDir(), "all.safetensors")
	a, err := array.FromFloat64s(dev, []int{2}, alu.Float32, []float64{1, 2})
	require.NoError(t, err)
	require.NoError(t, Save(path, map[string]*array.Array{"a": a}, nil))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	all, err := r.LoadAll(dev)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMissingTensor(t *testing.T) {
	dev := cpu.New()
	path := filepath.Join(t.TempDir(), "one.safetensors")
	a, err := array.FromFloat64s(dev, []int{1}, alu.Float32, []float64{1})
	require.NoError(t, err)
	require.NoError(t, Save(path, map[string]*array.Array{"a": a}, nil))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Load("nope", dev)
	assert.Error(t, err)
}
