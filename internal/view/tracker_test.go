package view

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glint-ml/glint/internal/alu"
)

// resolve maps a logical flat index through the tracker on the reference
// evaluator, returning (physical offset, valid).
func resolve(t *Tracker, flat int) (int, bool) {
	indices := ExpandIndex(alu.Gidx(t.Size()), t.Shape())
	off, valid := t.ToAluExp(indices)
	env := &alu.Env{Specials: map[string]int64{alu.SpecialGidx: int64(flat)}}
	ok := true
	if valid != nil {
		ok = valid.Evaluate(env).Bool()
	}
	return int(off.Evaluate(env).Int()), ok
}

func TestContiguous(t *testing.T) {
	tr := FromShape([]int{3, 4})
	assert.True(t, tr.Contiguous())
	assert.Equal(t, 12, tr.Size())
	assert.Equal(t, []int{4, 1}, tr.LastStrides())
	for i := 0; i < 12; i++ {
		off, ok := resolve(tr, i)
		assert.True(t, ok)
		assert.Equal(t, i, off)
	}
}

func TestPermute(t *testing.T) {
	tr := FromShape([]int{3, 4})
	tr, err := tr.Permute([]int{1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, tr.Shape())
	assert.False(t, tr.Contiguous())

	// Logical (i, j) of the transposed view reads physical j*4 + i.
	off, _ := resolve(tr, 1*3+2) // (1, 2)
	assert.Equal(t, 2*4+1, off)
}

func TestPermuteValidation(t *testing.T) {
	tr := FromShape([]int{3, 4})
	_, err := tr.Permute([]int{0, 0})
	assert.Error(t, err)
	_, err = tr.Permute([]int{0, 2})
	assert.Error(t, err)
	_, err = tr.Permute([]int{0})
	assert.Error(t, err)
}

func TestReshapeInPlace(t *testing.T) {
	tr := FromShape([]int{3, 4})
	tr, err := tr.Reshape([]int{2, 6})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.NumViews())
	assert.True(t, tr.Contiguous())
}

func TestReshapeInfer(t *testing.T) {
	tr := FromShape([]int{3, 4})
	tr, err := tr.Reshape([]int{-1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{6, 2}, tr.Shape())

	_, err = tr.Reshape([]int{-1, -1})
	assert.Error(t, err)
	_, err = tr.Reshape([]int{5, -1})
	assert.Error(t, err)
	_, err = tr.Reshape([]int{7})
	assert.Error(t, err)
}

// The transpose-then-reshape from the end-to-end scenario: arange(12)
// .reshape(3,4).transpose(1,0).reshape(2,6) must push a second view and
// produce the interleaved element order.
func TestReshapeAfterPermutePushesView(t *testing.T) {
	tr := FromShape([]int{3, 4})
	tr, err := tr.Permute([]int{1, 0})
	require.NoError(t, err)
	tr, err = tr.Reshape([]int{2, 6})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.NumViews())

	want := []int{0, 4, 8, 1, 5, 9, 2, 6, 10, 3, 7, 11}
	for i, w := range want {
		off, ok := resolve(tr, i)
		assert.True(t, ok)
		assert.Equal(t, w, off, "flat index %d", i)
	}
}

func TestExpand(t *testing.T) {
	tr := FromShape([]int{3, 1})
	tr, err := tr.Expand([]int{3, 5})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, tr.Shape())
	assert.Equal(t, 0, tr.LastStrides()[1])

	// Every column reads the same element.
	for j := 0; j < 5; j++ {
		off, _ := resolve(tr, 2*5+j)
		assert.Equal(t, 2, off)
	}

	_, err = tr.Expand([]int{4, 5})
	assert.Error(t, err)
}

func TestFlip(t *testing.T) {
	tr := FromShape([]int{4})
	tr, err := tr.Flip([]bool{true})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		off, _ := resolve(tr, i)
		assert.Equal(t, 3-i, off)
	}
}

func TestSlice(t *testing.T) {
	tr := FromShape([]int{6})
	tr, err := tr.Slice([]int{1}, []int{6}, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, tr.Shape())
	for i, w := range []int{1, 3, 5} {
		off, _ := resolve(tr, i)
		assert.Equal(t, w, off)
	}

	_, err = tr.Slice([]int{0}, []int{4}, []int{0})
	assert.Error(t, err)
}

func TestPad(t *testing.T) {
	tr := FromShape([]int{3})
	tr, err := tr.Pad([][2]int{{2, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{6}, tr.Shape())

	valid := []bool{false, false, true, true, true, false}
	phys := []int{0, 0, 0, 1, 2, 0}
	for i := range valid {
		off, ok := resolve(tr, i)
		assert.Equal(t, valid[i], ok, "index %d", i)
		if ok {
			assert.Equal(t, phys[i], off)
		}
	}
}

func TestPadThenSlice(t *testing.T) {
	tr := FromShape([]int{3})
	tr, err := tr.Pad([][2]int{{1, 1}})
	require.NoError(t, err)
	tr, err = tr.Slice([]int{0}, []int{4}, nil)
	require.NoError(t, err)

	// [pad, 0, 1, 2]
	_, ok := resolve(tr, 0)
	assert.False(t, ok)
	off, ok := resolve(tr, 1)
	assert.True(t, ok)
	assert.Equal(t, 0, off)
}

func TestCompose(t *testing.T) {
	base := FromShape([]int{3, 4})
	base, err := base.Permute([]int{1, 0})
	require.NoError(t, err)

	top := FromShape([]int{12})
	composed := top.Compose(base)
	assert.Equal(t, []int{12}, composed.Shape())

	// Flat logical i maps through the transposed base.
	off, _ := resolve(composed, 5) // (1, 2) in [4,3] -> 1*1 + 2*4
	assert.Equal(t, 9, off)
	off, _ = resolve(composed, 1) // (0, 1) in [4,3] -> 1*4
	assert.Equal(t, 4, off)
}

// Trackers are immutable: movement ops must leave the receiver intact.
func TestTrackerImmutability(t *testing.T) {
	tr := FromShape([]int{3, 4})
	before := tr.views[0].clone()

	_, err := tr.Permute([]int{1, 0})
	require.NoError(t, err)
	_, err = tr.Pad([][2]int{{1, 0}, {0, 1}})
	require.NoError(t, err)

	if diff := cmp.Diff(before, tr.views[0]); diff != "" {
		t.Errorf("tracker mutated by movement ops (-want +got):\n%s", diff)
	}
}

func TestReshapeSliced(t *testing.T) {
	// A non-contiguous top view forces a pushed view on reshape.
	tr := FromShape([]int{4, 4})
	tr, err := tr.Slice([]int{0, 0}, []int{4, 2}, nil)
	require.NoError(t, err)
	tr, err = tr.Reshape([]int{8})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.NumViews())

	want := []int{0, 1, 4, 5, 8, 9, 12, 13}
	for i, w := range want {
		off, _ := resolve(tr, i)
		assert.Equal(t, w, off)
	}
}
