package array

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/routines"
	"github.com/glint-ml/glint/internal/view"
)

// invokeRoutine realizes and drains the operands, then runs a named
// routine synchronously into a fresh output buffer. Routines are opaque
// to fusion, so this is the scheduling boundary the spec's state machine
// describes: created, prepared, dispatched, observable after read.
func invokeRoutine(dev device.Backend, name string, params map[string]any,
	ins []*Array, outShape []int, outDT alu.DType) (*Array, error) {
	bufs := make([]device.Buffer, len(ins))
	for i, in := range ins {
		r, err := in.Realize()
		if err != nil {
			return nil, err
		}
		if err := drain(r.pend); err != nil {
			return nil, err
		}
		r.pend = nil
		bufs[i] = r.inputs[0]
	}
	outSize := view.NumElements(outShape) * outDT.Size()
	out, err := dev.Alloc(outSize, nil)
	if err != nil {
		return nil, err
	}
	if err := dev.Routine(name, params, bufs, []device.Buffer{out}); err != nil {
		_ = out.Release()
		return nil, errors.Wrapf(err, "routine %s", name)
	}
	res := fromBuffer(outShape, outDT, dev, out, nil)
	_ = out.Release()
	return res, nil
}

// sortCommon moves axis innermost and runs the sort routine.
func (a *Array) sortCommon(axis int, arg bool) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if a.Rank() == 0 {
		return nil, errors.New("array: cannot sort a scalar")
	}
	ax, err := normAxis(axis, a.Rank())
	if err != nil {
		return nil, err
	}
	moved, err := a.MoveAxis(ax, a.Rank()-1)
	if err != nil {
		return nil, err
	}
	n := moved.shape[moved.Rank()-1]
	rows := moved.Size() / max(n, 1)
	outDT := a.dtype
	name := routines.Sort
	if arg {
		outDT = alu.Int32
		name = routines.Argsort
	}
	params := map[string]any{"rows": rows, "n": n, "dtype": a.dtype}
	res, err := invokeRoutine(a.dev, name, params, []*Array{moved}, moved.shape, outDT)
	if err != nil {
		return nil, err
	}
	return res.MoveAxis(res.Rank()-1, ax)
}

// Sort sorts along axis, ascending and stable.
func (a *Array) Sort(axis int) (*Array, error) { return a.sortCommon(axis, false) }

// ArgSort returns the stable ascending permutation along axis as i32.
func (a *Array) ArgSort(axis int) (*Array, error) { return a.sortCommon(axis, true) }

// SolveTriangular solves a x = b for triangular a, batched over leading
// dimensions.
func SolveTriangular(a, b *Array, lower, unitDiagonal bool) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	if a.Rank() < 2 || b.Rank() < 2 {
		return nil, errors.New("array: solve_triangular requires matrices")
	}
	if !a.dtype.IsFloat() || a.dtype != b.dtype {
		return nil, errors.Errorf("array: solve_triangular dtypes %s and %s", a.dtype, b.dtype)
	}
	n := a.shape[a.Rank()-1]
	if a.shape[a.Rank()-2] != n {
		return nil, errors.Errorf("array: solve_triangular needs square a, got %v", a.shape)
	}
	if b.shape[b.Rank()-2] != n {
		return nil, errors.Errorf("array: solve_triangular shape mismatch %v vs %v", a.shape, b.shape)
	}
	m := b.shape[b.Rank()-1]
	batch := view.NumElements(a.shape[:a.Rank()-2])
	if batch != view.NumElements(b.shape[:b.Rank()-2]) {
		return nil, errors.Errorf("array: solve_triangular batch mismatch %v vs %v", a.shape, b.shape)
	}
	params := map[string]any{
		"batch": batch, "n": n, "m": m, "dtype": a.dtype,
		"lower": lower, "unitDiagonal": unitDiagonal,
	}
	return invokeRoutine(a.dev, routines.SolveTri, params, []*Array{a, b}, b.shape, b.dtype)
}

// Cholesky computes the lower-triangular factor, batched over leading
// dimensions.
func Cholesky(a *Array) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if a.Rank() < 2 {
		return nil, errors.New("array: cholesky requires a matrix")
	}
	if !a.dtype.IsFloat() {
		return nil, errors.Errorf("array: cholesky of %s", a.dtype)
	}
	n := a.shape[a.Rank()-1]
	if a.shape[a.Rank()-2] != n {
		return nil, errors.Errorf("array: cholesky needs a square matrix, got %v", a.shape)
	}
	batch := view.NumElements(a.shape[:a.Rank()-2])
	params := map[string]any{"batch": batch, "n": n, "dtype": a.dtype}
	return invokeRoutine(a.dev, routines.Cholesky, params, []*Array{a}, a.shape, a.dtype)
}

// ThreefryBits produces count random u32 words from a two-word key.
func ThreefryBits(key *Array, count int) (*Array, error) {
	if err := key.check(); err != nil {
		return nil, err
	}
	if key.dtype != alu.Uint32 || key.Size() != 2 {
		return nil, errors.Errorf("array: threefry key must be two u32 words, got %s%v", key.dtype, key.shape)
	}
	if count < 0 {
		return nil, errors.Errorf("array: negative bit count %d", count)
	}
	params := map[string]any{"count": count}
	return invokeRoutine(key.dev, routines.Threefry, params, []*Array{key}, []int{count}, alu.Uint32)
}
