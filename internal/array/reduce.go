package array

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/view"
)

// normAxes resolves, deduplicates and validates reduction axes; nil means
// every axis.
func normAxes(axes []int, rank int) ([]int, error) {
	if axes == nil {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	seen := make(map[int]bool, len(axes))
	out := make([]int, 0, len(axes))
	for _, ax := range axes {
		n, err := normAxis(ax, rank)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			return nil, errors.Errorf("array: duplicate reduction axis %d", n)
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// reduce schedules a reduction kernel over the chosen axes. The reduce
// axes are permuted innermost and flattened so the kernel sees the
// canonical [out..., R] index shape; fusion, when set, builds the
// epilogue applied to the accumulator.
func (a *Array) reduce(op kernel.ReduceOp, axes []int, keepdims bool, fusion func(acc *alu.Exp) *alu.Exp) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	axes, err := normAxes(axes, a.Rank())
	if err != nil {
		return nil, err
	}
	isReduce := make([]bool, a.Rank())
	for _, ax := range axes {
		isReduce[ax] = true
	}
	var kept, perm []int
	for i := 0; i < a.Rank(); i++ {
		if !isReduce[i] {
			kept = append(kept, a.shape[i])
			perm = append(perm, i)
		}
	}
	perm = append(perm, axes...)
	reduceSize := 1
	for _, ax := range axes {
		reduceSize *= a.shape[ax]
	}

	moved, err := a.Transpose(perm)
	if err != nil {
		return nil, err
	}
	flat, err := moved.Reshape(append(append([]int(nil), kept...), reduceSize))
	if err != nil {
		return nil, err
	}

	red := &kernel.Reduction{Op: op, Size: reduceSize}
	if fusion != nil {
		red.Fusion = fusion(alu.Special(a.dtype, alu.SpecialAcc, 0))
	}
	outSize := view.NumElements(kept)
	k := &kernel.Kernel{
		NumInputs: len(flat.inputs),
		Size:      outSize,
		Exp:       flat.exp,
		Reduce:    red,
	}
	out, err := a.dev.Alloc(outSize*a.dtype.Size(), nil)
	if err != nil {
		return nil, err
	}
	p := newPending(a.dev, k, flat.inputs, []device.Buffer{out})
	res := fromBuffer(kept, a.dtype, a.dev, out, appendPending(flat.pend, p))
	_ = out.Release()
	moved.Dispose()
	flat.Dispose()

	if keepdims {
		withOnes := make([]int, a.Rank())
		for i := range withOnes {
			withOnes[i] = a.shape[i]
		}
		for _, ax := range axes {
			withOnes[ax] = 1
		}
		reshaped, rerr := res.Reshape(withOnes)
		if rerr != nil {
			return nil, rerr
		}
		res.Dispose()
		return reshaped, nil
	}
	return res, nil
}

// Sum reduces by addition.
func (a *Array) Sum(axes []int, keepdims bool) (*Array, error) {
	return a.reduce(kernel.ReduceAdd, axes, keepdims, nil)
}

// Prod reduces by multiplication.
func (a *Array) Prod(axes []int, keepdims bool) (*Array, error) {
	return a.reduce(kernel.ReduceMul, axes, keepdims, nil)
}

// Min reduces by minimum; empty axes yield the dtype's positive extreme.
func (a *Array) Min(axes []int, keepdims bool) (*Array, error) {
	return a.reduce(kernel.ReduceMin, axes, keepdims, nil)
}

// Max reduces by maximum.
func (a *Array) Max(axes []int, keepdims bool) (*Array, error) {
	return a.reduce(kernel.ReduceMax, axes, keepdims, nil)
}

// Mean reduces by addition with a fused divide epilogue.
func (a *Array) Mean(axes []int, keepdims bool) (*Array, error) {
	if !a.dtype.IsFloat() {
		return nil, errors.Errorf("array: mean of %s", a.dtype)
	}
	resolved, err := normAxes(axes, a.Rank())
	if err != nil {
		return nil, err
	}
	n := 1
	for _, ax := range resolved {
		n *= a.shape[ax]
	}
	return a.reduce(kernel.ReduceAdd, resolved, keepdims, func(acc *alu.Exp) *alu.Exp {
		return alu.Div(acc, alu.ConstFloat(a.dtype, float64(n)))
	})
}

// argReduce implements argmax/argmin by masking a descending index ramp:
// the winner is the first matching position along the axis.
func (a *Array) argReduce(axis int, keepdims, wantMax bool) (*Array, error) {
	ax, err := normAxis(axis, a.Rank())
	if err != nil {
		return nil, err
	}
	n := a.shape[ax]
	var m *Array
	if wantMax {
		m, err = a.Max([]int{ax}, true)
	} else {
		m, err = a.Min([]int{ax}, true)
	}
	if err != nil {
		return nil, err
	}
	mb, err := m.BroadcastTo(a.shape)
	if err != nil {
		return nil, err
	}
	hit, err := a.Eq(mb)
	if err != nil {
		return nil, err
	}
	hitI, err := hit.Cast(alu.Int32)
	if err != nil {
		return nil, err
	}

	// Descending ramp n-1..0 broadcast along the reduce axis.
	ramp, err := Arange(a.dev, float64(n-1), -1, -1, alu.Int32)
	if err != nil {
		return nil, err
	}
	rampShape := make([]int, a.Rank())
	for i := range rampShape {
		rampShape[i] = 1
	}
	rampShape[ax] = n
	ramp, err = ramp.Reshape(rampShape)
	if err != nil {
		return nil, err
	}
	ramp, err = ramp.BroadcastTo(a.shape)
	if err != nil {
		return nil, err
	}

	masked, err := hitI.Mul(ramp)
	if err != nil {
		return nil, err
	}
	best, err := masked.Max([]int{ax}, keepdims)
	if err != nil {
		return nil, err
	}
	for _, tmp := range []*Array{m, mb, hit, hitI, ramp, masked} {
		tmp.Dispose()
	}
	negated, err := best.MulScalar(-1)
	if err != nil {
		return nil, err
	}
	best.Dispose()
	out, err := negated.AddScalar(float64(n - 1))
	negated.Dispose()
	return out, err
}

// ArgMax returns the first index of the maximum along axis as i32.
func (a *Array) ArgMax(axis int, keepdims bool) (*Array, error) {
	return a.argReduce(axis, keepdims, true)
}

// ArgMin returns the first index of the minimum along axis as i32.
func (a *Array) ArgMin(axis int, keepdims bool) (*Array, error) {
	return a.argReduce(axis, keepdims, false)
}
