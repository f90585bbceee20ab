// Package view implements shape trackers: compact descriptions of how
// logical tensor indices map to physical buffer offsets through zero or
// more strided views. Movement operations (reshape, permute, expand, flip,
// slice, pad) are closed over trackers and never touch buffer contents.
package view

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
)

// View is a single strided window over a flat buffer. Mask, when present,
// restricts the valid index range per dimension; reads outside a mask
// produce the identity value.
type View struct {
	Shape   []int
	Strides []int
	Offset  int
	Mask    [][2]int // per-dim [lo, hi); nil when fully valid
}

// ContiguousStrides returns row-major strides for shape.
func ContiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	if len(shape) == 0 {
		return strides
	}
	strides[len(shape)-1] = 1
	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}
	return strides
}

// NumElements returns the element count of shape.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func newView(shape []int) View {
	return View{Shape: append([]int(nil), shape...), Strides: ContiguousStrides(shape)}
}

// contiguous reports whether the view is an identity map over its shape.
func (v View) contiguous() bool {
	if v.Offset != 0 || v.Mask != nil {
		return false
	}
	want := ContiguousStrides(v.Shape)
	for i := range want {
		if v.Shape[i] != 1 && v.Strides[i] != want[i] {
			return false
		}
	}
	return true
}

func (v View) size() int { return NumElements(v.Shape) }

func (v View) clone() View {
	c := View{
		Shape:   append([]int(nil), v.Shape...),
		Strides: append([]int(nil), v.Strides...),
		Offset:  v.Offset,
	}
	if v.Mask != nil {
		c.Mask = append([][2]int(nil), v.Mask...)
	}
	return c
}

// toExp lowers one view: offset = Offset + sum(idx_i * stride_i), with a
// conjunction of mask predicates.
func (v View) toExp(indices []*alu.Exp) (offset, valid *alu.Exp) {
	if len(indices) != len(v.Shape) {
		panic(fmt.Sprintf("view: %d indices for rank %d", len(indices), len(v.Shape)))
	}
	offset = alu.ConstInt(alu.Int32, int64(v.Offset))
	for i, idx := range indices {
		if v.Strides[i] != 0 {
			term := alu.Mul(idx, alu.ConstInt(alu.Int32, int64(v.Strides[i])))
			offset = alu.Add(offset, term)
		}
		if v.Mask != nil {
			lo, hi := v.Mask[i][0], v.Mask[i][1]
			if lo == 0 && hi == v.Shape[i] {
				continue
			}
			p := alu.Lt(idx, alu.ConstInt(alu.Int32, int64(hi)))
			if lo > 0 {
				p = andExp(alu.Ge(idx, alu.ConstInt(alu.Int32, int64(lo))), p)
			}
			valid = andExp(valid, p)
		}
	}
	return offset.Simplify(), valid
}

// andExp conjoins two optional bool expressions. A bool AND is expressed
// as where(a, b, false) since the ALU has no dedicated logical ops.
func andExp(a, b *alu.Exp) *alu.Exp {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return alu.Where(a, b, alu.ConstBool(false))
	}
}

// ExpandIndex decomposes a flat index expression into per-dimension
// logical indices for shape.
func ExpandIndex(flat *alu.Exp, shape []int) []*alu.Exp {
	strides := ContiguousStrides(shape)
	out := make([]*alu.Exp, len(shape))
	for i := range shape {
		e := flat
		if strides[i] != 1 {
			e = alu.IDiv(e, alu.ConstInt(alu.Int32, int64(strides[i])))
		}
		if i > 0 {
			e = alu.Mod(e, alu.ConstInt(alu.Int32, int64(shape[i])))
		}
		out[i] = e.Simplify()
	}
	return out
}

// reshapeStrides attempts a copy-free reshape of (shape, strides) to
// newShape, returning the new strides. Fails when the requested grouping
// crosses non-contiguous dimension boundaries.
func reshapeStrides(shape, strides, newShape []int) ([]int, bool) {
	// Drop size-1 dims, they carry no stride information.
	var oshape, ostrides []int
	for i, d := range shape {
		if d != 1 {
			oshape = append(oshape, d)
			ostrides = append(ostrides, strides[i])
		}
	}
	out := make([]int, len(newShape))
	oi, oj := 0, 0 // current old run [oi, oj)
	ni, nj := 0, 0 // current new run [ni, nj)
	for oi < len(oshape) && ni < len(newShape) {
		op, np := oshape[oi], dimOrOne(newShape, ni)
		oj, nj = oi+1, ni+1
		for op != np {
			if op < np {
				op *= oshape[oj]
				oj++
			} else {
				np *= dimOrOne(newShape, nj)
				nj++
			}
		}
		// The old run must be internally contiguous.
		for k := oi; k < oj-1; k++ {
			if ostrides[k] != ostrides[k+1]*oshape[k+1] {
				return nil, false
			}
		}
		// Fill the new run right-to-left from the innermost old stride.
		s := ostrides[oj-1]
		for k := nj - 1; k >= ni; k-- {
			out[k] = s
			s *= dimOrOne(newShape, k)
		}
		oi, ni = oj, nj
	}
	// Trailing size-1 dims.
	for ; ni < len(newShape); ni++ {
		out[ni] = 1
	}
	return out, true
}

// ceilDiv rounds the quotient toward positive infinity; b must be > 0.
func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dimOrOne(s []int, i int) int {
	if i < len(s) {
		return s[i]
	}
	return 1
}

// validatePermutation checks axes is a permutation of [0, rank).
func validatePermutation(axes []int, rank int) error {
	if len(axes) != rank {
		return errors.Errorf("view: permutation length %d != rank %d", len(axes), rank)
	}
	seen := make([]bool, rank)
	for _, ax := range axes {
		if ax < 0 || ax >= rank {
			return errors.Errorf("view: axis %d out of range for rank %d", ax, rank)
		}
		if seen[ax] {
			return errors.Errorf("view: duplicate axis %d", ax)
		}
		seen[ax] = true
	}
	return nil
}
