package view

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
)

// Tracker is an ordered stack of views. views[0] is closest to the
// buffer; the last view defines the logical shape. Trackers are immutable:
// every operation returns a new tracker, sharing untouched views.
type Tracker struct {
	views []View
}

// FromShape builds a single contiguous view over shape.
func FromShape(shape []int) *Tracker {
	return &Tracker{views: []View{newView(shape)}}
}

func (t *Tracker) top() View        { return t.views[len(t.views)-1] }
func (t *Tracker) Shape() []int     { return t.top().Shape }
func (t *Tracker) Size() int        { return t.top().size() }
func (t *Tracker) Rank() int        { return len(t.top().Shape) }
func (t *Tracker) NumViews() int    { return len(t.views) }
func (t *Tracker) LastStrides() []int { return t.top().Strides }

// Contiguous reports whether the tracker is a single identity view.
func (t *Tracker) Contiguous() bool {
	return len(t.views) == 1 && t.views[0].contiguous()
}

// replaceTop returns a tracker with the top view swapped.
func (t *Tracker) replaceTop(v View) *Tracker {
	views := append(append([]View(nil), t.views[:len(t.views)-1]...), v)
	return &Tracker{views: views}
}

// push returns a tracker with a new view stacked on top.
func (t *Tracker) push(v View) *Tracker {
	views := append(append([]View(nil), t.views...), v)
	return &Tracker{views: views}
}

// Reshape changes the logical shape. One dimension may be -1 and is
// inferred. If the top view's strides admit a copy-free reshape the view
// is rewritten; otherwise a fresh contiguous view is pushed.
func (t *Tracker) Reshape(newShape []int) (*Tracker, error) {
	shape, err := ResolveShape(newShape, t.Size())
	if err != nil {
		return nil, err
	}
	top := t.top()
	if top.Mask == nil {
		if strides, ok := reshapeStrides(top.Shape, top.Strides, shape); ok {
			v := top.clone()
			v.Shape = append([]int(nil), shape...)
			v.Strides = strides
			return t.replaceTop(v), nil
		}
	}
	return t.push(newView(shape)), nil
}

// ResolveShape validates a requested shape against a total size,
// inferring at most one -1 dimension.
func ResolveShape(req []int, size int) ([]int, error) {
	shape := append([]int(nil), req...)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, errors.New("view: more than one -1 dimension")
			}
			infer = i
		case d < 0:
			return nil, errors.Errorf("view: negative dimension %d", d)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || size%known != 0 {
			return nil, errors.Errorf("view: cannot infer dimension for size %d over %v", size, req)
		}
		shape[infer] = size / known
	}
	if NumElements(shape) != size {
		return nil, errors.Errorf("view: reshape size mismatch: %v has %d elements, want %d",
			shape, NumElements(shape), size)
	}
	return shape, nil
}

// Permute reorders the logical axes of the top view.
func (t *Tracker) Permute(axes []int) (*Tracker, error) {
	if err := validatePermutation(axes, t.Rank()); err != nil {
		return nil, err
	}
	top := t.top()
	v := View{
		Shape:   make([]int, len(axes)),
		Strides: make([]int, len(axes)),
		Offset:  top.Offset,
	}
	if top.Mask != nil {
		v.Mask = make([][2]int, len(axes))
	}
	for i, ax := range axes {
		v.Shape[i] = top.Shape[ax]
		v.Strides[i] = top.Strides[ax]
		if top.Mask != nil {
			v.Mask[i] = top.Mask[ax]
		}
	}
	return t.replaceTop(v), nil
}

// Expand broadcasts size-1 dimensions to newShape with stride 0.
func (t *Tracker) Expand(newShape []int) (*Tracker, error) {
	top := t.top()
	if len(newShape) != len(top.Shape) {
		return nil, errors.Errorf("view: expand rank mismatch: %v to %v", top.Shape, newShape)
	}
	v := top.clone()
	for i, n := range newShape {
		if n == top.Shape[i] {
			continue
		}
		if top.Shape[i] != 1 {
			return nil, errors.Errorf("view: cannot expand dim %d from %d to %d", i, top.Shape[i], n)
		}
		v.Shape[i] = n
		v.Strides[i] = 0
		if v.Mask != nil {
			// The broadcast repeats element 0; validity follows it.
			if v.Mask[i][0] <= 0 && 0 < v.Mask[i][1] {
				v.Mask[i] = [2]int{0, n}
			} else {
				v.Mask[i] = [2]int{0, 0}
			}
		}
	}
	return t.replaceTop(v), nil
}

// Flip reverses the masked axes.
func (t *Tracker) Flip(axes []bool) (*Tracker, error) {
	if len(axes) != t.Rank() {
		return nil, errors.Errorf("view: flip mask length %d != rank %d", len(axes), t.Rank())
	}
	v := t.top().clone()
	for i, f := range axes {
		if !f {
			continue
		}
		v.Offset += (v.Shape[i] - 1) * v.Strides[i]
		v.Strides[i] = -v.Strides[i]
		if v.Mask != nil {
			lo, hi := v.Mask[i][0], v.Mask[i][1]
			v.Mask[i] = [2]int{v.Shape[i] - hi, v.Shape[i] - lo}
		}
	}
	return t.replaceTop(v), nil
}

// Slice restricts each axis to [start, stop) with the given step >= 1.
// Steps may be nil for all-unit steps.
func (t *Tracker) Slice(starts, stops, steps []int) (*Tracker, error) {
	rank := t.Rank()
	if len(starts) != rank || len(stops) != rank {
		return nil, errors.Errorf("view: slice bounds rank mismatch")
	}
	if steps == nil {
		steps = make([]int, rank)
		for i := range steps {
			steps[i] = 1
		}
	}
	top := t.top()
	v := top.clone()
	for i := range starts {
		start, stop, step := starts[i], stops[i], steps[i]
		if step < 1 {
			return nil, errors.Errorf("view: slice step %d on axis %d; use Flip for reversal", step, i)
		}
		if start < 0 || stop > top.Shape[i] || start > stop {
			return nil, errors.Errorf("view: slice [%d:%d) out of bounds for dim %d (size %d)",
				start, stop, i, top.Shape[i])
		}
		v.Shape[i] = (stop - start + step - 1) / step
		v.Offset += start * top.Strides[i]
		v.Strides[i] = top.Strides[i] * step
		if v.Mask != nil {
			lo, hi := v.Mask[i][0], v.Mask[i][1]
			v.Mask[i] = [2]int{ceilDiv(lo-start, step), ceilDiv(hi-start, step)}
			v.Mask[i][0] = clamp(v.Mask[i][0], 0, v.Shape[i])
			v.Mask[i][1] = clamp(v.Mask[i][1], 0, v.Shape[i])
		}
	}
	return t.replaceTop(v), nil
}

// Pad widens each axis by (before, after) zero elements, recorded as a
// mask; reads inside the padding yield the identity value.
func (t *Tracker) Pad(widths [][2]int) (*Tracker, error) {
	if len(widths) != t.Rank() {
		return nil, errors.Errorf("view: pad widths rank mismatch")
	}
	top := t.top()
	v := top.clone()
	if v.Mask == nil {
		v.Mask = make([][2]int, len(v.Shape))
		for i, d := range v.Shape {
			v.Mask[i] = [2]int{0, d}
		}
	}
	for i, w := range widths {
		before, after := w[0], w[1]
		if before < 0 || after < 0 {
			return nil, errors.Errorf("view: negative pad on axis %d", i)
		}
		v.Shape[i] += before + after
		v.Offset -= before * v.Strides[i]
		v.Mask[i] = [2]int{v.Mask[i][0] + before, v.Mask[i][1] + before}
	}
	return t.replaceTop(v), nil
}

// Compose stacks t's views on top of other, so t indexes into other's
// logical space. The result reads other's buffer.
func (t *Tracker) Compose(other *Tracker) *Tracker {
	views := append(append([]View(nil), other.views...), t.views...)
	return &Tracker{views: views}
}

// ToAluExp lowers the tracker to a physical offset expression and an
// optional validity predicate for the given logical indices. Consecutive
// views compose right-to-left: each level's flat offset is decomposed into
// the next-lower view's logical indices.
func (t *Tracker) ToAluExp(indices []*alu.Exp) (offset, valid *alu.Exp) {
	idx := indices
	for level := len(t.views) - 1; ; level-- {
		v := t.views[level]
		off, vd := v.toExp(idx)
		valid = andExp(valid, vd)
		if level == 0 {
			if valid != nil {
				valid = valid.Simplify()
			}
			return off, valid
		}
		idx = ExpandIndex(off, t.views[level-1].Shape)
	}
}
