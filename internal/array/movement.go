package array

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/view"
)

// movement applies a tracker rewrite to every view leaf of the recipe.
// Reshape, permute, expand, flip and slice distribute over fused
// element-wise expressions; the result shares buffers and costs nothing.
func (a *Array) movement(shape []int, move func(*view.Tracker) (*view.Tracker, error)) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	exp, err := a.rewriteTrackers(move)
	if err != nil {
		return nil, err
	}
	return newArray(shape, a.dtype, a.dev, exp, a.inputs, a.pend), nil
}

// Reshape changes the logical shape; one dimension may be -1.
func (a *Array) Reshape(shape []int) (*Array, error) {
	resolved, err := view.ResolveShape(shape, a.Size())
	if err != nil {
		return nil, err
	}
	return a.movement(resolved, func(t *view.Tracker) (*view.Tracker, error) {
		return t.Reshape(resolved)
	})
}

// Transpose permutes the axes; nil reverses them.
func (a *Array) Transpose(axes []int) (*Array, error) {
	if axes == nil {
		axes = make([]int, a.Rank())
		for i := range axes {
			axes[i] = a.Rank() - 1 - i
		}
	}
	if len(axes) != a.Rank() {
		return nil, errors.Errorf("array: transpose axes %v for rank %d", axes, a.Rank())
	}
	shape := make([]int, len(axes))
	for i, ax := range axes {
		if ax < 0 || ax >= a.Rank() {
			return nil, errors.Errorf("array: transpose axis %d out of range", ax)
		}
		shape[i] = a.shape[ax]
	}
	return a.movement(shape, func(t *view.Tracker) (*view.Tracker, error) {
		return t.Permute(axes)
	})
}

// MoveAxis moves one axis to a new position.
func (a *Array) MoveAxis(src, dst int) (*Array, error) {
	r := a.Rank()
	src, err := normAxis(src, r)
	if err != nil {
		return nil, err
	}
	dst, err = normAxis(dst, r)
	if err != nil {
		return nil, err
	}
	axes := make([]int, 0, r)
	for i := 0; i < r; i++ {
		if i != src {
			axes = append(axes, i)
		}
	}
	axes = append(axes[:dst], append([]int{src}, axes[dst:]...)...)
	return a.Transpose(axes)
}

func normAxis(ax, rank int) (int, error) {
	if ax < 0 {
		ax += rank
	}
	if ax < 0 || ax >= rank {
		return 0, errors.Errorf("array: axis %d out of range for rank %d", ax, rank)
	}
	return ax, nil
}

// BroadcastTo expands the array to shape, aligning trailing dimensions.
func (a *Array) BroadcastTo(shape []int) (*Array, error) {
	if len(shape) < a.Rank() {
		return nil, errors.Errorf("array: cannot broadcast %v to %v", a.shape, shape)
	}
	// Grow rank with leading 1s first.
	cur := a
	if len(shape) > a.Rank() {
		padded := make([]int, len(shape))
		for i := range padded {
			padded[i] = 1
		}
		copy(padded[len(shape)-a.Rank():], a.shape)
		var err error
		cur, err = a.Reshape(padded)
		if err != nil {
			return nil, err
		}
	}
	return cur.movement(shape, func(t *view.Tracker) (*view.Tracker, error) {
		return t.Expand(shape)
	})
}

// Flip reverses the listed axes.
func (a *Array) Flip(axes []int) (*Array, error) {
	mask := make([]bool, a.Rank())
	for _, ax := range axes {
		n, err := normAxis(ax, a.Rank())
		if err != nil {
			return nil, err
		}
		mask[n] = true
	}
	shape := a.shape
	return a.movement(shape, func(t *view.Tracker) (*view.Tracker, error) {
		return t.Flip(mask)
	})
}

// Slice restricts each axis to [start, stop) with optional steps.
func (a *Array) Slice(starts, stops, steps []int) (*Array, error) {
	if len(starts) != a.Rank() || len(stops) != a.Rank() {
		return nil, errors.Errorf("array: slice bounds must cover all %d axes", a.Rank())
	}
	shape := make([]int, a.Rank())
	for i := range shape {
		step := 1
		if steps != nil {
			step = steps[i]
		}
		if step < 1 {
			return nil, errors.Errorf("array: slice step %d on axis %d", step, i)
		}
		if starts[i] < 0 || stops[i] > a.shape[i] || starts[i] > stops[i] {
			return nil, errors.Errorf("array: slice [%d:%d) out of bounds on axis %d (size %d)",
				starts[i], stops[i], i, a.shape[i])
		}
		shape[i] = (stops[i] - starts[i] + step - 1) / step
	}
	return a.movement(shape, func(t *view.Tracker) (*view.Tracker, error) {
		return t.Slice(starts, stops, steps)
	})
}

// Pad widens each axis with zeros. Padding a fused recipe would leak the
// expression into the padding region, so anything but a bare view is
// realized first.
func (a *Array) Pad(widths [][2]int) (*Array, error) {
	if len(widths) != a.Rank() {
		return nil, errors.Errorf("array: pad widths must cover all %d axes", a.Rank())
	}
	if err := a.check(); err != nil {
		return nil, err
	}
	base := a
	if _, bare := a.bareView(); !bare {
		var err error
		base, err = a.Realize()
		if err != nil {
			return nil, err
		}
	}
	shape := make([]int, base.Rank())
	for i := range shape {
		if widths[i][0] < 0 || widths[i][1] < 0 {
			return nil, errors.Errorf("array: negative pad on axis %d", i)
		}
		shape[i] = base.shape[i] + widths[i][0] + widths[i][1]
	}
	return base.movement(shape, func(t *view.Tracker) (*view.Tracker, error) {
		return t.Pad(widths)
	})
}

// Contiguous returns a realized contiguous copy when the view is not
// already one.
func (a *Array) Contiguous() (*Array, error) {
	return a.Realize()
}
