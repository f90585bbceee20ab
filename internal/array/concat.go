package array

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
)

// Concatenate joins arrays along axis. Each operand is padded out to the
// result extent and the padded views are summed; the pad masks make every
// position come from exactly one operand.
func Concatenate(arrs []*Array, axis int) (*Array, error) {
	if len(arrs) == 0 {
		return nil, errors.New("array: concatenate of nothing")
	}
	first := arrs[0]
	ax, err := normAxis(axis, first.Rank())
	if err != nil {
		return nil, err
	}
	total := 0
	for _, a := range arrs {
		if a.Rank() != first.Rank() {
			return nil, errors.Errorf("array: concatenate rank mismatch %v vs %v", first.shape, a.shape)
		}
		if a.dtype != first.dtype {
			return nil, errors.Errorf("array: concatenate dtype mismatch %s vs %s", first.dtype, a.dtype)
		}
		for i := range a.shape {
			if i != ax && a.shape[i] != first.shape[i] {
				return nil, errors.Errorf("array: concatenate shape mismatch %v vs %v", first.shape, a.shape)
			}
		}
		total += a.shape[ax]
	}

	// Integer-like dtypes ride through the additive trick as well since
	// masked-out positions contribute exact zeros. Bool needs a cast.
	work := arrs
	isBool := first.dtype == alu.Bool
	if isBool {
		work = make([]*Array, len(arrs))
		for i, a := range arrs {
			c, err := a.Cast(alu.Int32)
			if err != nil {
				return nil, err
			}
			work[i] = c
		}
	}

	var acc *Array
	before := 0
	for _, a := range work {
		widths := make([][2]int, a.Rank())
		widths[ax] = [2]int{before, total - before - a.shape[ax]}
		padded, err := a.Pad(widths)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = padded
		} else {
			acc, err = acc.Add(padded)
			if err != nil {
				return nil, err
			}
		}
		before += a.shape[ax]
	}
	if isBool {
		return acc.Cast(alu.Bool)
	}
	return acc, nil
}

// Stack joins arrays along a fresh axis inserted at position axis.
func Stack(arrs []*Array, axis int) (*Array, error) {
	if len(arrs) == 0 {
		return nil, errors.New("array: stack of nothing")
	}
	rank := arrs[0].Rank() + 1
	ax, err := normAxis(axis, rank)
	if err != nil {
		return nil, err
	}
	expanded := make([]*Array, len(arrs))
	for i, a := range arrs {
		shape := make([]int, 0, rank)
		shape = append(shape, a.shape[:ax]...)
		shape = append(shape, 1)
		shape = append(shape, a.shape[ax:]...)
		e, err := a.Reshape(shape)
		if err != nil {
			return nil, err
		}
		expanded[i] = e
	}
	return Concatenate(expanded, ax)
}

// Tile repeats the array reps times along each axis.
func (a *Array) Tile(reps []int) (*Array, error) {
	if len(reps) != a.Rank() {
		return nil, errors.Errorf("array: tile reps must cover all %d axes", a.Rank())
	}
	cur := a
	for ax, r := range reps {
		if r < 0 {
			return nil, errors.Errorf("array: negative tile count %d", r)
		}
		if r == 1 {
			continue
		}
		// [.., d, ..] -> [.., 1, d, ..] -> [.., r, d, ..] -> merge
		shape := append([]int(nil), cur.shape...)
		with1 := append(append(append([]int(nil), shape[:ax]...), 1), shape[ax:]...)
		e, err := cur.Reshape(with1)
		if err != nil {
			return nil, err
		}
		withR := append([]int(nil), with1...)
		withR[ax] = r
		e, err = e.BroadcastTo(withR)
		if err != nil {
			return nil, err
		}
		merged := append([]int(nil), shape...)
		merged[ax] = shape[ax] * r
		cur, err = e.Reshape(merged)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Repeat repeats each element n times along axis.
func (a *Array) Repeat(n, axis int) (*Array, error) {
	ax, err := normAxis(axis, a.Rank())
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("array: negative repeat count %d", n)
	}
	shape := append([]int(nil), a.shape...)
	with1 := append(append(append([]int(nil), shape[:ax+1]...), 1), shape[ax+1:]...)
	e, err := a.Reshape(with1)
	if err != nil {
		return nil, err
	}
	withN := append([]int(nil), with1...)
	withN[ax+1] = n
	e, err = e.BroadcastTo(withN)
	if err != nil {
		return nil, err
	}
	merged := append([]int(nil), shape...)
	merged[ax] = shape[ax] * n
	return e.Reshape(merged)
}
