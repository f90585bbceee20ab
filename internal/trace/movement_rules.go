package trace

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/view"
)

func initMovement() {
	reshapeP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].Reshape(p["shape"].([]int))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	reshapeP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		shape, err := view.ResolveShape(p["shape"].([]int), in[0].Size())
		if err != nil {
			return nil, err
		}
		return []Aval{{Shape: shape, DType: in[0].DType}}, nil
	}
	reshapeP.JVP = jvpLinear1(reshapeP)
	reshapeP.Transpose = func(ct Value, _ []Value, inAvals []Aval, _ []bool, _ Params) ([]Value, error) {
		return []Value{Reshape(ct, inAvals[0].Shape)}, nil
	}

	transposeP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].Transpose(axesOf(p))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	transposeP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		axes := axesOf(p)
		if axes == nil {
			axes = reversedAxes(len(in[0].Shape))
		}
		if len(axes) != len(in[0].Shape) {
			return nil, errors.Errorf("transpose axes %v for rank %d", axes, len(in[0].Shape))
		}
		shape := make([]int, len(axes))
		for i, ax := range axes {
			shape[i] = in[0].Shape[ax]
		}
		return []Aval{{Shape: shape, DType: in[0].DType}}, nil
	}
	transposeP.JVP = jvpLinear1(transposeP)
	transposeP.Transpose = func(ct Value, _ []Value, inAvals []Aval, _ []bool, p Params) ([]Value, error) {
		axes := axesOf(p)
		if axes == nil {
			axes = reversedAxes(len(inAvals[0].Shape))
		}
		inv := make([]int, len(axes))
		for i, ax := range axes {
			inv[ax] = i
		}
		return []Value{Transpose(ct, inv)}, nil
	}

	broadcastP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].BroadcastTo(p["shape"].([]int))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	broadcastP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		shape := p["shape"].([]int)
		if len(shape) < len(in[0].Shape) {
			return nil, errors.Errorf("cannot broadcast %v to %v", in[0].Shape, shape)
		}
		off := len(shape) - len(in[0].Shape)
		for i, d := range in[0].Shape {
			if d != 1 && d != shape[off+i] {
				return nil, errors.Errorf("cannot broadcast %v to %v", in[0].Shape, shape)
			}
		}
		return []Aval{{Shape: shape, DType: in[0].DType}}, nil
	}
	broadcastP.JVP = jvpLinear1(broadcastP)
	broadcastP.Transpose = func(ct Value, _ []Value, inAvals []Aval, _ []bool, p Params) ([]Value, error) {
		shape := p["shape"].([]int)
		inShape := inAvals[0].Shape
		off := len(shape) - len(inShape)
		var axes []int
		for i := 0; i < off; i++ {
			axes = append(axes, i)
		}
		for i, d := range inShape {
			if d == 1 && shape[off+i] != 1 {
				axes = append(axes, off+i)
			}
		}
		if axes != nil {
			ct = ReduceSum(ct, axes, true)
		}
		return []Value{Reshape(ct, inShape)}, nil
	}

	sliceP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].Slice(p["starts"].([]int), p["stops"].([]int), stepsOf(p))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	sliceP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		starts, stops, steps := p["starts"].([]int), p["stops"].([]int), stepsOf(p)
		if len(starts) != len(in[0].Shape) || len(stops) != len(in[0].Shape) {
			return nil, errors.New("slice bounds must cover every axis")
		}
		shape := make([]int, len(starts))
		for i := range starts {
			step := 1
			if steps != nil {
				step = steps[i]
			}
			if step < 1 {
				return nil, errors.Errorf("slice step %d on axis %d", step, i)
			}
			if starts[i] < 0 || stops[i] > in[0].Shape[i] || starts[i] > stops[i] {
				return nil, errors.Errorf("slice [%d:%d) out of bounds on axis %d", starts[i], stops[i], i)
			}
			shape[i] = (stops[i] - starts[i] + step - 1) / step
		}
		return []Aval{{Shape: shape, DType: in[0].DType}}, nil
	}
	sliceP.JVP = jvpLinear1(sliceP)
	sliceP.Transpose = func(ct Value, _ []Value, inAvals []Aval, _ []bool, p Params) ([]Value, error) {
		starts, stops, steps := p["starts"].([]int), p["stops"].([]int), stepsOf(p)
		for _, s := range steps {
			if s != 1 {
				return nil, errors.New("slice transpose with non-unit steps")
			}
		}
		widths := make([][2]int, len(starts))
		for i := range widths {
			widths[i] = [2]int{starts[i], inAvals[0].Shape[i] - stops[i]}
		}
		return []Value{PadOp(ct, widths)}, nil
	}

	padP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].Pad(p["widths"].([][2]int))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	padP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		widths := p["widths"].([][2]int)
		if len(widths) != len(in[0].Shape) {
			return nil, errors.New("pad widths must cover every axis")
		}
		shape := make([]int, len(widths))
		for i, w := range widths {
			if w[0] < 0 || w[1] < 0 {
				return nil, errors.Errorf("negative pad on axis %d", i)
			}
			shape[i] = in[0].Shape[i] + w[0] + w[1]
		}
		return []Aval{{Shape: shape, DType: in[0].DType}}, nil
	}
	padP.JVP = jvpLinear1(padP)
	padP.Transpose = func(ct Value, _ []Value, inAvals []Aval, _ []bool, p Params) ([]Value, error) {
		widths := p["widths"].([][2]int)
		starts := make([]int, len(widths))
		stops := make([]int, len(widths))
		for i, w := range widths {
			starts[i] = w[0]
			stops[i] = w[0] + inAvals[0].Shape[i]
		}
		return []Value{SliceOp(ct, starts, stops, nil)}, nil
	}

	flipP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].Flip(axesOf(p))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	flipP.Abstract = ewAbstract1
	flipP.JVP = jvpLinear1(flipP)
	flipP.Transpose = func(ct Value, _ []Value, _ []Aval, _ []bool, p Params) ([]Value, error) {
		return []Value{FlipOp(ct, axesOf(p))}, nil
	}

	concatP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := array.Concatenate(args, p["axis"].(int))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	concatP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		if len(in) == 0 {
			return nil, errors.New("concatenate of nothing")
		}
		ax := p["axis"].(int)
		if ax < 0 {
			ax += len(in[0].Shape)
		}
		total := 0
		for _, a := range in {
			if len(a.Shape) != len(in[0].Shape) || a.DType != in[0].DType {
				return nil, errors.Errorf("concatenate mismatch: %s vs %s", in[0], a)
			}
			total += a.Shape[ax]
		}
		shape := append([]int(nil), in[0].Shape...)
		shape[ax] = total
		return []Aval{{Shape: shape, DType: in[0].DType}}, nil
	}
	concatP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(concatP, p, pr...)
		if err != nil {
			return nil, nil, err
		}
		live := false
		for _, t := range tn {
			if t != nil {
				live = true
			}
		}
		if !live {
			return out, []Value{nil}, nil
		}
		parts := make([]Value, len(tn))
		for i, t := range tn {
			if t == nil {
				t = zeroLike(pr[i])
			}
			parts[i] = t
		}
		return out, []Value{Concat(parts, p["axis"].(int))}, nil
	}
	concatP.Transpose = func(ct Value, _ []Value, inAvals []Aval, linear []bool, p Params) ([]Value, error) {
		ax := p["axis"].(int)
		if ax < 0 {
			ax += len(inAvals[0].Shape)
		}
		out := make([]Value, len(inAvals))
		offset := 0
		rank := len(inAvals[0].Shape)
		ctShape := ct.Aval().Shape
		for i, av := range inAvals {
			if linear[i] {
				starts := make([]int, rank)
				stops := append([]int(nil), ctShape...)
				starts[ax] = offset
				stops[ax] = offset + av.Shape[ax]
				out[i] = SliceOp(ct, starts, stops, nil)
			}
			offset += av.Shape[ax]
		}
		return out, nil
	}
}

func axesOf(p Params) []int {
	axes, _ := p["axes"].([]int)
	return axes
}

func stepsOf(p Params) []int {
	steps, _ := p["steps"].([]int)
	return steps
}

func reversedAxes(rank int) []int {
	axes := make([]int, rank)
	for i := range axes {
		axes[i] = rank - 1 - i
	}
	return axes
}
