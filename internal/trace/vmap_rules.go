package trace

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/view"
)

// moveBdimToFront permutes a batched value so its batch axis is axis 0.
func moveBdimToFront(v Value, d int) Value {
	if d == 0 {
		return v
	}
	rank := len(v.Aval().Shape)
	perm := make([]int, 0, rank)
	perm = append(perm, d)
	for i := 0; i < rank; i++ {
		if i != d {
			perm = append(perm, i)
		}
	}
	return Transpose(v, perm)
}

// liftUnbatched broadcasts an unbatched value along a fresh leading
// batch axis.
func liftUnbatched(v Value, batch int) Value {
	shape := v.Aval().Shape
	with1 := append([]int{1}, shape...)
	return BroadcastTo(Reshape(v, with1), append([]int{batch}, shape...))
}

// batchSize finds the batch extent among the arguments.
func batchSize(args []Value, dims []int) (int, error) {
	size := -1
	for i, d := range dims {
		if d < 0 {
			continue
		}
		b := args[i].Aval().Shape[d]
		if size >= 0 && b != size {
			return 0, errors.Errorf("inconsistent batch sizes %d and %d", size, b)
		}
		size = b
	}
	if size < 0 {
		return 0, errors.New("no batched argument")
	}
	return size, nil
}

// alignFront brings every argument to batch-axis 0, broadcasting the
// unbatched ones.
func alignFront(args []Value, dims []int) ([]Value, int, error) {
	b, err := batchSize(args, dims)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Value, len(args))
	for i, v := range args {
		if dims[i] < 0 {
			out[i] = liftUnbatched(v, b)
		} else {
			out[i] = moveBdimToFront(v, dims[i])
		}
	}
	return out, b, nil
}

func zeroDims(n int) []int {
	return make([]int, n)
}

// ewVmap batches an element-wise primitive by aligning all operands to
// axis 0.
func ewVmap(p *Primitive) func([]Value, []int, Params) ([]Value, []int, error) {
	return func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		aligned, _, err := alignFront(args, dims)
		if err != nil {
			return nil, nil, err
		}
		outs, err := Bind(p, params, aligned...)
		if err != nil {
			return nil, nil, err
		}
		return outs, zeroDims(len(outs)), nil
	}
}

func initVmap() {
	ew := []*Primitive{
		addP, subP, mulP, divP, powP, minP, maxP, modP,
		negP, recipP, expP, logP, sinP, cosP, sqrtP, absP,
		eqP, neP, ltP, leP, gtP, geP, whereP, castP, scaleP, fullLikeP,
	}
	for _, p := range ew {
		p.Vmap = ewVmap(p)
	}

	for _, p := range []*Primitive{reduceSumP, reduceMaxP, reduceMinP, reduceProdP} {
		prim := p
		prim.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
			x := moveBdimToFront(args[0], dims[0])
			rank := len(x.Aval().Shape) - 1
			axes, keep := axesParam(params)
			if axes == nil {
				axes = make([]int, rank)
				for i := range axes {
					axes[i] = i
				}
			}
			shifted := make([]int, len(axes))
			for i, ax := range axes {
				if ax < 0 {
					ax += rank
				}
				shifted[i] = ax + 1
			}
			outs, err := Bind(prim, Params{"axes": shifted, "keepdims": keep}, x)
			if err != nil {
				return nil, nil, err
			}
			return outs, zeroDims(1), nil
		}
	}

	reshapeP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		x := moveBdimToFront(args[0], dims[0])
		b := x.Aval().Shape[0]
		inner := view.NumElements(x.Aval().Shape) / max(b, 1)
		shape, err := view.ResolveShape(params["shape"].([]int), inner)
		if err != nil {
			return nil, nil, err
		}
		return []Value{Reshape(x, append([]int{b}, shape...))}, zeroDims(1), nil
	}

	transposeP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		x := moveBdimToFront(args[0], dims[0])
		rank := len(x.Aval().Shape) - 1
		axes := axesOf(params)
		if axes == nil {
			axes = reversedAxes(rank)
		}
		shifted := make([]int, len(axes)+1)
		shifted[0] = 0
		for i, ax := range axes {
			shifted[i+1] = ax + 1
		}
		return []Value{Transpose(x, shifted)}, zeroDims(1), nil
	}

	broadcastP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		x := moveBdimToFront(args[0], dims[0])
		b := x.Aval().Shape[0]
		shape := params["shape"].([]int)
		// Grow the unbatched rank under the batch axis first.
		inner := x.Aval().Shape[1:]
		if len(shape) > len(inner) {
			grown := make([]int, len(shape))
			for i := range grown {
				grown[i] = 1
			}
			copy(grown[len(shape)-len(inner):], inner)
			x = Reshape(x, append([]int{b}, grown...))
		}
		return []Value{BroadcastTo(x, append([]int{b}, shape...))}, zeroDims(1), nil
	}

	sliceP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		x := moveBdimToFront(args[0], dims[0])
		b := x.Aval().Shape[0]
		starts := append([]int{0}, params["starts"].([]int)...)
		stops := append([]int{b}, params["stops"].([]int)...)
		var steps []int
		if s := stepsOf(params); s != nil {
			steps = append([]int{1}, s...)
		}
		return []Value{SliceOp(x, starts, stops, steps)}, zeroDims(1), nil
	}

	padP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		x := moveBdimToFront(args[0], dims[0])
		widths := append([][2]int{{0, 0}}, params["widths"].([][2]int)...)
		return []Value{PadOp(x, widths)}, zeroDims(1), nil
	}

	flipP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		x := moveBdimToFront(args[0], dims[0])
		rank := len(x.Aval().Shape) - 1
		axes := axesOf(params)
		shifted := make([]int, len(axes))
		for i, ax := range axes {
			if ax < 0 {
				ax += rank
			}
			shifted[i] = ax + 1
		}
		return []Value{FlipOp(x, shifted)}, zeroDims(1), nil
	}

	concatP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		aligned, _, err := alignFront(args, dims)
		if err != nil {
			return nil, nil, err
		}
		ax := params["axis"].(int)
		if ax < 0 {
			ax += len(args[0].Aval().Shape)
		}
		return []Value{Concat(aligned, ax + 1)}, zeroDims(1), nil
	}

	// The PRNG has no batched formulation: the batched call is exactly
	// the stack of per-key streams, which keeps vmapped sampling
	// bit-identical to a manual loop.
	threefryP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		key := moveBdimToFront(args[0], dims[0])
		b := key.Aval().Shape[0]
		count := params["count"].(int)
		parts := make([]Value, b)
		for i := 0; i < b; i++ {
			ki := Reshape(SliceOp(key, []int{i, 0}, []int{i + 1, 2}, nil), []int{2})
			parts[i] = Reshape(ThreefryOp(ki, count), []int{1, count})
		}
		return []Value{Concat(parts, 0)}, zeroDims(1), nil
	}

	for _, p := range []*Primitive{sortP, argsortP} {
		prim := p
		prim.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
			x := moveBdimToFront(args[0], dims[0])
			ax := params["axis"].(int)
			if ax < 0 {
				ax += len(x.Aval().Shape) - 1
			}
			outs, err := Bind(prim, Params{"axis": ax + 1}, x)
			if err != nil {
				return nil, nil, err
			}
			return outs, zeroDims(1), nil
		}
	}

	// Factorisations batch natively over leading dimensions.
	choleskyP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		x := moveBdimToFront(args[0], dims[0])
		outs, err := Bind(choleskyP, params, x)
		if err != nil {
			return nil, nil, err
		}
		return outs, zeroDims(1), nil
	}
	solveTriP.Vmap = func(args []Value, dims []int, params Params) ([]Value, []int, error) {
		aligned, _, err := alignFront(args, dims)
		if err != nil {
			return nil, nil, err
		}
		outs, err := Bind(solveTriP, params, aligned...)
		if err != nil {
			return nil, nil, err
		}
		return outs, zeroDims(1), nil
	}
}
