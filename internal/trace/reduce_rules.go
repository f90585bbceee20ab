package trace

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/array"
)

func axesParam(p Params) ([]int, bool) {
	axes, _ := p["axes"].([]int)
	keep, _ := p["keepdims"].(bool)
	return axes, keep
}

// reducedAval computes the output aval of a reduction.
func reducedAval(in Aval, axes []int, keepdims bool) (Aval, []int, error) {
	rank := len(in.Shape)
	if axes == nil {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = i
		}
	}
	isReduce := make([]bool, rank)
	norm := make([]int, 0, len(axes))
	for _, ax := range axes {
		if ax < 0 {
			ax += rank
		}
		if ax < 0 || ax >= rank {
			return Aval{}, nil, errors.Errorf("reduction axis %d out of range for rank %d", ax, rank)
		}
		if isReduce[ax] {
			return Aval{}, nil, errors.Errorf("duplicate reduction axis %d", ax)
		}
		isReduce[ax] = true
		norm = append(norm, ax)
	}
	var shape []int
	for i, d := range in.Shape {
		switch {
		case !isReduce[i]:
			shape = append(shape, d)
		case keepdims:
			shape = append(shape, 1)
		}
	}
	return Aval{Shape: shape, DType: in.DType}, norm, nil
}

func reduceAbstract(in []Aval, p Params) ([]Aval, error) {
	axes, keep := axesParam(p)
	av, _, err := reducedAval(in[0], axes, keep)
	if err != nil {
		return nil, err
	}
	return []Aval{av}, nil
}

func reduceImpl(f func(*array.Array, []int, bool) (*array.Array, error)) func([]*array.Array, Params) ([]*array.Array, error) {
	return func(args []*array.Array, p Params) ([]*array.Array, error) {
		axes, keep := axesParam(p)
		out, err := f(args[0], axes, keep)
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
}

// unreduce broadcasts a reduced cotangent back over the input shape.
func unreduce(ct Value, inAv Aval, axes []int, keepdims bool) Value {
	if !keepdims {
		_, norm, err := reducedAval(inAv, axes, false)
		if err != nil {
			panic(err)
		}
		with1 := append([]int(nil), inAv.Shape...)
		for _, ax := range norm {
			with1[ax] = 1
		}
		ct = Reshape(ct, with1)
	}
	return BroadcastTo(ct, inAv.Shape)
}

// maskedExtremeJVP is the forward rule for min/max reductions: the
// tangent of every position equal to the extreme flows through. Ties
// each contribute fully.
func maskedExtremeJVP(p *Primitive) func([]Value, []Value, Params) ([]Value, []Value, error) {
	return func(pr, tn []Value, params Params) ([]Value, []Value, error) {
		out, err := Bind(p, params, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		axes, keep := axesParam(params)
		mask := Eq(pr[0], unreduce(out[0], pr[0].Aval(), axes, keep))
		picked := Where(mask, tn[0], zeroLike(tn[0]))
		return out, []Value{ReduceSum(picked, axes, keep)}, nil
	}
}

func initReduce() {
	reduceSumP.Impl = reduceImpl((*array.Array).Sum)
	reduceSumP.Abstract = reduceAbstract
	reduceSumP.JVP = jvpLinear1(reduceSumP)
	reduceSumP.Transpose = func(ct Value, _ []Value, inAvals []Aval, _ []bool, p Params) ([]Value, error) {
		axes, keep := axesParam(p)
		return []Value{unreduce(ct, inAvals[0], axes, keep)}, nil
	}

	reduceMaxP.Impl = reduceImpl((*array.Array).Max)
	reduceMaxP.Abstract = reduceAbstract
	reduceMaxP.JVP = maskedExtremeJVP(reduceMaxP)

	reduceMinP.Impl = reduceImpl((*array.Array).Min)
	reduceMinP.Abstract = reduceAbstract
	reduceMinP.JVP = maskedExtremeJVP(reduceMinP)

	reduceProdP.Impl = reduceImpl((*array.Array).Prod)
	reduceProdP.Abstract = reduceAbstract
	// reduce_prod is differentiated as exp(sum(log)) at the library
	// layer when needed; no direct forward rule.
}
