package trace

import (
	"github.com/pkg/errors"
)

// batchTrace interprets primitives over one extra vectorised axis.
type batchTrace struct {
	level int
}

func (t *batchTrace) Level() int { return t.level }

func (t *batchTrace) LiftValue(v Value) Value {
	return &batchTracer{tr: t, val: v, bdim: -1}
}

func (t *batchTrace) Process(p *Primitive, args []Value, params Params) ([]Value, error) {
	if p.Vmap == nil {
		return nil, errors.Errorf("trace: %s has no batching rule", p.Name)
	}
	vals := make([]Value, len(args))
	dims := make([]int, len(args))
	for i, a := range args {
		bt := a.(*batchTracer)
		vals[i] = bt.val
		dims[i] = bt.bdim
	}
	outs, outDims, err := p.Vmap(vals, dims, params)
	if err != nil {
		return nil, errors.Wrap(err, p.Name)
	}
	wrapped := make([]Value, len(outs))
	for i, o := range outs {
		wrapped[i] = &batchTracer{tr: t, val: o, bdim: outDims[i]}
	}
	return wrapped, nil
}

// batchTracer carries a value with one batched axis. Its abstract value
// is the per-element view, with the batch axis removed.
type batchTracer struct {
	tr   *batchTrace
	val  Value
	bdim int
}

func (b *batchTracer) valueMarker() {}

func (b *batchTracer) trace() Trace { return b.tr }

func (b *batchTracer) Aval() Aval {
	av := b.val.Aval()
	if b.bdim < 0 {
		return av
	}
	shape := make([]int, 0, len(av.Shape)-1)
	for i, d := range av.Shape {
		if i != b.bdim {
			shape = append(shape, d)
		}
	}
	return Aval{Shape: shape, DType: av.DType}
}

// Vmap vectorises f along one input axis per argument (negative means
// unbatched). Outputs carry the batch axis at position 0. Nested calls
// compose.
func Vmap(f func([]Value) []Value, inAxes []int) func(args []Value) ([]Value, error) {
	return func(args []Value) (res []Value, err error) {
		defer recoverTraced(&err)
		axes := inAxes
		if axes == nil {
			axes = make([]int, len(args))
		}
		if len(axes) != len(args) {
			return nil, errors.Errorf("trace: vmap got %d axes for %d arguments", len(axes), len(args))
		}
		bt := &batchTrace{level: nextLevel()}
		pushTrace(bt)
		defer popTrace()

		size := -1
		wrapped := make([]Value, len(args))
		for i, a := range args {
			if axes[i] < 0 {
				wrapped[i] = bt.LiftValue(a)
				continue
			}
			d := axes[i]
			shape := a.Aval().Shape
			if d >= len(shape) {
				return nil, errors.Errorf("trace: vmap axis %d out of range for %v", d, shape)
			}
			if size >= 0 && shape[d] != size {
				return nil, errors.Errorf("trace: inconsistent vmap batch sizes %d and %d", size, shape[d])
			}
			size = shape[d]
			wrapped[i] = &batchTracer{tr: bt, val: a, bdim: d}
		}
		if size < 0 {
			return nil, errors.New("trace: vmap needs at least one batched argument")
		}

		outs := f(wrapped)
		res = make([]Value, len(outs))
		for i, o := range outs {
			if b, ok := o.(*batchTracer); ok && b.tr == bt {
				if b.bdim < 0 {
					res[i] = liftUnbatched(b.val, size)
				} else {
					res[i] = moveBdimToFront(b.val, b.bdim)
				}
				continue
			}
			res[i] = liftUnbatched(o, size)
		}
		return res, nil
	}
}

// recoverTraced converts a panic out of the traceable-op surface into an
// error at the transform boundary.
func recoverTraced(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = e
			return
		}
		panic(r)
	}
}
