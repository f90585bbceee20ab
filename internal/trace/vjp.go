package trace

import (
	"github.com/pkg/errors"
)

// ZerosLike builds an exact zero with v's shape, dtype and device.
func ZerosLike(v Value) Value { return zeroLike(v) }

// OnesLike builds an exact ones value with v's shape, dtype and device.
// exp(0) is exactly 1, so no literal is needed.
func OnesLike(v Value) Value { return Exp(zeroLike(v)) }

// Linearize evaluates f at primals while staging the tangent computation
// into a linear jaxpr whose inputs are the input tangents.
func Linearize(f func([]Value) []Value, primals []Value) (outs []Value, lin *Jaxpr, err error) {
	defer recoverTraced(&err)
	b := NewBuilder()
	st := &stageTrace{level: nextLevel(), b: b}
	pushTrace(st)
	defer popTrace()
	jt := &jvpTrace{level: nextLevel()}
	pushTrace(jt)
	defer popTrace()

	args := make([]Value, len(primals))
	for i, p := range primals {
		tangent := &stageTracer{tr: st, v: b.AddInput(p.Aval(), true)}
		args[i] = &jvpTracer{tr: jt, primal: p, tangent: tangent}
	}
	res := f(args)

	outs = make([]Value, len(res))
	outAtoms := make([]Atom, len(res))
	for i, o := range res {
		var primal, tangent Value
		if t, ok := o.(*jvpTracer); ok && t.tr == jt {
			primal, tangent = t.primal, t.tangent
		} else {
			primal = o
		}
		outs[i] = primal
		switch tg := tangent.(type) {
		case nil:
			// A structurally zero tangent still needs an output slot.
			outAtoms[i] = b.Capture(zeroLike(primal))
		case *stageTracer:
			outAtoms[i] = Atom{V: tg.v}
		default:
			outAtoms[i] = b.Capture(tg)
		}
	}
	lin = b.Finish(outAtoms)
	return outs, lin, nil
}

// VJP returns f(primals) and a pullback mapping output cotangents to
// input cotangents, built by linearizing forward and transposing the
// linear part.
func VJP(f func([]Value) []Value, primals []Value) ([]Value, func(cts []Value) ([]Value, error), error) {
	outs, lin, err := Linearize(f, primals)
	if err != nil {
		return nil, nil, err
	}
	pullback := func(cts []Value) (res []Value, err error) {
		defer recoverTraced(&err)
		inCts, err := transposeLinear(lin, cts)
		if err != nil {
			return nil, err
		}
		res = make([]Value, len(inCts))
		for i, ct := range inCts {
			if ct == nil {
				res[i] = zeroLike(primals[i])
				continue
			}
			res[i] = ct
		}
		return res, nil
	}
	return outs, pullback, nil
}

// Grad differentiates a scalar-valued f with respect to every argument,
// seeding the reverse pass with a unit cotangent.
func Grad(f func([]Value) []Value) func(primals []Value) ([]Value, error) {
	return func(primals []Value) ([]Value, error) {
		outs, pullback, err := VJP(f, primals)
		if err != nil {
			return nil, err
		}
		if len(outs) != 1 {
			return nil, errors.Errorf("trace: grad needs a single output, got %d", len(outs))
		}
		av := outs[0].Aval()
		if av.Size() != 1 || !av.DType.IsFloat() {
			return nil, errors.Errorf("trace: grad needs a scalar float output, got %s", av)
		}
		return pullback([]Value{OnesLike(outs[0])})
	}
}
