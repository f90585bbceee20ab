package trace

import (
	"github.com/pkg/errors"
)

// jvpTrace interprets primitives over dual numbers (primal, tangent).
type jvpTrace struct {
	level int
}

func (t *jvpTrace) Level() int { return t.level }

func (t *jvpTrace) LiftValue(v Value) Value {
	return &jvpTracer{tr: t, primal: v}
}

func (t *jvpTrace) Process(p *Primitive, args []Value, params Params) ([]Value, error) {
	if p.JVP == nil {
		return nil, errors.Errorf("trace: %s has no forward-mode rule", p.Name)
	}
	primals := make([]Value, len(args))
	tangents := make([]Value, len(args))
	for i, a := range args {
		jt := a.(*jvpTracer)
		primals[i] = jt.primal
		tangents[i] = jt.tangent
	}
	outs, touts, err := p.JVP(primals, tangents, params)
	if err != nil {
		return nil, errors.Wrap(err, p.Name)
	}
	wrapped := make([]Value, len(outs))
	for i, o := range outs {
		var tg Value
		if i < len(touts) {
			tg = touts[i]
		}
		wrapped[i] = &jvpTracer{tr: t, primal: o, tangent: tg}
	}
	return wrapped, nil
}

// jvpTracer is a dual number; a nil tangent is symbolic zero.
type jvpTracer struct {
	tr      *jvpTrace
	primal  Value
	tangent Value
}

func (j *jvpTracer) valueMarker() {}

func (j *jvpTracer) trace() Trace { return j.tr }

func (j *jvpTracer) Aval() Aval { return j.primal.Aval() }

// JVP computes f(primals) together with its directional derivative along
// tangents. A nil tangent entry means zero.
func JVP(f func([]Value) []Value, primals, tangents []Value) (outs, outTangents []Value, err error) {
	defer recoverTraced(&err)
	if len(primals) != len(tangents) {
		return nil, nil, errors.Errorf("trace: %d primals but %d tangents", len(primals), len(tangents))
	}
	jt := &jvpTrace{level: nextLevel()}
	pushTrace(jt)
	defer popTrace()

	args := make([]Value, len(primals))
	for i := range primals {
		args[i] = &jvpTracer{tr: jt, primal: primals[i], tangent: tangents[i]}
	}
	res := f(args)
	outs = make([]Value, len(res))
	outTangents = make([]Value, len(res))
	for i, o := range res {
		if t, ok := o.(*jvpTracer); ok && t.tr == jt {
			outs[i] = t.primal
			outTangents[i] = t.tangent
			continue
		}
		outs[i] = o
	}
	return outs, outTangents, nil
}
