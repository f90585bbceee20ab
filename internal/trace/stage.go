package trace

import (
	"github.com/pkg/errors"
)

// stageTrace records primitive applications into a jaxpr instead of
// executing them. Values from lower levels are captured as constants.
type stageTrace struct {
	level int
	b     *Builder
}

func (t *stageTrace) Level() int { return t.level }

func (t *stageTrace) LiftValue(v Value) Value {
	return &stageTracer{tr: t, v: t.b.Capture(v).V}
}

func (t *stageTrace) Process(p *Primitive, args []Value, params Params) ([]Value, error) {
	if p.Abstract == nil {
		return nil, errors.Errorf("trace: %s has no abstract evaluation", p.Name)
	}
	in := make([]Atom, len(args))
	avs := make([]Aval, len(args))
	linear := false
	for i, a := range args {
		st := a.(*stageTracer)
		in[i] = Atom{V: st.v}
		avs[i] = st.v.Av
		if st.v.Linear {
			linear = true
		}
	}
	outAvs, err := p.Abstract(avs, params)
	if err != nil {
		return nil, errors.Wrap(err, p.Name)
	}
	outVars := make([]*Var, len(outAvs))
	outs := make([]Value, len(outAvs))
	for i, av := range outAvs {
		outVars[i] = t.b.NewVar(av, linear)
		outs[i] = &stageTracer{tr: t, v: outVars[i]}
	}
	t.b.Append(Eqn{Prim: p, In: in, Params: params, Out: outVars})
	return outs, nil
}

// stageTracer stands for a jaxpr variable during staging.
type stageTracer struct {
	tr *stageTrace
	v  *Var
}

func (s *stageTracer) valueMarker() {}

func (s *stageTracer) trace() Trace { return s.tr }

func (s *stageTracer) Aval() Aval { return s.v.Av }

// Stage traces f once with abstract inputs, producing a jaxpr. Values f
// closes over are captured as constants.
func Stage(f func([]Value) []Value, inAvals []Aval) (jx *Jaxpr, err error) {
	defer recoverTraced(&err)
	b := NewBuilder()
	st := &stageTrace{level: nextLevel(), b: b}
	pushTrace(st)
	defer popTrace()

	args := make([]Value, len(inAvals))
	for i, av := range inAvals {
		args[i] = &stageTracer{tr: st, v: b.AddInput(av, false)}
	}
	res := f(args)
	out := make([]Atom, len(res))
	for i, o := range res {
		if s, ok := o.(*stageTracer); ok && s.tr == st {
			out[i] = Atom{V: s.v}
			continue
		}
		out[i] = b.Capture(o)
	}
	return b.Finish(out), nil
}
