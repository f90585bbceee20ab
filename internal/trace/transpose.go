package trace

import (
	"github.com/pkg/errors"
)

// transposeLinear runs a linearized jaxpr backwards: given cotangents for
// its outputs it accumulates cotangents for the linear input variables.
// The returned slice aligns with InVars; nil entries are symbolic zeros.
func transposeLinear(lin *Jaxpr, cts []Value) ([]Value, error) {
	if len(cts) != len(lin.Out) {
		return nil, errors.Errorf("trace: %d cotangents for %d outputs", len(cts), len(lin.Out))
	}
	consts := make(map[*Var]Value, len(lin.ConstVars))
	for i, v := range lin.ConstVars {
		consts[v] = lin.Consts[i]
	}
	ctEnv := make(map[*Var]Value)
	add := func(v *Var, ct Value) {
		if ct == nil {
			return
		}
		ctEnv[v] = tadd(ctEnv[v], ct)
	}
	for i, out := range lin.Out {
		if out.V.Linear {
			add(out.V, cts[i])
		}
	}

	for i := len(lin.Eqns) - 1; i >= 0; i-- {
		e := lin.Eqns[i]
		if len(e.Out) != 1 {
			return nil, errors.Errorf("trace: cannot transpose multi-output %s", e.Prim.Name)
		}
		ct := ctEnv[e.Out[0]]
		if ct == nil {
			continue
		}
		if e.Prim.Transpose == nil {
			return nil, errors.Errorf("trace: %s has no transpose rule", e.Prim.Name)
		}
		in := make([]Value, len(e.In))
		avs := make([]Aval, len(e.In))
		linear := make([]bool, len(e.In))
		for j, a := range e.In {
			avs[j] = a.V.Av
			linear[j] = a.V.Linear
			if !a.V.Linear {
				v, ok := consts[a.V]
				if !ok {
					return nil, errors.Errorf("trace: non-linear input %%%d has no value", a.V.ID)
				}
				in[j] = v
			}
		}
		inCts, err := e.Prim.Transpose(ct, in, avs, linear, e.Params)
		if err != nil {
			return nil, errors.Wrap(err, e.Prim.Name)
		}
		for j, a := range e.In {
			if linear[j] && j < len(inCts) {
				add(a.V, inCts[j])
			}
		}
	}

	out := make([]Value, len(lin.InVars))
	for i, v := range lin.InVars {
		out[i] = ctEnv[v]
	}
	return out, nil
}
