package trace

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Var is a jaxpr variable. Linear marks variables carrying tangents in a
// linearized jaxpr; captured constants and jit inputs are non-linear.
type Var struct {
	ID     int
	Av     Aval
	Linear bool
}

// Atom is an equation input: always a variable here; captured constants
// become const-vars bound in the jaxpr's const list.
type Atom struct {
	V *Var
}

// Aval returns the atom's abstract value.
func (a Atom) Aval() Aval { return a.V.Av }

// Eqn is one recorded primitive application.
type Eqn struct {
	Prim   *Primitive
	In     []Atom
	Params Params
	Out    []*Var
}

// Jaxpr is a traced program: ordered captured constants, typed input
// variables, a sequence of equations and output atoms. The const values
// are owned by the jaxpr: holding it alive pins every captured buffer,
// which is what lets a jit cache entry be replayed safely long after the
// traced call returned.
type Jaxpr struct {
	ConstVars []*Var
	Consts    []Value
	InVars    []*Var
	Eqns      []Eqn
	Out       []Atom
}

// String renders the jaxpr for diagnostics.
func (j *Jaxpr) String() string {
	var sb strings.Builder
	sb.WriteString("{ lambda ")
	for i, v := range j.InVars {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%%%d:%s", v.ID, v.Av)
	}
	fmt.Fprintf(&sb, " [%d consts] .\n", len(j.Consts))
	for _, e := range j.Eqns {
		sb.WriteString("  ")
		for i, o := range e.Out {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%%%d", o.ID)
		}
		fmt.Fprintf(&sb, " = %s", e.Prim.Name)
		for _, in := range e.In {
			fmt.Fprintf(&sb, " %%%d", in.V.ID)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("  return")
	for _, o := range j.Out {
		fmt.Fprintf(&sb, " %%%d", o.V.ID)
	}
	sb.WriteString(" }")
	return sb.String()
}

// Builder accumulates equations during a staging trace.
type Builder struct {
	nextID   int
	jaxpr    *Jaxpr
	captured map[Value]*Var
}

// NewBuilder starts an empty jaxpr.
func NewBuilder() *Builder {
	return &Builder{jaxpr: &Jaxpr{}, captured: make(map[Value]*Var)}
}

// NewVar mints a fresh typed variable.
func (b *Builder) NewVar(av Aval, linear bool) *Var {
	b.nextID++
	return &Var{ID: b.nextID, Av: av, Linear: linear}
}

// AddInput appends an input variable.
func (b *Builder) AddInput(av Aval, linear bool) *Var {
	v := b.NewVar(av, linear)
	b.jaxpr.InVars = append(b.jaxpr.InVars, v)
	return v
}

// Capture interns a value from outside the trace as a constant,
// deduplicating by identity.
func (b *Builder) Capture(val Value) Atom {
	if v, ok := b.captured[val]; ok {
		return Atom{V: v}
	}
	v := b.NewVar(val.Aval(), false)
	b.captured[val] = v
	b.jaxpr.ConstVars = append(b.jaxpr.ConstVars, v)
	b.jaxpr.Consts = append(b.jaxpr.Consts, val)
	return Atom{V: v}
}

// Append records an equation.
func (b *Builder) Append(e Eqn) {
	b.jaxpr.Eqns = append(b.jaxpr.Eqns, e)
}

// Finish seals the jaxpr with its outputs.
func (b *Builder) Finish(out []Atom) *Jaxpr {
	b.jaxpr.Out = out
	return b.jaxpr
}

// EvalJaxpr replays a jaxpr on the given inputs, using the jaxpr's own
// captured constants. Each equation re-binds through the interpreter
// stack, so replay composes with any active transformation.
func EvalJaxpr(j *Jaxpr, args []Value) ([]Value, error) {
	if len(args) != len(j.InVars) {
		return nil, errors.Errorf("trace: jaxpr expects %d inputs, got %d", len(j.InVars), len(args))
	}
	env := make(map[*Var]Value, len(j.InVars)+len(j.Eqns)+len(j.ConstVars))
	for i, v := range j.ConstVars {
		env[v] = j.Consts[i]
	}
	for i, v := range j.InVars {
		env[v] = args[i]
	}
	for _, e := range j.Eqns {
		ins := make([]Value, len(e.In))
		for i, a := range e.In {
			v, ok := env[a.V]
			if !ok {
				return nil, errors.Errorf("trace: undefined variable %%%d", a.V.ID)
			}
			ins[i] = v
		}
		outs, err := Bind(e.Prim, e.Params, ins...)
		if err != nil {
			return nil, errors.Wrapf(err, "replay %s", e.Prim.Name)
		}
		if len(outs) != len(e.Out) {
			return nil, errors.Errorf("trace: %s produced %d outputs, recorded %d", e.Prim.Name, len(outs), len(e.Out))
		}
		for i, v := range e.Out {
			env[v] = outs[i]
		}
	}
	outs := make([]Value, len(j.Out))
	for i, a := range j.Out {
		v, ok := env[a.V]
		if !ok {
			return nil, errors.Errorf("trace: undefined output %%%d", a.V.ID)
		}
		outs[i] = v
	}
	return outs, nil
}
