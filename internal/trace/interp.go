package trace

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/array"
)

// Params carries a primitive's static parameters.
type Params map[string]any

// Trace is one interpreter on the stack. Primitive applications dispatch
// to the highest-level trace that owns one of the arguments; every other
// argument is lifted into that trace.
type Trace interface {
	Level() int
	// LiftValue wraps a value from a lower level into this trace.
	LiftValue(v Value) Value
	// Process applies the primitive under this trace's semantics.
	Process(p *Primitive, args []Value, params Params) ([]Value, error)
}

// tracer is implemented by every tracer value so dispatch can find its
// owner.
type tracer interface {
	Value
	trace() Trace
}

// The interpreter stack. The frontend is single-threaded cooperative per
// the concurrency model, so a plain stack suffices; a multithreaded host
// would make this per-goroutine state. Popping a scope only removes its
// interpreter from the stack; its tracers are not released explicitly.
var stack []Trace

func pushTrace(t Trace) { stack = append(stack, t) }

func popTrace() { stack = stack[:len(stack)-1] }

func nextLevel() int { return len(stack) + 1 }

// Bind applies a primitive to values, dispatching to the top-most
// interpreter among the arguments. With no tracer in sight the primitive
// runs eagerly on concrete arrays.
func Bind(p *Primitive, params Params, args ...Value) ([]Value, error) {
	var top Trace
	for _, a := range args {
		if t, ok := a.(tracer); ok {
			if top == nil || t.trace().Level() > top.Level() {
				top = t.trace()
			}
		}
	}
	if top == nil {
		return applyConcrete(p, args, params)
	}
	lifted := make([]Value, len(args))
	for i, a := range args {
		if t, ok := a.(tracer); ok && t.trace() == top {
			lifted[i] = a
			continue
		}
		lifted[i] = top.LiftValue(a)
	}
	return top.Process(p, lifted, params)
}

// applyConcrete is the eval rule at the bottom of the stack.
func applyConcrete(p *Primitive, args []Value, params Params) ([]Value, error) {
	if p.Impl == nil {
		return nil, errors.Errorf("trace: %s has no implementation", p.Name)
	}
	arrs := make([]*array.Array, len(args))
	for i, a := range args {
		arrs[i] = Arr(a)
	}
	outs, err := p.Impl(arrs, params)
	if err != nil {
		return nil, errors.Wrap(err, p.Name)
	}
	vals := make([]Value, len(outs))
	for i, o := range outs {
		vals[i] = Concrete{Arr: o}
	}
	return vals, nil
}
