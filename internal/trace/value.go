// Package trace implements the jaxpr IR and the program transformations
// built on it: jit, vmap, jvp, vjp and grad. Primitive applications
// dispatch through a stack of interpreters; the top-most interpreter may
// record equations, carry dual numbers or batch axes, and produce new
// tracer outputs.
package trace

import (
	"fmt"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/view"
)

// Aval is the abstract value: shape and dtype, the only information
// abstract evaluation propagates.
type Aval struct {
	Shape []int
	DType alu.DType
}

// Size returns the element count.
func (a Aval) Size() int { return view.NumElements(a.Shape) }

// String formats the aval as dtype[shape].
func (a Aval) String() string { return fmt.Sprintf("%s%v", a.DType, a.Shape) }

// Equal reports shape and dtype equality.
func (a Aval) Equal(b Aval) bool {
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Value is anything a traced function can consume: a concrete array or a
// tracer owned by an interpreter on the stack.
type Value interface {
	Aval() Aval
	valueMarker()
}

// Concrete wraps an eager array as a Value.
type Concrete struct {
	Arr *array.Array
}

// Aval returns the array's abstract value.
func (c Concrete) Aval() Aval {
	return Aval{Shape: c.Arr.Shape(), DType: c.Arr.DType()}
}

func (c Concrete) valueMarker() {}

// Lift wraps an array for use in traced code.
func Lift(a *array.Array) Value { return Concrete{Arr: a} }

// Arr unwraps a concrete value, panicking on a leaked tracer.
func Arr(v Value) *array.Array {
	c, ok := v.(Concrete)
	if !ok {
		panic(fmt.Sprintf("trace: expected a concrete value, got %T (tracer escaped its transform?)", v))
	}
	return c.Arr
}
