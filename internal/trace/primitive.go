package trace

import (
	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
)

// Primitive is a named operation with the rule set every transformation
// needs: a concrete implementation, abstract (shape/dtype) evaluation, a
// forward-mode rule, a batching rule, and a transpose rule for linear
// primitives.
type Primitive struct {
	Name string

	// Impl applies the primitive to eager arrays.
	Impl func(args []*array.Array, p Params) ([]*array.Array, error)

	// Abstract propagates shapes and dtypes.
	Abstract func(in []Aval, p Params) ([]Aval, error)

	// JVP produces (primal outputs, tangent outputs). Tangents may be
	// nil, meaning symbolic zero.
	JVP func(primals, tangents []Value, p Params) ([]Value, []Value, error)

	// Vmap applies the primitive with one batched axis per argument
	// (-1 for unbatched), returning outputs and their batch axes.
	Vmap func(args []Value, dims []int, p Params) ([]Value, []int, error)

	// Transpose maps an output cotangent to input cotangents. in holds
	// the resolved values of non-linear inputs and nil for linear ones,
	// inAvals the recorded abstract values of every input; the result
	// aligns with in, nil where no cotangent flows.
	Transpose func(ct Value, in []Value, inAvals []Aval, linear []bool, p Params) ([]Value, error)
}

func must1(vs []Value, err error) Value {
	if err != nil {
		panic(err)
	}
	if len(vs) != 1 {
		panic("trace: expected a single result")
	}
	return vs[0]
}

// Traceable op surface. These are what transformed functions are written
// in terms of; usage errors panic, matching construction-time errors
// elsewhere in the IR.

func Add(a, b Value) Value { return must1(Bind(addP, nil, a, b)) }
func Sub(a, b Value) Value { return must1(Bind(subP, nil, a, b)) }
func Mul(a, b Value) Value { return must1(Bind(mulP, nil, a, b)) }
func Div(a, b Value) Value { return must1(Bind(divP, nil, a, b)) }
func Pow(a, b Value) Value { return must1(Bind(powP, nil, a, b)) }
func Minimum(a, b Value) Value { return must1(Bind(minP, nil, a, b)) }
func Maximum(a, b Value) Value { return must1(Bind(maxP, nil, a, b)) }

func Neg(x Value) Value   { return must1(Bind(negP, nil, x)) }
func Recip(x Value) Value { return must1(Bind(recipP, nil, x)) }
func Exp(x Value) Value   { return must1(Bind(expP, nil, x)) }
func Log(x Value) Value   { return must1(Bind(logP, nil, x)) }
func Sin(x Value) Value   { return must1(Bind(sinP, nil, x)) }
func Cos(x Value) Value   { return must1(Bind(cosP, nil, x)) }
func Sqrt(x Value) Value  { return must1(Bind(sqrtP, nil, x)) }
func Abs(x Value) Value   { return must1(Bind(absP, nil, x)) }

func Eq(a, b Value) Value { return must1(Bind(eqP, nil, a, b)) }
func Ne(a, b Value) Value { return must1(Bind(neP, nil, a, b)) }
func Lt(a, b Value) Value { return must1(Bind(ltP, nil, a, b)) }
func Le(a, b Value) Value { return must1(Bind(leP, nil, a, b)) }
func Gt(a, b Value) Value { return must1(Bind(gtP, nil, a, b)) }
func Ge(a, b Value) Value { return must1(Bind(geP, nil, a, b)) }

// Where selects x where cond holds.
func Where(cond, x, y Value) Value { return must1(Bind(whereP, nil, cond, x, y)) }

// Cast converts the dtype.
func Cast(x Value, dt alu.DType) Value {
	return must1(Bind(castP, Params{"dtype": dt}, x))
}

// ReduceSum sums over axes (nil = all).
func ReduceSum(x Value, axes []int, keepdims bool) Value {
	return must1(Bind(reduceSumP, Params{"axes": axes, "keepdims": keepdims}, x))
}

// ReduceMax reduces by maximum.
func ReduceMax(x Value, axes []int, keepdims bool) Value {
	return must1(Bind(reduceMaxP, Params{"axes": axes, "keepdims": keepdims}, x))
}

// ReduceMin reduces by minimum.
func ReduceMin(x Value, axes []int, keepdims bool) Value {
	return must1(Bind(reduceMinP, Params{"axes": axes, "keepdims": keepdims}, x))
}

// ReduceProd reduces by multiplication.
func ReduceProd(x Value, axes []int, keepdims bool) Value {
	return must1(Bind(reduceProdP, Params{"axes": axes, "keepdims": keepdims}, x))
}

// Reshape changes the logical shape.
func Reshape(x Value, shape []int) Value {
	return must1(Bind(reshapeP, Params{"shape": shape}, x))
}

// Transpose permutes axes; nil reverses.
func Transpose(x Value, axes []int) Value {
	return must1(Bind(transposeP, Params{"axes": axes}, x))
}

// BroadcastTo expands to shape.
func BroadcastTo(x Value, shape []int) Value {
	return must1(Bind(broadcastP, Params{"shape": shape}, x))
}

// SliceOp restricts each axis to [start, stop) with optional steps.
func SliceOp(x Value, starts, stops, steps []int) Value {
	return must1(Bind(sliceP, Params{"starts": starts, "stops": stops, "steps": steps}, x))
}

// PadOp widens axes with zeros.
func PadOp(x Value, widths [][2]int) Value {
	return must1(Bind(padP, Params{"widths": widths}, x))
}

// FlipOp reverses axes.
func FlipOp(x Value, axes []int) Value {
	return must1(Bind(flipP, Params{"axes": axes}, x))
}

// Concat joins values along axis.
func Concat(vs []Value, axis int) Value {
	return must1(Bind(concatP, Params{"axis": axis}, vs...))
}

// ThreefryOp derives count random u32 words from a two-word key.
func ThreefryOp(key Value, count int) Value {
	return must1(Bind(threefryP, Params{"count": count}, key))
}

// SortOp sorts along axis.
func SortOp(x Value, axis int) Value {
	return must1(Bind(sortP, Params{"axis": axis}, x))
}

// ArgsortOp returns the sorting permutation along axis.
func ArgsortOp(x Value, axis int) Value {
	return must1(Bind(argsortP, Params{"axis": axis}, x))
}

// CholeskyOp factors a symmetric positive definite matrix.
func CholeskyOp(x Value) Value { return must1(Bind(choleskyP, nil, x)) }

// SolveTriangularOp solves a triangular system.
func SolveTriangularOp(a, b Value, lower, unit bool) Value {
	return must1(Bind(solveTriP, Params{"lower": lower, "unitDiagonal": unit}, a, b))
}

// Library-level compositions. These are not primitives: they decompose
// into the ops above, so every transformation handles them for free.

// Matmul contracts the last axis of a with the second-to-last of b by
// broadcasting both into a shared index space and reducing.
func Matmul(a, b Value) Value {
	aAv, bAv := a.Aval(), b.Aval()
	ra, rb := len(aAv.Shape), len(bAv.Shape)
	squeezeA, squeezeB := false, false
	if ra == 1 {
		a = Reshape(a, []int{1, aAv.Shape[0]})
		aAv, ra = a.Aval(), 2
		squeezeA = true
	}
	if rb == 1 {
		b = Reshape(b, []int{bAv.Shape[0], 1})
		bAv, rb = b.Aval(), 2
		squeezeB = true
	}
	m, k := aAv.Shape[ra-2], aAv.Shape[ra-1]
	n := bAv.Shape[rb-1]
	batch := aAv.Shape[:ra-2]

	full := append(append([]int(nil), batch...), m, n, k)
	av := Reshape(a, append(append([]int(nil), batch...), m, 1, k))
	av = BroadcastTo(av, full)

	perm := make([]int, rb)
	for i := 0; i < rb-2; i++ {
		perm[i] = i
	}
	perm[rb-2], perm[rb-1] = rb-1, rb-2
	bv := Transpose(b, perm)
	bv = Reshape(bv, append(append([]int(nil), batch...), 1, n, k))
	bv = BroadcastTo(bv, full)

	out := ReduceSum(Mul(av, bv), []int{len(full) - 1}, false)
	shape := out.Aval().Shape
	switch {
	case squeezeA && squeezeB:
		return Reshape(out, nil)
	case squeezeA:
		return Reshape(out, append(append([]int(nil), shape[:len(shape)-2]...), shape[len(shape)-1]))
	case squeezeB:
		return Reshape(out, shape[:len(shape)-1])
	default:
		return out
	}
}

// Mean reduces by addition and divides by the element count.
func Mean(x Value, axes []int, keepdims bool) Value {
	av := x.Aval()
	n := 1
	if axes == nil {
		n = av.Size()
	} else {
		for _, ax := range axes {
			if ax < 0 {
				ax += len(av.Shape)
			}
			n *= av.Shape[ax]
		}
	}
	s := ReduceSum(x, axes, keepdims)
	return Scale(s, 1.0/float64(n))
}

// Scale multiplies by a host scalar, fused as a constant.
func Scale(x Value, c float64) Value {
	return must1(Bind(scaleP, Params{"value": c}, x))
}

// Mod is the element-wise remainder.
func Mod(a, b Value) Value { return must1(Bind(modP, nil, a, b)) }

// FullLike builds a constant with x's shape, dtype and device.
func FullLike(x Value, v float64) Value {
	return must1(Bind(fullLikeP, Params{"value": v}, x))
}
