package trace

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
)

// one liners adapting the eager array layer to the Impl signature.

func impl1(f func(*array.Array) (*array.Array, error)) func([]*array.Array, Params) ([]*array.Array, error) {
	return func(args []*array.Array, _ Params) ([]*array.Array, error) {
		out, err := f(args[0])
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
}

func impl2(f func(*array.Array, *array.Array) (*array.Array, error)) func([]*array.Array, Params) ([]*array.Array, error) {
	return func(args []*array.Array, _ Params) ([]*array.Array, error) {
		out, err := f(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
}

// Shared abstract rules.

func ewAbstract2(in []Aval, _ Params) ([]Aval, error) {
	if !in[0].Equal(in[1]) {
		return nil, errors.Errorf("operands disagree: %s vs %s", in[0], in[1])
	}
	return []Aval{in[0]}, nil
}

func ewAbstract1(in []Aval, _ Params) ([]Aval, error) {
	return []Aval{in[0]}, nil
}

func cmpAbstract(in []Aval, _ Params) ([]Aval, error) {
	if !in[0].Equal(in[1]) {
		return nil, errors.Errorf("operands disagree: %s vs %s", in[0], in[1])
	}
	return []Aval{{Shape: in[0].Shape, DType: alu.Bool}}, nil
}

// zeroLike builds a symbolic zero with v's shape and dtype.
func zeroLike(v Value) Value { return Sub(v, v) }

// tadd combines tangents under the nil-means-zero convention.
func tadd(a, b Value) Value {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return Add(a, b)
	}
}

// jvpLinear1 is the forward rule for unary linear primitives: apply the
// primitive to both primal and tangent.
func jvpLinear1(p *Primitive) func([]Value, []Value, Params) ([]Value, []Value, error) {
	return func(primals, tangents []Value, params Params) ([]Value, []Value, error) {
		outs, err := Bind(p, params, primals...)
		if err != nil {
			return nil, nil, err
		}
		if tangents[0] == nil {
			return outs, []Value{nil}, nil
		}
		touts, err := Bind(p, params, tangents...)
		if err != nil {
			return nil, nil, err
		}
		return outs, touts, nil
	}
}

// jvpNondiff passes zero tangents through.
func jvpNondiff(p *Primitive) func([]Value, []Value, Params) ([]Value, []Value, error) {
	return func(primals, _ []Value, params Params) ([]Value, []Value, error) {
		outs, err := Bind(p, params, primals...)
		if err != nil {
			return nil, nil, err
		}
		return outs, make([]Value, len(outs)), nil
	}
}

// Primitive definitions. Rules that need the op helpers are attached in
// initRules to avoid initialisation cycles.

var (
	addP   = &Primitive{Name: "add", Impl: impl2((*array.Array).Add), Abstract: ewAbstract2}
	subP   = &Primitive{Name: "sub", Impl: impl2((*array.Array).Sub), Abstract: ewAbstract2}
	mulP   = &Primitive{Name: "mul", Impl: impl2((*array.Array).Mul), Abstract: ewAbstract2}
	divP   = &Primitive{Name: "div", Impl: impl2((*array.Array).Div), Abstract: ewAbstract2}
	powP   = &Primitive{Name: "pow", Impl: impl2((*array.Array).Pow), Abstract: ewAbstract2}
	minP   = &Primitive{Name: "minimum", Impl: impl2((*array.Array).Minimum), Abstract: ewAbstract2}
	maxP   = &Primitive{Name: "maximum", Impl: impl2((*array.Array).Maximum), Abstract: ewAbstract2}
	negP   = &Primitive{Name: "neg", Impl: impl1((*array.Array).Neg), Abstract: ewAbstract1}
	recipP = &Primitive{Name: "recip", Impl: impl1((*array.Array).Reciprocal), Abstract: ewAbstract1}
	expP   = &Primitive{Name: "exp", Impl: impl1((*array.Array).Exp), Abstract: ewAbstract1}
	logP   = &Primitive{Name: "log", Impl: impl1((*array.Array).Log), Abstract: ewAbstract1}
	sinP   = &Primitive{Name: "sin", Impl: impl1((*array.Array).Sin), Abstract: ewAbstract1}
	cosP   = &Primitive{Name: "cos", Impl: impl1((*array.Array).Cos), Abstract: ewAbstract1}
	sqrtP  = &Primitive{Name: "sqrt", Impl: impl1((*array.Array).Sqrt), Abstract: ewAbstract1}
	absP   = &Primitive{Name: "abs", Impl: impl1((*array.Array).Abs), Abstract: ewAbstract1}

	eqP = &Primitive{Name: "eq", Impl: impl2((*array.Array).Eq), Abstract: cmpAbstract}
	neP = &Primitive{Name: "ne", Impl: impl2((*array.Array).Ne), Abstract: cmpAbstract}
	ltP = &Primitive{Name: "lt", Impl: impl2((*array.Array).Lt), Abstract: cmpAbstract}
	leP = &Primitive{Name: "le", Impl: impl2((*array.Array).Le), Abstract: cmpAbstract}
	gtP = &Primitive{Name: "gt", Impl: impl2((*array.Array).Gt), Abstract: cmpAbstract}
	geP = &Primitive{Name: "ge", Impl: impl2((*array.Array).Ge), Abstract: cmpAbstract}

	modP = &Primitive{Name: "mod", Impl: impl2((*array.Array).Mod), Abstract: ewAbstract2}

	whereP    = &Primitive{Name: "where"}
	castP     = &Primitive{Name: "cast"}
	scaleP    = &Primitive{Name: "scale"}
	fullLikeP = &Primitive{Name: "full_like"}

	reduceSumP  = &Primitive{Name: "reduce_sum"}
	reduceMaxP  = &Primitive{Name: "reduce_max"}
	reduceMinP  = &Primitive{Name: "reduce_min"}
	reduceProdP = &Primitive{Name: "reduce_prod"}

	reshapeP   = &Primitive{Name: "reshape"}
	transposeP = &Primitive{Name: "transpose"}
	broadcastP = &Primitive{Name: "broadcast_to"}
	sliceP     = &Primitive{Name: "slice"}
	padP       = &Primitive{Name: "pad"}
	flipP      = &Primitive{Name: "flip"}
	concatP    = &Primitive{Name: "concatenate"}

	threefryP = &Primitive{Name: "threefry2x32"}
	sortP     = &Primitive{Name: "sort"}
	argsortP  = &Primitive{Name: "argsort"}
	choleskyP = &Primitive{Name: "cholesky"}
	solveTriP = &Primitive{Name: "solve_triangular"}
)

func init() {
	initEw()
	initSelect()
	initReduce()
	initMovement()
	initRoutines()
	initVmap()
}

// initEw attaches forward and transpose rules to the element-wise ops.
func initEw() {
	addP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(addP, p, pr...)
		return out, []Value{tadd(tn[0], tn[1])}, err
	}
	addP.Transpose = func(ct Value, _ []Value, _ []Aval, _ []bool, _ Params) ([]Value, error) {
		return []Value{ct, ct}, nil
	}

	subP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(subP, p, pr...)
		var t Value
		switch {
		case tn[0] == nil && tn[1] == nil:
		case tn[1] == nil:
			t = tn[0]
		case tn[0] == nil:
			t = Neg(tn[1])
		default:
			t = Sub(tn[0], tn[1])
		}
		return out, []Value{t}, err
	}
	subP.Transpose = func(ct Value, _ []Value, _ []Aval, _ []bool, _ Params) ([]Value, error) {
		return []Value{ct, Neg(ct)}, nil
	}

	negP.JVP = jvpLinear1(negP)
	negP.Transpose = func(ct Value, _ []Value, _ []Aval, _ []bool, _ Params) ([]Value, error) {
		return []Value{Neg(ct)}, nil
	}

	mulP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(mulP, p, pr...)
		if err != nil {
			return nil, nil, err
		}
		var t Value
		if tn[0] != nil {
			t = Mul(tn[0], pr[1])
		}
		if tn[1] != nil {
			t = tadd(t, Mul(pr[0], tn[1]))
		}
		return out, []Value{t}, nil
	}
	mulP.Transpose = func(ct Value, in []Value, _ []Aval, linear []bool, _ Params) ([]Value, error) {
		out := make([]Value, 2)
		switch {
		case linear[0] && !linear[1]:
			out[0] = Mul(ct, in[1])
		case linear[1] && !linear[0]:
			out[1] = Mul(ct, in[0])
		default:
			return nil, errors.New("mul transpose needs exactly one linear operand")
		}
		return out, nil
	}

	divP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(divP, p, pr...)
		if err != nil {
			return nil, nil, err
		}
		var t Value
		if tn[0] != nil {
			t = Div(tn[0], pr[1])
		}
		if tn[1] != nil {
			// - a * tb / b^2
			t = tadd(t, Neg(Div(Mul(pr[0], tn[1]), Mul(pr[1], pr[1]))))
		}
		return out, []Value{t}, nil
	}
	divP.Transpose = func(ct Value, in []Value, _ []Aval, linear []bool, _ Params) ([]Value, error) {
		if !linear[0] || linear[1] {
			return nil, errors.New("div transpose needs a linear numerator")
		}
		return []Value{Div(ct, in[1]), nil}, nil
	}

	recipP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(recipP, p, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		y := out[0]
		return out, []Value{Neg(Mul(tn[0], Mul(y, y)))}, nil
	}

	expP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(expP, p, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		return out, []Value{Mul(tn[0], out[0])}, nil
	}

	logP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(logP, p, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		return out, []Value{Div(tn[0], pr[0])}, nil
	}

	sinP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(sinP, p, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		return out, []Value{Mul(tn[0], Cos(pr[0]))}, nil
	}

	cosP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(cosP, p, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		return out, []Value{Neg(Mul(tn[0], Sin(pr[0])))}, nil
	}

	sqrtP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(sqrtP, p, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		y := out[0]
		return out, []Value{Div(tn[0], Add(y, y))}, nil
	}

	absP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(absP, p, pr...)
		if err != nil || tn[0] == nil {
			return out, []Value{nil}, err
		}
		sign := Where(Ge(pr[0], zeroLike(pr[0])), tn[0], Neg(tn[0]))
		return out, []Value{sign}, nil
	}

	powP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(powP, p, pr...)
		if err != nil {
			return nil, nil, err
		}
		var t Value
		if tn[0] != nil {
			// b * a^b / a
			t = Mul(tn[0], Div(Mul(pr[1], out[0]), pr[0]))
		}
		if tn[1] != nil {
			t = tadd(t, Mul(tn[1], Mul(Log(pr[0]), out[0])))
		}
		return out, []Value{t}, nil
	}

	minP.JVP = chooseJVP(minP, false)
	maxP.JVP = chooseJVP(maxP, true)

	for _, p := range []*Primitive{eqP, neP, ltP, leP, gtP, geP, modP} {
		p.JVP = jvpNondiff(p)
	}

	fullLikeP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		v := p["value"].(float64)
		dt := args[0].DType()
		var s alu.Scalar
		switch {
		case dt.IsFloat():
			s = alu.FloatScalar(dt, v)
		case dt.IsInt():
			s = alu.IntScalar(dt, int64(v))
		default:
			s = alu.BoolScalar(v != 0)
		}
		out, err := array.Full(args[0].Device(), args[0].Shape(), s)
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	fullLikeP.Abstract = ewAbstract1
	fullLikeP.JVP = jvpNondiff(fullLikeP)
}

// chooseJVP routes the tangent of the winning operand through.
func chooseJVP(p *Primitive, wantMax bool) func([]Value, []Value, Params) ([]Value, []Value, error) {
	return func(pr, tn []Value, params Params) ([]Value, []Value, error) {
		out, err := Bind(p, params, pr...)
		if err != nil {
			return nil, nil, err
		}
		if tn[0] == nil && tn[1] == nil {
			return out, []Value{nil}, nil
		}
		ta, tb := tn[0], tn[1]
		if ta == nil {
			ta = zeroLike(tb)
		}
		if tb == nil {
			tb = zeroLike(ta)
		}
		var cond Value
		if wantMax {
			cond = Ge(pr[0], pr[1])
		} else {
			cond = Le(pr[0], pr[1])
		}
		return out, []Value{Where(cond, ta, tb)}, nil
	}
}

func initSelect() {
	whereP.Impl = func(args []*array.Array, _ Params) ([]*array.Array, error) {
		out, err := array.Where(args[0], args[1], args[2])
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	whereP.Abstract = func(in []Aval, _ Params) ([]Aval, error) {
		if in[0].DType != alu.Bool {
			return nil, errors.Errorf("where condition must be bool, got %s", in[0].DType)
		}
		if !in[1].Equal(in[2]) {
			return nil, errors.Errorf("where branches disagree: %s vs %s", in[1], in[2])
		}
		return []Aval{in[1]}, nil
	}
	whereP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(whereP, p, pr...)
		if err != nil {
			return nil, nil, err
		}
		if tn[1] == nil && tn[2] == nil {
			return out, []Value{nil}, nil
		}
		tx, ty := tn[1], tn[2]
		if tx == nil {
			tx = zeroLike(ty)
		}
		if ty == nil {
			ty = zeroLike(tx)
		}
		return out, []Value{Where(pr[0], tx, ty)}, nil
	}
	whereP.Transpose = func(ct Value, in []Value, _ []Aval, linear []bool, _ Params) ([]Value, error) {
		if linear[0] {
			return nil, errors.New("where transpose through the condition")
		}
		z := zeroLike(ct)
		out := make([]Value, 3)
		if linear[1] {
			out[1] = Where(in[0], ct, z)
		}
		if linear[2] {
			out[2] = Where(in[0], z, ct)
		}
		return out, nil
	}

	castP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].Cast(p["dtype"].(alu.DType))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	castP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		return []Aval{{Shape: in[0].Shape, DType: p["dtype"].(alu.DType)}}, nil
	}
	castP.JVP = func(pr, tn []Value, p Params) ([]Value, []Value, error) {
		out, err := Bind(castP, p, pr...)
		if err != nil {
			return nil, nil, err
		}
		dt := p["dtype"].(alu.DType)
		if tn[0] == nil || !dt.IsFloat() || !pr[0].Aval().DType.IsFloat() {
			return out, []Value{nil}, nil
		}
		return out, []Value{Cast(tn[0], dt)}, nil
	}
	castP.Transpose = func(ct Value, _ []Value, inAvals []Aval, _ []bool, _ Params) ([]Value, error) {
		return []Value{Cast(ct, inAvals[0].DType)}, nil
	}

	scaleP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].MulScalar(p["value"].(float64))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	scaleP.Abstract = ewAbstract1
	scaleP.JVP = jvpLinear1(scaleP)
	scaleP.Transpose = func(ct Value, _ []Value, _ []Aval, _ []bool, p Params) ([]Value, error) {
		return []Value{Scale(ct, p["value"].(float64))}, nil
	}
}
