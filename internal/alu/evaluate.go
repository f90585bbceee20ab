package alu

import (
	"fmt"
	"math"
)

// Env supplies the runtime bindings for Evaluate: values for special
// nodes, the reduction accumulator, and a typed reader for global inputs.
type Env struct {
	Specials map[string]int64
	Acc      *Scalar
	// Global reads element index from input gid as dt. May be nil for
	// expressions without buffer reads (constant folding).
	Global func(gid int, index int64, dt DType) Scalar
}

// Evaluate tree-walks the expression. A special with no binding, or a
// global read with no reader, is a fatal usage error.
func (e *Exp) Evaluate(env *Env) Scalar {
	switch e.Op {
	case OpConst:
		return e.Arg.(Scalar)

	case OpSpecial:
		arg := e.Arg.(SpecialArg)
		if arg.Name == SpecialAcc {
			if env == nil || env.Acc == nil {
				panic("alu: evaluate acc outside a reduction epilogue")
			}
			return *env.Acc
		}
		if env == nil || env.Specials == nil {
			panic("alu: evaluate special " + arg.Name + " with no bindings")
		}
		v, ok := env.Specials[arg.Name]
		if !ok {
			panic("alu: unbound special " + arg.Name)
		}
		if e.DType.IsFloat() {
			return FloatScalar(e.DType, float64(v))
		}
		return IntScalar(e.DType, v)

	case OpGlobalIndex:
		if env == nil || env.Global == nil {
			panic("alu: evaluate global read with no reader")
		}
		idx := e.Src[0].Evaluate(env).Int()
		return env.Global(e.Arg.(IndexArg).Gid, idx, e.DType)

	case OpGlobalView:
		arg := e.Arg.(ViewArg)
		if len(e.Src) == 0 {
			panic("alu: evaluate unlowered view read")
		}
		off, valid := arg.Tracker.ToAluExp(e.Src)
		if valid != nil && !valid.Evaluate(env).Bool() {
			return zeroOf(e.DType)
		}
		if env == nil || env.Global == nil {
			panic("alu: evaluate global read with no reader")
		}
		return env.Global(arg.Gid, off.Evaluate(env).Int(), e.DType)

	case OpWhere:
		if e.Src[0].Evaluate(env).Bool() {
			return e.Src[1].Evaluate(env)
		}
		return e.Src[2].Evaluate(env)

	case OpCast:
		return e.Src[0].Evaluate(env).Cast(e.DType)
	}

	if e.Op.IsComparison() {
		return evalCompare(e.Op, e.Src[0].Evaluate(env), e.Src[1].Evaluate(env))
	}
	if len(e.Src) == 1 {
		return evalUnary(e.Op, e.DType, e.Src[0].Evaluate(env))
	}
	if len(e.Src) == 2 {
		return evalBinary(e.Op, e.DType, e.Src[0].Evaluate(env), e.Src[1].Evaluate(env))
	}
	panic(fmt.Sprintf("alu: evaluate unhandled op %s", e.Op))
}

func zeroOf(dt DType) Scalar {
	switch {
	case dt.IsFloat():
		return FloatScalar(dt, 0)
	case dt.IsInt():
		return IntScalar(dt, 0)
	default:
		return BoolScalar(false)
	}
}

func evalCompare(op Op, a, b Scalar) Scalar {
	var r bool
	if a.DType.IsFloat() {
		x, y := a.F, b.F
		switch op {
		case OpEq:
			r = x == y
		case OpNe:
			r = x != y
		case OpLt:
			r = x < y
		case OpLe:
			r = x <= y
		case OpGt:
			r = x > y
		case OpGe:
			r = x >= y
		}
	} else {
		x, y := a.Int(), b.Int()
		if a.DType == Uint32 {
			x, y = int64(uint32(x)), int64(uint32(y))
		}
		switch op {
		case OpEq:
			r = x == y
		case OpNe:
			r = x != y
		case OpLt:
			r = x < y
		case OpLe:
			r = x <= y
		case OpGt:
			r = x > y
		case OpGe:
			r = x >= y
		}
	}
	return BoolScalar(r)
}

func evalUnary(op Op, dt DType, x Scalar) Scalar {
	if dt.IsInt() {
		v := x.Int()
		switch op {
		case OpNeg:
			return IntScalar(dt, -v)
		case OpAbs:
			if v < 0 {
				v = -v
			}
			return IntScalar(dt, v)
		default:
			panic(fmt.Sprintf("alu: %s on integer dtype %s", op, dt))
		}
	}
	v := x.F
	var r float64
	switch op {
	case OpNeg:
		r = -v
	case OpRecip:
		r = 1 / v
	case OpExp:
		r = math.Exp(v)
	case OpLog:
		r = math.Log(v)
	case OpSin:
		r = math.Sin(v)
	case OpCos:
		r = math.Cos(v)
	case OpTan:
		r = math.Tan(v)
	case OpAtan:
		r = math.Atan(v)
	case OpAsin:
		r = math.Asin(v)
	case OpSqrt:
		r = math.Sqrt(v)
	case OpAbs:
		r = math.Abs(v)
	case OpErf:
		r = math.Erf(v)
	case OpErfc:
		r = math.Erfc(v)
	default:
		panic(fmt.Sprintf("alu: unhandled unary %s", op))
	}
	if dt == Float32 || dt == Float16 {
		r = float64(float32(r))
	}
	return FloatScalar(dt, r)
}

func evalBinary(op Op, dt DType, a, b Scalar) Scalar {
	if dt.IsInt() {
		x, y := a.Int(), b.Int()
		var r int64
		switch op {
		case OpAdd:
			r = x + y
		case OpSub:
			r = x - y
		case OpMul:
			r = x * y
		case OpDiv, OpIDiv:
			if y == 0 {
				r = 0
			} else {
				r = x / y
			}
		case OpMod:
			if y == 0 {
				r = 0
			} else {
				r = x % y
			}
		case OpMin:
			r = min(x, y)
		case OpMax:
			r = max(x, y)
		default:
			panic(fmt.Sprintf("alu: %s on integer dtype %s", op, dt))
		}
		return IntScalar(dt, r)
	}
	x, y := a.F, b.F
	var r float64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		r = x / y
	case OpIDiv:
		r = math.Trunc(x / y)
	case OpMod:
		r = math.Mod(x, y)
	case OpMin:
		r = math.Min(x, y)
	case OpMax:
		r = math.Max(x, y)
	case OpPow:
		r = math.Pow(x, y)
	default:
		panic(fmt.Sprintf("alu: unhandled binary %s", op))
	}
	if dt == Float32 || dt == Float16 {
		r = float64(float32(r))
	}
	return FloatScalar(dt, r)
}
