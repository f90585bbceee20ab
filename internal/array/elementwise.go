package array

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
)

func sameShape(a, b *Array) error {
	if len(a.shape) != len(b.shape) {
		return errors.Errorf("array: shape mismatch %v vs %v", a.shape, b.shape)
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return errors.Errorf("array: shape mismatch %v vs %v", a.shape, b.shape)
		}
	}
	return nil
}

// binary fuses an element-wise op over two operands with identical shape
// and dtype. The result stays lazy: it is one bigger recipe, not a
// dispatch.
func (a *Array) binary(op alu.Op, b *Array, outDT alu.DType) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	if a.dev != b.dev {
		return nil, errors.Errorf("array: operands on different devices %s and %s", a.dev.Name(), b.dev.Name())
	}
	if err := sameShape(a, b); err != nil {
		return nil, err
	}
	if a.dtype != b.dtype {
		return nil, errors.Errorf("array: dtype mismatch %s vs %s", a.dtype, b.dtype)
	}
	bexp, inputs, pend := mergeOperand(a, b)
	exp := alu.New(op, outDT, []*alu.Exp{a.exp, bexp}, nil)
	return newArray(a.shape, outDT, a.dev, exp, inputs, pend), nil
}

func (a *Array) unary(op alu.Op) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	exp := alu.New(op, a.dtype, []*alu.Exp{a.exp}, nil)
	return a.derive(a.shape, a.dtype, exp), nil
}

// Arithmetic.

func (a *Array) Add(b *Array) (*Array, error) { return a.binary(alu.OpAdd, b, a.dtype) }
func (a *Array) Sub(b *Array) (*Array, error) { return a.binary(alu.OpSub, b, a.dtype) }
func (a *Array) Mul(b *Array) (*Array, error) { return a.binary(alu.OpMul, b, a.dtype) }
func (a *Array) Div(b *Array) (*Array, error) { return a.binary(alu.OpDiv, b, a.dtype) }
func (a *Array) IDiv(b *Array) (*Array, error) { return a.binary(alu.OpIDiv, b, a.dtype) }
func (a *Array) Mod(b *Array) (*Array, error) { return a.binary(alu.OpMod, b, a.dtype) }
func (a *Array) Minimum(b *Array) (*Array, error) { return a.binary(alu.OpMin, b, a.dtype) }
func (a *Array) Maximum(b *Array) (*Array, error) { return a.binary(alu.OpMax, b, a.dtype) }
func (a *Array) Pow(b *Array) (*Array, error) { return a.binary(alu.OpPow, b, a.dtype) }

// Unary math.

func (a *Array) Neg() (*Array, error)        { return a.unary(alu.OpNeg) }
func (a *Array) Reciprocal() (*Array, error) { return a.unary(alu.OpRecip) }
func (a *Array) Exp() (*Array, error)        { return a.unary(alu.OpExp) }
func (a *Array) Log() (*Array, error)        { return a.unary(alu.OpLog) }
func (a *Array) Sin() (*Array, error)        { return a.unary(alu.OpSin) }
func (a *Array) Cos() (*Array, error)        { return a.unary(alu.OpCos) }
func (a *Array) Tan() (*Array, error)        { return a.unary(alu.OpTan) }
func (a *Array) Atan() (*Array, error)       { return a.unary(alu.OpAtan) }
func (a *Array) Asin() (*Array, error)       { return a.unary(alu.OpAsin) }
func (a *Array) Sqrt() (*Array, error)       { return a.unary(alu.OpSqrt) }
func (a *Array) Abs() (*Array, error)        { return a.unary(alu.OpAbs) }
func (a *Array) Erf() (*Array, error)        { return a.unary(alu.OpErf) }
func (a *Array) Erfc() (*Array, error)       { return a.unary(alu.OpErfc) }

// Comparisons, returning bool arrays.

func (a *Array) Eq(b *Array) (*Array, error) { return a.binary(alu.OpEq, b, alu.Bool) }
func (a *Array) Ne(b *Array) (*Array, error) { return a.binary(alu.OpNe, b, alu.Bool) }
func (a *Array) Lt(b *Array) (*Array, error) { return a.binary(alu.OpLt, b, alu.Bool) }
func (a *Array) Le(b *Array) (*Array, error) { return a.binary(alu.OpLe, b, alu.Bool) }
func (a *Array) Gt(b *Array) (*Array, error) { return a.binary(alu.OpGt, b, alu.Bool) }
func (a *Array) Ge(b *Array) (*Array, error) { return a.binary(alu.OpGe, b, alu.Bool) }

// AddScalar fuses a constant into the recipe without a second operand.
func (a *Array) AddScalar(v float64) (*Array, error) { return a.scalarOp(alu.OpAdd, v) }

// SubScalar subtracts a constant.
func (a *Array) SubScalar(v float64) (*Array, error) { return a.scalarOp(alu.OpSub, v) }

// MulScalar multiplies by a constant.
func (a *Array) MulScalar(v float64) (*Array, error) { return a.scalarOp(alu.OpMul, v) }

// DivScalar divides by a constant.
func (a *Array) DivScalar(v float64) (*Array, error) { return a.scalarOp(alu.OpDiv, v) }

func (a *Array) scalarOp(op alu.Op, v float64) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	var c *alu.Exp
	switch {
	case a.dtype.IsFloat():
		c = alu.ConstFloat(a.dtype, v)
	case a.dtype.IsInt():
		c = alu.ConstInt(a.dtype, int64(v))
	default:
		return nil, errors.Errorf("array: scalar arithmetic on %s", a.dtype)
	}
	exp := alu.New(op, a.dtype, []*alu.Exp{a.exp, c}, nil)
	return a.derive(a.shape, a.dtype, exp), nil
}

// Where selects a where cond holds, else b. The condition must be bool;
// branches must agree in shape and dtype.
func Where(cond, a, b *Array) (*Array, error) {
	if err := cond.check(); err != nil {
		return nil, err
	}
	if cond.dtype != alu.Bool {
		return nil, errors.Errorf("array: where condition must be bool, got %s", cond.dtype)
	}
	if err := sameShape(cond, a); err != nil {
		return nil, err
	}
	if err := sameShape(a, b); err != nil {
		return nil, err
	}
	if a.dtype != b.dtype {
		return nil, errors.Errorf("array: where branch dtypes differ: %s vs %s", a.dtype, b.dtype)
	}
	aexp, inputs, pend := mergeOperand(cond, a)
	merged := &Array{shape: cond.shape, dtype: cond.dtype, dev: cond.dev, exp: cond.exp, inputs: inputs, pend: pend}
	bexp, inputs2, pend2 := mergeOperand(merged, b)
	exp := alu.Where(merged.exp, aexp, bexp)
	res := newArray(a.shape, a.dtype, a.dev, exp, inputs2, pend2)
	return res, nil
}

// Cast converts the element dtype.
func (a *Array) Cast(dt alu.DType) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if dt == a.dtype {
		return a, nil
	}
	return a.derive(a.shape, dt, alu.Cast(dt, a.exp)), nil
}
