package alu

import (
	"fmt"
	"math"
)

// Scalar is a typed runtime value produced by evaluating an expression.
// Float dtypes use F, integer dtypes use I (Uint32 is stored zero-extended),
// Bool uses B.
type Scalar struct {
	DType DType
	F     float64
	I     int64
	B     bool
}

// FloatScalar builds a float-dtype scalar.
func FloatScalar(dt DType, v float64) Scalar {
	if !dt.IsFloat() {
		panic("alu: FloatScalar with non-float dtype " + dt.String())
	}
	return Scalar{DType: dt, F: v}
}

// IntScalar builds an integer-dtype scalar. Uint32 values are masked to
// 32 bits.
func IntScalar(dt DType, v int64) Scalar {
	switch dt {
	case Int32:
		return Scalar{DType: dt, I: int64(int32(v))}
	case Uint32:
		return Scalar{DType: dt, I: int64(uint32(v))}
	default:
		panic("alu: IntScalar with non-integer dtype " + dt.String())
	}
}

// BoolScalar builds a Bool scalar.
func BoolScalar(v bool) Scalar {
	return Scalar{DType: Bool, B: v}
}

// Float returns the value as a float64 regardless of dtype.
func (s Scalar) Float() float64 {
	switch {
	case s.DType.IsFloat():
		return s.F
	case s.DType.IsInt():
		return float64(s.I)
	default:
		if s.B {
			return 1
		}
		return 0
	}
}

// Int returns the value as an int64, truncating floats toward zero.
func (s Scalar) Int() int64 {
	switch {
	case s.DType.IsInt():
		return s.I
	case s.DType.IsFloat():
		return int64(s.F)
	default:
		if s.B {
			return 1
		}
		return 0
	}
}

// Bool returns the value interpreted as a truth value.
func (s Scalar) Bool() bool {
	switch {
	case s.DType == Bool:
		return s.B
	case s.DType.IsInt():
		return s.I != 0
	default:
		return s.F != 0
	}
}

// Cast converts the scalar to the target dtype with C-like semantics.
func (s Scalar) Cast(dt DType) Scalar {
	if dt == s.DType {
		return s
	}
	switch {
	case dt.IsFloat():
		v := s.Float()
		if dt == Float16 {
			// Round-trip through f32 precision; storage packing happens
			// at the buffer boundary.
			v = float64(float32(v))
		} else if dt == Float32 {
			v = float64(float32(v))
		}
		return Scalar{DType: dt, F: v}
	case dt.IsInt():
		var v int64
		if s.DType.IsFloat() {
			f := s.F
			if math.IsNaN(f) {
				f = 0
			}
			v = int64(f)
		} else {
			v = s.Int()
		}
		return IntScalar(dt, v)
	default:
		return BoolScalar(s.Bool())
	}
}

// Equal reports exact equality between two scalars of the same dtype.
// NaN compares unequal to everything, including itself.
func (s Scalar) Equal(o Scalar) bool {
	if s.DType != o.DType {
		return false
	}
	switch {
	case s.DType.IsFloat():
		return s.F == o.F
	case s.DType.IsInt():
		return s.I == o.I
	default:
		return s.B == o.B
	}
}

// String formats the scalar for diagnostics.
func (s Scalar) String() string {
	switch {
	case s.DType.IsFloat():
		return fmt.Sprintf("%v%s", s.F, s.DType)
	case s.DType.IsInt():
		return fmt.Sprintf("%d%s", s.I, s.DType)
	default:
		return fmt.Sprintf("%v", s.B)
	}
}
