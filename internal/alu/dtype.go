// Package alu implements the scalar expression IR that kernels are built
// from. Expressions are immutable, structurally shared trees over a small
// set of primitive dtypes; the same tree is consumed by the reference
// interpreter, the bytecode assembler and the shader text generator.
package alu

// DType is the primitive scalar type carried by every expression node.
type DType int

// Supported scalar dtypes. The zero value is not a valid dtype, which
// lets option structs treat it as "unset".
const (
	Bool DType = iota + 1
	Int32
	Uint32
	Float16
	Float32
	Float64
)

// Size returns the storage size of the dtype in bytes.
func (dt DType) Size() int {
	switch dt {
	case Bool:
		return 1
	case Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("alu: unknown dtype")
	}
}

// String returns a human-readable name for the dtype.
func (dt DType) String() string {
	switch dt {
	case Bool:
		return "bool"
	case Int32:
		return "i32"
	case Uint32:
		return "u32"
	case Float16:
		return "f16"
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the dtype is a floating point type.
func (dt DType) IsFloat() bool {
	return dt == Float16 || dt == Float32 || dt == Float64
}

// IsInt reports whether the dtype is an integer type.
func (dt DType) IsInt() bool {
	return dt == Int32 || dt == Uint32
}
