// Package kernel defines the unit of compiled work: a fused single-output
// computation over up to N input buffers, with an optional reduction.
package kernel

import (
	"fmt"
	"math"

	"github.com/glint-ml/glint/internal/alu"
)

// ReduceOp is the combining operator of a reduction.
type ReduceOp int

// Supported reduction operators.
const (
	ReduceAdd ReduceOp = iota
	ReduceMul
	ReduceMin
	ReduceMax
)

// String returns the mnemonic for the reduce op.
func (op ReduceOp) String() string {
	switch op {
	case ReduceAdd:
		return "add"
	case ReduceMul:
		return "mul"
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	default:
		return "unknown"
	}
}

// Identity returns the starting accumulator value for the op at dt.
// Reductions over empty axes yield exactly this value.
func (op ReduceOp) Identity(dt alu.DType) alu.Scalar {
	switch op {
	case ReduceAdd:
		return zero(dt)
	case ReduceMul:
		return one(dt)
	case ReduceMin:
		return extremum(dt, true)
	case ReduceMax:
		return extremum(dt, false)
	default:
		panic("kernel: unknown reduce op")
	}
}

// Combine folds one element into the accumulator.
func (op ReduceOp) Combine(acc, v alu.Scalar) alu.Scalar {
	switch op {
	case ReduceAdd:
		return binop(alu.OpAdd, acc, v)
	case ReduceMul:
		return binop(alu.OpMul, acc, v)
	case ReduceMin:
		return binop(alu.OpMin, acc, v)
	case ReduceMax:
		return binop(alu.OpMax, acc, v)
	default:
		panic("kernel: unknown reduce op")
	}
}

func binop(op alu.Op, a, b alu.Scalar) alu.Scalar {
	return alu.New(op, a.DType, []*alu.Exp{alu.Const(a), alu.Const(b)}, nil).Evaluate(nil)
}

func zero(dt alu.DType) alu.Scalar {
	if dt.IsFloat() {
		return alu.FloatScalar(dt, 0)
	}
	if dt.IsInt() {
		return alu.IntScalar(dt, 0)
	}
	return alu.BoolScalar(false)
}

func one(dt alu.DType) alu.Scalar {
	if dt.IsFloat() {
		return alu.FloatScalar(dt, 1)
	}
	if dt.IsInt() {
		return alu.IntScalar(dt, 1)
	}
	return alu.BoolScalar(true)
}

func extremum(dt alu.DType, positive bool) alu.Scalar {
	switch dt {
	case alu.Float16, alu.Float32, alu.Float64:
		if positive {
			return alu.FloatScalar(dt, math.Inf(1))
		}
		return alu.FloatScalar(dt, math.Inf(-1))
	case alu.Int32:
		if positive {
			return alu.IntScalar(dt, math.MaxInt32)
		}
		return alu.IntScalar(dt, math.MinInt32)
	case alu.Uint32:
		if positive {
			return alu.IntScalar(dt, math.MaxUint32)
		}
		return alu.IntScalar(dt, 0)
	case alu.Bool:
		return alu.BoolScalar(positive)
	default:
		panic("kernel: extremum of unknown dtype")
	}
}

// Reduction describes how per-element values combine into one output.
// Exp reads ridx in [0, Size); the executor folds Size elements via Op
// starting from the identity and, when Fusion is set, applies it to the
// accumulator (exposed as the acc special) before storing.
type Reduction struct {
	Op     ReduceOp
	Size   int
	Fusion *alu.Exp
}

// Kernel is a fused computation producing Size output elements, each the
// value of Exp at one gidx (folded over ridx when Reduce is set).
type Kernel struct {
	NumInputs int
	Size      int
	Exp       *alu.Exp
	Reduce    *Reduction
}

// DType returns the output element type.
func (k *Kernel) DType() alu.DType {
	if k.Reduce != nil && k.Reduce.Fusion != nil {
		return k.Reduce.Fusion.DType
	}
	return k.Exp.DType
}

// Key returns a cache key identifying the kernel's generated code.
// Kernels with equal keys compile to the same executable.
func (k *Kernel) Key() string {
	key := fmt.Sprintf("n%d:s%d:e%x", k.NumInputs, k.Size, k.Exp.Key())
	if k.Reduce != nil {
		key += fmt.Sprintf(":r%s%d", k.Reduce.Op, k.Reduce.Size)
		if k.Reduce.Fusion != nil {
			key += fmt.Sprintf(":f%x", k.Reduce.Fusion.Key())
		}
	}
	return key
}
