// Copyright 2025 The Glint Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package transform exposes the composable program transformations: jit
// (trace, compile, cache), vmap (batching), jvp (forward-mode), vjp and
// grad (reverse-mode). Transformed functions are written against the
// traceable op surface re-exported here.
package transform

import (
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/trace"
)

// Value is a traceable value: a concrete array or a transformation's
// tracer.
type Value = trace.Value

// Func is the shape of a transformable function.
type Func = func([]Value) []Value

// JitFunc is a trace-compile-cache wrapper.
type JitFunc = trace.JitFunc

// Jaxpr is the traced program IR.
type Jaxpr = trace.Jaxpr

// Aval is an abstract value (shape and dtype).
type Aval = trace.Aval

// Lift wraps an eager array for traced code.
func Lift(a *array.Array) Value { return trace.Lift(a) }

// Arr unwraps a concrete result.
func Arr(v Value) *array.Array { return trace.Arr(v) }

// Jit wraps f with trace-compile-cache semantics; staticArgnums name
// arguments that are trace-time constants.
func Jit(f Func, staticArgnums ...int) *JitFunc { return trace.Jit(f, staticArgnums...) }

// Vmap vectorises f along the given input axes (negative = unbatched).
func Vmap(f Func, inAxes []int) func([]Value) ([]Value, error) {
	return trace.Vmap(f, inAxes)
}

// JVP computes f(primals) and its directional derivative.
func JVP(f Func, primals, tangents []Value) (outs, outTangents []Value, err error) {
	return trace.JVP(f, primals, tangents)
}

// VJP returns f(primals) and a pullback from output cotangents to input
// cotangents.
func VJP(f Func, primals []Value) ([]Value, func([]Value) ([]Value, error), error) {
	return trace.VJP(f, primals)
}

// Grad differentiates a scalar-valued f.
func Grad(f Func) func([]Value) ([]Value, error) { return trace.Grad(f) }

// Stage traces f to a jaxpr without running it.
func Stage(f Func, in []Aval) (*Jaxpr, error) { return trace.Stage(f, in) }

// Traceable op surface, re-exported for transformed functions.
var (
	Add     = trace.Add
	Sub     = trace.Sub
	Mul     = trace.Mul
	Div     = trace.Div
	Pow     = trace.Pow
	Minimum = trace.Minimum
	Maximum = trace.Maximum
	Mod     = trace.Mod
	Neg     = trace.Neg
	Recip   = trace.Recip
	Exp     = trace.Exp
	Log     = trace.Log
	Sin     = trace.Sin
	Cos     = trace.Cos
	Sqrt    = trace.Sqrt
	Abs     = trace.Abs

	Eq = trace.Eq
	Ne = trace.Ne
	Lt = trace.Lt
	Le = trace.Le
	Gt = trace.Gt
	Ge = trace.Ge

	Where    = trace.Where
	Cast     = trace.Cast
	Scale    = trace.Scale
	FullLike = trace.FullLike

	ReduceSum  = trace.ReduceSum
	ReduceMax  = trace.ReduceMax
	ReduceMin  = trace.ReduceMin
	ReduceProd = trace.ReduceProd
	Mean       = trace.Mean

	Reshape     = trace.Reshape
	TransposeOp = trace.Transpose
	BroadcastTo = trace.BroadcastTo
	Slice       = trace.SliceOp
	Pad         = trace.PadOp
	Flip        = trace.FlipOp
	Concat      = trace.Concat

	Matmul   = trace.Matmul
	Threefry = trace.ThreefryOp

	ZerosLike = trace.ZerosLike
	OnesLike  = trace.OnesLike
)
