// Copyright 2025 The Glint Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package array is the public lazy-array surface: construction, movement
// and element-wise operations, reductions, linear algebra and readback.
// Operations record work; nothing executes until a read or an explicit
// Realize.
package array

import (
	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device"

	// Register the concrete backends.
	_ "github.com/glint-ml/glint/backend"
)

// Array is a lazy array handle.
type Array = array.Array

// DType is the element type of an array.
type DType = alu.DType

// Element dtypes.
const (
	Bool    DType = alu.Bool
	Int32   DType = alu.Int32
	Uint32  DType = alu.Uint32
	Float16 DType = alu.Float16
	Float32 DType = alu.Float32
	Float64 DType = alu.Float64
)

// Options select dtype and device for constructors.
type Options struct {
	DType  DType
	Device string
}

func resolve(opts *Options, def DType) (device.Backend, DType, error) {
	name := ""
	dt := def
	if opts != nil {
		name = opts.Device
		if opts.DType != 0 {
			dt = opts.DType
		}
	}
	dev, err := device.Get(name)
	if err != nil {
		return nil, 0, err
	}
	return dev, dt, nil
}

// FromFloats builds an array from host float64 values.
func FromFloats(vals []float64, shape []int, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	return array.FromFloat64s(dev, shape, dt, vals)
}

// FromInts builds an array from host int64 values.
func FromInts(vals []int64, shape []int, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Int32)
	if err != nil {
		return nil, err
	}
	return array.FromInt64s(dev, shape, dt, vals)
}

// FromBytes uploads raw little-endian element bytes.
func FromBytes(data []byte, shape []int, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	return array.FromBytes(dev, shape, dt, data)
}

// Zeros builds a zero-filled array.
func Zeros(shape []int, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	return array.Zeros(dev, shape, dt)
}

// Ones builds a one-filled array.
func Ones(shape []int, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	return array.Ones(dev, shape, dt)
}

// Full builds a constant-filled array.
func Full(shape []int, v float64, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	var s alu.Scalar
	switch {
	case dt.IsFloat():
		s = alu.FloatScalar(dt, v)
	case dt.IsInt():
		s = alu.IntScalar(dt, int64(v))
	default:
		s = alu.BoolScalar(v != 0)
	}
	return array.Full(dev, shape, s)
}

// Arange builds [start, stop) with the given step.
func Arange(start, stop, step float64, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	return array.Arange(dev, start, stop, step, dt)
}

// Linspace builds num evenly spaced values over [start, stop].
func Linspace(start, stop float64, num int, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	return array.Linspace(dev, start, stop, num, dt)
}

// Eye builds an n by m matrix with ones on diagonal k.
func Eye(n, m, k int, opts *Options) (*Array, error) {
	dev, dt, err := resolve(opts, Float32)
	if err != nil {
		return nil, err
	}
	return array.Eye(dev, n, m, k, dt)
}

// Where selects a where cond holds, else b.
func Where(cond, a, b *Array) (*Array, error) { return array.Where(cond, a, b) }

// Matmul contracts the last axis of a with the second-to-last of b.
func Matmul(a, b *Array) (*Array, error) { return array.Matmul(a, b) }

// Dot is the 1-D inner product.
func Dot(a, b *Array) (*Array, error) { return array.Dot(a, b) }

// Concatenate joins arrays along an axis.
func Concatenate(arrs []*Array, axis int) (*Array, error) { return array.Concatenate(arrs, axis) }

// Stack joins arrays along a new axis.
func Stack(arrs []*Array, axis int) (*Array, error) { return array.Stack(arrs, axis) }

// SolveTriangular solves a triangular system.
func SolveTriangular(a, b *Array, lower, unitDiagonal bool) (*Array, error) {
	return array.SolveTriangular(a, b, lower, unitDiagonal)
}

// Cholesky computes the lower-triangular factor.
func Cholesky(a *Array) (*Array, error) { return array.Cholesky(a) }
