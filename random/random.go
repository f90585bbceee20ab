// Copyright 2025 The Glint Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package random is the public PRNG surface: explicit Threefry keys,
// splitting, and samplers that are pure functions of their key.
package random

import (
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/random"
	"github.com/glint-ml/glint/internal/trace"
)

// Key derives a PRNG key (two u32 words) from a seed on the device.
func Key(seed uint32, deviceName string) (*array.Array, error) {
	dev, err := device.Get(deviceName)
	if err != nil {
		return nil, err
	}
	return random.Key(dev, seed)
}

// Split derives n independent keys, returned as an [n, 2] u32 array.
func Split(key trace.Value, n int) (trace.Value, error) { return random.Split(key, n) }

// Uniform samples from [0, 1).
func Uniform(key trace.Value, shape []int) trace.Value { return random.Uniform(key, shape) }

// Normal samples a standard normal.
func Normal(key trace.Value, shape []int) trace.Value { return random.Normal(key, shape) }

// Bernoulli samples booleans that are true with probability p.
func Bernoulli(key trace.Value, p float64, shape []int) trace.Value {
	return random.Bernoulli(key, p, shape)
}

// Categorical samples class indices from log-probabilities along the
// last axis.
func Categorical(key trace.Value, logits *array.Array) (*array.Array, error) {
	return random.Categorical(key, logits)
}
