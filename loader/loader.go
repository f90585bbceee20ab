// Copyright 2025 The Glint Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader reads and writes safetensors files into device arrays.
package loader

import (
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/loader"
)

// Reader reads tensors out of a safetensors file.
type Reader = loader.Reader

// TensorInfo is one tensor's header entry.
type TensorInfo = loader.TensorInfo

// Open parses the header of a safetensors file.
func Open(path string) (*Reader, error) { return loader.Open(path) }

// Save writes arrays to a safetensors file.
func Save(path string, tensors map[string]*array.Array, metadata map[string]string) error {
	return loader.Save(path, tensors, metadata)
}

// Load opens a file and reads every tensor onto the named device.
func Load(path, deviceName string) (map[string]*array.Array, error) {
	dev, err := device.Get(deviceName)
	if err != nil {
		return nil, err
	}
	r, err := loader.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.LoadAll(dev)
}
