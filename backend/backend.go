// Copyright 2025 The Glint Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend exposes device management: initialising the available
// backends, selecting a default device and direct access to the uniform
// backend interface. Importing this package registers the cpu, vm and
// webgpu backends.
package backend

import (
	"github.com/glint-ml/glint/internal/device"

	// Register the concrete backends.
	_ "github.com/glint-ml/glint/internal/device/cpu"
	_ "github.com/glint-ml/glint/internal/device/vm"
	_ "github.com/glint-ml/glint/internal/device/webgpu"
)

// Backend is the uniform device interface.
type Backend = device.Backend

// Buffer is a refcounted device allocation.
type Buffer = device.Buffer

// Common errors.
var (
	ErrFreedBuffer    = device.ErrFreedBuffer
	ErrUnknownDevice  = device.ErrUnknownDevice
	ErrNotInitialized = device.ErrNotInitialized
	ErrUnsupported    = device.ErrUnsupported
)

// Init initialises the named devices, or every registered device when
// none are given, returning the names that came up. Idempotent.
func Init(devices ...string) ([]string, error) {
	return device.Init(devices...)
}

// Get returns an initialised backend; the empty name selects the
// default device.
func Get(name string) (Backend, error) { return device.Get(name) }

// SetDefault selects the default device.
func SetDefault(name string) error { return device.SetDefault(name) }

// Registered lists the compiled-in backend names.
func Registered() []string { return device.Registered() }

// Shutdown closes every initialised backend.
func Shutdown() { device.Shutdown() }
