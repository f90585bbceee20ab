// Package device defines the uniform backend contract: refcounted opaque
// buffers, kernel preparation and FIFO dispatch. Concrete backends live in
// the cpu, vm and webgpu sub-packages and register themselves with the
// process-wide registry.
package device

import (
	"sync/atomic"

	"github.com/glint-ml/glint/internal/kernel"
)

// Buffer is an opaque refcounted device allocation.
type Buffer interface {
	// Size returns the allocation size in bytes.
	Size() int
	// Retain increments the reference count.
	Retain()
	// Release decrements the reference count, freeing the storage at
	// zero. Releasing an already-freed buffer returns ErrFreedBuffer.
	Release() error
	// Freed reports whether the storage has been reclaimed.
	Freed() bool
}

// Executable is compiled kernel code, reusable across dispatches.
type Executable interface {
	Kernel() *kernel.Kernel
}

// PrepareResult carries the outcome of an asynchronous prepare.
type PrepareResult struct {
	Exec Executable
	Err  error
}

// Backend is the uniform device interface. All methods must be called
// from the goroutine that created the backend; cross-device traffic is an
// explicit Read plus Alloc.
type Backend interface {
	Name() string

	// Alloc creates a buffer with refcount 1, optionally initialised
	// from init. Zero-size allocations are valid.
	Alloc(size int, init []byte) (Buffer, error)

	// Read returns count bytes starting at start, blocking until every
	// previously dispatched write to the buffer is visible. A negative
	// count reads to the end.
	Read(b Buffer, start, count int) ([]byte, error)

	// Prepare compiles the kernel, returning a cached executable when
	// one exists. Pure with respect to buffer handles.
	Prepare(k *kernel.Kernel) (Executable, error)

	// PrepareAsync compiles off the caller's critical path so compile
	// latency can overlap with other work.
	PrepareAsync(k *kernel.Kernel) <-chan PrepareResult

	// Dispatch enqueues one execution. Dispatches are observed in FIFO
	// order by any subsequent Read of an output.
	Dispatch(e Executable, inputs, outputs []Buffer) error

	// Routine runs a named non-fusible operation over realized,
	// contiguous buffers.
	Routine(name string, params map[string]any, inputs, outputs []Buffer) error

	// LiveBuffers returns the number of currently allocated buffers.
	LiveBuffers() int

	Close()
}

// RefCount is the shared refcounting core embedded by backend buffers.
// The free hook runs exactly once, when the count reaches zero.
type RefCount struct {
	refs  atomic.Int32
	freed atomic.Bool
}

// InitRef sets the initial count of one.
func (rc *RefCount) InitRef() { rc.refs.Store(1) }

// Retain increments the count.
func (rc *RefCount) Retain() { rc.refs.Add(1) }

// ReleaseRef decrements the count. It returns (true, nil) when the
// storage should be freed, and ErrFreedBuffer when the buffer was already
// freed.
func (rc *RefCount) ReleaseRef() (bool, error) {
	if rc.freed.Load() {
		return false, ErrFreedBuffer
	}
	if rc.refs.Add(-1) == 0 {
		rc.freed.Store(true)
		return true, nil
	}
	return false, nil
}

// Freed reports whether the storage has been reclaimed.
func (rc *RefCount) Freed() bool { return rc.freed.Load() }
