package webgpu

import (
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/routines"
	"github.com/glint-ml/glint/internal/tuner"
)

func init() {
	device.Register("webgpu", func() (device.Backend, error) { return New() })
}

// Backend runs tuned kernels as WGSL compute shaders.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu    sync.Mutex
	execs map[string]*executable
	live  int

	// Command batching: dispatches accumulate and are submitted together;
	// Read flushes so prior writes become visible.
	pendingMu       sync.Mutex
	pendingCommands []*wgpu.CommandBuffer
}

// New creates a WebGPU backend, or an error when no adapter is available.
func New() (b *Backend, err error) {
	// The native library reports missing drivers by panicking.
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = errors.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, ierr := wgpu.CreateInstance(nil)
	if ierr != nil {
		return nil, errors.Wrap(ierr, "webgpu: create instance")
	}
	adapter, aerr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if aerr != nil {
		instance.Release()
		return nil, errors.Wrap(aerr, "webgpu: request adapter")
	}
	dev, derr := adapter.RequestDevice(nil)
	if derr != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(derr, "webgpu: request device")
	}
	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.New("webgpu: no queue")
	}
	return &Backend{
		instance: instance,
		adapter:  adapter,
		device:   dev,
		queue:    queue,
		execs:    make(map[string]*executable),
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return "webgpu" }

type buffer struct {
	device.RefCount
	backend *Backend
	buf     *wgpu.Buffer
	size    int
}

func (buf *buffer) Size() int { return buf.size }

func (buf *buffer) Release() error {
	free, err := buf.ReleaseRef()
	if err != nil {
		return err
	}
	if free {
		buf.backend.mu.Lock()
		buf.backend.live--
		buf.backend.mu.Unlock()
		if buf.buf != nil {
			buf.buf.Release()
			buf.buf = nil
		}
	}
	return nil
}

// Alloc creates a storage buffer with refcount 1, uploading init through
// a mapped-at-creation window when provided. WebGPU bindings cannot be
// empty, so zero-size requests allocate a minimal placeholder.
func (b *Backend) Alloc(size int, init []byte) (device.Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("webgpu: negative allocation size %d", size)
	}
	allocSize := uint64(size)
	if allocSize == 0 {
		allocSize = 4
	}
	// Storage bindings want 4-byte multiples.
	allocSize = (allocSize + 3) &^ 3

	desc := &wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  allocSize,
	}
	if len(init) > 0 {
		desc.MappedAtCreation = wgpu.True
	}
	gb := b.device.CreateBuffer(desc)
	if len(init) > 0 {
		mapped := gb.GetMappedRange(0, allocSize)
		dst := unsafe.Slice((*byte)(mapped), allocSize)
		copy(dst, init)
		gb.Unmap()
	}

	buf := &buffer{backend: b, buf: gb, size: size}
	buf.InitRef()
	b.mu.Lock()
	b.live++
	b.mu.Unlock()
	return buf, nil
}

func (b *Backend) gpu(buf device.Buffer) (*buffer, error) {
	gb, ok := buf.(*buffer)
	if !ok {
		return nil, errors.New("webgpu: buffer belongs to another backend")
	}
	if gb.Freed() {
		return nil, device.ErrFreedBuffer
	}
	return gb, nil
}

func (b *Backend) queueCommand(cmd *wgpu.CommandBuffer) {
	b.pendingMu.Lock()
	b.pendingCommands = append(b.pendingCommands, cmd)
	b.pendingMu.Unlock()
}

func (b *Backend) flush() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if len(b.pendingCommands) == 0 {
		return
	}
	b.queue.Submit(b.pendingCommands...)
	b.pendingCommands = b.pendingCommands[:0]
}

// Read drains pending dispatches, then copies the range back through a
// staging buffer.
func (b *Backend) Read(buf device.Buffer, start, count int) ([]byte, error) {
	gb, err := b.gpu(buf)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		count = gb.size - start
	}
	if start < 0 || start+count > gb.size {
		return nil, device.ErrBadRange
	}
	if count == 0 {
		return nil, nil
	}
	b.flush()

	// Copy offsets and sizes must be 4-byte aligned; over-read and skip
	// the skew on the host side.
	alignedStart := uint64(start) &^ 3
	skew := uint64(start) - alignedStart
	copySize := (uint64(count) + skew + 3) &^ 3
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  copySize,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(gb.buf, alignedStart, staging, 0, copySize)
	cmd := encoder.Finish(nil)
	b.queue.Submit(cmd)

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, copySize); err != nil {
		return nil, errors.Wrap(err, "webgpu: map staging buffer")
	}
	mapped := staging.GetMappedRange(0, copySize)
	src := unsafe.Slice((*byte)(mapped), copySize)
	out := make([]byte, count)
	copy(out, src[skew:])
	staging.Unmap()
	return out, nil
}

// writeBuffer uploads host bytes into an existing storage buffer.
func (b *Backend) writeBuffer(gb *buffer, data []byte) {
	size := (uint64(len(data)) + 3) &^ 3
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := staging.GetMappedRange(0, size)
	dst := unsafe.Slice((*byte)(mapped), size)
	copy(dst, data)
	staging.Unmap()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, gb.buf, 0, size)
	cmd := encoder.Finish(nil)
	b.queue.Submit(cmd)
	staging.Release()
}

type executable struct {
	k        *kernel.Kernel
	shader   *shader
	pipeline *wgpu.ComputePipeline
}

func (e *executable) Kernel() *kernel.Kernel { return e.k }

// Prepare tunes the kernel, generates WGSL and compiles the pipeline.
// Compile failures surface with the offending shader text attached.
func (b *Backend) Prepare(k *kernel.Kernel) (exec device.Executable, err error) {
	key := k.Key()
	b.mu.Lock()
	if e, ok := b.execs[key]; ok {
		b.mu.Unlock()
		return e, nil
	}
	b.mu.Unlock()

	plan := tuner.Tune(k, tuner.DefaultOptions())
	sh, err := generate(plan)
	if err != nil {
		return nil, err
	}
	klog.V(3).Infof("webgpu: generated shader for %s (%d threads, dims %+v)", key, plan.Threads, plan.Dims)

	defer func() {
		if r := recover(); r != nil {
			exec = nil
			err = errors.Errorf("webgpu: shader compilation failed: %v\n%s", r, sh.source)
		}
	}()
	module := b.device.CreateShaderModuleWGSL(sh.source)
	pipeline := b.device.CreateComputePipelineSimple(nil, module, "main")

	e := &executable{k: k, shader: sh, pipeline: pipeline}
	b.mu.Lock()
	b.execs[key] = e
	b.mu.Unlock()
	return e, nil
}

// PrepareAsync compiles on a separate goroutine so shader compilation
// can overlap other work.
func (b *Backend) PrepareAsync(k *kernel.Kernel) <-chan device.PrepareResult {
	ch := make(chan device.PrepareResult, 1)
	go func() {
		e, err := b.Prepare(k)
		ch <- device.PrepareResult{Exec: e, Err: err}
	}()
	return ch
}

// Dispatch binds the buffers and enqueues one compute pass. The grid
// wraps into two dimensions when the linear workgroup count exceeds the
// platform limit.
func (b *Backend) Dispatch(e device.Executable, inputs, outputs []device.Buffer) error {
	ex, ok := e.(*executable)
	if !ok {
		return errors.New("webgpu: executable belongs to another backend")
	}
	k := ex.k
	if len(inputs) != k.NumInputs || len(outputs) != 1 {
		return errors.Errorf("webgpu: dispatch expects %d inputs and 1 output, got %d and %d",
			k.NumInputs, len(inputs), len(outputs))
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(inputs)+1)
	for i, in := range inputs {
		gb, err := b.gpu(in)
		if err != nil {
			return err
		}
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), gb.buf, 0, bindSize(gb)))
	}
	out, err := b.gpu(outputs[0])
	if err != nil {
		return err
	}
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(inputs)), out.buf, 0, bindSize(out)))

	layout := ex.pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(layout, entries)
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(ex.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)

	x, y := tileGrid(ex.shader.workgroups)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()

	cmd := encoder.Finish(nil)
	b.queueCommand(cmd)
	return nil
}

func bindSize(gb *buffer) uint64 {
	size := (uint64(gb.size) + 3) &^ 3
	if size == 0 {
		size = 4
	}
	return size
}

// tileGrid folds a linear workgroup count into (x, y) under the per-axis
// dispatch limit.
func tileGrid(linear int) (uint32, uint32) {
	if linear <= gridWrapY {
		return uint32(linear), 1
	}
	y := (linear + gridWrapY - 1) / gridWrapY
	return uint32(gridWrapY), uint32(y)
}

// Routine reads the operands back, runs the shared host reference and
// uploads the results, keeping routine semantics bit-equal across
// backends.
func (b *Backend) Routine(name string, params map[string]any, inputs, outputs []device.Buffer) error {
	ins := make([][]byte, len(inputs))
	for i, in := range inputs {
		data, err := b.Read(in, 0, -1)
		if err != nil {
			return err
		}
		ins[i] = data
	}
	outBufs := make([]*buffer, len(outputs))
	outs := make([][]byte, len(outputs))
	for i, o := range outputs {
		gb, err := b.gpu(o)
		if err != nil {
			return err
		}
		outBufs[i] = gb
		outs[i] = make([]byte, gb.size)
	}
	if err := routines.Run(name, params, ins, outs); err != nil {
		return err
	}
	for i, gb := range outBufs {
		b.writeBuffer(gb, outs[i])
	}
	return nil
}

// LiveBuffers returns the number of allocated buffers.
func (b *Backend) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Close flushes pending work and releases the device objects.
func (b *Backend) Close() {
	b.flush()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execs = make(map[string]*executable)
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}
