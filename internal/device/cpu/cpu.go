// Package cpu implements the reference backend: buffers are host byte
// slices and kernels run on the ALU tree-walk evaluator. It is the
// correctness baseline the other backends are tested against.
package cpu

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/parallel"
	"github.com/glint-ml/glint/internal/routines"
	"github.com/glint-ml/glint/internal/tuner"
)

func init() {
	device.Register("cpu", func() (device.Backend, error) { return New(), nil })
}

// Backend evaluates kernels by tree-walking their ALU expressions.
type Backend struct {
	mu    sync.Mutex
	execs map[string]*executable
	live  int
}

// New creates a reference backend.
func New() *Backend {
	return &Backend{execs: make(map[string]*executable)}
}

// Name returns the backend name.
func (b *Backend) Name() string { return "cpu" }

type buffer struct {
	device.RefCount
	backend *Backend
	data    []byte
}

func (buf *buffer) Size() int { return len(buf.data) }

func (buf *buffer) Release() error {
	free, err := buf.ReleaseRef()
	if err != nil {
		return err
	}
	if free {
		buf.backend.mu.Lock()
		buf.backend.live--
		buf.backend.mu.Unlock()
		buf.data = nil
	}
	return nil
}

// Alloc creates a host buffer with refcount 1.
func (b *Backend) Alloc(size int, init []byte) (device.Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("cpu: negative allocation size %d", size)
	}
	buf := &buffer{backend: b, data: make([]byte, size)}
	buf.InitRef()
	if init != nil {
		copy(buf.data, init)
	}
	b.mu.Lock()
	b.live++
	b.mu.Unlock()
	return buf, nil
}

// Read returns bytes from the buffer. Dispatch is synchronous on this
// backend, so there is never pending work to drain.
func (b *Backend) Read(buf device.Buffer, start, count int) ([]byte, error) {
	hb, err := b.host(buf)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		count = len(hb.data) - start
	}
	if start < 0 || start+count > len(hb.data) {
		return nil, device.ErrBadRange
	}
	out := make([]byte, count)
	copy(out, hb.data[start:start+count])
	return out, nil
}

func (b *Backend) host(buf device.Buffer) (*buffer, error) {
	hb, ok := buf.(*buffer)
	if !ok {
		return nil, errors.New("cpu: buffer belongs to another backend")
	}
	if hb.Freed() {
		return nil, device.ErrFreedBuffer
	}
	return hb, nil
}

type executable struct {
	plan *tuner.Plan
}

func (e *executable) Kernel() *kernel.Kernel { return e.plan.Kernel }

// Prepare lowers the kernel through the null tuner. Plans are cached by
// the kernel's structural key.
func (b *Backend) Prepare(k *kernel.Kernel) (device.Executable, error) {
	key := k.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.execs[key]; ok {
		return e, nil
	}
	e := &executable{plan: tuner.Lower(k)}
	b.execs[key] = e
	return e, nil
}

// PrepareAsync compiles on a separate goroutine.
func (b *Backend) PrepareAsync(k *kernel.Kernel) <-chan device.PrepareResult {
	ch := make(chan device.PrepareResult, 1)
	go func() {
		e, err := b.Prepare(k)
		ch <- device.PrepareResult{Exec: e, Err: err}
	}()
	return ch
}

// Dispatch runs the kernel immediately: one evaluation per output index,
// folding the reduction when present.
func (b *Backend) Dispatch(e device.Executable, inputs, outputs []device.Buffer) error {
	ex, ok := e.(*executable)
	if !ok {
		return errors.New("cpu: executable belongs to another backend")
	}
	plan := ex.plan
	k := plan.Kernel
	if len(inputs) != k.NumInputs || len(outputs) != 1 {
		return errors.Errorf("cpu: dispatch expects %d inputs and 1 output, got %d and %d",
			k.NumInputs, len(inputs), len(outputs))
	}

	ins := make([][]byte, len(inputs))
	for i, in := range inputs {
		hb, err := b.host(in)
		if err != nil {
			return err
		}
		ins[i] = hb.data
	}
	out, err := b.host(outputs[0])
	if err != nil {
		return err
	}

	outDT := k.DType()
	klog.V(3).Infof("cpu: dispatch %d elements, reduce=%v", k.Size, k.Reduce != nil)
	parallel.ForChunks(k.Size, func(start, end int) {
		env := &alu.Env{
			Specials: map[string]int64{},
			Global: func(gid int, index int64, dt alu.DType) alu.Scalar {
				return device.LoadScalar(ins[gid], dt, index)
			},
		}
		for i := start; i < end; i++ {
			env.Specials[alu.SpecialGidx] = int64(i)
			var v alu.Scalar
			if k.Reduce == nil {
				v = plan.Exp.Evaluate(env)
			} else {
				acc := k.Reduce.Op.Identity(plan.Exp.DType)
				for r := 0; r < k.Reduce.Size; r++ {
					env.Specials[alu.SpecialRidx] = int64(r)
					acc = k.Reduce.Op.Combine(acc, plan.Exp.Evaluate(env))
				}
				if plan.Fusion != nil {
					env.Acc = &acc
					acc = plan.Fusion.Evaluate(env)
					env.Acc = nil
				}
				v = acc
			}
			device.StoreScalar(out.data, outDT, int64(i), v)
		}
	}, parallel.DefaultConfig())
	return nil
}

// Routine runs a named host routine over the buffers.
func (b *Backend) Routine(name string, params map[string]any, inputs, outputs []device.Buffer) error {
	ins := make([][]byte, len(inputs))
	for i, in := range inputs {
		hb, err := b.host(in)
		if err != nil {
			return err
		}
		ins[i] = hb.data
	}
	outs := make([][]byte, len(outputs))
	for i, o := range outputs {
		hb, err := b.host(o)
		if err != nil {
			return err
		}
		outs[i] = hb.data
	}
	return routines.Run(name, params, ins, outs)
}

// LiveBuffers returns the number of allocated buffers.
func (b *Backend) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Close drops the executable cache.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execs = make(map[string]*executable)
}
