package vm

import (
	"math"
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
	device.Register("vm", func() (device.Backend, error) { return New(), nil })
}

// Backend runs kernels as interpreted stack-machine bytecode over host
// memory buffers.
type Backend struct {
	mu    sync.Mutex
	execs map[string]*executable
	live  int
}

// New creates a bytecode backend.
func New() *Backend {
	return &Backend{execs: make(map[string]*executable)}
}

// Name returns the backend name.
func (b *Backend) Name() string { return "vm" }

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
		return nil, errors.Errorf("vm: negative allocation size %d", size)
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

func (b *Backend) host(buf device.Buffer) (*buffer, error) {
	hb, ok := buf.(*buffer)
	if !ok {
		return nil, errors.New("vm: buffer belongs to another backend")
	}
	if hb.Freed() {
		return nil, device.ErrFreedBuffer
	}
	return hb, nil
}

// Read returns bytes from the buffer; dispatch is synchronous here.
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

type executable struct {
	k      *kernel.Kernel
	plan   *tuner.Plan
	main   *program
	fusion *program
}

func (e *executable) Kernel() *kernel.Kernel { return e.k }

// Prepare lowers through the null tuner and assembles the bytecode.
// Programs are cached by the kernel's structural key.
func (b *Backend) Prepare(k *kernel.Kernel) (device.Executable, error) {
	key := k.Key()
	b.mu.Lock()
	if e, ok := b.execs[key]; ok {
		b.mu.Unlock()
		return e, nil
	}
	b.mu.Unlock()

	plan := tuner.Lower(k)
	main, err := assemble(plan.Exp)
	if err != nil {
		return nil, errors.Wrap(err, "vm: assemble kernel")
	}
	var fusion *program
	if plan.Fusion != nil {
		fusion, err = assemble(plan.Fusion)
		if err != nil {
			return nil, errors.Wrap(err, "vm: assemble reduction epilogue")
		}
	}
	e := &executable{k: k, plan: plan, main: main, fusion: fusion}
	klog.V(3).Infof("vm: assembled %d instrs (stack %d) for %s", len(main.code), main.maxStack, key)

	b.mu.Lock()
	b.execs[key] = e
	b.mu.Unlock()
	return e, nil
}

// PrepareAsync assembles on a separate goroutine.
func (b *Backend) PrepareAsync(k *kernel.Kernel) <-chan device.PrepareResult {
	ch := make(chan device.PrepareResult, 1)
	go func() {
		e, err := b.Prepare(k)
		ch <- device.PrepareResult{Exec: e, Err: err}
	}()
	return ch
}

// Dispatch interprets the program once per output element.
func (b *Backend) Dispatch(e device.Executable, inputs, outputs []device.Buffer) error {
	ex, ok := e.(*executable)
	if !ok {
		return errors.New("vm: executable belongs to another backend")
	}
	k := ex.k
	if len(inputs) != k.NumInputs || len(outputs) != 1 {
		return errors.Errorf("vm: dispatch expects %d inputs and 1 output, got %d and %d",
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
	expDT := ex.main.dtype
	parallel.ForChunks(k.Size, func(start, end int) {
		m := &machine{inputs: ins}
		m.reserve(ex.main)
		if ex.fusion != nil && ex.fusion.maxStack > ex.main.maxStack {
			m.reserve(ex.fusion)
		}
		for i := start; i < end; i++ {
			m.specials[slotGidx] = uint32(i)
			var w uint32
			if k.Reduce == nil {
				w = m.run(ex.main)
			} else {
				acc := identityWord(k.Reduce.Op, expDT)
				for r := 0; r < k.Reduce.Size; r++ {
					m.specials[slotRidx] = uint32(r)
					acc = combineWord(k.Reduce.Op, expDT, acc, m.run(ex.main))
				}
				if ex.fusion != nil {
					m.specials[slotAcc] = acc
					acc = m.run(ex.fusion)
				}
				w = acc
			}
			storeWord(out.data, outDT, int64(i), w)
		}
	}, parallel.DefaultConfig())
	return nil
}

func identityWord(op kernel.ReduceOp, dt alu.DType) uint32 {
	id := op.Identity(dt)
	switch {
	case dt.IsFloat():
		return fbits(float32(id.F))
	case dt == alu.Bool:
		return b2u(id.B)
	default:
		return uint32(id.I)
	}
}

func combineWord(op kernel.ReduceOp, dt alu.DType, acc, v uint32) uint32 {
	if dt.IsFloat() {
		a, x := f32(acc), f32(v)
		switch op {
		case kernel.ReduceAdd:
			return fbits(a + x)
		case kernel.ReduceMul:
			return fbits(a * x)
		case kernel.ReduceMin:
			return fbits(float32(math.Min(float64(a), float64(x))))
		case kernel.ReduceMax:
			return fbits(float32(math.Max(float64(a), float64(x))))
		}
	}
	if dt == alu.Uint32 {
		switch op {
		case kernel.ReduceAdd:
			return acc + v
		case kernel.ReduceMul:
			return acc * v
		case kernel.ReduceMin:
			return min(acc, v)
		case kernel.ReduceMax:
			return max(acc, v)
		}
	}
	a, x := int32(acc), int32(v)
	switch op {
	case kernel.ReduceAdd:
		return uint32(a + x)
	case kernel.ReduceMul:
		return uint32(a * x)
	case kernel.ReduceMin:
		return uint32(min(a, x))
	case kernel.ReduceMax:
		return uint32(max(a, x))
	}
	panic("vm: unknown reduce op")
}

// Routine runs the shared host reference over the buffers; results are
// bit-equal with every other backend by construction.
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

// Close drops the program cache.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execs = make(map[string]*executable)
}
