// Package array implements the lazy frontend: an array handle records an
// ALU recipe over refcounted device buffers and a shape tracker, and
// realization turns recipes into kernels scheduled as pending
// executables. Nothing runs until a read forces it.
package array

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/view"
)

// Array is a lazy array handle. The recipe exp reads the buffers in
// inputs through GlobalView leaves; a realized array is the special case
// of a bare GlobalView over one buffer. Arrays are immutable: every
// operation returns a new handle. Each handle owns one reference on each
// of its input buffers until Dispose.
type Array struct {
	shape  []int
	dtype  alu.DType
	dev    device.Backend
	exp    *alu.Exp
	inputs []device.Buffer
	pend   []*Pending

	disposed bool
}

// Shape returns the logical shape. The slice must not be mutated.
func (a *Array) Shape() []int { return a.shape }

// DType returns the element dtype.
func (a *Array) DType() alu.DType { return a.dtype }

// Device returns the backend the array lives on.
func (a *Array) Device() device.Backend { return a.dev }

// Size returns the element count.
func (a *Array) Size() int { return view.NumElements(a.shape) }

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return len(a.shape) }

// String formats the handle for diagnostics.
func (a *Array) String() string {
	return fmt.Sprintf("Array[%s]%v on %s", a.dtype, a.shape, a.dev.Name())
}

// newArray assembles a handle, retaining one reference per input buffer.
func newArray(shape []int, dt alu.DType, dev device.Backend, exp *alu.Exp,
	inputs []device.Buffer, pend []*Pending) *Array {
	for _, b := range inputs {
		b.Retain()
	}
	return &Array{
		shape:  append([]int(nil), shape...),
		dtype:  dt,
		dev:    dev,
		exp:    exp,
		inputs: inputs,
		pend:   pend,
	}
}

// fromBuffer wraps an existing buffer as a realized array.
func fromBuffer(shape []int, dt alu.DType, dev device.Backend, buf device.Buffer, pend []*Pending) *Array {
	exp := alu.GlobalView(dt, 0, view.FromShape(shape), nil)
	return newArray(shape, dt, dev, exp, []device.Buffer{buf}, pend)
}

// Dispose releases the handle's buffer references. Reading a disposed
// handle is an error; double dispose is a no-op.
func (a *Array) Dispose() {
	if a.disposed {
		return
	}
	a.disposed = true
	for _, b := range a.inputs {
		_ = b.Release()
	}
	a.inputs = nil
}

// Disposed reports whether the handle has been disposed.
func (a *Array) Disposed() bool { return a.disposed }

func (a *Array) check() error {
	if a.disposed {
		return errors.Wrap(device.ErrFreedBuffer, "array disposed")
	}
	return nil
}

// realized reports whether the recipe is a bare identity view over one
// buffer.
func (a *Array) realized() bool {
	if a.exp.Op != alu.OpGlobalView || len(a.inputs) != 1 {
		return false
	}
	t := a.exp.Arg.(alu.ViewArg).Tracker.(*view.Tracker)
	return t.Contiguous()
}

// bareView reports whether the recipe is a single view read (contiguous
// or not) of one buffer.
func (a *Array) bareView() (*view.Tracker, bool) {
	if a.exp.Op != alu.OpGlobalView || len(a.inputs) != 1 {
		return nil, false
	}
	return a.exp.Arg.(alu.ViewArg).Tracker.(*view.Tracker), true
}

// Realize forces the handle to be backed by a contiguous buffer,
// scheduling one kernel when the recipe is anything else. Idempotent;
// the dispatch itself stays pending until a read.
func (a *Array) Realize() (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if a.realized() {
		return a, nil
	}
	return a.materialize(nil)
}

// materialize builds the kernel for the current recipe (with an optional
// reduction), allocates the output buffer and records a pending
// executable.
func (a *Array) materialize(red *kernel.Reduction) (*Array, error) {
	outDT := a.dtype
	k := &kernel.Kernel{
		NumInputs: len(a.inputs),
		Size:      a.Size(),
		Exp:       a.exp,
		Reduce:    red,
	}
	out, err := a.dev.Alloc(k.Size*outDT.Size(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "allocate output")
	}
	p := newPending(a.dev, k, a.inputs, []device.Buffer{out})
	pend := appendPending(a.pend, p)
	res := fromBuffer(a.shape, outDT, a.dev, out, pend)
	// The pending holds its own reference; drop the allocation's.
	_ = out.Release()
	return res, nil
}

// derive builds a sibling handle with a new recipe over the same inputs.
func (a *Array) derive(shape []int, dt alu.DType, exp *alu.Exp) *Array {
	return newArray(shape, dt, a.dev, exp, a.inputs, a.pend)
}

// mergeOperand remaps b's recipe onto a merged input list, deduplicating
// buffers shared between the operands. It returns the rewritten
// expression, the merged inputs and the merged pending list.
func mergeOperand(a, b *Array) (*alu.Exp, []device.Buffer, []*Pending) {
	inputs := append([]device.Buffer(nil), a.inputs...)
	gids := make(map[device.Buffer]int, len(inputs))
	for i, buf := range inputs {
		gids[buf] = i
	}
	remap := make(map[int]int, len(b.inputs))
	for i, buf := range b.inputs {
		if g, ok := gids[buf]; ok {
			remap[i] = g
			continue
		}
		gids[buf] = len(inputs)
		remap[i] = len(inputs)
		inputs = append(inputs, buf)
	}
	exp := b.exp.Rewrite(func(n *alu.Exp) *alu.Exp {
		switch n.Op {
		case alu.OpGlobalView:
			arg := n.Arg.(alu.ViewArg)
			if remap[arg.Gid] == arg.Gid {
				return nil
			}
			return alu.New(alu.OpGlobalView, n.DType, n.Src, alu.ViewArg{Gid: remap[arg.Gid], Tracker: arg.Tracker})
		case alu.OpGlobalIndex:
			arg := n.Arg.(alu.IndexArg)
			if remap[arg.Gid] == arg.Gid {
				return nil
			}
			return alu.New(alu.OpGlobalIndex, n.DType, n.Src, alu.IndexArg{Gid: remap[arg.Gid]})
		}
		return nil
	})
	return exp, inputs, mergePending(a.pend, b.pend)
}

// rewriteTrackers applies a movement to every view leaf of the recipe.
func (a *Array) rewriteTrackers(move func(*view.Tracker) (*view.Tracker, error)) (*alu.Exp, error) {
	var moveErr error
	exp := a.exp.Rewrite(func(n *alu.Exp) *alu.Exp {
		if n.Op != alu.OpGlobalView || moveErr != nil {
			return nil
		}
		arg := n.Arg.(alu.ViewArg)
		t, ok := arg.Tracker.(*view.Tracker)
		if !ok {
			moveErr = errors.New("array: foreign tracker in recipe")
			return nil
		}
		nt, err := move(t)
		if err != nil {
			moveErr = err
			return nil
		}
		return alu.New(alu.OpGlobalView, n.DType, n.Src, alu.ViewArg{Gid: arg.Gid, Tracker: nt})
	})
	if moveErr != nil {
		return nil, moveErr
	}
	return exp, nil
}
