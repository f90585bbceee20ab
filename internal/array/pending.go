package array

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
)

// Pending is a recorded-but-not-yet-dispatched kernel execution. It owns
// one reference on each input and output buffer from creation until it
// has been submitted, which keeps buffers alive across the lazy window.
// Preparation starts immediately so compile latency overlaps recording.
type Pending struct {
	dev     device.Backend
	kernel  *kernel.Kernel
	prep    <-chan device.PrepareResult
	exec    device.Executable
	prepErr error

	inputs    []device.Buffer
	outputs   []device.Buffer
	submitted bool
}

func newPending(dev device.Backend, k *kernel.Kernel, inputs, outputs []device.Buffer) *Pending {
	for _, b := range inputs {
		b.Retain()
	}
	for _, b := range outputs {
		b.Retain()
	}
	return &Pending{
		dev:     dev,
		kernel:  k,
		prep:    dev.PrepareAsync(k),
		inputs:  append([]device.Buffer(nil), inputs...),
		outputs: append([]device.Buffer(nil), outputs...),
	}
}

// Submitted reports whether the dispatch has been issued.
func (p *Pending) Submitted() bool { return p.submitted }

// await blocks until preparation finished.
func (p *Pending) await() error {
	if p.exec == nil && p.prepErr == nil {
		r := <-p.prep
		p.exec, p.prepErr = r.Exec, r.Err
	}
	return p.prepErr
}

// submit dispatches the execution once, then drops the buffer
// references the pending was holding.
func (p *Pending) submit() error {
	if p.submitted {
		return nil
	}
	if err := p.await(); err != nil {
		return errors.Wrap(err, "prepare")
	}
	if err := p.dev.Dispatch(p.exec, p.inputs, p.outputs); err != nil {
		return errors.Wrap(err, "dispatch")
	}
	p.submitted = true
	for _, b := range p.inputs {
		_ = b.Release()
	}
	for _, b := range p.outputs {
		_ = b.Release()
	}
	p.inputs, p.outputs = nil, nil
	return nil
}

// appendPending adds p to the ordered set, keeping insertion order and
// dropping already-submitted entries.
func appendPending(set []*Pending, p *Pending) []*Pending {
	out := make([]*Pending, 0, len(set)+1)
	for _, q := range set {
		if !q.submitted {
			out = append(out, q)
		}
	}
	return append(out, p)
}

// mergePending unions two ordered pending sets. Relative order within
// each set is preserved; entries already submitted are dropped lazily.
func mergePending(a, b []*Pending) []*Pending {
	out := make([]*Pending, 0, len(a)+len(b))
	seen := make(map[*Pending]bool, len(a)+len(b))
	for _, set := range [2][]*Pending{a, b} {
		for _, p := range set {
			if p.submitted || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// drain prepares every pending concurrently (preparation already started
// at record time), then dispatches in recorded order.
func drain(set []*Pending) error {
	for _, p := range set {
		if p.submitted {
			continue
		}
		if err := p.await(); err != nil {
			return errors.Wrap(err, "prepare")
		}
	}
	for _, p := range set {
		if err := p.submit(); err != nil {
			return err
		}
	}
	return nil
}
