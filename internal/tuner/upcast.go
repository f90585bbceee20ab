package tuner

import (
	"k8s.io/klog/v2"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/view"
)

// state tracks the movement the upcast pass applies to every view
// tracker: chosen output axes are split and their factor sub-axes moved
// to the innermost output position, so one thread handles Upcast
// consecutive register values.
type state struct {
	k        *kernel.Kernel
	views    []*alu.Exp
	trackers map[*alu.Exp]*view.Tracker
	out      *view.Tracker // identity over the original output shape
	outShape []int         // remaining (non-upcast) output dims
	upShape  []int         // chosen factors, newest innermost
	upcast   int
	fallback bool
}

func newState(k *kernel.Kernel, views []*alu.Exp, outShape []int) *state {
	st := &state{
		k:        k,
		views:    views,
		trackers: make(map[*alu.Exp]*view.Tracker, len(views)),
		out:      view.FromShape(outShape),
		outShape: append([]int(nil), outShape...),
		upcast:   1,
	}
	for _, v := range views {
		t, ok := v.Arg.(alu.ViewArg).Tracker.(*view.Tracker)
		if !ok {
			st.fallback = true
			return st
		}
		st.trackers[v] = t
	}
	return st
}

type candidate struct {
	axis, factor         int
	nonzero, strideTotal int
}

func (c candidate) better(o candidate) bool {
	if c.nonzero != o.nonzero {
		return c.nonzero < o.nonzero
	}
	if c.strideTotal != o.strideTotal {
		return c.strideTotal < o.strideTotal
	}
	if c.axis != o.axis {
		return c.axis < o.axis
	}
	return c.factor < o.factor
}

// chooseUpcast repeatedly splits the most-broadcast output axis while the
// remaining output grid stays large enough to fill the device.
func (st *state) chooseUpcast(opts Options) {
	if st.fallback {
		return
	}
	for product(st.outShape) >= opts.UpcastTarget && st.upcast < opts.MaxUpcast && !st.fallback {
		best, ok := st.pick()
		if !ok {
			return
		}
		st.apply(best.axis, best.factor)
	}
}

// pick scans output axes for a divisible factor where at least one input
// is broadcast (stride 0), the coalescing-friendly case.
func (st *state) pick() (candidate, bool) {
	var best candidate
	found := false
	for axis, dim := range st.outShape {
		nonzero, total, anyZero := 0, 0, false
		for _, t := range st.trackers {
			s := t.LastStrides()[axis]
			if s == 0 {
				anyZero = true
			} else {
				nonzero++
				total += abs(s)
			}
		}
		if !anyZero {
			continue
		}
		for _, f := range []int{3, 4} {
			if dim%f != 0 || dim == f && product(st.outShape) == dim {
				continue
			}
			c := candidate{axis: axis, factor: f, nonzero: nonzero, strideTotal: total}
			if !found || c.better(best) {
				best, found = c, true
			}
		}
	}
	return best, found
}

// apply splits outShape[axis] into (d/f, f) and permutes the factor
// sub-axis to the innermost output slot on every tracker.
func (st *state) apply(axis, factor int) {
	newOut := append([]int(nil), st.outShape...)
	newOut[axis] /= factor
	split := insertAt(st.outShape, axis, st.outShape[axis]/factor, factor)

	reduceDims := 0
	if st.k.Reduce != nil {
		reduceDims = 1
	}
	for v, t := range st.trackers {
		full := append(append([]int(nil), split...), st.upShape...)
		if reduceDims == 1 {
			full = append(full, st.k.Reduce.Size)
		}
		moved, err := moveInner(t, full, axis+1, reduceDims)
		if err != nil {
			klog.V(2).Infof("tuner: upcast movement failed: %v", err)
			st.fallback = true
			return
		}
		st.trackers[v] = moved
	}
	outFull := append(append([]int(nil), split...), st.upShape...)
	moved, err := moveInner(st.out, outFull, axis+1, 0)
	if err != nil {
		st.fallback = true
		return
	}
	st.out = moved
	st.outShape = newOut
	st.upShape = append(st.upShape, factor)
	st.upcast *= factor
}

// moveInner reshapes t to full and permutes dim src to the last position
// before the trailing reduceDims dims.
func moveInner(t *view.Tracker, full []int, src, reduceDims int) (*view.Tracker, error) {
	t, err := t.Reshape(full)
	if err != nil {
		return nil, err
	}
	n := len(full)
	axes := make([]int, 0, n)
	for i := 0; i < n-reduceDims; i++ {
		if i != src {
			axes = append(axes, i)
		}
	}
	axes = append(axes, src)
	for i := n - reduceDims; i < n; i++ {
		axes = append(axes, i)
	}
	return t.Permute(axes)
}

// emit lowers the kernel expression against the moved trackers.
func (st *state) emit(unroll, groups int) *Plan {
	if st.fallback {
		return Lower(st.k)
	}
	k := st.k
	outSize := k.Size / st.upcast
	outer := view.ExpandIndex(alu.Gidx(outSize), st.outShape)
	var upIdx []*alu.Exp
	if st.upcast > 1 {
		upIdx = view.ExpandIndex(alu.Special(alu.Int32, alu.SpecialUpcast, st.upcast), st.upShape)
	}
	fullOut := append(append([]*alu.Exp(nil), outer...), upIdx...)

	outIndex, _ := st.out.ToAluExp(fullOut)
	outIndex = outIndex.Simplify()

	dims := Dims{Groups: groups, Reduce: 1, Unroll: unroll, Upcast: st.upcast}
	var rfull *alu.Exp
	if k.Reduce != nil {
		dims.Reduce = k.Reduce.Size / (groups * unroll)
		rfull = reduceIndex(dims)
	}

	sub := map[string]*alu.Exp{alu.SpecialGidx: outIndex}
	if rfull != nil {
		sub[alu.SpecialRidx] = rfull
	}
	exp := k.Exp.Rewrite(func(n *alu.Exp) *alu.Exp {
		switch n.Op {
		case alu.OpSpecial:
			return sub[n.Arg.(alu.SpecialArg).Name]
		case alu.OpGlobalView:
			arg := n.Arg.(alu.ViewArg)
			indices := fullOut
			if k.Reduce != nil {
				indices = append(append([]*alu.Exp(nil), fullOut...), rfull)
			}
			return loadExp(n.DType, alu.ViewArg{Gid: arg.Gid, Tracker: st.trackers[n]}, indices)
		}
		return nil
	})

	var fusion *alu.Exp
	if k.Reduce != nil && k.Reduce.Fusion != nil {
		fusion = k.Reduce.Fusion.Substitute(map[string]*alu.Exp{alu.SpecialGidx: outIndex}).Simplify()
	}

	return &Plan{
		Kernel:   k,
		Exp:      exp.Simplify(),
		OutIndex: outIndex,
		Fusion:   fusion,
		Threads:  outSize * groups,
		Dims:     dims,
	}
}

// reduceIndex reconstructs the original reduction index from the group,
// ridx and unroll specials: each group handles a contiguous slice.
func reduceIndex(d Dims) *alu.Exp {
	r := alu.Ridx(d.Reduce)
	if d.Unroll > 1 {
		un := alu.Special(alu.Int32, alu.SpecialUnroll, d.Unroll)
		r = alu.Add(alu.Mul(r, alu.ConstInt(alu.Int32, int64(d.Unroll))), un)
	}
	if d.Groups > 1 {
		per := int64(d.Reduce * d.Unroll)
		g := alu.Special(alu.Int32, alu.SpecialGroup, d.Groups)
		r = alu.Add(alu.Mul(g, alu.ConstInt(alu.Int32, per)), r)
	}
	return r.Simplify()
}

func product(s []int) int {
	p := 1
	for _, d := range s {
		p *= d
	}
	return p
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func insertAt(s []int, axis, a, b int) []int {
	out := make([]int, 0, len(s)+1)
	out = append(out, s[:axis]...)
	out = append(out, a, b)
	return append(out, s[axis+1:]...)
}
