// Package tuner lowers kernels into executable plans. The null plan is a
// direct lowering used by the reference and bytecode backends; the GPU
// plan additionally chooses upcast, unroll and group factors to improve
// coalescing and cache behaviour. Tuning never changes numerical
// semantics, only the schedule.
package tuner

import (
	"k8s.io/klog/v2"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/view"
)

// Dims records the factors chosen for a plan.
type Dims struct {
	Groups int // threads cooperating on one output
	Reduce int // length of the per-thread reduction loop
	Unroll int // unrolled inner reduction steps
	Upcast int // outputs produced per thread
}

// Plan is a lowered kernel. Exp reads inputs through GlobalIndex nodes
// and the thread specials; OutIndex maps thread specials to the flat
// output element index.
type Plan struct {
	Kernel   *kernel.Kernel
	Exp      *alu.Exp
	OutIndex *alu.Exp
	Fusion   *alu.Exp // lowered reduction epilogue, nil when absent
	Threads  int
	Dims     Dims
}

// Lower produces the null plan: one thread per output element, gidx and
// ridx used directly, views resolved through their shape trackers.
func Lower(k *kernel.Kernel) *Plan {
	exp := lowerViews(k.Exp, k, nil, nil)
	dims := Dims{Groups: 1, Reduce: 1, Unroll: 1, Upcast: 1}
	var fusion *alu.Exp
	if k.Reduce != nil {
		dims.Reduce = k.Reduce.Size
		if k.Reduce.Fusion != nil {
			fusion = lowerViews(k.Reduce.Fusion, k, nil, nil).Simplify()
		}
	}
	return &Plan{
		Kernel:   k,
		Exp:      exp.Simplify(),
		OutIndex: alu.Gidx(k.Size),
		Fusion:   fusion,
		Threads:  k.Size,
		Dims:     dims,
	}
}

// lowerViews replaces every GlobalView with a masked GlobalIndex read.
// When outIndex/reduceIndex are nil the raw gidx/ridx specials are used.
func lowerViews(e *alu.Exp, k *kernel.Kernel, outIndex, reduceIndex *alu.Exp) *alu.Exp {
	if outIndex != nil {
		sub := map[string]*alu.Exp{alu.SpecialGidx: outIndex}
		if reduceIndex != nil {
			sub[alu.SpecialRidx] = reduceIndex
		}
		e = e.Rewrite(func(n *alu.Exp) *alu.Exp {
			if n.Op != alu.OpSpecial {
				return nil
			}
			return sub[n.Arg.(alu.SpecialArg).Name]
		})
	}
	return e.Rewrite(func(n *alu.Exp) *alu.Exp {
		if n.Op != alu.OpGlobalView {
			return nil
		}
		arg := n.Arg.(alu.ViewArg)
		indices := n.Src
		if len(indices) == 0 {
			indices = viewIndices(arg.Tracker.Shape(), k, outIndex, reduceIndex)
		}
		return loadExp(n.DType, arg, indices)
	})
}

// viewIndices derives per-dimension logical indices for a view with no
// explicit index expressions. For reductions the last tracker dimension
// is the reduction axis.
func viewIndices(shape []int, k *kernel.Kernel, outIndex, reduceIndex *alu.Exp) []*alu.Exp {
	flat := outIndex
	if flat == nil {
		flat = alu.Gidx(k.Size)
	}
	if k.Reduce == nil {
		return view.ExpandIndex(flat, shape)
	}
	r := reduceIndex
	if r == nil {
		r = alu.Ridx(k.Reduce.Size)
	}
	out := view.ExpandIndex(flat, shape[:len(shape)-1])
	return append(out, r)
}

func loadExp(dt alu.DType, arg alu.ViewArg, indices []*alu.Exp) *alu.Exp {
	offset, valid := arg.Tracker.ToAluExp(indices)
	load := alu.GlobalIndex(dt, arg.Gid, offset)
	if valid == nil {
		return load
	}
	return alu.Where(valid, load, alu.Const(identityOf(dt)))
}

func identityOf(dt alu.DType) alu.Scalar {
	return kernel.ReduceAdd.Identity(dt)
}

// Options bound the tuned plan to device limits.
type Options struct {
	MaxWorkgroup  int // threads per workgroup the device supports
	MaxGroup      int // cap on the group factor
	UpcastTarget  int // keep upcasting while remaining outputs >= this
	MaxUpcast     int
	MinGroupedRed int // reductions shorter than this never group
}

// DefaultOptions match the common GPU adapter limits.
func DefaultOptions() Options {
	return Options{
		MaxWorkgroup:  256,
		MaxGroup:      64,
		UpcastTarget:  1024,
		MaxUpcast:     16,
		MinGroupedRed: 256,
	}
}

// Tune produces the GPU plan. It falls back to the null plan when the
// kernel's views do not share one index shape.
func Tune(k *kernel.Kernel, opts Options) *Plan {
	views := k.Exp.Collect(func(n *alu.Exp) bool { return n.Op == alu.OpGlobalView })

	// All views must agree on the index shape and defer their indices to
	// the lowering; anything else takes the null path.
	var shape []int
	for _, v := range views {
		t := v.Arg.(alu.ViewArg).Tracker
		if len(v.Src) != 0 {
			klog.V(2).Infof("tuner: explicit view indices, using null plan")
			return Lower(k)
		}
		if shape == nil {
			shape = t.Shape()
		} else if !equalInts(shape, t.Shape()) {
			klog.V(2).Infof("tuner: mismatched view shapes %v vs %v, using null plan", shape, t.Shape())
			return Lower(k)
		}
	}

	reduceSize := 1
	if k.Reduce != nil {
		reduceSize = k.Reduce.Size
	}
	outShape := []int{k.Size}
	if shape != nil {
		outShape = shape
		if k.Reduce != nil {
			outShape = shape[:len(shape)-1]
		}
	}

	st := newState(k, views, outShape)
	st.chooseUpcast(opts)
	unroll := chooseUnroll(reduceSize)
	groups := chooseGroups(k, reduceSize, unroll, st.upcast, opts)

	return st.emit(unroll, groups)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func chooseUnroll(reduceSize int) int {
	switch {
	case reduceSize >= 8 && reduceSize%4 == 0:
		return 4
	case reduceSize >= 4 && reduceSize%2 == 0:
		return 2
	default:
		return 1
	}
}

func chooseGroups(k *kernel.Kernel, reduceSize, unroll, upcast int, opts Options) int {
	if k.Reduce == nil || reduceSize < opts.MinGroupedRed {
		return 1
	}
	// Grouping only pays when the output grid alone cannot fill the
	// device.
	if k.Size/upcast >= opts.UpcastTarget {
		return 1
	}
	per := reduceSize / unroll
	for g := opts.MaxGroup; g > 1; g /= 2 {
		if per%g == 0 {
			return g
		}
	}
	return 1
}
