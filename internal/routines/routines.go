// Package routines implements the named operations that resist kernel
// fusion: sorting, triangular solve, Cholesky decomposition and the
// Threefry PRNG. The implementations here are the semantic reference;
// every backend runs them over host-visible copies of its buffers, so
// results are bit-equal across devices.
package routines

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
)

// Routine names.
const (
	Sort      = "sort"
	Argsort   = "argsort"
	SolveTri  = "solve_triangular"
	Cholesky  = "cholesky"
	Threefry  = "threefry2x32"
)

// Run executes the named routine over host byte buffers.
func Run(name string, params map[string]any, ins, outs [][]byte) error {
	switch name {
	case Sort:
		return runSort(params, ins, outs, false)
	case Argsort:
		return runSort(params, ins, outs, true)
	case SolveTri:
		return runSolveTriangular(params, ins, outs)
	case Cholesky:
		return runCholesky(params, ins, outs)
	case Threefry:
		return runThreefry(params, ins, outs)
	default:
		return errors.Wrap(device.ErrUnsupported, "routine "+name)
	}
}

func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key].(int)
	if !ok {
		return 0, errors.Errorf("routines: missing %s parameter", key)
	}
	return v, nil
}

func dtypeParam(params map[string]any) (alu.DType, error) {
	v, ok := params["dtype"].(alu.DType)
	if !ok {
		return 0, errors.New("routines: missing dtype parameter")
	}
	return v, nil
}

// runSort sorts each length-n row of the input independently and stably.
// With arg set the output is the i32 permutation instead of the values.
// NaNs order after every finite value, matching IEEE total order intent.
func runSort(params map[string]any, ins, outs [][]byte, arg bool) error {
	rows, err := intParam(params, "rows")
	if err != nil {
		return err
	}
	n, err := intParam(params, "n")
	if err != nil {
		return err
	}
	dt, err := dtypeParam(params)
	if err != nil {
		return err
	}
	if len(ins) != 1 || len(outs) != 1 {
		return errors.New("routines: sort expects one input and one output")
	}
	in := ins[0]
	out := outs[0]
	idx := make([]int, n)
	for row := 0; row < rows; row++ {
		base := int64(row * n)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, c int) bool {
			va := device.LoadScalar(in, dt, base+int64(idx[a]))
			vc := device.LoadScalar(in, dt, base+int64(idx[c]))
			return scalarLess(va, vc)
		})
		for i, src := range idx {
			if arg {
				device.StoreScalar(out, alu.Int32, base+int64(i), alu.IntScalar(alu.Int32, int64(src)))
			} else {
				device.StoreScalar(out, dt, base+int64(i), device.LoadScalar(in, dt, base+int64(src)))
			}
		}
	}
	return nil
}

func scalarLess(a, b alu.Scalar) bool {
	if a.DType.IsFloat() {
		if math.IsNaN(a.F) {
			return false
		}
		if math.IsNaN(b.F) {
			return true
		}
		return a.F < b.F
	}
	if a.DType == alu.Uint32 {
		return uint32(a.I) < uint32(b.I)
	}
	if a.DType == alu.Bool {
		return !a.B && b.B
	}
	return a.I < b.I
}

// runSolveTriangular solves A X = B per batch by substitution. A is
// [n, n], B is [n, m]; lower selects forward substitution, unitDiagonal
// skips the diagonal divide.
func runSolveTriangular(params map[string]any, ins, outs [][]byte) error {
	batch, err := intParam(params, "batch")
	if err != nil {
		return err
	}
	n, err := intParam(params, "n")
	if err != nil {
		return err
	}
	m, err := intParam(params, "m")
	if err != nil {
		return err
	}
	dt, err := dtypeParam(params)
	if err != nil {
		return err
	}
	lower, _ := params["lower"].(bool)
	unit, _ := params["unitDiagonal"].(bool)
	if len(ins) != 2 || len(outs) != 1 {
		return errors.New("routines: solve_triangular expects two inputs and one output")
	}
	a, bb, out := ins[0], ins[1], outs[0]

	ld := func(buf []byte, base, i int) float64 { return device.LoadScalar(buf, dt, int64(base+i)).Float() }
	stv := func(base, i int, v float64) { device.StoreScalar(out, dt, int64(base+i), alu.FloatScalar(dt, v)) }

	for bi := 0; bi < batch; bi++ {
		abase := bi * n * n
		bbase := bi * n * m
		for col := 0; col < m; col++ {
			if lower {
				for i := 0; i < n; i++ {
					s := ld(bb, bbase, i*m+col)
					for j := 0; j < i; j++ {
						s -= ld(a, abase, i*n+j) * device.LoadScalar(out, dt, int64(bbase+j*m+col)).Float()
					}
					if !unit {
						s /= ld(a, abase, i*n+i)
					}
					stv(bbase, i*m+col, s)
				}
			} else {
				for i := n - 1; i >= 0; i-- {
					s := ld(bb, bbase, i*m+col)
					for j := i + 1; j < n; j++ {
						s -= ld(a, abase, i*n+j) * device.LoadScalar(out, dt, int64(bbase+j*m+col)).Float()
					}
					if !unit {
						s /= ld(a, abase, i*n+i)
					}
					stv(bbase, i*m+col, s)
				}
			}
		}
	}
	return nil
}

// runCholesky computes the lower-triangular Banachiewicz factor per
// batch; the upper triangle of the output is zero.
func runCholesky(params map[string]any, ins, outs [][]byte) error {
	batch, err := intParam(params, "batch")
	if err != nil {
		return err
	}
	n, err := intParam(params, "n")
	if err != nil {
		return err
	}
	dt, err := dtypeParam(params)
	if err != nil {
		return err
	}
	if len(ins) != 1 || len(outs) != 1 {
		return errors.New("routines: cholesky expects one input and one output")
	}
	in, out := ins[0], outs[0]

	for bi := 0; bi < batch; bi++ {
		base := bi * n * n
		ld := func(buf []byte, i, j int) float64 {
			return device.LoadScalar(buf, dt, int64(base+i*n+j)).Float()
		}
		stv := func(i, j int, v float64) {
			device.StoreScalar(out, dt, int64(base+i*n+j), alu.FloatScalar(dt, v))
		}
		for i := 0; i < n; i++ {
			for j := 0; j <= i; j++ {
				s := ld(in, i, j)
				for k := 0; k < j; k++ {
					s -= ld(out, i, k) * ld(out, j, k)
				}
				if i == j {
					stv(i, j, math.Sqrt(s))
				} else {
					stv(i, j, s/ld(out, j, j))
				}
			}
			for j := i + 1; j < n; j++ {
				stv(i, j, 0)
			}
		}
	}
	return nil
}
