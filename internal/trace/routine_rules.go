package trace

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
)

func initRoutines() {
	threefryP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := array.ThreefryBits(args[0], p["count"].(int))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	threefryP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		if in[0].DType != alu.Uint32 || in[0].Size() != 2 {
			return nil, errors.Errorf("threefry key must be two u32 words, got %s", in[0])
		}
		return []Aval{{Shape: []int{p["count"].(int)}, DType: alu.Uint32}}, nil
	}
	threefryP.JVP = jvpNondiff(threefryP)

	sortP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].Sort(p["axis"].(int))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	sortP.Abstract = sortAbstract
	sortP.JVP = jvpNondiff(sortP)

	argsortP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := args[0].ArgSort(p["axis"].(int))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	argsortP.Abstract = func(in []Aval, p Params) ([]Aval, error) {
		avs, err := sortAbstract(in, p)
		if err != nil {
			return nil, err
		}
		return []Aval{{Shape: avs[0].Shape, DType: alu.Int32}}, nil
	}
	argsortP.JVP = jvpNondiff(argsortP)

	choleskyP.Impl = func(args []*array.Array, _ Params) ([]*array.Array, error) {
		out, err := array.Cholesky(args[0])
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	choleskyP.Abstract = func(in []Aval, _ Params) ([]Aval, error) {
		r := len(in[0].Shape)
		if r < 2 || in[0].Shape[r-1] != in[0].Shape[r-2] {
			return nil, errors.Errorf("cholesky needs square matrices, got %s", in[0])
		}
		return []Aval{in[0]}, nil
	}
	choleskyP.JVP = jvpNondiff(choleskyP)

	solveTriP.Impl = func(args []*array.Array, p Params) ([]*array.Array, error) {
		out, err := array.SolveTriangular(args[0], args[1], p["lower"].(bool), p["unitDiagonal"].(bool))
		if err != nil {
			return nil, err
		}
		return []*array.Array{out}, nil
	}
	solveTriP.Abstract = func(in []Aval, _ Params) ([]Aval, error) {
		if len(in[1].Shape) < 2 {
			return nil, errors.Errorf("solve_triangular needs matrices, got %s", in[1])
		}
		return []Aval{in[1]}, nil
	}
	solveTriP.JVP = jvpNondiff(solveTriP)
}

func sortAbstract(in []Aval, p Params) ([]Aval, error) {
	if len(in[0].Shape) == 0 {
		return nil, errors.New("cannot sort a scalar")
	}
	ax := p["axis"].(int)
	if ax < 0 {
		ax += len(in[0].Shape)
	}
	if ax < 0 || ax >= len(in[0].Shape) {
		return nil, errors.Errorf("sort axis out of range for %s", in[0])
	}
	return []Aval{in[0]}, nil
}
