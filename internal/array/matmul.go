package array

import (
	"github.com/pkg/errors"
)

// Matmul contracts the last axis of a with the second-to-last of b.
// 1-D operands follow the usual promotion rules; leading batch
// dimensions must match. The contraction is expressed as broadcasted
// views feeding one reduction kernel, so the whole product is a single
// dispatch.
func Matmul(a, b *Array) (*Array, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	if a.dtype != b.dtype {
		return nil, errors.Errorf("array: matmul dtype mismatch %s vs %s", a.dtype, b.dtype)
	}
	if a.Rank() == 0 || b.Rank() == 0 {
		return nil, errors.New("array: matmul requires rank >= 1")
	}

	// Promote vectors, remembering which axes to squeeze afterwards.
	squeezeA, squeezeB := false, false
	if a.Rank() == 1 {
		var err error
		a, err = a.Reshape([]int{1, a.shape[0]})
		if err != nil {
			return nil, err
		}
		squeezeA = true
	}
	if b.Rank() == 1 {
		var err error
		b, err = b.Reshape([]int{b.shape[0], 1})
		if err != nil {
			return nil, err
		}
		squeezeB = true
	}

	ra, rb := a.Rank(), b.Rank()
	m, k := a.shape[ra-2], a.shape[ra-1]
	k2, n := b.shape[rb-2], b.shape[rb-1]
	if k != k2 {
		return nil, errors.Errorf("array: matmul inner dimensions %d and %d differ", k, k2)
	}
	batchA, batchB := a.shape[:ra-2], b.shape[:rb-2]
	if len(batchA) != len(batchB) {
		return nil, errors.Errorf("array: matmul batch ranks differ: %v vs %v", batchA, batchB)
	}
	for i := range batchA {
		if batchA[i] != batchB[i] {
			return nil, errors.Errorf("array: matmul batch shapes differ: %v vs %v", batchA, batchB)
		}
	}

	// a: [.., m, k] -> [.., m, 1, k] -> [.., m, n, k]
	full := append(append([]int(nil), batchA...), m, n, k)
	ar, err := a.Reshape(append(append([]int(nil), batchA...), m, 1, k))
	if err != nil {
		return nil, err
	}
	av, err := ar.BroadcastTo(full)
	ar.Dispose()
	if err != nil {
		return nil, err
	}

	// b: [.., k, n] -> [.., n, k] -> [.., 1, n, k] -> [.., m, n, k]
	perm := make([]int, rb)
	for i := 0; i < rb-2; i++ {
		perm[i] = i
	}
	perm[rb-2], perm[rb-1] = rb-1, rb-2
	bt, err := b.Transpose(perm)
	if err != nil {
		return nil, err
	}
	br, err := bt.Reshape(append(append([]int(nil), batchB...), 1, n, k))
	bt.Dispose()
	if err != nil {
		return nil, err
	}
	bv, err := br.BroadcastTo(full)
	br.Dispose()
	if err != nil {
		return nil, err
	}

	prod, err := av.Mul(bv)
	if err != nil {
		return nil, err
	}
	out, err := prod.Sum([]int{len(full) - 1}, false)
	av.Dispose()
	bv.Dispose()
	prod.Dispose()
	if err != nil {
		return nil, err
	}

	shape := out.Shape()
	squeeze := func(target []int) (*Array, error) {
		r, err := out.Reshape(target)
		out.Dispose()
		return r, err
	}
	switch {
	case squeezeA && squeezeB:
		return squeeze(nil)
	case squeezeA:
		return squeeze(append(append([]int(nil), shape[:len(shape)-2]...), shape[len(shape)-1]))
	case squeezeB:
		return squeeze(shape[:len(shape)-1])
	default:
		return out, nil
	}
}

// Dot is the 1-D inner product.
func Dot(a, b *Array) (*Array, error) {
	if a.Rank() != 1 || b.Rank() != 1 {
		return nil, errors.New("array: dot requires 1-D operands")
	}
	return Matmul(a, b)
}
