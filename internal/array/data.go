package array

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
)

// Bytes realizes the array, drains its pending executables in recorded
// order and reads the backing buffer. This is the synchronisation point:
// everything the result depends on has run by the time it returns.
func (a *Array) Bytes() ([]byte, error) {
	r, err := a.Realize()
	if err != nil {
		return nil, err
	}
	if err := drain(r.pend); err != nil {
		return nil, err
	}
	r.pend = nil
	if r.disposed {
		return nil, errors.Wrap(device.ErrFreedBuffer, "array disposed")
	}
	return r.dev.Read(r.inputs[0], 0, r.Size()*r.dtype.Size())
}

// Scalars reads the array back as typed scalars in logical order.
func (a *Array) Scalars() ([]alu.Scalar, error) {
	raw, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]alu.Scalar, a.Size())
	for i := range out {
		out[i] = device.LoadScalar(raw, a.dtype, int64(i))
	}
	return out, nil
}

// Float64s reads the array back as float64 values.
func (a *Array) Float64s() ([]float64, error) {
	s, err := a.Scalars()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v.Float()
	}
	return out, nil
}

// Float32s reads the array back as float32 values.
func (a *Array) Float32s() ([]float32, error) {
	s, err := a.Scalars()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(s))
	for i, v := range s {
		out[i] = float32(v.Float())
	}
	return out, nil
}

// Int64s reads the array back as int64 values.
func (a *Array) Int64s() ([]int64, error) {
	s, err := a.Scalars()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = v.Int()
	}
	return out, nil
}

// Int32s reads the array back as int32 values.
func (a *Array) Int32s() ([]int32, error) {
	v, err := a.Int64s()
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out, nil
}

// Uint32s reads the array back as uint32 values.
func (a *Array) Uint32s() ([]uint32, error) {
	v, err := a.Int64s()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(v))
	for i, x := range v {
		out[i] = uint32(x)
	}
	return out, nil
}

// Bools reads the array back as bool values.
func (a *Array) Bools() ([]bool, error) {
	s, err := a.Scalars()
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(s))
	for i, v := range s {
		out[i] = v.Bool()
	}
	return out, nil
}

// Item returns the single element of a scalar array.
func (a *Array) Item() (alu.Scalar, error) {
	if a.Size() != 1 {
		return alu.Scalar{}, errors.Errorf("array: Item on non-scalar shape %v", a.shape)
	}
	s, err := a.Scalars()
	if err != nil {
		return alu.Scalar{}, err
	}
	return s[0], nil
}

// PendingCount reports how many recorded executions have not yet been
// dispatched. Exposed for scheduling tests.
func (a *Array) PendingCount() int {
	n := 0
	for _, p := range a.pend {
		if !p.submitted {
			n++
		}
	}
	return n
}
