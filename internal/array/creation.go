package array

import (
	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
	"github.com/glint-ml/glint/internal/view"
)

func validShape(shape []int) error {
	for i, d := range shape {
		if d < 0 {
			return errors.Errorf("array: negative dimension %d at axis %d", d, i)
		}
	}
	return nil
}

// generate schedules a zero-input kernel computing exp per flat index and
// returns the buffer-backed result. Construction is the one place a
// recipe may reference gidx directly.
func generate(dev device.Backend, shape []int, dt alu.DType, exp *alu.Exp) (*Array, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	size := view.NumElements(shape)
	k := &kernel.Kernel{NumInputs: 0, Size: size, Exp: exp}
	out, err := dev.Alloc(size*dt.Size(), nil)
	if err != nil {
		return nil, err
	}
	p := newPending(dev, k, nil, []device.Buffer{out})
	res := fromBuffer(shape, dt, dev, out, []*Pending{p})
	_ = out.Release()
	return res, nil
}

// FromBytes uploads raw little-endian element bytes as a realized array.
func FromBytes(dev device.Backend, shape []int, dt alu.DType, data []byte) (*Array, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	size := view.NumElements(shape)
	if len(data) != size*dt.Size() {
		return nil, errors.Errorf("array: %d bytes for shape %v of %s (want %d)",
			len(data), shape, dt, size*dt.Size())
	}
	buf, err := dev.Alloc(len(data), data)
	if err != nil {
		return nil, err
	}
	res := fromBuffer(shape, dt, dev, buf, nil)
	_ = buf.Release()
	return res, nil
}

// FromFloat64s uploads host values cast to dt.
func FromFloat64s(dev device.Backend, shape []int, dt alu.DType, vals []float64) (*Array, error) {
	size := view.NumElements(shape)
	if len(vals) != size {
		return nil, errors.Errorf("array: %d values for shape %v (want %d)", len(vals), shape, size)
	}
	data := make([]byte, size*dt.Size())
	for i, v := range vals {
		device.StoreScalar(data, dt, int64(i), alu.FloatScalar(alu.Float64, v).Cast(dt))
	}
	return FromBytes(dev, shape, dt, data)
}

// FromInt64s uploads host integers cast to dt.
func FromInt64s(dev device.Backend, shape []int, dt alu.DType, vals []int64) (*Array, error) {
	size := view.NumElements(shape)
	if len(vals) != size {
		return nil, errors.Errorf("array: %d values for shape %v (want %d)", len(vals), shape, size)
	}
	data := make([]byte, size*dt.Size())
	for i, v := range vals {
		var s alu.Scalar
		if dt.IsFloat() {
			s = alu.FloatScalar(dt, float64(v))
		} else if dt == alu.Bool {
			s = alu.BoolScalar(v != 0)
		} else {
			s = alu.IntScalar(dt, v)
		}
		device.StoreScalar(data, dt, int64(i), s)
	}
	return FromBytes(dev, shape, dt, data)
}

// Full creates an array filled with a constant.
func Full(dev device.Backend, shape []int, v alu.Scalar) (*Array, error) {
	return generate(dev, shape, v.DType, alu.Const(v))
}

// Zeros creates a zero-filled array.
func Zeros(dev device.Backend, shape []int, dt alu.DType) (*Array, error) {
	return Full(dev, shape, zeroScalar(dt))
}

// Ones creates a one-filled array.
func Ones(dev device.Backend, shape []int, dt alu.DType) (*Array, error) {
	return Full(dev, shape, oneScalar(dt))
}

func zeroScalar(dt alu.DType) alu.Scalar { return kernel.ReduceAdd.Identity(dt) }

func oneScalar(dt alu.DType) alu.Scalar { return kernel.ReduceMul.Identity(dt) }

// Arange creates [start, stop) with the given step.
func Arange(dev device.Backend, start, stop, step float64, dt alu.DType) (*Array, error) {
	if step == 0 {
		return nil, errors.New("array: arange step must be nonzero")
	}
	n := 0
	if step > 0 && stop > start {
		n = ceilN(stop-start, step)
	} else if step < 0 && stop < start {
		n = ceilN(start-stop, -step)
	}
	idx := alu.Gidx(n)
	var exp *alu.Exp
	if dt.IsFloat() {
		f := alu.Cast(dt, idx)
		exp = alu.Add(alu.Mul(f, alu.ConstFloat(dt, step)), alu.ConstFloat(dt, start))
	} else {
		exp = alu.Add(alu.Mul(alu.Cast(dt, idx), alu.ConstInt(dt, int64(step))), alu.ConstInt(dt, int64(start)))
	}
	return generate(dev, []int{n}, dt, exp)
}

func ceilN(span, step float64) int {
	n := int(span / step)
	if float64(n)*step < span {
		n++
	}
	if n < 0 {
		n = 0
	}
	return n
}

// Linspace creates num evenly spaced values over [start, stop].
func Linspace(dev device.Backend, start, stop float64, num int, dt alu.DType) (*Array, error) {
	if num < 1 {
		return nil, errors.Errorf("array: linspace needs num >= 1, got %d", num)
	}
	if !dt.IsFloat() {
		return nil, errors.Errorf("array: linspace of %s", dt)
	}
	step := 0.0
	if num > 1 {
		step = (stop - start) / float64(num-1)
	}
	f := alu.Cast(dt, alu.Gidx(num))
	exp := alu.Add(alu.Mul(f, alu.ConstFloat(dt, step)), alu.ConstFloat(dt, start))
	return generate(dev, []int{num}, dt, exp)
}

// Eye creates an n by m identity-like matrix with the ones on diagonal k.
func Eye(dev device.Backend, n, m, k int, dt alu.DType) (*Array, error) {
	if m <= 0 {
		m = n
	}
	if n < 0 || m < 0 {
		return nil, errors.New("array: eye dimensions must be non-negative")
	}
	idx := alu.Gidx(n * m)
	mv := alu.ConstInt(alu.Int32, int64(m))
	row := alu.IDiv(idx, mv)
	col := alu.Mod(idx, mv)
	cond := alu.Eq(alu.Sub(col, row), alu.ConstInt(alu.Int32, int64(k)))
	exp := alu.Where(cond, alu.Const(oneScalar(dt)), alu.Const(zeroScalar(dt)))
	return generate(dev, []int{n, m}, dt, exp)
}
