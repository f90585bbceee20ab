// Package random implements the counter-based PRNG surface on top of the
// Threefry-2x32 routine. Keys are explicit two-word u32 arrays; every
// sampler is a pure function of its key, so the same key always yields
// the same stream on every backend. Samplers are written against the
// traceable op surface and batch exactly under vmap.
package random

import (
	"math"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/trace"
	"github.com/glint-ml/glint/internal/view"
)

// Key derives a PRNG key from a seed.
func Key(dev device.Backend, seed uint32) (*array.Array, error) {
	return array.FromInt64s(dev, []int{2}, alu.Uint32, []int64{0, int64(seed)})
}

// Split derives n statistically independent keys from one.
func Split(key trace.Value, n int) (trace.Value, error) {
	if n < 1 {
		return nil, errors.Errorf("random: split count %d", n)
	}
	bits := trace.ThreefryOp(key, 2*n)
	return trace.Reshape(bits, []int{n, 2}), nil
}

// bitsFor draws the raw words a sampler over shape needs.
func bitsFor(key trace.Value, shape []int, n int) trace.Value {
	bits := trace.ThreefryOp(key, n)
	return trace.Reshape(bits, shape)
}

// Uniform samples from [0, 1) with f32 resolution: the low 24 bits of
// each word scale exactly into the unit interval.
func Uniform(key trace.Value, shape []int) trace.Value {
	n := view.NumElements(shape)
	bits := bitsFor(key, shape, n)
	b24 := trace.Mod(bits, trace.FullLike(bits, float64(1<<24)))
	return trace.Scale(trace.Cast(b24, alu.Float32), 1.0/float64(1<<24))
}

// Normal samples a standard normal via the Box-Muller transform; each
// output consumes two uniform draws.
func Normal(key trace.Value, shape []int) trace.Value {
	n := view.NumElements(shape)
	u := Uniform(key, []int{2 * n})
	u1 := trace.SliceOp(u, []int{0}, []int{n}, nil)
	u2 := trace.SliceOp(u, []int{n}, []int{2 * n}, nil)

	// u1 in (0, 1] keeps the log finite.
	u1 = trace.Sub(trace.OnesLike(u1), u1)
	r := trace.Sqrt(trace.Scale(trace.Log(u1), -2))
	theta := trace.Scale(u2, 2*math.Pi)
	z := trace.Mul(r, trace.Cos(theta))
	return trace.Reshape(z, shape)
}

// Bernoulli samples booleans that are true with probability p.
func Bernoulli(key trace.Value, p float64, shape []int) trace.Value {
	u := Uniform(key, shape)
	return trace.Lt(u, trace.FullLike(u, p))
}

// Categorical samples class indices from unnormalised log-probabilities
// along the last axis using the Gumbel trick. Operates on concrete
// arrays; batch by stacking keys.
func Categorical(key trace.Value, logits *array.Array) (*array.Array, error) {
	shape := logits.Shape()
	u := Uniform(key, shape)
	g := trace.Neg(trace.Log(trace.Neg(trace.Log(u))))
	perturbed := trace.Add(trace.Lift(logits), trace.Cast(g, logits.DType()))
	arr := trace.Arr(perturbed)
	return arr.ArgMax(len(shape)-1, false)
}
