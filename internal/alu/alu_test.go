package alu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstFolding(t *testing.T) {
	e := Add(ConstFloat(Float32, 2), Mul(ConstFloat(Float32, 3), ConstFloat(Float32, 4)))
	s := e.Simplify()
	require.Equal(t, OpConst, s.Op)
	assert.Equal(t, 14.0, s.Arg.(Scalar).F)
}

func TestIdentityLaws(t *testing.T) {
	x := Special(Float32, "gidx", 8)
	xf := Cast(Float32, Gidx(8))

	assert.True(t, Add(xf, ConstFloat(Float32, 0)).Simplify().Equal(xf))
	assert.True(t, Mul(xf, ConstFloat(Float32, 1)).Simplify().Equal(xf))
	assert.Equal(t, OpConst, Mul(xf, ConstFloat(Float32, 0)).Simplify().Op)
	assert.Equal(t, OpConst, Sub(xf, xf).Simplify().Op)
	assert.True(t, Div(xf, ConstFloat(Float32, 1)).Simplify().Equal(xf))
	assert.True(t, Neg(Neg(xf)).Simplify().Equal(xf))
	assert.True(t, Min(x, x).Simplify().Equal(x))
}

func TestWhereSimplify(t *testing.T) {
	x := Cast(Float32, Gidx(4))
	y := ConstFloat(Float32, 7)

	w := Where(ConstBool(true), x, y).Simplify()
	assert.True(t, w.Equal(x))
	w = Where(ConstBool(false), x, y).Simplify()
	assert.True(t, w.Equal(y))

	cond := Lt(Gidx(4), ConstInt(Int32, 2))
	assert.True(t, Where(cond, x, x).Simplify().Equal(x))
}

func TestCommutativeCanonicalization(t *testing.T) {
	a := Cast(Float32, Gidx(4))
	b := Cast(Float32, Ridx(4))
	// Same structural form regardless of operand order.
	assert.Equal(t, Add(a, b).Simplify().Key(), Add(b, a).Simplify().Key())
}

func TestIndexAlgebra(t *testing.T) {
	g := Gidx(8)
	r := Ridx(8)
	k := ConstInt(Int32, 4)

	// a*k + b*k -> (a+b)*k
	e := Add(Mul(g, k), Mul(r, k)).Simplify()
	require.Equal(t, OpMul, e.Op)

	// gidx in [0,8) mod 16 is gidx; div 16 is 0.
	assert.True(t, Mod(g, ConstInt(Int32, 16)).Simplify().Equal(g))
	assert.Equal(t, OpConst, IDiv(g, ConstInt(Int32, 16)).Simplify().Op)

	// Bound does not apply below the extent.
	assert.Equal(t, OpMod, Mod(g, ConstInt(Int32, 4)).Simplify().Op)
}

func TestCastCollapse(t *testing.T) {
	x := Gidx(4)
	assert.True(t, Cast(Int32, x).Simplify().Equal(x))

	// i32 -> f64 -> f32 collapses, the middle cast is lossless.
	e := Cast(Float32, Cast(Float64, x)).Simplify()
	require.Equal(t, OpCast, e.Op)
	assert.True(t, e.Src[0].Equal(x))

	// f32 -> i32 -> f32 must not collapse, truncation is observable.
	xf := Cast(Float32, x)
	e = Cast(Float32, Cast(Int32, xf)).Simplify()
	require.Equal(t, OpCast, e.Op)
	assert.Equal(t, OpCast, e.Src[0].Op)
	assert.Equal(t, Int32, e.Src[0].DType)
}

func TestEvaluate(t *testing.T) {
	// (gidx + gidx) * (gidx - 1) at gidx = 5 -> 40
	g := Cast(Float32, Gidx(8))
	e := Mul(Add(g, g), Sub(g, ConstFloat(Float32, 1)))
	v := e.Evaluate(&Env{Specials: map[string]int64{"gidx": 5}})
	assert.Equal(t, 40.0, v.F)
}

func TestEvaluateGlobal(t *testing.T) {
	data := []float64{10, 20, 30}
	e := GlobalIndex(Float32, 0, Gidx(3))
	env := &Env{
		Specials: map[string]int64{"gidx": 2},
		Global: func(gid int, index int64, dt DType) Scalar {
			return FloatScalar(dt, data[index])
		},
	}
	assert.Equal(t, 30.0, e.Evaluate(env).F)
}

func TestEvaluateMissingSpecialPanics(t *testing.T) {
	e := Gidx(4)
	assert.Panics(t, func() { e.Evaluate(&Env{Specials: map[string]int64{}}) })
}

func TestBadArityPanics(t *testing.T) {
	assert.Panics(t, func() { New(OpAdd, Float32, []*Exp{ConstFloat(Float32, 1)}, nil) })
}

func TestMismatchedDTypePanics(t *testing.T) {
	assert.Panics(t, func() { Add(ConstFloat(Float32, 1), ConstInt(Int32, 1)) })
}

func TestSubstitute(t *testing.T) {
	e := Add(Gidx(0), Ridx(0))
	s := e.Substitute(map[string]*Exp{"ridx": ConstInt(Int32, 3)})
	v := s.Evaluate(&Env{Specials: map[string]int64{"gidx": 4}})
	assert.Equal(t, int64(7), v.I)
}

func TestCollect(t *testing.T) {
	e := Add(Mul(Gidx(4), ConstInt(Int32, 2)), Ridx(4))
	specials := e.Collect(func(n *Exp) bool { return n.Op == OpSpecial })
	assert.Len(t, specials, 2)
}
