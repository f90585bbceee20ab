package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func relErr(got float32, want float64) float64 {
	if want == 0 {
		return math.Abs(float64(got))
	}
	return math.Abs((float64(got) - want) / want)
}

func TestExp32Accuracy(t *testing.T) {
	for x := -80.0; x <= 80.0; x += 0.37 {
		got := exp32(float32(x))
		want := math.Exp(float64(float32(x)))
		assert.Less(t, relErr(got, want), 2e-7, "exp(%v)", x)
	}
	assert.True(t, math.IsInf(float64(exp32(100)), 1))
	assert.Equal(t, float32(0), exp32(-100))
	assert.Equal(t, float32(1), exp32(0))
}

func TestLog32Accuracy(t *testing.T) {
	for _, x := range []float64{1e-30, 1e-6, 0.1, 0.5, 0.9999, 1, 1.0001, 2, math.E, 10, 1e6, 1e30} {
		got := log32(float32(x))
		want := math.Log(float64(float32(x)))
		if want == 0 {
			assert.Less(t, math.Abs(float64(got)), 1e-6)
			continue
		}
		assert.Less(t, relErr(got, want), 5e-7, "log(%v)", x)
	}
	assert.True(t, math.IsInf(float64(log32(0)), -1))
	assert.True(t, math.IsNaN(float64(log32(-1))))
}

func TestSinCos32Accuracy(t *testing.T) {
	for x := -30.0; x <= 30.0; x += 0.0517 {
		assert.InDelta(t, math.Sin(float64(float32(x))), float64(sin32(float32(x))), 5e-7, "sin(%v)", x)
		assert.InDelta(t, math.Cos(float64(float32(x))), float64(cos32(float32(x))), 5e-7, "cos(%v)", x)
	}
}

func TestAtan32Accuracy(t *testing.T) {
	for _, x := range []float64{-100, -5, -2.5, -1, -0.5, -0.01, 0.01, 0.3, 1, 2.4143, 3, 50, 1e4} {
		got := atan32(float32(x))
		assert.Less(t, relErr(got, math.Atan(x)), 2e-6, "atan(%v)", x)
	}
	assert.Equal(t, float32(0), atan32(0))
}

func TestErf32Accuracy(t *testing.T) {
	for x := -4.0; x <= 4.0; x += 0.113 {
		assert.InDelta(t, math.Erf(x), float64(erf32(float32(x))), 5e-7, "erf(%v)", x)
	}
	// The tail must stay relatively accurate, not just absolutely.
	for _, x := range []float64{1, 2, 3, 4, 5} {
		assert.Less(t, relErr(erfc32(float32(x)), math.Erfc(x)), 2e-6, "erfc(%v)", x)
	}
}

func TestPow32(t *testing.T) {
	assert.InDelta(t, 8, float64(pow32(2, 3)), 1e-5)
	assert.InDelta(t, math.Sqrt2, float64(pow32(2, 0.5)), 1e-6)
	assert.Equal(t, float32(1), pow32(5, 0))
	assert.Equal(t, float32(-8), pow32(-2, 3))
	assert.True(t, math.IsNaN(float64(pow32(-2, 0.5))))
}
