package alu

// Simplify rewrites the expression to a fixed point using constant
// folding, identity laws and the integer index algebra the lowering pass
// relies on. The result is semantically identical to the input.
func (e *Exp) Simplify() *Exp {
	cur := e
	for i := 0; i < 16; i++ {
		next := cur.Rewrite(simplifyNode)
		if next.Key() == cur.Key() && next.Equal(cur) {
			return next
		}
		cur = next
	}
	return cur
}

func simplifyNode(e *Exp) *Exp {
	if r := foldConstants(e); r != nil {
		return r
	}
	switch e.Op {
	case OpAdd:
		a, b := e.Src[0], e.Src[1]
		if isConstValue(b, 0) {
			return a
		}
		if isConstValue(a, 0) {
			return b
		}
		// a*k + b*k -> (a+b)*k, the common index-math shape.
		if a.Op == OpMul && b.Op == OpMul {
			if k := sharedFactor(a, b); k != nil {
				return Mul(Add(otherFactor(a, k), otherFactor(b, k)), k)
			}
		}
		return canonicalize(e)
	case OpSub:
		a, b := e.Src[0], e.Src[1]
		if isConstValue(b, 0) {
			return a
		}
		if a.Equal(b) {
			return zeroExp(e.DType)
		}
	case OpMul:
		a, b := e.Src[0], e.Src[1]
		if isConstValue(b, 1) {
			return a
		}
		if isConstValue(a, 1) {
			return b
		}
		if isConstValue(a, 0) || isConstValue(b, 0) {
			return zeroExp(e.DType)
		}
		return canonicalize(e)
	case OpDiv, OpIDiv:
		if isConstValue(e.Src[1], 1) {
			return e.Src[0]
		}
		// A value known to lie in [0, n) divided by m >= n is zero.
		if n, ok := boundOf(e.Src[0]); ok && e.DType.IsInt() {
			if m, isC := constInt(e.Src[1]); isC && m >= n {
				return zeroExp(e.DType)
			}
		}
	case OpMod:
		// A value known to lie in [0, n) mod m >= n is the value itself.
		if n, ok := boundOf(e.Src[0]); ok && e.DType.IsInt() {
			if m, isC := constInt(e.Src[1]); isC && m >= n {
				return e.Src[0]
			}
		}
	case OpMin, OpMax:
		if e.Src[0].Equal(e.Src[1]) {
			return e.Src[0]
		}
		return canonicalize(e)
	case OpNeg:
		if e.Src[0].Op == OpNeg {
			return e.Src[0].Src[0]
		}
	case OpCast:
		x := e.Src[0]
		if x.DType == e.DType {
			return x
		}
		// Collapse cast chains when the outer cast cannot observe the
		// intermediate truncation.
		if x.Op == OpCast && castWidens(x.Src[0].DType, x.DType) {
			return Cast(e.DType, x.Src[0])
		}
	case OpWhere:
		cond, x, y := e.Src[0], e.Src[1], e.Src[2]
		if cond.Op == OpConst {
			if cond.Arg.(Scalar).Bool() {
				return x
			}
			return y
		}
		if x.Equal(y) {
			return x
		}
		// Flatten a nested where on the same condition when the inner
		// alternative is constant: its branch is unreachable.
		if x.Op == OpWhere && x.Src[0].Equal(cond) && x.Src[2].Op == OpConst {
			return Where(cond, x.Src[1], y)
		}
		if y.Op == OpWhere && y.Src[0].Equal(cond) && y.Src[1].Op == OpConst {
			return Where(cond, x, y.Src[2])
		}
	}
	return nil
}

// foldConstants evaluates pure ops whose children are all constants.
func foldConstants(e *Exp) *Exp {
	switch e.Op {
	case OpConst, OpSpecial, OpGlobalIndex, OpGlobalView:
		return nil
	}
	for _, s := range e.Src {
		if s.Op != OpConst {
			return nil
		}
	}
	return Const(e.Evaluate(nil))
}

// canonicalize orders commutative operands by structural hash so shared
// sub-expressions land in the same position.
func canonicalize(e *Exp) *Exp {
	if !e.Op.IsCommutative() || len(e.Src) != 2 {
		return nil
	}
	a, b := e.Src[0], e.Src[1]
	if a.Key() <= b.Key() {
		return nil
	}
	return New(e.Op, e.DType, []*Exp{b, a}, e.Arg)
}

func isConstValue(e *Exp, v int64) bool {
	if e.Op != OpConst {
		return false
	}
	s := e.Arg.(Scalar)
	if s.DType.IsFloat() {
		return s.F == float64(v)
	}
	if s.DType.IsInt() {
		return s.I == v
	}
	return false
}

func constInt(e *Exp) (int64, bool) {
	if e.Op != OpConst || !e.DType.IsInt() {
		return 0, false
	}
	return e.Arg.(Scalar).I, true
}

// boundOf returns n such that e is known to lie in [0, n).
func boundOf(e *Exp) (int64, bool) {
	if e.Op == OpSpecial {
		if sz := e.Arg.(SpecialArg).Size; sz > 0 {
			return int64(sz), true
		}
	}
	if e.Op == OpMod {
		if m, ok := constInt(e.Src[1]); ok && m > 0 {
			return m, true
		}
	}
	return 0, false
}

func zeroExp(dt DType) *Exp {
	return Const(zeroOf(dt))
}

// sharedFactor finds a child common to both multiplications.
func sharedFactor(a, b *Exp) *Exp {
	for _, x := range a.Src {
		for _, y := range b.Src {
			if x.Equal(y) {
				return x
			}
		}
	}
	return nil
}

func otherFactor(m, k *Exp) *Exp {
	if m.Src[0].Equal(k) {
		return m.Src[1]
	}
	return m.Src[0]
}

// castWidens reports whether casting from src to mid loses no information
// an outer cast could observe.
func castWidens(src, mid DType) bool {
	if src == mid {
		return true
	}
	switch mid {
	case Float64:
		return src != Float64
	case Float32:
		return src == Bool || src == Float16
	case Int32:
		return src == Bool
	case Uint32:
		return src == Bool
	}
	return false
}
