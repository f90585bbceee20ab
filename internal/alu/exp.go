package alu

import (
	"fmt"
	"hash/maphash"
	"math"
)

// Special thread-index names. A kernel expression may refer to these; the
// lowering pass substitutes or materialises them per backend.
const (
	SpecialGidx   = "gidx"
	SpecialRidx   = "ridx"
	SpecialGroup  = "group"
	SpecialAcc    = "acc"
	SpecialUnroll = "unroll"
	SpecialUpcast = "upcast"
)

// SpecialArg is the Arg payload of an OpSpecial node.
type SpecialArg struct {
	Name string
	Size int // iteration extent; 0 when unknown at build time
}

// Tracker maps logical tensor indices to a physical buffer offset plus a
// validity predicate. Implemented by the view package; declared here so
// expression nodes can carry one without an import cycle.
type Tracker interface {
	Shape() []int
	Size() int
	ToAluExp(indices []*Exp) (offset, valid *Exp)
}

// ViewArg is the Arg payload of an OpGlobalView node.
type ViewArg struct {
	Gid     int
	Tracker Tracker
}

// IndexArg is the Arg payload of an OpGlobalIndex node.
type IndexArg struct {
	Gid int
}

// Exp is an immutable expression node. Sub-expressions may be shared;
// equality is structural and exposed through Key.
type Exp struct {
	Op    Op
	DType DType
	Src   []*Exp
	Arg   any

	key uint64
}

var hashSeed = maphash.MakeSeed()

// New builds an expression node, checking arity and child dtypes.
// Violations are programmer errors and panic.
func New(op Op, dt DType, src []*Exp, arg any) *Exp {
	if n := op.arity(); n >= 0 && len(src) != n {
		panic(fmt.Sprintf("alu: %s expects %d children, got %d", op, n, len(src)))
	}
	checkSignature(op, dt, src)
	e := &Exp{Op: op, DType: dt, Src: src, Arg: arg}
	e.key = e.computeKey()
	return e
}

func checkSignature(op Op, dt DType, src []*Exp) {
	switch {
	case op.IsComparison():
		if dt != Bool {
			panic("alu: comparison must have bool dtype")
		}
		if src[0].DType != src[1].DType {
			panic(fmt.Sprintf("alu: %s operand dtypes differ: %s vs %s", op, src[0].DType, src[1].DType))
		}
	case op == OpWhere:
		if src[0].DType != Bool {
			panic("alu: where condition must be bool")
		}
		if src[1].DType != dt || src[2].DType != dt {
			panic(fmt.Sprintf("alu: where branches must be %s, got %s and %s", dt, src[1].DType, src[2].DType))
		}
	case op == OpCast, op == OpConst, op == OpSpecial, op == OpGlobalView:
		// Result dtype is free.
	case op == OpGlobalIndex:
		if !src[0].DType.IsInt() {
			panic("alu: global index must be integer-typed")
		}
	default:
		for _, s := range src {
			if s.DType != dt {
				panic(fmt.Sprintf("alu: %s child dtype %s != %s", op, s.DType, dt))
			}
		}
	}
}

func (e *Exp) computeKey() uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	h.WriteByte(byte(e.Op))
	h.WriteByte(byte(e.DType))
	switch a := e.Arg.(type) {
	case Scalar:
		h.WriteByte(byte(a.DType))
		writeUint64(&h, math.Float64bits(a.F))
		writeUint64(&h, uint64(a.I))
		if a.B {
			h.WriteByte(1)
		}
	case SpecialArg:
		h.WriteString(a.Name)
		writeUint64(&h, uint64(a.Size))
	case IndexArg:
		writeUint64(&h, uint64(a.Gid))
	case ViewArg:
		writeUint64(&h, uint64(a.Gid))
		// Trackers hash by their full view stack (shapes, strides,
		// offsets, masks), so reads of different layouts never share a
		// key; Equal still compares trackers by pointer.
		h.WriteString(fmt.Sprintf("%v", a.Tracker))
		writeUint64(&h, uint64(a.Tracker.Size()))
		for _, d := range a.Tracker.Shape() {
			writeUint64(&h, uint64(d))
		}
	case nil:
	default:
		h.WriteString(fmt.Sprintf("%v", a))
	}
	for _, s := range e.Src {
		writeUint64(&h, s.key)
	}
	return h.Sum64()
}

func writeUint64(h *maphash.Hash, v uint64) {
	var b [8]byte
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	h.Write(b[:])
}

// Key returns the structural hash of the expression.
func (e *Exp) Key() uint64 { return e.key }

// Equal reports structural equality.
func (e *Exp) Equal(o *Exp) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil || e.key != o.key || e.Op != o.Op || e.DType != o.DType || len(e.Src) != len(o.Src) {
		return false
	}
	if va, ok := e.Arg.(ViewArg); ok {
		vb, ok := o.Arg.(ViewArg)
		if !ok || va.Gid != vb.Gid || va.Tracker != vb.Tracker {
			return false
		}
	} else if e.Arg != o.Arg {
		return false
	}
	for i := range e.Src {
		if !e.Src[i].Equal(o.Src[i]) {
			return false
		}
	}
	return true
}

// Const builds a constant node from a typed scalar.
func Const(s Scalar) *Exp {
	return New(OpConst, s.DType, nil, s)
}

// ConstFloat builds a float constant of the given dtype.
func ConstFloat(dt DType, v float64) *Exp { return Const(FloatScalar(dt, v)) }

// ConstInt builds an integer constant of the given dtype.
func ConstInt(dt DType, v int64) *Exp { return Const(IntScalar(dt, v)) }

// ConstBool builds a bool constant.
func ConstBool(v bool) *Exp { return Const(BoolScalar(v)) }

// Special builds a thread-index node.
func Special(dt DType, name string, size int) *Exp {
	return New(OpSpecial, dt, nil, SpecialArg{Name: name, Size: size})
}

// Gidx is the canonical i32 global output index.
func Gidx(size int) *Exp { return Special(Int32, SpecialGidx, size) }

// Ridx is the canonical i32 reduction index.
func Ridx(size int) *Exp { return Special(Int32, SpecialRidx, size) }

// Binary op factories.

func Add(a, b *Exp) *Exp  { return New(OpAdd, a.DType, []*Exp{a, b}, nil) }
func Sub(a, b *Exp) *Exp  { return New(OpSub, a.DType, []*Exp{a, b}, nil) }
func Mul(a, b *Exp) *Exp  { return New(OpMul, a.DType, []*Exp{a, b}, nil) }
func Div(a, b *Exp) *Exp  { return New(OpDiv, a.DType, []*Exp{a, b}, nil) }
func IDiv(a, b *Exp) *Exp { return New(OpIDiv, a.DType, []*Exp{a, b}, nil) }
func Mod(a, b *Exp) *Exp  { return New(OpMod, a.DType, []*Exp{a, b}, nil) }
func Min(a, b *Exp) *Exp  { return New(OpMin, a.DType, []*Exp{a, b}, nil) }
func Max(a, b *Exp) *Exp  { return New(OpMax, a.DType, []*Exp{a, b}, nil) }
func Pow(a, b *Exp) *Exp  { return New(OpPow, a.DType, []*Exp{a, b}, nil) }

// Unary op factories.

func Neg(x *Exp) *Exp   { return New(OpNeg, x.DType, []*Exp{x}, nil) }
func Recip(x *Exp) *Exp { return New(OpRecip, x.DType, []*Exp{x}, nil) }
func ExpE(x *Exp) *Exp  { return New(OpExp, x.DType, []*Exp{x}, nil) }
func Log(x *Exp) *Exp   { return New(OpLog, x.DType, []*Exp{x}, nil) }
func Sin(x *Exp) *Exp   { return New(OpSin, x.DType, []*Exp{x}, nil) }
func Cos(x *Exp) *Exp   { return New(OpCos, x.DType, []*Exp{x}, nil) }
func Tan(x *Exp) *Exp   { return New(OpTan, x.DType, []*Exp{x}, nil) }
func Atan(x *Exp) *Exp  { return New(OpAtan, x.DType, []*Exp{x}, nil) }
func Asin(x *Exp) *Exp  { return New(OpAsin, x.DType, []*Exp{x}, nil) }
func Sqrt(x *Exp) *Exp  { return New(OpSqrt, x.DType, []*Exp{x}, nil) }
func Abs(x *Exp) *Exp   { return New(OpAbs, x.DType, []*Exp{x}, nil) }
func Erf(x *Exp) *Exp   { return New(OpErf, x.DType, []*Exp{x}, nil) }
func Erfc(x *Exp) *Exp  { return New(OpErfc, x.DType, []*Exp{x}, nil) }

// Comparison factories.

func Eq(a, b *Exp) *Exp { return New(OpEq, Bool, []*Exp{a, b}, nil) }
func Ne(a, b *Exp) *Exp { return New(OpNe, Bool, []*Exp{a, b}, nil) }
func Lt(a, b *Exp) *Exp { return New(OpLt, Bool, []*Exp{a, b}, nil) }
func Le(a, b *Exp) *Exp { return New(OpLe, Bool, []*Exp{a, b}, nil) }
func Gt(a, b *Exp) *Exp { return New(OpGt, Bool, []*Exp{a, b}, nil) }
func Ge(a, b *Exp) *Exp { return New(OpGe, Bool, []*Exp{a, b}, nil) }

// Where selects x where cond holds, else y.
func Where(cond, x, y *Exp) *Exp { return New(OpWhere, x.DType, []*Exp{cond, x, y}, nil) }

// Cast converts x to the target dtype.
func Cast(dt DType, x *Exp) *Exp { return New(OpCast, dt, []*Exp{x}, nil) }

// GlobalIndex reads element index from input gid as dt.
func GlobalIndex(dt DType, gid int, index *Exp) *Exp {
	return New(OpGlobalIndex, dt, []*Exp{index}, IndexArg{Gid: gid})
}

// GlobalView reads input gid through a shape tracker. Indices may be nil,
// in which case the lowering pass derives the logical indices from the
// output index decomposition.
func GlobalView(dt DType, gid int, t Tracker, indices []*Exp) *Exp {
	return New(OpGlobalView, dt, indices, ViewArg{Gid: gid, Tracker: t})
}

// Collect gathers, in post-order, every node matching pred.
func (e *Exp) Collect(pred func(*Exp) bool) []*Exp {
	var out []*Exp
	seen := map[*Exp]bool{}
	var walk func(*Exp)
	walk = func(n *Exp) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, s := range n.Src {
			walk(s)
		}
		if pred(n) {
			out = append(out, n)
		}
	}
	walk(e)
	return out
}

// Rewrite applies fn bottom-up, replacing each node with the first non-nil
// result. Children are rewritten before their parent; a replaced node is
// not revisited.
func (e *Exp) Rewrite(fn func(*Exp) *Exp) *Exp {
	memo := map[*Exp]*Exp{}
	var walk func(*Exp) *Exp
	walk = func(n *Exp) *Exp {
		if r, ok := memo[n]; ok {
			return r
		}
		src := n.Src
		changed := false
		for i, s := range n.Src {
			ns := walk(s)
			if ns != s {
				if !changed {
					src = append([]*Exp(nil), n.Src...)
					changed = true
				}
				src[i] = ns
			}
		}
		cur := n
		if changed {
			cur = New(n.Op, n.DType, src, n.Arg)
		}
		if r := fn(cur); r != nil {
			cur = r
		}
		memo[n] = cur
		return cur
	}
	return walk(e)
}

// Substitute replaces special nodes by name.
func (e *Exp) Substitute(m map[string]*Exp) *Exp {
	return e.Rewrite(func(n *Exp) *Exp {
		if n.Op != OpSpecial {
			return nil
		}
		if r, ok := m[n.Arg.(SpecialArg).Name]; ok {
			return r
		}
		return nil
	})
}

// String renders the expression as an s-expression for diagnostics.
func (e *Exp) String() string {
	switch e.Op {
	case OpConst:
		return e.Arg.(Scalar).String()
	case OpSpecial:
		return e.Arg.(SpecialArg).Name
	case OpGlobalIndex:
		return fmt.Sprintf("(load g%d %s)", e.Arg.(IndexArg).Gid, e.Src[0])
	case OpGlobalView:
		return fmt.Sprintf("(view g%d)", e.Arg.(ViewArg).Gid)
	}
	s := "(" + e.Op.String()
	for _, c := range e.Src {
		s += " " + c.String()
	}
	return s + ")"
}
