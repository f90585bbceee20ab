// Package webgpu implements the GPU backend. Kernels are tuned, lowered
// to WGSL compute shader text, compiled once per kernel key and
// dispatched over storage buffers through go-webgpu.
package webgpu

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/kernel"
)

// gridWrapY is the X extent after which the dispatch grid wraps to a
// second dimension; shaders recover the linear index as
// batch = wg.x + wg.y * gridWrapY.
const gridWrapY = 16384

// defaultWorkgroup is the workgroup size for ungrouped kernels.
const defaultWorkgroup = 256

// shader is generated WGSL plus the launch geometry it assumes.
type shader struct {
	source        string
	workgroupSize int
	workgroups    int // linear count, tiled at dispatch time
}

func wgslType(dt alu.DType) (string, error) {
	switch dt {
	case alu.Float32:
		return "f32", nil
	case alu.Float16:
		return "f16", nil
	case alu.Int32, alu.Bool:
		return "i32", nil
	case alu.Uint32:
		return "u32", nil
	default:
		return "", errors.Wrapf(device.ErrUnsupported, "webgpu: dtype %s", dt)
	}
}

// regType is the in-register type; bool is native in registers and i32
// only in storage.
func regType(dt alu.DType) (string, error) {
	if dt == alu.Bool {
		return "bool", nil
	}
	return wgslType(dt)
}

type genCtx struct {
	body   strings.Builder
	names  map[uint64]string
	next   int
	inputs map[int]alu.DType
	indent string
	useF16 bool
	funcs  map[string]bool // referenced helper functions

	onCreate   []*scopeMark // open scopes, innermost last
	needShared bool
	sharedTy   string
	accName    string // variable backing the acc special, per epilogue
}

func newGenCtx() *genCtx {
	return &genCtx{
		names:  make(map[uint64]string),
		inputs: make(map[int]alu.DType),
		funcs:  make(map[string]bool),
		indent: "    ",
	}
}

func (g *genCtx) fresh() string {
	g.next++
	return fmt.Sprintf("v%d", g.next)
}

func (g *genCtx) line(format string, args ...any) {
	g.body.WriteString(g.indent)
	fmt.Fprintf(&g.body, format, args...)
	g.body.WriteByte('\n')
}

// value emits let-bindings for the expression bottom-up, reusing bindings
// for structurally equal subtrees, and returns the variable holding it.
func (g *genCtx) value(e *alu.Exp) (string, error) {
	if name, ok := g.names[e.Key()]; ok {
		return name, nil
	}
	src := make([]string, len(e.Src))
	for i, s := range e.Src {
		v, err := g.value(s)
		if err != nil {
			return "", err
		}
		src[i] = v
	}
	expr, err := g.render(e, src)
	if err != nil {
		return "", err
	}
	ty, err := regType(e.DType)
	if err != nil {
		return "", err
	}
	if e.DType == alu.Float16 {
		g.useF16 = true
	}
	name := g.fresh()
	g.line("let %s: %s = %s;", name, ty, expr)
	g.names[e.Key()] = name
	if n := len(g.onCreate); n > 0 {
		m := g.onCreate[n-1]
		m.created = append(m.created, e.Key())
	}
	return name, nil
}

func (g *genCtx) render(e *alu.Exp, src []string) (string, error) {
	switch e.Op {
	case alu.OpConst:
		return g.constant(e.Arg.(alu.Scalar))

	case alu.OpSpecial:
		name := e.Arg.(alu.SpecialArg).Name
		if name == alu.SpecialAcc {
			if g.accName == "" {
				return "", errors.New("webgpu: acc special outside a reduction epilogue")
			}
			return g.accName, nil
		}
		return name, nil

	case alu.OpGlobalIndex:
		arg := e.Arg.(alu.IndexArg)
		g.inputs[arg.Gid] = e.DType
		load := fmt.Sprintf("g%d[u32(%s)]", arg.Gid, src[0])
		if e.DType == alu.Bool {
			load = "(" + load + " != 0i)"
		}
		return load, nil

	case alu.OpGlobalView:
		return "", errors.New("webgpu: unlowered view reached the code generator")

	case alu.OpWhere:
		return fmt.Sprintf("select(%s, %s, %s)", src[2], src[1], src[0]), nil

	case alu.OpCast:
		return g.cast(e.Src[0].DType, e.DType, src[0])

	case alu.OpAdd:
		return fmt.Sprintf("(%s + %s)", src[0], src[1]), nil
	case alu.OpSub:
		return fmt.Sprintf("(%s - %s)", src[0], src[1]), nil
	case alu.OpMul:
		return fmt.Sprintf("(%s * %s)", src[0], src[1]), nil
	case alu.OpDiv:
		return fmt.Sprintf("(%s / %s)", src[0], src[1]), nil
	case alu.OpIDiv:
		if e.DType.IsFloat() {
			return fmt.Sprintf("trunc(%s / %s)", src[0], src[1]), nil
		}
		return fmt.Sprintf("(%s / %s)", src[0], src[1]), nil
	case alu.OpMod:
		return fmt.Sprintf("(%s %% %s)", src[0], src[1]), nil
	case alu.OpMin:
		return fmt.Sprintf("min(%s, %s)", src[0], src[1]), nil
	case alu.OpMax:
		return fmt.Sprintf("max(%s, %s)", src[0], src[1]), nil
	case alu.OpPow:
		return fmt.Sprintf("pow(%s, %s)", src[0], src[1]), nil

	case alu.OpNeg:
		return fmt.Sprintf("(-%s)", src[0]), nil
	case alu.OpRecip:
		one, err := g.constant(alu.FloatScalar(e.DType, 1))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s / %s)", one, src[0]), nil
	case alu.OpExp:
		return fmt.Sprintf("exp(%s)", src[0]), nil
	case alu.OpLog:
		return fmt.Sprintf("log(%s)", src[0]), nil
	case alu.OpSin:
		return fmt.Sprintf("sin(%s)", src[0]), nil
	case alu.OpCos:
		return fmt.Sprintf("cos(%s)", src[0]), nil
	case alu.OpTan:
		return fmt.Sprintf("tan(%s)", src[0]), nil
	case alu.OpAtan:
		return fmt.Sprintf("atan(%s)", src[0]), nil
	case alu.OpAsin:
		return fmt.Sprintf("asin(%s)", src[0]), nil
	case alu.OpSqrt:
		return fmt.Sprintf("sqrt(%s)", src[0]), nil
	case alu.OpAbs:
		return fmt.Sprintf("abs(%s)", src[0]), nil
	case alu.OpErf:
		g.funcs["erf"] = true
		g.funcs["erfc"] = true
		return fmt.Sprintf("erf_(%s)", src[0]), nil
	case alu.OpErfc:
		g.funcs["erfc"] = true
		return fmt.Sprintf("erfc_(%s)", src[0]), nil

	case alu.OpEq:
		return fmt.Sprintf("(%s == %s)", src[0], src[1]), nil
	case alu.OpNe:
		return fmt.Sprintf("(%s != %s)", src[0], src[1]), nil
	case alu.OpLt:
		return fmt.Sprintf("(%s < %s)", src[0], src[1]), nil
	case alu.OpLe:
		return fmt.Sprintf("(%s <= %s)", src[0], src[1]), nil
	case alu.OpGt:
		return fmt.Sprintf("(%s > %s)", src[0], src[1]), nil
	case alu.OpGe:
		return fmt.Sprintf("(%s >= %s)", src[0], src[1]), nil
	}
	return "", errors.Errorf("webgpu: cannot render op %s", e.Op)
}

// constant renders a literal. Non-finite floats are materialised through
// bit reinterpretation of their canonical patterns, since WGSL rejects
// NaN and Inf literals.
func (g *genCtx) constant(s alu.Scalar) (string, error) {
	switch {
	case s.DType == alu.Bool:
		if s.B {
			return "true", nil
		}
		return "false", nil
	case s.DType == alu.Uint32:
		return fmt.Sprintf("%du", uint32(s.I)), nil
	case s.DType.IsInt():
		return fmt.Sprintf("%di", int32(s.I)), nil
	case math.IsNaN(s.F):
		return "bitcast<f32>(0x7fc00000u)", nil
	case math.IsInf(s.F, 1):
		return "bitcast<f32>(0x7f800000u)", nil
	case math.IsInf(s.F, -1):
		return "bitcast<f32>(0xff800000u)", nil
	case s.DType == alu.Float16:
		return fmt.Sprintf("f16(%v)", float32(s.F)), nil
	default:
		v := float32(s.F)
		if v == float32(int64(v)) && math.Abs(s.F) < 1e9 {
			return fmt.Sprintf("%d.0f", int64(v)), nil
		}
		return fmt.Sprintf("f32(%v)", v), nil
	}
}

func (g *genCtx) cast(from, to alu.DType, v string) (string, error) {
	if from == to {
		return v, nil
	}
	toTy, err := regType(to)
	if err != nil {
		return "", err
	}
	if from == alu.Bool {
		switch to {
		case alu.Float32, alu.Float16:
			return fmt.Sprintf("select(%s(0), %s(1), %s)", toTy, toTy, v), nil
		default:
			return fmt.Sprintf("select(%s(0), %s(1), %s)", toTy, toTy, v), nil
		}
	}
	if to == alu.Bool {
		zero := "0i"
		if from == alu.Uint32 {
			zero = "0u"
		} else if from.IsFloat() {
			zero = "0.0"
		}
		return fmt.Sprintf("(%s != %s)", v, zero), nil
	}
	return fmt.Sprintf("%s(%s)", toTy, v), nil
}

// helperFuncs are WGSL implementations of ops with no builtin. erfc_ uses
// the bytecode backend's erfc polynomial; erf_ is 1 - erfc_ for every
// argument, without the bytecode backend's small-argument series.
var helperFuncs = map[string]string{
	"erfc": `fn erfc_(x: f32) -> f32 {
    let z = abs(x);
    let t = 1.0 / (1.0 + 0.5 * z);
    var p = 0.17087277;
    p = p * t + -0.82215223;
    p = p * t + 1.48851587;
    p = p * t + -1.13520398;
    p = p * t + 0.27886807;
    p = p * t + -0.18628806;
    p = p * t + 0.09678418;
    p = p * t + 0.37409196;
    p = p * t + 1.00002368;
    let r = t * exp(-z * z - 1.26551223 + t * p);
    return select(r, 2.0 - r, x < 0.0);
}`,
	"erf": `fn erf_(x: f32) -> f32 {
    return 1.0 - erfc_(x);
}`,
}

func sortedFuncs(used map[string]bool) []string {
	names := make([]string, 0, len(used))
	for n := range used {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func reduceIdentity(op kernel.ReduceOp, dt alu.DType, g *genCtx) (string, error) {
	return g.constant(op.Identity(dt))
}

func reduceCombine(op kernel.ReduceOp, acc, v string) string {
	switch op {
	case kernel.ReduceAdd:
		return fmt.Sprintf("%s + %s", acc, v)
	case kernel.ReduceMul:
		return fmt.Sprintf("%s * %s", acc, v)
	case kernel.ReduceMin:
		return fmt.Sprintf("min(%s, %s)", acc, v)
	case kernel.ReduceMax:
		return fmt.Sprintf("max(%s, %s)", acc, v)
	default:
		panic("webgpu: unknown reduce op")
	}
}
