package webgpu

import (
	"fmt"
	"strings"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/tuner"
)

// scope management: bindings created inside a WGSL block must not leak
// into enclosing blocks, while outer bindings stay visible inside.

type scopeMark struct {
	created []uint64
	indent  string
}

func (g *genCtx) enterScope() *scopeMark {
	m := &scopeMark{indent: g.indent}
	g.onCreate = append(g.onCreate, m)
	g.indent += "    "
	return m
}

func (g *genCtx) leaveScope(m *scopeMark) {
	for _, k := range m.created {
		delete(g.names, k)
	}
	g.onCreate = g.onCreate[:len(g.onCreate)-1]
	g.indent = m.indent
}

// generate builds the full WGSL module for a tuned plan.
func generate(plan *tuner.Plan) (*shader, error) {
	k := plan.Kernel
	g := newGenCtx()

	outDT := k.DType()
	outTy, err := wgslType(outDT)
	if err != nil {
		return nil, err
	}
	accTy := ""
	if k.Reduce != nil {
		accTy, err = regType(plan.Exp.DType)
		if err != nil {
			return nil, err
		}
	}

	wgSize := defaultWorkgroup
	grouped := plan.Dims.Groups > 1
	if grouped {
		wgSize = plan.Dims.Groups
	}

	// Thread identity.
	if grouped {
		// One output per workgroup; lanes cooperate on the reduction.
		g.line("let gidx: i32 = i32(wg.x + wg.y * %du);", gridWrapY)
		g.line("let group: i32 = i32(lid.x);")
		g.line("if (gidx >= %d) { return; }", plan.Threads/plan.Dims.Groups)
	} else {
		g.line("let batch = wg.x + wg.y * %du;", gridWrapY)
		g.line("let gidx: i32 = i32(batch * %du + lid.x);", uint32(wgSize))
		g.line("if (gidx >= %d) { return; }", plan.Threads)
	}

	for u := 0; u < plan.Dims.Upcast; u++ {
		if err := g.emitOne(plan, u, grouped, accTy, outTy, outDT); err != nil {
			return nil, err
		}
	}

	threads := plan.Threads
	linearGroups := (threads + wgSize - 1) / wgSize
	if grouped {
		linearGroups = threads / plan.Dims.Groups
	}

	src := g.assemble(plan, wgSize, outTy, grouped, accTy)
	return &shader{source: src, workgroupSize: wgSize, workgroups: linearGroups}, nil
}

// emitOne generates the computation for one upcast slot.
func (g *genCtx) emitOne(plan *tuner.Plan, u int, grouped bool, accTy, outTy string, outDT alu.DType) error {
	k := plan.Kernel
	sub := map[string]*alu.Exp{}
	if plan.Dims.Upcast > 1 {
		sub[alu.SpecialUpcast] = alu.ConstInt(alu.Int32, int64(u))
	}
	exp := plan.Exp.Substitute(sub).Simplify()
	outIdx := plan.OutIndex.Substitute(sub).Simplify()

	if k.Reduce == nil {
		v, err := g.value(exp)
		if err != nil {
			return err
		}
		oi, err := g.value(outIdx)
		if err != nil {
			return err
		}
		g.store(oi, v, outDT, outTy)
		return nil
	}

	id, err := reduceIdentity(k.Reduce.Op, plan.Exp.DType, g)
	if err != nil {
		return err
	}
	acc := fmt.Sprintf("acc%d", u)
	g.line("var %s: %s = %s;", acc, accTy, id)

	g.line("for (var ridx: i32 = 0; ridx < %d; ridx++) {", plan.Dims.Reduce)
	m := g.enterScope()
	for un := 0; un < plan.Dims.Unroll; un++ {
		unSub := map[string]*alu.Exp{}
		if plan.Dims.Unroll > 1 {
			unSub[alu.SpecialUnroll] = alu.ConstInt(alu.Int32, int64(un))
		}
		body := exp.Substitute(unSub).Simplify()
		v, err := g.value(body)
		if err != nil {
			return err
		}
		g.line("%s = %s;", acc, reduceCombine(k.Reduce.Op, acc, v))
	}
	g.leaveScope(m)
	g.line("}")

	if grouped {
		return g.emitGroupCombine(plan, u, acc, accTy, outTy, outDT, outIdx)
	}

	final := acc
	if plan.Fusion != nil {
		v, err := g.valueWithAcc(plan.Fusion, acc)
		if err != nil {
			return err
		}
		final = v
	}
	oi, err := g.value(outIdx)
	if err != nil {
		return err
	}
	g.store(oi, final, outDT, outTy)
	return nil
}

// emitGroupCombine writes per-lane partials to workgroup memory, reduces
// them on lane 0 and stores the result.
func (g *genCtx) emitGroupCombine(plan *tuner.Plan, u int, acc, accTy, outTy string, outDT alu.DType, outIdx *alu.Exp) error {
	k := plan.Kernel
	g.needShared = true
	g.sharedTy = accTy
	g.line("partial%d[group] = %s;", u, acc)
	g.line("workgroupBarrier();")
	g.line("if (group == 0) {")
	m := g.enterScope()
	g.line("var total: %s = partial%d[0];", accTy, u)
	g.line("for (var gi: i32 = 1; gi < %d; gi++) {", plan.Dims.Groups)
	g.line("    total = %s;", reduceCombine(k.Reduce.Op, "total", fmt.Sprintf("partial%d[gi]", u)))
	g.line("}")
	final := "total"
	if plan.Fusion != nil {
		v, err := g.valueWithAcc(plan.Fusion, "total")
		if err != nil {
			return err
		}
		final = v
	}
	oi, err := g.value(outIdx)
	if err != nil {
		return err
	}
	g.store(oi, final, outDT, outTy)
	g.leaveScope(m)
	g.line("}")
	return nil
}

// valueWithAcc renders an epilogue whose acc special reads the named
// accumulator variable. The epilogue bindings are scoped so a later
// upcast slot re-emits them against its own accumulator.
func (g *genCtx) valueWithAcc(e *alu.Exp, accVar string) (string, error) {
	m := g.enterScope()
	g.indent = m.indent // same nesting, scope is only for binding reuse
	saved := g.accName
	g.accName = accVar
	v, err := g.value(e)
	g.accName = saved
	g.leaveScope(m)
	return v, err
}

func (g *genCtx) store(idx, v string, dt alu.DType, outTy string) {
	if dt == alu.Bool {
		g.line("out[u32(%s)] = select(0i, 1i, %s);", idx, v)
		return
	}
	g.line("out[u32(%s)] = %s(%s);", idx, outTy, v)
}

// assemble wraps the generated body with bindings, params and helpers.
func (g *genCtx) assemble(plan *tuner.Plan, wgSize int, outTy string, grouped bool, accTy string) string {
	var sb strings.Builder
	if g.useF16 {
		sb.WriteString("enable f16;\n\n")
	}
	k := plan.Kernel
	for gid := 0; gid < k.NumInputs; gid++ {
		dt, ok := g.inputs[gid]
		ty := "f32"
		if ok {
			ty, _ = wgslType(dt)
		}
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read> g%d: array<%s>;\n", gid, gid, ty)
	}
	fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> out: array<%s>;\n\n", k.NumInputs, outTy)

	for _, name := range sortedFuncs(g.funcs) {
		sb.WriteString(helperFuncs[name])
		sb.WriteString("\n\n")
	}

	if grouped && g.needShared {
		for u := 0; u < plan.Dims.Upcast; u++ {
			fmt.Fprintf(&sb, "var<workgroup> partial%d: array<%s, %d>;\n", u, g.sharedTy, plan.Dims.Groups)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d)\n", wgSize)
	sb.WriteString("fn main(@builtin(workgroup_id) wg: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {\n")
	sb.WriteString(g.body.String())
	sb.WriteString("}\n")
	return sb.String()
}
