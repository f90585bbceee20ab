package vm

import (
	"math"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/device"
)

// program is an assembled expression: straight-line stack code plus the
// high-water mark of the evaluation stack.
type program struct {
	code     []instr
	maxStack int
	dtype    alu.DType
}

type assembler struct {
	code  []instr
	depth int
	max   int
}

func (a *assembler) emit(in instr, pop, push int) {
	a.depth += push - pop
	if a.depth > a.max {
		a.max = a.depth
	}
	a.code = append(a.code, in)
}

var specialSlots = map[string]uint32{
	alu.SpecialGidx:   slotGidx,
	alu.SpecialRidx:   slotRidx,
	alu.SpecialGroup:  slotGroup,
	alu.SpecialAcc:    slotAcc,
	alu.SpecialUnroll: slotUnroll,
	alu.SpecialUpcast: slotUpcast,
}

// assemble lowers an ALU expression to stack code by post-order walk.
// The expression must already be view-free (tuner output). Float64 has no
// home in a 32-bit ALU and is rejected as a capability error.
func assemble(e *alu.Exp) (*program, error) {
	a := &assembler{}
	if err := a.walk(e); err != nil {
		return nil, err
	}
	return &program{code: a.code, maxStack: a.max, dtype: e.DType}, nil
}

func regClass(dt alu.DType) (float bool, err error) {
	switch dt {
	case alu.Float16, alu.Float32:
		return true, nil
	case alu.Int32, alu.Uint32, alu.Bool:
		return false, nil
	default:
		return false, errors.Wrapf(device.ErrUnsupported, "vm: dtype %s", dt)
	}
}

func (a *assembler) walk(e *alu.Exp) error {
	switch e.Op {
	case alu.OpConst:
		s := e.Arg.(alu.Scalar)
		isF, err := regClass(s.DType)
		if err != nil {
			return err
		}
		var imm uint32
		switch {
		case isF:
			imm = math.Float32bits(float32(s.F))
		case s.DType == alu.Bool:
			if s.B {
				imm = 1
			}
		default:
			imm = uint32(s.I)
		}
		a.emit(instr{op: opConst, imm: imm}, 0, 1)
		return nil

	case alu.OpSpecial:
		name := e.Arg.(alu.SpecialArg).Name
		slot, ok := specialSlots[name]
		if !ok {
			return errors.Errorf("vm: unknown special %s", name)
		}
		a.emit(instr{op: opSpecial, imm: slot}, 0, 1)
		return nil

	case alu.OpGlobalIndex:
		if err := a.walk(e.Src[0]); err != nil {
			return err
		}
		if _, err := regClass(e.DType); err != nil {
			return err
		}
		arg := e.Arg.(alu.IndexArg)
		a.emit(instr{op: opLoad, gid: uint8(arg.Gid), dt: uint8(e.DType)}, 1, 1)
		return nil

	case alu.OpGlobalView:
		return errors.New("vm: unlowered view reached the assembler")

	case alu.OpWhere:
		for _, s := range e.Src {
			if err := a.walk(s); err != nil {
				return err
			}
		}
		a.emit(instr{op: opSelect}, 3, 1)
		return nil

	case alu.OpCast:
		if err := a.walk(e.Src[0]); err != nil {
			return err
		}
		return a.emitCast(e.Src[0].DType, e.DType)
	}

	for _, s := range e.Src {
		if err := a.walk(s); err != nil {
			return err
		}
	}
	if e.Op.IsComparison() {
		return a.emitCompare(e.Op, e.Src[0].DType)
	}
	return a.emitALU(e.Op, e.DType, len(e.Src))
}

func (a *assembler) emitCast(from, to alu.DType) error {
	fromF, err := regClass(from)
	if err != nil {
		return err
	}
	toF, err := regClass(to)
	if err != nil {
		return err
	}
	switch {
	case fromF && toF, from == to:
		// f16 and f32 share the register format.
	case fromF && to == alu.Bool:
		a.emit(instr{op: opF2B}, 1, 1)
	case fromF && to == alu.Int32:
		a.emit(instr{op: opF2I}, 1, 1)
	case fromF && to == alu.Uint32:
		a.emit(instr{op: opF2U}, 1, 1)
	case from == alu.Uint32 && toF:
		a.emit(instr{op: opU2F}, 1, 1)
	case !fromF && toF:
		a.emit(instr{op: opI2F}, 1, 1)
	case from == alu.Bool || to == alu.Bool && !fromF:
		if to == alu.Bool {
			a.emit(instr{op: opI2B}, 1, 1)
		}
		// bool widens to 0/1 with no instruction.
	default:
		// i32 <-> u32 reinterpret in place.
	}
	return nil
}

func (a *assembler) emitCompare(op alu.Op, operand alu.DType) error {
	isF, err := regClass(operand)
	if err != nil {
		return err
	}
	var oc opcode
	switch {
	case isF:
		oc = map[alu.Op]opcode{
			alu.OpEq: opEqF, alu.OpNe: opNeF, alu.OpLt: opLtF,
			alu.OpLe: opLeF, alu.OpGt: opGtF, alu.OpGe: opGeF,
		}[op]
	case operand == alu.Uint32:
		oc = map[alu.Op]opcode{
			alu.OpEq: opEqI, alu.OpNe: opNeI, alu.OpLt: opLtU,
			alu.OpLe: opLeU, alu.OpGt: opGtU, alu.OpGe: opGeU,
		}[op]
	default:
		oc = map[alu.Op]opcode{
			alu.OpEq: opEqI, alu.OpNe: opNeI, alu.OpLt: opLtI,
			alu.OpLe: opLeI, alu.OpGt: opGtI, alu.OpGe: opGeI,
		}[op]
	}
	a.emit(instr{op: oc}, 2, 1)
	return nil
}

var floatALU = map[alu.Op]opcode{
	alu.OpAdd: opAddF, alu.OpSub: opSubF, alu.OpMul: opMulF, alu.OpDiv: opDivF,
	alu.OpMod: opModF, alu.OpMin: opMinF, alu.OpMax: opMaxF, alu.OpPow: opPowF,
	alu.OpNeg: opNegF, alu.OpRecip: opRecipF, alu.OpExp: opExpF, alu.OpLog: opLogF,
	alu.OpSin: opSinF, alu.OpCos: opCosF, alu.OpTan: opTanF, alu.OpAtan: opAtanF,
	alu.OpAsin: opAsinF, alu.OpSqrt: opSqrtF, alu.OpAbs: opAbsF,
	alu.OpErf: opErfF, alu.OpErfc: opErfcF,
}

var intALU = map[alu.Op]opcode{
	alu.OpAdd: opAddI, alu.OpSub: opSubI, alu.OpMul: opMulI,
	alu.OpDiv: opDivI, alu.OpIDiv: opDivI, alu.OpMod: opModI,
	alu.OpMin: opMinI, alu.OpMax: opMaxI,
	alu.OpNeg: opNegI, alu.OpAbs: opAbsI,
}

var uintALU = map[alu.Op]opcode{
	alu.OpAdd: opAddI, alu.OpSub: opSubI, alu.OpMul: opMulI,
	alu.OpDiv: opDivU, alu.OpIDiv: opDivU, alu.OpMod: opModU,
	alu.OpMin: opMinU, alu.OpMax: opMaxU,
}

func (a *assembler) emitALU(op alu.Op, dt alu.DType, arity int) error {
	isF, err := regClass(dt)
	if err != nil {
		return err
	}
	var table map[alu.Op]opcode
	switch {
	case isF:
		table = floatALU
	case dt == alu.Uint32:
		table = uintALU
	default:
		table = intALU
	}
	if op == alu.OpIDiv && isF {
		// Integer division of floats truncates.
		a.emit(instr{op: opDivF}, 2, 1)
		a.emit(instr{op: opF2I}, 1, 1)
		a.emit(instr{op: opI2F}, 1, 1)
		return nil
	}
	oc, ok := table[op]
	if !ok {
		return errors.Errorf("vm: op %s unsupported for dtype %s", op, dt)
	}
	a.emit(instr{op: oc}, arity, 1)
	return nil
}
