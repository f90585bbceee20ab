package alu

// Op identifies the operation performed by an expression node.
type Op int

// Expression operations.
const (
	OpConst Op = iota
	OpSpecial

	// Binary numeric.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpIDiv
	OpMod
	OpMin
	OpMax
	OpPow

	// Unary numeric.
	OpNeg
	OpRecip
	OpExp
	OpLog
	OpSin
	OpCos
	OpTan
	OpAtan
	OpAsin
	OpSqrt
	OpAbs
	OpErf
	OpErfc

	// Comparisons, all returning Bool.
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpWhere
	OpCast

	// Buffer reads.
	OpGlobalIndex
	OpGlobalView
)

var opNames = map[Op]string{
	OpConst: "const", OpSpecial: "special",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpIDiv: "idiv", OpMod: "mod", OpMin: "min", OpMax: "max", OpPow: "pow",
	OpNeg: "neg", OpRecip: "recip", OpExp: "exp", OpLog: "log",
	OpSin: "sin", OpCos: "cos", OpTan: "tan", OpAtan: "atan",
	OpAsin: "asin", OpSqrt: "sqrt", OpAbs: "abs", OpErf: "erf", OpErfc: "erfc",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpWhere: "where", OpCast: "cast",
	OpGlobalIndex: "gidx_load", OpGlobalView: "view_load",
}

// String returns the mnemonic for the op.
func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "unknown"
}

// arity returns the required child count, or -1 for variable arity.
func (op Op) arity() int {
	switch op {
	case OpConst, OpSpecial:
		return 0
	case OpGlobalView:
		// Zero when indices are deferred to lowering, rank otherwise.
		return -1
	case OpNeg, OpRecip, OpExp, OpLog, OpSin, OpCos, OpTan, OpAtan, OpAsin,
		OpSqrt, OpAbs, OpErf, OpErfc, OpCast, OpGlobalIndex:
		return 1
	case OpAdd, OpSub, OpMul, OpDiv, OpIDiv, OpMod, OpMin, OpMax, OpPow,
		OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return 2
	case OpWhere:
		return 3
	default:
		return -1
	}
}

// IsComparison reports whether the op is one of the bool-valued comparisons.
func (op Op) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// IsCommutative reports whether operand order is irrelevant.
func (op Op) IsCommutative() bool {
	switch op {
	case OpAdd, OpMul, OpMin, OpMax, OpEq, OpNe:
		return true
	}
	return false
}
