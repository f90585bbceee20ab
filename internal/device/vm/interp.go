package vm

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/glint-ml/glint/internal/alu"
)

// machine interprets assembled programs. One machine is reused across all
// elements of a dispatch; the stack is sized once from the program's
// high-water mark.
type machine struct {
	stack    []uint32
	sp       int
	specials [numSlots]uint32
	inputs   [][]byte
}

func (m *machine) reserve(p *program) {
	if cap(m.stack) < p.maxStack {
		m.stack = make([]uint32, p.maxStack)
	}
	m.stack = m.stack[:cap(m.stack)]
}

func (m *machine) push(v uint32) {
	m.stack[m.sp] = v
	m.sp++
}

func (m *machine) pop() uint32 {
	m.sp--
	return m.stack[m.sp]
}

func f32(bits uint32) float32  { return math.Float32frombits(bits) }
func fbits(v float32) uint32   { return math.Float32bits(v) }
func b2u(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// run executes the program and returns the single result word.
func (m *machine) run(p *program) uint32 {
	m.sp = 0
	for _, in := range p.code {
		switch in.op {
		case opNop:
		case opConst:
			m.push(in.imm)
		case opSpecial:
			m.push(m.specials[in.imm])
		case opLoad:
			idx := int64(int32(m.pop()))
			m.push(m.load(int(in.gid), alu.DType(in.dt), idx))

		case opAddF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(a + b))
		case opSubF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(a - b))
		case opMulF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(a * b))
		case opDivF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(a / b))
		case opModF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(float32(math.Mod(float64(a), float64(b)))))
		case opMinF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(float32(math.Min(float64(a), float64(b)))))
		case opMaxF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(float32(math.Max(float64(a), float64(b)))))
		case opPowF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(fbits(pow32(a, b)))
		case opNegF:
			m.push(fbits(-f32(m.pop())))
		case opRecipF:
			m.push(fbits(1 / f32(m.pop())))
		case opExpF:
			m.push(fbits(exp32(f32(m.pop()))))
		case opLogF:
			m.push(fbits(log32(f32(m.pop()))))
		case opSinF:
			m.push(fbits(sin32(f32(m.pop()))))
		case opCosF:
			m.push(fbits(cos32(f32(m.pop()))))
		case opTanF:
			m.push(fbits(tan32(f32(m.pop()))))
		case opAtanF:
			m.push(fbits(atan32(f32(m.pop()))))
		case opAsinF:
			m.push(fbits(asin32(f32(m.pop()))))
		case opSqrtF:
			m.push(fbits(float32(math.Sqrt(float64(f32(m.pop()))))))
		case opAbsF:
			m.push(m.pop() &^ (1 << 31))
		case opErfF:
			m.push(fbits(erf32(f32(m.pop()))))
		case opErfcF:
			m.push(fbits(erfc32(f32(m.pop()))))

		case opAddI:
			b, a := m.pop(), m.pop()
			m.push(a + b)
		case opSubI:
			b, a := m.pop(), m.pop()
			m.push(a - b)
		case opMulI:
			b, a := m.pop(), m.pop()
			m.push(a * b)
		case opDivI:
			b, a := int32(m.pop()), int32(m.pop())
			if b == 0 {
				m.push(0)
			} else {
				m.push(uint32(a / b))
			}
		case opDivU:
			b, a := m.pop(), m.pop()
			if b == 0 {
				m.push(0)
			} else {
				m.push(a / b)
			}
		case opModI:
			b, a := int32(m.pop()), int32(m.pop())
			if b == 0 {
				m.push(0)
			} else {
				m.push(uint32(a % b))
			}
		case opModU:
			b, a := m.pop(), m.pop()
			if b == 0 {
				m.push(0)
			} else {
				m.push(a % b)
			}
		case opMinI:
			b, a := int32(m.pop()), int32(m.pop())
			m.push(uint32(min(a, b)))
		case opMaxI:
			b, a := int32(m.pop()), int32(m.pop())
			m.push(uint32(max(a, b)))
		case opMinU:
			b, a := m.pop(), m.pop()
			m.push(min(a, b))
		case opMaxU:
			b, a := m.pop(), m.pop()
			m.push(max(a, b))
		case opNegI:
			m.push(-m.pop())
		case opAbsI:
			v := int32(m.pop())
			if v < 0 {
				v = -v
			}
			m.push(uint32(v))

		case opEqF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(b2u(a == b))
		case opNeF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(b2u(a != b))
		case opLtF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(b2u(a < b))
		case opLeF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(b2u(a <= b))
		case opGtF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(b2u(a > b))
		case opGeF:
			b, a := f32(m.pop()), f32(m.pop())
			m.push(b2u(a >= b))
		case opEqI:
			b, a := m.pop(), m.pop()
			m.push(b2u(a == b))
		case opNeI:
			b, a := m.pop(), m.pop()
			m.push(b2u(a != b))
		case opLtI:
			b, a := int32(m.pop()), int32(m.pop())
			m.push(b2u(a < b))
		case opLeI:
			b, a := int32(m.pop()), int32(m.pop())
			m.push(b2u(a <= b))
		case opGtI:
			b, a := int32(m.pop()), int32(m.pop())
			m.push(b2u(a > b))
		case opGeI:
			b, a := int32(m.pop()), int32(m.pop())
			m.push(b2u(a >= b))
		case opLtU:
			b, a := m.pop(), m.pop()
			m.push(b2u(a < b))
		case opLeU:
			b, a := m.pop(), m.pop()
			m.push(b2u(a <= b))
		case opGtU:
			b, a := m.pop(), m.pop()
			m.push(b2u(a > b))
		case opGeU:
			b, a := m.pop(), m.pop()
			m.push(b2u(a >= b))

		case opSelect:
			y, x, cond := m.pop(), m.pop(), m.pop()
			if cond != 0 {
				m.push(x)
			} else {
				m.push(y)
			}

		case opF2I:
			m.push(uint32(int32(f32(m.pop()))))
		case opF2U:
			m.push(uint32(f32(m.pop())))
		case opI2F:
			m.push(fbits(float32(int32(m.pop()))))
		case opU2F:
			m.push(fbits(float32(m.pop())))
		case opI2B:
			m.push(b2u(m.pop() != 0))
		case opF2B:
			m.push(b2u(f32(m.pop()) != 0))
		}
	}
	return m.pop()
}

// load widens one stored element to a 32-bit register word.
func (m *machine) load(gid int, dt alu.DType, idx int64) uint32 {
	buf := m.inputs[gid]
	switch dt {
	case alu.Bool:
		return uint32(buf[idx])
	case alu.Int32, alu.Uint32, alu.Float32:
		return binary.LittleEndian.Uint32(buf[idx*4:])
	case alu.Float16:
		h := float16.Frombits(binary.LittleEndian.Uint16(buf[idx*2:]))
		return fbits(h.Float32())
	default:
		panic("vm: load of unsupported dtype")
	}
}

// store narrows a register word back to storage format.
func storeWord(buf []byte, dt alu.DType, idx int64, w uint32) {
	switch dt {
	case alu.Bool:
		buf[idx] = byte(b2u(w != 0))
	case alu.Int32, alu.Uint32, alu.Float32:
		binary.LittleEndian.PutUint32(buf[idx*4:], w)
	case alu.Float16:
		binary.LittleEndian.PutUint16(buf[idx*2:], float16.Fromfloat32(f32(w)).Bits())
	default:
		panic("vm: store of unsupported dtype")
	}
}
