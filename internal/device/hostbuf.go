package device

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/glint-ml/glint/internal/alu"
)

// LoadScalar reads element idx of dtype dt from a host byte buffer.
// Shared by the host backends and the routine implementations.
func LoadScalar(data []byte, dt alu.DType, idx int64) alu.Scalar {
	switch dt {
	case alu.Bool:
		return alu.BoolScalar(data[idx] != 0)
	case alu.Int32:
		v := int32(binary.LittleEndian.Uint32(data[idx*4:]))
		return alu.IntScalar(dt, int64(v))
	case alu.Uint32:
		v := binary.LittleEndian.Uint32(data[idx*4:])
		return alu.IntScalar(dt, int64(v))
	case alu.Float16:
		v := float16.Frombits(binary.LittleEndian.Uint16(data[idx*2:]))
		return alu.FloatScalar(dt, float64(v.Float32()))
	case alu.Float32:
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[idx*4:]))
		return alu.FloatScalar(dt, float64(v))
	case alu.Float64:
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[idx*8:]))
		return alu.FloatScalar(dt, v)
	default:
		panic("device: load of unknown dtype")
	}
}

// StoreScalar writes element idx of dtype dt into a host byte buffer.
func StoreScalar(data []byte, dt alu.DType, idx int64, v alu.Scalar) {
	switch dt {
	case alu.Bool:
		if v.Bool() {
			data[idx] = 1
		} else {
			data[idx] = 0
		}
	case alu.Int32, alu.Uint32:
		binary.LittleEndian.PutUint32(data[idx*4:], uint32(v.Int()))
	case alu.Float16:
		binary.LittleEndian.PutUint16(data[idx*2:], float16.Fromfloat32(float32(v.Float())).Bits())
	case alu.Float32:
		binary.LittleEndian.PutUint32(data[idx*4:], math.Float32bits(float32(v.Float())))
	case alu.Float64:
		binary.LittleEndian.PutUint64(data[idx*8:], math.Float64bits(v.Float()))
	default:
		panic("device: store of unknown dtype")
	}
}
