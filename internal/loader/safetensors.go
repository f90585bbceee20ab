// Package loader reads and writes the safetensors container format:
// an 8-byte little-endian header length, a JSON header mapping tensor
// names to {dtype, shape, data_offsets}, then packed tensor bytes.
// Tensors load directly into device arrays.
package loader

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
	"github.com/glint-ml/glint/internal/device"
	"github.com/glint-ml/glint/internal/view"
)

// maxHeaderSize bounds the JSON header to keep corrupt files from
// driving huge allocations.
const maxHeaderSize = 100 * 1024 * 1024

// DType is a safetensors dtype tag.
type DType string

// Safetensors dtype tags this loader understands.
const (
	F64  DType = "F64"
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
	I32  DType = "I32"
	U32  DType = "U32"
	Bool DType = "BOOL"
)

// TensorInfo describes one tensor in the header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Reader reads tensors out of a safetensors file.
type Reader struct {
	file       *os.File
	tensors    map[string]TensorInfo
	metadata   map[string]string
	dataOffset int64
}

// Open parses the header of a safetensors file.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open safetensors")
	}
	r, err := parse(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

func parse(file *os.File) (*Reader, error) {
	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "read header size")
	}
	if headerSize > maxHeaderSize {
		return nil, errors.Errorf("header size %d exceeds limit", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, errors.Wrap(err, "parse header JSON")
	}
	r := &Reader{
		file:       file,
		tensors:    make(map[string]TensorInfo, len(raw)),
		dataOffset: int64(8 + headerSize),
	}
	for name, msg := range raw {
		if name == "__metadata__" {
			if err := json.Unmarshal(msg, &r.metadata); err != nil {
				return nil, errors.Wrap(err, "parse metadata")
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, errors.Wrapf(err, "parse tensor %q", name)
		}
		if info.DataOffsets[1] < info.DataOffsets[0] || info.DataOffsets[0] < 0 {
			return nil, errors.Errorf("tensor %q has invalid offsets %v", name, info.DataOffsets)
		}
		r.tensors[name] = info
	}
	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the optional __metadata__ map.
func (r *Reader) Metadata() map[string]string { return r.metadata }

// Names lists the tensors in the file.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.tensors))
	for n := range r.tensors {
		names = append(names, n)
	}
	return names
}

// Info returns one tensor's header entry.
func (r *Reader) Info(name string) (TensorInfo, error) {
	info, ok := r.tensors[name]
	if !ok {
		return TensorInfo{}, errors.Errorf("tensor %q not found", name)
	}
	return info, nil
}

// readBytes pulls a tensor's packed bytes.
func (r *Reader) readBytes(info TensorInfo) ([]byte, error) {
	size := info.DataOffsets[1] - info.DataOffsets[0]
	if _, err := r.file.Seek(r.dataOffset+info.DataOffsets[0], io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek tensor data")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, errors.Wrap(err, "read tensor data")
	}
	return data, nil
}

// dtypeOf maps a safetensors tag to a device dtype, with a conversion
// note for bf16.
func dtypeOf(dt DType) (alu.DType, bool, error) {
	switch dt {
	case F64:
		return alu.Float64, false, nil
	case F32:
		return alu.Float32, false, nil
	case F16:
		return alu.Float16, false, nil
	case BF16:
		// Widened to f32 on load; there is no bf16 storage dtype.
		return alu.Float32, true, nil
	case I32:
		return alu.Int32, false, nil
	case U32:
		return alu.Uint32, false, nil
	case Bool:
		return alu.Bool, false, nil
	default:
		return 0, false, errors.Errorf("unsupported safetensors dtype %s", dt)
	}
}

// Load reads one tensor into an array on the device.
func (r *Reader) Load(name string, dev device.Backend) (*array.Array, error) {
	info, err := r.Info(name)
	if err != nil {
		return nil, err
	}
	dt, widen, err := dtypeOf(info.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", name)
	}
	data, err := r.readBytes(info)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", name)
	}
	size := view.NumElements(info.Shape)
	if widen {
		if len(data) != 2*size {
			return nil, errors.Errorf("tensor %q: %d bytes for %d bf16 elements", name, len(data), size)
		}
		data = bf16ToF32(data)
	}
	if len(data) != size*dt.Size() {
		return nil, errors.Errorf("tensor %q: %d bytes for shape %v of %s", name, len(data), info.Shape, dt)
	}
	return array.FromBytes(dev, info.Shape, dt, data)
}

// LoadAll reads every tensor in the file.
func (r *Reader) LoadAll(dev device.Backend) (map[string]*array.Array, error) {
	out := make(map[string]*array.Array, len(r.tensors))
	for name := range r.tensors {
		a, err := r.Load(name, dev)
		if err != nil {
			for _, done := range out {
				done.Dispose()
			}
			return nil, err
		}
		out[name] = a
	}
	return out, nil
}

// bf16ToF32 widens packed bfloat16 to float32: a bf16 is the top half of
// the f32 bit pattern.
func bf16ToF32(data []byte) []byte {
	out := make([]byte, 2*len(data))
	for i := 0; i+1 < len(data); i += 2 {
		bits := uint32(binary.LittleEndian.Uint16(data[i:])) << 16
		binary.LittleEndian.PutUint32(out[2*i:], bits)
	}
	return out
}
