package loader

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/glint-ml/glint/internal/alu"
	"github.com/glint-ml/glint/internal/array"
)

func tagOf(dt alu.DType) (DType, error) {
	switch dt {
	case alu.Float64:
		return F64, nil
	case alu.Float32:
		return F32, nil
	case alu.Float16:
		return F16, nil
	case alu.Int32:
		return I32, nil
	case alu.Uint32:
		return U32, nil
	case alu.Bool:
		return Bool, nil
	default:
		return "", errors.Errorf("no safetensors tag for dtype %s", dt)
	}
}

// Save writes arrays into a safetensors file. Each array is realized and
// read back; tensors are laid out in name order.
func Save(path string, tensors map[string]*array.Array, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for n := range tensors {
		names = append(names, n)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if metadata != nil {
		header["__metadata__"] = metadata
	}
	var payload [][]byte
	offset := int64(0)
	for _, name := range names {
		a := tensors[name]
		tag, err := tagOf(a.DType())
		if err != nil {
			return errors.Wrapf(err, "tensor %q", name)
		}
		data, err := a.Bytes()
		if err != nil {
			return errors.Wrapf(err, "tensor %q", name)
		}
		header[name] = TensorInfo{
			DType:       tag,
			Shape:       a.Shape(),
			DataOffsets: [2]int64{offset, offset + int64(len(data))},
		}
		payload = append(payload, data)
		offset += int64(len(data))
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encode header")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create safetensors")
	}
	defer f.Close()

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(len(headerBytes)))
	if _, err := f.Write(sizeBuf[:]); err != nil {
		return errors.Wrap(err, "write header size")
	}
	if _, err := f.Write(headerBytes); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, p := range payload {
		if _, err := f.Write(p); err != nil {
			return errors.Wrap(err, "write tensor data")
		}
	}
	return nil
}
