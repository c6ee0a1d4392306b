package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor is a named tensor ready to be encoded.
type Tensor struct {
	Name  string
	DType string
	Shape []int
	Data  []byte
}

// FromFloat32 encodes values with the given float dtype (F32, F16 or BF16).
func FromFloat32(name, dtype string, shape []int, values []float32) (Tensor, error) {
	var data []byte
	switch dtype {
	case F32:
		data = make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
	case F16:
		data = make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
		}
	case BF16:
		data = bfloat16.EncodeFloat32(values)
	default:
		return Tensor{}, fmt.Errorf("safetensors: %q is not a float dtype", dtype)
	}
	return Tensor{Name: name, DType: dtype, Shape: shape, Data: data}, nil
}

// FromInt64 encodes values as I64.
func FromInt64(name string, shape []int, values []int64) Tensor {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(v))
	}
	return Tensor{Name: name, DType: I64, Shape: shape, Data: data}
}

// Write encodes tensors, in order, as a safetensors container.
func Write(w io.Writer, metadata map[string]string, tensors ...Tensor) error {
	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	offset := 0
	for _, t := range tensors {
		if _, dup := header[t.Name]; dup || t.Name == metadataKey {
			return fmt.Errorf("safetensors: duplicate or reserved tensor name %q", t.Name)
		}
		header[t.Name] = TensorInfo{
			DType:       t.DType,
			Shape:       t.Shape,
			DataOffsets: [2]int{offset, offset + len(t.Data)},
		}
		offset += len(t.Data)
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: failed to encode header: %w", err)
	}
	// Pad the header so tensor data starts 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(hdr)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("safetensors: %w", err)
	}
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("safetensors: %w", err)
	}
	for _, t := range tensors {
		if _, err := w.Write(t.Data); err != nil {
			return fmt.Errorf("safetensors: %w", err)
		}
	}
	return nil
}
