// Package safetensors reads and writes the safetensors tensor container:
// an 8-byte little-endian header length, a JSON header describing each
// tensor, then the raw little-endian tensor bytes.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Supported dtypes.
const (
	F32  = "F32"
	F16  = "F16"
	BF16 = "BF16"
	I64  = "I64"
	I32  = "I32"
	U8   = "U8"
	Bool = "BOOL"
)

const metadataKey = "__metadata__"

// maxHeaderLen bounds the JSON header to guard against corrupt length prefixes.
const maxHeaderLen = 100 << 20

// TensorInfo describes one tensor in the header.
type TensorInfo struct {
	Name        string `json:"-"`
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Elements returns the number of elements implied by the shape. Shapes of
// tensors returned by a File are known not to overflow.
func (t TensorInfo) Elements() int {
	n, _ := elements(t.Shape)
	return n
}

// elements multiplies the dimensions of shape, reporting false on a negative
// dimension or when the product does not fit in an int.
func elements(shape []int) (int, bool) {
	n := 1
	for _, d := range shape {
		if d < 0 || (d != 0 && n > math.MaxInt/d) {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// File is a parsed safetensors container held in memory.
type File struct {
	Metadata map[string]string
	tensors  map[string]TensorInfo
	data     []byte
}

// Open reads and parses the file at path.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return f, nil
}

// Parse validates the header of data and indexes its tensors.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: failed to parse header: %w", err)
	}

	f := &File{
		tensors: make(map[string]TensorInfo, len(header)),
		data:    data[8+headerLen:],
	}
	for name, raw := range header {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &f.Metadata); err != nil {
				return nil, fmt.Errorf("safetensors: failed to parse metadata: %w", err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}
		info.Name = name
		if err := f.check(info); err != nil {
			return nil, err
		}
		f.tensors[name] = info
	}
	return f, nil
}

func (f *File) check(info TensorInfo) error {
	size, ok := dtypeSize(info.DType)
	if !ok {
		return fmt.Errorf("safetensors: tensor %q: unsupported dtype %s", info.Name, info.DType)
	}
	n, ok := elements(info.Shape)
	if !ok || n > math.MaxInt/size {
		return fmt.Errorf("safetensors: tensor %q: invalid shape %v", info.Name, info.Shape)
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > len(f.data) {
		return fmt.Errorf("safetensors: tensor %q: data range [%d:%d] exceeds data size %d",
			info.Name, start, end, len(f.data))
	}
	if end-start != n*size {
		return fmt.Errorf("safetensors: tensor %q: data size %d doesn't match shape %v",
			info.Name, end-start, info.Shape)
	}
	return nil
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the header entry for name.
func (f *File) Info(name string) (TensorInfo, bool) {
	info, ok := f.tensors[name]
	return info, ok
}

func (f *File) lookup(name string) (TensorInfo, []byte, error) {
	info, ok := f.tensors[name]
	if !ok {
		return TensorInfo{}, nil, fmt.Errorf("safetensors: tensor %q not found", name)
	}
	return info, f.data[info.DataOffsets[0]:info.DataOffsets[1]], nil
}

// Float32 decodes a floating point tensor, widening F16 and BF16.
func (f *File) Float32(name string) ([]float32, []int, error) {
	info, raw, err := f.lookup(name)
	if err != nil {
		return nil, nil, err
	}

	out := make([]float32, info.Elements())
	switch info.DType {
	case F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case BF16:
		for i := range out {
			out[i] = bfloat16.ToFloat32(bfloat16.FromBytes(raw[i*2:]))
		}
	default:
		return nil, nil, fmt.Errorf("safetensors: tensor %q: expected a float dtype, got %s", name, info.DType)
	}
	return out, append([]int(nil), info.Shape...), nil
}

// Int64 decodes an integer or boolean tensor, widening to int64.
func (f *File) Int64(name string) ([]int64, []int, error) {
	info, raw, err := f.lookup(name)
	if err != nil {
		return nil, nil, err
	}

	out := make([]int64, info.Elements())
	switch info.DType {
	case I64:
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case I32:
		for i := range out {
			out[i] = int64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case U8, Bool:
		for i := range out {
			out[i] = int64(raw[i])
		}
	default:
		return nil, nil, fmt.Errorf("safetensors: tensor %q: expected an integer dtype, got %s", name, info.DType)
	}
	return out, append([]int(nil), info.Shape...), nil
}

func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case F32, I32:
		return 4, true
	case F16, BF16:
		return 2, true
	case I64:
		return 8, true
	case U8, Bool:
		return 1, true
	default:
		return 0, false
	}
}
