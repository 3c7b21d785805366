package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

const (
	// SchemaVersion is the container schema this runtime understands.
	SchemaVersion uint32 = 3

	// Identifier opens every container.
	Identifier = "QNNM"

	prefixSize = 16
	// DataAlignment is the padding applied to every blob in the data section.
	DataAlignment = 16
)

var (
	ErrMalformed      = errors.New("malformed model container")
	ErrSchemaMismatch = errors.New("model schema version mismatch")
)

// SchemaError reports a container built for a different runtime schema.
type SchemaError struct {
	Model   uint32
	Runtime uint32
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("incompatible schema: model=%d runtime=%d", e.Model, e.Runtime)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// Model is an immutable, validated container.
type Model struct {
	Header Header
	buf    []byte
	data   []byte
}

// Version reads the schema version of a container without parsing its header.
func Version(buf []byte) (uint32, error) {
	if len(buf) < prefixSize {
		return 0, fmt.Errorf("%w: %d bytes is shorter than the %d byte prefix", ErrMalformed, len(buf), prefixSize)
	}
	if !bytes.Equal(buf[:4], []byte(Identifier)) {
		return 0, fmt.Errorf("%w: identifier %q", ErrMalformed, buf[:4])
	}
	return binary.LittleEndian.Uint32(buf[4:8]), nil
}

// Load validates the schema version first, then the header and data section.
func Load(buf []byte) (*Model, error) {
	version, err := Version(buf)
	if err != nil {
		return nil, err
	}
	if version != SchemaVersion {
		return nil, &SchemaError{Model: version, Runtime: SchemaVersion}
	}

	headerLen := binary.LittleEndian.Uint64(buf[8:16])
	if headerLen > uint64(len(buf)-prefixSize) {
		return nil, fmt.Errorf("%w: header length %d exceeds buffer", ErrMalformed, headerLen)
	}
	headerEnd := prefixSize + int(headerLen)

	var h Header
	if err := json.Unmarshal(buf[prefixSize:headerEnd], &h); err != nil {
		return nil, fmt.Errorf("%w: parse header: %v", ErrMalformed, err)
	}
	if h.SchemaVersion != version {
		return nil, fmt.Errorf("%w: header schema %d disagrees with prefix %d", ErrMalformed, h.SchemaVersion, version)
	}

	m := &Model{Header: h, buf: buf, data: buf[headerEnd:]}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) validate() error {
	h := &m.Header
	for i, ts := range h.Tensors {
		if !ts.DType.Valid() {
			return fmt.Errorf("%w: tensor %d (%s) has unknown dtype %q", ErrMalformed, i, ts.Name, ts.DType)
		}
		count, err := tensor.ElementCount(ts.Shape)
		if err != nil {
			return fmt.Errorf("%w: tensor %d (%s): %v", ErrMalformed, i, ts.Name, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: tensor %d (%s) has an empty dimension in %v", ErrMalformed, i, ts.Name, ts.Shape)
		}
		if ts.DType == tensor.Int8 {
			if ts.Quant == nil {
				return fmt.Errorf("%w: int8 tensor %d (%s) has no quantization", ErrMalformed, i, ts.Name)
			}
			if err := ts.Quant.Validate(); err != nil {
				return fmt.Errorf("tensor %d (%s): %w", i, ts.Name, err)
			}
		}
		if ts.DataOffsets == nil {
			continue
		}
		begin, end := ts.DataOffsets[0], ts.DataOffsets[1]
		if begin > end || end > uint64(len(m.data)) {
			return fmt.Errorf("%w: tensor %d (%s) data offsets [%d,%d) outside data section of %d bytes",
				ErrMalformed, i, ts.Name, begin, end, len(m.data))
		}
		if want := uint64(count * ts.DType.Size()); end-begin != want {
			return fmt.Errorf("%w: tensor %d (%s) has %d data bytes, shape %v needs %d",
				ErrMalformed, i, ts.Name, end-begin, ts.Shape, want)
		}
	}

	for i, op := range h.Operators {
		if op.Op == "" {
			return fmt.Errorf("%w: operator %d has no kind", ErrMalformed, i)
		}
		for _, idx := range append(append([]int{}, op.Inputs...), op.Outputs...) {
			if idx < 0 || idx >= len(h.Tensors) {
				return fmt.Errorf("%w: operator %d (%s) references tensor %d of %d", ErrMalformed, i, op.Op, idx, len(h.Tensors))
			}
		}
	}

	if len(h.Inputs) != 1 || len(h.Outputs) != 1 {
		return fmt.Errorf("%w: expected one input and one output, got %d and %d", ErrMalformed, len(h.Inputs), len(h.Outputs))
	}
	for _, idx := range []int{h.Inputs[0], h.Outputs[0]} {
		if idx < 0 || idx >= len(h.Tensors) {
			return fmt.Errorf("%w: graph io references tensor %d of %d", ErrMalformed, idx, len(h.Tensors))
		}
		if h.Tensors[idx].DataOffsets != nil {
			return fmt.Errorf("%w: graph io tensor %d is a constant", ErrMalformed, idx)
		}
	}
	return nil
}

// ConstData returns the bytes of a constant tensor, or nil for activations.
// The slice aliases the model buffer and must not be modified.
func (m *Model) ConstData(i int) []byte {
	off := m.Header.Tensors[i].DataOffsets
	if off == nil {
		return nil
	}
	return m.data[off[0]:off[1]:off[1]]
}

// Size returns the container size in bytes.
func (m *Model) Size() int {
	return len(m.buf)
}

func (m *Model) Name() string {
	return m.Header.Name
}

func (m *Model) Labels() []string {
	return m.Header.Labels
}
