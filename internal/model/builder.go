package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// Builder assembles a container. It is used by tests and offline tooling.
type Builder struct {
	header Header
	data   bytes.Buffer
	err    error
}

func NewBuilder(name string) *Builder {
	return &Builder{header: Header{SchemaVersion: SchemaVersion, Name: name}}
}

// WithSchemaVersion overrides the schema version written to the container.
func (b *Builder) WithSchemaVersion(v uint32) *Builder {
	b.header.SchemaVersion = v
	return b
}

func (b *Builder) WithLabels(labels ...string) *Builder {
	b.header.Labels = labels
	return b
}

// AddTensor declares an activation tensor and returns its index.
func (b *Builder) AddTensor(name string, dtype tensor.DType, shape []int, q *tensor.QuantParams) int {
	b.header.Tensors = append(b.header.Tensors, TensorSpec{Name: name, DType: dtype, Shape: shape, Quant: q})
	return len(b.header.Tensors) - 1
}

func (b *Builder) AddConstInt8(name string, shape []int, q tensor.QuantParams, values []int8) int {
	raw := make([]byte, len(values))
	for i, v := range values {
		raw[i] = byte(v)
	}
	return b.addConst(name, tensor.Int8, shape, &q, raw)
}

func (b *Builder) AddConstInt32(name string, shape []int, values []int32) int {
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(v))
	}
	return b.addConst(name, tensor.Int32, shape, nil, raw)
}

func (b *Builder) addConst(name string, dtype tensor.DType, shape []int, q *tensor.QuantParams, raw []byte) int {
	if n, err := tensor.ElementCount(shape); err != nil || n*dtype.Size() != len(raw) {
		b.fail(fmt.Errorf("constant %s: %d bytes do not match shape %v", name, len(raw), shape))
	}
	begin := uint64(b.data.Len())
	b.data.Write(raw)
	end := uint64(b.data.Len())
	for b.data.Len()%DataAlignment != 0 {
		b.data.WriteByte(0)
	}
	b.header.Tensors = append(b.header.Tensors, TensorSpec{
		Name:        name,
		DType:       dtype,
		Shape:       shape,
		Quant:       q,
		DataOffsets: &[2]uint64{begin, end},
	})
	return len(b.header.Tensors) - 1
}

func (b *Builder) AddOperator(op string, inputs, outputs []int, opts Options) *Builder {
	b.header.Operators = append(b.header.Operators, OperatorSpec{Op: op, Inputs: inputs, Outputs: outputs, Options: opts})
	return b
}

func (b *Builder) SetIO(input, output int) *Builder {
	b.header.Inputs = []int{input}
	b.header.Outputs = []int{output}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Bytes serializes the container.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	hdr, err := json.Marshal(b.header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	// Pad the header so the data section starts aligned.
	for (prefixSize+len(hdr))%DataAlignment != 0 {
		hdr = append(hdr, ' ')
	}

	var out bytes.Buffer
	out.Grow(prefixSize + len(hdr) + b.data.Len())
	out.WriteString(Identifier)
	var prefix [12]byte
	binary.LittleEndian.PutUint32(prefix[0:4], b.header.SchemaVersion)
	binary.LittleEndian.PutUint64(prefix[4:12], uint64(len(hdr)))
	out.Write(prefix[:])
	out.Write(hdr)
	out.Write(b.data.Bytes())
	return out.Bytes(), nil
}
