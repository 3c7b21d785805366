package model

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

func tinyModel(t *testing.T, b *Builder) []byte {
	t.Helper()
	q := tensor.QuantParams{Scale: 0.5}
	in := b.AddTensor("in", tensor.Int8, []int{1, 4}, &q)
	w := b.AddConstInt8("w", []int{2, 4}, q, []int8{1, 2, 3, 4, 5, 6, 7, 8})
	bias := b.AddConstInt32("b", []int{2}, []int32{-1, 1})
	out := b.AddTensor("out", tensor.Int8, []int{1, 2}, &q)
	b.AddOperator("FULLY_CONNECTED", []int{in, w, bias}, []int{out}, Options{}).SetIO(in, out)
	buf, err := b.Bytes()
	require.NoError(t, err)
	return buf
}

func TestLoad(t *testing.T) {
	buf := tinyModel(t, NewBuilder("tiny").WithLabels("a", "b"))

	m, err := Load(buf)
	require.NoError(t, err)
	require.Equal(t, "tiny", m.Name())
	require.Equal(t, []string{"a", "b"}, m.Labels())
	require.Equal(t, len(buf), m.Size())
	require.Len(t, m.Header.Tensors, 4)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, m.ConstData(1))
	require.Nil(t, m.ConstData(0))

	bias := m.ConstData(2)
	require.Equal(t, int32(-1), int32(binary.LittleEndian.Uint32(bias)))

	// The data section starts aligned.
	headerLen := binary.LittleEndian.Uint64(buf[8:16])
	require.Zero(t, (prefixSize+int(headerLen))%DataAlignment)
}

func TestLoadSchemaMismatch(t *testing.T) {
	buf := tinyModel(t, NewBuilder("old").WithSchemaVersion(2))

	v, err := Version(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(2), v)

	_, err = Load(buf)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	require.Equal(t, uint32(2), se.Model)
	require.Equal(t, SchemaVersion, se.Runtime)
}

func TestLoadChecksVersionBeforeHeader(t *testing.T) {
	buf := make([]byte, prefixSize+4)
	copy(buf, Identifier)
	binary.LittleEndian.PutUint32(buf[4:8], 7)
	binary.LittleEndian.PutUint64(buf[8:16], 4)
	copy(buf[prefixSize:], "{{{{")

	_, err := Load(buf)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestLoadMalformed(t *testing.T) {
	good := tinyModel(t, NewBuilder("tiny"))

	cases := map[string][]byte{
		"short":      good[:8],
		"identifier": append([]byte("XXXX"), good[4:]...),
		"header len": func() []byte {
			b := append([]byte(nil), good...)
			binary.LittleEndian.PutUint64(b[8:16], uint64(len(b)))
			return b
		}(),
		"truncated data": good[:len(good)-16],
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(buf)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestLoadRejectsMissingScale(t *testing.T) {
	b := NewBuilder("bad")
	in := b.AddTensor("in", tensor.Int8, []int{4}, nil)
	out := b.AddTensor("out", tensor.Int8, []int{4}, &tensor.QuantParams{Scale: 1})
	b.AddOperator("RELU", []int{in}, []int{out}, Options{}).SetIO(in, out)
	buf, err := b.Bytes()
	require.NoError(t, err)

	_, err = Load(buf)
	require.ErrorIs(t, err, ErrMalformed)

	b = NewBuilder("zero scale")
	in = b.AddTensor("in", tensor.Int8, []int{4}, &tensor.QuantParams{Scale: 0})
	out = b.AddTensor("out", tensor.Int8, []int{4}, &tensor.QuantParams{Scale: 1})
	b.AddOperator("RELU", []int{in}, []int{out}, Options{}).SetIO(in, out)
	buf, err = b.Bytes()
	require.NoError(t, err)

	_, err = Load(buf)
	require.ErrorIs(t, err, tensor.ErrInvalidParams)
}

func TestLoadRejectsEmptyDimension(t *testing.T) {
	b := NewBuilder("empty")
	q := &tensor.QuantParams{Scale: 1}
	in := b.AddTensor("in", tensor.Int8, []int{1, 4, 4, 0}, q)
	out := b.AddTensor("out", tensor.Int8, []int{1, 4}, q)
	b.AddOperator("RELU", []int{in}, []int{out}, Options{}).SetIO(in, out)
	buf, err := b.Bytes()
	require.NoError(t, err)

	_, err = Load(buf)
	require.ErrorIs(t, err, ErrMalformed)
	require.ErrorContains(t, err, "empty dimension")
}

func TestLoadRejectsBadIndices(t *testing.T) {
	b := NewBuilder("bad")
	q := &tensor.QuantParams{Scale: 1}
	in := b.AddTensor("in", tensor.Int8, []int{4}, q)
	b.AddOperator("RELU", []int{in}, []int{9}, Options{}).SetIO(in, in)
	buf, err := b.Bytes()
	require.NoError(t, err)

	_, err = Load(buf)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestBuilderRejectsBadConst(t *testing.T) {
	b := NewBuilder("bad")
	b.AddConstInt8("w", []int{3}, tensor.QuantParams{Scale: 1}, []int8{1, 2})
	_, err := b.Bytes()
	require.Error(t, err)
}
