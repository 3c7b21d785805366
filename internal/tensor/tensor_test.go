package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantizeRoundsHalfAwayFromZero(t *testing.T) {
	p := QuantParams{Scale: 1}
	require.Equal(t, int8(3), p.Quantize(2.5))
	require.Equal(t, int8(-3), p.Quantize(-2.5))
	require.Equal(t, int8(2), p.Quantize(2.49))
}

func TestQuantizeSaturates(t *testing.T) {
	p := QuantParams{Scale: 0.01, ZeroPoint: 10}
	require.Equal(t, int8(127), p.Quantize(100))
	require.Equal(t, int8(-128), p.Quantize(-100))
	require.Equal(t, int8(math.MaxInt8), ClampInt8(1<<40))
	require.Equal(t, int8(math.MinInt8), ClampInt8(-1<<40))
}

func TestQuantizeSaturatesBeyondInt64(t *testing.T) {
	p := QuantParams{Scale: 1e-30}
	require.Equal(t, int8(127), p.Quantize(1))
	require.Equal(t, int8(-128), p.Quantize(-1))
	require.Equal(t, int8(127), p.QuantizeFloat64(1))
	require.Equal(t, int8(-128), p.QuantizeFloat64(-1))
	require.Equal(t, int8(127), p.Quantize(math.MaxFloat32))
	require.Equal(t, int8(-128), p.QuantizeFloat64(math.Inf(-1)))
	require.Equal(t, int8(0), p.QuantizeFloat64(math.NaN()))
}

func TestDequantizeRoundTrip(t *testing.T) {
	p := QuantParams{Scale: 0.0078125, ZeroPoint: -3}
	for _, x := range []float32{-0.9, -0.5, 0, 0.1234, 0.97} {
		q := p.Quantize(x)
		require.InDelta(t, x, p.Dequantize(q), float64(p.Scale))
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, QuantParams{Scale: 0.5}.Validate())
	require.ErrorIs(t, QuantParams{Scale: 0}.Validate(), ErrInvalidParams)
	require.ErrorIs(t, QuantParams{Scale: -1}.Validate(), ErrInvalidParams)
	require.ErrorIs(t, QuantParams{Scale: float32(math.NaN())}.Validate(), ErrInvalidParams)
}

func TestElementCount(t *testing.T) {
	n, err := ElementCount([]int{1, 64, 64, 1})
	require.NoError(t, err)
	require.Equal(t, 4096, n)

	n, err = ElementCount(nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = ElementCount([]int{2, -1})
	require.Error(t, err)

	_, err = ElementCount([]int{1 << 20, 1 << 20})
	require.Error(t, err)
}

func TestTypedViews(t *testing.T) {
	tt := &Tensor{Type: Int32, Dims: []int{2}, Data: []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}}
	require.Equal(t, 8, tt.Bytes())
	require.Equal(t, []int32{1, -1}, tt.Int32())

	q := &Tensor{Type: Int8, Dims: []int{2}, Data: []byte{0x80, 0x7f}}
	require.Equal(t, []int8{-128, 127}, q.Int8())
	require.True(t, SameDims([]int{1, 2}, []int{1, 2}))
	require.False(t, SameDims([]int{1, 2}, []int{2, 1}))
}
