package tensor

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// DType names the element type of a tensor. Values follow the safetensors
// dtype vocabulary.
type DType string

const (
	Int8    DType = "I8"
	Int32   DType = "I32"
	Float32 DType = "F32"
)

// Size returns the element size in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	switch d {
	case Int8:
		return 1
	case Int32, Float32:
		return 4
	default:
		return 0
	}
}

func (d DType) Valid() bool {
	return d.Size() > 0
}

var ErrInvalidParams = errors.New("invalid quantization parameters")

// QuantParams maps real values to integer codes: real = (q - ZeroPoint) * Scale.
type QuantParams struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
}

// Validate enforces scale > 0.
func (p QuantParams) Validate() error {
	if !(p.Scale > 0) || math.IsInf(float64(p.Scale), 0) {
		return fmt.Errorf("%w: scale must be > 0, got %g", ErrInvalidParams, p.Scale)
	}
	return nil
}

// Quantize returns round_half_away_from_zero(x/scale) + zero_point clamped to int8.
func (p QuantParams) Quantize(x float32) int8 {
	v := float32(x / p.Scale)
	return saturateInt8(math.Round(float64(v)) + float64(p.ZeroPoint))
}

// QuantizeFloat64 is Quantize for values computed in double precision by kernels.
func (p QuantParams) QuantizeFloat64(x float64) int8 {
	return saturateInt8(math.Round(x/float64(p.Scale)) + float64(p.ZeroPoint))
}

// saturateInt8 clamps in float space; converting an out of range float to
// an integer is implementation defined. NaN maps to 0.
func saturateInt8(v float64) int8 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= math.MinInt8:
		return math.MinInt8
	case v >= math.MaxInt8:
		return math.MaxInt8
	}
	return int8(v)
}

// Dequantize returns (q - zero_point) * scale.
func (p QuantParams) Dequantize(q int8) float32 {
	return float32(int32(q)-p.ZeroPoint) * p.Scale
}

// ClampInt8 saturates v to [-128, 127].
func ClampInt8(v int64) int8 {
	if v < math.MinInt8 {
		return math.MinInt8
	}
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(v)
}

// Tensor is a typed view over a byte buffer. Activation tensors are carved
// from the arena, constant tensors alias the model buffer. Host byte order is
// assumed to be little-endian.
type Tensor struct {
	Name   string
	Type   DType
	Dims   []int
	Data   []byte
	Params QuantParams
	Const  bool
}

// Len returns the element count implied by Dims.
func (t *Tensor) Len() int {
	n, _ := ElementCount(t.Dims)
	return n
}

// Bytes returns the storage size implied by Dims and Type.
func (t *Tensor) Bytes() int {
	return t.Len() * t.Type.Size()
}

func (t *Tensor) Int8() []int8 {
	if len(t.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(unsafe.SliceData(t.Data))), len(t.Data))
}

func (t *Tensor) Int32() []int32 {
	if len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(unsafe.SliceData(t.Data))), len(t.Data)/4)
}

func (t *Tensor) Float32() []float32 {
	if len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(t.Data))), len(t.Data)/4)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s %s %v scale=%g zp=%d", t.Name, t.Type, t.Dims, t.Params.Scale, t.Params.ZeroPoint)
}

// ElementCount multiplies dims, rejecting negative dimensions and overflow.
func ElementCount(dims []int) (int, error) {
	count := 1
	for i, d := range dims {
		if d < 0 {
			return 0, fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, d)
		}
		if d == 0 {
			return 0, nil
		}
		if count > math.MaxInt32/d {
			return 0, fmt.Errorf("shape %v exceeds maximum supported element count", dims)
		}
		count *= d
	}
	return count, nil
}

// SameDims reports whether two shapes are identical.
func SameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
