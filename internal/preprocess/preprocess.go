// Package preprocess maps 8-bit grayscale pixels into the model's int8 input
// domain: p/127.5 - 1, then quantized with the input tensor's parameters.
package preprocess

import (
	"fmt"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// Normalize maps [0,255] onto [-1,1].
func Normalize(p uint8) float32 {
	return float32(p)/127.5 - 1.0
}

// Quantize maps a normalized value to int8 with round half away from zero.
func Quantize(x float32, params tensor.QuantParams) int8 {
	return params.Quantize(x)
}

// Pixel is Quantize(Normalize(p)).
func Pixel(p uint8, params tensor.QuantParams) int8 {
	return Quantize(Normalize(p), params)
}

// Table precomputes Pixel for all 256 gray levels.
func Table(params tensor.QuantParams) [256]int8 {
	var t [256]int8
	for p := range t {
		t[p] = Pixel(uint8(p), params)
	}
	return t
}

// Fill writes pixels into dst, which must be an int8 tensor with exactly
// len(pixels) elements.
func Fill(dst *tensor.Tensor, pixels []byte) error {
	if dst.Type != tensor.Int8 {
		return fmt.Errorf("input tensor %s has type %s, want %s", dst.Name, dst.Type, tensor.Int8)
	}
	if n := dst.Len(); n != len(pixels) || len(dst.Data) < n {
		return fmt.Errorf("input tensor %s holds %d elements, got %d pixels", dst.Name, n, len(pixels))
	}
	lut := Table(dst.Params)
	out := dst.Int8()
	for i, p := range pixels {
		out[i] = lut[p]
	}
	return nil
}
