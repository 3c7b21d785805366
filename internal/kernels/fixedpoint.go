package kernels

import (
	"math"

	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// quantizeMultiplier splits a real multiplier into a Q31 fixed-point value
// and a power-of-two exponent.
func quantizeMultiplier(m float64) (int32, int) {
	if m == 0 {
		return 0, 0
	}
	q, shift := math.Frexp(m)
	qFixed := int64(math.Round(q * (1 << 31)))
	if qFixed == 1<<31 {
		qFixed /= 2
		shift++
	}
	if shift < -31 {
		return 0, 0
	}
	return int32(qFixed), shift
}

func saturatingRoundingDoublingHighMul(a, b int32) int32 {
	if a == b && a == math.MinInt32 {
		return math.MaxInt32
	}
	ab := int64(a) * int64(b)
	nudge := int64(1 << 30)
	if ab < 0 {
		nudge = 1 - (1 << 30)
	}
	return int32((ab + nudge) / (1 << 31))
}

func roundingDivideByPOT(x int32, exponent int) int32 {
	if exponent == 0 {
		return x
	}
	mask := int32((int64(1) << exponent) - 1)
	remainder := x & mask
	threshold := mask >> 1
	if x < 0 {
		threshold++
	}
	r := x >> exponent
	if remainder > threshold {
		r++
	}
	return r
}

func multiplyByQuantizedMultiplier(x, multiplier int32, shift int) int32 {
	left, right := 0, 0
	if shift > 0 {
		left = shift
	} else {
		right = -shift
	}
	return roundingDivideByPOT(saturatingRoundingDoublingHighMul(x*(1<<left), multiplier), right)
}

// activationRange returns the int8 clamp bounds of a fused activation in the
// output tensor's quantized domain.
func activationRange(n *Node, act model.Activation, out *tensor.Tensor) (int32, int32, error) {
	lo, hi := int32(math.MinInt8), int32(math.MaxInt8)
	quant := func(x float32) int32 {
		return out.Params.ZeroPoint + int32(math.Round(float64(x/out.Params.Scale)))
	}
	switch act {
	case "", model.ActivationNone:
	case model.ActivationRelu:
		lo = max(lo, quant(0))
	case model.ActivationRelu6:
		lo = max(lo, quant(0))
		hi = min(hi, quant(6))
	default:
		return 0, 0, n.errorf("unsupported activation %q", act)
	}
	return lo, hi, nil
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
