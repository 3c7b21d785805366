package inference

import (
	"time"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// Result is the best class of one invocation.
type Result struct {
	FrameID string
	// Index is the winning class, Quantized its raw int8 output.
	Index     int
	Quantized int8
	// Score is Quantized dequantized with the output params. It is a
	// readability aid, not a calibrated probability.
	Score float32
	// N is the number of output elements scanned.
	N       int
	Latency time.Duration
}

// Extract scans every int8 output with a strict greater-than, so ties go to
// the lowest index.
func Extract(out *tensor.Tensor) Result {
	vals := out.Int8()
	if n := out.Len(); n < len(vals) {
		vals = vals[:n]
	}
	res := Result{N: len(vals)}
	if len(vals) == 0 {
		return res
	}
	res.Quantized = vals[0]
	for i := 1; i < len(vals); i++ {
		if vals[i] > res.Quantized {
			res.Index, res.Quantized = i, vals[i]
		}
	}
	res.Score = out.Params.Dequantize(res.Quantized)
	return res
}
