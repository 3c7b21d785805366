package kernels

import (
	"math"
	"unsafe"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

type softmaxData struct {
	rows, depth int
	beta        float64
}

// SOFTMAX over the innermost dimension. Int8 tensors are dequantized,
// normalized in double precision and requantized with the output params.
func prepareSoftmax(n *Node) error {
	if err := n.expect(1, 1, 1); err != nil {
		return err
	}
	in, out := n.Inputs[0], n.Outputs[0]
	if err := n.expectType(in, tensor.Int8, tensor.Float32); err != nil {
		return err
	}
	if out.Type != in.Type {
		return n.errorf("output type %s differs from input %s", out.Type, in.Type)
	}
	if !tensor.SameDims(in.Dims, out.Dims) || len(in.Dims) == 0 {
		return n.errorf("shape %v -> %v", in.Dims, out.Dims)
	}
	d := &softmaxData{depth: in.Dims[len(in.Dims)-1], beta: float64(n.Options.Beta)}
	if d.depth == 0 {
		return n.errorf("empty innermost dimension")
	}
	if d.beta == 0 {
		d.beta = 1
	}
	d.rows = in.Len() / d.depth
	n.RequestScratch(d.depth * 8)
	n.data = d
	return nil
}

func float64s(b []byte, n int) []float64 {
	return unsafe.Slice((*float64)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

func evalSoftmax(n *Node) error {
	d := n.data.(*softmaxData)
	in, out := n.Inputs[0], n.Outputs[0]
	if len(n.Scratch) < d.depth*8 {
		return n.errorf("scratch of %d bytes, want %d", len(n.Scratch), d.depth*8)
	}
	exps := float64s(n.Scratch, d.depth)

	read := func(i int) float64 {
		if in.Type == tensor.Int8 {
			return float64(int32(in.Int8()[i])-in.Params.ZeroPoint) * float64(in.Params.Scale)
		}
		return float64(in.Float32()[i])
	}

	for r := 0; r < d.rows; r++ {
		base := r * d.depth
		maxv := math.Inf(-1)
		for i := 0; i < d.depth; i++ {
			maxv = math.Max(maxv, read(base+i))
		}
		var sum float64
		for i := 0; i < d.depth; i++ {
			exps[i] = math.Exp(d.beta * (read(base+i) - maxv))
			sum += exps[i]
		}
		for i := 0; i < d.depth; i++ {
			p := exps[i] / sum
			if out.Type == tensor.Int8 {
				out.Int8()[base+i] = out.Params.QuantizeFloat64(p)
			} else {
				out.Float32()[base+i] = float32(p)
			}
		}
	}
	return nil
}
