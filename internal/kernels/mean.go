package kernels

import (
	"unsafe"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

type meanData struct {
	reduced []bool
	count   int
	outLen  int
	// outStrides[i] is the stride of input dim i in the output, 0 if reduced.
	outStrides []int
}

// MEAN reduces the axes listed in options; negative axes count from the end.
func prepareMean(n *Node) error {
	if err := n.expect(1, 2, 1); err != nil {
		return err
	}
	in, out := n.Inputs[0], n.Outputs[0]
	if err := n.expectType(in, tensor.Int8); err != nil {
		return err
	}
	if err := n.expectType(out, tensor.Int8); err != nil {
		return err
	}
	rank := len(in.Dims)
	if len(n.Options.Axes) == 0 {
		return n.errorf("no axes to reduce")
	}
	d := &meanData{reduced: make([]bool, rank), count: 1, outStrides: make([]int, rank)}
	for _, ax := range n.Options.Axes {
		if ax < 0 {
			ax += rank
		}
		if ax < 0 || ax >= rank {
			return n.errorf("axis %d out of range for rank %d", ax, rank)
		}
		if !d.reduced[ax] {
			d.reduced[ax] = true
			d.count *= in.Dims[ax]
		}
	}
	if d.count == 0 {
		return n.errorf("reducing an empty dimension")
	}

	var want []int
	for i, dim := range in.Dims {
		switch {
		case !d.reduced[i]:
			want = append(want, dim)
		case n.Options.KeepDims:
			want = append(want, 1)
		}
	}
	d.outLen = in.Len() / d.count
	if out.Len() != d.outLen || (n.Options.KeepDims && !tensor.SameDims(out.Dims, want)) {
		return n.errorf("output dims %v, want %v", out.Dims, want)
	}
	stride := 1
	for i := rank - 1; i >= 0; i-- {
		if d.reduced[i] {
			continue
		}
		d.outStrides[i] = stride
		stride *= in.Dims[i]
	}
	n.RequestScratch(d.outLen * 4)
	n.data = d
	return nil
}

func evalMean(n *Node) error {
	d := n.data.(*meanData)
	in, out := n.Inputs[0], n.Outputs[0]
	if len(n.Scratch) < d.outLen*4 {
		return n.errorf("scratch of %d bytes, want %d", len(n.Scratch), d.outLen*4)
	}
	sums := unsafe.Slice((*int32)(unsafe.Pointer(unsafe.SliceData(n.Scratch))), d.outLen)
	clear(sums)

	idx := make([]int, len(in.Dims))
	for _, q := range in.Int8() {
		o := 0
		for i, v := range idx {
			o += v * d.outStrides[i]
		}
		sums[o] += int32(q)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < in.Dims[i] {
				break
			}
			idx[i] = 0
		}
	}

	dst := out.Int8()
	for o, s := range sums {
		mean := float64(s) / float64(d.count)
		real := (mean - float64(in.Params.ZeroPoint)) * float64(in.Params.Scale)
		dst[o] = out.Params.QuantizeFloat64(real)
	}
	return nil
}
