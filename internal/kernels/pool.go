package kernels

import (
	"math"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

type poolData struct {
	window
	actMin, actMax int32
}

func preparePool(n *Node) error {
	if err := n.expect(1, 1, 1); err != nil {
		return err
	}
	in, out := n.Inputs[0], n.Outputs[0]
	if err := n.expectType(in, tensor.Int8); err != nil {
		return err
	}
	if err := n.expectType(out, tensor.Int8); err != nil {
		return err
	}
	if n.Options.FilterH <= 0 || n.Options.FilterW <= 0 {
		return n.errorf("filter size %dx%d must be positive", n.Options.FilterH, n.Options.FilterW)
	}
	if n.Options.DilationH > 1 || n.Options.DilationW > 1 {
		return n.errorf("dilated pooling is not supported")
	}
	if in.Params != out.Params {
		return n.errorf("input and output quantization must match, got %+v and %+v", in.Params, out.Params)
	}
	w, err := planWindow(n, in, out, n.Options.FilterH, n.Options.FilterW)
	if err != nil {
		return err
	}
	if out.Dims[3] != in.Dims[3] {
		return n.errorf("pooling cannot change channels %d -> %d", in.Dims[3], out.Dims[3])
	}
	d := &poolData{window: w}
	if d.actMin, d.actMax, err = activationRange(n, n.Options.Activation, out); err != nil {
		return err
	}
	n.data = d
	return nil
}

// poolEach calls fn for every output cell with the clipped filter bounds.
func poolEach(n *Node, fn func(inBase, outIdx, y0, y1, x0, x1 int)) {
	d := n.data.(*poolData)
	in := n.Inputs[0]
	batches, inH, inW, ch := in.Dims[0], in.Dims[1], in.Dims[2], in.Dims[3]
	for b := 0; b < batches; b++ {
		for oy := 0; oy < d.outH; oy++ {
			for ox := 0; ox < d.outW; ox++ {
				iy := oy*d.strideH - d.padH
				ix := ox*d.strideW - d.padW
				y0, y1 := max(0, iy), min(inH, iy+d.filterH)
				x0, x1 := max(0, ix), min(inW, ix+d.filterW)
				for c := 0; c < ch; c++ {
					fn(b*inH*inW*ch+c, ((b*d.outH+oy)*d.outW+ox)*ch+c, y0, y1, x0, x1)
				}
			}
		}
	}
}

func evalMaxPool(n *Node) error {
	d := n.data.(*poolData)
	in, out := n.Inputs[0], n.Outputs[0]
	inData, outData := in.Int8(), out.Int8()
	inW, ch := in.Dims[2], in.Dims[3]
	poolEach(n, func(inBase, outIdx, y0, y1, x0, x1 int) {
		m := int32(math.MinInt8)
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				m = max(m, int32(inData[inBase+(y*inW+x)*ch]))
			}
		}
		outData[outIdx] = int8(clamp32(m, d.actMin, d.actMax))
	})
	return nil
}

// evalAveragePool divides with rounding half away from zero over the cells
// that fall inside the input.
func evalAveragePool(n *Node) error {
	d := n.data.(*poolData)
	in, out := n.Inputs[0], n.Outputs[0]
	inData, outData := in.Int8(), out.Int8()
	inW, ch := in.Dims[2], in.Dims[3]
	var failed error
	poolEach(n, func(inBase, outIdx, y0, y1, x0, x1 int) {
		var sum, count int32
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				sum += int32(inData[inBase+(y*inW+x)*ch])
				count++
			}
		}
		if count == 0 {
			failed = n.errorf("empty pooling window at output %d", outIdx)
			return
		}
		var avg int32
		if sum > 0 {
			avg = (sum + count/2) / count
		} else {
			avg = (sum - count/2) / count
		}
		outData[outIdx] = int8(clamp32(avg, d.actMin, d.actMax))
	})
	return failed
}
