package kernels

import (
	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// outputSize follows the TFLite padding rules.
func outputSize(p model.Padding, in, filter, stride, dilation int) int {
	effective := (filter-1)*dilation + 1
	switch p {
	case model.PaddingValid:
		return (in - effective + stride) / stride
	default:
		return (in + stride - 1) / stride
	}
}

func paddingBefore(in, filter, stride, dilation, out int) int {
	effective := (filter-1)*dilation + 1
	total := (out-1)*stride + effective - in
	if total < 0 {
		return 0
	}
	return total / 2
}

type window struct {
	strideH, strideW     int
	dilationH, dilationW int
	filterH, filterW     int
	padH, padW           int
	outH, outW           int
}

func orOne(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

// planWindow checks the declared output spatial dims against the padding rules.
func planWindow(n *Node, in, out *tensor.Tensor, filterH, filterW int) (window, error) {
	o := n.Options
	w := window{
		strideH: orOne(o.StrideH), strideW: orOne(o.StrideW),
		dilationH: orOne(o.DilationH), dilationW: orOne(o.DilationW),
		filterH: filterH, filterW: filterW,
	}
	if o.Padding != "" && o.Padding != model.PaddingSame && o.Padding != model.PaddingValid {
		return w, n.errorf("unsupported padding %q", o.Padding)
	}
	if len(in.Dims) != 4 || len(out.Dims) != 4 {
		return w, n.errorf("expected NHWC tensors, got %v -> %v", in.Dims, out.Dims)
	}
	w.outH = outputSize(o.Padding, in.Dims[1], filterH, w.strideH, w.dilationH)
	w.outW = outputSize(o.Padding, in.Dims[2], filterW, w.strideW, w.dilationW)
	if w.outH <= 0 || w.outW <= 0 || out.Dims[0] != in.Dims[0] || out.Dims[1] != w.outH || out.Dims[2] != w.outW {
		return w, n.errorf("output dims %v do not match computed [%d %d %d _]", out.Dims, in.Dims[0], w.outH, w.outW)
	}
	w.padH = paddingBefore(in.Dims[1], filterH, w.strideH, w.dilationH, w.outH)
	w.padW = paddingBefore(in.Dims[2], filterW, w.strideW, w.dilationW, w.outW)
	return w, nil
}

type convData struct {
	window
	multiplier     int32
	shift          int
	actMin, actMax int32
}

func prepareConvCommon(n *Node, filterH, filterW, outChannels int) (*convData, error) {
	in, filter, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	for _, t := range []*tensor.Tensor{in, filter, out} {
		if err := n.expectType(t, tensor.Int8); err != nil {
			return nil, err
		}
	}
	if len(n.Inputs) == 3 {
		bias := n.Inputs[2]
		if err := n.expectType(bias, tensor.Int32); err != nil {
			return nil, err
		}
		if bias.Len() != outChannels {
			return nil, n.errorf("bias has %d elements, want %d", bias.Len(), outChannels)
		}
	}
	w, err := planWindow(n, in, out, filterH, filterW)
	if err != nil {
		return nil, err
	}
	if out.Dims[3] != outChannels {
		return nil, n.errorf("output channels %d, want %d", out.Dims[3], outChannels)
	}
	d := &convData{window: w}
	real := float64(in.Params.Scale) * float64(filter.Params.Scale) / float64(out.Params.Scale)
	d.multiplier, d.shift = quantizeMultiplier(real)
	if d.actMin, d.actMax, err = activationRange(n, n.Options.Activation, out); err != nil {
		return nil, err
	}
	return d, nil
}

// CONV_2D: input [N,H,W,C], filter [OC,KH,KW,C], bias [OC].
func prepareConv(n *Node) error {
	if err := n.expect(2, 3, 1); err != nil {
		return err
	}
	in, filter := n.Inputs[0], n.Inputs[1]
	if len(filter.Dims) != 4 || len(in.Dims) != 4 || filter.Dims[3] != in.Dims[3] {
		return n.errorf("filter %v incompatible with input %v", filter.Dims, in.Dims)
	}
	d, err := prepareConvCommon(n, filter.Dims[1], filter.Dims[2], filter.Dims[0])
	if err != nil {
		return err
	}
	n.data = d
	return nil
}

func evalConv(n *Node) error {
	d := n.data.(*convData)
	in, filter, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	inData, fData, outData := in.Int8(), filter.Int8(), out.Int8()
	var bias []int32
	if len(n.Inputs) == 3 {
		bias = n.Inputs[2].Int32()
	}
	inOffset := -in.Params.ZeroPoint
	fOffset := -filter.Params.ZeroPoint
	batches, inH, inW, inC := in.Dims[0], in.Dims[1], in.Dims[2], in.Dims[3]
	outC := out.Dims[3]

	for b := 0; b < batches; b++ {
		for oy := 0; oy < d.outH; oy++ {
			for ox := 0; ox < d.outW; ox++ {
				for oc := 0; oc < outC; oc++ {
					var acc int32
					for ky := 0; ky < d.filterH; ky++ {
						iy := oy*d.strideH - d.padH + ky*d.dilationH
						if iy < 0 || iy >= inH {
							continue
						}
						for kx := 0; kx < d.filterW; kx++ {
							ix := ox*d.strideW - d.padW + kx*d.dilationW
							if ix < 0 || ix >= inW {
								continue
							}
							inBase := ((b*inH+iy)*inW + ix) * inC
							fBase := ((oc*d.filterH+ky)*d.filterW + kx) * inC
							for ic := 0; ic < inC; ic++ {
								acc += (int32(inData[inBase+ic]) + inOffset) * (int32(fData[fBase+ic]) + fOffset)
							}
						}
					}
					if bias != nil {
						acc += bias[oc]
					}
					acc = multiplyByQuantizedMultiplier(acc, d.multiplier, d.shift) + out.Params.ZeroPoint
					outData[((b*d.outH+oy)*d.outW+ox)*outC+oc] = int8(clamp32(acc, d.actMin, d.actMax))
				}
			}
		}
	}
	return nil
}

// DEPTHWISE_CONV_2D: input [N,H,W,C], filter [1,KH,KW,C*M], bias [C*M].
func prepareDepthwise(n *Node) error {
	if err := n.expect(2, 3, 1); err != nil {
		return err
	}
	in, filter := n.Inputs[0], n.Inputs[1]
	if len(filter.Dims) != 4 || len(in.Dims) != 4 || filter.Dims[0] != 1 {
		return n.errorf("filter %v incompatible with input %v", filter.Dims, in.Dims)
	}
	outC := filter.Dims[3]
	if in.Dims[3] <= 0 || outC <= 0 {
		return n.errorf("empty channel dimension: input %v, filter %v", in.Dims, filter.Dims)
	}
	mult := n.Options.DepthMultiplier
	if mult <= 0 {
		mult = outC / in.Dims[3]
	}
	if in.Dims[3]*mult != outC {
		return n.errorf("depth multiplier %d does not map %d input channels to %d", mult, in.Dims[3], outC)
	}
	d, err := prepareConvCommon(n, filter.Dims[1], filter.Dims[2], outC)
	if err != nil {
		return err
	}
	n.data = &depthwiseData{convData: *d, multiplier: mult}
	return nil
}

type depthwiseData struct {
	convData
	multiplier int
}

func evalDepthwise(n *Node) error {
	d := n.data.(*depthwiseData)
	in, filter, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	inData, fData, outData := in.Int8(), filter.Int8(), out.Int8()
	var bias []int32
	if len(n.Inputs) == 3 {
		bias = n.Inputs[2].Int32()
	}
	inOffset := -in.Params.ZeroPoint
	fOffset := -filter.Params.ZeroPoint
	batches, inH, inW, inC := in.Dims[0], in.Dims[1], in.Dims[2], in.Dims[3]
	outC := out.Dims[3]

	for b := 0; b < batches; b++ {
		for oy := 0; oy < d.outH; oy++ {
			for ox := 0; ox < d.outW; ox++ {
				for ic := 0; ic < inC; ic++ {
					for m := 0; m < d.multiplier; m++ {
						oc := ic*d.multiplier + m
						var acc int32
						for ky := 0; ky < d.filterH; ky++ {
							iy := oy*d.strideH - d.padH + ky*d.dilationH
							if iy < 0 || iy >= inH {
								continue
							}
							for kx := 0; kx < d.filterW; kx++ {
								ix := ox*d.strideW - d.padW + kx*d.dilationW
								if ix < 0 || ix >= inW {
									continue
								}
								iv := int32(inData[((b*inH+iy)*inW+ix)*inC+ic]) + inOffset
								fv := int32(fData[(ky*d.filterW+kx)*outC+oc]) + fOffset
								acc += iv * fv
							}
						}
						if bias != nil {
							acc += bias[oc]
						}
						acc = multiplyByQuantizedMultiplier(acc, d.convData.multiplier, d.shift) + out.Params.ZeroPoint
						outData[((b*d.outH+oy)*d.outW+ox)*outC+oc] = int8(clamp32(acc, d.actMin, d.actMax))
					}
				}
			}
		}
	}
	return nil
}
