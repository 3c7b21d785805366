package kernels

import "github.com/Brownie44l1/plate-ocr/internal/tensor"

type fcData struct {
	batches, inDepth, outDepth int
	multiplier                 int32
	shift                      int
	actMin, actMax             int32
}

// FULLY_CONNECTED: weights [OUT, IN]; the input is flattened to [len/IN, IN].
func prepareFullyConnected(n *Node) error {
	if err := n.expect(2, 3, 1); err != nil {
		return err
	}
	in, weights, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	for _, t := range []*tensor.Tensor{in, weights, out} {
		if err := n.expectType(t, tensor.Int8); err != nil {
			return err
		}
	}
	if len(weights.Dims) != 2 {
		return n.errorf("weights must be 2-D, got %v", weights.Dims)
	}
	d := &fcData{outDepth: weights.Dims[0], inDepth: weights.Dims[1]}
	if d.inDepth == 0 || in.Len()%d.inDepth != 0 {
		return n.errorf("input of %d elements is not a multiple of %d", in.Len(), d.inDepth)
	}
	d.batches = in.Len() / d.inDepth
	if out.Len() != d.batches*d.outDepth {
		return n.errorf("output has %d elements, want %d", out.Len(), d.batches*d.outDepth)
	}
	if len(n.Inputs) == 3 {
		bias := n.Inputs[2]
		if err := n.expectType(bias, tensor.Int32); err != nil {
			return err
		}
		if bias.Len() != d.outDepth {
			return n.errorf("bias has %d elements, want %d", bias.Len(), d.outDepth)
		}
	}
	real := float64(in.Params.Scale) * float64(weights.Params.Scale) / float64(out.Params.Scale)
	d.multiplier, d.shift = quantizeMultiplier(real)
	var err error
	if d.actMin, d.actMax, err = activationRange(n, n.Options.Activation, out); err != nil {
		return err
	}
	n.data = d
	return nil
}

func evalFullyConnected(n *Node) error {
	d := n.data.(*fcData)
	in, weights, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	inData, wData, outData := in.Int8(), weights.Int8(), out.Int8()
	var bias []int32
	if len(n.Inputs) == 3 {
		bias = n.Inputs[2].Int32()
	}
	inOffset := -in.Params.ZeroPoint
	wOffset := -weights.Params.ZeroPoint
	for b := 0; b < d.batches; b++ {
		row := inData[b*d.inDepth : (b+1)*d.inDepth]
		for o := 0; o < d.outDepth; o++ {
			w := wData[o*d.inDepth : (o+1)*d.inDepth]
			var acc int32
			for i := range row {
				acc += (int32(row[i]) + inOffset) * (int32(w[i]) + wOffset)
			}
			if bias != nil {
				acc += bias[o]
			}
			acc = multiplyByQuantizedMultiplier(acc, d.multiplier, d.shift) + out.Params.ZeroPoint
			outData[b*d.outDepth+o] = int8(clamp32(acc, d.actMin, d.actMax))
		}
	}
	return nil
}
