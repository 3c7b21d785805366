package kernels

import "github.com/Brownie44l1/plate-ocr/internal/tensor"

// QUANTIZE accepts float input or int8 input with different params.
func prepareQuantize(n *Node) error {
	if err := n.expect(1, 1, 1); err != nil {
		return err
	}
	in, out := n.Inputs[0], n.Outputs[0]
	if err := n.expectType(in, tensor.Float32, tensor.Int8); err != nil {
		return err
	}
	if err := n.expectType(out, tensor.Int8); err != nil {
		return err
	}
	if in.Len() != out.Len() {
		return n.errorf("element count %d -> %d", in.Len(), out.Len())
	}
	return nil
}

func evalQuantize(n *Node) error {
	in, out := n.Inputs[0], n.Outputs[0]
	dst := out.Int8()
	switch in.Type {
	case tensor.Float32:
		for i, v := range in.Float32() {
			dst[i] = out.Params.Quantize(v)
		}
	default:
		for i, q := range in.Int8() {
			real := float64(int32(q)-in.Params.ZeroPoint) * float64(in.Params.Scale)
			dst[i] = out.Params.QuantizeFloat64(real)
		}
	}
	return nil
}

func prepareDequantize(n *Node) error {
	if err := n.expect(1, 1, 1); err != nil {
		return err
	}
	in, out := n.Inputs[0], n.Outputs[0]
	if err := n.expectType(in, tensor.Int8); err != nil {
		return err
	}
	if err := n.expectType(out, tensor.Float32); err != nil {
		return err
	}
	if in.Len() != out.Len() {
		return n.errorf("element count %d -> %d", in.Len(), out.Len())
	}
	return nil
}

func evalDequantize(n *Node) error {
	in, out := n.Inputs[0], n.Outputs[0]
	dst := out.Float32()
	for i, q := range in.Int8() {
		dst[i] = in.Params.Dequantize(q)
	}
	return nil
}
