package kernels

import (
	"math"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

type binaryData struct {
	actMin, actMax int32
}

// ADD and MUL take equal shapes, or one side holding a single element.
func prepareBinary(n *Node) error {
	if err := n.expect(2, 2, 1); err != nil {
		return err
	}
	a, b, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	for _, t := range []*tensor.Tensor{a, b, out} {
		if err := n.expectType(t, tensor.Int8); err != nil {
			return err
		}
	}
	switch {
	case a.Len() == out.Len() && (b.Len() == out.Len() || b.Len() == 1):
	case b.Len() == out.Len() && a.Len() == 1:
	default:
		return n.errorf("cannot broadcast %v and %v to %v", a.Dims, b.Dims, out.Dims)
	}
	d := &binaryData{}
	var err error
	if d.actMin, d.actMax, err = activationRange(n, n.Options.Activation, out); err != nil {
		return err
	}
	n.data = d
	return nil
}

func evalBinary(n *Node, op func(x, y float64) float64) error {
	d := n.data.(*binaryData)
	a, b, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	av, bv, dst := a.Int8(), b.Int8(), out.Int8()
	at := func(t *tensor.Tensor, v []int8, i int) float64 {
		if len(v) == 1 {
			i = 0
		}
		return float64(int32(v[i])-t.Params.ZeroPoint) * float64(t.Params.Scale)
	}
	for i := range dst {
		q := int32(out.Params.QuantizeFloat64(op(at(a, av, i), at(b, bv, i))))
		dst[i] = int8(clamp32(q, d.actMin, d.actMax))
	}
	return nil
}

func evalAdd(n *Node) error {
	return evalBinary(n, func(x, y float64) float64 { return x + y })
}

func evalMul(n *Node) error {
	return evalBinary(n, func(x, y float64) float64 { return x * y })
}

func prepareRelu(n *Node) error {
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
	if in.Len() != out.Len() {
		return n.errorf("element count %d -> %d", in.Len(), out.Len())
	}
	return nil
}

func evalRelu(n *Node) error {
	in, out := n.Inputs[0], n.Outputs[0]
	dst := out.Int8()
	for i, q := range in.Int8() {
		real := math.Max(0, float64(int32(q)-in.Params.ZeroPoint)*float64(in.Params.Scale))
		dst[i] = out.Params.QuantizeFloat64(real)
	}
	return nil
}
