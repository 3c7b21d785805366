package kernels

// RESHAPE copies bytes; an optional second shape input is ignored in favour
// of the declared output dims.
func prepareReshape(n *Node) error {
	if err := n.expect(1, 2, 1); err != nil {
		return err
	}
	in, out := n.Inputs[0], n.Outputs[0]
	if in.Type != out.Type {
		return n.errorf("reshape cannot change type %s -> %s", in.Type, out.Type)
	}
	if in.Len() != out.Len() {
		return n.errorf("element count %d -> %d", in.Len(), out.Len())
	}
	if in.Type.Size() == 1 && in.Params != out.Params {
		return n.errorf("reshape cannot requantize")
	}
	return nil
}

func evalReshape(n *Node) error {
	copy(n.Outputs[0].Data, n.Inputs[0].Data)
	return nil
}
