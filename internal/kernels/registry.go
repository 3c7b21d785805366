// Package kernels holds the closed set of int8 operators the runtime can
// execute and the registry that whitelists them for a deployment.
package kernels

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// Kind is a builtin operator name as written in the model container.
type Kind string

const (
	Conv2D          Kind = "CONV_2D"
	DepthwiseConv2D Kind = "DEPTHWISE_CONV_2D"
	MaxPool2D       Kind = "MAX_POOL_2D"
	AveragePool2D   Kind = "AVERAGE_POOL_2D"
	FullyConnected  Kind = "FULLY_CONNECTED"
	Reshape         Kind = "RESHAPE"
	Softmax         Kind = "SOFTMAX"
	Quantize        Kind = "QUANTIZE"
	Dequantize      Kind = "DEQUANTIZE"
	Add             Kind = "ADD"
	Mul             Kind = "MUL"
	Relu            Kind = "RELU"
	Mean            Kind = "MEAN"
)

var (
	ErrUnknownKind = errors.New("unknown operator kind")
	ErrInvalidNode = errors.New("invalid node")
)

// Node is one operator instance bound to its tensors. Kernels keep the
// values they compute in Prepare on the node.
type Node struct {
	Index   int
	Kind    Kind
	Options model.Options
	Inputs  []*tensor.Tensor
	Outputs []*tensor.Tensor

	// Scratch is assigned by the interpreter after planning and is only
	// valid during Eval.
	Scratch []byte

	scratchSize int
	data        any
}

// RequestScratch asks the planner for size bytes usable during Eval.
func (n *Node) RequestScratch(size int) {
	n.scratchSize = size
}

func (n *Node) ScratchSize() int {
	return n.scratchSize
}

func (n *Node) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s #%d: %s", ErrInvalidNode, n.Kind, n.Index, fmt.Sprintf(format, args...))
}

// expect checks input/output arity; minIn allows optional trailing inputs.
func (n *Node) expect(minIn, maxIn, outs int) error {
	if len(n.Inputs) < minIn || len(n.Inputs) > maxIn {
		return n.errorf("expected %d..%d inputs, got %d", minIn, maxIn, len(n.Inputs))
	}
	if len(n.Outputs) != outs {
		return n.errorf("expected %d outputs, got %d", outs, len(n.Outputs))
	}
	return nil
}

func (n *Node) expectType(t *tensor.Tensor, want ...tensor.DType) error {
	for _, w := range want {
		if t.Type == w {
			return nil
		}
	}
	return n.errorf("tensor %s has type %s, want %v", t.Name, t.Type, want)
}

// Kernel validates a node once and evaluates it on every invocation.
type Kernel interface {
	Prepare(n *Node) error
	Eval(n *Node) error
}

type kernel struct {
	prepare func(n *Node) error
	eval    func(n *Node) error
}

func (k kernel) Prepare(n *Node) error { return k.prepare(n) }
func (k kernel) Eval(n *Node) error    { return k.eval(n) }

var builtins = map[Kind]Kernel{
	Conv2D:          kernel{prepareConv, evalConv},
	DepthwiseConv2D: kernel{prepareDepthwise, evalDepthwise},
	MaxPool2D:       kernel{preparePool, evalMaxPool},
	AveragePool2D:   kernel{preparePool, evalAveragePool},
	FullyConnected:  kernel{prepareFullyConnected, evalFullyConnected},
	Reshape:         kernel{prepareReshape, evalReshape},
	Softmax:         kernel{prepareSoftmax, evalSoftmax},
	Quantize:        kernel{prepareQuantize, evalQuantize},
	Dequantize:      kernel{prepareDequantize, evalDequantize},
	Add:             kernel{prepareBinary, evalAdd},
	Mul:             kernel{prepareBinary, evalMul},
	Relu:            kernel{prepareRelu, evalRelu},
	Mean:            kernel{prepareMean, evalMean},
}

// Registry is an immutable whitelist of kernels.
type Registry struct {
	kernels map[Kind]Kernel
}

// NewRegistry registers the given kinds. Unknown or repeated kinds are
// rejected so the whitelist stays explicit.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{kernels: make(map[Kind]Kernel, len(kinds))}
	for _, k := range kinds {
		impl, ok := builtins[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
		}
		if _, dup := r.kernels[k]; dup {
			return nil, fmt.Errorf("operator %s registered twice", k)
		}
		r.kernels[k] = impl
	}
	return r, nil
}

// DefaultKinds is the operator set required by the plate model topology.
var DefaultKinds = []Kind{
	Conv2D, DepthwiseConv2D, MaxPool2D, AveragePool2D, FullyConnected, Reshape,
	Softmax, Quantize, Dequantize, Add, Mul, Relu, Mean,
}

// Default returns the registry holding DefaultKinds.
func Default() *Registry {
	r, err := NewRegistry(DefaultKinds...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(k Kind) (Kernel, bool) {
	impl, ok := r.kernels[k]
	return impl, ok
}

func (r *Registry) Len() int {
	return len(r.kernels)
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kernels))
	for k := range r.kernels {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
