// Package micro is the live runtime: it binds a validated model, an operator
// registry and an arena, plans tensor storage once and executes the graph in
// operator order.
package micro

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/arena"
	"github.com/Brownie44l1/plate-ocr/internal/kernels"
	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// Per-tensor and per-node bookkeeping charged to the arena on top of the
// planned buffers.
const (
	tensorOverhead = 64
	nodeOverhead   = 48
)

var (
	ErrUnsupportedOp = errors.New("unsupported operator")
	ErrNotAllocated  = errors.New("tensors not allocated")
)

type Interpreter struct {
	model    *model.Model
	registry *kernels.Registry
	arena    *arena.Arena
	logger   *zap.Logger

	tensors   []*tensor.Tensor
	nodes     []*kernels.Node
	impls     []kernels.Kernel
	used      int
	allocated bool
	allocErr  error
}

type Option func(*Interpreter)

func WithLogger(l *zap.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

func NewInterpreter(m *model.Model, r *kernels.Registry, a *arena.Arena, opts ...Option) *Interpreter {
	in := &Interpreter{model: m, registry: r, arena: a, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// AllocateTensors resolves every operator, prepares the kernels and carves
// activation and scratch buffers from the arena. It runs once; a failure is
// permanent for this interpreter.
func (in *Interpreter) AllocateTensors() error {
	if in.allocated || in.allocErr != nil {
		return in.allocErr
	}
	if err := in.allocate(); err != nil {
		in.tensors, in.nodes, in.impls = nil, nil, nil
		in.allocErr = err
		return err
	}
	return nil
}

func (in *Interpreter) allocate() error {
	h := &in.model.Header

	in.tensors = make([]*tensor.Tensor, len(h.Tensors))
	for i, ts := range h.Tensors {
		t := &tensor.Tensor{Name: ts.Name, Type: ts.DType, Dims: ts.Shape, Const: ts.DataOffsets != nil}
		if ts.Quant != nil {
			t.Params = *ts.Quant
		}
		if t.Const {
			t.Data = constData(t.Type, in.model.ConstData(i))
		}
		in.tensors[i] = t
	}

	in.nodes = make([]*kernels.Node, len(h.Operators))
	in.impls = make([]kernels.Kernel, len(h.Operators))
	for i, op := range h.Operators {
		impl, ok := in.registry.Lookup(kernels.Kind(op.Op))
		if !ok {
			return fmt.Errorf("%w: %s (operator %d)", ErrUnsupportedOp, op.Op, i)
		}
		n := &kernels.Node{Index: i, Kind: kernels.Kind(op.Op), Options: op.Options}
		for _, idx := range op.Inputs {
			n.Inputs = append(n.Inputs, in.tensors[idx])
		}
		for _, idx := range op.Outputs {
			n.Outputs = append(n.Outputs, in.tensors[idx])
		}
		if err := impl.Prepare(n); err != nil {
			return fmt.Errorf("prepare operator %d: %w", i, err)
		}
		in.nodes[i], in.impls[i] = n, impl
	}

	if err := in.plan(); err != nil {
		return err
	}
	in.allocated = true
	in.logger.Info("tensors allocated",
		zap.String("model", in.model.Name()),
		zap.Int("tensors", len(in.tensors)),
		zap.Int("operators", len(in.nodes)),
		zap.Int("arena_used", in.used),
		zap.Int("arena_size", in.arena.Size()),
	)
	return nil
}

func (in *Interpreter) plan() error {
	h := &in.model.Header
	first := make([]int, len(in.tensors))
	last := make([]int, len(in.tensors))
	for i := range first {
		first[i], last[i] = -1, -1
	}
	touch := func(idx, step int) {
		if in.tensors[idx].Const {
			return
		}
		if first[idx] < 0 {
			first[idx] = step
		}
		last[idx] = max(last[idx], step)
	}
	touch(h.Inputs[0], 0)
	for i, op := range h.Operators {
		for _, idx := range op.Inputs {
			touch(idx, i)
		}
		for _, idx := range op.Outputs {
			touch(idx, i)
		}
	}
	touch(h.Outputs[0], len(h.Operators))

	var (
		bufs   []arena.Buffer
		owners []func(off int)
	)
	for i, t := range in.tensors {
		t := t
		if first[i] < 0 {
			continue
		}
		bufs = append(bufs, arena.Buffer{Size: t.Bytes(), First: first[i], Last: last[i]})
		owners = append(owners, func(off int) { t.Data = in.arena.Slice(off, t.Bytes()) })
	}
	for i, n := range in.nodes {
		n := n
		size := n.ScratchSize()
		if size == 0 {
			continue
		}
		bufs = append(bufs, arena.Buffer{Size: size, First: i, Last: i})
		owners = append(owners, func(off int) { n.Scratch = in.arena.Slice(off, size) })
	}

	offsets, peak := arena.Plan(bufs)
	required := peak + tensorOverhead*len(in.tensors) + nodeOverhead*len(in.nodes)
	if err := in.arena.Reserve(required); err != nil {
		return fmt.Errorf("allocate tensors: %w", err)
	}
	for i, off := range offsets {
		owners[i](off)
	}
	in.used = required
	return nil
}

// constData returns int8 blobs as-is and decodes 32-bit blobs into word
// aligned storage.
func constData(dt tensor.DType, raw []byte) []byte {
	if dt.Size() != 4 || len(raw) == 0 {
		return raw
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(raw))
}

// Invoke runs every operator in order.
func (in *Interpreter) Invoke() error {
	if !in.allocated {
		return ErrNotAllocated
	}
	for i, n := range in.nodes {
		if err := in.impls[i].Eval(n); err != nil {
			return fmt.Errorf("eval operator %d: %w", i, err)
		}
	}
	return nil
}

func (in *Interpreter) Input() *tensor.Tensor {
	if !in.allocated {
		return nil
	}
	return in.tensors[in.model.Header.Inputs[0]]
}

func (in *Interpreter) Output() *tensor.Tensor {
	if !in.allocated {
		return nil
	}
	return in.tensors[in.model.Header.Outputs[0]]
}

// ArenaUsed returns the bytes claimed by the tensor plan.
func (in *Interpreter) ArenaUsed() int {
	return in.used
}

func (in *Interpreter) Close() error {
	return nil
}
