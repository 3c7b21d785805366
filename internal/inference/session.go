// Package inference owns the single model session shared by every transport.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/preprocess"
	"github.com/Brownie44l1/plate-ocr/internal/stats"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

var (
	// ErrInvoke wraps a failed forward pass. The frame is dropped.
	ErrInvoke = errors.New("invoke failed")
	// ErrContract means the model's input or output does not fit a frame classifier.
	ErrContract = errors.New("model input/output contract violated")
	ErrNotReady = errors.New("session not allocated")
)

// ExpectedInputDims is the layout the preprocessor writes.
var ExpectedInputDims = []int{1, frame.Height, frame.Width, frame.Channels}

// Runtime executes a model. micro.Interpreter and onnx.Runtime implement it.
type Runtime interface {
	AllocateTensors() error
	Input() *tensor.Tensor
	Output() *tensor.Tensor
	Invoke() error
	Close() error
}

// Session guards a Runtime so that at most one invocation is in flight.
type Session struct {
	rt      Runtime
	guard   chan struct{}
	logger  *zap.Logger
	latency *stats.Latency
	labels  []string

	input, output *tensor.Tensor
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithLabels names the output classes.
func WithLabels(labels []string) Option {
	return func(s *Session) { s.labels = labels }
}

func WithLatency(l *stats.Latency) Option {
	return func(s *Session) { s.latency = l }
}

func NewSession(rt Runtime, opts ...Option) *Session {
	s := &Session{
		rt:      rt,
		guard:   make(chan struct{}, 1),
		logger:  zap.NewNop(),
		latency: stats.NewLatency(stats.DefaultWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate lays out the runtime's tensors and checks the I/O contract. Any
// error is fatal for the process.
func (s *Session) Allocate() error {
	if err := s.rt.AllocateTensors(); err != nil {
		s.logger.Error("tensor allocation failed", zap.Error(err))
		return fmt.Errorf("allocate tensors: %w", err)
	}
	in, out := s.rt.Input(), s.rt.Output()
	if in == nil || out == nil {
		return fmt.Errorf("%w: runtime exposes no input or output", ErrContract)
	}
	if in.Type != tensor.Int8 || in.Len() != frame.Size {
		return fmt.Errorf("%w: input %s, want %s with %d elements", ErrContract, in, tensor.Int8, frame.Size)
	}
	if out.Type != tensor.Int8 || out.Len() < 1 {
		return fmt.Errorf("%w: output %s, want non-empty %s", ErrContract, out, tensor.Int8)
	}

	s.logger.Info("input",
		zap.String("type", string(in.Type)),
		zap.Ints("dims", in.Dims),
		zap.Float32("scale", in.Params.Scale),
		zap.Int32("zero_point", in.Params.ZeroPoint),
	)
	s.logger.Info("output",
		zap.String("type", string(out.Type)),
		zap.Ints("dims", out.Dims),
		zap.Float32("scale", out.Params.Scale),
		zap.Int32("zero_point", out.Params.ZeroPoint),
	)
	if !tensor.SameDims(in.Dims, ExpectedInputDims) {
		s.logger.Warn("input is not 64x64x1, frames are written in row-major order regardless",
			zap.Ints("dims", in.Dims))
	}
	if len(s.labels) > 0 && len(s.labels) != out.Len() {
		s.logger.Warn("label count does not match output size",
			zap.Int("labels", len(s.labels)), zap.Int("outputs", out.Len()))
	}
	s.input, s.output = in, out
	return nil
}

// Input returns the input view; nil before Allocate.
func (s *Session) Input() *tensor.Tensor { return s.input }

// Output returns the output view; nil before Allocate.
func (s *Session) Output() *tensor.Tensor { return s.output }

// invoke runs the forward pass. Callers must hold the guard.
func (s *Session) invoke() error {
	if s.input == nil {
		return ErrNotReady
	}
	if err := s.rt.Invoke(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvoke, err)
	}
	return nil
}

// Classify quantizes f into the input tensor, invokes the model and extracts
// the best class. Waiting for the guard honours ctx; the invocation itself
// runs to completion.
func (s *Session) Classify(ctx context.Context, f frame.Frame) (Result, error) {
	select {
	case s.guard <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-s.guard }()

	if s.input == nil {
		return Result{}, ErrNotReady
	}
	if err := preprocess.Fill(s.input, f.Data); err != nil {
		return Result{}, err
	}
	start := time.Now()
	if err := s.invoke(); err != nil {
		return Result{}, err
	}
	elapsed := time.Since(start)
	s.latency.Observe(elapsed)

	res := Extract(s.output)
	res.FrameID = f.ID
	res.Latency = elapsed
	return res, nil
}

// Label names a class index, falling back to the index itself.
func (s *Session) Label(index int) string {
	if index >= 0 && index < len(s.labels) {
		return s.labels[index]
	}
	return fmt.Sprint(index)
}

func (s *Session) Labels() []string {
	return s.labels
}

func (s *Session) Latency() stats.Summary {
	return s.latency.Summary()
}

func (s *Session) Close() error {
	return s.rt.Close()
}
