package onnx

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

var env struct {
	mu   sync.Mutex
	refs int
}

// InitEnvironment loads the shared library once per process. Every
// successful call must be paired with DestroyEnvironment.
func InitEnvironment(libPath string) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.refs == 0 {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	env.refs++
	return nil
}

func DestroyEnvironment() error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.refs == 0 {
		return nil
	}
	env.refs--
	if env.refs > 0 {
		return nil
	}
	return ort.DestroyEnvironment()
}

type destroyer interface {
	Destroy() error
}

// destroyAll releases every non-nil resource and joins the failures.
func destroyAll(items ...destroyer) error {
	var errs []error
	for _, it := range items {
		if it == nil {
			continue
		}
		if err := it.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Runtime executes an int8 ONNX graph with preallocated input and output
// tensors. The environment must be initialized first.
type Runtime struct {
	modelPath string
	meta      Metadata

	session       *ort.AdvancedSession
	in, out       *ort.Tensor[int8]
	input, output *tensor.Tensor
}

func NewRuntime(modelPath string, meta Metadata) *Runtime {
	return &Runtime{modelPath: modelPath, meta: meta}
}

func (r *Runtime) AllocateTensors() error {
	if r.session != nil {
		return nil
	}
	in, err := ort.NewEmptyTensor[int8](ort.NewShape(r.meta.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	out, err := ort.NewEmptyTensor[int8](ort.NewShape(r.meta.OutputShape...))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create output tensor: %w", err), in.Destroy())
	}
	session, err := ort.NewAdvancedSession(r.modelPath,
		[]string{r.meta.InputName}, []string{r.meta.OutputName},
		[]ort.ArbitraryTensor{in}, []ort.ArbitraryTensor{out},
		nil)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create ONNX session: %w", err), destroyAll(in, out))
	}

	r.session, r.in, r.out = session, in, out
	r.input = &tensor.Tensor{
		Name:   r.meta.InputName,
		Type:   tensor.Int8,
		Dims:   dims(r.meta.InputShape),
		Data:   bytesOf(in.GetData()),
		Params: r.meta.InputParams(),
	}
	r.output = &tensor.Tensor{
		Name:   r.meta.OutputName,
		Type:   tensor.Int8,
		Dims:   dims(r.meta.OutputShape),
		Data:   bytesOf(out.GetData()),
		Params: r.meta.OutputParams(),
	}
	return nil
}

// bytesOf aliases the ORT-owned buffer so the preprocessor writes into it
// directly.
func bytesOf(v []int8) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v))), len(v))
}

func (r *Runtime) Input() *tensor.Tensor  { return r.input }
func (r *Runtime) Output() *tensor.Tensor { return r.output }

func (r *Runtime) Invoke() error {
	if r.session == nil {
		return errors.New("onnx session not created")
	}
	if err := r.session.Run(); err != nil {
		return fmt.Errorf("inference failed: %w", err)
	}
	return nil
}

func (r *Runtime) Close() error {
	var items []destroyer
	if r.session != nil {
		items = append(items, r.session)
	}
	if r.in != nil {
		items = append(items, r.in)
	}
	if r.out != nil {
		items = append(items, r.out)
	}
	r.session, r.in, r.out = nil, nil, nil
	return destroyAll(items...)
}
