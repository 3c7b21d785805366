package model

import "github.com/Brownie44l1/plate-ocr/internal/tensor"

// Header is the JSON header of a model container.
type Header struct {
	SchemaVersion uint32         `json:"schema_version"`
	Name          string         `json:"name,omitempty"`
	Labels        []string       `json:"labels,omitempty"`
	Tensors       []TensorSpec   `json:"tensors"`
	Operators     []OperatorSpec `json:"operators"`
	Inputs        []int          `json:"inputs"`
	Outputs       []int          `json:"outputs"`
}

// TensorSpec describes one tensor of the graph. Tensors with DataOffsets are
// constants stored in the data section; all others are planned in the arena.
type TensorSpec struct {
	Name        string              `json:"name"`
	DType       tensor.DType        `json:"dtype"`
	Shape       []int               `json:"shape"`
	Quant       *tensor.QuantParams `json:"quantization,omitempty"`
	DataOffsets *[2]uint64          `json:"data_offsets,omitempty"`
}

// OperatorSpec is one node of the graph.
type OperatorSpec struct {
	Op      string  `json:"op"`
	Inputs  []int   `json:"inputs"`
	Outputs []int   `json:"outputs"`
	Options Options `json:"options,omitempty"`
}

type Padding string

const (
	PaddingSame  Padding = "SAME"
	PaddingValid Padding = "VALID"
)

type Activation string

const (
	ActivationNone  Activation = "NONE"
	ActivationRelu  Activation = "RELU"
	ActivationRelu6 Activation = "RELU6"
)

// Options is the union of builtin operator options. Unused fields stay zero.
type Options struct {
	Padding         Padding    `json:"padding,omitempty"`
	StrideH         int        `json:"stride_h,omitempty"`
	StrideW         int        `json:"stride_w,omitempty"`
	DilationH       int        `json:"dilation_h,omitempty"`
	DilationW       int        `json:"dilation_w,omitempty"`
	FilterH         int        `json:"filter_h,omitempty"`
	FilterW         int        `json:"filter_w,omitempty"`
	DepthMultiplier int        `json:"depth_multiplier,omitempty"`
	Activation      Activation `json:"activation,omitempty"`
	Beta            float32    `json:"beta,omitempty"`
	Axes            []int      `json:"axes,omitempty"`
	KeepDims        bool       `json:"keep_dims,omitempty"`
	NewShape        []int      `json:"new_shape,omitempty"`
}
