// Package onnx runs an exported int8 model through ONNX Runtime as an
// alternative to the built-in interpreter.
package onnx

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// Metadata ships next to the .onnx file and carries what the graph itself
// does not: tensor names, quantization and class labels.
type Metadata struct {
	SchemaVersion   uint32   `json:"schema_version"`
	InputName       string   `json:"input_name"`
	OutputName      string   `json:"output_name"`
	InputShape      []int64  `json:"input_shape"`
	OutputShape     []int64  `json:"output_shape"`
	InputScale      float32  `json:"input_scale"`
	InputZeroPoint  int32    `json:"input_zero_point"`
	OutputScale     float32  `json:"output_scale"`
	OutputZeroPoint int32    `json:"output_zero_point"`
	Classes         []string `json:"classes"`
}

func (m Metadata) InputParams() tensor.QuantParams {
	return tensor.QuantParams{Scale: m.InputScale, ZeroPoint: m.InputZeroPoint}
}

func (m Metadata) OutputParams() tensor.QuantParams {
	return tensor.QuantParams{Scale: m.OutputScale, ZeroPoint: m.OutputZeroPoint}
}

// Validate applies the container rules: matching schema version first, then
// names, shapes and scales.
func (m Metadata) Validate() error {
	if m.SchemaVersion != model.SchemaVersion {
		return &model.SchemaError{Model: m.SchemaVersion, Runtime: model.SchemaVersion}
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("metadata: input and output names are required")
	}
	for name, shape := range map[string][]int64{"input": m.InputShape, "output": m.OutputShape} {
		if len(shape) == 0 {
			return fmt.Errorf("metadata: %s shape is empty", name)
		}
		if _, err := tensor.ElementCount(dims(shape)); err != nil {
			return fmt.Errorf("metadata: %s shape: %w", name, err)
		}
	}
	if err := m.InputParams().Validate(); err != nil {
		return fmt.Errorf("metadata: input: %w", err)
	}
	if err := m.OutputParams().Validate(); err != nil {
		return fmt.Errorf("metadata: output: %w", err)
	}
	return nil
}

func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func dims(shape []int64) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
