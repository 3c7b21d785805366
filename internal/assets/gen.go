//go:build ignore

// gen rebuilds model_placa_int8.qnnm and img64.gray.
package main

import (
	"log"
	"math/bits"
	"os"

	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

const (
	classes = 36
	blocks  = 16
	// minimum Hamming distance between two class codes
	distance = 6
)

// codes returns the first n words of the 16-bit lexicode with the given
// minimum distance.
func codes(n int) []uint16 {
	var out []uint16
	for v := 0; v < 1<<blocks && len(out) < n; v++ {
		ok := true
		for _, c := range out {
			if bits.OnesCount16(uint16(v)^c) < distance {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, uint16(v))
		}
	}
	return out
}

// bit reports the sign of pooled block i (row-major) for a class code.
func bit(code uint16, i int) bool {
	return code>>(blocks-1-i)&1 == 1
}

func main() {
	cs := codes(classes)

	weights := make([]int8, 0, classes*blocks)
	for _, c := range cs {
		for i := 0; i < blocks; i++ {
			if bit(c, i) {
				weights = append(weights, 64)
			} else {
				weights = append(weights, -64)
			}
		}
	}

	labels := make([]string, classes)
	for i := range labels {
		labels[i] = string("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"[i])
	}

	in := tensor.QuantParams{Scale: 0.0078125}
	b := model.NewBuilder("placa_ref").WithLabels(labels...)
	input := b.AddTensor("input", tensor.Int8, []int{1, 64, 64, 1}, &in)
	pooled := b.AddTensor("pooled", tensor.Int8, []int{1, 4, 4, 1}, &in)
	flat := b.AddTensor("flat", tensor.Int8, []int{1, blocks}, &in)
	w := b.AddConstInt8("dense/weights", []int{classes, blocks}, tensor.QuantParams{Scale: 0.015625}, weights)
	bias := b.AddConstInt32("dense/bias", []int{classes}, make([]int32, classes))
	logits := b.AddTensor("logits", tensor.Int8, []int{1, classes}, &tensor.QuantParams{Scale: 0.25})
	probs := b.AddTensor("probs", tensor.Int8, []int{1, classes}, &tensor.QuantParams{Scale: 0.00390625, ZeroPoint: -128})

	b.AddOperator("AVERAGE_POOL_2D", []int{input}, []int{pooled}, model.Options{
		Padding: model.PaddingValid, StrideH: 16, StrideW: 16, FilterH: 16, FilterW: 16,
	})
	b.AddOperator("RESHAPE", []int{pooled}, []int{flat}, model.Options{NewShape: []int{1, blocks}})
	b.AddOperator("FULLY_CONNECTED", []int{flat, w, bias}, []int{logits}, model.Options{})
	b.AddOperator("SOFTMAX", []int{logits}, []int{probs}, model.Options{Beta: 1})
	b.SetIO(input, probs)

	buf, err := b.Bytes()
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile("model_placa_int8.qnnm", buf, 0o644); err != nil {
		log.Fatal(err)
	}

	img := make([]byte, 64*64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if bit(cs[10], (y/16)*4+x/16) {
				img[y*64+x] = 255
			}
		}
	}
	if err := os.WriteFile("img64.gray", img, 0o644); err != nil {
		log.Fatal(err)
	}
}
