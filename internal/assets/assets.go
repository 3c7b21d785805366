// Package assets embeds the reference glyph model and a sample frame of the
// letter A. They back test mode and the regression tests.
package assets

import _ "embed"

//go:generate go run gen.go

// Model is a schema 3 container: 16x16 average pool, reshape, a 16x36 dense
// layer and softmax. Each class is encoded as a sign pattern over the 4x4
// pooled grid.
//
//go:embed model_placa_int8.qnnm
var Model []byte

// Image is a 64x64 grayscale frame that the reference model classifies as
// index 10 ("A").
//
//go:embed img64.gray
var Image []byte

// ImageIndex is the class Image belongs to.
const ImageIndex = 10
