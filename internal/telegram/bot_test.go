package telegram

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/inference"
)

type stubClassifier struct {
	got frame.Frame
}

func (s *stubClassifier) Classify(_ context.Context, f frame.Frame) (inference.Result, error) {
	s.got = f
	return inference.Result{FrameID: f.ID, Index: 10, Quantized: 127, Latency: 1500 * time.Microsecond}, nil
}

func (s *stubClassifier) Label(index int) string {
	return string("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"[index])
}

func TestFormatReply(t *testing.T) {
	res := inference.Result{Index: 10, Quantized: 127, Latency: 2346 * time.Microsecond}
	require.Equal(t, "A (index=10, score_q=127, 2.35 ms)", FormatReply("A", res))
	require.Equal(t, "7 (index=7, score_q=-128, 0.00 ms)", FormatReply("7", inference.Result{Index: 7, Quantized: -128}))
}

func TestRecognize(t *testing.T) {
	// black glyph on white
	img := image.NewGray(image.Rect(0, 0, 40, 80))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 10; y < 70; y++ {
		for x := 15; x < 25; x++ {
			img.Pix[y*img.Stride+x] = 0
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	c := &stubClassifier{}
	reply, err := Recognize(context.Background(), c, buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "A (index=10, score_q=127, 1.50 ms)", reply)

	require.Len(t, c.got.Data, frame.Size)
	require.Equal(t, byte(255), c.got.Data[0])
	require.Equal(t, byte(0), c.got.Data[32*frame.Width+32])
}

func TestRecognizeRejectsGarbage(t *testing.T) {
	_, err := Recognize(context.Background(), &stubClassifier{}, []byte("not an image"))
	require.Error(t, err)
}
