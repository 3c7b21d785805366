// Package pipeline runs the steady-state loop: acquire a frame, classify it,
// emit the result.
package pipeline

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/inference"
)

// Sink consumes results in a transport specific format.
type Sink interface {
	Emit(ctx context.Context, res inference.Result) error
}

// DefaultLogEvery throttles the console sink.
const DefaultLogEvery = 5

// LogSink writes a human readable line every n-th result.
type LogSink struct {
	logger *zap.Logger
	every  int
	count  int
}

func NewLogSink(logger *zap.Logger, every int) *LogSink {
	if every <= 0 {
		every = DefaultLogEvery
	}
	return &LogSink{logger: logger, every: every}
}

func (s *LogSink) Emit(_ context.Context, res inference.Result) error {
	s.count++
	s.logger.Debug("prediction",
		zap.String("frame_id", res.FrameID),
		zap.Int("index", res.Index),
		zap.Int8("score_q", res.Quantized),
		zap.Duration("latency", res.Latency),
	)
	if s.count%s.every != 0 {
		return nil
	}
	s.logger.Info(FormatLogLine(res),
		zap.String("frame_id", res.FrameID),
		zap.Int("loop", s.count),
	)
	return nil
}

// FormatLogLine renders Pred=<idx> score_q=<q> score_f=<float> (n=<count>).
func FormatLogLine(res inference.Result) string {
	return fmt.Sprintf("Pred=%d score_q=%d score_f=%g (n=%d)", res.Index, res.Quantized, res.Score, res.N)
}

// StreamSink answers on a byte transport with one token per frame.
type StreamSink struct {
	w io.Writer
}

func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Emit(_ context.Context, res inference.Result) error {
	if _, err := io.WriteString(s.w, FormatStreamToken(res)); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// FormatStreamToken renders RESULTADO_PREDICAO:<index>:<q> plus a newline.
func FormatStreamToken(res inference.Result) string {
	return fmt.Sprintf("RESULTADO_PREDICAO:%d:%d\n", res.Index, res.Quantized)
}
