package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/inference"
)

type stubClassifier struct {
	fail  int
	calls int
}

func (c *stubClassifier) Classify(_ context.Context, f frame.Frame) (inference.Result, error) {
	c.calls++
	if c.calls <= c.fail {
		return inference.Result{}, fmt.Errorf("%w: boom", inference.ErrInvoke)
	}
	return inference.Result{FrameID: f.ID, Index: int(f.Data[0]) % 36, Quantized: 100, Score: 0.5, N: 36}, nil
}

type recordingSink struct {
	results []inference.Result
	onEmit  func()
}

func (s *recordingSink) Emit(_ context.Context, res inference.Result) error {
	s.results = append(s.results, res)
	if s.onEmit != nil {
		s.onEmit()
	}
	return nil
}

func TestFormat(t *testing.T) {
	res := inference.Result{Index: 10, Quantized: 127, Score: 0.99609375, N: 36}
	require.Equal(t, "Pred=10 score_q=127 score_f=0.99609375 (n=36)", FormatLogLine(res))
	require.Equal(t, "RESULTADO_PREDICAO:10:127\n", FormatStreamToken(res))

	res = inference.Result{Index: 0, Quantized: -128, Score: 0, N: 36}
	require.Equal(t, "RESULTADO_PREDICAO:0:-128\n", FormatStreamToken(res))
}

func TestLogSinkThrottles(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core), 0)
	for i := 0; i < 12; i++ {
		require.NoError(t, sink.Emit(context.Background(), inference.Result{Index: i, N: 36}))
	}
	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "Pred=4 score_q=0 score_f=0 (n=36)", entries[0].Message)
	require.Equal(t, "Pred=9 score_q=0 score_f=0 (n=36)", entries[1].Message)
}

func TestStreamSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStreamSink(&buf)
	require.NoError(t, sink.Emit(context.Background(), inference.Result{Index: 35, Quantized: 127}))
	require.NoError(t, sink.Emit(context.Background(), inference.Result{Index: 3, Quantized: -5}))
	require.Equal(t, "RESULTADO_PREDICAO:35:127\nRESULTADO_PREDICAO:3:-5\n", buf.String())
}

func TestRunnerDropsPartialFrame(t *testing.T) {
	payload := append(bytes.Repeat([]byte{11}, frame.Size), make([]byte, 2000)...)
	core, logs := observer.New(zap.WarnLevel)
	var out bytes.Buffer
	r := &Runner{
		Source:     frame.NewStream(bytes.NewReader(payload)),
		Classifier: &stubClassifier{},
		Sink:       NewStreamSink(&out),
		Logger:     zap.New(core),
	}
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, "RESULTADO_PREDICAO:11:100\n", out.String())
	require.Equal(t, 1, logs.FilterMessage("frame dropped").Len())
}

func TestRunnerContinuesAfterInvokeFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := &recordingSink{}
	r := &Runner{
		Source:           frame.NewStream(bytes.NewReader(make([]byte, 3*frame.Size))),
		Classifier:       &stubClassifier{fail: 1},
		Sink:             sink,
		Logger:           zap.New(core),
		InvokeRetryDelay: time.Millisecond,
	}
	require.NoError(t, r.Run(context.Background()))
	require.Len(t, sink.results, 2)
	require.Equal(t, 1, logs.FilterMessage("inference failed").Len())
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onEmit: cancel}
	r := &Runner{
		Source:     frame.NewConstantGray(0, time.Hour),
		Classifier: &stubClassifier{},
		Sink:       sink,
	}
	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	require.Len(t, sink.results, 1)
}

type brokenSource struct{ calls int }

func (s *brokenSource) Next(context.Context) (frame.Frame, error) {
	s.calls++
	return frame.Frame{}, fmt.Errorf("%w: connection reset", frame.ErrTransport)
}

func TestRunnerGivesUpOnDeadTransport(t *testing.T) {
	src := &brokenSource{}
	r := &Runner{
		Source:             src,
		Classifier:         &stubClassifier{},
		Sink:               &recordingSink{},
		RetryDelay:         time.Millisecond,
		MaxTransportErrors: 3,
	}
	err := r.Run(context.Background())
	require.True(t, errors.Is(err, frame.ErrTransport))
	require.Equal(t, 3, src.calls)
}

type scriptedSource struct {
	errs  []error
	calls int
}

func (s *scriptedSource) Next(context.Context) (frame.Frame, error) {
	err := s.errs[s.calls%len(s.errs)]
	s.calls++
	return frame.Frame{}, err
}

func TestRunnerCountsOnlyTransportErrors(t *testing.T) {
	incomplete := fmt.Errorf("%w: got 100 of %d bytes", frame.ErrIncomplete, frame.Size)
	transport := fmt.Errorf("%w: connection reset", frame.ErrTransport)
	src := &scriptedSource{errs: []error{
		incomplete, incomplete, incomplete, incomplete, incomplete,
		transport, incomplete,
		transport, transport, transport,
	}}
	r := &Runner{
		Source:             src,
		Classifier:         &stubClassifier{},
		Sink:               &recordingSink{},
		RetryDelay:         time.Millisecond,
		MaxTransportErrors: 3,
	}
	err := r.Run(context.Background())
	require.ErrorIs(t, err, frame.ErrTransport)
	require.Equal(t, 10, src.calls)
}
