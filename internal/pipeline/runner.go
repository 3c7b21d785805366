package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/inference"
)

const (
	DefaultRetryDelay       = 100 * time.Millisecond
	DefaultInvokeRetryDelay = time.Second
)

// Classifier is satisfied by *inference.Session.
type Classifier interface {
	Classify(ctx context.Context, f frame.Frame) (inference.Result, error)
}

// Runner processes one frame at a time on the calling goroutine.
type Runner struct {
	Source     frame.Source
	Classifier Classifier
	Sink       Sink
	Logger     *zap.Logger

	// RetryDelay follows a dropped frame, InvokeRetryDelay a failed invoke.
	RetryDelay       time.Duration
	InvokeRetryDelay time.Duration
	// MaxTransportErrors stops the loop after that many consecutive
	// transport failures. Zero retries forever.
	MaxTransportErrors int
}

// Run loops until the source reports io.EOF (nil is returned), ctx is done,
// or the transport keeps failing.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := 0
	for {
		f, err := r.Source.Next(ctx)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, io.EOF):
			logger.Info("frame source closed")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			// A partial frame still proves the transport delivers bytes.
			if errors.Is(err, frame.ErrIncomplete) {
				failures = 0
			} else {
				failures++
			}
			logger.Warn("frame dropped", zap.Error(err), zap.Int("consecutive_transport_errors", failures))
			if r.MaxTransportErrors > 0 && failures >= r.MaxTransportErrors {
				return err
			}
			if err := sleep(ctx, r.RetryDelay); err != nil {
				return err
			}
			continue
		}

		res, err := r.Classifier.Classify(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("inference failed", zap.String("frame_id", f.ID), zap.Error(err))
			if err := sleep(ctx, r.InvokeRetryDelay); err != nil {
				return err
			}
			continue
		}
		if err := r.Sink.Emit(ctx, res); err != nil {
			logger.Warn("emit result", zap.String("frame_id", f.ID), zap.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
