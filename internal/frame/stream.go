package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Stream reads back-to-back frames from a blocking byte transport such as a
// TCP connection, a serial device or stdin.
type Stream struct {
	r           io.Reader
	readTimeout time.Duration
	frameSize   int
	decode      func([]byte) (Frame, error)
}

type StreamOption func(*Stream)

// WithReadTimeout bounds the wait for each frame when the reader supports
// read deadlines. Zero waits forever.
func WithReadTimeout(d time.Duration) StreamOption {
	return func(s *Stream) { s.readTimeout = d }
}

// WithRGB565 makes every frame a little-endian width x height RGB565
// capture, converted with FromRGB565.
func WithRGB565(width, height int) StreamOption {
	return func(s *Stream) {
		s.frameSize = width * height * 2
		s.decode = func(buf []byte) (Frame, error) { return FromRGB565(buf, width, height) }
	}
}

func NewStream(r io.Reader, opts ...StreamOption) *Stream {
	s := &Stream{r: r, frameSize: Size, decode: New}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next reads exactly one frame, Size bytes unless WithRGB565 is set. A transport that ends mid-frame yields
// ErrIncomplete and the partial bytes are dropped; one that ends on a frame
// boundary yields io.EOF. The read itself is not interrupted by ctx; callers
// close the transport to unblock it.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if d, ok := s.r.(deadliner); ok && s.readTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return Frame{}, fmt.Errorf("%w: set deadline: %v", ErrTransport, err)
		}
	}

	buf := make([]byte, s.frameSize)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		return s.decode(buf)
	case errors.Is(err, io.EOF):
		return Frame{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Frame{}, fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, n, s.frameSize)
	case errors.Is(err, os.ErrDeadlineExceeded) && n > 0:
		return Frame{}, fmt.Errorf("%w: got %d of %d bytes before timeout", ErrIncomplete, n, s.frameSize)
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
}
