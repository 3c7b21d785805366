// Package frame defines the 64x64 grayscale frame and the transports that
// produce frames.
package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	Width    = 64
	Height   = 64
	Channels = 1
	// Size is the byte length of one frame, one byte per pixel row-major.
	Size = Width * Height * Channels
)

var (
	// ErrIncomplete means fewer than Size bytes arrived before the transport ended.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrTransport wraps any other failure of the underlying transport.
	ErrTransport = errors.New("transport receive error")
)

// Frame is one complete grayscale image.
type Frame struct {
	// ID traces the frame through logs and responses.
	ID string
	// Data holds exactly Size pixels, 0 black to 255 white.
	Data []byte
	// Received is when the last byte arrived.
	Received time.Time
}

// New validates data and stamps a fresh ID.
func New(data []byte) (Frame, error) {
	if len(data) != Size {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrIncomplete, len(data), Size)
	}
	return Frame{ID: uuid.New().String(), Data: data, Received: time.Now()}, nil
}

// Source yields frames one at a time. Implementations block until a frame is
// available, the transport fails or ctx is done.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}
