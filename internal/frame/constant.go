package frame

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// DefaultInterval separates frames of a constant pattern.
const DefaultInterval = 5 * time.Second

// ConstantPattern replays the same pixels forever.
type ConstantPattern struct {
	pixels   []byte
	interval time.Duration
	started  bool
}

// NewConstantImage replays img, which must hold Size bytes.
func NewConstantImage(img []byte, interval time.Duration) (*ConstantPattern, error) {
	if len(img) != Size {
		return nil, fmt.Errorf("reference image has %d bytes, want %d", len(img), Size)
	}
	return &ConstantPattern{pixels: bytes.Clone(img), interval: interval}, nil
}

// NewConstantGray replays a uniform frame of the given gray level.
func NewConstantGray(gray uint8, interval time.Duration) *ConstantPattern {
	return &ConstantPattern{pixels: bytes.Repeat([]byte{gray}, Size), interval: interval}
}

// Next returns immediately the first time and waits the interval before
// every later frame.
func (c *ConstantPattern) Next(ctx context.Context) (Frame, error) {
	if c.started && c.interval > 0 {
		t := time.NewTimer(c.interval)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	c.started = true
	return New(bytes.Clone(c.pixels))
}
