// Package arena provides the fixed-size memory region tensor storage is
// carved from. An arena is taken once from a finite pool and never grows.
package arena

import (
	"errors"
	"fmt"
	"sync"
)

// Alignment of every buffer carved from an arena.
const Alignment = 16

var (
	// ErrPoolExhausted means the pool cannot serve the requested arena.
	ErrPoolExhausted = errors.New("memory pool exhausted")
	// ErrTooSmall means a tensor plan does not fit into the arena.
	ErrTooSmall = errors.New("arena too small")
)

// AllocationError reports a plan that exceeds the arena.
type AllocationError struct {
	Requested int
	Available int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("arena too small: requested %d bytes, available %d bytes", e.Requested, e.Available)
}

func (e *AllocationError) Is(target error) bool {
	return target == ErrTooSmall
}

// Align rounds n up to Alignment.
func Align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Pool is a bounded memory source, the host-side stand-in for an external
// RAM heap. Allocations are never returned.
type Pool struct {
	mu       sync.Mutex
	name     string
	capacity int
	used     int
}

func NewPool(name string, capacity int) *Pool {
	return &Pool{name: name, capacity: capacity}
}

// Alloc takes an arena of exactly size bytes from the pool.
func (p *Pool) Alloc(size int) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("arena size must be > 0, got %d", size)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if size > p.capacity-p.used {
		return nil, fmt.Errorf("%w: %s cannot allocate %d bytes (%d of %d in use)",
			ErrPoolExhausted, p.name, size, p.used, p.capacity)
	}
	p.used += size
	return &Arena{buf: make([]byte, size)}, nil
}

// Available returns the bytes the pool can still hand out.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - p.used
}

// Arena is a fixed byte region.
type Arena struct {
	buf  []byte
	used int
}

// New returns an arena that does not come from a pool.
func New(size int) *Arena {
	return &Arena{buf: make([]byte, size)}
}

func (a *Arena) Size() int {
	return len(a.buf)
}

// Used returns the bytes claimed by the last successful Reserve.
func (a *Arena) Used() int {
	return a.used
}

// Reserve claims n bytes of the arena for a plan, failing when it does not fit.
func (a *Arena) Reserve(n int) error {
	if n > len(a.buf) {
		return &AllocationError{Requested: n, Available: len(a.buf)}
	}
	a.used = n
	return nil
}

// Slice returns n bytes at off. Capacity is clipped so a view cannot grow
// into its neighbour.
func (a *Arena) Slice(off, n int) []byte {
	return a.buf[off : off+n : off+n]
}
