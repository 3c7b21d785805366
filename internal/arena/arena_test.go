package arena

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolAlloc(t *testing.T) {
	pool := NewPool("psram", 1000)

	a, err := pool.Alloc(600)
	require.NoError(t, err)
	require.Equal(t, 600, a.Size())
	require.Equal(t, 400, pool.Available())

	_, err = pool.Alloc(600)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.Equal(t, 400, pool.Available())

	_, err = pool.Alloc(0)
	require.Error(t, err)
}

func TestReserveTooSmall(t *testing.T) {
	a := New(128)
	require.NoError(t, a.Reserve(128))
	require.Equal(t, 128, a.Used())

	err := a.Reserve(129)
	require.ErrorIs(t, err, ErrTooSmall)
	var alloc *AllocationError
	require.True(t, errors.As(err, &alloc))
	require.Equal(t, 129, alloc.Requested)
	require.Equal(t, 128, alloc.Available)
}

func TestSliceCapacityIsClipped(t *testing.T) {
	a := New(64)
	s := a.Slice(16, 16)
	require.Len(t, s, 16)
	require.Equal(t, 16, cap(s))
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, Align(0))
	require.Equal(t, 16, Align(1))
	require.Equal(t, 16, Align(16))
	require.Equal(t, 4112, Align(4097))
}

func TestPlanReusesDeadBuffers(t *testing.T) {
	// a -> b -> c chain: a and c never live together.
	bufs := []Buffer{
		{Size: 100, First: 0, Last: 1},
		{Size: 50, First: 1, Last: 2},
		{Size: 100, First: 2, Last: 3},
	}
	offsets, peak := Plan(bufs)
	require.Equal(t, 0, offsets[0])
	require.Equal(t, 0, offsets[2])
	require.Equal(t, 112, offsets[1])
	require.Equal(t, 112+64, peak)
}

func TestPlanNeverOverlapsLiveBuffers(t *testing.T) {
	bufs := []Buffer{
		{Size: 4096, First: 0, Last: 0},
		{Size: 300, First: 0, Last: 2},
		{Size: 17, First: 1, Last: 1},
		{Size: 1024, First: 1, Last: 3},
		{Size: 64, First: 2, Last: 4},
		{Size: 36, First: 3, Last: 4},
		{Size: 36, First: 4, Last: 5},
	}
	offsets, peak := Plan(bufs)
	for i := range bufs {
		require.Zero(t, offsets[i]%Alignment)
		require.LessOrEqual(t, offsets[i]+bufs[i].Size, peak)
		for j := i + 1; j < len(bufs); j++ {
			if !bufs[i].overlapsInTime(bufs[j]) {
				continue
			}
			disjoint := offsets[i]+bufs[i].Size <= offsets[j] || offsets[j]+bufs[j].Size <= offsets[i]
			require.True(t, disjoint, "buffers %d and %d overlap", i, j)
		}
	}
}
