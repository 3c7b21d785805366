package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSummaryEmpty(t *testing.T) {
	require.Equal(t, Summary{}, NewLatency(4).Summary())
}

func TestSummary(t *testing.T) {
	l := NewLatency(0)
	for i := 1; i <= 20; i++ {
		l.Observe(time.Duration(i) * time.Millisecond)
	}
	s := l.Summary()
	require.Equal(t, 20, s.Count)
	require.Equal(t, 20, s.Window)
	require.InDelta(t, 10.5, s.MeanMS, 1e-9)
	require.InDelta(t, 5.916, s.StdDevMS, 1e-3)
	require.InDelta(t, 19, s.P95MS, 1e-9)
	require.InDelta(t, 20, s.MaxMS, 1e-9)
}

func TestWindowKeepsRecentSamples(t *testing.T) {
	l := NewLatency(3)
	for _, ms := range []int{100, 100, 1, 2, 3} {
		l.Observe(time.Duration(ms) * time.Millisecond)
	}
	s := l.Summary()
	require.Equal(t, 5, s.Count)
	require.Equal(t, 3, s.Window)
	require.InDelta(t, 2, s.MeanMS, 1e-9)
	require.InDelta(t, 3, s.MaxMS, 1e-9)
}

func TestObserveConcurrent(t *testing.T) {
	l := NewLatency(8)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Observe(time.Millisecond)
		}()
	}
	wg.Wait()
	require.Equal(t, 16, l.Summary().Count)
}
