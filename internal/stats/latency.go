// Package stats keeps a rolling window of invoke latencies.
package stats

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of most recent samples summarized.
const DefaultWindow = 256

// Latency is a fixed-size ring of samples, safe for concurrent use.
type Latency struct {
	mu      sync.Mutex
	samples []float64
	next    int
	total   int
}

func NewLatency(window int) *Latency {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Latency{samples: make([]float64, 0, window)}
}

// Observe records one duration.
func (l *Latency) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if len(l.samples) < cap(l.samples) {
		l.samples = append(l.samples, ms)
		return
	}
	l.samples[l.next] = ms
	l.next = (l.next + 1) % len(l.samples)
}

// Summary describes the samples in the current window, in milliseconds.
type Summary struct {
	Count    int     `json:"count"`
	Window   int     `json:"window"`
	MeanMS   float64 `json:"mean_ms"`
	StdDevMS float64 `json:"stddev_ms"`
	P95MS    float64 `json:"p95_ms"`
	MaxMS    float64 `json:"max_ms"`
}

func (l *Latency) Summary() Summary {
	l.mu.Lock()
	xs := append([]float64(nil), l.samples...)
	total := l.total
	l.mu.Unlock()

	s := Summary{Count: total, Window: len(xs)}
	if len(xs) == 0 {
		return s
	}
	sort.Float64s(xs)
	s.MeanMS, s.StdDevMS = stat.MeanStdDev(xs, nil)
	if len(xs) == 1 {
		s.StdDevMS = 0
	}
	s.P95MS = stat.Quantile(0.95, stat.Empirical, xs, nil)
	s.MaxMS = xs[len(xs)-1]
	return s
}
