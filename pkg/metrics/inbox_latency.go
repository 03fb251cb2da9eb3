// Package metrics tracks processing latency percentiles in process.
package metrics

import (
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent samples in a ring buffer.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{samples: make([]time.Duration, windowSize)}
}

func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples[lt.next] = d
	lt.next = (lt.next + 1) % len(lt.samples)
	if lt.next == 0 {
		lt.full = true
	}
	lt.count++
}

// Since records the time elapsed since start.
func (lt *LatencyTracker) Since(start time.Time) {
	lt.Record(time.Since(start))
}

// LatencyStats summarizes the current window. Count is the lifetime total.
type LatencyStats struct {
	Count   int64
	Samples int
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
}

func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	window := slices.Clone(lt.samples[:n])
	count := lt.count
	lt.mu.Unlock()

	stats := LatencyStats{Count: count, Samples: len(window)}
	if len(window) == 0 {
		return stats
	}
	slices.Sort(window)

	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	stats.Min = window[0]
	stats.Max = window[len(window)-1]
	stats.Avg = sum / time.Duration(len(window))
	stats.P50 = percentile(window, 0.50)
	stats.P95 = percentile(window, 0.95)
	stats.P99 = percentile(window, 0.99)
	return stats
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// ToMap renders the stats in milliseconds.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":       s.Count,
		"sample_size": s.Samples,
		"min_ms":      ms(s.Min),
		"max_ms":      ms(s.Max),
		"avg_ms":      ms(s.Avg),
		"p50_ms":      ms(s.P50),
		"p95_ms":      ms(s.P95),
		"p99_ms":      ms(s.P99),
	}
}
