package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTrackerEmpty(t *testing.T) {
	stats := NewLatencyTracker(10).Stats()
	assert.Zero(t, stats.Count)
	assert.Zero(t, stats.P99)
}

func TestLatencyTrackerPercentiles(t *testing.T) {
	lt := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}

	stats := lt.Stats()
	assert.Equal(t, int64(100), stats.Count)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 50*time.Millisecond, stats.P50)
	assert.Equal(t, 95*time.Millisecond, stats.P95)
	assert.Equal(t, 99*time.Millisecond, stats.P99)
	assert.Equal(t, 50.0, stats.ToMap()["p50_ms"])
}

func TestLatencyTrackerWindowSlides(t *testing.T) {
	lt := NewLatencyTracker(3)
	for _, ms := range []int{500, 1, 2, 3} {
		lt.Record(time.Duration(ms) * time.Millisecond)
	}

	stats := lt.Stats()
	assert.Equal(t, int64(4), stats.Count)
	assert.Equal(t, 3, stats.Samples)
	assert.Equal(t, 3*time.Millisecond, stats.Max)
}
