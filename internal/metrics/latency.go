// Package metrics collects run counters and latency statistics.
package metrics

import (
	"math"
	"sync"
)

// Latency aggregates latency samples in milliseconds. Safe for
// concurrent use; memory is O(1).
type Latency struct {
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

// NewLatency creates an empty latency aggregator.
func NewLatency() *Latency {
	return &Latency{min: math.MaxFloat64}
}

// Add records one sample in milliseconds.
func (l *Latency) Add(ms float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	l.sum += ms
	if ms < l.min {
		l.min = ms
	}
	if ms > l.max {
		l.max = ms
	}
}

// LatencySnapshot is a point-in-time view of an aggregator.
type LatencySnapshot struct {
	Count int64
	Min   float64
	Max   float64
	Avg   float64
}

// Snapshot returns the current statistics. The zero snapshot is
// returned when no samples were recorded.
func (l *Latency) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: l.count,
		Min:   l.min,
		Max:   l.max,
		Avg:   l.sum / float64(l.count),
	}
}

// Reset clears all samples.
func (l *Latency) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count = 0
	l.sum = 0
	l.min = math.MaxFloat64
	l.max = 0
}
