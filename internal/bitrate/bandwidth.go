// Package bitrate implements the sink-statistics feedback loop (C6): a
// rolling-window bandwidth tracker feeding a periodic regulator that steps
// encoder target bitrates up or down based on congestion.
package bitrate

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultWindowSize is the default number of samples kept for the
	// rolling bandwidth average.
	DefaultWindowSize = 30
	// DefaultSamplePeriod is the default sampling cadence.
	DefaultSamplePeriod = time.Second
)

type sample struct {
	bytes     uint64
	timestamp time.Time
}

// BandwidthTracker tracks bytes transferred by a sink and computes a
// rolling bytes/sec average, used as the regulator's "send-bandwidth" input
// (spec §4.8).
type BandwidthTracker struct {
	totalBytes atomic.Uint64

	mu           sync.RWMutex
	samples      []sample
	windowSize   int
	samplePeriod time.Duration
	lastBytes    uint64
}

// NewBandwidthTracker creates a tracker with the default window and period.
func NewBandwidthTracker() *BandwidthTracker {
	return NewBandwidthTrackerWithConfig(DefaultWindowSize, DefaultSamplePeriod)
}

// NewBandwidthTrackerWithConfig creates a tracker with a custom window size
// and sample period.
func NewBandwidthTrackerWithConfig(windowSize int, samplePeriod time.Duration) *BandwidthTracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if samplePeriod <= 0 {
		samplePeriod = DefaultSamplePeriod
	}
	return &BandwidthTracker{
		samples:      make([]sample, 0, windowSize),
		windowSize:   windowSize,
		samplePeriod: samplePeriod,
	}
}

// Add records bytes sent by the sink since the last call.
func (t *BandwidthTracker) Add(bytes uint64) {
	t.totalBytes.Add(bytes)
}

// TotalBytes returns the cumulative bytes recorded.
func (t *BandwidthTracker) TotalBytes() uint64 {
	return t.totalBytes.Load()
}

// Sample records the current state for the rolling average. Call this once
// per SamplePeriod.
func (t *BandwidthTracker) Sample() {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.totalBytes.Load()
	delta := current - t.lastBytes
	t.samples = append(t.samples, sample{bytes: delta, timestamp: time.Now()})
	if len(t.samples) > t.windowSize {
		t.samples = t.samples[len(t.samples)-t.windowSize:]
	}
	t.lastBytes = current
}

// CurrentBps returns the rolling-window bytes-per-second average.
func (t *BandwidthTracker) CurrentBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.samples) == 0 {
		return 0
	}
	var total uint64
	for _, s := range t.samples {
		total += s.bytes
	}
	duration := time.Duration(len(t.samples)) * t.samplePeriod
	if duration == 0 {
		return 0
	}
	return uint64(float64(total) / duration.Seconds())
}

// Reset clears all tracking data.
func (t *BandwidthTracker) Reset() {
	t.totalBytes.Store(0)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = t.samples[:0]
	t.lastBytes = 0
}
