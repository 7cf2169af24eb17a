// Package metrics accumulates client-side stream statistics: frame rate over
// a rolling window, instantaneous bandwidth, heartbeat latency and the last
// announced quality. It performs no I/O.
package metrics

import (
	"sync"
	"time"

	"github.com/backkem/roverfeed/pkg/media"
)

// DefaultFPSWindow is the trailing window used for frame rate computation.
const DefaultFPSWindow = 1000 * time.Millisecond

// Statistics is a point-in-time view of the stream, read by the UI layer.
type Statistics struct {
	FramesPerSecond    float64 `json:"fps"`
	LastQuality        int     `json:"quality"`
	BandwidthKbps      float64 `json:"bandwidthKbps"`
	LatencyMs          float64 `json:"latencyMs"`
	FrameCount         int64   `json:"frameCount"`
	LastFrameTimestamp int64   `json:"lastFrameTimestamp"`
}

// Tracker is the single writer of Statistics. Record methods are called from
// the client's event loop; Snapshot may be called from any goroutine.
type Tracker struct {
	window time.Duration

	mu       sync.RWMutex
	arrivals []time.Time
	stats    Statistics
}

// NewTracker creates a tracker using DefaultFPSWindow.
func NewTracker() *Tracker {
	return NewTrackerWithWindow(DefaultFPSWindow)
}

// NewTrackerWithWindow creates a tracker with a custom FPS window.
// A non-positive window selects DefaultFPSWindow.
func NewTrackerWithWindow(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultFPSWindow
	}
	return &Tracker{window: window}
}

// RecordFrame folds one delivered frame into the statistics.
// meta may be nil for legacy frames, in which case quality, bandwidth and the
// server timestamp keep their previous values.
func (t *Tracker) RecordFrame(at time.Time, meta *media.FrameMetadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recordArrival(at)
	if meta == nil {
		return
	}
	t.stats.LastQuality = meta.Quality
	t.stats.BandwidthKbps = kilobits(meta.Size)
	t.stats.LastFrameTimestamp = meta.Timestamp
}

// RecordSample folds one media sample that carries no server metadata (the
// WebRTC path). Only rate, count and bandwidth are updated.
func (t *Tracker) RecordSample(at time.Time, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recordArrival(at)
	t.stats.BandwidthKbps = kilobits(size)
}

// RecordLatency stores a one-way latency estimate from a heartbeat reply.
func (t *Tracker) RecordLatency(latency time.Duration) {
	t.mu.Lock()
	t.stats.LatencyMs = float64(latency) / float64(time.Millisecond)
	t.mu.Unlock()
}

// recordArrival appends a timestamp and trims the window. The window is
// half open: an arrival exactly one window old is dropped. Caller holds mu.
func (t *Tracker) recordArrival(at time.Time) {
	t.arrivals = append(t.arrivals, at)
	i := 0
	for i < len(t.arrivals) && at.Sub(t.arrivals[i]) >= t.window {
		i++
	}
	t.arrivals = t.arrivals[i:]

	t.stats.FramesPerSecond = float64(len(t.arrivals))
	t.stats.FrameCount++
}

// Snapshot returns a copy of the current statistics.
func (t *Tracker) Snapshot() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Reset clears all accumulated statistics.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.arrivals = nil
	t.stats = Statistics{}
	t.mu.Unlock()
}

// kilobits converts a byte count to kilobits (1 kbit = 1024 bits).
func kilobits(size int) float64 {
	return float64(size) * 8 / 1024
}
