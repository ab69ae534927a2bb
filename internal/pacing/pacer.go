// Package pacing implements the shared broadcast-pacing clock described in
// §4.5/§4.8: a single last-broadcast timestamp observed by both the TCP
// data port and the WebSocket server, so a broadcast happens on at most one
// cadence regardless of how many transports are attached.
package pacing

import "sync/atomic"

const (
	// MinIntervalMs is the pacing interval floor (§4.5/§6).
	MinIntervalMs = 5
	// MaxIntervalMs is the pacing interval ceiling (§4.5/§6).
	MaxIntervalMs = 1000
)

// Pacer tracks the configured broadcast interval and the last time a
// broadcast happened, in microseconds. It is safe for concurrent use: the
// Orchestrator calls ShouldBroadcast/MarkBroadcast from the host tick, and
// transports may read IntervalMs for diagnostics.
type Pacer struct {
	intervalUs      atomic.Int64
	lastBroadcastUs atomic.Int64
}

// NewPacer builds a Pacer clamped to [MinIntervalMs, MaxIntervalMs].
func NewPacer(intervalMs int) *Pacer {
	p := &Pacer{}
	p.SetIntervalMs(intervalMs)
	return p
}

// SetIntervalMs updates the pacing interval, clamped to the documented
// floor and ceiling.
func (p *Pacer) SetIntervalMs(intervalMs int) {
	if intervalMs < MinIntervalMs {
		intervalMs = MinIntervalMs
	}
	if intervalMs > MaxIntervalMs {
		intervalMs = MaxIntervalMs
	}
	p.intervalUs.Store(int64(intervalMs) * 1000)
}

// IntervalMs returns the current clamped interval in milliseconds.
func (p *Pacer) IntervalMs() int {
	return int(p.intervalUs.Load() / 1000)
}

// RateHz returns the broadcast rate implied by the current interval.
func (p *Pacer) RateHz() float64 {
	return 1000.0 / float64(p.IntervalMs())
}

// ShouldBroadcast reports whether the pacing window has elapsed as of
// nowUs (microseconds). It does not itself advance the clock; callers that
// decide to broadcast must call MarkBroadcast.
func (p *Pacer) ShouldBroadcast(nowUs uint64) bool {
	last := p.lastBroadcastUs.Load()
	return int64(nowUs)-last >= p.intervalUs.Load()
}

// MarkBroadcast records nowUs as the last broadcast time.
func (p *Pacer) MarkBroadcast(nowUs uint64) {
	p.lastBroadcastUs.Store(int64(nowUs))
}
