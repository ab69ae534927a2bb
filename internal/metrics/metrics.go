// Package metrics collects and exposes bridge runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (global counters + a broadcast-rate
//     time series) for the lightweight JSON /metrics.json endpoint exposed by
//     cmd/bridge for local inspection without a Prometheus sidecar.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordBroadcast is called by the TCP and WebSocket broadcasters once per
// session push and must be as fast as possible. It uses
// atomic increments for global counters and dispatches a lightweight event
// onto a buffered channel (tsChan) for the time-series worker to process
// asynchronously, so the tick never blocks on a lock.
//
// Per-transport counters also use atomic operations exclusively; the
// sync.Map holding per-session entries is read-heavy and write-once-per-
// new-session, the ideal case for sync.Map.
//
// # Invariants
//
//   - BroadcastsTotal == BroadcastsOK + BroadcastsDropped.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores broadcast activity for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp  time.Time
	Broadcasts int64
	Dropped    int64
	TotalBytes int64
	Count      int64 // for calculating avg payload size
}

// Metrics collects and exposes bridge runtime metrics.
type Metrics struct {
	// Broadcast metrics
	BroadcastsTotal   atomic.Int64
	BroadcastsOK      atomic.Int64
	BroadcastsDropped atomic.Int64

	// Payload size metrics (bytes)
	TotalPayloadBytes atomic.Int64
	MinPayloadBytes   atomic.Int64
	MaxPayloadBytes   atomic.Int64

	// Orchestrator metrics
	SnapshotCommits atomic.Int64
	CodecMalformed  atomic.Int64
	CommandsUnknown atomic.Int64
	CommandsClamped atomic.Int64
	QueueOverflows  atomic.Int64

	// Per-transport session metrics
	transportMetrics sync.Map // transport -> *TransportMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path.
type timeSeriesEvent struct {
	payloadBytes int64
	dropped      bool
}

// TransportMetrics tracks metrics for a single transport (tcp_data, tcp_command, ws).
type TransportMetrics struct {
	SessionsOpened atomic.Int64
	SessionsClosed atomic.Int64
	StartFailures  atomic.Int64
	BytesSent      atomic.Int64
	BytesReceived  atomic.Int64
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinPayloadBytes.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordBroadcast records a single broadcast attempt (one payload published
// to a transport) and its outcome.
func (m *Metrics) RecordBroadcast(transport string, payloadBytes int64, ok bool) {
	m.BroadcastsTotal.Add(1)
	if ok {
		m.BroadcastsOK.Add(1)
		m.TotalPayloadBytes.Add(payloadBytes)
		updateMin(&m.MinPayloadBytes, payloadBytes)
		updateMax(&m.MaxPayloadBytes, payloadBytes)
	} else {
		m.BroadcastsDropped.Add(1)
	}

	tm := m.getTransportMetrics(transport)
	if ok {
		tm.BytesSent.Add(payloadBytes)
	}

	m.recordTimeSeries(payloadBytes, !ok)
	RecordPrometheusBroadcast(transport, payloadBytes, ok)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the broadcast hot path.
func (m *Metrics) recordTimeSeries(payloadBytes int64, dropped bool) {
	select {
	case m.tsChan <- timeSeriesEvent{payloadBytes: payloadBytes, dropped: dropped}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.payloadBytes, evt.dropped)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(payloadBytes int64, dropped bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Broadcasts++
		bucket.TotalBytes += payloadBytes
		bucket.Count++
		if dropped {
			bucket.Dropped++
		}
	}
}

// RecordSessionOpened records a new client session for a transport.
func (m *Metrics) RecordSessionOpened(transport string) {
	m.getTransportMetrics(transport).SessionsOpened.Add(1)
	RecordPrometheusSessionOpened(transport)
}

// RecordSessionClosed records a client session closing for a transport.
func (m *Metrics) RecordSessionClosed(transport string) {
	m.getTransportMetrics(transport).SessionsClosed.Add(1)
	RecordPrometheusSessionClosed(transport)
}

// RecordStartFailure records a transport failing to start listening.
func (m *Metrics) RecordStartFailure(transport string) {
	m.getTransportMetrics(transport).StartFailures.Add(1)
	RecordPrometheusStartFailure(transport)
}

// RecordSnapshotCommit records a successful Snapshot Store commit.
func (m *Metrics) RecordSnapshotCommit() {
	m.SnapshotCommits.Add(1)
	RecordPrometheusSnapshotCommit()
}

// RecordCodecMalformed records a malformed inbound frame.
func (m *Metrics) RecordCodecMalformed() {
	m.CodecMalformed.Add(1)
	RecordPrometheusCodecMalformed()
}

// RecordCommandUnknown records a command referencing an unknown variable.
func (m *Metrics) RecordCommandUnknown() {
	m.CommandsUnknown.Add(1)
	RecordPrometheusCommandUnknown()
}

// RecordCommandClamped records a command value clamped to its variable's range.
func (m *Metrics) RecordCommandClamped() {
	m.CommandsClamped.Add(1)
	RecordPrometheusCommandClamped()
}

// RecordQueueOverflow records the command queue rejecting an enqueue attempt.
func (m *Metrics) RecordQueueOverflow() {
	m.QueueOverflows.Add(1)
	RecordPrometheusQueueOverflow()
}

func (m *Metrics) getTransportMetrics(transport string) *TransportMetrics {
	if v, ok := m.transportMetrics.Load(transport); ok {
		return v.(*TransportMetrics)
	}

	tm := &TransportMetrics{}
	actual, _ := m.transportMetrics.LoadOrStore(transport, tm)
	return actual.(*TransportMetrics)
}

// TransportStats returns the metrics for a specific transport (or nil if none recorded yet).
func (m *Metrics) TransportStats(transport string) *TransportMetrics {
	if v, ok := m.transportMetrics.Load(transport); ok {
		return v.(*TransportMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.BroadcastsTotal.Load()
	avgBytes := float64(0)
	if m.BroadcastsOK.Load() > 0 {
		avgBytes = float64(m.TotalPayloadBytes.Load()) / float64(m.BroadcastsOK.Load())
	}

	minBytes := m.MinPayloadBytes.Load()
	if minBytes == int64(^uint64(0)>>1) {
		minBytes = 0
	}

	result := map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"broadcasts": map[string]interface{}{
			"total":   total,
			"ok":      m.BroadcastsOK.Load(),
			"dropped": m.BroadcastsDropped.Load(),
		},
		"payload_bytes": map[string]interface{}{
			"avg": avgBytes,
			"min": minBytes,
			"max": m.MaxPayloadBytes.Load(),
		},
		"orchestrator": map[string]interface{}{
			"snapshot_commits": m.SnapshotCommits.Load(),
			"codec_malformed":  m.CodecMalformed.Load(),
			"commands_unknown": m.CommandsUnknown.Load(),
			"commands_clamped": m.CommandsClamped.Load(),
			"queue_overflows":  m.QueueOverflows.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}

	return result
}

// TransportSnapshot returns per-transport session metrics keyed by transport name.
func (m *Metrics) TransportSnapshot() map[string]interface{} {
	result := make(map[string]interface{})

	m.transportMetrics.Range(func(key, value interface{}) bool {
		transport := key.(string)
		tm := value.(*TransportMetrics)

		result[transport] = map[string]interface{}{
			"sessions_opened": tm.SessionsOpened.Load(),
			"sessions_closed": tm.SessionsClosed.Load(),
			"start_failures":  tm.StartFailures.Load(),
			"bytes_sent":      tm.BytesSent.Load(),
			"bytes_received":  tm.BytesReceived.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["transports"] = m.TransportSnapshot()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level broadcast time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgBytes := float64(0)
		if bucket.Count > 0 {
			avgBytes = float64(bucket.TotalBytes) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":  bucket.Timestamp.Format(time.RFC3339),
			"broadcasts": bucket.Broadcasts,
			"dropped":    bucket.Dropped,
			"avg_bytes":  avgBytes,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
