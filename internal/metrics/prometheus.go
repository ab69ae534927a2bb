package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for bridge metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	broadcastsTotal  *prometheus.CounterVec
	sessionsOpened   *prometheus.CounterVec
	sessionsClosed   *prometheus.CounterVec
	startFailures    *prometheus.CounterVec
	snapshotCommits  prometheus.Counter
	codecMalformed   prometheus.Counter
	commandsUnknown  prometheus.Counter
	commandsClamped  prometheus.Counter
	queueOverflows   prometheus.Counter

	// Histograms
	payloadBuildDuration *prometheus.HistogramVec
	broadcastBytes       *prometheus.HistogramVec

	// Gauges
	uptime          prometheus.GaugeFunc
	activeSessions  *prometheus.GaugeVec
	queueDepth      prometheus.Gauge
	broadcastRateHz prometheus.Gauge
}

// Default histogram buckets for payload build duration (in microseconds).
var defaultBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Default histogram buckets for broadcast payload size (in bytes).
var defaultByteBuckets = []float64{64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		broadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_total",
				Help:      "Total number of payload broadcasts attempted, by transport and status",
			},
			[]string{"transport", "status"},
		),

		sessionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_opened_total",
				Help:      "Total number of client sessions opened, by transport",
			},
			[]string{"transport"},
		),

		sessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_closed_total",
				Help:      "Total number of client sessions closed, by transport",
			},
			[]string{"transport"},
		),

		startFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_start_failures_total",
				Help:      "Total number of transport start failures, by transport",
			},
			[]string{"transport"},
		),

		snapshotCommits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_commits_total",
				Help:      "Total number of Snapshot Store commits",
			},
		),

		codecMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "codec_malformed_frames_total",
				Help:      "Total number of malformed inbound frames rejected by the codec",
			},
		),

		commandsUnknown: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_unknown_total",
				Help:      "Total number of commands referencing an unknown variable",
			},
		),

		commandsClamped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_clamped_total",
				Help:      "Total number of commands clamped to their variable's valid range",
			},
		),

		queueOverflows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_queue_overflow_total",
				Help:      "Total number of command enqueue attempts rejected due to a full queue",
			},
		),

		payloadBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payload_build_duration_microseconds",
				Help:      "Duration of JSON payload artifact construction in microseconds",
				Buckets:   buckets,
			},
			[]string{"transport"},
		),

		broadcastBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "broadcast_payload_bytes",
				Help:      "Size of broadcast payloads in bytes, by transport",
				Buckets:   defaultByteBuckets,
			},
			[]string{"transport"},
		),

		activeSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of open client sessions, by transport",
			},
			[]string{"transport"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "command_queue_depth",
				Help:      "Current number of commands waiting in the command queue",
			},
		),

		broadcastRateHz: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broadcast_rate_hz",
				Help:      "Configured broadcast rate derived from the pacing interval",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the bridge process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.broadcastsTotal,
		pm.sessionsOpened,
		pm.sessionsClosed,
		pm.startFailures,
		pm.snapshotCommits,
		pm.codecMalformed,
		pm.commandsUnknown,
		pm.commandsClamped,
		pm.queueOverflows,
		pm.payloadBuildDuration,
		pm.broadcastBytes,
		pm.uptime,
		pm.activeSessions,
		pm.queueDepth,
		pm.broadcastRateHz,
	)

	promMetrics = pm
}

// RecordPrometheusBroadcast records a broadcast attempt in Prometheus collectors.
func RecordPrometheusBroadcast(transport string, payloadBytes int64, ok bool) {
	if promMetrics == nil {
		return
	}

	status := "ok"
	if !ok {
		status = "dropped"
	}
	promMetrics.broadcastsTotal.WithLabelValues(transport, status).Inc()
	if ok {
		promMetrics.broadcastBytes.WithLabelValues(transport).Observe(float64(payloadBytes))
	}
}

// RecordPrometheusSessionOpened records a session open in Prometheus.
func RecordPrometheusSessionOpened(transport string) {
	if promMetrics == nil {
		return
	}
	promMetrics.sessionsOpened.WithLabelValues(transport).Inc()
}

// RecordPrometheusSessionClosed records a session close in Prometheus.
func RecordPrometheusSessionClosed(transport string) {
	if promMetrics == nil {
		return
	}
	promMetrics.sessionsClosed.WithLabelValues(transport).Inc()
}

// RecordPrometheusStartFailure records a transport start failure in Prometheus.
func RecordPrometheusStartFailure(transport string) {
	if promMetrics == nil {
		return
	}
	promMetrics.startFailures.WithLabelValues(transport).Inc()
}

// RecordPrometheusSnapshotCommit records a Snapshot Store commit in Prometheus.
func RecordPrometheusSnapshotCommit() {
	if promMetrics == nil {
		return
	}
	promMetrics.snapshotCommits.Inc()
}

// RecordPrometheusCodecMalformed records a malformed inbound frame in Prometheus.
func RecordPrometheusCodecMalformed() {
	if promMetrics == nil {
		return
	}
	promMetrics.codecMalformed.Inc()
}

// RecordPrometheusCommandUnknown records an unknown-variable command in Prometheus.
func RecordPrometheusCommandUnknown() {
	if promMetrics == nil {
		return
	}
	promMetrics.commandsUnknown.Inc()
}

// RecordPrometheusCommandClamped records a clamped command in Prometheus.
func RecordPrometheusCommandClamped() {
	if promMetrics == nil {
		return
	}
	promMetrics.commandsClamped.Inc()
}

// RecordPrometheusQueueOverflow records a command queue overflow in Prometheus.
func RecordPrometheusQueueOverflow() {
	if promMetrics == nil {
		return
	}
	promMetrics.queueOverflows.Inc()
}

// ObservePayloadBuildDuration records how long payload construction took, in microseconds.
func ObservePayloadBuildDuration(transport string, micros float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.payloadBuildDuration.WithLabelValues(transport).Observe(micros)
}

// SetActiveSessions sets the current session gauge for a transport.
func SetActiveSessions(transport string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeSessions.WithLabelValues(transport).Set(float64(count))
}

// SetQueueDepth sets the current command queue depth gauge.
func SetQueueDepth(depth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.Set(float64(depth))
}

// SetBroadcastRateHz sets the configured broadcast rate gauge.
func SetBroadcastRateHz(hz float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.broadcastRateHz.Set(hz)
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
