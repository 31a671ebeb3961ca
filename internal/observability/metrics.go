package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkFramesEncoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "frames_encoded_total",
			Help:      "Frames encoded for transmission.",
		},
	)
	linkFramesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "frames_decoded_total",
			Help:      "Frames recovered from the inbound byte stream.",
		},
	)
	linkBytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "bytes_sent_total",
			Help:      "Raw bytes written to the channel.",
		},
	)
	linkBytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from the channel.",
		},
	)
	linkResyncBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "resync_bytes_total",
			Help:      "Bytes discarded while resynchronizing on frame headers.",
		},
	)
	linkKeepalives = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "keepalives_total",
			Help:      "Keepalive probes sent on the live link.",
		},
	)
	linkHandshakes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "handshakes_total",
			Help:      "Config-request handshakes initiated.",
		},
	)
	linkUnrecognized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "unrecognized_payloads_total",
			Help:      "Inbound payloads that failed wire-contract decoding.",
		},
	)
	linkStateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "state_transitions_total",
			Help:      "Connection state machine transitions.",
		},
		[]string{"to"},
	)
	linkUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshlink",
			Subsystem: "link",
			Name:      "up",
			Help:      "1 while a link session is connected.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			linkFramesEncoded, linkFramesDecoded,
			linkBytesSent, linkBytesReceived,
			linkResyncBytes, linkKeepalives, linkHandshakes,
			linkUnrecognized, linkStateTransitions, linkUp,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameEncoded(wireBytes int) {
	RegisterMetrics()
	linkFramesEncoded.Inc()
	linkBytesSent.Add(float64(wireBytes))
}

func RecordFrameDecoded() {
	RegisterMetrics()
	linkFramesDecoded.Inc()
}

func RecordBytesReceived(n int) {
	RegisterMetrics()
	linkBytesReceived.Add(float64(n))
}

func RecordResyncDiscard(n uint64) {
	RegisterMetrics()
	linkResyncBytes.Add(float64(n))
}

func RecordKeepalive() {
	RegisterMetrics()
	linkKeepalives.Inc()
}

func RecordHandshake() {
	RegisterMetrics()
	linkHandshakes.Inc()
}

func RecordUnrecognizedPayload() {
	RegisterMetrics()
	linkUnrecognized.Inc()
}

func RecordStateTransition(to string, connected bool) {
	RegisterMetrics()
	linkStateTransitions.WithLabelValues(to).Inc()
	if connected {
		linkUp.Set(1)
	} else {
		linkUp.Set(0)
	}
}
