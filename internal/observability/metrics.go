package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enqlink",
			Subsystem: "link",
			Name:      "handshakes_total",
			Help:      "ENQ handshakes by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enqlink",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Data frames by direction and result.",
		},
		[]string{"direction", "result"},
	)
	files = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enqlink",
			Subsystem: "link",
			Name:      "files_total",
			Help:      "File transfers by direction and result.",
		},
		[]string{"direction", "result"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "enqlink",
			Subsystem: "link",
			Name:      "sessions_active",
			Help:      "Engines currently running.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enqlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enqlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(handshakes, frames, files, activeSessions, httpRequests, httpDuration)
	})
}

// RecordHandshake counts one ENQ exchange. direction is "out" when this side
// sent the ENQ.
func RecordHandshake(direction, outcome string) {
	RegisterMetrics()
	handshakes.WithLabelValues(direction, outcome).Inc()
}

func RecordFrame(direction, result string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, result).Inc()
}

func RecordFile(direction, result string) {
	RegisterMetrics()
	files.WithLabelValues(direction, result).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	activeSessions.Dec()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
