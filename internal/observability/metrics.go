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
			Namespace: "devexec",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devexec",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	execTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devexec",
			Subsystem: "exec",
			Name:      "executions_total",
			Help:      "Finished executions by protocol and outcome.",
		},
		[]string{"protocol", "outcome"},
	)
	execDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devexec",
			Subsystem: "exec",
			Name:      "duration_seconds",
			Help:      "Execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"protocol"},
	)
	execTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devexec",
			Subsystem: "exec",
			Name:      "timeouts_total",
			Help:      "Executions ended by a deadline, by kind.",
		},
		[]string{"kind"},
	)
	execBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devexec",
			Subsystem: "exec",
			Name:      "received_bytes_total",
			Help:      "Output bytes received from devices, by stream.",
		},
		[]string{"stream"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, execTotal, execDuration, execTimeouts, execBytes)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordExecution counts one finished execution. protocol is empty when the
// execution failed before a protocol was chosen.
func RecordExecution(protocol, outcome string, duration time.Duration) {
	RegisterMetrics()
	if protocol == "" {
		protocol = "none"
	}
	execTotal.WithLabelValues(protocol, outcome).Inc()
	execDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

func RecordTimeout(kind string) {
	RegisterMetrics()
	execTimeouts.WithLabelValues(kind).Inc()
}

func RecordBytes(stream string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	execBytes.WithLabelValues(stream).Add(float64(n))
}
