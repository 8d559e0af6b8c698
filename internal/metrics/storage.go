package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics implements storage.Observer.
type StorageMetrics struct {
	bytes   *prometheus.CounterVec
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func NewStorageMetrics(reg *prometheus.Registry) *StorageMetrics {
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "bytes_total",
		Help:      "Total bytes processed by storage operations.",
	}, []string{"op"})
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "ops_total",
		Help:      "Total number of storage operations by result.",
	}, []string{"op", "result"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "op_duration_seconds",
		Help:      "Histogram of storage operation durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	reg.MustRegister(bytes, ops, latency)

	return &StorageMetrics{
		bytes:   bytes,
		ops:     ops,
		latency: latency,
	}
}

// Observe records one storage operation. For put and get, n is the number of
// payload bytes moved; for list it is the number of objects returned.
func (m *StorageMetrics) Observe(op string, n int64, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if n > 0 && (op == "put" || op == "get") {
		m.bytes.WithLabelValues(op).Add(float64(n))
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}
