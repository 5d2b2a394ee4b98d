package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BasketMetrics records basket operation outcomes and remote sync failures.
type BasketMetrics struct {
	duration   *prometheus.HistogramVec
	success    *prometheus.CounterVec
	failure    *prometheus.CounterVec
	remoteSync *prometheus.CounterVec
}

// NewBasketMetrics registers the basket metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewBasketMetrics(reg prometheus.Registerer) *BasketMetrics {
	if reg == nil {
		return &BasketMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "basket_operation_duration_seconds",
		Help:    "Duration of basket operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_operation_success_total",
		Help: "Successful basket operations.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_operation_failure_total",
		Help: "Failed basket operations.",
	}, []string{"operation"})
	remoteSync := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_remote_sync_failure_total",
		Help: "Failed calls to the remote basket API.",
	}, []string{"method"})
	reg.MustRegister(duration, success, failure, remoteSync)
	return &BasketMetrics{
		duration:   duration,
		success:    success,
		failure:    failure,
		remoteSync: remoteSync,
	}
}

// Observe records the duration and outcome of one operation.
func (m *BasketMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}
	op := normalizeLabel(operation)
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		m.failure.WithLabelValues(op).Inc()
		return
	}
	m.success.WithLabelValues(op).Inc()
}

// IncRemoteSyncFailure counts a failed remote call by HTTP method.
func (m *BasketMetrics) IncRemoteSyncFailure(method string) {
	if m == nil || m.remoteSync == nil {
		return
	}
	m.remoteSync.WithLabelValues(normalizeLabel(method)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
