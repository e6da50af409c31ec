package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/webrelay/pkg/config"
)

// RequestMetrics tracks dispatched requests.
//
// Metrics:
//   - webrelay_requests_total: requests by backend, model and outcome
//   - webrelay_request_duration_seconds: time from dispatch to terminal delta
//   - webrelay_retries_total: extra attempts by backend and reason
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Total number of dispatched chat requests",
			},
			[]string{"backend", "model", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from dispatch to the terminal delta in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"backend", "model"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "retries_total",
				Help:      "Total number of retried backend attempts",
			},
			[]string{"backend", "reason"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.retriesTotal,
	)

	return rm
}

// RecordRequest records one finished request.
func (rm *RequestMetrics) RecordRequest(backend, model, outcome string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(backend, model, outcome).Inc()
	rm.requestDuration.WithLabelValues(backend, model).Observe(duration.Seconds())
}

// RecordRetry records one retried attempt.
func (rm *RequestMetrics) RecordRetry(backend, reason string) {
	rm.retriesTotal.WithLabelValues(backend, reason).Inc()
}
