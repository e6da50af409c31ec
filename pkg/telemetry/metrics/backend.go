package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/webrelay/pkg/config"
)

// BackendMetrics tracks backend health and session credentials.
//
// Metrics:
//   - webrelay_backend_health: 1=healthy, 0=unhealthy
//   - webrelay_credential_refreshes_total: refreshes by backend and result
//   - webrelay_stream_anomalies_total: stream lines skipped as unparseable
type BackendMetrics struct {
	health    *prometheus.GaugeVec
	refreshes *prometheus.CounterVec
	anomalies *prometheus.CounterVec
}

// NewBackendMetrics creates and registers backend metrics.
func NewBackendMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BackendMetrics {
	bm := &BackendMetrics{
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "backend_health",
				Help:      "Backend health status (1=healthy, 0=unhealthy)",
			},
			[]string{"backend"},
		),

		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "credential_refreshes_total",
				Help:      "Total number of session credential refreshes",
			},
			[]string{"backend", "result"},
		),

		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "stream_anomalies_total",
				Help:      "Total number of unparseable stream lines skipped",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(
		bm.health,
		bm.refreshes,
		bm.anomalies,
	)

	return bm
}

// UpdateHealth sets the health gauge.
func (bm *BackendMetrics) UpdateHealth(backend string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	bm.health.WithLabelValues(backend).Set(value)
}

// RecordRefresh records one credential refresh.
func (bm *BackendMetrics) RecordRefresh(backend string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	bm.refreshes.WithLabelValues(backend, result).Inc()
}

// RecordAnomaly records one skipped stream line.
func (bm *BackendMetrics) RecordAnomaly(backend string) {
	bm.anomalies.WithLabelValues(backend).Inc()
}
