package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/webrelay/pkg/config"
)

// AttachmentMetrics tracks the content-addressed attachment cache.
//
// Metrics:
//   - webrelay_attachment_cache_total: resolutions by backend and outcome
//     (hit, miss, reupload, error)
//   - webrelay_attachment_records: records in the durable store
type AttachmentMetrics struct {
	resolutions *prometheus.CounterVec
	records     prometheus.Gauge
}

// NewAttachmentMetrics creates and registers attachment cache metrics.
func NewAttachmentMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AttachmentMetrics {
	am := &AttachmentMetrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "attachment_cache_total",
				Help:      "Total number of attachment resolutions by outcome",
			},
			[]string{"backend", "outcome"},
		),

		records: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "attachment_records",
				Help:      "Current number of attachment records",
			},
		),
	}

	registry.MustRegister(
		am.resolutions,
		am.records,
	)

	return am
}

// Record records one resolution outcome.
func (am *AttachmentMetrics) Record(backend, outcome string) {
	am.resolutions.WithLabelValues(backend, outcome).Inc()
}

// UpdateRecords sets the record count.
func (am *AttachmentMetrics) UpdateRecords(n int) {
	am.records.Set(float64(n))
}
