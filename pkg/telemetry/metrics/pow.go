package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/webrelay/pkg/config"
)

// PoWMetrics tracks proof-of-work searches.
//
// Metrics:
//   - webrelay_pow_solves_total: searches by algorithm and result (solved, fallback)
//   - webrelay_pow_duration_seconds: search time
//   - webrelay_pow_attempts: candidates hashed per search
type PoWMetrics struct {
	solves   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.HistogramVec
}

// NewPoWMetrics creates and registers proof-of-work metrics.
func NewPoWMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PoWMetrics {
	pm := &PoWMetrics{
		solves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "pow_solves_total",
				Help:      "Total number of proof-of-work searches",
			},
			[]string{"algorithm", "result"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "pow_duration_seconds",
				Help:      "Proof-of-work search time in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"algorithm"},
		),

		attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "pow_attempts",
				Help:      "Candidates hashed per proof-of-work search",
				Buckets:   prometheus.ExponentialBuckets(1, 10, 6),
			},
			[]string{"algorithm"},
		),
	}

	registry.MustRegister(
		pm.solves,
		pm.duration,
		pm.attempts,
	)

	return pm
}

// RecordSolve records one search. Kernel searches report zero attempts and
// are left out of the attempts histogram.
func (pm *PoWMetrics) RecordSolve(algorithm string, fallback bool, attempts int, seconds float64) {
	result := "solved"
	if fallback {
		result = "fallback"
	}
	pm.solves.WithLabelValues(algorithm, result).Inc()
	pm.duration.WithLabelValues(algorithm).Observe(seconds)
	if attempts > 0 {
		pm.attempts.WithLabelValues(algorithm).Observe(float64(attempts))
	}
}
