package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/webrelay/pkg/config"
)

// Collector owns every relay metric. It implements the observer interfaces
// of the dispatcher, credentials, pow and attachments packages so one value
// can be handed to all of them.
//
// All Record methods are no-ops when metrics are disabled.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics    *RequestMetrics
	backendMetrics    *BackendMetrics
	powMetrics        *PoWMetrics
	attachmentMetrics *AttachmentMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector registering into registry. If registry
// is nil a new one is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle("/metrics", collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		// Streamed answers take seconds to minutes.
		cfg.RequestDurationBuckets = []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		requestMetrics:     NewRequestMetrics(cfg, registry),
		backendMetrics:     NewBackendMetrics(cfg, registry),
		powMetrics:         NewPoWMetrics(cfg, registry),
		attachmentMetrics:  NewAttachmentMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(10000),
	}
}

// RecordDispatch records a finished request. outcome is "ok", "cancelled"
// or an error kind.
func (c *Collector) RecordDispatch(backend, model, outcome string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	// Unknown models come from clients; keep them from growing the series.
	labelSet := fmt.Sprintf("request:%s:%s:%s", backend, model, outcome)
	if !c.cardinalityLimiter.Allow(labelSet) {
		model = "other"
	}

	c.requestMetrics.RecordRequest(backend, model, outcome, duration)
}

// RecordRetry records an extra attempt of the open phase.
func (c *Collector) RecordRetry(backend, reason string) {
	if !c.config.Enabled {
		return
	}
	c.requestMetrics.RecordRetry(backend, reason)
}

// RecordCredentialRefresh records a credential refresh.
func (c *Collector) RecordCredentialRefresh(backend string, success bool) {
	if !c.config.Enabled {
		return
	}
	c.backendMetrics.RecordRefresh(backend, success)
}

// UpdateBackendHealth sets the health gauge of a backend.
func (c *Collector) UpdateBackendHealth(backend string, healthy bool) {
	if !c.config.Enabled {
		return
	}
	c.backendMetrics.UpdateHealth(backend, healthy)
}

// RecordStreamAnomaly counts a stream line the normalizer skipped.
func (c *Collector) RecordStreamAnomaly(backend string) {
	if !c.config.Enabled {
		return
	}
	c.backendMetrics.RecordAnomaly(backend)
}

// RecordPoWSolve records a proof-of-work search.
func (c *Collector) RecordPoWSolve(algorithm string, fallback bool, attempts int, seconds float64) {
	if !c.config.Enabled {
		return
	}
	c.powMetrics.RecordSolve(algorithm, fallback, attempts, seconds)
}

// RecordAttachment records an attachment cache outcome ("hit", "miss",
// "reupload" or "error").
func (c *Collector) RecordAttachment(backend, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.attachmentMetrics.Record(backend, outcome)
}

// UpdateAttachmentRecords sets the number of stored attachment records.
func (c *Collector) UpdateAttachmentRecords(n int) {
	if !c.config.Enabled {
		return
	}
	c.attachmentMetrics.UpdateRecords(n)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label set is allowed. Returns true if the label set
// already exists or if we haven't reached the cardinality limit yet.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
