// Package metrics provides Prometheus metrics for the relay.
//
// # Metrics Categories
//
//   - Request Metrics: dispatched requests by outcome, duration, retries
//   - Backend Metrics: backend health, credential refreshes, skipped stream lines
//   - PoW Metrics: proof-of-work searches, fallbacks, search time
//   - Attachment Metrics: attachment cache hits, misses and re-uploads
//
// # Usage
//
// A single Collector is created at startup and handed to every component
// that reports outcomes:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	dispatcher.New(registry, dispatcher.Options{Observer: collector})
//	credentials.New(backend, refresh, credentials.WithObserver(collector))
//	solver.Observer = collector
//	attachments.Options{Observer: collector}
//
// # Prometheus Endpoint
//
// Metrics are exposed on MetricsConfig.Path (default /metrics):
//
//	# HELP webrelay_requests_total Total number of dispatched chat requests
//	# TYPE webrelay_requests_total counter
//	webrelay_requests_total{backend="chatgpt",model="gpt-4o",outcome="ok"} 12
//
// # Cardinality Management
//
// Model names come from clients. Once 10,000 label combinations have been
// seen, new ones are recorded under model="other".
package metrics
