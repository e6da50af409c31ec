// Package telemetry groups the relay's observability.
//
// # Components
//
//   - logging: slog handlers that redact tokens, cookies and keys
//   - metrics: Prometheus collector for dispatches, retries, credential
//     refreshes, proof-of-work searches and the attachment cache
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	tp, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tp.Shutdown(ctx)
//
// The collector satisfies the observer interfaces of the dispatcher, the
// credential, the proof-of-work solvers and the attachment cache, so one
// value is handed to all of them.
//
// # Redaction
//
// With logging.redact on (the default), attributes named like authorization,
// cookie, token, session or api_key are masked, and bearer tokens and JWTs
// are masked inside free-form strings.
package telemetry
