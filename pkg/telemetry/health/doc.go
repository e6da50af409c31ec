// Package health serves the relay's liveness, readiness and version
// endpoints.
//
// Liveness only reports that the process is up. Readiness runs every
// registered check concurrently, each bounded by the checker's timeout:
//
//   - "backend:<name>" per adapter, optional (see BackendCheck)
//   - "attachments" for the upload record store, required (see StoreCheck)
//
// The aggregate status is "unhealthy" when a required check fails or every
// optional check fails, "degraded" when only some optional checks fail, and
// "ready" otherwise. Only "unhealthy" answers 503; a relay with one working
// backend still takes traffic.
//
// # Usage
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterBackends(manager.Adapters())
//	checker.RegisterCheck("attachments", health.StoreCheck(store))
//
//	mux := http.NewServeMux()
//	health.Register(mux, checker, version, commit, buildTime)
package health
