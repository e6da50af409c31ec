// Package server provides the HTTP server of the relay.
//
// It mounts the OpenAI-compatible endpoints, the generated file routes and
// the operational endpoints on one mux, wraps them in the middleware chain
// and manages the listener lifecycle.
//
// # Routes
//
//	POST /v1/chat/completions                 chat completions (SSE or JSON)
//	POST /api/openai/v1/chat/completions      alias
//	GET  /v1/models, /api/openai/v1/models    served models
//	GET  /v1/chat/completions/ws              websocket variant (when enabled)
//	GET  /files/{name}, /image/{name}         saved attachments
//	GET  /health, /ready, /version            probes
//	GET  <metrics path>                       Prometheus metrics
//
// When an API key middleware is supplied it guards the /v1 and /api/openai
// routes only. Probes, metrics and files stay reachable without a key.
//
// # Basic Usage
//
//	srv := server.NewServer(&cfg.Proxy, server.Deps{
//	    Dispatcher: d,
//	    Files:      fileStore,
//	    Health:     checker,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// # Graceful Shutdown
//
// Start returns after SIGINT, SIGTERM, context cancellation or Stop. Open
// streams are given proxy.shutdown_timeout to finish before the listener
// is torn down.
package server
