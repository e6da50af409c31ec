// Package middleware provides HTTP middleware for cross-cutting concerns.
//
// # Middleware Chain
//
// The server wraps its mux in this order (outermost first):
//
//	Recovery(RequestID(Logging(CORS(Auth(Timeout(mux))))))
//
// RequestID runs before Logging so access log records carry the ID. CORS
// runs before the API key check so browser preflights succeed without a
// key.
//
// # Request ID
//
// RequestIDMiddleware stores the ID with logging.WithRequestID, so any
// slog call made with the request context is annotated:
//
//	X-Request-ID: 550e8400-e29b-41d4-a716-446655440000
//
// # Streaming
//
// The status-capturing writer used by LoggingMiddleware forwards Flush and
// Hijack. SSE responses flush chunk by chunk and websocket upgrades work
// behind the chain.
//
// # Timeouts
//
// TimeoutMiddleware only attaches a deadline. The chat handler owns the
// response and maps an expired deadline to a 504 error object (or an SSE
// error event once streaming has begun).
package middleware
