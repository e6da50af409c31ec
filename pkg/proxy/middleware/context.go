package middleware

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// StartTimeKey stores the request start time for latency calculation.
// Request IDs live under the logging package's key so log records pick
// them up.
const StartTimeKey contextKey = "start_time"
