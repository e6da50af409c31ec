// Package dispatcher maps a requested model to its backend adapter and runs
// the adapter to normalizer pipeline for one request.
//
// The open phase (Prepare then Execute) runs in an explicit bounded loop:
// an authentication failure expires the credential generation the attempt
// used and tries again until the refresh budget is spent, after which the
// stream ends with auth_exhausted. A transient upstream failure is retried
// after a jittered backoff. Any other failure ends the stream with its kind.
// Retries are invisible to the consumer except as latency.
//
// Deltas are pulled: nothing is read from the backend until Next is called,
// and Close releases the backend connection immediately.
package dispatcher
