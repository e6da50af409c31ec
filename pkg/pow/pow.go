// Package pow solves the proof-of-work challenges some backends attach to
// every completion call.
//
// Two strategies exist behind one Solver contract. SentinelSolver performs the
// SHA3-512 nonce search used by the ChatGPT sentinel. KernelSolver delegates
// the search to an opaque compute kernel (the DeepSeek hash module, run
// through wazero). Both are CPU-bound; callers run them on a Pool so a search
// never occupies a request goroutine.
package pow

import (
	"context"
	"fmt"
)

// DefaultMaxAttempts is the nonce ceiling of a sentinel search.
const DefaultMaxAttempts = 100000

// Challenge is a backend-issued puzzle. Sentinel challenges use Seed and
// Difficulty; kernel challenges use the remaining fields.
type Challenge struct {
	// Algorithm names the backend's hash scheme (e.g. "DeepSeekHashV1").
	Algorithm string `json:"algorithm,omitempty"`

	// Seed and Difficulty describe a sentinel challenge. Difficulty is a hex
	// prefix the hash must not exceed.
	Seed       string `json:"seed,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`

	// Kernel challenge fields.
	Challenge  string  `json:"challenge,omitempty"`
	Salt       string  `json:"salt,omitempty"`
	Target     float64 `json:"target,omitempty"`
	ExpireAt   int64   `json:"expire_at,omitempty"`
	Signature  string  `json:"signature,omitempty"`
	TargetPath string  `json:"target_path,omitempty"`
}

// Hint carries the client fingerprint mixed into sentinel answers.
type Hint struct {
	ScreenSize int
	UserAgent  string
}

// Answer is the solved (or fallback) proof.
type Answer struct {
	// Token is the string sent back to the backend.
	Token string

	// Nonce is the winning counter (kernel answers carry it as the token).
	Nonce int64

	// Attempts is how many candidates were hashed.
	Attempts int

	// Fallback is set when the search failed and Token is the best-effort
	// placeholder the backend may still accept.
	Fallback bool
}

// Solver finds an answer for a challenge.
type Solver interface {
	Solve(ctx context.Context, ch Challenge, hint Hint) (Answer, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, ch Challenge, hint Hint) (Answer, error)

// Solve implements Solver.
func (f SolverFunc) Solve(ctx context.Context, ch Challenge, hint Hint) (Answer, error) {
	return f(ctx, ch, hint)
}

// Observer receives solve outcomes (metrics).
type Observer interface {
	RecordPoWSolve(algorithm string, fallback bool, attempts int, seconds float64)
}

// UnsolvedError reports that a search ended without a valid answer. It is
// informational; the accompanying Answer holds the fallback.
type UnsolvedError struct {
	Algorithm string
	Attempts  int
}

func (e *UnsolvedError) Error() string {
	return fmt.Sprintf("%s challenge unsolved after %d attempts", e.Algorithm, e.Attempts)
}
