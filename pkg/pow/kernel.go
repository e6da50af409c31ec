package pow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Kernel is an opaque hash-race function. It returns the winning nonce, or
// ok=false when the search space was exhausted.
type Kernel interface {
	Solve(ctx context.Context, challenge, prefix string, difficulty float64) (nonce int64, ok bool, err error)
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(ctx context.Context, challenge, prefix string, difficulty float64) (int64, bool, error)

// Solve implements Kernel.
func (f KernelFunc) Solve(ctx context.Context, challenge, prefix string, difficulty float64) (int64, bool, error) {
	return f(ctx, challenge, prefix, difficulty)
}

// KernelSolver runs a challenge through a Kernel.
type KernelSolver struct {
	Kernel   Kernel
	Observer Observer
	Logger   *slog.Logger
}

// NewKernelSolver wraps k.
func NewKernelSolver(k Kernel) *KernelSolver {
	return &KernelSolver{Kernel: k}
}

// KernelPrefix is the string the kernel hashes in front of each nonce.
func KernelPrefix(ch Challenge) string {
	return fmt.Sprintf("%s_%d_", ch.Salt, ch.ExpireAt)
}

// Solve implements Solver. An unsolved search yields token "0" with
// Fallback set; only kernel failures are errors.
func (s *KernelSolver) Solve(ctx context.Context, ch Challenge, _ Hint) (Answer, error) {
	if s.Kernel == nil {
		return Answer{}, fmt.Errorf("kernel solver has no kernel")
	}
	start := time.Now()

	nonce, ok, err := s.Kernel.Solve(ctx, ch.Challenge, KernelPrefix(ch), ch.Target)
	if err != nil {
		return Answer{}, fmt.Errorf("kernel solve: %w", err)
	}
	if !ok {
		s.logger().Warn("kernel challenge unsolved, sending fallback answer",
			"algorithm", ch.Algorithm,
			"difficulty", ch.Target,
		)
		s.observe(ch.Algorithm, true, start)
		return Answer{Token: "0", Fallback: true}, nil
	}

	s.observe(ch.Algorithm, false, start)
	return Answer{Token: strconv.FormatInt(nonce, 10), Nonce: nonce, Attempts: int(nonce) + 1}, nil
}

func (s *KernelSolver) observe(algorithm string, fallback bool, start time.Time) {
	if s.Observer != nil {
		s.Observer.RecordPoWSolve(algorithm, fallback, 0, time.Since(start).Seconds())
	}
}

func (s *KernelSolver) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default().With("component", "pow")
}
