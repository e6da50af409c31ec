package pow

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/crypto/sha3"
)

const (
	// SentinelPrefix tags every sentinel proof.
	SentinelPrefix = "gAAAAAB"

	// sentinelFallbackBody precedes the base64 seed in the placeholder sent
	// when the search is exhausted.
	sentinelFallbackBody = "wQ8Lk5FbGpA2NcR9dShT6gYjU7VxZ4D"

	// ctxCheckEvery is how many nonces are hashed between cancellation checks.
	ctxCheckEvery = 1024
)

// SentinelSolver performs the SHA3-512 nonce search.
type SentinelSolver struct {
	// MaxAttempts bounds the nonce scan. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// ScreenSizes are the candidate screen values used when the hint has
	// none.
	ScreenSizes []int

	// Now returns the timestamp embedded in answers.
	Now func() time.Time

	// Screen picks a screen size when the hint has none.
	Screen func() int

	Observer Observer
	Logger   *slog.Logger
}

// NewSentinelSolver returns a solver with the given ceiling and screen sizes.
func NewSentinelSolver(maxAttempts int, screens []int) *SentinelSolver {
	return &SentinelSolver{MaxAttempts: maxAttempts, ScreenSizes: screens}
}

// Solve implements Solver. Exhausting the ceiling is not an error: the
// fallback answer is returned with Fallback set.
func (s *SentinelSolver) Solve(ctx context.Context, ch Challenge, hint Hint) (Answer, error) {
	start := time.Now()
	limit := s.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}

	screen := hint.ScreenSize
	if screen == 0 {
		screen = s.screen()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	config := []any{screen, now().UTC().Format(http.TimeFormat), nil, 0, hint.UserAgent}
	seed := []byte(ch.Seed)
	target := ch.Difficulty
	hasher := sha3.New512()

	for nonce := 0; nonce < limit; nonce++ {
		if nonce%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Answer{}, err
			}
		}

		config[3] = nonce
		raw, err := json.Marshal(config)
		if err != nil {
			return Answer{}, err
		}
		answer := base64.StdEncoding.EncodeToString(raw)

		hasher.Reset()
		hasher.Write(seed)
		hasher.Write([]byte(answer))
		digest := hex.EncodeToString(hasher.Sum(nil))

		if digest[:min(len(target), len(digest))] <= target {
			s.observe(false, nonce+1, start)
			return Answer{Token: SentinelPrefix + answer, Nonce: int64(nonce), Attempts: nonce + 1}, nil
		}
	}

	s.logger().Warn("sentinel challenge unsolved, sending fallback answer",
		"difficulty", target,
		"attempts", limit,
	)
	s.observe(true, limit, start)
	return Answer{Token: SentinelFallback(ch.Seed), Attempts: limit, Fallback: true}, nil
}

// SentinelFallback returns the placeholder proof for seed.
func SentinelFallback(seed string) string {
	return SentinelPrefix + sentinelFallbackBody + base64.StdEncoding.EncodeToString([]byte(seed))
}

// VerifySentinel reports whether token satisfies the challenge.
func VerifySentinel(ch Challenge, token string) bool {
	if len(token) <= len(SentinelPrefix) || token[:len(SentinelPrefix)] != SentinelPrefix {
		return false
	}
	sum := sha3.Sum512([]byte(ch.Seed + token[len(SentinelPrefix):]))
	digest := hex.EncodeToString(sum[:])
	return digest[:min(len(ch.Difficulty), len(digest))] <= ch.Difficulty
}

func (s *SentinelSolver) screen() int {
	if s.Screen != nil {
		return s.Screen()
	}
	if len(s.ScreenSizes) > 0 {
		return s.ScreenSizes[rand.IntN(len(s.ScreenSizes))]
	}
	return 1000 + rand.IntN(2001)
}

func (s *SentinelSolver) observe(fallback bool, attempts int, start time.Time) {
	if s.Observer != nil {
		s.Observer.RecordPoWSolve("sentinel_sha3_512", fallback, attempts, time.Since(start).Seconds())
	}
}

func (s *SentinelSolver) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default().With("component", "pow")
}
