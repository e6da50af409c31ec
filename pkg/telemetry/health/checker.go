package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status values reported by the checker.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc checks one component. It returns nil when the component is
// healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Optional bool          `json:"optional,omitempty"`
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// HealthStatus is the aggregated state reported by the probes.
type HealthStatus struct {
	// Status is "ok" for liveness, otherwise "ready", "degraded" or
	// "unhealthy".
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type check struct {
	fn       CheckFunc
	optional bool
}

// Checker runs readiness checks. Required checks (the record store) make
// the relay unhealthy when they fail. Optional checks (backends) only
// degrade it, unless every optional check fails.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
}

// New creates a checker. A zero timeout means 5 seconds per check.
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]check),
		timeout: timeout,
	}
}

// RegisterCheck adds or replaces a required check.
func (c *Checker) RegisterCheck(name string, fn CheckFunc) {
	c.register(name, fn, false)
}

// RegisterOptional adds or replaces a check whose failure alone only
// degrades readiness.
func (c *Checker) RegisterOptional(name string, fn CheckFunc) {
	c.register(name, fn, true)
}

func (c *Checker) register(name string, fn CheckFunc, optional bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{fn: fn, optional: optional}
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// CheckLiveness reports that the process is serving.
func (c *Checker) CheckLiveness(context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: time.Now()}
}

// CheckReadiness runs every check concurrently and aggregates the results.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]check, len(c.checks))
	for name, ch := range c.checks {
		checks[name] = ch
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, ch := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.run(ctx, ch.fn)
			res.Optional = ch.optional
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	return HealthStatus{
		Status:    aggregate(results),
		Checks:    results,
		Timestamp: time.Now(),
	}
}

func aggregate(results map[string]CheckResult) string {
	var optional, optionalDown int
	for _, r := range results {
		down := r.Status == StatusUnhealthy
		if !r.Optional {
			if down {
				return StatusUnhealthy
			}
			continue
		}
		optional++
		if down {
			optionalDown++
		}
	}
	switch {
	case optional > 0 && optionalDown == optional:
		return StatusUnhealthy
	case optionalDown > 0:
		return StatusDegraded
	}
	return StatusReady
}

func (c *Checker) run(ctx context.Context, fn CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return CheckResult{Status: StatusUnhealthy, Message: "health check timeout", Duration: time.Since(start)}
	}
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error(), Duration: time.Since(start)}
	}
	return CheckResult{Status: StatusOK, Duration: time.Since(start)}
}

// GetCheck returns the named check, or nil.
func (c *Checker) GetCheck(name string) CheckFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checks[name].fn
}

// ListChecks returns the registered check names, sorted.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckCount returns the number of registered checks.
func (c *Checker) CheckCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.checks)
}
