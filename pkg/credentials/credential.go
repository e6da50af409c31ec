// Package credentials holds the session credential each backend adapter
// authenticates with.
//
// A Credential is Fresh or Expired. Fresh values are handed out as they are;
// the first caller to find the credential Expired runs the refresher while
// concurrent callers wait for the same result. Authentication failures move a
// credential back to Expired, but only for the generation that failed, so a
// late 401 from an old request cannot discard a token that was just
// refreshed.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of a credential.
type State int

const (
	Expired State = iota
	Fresh
)

func (s State) String() string {
	if s == Fresh {
		return "fresh"
	}
	return "expired"
}

// Secret is the material an adapter authenticates with. Which fields are
// used depends on the backend.
type Secret struct {
	// Token is a bearer or access token.
	Token string

	// Cookies is a cookie jar keyed by cookie name.
	Cookies map[string]string

	// Extra carries backend-specific values (organization IDs, account
	// indexes).
	Extra map[string]string

	// Generation increases with every successful refresh.
	Generation uint64

	// ExpiresAt is when the backend stops accepting the secret, if known.
	ExpiresAt time.Time
}

// Refresher derives a new secret from the long-lived external secret.
type Refresher func(ctx context.Context) (Secret, error)

// Observer receives refresh outcomes (metrics).
type Observer interface {
	RecordCredentialRefresh(backend string, success bool)
}

// Credential is the per-adapter session credential.
type Credential struct {
	backend string
	refresh Refresher
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger

	mu         sync.RWMutex
	state      State
	secret     Secret
	generation uint64
	refreshes  int
	lastError  error
	observer   Observer
}

// Option customizes a Credential.
type Option func(*Credential)

// WithObserver reports refreshes to o.
func WithObserver(o Observer) Option {
	return func(c *Credential) { c.observer = o }
}

// WithInitial starts the credential Fresh with s.
func WithInitial(s Secret) Option {
	return func(c *Credential) {
		c.generation++
		s.Generation = c.generation
		c.secret = s
		c.state = Fresh
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Credential) { c.now = now }
}

// New returns a credential for backend. Without WithInitial it starts
// Expired and the first Get performs the initial derivation.
func New(backend string, refresh Refresher, opts ...Option) *Credential {
	c := &Credential{
		backend: backend,
		refresh: refresh,
		now:     time.Now,
		logger:  slog.Default().With("component", "credentials", "backend", backend),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the backend the credential belongs to.
func (c *Credential) Backend() string {
	return c.backend
}

// State returns the current state. A Fresh secret past its known expiry is
// reported Expired.
func (c *Credential) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Credential) stateLocked() State {
	if c.state == Fresh && !c.secret.ExpiresAt.IsZero() && !c.now().Before(c.secret.ExpiresAt) {
		return Expired
	}
	return c.state
}

// Get returns a Fresh secret, refreshing first when needed. Concurrent
// callers share one refresh.
func (c *Credential) Get(ctx context.Context) (Secret, error) {
	c.mu.RLock()
	if c.stateLocked() == Fresh {
		s := c.secret
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Secret{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Secret{}, res.Err
		}
		return res.Val.(Secret), nil
	}
}

// doRefresh runs the refresher. It is detached from the first caller's
// cancellation so waiters are not failed by someone else's disconnect.
func (c *Credential) doRefresh(ctx context.Context) (Secret, error) {
	c.mu.RLock()
	if c.stateLocked() == Fresh {
		// Another refresh completed between the check and the flight.
		s := c.secret
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	if c.refresh == nil {
		return Secret{}, errors.New("credential has no refresher")
	}

	c.logger.Debug("refreshing credential")
	s, err := c.refresh(ctx)

	c.mu.Lock()
	c.refreshes++
	if err != nil {
		c.lastError = err
		c.mu.Unlock()
		c.logger.Warn("credential refresh failed", "error", err)
		if c.observer != nil {
			c.observer.RecordCredentialRefresh(c.backend, false)
		}
		return Secret{}, fmt.Errorf("refresh %s credential: %w", c.backend, err)
	}
	c.generation++
	s.Generation = c.generation
	c.secret = s
	c.state = Fresh
	c.lastError = nil
	c.mu.Unlock()

	c.logger.Info("credential refreshed", "generation", s.Generation)
	if c.observer != nil {
		c.observer.RecordCredentialRefresh(c.backend, true)
	}
	return s, nil
}

// MarkExpired records an authentication failure for generation. It returns
// true if the credential transitioned Fresh to Expired; failures from older
// generations are ignored.
func (c *Credential) MarkExpired(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.secret.Generation || c.state != Fresh {
		return false
	}
	c.state = Expired
	c.logger.Info("credential expired", "generation", generation)
	return true
}

// Invalidate forces the credential to Expired regardless of generation.
func (c *Credential) Invalidate() {
	c.mu.Lock()
	c.state = Expired
	c.mu.Unlock()
}

// Refreshes returns how many refreshes have been attempted.
func (c *Credential) Refreshes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshes
}

// Generation returns the generation of the current secret.
func (c *Credential) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secret.Generation
}

// LastError returns the error of the most recent failed refresh, if any.
func (c *Credential) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Static returns a refresher that always yields s. It suits backends whose
// secret is used as-is; refreshing re-reads nothing.
func Static(s Secret) Refresher {
	return func(context.Context) (Secret, error) {
		return s, nil
	}
}
