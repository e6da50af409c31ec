package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Options configures the retry policy of a Dispatcher.
type Options struct {
	// AuthRetryBudget is the number of credential refreshes one request may
	// trigger before failing with auth_exhausted.
	AuthRetryBudget int

	// TransientRetries is the number of extra attempts after a transient
	// upstream failure.
	TransientRetries int

	// RetryInterval and RetryJitter shape the delay before a transient
	// retry.
	RetryInterval time.Duration
	RetryJitter   float64

	// Sink stores generated files announced by backends.
	Sink stream.Sink

	// Observer receives request outcomes and retries. Optional.
	Observer Observer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the standard policy: three refreshes, one
// transient retry.
func DefaultOptions() Options {
	return Options{
		AuthRetryBudget:  3,
		TransientRetries: 1,
		RetryInterval:    500 * time.Millisecond,
		RetryJitter:      0.5,
	}
}

// OptionsFromConfig converts the dispatch configuration section.
func OptionsFromConfig(cfg config.DispatchConfig) Options {
	return Options{
		AuthRetryBudget:  cfg.AuthRetryBudget,
		TransientRetries: cfg.TransientRetries,
		RetryInterval:    cfg.RetryInterval,
		RetryJitter:      cfg.RetryJitter,
	}
}

// Observer receives dispatch outcomes (metrics).
type Observer interface {
	// RecordDispatch is called once per request with "ok", "cancelled" or
	// the error kind.
	RecordDispatch(backend, model, outcome string, duration time.Duration)

	// RecordRetry is called for every extra attempt, with reason "auth" or
	// "transient".
	RecordRetry(backend, reason string)
}

// AnomalyObserver is implemented by observers that also count upstream
// lines the stream decoder rejected.
type AnomalyObserver interface {
	RecordStreamAnomaly(backend string)
}

// Dispatcher routes canonical requests to adapters and runs the
// adapter to normalizer pipeline.
type Dispatcher struct {
	registry *Registry
	opts     Options
	log      *slog.Logger
}

// New returns a Dispatcher over registry.
func New(registry *Registry, opts Options) *Dispatcher {
	if opts.AuthRetryBudget < 0 {
		opts.AuthRetryBudget = 0
	}
	if opts.TransientRetries < 0 {
		opts.TransientRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		log:      logger.With("component", "dispatcher"),
	}
}

// Registry returns the model registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch returns the delta stream for req. Nothing happens until the
// first Next call; ctx governs the upstream connection for the whole
// stream.
//
// Example:
//
//	s := d.Dispatch(ctx, req)
//	defer s.Close()
//	for {
//	    delta, err := s.Next(ctx)
//	    if err != nil {
//	        break // io.EOF after the terminal delta
//	    }
//	    ...
//	}
func (d *Dispatcher) Dispatch(ctx context.Context, req *canonical.Request) *Stream {
	s := &Stream{
		d:       d,
		ctx:     ctx,
		req:     req,
		started: time.Now(),
	}
	if a, ok := d.registry.Lookup(req.Model); ok {
		s.adapter = a
	}
	return s
}

// open runs Prepare and Execute until a stream opens or the request fails.
// Auth failures refresh the credential within the budget; transient
// failures are retried after a jittered delay.
func (d *Dispatcher) open(ctx context.Context, a providers.Adapter, req *canonical.Request) (*providers.RawStream, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.RetryInterval
	b.RandomizationFactor = d.opts.RetryJitter
	b.MaxInterval = 10 * d.opts.RetryInterval

	refreshes, transient := 0, 0
	for attempt := 1; ; attempt++ {
		raw, gen, err := d.attempt(ctx, a, req, attempt)
		if err == nil {
			return raw, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var exhausted *providers.AuthExhaustedError
		switch {
		case errors.As(err, &exhausted):
			return nil, err

		case providers.IsAuth(err):
			if refreshes >= d.opts.AuthRetryBudget {
				d.log.Warn("credential refresh budget exhausted",
					"backend", a.Name(),
					"refreshes", refreshes,
					"error", err,
				)
				return nil, &providers.AuthExhaustedError{Provider: a.Name(), Refreshes: refreshes, Last: err}
			}
			if g := providers.AuthGeneration(err); g != 0 {
				gen = g
			}
			if gen == 0 {
				gen = a.Credential().Generation()
			}
			a.Credential().MarkExpired(gen)
			refreshes++
			d.retry(a.Name(), "auth", attempt, err)

		case providers.IsTransient(err) && transient < d.opts.TransientRetries:
			transient++
			d.retry(a.Name(), "transient", attempt, err)
			if err := sleep(ctx, b.NextBackOff()); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

// attempt performs one Prepare/Execute pair. It returns the credential
// generation the attempt used so an auth failure expires exactly that one.
func (d *Dispatcher) attempt(ctx context.Context, a providers.Adapter, req *canonical.Request, n int) (*providers.RawStream, uint64, error) {
	ctx, span := tracing.Start(ctx, "dispatch.attempt",
		attribute.String(tracing.AttrBackend, a.Name()),
		attribute.String(tracing.AttrModel, req.Model),
		attribute.Int(tracing.AttrAttempt, n),
	)

	raw, err := a.Prepare(ctx, req)
	if err != nil {
		span.SetAttributes(attribute.String(tracing.AttrErrorKind, string(providers.Kind(err))))
		tracing.End(span, err)
		return nil, 0, err
	}

	rs, err := a.Execute(ctx, raw)
	if err != nil {
		raw.Release()
		span.SetAttributes(attribute.String(tracing.AttrErrorKind, string(providers.Kind(err))))
		tracing.End(span, err)
		return nil, raw.Generation, err
	}

	tracing.End(span, nil)
	return rs, raw.Generation, nil
}

func (d *Dispatcher) retry(backend, reason string, attempt int, err error) {
	d.log.Info("retrying request",
		"backend", backend,
		"reason", reason,
		"attempt", attempt,
		"error", err,
	)
	if d.opts.Observer != nil {
		d.opts.Observer.RecordRetry(backend, reason)
	}
}

func (d *Dispatcher) anomalyHook(backend string) func(error) {
	ao, ok := d.opts.Observer.(AnomalyObserver)
	if !ok {
		return nil
	}
	return func(error) { ao.RecordStreamAnomaly(backend) }
}

func (d *Dispatcher) observe(backend, model, outcome string, started time.Time) {
	if d.opts.Observer == nil {
		return
	}
	if backend == "" {
		backend = "none"
	}
	d.opts.Observer.RecordDispatch(backend, model, outcome, time.Since(started))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
