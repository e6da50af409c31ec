package pow

import (
	"context"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Pool runs solver searches on a fixed number of worker goroutines.
type Pool struct {
	jobs chan job
	done chan struct{}
	once sync.Once
}

type job struct {
	ctx    context.Context
	solver Solver
	ch     Challenge
	hint   Hint
	result chan<- result
}

type result struct {
	answer Answer
	err    error
}

// NewPool starts workers goroutines. workers <= 0 uses GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			if p.closed() {
				j.result <- result{err: context.Canceled}
				continue
			}
			if err := j.ctx.Err(); err != nil {
				j.result <- result{err: err}
				continue
			}
			a, err := j.solver.Solve(j.ctx, j.ch, j.hint)
			j.result <- result{answer: a, err: err}
		}
	}
}

// Solve queues a search and waits for it or for ctx. A cancelled search
// stops at the solver's next cancellation check.
func (p *Pool) Solve(ctx context.Context, solver Solver, ch Challenge, hint Hint) (a Answer, err error) {
	ctx, span := tracing.Start(ctx, "pow.solve", attribute.String("pow.algorithm", ch.Algorithm))
	defer func() {
		span.SetAttributes(attribute.Bool("pow.fallback", a.Fallback), attribute.Int("pow.attempts", a.Attempts))
		tracing.End(span, err)
	}()

	if p.closed() {
		return Answer{}, context.Canceled
	}
	out := make(chan result, 1)
	select {
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case <-p.done:
		return Answer{}, context.Canceled
	case p.jobs <- job{ctx: ctx, solver: solver, ch: ch, hint: hint, result: out}:
	}

	select {
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case r := <-out:
		return r.answer, r.err
	}
}

func (p *Pool) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Close stops the workers. Queued callers return context.Canceled.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
}

// Bind returns a Solver that runs s on the pool.
func (p *Pool) Bind(s Solver) Solver {
	return SolverFunc(func(ctx context.Context, ch Challenge, hint Hint) (Answer, error) {
		return p.Solve(ctx, s, ch, hint)
	})
}
