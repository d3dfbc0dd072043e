// Package retrier retries an operation with exponential backoff and jitter.
package retrier

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

// Unlimited retries until the context ends.
const Unlimited = -1

// Retrier retries failed calls with growing pauses between attempts.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
}

type Option func(*Retrier)

func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries sets how many times a failed call is repeated. Unlimited
// keeps going until ctx is done.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithJitter sets the jitter factor in [0, 1].
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the retry budget
// runs out or ctx ends. The last error from fn is returned, except on
// context expiry where the context error wins.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := r.initialInterval

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if r.maxRetries != Unlimited && attempt >= r.maxRetries {
			return err
		}

		wait := time.Duration(float64(interval) + (rand.Float64()*2-1)*r.jitter*float64(interval))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * r.multiplier)
		if interval > r.maxInterval {
			interval = r.maxInterval
		}
	}
}

// DoWithData is Do for calls that produce a value.
func DoWithData[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
