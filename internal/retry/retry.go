// Package retry is the single retrying-call primitive used at every provider
// boundary: exponential backoff with a fixed attempt cap.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/valreg/valreg-go/internal/observability"
)

// DefaultMaxAttempts is the attempt cap applied to every provider call.
const DefaultMaxAttempts = 5

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration

	// Jitter is the randomization factor applied to each interval (0 disables it).
	Jitter float64

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// DefaultPolicy returns 5 attempts with exponential backoff starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
		Jitter:          0.5,
	}
}

// WithObservers returns a copy of p that logs retries to logger and counts
// attempts on m.
func (p Policy) WithObservers(logger *slog.Logger, m *observability.Metrics) Policy {
	p.Logger = logger
	p.Metrics = m
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.RandomizationFactor = p.Jitter
	return b
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the context is done
// or the attempt cap is reached. On exhaustion the last error is returned.
func Do(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	log := p.logger()

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op(ctx)
		p.Metrics.RecordAttempt(ctx, name, err == nil)
		return v, err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("provider call failed, retrying",
			"operation", name,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"next_in", next.String(),
			"error", err,
		)
	}

	v, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		log.Debug("provider call gave up", "operation", name, "attempts", attempt, "error", err)
	}
	return v, err
}
