package mover

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry policy values.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 10 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	defaultMultiplier   = 1.5
)

// RetryPolicy bounds the Verifier's polling: at most MaxAttempts checks,
// with delays growing from InitialDelay and capped at MaxDelay. A
// zero-delay policy makes verification loops instant in tests.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
	}
}

// newBackOff builds the backoff schedule for one verification cycle.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = defaultMultiplier
	if p.Multiplier > 0 {
		bo.Multiplier = p.Multiplier
	}
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	// A zero-value policy would otherwise retry forever with no delay.
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}

	var b backoff.BackOff = bo
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}
